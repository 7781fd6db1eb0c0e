// Package ingest turns a file into a freshly replaced vector collection:
// validate, load, split, replace, upsert, and optionally record in the catalog.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/WessleyAI/docrag/engine/catalog"
	"github.com/WessleyAI/docrag/engine/domain"
	"github.com/WessleyAI/docrag/engine/embedding"
	"github.com/WessleyAI/docrag/engine/loader"
	"github.com/WessleyAI/docrag/engine/semantic"
	"github.com/WessleyAI/docrag/pkg/fn"
)

const (
	// BatchSize is the default number of chunks embedded and upserted together.
	BatchSize = 64
	// Workers is the default number of concurrent embedding calls per batch.
	Workers = 4
)

// Catalog records completed ingestions.
type Catalog interface {
	Record(ctx context.Context, e catalog.Entry) error
	Forget(ctx context.Context, name string) error
}

// Deps holds the external dependencies for the ingestion pipeline.
type Deps struct {
	Embedder embedding.Provider
	Store    *semantic.Store
	// Catalog is optional.
	Catalog   Catalog
	BatchSize int
	Workers   int
	// Progress, if set, is called after each batch with chunks stored so far.
	Progress func(done, total int)
	Logger   *slog.Logger
}

func (d Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

// --- Pipeline Stages ---

// Validate fills defaults and checks the request. A missing file type is
// inferred from the extension.
var Validate fn.Stage[Request, Request] = func(_ context.Context, req Request) fn.Result[Request] {
	if req.ChunkSize == 0 {
		req.ChunkSize = DefaultChunkSize
		if req.ChunkOverlap == 0 {
			req.ChunkOverlap = DefaultOverlap
		}
	}
	if err := domain.ValidateChunkConfig(req.ChunkSize, req.ChunkOverlap); err != nil {
		return fn.Err[Request](err)
	}
	if err := domain.ValidateCollectionName(req.Collection); err != nil {
		return fn.Err[Request](err)
	}
	if req.FileType == "" {
		ft, err := loader.TypeOf(req.Path)
		if err != nil {
			return fn.Err[Request](err)
		}
		req.FileType = ft
	}
	return fn.Ok(req)
}

// Load reads the file as its declared type.
var Load fn.Stage[Request, Loaded] = func(_ context.Context, req Request) fn.Result[Loaded] {
	docs, err := loader.LoadAs(req.Path, req.FileType)
	if err != nil {
		return fn.Err[Loaded](err)
	}
	return fn.Ok(Loaded{Request: req, Documents: docs})
}

// SplitChunks splits the documents and assigns ids id1..idN in chunk order.
// A file with no text fails here, before any existing collection is touched.
var SplitChunks fn.Stage[Loaded, Split] = func(_ context.Context, l Loaded) fn.Result[Split] {
	s, err := NewSplitter(l.ChunkSize, l.ChunkOverlap)
	if err != nil {
		return fn.Err[Split](err)
	}
	chunks := s.Split(l.Documents)
	if len(chunks) == 0 {
		return fn.Errf[Split]("ingest: %s: %w: no text", l.Path, domain.ErrRead)
	}
	for i := range chunks {
		chunks[i].ID = ChunkID(i + 1)
	}
	return fn.Ok(Split{Loaded: l, Chunks: chunks})
}

// ChunkID formats the positional chunk identifier.
func ChunkID(n int) string {
	return fmt.Sprintf("id%d", n)
}

// NewStore creates a stage that replaces the target collection and fills it.
// The collection name stays locked from the drop until the last upsert. Once
// the previous generation is gone a failure also forgets its catalog entry.
func NewStore(deps Deps) fn.Stage[Split, Report] {
	upsert := NewUpsert(deps)
	dims := deps.Embedder.Dimensions()
	log := deps.logger()
	return func(ctx context.Context, s Split) fn.Result[Report] {
		var rep Report
		replaced := false
		err := deps.Store.Replace(ctx, s.Request.Collection, dims, func(ctx context.Context, coll *semantic.Collection) error {
			replaced = true
			var err error
			rep, err = upsert(ctx, Placed{Split: s, Collection: coll}).Unwrap()
			return err
		})
		if err != nil && replaced && deps.Catalog != nil {
			if ferr := deps.Catalog.Forget(context.WithoutCancel(ctx), s.Request.Collection); ferr != nil {
				log.Error("ingest: forget catalog entry", "collection", s.Request.Collection, "err", ferr)
			}
		}
		return fn.FromPair(rep, err)
	}
}

// NewUpsert creates a stage that embeds every chunk and writes it, batch by
// batch in chunk order.
func NewUpsert(deps Deps) fn.Stage[Placed, Report] {
	batchSize := deps.BatchSize
	if batchSize <= 0 {
		batchSize = BatchSize
	}
	workers := deps.Workers
	if workers <= 0 {
		workers = Workers
	}
	emb := deps.Embedder

	return func(ctx context.Context, p Placed) fn.Result[Report] {
		total := len(p.Chunks)
		done := 0
		for _, batch := range fn.Chunk(p.Chunks, batchSize) {
			if err := ctx.Err(); err != nil {
				return fn.Err[Report](err)
			}
			vectors := fn.Collect(fn.ParMapResult(batch, workers, func(c domain.Chunk) fn.Result[[]float32] {
				v, err := emb.Embed(ctx, c.Content)
				return fn.FromPair(v, err)
			}))
			vecs, err := vectors.Unwrap()
			if err != nil {
				return fn.Err[Report](err)
			}

			records := make([]semantic.VectorRecord, len(batch))
			for i, c := range batch {
				records[i] = semantic.VectorRecord{
					ID:        c.ID,
					Embedding: vecs[i],
					Payload:   payload(c, p.FileType, emb.Model()),
				}
			}
			if err := p.Collection.Upsert(ctx, records); err != nil {
				return fn.Err[Report](err)
			}
			done += len(batch)
			if deps.Progress != nil {
				deps.Progress(done, total)
			}
		}

		return fn.Ok(Report{
			Collection: p.Collection.Name(),
			Source:     p.Path,
			FileType:   p.FileType,
			Documents:  len(p.Documents),
			Chunks:     total,
			EmbedModel: emb.Model(),
			Dimensions: emb.Dimensions(),
		})
	}
}

func payload(c domain.Chunk, ft domain.FileType, model string) map[string]any {
	out := make(map[string]any, len(c.Metadata)+3)
	for k, v := range c.Metadata {
		out[k] = v
	}
	out[semantic.PayloadContent] = c.Content
	out[semantic.PayloadFileType] = string(ft)
	out[semantic.PayloadEmbedModel] = model
	return out
}

// NewRecord creates a stage that writes the report to the catalog. A nil
// catalog makes it a pass-through.
func NewRecord(cat Catalog) fn.Stage[Report, Report] {
	return func(ctx context.Context, r Report) fn.Result[Report] {
		if cat == nil {
			return fn.Ok(r)
		}
		err := cat.Record(ctx, catalog.Entry{
			Name:       r.Collection,
			Source:     r.Source,
			FileType:   r.FileType,
			Chunks:     r.Chunks,
			EmbedModel: r.EmbedModel,
			Dimensions: r.Dimensions,
			IngestedAt: time.Now().UTC(),
		})
		if err != nil {
			return fn.Errf[Report]("ingest: record %s in catalog: %w", r.Collection, err)
		}
		return fn.Ok(r)
	}
}

// NewPipeline wires validate → load → split → store (replace, upsert) → record.
// Each stage is traced and logged; the first failure stops the rest.
func NewPipeline(deps Deps) fn.Stage[Request, Report] {
	log := deps.logger()

	validated := fn.Logged("validate", log, Validate)
	loaded := fn.Then(validated, fn.Logged("load", log, Load))
	split := fn.Then(loaded, fn.Logged("split", log, SplitChunks))
	stored := fn.Then(split, fn.Logged("store", log, NewStore(deps)))
	recorded := fn.Then(stored, fn.Logged("record", log, NewRecord(deps.Catalog)))

	return func(ctx context.Context, req Request) fn.Result[Report] {
		start := time.Now()
		r := recorded(ctx, req)
		rep, err := r.Unwrap()
		if err != nil {
			return r
		}
		rep.Duration = time.Since(start)
		log.Info("ingest: done", "collection", rep.Collection, "chunks", rep.Chunks, "duration", rep.Duration)
		return fn.Ok(rep)
	}
}
