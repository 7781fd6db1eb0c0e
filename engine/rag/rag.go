// Package rag answers questions from an ingested collection. It embeds the
// question with the same provider used at ingestion, searches the collection
// and normalizes the retrieved chunks into one answer string.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/WessleyAI/docrag/engine/catalog"
	"github.com/WessleyAI/docrag/engine/domain"
	"github.com/WessleyAI/docrag/engine/embedding"
	"github.com/WessleyAI/docrag/engine/semantic"
	"github.com/WessleyAI/docrag/pkg/fn"
)

// Collections opens existing collections. *semantic.Store satisfies it.
type Collections interface {
	Get(ctx context.Context, name string) (*semantic.Collection, error)
}

// Catalog is consulted for the file type of a collection when neither the
// request nor the hits carry one.
type Catalog interface {
	Lookup(ctx context.Context, name string) (catalog.Entry, error)
}

// Options configures the query pipeline.
type Options struct {
	NResults      int
	SearchTimeout time.Duration
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		NResults:      2,
		SearchTimeout: 15 * time.Second,
	}
}

// Request is one question against one collection.
type Request struct {
	Collection string `json:"collection"`
	// SourceType selects the normalizer. Empty means infer it from the hits.
	SourceType domain.SourceType `json:"source_type,omitempty"`
	Question   string            `json:"question"`
	NResults   int               `json:"n_results,omitempty"`
}

// Answer is the normalized answer plus the chunks it was built from.
type Answer struct {
	Text       string            `json:"text"`
	SourceType domain.SourceType `json:"source_type,omitempty"`
	Sources    []Source          `json:"sources"`
}

// Source is one retrieved chunk, nearest first.
type Source struct {
	ChunkID string  `json:"chunk_id"`
	Content string  `json:"content"`
	Score   float32 `json:"score"`
	Source  string  `json:"source,omitempty"`
	Page    int     `json:"page,omitempty"`
}

// Service is the query pipeline.
type Service struct {
	embedder embedding.Provider
	store    Collections
	catalog  Catalog
	opts     Options
	logger   *slog.Logger
	pipeline fn.Stage[Request, *Answer]
}

// New creates a Service. cat may be nil. embedder must be the provider the
// collections were ingested with.
func New(embedder embedding.Provider, store Collections, cat Catalog, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultOptions()
	if opts.NResults <= 0 {
		opts.NResults = def.NResults
	}
	if opts.SearchTimeout <= 0 {
		opts.SearchTimeout = def.SearchTimeout
	}
	s := &Service{
		embedder: embedder,
		store:    store,
		catalog:  cat,
		opts:     opts,
		logger:   logger,
	}

	validated := fn.Logged("validate", logger, s.validate)
	opened := fn.Then(validated, fn.Logged("open", logger, s.open))
	embedded := fn.Then(opened, fn.Logged("embed", logger, s.embed))
	searched := fn.Then(embedded, fn.Logged("search", logger, s.search))
	guarded := fn.Then(searched, fn.Logged("guard", logger, s.guard))
	s.pipeline = fn.Then(guarded, fn.Logged("normalize", logger, s.normalize))
	return s
}

// Query runs the pipeline. Each call re-embeds and re-searches.
func (s *Service) Query(ctx context.Context, req Request) (*Answer, error) {
	s.logger.Info("rag query start", "collection", req.Collection, "question_len", len(req.Question))
	return s.pipeline(ctx, req).Unwrap()
}

// query is the state threaded through the stages.
type query struct {
	Request
	coll   *semantic.Collection
	vector []float32
	hits   []semantic.SearchResult
}

func (s *Service) validate(_ context.Context, req Request) fn.Result[query] {
	if err := domain.ValidateCollectionName(req.Collection); err != nil {
		return fn.Err[query](err)
	}
	if err := domain.ValidateQuestion(req.Question); err != nil {
		return fn.Err[query](err)
	}
	if req.SourceType != "" {
		st, err := domain.ParseSourceType(string(req.SourceType))
		if err != nil {
			return fn.Err[query](err)
		}
		req.SourceType = st
	}
	if req.NResults <= 0 {
		req.NResults = s.opts.NResults
	}
	return fn.Ok(query{Request: req})
}

func (s *Service) open(ctx context.Context, q query) fn.Result[query] {
	coll, err := s.store.Get(ctx, q.Collection)
	if err != nil {
		return fn.Err[query](err)
	}
	q.coll = coll
	return fn.Ok(q)
}

func (s *Service) embed(ctx context.Context, q query) fn.Result[query] {
	v, err := s.embedder.Embed(ctx, q.Question)
	if err != nil {
		return fn.Errf[query]("rag: embed question: %w", err)
	}
	q.vector = v
	return fn.Ok(q)
}

func (s *Service) search(ctx context.Context, q query) fn.Result[query] {
	ctx, cancel := context.WithTimeout(ctx, s.opts.SearchTimeout)
	defer cancel()

	hits, err := q.coll.Search(ctx, q.vector, q.NResults)
	if err != nil {
		return fn.Errf[query]("rag: search %s: %w", q.Collection, err)
	}
	s.logger.Info("rag semantic search done", "collection", q.Collection, "results", len(hits))
	q.hits = hits
	return fn.Ok(q)
}

// guard rejects hits embedded with a different model than the one that
// embedded the question. Hits without a recorded model pass.
func (s *Service) guard(_ context.Context, q query) fn.Result[query] {
	model := s.embedder.Model()
	for _, h := range q.hits {
		if h.EmbedModel != "" && h.EmbedModel != model {
			return fn.Errf[query]("rag: %s chunk %s was embedded with %q, query uses %q: %w",
				q.Collection, h.ID, h.EmbedModel, model, domain.ErrEmbeddingModelMismatch)
		}
	}
	return fn.Ok(q)
}

func (s *Service) normalize(ctx context.Context, q query) fn.Result[*Answer] {
	if len(q.hits) == 0 {
		return fn.Ok(&Answer{SourceType: q.SourceType, Sources: []Source{}})
	}
	st, err := s.sourceType(ctx, q)
	if err != nil {
		return fn.Err[*Answer](err)
	}
	norm, err := NormalizerFor(st)
	if err != nil {
		return fn.Err[*Answer](err)
	}

	contents := make([]string, len(q.hits))
	sources := make([]Source, len(q.hits))
	for i, h := range q.hits {
		contents[i] = h.Content
		sources[i] = Source{
			ChunkID: h.ID,
			Content: h.Content,
			Score:   h.Score,
			Source:  h.Source,
			Page:    page(h.Meta),
		}
	}
	return fn.Ok(&Answer{
		Text:       norm.Normalize(contents),
		SourceType: st,
		Sources:    sources,
	})
}

// sourceType resolves the normalizer key: the request, then the nearest hit's
// file type, then the catalog.
func (s *Service) sourceType(ctx context.Context, q query) (domain.SourceType, error) {
	if q.SourceType != "" {
		return q.SourceType, nil
	}
	if ft := q.hits[0].FileType; ft != "" {
		return domain.ParseSourceType(ft)
	}
	if s.catalog != nil {
		e, err := s.catalog.Lookup(ctx, q.Collection)
		if err == nil {
			return domain.SourceTypeOf(e.FileType), nil
		}
		s.logger.Warn("rag: catalog lookup failed", "collection", q.Collection, "err", err)
	}
	return "", fmt.Errorf("rag: %s: no source type given or recorded: %w", q.Collection, domain.ErrUnsupportedSourceType)
}

func page(meta map[string]string) int {
	n, err := strconv.Atoi(meta[domain.MetaPage])
	if err != nil {
		return 0
	}
	return n
}
