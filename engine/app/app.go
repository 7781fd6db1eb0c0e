// Package app wires the engines into one process-wide service: a single
// vector store handle, a single guarded embedding provider shared by the
// ingestion and query pipelines, and the optional catalog.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/WessleyAI/docrag/engine/catalog"
	"github.com/WessleyAI/docrag/engine/domain"
	"github.com/WessleyAI/docrag/engine/embedding"
	"github.com/WessleyAI/docrag/engine/ingest"
	"github.com/WessleyAI/docrag/engine/rag"
	"github.com/WessleyAI/docrag/engine/semantic"
	"github.com/WessleyAI/docrag/pkg/config"
	"github.com/WessleyAI/docrag/pkg/fn"
	"github.com/WessleyAI/docrag/pkg/metrics"
)

// Parts are the already-connected dependencies of an App.
type Parts struct {
	Config   *config.Config
	Store    *semantic.Store
	Embedder embedding.Provider
	// Catalog is optional.
	Catalog *catalog.Catalog
	Metrics *metrics.Registry
	Logger  *slog.Logger
}

// App is the docrag service.
type App struct {
	cfg      *config.Config
	store    *semantic.Store
	embedder embedding.Provider
	catalog  *catalog.Catalog
	query    *rag.Service
	metrics  *metrics.Registry
	logger   *slog.Logger
	closers  []func(context.Context) error
}

// Open connects to Qdrant, Neo4j (when configured) and the embedding
// backend described by cfg.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store, err := semantic.New(cfg.Store.Addr(), semantic.Options{
		Timeout:    cfg.Store.Timeout,
		AllowReset: cfg.Store.AllowReset,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	closers := []func(context.Context) error{func(context.Context) error { return store.Close() }}

	emb, err := embedding.FromConfig(cfg.Embedding, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	var cat *catalog.Catalog
	if cfg.Neo4j.URL != "" {
		driver, err := neo4j.NewDriverWithContext(cfg.Neo4j.URL, neo4j.BasicAuth(cfg.Neo4j.User, cfg.Neo4j.Password, ""))
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("app: neo4j driver: %w", err)
		}
		cat = catalog.New(driver, cfg.Neo4j.Database)
		closers = append(closers, driver.Close)
		if err := cat.EnsureSchema(ctx); err != nil {
			logger.Warn("app: catalog schema not ensured", "url", cfg.Neo4j.URL, "err", err)
		}
	}

	a := New(Parts{Config: cfg, Store: store, Embedder: emb, Catalog: cat, Logger: logger})
	a.closers = closers

	names, err := store.List(ctx)
	if err != nil {
		logger.Warn("app: qdrant not reachable yet", "addr", cfg.Store.Addr(), "err", err)
	} else {
		logger.Info("app: connected to qdrant", "addr", cfg.Store.Addr(), "collections", names)
	}
	return a, nil
}

// New assembles an App from connected parts.
func New(p Parts) *App {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := p.Config
	if cfg == nil {
		cfg = config.Default()
	}
	reg := p.Metrics
	if reg == nil {
		reg = metrics.New()
	}
	a := &App{
		cfg:      cfg,
		store:    p.Store,
		embedder: p.Embedder,
		catalog:  p.Catalog,
		metrics:  reg,
		logger:   logger,
	}
	var lookup rag.Catalog
	if p.Catalog != nil {
		lookup = p.Catalog
	}
	a.query = rag.New(p.Embedder, p.Store, lookup, rag.Options{
		NResults:      cfg.Query.NResults,
		SearchTimeout: cfg.Query.Timeout,
	}, logger)
	return a
}

// Close releases every connection Open made.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	return errors.Join(errs...)
}

// Metrics returns the registry ingest and query outcomes are recorded in.
func (a *App) Metrics() *metrics.Registry { return a.metrics }

// Pipeline returns an ingestion pipeline over the shared store and provider.
// progress may be nil.
func (a *App) Pipeline(progress func(done, total int)) fn.Stage[ingest.Request, ingest.Report] {
	deps := ingest.Deps{
		Embedder: a.embedder,
		Store:    a.store,
		Progress: progress,
		Logger:   a.logger,
	}
	if a.catalog != nil {
		deps.Catalog = a.catalog
	}
	return ingest.NewPipeline(deps)
}

// Ingest replaces req.Collection with the chunks of req.Path. Zero chunk
// settings take the configured defaults.
func (a *App) Ingest(ctx context.Context, req ingest.Request, progress func(done, total int)) (ingest.Report, error) {
	if req.ChunkSize == 0 && req.ChunkOverlap == 0 {
		req.ChunkSize = a.cfg.Chunking.Size
		req.ChunkOverlap = a.cfg.Chunking.Overlap
	}
	start := time.Now()
	rep, err := a.Pipeline(progress)(ctx, req).Unwrap()
	a.record("ingest", start, err)
	if err == nil {
		a.metrics.Counter("docrag_chunks_ingested_total", "Chunks written to the vector store", "type", string(rep.FileType)).Add(int64(rep.Chunks))
	}
	return rep, err
}

// Query answers a question from one collection.
func (a *App) Query(ctx context.Context, req rag.Request) (*rag.Answer, error) {
	start := time.Now()
	ans, err := a.query.Query(ctx, req)
	a.record("query", start, err)
	return ans, err
}

func (a *App) record(op string, start time.Time, err error) {
	a.metrics.Counter("docrag_operations_total", "Ingest and query calls by outcome", "op", op, "outcome", Outcome(err)).Inc()
	a.metrics.Histogram("docrag_operation_duration_seconds", "Ingest and query latency", nil, "op", op).Since(start)
}

// Outcome is a low-cardinality label for err.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, domain.ErrEmbeddingFailure):
		return "embedding_failure"
	case errors.Is(err, domain.ErrCollectionNotFound):
		return "not_found"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	default:
		return "invalid"
	}
}

// CollectionInfo is a collection name plus its catalog entry, when one exists.
type CollectionInfo struct {
	Name  string         `json:"name"`
	Entry *catalog.Entry `json:"entry,omitempty"`
}

// Collections lists every collection in the store.
func (a *App) Collections(ctx context.Context) ([]CollectionInfo, error) {
	names, err := a.store.List(ctx)
	if err != nil {
		return nil, err
	}
	entries := map[string]catalog.Entry{}
	if a.catalog != nil {
		list, err := a.catalog.List(ctx, 0)
		if err != nil {
			a.logger.Warn("app: catalog list failed", "err", err)
		}
		for _, e := range list {
			entries[e.Name] = e
		}
	}
	out := make([]CollectionInfo, len(names))
	for i, n := range names {
		out[i] = CollectionInfo{Name: n}
		if e, ok := entries[n]; ok {
			out[i].Entry = &e
		}
	}
	a.metrics.Gauge("docrag_collections", "Collections in the vector store").Set(float64(len(names)))
	return out, nil
}

// Delete removes a collection and forgets its catalog entry.
func (a *App) Delete(ctx context.Context, name string) error {
	if err := a.store.Delete(ctx, name); err != nil {
		return err
	}
	if a.catalog != nil {
		if err := a.catalog.Forget(ctx, name); err != nil {
			return fmt.Errorf("app: forget %s: %w", name, err)
		}
	}
	a.logger.Info("app: collection deleted", "collection", name)
	return nil
}

// Reset drops every collection and clears the catalog. It needs
// store.allow_reset.
func (a *App) Reset(ctx context.Context) (int, error) {
	n, err := a.store.Reset(ctx)
	if err != nil {
		return n, err
	}
	if a.catalog != nil {
		entries, err := a.catalog.List(ctx, 0)
		if err != nil {
			return n, fmt.Errorf("app: reset catalog: %w", err)
		}
		for _, e := range entries {
			if err := a.catalog.Forget(ctx, e.Name); err != nil {
				return n, fmt.Errorf("app: reset catalog: %w", err)
			}
		}
	}
	return n, nil
}

// Ping checks the vector store answers.
func (a *App) Ping(ctx context.Context) error {
	return a.store.Ping(ctx)
}
