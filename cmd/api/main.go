// Package main implements the docrag API server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/WessleyAI/docrag/engine/app"
	"github.com/WessleyAI/docrag/engine/domain"
	"github.com/WessleyAI/docrag/engine/ingest"
	"github.com/WessleyAI/docrag/engine/rag"
	"github.com/WessleyAI/docrag/pkg/config"
	"github.com/WessleyAI/docrag/pkg/logging"
	"github.com/WessleyAI/docrag/pkg/metrics"
	"github.com/WessleyAI/docrag/pkg/mid"
	"github.com/WessleyAI/docrag/pkg/resilience"
)

// maxUpload bounds the multipart body of an upload.
const maxUpload = 64 << 20

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	cfg, err := config.Load(envOr("DOCRAG_CONFIG", "config.yaml"), envOr("DOCRAG_ENV_FILE", ".env"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger, closer, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logging:", err)
		os.Exit(1)
	}
	defer closer.Close()
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		closer.Close()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close(context.Background())
	svc.Metrics().CollectRuntime(ctx, "docrag_api", 15*time.Second)

	srv := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.API.Port),
		Handler:      newHandler(svc, svc.Metrics(), cfg, logger),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	// --- Graceful shutdown ---
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.API.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// backend is the part of *app.App the handlers use.
type backend interface {
	Ingest(ctx context.Context, req ingest.Request, progress func(done, total int)) (ingest.Report, error)
	Query(ctx context.Context, req rag.Request) (*rag.Answer, error)
	Collections(ctx context.Context) ([]app.CollectionInfo, error)
	Delete(ctx context.Context, name string) error
	Ping(ctx context.Context) error
}

func newHandler(b backend, reg *metrics.Registry, cfg *config.Config, logger *slog.Logger) http.Handler {
	query := http.Handler(handleQuery(b, logger))
	if cfg.API.QueryRPS > 0 {
		limiter := resilience.NewLimiter(resilience.LimiterOpts{Rate: cfg.API.QueryRPS, Burst: int(cfg.API.QueryRPS) + 1})
		query = mid.RateLimit(limiter)(query)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth(b))
	mux.HandleFunc("POST /api/collections", handleUpload(b, logger))
	mux.HandleFunc("GET /api/collections", handleList(b, logger))
	mux.HandleFunc("DELETE /api/collections/{name}", handleDelete(b, logger))
	mux.Handle("POST /api/query", query)
	mux.Handle("GET /metrics", reg.Handler())

	chain := []mid.Middleware{
		mid.Recover(logger),
		mid.Logger(logger),
		mid.Metrics(reg, "docrag_api"),
		mid.CORS(cfg.API.CORSOrigin),
	}
	if !cfg.Store.AnonymizedTelemetry {
		chain = append([]mid.Middleware{mid.OTel("docrag-api")}, chain...)
	}
	return mid.Chain(mux, chain...)
}

// --- Handlers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusOf maps the domain error taxonomy onto HTTP.
func statusOf(err error) int {
	var ve *domain.ValidationError
	switch {
	case errors.Is(err, domain.ErrCollectionNotFound):
		return http.StatusNotFound
	case errors.As(err, &ve),
		errors.Is(err, domain.ErrUnsupportedFormat),
		errors.Is(err, domain.ErrUnsupportedSourceType),
		errors.Is(err, domain.ErrInvalidChunkConfig),
		errors.Is(err, domain.ErrInvalidCollectionName),
		errors.Is(err, domain.ErrEmptyQuestion),
		errors.Is(err, domain.ErrRead):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrEmbeddingModelMismatch):
		return http.StatusConflict
	case errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrEmbeddingFailure):
		return http.StatusBadGateway
	case errors.Is(err, resilience.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeErr(w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	status := statusOf(err)
	if status >= 500 {
		logger.Error(op+" failed", "err", err)
	} else {
		logger.Warn(op+" rejected", "err", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func handleHealth(b backend) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := b.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "store": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// UploadResponse is the JSON response for POST /api/collections.
type UploadResponse struct {
	Collection string `json:"collection"`
	FileType   string `json:"file_type"`
	Documents  int    `json:"documents"`
	Chunks     int    `json:"chunks"`
	DurationMS int64  `json:"duration_ms"`
}

// collectionFor names the collection an upload goes into when the client
// gives none: <name>_<file name>, or just the file name.
func collectionFor(name, filename string) string {
	base := filepath.Base(filename)
	if name = strings.TrimSpace(name); name == "" {
		return base
	}
	return name + "_" + base
}

func handleUpload(b backend, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
		if err := r.ParseMultipartForm(8 << 20); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid multipart body: " + err.Error()})
			return
		}
		defer r.MultipartForm.RemoveAll()

		file, header, err := r.FormFile("file")
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "file is required"})
			return
		}
		defer file.Close()

		req := ingest.Request{
			Collection: r.FormValue("collection"),
			FileType:   domain.FileType(strings.ToLower(r.FormValue("file_type"))),
		}
		if req.Collection == "" {
			req.Collection = collectionFor(r.FormValue("name"), header.Filename)
		}
		for field, dst := range map[string]*int{"chunk_size": &req.ChunkSize, "chunk_overlap": &req.ChunkOverlap} {
			if v := r.FormValue(field); v != "" {
				n, err := strconv.Atoi(v)
				if err != nil {
					writeErr(w, logger, "upload", domain.NewValidationError(field, v, domain.ErrInvalidChunkConfig))
					return
				}
				*dst = n
			}
		}

		// The loader dispatches on the extension, so the temp file keeps it.
		tmp, err := os.CreateTemp("", "docrag-upload-*"+filepath.Ext(header.Filename))
		if err != nil {
			writeErr(w, logger, "upload", err)
			return
		}
		defer os.Remove(tmp.Name())
		_, err = io.Copy(tmp, file)
		if cerr := tmp.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			writeErr(w, logger, "upload", fmt.Errorf("save upload: %w", err))
			return
		}
		req.Path = tmp.Name()

		rep, err := b.Ingest(r.Context(), req, nil)
		if err != nil {
			writeErr(w, logger, "upload", err)
			return
		}
		writeJSON(w, http.StatusCreated, UploadResponse{
			Collection: rep.Collection,
			FileType:   string(rep.FileType),
			Documents:  rep.Documents,
			Chunks:     rep.Chunks,
			DurationMS: rep.Duration.Milliseconds(),
		})
	}
}

// QueryRequest is the JSON body for POST /api/query.
type QueryRequest struct {
	Collection string `json:"collection"`
	SourceType string `json:"source_type,omitempty"`
	Question   string `json:"question"`
	NResults   int    `json:"n_results,omitempty"`
}

// QueryResponse is the JSON response for POST /api/query.
type QueryResponse struct {
	Answer     string       `json:"answer"`
	SourceType string       `json:"source_type"`
	Sources    []rag.Source `json:"sources"`
}

func handleQuery(b backend, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req QueryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		ans, err := b.Query(r.Context(), rag.Request{
			Collection: req.Collection,
			SourceType: domain.SourceType(req.SourceType),
			Question:   req.Question,
			NResults:   req.NResults,
		})
		if err != nil {
			writeErr(w, logger, "query", err)
			return
		}
		writeJSON(w, http.StatusOK, QueryResponse{
			Answer:     ans.Text,
			SourceType: string(ans.SourceType),
			Sources:    ans.Sources,
		})
	}
}

func handleList(b backend, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := b.Collections(r.Context())
		if err != nil {
			writeErr(w, logger, "list collections", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"collections": list})
	}
}

func handleDelete(b backend, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := b.Delete(r.Context(), r.PathValue("name")); err != nil {
			writeErr(w, logger, "delete collection", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
