package rag

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/WessleyAI/docrag/engine/catalog"
	"github.com/WessleyAI/docrag/engine/domain"
	"github.com/WessleyAI/docrag/engine/embedding/embeddingtest"
	"github.com/WessleyAI/docrag/engine/ingest"
	"github.com/WessleyAI/docrag/engine/semantic"
	"github.com/WessleyAI/docrag/engine/semantic/semantictest"
)

const model = "hash-1024"

func letters(n int, seed int64) string {
	r := rand.New(rand.NewSource(seed))
	b := make([]byte, n)
	for i := range b {
		b[i] = byte('a' + r.Intn(26))
	}
	return string(b)
}

type env struct {
	server *semantictest.Server
	store  *semantic.Store
	emb    *embeddingtest.Hash
}

func newEnv() *env {
	srv := semantictest.New()
	return &env{
		server: srv,
		store:  srv.NewStore(semantic.Options{Timeout: time.Second}),
		emb:    embeddingtest.New(1024, model),
	}
}

func (e *env) ingest(t *testing.T, collection, name, text string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		t.Fatal(err)
	}
	p := ingest.NewPipeline(ingest.Deps{Embedder: e.emb, Store: e.store})
	if _, err := p(context.Background(), ingest.Request{Path: path, Collection: collection}).Unwrap(); err != nil {
		t.Fatalf("ingest: %v", err)
	}
}

func (e *env) service(cat Catalog) *Service {
	return New(e.emb, e.store, cat, Options{}, nil)
}

func TestQuery_PhraseFromChunkThree(t *testing.T) {
	e := newEnv()
	text := letters(1200, 42)
	e.ingest(t, "doc", "doc.txt", text)

	ans, err := e.service(nil).Query(context.Background(), Request{
		Collection: "doc",
		Question:   text[500:600],
		NResults:   1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if ans.Text != text[400:700] {
		t.Fatalf("answer is not chunk 3 verbatim: %q", ans.Text)
	}
	if len(ans.Sources) != 1 || ans.Sources[0].ChunkID != "id3" || ans.SourceType != domain.SourceText {
		t.Fatalf("unexpected answer %+v", ans)
	}
}

func TestQuery_DefaultsToTwoOrderedResults(t *testing.T) {
	e := newEnv()
	text := letters(1200, 43)
	e.ingest(t, "doc", "doc.txt", text)

	ans, err := e.service(nil).Query(context.Background(), Request{Collection: "doc", Question: text[0:120]})
	if err != nil {
		t.Fatal(err)
	}
	if len(ans.Sources) != 2 {
		t.Fatalf("got %d sources, want 2", len(ans.Sources))
	}
	if ans.Sources[0].Score < ans.Sources[1].Score {
		t.Error("sources not ordered nearest first")
	}
	if ans.Sources[0].ChunkID != "id1" {
		t.Errorf("nearest = %s, want id1", ans.Sources[0].ChunkID)
	}
	if want := ans.Sources[0].Content + " " + ans.Sources[1].Content; ans.Text != want {
		t.Errorf("txt answer should join contents with one space")
	}
}

func TestQuery_PDFNormalization(t *testing.T) {
	e := newEnv()
	e.ingest(t, "notes", "notes.txt", "«Brakes» need fluid, check it!\nDaily.")

	ans, err := e.service(nil).Query(context.Background(), Request{
		Collection: "notes",
		SourceType: "PDF",
		Question:   "brakes fluid",
		NResults:   1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if want := "Brakes need fluid check itdaily. "; ans.Text != want {
		t.Fatalf("got %q, want %q", ans.Text, want)
	}
}

func TestQuery_RejectsBadInputBeforeSearch(t *testing.T) {
	e := newEnv()
	e.ingest(t, "doc", "doc.txt", letters(400, 44))
	calls := e.emb.Calls()
	svc := e.service(nil)

	tests := []struct {
		name string
		req  Request
		want error
	}{
		{"blank question", Request{Collection: "doc", Question: "  "}, domain.ErrEmptyQuestion},
		{"bad collection", Request{Collection: "", Question: "q"}, domain.ErrInvalidCollectionName},
		{"bad source type", Request{Collection: "doc", Question: "q", SourceType: "docx"}, domain.ErrUnsupportedSourceType},
		{"missing collection", Request{Collection: "nope", Question: "q"}, domain.ErrCollectionNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Query(context.Background(), tt.req); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
	if e.emb.Calls() != calls {
		t.Fatal("question embedded despite invalid request")
	}
}

func TestQuery_ModelMismatch(t *testing.T) {
	e := newEnv()
	e.ingest(t, "doc", "doc.txt", letters(400, 45))

	other := embeddingtest.New(1024, "other-model")
	svc := New(other, e.store, nil, Options{}, nil)
	_, err := svc.Query(context.Background(), Request{Collection: "doc", Question: "anything"})
	if !errors.Is(err, domain.ErrEmbeddingModelMismatch) {
		t.Fatalf("expected ErrEmbeddingModelMismatch, got %v", err)
	}
}

func TestQuery_StoreUnavailable(t *testing.T) {
	e := newEnv()
	e.ingest(t, "doc", "doc.txt", letters(400, 46))
	e.server.Err = status.Error(codes.Unavailable, "down")

	_, err := e.service(nil).Query(context.Background(), Request{Collection: "doc", Question: "q"})
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestQuery_EmbeddingError(t *testing.T) {
	e := newEnv()
	e.ingest(t, "doc", "doc.txt", letters(400, 47))
	e.emb.Err = errors.New("boom")

	if _, err := e.service(nil).Query(context.Background(), Request{Collection: "doc", Question: "q"}); err == nil {
		t.Fatal("expected error")
	}
}

type stubCatalog struct {
	entry catalog.Entry
	err   error
}

func (s stubCatalog) Lookup(context.Context, string) (catalog.Entry, error) { return s.entry, s.err }

// untyped stores chunks without a file_type payload, as another writer might.
func untyped(t *testing.T, e *env, name string, contents ...string) {
	t.Helper()
	ctx := context.Background()
	coll, err := e.store.GetOrReplace(ctx, name, e.emb.Dimensions())
	if err != nil {
		t.Fatal(err)
	}
	records := make([]semantic.VectorRecord, len(contents))
	for i, c := range contents {
		v, _ := e.emb.Embed(ctx, c)
		records[i] = semantic.VectorRecord{
			ID:        ingest.ChunkID(i + 1),
			Embedding: v,
			Payload:   map[string]any{semantic.PayloadContent: c, domain.MetaPage: i + 1},
		}
	}
	if err := coll.Upsert(ctx, records); err != nil {
		t.Fatal(err)
	}
}

func TestQuery_SourceTypeFromCatalog(t *testing.T) {
	e := newEnv()
	untyped(t, e, "manual", "Check the fuse, then the relay!")

	cat := stubCatalog{entry: catalog.Entry{Name: "manual", FileType: domain.FileTypePDF}}
	ans, err := e.service(cat).Query(context.Background(), Request{Collection: "manual", Question: "fuse relay", NResults: 1})
	if err != nil {
		t.Fatal(err)
	}
	if ans.Text != "Check the fuse then the relay. " || ans.SourceType != domain.SourcePDF {
		t.Fatalf("unexpected answer %+v", ans)
	}
	if ans.Sources[0].Page != 1 {
		t.Errorf("page = %d", ans.Sources[0].Page)
	}

	_, err = e.service(stubCatalog{err: domain.ErrCollectionNotFound}).Query(context.Background(), Request{Collection: "manual", Question: "fuse"})
	if !errors.Is(err, domain.ErrUnsupportedSourceType) {
		t.Fatalf("expected ErrUnsupportedSourceType, got %v", err)
	}
	if _, err := e.service(nil).Query(context.Background(), Request{Collection: "manual", Question: "fuse"}); !errors.Is(err, domain.ErrUnsupportedSourceType) {
		t.Fatalf("expected ErrUnsupportedSourceType without catalog, got %v", err)
	}
}

func TestQuery_EmptyCollection(t *testing.T) {
	e := newEnv()
	if _, err := e.store.GetOrReplace(context.Background(), "empty", e.emb.Dimensions()); err != nil {
		t.Fatal(err)
	}
	ans, err := e.service(nil).Query(context.Background(), Request{Collection: "empty", Question: "q"})
	if err != nil {
		t.Fatal(err)
	}
	if ans.Text != "" || len(ans.Sources) != 0 {
		t.Fatalf("unexpected answer %+v", ans)
	}
}
