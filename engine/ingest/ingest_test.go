package ingest

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/WessleyAI/docrag/engine/catalog"
	"github.com/WessleyAI/docrag/engine/domain"
	"github.com/WessleyAI/docrag/engine/embedding"
	"github.com/WessleyAI/docrag/engine/embedding/embeddingtest"
	"github.com/WessleyAI/docrag/engine/semantic"
	"github.com/WessleyAI/docrag/engine/semantic/semantictest"
)

// letters returns n pseudo-random lowercase letters with no separators.
func letters(n int, seed int64) string {
	r := rand.New(rand.NewSource(seed))
	b := make([]byte, n)
	for i := range b {
		b[i] = byte('a' + r.Intn(26))
	}
	return string(b)
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

type fixture struct {
	server *semantictest.Server
	store  *semantic.Store
	emb    *embeddingtest.Hash
	deps   Deps
}

func newFixture() *fixture {
	srv := semantictest.New()
	store := srv.NewStore(semantic.Options{Timeout: time.Second})
	emb := embeddingtest.New(256, "hash-256")
	return &fixture{
		server: srv,
		store:  store,
		emb:    emb,
		deps:   Deps{Embedder: emb, Store: store},
	}
}

func (f *fixture) ingest(t *testing.T, req Request) (Report, error) {
	t.Helper()
	return NewPipeline(f.deps)(context.Background(), req).Unwrap()
}

func TestPipeline_SixChunksWithOverlap(t *testing.T) {
	f := newFixture()
	text := letters(1200, 1)
	path := writeFile(t, "doc.txt", text)

	rep, err := f.ingest(t, Request{Path: path, Collection: "doc"})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if rep.Chunks != 6 || rep.Documents != 1 || rep.FileType != domain.FileTypeText {
		t.Fatalf("unexpected report %+v", rep)
	}
	if rep.EmbedModel != "hash-256" || rep.Dimensions != 256 || rep.Duration <= 0 {
		t.Errorf("report model/dims/duration: %+v", rep)
	}

	contents := f.server.Contents("doc")
	if len(contents) != 6 {
		t.Fatalf("stored %d chunks, want 6", len(contents))
	}
	for i := 0; i < 6; i++ {
		end := i*200 + 300
		if end > len(text) {
			end = len(text)
		}
		if got := contents[ChunkID(i+1)]; got != text[i*200:end] {
			t.Errorf("%s has wrong content", ChunkID(i+1))
		}
	}
}

func TestPipeline_PayloadAndIdenticalQueryRanksFirst(t *testing.T) {
	f := newFixture()
	text := letters(1200, 2)
	path := writeFile(t, "doc.txt", text)
	if _, err := f.ingest(t, Request{Path: path, Collection: "doc"}); err != nil {
		t.Fatal(err)
	}

	coll, err := f.store.Get(context.Background(), "doc")
	if err != nil {
		t.Fatal(err)
	}
	chunk3 := text[400:700]
	vec, _ := f.emb.Embed(context.Background(), chunk3)
	hits, err := coll.Search(context.Background(), vec, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 3 {
		t.Fatalf("got %d hits", len(hits))
	}
	top := hits[0]
	if top.ID != "id3" || top.Content != chunk3 {
		t.Fatalf("top hit = %s %q", top.ID, top.Content)
	}
	if top.FileType != "txt" || top.EmbedModel != "hash-256" || top.Source != path || top.Meta["chunk_index"] != "3" {
		t.Errorf("payload not stored: %+v", top)
	}
	for i := 1; i < len(hits); i++ {
		if hits[i].Score > hits[i-1].Score {
			t.Errorf("hits not ordered nearest first")
		}
	}
}

func TestPipeline_ReingestReplaces(t *testing.T) {
	f := newFixture()
	first := writeFile(t, "a.txt", letters(1200, 3))
	secondText := letters(500, 4)
	second := writeFile(t, "b.txt", secondText)

	if _, err := f.ingest(t, Request{Path: first, Collection: "shared"}); err != nil {
		t.Fatal(err)
	}
	rep, err := f.ingest(t, Request{Path: second, Collection: "shared"})
	if err != nil {
		t.Fatal(err)
	}

	if names := f.server.Names(); len(names) != 1 || names[0] != "shared" {
		t.Fatalf("collections = %v", names)
	}
	want := mustSplitter(t, DefaultChunkSize, DefaultOverlap).SplitText(secondText)
	contents := f.server.Contents("shared")
	if len(contents) != len(want) || rep.Chunks != len(want) {
		t.Fatalf("stored %d chunks, report %d, fresh split %d", len(contents), rep.Chunks, len(want))
	}
	for id, c := range contents {
		if !strings.Contains(secondText, c) {
			t.Errorf("%s holds content from the previous generation", id)
		}
	}
}

func TestPipeline_ConcurrentSameName(t *testing.T) {
	f := newFixture()
	texts := []string{letters(900, 5), letters(700, 6), letters(1100, 7)}

	var wg sync.WaitGroup
	for i, text := range texts {
		path := writeFile(t, "doc.txt", text)
		wg.Add(1)
		go func(i int, path string) {
			defer wg.Done()
			if _, err := f.ingest(t, Request{Path: path, Collection: "race"}); err != nil {
				t.Errorf("ingest %d: %v", i, err)
			}
		}(i, path)
	}
	wg.Wait()

	contents := f.server.Contents("race")
	var owner string
	for _, text := range texts {
		if strings.Contains(text, contents["id1"]) {
			owner = text
		}
	}
	if owner == "" {
		t.Fatal("id1 matches no input")
	}
	if want := len(mustSplitter(t, 300, 100).SplitText(owner)); len(contents) != want {
		t.Fatalf("stored %d chunks, want %d from a single generation", len(contents), want)
	}
	for id, c := range contents {
		if !strings.Contains(owner, c) {
			t.Errorf("%s comes from a different ingestion", id)
		}
	}
}

func TestPipeline_ValidationStopsBeforeStore(t *testing.T) {
	f := newFixture()
	txt := writeFile(t, "a.txt", "hello")
	tests := []struct {
		name string
		req  Request
		want error
	}{
		{"unsupported extension", Request{Path: writeFile(t, "a.docx", "x"), Collection: "c"}, domain.ErrUnsupportedFormat},
		{"declared type mismatch", Request{Path: txt, FileType: domain.FileTypePDF, Collection: "c"}, domain.ErrUnsupportedFormat},
		{"overlap too large", Request{Path: txt, Collection: "c", ChunkSize: 100, ChunkOverlap: 100}, domain.ErrInvalidChunkConfig},
		{"negative overlap", Request{Path: txt, Collection: "c", ChunkSize: 100, ChunkOverlap: -1}, domain.ErrInvalidChunkConfig},
		{"bad collection name", Request{Path: txt, Collection: "a/b"}, domain.ErrInvalidCollectionName},
		{"missing file", Request{Path: filepath.Join(t.TempDir(), "gone.txt"), Collection: "c"}, domain.ErrRead},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.ingest(t, tt.req); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
	if f.server.Creates != 0 || f.emb.Calls() != 0 {
		t.Fatalf("store or embedder touched: creates=%d embeds=%d", f.server.Creates, f.emb.Calls())
	}
}

func TestPipeline_EmptyFileKeepsExistingCollection(t *testing.T) {
	f := newFixture()
	good := writeFile(t, "good.txt", letters(600, 8))
	if _, err := f.ingest(t, Request{Path: good, Collection: "keep"}); err != nil {
		t.Fatal(err)
	}
	before := f.server.Contents("keep")

	empty := writeFile(t, "empty.txt", "  \n\n ")
	if _, err := f.ingest(t, Request{Path: empty, Collection: "keep"}); !errors.Is(err, domain.ErrRead) {
		t.Fatalf("expected ErrRead, got %v", err)
	}
	if after := f.server.Contents("keep"); len(after) != len(before) {
		t.Fatalf("existing collection changed: %d -> %d chunks", len(before), len(after))
	}
}

func TestPipeline_StoreUnavailable(t *testing.T) {
	f := newFixture()
	f.server.Err = status.Error(codes.Unavailable, "connection refused")
	path := writeFile(t, "a.txt", "some text")
	if _, err := f.ingest(t, Request{Path: path, Collection: "c"}); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestPipeline_EmbeddingFailure(t *testing.T) {
	f := newFixture()
	f.emb.Err = errors.New("model not loaded")
	f.deps.Embedder = embedding.Guard(f.emb, embedding.Options{})
	path := writeFile(t, "a.txt", letters(400, 9))

	_, err := f.ingest(t, Request{Path: path, Collection: "c"})
	if !errors.Is(err, domain.ErrEmbeddingFailure) {
		t.Fatalf("expected ErrEmbeddingFailure, got %v", err)
	}
	if !Retryable(err) {
		t.Error("embedding failures should be retryable")
	}
}

func TestPipeline_FailedReingestLeavesNoCollection(t *testing.T) {
	f := newFixture()
	cat := &recordingCatalog{}
	f.deps.Catalog = cat
	f.deps.BatchSize = 2
	f.deps.Workers = 1
	path := writeFile(t, "doc.txt", letters(1200, 12))

	if _, err := f.ingest(t, Request{Path: path, Collection: "doc"}); err != nil {
		t.Fatal(err)
	}
	if n := len(f.server.Contents("doc")); n != 6 {
		t.Fatalf("first ingest stored %d chunks", n)
	}

	down := errors.New("provider down")
	f.emb.Err = down
	f.emb.FailAfter = f.emb.Calls() + 2
	if _, err := f.ingest(t, Request{Path: path, Collection: "doc"}); !errors.Is(err, down) {
		t.Fatalf("expected provider error, got %v", err)
	}

	if names := f.server.Names(); len(names) != 0 {
		t.Fatalf("collections = %v, want the partial generation dropped", names)
	}
	if _, err := f.store.Get(context.Background(), "doc"); !errors.Is(err, domain.ErrCollectionNotFound) {
		t.Fatalf("expected ErrCollectionNotFound, got %v", err)
	}
	if len(cat.entries) != 1 || len(cat.forgotten) != 1 || cat.forgotten[0] != "doc" {
		t.Fatalf("catalog entries=%v forgotten=%v", cat.entries, cat.forgotten)
	}
}

func TestPipeline_BatchesAndProgress(t *testing.T) {
	f := newFixture()
	var mu sync.Mutex
	var progress []int
	f.deps.BatchSize = 4
	f.deps.Workers = 2
	f.deps.Progress = func(done, total int) {
		mu.Lock()
		defer mu.Unlock()
		if total != 6 {
			t.Errorf("total = %d", total)
		}
		progress = append(progress, done)
	}
	path := writeFile(t, "a.txt", letters(1200, 10))
	if _, err := f.ingest(t, Request{Path: path, Collection: "c"}); err != nil {
		t.Fatal(err)
	}
	if len(progress) != 2 || progress[0] != 4 || progress[1] != 6 {
		t.Fatalf("progress = %v", progress)
	}
	if f.emb.Calls() != 6 {
		t.Fatalf("embedded %d times, want 6", f.emb.Calls())
	}
}

type recordingCatalog struct {
	entries   []catalog.Entry
	forgotten []string
	err       error
}

func (r *recordingCatalog) Record(_ context.Context, e catalog.Entry) error {
	r.entries = append(r.entries, e)
	return r.err
}

func (r *recordingCatalog) Forget(_ context.Context, name string) error {
	r.forgotten = append(r.forgotten, name)
	return nil
}

func TestPipeline_RecordsCatalog(t *testing.T) {
	f := newFixture()
	cat := &recordingCatalog{}
	f.deps.Catalog = cat
	path := writeFile(t, "a.txt", letters(1200, 11))

	if _, err := f.ingest(t, Request{Path: path, Collection: "c"}); err != nil {
		t.Fatal(err)
	}
	if len(cat.entries) != 1 {
		t.Fatalf("entries = %v", cat.entries)
	}
	e := cat.entries[0]
	if e.Name != "c" || e.Chunks != 6 || e.FileType != domain.FileTypeText || e.EmbedModel != "hash-256" || e.IngestedAt.IsZero() {
		t.Fatalf("entry = %+v", e)
	}

	cat.err = errors.New("neo4j down")
	if _, err := f.ingest(t, Request{Path: path, Collection: "c"}); !errors.Is(err, cat.err) {
		t.Fatalf("catalog error should fail the ingestion, got %v", err)
	}
}

func TestRetryable(t *testing.T) {
	if Retryable(domain.ErrInvalidChunkConfig) || Retryable(domain.ErrUnsupportedFormat) {
		t.Error("input errors must not be retryable")
	}
	if !Retryable(domain.ErrStoreUnavailable) {
		t.Error("store unavailability should be retryable")
	}
}
