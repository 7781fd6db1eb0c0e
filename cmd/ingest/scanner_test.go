package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/WessleyAI/docrag/engine/domain"
	"github.com/WessleyAI/docrag/engine/ingest"
	"github.com/WessleyAI/docrag/pkg/metrics"
)

type recorder struct {
	calls []ingest.Request
	errs  map[string]error // by collection
}

func (r *recorder) ingest(_ context.Context, req ingest.Request) (ingest.Report, error) {
	r.calls = append(r.calls, req)
	if err := r.errs[req.Collection]; err != nil {
		return ingest.Report{}, err
	}
	return ingest.Report{Collection: req.Collection, Chunks: 3}, nil
}

func (r *recorder) collections() []string {
	var out []string
	for _, c := range r.calls {
		out = append(out, c.Collection)
	}
	sort.Strings(out)
	return out
}

func put(t *testing.T, dir, rel, content string) {
	t.Helper()
	p := filepath.Join(dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newTestScanner(t *testing.T, dir string, rec *recorder, reg *metrics.Registry) *scanner {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return newScanner(dir, filepath.Join(dir, ".ingest-state.json"), rec.ingest, reg, log)
}

func TestScan_NewFilesOnce(t *testing.T) {
	dir := t.TempDir()
	put(t, dir, "a.txt", "alpha")
	put(t, dir, "manuals/engine.pdf", "%PDF")
	put(t, dir, "notes.md", "ignored")
	put(t, dir, ".hidden.txt", "ignored")

	rec := &recorder{}
	reg := metrics.New()
	s := newTestScanner(t, dir, rec, reg)

	done, failed, err := s.scan(context.Background())
	if err != nil || done != 2 || failed != 0 {
		t.Fatalf("scan = %d, %d, %v", done, failed, err)
	}
	if got := fmt.Sprint(rec.collections()); got != "[a manuals_engine]" {
		t.Fatalf("collections = %s", got)
	}
	for _, c := range rec.calls {
		if c.Collection == "manuals_engine" && c.Path != filepath.Join(dir, "manuals", "engine.pdf") {
			t.Fatalf("path = %s", c.Path)
		}
	}

	if done, _, _ := s.scan(context.Background()); done != 0 || len(rec.calls) != 2 {
		t.Fatalf("unchanged files re-ingested: done=%d calls=%d", done, len(rec.calls))
	}
	if v := reg.Counter("docrag_ingest_files_total", "", "outcome", "ok").Value(); v != 2 {
		t.Fatalf("ok counter = %d", v)
	}
}

func TestScan_ChangedFileIsReingested(t *testing.T) {
	dir := t.TempDir()
	put(t, dir, "a.txt", "alpha")
	rec := &recorder{}
	s := newTestScanner(t, dir, rec, metrics.New())
	s.scan(context.Background())

	put(t, dir, "a.txt", "alpha beta")
	later := time.Now().Add(time.Minute)
	if err := os.Chtimes(filepath.Join(dir, "a.txt"), later, later); err != nil {
		t.Fatal(err)
	}
	if done, _, _ := s.scan(context.Background()); done != 1 || len(rec.calls) != 2 {
		t.Fatalf("changed file not re-ingested: done=%d calls=%d", done, len(rec.calls))
	}
}

func TestScan_TransientFailureRetriesPermanentDoesNot(t *testing.T) {
	dir := t.TempDir()
	put(t, dir, "down.txt", "x")
	put(t, dir, "empty.txt", "")
	rec := &recorder{errs: map[string]error{
		"down":  fmt.Errorf("store: %w", domain.ErrStoreUnavailable),
		"empty": fmt.Errorf("load: %w", domain.ErrRead),
	}}
	s := newTestScanner(t, dir, rec, metrics.New())

	if _, failed, _ := s.scan(context.Background()); failed != 2 {
		t.Fatalf("failed = %d", failed)
	}
	if _, failed, _ := s.scan(context.Background()); failed != 1 {
		t.Fatalf("second scan failed = %d, want only the transient one", failed)
	}
	if got := fmt.Sprint(rec.collections()); got != "[down down empty]" {
		t.Fatalf("calls = %s", got)
	}
	if st := s.state["empty.txt"]; st.Error == "" {
		t.Fatalf("permanent failure not recorded: %+v", st)
	}
	if _, ok := s.state["down.txt"]; ok {
		t.Fatal("transient failure recorded")
	}
}

func TestScan_StatePersists(t *testing.T) {
	dir := t.TempDir()
	put(t, dir, "a.txt", "alpha")
	rec := &recorder{}
	newTestScanner(t, dir, rec, metrics.New()).scan(context.Background())

	s := newTestScanner(t, dir, rec, metrics.New())
	if st := s.state["a.txt"]; st.Collection != "a" || st.Chunks != 3 {
		t.Fatalf("state = %+v", st)
	}
	if done, _, _ := s.scan(context.Background()); done != 0 {
		t.Fatalf("restarted scanner re-ingested %d files", done)
	}
}

func TestLoadState_Corrupt(t *testing.T) {
	p := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(p, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	m := loadState(p, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if m == nil || len(m) != 0 {
		t.Fatalf("state = %v", m)
	}
}

func TestCollectionFor(t *testing.T) {
	cases := map[string]string{
		"a.txt":               "a",
		"manuals/engine.pdf":  "manuals_engine",
		"x/y/Report 2024.PDF": "x_y_Report 2024",
	}
	for in, want := range cases {
		if got := collectionFor(in); got != want {
			t.Errorf("collectionFor(%q) = %q, want %q", in, got, want)
		}
	}
}
