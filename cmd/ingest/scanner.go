package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/WessleyAI/docrag/engine/ingest"
	"github.com/WessleyAI/docrag/pkg/metrics"
)

const scanPattern = "**/*.{txt,pdf,TXT,PDF}"

// fileState is what the scanner remembers about a file it has handled.
type fileState struct {
	Size       int64     `json:"size"`
	ModTime    time.Time `json:"mod_time"`
	Collection string    `json:"collection"`
	Chunks     int       `json:"chunks,omitempty"`
	Error      string    `json:"error,omitempty"`
}

type ingestFunc func(ctx context.Context, req ingest.Request) (ingest.Report, error)

// scanner ingests new and changed files under dir, one collection per file.
type scanner struct {
	dir       string
	statePath string
	ingest    ingestFunc
	log       *slog.Logger

	state map[string]fileState

	files    func(outcome string) *metrics.Counter
	lastScan *metrics.Gauge
	pending  *metrics.Gauge
}

func newScanner(dir, statePath string, f ingestFunc, reg *metrics.Registry, log *slog.Logger) *scanner {
	s := &scanner{
		dir:       dir,
		statePath: statePath,
		ingest:    f,
		log:       log,
		files: func(outcome string) *metrics.Counter {
			return reg.Counter("docrag_ingest_files_total", "Files handled by the directory scanner", "outcome", outcome)
		},
		lastScan: reg.Gauge("docrag_ingest_last_scan_timestamp", "Unix time of the last directory scan"),
		pending:  reg.Gauge("docrag_ingest_queue_depth", "Files found by the current scan and not yet handled"),
	}
	s.state = loadState(statePath, log)
	return s
}

// collectionFor names a file's collection after its path below the scanned
// directory: "manuals/engine.pdf" becomes "manuals_engine".
func collectionFor(rel string) string {
	rel = strings.TrimSuffix(rel, path.Ext(rel))
	return strings.ReplaceAll(rel, "/", "_")
}

// changed reports whether info differs from what was recorded for rel.
func (s *scanner) changed(rel string, info fs.FileInfo) bool {
	st, ok := s.state[rel]
	return !ok || st.Size != info.Size() || !st.ModTime.Equal(info.ModTime())
}

// scan handles every new or changed file once. Files that failed with a
// transient error are left unrecorded so the next scan retries them; other
// failures are recorded and skipped until the file changes.
func (s *scanner) scan(ctx context.Context) (done, failed int, err error) {
	s.lastScan.Set(float64(time.Now().Unix()))
	fsys := os.DirFS(s.dir)
	matches, err := doublestar.Glob(fsys, scanPattern, doublestar.WithFilesOnly())
	if err != nil {
		return 0, 0, fmt.Errorf("scan %s: %w", s.dir, err)
	}

	type job struct {
		rel  string
		info fs.FileInfo
	}
	var todo []job
	for _, rel := range matches {
		if strings.HasPrefix(path.Base(rel), ".") {
			continue
		}
		info, err := fs.Stat(fsys, rel)
		if err != nil {
			s.log.Warn("stat failed", "file", rel, "error", err)
			continue
		}
		if s.changed(rel, info) {
			todo = append(todo, job{rel, info})
		}
	}
	s.pending.Set(float64(len(todo)))

	for _, j := range todo {
		if ctx.Err() != nil {
			break
		}
		coll := collectionFor(j.rel)
		s.log.Info("ingesting file", "file", j.rel, "collection", coll)
		rep, err := s.ingest(ctx, ingest.Request{
			Path:       filepath.Join(s.dir, filepath.FromSlash(j.rel)),
			Collection: coll,
		})
		s.pending.Dec()

		st := fileState{Size: j.info.Size(), ModTime: j.info.ModTime(), Collection: coll}
		switch {
		case err == nil:
			done++
			st.Chunks = rep.Chunks
			s.files("ok").Inc()
			s.log.Info("file done", "file", j.rel, "collection", coll, "chunks", rep.Chunks)
		case ingest.Retryable(err) || errors.Is(err, context.Canceled):
			failed++
			s.files("retry").Inc()
			s.log.Warn("file failed, will retry on next scan", "file", j.rel, "error", err)
			continue
		default:
			failed++
			st.Error = err.Error()
			s.files("failed").Inc()
			s.log.Error("file failed", "file", j.rel, "error", err)
		}
		s.state[j.rel] = st
		if err := saveState(s.statePath, s.state); err != nil {
			s.log.Error("save state failed", "path", s.statePath, "error", err)
		}
	}
	return done, failed, nil
}

// run scans now and then every interval until ctx is done.
func (s *scanner) run(ctx context.Context, interval time.Duration) {
	s.log.Info("watching directory", "dir", s.dir, "interval", interval)
	scan := func() {
		if _, _, err := s.scan(ctx); err != nil {
			s.files("scan_error").Inc()
			s.log.Error("scan failed", "error", err)
		}
	}
	scan()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			scan()
		}
	}
}

func loadState(path string, log *slog.Logger) map[string]fileState {
	m := make(map[string]fileState)
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn("read state failed, starting fresh", "path", path, "error", err)
		}
		return m
	}
	if err := json.Unmarshal(data, &m); err != nil {
		log.Warn("corrupt state file, starting fresh", "path", path, "error", err)
		return make(map[string]fileState)
	}
	return m
}

// saveState writes through a temp file so a crash never leaves half a file.
func saveState(path string, m map[string]fileState) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
