// Package logging builds the process slog.Logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/WessleyAI/docrag/pkg/config"
)

// New returns a logger writing to stdout and, when cfg.Dir is set, to
// <dir>/YYYY_MM_DD.log. The returned closer releases the file.
func New(cfg config.Log) (*slog.Logger, io.Closer, error) {
	return newAt(cfg, os.Stdout, time.Now())
}

// NewTo is New with console output going to w instead of stdout. The CLI
// passes stderr or io.Discard so its own output stays clean.
func NewTo(cfg config.Log, w io.Writer) (*slog.Logger, io.Closer, error) {
	return newAt(cfg, w, time.Now())
}

func newAt(cfg config.Log, stdout io.Writer, now time.Time) (*slog.Logger, io.Closer, error) {
	var out io.Writer = stdout
	var closer io.Closer = nopCloser{}

	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("logging: %w", err)
		}
		f, err := os.OpenFile(FileName(cfg.Dir, now), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("logging: %w", err)
		}
		out = io.MultiWriter(stdout, f)
		closer = f
	}

	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	var h slog.Handler
	if cfg.Format == "json" {
		h = slog.NewJSONHandler(out, opts)
	} else {
		h = slog.NewTextHandler(out, opts)
	}
	return slog.New(h), closer, nil
}

// FileName returns the daily log file path for t.
func FileName(dir string, t time.Time) string {
	return filepath.Join(dir, t.Format("2006_01_02")+".log")
}

// ParseLevel maps a level name to slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
