// Command ingest is the background ingestion worker. It serves ingest jobs
// published on NATS and, with -dir, ingests files dropped into a directory.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/WessleyAI/docrag/engine/app"
	"github.com/WessleyAI/docrag/engine/ingest"
	"github.com/WessleyAI/docrag/pkg/config"
	"github.com/WessleyAI/docrag/pkg/fn"
	"github.com/WessleyAI/docrag/pkg/logging"
)

type options struct {
	dir       string
	interval  time.Duration
	stateFile string
	consume   bool
}

func main() {
	var (
		cfgFile = flag.String("config", "config.yaml", "config file")
		envFile = flag.String("env-file", ".env", "dotenv file loaded before the environment")
		opts    options
	)
	flag.StringVar(&opts.dir, "dir", "", "directory to watch for .txt and .pdf files (empty disables)")
	flag.DurationVar(&opts.interval, "interval", 30*time.Second, "directory scan interval")
	flag.StringVar(&opts.stateFile, "state", "", "processed files state (default <dir>/.ingest-state.json)")
	flag.BoolVar(&opts.consume, "nats", true, "serve ingest jobs from NATS")
	flag.Parse()

	cfg, err := config.Load(*cfgFile, *envFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log, closer, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logging:", err)
		os.Exit(1)
	}
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(ctx, cfg, opts, log)
	stop()
	if err != nil {
		log.Error("ingest worker exited with error", "error", err)
		closer.Close()
		os.Exit(1)
	}
	closer.Close()
}

func run(ctx context.Context, cfg *config.Config, opts options, log *slog.Logger) error {
	if !opts.consume && opts.dir == "" {
		return fmt.Errorf("nothing to do: -nats=false and no -dir")
	}

	a, err := app.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	reg := a.Metrics()
	reg.CollectRuntime(ctx, "docrag_ingest", 15*time.Second)
	go func() {
		if err := reg.Serve(ctx, ":"+strconv.Itoa(cfg.Metrics.Port), log); err != nil {
			log.Error("metrics server failed", "error", err)
		}
	}()

	if opts.consume {
		nc, err := nats.Connect(cfg.NATS.URL,
			nats.Name("docrag-ingest"),
			nats.MaxReconnects(-1),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				if err != nil {
					log.Warn("nats disconnected", "error", err)
				}
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				log.Info("nats reconnected", "url", nc.ConnectedUrl())
			}),
		)
		if err != nil {
			return fmt.Errorf("connect nats %s: %w", cfg.NATS.URL, err)
		}
		defer nc.Drain()

		sub, err := ingest.StartConsumer(ctx, nc, jobStage(a), ingest.ConsumerOpts{
			Subject: cfg.NATS.Subject,
			Logger:  log,
		})
		if err != nil {
			return err
		}
		defer sub.Unsubscribe()
		log.Info("serving ingest jobs", "subject", cfg.NATS.Subject, "queue", ingest.QueueGroup)
	}

	if opts.dir != "" {
		if err := os.MkdirAll(opts.dir, 0o755); err != nil {
			return err
		}
		state := opts.stateFile
		if state == "" {
			state = filepath.Join(opts.dir, ".ingest-state.json")
		}
		s := newScanner(opts.dir, state, func(ctx context.Context, req ingest.Request) (ingest.Report, error) {
			return a.Ingest(ctx, req, nil)
		}, reg, log)
		done := make(chan struct{})
		go func() {
			defer close(done)
			s.run(ctx, opts.interval)
		}()
		defer func() { <-done }()
	}

	<-ctx.Done()
	log.Info("shutting down")
	return nil
}

// jobStage runs a NATS job through App.Ingest so jobs get the configured
// chunking and the shared metrics.
func jobStage(a *app.App) fn.Stage[ingest.Request, ingest.Report] {
	return func(ctx context.Context, req ingest.Request) fn.Result[ingest.Report] {
		rep, err := a.Ingest(ctx, req, nil)
		return fn.FromPair(rep, err)
	}
}
