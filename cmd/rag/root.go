package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/WessleyAI/docrag/engine/app"
	"github.com/WessleyAI/docrag/engine/ingest"
	"github.com/WessleyAI/docrag/engine/rag"
	"github.com/WessleyAI/docrag/pkg/config"
	"github.com/WessleyAI/docrag/pkg/logging"
)

// service is the part of *app.App the commands use.
type service interface {
	Ingest(ctx context.Context, req ingest.Request, progress func(done, total int)) (ingest.Report, error)
	Query(ctx context.Context, req rag.Request) (*rag.Answer, error)
	Collections(ctx context.Context) ([]app.CollectionInfo, error)
	Delete(ctx context.Context, name string) error
	Reset(ctx context.Context) (int, error)
	Close(ctx context.Context) error
}

type opener func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (service, error)

func openApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (service, error) {
	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// cli is the state shared by every command.
type cli struct {
	open    opener
	cfgFile string
	envFile string
	verbose bool

	cfg    *config.Config
	logger *slog.Logger
	closer io.Closer
}

func newRootCmd(open opener) *cobra.Command {
	c := &cli{open: open}
	root := &cobra.Command{
		Use:   "rag",
		Short: "Ingest documents into vector collections and query them",
		Long: `rag splits .txt and .pdf files into overlapping chunks, embeds them into a
Qdrant collection (replacing any collection of the same name), and answers
questions by returning the nearest chunks.

Example usage:
  rag ingest manual.pdf -c manual         # Replace collection "manual"
  rag ingest 'docs/**/*.txt'              # One collection per file
  rag query manual "how to reset the ecu" # Ask a question
  rag collections list`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(c.cfgFile, c.envFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			console := io.Discard
			if c.verbose {
				console = os.Stderr
			}
			logger, closer, err := logging.NewTo(cfg.Log, console)
			if err != nil {
				return err
			}
			c.cfg, c.logger, c.closer = cfg, logger, closer
			return nil
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if c.closer != nil {
				return c.closer.Close()
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&c.cfgFile, "config", "config.yaml", "config file")
	root.PersistentFlags().StringVar(&c.envFile, "env-file", ".env", "dotenv file loaded before the environment")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "log to stderr as well as the log file")

	root.AddCommand(
		newIngestCmd(c),
		newQueryCmd(c),
		newCollectionsCmd(c),
		newResetCmd(c),
	)
	return root
}

// withService opens the service for one command and closes it afterwards.
func (c *cli) withService(ctx context.Context, f func(service) error) error {
	svc, err := c.open(ctx, c.cfg, c.logger)
	if err != nil {
		return err
	}
	defer svc.Close(context.Background())
	return f(svc)
}
