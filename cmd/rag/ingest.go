package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/nats-io/nats.go"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/WessleyAI/docrag/engine/domain"
	"github.com/WessleyAI/docrag/engine/ingest"
	"github.com/WessleyAI/docrag/pkg/fn"
	"github.com/WessleyAI/docrag/pkg/natsutil"
)

type ingestOpts struct {
	collection   string
	fileType     string
	chunkSize    int
	chunkOverlap int
	retries      int
	async        bool
	timeout      time.Duration
	quiet        bool
}

func newIngestCmd(c *cli) *cobra.Command {
	var o ingestOpts
	cmd := &cobra.Command{
		Use:   "ingest <file|glob>...",
		Short: "Replace a collection with the chunks of a file",
		Long: `Load each file, split it into chunks, and replace the target collection
with them. Without -c every file goes into a collection named after it.
Patterns support ** (quote them so the shell does not expand them).

Examples:
  rag ingest report.pdf -c reports
  rag ingest 'notes/**/*.txt' --chunk-size 500 --chunk-overlap 50
  rag ingest big.pdf --async          # hand the job to the ingest worker`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := expandPaths(args)
			if err != nil {
				return err
			}
			if o.collection != "" && len(files) > 1 {
				return fmt.Errorf("-c names one collection but %d files matched; each ingestion replaces the collection", len(files))
			}
			if o.async {
				return runIngestAsync(cmd, c, o, files)
			}
			return c.withService(cmd.Context(), func(svc service) error {
				return runIngest(cmd, svc, o, files)
			})
		},
	}
	f := cmd.Flags()
	f.StringVarP(&o.collection, "collection", "c", "", "target collection (default: file name without extension)")
	f.StringVar(&o.fileType, "type", "", "declared file type, txt or pdf (default: from the extension)")
	f.IntVar(&o.chunkSize, "chunk-size", 0, "chunk size in characters (default: chunking.size)")
	f.IntVar(&o.chunkOverlap, "chunk-overlap", 0, "characters shared by neighbouring chunks (default: chunking.overlap)")
	f.IntVar(&o.retries, "retries", 0, "retries after a store or embedding outage")
	f.BoolVar(&o.async, "async", false, "publish the job to the ingest worker over NATS and wait for its reply")
	f.DurationVar(&o.timeout, "timeout", 10*time.Minute, "limit per file")
	f.BoolVarP(&o.quiet, "quiet", "q", false, "no progress bar")
	return cmd
}

// expandPaths resolves each argument as a file or a doublestar pattern.
// Duplicates are dropped; order follows the arguments.
func expandPaths(args []string) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, arg := range args {
		if info, err := os.Stat(arg); err == nil && !info.IsDir() {
			add(arg)
			continue
		}
		matches, err := doublestar.FilepathGlob(arg, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", arg, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("%s: no such file", arg)
		}
		for _, m := range matches {
			add(m)
		}
	}
	return out, nil
}

// collectionName is the file name without its extension.
func collectionName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func (o ingestOpts) request(path string) ingest.Request {
	name := o.collection
	if name == "" {
		name = collectionName(path)
	}
	return ingest.Request{
		Path:         path,
		FileType:     domain.FileType(strings.ToLower(o.fileType)),
		Collection:   name,
		ChunkSize:    o.chunkSize,
		ChunkOverlap: o.chunkOverlap,
	}
}

func runIngest(cmd *cobra.Command, svc service, o ingestOpts, files []string) error {
	out := cmd.OutOrStdout()
	var failed int
	for _, path := range files {
		req := o.request(path)
		ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
		rep, err := fn.Retry(ctx, fn.RetryOpts{
			MaxAttempts: o.retries + 1,
			InitialWait: time.Second,
			MaxWait:     30 * time.Second,
			Jitter:      true,
			Retryable:   ingest.Retryable,
		}, func(ctx context.Context) fn.Result[ingest.Report] {
			bar := newBar(cmd.ErrOrStderr(), path, o.quiet)
			rep, err := svc.Ingest(ctx, req, bar.update)
			bar.finish()
			return fn.FromPair(rep, err)
		}).Unwrap()
		cancel()

		if err != nil {
			failed++
			fmt.Fprintf(out, "FAIL %s -> %s: %v\n", path, req.Collection, err)
			continue
		}
		fmt.Fprintf(out, "ok   %s -> %s: %d chunks from %d documents in %s\n",
			path, rep.Collection, rep.Chunks, rep.Documents, rep.Duration.Round(time.Millisecond))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(files))
	}
	return nil
}

// bar draws upsert progress once the chunk total is known.
type bar struct {
	w     io.Writer
	label string
	off   bool
	pb    *progressbar.ProgressBar
}

func newBar(w io.Writer, label string, off bool) *bar {
	return &bar{w: w, label: label, off: off}
}

func (b *bar) update(done, total int) {
	if b.off {
		return
	}
	if b.pb == nil {
		b.pb = progressbar.NewOptions(total,
			progressbar.OptionSetWriter(b.w),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionSetDescription("[cyan]"+filepath.Base(b.label)+"[reset]"),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "[green]=[reset]",
				SaucerHead:    "[green]>[reset]",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}),
		)
	}
	b.pb.Set(done)
}

func (b *bar) finish() {
	if b.pb != nil {
		b.pb.Finish()
		fmt.Fprintln(b.w)
	}
}

func runIngestAsync(cmd *cobra.Command, c *cli, o ingestOpts, files []string) error {
	nc, err := nats.Connect(c.cfg.NATS.URL, nats.Name("docrag-cli"))
	if err != nil {
		return fmt.Errorf("connect nats %s: %w", c.cfg.NATS.URL, err)
	}
	defer nc.Close()

	out := cmd.OutOrStdout()
	var failed int
	for _, path := range files {
		abs, err := filepath.Abs(path)
		if err != nil {
			return err
		}
		req := o.request(abs)
		ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
		res, err := natsutil.Request[ingest.Request, ingest.JobResult](ctx, nc, c.cfg.NATS.Subject, req)
		cancel()

		switch {
		case errors.Is(err, nats.ErrNoResponders):
			return fmt.Errorf("no ingest worker is listening on %s", c.cfg.NATS.Subject)
		case err != nil:
			failed++
			fmt.Fprintf(out, "FAIL %s -> %s: %v\n", path, req.Collection, err)
		case res.Error != "" && res.Retrying:
			fmt.Fprintf(out, "RETRY %s -> %s: %s (worker re-queued the job)\n", path, req.Collection, res.Error)
		case res.Error != "":
			failed++
			fmt.Fprintf(out, "FAIL %s -> %s: %s\n", path, req.Collection, res.Error)
		default:
			fmt.Fprintf(out, "ok   %s -> %s: %d chunks\n", path, res.Report.Collection, res.Report.Chunks)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(files))
	}
	return nil
}
