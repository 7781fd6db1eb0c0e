package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/WessleyAI/docrag/engine/domain"
	"github.com/WessleyAI/docrag/pkg/fn"
	"github.com/WessleyAI/docrag/pkg/natsutil"
)

const (
	// Subject is the NATS subject ingestion jobs arrive on.
	Subject = "docrag.ingest"
	// DLQSubject receives jobs that failed permanently or MaxRetries times.
	DLQSubject = "docrag.ingest.dlq"
	// MaxRetries before a job goes to the DLQ.
	MaxRetries = 3
	// QueueGroup load-balances jobs across workers.
	QueueGroup = "docrag-ingest"
	// JobTimeout bounds one pipeline run.
	JobTimeout = 10 * time.Minute
)

// JobResult is the reply sent to requesters.
type JobResult struct {
	Report *Report `json:"report,omitempty"`
	Error  string  `json:"error,omitempty"`
	// Retrying is set when the job failed but was re-queued.
	Retrying bool `json:"retrying,omitempty"`
}

// DeadLetter is published to DLQSubject.
type DeadLetter struct {
	Job     Request `json:"job"`
	Error   string  `json:"error"`
	Retries int     `json:"retries"`
}

// Retryable reports whether err is transient: the vector store or the
// embedding provider was unavailable. Bad input is never retried.
func Retryable(err error) bool {
	return errors.Is(err, domain.ErrStoreUnavailable) || errors.Is(err, domain.ErrEmbeddingFailure)
}

// ConsumerOpts configures StartConsumer.
type ConsumerOpts struct {
	Subject string
	Queue   string
	Logger  *slog.Logger
	// OnResult, if set, is called after every job with its outcome.
	OnResult func(req Request, rep Report, err error)
}

// StartConsumer runs jobs from NATS through pipeline. Transient failures are
// re-published with an incremented retry count; permanent ones and jobs out
// of retries go to the DLQ. Cancelling ctx cancels in-flight jobs.
func StartConsumer(ctx context.Context, nc *nats.Conn, pipeline fn.Stage[Request, Report], opts ConsumerOpts) (*nats.Subscription, error) {
	subject := opts.Subject
	if subject == "" {
		subject = Subject
	}
	queue := opts.Queue
	if queue == "" {
		queue = QueueGroup
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	return natsutil.Subscribe(ctx, nc, subject, queue, func(ctx context.Context, env natsutil.Envelope[Request]) {
		job := env.Value
		jobCtx, cancel := context.WithTimeout(ctx, JobTimeout)
		defer cancel()

		rep, err := pipeline(jobCtx, job).Unwrap()
		if opts.OnResult != nil {
			opts.OnResult(job, rep, err)
		}
		if err == nil {
			log.Info("ingest: job done", "collection", rep.Collection, "chunks", rep.Chunks)
			env.Respond(JobResult{Report: &rep})
			return
		}

		retries := env.Retries + 1
		log.Error("ingest: job failed", "collection", job.Collection, "path", job.Path, "retry", retries, "error", err)

		if Retryable(err) && retries < MaxRetries {
			if perr := natsutil.Republish(ctx, nc, subject, job, retries); perr != nil {
				log.Error("ingest: retry publish failed", "error", perr)
			}
			env.Respond(JobResult{Error: err.Error(), Retrying: true})
			return
		}

		if perr := natsutil.Publish(ctx, nc, DLQSubject, DeadLetter{Job: job, Error: err.Error(), Retries: retries}); perr != nil {
			log.Error("ingest: DLQ publish failed", "error", perr)
		}
		env.Respond(JobResult{Error: err.Error()})
	})
}
