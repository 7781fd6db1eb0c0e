package fn

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

// Stage transforms In to Out within a context.
type Stage[In, Out any] func(context.Context, In) Result[Out]

// Then composes two stages. second never runs if first fails.
func Then[A, B, C any](first Stage[A, B], second Stage[B, C]) Stage[A, C] {
	return func(ctx context.Context, a A) Result[C] {
		r := first(ctx, a)
		if r.IsErr() {
			return Err[C](r.err)
		}
		return second(ctx, r.val)
	}
}

// Traced runs stage inside an OTel span named name and records its error.
func Traced[In, Out any](name string, stage Stage[In, Out]) Stage[In, Out] {
	return func(ctx context.Context, in In) Result[Out] {
		ctx, span := otel.Tracer("pkg/fn").Start(ctx, name)
		defer span.End()
		r := stage(ctx, in)
		if r.IsErr() {
			span.RecordError(r.err)
			span.SetStatus(codes.Error, r.err.Error())
		}
		return r
	}
}

// Logged wraps stage in a span and logs stage.enter and stage.exit with the
// elapsed time, or stage.failed with the error.
func Logged[In, Out any](name string, log *slog.Logger, stage Stage[In, Out]) Stage[In, Out] {
	return Traced(name, func(ctx context.Context, in In) Result[Out] {
		log.DebugContext(ctx, "stage.enter", "stage", name)
		start := time.Now()
		r := stage(ctx, in)
		if r.IsErr() {
			log.ErrorContext(ctx, "stage.failed", "stage", name, "duration", time.Since(start), "error", r.err)
			return r
		}
		log.InfoContext(ctx, "stage.exit", "stage", name, "duration", time.Since(start))
		return r
	})
}
