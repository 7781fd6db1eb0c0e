// Package embedding holds the single embedding provider shared by ingestion
// and querying. Sharing one instance is what keeps stored vectors and query
// vectors in the same space.
package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"golang.org/x/time/rate"

	"github.com/WessleyAI/docrag/engine/domain"
	"github.com/WessleyAI/docrag/pkg/resilience"
)

// Provider turns text into a fixed-length vector.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
	Dimensions() int
}

// Options tunes the guard around a Provider.
type Options struct {
	// Timeout bounds a single Embed call. Zero means 30s.
	Timeout time.Duration
	// Rate caps provider calls per second. Zero disables the limit.
	Rate  float64
	Burst int
	// Breaker configures the circuit breaker around the provider.
	Breaker resilience.BreakerOpts
	Logger  *slog.Logger
}

// Shared wraps a Provider with a timeout, a rate limit and a circuit breaker,
// and validates every vector it returns. Safe for concurrent use.
type Shared struct {
	p       Provider
	timeout time.Duration
	limiter *rate.Limiter
	breaker *resilience.Breaker
}

// Guard wraps p.
func Guard(p Provider, opts Options) *Shared {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	bo := opts.Breaker
	if bo.OnStateChange == nil {
		model := p.Model()
		bo.OnStateChange = func(from, to resilience.State) {
			logger.Warn("embedding breaker", "model", model, "from", from.String(), "to", to.String())
		}
	}
	s := &Shared{
		p:       p,
		timeout: opts.Timeout,
		breaker: resilience.NewBreaker(bo),
	}
	if opts.Rate > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.Rate), burst)
	}
	return s
}

// Model returns the provider's model identifier.
func (s *Shared) Model() string { return s.p.Model() }

// Dimensions returns the provider's vector length.
func (s *Shared) Dimensions() int { return s.p.Dimensions() }

// Embed embeds text. Provider failures wrap domain.ErrEmbeddingFailure; a
// caller that cancels or runs out of time gets its context error instead.
func (s *Shared) Embed(ctx context.Context, text string) ([]float32, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, s.done(ctx)
			}
			// rate.Limiter gives up early when the wait would outlast the deadline.
			if _, ok := ctx.Deadline(); ok {
				return nil, fmt.Errorf("embedding: %s: %w: %w", s.p.Model(), context.DeadlineExceeded, err)
			}
			return nil, s.fail(err)
		}
	}

	var vec []float32
	err := s.breaker.Call(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		v, err := s.p.Embed(ctx, text)
		if err != nil {
			return err
		}
		if err := s.check(v); err != nil {
			return err
		}
		vec = v
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, s.done(ctx)
		}
		return nil, s.fail(err)
	}
	return vec, nil
}

func (s *Shared) check(v []float32) error {
	if want := s.p.Dimensions(); len(v) != want {
		return fmt.Errorf("got %d dimensions, want %d", len(v), want)
	}
	for i, x := range v {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return fmt.Errorf("non-finite value at index %d", i)
		}
	}
	return nil
}

func (s *Shared) done(ctx context.Context) error {
	return fmt.Errorf("embedding: %s: %w", s.p.Model(), ctx.Err())
}

func (s *Shared) fail(err error) error {
	return fmt.Errorf("embedding: %s: %w: %w", s.p.Model(), domain.ErrEmbeddingFailure, err)
}
