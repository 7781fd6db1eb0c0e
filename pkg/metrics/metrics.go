// Package metrics is a small Prometheus-compatible registry: counters, gauges
// and histograms keyed by name plus labels, rendered in the text exposition
// format on /metrics.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBuckets are latency buckets in seconds, sized for embedding calls
// and whole-file ingestions.
var DefaultBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300}

// Counter only goes up.
type Counter struct{ val atomic.Int64 }

func (c *Counter) Inc()         { c.val.Add(1) }
func (c *Counter) Add(n int64)  { c.val.Add(n) }
func (c *Counter) Value() int64 { return c.val.Load() }

// Gauge holds a float64 that can go up and down.
type Gauge struct{ bits atomic.Uint64 }

func (g *Gauge) Set(v float64) { g.bits.Store(math.Float64bits(v)) }
func (g *Gauge) Add(d float64) {
	for {
		old := g.bits.Load()
		if g.bits.CompareAndSwap(old, math.Float64bits(math.Float64frombits(old)+d)) {
			return
		}
	}
}
func (g *Gauge) Inc()           { g.Add(1) }
func (g *Gauge) Dec()           { g.Add(-1) }
func (g *Gauge) Value() float64 { return math.Float64frombits(g.bits.Load()) }

// Histogram counts observations into fixed upper bounds.
type Histogram struct {
	mu     sync.Mutex
	bounds []float64
	counts []uint64 // non-cumulative, one per bound
	sum    float64
	count  uint64
}

func newHistogram(bounds []float64) *Histogram {
	b := append([]float64(nil), bounds...)
	sort.Float64s(b)
	return &Histogram{bounds: b, counts: make([]uint64, len(b))}
}

// Observe records v.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sum += v
	h.count++
	if i := sort.SearchFloat64s(h.bounds, v); i < len(h.bounds) {
		h.counts[i]++
	}
}

// Since observes the seconds elapsed since t.
func (h *Histogram) Since(t time.Time) { h.Observe(time.Since(t).Seconds()) }

func (h *Histogram) snapshot() (counts []uint64, sum float64, count uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]uint64(nil), h.counts...), h.sum, h.count
}

type kind string

const (
	kindCounter   kind = "counter"
	kindGauge     kind = "gauge"
	kindHistogram kind = "histogram"
)

// family is every series sharing one metric name.
type family struct {
	kind   kind
	help   string
	series map[string]any // label string -> *Counter, *Gauge or *Histogram
}

// Registry holds metric families in registration order.
type Registry struct {
	mu       sync.RWMutex
	families map[string]*family
	order    []string
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{families: make(map[string]*family)}
}

// lookup returns the series for name and labels, creating it with mk. A name
// registered with a different kind panics; that is a programming error.
func (r *Registry) lookup(name, help string, k kind, labels []string, mk func() any) any {
	key := labelString(labels)
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.families[name]
	if !ok {
		f = &family{kind: k, help: help, series: make(map[string]any)}
		r.families[name] = f
		r.order = append(r.order, name)
	}
	if f.kind != k {
		panic(fmt.Sprintf("metrics: %s registered as %s, requested as %s", name, f.kind, k))
	}
	if s, ok := f.series[key]; ok {
		return s
	}
	s := mk()
	f.series[key] = s
	return s
}

// Counter returns the counter for name and label pairs, creating it.
func (r *Registry) Counter(name, help string, labels ...string) *Counter {
	return r.lookup(name, help, kindCounter, labels, func() any { return &Counter{} }).(*Counter)
}

// Gauge returns the gauge for name and label pairs, creating it.
func (r *Registry) Gauge(name, help string, labels ...string) *Gauge {
	return r.lookup(name, help, kindGauge, labels, func() any { return &Gauge{} }).(*Gauge)
}

// Histogram returns the histogram for name and label pairs, creating it with
// bounds (DefaultBuckets when nil). Bounds of an existing series are kept.
func (r *Registry) Histogram(name, help string, bounds []float64, labels ...string) *Histogram {
	if bounds == nil {
		bounds = DefaultBuckets
	}
	return r.lookup(name, help, kindHistogram, labels, func() any { return newHistogram(bounds) }).(*Histogram)
}

// labelString renders k/v pairs as k1="v1",k2="v2". An odd trailing key is ignored.
func labelString(kvs []string) string {
	var b strings.Builder
	for i := 0; i+1 < len(kvs); i += 2 {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s=%q", kvs[i], kvs[i+1])
	}
	return b.String()
}

func braces(labels string) string {
	if labels == "" {
		return ""
	}
	return "{" + labels + "}"
}

// Render returns every family in the text exposition format, series sorted
// by labels.
func (r *Registry) Render() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var b strings.Builder
	for _, name := range r.order {
		f := r.families[name]
		if f.help != "" {
			fmt.Fprintf(&b, "# HELP %s %s\n", name, f.help)
		}
		fmt.Fprintf(&b, "# TYPE %s %s\n", name, f.kind)

		keys := make([]string, 0, len(f.series))
		for k := range f.series {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, labels := range keys {
			switch s := f.series[labels].(type) {
			case *Counter:
				fmt.Fprintf(&b, "%s%s %d\n", name, braces(labels), s.Value())
			case *Gauge:
				fmt.Fprintf(&b, "%s%s %g\n", name, braces(labels), s.Value())
			case *Histogram:
				renderHistogram(&b, name, labels, s)
			}
		}
	}
	return b.String()
}

func renderHistogram(b *strings.Builder, name, labels string, h *Histogram) {
	counts, sum, count := h.snapshot()
	sep := ""
	if labels != "" {
		sep = ","
	}
	var cumulative uint64
	for i, bound := range h.bounds {
		cumulative += counts[i]
		fmt.Fprintf(b, "%s_bucket{%s%sle=\"%g\"} %d\n", name, labels, sep, bound, cumulative)
	}
	fmt.Fprintf(b, "%s_bucket{%s%sle=\"+Inf\"} %d\n", name, labels, sep, count)
	fmt.Fprintf(b, "%s_sum%s %g\n", name, braces(labels), sum)
	fmt.Fprintf(b, "%s_count%s %d\n", name, braces(labels), count)
}

// Handler serves Render.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		w.Write([]byte(r.Render()))
	})
}

// CollectRuntime samples goroutines, heap and GC counts into gauges named
// <prefix>_goroutines, <prefix>_heap_bytes and <prefix>_gc_total every
// interval until ctx is done.
func (r *Registry) CollectRuntime(ctx context.Context, prefix string, interval time.Duration) {
	goroutines := r.Gauge(prefix+"_goroutines", "Live goroutines")
	heap := r.Gauge(prefix+"_heap_bytes", "Bytes of allocated heap objects")
	gc := r.Gauge(prefix+"_gc_total", "Completed GC cycles")
	sample := func() {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		goroutines.Set(float64(runtime.NumGoroutine()))
		heap.Set(float64(ms.HeapAlloc))
		gc.Set(float64(ms.NumGC))
	}
	sample()
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				sample()
			}
		}
	}()
}

// Serve runs a /metrics server on addr until ctx is done.
func (r *Registry) Serve(ctx context.Context, addr string, log *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info("metrics server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics: serve %s: %w", addr, err)
	}
	return nil
}
