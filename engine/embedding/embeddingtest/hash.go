// Package embeddingtest provides a deterministic embedding provider for tests.
package embeddingtest

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync/atomic"
)

// Hash embeds text as a normalized bag of character trigrams hashed into
// Dims buckets. Equal texts get equal vectors and overlapping texts score
// higher than unrelated ones.
type Hash struct {
	Dims      int
	ModelName string
	// Err, when set, is returned by every call after the first FailAfter.
	Err       error
	FailAfter int64
	calls     atomic.Int64
}

// New returns a Hash provider with the given size and model name.
func New(dims int, model string) *Hash {
	return &Hash{Dims: dims, ModelName: model}
}

func (h *Hash) Model() string   { return h.ModelName }
func (h *Hash) Dimensions() int { return h.Dims }

// Calls reports how many times Embed has been invoked.
func (h *Hash) Calls() int64 { return h.calls.Load() }

func (h *Hash) Embed(ctx context.Context, text string) ([]float32, error) {
	n := h.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if h.Err != nil && n > h.FailAfter {
		return nil, h.Err
	}
	vec := make([]float32, h.Dims)
	runes := []rune(strings.ToLower(text))
	if len(runes) < 3 {
		runes = append(runes, []rune("   ")[:3-len(runes)]...)
	}
	for i := 0; i+3 <= len(runes); i++ {
		f := fnv.New32a()
		f.Write([]byte(string(runes[i : i+3])))
		vec[f.Sum32()%uint32(h.Dims)]++
	}
	var norm float64
	for _, x := range vec {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, nil
}
