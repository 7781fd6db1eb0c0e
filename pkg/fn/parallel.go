package fn

import "sync"

// ParMapResult applies f with at most workers goroutines, returning results
// in input order. workers <= 0 means one goroutine per item.
func ParMapResult[T, U any](items []T, workers int, f func(T) Result[U]) []Result[U] {
	out := make([]Result[U], len(items))
	if len(items) == 0 {
		return out
	}
	if workers <= 0 || workers > len(items) {
		workers = len(items)
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, workers)
	for i, v := range items {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, v T) {
			defer func() { <-sem; wg.Done() }()
			out[i] = f(v)
		}(i, v)
	}
	wg.Wait()
	return out
}

// Chunk splits items into consecutive slices of at most n elements.
func Chunk[T any](items []T, n int) [][]T {
	if n <= 0 {
		n = len(items)
	}
	var out [][]T
	for len(items) > 0 {
		end := n
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[:end])
		items = items[end:]
	}
	return out
}
