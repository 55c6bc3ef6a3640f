// Package parallel provides the chunked parallel-for used by the CPU kernels.
package parallel

import (
	"runtime"
	"sync"
)

// Config controls parallel execution behavior.
type Config struct {
	Enabled      bool // Whether parallel execution is enabled.
	NumWorkers   int  // Number of worker goroutines to use.
	MinChunkSize int  // Minimum items per goroutine to avoid overhead.
}

// DefaultConfig returns sensible defaults based on CPU count.
func DefaultConfig() Config {
	n := runtime.NumCPU()
	return Config{
		Enabled:      n > 1,
		NumWorkers:   n,
		MinChunkSize: 64,
	}
}

// Sequential returns a Config that always runs on the calling goroutine.
func Sequential() Config {
	return Config{Enabled: false, NumWorkers: 1, MinChunkSize: 1}
}

// ForChunks splits [0, n) into contiguous chunks and runs f(start, end) on each,
// in parallel when enabled and n is large enough.
// It returns after every chunk has finished.
//
// A panic in any chunk is re-raised on the calling goroutine once all chunks are done,
// with the value of the first chunk that panicked.
func ForChunks(n int, f func(start, end int), cfg Config) {
	if n <= 0 {
		return
	}
	if !cfg.Enabled || cfg.NumWorkers <= 1 || n < cfg.MinChunkSize {
		f(0, n)
		return
	}

	var (
		wg        sync.WaitGroup
		panicOnce sync.Once
		panicked  bool
		recovered any
	)
	chunkSize := max((n+cfg.NumWorkers-1)/cfg.NumWorkers, cfg.MinChunkSize)

	for start := 0; start < n; start += chunkSize {
		end := min(start+chunkSize, n)
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					panicOnce.Do(func() {
						panicked = true
						recovered = r
					})
				}
			}()
			f(s, e)
		}(start, end)
	}
	wg.Wait()
	if panicked {
		panic(recovered)
	}
}

// For executes f(i) for i in [0, n) with optional parallelism.
// Falls back to sequential execution if parallelism is disabled or n is too small.
func For(n int, f func(i int), cfg Config) {
	ForChunks(n, func(start, end int) {
		for i := start; i < end; i++ {
			f(i)
		}
	}, cfg)
}

// ForBatch iterates over every (sample, table) pair of a [batch, tables, ...] layout.
// Pairs are independent, so the gather kernel runs them in any order.
func ForBatch(batch, tables int, f func(b, t int), cfg Config) {
	n := batch * tables
	For(n, func(k int) {
		f(k/tables, k%tables)
	}, cfg)
}
