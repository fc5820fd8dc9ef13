package propagation

import (
	"context"
	"log/slog"
	"sync"
)

const defaultChunkSize = 1024

// rangeJob is a unit of work for the worker pool: a contiguous body range.
type rangeJob struct {
	lo, hi int
}

// rangeResult is the output of one range.
type rangeResult struct {
	nonFinite int
}

// WorkerPool splits a batch over a fixed number of goroutines. Each job owns a
// disjoint slice of the destination, so no locking is needed on the buffer.
type WorkerPool struct {
	workers   int
	chunkSize int
	logger    *slog.Logger
}

// NewWorkerPool creates a worker pool with the given number of workers.
func NewWorkerPool(workers, chunkSize int, logger *slog.Logger) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	if chunkSize < 1 {
		chunkSize = defaultChunkSize
	}
	return &WorkerPool{
		workers:   workers,
		chunkSize: chunkSize,
		logger:    logger,
	}
}

// ComputeBatch evaluates every body of ea at days and writes scaled positions
// into dst. It returns only after the full pass, or with ctx.Err() if the
// context is cancelled first (dst is then partially written).
func (wp *WorkerPool) ComputeBatch(ctx context.Context, ea *ElementArrays, days, scale float64, dst []float32) (int, error) {
	n := ea.Len()
	if n == 0 {
		return 0, nil
	}

	// Small populations are not worth the goroutine handoff.
	if wp.workers == 1 || n <= wp.chunkSize {
		return computeRange(ea, 0, n, days, scale, dst), ctx.Err()
	}

	jobs := make(chan rangeJob, wp.workers*2)
	results := make(chan rangeResult, wp.workers*2)

	var wg sync.WaitGroup
	for i := 0; i < wp.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				res := rangeResult{nonFinite: computeRange(ea, job.lo, job.hi, days, scale, dst)}
				select {
				case results <- res:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for lo := 0; lo < n; lo += wp.chunkSize {
			hi := min(lo+wp.chunkSize, n)
			select {
			case jobs <- rangeJob{lo: lo, hi: hi}:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	var nonFinite int
	for res := range results {
		nonFinite += res.nonFinite
	}

	if err := ctx.Err(); err != nil {
		wp.logger.Warn("batch cancelled", "bodies", n, "error", err)
		return nonFinite, err
	}
	return nonFinite, nil
}
