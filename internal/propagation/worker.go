package propagation

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// sampleJob is a unit of work for the worker pool.
type sampleJob struct {
	index int
	t     time.Time
}

// sampleResult is the output of a single sub-point computation.
type sampleResult struct {
	index int
	point SubPoint
	err   error
}

// WorkerPool manages a fixed number of goroutines for parallel SGP4 sampling.
type WorkerPool struct {
	workers int
	logger  *slog.Logger
}

// NewWorkerPool creates a worker pool with the given number of workers.
func NewWorkerPool(workers int, logger *slog.Logger) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	return &WorkerPool{
		workers: workers,
		logger:  logger,
	}
}

// SubPoints computes the sub-satellite point at each instant in times.
// Results keep the order of times; instants the model cannot resolve are
// logged at debug level and left out. Returns the points and the failure count.
func (wp *WorkerPool) SubPoints(ctx context.Context, prop *SGP4Propagator, times []time.Time) ([]SubPoint, int, error) {
	if len(times) == 0 {
		return nil, 0, nil
	}

	jobs := make(chan sampleJob, wp.workers*2)
	results := make(chan sampleResult, wp.workers*2)

	// Start workers.
	var wg sync.WaitGroup
	for i := 0; i < wp.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				pt, err := prop.SubPoint(job.t)
				select {
				case results <- sampleResult{index: job.index, point: pt, err: err}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	// Feed jobs in a goroutine.
	go func() {
		defer close(jobs)
		for i, t := range times {
			select {
			case jobs <- sampleJob{index: i, t: t}:
			case <-ctx.Done():
				return
			}
		}
	}()

	// Close results when all workers are done.
	go func() {
		wg.Wait()
		close(results)
	}()

	// Collect results into their slots.
	slots := make([]sampleResult, len(times))
	filled := make([]bool, len(times))
	for r := range results {
		slots[r.index] = r
		filled[r.index] = true
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	points := make([]SubPoint, 0, len(times))
	var errorCount int
	for i, r := range slots {
		if !filled[i] {
			continue
		}
		if r.err != nil {
			errorCount++
			wp.logger.Debug("sub-point unresolved",
				"norad_id", prop.NORADID(),
				"time", times[i].UTC().Format(time.RFC3339),
				"error", r.err,
			)
			continue
		}
		points = append(points, r.point)
	}

	return points, errorCount, nil
}
