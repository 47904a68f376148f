package pool

import (
	"context"
	"sync"
)

// WorkerFunc defines the function signature for a worker that processes an item and may return an error.
type WorkerFunc[T any] func(ctx context.Context, item T) error

// MapFunc turns an item into a result.
type MapFunc[T, R any] func(ctx context.Context, item T) (R, error)

// Result pairs the output of a MapFunc with the error it returned.
type Result[R any] struct {
	Value R
	Err   error
}

// Run executes a worker pool. It processes a slice of items concurrently.
// It returns a slice containing any errors that occurred during processing.
func Run[T any](ctx context.Context, items []T, numWorkers int, workerFunc WorkerFunc[T]) []error {
	results := Map(ctx, items, numWorkers, func(ctx context.Context, item T) (struct{}, error) {
		return struct{}{}, workerFunc(ctx, item)
	})

	var allErrors []error
	for _, r := range results {
		if r.Err != nil {
			allErrors = append(allErrors, r.Err)
		}
	}
	return allErrors
}

// Map applies fn to every item using numWorkers goroutines and returns the
// results in the order of items. Items not started before ctx is done carry
// ctx.Err().
func Map[T, R any](ctx context.Context, items []T, numWorkers int, fn MapFunc[T, R]) []Result[R] {
	if numWorkers < 1 {
		numWorkers = 1
	}
	results := make([]Result[R], len(items))
	taskChan := make(chan int, numWorkers)

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range taskChan {
				if err := ctx.Err(); err != nil {
					results[idx].Err = err
					continue
				}
				v, err := fn(ctx, items[idx])
				results[idx] = Result[R]{Value: v, Err: err}
			}
		}()
	}

	next := 0
OUT:
	for ; next < len(items); next++ {
		select {
		case taskChan <- next:
		case <-ctx.Done():
			// Stop feeding tasks if the context is cancelled
			break OUT
		}
	}
	close(taskChan)
	wg.Wait()

	for ; next < len(items); next++ {
		results[next].Err = ctx.Err()
	}
	return results
}
