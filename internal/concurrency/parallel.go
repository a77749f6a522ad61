// Package concurrency runs independent jobs on a bounded worker pool.
package concurrency

import (
	"context"
	"sync"
)

// ParallelOptions tunes ProcessParallel.
type ParallelOptions struct {
	// MaxWorkers caps the goroutines; <= 0 means DefaultOptions.
	MaxWorkers int
}

// DefaultOptions runs 8 workers.
func DefaultOptions() ParallelOptions {
	return ParallelOptions{
		MaxWorkers: 8,
	}
}

func (o ParallelOptions) workers(n int) int {
	w := o.MaxWorkers
	if w <= 0 {
		w = DefaultOptions().MaxWorkers
	}
	if w > n {
		w = n
	}
	return w
}

// Outcome is the value or error of the item at the same index.
type Outcome[R any] struct {
	Value R
	Err   error
}

// ProcessParallel runs itemFunc for every item on at most MaxWorkers
// goroutines and returns the outcomes in input order. Items not started
// before ctx is done get ctx.Err().
func ProcessParallel[T any, R any](
	ctx context.Context,
	items []T,
	opts ParallelOptions,
	itemFunc func(ctx context.Context, index int, item T) (R, error),
) []Outcome[R] {
	out := make([]Outcome[R], len(items))
	if len(items) == 0 {
		return out
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < opts.workers(len(items)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if err := ctx.Err(); err != nil {
					out[i].Err = err
					continue
				}
				v, err := itemFunc(ctx, i, items[i])
				out[i] = Outcome[R]{Value: v, Err: err}
			}
		}()
	}

	for i := range items {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return out
}

// FirstError returns the first error in input order.
func FirstError[R any](res []Outcome[R]) error {
	for _, r := range res {
		if r.Err != nil {
			return r.Err
		}
	}
	return nil
}
