// Package pool runs indexed work items across a bounded set of goroutines.
// Pipeline stages fan leaves out through it; a panic or error in one item
// never takes down its siblings.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Run executes fn for every index in [0, n) using at most workers goroutines.
// It returns a slice of length n where entry i is the error fn returned for
// index i (nil on success). A panic inside fn is recovered and recorded as
// that index's error.
//
// Run always waits for all items; context cancellation is fn's concern. The
// returned slice is never nil for n > 0.
func Run(ctx context.Context, workers, n int, fn func(ctx context.Context, i int) error) []error {
	if n <= 0 {
		return nil
	}
	if workers < 1 {
		workers = 1
	}
	if workers > n {
		workers = n
	}

	errs := make([]error, n)
	indexes := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexes {
				errs[i] = runOne(ctx, i, fn)
			}
		}()
	}

	for i := 0; i < n; i++ {
		indexes <- i
	}
	close(indexes)
	wg.Wait()

	return errs
}

func runOne(ctx context.Context, i int, fn func(ctx context.Context, i int) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Worker panic recovered", "index", i, "panic", r)
			err = fmt.Errorf("panic processing item %d: %v", i, r)
		}
	}()
	return fn(ctx, i)
}
