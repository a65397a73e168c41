// Package pool runs independent tasks concurrently with bounded
// parallelism, returning results in input order.
package pool

import (
	"context"
	"sync"
)

// Run calls fn for every index in [0, n) with at most limit calls in
// flight. After the first failure no new calls are started and the context
// passed to running calls is cancelled. The error with the lowest index is
// returned. A limit below 1 runs the tasks sequentially.
func Run(ctx context.Context, limit, n int, fn func(ctx context.Context, i int) error) error {
	_, err := Map(ctx, limit, n, func(ctx context.Context, i int) (struct{}, error) {
		return struct{}{}, fn(ctx, i)
	})
	return err
}

// Map is Run for tasks producing a value. Results are returned in index
// order; on failure the slice holds whatever completed before cancellation.
func Map[T any](ctx context.Context, limit, n int, fn func(ctx context.Context, i int) (T, error)) ([]T, error) {
	results := make([]T, n)
	if n == 0 {
		return results, nil
	}

	// Bounded concurrency: min(n, limit).
	if limit < 1 {
		limit = 1
	}
	if n < limit {
		limit = n
	}

	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu   sync.Mutex
		errs = make([]error, n)
		wg   sync.WaitGroup
	)
	sem := make(chan struct{}, limit)

	for i := 0; i < n; i++ {
		select {
		case sem <- struct{}{}: // acquire
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }() // release

			v, err := fn(ctx, idx)
			if err != nil {
				mu.Lock()
				errs[idx] = err
				mu.Unlock()
				cancel()
				return
			}
			results[idx] = v
		}(i)
	}

	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return results, err
		}
	}
	if err := parent.Err(); err != nil {
		return results, err
	}
	return results, nil
}
