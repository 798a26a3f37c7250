// Package workerpool is the bounded fan-out used by every scan mode.
package workerpool

import (
	"context"
	"sync"
)

// Pool runs jobs on at most size goroutines
type Pool struct {
	size int
}

// New creates a pool. Sizes below 1 become 1.
func New(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{size: size}
}

// Size returns the worker count
func (p *Pool) Size() int { return p.size }

// Run calls fn for every index in [0, n) and waits for all calls to return.
// Jobs not yet started when ctx is done are skipped and ctx.Err() is
// returned.
func (p *Pool) Run(ctx context.Context, n int, fn func(ctx context.Context, i int)) error {
	if n <= 0 {
		return ctx.Err()
	}

	workers := p.size
	if workers > n {
		workers = n
	}

	jobs := make(chan int, n)
	for i := 0; i < n; i++ {
		jobs <- i
	}
	close(jobs)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				select {
				case <-ctx.Done():
					return
				default:
					fn(ctx, i)
				}
			}
		}()
	}
	wg.Wait()

	return ctx.Err()
}

// Map runs fn over [0, n) and returns the kept results in index order
func Map[T any](ctx context.Context, p *Pool, n int, fn func(ctx context.Context, i int) (T, bool)) ([]T, error) {
	slots := make([]T, n)
	kept := make([]bool, n)

	err := p.Run(ctx, n, func(ctx context.Context, i int) {
		slots[i], kept[i] = fn(ctx, i)
	})

	out := make([]T, 0, n)
	for i := range slots {
		if kept[i] {
			out = append(out, slots[i])
		}
	}
	return out, err
}
