package pgpc

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Pool bounds how many queries a process keeps in flight. It is sized to
// the database connection pool so fan-out waits for a free slot instead of
// failing.
type Pool struct {
	sem  *semaphore.Weighted
	size int
}

func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), size: size}
}

func (p *Pool) Size() int { return p.size }

// Go runs fns concurrently, each holding one slot while it runs, and waits
// for all of them. The first error is returned; the others still run to
// completion.
func (p *Pool) Go(ctx context.Context, fns ...func(context.Context) error) error {
	var g errgroup.Group
	for _, fn := range fns {
		g.Go(func() error {
			if err := p.sem.Acquire(ctx, 1); err != nil {
				return fmt.Errorf("pool acquire: %w", err)
			}
			defer p.sem.Release(1)
			return fn(ctx)
		})
	}
	return g.Wait()
}
