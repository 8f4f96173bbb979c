// Package workpool bounds concurrent proving work.
//
// A caller that stops waiting (its context is cancelled) gets ctx.Err()
// immediately. Work that already started keeps its slot until it returns;
// its result is discarded.
package workpool

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Pool limits the number of tasks running at once.
type Pool struct {
	sem      *semaphore.Weighted
	size     int
	inFlight atomic.Int64
	dropped  atomic.Int64
}

// New returns a pool running at most size tasks at once.
func New(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), size: size}
}

// Size returns the pool's concurrency limit.
func (p *Pool) Size() int { return p.size }

// InFlight returns the number of tasks currently holding a slot.
func (p *Pool) InFlight() int64 { return p.inFlight.Load() }

// Dropped returns how many finished tasks had no caller left to receive
// their result.
func (p *Pool) Dropped() int64 { return p.dropped.Load() }

type result[T any] struct {
	val T
	err error
}

// Do runs fn on p once a slot is free and waits for its result or for ctx
// to be done, whichever comes first. fn receives ctx and should check it
// before expensive work.
func Do[T any](ctx context.Context, p *Pool, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return zero, err
	}
	p.inFlight.Add(1)

	done := make(chan result[T], 1)
	go func() {
		defer func() {
			p.inFlight.Add(-1)
			p.sem.Release(1)
		}()
		v, err := fn(ctx)
		done <- result[T]{val: v, err: err}
	}()

	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		go func() {
			<-done
			p.dropped.Add(1)
		}()
		return zero, ctx.Err()
	}
}
