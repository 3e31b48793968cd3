package session

import (
	"context"
	"sync"
)

// deferred is a one-shot broadcast future: resolved exactly once, read
// by any number of waiters. Waiters that arrive after resolution return
// immediately.
type deferred[T any] struct {
	once sync.Once
	done chan struct{}
	val  T
	err  error
}

func newDeferred[T any]() *deferred[T] {
	return &deferred[T]{done: make(chan struct{})}
}

// resolve settles the future. Later calls are ignored.
func (d *deferred[T]) resolve(v T, err error) {
	d.once.Do(func() {
		d.val = v
		d.err = err
		close(d.done)
	})
}

// wait blocks until the future settles or the context is canceled.
func (d *deferred[T]) wait(ctx context.Context) (T, error) {
	select {
	case <-d.done:
		return d.val, d.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
