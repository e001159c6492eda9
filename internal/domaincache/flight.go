package domaincache

import (
	"context"
	"errors"
	"sync"
)

// ErrPanicked is what callers waiting on a resolution see when the
// function running it panicked.
var ErrPanicked = errors.New("domaincache: resolution panicked")

// flight is one resolution of a key. done is closed when val and err are set.
type flight[T any] struct {
	val  T
	err  error
	done chan struct{}
}

// group coalesces calls per key and keeps successful results.
type group[T any] struct {
	mu      sync.Mutex
	entries map[string]*flight[T]
}

// do returns the kept value for key, waits for an in-flight call, or runs fn.
// Failed calls are removed before their waiters wake up. A waiter whose
// writer failed only because the writer's own context ended takes over the
// resolution while its context is still alive.
func (g *group[T]) do(ctx context.Context, key string, fn func() (T, error)) (T, bool, error) {
	for {
		g.mu.Lock()
		if f, ok := g.entries[key]; ok {
			g.mu.Unlock()
			select {
			case <-f.done:
			case <-ctx.Done():
				var zero T
				return zero, true, ctx.Err()
			}
			if f.err != nil && isContextErr(f.err) && ctx.Err() == nil {
				continue
			}
			return f.val, true, f.err
		}

		f := &flight[T]{done: make(chan struct{})}
		g.entries[key] = f
		g.mu.Unlock()

		g.run(key, f, fn)
		return f.val, false, f.err
	}
}

// run fills f from fn. Waiters are released and a failed entry is dropped
// even when fn panics; the panic then carries on up the caller's stack.
func (g *group[T]) run(key string, f *flight[T], fn func() (T, error)) {
	returned := false
	defer func() {
		if !returned {
			f.err = ErrPanicked
		}
		if f.err != nil {
			g.mu.Lock()
			delete(g.entries, key)
			g.mu.Unlock()
		}
		close(f.done)
	}()
	f.val, f.err = fn()
	returned = true
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
