// Package async runs storage backend calls off the caller goroutine and
// hands their results back through single-assignment futures and
// completion dispatchers.
package async

import (
	"context"
	"sync"
	"time"

	"github.com/jvs-project/volsnap/pkg/errclass"
)

// Future is a single-assignment result slot. The first Complete wins.
type Future[T any] struct {
	once sync.Once
	done chan struct{}
	val  T
}

// NewFuture returns an incomplete future.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Complete stores v if the future is still incomplete. It reports whether v
// was stored.
func (f *Future[T]) Complete(v T) bool {
	stored := false
	f.once.Do(func() {
		f.val = v
		close(f.done)
		stored = true
	})
	return stored
}

// Get blocks until the future completes or ctx is done. Cancellation is
// reported as errclass.ErrInterrupted.
func (f *Future[T]) Get(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, nil
	case <-ctx.Done():
		var zero T
		return zero, errclass.ErrInterrupted.Wrap(ctx.Err(), "waiting for backend result")
	}
}

// Done is closed once the future completes.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// IsDone reports whether the future has completed.
func (f *Future[T]) IsDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// WithWaitTimeout bounds ctx by d. A zero d leaves ctx unbounded.
func WithWaitTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}
