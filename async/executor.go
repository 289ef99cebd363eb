// Package async runs repository operations on a bounded worker pool and
// exposes their results as futures.
package async

import (
	"context"
	"errors"
	"sync"
)

// ErrExecutorClosed is returned by futures submitted after Close.
var ErrExecutorClosed = errors.New("executor closed")

// Future holds the result of an operation that completes in the
// background.
type Future[T any] struct {
	doneCh chan struct{}
	val    T
	err    error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{doneCh: make(chan struct{})}
}

// Completed returns a future that has already completed with the provided
// result.
func Completed[T any](val T, err error) *Future[T] {
	f := newFuture[T]()
	f.complete(val, err)
	return f
}

func (f *Future[T]) complete(val T, err error) {
	f.val, f.err = val, err
	close(f.doneCh)
}

// Done returns a channel that is closed once the operation completes.
func (f *Future[T]) Done() <-chan struct{} { return f.doneCh }

// Wait blocks until the operation completes or ctx expires. An expired ctx
// only stops the wait: the operation keeps running and whatever it already
// wrote is not rolled back.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.doneCh:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Result blocks until the operation completes.
func (f *Future[T]) Result() (T, error) {
	<-f.doneCh
	return f.val, f.err
}

// Executor runs submitted operations on a pool that scales up to a fixed
// number of concurrent workers.
type Executor struct {
	tokenPool chan struct{}

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewExecutor returns an executor that runs at most maxWorkers operations
// at a time.
func NewExecutor(maxWorkers int) *Executor {
	if maxWorkers <= 0 {
		panic("NewExecutor: maxWorkers must be > 0")
	}

	tokenPool := make(chan struct{}, maxWorkers)
	for i := 0; i < maxWorkers; i++ {
		tokenPool <- struct{}{}
	}

	return &Executor{tokenPool: tokenPool}
}

// Close stops accepting new operations and waits for the pending ones to
// complete.
func (e *Executor) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	e.wg.Wait()
	return nil
}

// Submit schedules fn on e and returns immediately. The returned future
// completes with the result of fn.
func Submit[T any](e *Executor, fn func() (T, error)) *Future[T] {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		var zero T
		return Completed(zero, ErrExecutorClosed)
	}
	e.wg.Add(1)
	e.mu.RUnlock()

	f := newFuture[T]()
	go func() {
		defer e.wg.Done()

		// Wait for a token to become available before running.
		token := <-e.tokenPool
		defer func() { e.tokenPool <- token }()

		f.complete(fn())
	}()
	return f
}
