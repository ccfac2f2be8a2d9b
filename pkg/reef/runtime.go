package reef

import (
	"context"
	"errors"
	"runtime"
	"sync"
)

// The blocking pool: a small, process-wide set of workers for callbacks
// that cannot suspend (CPU-bound serialization, synchronous host
// callbacks). Builders and sinks run on ordinary goroutines; the pool
// exists to bound the damage a flood of truly blocking calls can do.
//
// The pool is lazily initialized and lives for the rest of the process.
// Tests that embed the engine share it; there is no teardown.

// ErrAborted is returned when a blocking handle is aborted before its
// result is consumed.
var ErrAborted = errors.New("blocking task aborted")

var blockingPool = struct {
	once  sync.Once
	tasks chan func()
}{}

func blockingTasks() chan<- func() {
	blockingPool.once.Do(func() {
		blockingPool.tasks = make(chan func())
		for i := 0; i < runtime.NumCPU(); i++ {
			go func() {
				for task := range blockingPool.tasks {
					task()
				}
			}()
		}
	})
	return blockingPool.tasks
}

type blockingResult[T any] struct {
	val T
	err error
}

// Handle is an abortable reference to an offloaded blocking task.
// Aborting does not interrupt the running function; it abandons the
// result, and Await returns ErrAborted.
type Handle[T any] struct {
	done    chan blockingResult[T]
	abort   chan struct{}
	abortMu sync.Once
}

// SpawnBlocking hands fn to the blocking pool and returns once a worker has
// taken it; while every worker is busy, it waits for one to free up.
func SpawnBlocking[T any](fn func() (T, error)) *Handle[T] {
	h := &Handle[T]{
		done:  make(chan blockingResult[T], 1),
		abort: make(chan struct{}),
	}
	blockingTasks() <- func() {
		v, err := fn()
		h.done <- blockingResult[T]{val: v, err: err}
	}
	return h
}

// Await waits for the result, the context, or an abort — whichever comes
// first.
func (h *Handle[T]) Await(ctx context.Context) (T, error) {
	var zero T
	select {
	case r := <-h.done:
		return r.val, r.err
	case <-h.abort:
		return zero, ErrAborted
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Abort abandons the task's result. Safe to call more than once and
// concurrently with Await.
func (h *Handle[T]) Abort() {
	h.abortMu.Do(func() { close(h.abort) })
}

// OffloadBlocking runs fn on the blocking pool and waits for it, honoring
// context cancellation while waiting. The function itself always runs to
// completion; only the wait is cancellable.
//
// Example:
//
//	digest, err := reef.OffloadBlocking(ctx, func() ([]byte, error) {
//	    return expensiveHash(payload)
//	})
func OffloadBlocking[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	return SpawnBlocking(fn).Await(ctx)
}
