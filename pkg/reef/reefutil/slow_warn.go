// Package reefutil holds small helpers shared by the engine and by
// connector code: slow-operation warnings and batch splitting.
package reefutil

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// WarnIfSlow runs fn and logs a warning if it takes longer than threshold.
// The operation keeps running and its result is returned normally; the
// message closure is only evaluated when the threshold is exceeded.
//
// Example:
//
//	rows, err := reefutil.WarnIfSlow(ctx, logger, 5*time.Second,
//	    func() string { return "loading source items" },
//	    source.Load)
func WarnIfSlow[T any](
	ctx context.Context,
	logger *zap.Logger,
	threshold time.Duration,
	msgFn func() string,
	fn func(context.Context) (T, error),
) (T, error) {
	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{val: v, err: err}
	}()

	timer := time.NewTimer(threshold)
	defer timer.Stop()

	select {
	case r := <-done:
		return r.val, r.err
	case <-timer.C:
		msg := msgFn()
		logger.Warn("operation taking longer than threshold",
			zap.Duration("threshold", threshold), zap.String("op", msg))
		start := time.Now()
		r := <-done
		logger.Warn("operation finished",
			zap.Duration("took", threshold+time.Since(start)), zap.String("op", msg))
		return r.val, r.err
	}
}
