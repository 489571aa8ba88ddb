package ocr

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// slots bounds in-flight OCR calls across every Client in the process.
// A nil semaphore means unlimited.
var slots atomic.Pointer[semaphore.Weighted]

// SetConcurrencyLimit replaces the process-wide OCR slot count. n <= 0
// removes the bound. Calls already holding a slot keep it.
func SetConcurrencyLimit(n int64) {
	if n <= 0 {
		slots.Store(nil)
		return
	}
	slots.Store(semaphore.NewWeighted(n))
}

// limited runs fn once a slot is free or returns ctx's error.
func limited[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	sem := slots.Load()
	if sem == nil {
		return fn()
	}
	if err := sem.Acquire(ctx, 1); err != nil {
		var zero T
		return zero, err
	}
	defer sem.Release(1)
	return fn()
}
