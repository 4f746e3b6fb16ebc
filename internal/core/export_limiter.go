package core

// export_limiter.go bounds how many background exports format and upload at
// the same time. Formatting holds a whole export in memory, so the limit
// doubles as a memory ceiling.
//
// Tasks that cannot get a slot within maxWait fail with ErrTooManyExports
// and their reservation is marked failed; a later request re-arms it.

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// ErrTooManyExports is returned when every export slot stayed busy for the
// whole wait period.
var ErrTooManyExports = errors.New("too many exports in progress, please try again later")

const (
	// DefaultMaxConcurrentExports is used when the configured limit is not
	// positive.
	DefaultMaxConcurrentExports = 4

	// DefaultExportWait is used when the configured wait is not positive.
	DefaultExportWait = time.Minute
)

// ExportLimiter is a counting semaphore with a bounded wait.
type ExportLimiter struct {
	slots   chan struct{}
	maxWait time.Duration
	active  atomic.Int64
}

// NewExportLimiter allows at most maxConcurrent holders at once.
func NewExportLimiter(maxConcurrent int, maxWait time.Duration) *ExportLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentExports
	}
	if maxWait <= 0 {
		maxWait = DefaultExportWait
	}
	return &ExportLimiter{
		slots:   make(chan struct{}, maxConcurrent),
		maxWait: maxWait,
	}
}

// Acquire blocks until a slot is free, ctx is done, or maxWait elapses.
// Every successful Acquire must be paired with Release.
func (l *ExportLimiter) Acquire(ctx context.Context) error {
	timer := time.NewTimer(l.maxWait)
	defer timer.Stop()

	select {
	case l.slots <- struct{}{}:
		l.active.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrTooManyExports
	}
}

// TryAcquire takes a slot only if one is free right now.
func (l *ExportLimiter) TryAcquire() bool {
	select {
	case l.slots <- struct{}{}:
		l.active.Add(1)
		return true
	default:
		return false
	}
}

// Release frees a slot taken by Acquire or TryAcquire.
func (l *ExportLimiter) Release() {
	l.active.Add(-1)
	<-l.slots
}

// Active returns the number of held slots.
func (l *ExportLimiter) Active() int {
	return int(l.active.Load())
}

// Capacity returns the slot count.
func (l *ExportLimiter) Capacity() int {
	return cap(l.slots)
}
