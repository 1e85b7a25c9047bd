package core

// run_limiter.go bounds how many rename runs execute at once.
//
// Decoding and re-encoding full-size photos is CPU and memory heavy, so runs
// take a slot from a fixed-size semaphore before touching any image. A run
// that cannot get a slot within the configured wait fails with
// ErrTooManyRuns.

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// ErrTooManyRuns is returned when every run slot stays busy for the whole
// wait period. Clients should retry after a short delay.
var ErrTooManyRuns = errors.New("too many runs in progress, please try again later")

// DefaultMaxConcurrentRuns is the default number of parallel runs.
const DefaultMaxConcurrentRuns = 2

// DefaultRunWait is how long a run waits for a slot before giving up.
const DefaultRunWait = 30 * time.Second

// RunLimiter is a counting semaphore for rename runs.
type RunLimiter struct {
	slots   chan struct{}
	maxWait time.Duration
	active  atomic.Int32
}

// NewRunLimiter allows at most maxConcurrent runs. Non-positive arguments
// select the defaults.
func NewRunLimiter(maxConcurrent int, maxWait time.Duration) *RunLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentRuns
	}
	if maxWait <= 0 {
		maxWait = DefaultRunWait
	}
	return &RunLimiter{
		slots:   make(chan struct{}, maxConcurrent),
		maxWait: maxWait,
	}
}

// Acquire blocks until a slot is free, ctx ends, or the wait period expires.
// Every successful Acquire must be paired with one Release.
func (l *RunLimiter) Acquire(ctx context.Context) error {
	timer := time.NewTimer(l.maxWait)
	defer timer.Stop()

	select {
	case l.slots <- struct{}{}:
		l.active.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrTooManyRuns
	}
}

// Release frees a slot taken by Acquire.
func (l *RunLimiter) Release() {
	l.active.Add(-1)
	<-l.slots
}

// ActiveCount returns the number of runs holding a slot.
func (l *RunLimiter) ActiveCount() int {
	return int(l.active.Load())
}

// MaxConcurrent returns the slot count.
func (l *RunLimiter) MaxConcurrent() int {
	return cap(l.slots)
}

// RunLimiterStatus is a snapshot of limiter usage.
type RunLimiterStatus struct {
	Active        int `json:"active"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"maxConcurrent"`
}

// Status returns current usage for health checks.
func (l *RunLimiter) Status() RunLimiterStatus {
	active := l.ActiveCount()
	return RunLimiterStatus{
		Active:        active,
		Available:     cap(l.slots) - len(l.slots),
		MaxConcurrent: cap(l.slots),
	}
}
