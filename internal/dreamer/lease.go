package dreamer

import (
	"context"
	"errors"
	"time"
)

// ErrPassActive indicates another consolidation pass holds the lease and
// did not release it within the acquisition wait.
var ErrPassActive = errors.New("consolidation pass already active")

// lease serializes consolidation passes. It is a single-slot token:
// Acquire blocks for at most the configured wait, then gives up rather
// than queueing callers indefinitely.
type lease struct {
	slot    chan struct{}
	maxWait time.Duration
}

func newLease(maxWait time.Duration) *lease {
	l := &lease{
		slot:    make(chan struct{}, 1),
		maxWait: maxWait,
	}
	l.slot <- struct{}{}
	return l
}

// Acquire takes the lease, waiting up to maxWait. Returns ErrPassActive
// when the wait expires and the context error when ctx is done first.
func (l *lease) Acquire(ctx context.Context) error {
	timer := time.NewTimer(l.maxWait)
	defer timer.Stop()

	select {
	case <-l.slot:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrPassActive
	}
}

// TryAcquire takes the lease without waiting.
func (l *lease) TryAcquire() bool {
	select {
	case <-l.slot:
		return true
	default:
		return false
	}
}

// Release returns the lease. Releasing an unheld lease panics: that is
// always a bug in the caller.
func (l *lease) Release() {
	select {
	case l.slot <- struct{}{}:
	default:
		panic("lease released while not held")
	}
}
