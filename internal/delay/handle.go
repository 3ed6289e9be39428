// Package delay provides single-use cancellation handles for timed waits.
package delay

import (
	"context"
	"sync"
	"time"
)

// Handle cancels exactly one wait. Once cancelled it stays cancelled,
// so callers allocate a new Handle for every wait.
type Handle struct {
	once sync.Once
	ch   chan struct{}
}

func New() *Handle {
	return &Handle{ch: make(chan struct{})}
}

// Cancel wakes the wait using this handle. Safe to call many times and on a nil Handle.
func (h *Handle) Cancel() {
	if h == nil {
		return
	}
	h.once.Do(func() { close(h.ch) })
}

func (h *Handle) Cancelled() bool {
	if h == nil {
		return false
	}
	select {
	case <-h.ch:
		return true
	default:
		return false
	}
}

// Done is closed when the handle is cancelled.
func (h *Handle) Done() <-chan struct{} {
	if h == nil {
		return nil
	}
	return h.ch
}

// Wait blocks for d, until the handle is cancelled, or until ctx ends.
// It reports true only when the full duration elapsed.
func (h *Handle) Wait(ctx context.Context, d time.Duration) bool {
	if h.Cancelled() {
		return false
	}
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-h.Done():
		return false
	case <-ctx.Done():
		return false
	}
}
