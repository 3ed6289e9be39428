package delay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWaitElapses(t *testing.T) {
	t.Parallel()
	h := New()
	assert.True(t, h.Wait(context.Background(), 10*time.Millisecond))
	assert.False(t, h.Cancelled())
}

func TestCancelWakesWait(t *testing.T) {
	t.Parallel()
	h := New()
	go func() {
		time.Sleep(10 * time.Millisecond)
		h.Cancel()
	}()

	start := time.Now()
	assert.False(t, h.Wait(context.Background(), time.Minute))
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.True(t, h.Cancelled())
}

func TestCancelledHandleNeverWaits(t *testing.T) {
	t.Parallel()
	h := New()
	h.Cancel()
	h.Cancel()
	assert.False(t, h.Wait(context.Background(), time.Minute))

	// A fresh handle is unaffected.
	assert.True(t, New().Wait(context.Background(), time.Millisecond))
}

func TestContextEndsWait(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, New().Wait(ctx, time.Minute))
}

func TestNilHandle(t *testing.T) {
	t.Parallel()
	var h *Handle
	assert.NotPanics(t, func() { h.Cancel() })
	assert.False(t, h.Cancelled())
}
