package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rafflebot/internal/chat"
	logx "rafflebot/pkg/logx"
)

type sentMsg struct {
	at   time.Time
	ch   chat.Channel
	text string
}

type fakeSink struct {
	mu     sync.Mutex
	joined []chat.Channel
	sent   []sentMsg
	fail   map[string]bool
}

func (f *fakeSink) Send(_ context.Context, ch chat.Channel, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[text] {
		return errors.New("send failed")
	}
	f.sent = append(f.sent, sentMsg{at: time.Now(), ch: ch, text: text})
	return nil
}

func (f *fakeSink) IsJoined(ch chat.Channel) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, j := range f.joined {
		if j == ch {
			return true
		}
	}
	return false
}

func (f *fakeSink) Joined() []chat.Channel {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chat.Channel(nil), f.joined...)
}

func (f *fakeSink) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, m := range f.sent {
		out = append(out, m.ch.Name+"|"+m.text)
	}
	return out
}

type counters struct {
	mu      sync.Mutex
	sent    int
	dropped map[string]int
}

func (c *counters) MessageSent() { c.mu.Lock(); c.sent++; c.mu.Unlock() }
func (c *counters) MessageDropped(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dropped == nil {
		c.dropped = map[string]int{}
	}
	c.dropped[reason]++
}
func (c *counters) QueueDepth(int) {}

var (
	a = chat.Channel{Platform: chat.Twitch, Name: "a"}
	b = chat.Channel{Platform: chat.Twitch, Name: "b"}
)

func run(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestDeliversInOrderAndDropsInvalid(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{joined: []chat.Channel{a}}
	m := &counters{}
	d := New(sink, Config{Interval: time.Millisecond}, logx.Nop(), WithMetrics(m))

	d.Send(a, "one")
	d.Send(a, "   ")
	d.Send(b, "not joined")
	d.Send(a, "two")
	run(t, d)

	require.Eventually(t, func() bool { return len(sink.texts()) == 2 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, []string{"a|one", "a|two"}, sink.texts())

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Equal(t, 2, m.sent)
	assert.Equal(t, 1, m.dropped["blank"])
	assert.Equal(t, 1, m.dropped["not_joined"])
}

func TestBroadcastEnqueuesPerJoinedChannel(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{joined: []chat.Channel{a, b}}
	d := New(sink, Config{}, logx.Nop())

	d.Broadcast("hello")
	d.Broadcast("")
	assert.Equal(t, 2, d.Len())
}

func TestQueueFullDropsNewest(t *testing.T) {
	t.Parallel()
	d := New(&fakeSink{}, Config{QueueSize: 2}, logx.Nop())
	require.NoError(t, d.Enqueue(a, "1"))
	require.NoError(t, d.Enqueue(a, "2"))
	assert.ErrorIs(t, d.Enqueue(a, "3"), ErrQueueFull)
	assert.Equal(t, 2, d.Len())

	m, ok := d.pop()
	require.True(t, ok)
	assert.Equal(t, "1", m.Text)
}

func TestPacing(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{joined: []chat.Channel{a}}
	interval := 40 * time.Millisecond
	d := New(sink, Config{Interval: interval}, logx.Nop())
	for _, s := range []string{"1", "2", "3"} {
		d.Send(a, s)
	}
	run(t, d)

	require.Eventually(t, func() bool { return len(sink.texts()) == 3 }, 2*time.Second, time.Millisecond)
	sink.mu.Lock()
	defer sink.mu.Unlock()
	for i := 1; i < len(sink.sent); i++ {
		gap := sink.sent[i].at.Sub(sink.sent[i-1].at)
		assert.GreaterOrEqual(t, gap, interval-5*time.Millisecond, "gap %d", i)
	}
}

func TestSendFailureIsNotRequeued(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{joined: []chat.Channel{a}, fail: map[string]bool{"bad": true}}
	m := &counters{}
	d := New(sink, Config{Interval: time.Millisecond}, logx.Nop(), WithMetrics(m))
	d.Send(a, "bad")
	d.Send(a, "good")
	run(t, d)

	require.Eventually(t, func() bool { return len(sink.texts()) == 1 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, []string{"a|good"}, sink.texts())
	assert.Zero(t, d.Len())
	m.mu.Lock()
	assert.Equal(t, 1, m.dropped["send_failed"])
	m.mu.Unlock()
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()
	d := New(&fakeSink{}, Config{}, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
}
