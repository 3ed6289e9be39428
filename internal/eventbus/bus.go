package eventbus

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	logx "rafflebot/pkg/logx"
)

// Kind identifies what happened.
type Kind int

const (
	KindNone Kind = iota
	MilestoneReached
	DrawingStarted
	DrawingEnded
	ReadyForNext
)

func (k Kind) String() string {
	switch k {
	case MilestoneReached:
		return "milestone_reached"
	case DrawingStarted:
		return "drawing_started"
	case DrawingEnded:
		return "drawing_ended"
	case ReadyForNext:
		return "ready_for_next"
	default:
		return "none"
	}
}

// DefaultDrawingDuration applies when an event carries no duration.
const DefaultDrawingDuration = 600 * time.Second

// Event is an immutable domain signal passed by value between services.
//
// Name/Message carry the prize artist and type for drawing events.
// Amount/Currency are only set on MilestoneReached.
type Event struct {
	Kind            Kind
	Name            string
	Message         string
	DrawingDuration time.Duration
	Amount          decimal.Decimal
	Currency        string
	Time            time.Time
}

func (e Event) String() string {
	return fmt.Sprintf("Event[%s] amount %s%s", e.Kind, e.Amount.String(), e.Currency)
}

// Handler receives delivered events. A returned error is logged, never propagated.
type Handler func(e Event) error

// Bus is the publish/subscribe relay shared by every service.
//
// Contract:
//   - Publish(e, true) runs handlers on the caller, in subscription order.
//   - Publish(e, false) hands delivery to a worker goroutine and returns.
//   - A failing or panicking handler never affects the publisher or other handlers.
type Bus interface {
	Publish(e Event, immediate bool)
	Subscribe(name string, h Handler) (unsubscribe func())
	Unsubscribe(name string)
	Tap(buffer int) (ch <-chan Event, untap func())
	Wait(ctx context.Context) error
}

// New returns an in-memory bus.
func New(log logx.Logger) *MemBus {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &MemBus{log: log, taps: map[uint64]chan Event{}}
}

type subscription struct {
	name string
	h    Handler
}

type MemBus struct {
	log logx.Logger

	mu   sync.RWMutex
	subs []subscription
	taps map[uint64]chan Event
	seq  atomic.Uint64

	inflight sync.WaitGroup
}

func (b *MemBus) Publish(e Event, immediate bool) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	if e.Kind == DrawingStarted && e.DrawingDuration <= 0 {
		e.DrawingDuration = DefaultDrawingDuration
	}

	// Snapshot so handlers run without holding locks (they may publish too).
	b.mu.RLock()
	subs := append([]subscription(nil), b.subs...)
	taps := make([]chan Event, 0, len(b.taps))
	for _, ch := range b.taps {
		taps = append(taps, ch)
	}
	b.mu.RUnlock()

	for _, ch := range taps {
		// Taps are observers; never block the publisher on them.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}

	if immediate {
		b.deliver(e, subs)
		return
	}
	b.inflight.Add(1)
	go func() {
		defer b.inflight.Done()
		b.deliver(e, subs)
	}()
}

func (b *MemBus) deliver(e Event, subs []subscription) {
	for _, s := range subs {
		b.invoke(e, s)
	}
}

func (b *MemBus) invoke(e Event, s subscription) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panicked",
				logx.String("subscriber", s.name),
				logx.Stringer("kind", e.Kind),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
		}
	}()
	if err := s.h(e); err != nil {
		b.log.Warn("event handler failed", logx.String("subscriber", s.name), logx.Stringer("kind", e.Kind), logx.Err(err))
	}
}

// Subscribe registers h under name. Subscribing an existing name replaces its handler.
func (b *MemBus) Subscribe(name string, h Handler) func() {
	if h == nil {
		return func() {}
	}
	b.mu.Lock()
	replaced := false
	for i := range b.subs {
		if b.subs[i].name == name {
			b.subs[i].h = h
			replaced = true
			break
		}
	}
	if !replaced {
		b.subs = append(b.subs, subscription{name: name, h: h})
	}
	b.mu.Unlock()

	var once sync.Once
	return func() { once.Do(func() { b.Unsubscribe(name) }) }
}

func (b *MemBus) Unsubscribe(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.subs {
		if b.subs[i].name == name {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Tap returns a buffered observer channel. Slow observers drop events.
func (b *MemBus) Tap(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.taps[id] = ch
	b.mu.Unlock()

	var once sync.Once
	untap := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.taps, id)
			b.mu.Unlock()
			// Closing is safe because Publish recovers from send panics.
			close(ch)
		})
	}
	return ch, untap
}

// Wait blocks until every offloaded delivery started so far has finished.
func (b *MemBus) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
