// Package raffle turns donation milestones into a strictly serialized queue of drawings.
package raffle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"rafflebot/internal/delay"
	"rafflebot/internal/eventbus"
	logx "rafflebot/pkg/logx"
)

const DefaultCadence = time.Second

// Entry is one prize that is drawn when its threshold is reached.
type Entry struct {
	Artist    string
	PrizeType string
	Threshold decimal.Decimal
	Enabled   bool
	Completed bool
	// Duration overrides the scheduler default when > 0.
	Duration time.Duration
}

// Label is the text shown to chat, e.g. "sketch from ann".
func (e Entry) Label() string {
	return fmt.Sprintf("%s from %s", e.PrizeType, e.Artist)
}

func (e Entry) key() string { return e.Threshold.String() }

type Publisher interface {
	Publish(e eventbus.Event, immediate bool)
}

type Option func(*Scheduler)

// WithCadence sets how often the backlog is inspected.
func WithCadence(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.cadence = d
		}
	}
}

func WithDefaultDuration(d time.Duration) Option {
	return func(s *Scheduler) { s.SetDefaultDuration(d) }
}

// Scheduler owns the milestone index, the backlog and the gate.
//
// At most one drawing is in flight: dispatch closes the gate and only
// MarkReady opens it again.
type Scheduler struct {
	pub     Publisher
	log     logx.Logger
	cadence time.Duration

	mu         sync.Mutex
	index      map[string]Entry
	backlog    []Entry
	gateOpen   bool
	current    Entry
	hasCurrent bool
	waiting    *delay.Handle
	defaultDur time.Duration
}

func New(pub Publisher, log logx.Logger, opts ...Option) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Scheduler{
		pub:        pub,
		log:        log,
		cadence:    DefaultCadence,
		index:      map[string]Entry{},
		gateOpen:   true,
		defaultDur: eventbus.DefaultDrawingDuration,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SetDefaultDuration applies to entries without their own duration. d <= 0 restores 600s.
func (s *Scheduler) SetDefaultDuration(d time.Duration) {
	if d <= 0 {
		d = eventbus.DefaultDrawingDuration
	}
	s.mu.Lock()
	s.defaultDur = d
	s.mu.Unlock()
}

// BuildIndex replaces the milestone index. Only enabled, not yet completed
// entries are indexed; for duplicate thresholds the first entry wins.
// It returns the number of indexed entries.
func (s *Scheduler) BuildIndex(entries []Entry) int {
	idx := make(map[string]Entry, len(entries))
	for _, e := range entries {
		if !e.Enabled || e.Completed {
			continue
		}
		k := e.key()
		if prev, dup := idx[k]; dup {
			s.log.Warn("duplicate prize threshold ignored",
				logx.String("threshold", k),
				logx.String("kept", prev.Label()),
				logx.String("ignored", e.Label()))
			continue
		}
		idx[k] = e
	}

	s.mu.Lock()
	s.index = idx
	s.mu.Unlock()

	s.log.Info("prize index rebuilt", logx.Int("entries", len(idx)))
	return len(idx)
}

// OnMilestone enqueues the prize registered for amount, if any.
func (s *Scheduler) OnMilestone(amount decimal.Decimal) bool {
	k := amount.String()
	s.mu.Lock()
	e, ok := s.index[k]
	if ok {
		s.backlog = append(s.backlog, e)
	}
	s.mu.Unlock()

	if !ok {
		s.log.Info("unable to enqueue a raffle for milestone", logx.String("milestone", k))
		return false
	}
	s.log.Info("enqueued a raffle for milestone", logx.String("milestone", k), logx.String("prize", e.Label()))
	return true
}

// Run inspects the backlog every cadence until ctx ends.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("raffle scheduler started", logx.Duration("cadence", s.cadence))
	t := time.NewTicker(s.cadence)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			s.dispatchNext(ctx)
		}
	}
}

// dispatchNext runs one drawing from start to DrawingEnded. It reports
// whether a drawing was dispatched.
func (s *Scheduler) dispatchNext(ctx context.Context) bool {
	s.mu.Lock()
	if !s.gateOpen || len(s.backlog) == 0 {
		s.mu.Unlock()
		return false
	}
	e := s.backlog[0]
	s.backlog[0] = Entry{}
	s.backlog = s.backlog[1:]
	s.gateOpen = false
	s.current = e
	s.hasCurrent = true
	h := delay.New()
	s.waiting = h
	dur := e.Duration
	if dur <= 0 {
		dur = s.defaultDur
	}
	s.mu.Unlock()

	s.log.Info("now raffling", logx.String("prize", e.Label()), logx.Duration("duration", dur))
	s.publish(eventbus.Event{
		Kind:            eventbus.DrawingStarted,
		Name:            e.Artist,
		Message:         e.PrizeType,
		DrawingDuration: dur,
	})

	elapsed := h.Wait(ctx, dur)

	s.mu.Lock()
	if s.waiting == h {
		s.waiting = nil
	}
	s.mu.Unlock()

	if ctx.Err() != nil {
		return true
	}
	if !elapsed {
		s.log.Info("drawing cut short", logx.String("prize", e.Label()))
	}
	s.log.Info("ending raffle", logx.String("prize", e.Label()))
	s.publish(eventbus.Event{
		Kind:    eventbus.DrawingEnded,
		Name:    e.Artist,
		Message: e.PrizeType,
	})
	return true
}

// Both drawing events are delivered inline so DrawingEnded can never
// overtake the DrawingStarted of the same entry.
func (s *Scheduler) publish(e eventbus.Event) {
	if s.pub != nil {
		s.pub.Publish(e, true)
	}
}

// ForceDraw ends the in-flight wait early. Without a wait in flight it does nothing.
func (s *Scheduler) ForceDraw() bool {
	s.mu.Lock()
	h := s.waiting
	s.waiting = nil
	s.mu.Unlock()
	if h == nil {
		return false
	}
	h.Cancel()
	return true
}

// MarkReady opens the gate. It reports false when the gate was already open.
func (s *Scheduler) MarkReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gateOpen {
		return false
	}
	s.gateOpen = true
	return true
}

// Current returns the most recently dispatched entry.
func (s *Scheduler) Current() (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.hasCurrent
}

func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.backlog)
}

func (s *Scheduler) GateOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gateOpen
}

// Waiting reports whether a drawing window is currently running.
func (s *Scheduler) Waiting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waiting != nil
}

// Indexed returns the number of entries in the milestone index.
func (s *Scheduler) Indexed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}
