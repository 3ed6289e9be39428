// Package dispatch paces outgoing chat messages through a single rate-limited FIFO.
package dispatch

import (
	"context"
	"errors"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"rafflebot/internal/chat"
	logx "rafflebot/pkg/logx"
)

var ErrQueueFull = errors.New("dispatch: queue full")

const (
	DefaultInterval  = 1500 * time.Millisecond
	DefaultQueueSize = 256
	sendTimeout      = 10 * time.Second
)

// Sink delivers messages. chat.Hub implements it.
type Sink interface {
	Send(ctx context.Context, ch chat.Channel, text string) error
	IsJoined(ch chat.Channel) bool
	Joined() []chat.Channel
}

// Metrics receives dispatch observations. Optional.
type Metrics interface {
	MessageSent()
	MessageDropped(reason string)
	QueueDepth(n int)
}

type Config struct {
	Interval  time.Duration
	QueueSize int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	return c
}

type Message struct {
	Channel chat.Channel
	Text    string
}

type Option func(*Dispatcher)

func WithMetrics(m Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

type Dispatcher struct {
	sink    Sink
	log     logx.Logger
	metrics Metrics

	mu      sync.Mutex
	cfg     Config
	queue   []Message
	limiter *rate.Limiter
	wake    chan struct{}
}

func New(sink Sink, cfg Config, log logx.Logger, opts ...Option) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	d := &Dispatcher{
		sink:    sink,
		log:     log,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(cfg.Interval), 1),
		wake:    make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Apply swaps pacing and capacity. Queued messages are kept.
func (d *Dispatcher) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	d.mu.Lock()
	defer d.mu.Unlock()
	if cfg.Interval != d.cfg.Interval {
		d.limiter.SetLimit(rate.Every(cfg.Interval))
	}
	d.cfg = cfg
}

// Enqueue adds one message. When the queue is full the message is dropped.
func (d *Dispatcher) Enqueue(ch chat.Channel, text string) error {
	d.mu.Lock()
	if len(d.queue) >= d.cfg.QueueSize {
		n := len(d.queue)
		d.mu.Unlock()
		d.log.Warn("dispatch queue full; dropping message", logx.Stringer("channel", ch), logx.Int("queue_len", n))
		d.dropped("queue_full")
		return ErrQueueFull
	}
	d.queue = append(d.queue, Message{Channel: ch, Text: text})
	n := len(d.queue)
	d.mu.Unlock()

	if d.metrics != nil {
		d.metrics.QueueDepth(n)
	}
	select {
	case d.wake <- struct{}{}:
	default:
	}
	return nil
}

// Send enqueues text for one channel.
func (d *Dispatcher) Send(ch chat.Channel, text string) {
	_ = d.Enqueue(ch, text)
}

// Broadcast enqueues text once per joined channel.
func (d *Dispatcher) Broadcast(text string) {
	if strings.TrimSpace(text) == "" || d.sink == nil {
		return
	}
	for _, ch := range d.sink.Joined() {
		_ = d.Enqueue(ch, text)
	}
}

func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

func (d *Dispatcher) pop() (Message, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 {
		return Message{}, false
	}
	m := d.queue[0]
	d.queue[0] = Message{}
	d.queue = d.queue[1:]
	if len(d.queue) == 0 {
		d.queue = nil
	}
	return m, true
}

// Run sends queued messages, one per interval, until ctx ends.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.log.Info("dispatcher started", logx.Duration("interval", d.cfg.Interval))
	for {
		m, ok := d.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-d.wake:
				continue
			}
		}
		if d.metrics != nil {
			d.metrics.QueueDepth(d.Len())
		}

		if strings.TrimSpace(m.Text) == "" {
			d.dropped("blank")
			continue
		}
		if d.sink == nil || !d.sink.IsJoined(m.Channel) {
			d.log.Debug("dropping message for channel not joined", logx.Stringer("channel", m.Channel))
			d.dropped("not_joined")
			continue
		}

		d.mu.Lock()
		lim := d.limiter
		d.mu.Unlock()
		if err := lim.Wait(ctx); err != nil {
			return ctx.Err()
		}
		d.deliver(ctx, m)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, m Message) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("panic while sending chat message", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	sctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := d.sink.Send(sctx, m.Channel, m.Text); err != nil {
		d.log.Warn("chat send failed", logx.Stringer("channel", m.Channel), logx.Err(err))
		d.dropped("send_failed")
		return
	}
	if d.metrics != nil {
		d.metrics.MessageSent()
	}
}

func (d *Dispatcher) dropped(reason string) {
	if d.metrics != nil {
		d.metrics.MessageDropped(reason)
	}
}
