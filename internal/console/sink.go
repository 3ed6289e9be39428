// Package console is the operator-facing message log.
//
// Services print short status lines here; every line is written to the
// operator's terminal, mirrored to the structured logger, and kept in an
// in-memory history until it expires.
package console

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "rafflebot/pkg/logx"
)

// Source names the service a console line came from.
type Source string

const (
	SourceNone     Source = ""
	SourceTiltify  Source = "tiltify"
	SourceTwitch   Source = "twitch"
	SourceTelegram Source = "telegram"
	SourceRaffle   Source = "raffle"
	SourceApp      Source = "app"
)

const (
	DefaultLifetime = 5 * time.Minute
	pruneSpec       = "@every 30s"
)

type Message struct {
	Text   string
	Source Source
	At     time.Time
}

func (m Message) String() string {
	src := string(m.Source)
	if src == "" {
		src = "-"
	}
	return fmt.Sprintf("[%s] %-8s %s", m.At.Format("15:04:05"), src, m.Text)
}

type Sink struct {
	out io.Writer
	log logx.Logger
	now func() time.Time

	mu       sync.Mutex
	msgs     []Message
	lifetime time.Duration

	cronMu sync.Mutex
	cron   *cron.Cron
}

// New creates a sink writing to out (may be nil). A lifetime of 0 keeps
// messages forever.
func New(out io.Writer, lifetime time.Duration, log logx.Logger) *Sink {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sink{out: out, log: log, lifetime: lifetime, now: time.Now}
}

func (s *Sink) SetLifetime(d time.Duration) {
	if d < 0 {
		d = 0
	}
	s.mu.Lock()
	s.lifetime = d
	s.mu.Unlock()
}

// Print records one line. Blank text is ignored; a zero at means now.
func (s *Sink) Print(text string, source Source, at time.Time) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if at.IsZero() {
		at = s.now()
	}
	m := Message{Text: text, Source: source, At: at}

	s.mu.Lock()
	s.msgs = append(s.msgs, m)
	s.mu.Unlock()

	if s.out != nil {
		_, _ = fmt.Fprintln(s.out, m.String())
	}
	s.log.Info(text, logx.String("source", string(source)))
}

// Printf is Print with formatting and the current time.
func (s *Sink) Printf(source Source, format string, args ...any) {
	s.Print(fmt.Sprintf(format, args...), source, time.Time{})
}

// History returns the retained messages, oldest first.
func (s *Sink) History() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.msgs...)
}

func (s *Sink) Clear() {
	s.mu.Lock()
	s.msgs = nil
	s.mu.Unlock()
}

// Prune drops expired messages and returns how many were removed.
func (s *Sink) Prune() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lifetime <= 0 {
		return 0
	}
	kept := s.msgs[:0]
	for _, m := range s.msgs {
		if now.Sub(m.At) <= s.lifetime {
			kept = append(kept, m)
		}
	}
	removed := len(s.msgs) - len(kept)
	for i := len(kept); i < len(s.msgs); i++ {
		s.msgs[i] = Message{}
	}
	s.msgs = kept
	return removed
}

// Start schedules pruning. Calling Start twice is a no-op.
func (s *Sink) Start() error {
	s.cronMu.Lock()
	defer s.cronMu.Unlock()
	if s.cron != nil {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(pruneSpec, func() {
		if n := s.Prune(); n > 0 {
			s.log.Debug("console messages expired", logx.Int("count", n))
		}
	}); err != nil {
		return fmt.Errorf("console prune job: %w", err)
	}
	c.Start()
	s.cron = c
	return nil
}

// Stop halts pruning and waits for a running prune to finish.
func (s *Sink) Stop() {
	s.cronMu.Lock()
	c := s.cron
	s.cron = nil
	s.cronMu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}
