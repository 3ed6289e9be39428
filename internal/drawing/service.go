// Package drawing runs the single active prize drawing: entries, winner
// selection, the claim window with rerolls, and the result log.
package drawing

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"rafflebot/internal/chat"
	"rafflebot/internal/delay"
	"rafflebot/internal/eventbus"
	"rafflebot/internal/storage"
	logx "rafflebot/pkg/logx"
)

const DefaultClaimWindow = 300 * time.Second

// Outbox queues outgoing chat messages.
type Outbox interface {
	Broadcast(text string)
	Send(ch chat.Channel, text string)
}

type Publisher interface {
	Publish(e eventbus.Event, immediate bool)
}

type ResultLog interface {
	Append(ctx context.Context, r storage.Result) error
}

// Metrics receives drawing observations. Optional.
type Metrics interface {
	EntryAccepted()
	DrawingResolved(outcome string)
	Reroll()
}

type Config struct {
	ClaimWindow        time.Duration
	RespondToEntry     bool
	WinnerInstructions string
}

func (c Config) withDefaults() Config {
	if c.ClaimWindow <= 0 {
		c.ClaimWindow = DefaultClaimWindow
	}
	c.WinnerInstructions = strings.TrimSpace(c.WinnerInstructions)
	return c
}

type Option func(*Service)

// WithPicker replaces the random choice; fn returns an index in [0, n).
func WithPicker(fn func(n int) int) Option {
	return func(s *Service) {
		if fn != nil {
			s.pick = fn
		}
	}
}

func WithResultLog(r ResultLog) Option {
	return func(s *Service) { s.results = r }
}

func WithMetrics(m Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

type Service struct {
	out     Outbox
	pub     Publisher
	results ResultLog
	metrics Metrics
	log     logx.Logger
	pick    func(n int) int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	cfg       Config
	chatReady bool
	sess      Session
	claim     *delay.Handle
	last      storage.Result
	hasLast   bool
}

func New(out Outbox, pub Publisher, cfg Config, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		out:       out,
		pub:       pub,
		log:       log,
		cfg:       cfg.withDefaults(),
		pick:      rand.IntN,
		ctx:       ctx,
		cancel:    cancel,
		chatReady: true,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SetConfig applies new settings. A running claim window keeps its length.
func (s *Service) SetConfig(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
}

// SetChatReady records whether the chat side started. Drawings are refused otherwise.
func (s *Service) SetChatReady(ok bool) {
	s.mu.Lock()
	s.chatReady = ok
	s.mu.Unlock()
}

func (s *Service) ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.chatReady {
		s.log.Warn("chat configuration was invalid, cannot run raffles")
	}
	return s.chatReady
}

// Stop ends every claim watcher.
func (s *Service) Stop(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Open starts a new drawing for prize. Blank prizes are ignored.
func (s *Service) Open(prize string, d time.Duration) {
	prize = strings.TrimSpace(prize)
	if prize == "" || !s.ready() {
		return
	}
	if d <= 0 {
		d = eventbus.DefaultDrawingDuration
	}
	msg := fmt.Sprintf("Raffle is now open for %s for %d minutes! Type !enter to enter.", prize, int(d/time.Minute))

	s.mu.Lock()
	if s.claim != nil {
		s.claim.Cancel()
		s.claim = nil
	}
	s.sess = Session{
		ID:           uuid.NewString(),
		Prize:        prize,
		State:        Open,
		Announcement: msg,
		OpenedAt:     time.Now(),
	}
	id := s.sess.ID
	s.mu.Unlock()

	s.broadcast(msg)
	s.log.Info("raffle has now opened", logx.String("prize", prize), logx.String("drawing", id))
}

// Enter adds user while the drawing is open. Duplicates are ignored.
func (s *Service) Enter(user string, ch chat.Channel) bool {
	id := chat.IdentityOf(ch.Platform, user)
	if id.IsZero() {
		return false
	}
	user = id.User
	s.mu.Lock()
	if s.sess.State != Open || s.sess.hasEntrant(id) {
		s.mu.Unlock()
		return false
	}
	s.sess.Entrants = append(s.sess.Entrants, id)
	respond := s.cfg.RespondToEntry
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.EntryAccepted()
	}
	s.log.Debug("raffle entry", logx.String("user", user), logx.Stringer("channel", ch))
	if respond && s.out != nil {
		s.out.Send(ch, fmt.Sprintf("@%s you have entered!", user))
	}
	return true
}

type drawOutcome struct {
	id        string
	prize     string
	winner    chat.Identity
	noEntries bool
	index     int
	pool      int
	handle    *delay.Handle
	window    time.Duration
}

// Pick closes entries and draws a winner. With a winner already pending
// it draws again from the remaining entrants.
func (s *Service) Pick() {
	if !s.ready() {
		return
	}
	s.mu.Lock()
	if s.sess.Prize == "" || (s.sess.State != Open && s.sess.State != WinnerPicked) {
		s.mu.Unlock()
		s.log.Info("no raffle is currently open")
		return
	}
	if s.claim != nil {
		s.claim.Cancel()
		s.claim = nil
	}
	o := s.drawLocked()
	s.mu.Unlock()

	if o.noEntries {
		s.resolveNoEntries(o)
		return
	}
	s.announceWinner(o)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.watchClaim(o)
	}()
}

func (s *Service) drawLocked() drawOutcome {
	o := drawOutcome{id: s.sess.ID, prize: s.sess.Prize}
	if len(s.sess.Entrants) == 0 {
		o.noEntries = true
		s.sess.State = NoEntries
		s.sess.Winner = ""
		s.sess.WinnerID = chat.Identity{}
		s.sess.Announcement = ""
		return o
	}

	n := len(s.sess.Entrants)
	i := s.pick(n)
	if i < 0 || i >= n {
		i = 0
	}
	o.winner = s.sess.Entrants[i]
	o.index = i
	o.pool = n
	// The winner leaves the pool so a reroll never reselects them.
	s.sess.Entrants = append(s.sess.Entrants[:i:i], s.sess.Entrants[i+1:]...)

	if s.sess.State == WinnerPicked {
		s.sess.Rerolls++
	}
	o.window = s.cfg.ClaimWindow
	o.handle = delay.New()
	s.claim = o.handle
	s.sess.State = WinnerPicked
	s.sess.Winner = o.winner.User
	s.sess.WinnerID = o.winner
	s.sess.PickedAt = time.Now()
	s.sess.Announcement = fmt.Sprintf("Raffle winner of %s is @%s! Type !confirm within %s to confirm!", o.prize, o.winner.User, humanWindow(o.window))
	return o
}

func (s *Service) announceWinner(o drawOutcome) {
	s.log.Info("winner picked",
		logx.String("prize", o.prize),
		logx.Stringer("winner", o.winner),
		logx.Int("index", o.index),
		logx.Int("entries", o.pool))
	s.broadcast(fmt.Sprintf("Raffle winner of %s is @%s! Type !confirm within %s to confirm!", o.prize, o.winner.User, humanWindow(o.window)))
}

// watchClaim rerolls every time the claim window elapses until the prize
// is claimed, the entrants run out, or the drawing is replaced.
func (s *Service) watchClaim(o drawOutcome) {
	for {
		if !o.handle.Wait(s.ctx, o.window) {
			return
		}

		s.mu.Lock()
		if s.sess.ID != o.id || s.sess.State != WinnerPicked || s.claim != o.handle {
			s.mu.Unlock()
			return
		}
		s.log.Info("raffle prize was not claimed, redrawing", logx.String("prize", o.prize), logx.Stringer("winner", o.winner))
		next := s.drawLocked()
		s.mu.Unlock()

		if s.metrics != nil {
			s.metrics.Reroll()
		}
		if next.noEntries {
			s.resolveNoEntries(next)
			return
		}
		s.announceWinner(next)
		o = next
	}
}

func (s *Service) resolveNoEntries(o drawOutcome) {
	s.log.Info("no entries for prize, moving forward", logx.String("prize", o.prize))
	s.broadcast(fmt.Sprintf("Raffle for prize %s ended with no claims. Prize may appear again in the future", o.prize))
	s.resolve(o.id, storage.Result{DrawingID: o.id, Prize: o.prize, Winner: storage.NoEntries, Outcome: storage.OutcomeNoEntries})
}

// Claim confirms the prize for the picked winner. The claim must come from
// the platform the winner entered on.
func (s *Service) Claim(user string, ch chat.Channel) bool {
	id := chat.IdentityOf(ch.Platform, user)
	user = id.User
	s.mu.Lock()
	if s.sess.State != WinnerPicked || s.sess.WinnerID.IsZero() {
		s.mu.Unlock()
		return false
	}
	if id != s.sess.WinnerID {
		s.mu.Unlock()
		if s.out != nil {
			s.out.Send(ch, fmt.Sprintf("Sorry, @%s, it is too late to claim the prize.", user))
		}
		return false
	}
	if s.claim != nil {
		s.claim.Cancel()
		s.claim = nil
	}
	s.sess.State = Claimed
	drawingID, prize, instructions := s.sess.ID, s.sess.Prize, s.cfg.WinnerInstructions
	s.mu.Unlock()

	s.log.Info("prize claimed", logx.String("prize", prize), logx.Stringer("winner", id))
	s.broadcast(strings.TrimSpace(fmt.Sprintf("%s claimed by @%s! Congrats! %s", prize, user, instructions)))
	s.resolve(drawingID, storage.Result{DrawingID: drawingID, Prize: prize, Winner: user, Outcome: storage.OutcomeClaimed})
	return true
}

// resolve records r, resets the session and signals ReadyForNext.
func (s *Service) resolve(id string, r storage.Result) {
	r.At = time.Now()

	s.mu.Lock()
	if s.sess.ID == id {
		s.sess = Session{State: Closed}
	}
	s.last = r
	s.hasLast = true
	s.mu.Unlock()

	if s.results != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.results.Append(ctx, r); err != nil {
			s.log.Error("failed writing raffle result", logx.String("line", r.Line()), logx.Err(err))
		}
		cancel()
	}
	if s.metrics != nil {
		s.metrics.DrawingResolved(string(r.Outcome))
	}
	if s.pub != nil {
		s.pub.Publish(eventbus.Event{Kind: eventbus.ReadyForNext, Name: r.Winner, Message: r.Prize}, false)
	}
}

func (s *Service) broadcast(text string) {
	if s.out != nil {
		s.out.Broadcast(text)
	}
}

// Snapshot returns a copy of the active session.
func (s *Service) Snapshot() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess.clone()
}

// Last returns the most recent resolution.
func (s *Service) Last() (storage.Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.hasLast
}

func humanWindow(d time.Duration) string {
	if d >= time.Minute {
		m := int(d / time.Minute)
		if m == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", m)
	}
	sec := int(d / time.Second)
	if sec <= 1 {
		return "1 second"
	}
	return fmt.Sprintf("%d seconds", sec)
}
