package donation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"rafflebot/internal/eventbus"
	logx "rafflebot/pkg/logx"
)

// ErrTokenExpired is returned by a Client when the access token must be renewed.
var ErrTokenExpired = errors.New("donation: token expired")

const (
	DefaultPollInterval = 5 * time.Second
	DefaultBackoffCap   = 600 * time.Second
)

var milestoneStep = decimal.NewFromInt(100)

// Token is the result of a successful authorization.
type Token struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// Total is the raw campaign total as reported by the platform.
type Total struct {
	Raised   string
	Currency string
}

// Client talks to the donation platform.
type Client interface {
	Authorize(ctx context.Context) (Token, error)
	FetchCampaignTotal(ctx context.Context, campaignID string) (Total, error)
}

// Publisher is the part of the event bus the poller needs.
type Publisher interface {
	Publish(e eventbus.Event, immediate bool)
}

// Metrics receives poller observations. Optional.
type Metrics interface {
	ObserveRaised(amount float64, currency string)
	AuthFailed()
	PollFailed()
}

type Config struct {
	CampaignID   string
	PollInterval time.Duration
	// BackoffCap bounds the authorization retry delay.
	BackoffCap time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = DefaultBackoffCap
	}
	if c.BackoffCap < c.PollInterval {
		c.BackoffCap = c.PollInterval
	}
	return c
}

// State is a snapshot of the poller.
type State struct {
	AmountRaised  decimal.Decimal
	Factor        int64
	Currency      string
	Authenticated bool
	LoginAttempts int
	NextAuthAt    time.Time
	LastPollAt    time.Time
}

type Option func(*Poller)

// WithAuthUpdate registers the callback invoked after every successful authorization.
func WithAuthUpdate(fn func(Token)) Option {
	return func(p *Poller) { p.onAuth = fn }
}

func WithMetrics(m Metrics) Option {
	return func(p *Poller) { p.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(p *Poller) {
		if now != nil {
			p.now = now
		}
	}
}

// Poller tracks the campaign total and turns every crossed multiple of 100
// into a MilestoneReached event.
type Poller struct {
	client  Client
	pub     Publisher
	cfg     Config
	log     logx.Logger
	onAuth  func(Token)
	metrics Metrics
	now     func() time.Time

	mu    sync.Mutex
	state State
}

func New(client Client, pub Publisher, cfg Config, log logx.Logger, opts ...Option) *Poller {
	if log.IsZero() {
		log = logx.Nop()
	}
	p := &Poller{
		client: client,
		pub:    pub,
		cfg:    cfg.withDefaults(),
		log:    log,
		now:    time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	p.state.AmountRaised = decimal.Zero
	return p
}

func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Run authorizes once and then polls every PollInterval until ctx ends.
func (p *Poller) Run(ctx context.Context) error {
	if p.client == nil {
		return errors.New("donation: nil client")
	}
	p.log.Info("donation poller started",
		logx.String("campaign", p.cfg.CampaignID),
		logx.Duration("interval", p.cfg.PollInterval))

	p.authorize(ctx)

	t := time.NewTicker(p.cfg.PollInterval)
	defer t.Stop()
	for {
		p.tick(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if !p.authenticated() && !p.authorize(ctx) {
		return
	}

	total, err := p.client.FetchCampaignTotal(ctx, p.cfg.CampaignID)
	if errors.Is(err, ErrTokenExpired) {
		p.log.Info("fetching a new donation token")
		p.setAuthenticated(false)
		if !p.authorize(ctx) {
			return
		}
		total, err = p.client.FetchCampaignTotal(ctx, p.cfg.CampaignID)
	}
	if err != nil {
		if ctx.Err() == nil {
			p.log.Warn("campaign fetch failed", logx.Err(err))
			if p.metrics != nil {
				p.metrics.PollFailed()
			}
		}
		return
	}
	p.apply(total)
}

func (p *Poller) authenticated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.Authenticated
}

func (p *Poller) setAuthenticated(v bool) {
	p.mu.Lock()
	p.state.Authenticated = v
	p.mu.Unlock()
}

// authorize respects the backoff window and reports whether the poller is now authenticated.
func (p *Poller) authorize(ctx context.Context) bool {
	now := p.now()
	p.mu.Lock()
	if now.Before(p.state.NextAuthAt) {
		p.mu.Unlock()
		return false
	}
	p.mu.Unlock()

	tok, err := p.client.Authorize(ctx)
	if err != nil {
		p.mu.Lock()
		wait := p.backoff(p.state.LoginAttempts)
		p.state.LoginAttempts++
		p.state.NextAuthAt = now.Add(wait)
		attempts := p.state.LoginAttempts
		p.mu.Unlock()

		if p.metrics != nil {
			p.metrics.AuthFailed()
		}
		p.log.Warn("donation authorization failed",
			logx.Int("attempts", attempts),
			logx.Duration("retry_in", wait),
			logx.Err(err))
		return false
	}

	p.mu.Lock()
	p.state.Authenticated = true
	p.state.LoginAttempts = 0
	p.state.NextAuthAt = time.Time{}
	p.mu.Unlock()

	p.log.Info("donation platform ready")
	if p.onAuth != nil {
		p.onAuth(tok)
	}
	return true
}

// backoff is min(interval * 2^attempts, cap).
func (p *Poller) backoff(attempts int) time.Duration {
	d := p.cfg.PollInterval
	for i := 0; i < attempts; i++ {
		d *= 2
		if d >= p.cfg.BackoffCap || d <= 0 {
			return p.cfg.BackoffCap
		}
	}
	if d > p.cfg.BackoffCap {
		return p.cfg.BackoffCap
	}
	return d
}

func (p *Poller) apply(total Total) {
	raised, err := decimal.NewFromString(strings.TrimSpace(total.Raised))
	if err != nil {
		p.log.Debug("skipping unparseable campaign total", logx.String("raw", total.Raised))
		return
	}

	p.mu.Lock()
	p.state.LastPollAt = p.now()
	p.state.AmountRaised = raised
	if total.Currency != "" {
		p.state.Currency = total.Currency
	}
	current := p.state.Factor
	currency := p.state.Currency
	p.mu.Unlock()

	if p.metrics != nil {
		f, _ := raised.Float64()
		p.metrics.ObserveRaised(f, currency)
	}

	next := raised.Div(milestoneStep).Floor().IntPart()
	if next <= current {
		return
	}
	base := decimal.NewFromInt(current).Mul(milestoneStep)
	for i := int64(1); i <= next-current; i++ {
		amount := base.Add(milestoneStep.Mul(decimal.NewFromInt(i)))
		p.log.Debug("milestone crossed", logx.String("amount", amount.String()), logx.String("currency", currency))
		if p.pub != nil {
			p.pub.Publish(eventbus.Event{
				Kind:     eventbus.MilestoneReached,
				Amount:   amount,
				Currency: currency,
			}, true)
		}
	}

	p.mu.Lock()
	p.state.Factor = next
	p.mu.Unlock()
}

func (s State) String() string {
	return fmt.Sprintf("raised %s%s (factor %d, authenticated %t)", s.AmountRaised.String(), s.Currency, s.Factor, s.Authenticated)
}
