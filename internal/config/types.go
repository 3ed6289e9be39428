package config

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	DefaultDrawingDuration = 600 * time.Second
	DefaultClaimWindow     = 300 * time.Second
	DefaultPollingInterval = 5
	DefaultLifetimeMinutes = 5
)

type Config struct {
	Twitch   TwitchSettings   `json:"twitch"`
	Telegram TelegramSettings `json:"telegram"`
	Tiltify  TiltifySettings  `json:"tiltify"`
	Prizes   []PrizeEntry     `json:"prizes"`
	Raffle   RaffleSettings   `json:"raffle"`
	Console  ConsoleSettings  `json:"console"`
	Dispatch DispatchSettings `json:"dispatch,omitempty"`
	Storage  StorageSettings  `json:"storage,omitempty"`
	Logging  LoggingConfig    `json:"logging"`
	Ops      OpsSettings      `json:"ops,omitempty"`
}

type TwitchSettings struct {
	Channels    []string `json:"channels" validate:"min=1,dive,required"`
	BotUserName string   `json:"bot_user_name" validate:"required"`
	OAuthToken  string   `json:"oauth_token" validate:"required"`
	// RespondToRaffleEntry acknowledges each accepted entry in chat.
	RespondToRaffleEntry bool   `json:"respond_to_raffle_entry"`
	WinnerInstructions   string `json:"winner_instructions"`
	URL                  string `json:"url,omitempty"`
}

// TelegramSettings configures the optional second chat platform.
type TelegramSettings struct {
	Enabled bool    `json:"enabled"`
	Token   string  `json:"token" validate:"required"`
	ChatIDs []int64 `json:"chat_ids" validate:"min=1"`
	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type TiltifySettings struct {
	ClientID     string `json:"client_id" validate:"required"`
	ClientSecret string `json:"client_secret" validate:"required"`
	CampaignID   string `json:"campaign_id" validate:"required"`
	// PollingInterval is in seconds.
	PollingInterval int `json:"polling_interval"`
	// BackoffCap bounds the login retry delay (Go duration string).
	BackoffCap string `json:"backoff_cap,omitempty"`
	BaseURL    string `json:"base_url,omitempty"`
	Debug      bool   `json:"debug"`

	// Written back after a successful authorization.
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenExpiry  string `json:"token_expiry,omitempty"` // RFC 3339
}

// PrizeEntry is one configured prize, keyed by its threshold.
type PrizeEntry struct {
	Artist                 string          `json:"artist" validate:"required"`
	PrizeType              string          `json:"prize_type" validate:"required"`
	Threshold              decimal.Decimal `json:"threshold" validate:"gt=0"`
	Enabled                bool            `json:"enabled"`
	Completed              bool            `json:"completed"`
	DrawingDurationSeconds int             `json:"drawing_duration_seconds,omitempty" validate:"gte=0"`
}

func (p PrizeEntry) Label() string { return fmt.Sprintf("%s from %s", p.PrizeType, p.Artist) }

type RaffleSettings struct {
	// DrawingDuration applies to prizes without their own duration.
	DrawingDuration string `json:"drawing_duration,omitempty"`
	ClaimWindow     string `json:"claim_window,omitempty"`
	// Cadence is how often the scheduler checks the backlog.
	Cadence string `json:"cadence,omitempty"`
}

type ConsoleSettings struct {
	// 0 keeps messages forever.
	MaxMessageLifetimeMinutes int `json:"max_message_lifetime_minutes"`
}

type DispatchSettings struct {
	Interval  string `json:"interval,omitempty"`
	QueueSize int    `json:"queue_size,omitempty"`
}

// StorageSettings selects the result log driver.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./raffle.db" }
type StorageSettings struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// OpsSettings controls the optional HTTP endpoint (health, metrics, pprof).
//
// Prefer binding to localhost. A non-loopback address needs a token or
// allow_insecure.
type OpsSettings struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default: "127.0.0.1:9464"
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
}

// Default is the configuration written when no file exists yet.
func Default() *Config {
	return &Config{
		Twitch: TwitchSettings{Channels: []string{}},
		Tiltify: TiltifySettings{
			PollingInterval: DefaultPollingInterval,
		},
		Prizes: []PrizeEntry{},
		Raffle: RaffleSettings{
			DrawingDuration: DefaultDrawingDuration.String(),
			ClaimWindow:     DefaultClaimWindow.String(),
		},
		Console: ConsoleSettings{MaxMessageLifetimeMinutes: DefaultLifetimeMinutes},
		Logging: LoggingConfig{Level: "info", Console: true},
	}
}

// Runtime holds parsed durations and defaults derived from a Config.
type Runtime struct {
	PollInterval    time.Duration
	BackoffCap      time.Duration
	DrawingDuration time.Duration
	ClaimWindow     time.Duration
	Cadence         time.Duration
	Lifetime        time.Duration
	DispatchEvery   time.Duration
	TelegramPoll    time.Duration
	BusyTimeout     time.Duration
}

// Resolve parses every duration field. Errors name the offending key.
func (c *Config) Resolve() (Runtime, error) {
	var (
		rt  Runtime
		err error
	)
	iv := c.Tiltify.PollingInterval
	if iv <= 0 {
		iv = DefaultPollingInterval
	}
	rt.PollInterval = time.Duration(iv) * time.Second
	if rt.BackoffCap, err = parseDuration("tiltify.backoff_cap", c.Tiltify.BackoffCap); err != nil {
		return Runtime{}, err
	}
	if rt.DrawingDuration, err = durationOr("raffle.drawing_duration", c.Raffle.DrawingDuration, DefaultDrawingDuration); err != nil {
		return Runtime{}, err
	}
	if rt.ClaimWindow, err = durationOr("raffle.claim_window", c.Raffle.ClaimWindow, DefaultClaimWindow); err != nil {
		return Runtime{}, err
	}
	if rt.Cadence, err = parseDuration("raffle.cadence", c.Raffle.Cadence); err != nil {
		return Runtime{}, err
	}
	if c.Console.MaxMessageLifetimeMinutes < 0 {
		return Runtime{}, fmt.Errorf("console.max_message_lifetime_minutes: must be >= 0")
	}
	rt.Lifetime = time.Duration(c.Console.MaxMessageLifetimeMinutes) * time.Minute
	if rt.DispatchEvery, err = parseDuration("dispatch.interval", c.Dispatch.Interval); err != nil {
		return Runtime{}, err
	}
	if rt.TelegramPoll, err = parseDuration("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
		return Runtime{}, err
	}
	if rt.BusyTimeout, err = parseDuration("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return Runtime{}, err
	}
	return rt, nil
}
