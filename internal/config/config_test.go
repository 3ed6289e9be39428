package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleJSON = `{
  "twitch": {
    "channels": ["chan"],
    "bot_user_name": "bot",
    "oauth_token": "tok",
    "respond_to_raffle_entry": true,
    "winner_instructions": "DM the artist"
  },
  "tiltify": {
    "client_id": "id",
    "client_secret": "secret",
    "campaign_id": "camp",
    "polling_interval": 5,
    "debug": false
  },
  "prizes": [
    {"artist": "Ann", "prize_type": "print", "threshold": 100, "enabled": true, "completed": false},
    {"artist": "Bo", "prize_type": "sketch", "threshold": "200.50", "enabled": true, "completed": false}
  ],
  "raffle": {"drawing_duration": "10m", "claim_window": "2m"},
  "console": {"max_message_lifetime_minutes": 5},
  "logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}}
}
`

const sampleYAML = `# raffle bot
twitch:
  channels: [chan]
  bot_user_name: bot
  oauth_token: tok
  respond_to_raffle_entry: false
  winner_instructions: ""
prizes:
  - artist: Ann
    prize_type: print
    threshold: 100 # first
    enabled: true
    completed: false
console:
  max_message_lifetime_minutes: 0
logging:
  level: debug
  console: true
  file: {enabled: false, path: ""}
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func newTestManager(path string) *Manager {
	m := NewManager(path)
	m.SetEnvOverlay(false)
	return m
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	m := newTestManager(writeFile(t, "config.json", sampleJSON))
	cfg, err := m.Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"chan"}, cfg.Twitch.Channels)
	require.Len(t, cfg.Prizes, 2)
	assert.True(t, cfg.Prizes[0].Threshold.Equal(decimal.NewFromInt(100)))
	assert.True(t, cfg.Prizes[1].Threshold.Equal(decimal.RequireFromString("200.5")))
	assert.Equal(t, "print from Ann", cfg.Prizes[0].Label())
	assert.Same(t, cfg, m.Get())

	rt, err := cfg.Resolve()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, rt.PollInterval)
	assert.Equal(t, 10*time.Minute, rt.DrawingDuration)
	assert.Equal(t, 2*time.Minute, rt.ClaimWindow)
	assert.Equal(t, 5*time.Minute, rt.Lifetime)
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	m := newTestManager(writeFile(t, "config.yaml", sampleYAML))
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Zero(t, cfg.Console.MaxMessageLifetimeMinutes)

	rt, err := cfg.Resolve()
	require.NoError(t, err)
	assert.Equal(t, DefaultDrawingDuration, rt.DrawingDuration)
	assert.Equal(t, DefaultClaimWindow, rt.ClaimWindow)
	assert.Zero(t, rt.Lifetime)
}

func TestLoadRejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		file string
		body string
	}{
		{name: "unknown field", file: "c.json", body: `{"twitch": {"nope": 1}}`},
		{name: "trailing data", file: "c.json", body: `{} {}`},
		{name: "bad duration", file: "c.json", body: `{"raffle": {"claim_window": "soon"}}`},
		{name: "bad driver", file: "c.json", body: `{"storage": {"driver": "postgres"}}`},
		{name: "negative lifetime", file: "c.yaml", body: "console:\n  max_message_lifetime_minutes: -1\n"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := newTestManager(writeFile(t, tt.file, tt.body)).Load()
			require.Error(t, err)
		})
	}
}

func TestMissing(t *testing.T) {
	t.Parallel()
	assert.Empty(t, TwitchSettings{Channels: []string{"a"}, BotUserName: "b", OAuthToken: "c"}.Missing())
	assert.ElementsMatch(t,
		[]string{"twitch.channels", "twitch.bot_user_name", "twitch.oauth_token"},
		TwitchSettings{}.Missing())
	assert.Equal(t, []string{"twitch.channels[1]"},
		TwitchSettings{Channels: []string{"a", ""}, BotUserName: "b", OAuthToken: "c"}.Missing())

	assert.Equal(t, []string{"tiltify.campaign_id"},
		TiltifySettings{ClientID: "a", ClientSecret: "b"}.Missing())

	assert.Empty(t, PrizeEntry{Artist: "a", PrizeType: "p", Threshold: decimal.NewFromInt(100)}.Missing())
	assert.ElementsMatch(t,
		[]string{"prize.artist", "prize.threshold"},
		PrizeEntry{PrizeType: "p"}.Missing())
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()
	cfg := &Config{}
	cfg.Twitch.OAuthToken = "from-file"
	cfg.Tiltify.ClientID = "file-id"
	require.NoError(t, applyEnv(cfg, map[string]string{
		"RAFFLEBOT_TWITCH_OAUTH_TOKEN":    "from-env",
		"RAFFLEBOT_TILTIFY_CLIENT_SECRET": "s3cret",
		"RAFFLEBOT_TILTIFY_CLIENT_ID":     "  ",
		"TWITCH_OAUTH_TOKEN":              "ignored",
	}))
	assert.Equal(t, "from-env", cfg.Twitch.OAuthToken)
	assert.Equal(t, "s3cret", cfg.Tiltify.ClientSecret)
	assert.Equal(t, "file-id", cfg.Tiltify.ClientID)
}

func TestMarkCompletedJSONKeepsOrder(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json", sampleJSON)
	m := newTestManager(path)
	_, err := m.Load()
	require.NoError(t, err)

	require.NoError(t, m.MarkCompleted(decimal.RequireFromString("200.5")))
	cfg := m.Get()
	assert.False(t, cfg.Prizes[0].Completed)
	assert.True(t, cfg.Prizes[1].Completed)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	s := string(b)
	assert.Less(t, strings.Index(s, `"twitch"`), strings.Index(s, `"tiltify"`))
	assert.Less(t, strings.Index(s, `"tiltify"`), strings.Index(s, `"prizes"`))
	assert.Contains(t, s, `"threshold": "200.50"`)
	assert.Contains(t, s, `"threshold": 100`)

	// Second call is a no-op; unknown thresholds are errors.
	require.NoError(t, m.MarkCompleted(decimal.RequireFromString("200.5")))
	require.Error(t, m.MarkCompleted(decimal.NewFromInt(999)))
}

func TestMarkCompletedFlagsOnlyTheIndexedPrize(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json", `{"prizes": [
  {"artist": "Ann", "prize_type": "print", "threshold": 100, "enabled": false},
  {"artist": "", "prize_type": "sketch", "threshold": 100, "enabled": true},
  {"artist": "Bo", "prize_type": "zine", "threshold": 100, "enabled": true},
  {"artist": "Cy", "prize_type": "pin", "threshold": 100, "enabled": true}
]}`)
	m := newTestManager(path)
	_, err := m.Load()
	require.NoError(t, err)

	require.NoError(t, m.MarkCompleted(decimal.NewFromInt(100)))
	var done []bool
	for _, p := range m.Get().Prizes {
		done = append(done, p.Completed)
	}
	assert.Equal(t, []bool{false, false, true, false}, done)

	// The next pending duplicate is what a rebuilt index would hold.
	require.NoError(t, m.MarkCompleted(decimal.NewFromInt(100)))
	assert.True(t, m.Get().Prizes[3].Completed)
	assert.False(t, m.Get().Prizes[0].Completed)
}

func TestParseDuration(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{raw: "", want: 0},
		{raw: "600", want: 10 * time.Minute},
		{raw: " 90s ", want: 90 * time.Second},
		{raw: "1h30m", want: 90 * time.Minute},
		{raw: "-5", wantErr: true},
		{raw: "-1m", wantErr: true},
		{raw: "soon", wantErr: true},
	}
	for _, tt := range tests {
		d, err := parseDuration("raffle.drawing_duration", tt.raw)
		if tt.wantErr {
			require.Error(t, err, tt.raw)
			assert.Contains(t, err.Error(), "raffle.drawing_duration")
			continue
		}
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, d, tt.raw)
	}

	d, err := durationOr("raffle.claim_window", "0", DefaultClaimWindow)
	require.NoError(t, err)
	assert.Equal(t, DefaultClaimWindow, d)
}

func TestMarkCompletedYAMLKeepsComments(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.yaml", sampleYAML)
	m := newTestManager(path)
	_, err := m.Load()
	require.NoError(t, err)

	require.NoError(t, m.MarkCompleted(decimal.NewFromInt(100)))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "# raffle bot")
	assert.Contains(t, string(b), "# first")
	assert.True(t, m.Get().Prizes[0].Completed)
}

func TestSaveTokens(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json", sampleJSON)
	m := newTestManager(path)
	_, err := m.Load()
	require.NoError(t, err)

	exp := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, m.SaveTokens("acc", "ref", exp))
	cfg := m.Get()
	assert.Equal(t, "acc", cfg.Tiltify.AccessToken)
	assert.Equal(t, "ref", cfg.Tiltify.RefreshToken)
	assert.Equal(t, "2030-01-02T03:04:05Z", cfg.Tiltify.TokenExpiry)
	assert.Equal(t, "secret", cfg.Tiltify.ClientSecret)
}

func TestEnsureFile(t *testing.T) {
	t.Parallel()
	for _, name := range []string{"config.json", "config.yaml"} {
		name := name
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "sub", name)
			m := newTestManager(path)
			created, err := m.EnsureFile()
			require.NoError(t, err)
			assert.True(t, created)

			cfg, err := m.Load()
			require.NoError(t, err)
			assert.Equal(t, DefaultLifetimeMinutes, cfg.Console.MaxMessageLifetimeMinutes)
			assert.Equal(t, DefaultPollingInterval, cfg.Tiltify.PollingInterval)
			assert.NotEmpty(t, cfg.Twitch.Missing())

			created, err = m.EnsureFile()
			require.NoError(t, err)
			assert.False(t, created)
		})
	}
}

func TestWatchPublishesChanges(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json", sampleJSON)
	m := newTestManager(path)
	_, err := m.Load()
	require.NoError(t, err)

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()

	updated := strings.Replace(sampleJSON, `"level": "info"`, `"level": "debug"`, 1)
	require.Eventually(t, func() bool {
		// Rewrite until the watcher is up and the change lands.
		_ = os.WriteFile(path, []byte(updated), 0o600)
		select {
		case cfg := <-ch:
			return cfg.Logging.Level == "debug"
		case <-time.After(300 * time.Millisecond):
			return false
		}
	}, 10*time.Second, 50*time.Millisecond)

	cancel()
	<-done
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()
	a := Default()
	b := Default()
	b.Twitch.Channels = []string{"chan"}
	b.Prizes = []PrizeEntry{{Artist: "a", PrizeType: "p", Threshold: decimal.NewFromInt(100), Enabled: true}}
	b.Ops.Token = "secret"

	changed, attrs := SummarizeChange(a, b)
	assert.Equal(t, []string{"twitch", "prizes", "ops"}, changed)
	assert.NotEmpty(t, attrs)

	changed, _ = SummarizeChange(a, Default())
	assert.Empty(t, changed)
}
