package app

import (
	"strconv"
	"strings"
	"time"

	"rafflebot/internal/chat/telegram"
	"rafflebot/internal/chat/twitch"
	"rafflebot/internal/config"
	"rafflebot/internal/dispatch"
	"rafflebot/internal/donation"
	"rafflebot/internal/donation/tiltify"
	"rafflebot/internal/drawing"
	"rafflebot/internal/observability/ops"
	"rafflebot/internal/raffle"
	"rafflebot/internal/storage"
	logx "rafflebot/pkg/logx"
)

// Config sections are mapped to service configs here so the services never
// import internal/config.

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config, rt config.Runtime) storage.Config {
	return storage.Config{
		Driver:      strings.TrimSpace(cfg.Storage.Driver),
		Path:        strings.TrimSpace(cfg.Storage.Path),
		BusyTimeout: rt.BusyTimeout,
	}
}

func mapTwitchConfig(cfg *config.Config) twitch.Config {
	return twitch.Config{
		URL:        cfg.Twitch.URL,
		Username:   cfg.Twitch.BotUserName,
		OAuthToken: cfg.Twitch.OAuthToken,
		Channels:   append([]string(nil), cfg.Twitch.Channels...),
		Prefixes:   "!",
	}
}

func mapTelegramConfig(cfg *config.Config, rt config.Runtime) telegram.Config {
	return telegram.Config{
		Token:       cfg.Telegram.Token,
		ChatIDs:     append([]int64(nil), cfg.Telegram.ChatIDs...),
		PollTimeout: rt.TelegramPoll,
	}
}

func telegramChats(cfg *config.Config) []string {
	out := make([]string, 0, len(cfg.Telegram.ChatIDs))
	for _, id := range cfg.Telegram.ChatIDs {
		out = append(out, strconv.FormatInt(id, 10))
	}
	return out
}

func mapTiltifyConfig(cfg *config.Config) tiltify.Config {
	return tiltify.Config{
		ClientID:     cfg.Tiltify.ClientID,
		ClientSecret: cfg.Tiltify.ClientSecret,
		BaseURL:      cfg.Tiltify.BaseURL,
	}
}

// storedToken returns the token written back by a previous run, if any.
func storedToken(cfg *config.Config) (donation.Token, bool) {
	t := cfg.Tiltify
	if strings.TrimSpace(t.AccessToken) == "" {
		return donation.Token{}, false
	}
	tok := donation.Token{AccessToken: t.AccessToken, RefreshToken: t.RefreshToken}
	if exp, err := time.Parse(time.RFC3339, strings.TrimSpace(t.TokenExpiry)); err == nil {
		tok.Expiry = exp
	}
	return tok, true
}

func mapPollerConfig(cfg *config.Config, rt config.Runtime) donation.Config {
	return donation.Config{
		CampaignID:   cfg.Tiltify.CampaignID,
		PollInterval: rt.PollInterval,
		BackoffCap:   rt.BackoffCap,
	}
}

func mapDrawingConfig(cfg *config.Config, rt config.Runtime) drawing.Config {
	return drawing.Config{
		ClaimWindow:        rt.ClaimWindow,
		RespondToEntry:     cfg.Twitch.RespondToRaffleEntry,
		WinnerInstructions: cfg.Twitch.WinnerInstructions,
	}
}

func mapDispatchConfig(cfg *config.Config, rt config.Runtime) dispatch.Config {
	return dispatch.Config{Interval: rt.DispatchEvery, QueueSize: cfg.Dispatch.QueueSize}
}

func mapOpsConfig(cfg *config.Config) ops.Config {
	return ops.Config{
		Enabled:       cfg.Ops.Enabled,
		Addr:          cfg.Ops.Addr,
		Token:         cfg.Ops.Token,
		AllowInsecure: cfg.Ops.AllowInsecure,
		Pprof:         cfg.Ops.Pprof,
	}
}

func mapPrize(p config.PrizeEntry) raffle.Entry {
	return raffle.Entry{
		Artist:    strings.TrimSpace(p.Artist),
		PrizeType: strings.TrimSpace(p.PrizeType),
		Threshold: p.Threshold,
		Enabled:   p.Enabled,
		Completed: p.Completed,
		Duration:  time.Duration(p.DrawingDurationSeconds) * time.Second,
	}
}
