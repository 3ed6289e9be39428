package config

import (
	"reflect"
	"slices"
	"strings"

	logx "rafflebot/pkg/logx"
)

// SummarizeChange returns the names of changed sections and safe log attrs.
// Secrets are never included; only whether they are set.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if !slices.Equal(oldCfg.Twitch.Channels, newCfg.Twitch.Channels) ||
		oldCfg.Twitch.BotUserName != newCfg.Twitch.BotUserName ||
		oldCfg.Twitch.OAuthToken != newCfg.Twitch.OAuthToken ||
		oldCfg.Twitch.RespondToRaffleEntry != newCfg.Twitch.RespondToRaffleEntry ||
		oldCfg.Twitch.WinnerInstructions != newCfg.Twitch.WinnerInstructions {
		changed = append(changed, "twitch")
		attrs = append(attrs,
			logx.String("twitch.channels", strings.Join(newCfg.Twitch.Channels, ",")),
			logx.Bool("twitch.respond_to_entry", newCfg.Twitch.RespondToRaffleEntry),
		)
	}

	if oldCfg.Telegram.Enabled != newCfg.Telegram.Enabled ||
		!slices.Equal(oldCfg.Telegram.ChatIDs, newCfg.Telegram.ChatIDs) ||
		oldCfg.Telegram.PollTimeout != newCfg.Telegram.PollTimeout ||
		oldCfg.Telegram.Token != newCfg.Telegram.Token {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.enabled", newCfg.Telegram.Enabled),
			logx.Int("telegram.chat_count", len(newCfg.Telegram.ChatIDs)),
		)
	}

	o, n := oldCfg.Tiltify, newCfg.Tiltify
	if o.ClientID != n.ClientID || o.ClientSecret != n.ClientSecret || o.CampaignID != n.CampaignID ||
		o.PollingInterval != n.PollingInterval || o.BackoffCap != n.BackoffCap || o.Debug != n.Debug {
		changed = append(changed, "tiltify")
		attrs = append(attrs,
			logx.String("tiltify.campaign_id", n.CampaignID),
			logx.Int("tiltify.polling_interval", n.PollingInterval),
			logx.Bool("tiltify.secret_set", strings.TrimSpace(n.ClientSecret) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Prizes, newCfg.Prizes) {
		changed = append(changed, "prizes")
		open := 0
		for _, p := range newCfg.Prizes {
			if p.Enabled && !p.Completed {
				open++
			}
		}
		attrs = append(attrs, logx.Int("prizes.total", len(newCfg.Prizes)), logx.Int("prizes.open", open))
	}

	if oldCfg.Raffle != newCfg.Raffle {
		changed = append(changed, "raffle")
		attrs = append(attrs,
			logx.String("raffle.drawing_duration", newCfg.Raffle.DrawingDuration),
			logx.String("raffle.claim_window", newCfg.Raffle.ClaimWindow),
		)
	}
	if oldCfg.Console != newCfg.Console {
		changed = append(changed, "console")
		attrs = append(attrs, logx.Int("console.lifetime_minutes", newCfg.Console.MaxMessageLifetimeMinutes))
	}
	if oldCfg.Dispatch != newCfg.Dispatch {
		changed = append(changed, "dispatch")
		attrs = append(attrs, logx.String("dispatch.interval", newCfg.Dispatch.Interval))
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
	}
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs, logx.String("logging.level", newCfg.Logging.Level))
	}
	if oldCfg.Ops.Enabled != newCfg.Ops.Enabled || oldCfg.Ops.Addr != newCfg.Ops.Addr ||
		oldCfg.Ops.Pprof != newCfg.Ops.Pprof || oldCfg.Ops.AllowInsecure != newCfg.Ops.AllowInsecure ||
		(oldCfg.Ops.Token != "") != (newCfg.Ops.Token != "") {
		changed = append(changed, "ops")
		attrs = append(attrs,
			logx.Bool("ops.enabled", newCfg.Ops.Enabled),
			logx.String("ops.addr", newCfg.Ops.Addr),
			logx.Bool("ops.token_set", newCfg.Ops.Token != ""),
		)
	}
	return changed, attrs
}
