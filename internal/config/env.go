package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix namespaces every environment override.
const EnvPrefix = "RAFFLEBOT_"

// secrets are the values that may come from the environment instead of the
// config file. Empty variables leave the file value alone.
type secrets struct {
	TwitchBotUserName   string `env:"TWITCH_BOT_USER_NAME"`
	TwitchOAuthToken    string `env:"TWITCH_OAUTH_TOKEN"`
	TiltifyClientID     string `env:"TILTIFY_CLIENT_ID"`
	TiltifyClientSecret string `env:"TILTIFY_CLIENT_SECRET"`
	TiltifyCampaignID   string `env:"TILTIFY_CAMPAIGN_ID"`
	TelegramToken       string `env:"TELEGRAM_TOKEN"`
	OpsToken            string `env:"OPS_TOKEN"`
	LogLevel            string `env:"LOG_LEVEL"`
}

// ApplyEnv overlays RAFFLEBOT_* variables onto cfg.
func ApplyEnv(cfg *Config) error {
	return applyEnv(cfg, nil)
}

func applyEnv(cfg *Config, environ map[string]string) error {
	var s secrets
	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&s, opts); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&cfg.Twitch.BotUserName, s.TwitchBotUserName)
	set(&cfg.Twitch.OAuthToken, s.TwitchOAuthToken)
	set(&cfg.Tiltify.ClientID, s.TiltifyClientID)
	set(&cfg.Tiltify.ClientSecret, s.TiltifyClientSecret)
	set(&cfg.Tiltify.CampaignID, s.TiltifyCampaignID)
	set(&cfg.Telegram.Token, s.TelegramToken)
	set(&cfg.Ops.Token, s.OpsToken)
	set(&cfg.Logging.Level, s.LogLevel)
	return nil
}
