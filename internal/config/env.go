package config

import (
	"strings"

	"github.com/caarlos0/env/v11"
)

// envOverrides are secrets and operator knobs that may come from the
// environment instead of the file.
type envOverrides struct {
	TelegramToken string `env:"SERVERBOT_TELEGRAM_TOKEN"`
	TraktClientID string `env:"SERVERBOT_TRAKT_CLIENT_ID"`
	RetroAPIKey   string `env:"SERVERBOT_RETRO_API_KEY"`
	RedisURL      string `env:"SERVERBOT_REDIS_URL"`
	LogLevel      string `env:"SERVERBOT_LOG_LEVEL"`
}

// ApplyEnv overlays non-empty environment values onto c. A nil environ reads
// the process environment.
func (c *Config) ApplyEnv(environ map[string]string) error {
	var o envOverrides
	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&o, opts); err != nil {
		return err
	}
	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&c.Telegram.Token, o.TelegramToken)
	set(&c.Trakt.ClientID, o.TraktClientID)
	set(&c.RetroAchievements.APIKey, o.RetroAPIKey)
	set(&c.Storage.RedisURL, o.RedisURL)
	set(&c.Logging.Level, o.LogLevel)
	return nil
}
