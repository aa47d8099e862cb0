package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables that carry secrets and per-host overrides.
const (
	EnvAPIKey        = "KITE_API_KEY"
	EnvAPISecret     = "KITE_API_SECRET"
	EnvAccessToken   = "KITE_ACCESS_TOKEN"
	EnvTelegramToken = "TELEGRAM_BOT_TOKEN"
	EnvTelegramChat  = "TELEGRAM_CHAT_ID"
	EnvMode          = "OPTBOT_MODE"
	EnvRedisAddr     = "REDIS_ADDR"
	EnvRedisPassword = "REDIS_PASSWORD"
)

// LoadDotEnv loads KEY=VALUE files into the process environment.
// Variables already set win, and missing files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overlays secrets and overrides found through lookup, usually
// os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set(EnvAPIKey, &c.Broker.APIKey)
	set(EnvAPISecret, &c.Broker.APISecret)
	set(EnvAccessToken, &c.Auth.AccessToken)
	set(EnvTelegramToken, &c.Telegram.BotToken)
	set(EnvTelegramChat, &c.Telegram.ChatID)
	set(EnvRedisAddr, &c.Auth.Redis.Addr)
	set(EnvRedisPassword, &c.Auth.Redis.Password)

	var mode string
	set(EnvMode, &mode)
	if mode != "" {
		c.Mode = strings.ToLower(mode)
	}
}
