// Package config loads the bot configuration from YAML or JSON and
// overlays secrets from the environment.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/optbot/broker"
	"github.com/rustyeddy/optbot/indicators"
	"github.com/rustyeddy/optbot/internal/logging"
	"github.com/rustyeddy/optbot/market"
	"github.com/rustyeddy/optbot/risk"
	"github.com/rustyeddy/optbot/strategy"
)

// Trading modes.
const (
	ModePaper = "paper"
	ModeLive  = "live"
)

// Config is the complete bot configuration.
type Config struct {
	Mode     string         `json:"mode" yaml:"mode"`
	Broker   BrokerConfig   `json:"broker" yaml:"broker"`
	Auth     AuthConfig     `json:"auth" yaml:"auth"`
	Market   MarketConfig   `json:"market" yaml:"market"`
	Strategy StrategyConfig `json:"strategy" yaml:"strategy"`
	Risk     RiskConfig     `json:"risk" yaml:"risk"`
	Session  SessionConfig  `json:"session" yaml:"session"`
	Journal  JournalConfig  `json:"journal" yaml:"journal"`
	Telegram TelegramConfig `json:"telegram" yaml:"telegram"`
	Server   ServerConfig   `json:"server" yaml:"server"`
	Log      LogConfig      `json:"log" yaml:"log"`
}

// BrokerConfig holds the Kite credentials and order handling. Secrets
// are normally left empty in the file and supplied by the environment.
type BrokerConfig struct {
	APIKey       string      `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	APISecret    string      `json:"api_secret,omitempty" yaml:"api_secret,omitempty"`
	StopPct      float64     `json:"stop_pct" yaml:"stop_pct"`
	TargetPct    float64     `json:"target_pct" yaml:"target_pct"`
	TickSize     float64     `json:"tick_size" yaml:"tick_size"`
	PaperCapital float64     `json:"paper_capital" yaml:"paper_capital"`
	Ticker       bool        `json:"ticker" yaml:"ticker"`
	QuoteMaxAge  string      `json:"quote_max_age" yaml:"quote_max_age"`
	Guard        GuardConfig `json:"guard" yaml:"guard"`
}

// GuardConfig tunes retries and the order circuit breaker.
type GuardConfig struct {
	MaxRetries       uint64 `json:"max_retries" yaml:"max_retries"`
	InitialInterval  string `json:"initial_interval" yaml:"initial_interval"`
	MaxInterval      string `json:"max_interval" yaml:"max_interval"`
	BreakerThreshold int    `json:"breaker_threshold" yaml:"breaker_threshold"`
	BreakerCooldown  string `json:"breaker_cooldown" yaml:"breaker_cooldown"`
	DupWindow        string `json:"dup_window" yaml:"dup_window"`
}

// Token sources.
const (
	AuthFile  = "file"
	AuthRedis = "redis"
	AuthEnv   = "env"
)

type AuthConfig struct {
	Source      string      `json:"source" yaml:"source"`
	TokenFile   string      `json:"token_file" yaml:"token_file"`
	AccessToken string      `json:"-" yaml:"-"`
	Redis       RedisConfig `json:"redis" yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `json:"addr,omitempty" yaml:"addr,omitempty"`
	Password string `json:"-" yaml:"-"`
	DB       int    `json:"db" yaml:"db"`
	Key      string `json:"key,omitempty" yaml:"key,omitempty"`
}

// MarketConfig names the index that drives signals and the exchange its
// options trade on.
type MarketConfig struct {
	IndexSymbol    string `json:"index_symbol" yaml:"index_symbol"`
	IndexToken     uint32 `json:"index_token" yaml:"index_token"`
	Underlying     string `json:"underlying" yaml:"underlying"`
	OptionExchange string `json:"option_exchange" yaml:"option_exchange"`
	Interval       string `json:"interval" yaml:"interval"`
	LookbackDays   int    `json:"lookback_days" yaml:"lookback_days"`
}

type StrategyConfig struct {
	FastPeriod     int     `json:"fast_period" yaml:"fast_period"`
	SlowPeriod     int     `json:"slow_period" yaml:"slow_period"`
	MaxSpread      float64 `json:"max_spread" yaml:"max_spread"`
	Proximity      float64 `json:"proximity" yaml:"proximity"`
	ConfidenceBase float64 `json:"confidence_base" yaml:"confidence_base"`
	TargetDistance float64 `json:"target_distance" yaml:"target_distance"`
	CallMaxHold    string  `json:"call_max_hold" yaml:"call_max_hold"`
	PutMaxHold     string  `json:"put_max_hold" yaml:"put_max_hold"`
	DebugSignals   bool    `json:"debug_signals" yaml:"debug_signals"`
}

type RiskConfig struct {
	MaxDailyTrades       int     `json:"max_daily_trades" yaml:"max_daily_trades"`
	MaxConsecutiveLosses int     `json:"max_consecutive_losses" yaml:"max_consecutive_losses"`
	MaxDailyLoss         float64 `json:"max_daily_loss" yaml:"max_daily_loss"`
	MaxExposure          float64 `json:"max_exposure" yaml:"max_exposure"`
	LotSize              int     `json:"lot_size" yaml:"lot_size"`
	PositionSize         int     `json:"position_size" yaml:"position_size"`
	MarginUse            float64 `json:"margin_use" yaml:"margin_use"`
	AllowManualReset     bool    `json:"allow_manual_reset" yaml:"allow_manual_reset"`
}

type SessionConfig struct {
	Timezone      string   `json:"timezone" yaml:"timezone"`
	Open          string   `json:"open" yaml:"open"`
	Close         string   `json:"close" yaml:"close"`
	Holidays      []string `json:"holidays,omitempty" yaml:"holidays,omitempty"`
	CycleInterval string   `json:"cycle_interval" yaml:"cycle_interval"`
}

type JournalConfig struct {
	DBPath string `json:"db_path" yaml:"db_path"`
}

type TelegramConfig struct {
	BotToken string `json:"-" yaml:"-"`
	ChatID   string `json:"chat_id,omitempty" yaml:"chat_id,omitempty"`
}

// Enabled is true when both the bot token and chat are known.
func (t TelegramConfig) Enabled() bool { return t.BotToken != "" && t.ChatID != "" }

type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// LoadFromFile reads path over Default, overlays the environment and
// validates the result.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()

	// Try YAML first, fall back to JSON
	if err := yaml.Unmarshal(data, cfg); err != nil {
		cfg = Default()
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	cfg.ApplyEnv(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SaveToFile writes YAML for .yaml/.yml paths and JSON otherwise.
// Secrets are never written.
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks every section. Credentials are checked separately by
// RequireCredentials since a config file alone is allowed to omit them.
func (c *Config) Validate() error {
	if c.Mode != ModePaper && c.Mode != ModeLive {
		return fmt.Errorf("mode must be 'paper' or 'live', got %q", c.Mode)
	}

	if c.Broker.StopPct <= 0 || c.Broker.StopPct >= 1 {
		return fmt.Errorf("broker.stop_pct must be between 0 and 1")
	}
	if c.Broker.TargetPct <= 0 {
		return fmt.Errorf("broker.target_pct must be positive")
	}
	if c.Broker.TickSize <= 0 {
		return fmt.Errorf("broker.tick_size must be positive")
	}
	if c.Mode == ModePaper && c.Broker.PaperCapital <= 0 {
		return fmt.Errorf("broker.paper_capital must be positive in paper mode")
	}
	if _, err := c.GuardConfig(); err != nil {
		return err
	}
	if _, err := c.QuoteMaxAge(); err != nil {
		return err
	}

	switch c.Auth.Source {
	case AuthFile:
		if c.Auth.TokenFile == "" {
			return fmt.Errorf("auth.token_file required for file source")
		}
	case AuthRedis:
		if c.Auth.Redis.Addr == "" {
			return fmt.Errorf("auth.redis.addr required for redis source")
		}
	case AuthEnv:
	default:
		return fmt.Errorf("auth.source must be 'file', 'redis' or 'env'")
	}

	if c.Market.IndexSymbol == "" || c.Market.IndexToken == 0 {
		return fmt.Errorf("market.index_symbol and market.index_token are required")
	}
	if c.Market.Underlying == "" || c.Market.OptionExchange == "" {
		return fmt.Errorf("market.underlying and market.option_exchange are required")
	}
	if c.Market.Interval == "" {
		return fmt.Errorf("market.interval is required")
	}
	if c.Market.LookbackDays <= 0 {
		return fmt.Errorf("market.lookback_days must be positive")
	}

	if err := c.Periods().Validate(); err != nil {
		return fmt.Errorf("strategy: %w", err)
	}
	if err := c.Rule().Validate(); err != nil {
		return fmt.Errorf("strategy: %w", err)
	}
	exit, err := c.ExitRule()
	if err != nil {
		return err
	}
	if err := exit.Validate(); err != nil {
		return fmt.Errorf("strategy: %w", err)
	}

	if err := c.Limits().Validate(); err != nil {
		return fmt.Errorf("risk: %w", err)
	}

	if _, err := c.Calendar(); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	if _, err := c.CycleInterval(); err != nil {
		return err
	}

	if c.Journal.DBPath == "" {
		return fmt.Errorf("journal.db_path is required")
	}
	if _, err := logging.New(c.LogOptions()); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	return nil
}

// RequireCredentials reports the secrets missing for the configured
// mode. Both modes read market data from Kite.
func (c *Config) RequireCredentials() error {
	var missing []string
	if c.Broker.APIKey == "" {
		missing = append(missing, EnvAPIKey)
	}
	if c.Auth.Source == AuthEnv && c.Auth.AccessToken == "" {
		missing = append(missing, EnvAccessToken)
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing credentials: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Default returns the production defaults: paper mode on the SENSEX
// weekly options with the 10/20 EMA pullback rule.
func Default() *Config {
	l := risk.DefaultLimits()
	return &Config{
		Mode: ModePaper,
		Broker: BrokerConfig{
			StopPct:      broker.DefaultStopPct,
			TargetPct:    broker.DefaultTargetPct,
			TickSize:     broker.DefaultTickSize,
			PaperCapital: 100000,
			Ticker:       true,
			QuoteMaxAge:  "10s",
			Guard: GuardConfig{
				MaxRetries:       3,
				InitialInterval:  "500ms",
				MaxInterval:      "5s",
				BreakerThreshold: 3,
				BreakerCooldown:  "2m",
				DupWindow:        "30s",
			},
		},
		Auth: AuthConfig{
			Source:    AuthFile,
			TokenFile: "data/access_token.txt",
			Redis:     RedisConfig{Key: "optbot:access_token"},
		},
		Market: MarketConfig{
			IndexSymbol:    "BSE:SENSEX",
			IndexToken:     265,
			Underlying:     "SENSEX",
			OptionExchange: "BFO",
			Interval:       "3minute",
			LookbackDays:   3,
		},
		Strategy: StrategyConfig{
			FastPeriod:     indicators.DefaultFast,
			SlowPeriod:     indicators.DefaultSlow,
			MaxSpread:      strategy.DefaultMaxSpread,
			Proximity:      strategy.DefaultProximity,
			ConfidenceBase: strategy.DefaultConfidenceBase,
			TargetDistance: strategy.DefaultTargetDistance,
			CallMaxHold:    strategy.DefaultCallMaxHold.String(),
			PutMaxHold:     strategy.DefaultPutMaxHold.String(),
			DebugSignals:   true,
		},
		Risk: RiskConfig{
			MaxDailyTrades:       l.MaxDailyTrades,
			MaxConsecutiveLosses: l.MaxConsecutiveLosses,
			MaxDailyLoss:         l.MaxDailyLoss,
			MaxExposure:          l.MaxExposure,
			LotSize:              l.LotSize,
			PositionSize:         l.PositionSize,
			MarginUse:            l.MarginUse,
		},
		Session: SessionConfig{
			Timezone:      market.DefaultZone,
			Open:          "09:15",
			Close:         "15:30",
			CycleInterval: "3m",
		},
		Journal: JournalConfig{DBPath: "data/optbot.db"},
		Server:  ServerConfig{Addr: "127.0.0.1:8090"},
		Log:     LogConfig{Level: "info", Format: "console"},
	}
}

func (c *Config) Limits() risk.Limits {
	return risk.Limits{
		MaxDailyTrades:       c.Risk.MaxDailyTrades,
		MaxConsecutiveLosses: c.Risk.MaxConsecutiveLosses,
		MaxDailyLoss:         c.Risk.MaxDailyLoss,
		MaxExposure:          c.Risk.MaxExposure,
		LotSize:              c.Risk.LotSize,
		PositionSize:         c.Risk.PositionSize,
		MarginUse:            c.Risk.MarginUse,
		AllowManualReset:     c.Risk.AllowManualReset,
	}
}

func (c *Config) Periods() indicators.Periods {
	return indicators.Periods{Fast: c.Strategy.FastPeriod, Slow: c.Strategy.SlowPeriod}
}

func (c *Config) Rule() strategy.Rule {
	return strategy.Rule{
		MaxSpread:      c.Strategy.MaxSpread,
		Proximity:      c.Strategy.Proximity,
		ConfidenceBase: c.Strategy.ConfidenceBase,
	}
}

func (c *Config) ExitRule() (strategy.ExitRule, error) {
	ce, err := parseDuration("strategy.call_max_hold", c.Strategy.CallMaxHold)
	if err != nil {
		return strategy.ExitRule{}, err
	}
	pe, err := parseDuration("strategy.put_max_hold", c.Strategy.PutMaxHold)
	if err != nil {
		return strategy.ExitRule{}, err
	}
	return strategy.ExitRule{
		TargetDistance: c.Strategy.TargetDistance,
		CallMaxHold:    ce,
		PutMaxHold:     pe,
	}, nil
}

// GuardConfig converts the broker.guard section. Unset durations keep
// the broker defaults.
func (c *Config) GuardConfig() (broker.GuardConfig, error) {
	g := broker.DefaultGuardConfig()
	in := c.Broker.Guard
	if in.MaxRetries > 0 {
		g.MaxRetries = in.MaxRetries
	}
	if in.BreakerThreshold < 0 {
		return g, fmt.Errorf("broker.guard.breaker_threshold must not be negative")
	}
	if in.BreakerThreshold > 0 {
		g.BreakerThreshold = in.BreakerThreshold
	}
	for _, d := range []struct {
		field string
		val   string
		dst   *time.Duration
	}{
		{"broker.guard.initial_interval", in.InitialInterval, &g.InitialInterval},
		{"broker.guard.max_interval", in.MaxInterval, &g.MaxInterval},
		{"broker.guard.breaker_cooldown", in.BreakerCooldown, &g.BreakerCooldown},
		{"broker.guard.dup_window", in.DupWindow, &g.DupWindow},
	} {
		if d.val == "" {
			continue
		}
		v, err := parseDuration(d.field, d.val)
		if err != nil {
			return g, err
		}
		*d.dst = v
	}
	return g, nil
}

func (c *Config) QuoteMaxAge() (time.Duration, error) {
	return parseDuration("broker.quote_max_age", c.Broker.QuoteMaxAge)
}

func (c *Config) CycleInterval() (time.Duration, error) {
	return parseDuration("session.cycle_interval", c.Session.CycleInterval)
}

// Calendar builds the exchange calendar for the session section.
func (c *Config) Calendar() (*market.Calendar, error) {
	cal, err := market.NewCalendar(c.Session.Timezone, c.Session.Holidays)
	if err != nil {
		return nil, err
	}
	if c.Session.Open != "" || c.Session.Close != "" {
		if err := cal.SetSession(c.Session.Open, c.Session.Close); err != nil {
			return nil, err
		}
	}
	return cal, nil
}

func (c *Config) LogOptions() logging.Options {
	return logging.Options{Level: c.Log.Level, Format: c.Log.Format}
}

func parseDuration(field, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", field)
	}
	return d, nil
}
