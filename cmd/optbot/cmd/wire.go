package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/rustyeddy/optbot/auth"
	"github.com/rustyeddy/optbot/broker"
	"github.com/rustyeddy/optbot/broker/kite"
	"github.com/rustyeddy/optbot/broker/paper"
	"github.com/rustyeddy/optbot/config"
	"github.com/rustyeddy/optbot/journal"
	"github.com/rustyeddy/optbot/market"
	"github.com/rustyeddy/optbot/notify"
	"github.com/rustyeddy/optbot/risk"
	"github.com/rustyeddy/optbot/server"
	"github.com/rustyeddy/optbot/session"
)

// openJournal creates the database directory on first use.
func openJournal(path string) (*journal.SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}
	j, err := journal.NewSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	return j, nil
}

// tokenStore returns the configured token source. The redis client is
// non-nil only for the redis source and must be closed by the caller.
func tokenStore(cfg *config.Config) (auth.Source, *redis.Client) {
	switch cfg.Auth.Source {
	case config.AuthRedis:
		src, client := auth.NewRedisSource(auth.RedisOptions{
			Addr:     cfg.Auth.Redis.Addr,
			Password: cfg.Auth.Redis.Password,
			DB:       cfg.Auth.Redis.DB,
			Key:      cfg.Auth.Redis.Key,
		})
		return auth.Chain{src, auth.Static(cfg.Auth.AccessToken)}, client
	case config.AuthEnv:
		return auth.Static(cfg.Auth.AccessToken), nil
	default:
		return auth.Chain{auth.NewFileSource(cfg.Auth.TokenFile), auth.Static(cfg.Auth.AccessToken)}, nil
	}
}

// writableStore is the source token set writes to.
func writableStore(cfg *config.Config) (auth.Store, *redis.Client, error) {
	switch cfg.Auth.Source {
	case config.AuthRedis:
		src, client := auth.NewRedisSource(auth.RedisOptions{
			Addr:     cfg.Auth.Redis.Addr,
			Password: cfg.Auth.Redis.Password,
			DB:       cfg.Auth.Redis.DB,
			Key:      cfg.Auth.Redis.Key,
		})
		return src, client, nil
	case config.AuthFile:
		return auth.NewFileSource(cfg.Auth.TokenFile), nil, nil
	default:
		return nil, nil, fmt.Errorf("auth source %q is read-only; set %s instead", cfg.Auth.Source, config.EnvAccessToken)
	}
}

// loadToken fetches today's access token. A token issued before the
// morning session reset is refused.
func loadToken(ctx context.Context, cfg *config.Config, cal *market.Calendar) (auth.Token, error) {
	src, client := tokenStore(cfg)
	if client != nil {
		defer client.Close()
	}
	tok, err := src.Load(ctx)
	if err != nil {
		if errors.Is(err, auth.ErrNoToken) {
			return auth.Token{}, fmt.Errorf("%w: run the login flow or `optbot token set`", err)
		}
		return auth.Token{}, err
	}
	if tok.Expired(time.Now(), cal.Location) {
		return auth.Token{}, fmt.Errorf("access token %s was issued %s, before today's session reset", tok.Masked(), tok.IssuedAt.Format(time.DateTime))
	}
	return tok, nil
}

// bot is everything run needs, built from the config.
type bot struct {
	cfg     *config.Config
	journal *journal.SQLite
	ticker  *kite.Ticker
	guard   *broker.Guard
	trader  *session.Trader
	server  *server.Server
	log     zerolog.Logger
}

func buildBot(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*bot, error) {
	if err := cfg.RequireCredentials(); err != nil {
		return nil, err
	}
	cal, err := cfg.Calendar()
	if err != nil {
		return nil, err
	}
	exit, err := cfg.ExitRule()
	if err != nil {
		return nil, err
	}
	gcfg, err := cfg.GuardConfig()
	if err != nil {
		return nil, err
	}
	every, err := cfg.CycleInterval()
	if err != nil {
		return nil, err
	}
	maxAge, err := cfg.QuoteMaxAge()
	if err != nil {
		return nil, err
	}

	tok, err := loadToken(ctx, cfg, cal)
	if err != nil {
		return nil, err
	}
	log.Info().Str("token", tok.Masked()).Str("source", cfg.Auth.Source).Msg("access token loaded")

	j, err := openJournal(cfg.Journal.DBPath)
	if err != nil {
		return nil, err
	}
	_ = j.RecordEvent(ctx, journal.Event{Time: time.Now(), Kind: journal.EventTokenLoad, Message: "token " + tok.Masked() + " from " + cfg.Auth.Source})

	kc := kite.NewClient(cfg.Broker.APIKey, tok.Value)
	quotes := market.NewQuoteStore()
	quotes.Bind(cfg.Market.IndexToken, cfg.Market.IndexSymbol)

	b := &bot{cfg: cfg, journal: j, log: log}
	if cfg.Broker.Ticker {
		b.ticker = kite.NewTicker(cfg.Broker.APIKey, tok.Value, quotes, log)
	}

	var inner broker.Broker = kc
	var pe *paper.Engine
	if cfg.Mode == config.ModePaper {
		pe = paper.NewEngine(kc, cfg.Broker.PaperCapital, quotes)
		pe.SetMaxAge(maxAge)
		inner = pe
	}
	b.guard = broker.NewGuard(inner, gcfg, log)

	rm := risk.NewManager(cfg.Limits(), j, cal, log)
	n := notify.NewManager(log, notify.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID))

	b.trader, err = session.New(session.Options{
		Mode:           cfg.Mode,
		IndexSymbol:    cfg.Market.IndexSymbol,
		IndexToken:     cfg.Market.IndexToken,
		Underlying:     cfg.Market.Underlying,
		OptionExchange: cfg.Market.OptionExchange,
		Interval:       cfg.Market.Interval,
		LookbackDays:   cfg.Market.LookbackDays,
		Every:          every,
		Periods:        cfg.Periods(),
		Rule:           cfg.Rule(),
		Exit:           exit,
		StopPct:        cfg.Broker.StopPct,
		TargetPct:      cfg.Broker.TargetPct,
		TickSize:       cfg.Broker.TickSize,
		DebugSignals:   cfg.Strategy.DebugSignals,
	}, b.guard, j, rm, cal, n, log)
	if err != nil {
		_ = j.Close()
		return nil, err
	}
	if pe != nil {
		b.trader.UsePaper(pe)
	}

	deps := server.Deps{Status: b.trader, DB: j, Breaker: b.guard.Breaker}
	if b.ticker != nil {
		deps.Feed = b.ticker
	}
	if cfg.Server.Addr != "" {
		b.server = server.New(cfg.Server.Addr, deps, log)
	}
	return b, nil
}

// run blocks until ctx is cancelled or the trading loop hits a fatal
// error. The ticker and the status API stop with the loop.
func (b *bot) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		name string
		err  error
	}
	done := make(chan result, 3)
	running := 0
	start := func(name string, fn func(context.Context) error) {
		running++
		go func() { done <- result{name, fn(ctx)} }()
	}

	if b.ticker != nil {
		start("ticker", func(ctx context.Context) error {
			return b.ticker.Run(ctx, []uint32{b.cfg.Market.IndexToken})
		})
	}
	if b.server != nil {
		start("server", b.server.Run)
	}
	start("trader", b.trader.Run)

	var first error
	for ; running > 0; running-- {
		r := <-done
		if r.err != nil && !errors.Is(r.err, context.Canceled) {
			b.log.Error().Err(r.err).Str("part", r.name).Msg("stopped with error")
			if first == nil {
				first = fmt.Errorf("%s: %w", r.name, r.err)
			}
		}
		// The ticker is optional; quotes fall back to REST without it.
		if r.name != "ticker" || broker.IsFatal(r.err) {
			cancel()
		}
	}
	return first
}

func (b *bot) close() error {
	return b.journal.Close()
}
