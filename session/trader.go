// Package session runs the trading loop: one evaluation of the index
// chart per candle, exits before entries, every step journalled.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/optbot/broker"
	"github.com/rustyeddy/optbot/broker/paper"
	"github.com/rustyeddy/optbot/indicators"
	"github.com/rustyeddy/optbot/internal/id"
	"github.com/rustyeddy/optbot/journal"
	"github.com/rustyeddy/optbot/market"
	"github.com/rustyeddy/optbot/notify"
	"github.com/rustyeddy/optbot/risk"
	"github.com/rustyeddy/optbot/strategy"
)

// Exit reasons beyond the exit rule's own.
const (
	ReasonStopOrder   = "STOP_ORDER"
	ReasonTargetOrder = "TARGET_ORDER"
	ReasonSessionEnd  = "EXIT_EOD"
	ReasonNotFilled   = "NOT_FILLED"
)

// TagPrefix starts every order tag the bot places.
const TagPrefix = "ob"

// Store is the journal surface the loop uses.
type Store interface {
	journal.Journal
	OpenPositions(ctx context.Context) ([]journal.Position, error)
	ListPositionsClosedBetween(ctx context.Context, start, end time.Time) ([]journal.Position, error)
	UpsertSession(ctx context.Context, s journal.Session) error
	GetSession(ctx context.Context, date string) (journal.Session, error)
}

// Options is the strategy wiring for one Trader.
type Options struct {
	Mode           string
	IndexSymbol    string
	IndexToken     uint32
	Underlying     string
	OptionExchange string
	Interval       string
	LookbackDays   int
	Every          time.Duration
	Periods        indicators.Periods
	Rule           strategy.Rule
	Exit           strategy.ExitRule
	StopPct        float64
	TargetPct      float64
	TickSize       float64
	DebugSignals   bool
}

// Trader owns the open position and the session totals. Cycle and Run
// must be called from a single goroutine; Status is safe from any.
type Trader struct {
	opts     Options
	interval time.Duration
	broker   broker.Broker
	store    Store
	risk     *risk.Manager
	cal      *market.Calendar
	notify   *notify.Manager
	log      zerolog.Logger
	now      func() time.Time

	pos        *journal.Position
	sess       journal.Session
	chain      *market.OptionChain
	chainDay   string
	lastCandle time.Time
	lastErr    string
	reported   string

	paper       *paper.Engine
	pendingExit string
	orphans     []string

	legMu  sync.Mutex
	legged []paper.Bracket

	mu   sync.RWMutex
	snap Status
}

func New(opts Options, b broker.Broker, store Store, rm *risk.Manager, cal *market.Calendar, n *notify.Manager, log zerolog.Logger) (*Trader, error) {
	d, err := IntervalDuration(opts.Interval)
	if err != nil {
		return nil, err
	}
	if err := opts.Periods.Validate(); err != nil {
		return nil, err
	}
	if opts.Every <= 0 {
		opts.Every = d
	}
	if opts.LookbackDays <= 0 {
		opts.LookbackDays = 3
	}
	return &Trader{
		opts:     opts,
		interval: d,
		broker:   b,
		store:    store,
		risk:     rm,
		cal:      cal,
		notify:   n,
		log:      log.With().Str("component", "session").Logger(),
		now:      time.Now,
	}, nil
}

// UsePaper tells the trader its broker is a paper engine, so positions
// resumed at start are re-seeded there and leg exits come back through
// OnBracketClosed.
func (t *Trader) UsePaper(e *paper.Engine) {
	t.paper = e
	e.SetClosedListener(t)
}

// Start restores the risk counters, any position left open by a
// previous run and today's session row.
func (t *Trader) Start(ctx context.Context) error {
	now := t.now()
	if err := t.risk.InitAtStartup(ctx, now); err != nil {
		return fmt.Errorf("restore risk state: %w", err)
	}

	open, err := t.store.OpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("load open positions: %w", err)
	}
	for i := range open {
		if open[i].Mode == t.opts.Mode {
			p := open[i]
			t.pos = &p
		}
	}
	if t.pos != nil {
		t.log.Warn().Str("position", t.pos.ID).Str("symbol", t.pos.Symbol).Msg("resuming open position")
		if t.paper != nil {
			if err := t.paper.Restore(t.bracket(*t.pos)); err != nil {
				t.log.Warn().Err(err).Str("position", t.pos.ID).Msg("restore paper bracket")
			}
		}
	}

	t.ensureSession(ctx, now)
	t.event(ctx, journal.EventStart, fmt.Sprintf("mode=%s", t.opts.Mode), now)
	t.notify.Send(ctx, notify.Started(t.opts.Mode, t.risk.Limits(), now))
	_, why := t.cal.Status(now)
	t.publish(now, t.cal.IsOpen(now), why)
	return nil
}

// Run drives Cycle every Options.Every until ctx is cancelled or a
// fatal broker error occurs.
func (t *Trader) Run(ctx context.Context) error {
	if err := t.Start(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(t.opts.Every)
	defer ticker.Stop()

	if err := t.step(ctx); err != nil {
		t.stop(ctx, err.Error())
		return err
	}
	for {
		select {
		case <-ctx.Done():
			t.stop(ctx, "shutdown requested")
			return nil
		case <-ticker.C:
			if err := t.step(ctx); err != nil {
				t.stop(ctx, err.Error())
				return err
			}
		}
	}
}

// step runs one cycle and keeps only fatal errors.
func (t *Trader) step(ctx context.Context) error {
	err := t.Cycle(ctx)
	switch {
	case err == nil:
		metricCycles.WithLabelValues("ok").Inc()
		t.lastErr = ""
		t.setError("")
		return nil
	case ctx.Err() != nil:
		return nil
	case broker.IsFatal(err):
		metricCycles.WithLabelValues("fatal").Inc()
		t.log.Error().Err(err).Msg("fatal broker error")
		now := t.now()
		t.event(ctx, journal.EventError, err.Error(), now)
		t.notify.Send(ctx, notify.Error("Fatal error", err, now))
		return err
	}

	metricCycles.WithLabelValues("error").Inc()
	now := t.now()
	t.log.Warn().Err(err).Msg("cycle skipped")
	t.event(ctx, journal.EventError, err.Error(), now)
	if msg := err.Error(); msg != t.lastErr {
		t.lastErr = msg
		t.notify.Send(ctx, notify.Error("Cycle skipped", err, now))
	}
	t.setError(err.Error())
	return nil
}

func (t *Trader) stop(ctx context.Context, reason string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	now := t.now()
	if t.sess.Date != "" {
		t.sess.EndedAt = now
		if err := t.store.UpsertSession(ctx, t.sess); err != nil {
			t.log.Warn().Err(err).Msg("save session")
		}
	}
	t.event(ctx, journal.EventStop, reason, now)
	t.notify.Send(ctx, notify.Stopped(reason, now))
	t.log.Info().Str("reason", reason).Msg("trader stopped")
}

// Cycle is one pass of the loop. Outside market hours it only handles
// the end-of-day exit and report.
func (t *Trader) Cycle(ctx context.Context) error {
	now := t.now()
	t.cancelOrphans(ctx, now)
	isOpen, why := t.cal.Status(now)
	if !isOpen {
		err := t.afterHours(ctx, now)
		t.publish(now, false, why)
		return err
	}

	rolled, err := t.risk.RolloverIfNeeded(ctx, now)
	if err != nil {
		return err
	}
	if rolled {
		day := t.risk.State().Day
		t.event(ctx, journal.EventDayReset, day, now)
		t.notify.Send(ctx, notify.DayReset(day, now))
	}
	t.ensureSession(ctx, now)

	candles, err := t.candles(ctx, now)
	if err != nil {
		t.publish(now, true, why)
		return err
	}
	last := candles[len(candles)-1]
	ema, err := indicators.Latest(candles, t.opts.Periods)
	if err != nil {
		t.publish(now, true, why)
		return fmt.Errorf("ema: %w", err)
	}
	t.setChart(last, ema)

	if t.pos != nil {
		err = t.manage(ctx, last, ema, now)
	} else {
		err = t.scan(ctx, last, ema, now)
	}

	if serr := t.store.UpsertSession(ctx, t.sess); serr != nil {
		t.log.Warn().Err(serr).Msg("save session")
	}
	t.publish(now, true, why)
	return err
}

func (t *Trader) candles(ctx context.Context, now time.Time) ([]market.Candle, error) {
	cs, err := t.broker.Candles(ctx, broker.CandlesRequest{
		Token:    t.opts.IndexToken,
		Interval: t.opts.Interval,
		From:     now.AddDate(0, 0, -t.opts.LookbackDays),
		To:       now,
	})
	if err != nil {
		return nil, fmt.Errorf("candles %s: %w", t.opts.IndexSymbol, err)
	}
	cs = completed(cs, now, t.interval)
	if len(cs) < t.opts.Periods.MinCandles() {
		return nil, fmt.Errorf("candles %s: have %d, need %d: %w",
			t.opts.IndexSymbol, len(cs), t.opts.Periods.MinCandles(), broker.ErrNoData)
	}
	return cs, nil
}

// manage marks the open position, settles legs that closed it and
// applies the exit rule on the index candle.
func (t *Trader) manage(ctx context.Context, last market.Candle, ema indicators.Pair, now time.Time) error {
	p := t.pos
	key := p.Exchange + ":" + p.Symbol
	if q, err := t.broker.Quote(ctx, key); err != nil {
		t.log.Warn().Err(err).Str("symbol", key).Msg("mark position")
	} else {
		t.setMark(q.Last)
	}
	if t.settleLegs(ctx) {
		return nil
	}
	if t.paper == nil && t.legFilled(ctx) {
		t.log.Info().Str("position", p.ID).Msg("protective leg filled")
		return t.exit(ctx, ReasonStopOrder, now)
	}

	chk := t.opts.Exit.Check(strategy.Holding{Side: strategy.Side(p.OptionType), EntryTime: p.EntryTime}, last, ema, now)
	t.log.Debug().
		Str("position", p.ID).
		Str("decision", string(chk.Decision)).
		Str("reason", chk.Reason).
		Msg("exit check")
	if !chk.Decision.Closes() {
		return nil
	}
	t.log.Info().Str("position", p.ID).Str("decision", string(chk.Decision)).Str("reason", chk.Reason).Msg("exit signal")
	return t.exit(ctx, string(chk.Decision), now)
}

func (t *Trader) exit(ctx context.Context, reason string, now time.Time) error {
	p := t.pos
	fill, err := t.broker.ExitPosition(ctx, broker.ExitRequest{
		Exchange:      p.Exchange,
		Symbol:        p.Symbol,
		Quantity:      p.Quantity,
		EntryOrderID:  p.EntryOrderID,
		ExitOrderID:   t.pendingExit,
		StopOrderID:   p.StopOrderID,
		TargetOrderID: p.TargetOrderID,
		Tag:           id.Tag(TagPrefix, p.ID),
	})
	var orphan string
	switch {
	case err == nil:
	case errors.Is(err, broker.ErrOrderPending) && fill.OrderID != "":
		t.pendingExit = fill.OrderID
		return fmt.Errorf("exit %s: %w", p.Symbol, err)
	case errors.Is(err, broker.ErrNotFilled):
		t.log.Warn().Err(err).Str("position", p.ID).Msg("entry never filled")
		fill = broker.OrderFill{OrderID: p.EntryOrderID, Price: p.EntryPrice, Time: now}
		reason = ReasonNotFilled
	case errors.Is(err, broker.ErrLegOpen) && fill.OrderID != "":
		orphan = p.TargetOrderID
		if fill.OrderID == p.TargetOrderID {
			orphan = p.StopOrderID
		}
	default:
		return fmt.Errorf("exit %s: %w", p.Symbol, err)
	}
	if orphan != "" {
		t.orphans = append(t.orphans, orphan)
		t.log.Error().Err(err).Str("order", orphan).Msg("protective leg left open")
		t.event(ctx, journal.EventError, err.Error(), now)
		t.notify.Send(ctx, notify.Error("Protective leg still open", err, now))
	}
	switch {
	case p.StopOrderID != "" && fill.OrderID == p.StopOrderID:
		reason = ReasonStopOrder
	case p.TargetOrderID != "" && fill.OrderID == p.TargetOrderID:
		reason = ReasonTargetOrder
	}
	if fill.Time.IsZero() {
		fill.Time = now
	}
	return t.finish(ctx, fill, reason)
}

// finish books a closed position everywhere.
func (t *Trader) finish(ctx context.Context, fill broker.OrderFill, reason string) error {
	p := *t.pos
	p.Status = journal.StatusClosed
	p.ExitPrice = fill.Price
	p.ExitTime = fill.Time
	p.ExitReason = reason
	p.PnL = (fill.Price - p.EntryPrice) * float64(p.Quantity)
	t.pos = nil
	t.pendingExit = ""

	var errs []error
	if err := t.store.ClosePosition(ctx, p.ID, journal.Exit{Price: p.ExitPrice, Time: p.ExitTime, Reason: reason, PnL: p.PnL}); err != nil {
		errs = append(errs, err)
	}
	if err := t.risk.RecordClosed(ctx, p.PnL, p.ExitTime); err != nil {
		errs = append(errs, err)
	}
	t.sess.PositionsClosed++
	t.sess.PnL += p.PnL

	t.log.Info().
		Str("position", p.ID).
		Str("symbol", p.Symbol).
		Float64("exit", p.ExitPrice).
		Float64("pnl", p.PnL).
		Str("reason", reason).
		Msg("position closed")
	t.event(ctx, journal.EventExit, fmt.Sprintf("%s %s @ %.2f pnl %.2f", p.Symbol, reason, p.ExitPrice, p.PnL), p.ExitTime)
	t.notify.Send(ctx, notify.TradeClosed(p))

	st, l := t.risk.State(), t.risk.Limits()
	if !st.Halted && st.DailyPnL <= l.MaxDailyLoss {
		if err := t.Halt(ctx, fmt.Sprintf("daily loss %.2f reached the %.0f cap", st.DailyPnL, l.MaxDailyLoss)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// scan evaluates the entry rule once per completed candle.
func (t *Trader) scan(ctx context.Context, last market.Candle, ema indicators.Pair, now time.Time) error {
	if !last.Time.After(t.lastCandle) {
		return nil
	}
	t.lastCandle = last.Time

	sig := t.opts.Rule.Evaluate(last, ema)
	metricSignals.WithLabelValues(string(sig.Side)).Inc()
	t.setSignal(sig)
	t.log.Debug().
		Str("side", string(sig.Side)).
		Int("passed", sig.Passed()).
		Float64("confidence", sig.Confidence).
		Str("ema", ema.String()).
		Msg("signal check")
	if !sig.Fired() {
		return nil
	}

	t.sess.Signals++
	t.event(ctx, journal.EventSignal, fmt.Sprintf("%s conf=%.2f close=%.2f %s", sig.Side, sig.Confidence, last.Close, ema), now)
	if t.opts.DebugSignals {
		t.notify.Send(ctx, notify.SignalDebug(sig, now))
	}

	if d := t.risk.Check(risk.Intent{Now: now}); !d.Allowed {
		t.deny(ctx, d, now)
		return nil
	}
	return t.enter(ctx, sig, now)
}

func (t *Trader) enter(ctx context.Context, sig strategy.Signal, now time.Time) error {
	typ, _ := sig.Side.OptionType()
	local := now.In(t.cal.Location)
	strike := market.ATMStrike(sig.Candle.Close, local)

	chain, err := t.optionChain(ctx, local)
	if err != nil {
		return err
	}
	inst, err := chain.Weekly(local, strike, typ)
	if err != nil {
		return fmt.Errorf("resolve option: %w", err)
	}
	key := inst.Key()

	q, err := t.broker.Quote(ctx, key)
	if err != nil {
		return fmt.Errorf("quote %s: %w", key, err)
	}
	premium := q.Ask
	if premium <= 0 {
		premium = q.Last
	}
	if premium <= 0 {
		return fmt.Errorf("quote %s has no price: %w", key, broker.ErrNoData)
	}

	acct, err := t.broker.Margins(ctx)
	if err != nil {
		return fmt.Errorf("margins: %w", err)
	}
	limits := t.risk.Limits()
	size, err := risk.Calculate(limits, risk.Inputs{Premium: premium, Available: acct.Available})
	if err != nil && !errors.Is(err, risk.ErrInsufficientFunds) {
		return fmt.Errorf("size %s: %w", key, err)
	}

	intent := risk.Intent{Now: now, Symbol: key, Quantity: size.Quantity, Premium: premium}
	if d := t.risk.Check(intent); !d.Allowed {
		t.deny(ctx, d, now)
		return nil
	}

	posID := id.New()
	stop, target := broker.BracketPrices(premium, t.opts.StopPct, t.opts.TargetPct, t.opts.TickSize)
	t.log.Info().
		Str("position", posID).
		Str("symbol", key).
		Int("qty", size.Quantity).
		Float64("premium", premium).
		Float64("stop", stop).
		Float64("target", target).
		Str("limited_by", size.LimitedBy).
		Msg("placing bracket order")

	fill, err := t.broker.PlaceBracketOrder(ctx, broker.BracketOrderRequest{
		Exchange: inst.Exchange,
		Symbol:   inst.Symbol,
		Quantity: size.Quantity,
		StopLoss: stop,
		Target:   target,
		Tag:      id.Tag(TagPrefix, posID),
	})
	unprotected := errors.Is(err, broker.ErrUnprotected)
	pending := errors.Is(err, broker.ErrOrderPending) && fill.OrderID != ""
	if err != nil && !unprotected && !pending {
		return fmt.Errorf("place %s: %w", key, err)
	}
	if fill.Price <= 0 {
		fill.Price = premium
	}

	if fill.Time.IsZero() {
		fill.Time = now
	}
	if fill.Quantity == 0 {
		fill.Quantity = size.Quantity
	}
	p := journal.Position{
		ID:            posID,
		Mode:          t.opts.Mode,
		Symbol:        inst.Symbol,
		Exchange:      inst.Exchange,
		OptionType:    string(typ),
		Strike:        inst.Strike,
		Expiry:        inst.Expiry,
		Quantity:      fill.Quantity,
		EntryPrice:    fill.Price,
		EntryTime:     fill.Time,
		EntryOrderID:  fill.OrderID,
		StopOrderID:   fill.StopOrderID,
		TargetOrderID: fill.TargetOrderID,
		EntryIndex:    sig.Candle.Close,
		StopLoss:      sig.EMA.Slow,
		Target:        sig.EMA.Slow + targetOffset(t.opts.Exit, sig.Side),
		Confidence:    sig.Confidence,
		Status:        journal.StatusOpen,
	}
	t.pos = &p

	var errs []error
	if err := t.store.OpenPosition(ctx, p); err != nil {
		errs = append(errs, fmt.Errorf("journal %s: %w", p.ID, err))
	}
	if err := t.risk.RecordOpened(ctx, p.EntryTime); err != nil {
		errs = append(errs, err)
	}
	t.sess.PositionsOpened++

	t.event(ctx, journal.EventOrder, fmt.Sprintf("%s x %d @ %.2f order %s", key, p.Quantity, p.EntryPrice, p.EntryOrderID), now)
	t.notify.Send(ctx, notify.TradeOpened(p))
	switch {
	case unprotected:
		t.log.Error().Err(err).Str("position", p.ID).Msg("entry filled without protective orders")
		t.notify.Send(ctx, notify.Error("Position unprotected", err, now))
	case pending:
		// Book the order as a position so it is never placed twice; the
		// exit confirms or cancels it.
		t.log.Error().Err(err).Str("position", p.ID).Str("order", p.EntryOrderID).Msg("entry order unconfirmed")
		t.notify.Send(ctx, notify.Error("Entry unconfirmed", err, now))
		if herr := t.Halt(ctx, "entry order "+p.EntryOrderID+" unconfirmed"); herr != nil {
			errs = append(errs, herr)
		}
	}
	return errors.Join(errs...)
}

// targetOffset is the signed distance from the slow EMA that takes
// profit on the index.
func targetOffset(r strategy.ExitRule, side strategy.Side) float64 {
	if side == strategy.PE {
		return -r.TargetDistance
	}
	return r.TargetDistance
}

func (t *Trader) deny(ctx context.Context, d risk.Decision, now time.Time) {
	metricRiskDenials.WithLabelValues(d.Reason()).Inc()
	t.log.Info().Str("reason", d.Reason()).Str("detail", d.Message()).Msg("entry denied")
	t.event(ctx, journal.EventRiskDeny, d.Reason()+": "+d.Message(), now)
	if t.risk.FirstAlert(d.Reason()) {
		t.notify.Send(ctx, notify.RiskDenied(d, t.risk.State(), now))
	}
}

// Halt stops new entries until the next trading day or a manual reset.
func (t *Trader) Halt(ctx context.Context, reason string) error {
	now := t.now()
	if err := t.risk.Halt(ctx, reason, now); err != nil {
		return err
	}
	t.event(ctx, journal.EventHalt, reason, now)
	t.notify.Send(ctx, notify.Halted(reason, now))
	return nil
}

// optionChain loads the option master once per day.
func (t *Trader) optionChain(ctx context.Context, local time.Time) (*market.OptionChain, error) {
	day := local.Format(time.DateOnly)
	if t.chain != nil && t.chainDay == day {
		return t.chain, nil
	}
	rows, err := t.broker.Instruments(ctx, t.opts.OptionExchange)
	if err != nil {
		return nil, fmt.Errorf("instruments %s: %w", t.opts.OptionExchange, err)
	}
	chain := market.NewOptionChain(t.opts.Underlying, rows)
	if chain.Len() == 0 {
		return nil, fmt.Errorf("no %s options on %s: %w", t.opts.Underlying, t.opts.OptionExchange, broker.ErrNoData)
	}
	t.chain, t.chainDay = chain, day
	t.log.Info().Int("contracts", chain.Len()).Str("day", day).Msg("option chain loaded")
	return chain, nil
}

// afterHours closes a position still open after the session and sends
// the day's report once.
func (t *Trader) afterHours(ctx context.Context, now time.Time) error {
	if !t.cal.IsTradingDay(now) || !now.After(t.cal.Close(now)) {
		return nil
	}

	var err error
	if t.pos != nil {
		err = t.exit(ctx, ReasonSessionEnd, now)
	}

	day := t.cal.TradingDay(now)
	if t.reported == day || t.sess.Date != day {
		return err
	}
	t.reported = day

	open := t.cal.Open(now)
	closed, lerr := t.store.ListPositionsClosedBetween(ctx, open, open.Add(24*time.Hour))
	if lerr != nil {
		return errors.Join(err, lerr)
	}
	var mine []journal.Position
	for _, p := range closed {
		if p.Mode == t.opts.Mode {
			mine = append(mine, p)
		}
	}
	sum := journal.Summarize(mine)

	t.sess.EndedAt = now
	if serr := t.store.UpsertSession(ctx, t.sess); serr != nil {
		err = errors.Join(err, serr)
	}
	t.notify.Send(ctx, notify.DailyReport(day, sum, t.risk.State(), t.risk.Limits(), now))
	t.log.Info().Str("day", day).Int("trades", sum.Trades).Float64("pnl", sum.PnL).Msg("daily report")
	return err
}

// ensureSession switches the session row when the trading day changes,
// continuing a row written by an earlier run of the same day.
func (t *Trader) ensureSession(ctx context.Context, now time.Time) {
	day := t.cal.TradingDay(now)
	if t.sess.Date == day {
		return
	}
	if s, err := t.store.GetSession(ctx, day); err == nil {
		t.sess = s
		t.sess.EndedAt = time.Time{}
		return
	}
	t.sess = journal.Session{Date: day, Mode: t.opts.Mode, StartedAt: now}
}

// OnBracketClosed receives paper legs that closed a position. The
// position is settled on the next cycle.
func (t *Trader) OnBracketClosed(b paper.Bracket) {
	t.legMu.Lock()
	defer t.legMu.Unlock()
	t.legged = append(t.legged, b)
}

// settleLegs books a queued leg exit for the open position. It reports
// whether the position was closed.
func (t *Trader) settleLegs(ctx context.Context) bool {
	t.legMu.Lock()
	legged := t.legged
	t.legged = nil
	t.legMu.Unlock()

	for _, b := range legged {
		if t.pos == nil || b.OrderID != t.pos.EntryOrderID {
			continue
		}
		reason, oid := ReasonStopOrder, b.StopOrderID
		if b.Reason == paper.ReasonTarget {
			reason, oid = ReasonTargetOrder, b.TargetOrderID
		}
		fill := broker.OrderFill{
			OrderID:  oid,
			Exchange: b.Exchange,
			Symbol:   b.Symbol,
			Quantity: b.Quantity,
			Price:    b.ExitPrice,
			Time:     b.ExitTime,
		}
		if err := t.finish(ctx, fill, reason); err != nil {
			t.log.Warn().Err(err).Msg("settle leg exit")
		}
		return true
	}
	return false
}

// bracket rebuilds the paper legs of a journalled position.
func (t *Trader) bracket(p journal.Position) paper.Bracket {
	stop, target := broker.BracketPrices(p.EntryPrice, t.opts.StopPct, t.opts.TargetPct, t.opts.TickSize)
	if p.StopOrderID == "" {
		stop = 0
	}
	if p.TargetOrderID == "" {
		target = 0
	}
	return paper.Bracket{
		OrderID:       p.EntryOrderID,
		StopOrderID:   p.StopOrderID,
		TargetOrderID: p.TargetOrderID,
		Exchange:      p.Exchange,
		Symbol:        p.Symbol,
		Quantity:      p.Quantity,
		EntryPrice:    p.EntryPrice,
		EntryTime:     p.EntryTime,
		StopLoss:      stop,
		Target:        target,
	}
}

// legFilled asks the broker whether a stop or target leg has executed.
func (t *Trader) legFilled(ctx context.Context) bool {
	for _, leg := range []string{t.pos.StopOrderID, t.pos.TargetOrderID} {
		if leg == "" {
			continue
		}
		st, err := t.broker.Order(ctx, leg)
		if err != nil {
			t.log.Warn().Err(err).Str("order", leg).Msg("leg status")
			continue
		}
		if st.Filled() {
			return true
		}
	}
	return false
}

// cancelOrphans retries cancelling legs left resting after their
// position closed.
func (t *Trader) cancelOrphans(ctx context.Context, now time.Time) {
	if len(t.orphans) == 0 {
		return
	}
	var left []string
	for _, oid := range t.orphans {
		if err := t.broker.CancelOrder(ctx, oid); err != nil {
			st, serr := t.broker.Order(ctx, oid)
			switch {
			case serr == nil && st.Done():
				continue
			case serr == nil && st.Filled():
				ferr := fmt.Errorf("leg %s filled after its position closed: %w", oid, err)
				t.log.Error().Err(ferr).Msg("orphaned leg filled")
				t.event(ctx, journal.EventError, ferr.Error(), now)
				t.notify.Send(ctx, notify.Error("Orphaned leg filled", ferr, now))
				continue
			}
			t.log.Warn().Err(err).Str("order", oid).Msg("cancel orphaned leg")
			left = append(left, oid)
			continue
		}
		t.log.Info().Str("order", oid).Msg("orphaned leg cancelled")
		t.event(ctx, journal.EventOrder, "cancelled leg "+oid, now)
	}
	t.orphans = left
}

func (t *Trader) event(ctx context.Context, kind, msg string, now time.Time) {
	if err := t.store.RecordEvent(ctx, journal.Event{Time: now, Kind: kind, Message: msg}); err != nil {
		t.log.Warn().Err(err).Str("kind", kind).Msg("record event")
	}
}
