// Package engine runs a strategy over historical minute bars. It plays the
// part of the trading host: clock, warm-up, daily history, option
// subscriptions with simulated quotes, scheduled callbacks and expiry
// settlement.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/feyerinaGO/OptimalInvesting/internal/broker"
	"github.com/feyerinaGO/OptimalInvesting/internal/market"
	"github.com/feyerinaGO/OptimalInvesting/internal/models"
	"github.com/feyerinaGO/OptimalInvesting/internal/pricing"
	"github.com/feyerinaGO/OptimalInvesting/internal/strategy"
	"github.com/feyerinaGO/OptimalInvesting/internal/util"
)

var (
	// ErrNoSubscription is returned when the algorithm never subscribed an equity.
	ErrNoSubscription = errors.New("no equity subscription")
	// ErrUnknownSymbol is returned for history requests on unsubscribed symbols.
	ErrUnknownSymbol = errors.New("unknown symbol")
)

// Algorithm is the set of callbacks the engine drives.
type Algorithm interface {
	Initialize(host strategy.Host) error
	OnData(ctx context.Context, slice *models.Slice) error
	OnOrderEvent(ev models.OrderEvent)
}

// Config controls a backtest run.
type Config struct {
	Start        time.Time
	End          time.Time
	RiskFreeRate float64
	VolWindow    int     // daily closes used for the historical volatility
	TickSize     float64 // option quote tick
}

// DefaultConfig returns the reference backtest window.
func DefaultConfig() Config {
	loc := market.Exchange()
	return Config{
		Start:        time.Date(2017, 1, 1, 0, 0, 0, 0, loc),
		End:          time.Date(2020, 7, 1, 0, 0, 0, 0, loc),
		RiskFreeRate: 0.01,
		VolWindow:    30,
		TickSize:     0.01,
	}
}

// EquityPoint is the portfolio value at the end of one trading day.
type EquityPoint struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// Result summarises a finished run.
type Result struct {
	Start         time.Time     `json:"start"`
	End           time.Time     `json:"end"`
	StartingValue float64       `json:"starting_value"`
	FinalValue    float64       `json:"final_value"`
	Equity        []EquityPoint `json:"equity"`
	Orders        int           `json:"orders"`
	Bars          int           `json:"bars"`
	Canceled      bool          `json:"canceled"`
}

type subscription struct {
	contract models.OptionContract
	since    time.Time
}

type scheduled struct {
	name      string
	afterOpen time.Duration
	fn        func(context.Context)
	lastFired time.Time
}

// Engine implements strategy.Host over a market.Provider and a SimBroker.
type Engine struct {
	config   Config
	provider market.Provider
	broker   *broker.SimBroker
	logger   logrus.FieldLogger
	loc      *time.Location

	mu        sync.RWMutex
	symbol    string
	warmUp    time.Duration
	now       time.Time
	daily     []models.Bar
	intraday  []models.Bar
	vol       float64
	subs      map[string]subscription
	schedules []*scheduled
	orders    int
}

// Ensure Engine implements strategy.Host at compile time.
var _ strategy.Host = (*Engine)(nil)

// New creates an engine.
func New(cfg Config, provider market.Provider, sim *broker.SimBroker, logger logrus.FieldLogger) *Engine {
	if provider == nil {
		panic("engine.New: provider cannot be nil")
	}
	if sim == nil {
		panic("engine.New: broker cannot be nil")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	def := DefaultConfig()
	if cfg.VolWindow < 3 {
		cfg.VolWindow = def.VolWindow
	}
	if cfg.TickSize <= 0 {
		cfg.TickSize = def.TickSize
	}
	return &Engine{
		config:   cfg,
		provider: provider,
		broker:   sim,
		logger:   logger.WithField("component", "engine"),
		loc:      market.Exchange(),
		vol:      market.DefaultVolatility,
		subs:     make(map[string]subscription),
	}
}

// Now returns the time of the bar being processed.
func (e *Engine) Now() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.now
}

// IsWarmingUp reports whether the clock is still before the start date.
func (e *Engine) IsWarmingUp() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.now.Before(e.config.Start)
}

// AddEquity subscribes the underlying. Only one equity is supported.
func (e *Engine) AddEquity(symbol string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if symbol == "" {
		return fmt.Errorf("add equity: %w", ErrNoSubscription)
	}
	if e.symbol != "" && e.symbol != symbol {
		return fmt.Errorf("add equity %s: already subscribed to %s", symbol, e.symbol)
	}
	e.symbol = symbol
	return nil
}

// SetWarmUp feeds d of data before the start date with IsWarmingUp true.
func (e *Engine) SetWarmUp(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if d < 0 {
		d = 0
	}
	e.warmUp = d
}

// Schedule registers fn to run once per trading day, afterOpen past the
// session open. Callbacks are skipped while warming up.
func (e *Engine) Schedule(name string, afterOpen time.Duration, fn func(context.Context)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.schedules = append(e.schedules, &scheduled{name: name, afterOpen: afterOpen, fn: fn})
}

// History returns the last n completed daily bars of symbol, oldest first.
func (e *Engine) History(symbol string, n int) ([]models.Bar, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if symbol != e.symbol {
		return nil, fmt.Errorf("history %s: %w", symbol, ErrUnknownSymbol)
	}
	if n <= 0 {
		return nil, nil
	}
	start := len(e.daily) - n
	if start < 0 {
		start = 0
	}
	return append([]models.Bar(nil), e.daily[start:]...), nil
}

// OptionContractList lists contracts on underlying at the given time.
func (e *Engine) OptionContractList(underlying string, at time.Time) []models.OptionContract {
	spot, err := e.broker.Price(underlying)
	if err != nil {
		e.logger.WithError(err).Warn("No underlying price for option chain")
		return nil
	}
	return e.provider.Contracts(underlying, at, spot)
}

// AddOptionContract subscribes c. Quotes start with the next bar.
func (e *Engine) AddOptionContract(c models.OptionContract) error {
	if !c.Right.Valid() {
		return fmt.Errorf("add option contract %s: invalid right %q", c.Symbol(), c.Right)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	sym := c.Symbol()
	if _, ok := e.subs[sym]; ok {
		return nil
	}
	e.subs[sym] = subscription{contract: c, since: e.now}
	e.logger.WithFields(logrus.Fields{
		"contract": sym,
		"since":    e.now.Format(time.RFC3339),
	}).Debug("Option contract subscribed")
	return nil
}

// Subscriptions returns the subscribed option symbols in sorted order.
func (e *Engine) Subscriptions() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.subs))
	for sym := range e.subs {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Run initializes algo and replays every bar between the configured start
// (less the warm-up) and end. A canceled context stops the replay and
// returns the partial result with the context error.
func (e *Engine) Run(ctx context.Context, algo Algorithm) (*Result, error) {
	if algo == nil {
		return nil, errors.New("run: algorithm cannot be nil")
	}
	if !e.config.End.After(e.config.Start) {
		return nil, fmt.Errorf("run: end %s must be after start %s",
			e.config.End.Format("2006-01-02"), e.config.Start.Format("2006-01-02"))
	}
	if err := algo.Initialize(e); err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}
	if e.symbol == "" {
		return nil, ErrNoSubscription
	}

	e.broker.OnOrderEvent(func(ev models.OrderEvent) {
		e.mu.Lock()
		if ev.Status == models.OrderStatusSubmitted || ev.Tag == models.TagExpiry {
			e.orders++
		}
		e.mu.Unlock()
		algo.OnOrderEvent(ev)
	})

	feedStart := e.config.Start.Add(-e.warmUp)
	loadFrom := market.Midnight(feedStart, e.loc).Add(-historyPadding(e.warmUp))

	bars, err := e.provider.Bars(ctx, e.symbol, loadFrom, e.config.End)
	if err != nil {
		return nil, fmt.Errorf("load bars for %s: %w", e.symbol, err)
	}

	split := sort.Search(len(bars), func(i int) bool { return !bars[i].Time.Before(feedStart) })
	e.daily = market.Aggregate(bars[:split], e.loc)
	e.updateVolatility()

	startValue, _ := e.broker.TotalPortfolioValue()
	result := &Result{
		Start:         e.config.Start,
		End:           e.config.End,
		StartingValue: startValue,
	}

	e.logger.WithFields(logrus.Fields{
		"symbol":      e.symbol,
		"from":        feedStart.Format(time.RFC3339),
		"to":          e.config.End.Format(time.RFC3339),
		"bars":        len(bars) - split,
		"history":     len(e.daily),
		"warmup_days": int(e.warmUp.Hours() / 24),
	}).Info("Backtest starting")

	var runErr error
	for i := split; i < len(bars); i++ {
		if err := ctx.Err(); err != nil {
			result.Canceled = true
			runErr = err
			break
		}
		e.step(ctx, algo, bars[i], result)
		result.Bars++
	}

	if len(e.intraday) > 0 {
		e.closeDay(result)
	}
	result.FinalValue, _ = e.broker.TotalPortfolioValue()
	e.mu.RLock()
	result.Orders = e.orders
	e.mu.RUnlock()

	e.logger.WithFields(logrus.Fields{
		"bars":        result.Bars,
		"orders":      result.Orders,
		"final_value": result.FinalValue,
		"canceled":    result.Canceled,
	}).Info("Backtest finished")
	return result, runErr
}

// historyPadding covers n calendar days of warm-up with enough trading
// days of daily history behind it.
func historyPadding(warmUp time.Duration) time.Duration {
	days := int(warmUp.Hours() / 24)
	return time.Duration(days*7/5+10) * 24 * time.Hour
}

func (e *Engine) step(ctx context.Context, algo Algorithm, bar models.Bar, result *Result) {
	if len(e.intraday) > 0 && !market.Midnight(bar.Time, e.loc).Equal(market.Midnight(e.intraday[0].Time, e.loc)) {
		e.closeDay(result)
		e.broker.SettleExpired(bar.Time)
	}

	e.mu.Lock()
	e.now = bar.Time
	e.intraday = append(e.intraday, bar)
	e.mu.Unlock()

	e.broker.SetTime(bar.Time)
	e.broker.UpdatePrice(e.symbol, bar.Close)

	slice := models.NewSlice(bar.Time)
	slice.Bars[e.symbol] = bar
	e.quoteOptions(slice, bar.Close)

	e.fireScheduled(ctx, bar.Time)

	if err := algo.OnData(ctx, slice); err != nil {
		e.logger.WithError(err).WithField("time", bar.Time.Format(time.RFC3339)).Warn("OnData reported errors")
	}
}

// quoteOptions prices every subscribed contract that is still trading and
// was subscribed before this bar.
func (e *Engine) quoteOptions(slice *models.Slice, spot float64) {
	e.mu.RLock()
	subs := make([]subscription, 0, len(e.subs))
	for _, s := range e.subs {
		subs = append(subs, s)
	}
	vol := e.vol
	e.mu.RUnlock()

	now := slice.Time
	for _, s := range subs {
		if !now.After(s.since) {
			continue
		}
		expiry := market.SessionClose(s.contract.Expiry, e.loc)
		if !now.Before(expiry) {
			continue
		}
		t := pricing.YearFraction(expiry.Sub(now))
		price := pricing.BlackScholesPrice(s.contract.Right == models.OptionRightCall, spot, s.contract.Strike, t, e.config.RiskFreeRate, vol)
		price = util.RoundToTick(price, e.config.TickSize)

		sym := s.contract.Symbol()
		e.broker.UpdatePrice(sym, price)
		slice.Options[sym] = models.Quote{Symbol: sym, Price: price}
	}
}

func (e *Engine) fireScheduled(ctx context.Context, now time.Time) {
	if e.IsWarmingUp() {
		return
	}
	day := market.Midnight(now, e.loc)
	open := market.SessionOpen(now, e.loc)

	e.mu.Lock()
	var due []*scheduled
	for _, s := range e.schedules {
		if !s.lastFired.Equal(day) && !now.Before(open.Add(s.afterOpen)) {
			s.lastFired = day
			due = append(due, s)
		}
	}
	e.mu.Unlock()

	for _, s := range due {
		s.fn(ctx)
	}
}

// closeDay folds the finished session into daily history and records the
// equity point.
func (e *Engine) closeDay(result *Result) {
	e.mu.Lock()
	day := market.Aggregate(e.intraday, e.loc)
	e.daily = append(e.daily, day...)
	last := e.intraday[len(e.intraday)-1].Time
	e.intraday = e.intraday[:0]
	e.mu.Unlock()

	e.updateVolatility()

	if last.Before(e.config.Start) {
		return
	}
	value, err := e.broker.TotalPortfolioValue()
	if err != nil {
		e.logger.WithError(err).Warn("Failed to value portfolio")
		return
	}
	result.Equity = append(result.Equity, EquityPoint{Date: market.Midnight(last, e.loc), Value: value})
}

func (e *Engine) updateVolatility() {
	e.mu.Lock()
	defer e.mu.Unlock()
	start := len(e.daily) - e.config.VolWindow
	if start < 0 {
		start = 0
	}
	closes := make([]float64, 0, len(e.daily)-start)
	for _, b := range e.daily[start:] {
		closes = append(closes, b.Close)
	}
	e.vol = market.AnnualizedVolatility(closes)
}

// Volatility returns the historical volatility used to quote options.
func (e *Engine) Volatility() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.vol
}
