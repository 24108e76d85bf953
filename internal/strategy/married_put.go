// Package strategy implements the married put: a long equity allocation
// insured with out-of-the-money puts bought when the volatility rank is
// elevated.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/feyerinaGO/OptimalInvesting/internal/broker"
	"github.com/feyerinaGO/OptimalInvesting/internal/models"
	"github.com/feyerinaGO/OptimalInvesting/internal/util"
)

// Chart and series names written by Plotting.
const (
	VolChart     = "Vol Chart"
	DataChart    = "Data Chart"
	SeriesRank   = "Rank"
	SeriesLevel  = "lvl"
	SeriesStrike = "strike"
)

// Host is the backtest runtime the strategy runs inside.
type Host interface {
	Now() time.Time
	IsWarmingUp() bool
	AddEquity(symbol string) error
	SetWarmUp(d time.Duration)
	Schedule(name string, afterOpen time.Duration, fn func(context.Context))
	History(symbol string, n int) ([]models.Bar, error)
	OptionContractList(underlying string, at time.Time) []models.OptionContract
	AddOptionContract(c models.OptionContract) error
}

// Liquidator closes a position, retrying transient failures.
type Liquidator interface {
	LiquidateWithRetry(ctx context.Context, symbol string) (*models.OrderEvent, error)
}

// Plotter records chart points.
type Plotter interface {
	Plot(chart, series string, t time.Time, value float64)
}

// MarriedPut holds the strategy state between callbacks.
type MarriedPut struct {
	config     Config
	broker     broker.Broker
	liquidator Liquidator
	plotter    Plotter
	logger     logrus.FieldLogger
	host       Host

	mu             sync.RWMutex
	rank           float64
	contracts      []models.OptionContract
	contractsAdded map[string]struct{}
}

// NewMarriedPut creates the strategy. Initialize must be called before data
// is delivered.
func NewMarriedPut(cfg Config, b broker.Broker, liq Liquidator, plot Plotter, logger logrus.FieldLogger) *MarriedPut {
	if b == nil {
		panic("strategy.NewMarriedPut: broker cannot be nil")
	}
	if liq == nil {
		panic("strategy.NewMarriedPut: liquidator cannot be nil")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &MarriedPut{
		config:         cfg,
		broker:         b,
		liquidator:     liq,
		plotter:        plot,
		logger:         logger.WithField("strategy", "married_put"),
		contractsAdded: make(map[string]struct{}),
	}
}

// Initialize subscribes the underlying, sets the warm-up period and
// schedules the daily plot.
func (s *MarriedPut) Initialize(host Host) error {
	if host == nil {
		return errors.New("initialize: host cannot be nil")
	}
	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid strategy config: %w", err)
	}
	s.host = host

	if err := host.AddEquity(s.config.Symbol); err != nil {
		return fmt.Errorf("subscribe %s: %w", s.config.Symbol, err)
	}
	host.SetWarmUp(time.Duration(s.config.Lookback) * 24 * time.Hour)
	host.Schedule("Plotting", s.config.PlotAfterOpen, s.Plotting)

	s.logger.WithFields(logrus.Fields{
		"symbol":    s.config.Symbol,
		"dte":       s.config.DTE,
		"otm":       s.config.OTM,
		"lookback":  s.config.Lookback,
		"threshold": s.config.Threshold,
		"priority":  s.config.SelectionPriority,
	}).Info("Married put initialized")
	return nil
}

// Rank returns the latest volatility rank.
func (s *MarriedPut) Rank() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rank
}

// Contracts returns the tracked put contracts.
func (s *MarriedPut) Contracts() []models.OptionContract {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.OptionContract(nil), s.contracts...)
}

// OnData runs once per data slice: keep the equity allocation, refresh the
// rank, buy a put when the rank is high and close puts near expiry.
func (s *MarriedPut) OnData(ctx context.Context, slice *models.Slice) error {
	if s.host == nil {
		return errors.New("strategy not initialized")
	}
	if s.host.IsWarmingUp() {
		return nil
	}

	var errs []error
	if err := s.ensureEquity(ctx); err != nil {
		errs = append(errs, err)
	}

	s.updateRank()

	if s.Rank() > s.config.Threshold {
		if err := s.BuyPut(ctx, slice); err != nil {
			errs = append(errs, err)
		}
	}

	if err := s.closeExpiring(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *MarriedPut) ensureEquity(ctx context.Context) error {
	h, err := s.broker.Holding(s.config.Symbol)
	if err != nil {
		return fmt.Errorf("holding %s: %w", s.config.Symbol, err)
	}
	if h.Invested() {
		return nil
	}
	if _, err := s.broker.SetHoldings(ctx, s.config.Symbol, s.config.Allocation); err != nil {
		return fmt.Errorf("set holdings %s: %w", s.config.Symbol, err)
	}
	return nil
}

// updateRank recomputes the rank, keeping the previous value when history
// is unavailable.
func (s *MarriedPut) updateRank() {
	bars, err := s.host.History(s.config.Symbol, s.config.Lookback)
	if err == nil && len(bars) < s.config.Lookback {
		err = fmt.Errorf("got %d of %d daily bars: %w", len(bars), s.config.Lookback, ErrInsufficientHistory)
	}
	var rank float64
	if err == nil {
		rank, err = VolatilityRank(bars)
	}
	if err != nil {
		s.logger.WithError(err).Debug("Volatility rank unchanged")
		return
	}

	s.mu.Lock()
	s.rank = rank
	s.mu.Unlock()
}

// BuyPut selects a contract when none is tracked. Otherwise it buys each
// tracked contract that is not yet held and has data in the slice.
func (s *MarriedPut) BuyPut(ctx context.Context, slice *models.Slice) error {
	if len(s.Contracts()) == 0 {
		picked, err := s.OptionsFilter(slice)
		s.mu.Lock()
		s.contracts = picked
		s.mu.Unlock()
		return err
	}

	var errs []error
	for _, c := range s.Contracts() {
		sym := c.Symbol()
		h, err := s.broker.Holding(sym)
		if err != nil {
			errs = append(errs, fmt.Errorf("holding %s: %w", sym, err))
			continue
		}
		if h.Invested() || !slice.ContainsKey(sym) {
			continue
		}

		equity, err := s.broker.Holding(s.config.Symbol)
		if err != nil {
			errs = append(errs, fmt.Errorf("holding %s: %w", s.config.Symbol, err))
			continue
		}
		qty := util.RoundQuantity(float64(equity.Quantity), s.config.OptionsAlloc)
		if qty <= 0 {
			s.logger.WithFields(logrus.Fields{
				"contract": sym,
				"shares":   equity.Quantity,
			}).Debug("Put quantity rounds to zero, skipping")
			continue
		}
		if _, err := s.broker.MarketOrder(ctx, sym, qty, ""); err != nil {
			errs = append(errs, fmt.Errorf("buy %d %s: %w", qty, sym, err))
		}
	}
	return errors.Join(errs...)
}

// OptionsFilter picks the best qualifying put listed at the slice time and
// subscribes it the first time it is chosen. It returns a one-element list,
// or nil when nothing qualifies.
func (s *MarriedPut) OptionsFilter(slice *models.Slice) ([]models.OptionContract, error) {
	price, err := s.broker.Price(s.config.Symbol)
	if err != nil {
		return nil, fmt.Errorf("underlying price: %w", err)
	}

	listed := s.host.OptionContractList(s.config.Symbol, slice.Time)
	candidates := FilterPuts(listed, price, slice.Time, s.config)
	best, ok := SelectContract(candidates, price, slice.Time, s.config.DTE, s.config.SelectionPriority)
	if !ok {
		return nil, nil
	}

	sym := best.Symbol()
	s.mu.Lock()
	_, added := s.contractsAdded[sym]
	if !added {
		s.contractsAdded[sym] = struct{}{}
	}
	s.mu.Unlock()

	if !added {
		if err := s.host.AddOptionContract(best); err != nil {
			s.mu.Lock()
			delete(s.contractsAdded, sym)
			s.mu.Unlock()
			return nil, fmt.Errorf("subscribe %s: %w", sym, err)
		}
		s.logger.WithFields(logrus.Fields{
			"contract": sym,
			"strike":   best.Strike,
			"expiry":   best.Expiry.Format("2006-01-02"),
			"spot":     price,
		}).Info("Subscribed put contract")
	}
	return []models.OptionContract{best}, nil
}

// FilterPuts keeps puts more than cfg.OTM below price whose whole days to
// expiry lie strictly inside DTE +/- DTETolerance.
func FilterPuts(listed []models.OptionContract, price float64, now time.Time, cfg Config) []models.OptionContract {
	var out []models.OptionContract
	for _, c := range listed {
		if c.Right != models.OptionRightPut {
			continue
		}
		if price-c.Strike <= cfg.OTM*price {
			continue
		}
		days := c.DaysToExpiry(now)
		if days <= cfg.DTE-cfg.DTETolerance || days >= cfg.DTE+cfg.DTETolerance {
			continue
		}
		out = append(out, c)
	}
	return out
}

// SelectContract returns the best candidate under priority. Ties keep the
// listing order.
func SelectContract(candidates []models.OptionContract, price float64, now time.Time, dte int, priority string) (models.OptionContract, bool) {
	if len(candidates) == 0 {
		return models.OptionContract{}, false
	}
	sorted := append([]models.OptionContract(nil), candidates...)
	dteDist := func(c models.OptionContract) int {
		d := c.DaysToExpiry(now) - dte
		if d < 0 {
			return -d
		}
		return d
	}
	strikeDist := func(c models.OptionContract) float64 { return price - c.Strike }

	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if priority == PriorityStrike {
			if sa, sb := strikeDist(a), strikeDist(b); sa != sb {
				return sa < sb
			}
			return dteDist(a) < dteDist(b)
		}
		if da, db := dteDist(a), dteDist(b); da != db {
			return da < db
		}
		return strikeDist(a) < strikeDist(b)
	})
	return sorted[0], true
}

// closeExpiring liquidates tracked puts within DaysBeforeExp of expiry and
// clears the tracked list if any were closed.
func (s *MarriedPut) closeExpiring(ctx context.Context) error {
	tracked := s.Contracts()
	if len(tracked) == 0 {
		return nil
	}

	now := s.host.Now()
	limit := time.Duration(s.config.DaysBeforeExp) * 24 * time.Hour
	closed := false
	var errs []error
	for _, c := range tracked {
		if c.Expiry.Sub(now) > limit {
			continue
		}
		if _, err := s.liquidator.LiquidateWithRetry(ctx, c.Symbol()); err != nil {
			errs = append(errs, err)
			continue
		}
		s.logger.WithField("contract", c.Symbol()).Info("Closed: too close to expiration")
		closed = true
	}
	if closed {
		s.mu.Lock()
		s.contracts = nil
		s.mu.Unlock()
	}
	return errors.Join(errs...)
}

// Plotting records the rank, entry level, underlying close and the strike of
// the first held put.
func (s *MarriedPut) Plotting(ctx context.Context) {
	if s.plotter == nil || s.host == nil {
		return
	}
	now := s.host.Now()
	s.plotter.Plot(VolChart, SeriesRank, now, s.Rank())
	s.plotter.Plot(VolChart, SeriesLevel, now, s.config.Threshold)

	if price, err := s.broker.Price(s.config.Symbol); err == nil {
		s.plotter.Plot(DataChart, s.config.Symbol, now, price)
	} else {
		s.logger.WithError(err).Debug("No underlying price to plot")
	}

	held, err := broker.OptionHoldings(s.broker)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to read option holdings")
		return
	}
	if len(held) > 0 && held[0].Contract != nil {
		s.plotter.Plot(DataChart, SeriesStrike, now, held[0].Contract.Strike)
	}
}

// OnOrderEvent logs every order event.
func (s *MarriedPut) OnOrderEvent(ev models.OrderEvent) {
	s.logger.Info(ev.String())
}
