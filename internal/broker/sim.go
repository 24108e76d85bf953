package broker

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/feyerinaGO/OptimalInvesting/internal/market"
	"github.com/feyerinaGO/OptimalInvesting/internal/models"
)

// OrderEventHandler receives every order event the simulated broker emits.
type OrderEventHandler func(models.OrderEvent)

// SimBroker is an in-memory brokerage for backtests. Market orders fill
// immediately at the last price with no fees or slippage.
type SimBroker struct {
	mu        sync.Mutex
	cash      decimal.Decimal
	prices    map[string]float64
	positions map[string]*Holding
	now       time.Time
	nextID    int
	handlers  []OrderEventHandler
	loc       *time.Location
	logger    logrus.FieldLogger
}

// Ensure SimBroker implements Broker at compile time.
var _ Broker = (*SimBroker)(nil)

// NewSimBroker creates a broker holding only cash.
func NewSimBroker(startingCash float64, logger logrus.FieldLogger) *SimBroker {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &SimBroker{
		cash:      decimal.NewFromFloat(startingCash),
		prices:    make(map[string]float64),
		positions: make(map[string]*Holding),
		loc:       market.Exchange(),
		logger:    logger,
	}
}

// OnOrderEvent registers a handler. Handlers run synchronously after the
// broker's lock is released, in registration order.
func (s *SimBroker) OnOrderEvent(h OrderEventHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, h)
}

// SetTime advances the broker clock used to stamp order events.
func (s *SimBroker) SetTime(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = t
}

// UpdatePrice records the last traded price of symbol.
func (s *SimBroker) UpdatePrice(symbol string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[symbol] = price
	if pos, ok := s.positions[symbol]; ok {
		pos.LastPrice = price
	}
}

// Price returns the last price of symbol.
func (s *SimBroker) Price(symbol string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("%s: %w", symbol, ErrNoPrice)
	}
	return p, nil
}

// Holding returns the position in symbol, or an empty holding.
func (s *SimBroker) Holding(symbol string) (Holding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pos, ok := s.positions[symbol]; ok {
		return copyHolding(pos), nil
	}
	h := s.newHolding(symbol)
	h.LastPrice = s.prices[symbol]
	return *h, nil
}

// Holdings returns every open position sorted by symbol.
func (s *SimBroker) Holdings() ([]Holding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Holding, 0, len(s.positions))
	for _, pos := range s.positions {
		out = append(out, copyHolding(pos))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// Cash returns the settled cash balance.
func (s *SimBroker) Cash() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cash.InexactFloat64(), nil
}

// TotalPortfolioValue returns cash plus the market value of all positions.
func (s *SimBroker) TotalPortfolioValue() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalValueLocked().InexactFloat64(), nil
}

func (s *SimBroker) totalValueLocked() decimal.Decimal {
	total := s.cash
	for _, pos := range s.positions {
		total = total.Add(notional(pos.Quantity, pos.LastPrice, pos.Multiplier()))
	}
	return total
}

// MarketOrder fills quantity (negative to sell) at the last price. A buy
// that would take cash below zero is rejected with an invalid event.
func (s *SimBroker) MarketOrder(ctx context.Context, symbol string, quantity int, tag string) (*models.OrderEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if quantity == 0 {
		return nil, fmt.Errorf("%s: %w", symbol, ErrInvalidQuantity)
	}

	s.mu.Lock()
	events, err := s.marketOrderLocked(symbol, quantity, tag)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	s.dispatch(events)
	final := events[len(events)-1]
	return &final, nil
}

func (s *SimBroker) marketOrderLocked(symbol string, quantity int, tag string) ([]models.OrderEvent, error) {
	price, ok := s.prices[symbol]
	if !ok {
		return nil, fmt.Errorf("%s: %w", symbol, ErrNoPrice)
	}

	pos, held := s.positions[symbol]
	if !held {
		pos = s.newHolding(symbol)
	}

	s.nextID++
	base := models.OrderEvent{
		Time:         s.now,
		OrderID:      s.nextID,
		Symbol:       symbol,
		SecurityType: pos.Type,
		Quantity:     quantity,
		Tag:          tag,
	}
	submitted := base
	submitted.Status = models.OrderStatusSubmitted

	cost := notional(quantity, price, pos.Multiplier())
	if quantity > 0 && s.cash.Sub(cost).IsNegative() {
		invalid := base
		invalid.Status = models.OrderStatusInvalid
		invalid.Message = fmt.Sprintf("insufficient buying power: order cost %s, cash %s",
			cost.StringFixed(2), s.cash.StringFixed(2))
		return []models.OrderEvent{submitted, invalid}, nil
	}

	s.cash = s.cash.Sub(cost)
	applyFill(pos, quantity, price)
	if pos.Quantity == 0 {
		delete(s.positions, symbol)
	} else {
		s.positions[symbol] = pos
	}

	filled := base
	filled.Status = models.OrderStatusFilled
	filled.FillPrice = price
	filled.FillQuantity = quantity
	return []models.OrderEvent{submitted, filled}, nil
}

// SetHoldings trades symbol so its position is worth fraction of the total
// portfolio value, rounding the share count toward zero.
func (s *SimBroker) SetHoldings(ctx context.Context, symbol string, fraction float64) (*models.OrderEvent, error) {
	s.mu.Lock()
	price, ok := s.prices[symbol]
	if !ok || price <= 0 {
		s.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", symbol, ErrNoPrice)
	}
	mult := 1.0
	if models.IsOptionSymbol(symbol) {
		mult = models.ContractMultiplier
	}
	tpv := s.totalValueLocked().InexactFloat64()
	target := int(math.Trunc(fraction * tpv / (price * mult)))
	current := 0
	if pos, held := s.positions[symbol]; held {
		current = pos.Quantity
	}
	s.mu.Unlock()

	delta := target - current
	if delta == 0 {
		return nil, nil
	}
	return s.MarketOrder(ctx, symbol, delta, "")
}

// Liquidate closes the whole position in symbol. It is a no-op when flat.
func (s *SimBroker) Liquidate(ctx context.Context, symbol string) (*models.OrderEvent, error) {
	s.mu.Lock()
	pos, held := s.positions[symbol]
	qty := 0
	if held {
		qty = pos.Quantity
	}
	s.mu.Unlock()

	if qty == 0 {
		return nil, nil
	}
	return s.MarketOrder(ctx, symbol, -qty, models.TagLiquidate)
}

// SettleExpired cash-settles every option position whose expiration session
// has closed by now, at intrinsic value against the underlying's last price.
func (s *SimBroker) SettleExpired(now time.Time) []models.OrderEvent {
	s.mu.Lock()
	var events []models.OrderEvent
	symbols := make([]string, 0, len(s.positions))
	for sym := range s.positions {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	for _, sym := range symbols {
		pos := s.positions[sym]
		if pos.Contract == nil {
			continue
		}
		if now.Before(market.SessionClose(pos.Contract.Expiry, s.loc)) {
			continue
		}
		spot := s.prices[pos.Contract.Underlying]
		value := pos.Contract.Intrinsic(spot)

		s.nextID++
		qty := -pos.Quantity
		s.cash = s.cash.Sub(notional(qty, value, pos.Multiplier()))
		delete(s.positions, sym)

		events = append(events, models.OrderEvent{
			Time:         now,
			OrderID:      s.nextID,
			Symbol:       sym,
			SecurityType: models.SecurityTypeOption,
			Status:       models.OrderStatusFilled,
			Quantity:     qty,
			FillPrice:    value,
			FillQuantity: qty,
			Tag:          models.TagExpiry,
			Message:      "option expired",
		})
		s.logger.WithFields(logrus.Fields{
			"symbol":    sym,
			"intrinsic": value,
			"quantity":  qty,
		}).Debug("Settled expired option")
	}
	s.mu.Unlock()

	s.dispatch(events)
	return events
}

func (s *SimBroker) dispatch(events []models.OrderEvent) {
	s.mu.Lock()
	handlers := append([]OrderEventHandler(nil), s.handlers...)
	s.mu.Unlock()
	for _, ev := range events {
		for _, h := range handlers {
			h(ev)
		}
	}
}

func (s *SimBroker) newHolding(symbol string) *Holding {
	h := &Holding{Symbol: symbol, Type: models.SecurityTypeEquity}
	if c, err := models.ParseOptionSymbol(symbol, s.loc); err == nil {
		h.Type = models.SecurityTypeOption
		h.Contract = &c
	}
	return h
}

func copyHolding(pos *Holding) Holding {
	h := *pos
	if pos.Contract != nil {
		c := *pos.Contract
		h.Contract = &c
	}
	return h
}

func notional(quantity int, price, multiplier float64) decimal.Decimal {
	return decimal.NewFromFloat(price).
		Mul(decimal.NewFromInt(int64(quantity))).
		Mul(decimal.NewFromFloat(multiplier))
}

// applyFill updates quantity and average price for a fill of qty at price.
func applyFill(pos *Holding, qty int, price float64) {
	old := pos.Quantity
	next := old + qty
	switch {
	case next == 0:
		pos.AveragePrice = 0
	case old == 0 || (old > 0) != (next > 0):
		pos.AveragePrice = price
	case (old > 0) == (qty > 0):
		pos.AveragePrice = (pos.AveragePrice*float64(old) + price*float64(qty)) / float64(next)
	}
	pos.Quantity = next
	pos.LastPrice = price
}
