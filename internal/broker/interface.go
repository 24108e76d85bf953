// Package broker provides the portfolio and order-execution services the
// strategy trades through.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/feyerinaGO/OptimalInvesting/internal/models"
)

var (
	// ErrNoPrice is returned when a symbol has never been quoted.
	ErrNoPrice = errors.New("no price for symbol")
	// ErrInvalidQuantity is returned for zero-quantity orders.
	ErrInvalidQuantity = errors.New("order quantity must be non-zero")
)

// Broker defines the interface for interacting with a brokerage
type Broker interface {
	// Portfolio
	Price(symbol string) (float64, error)
	Holding(symbol string) (Holding, error)
	Holdings() ([]Holding, error)
	Cash() (float64, error)
	TotalPortfolioValue() (float64, error)

	// Orders. A nil event with a nil error means there was nothing to do.
	MarketOrder(ctx context.Context, symbol string, quantity int, tag string) (*models.OrderEvent, error)
	SetHoldings(ctx context.Context, symbol string, fraction float64) (*models.OrderEvent, error)
	Liquidate(ctx context.Context, symbol string) (*models.OrderEvent, error)
}

// Holding is a position in one security.
type Holding struct {
	Symbol       string                 `json:"symbol"`
	Type         models.SecurityType    `json:"type"`
	Contract     *models.OptionContract `json:"contract,omitempty"`
	Quantity     int                    `json:"quantity"`
	AveragePrice float64                `json:"average_price"`
	LastPrice    float64                `json:"last_price"`
}

// Invested reports whether the holding has a non-zero quantity.
func (h Holding) Invested() bool {
	return h.Quantity != 0
}

// Multiplier returns the number of units one quantity controls.
func (h Holding) Multiplier() float64 {
	if h.Type == models.SecurityTypeOption {
		return models.ContractMultiplier
	}
	return 1
}

// MarketValue returns quantity × last price × multiplier.
func (h Holding) MarketValue() float64 {
	return float64(h.Quantity) * h.LastPrice * h.Multiplier()
}

// UnrealizedPnL returns the mark-to-market gain against the average price.
func (h Holding) UnrealizedPnL() float64 {
	return float64(h.Quantity) * (h.LastPrice - h.AveragePrice) * h.Multiplier()
}

// CircuitBreakerBroker wraps a Broker with circuit breaker functionality
type CircuitBreakerBroker struct {
	broker  Broker
	breaker *gobreaker.CircuitBreaker
}

// Ensure CircuitBreakerBroker implements Broker at compile time.
var _ Broker = (*CircuitBreakerBroker)(nil)

// exec is a generic helper for circuit breaker wrapper methods
func execCircuitBreaker[T any](
	breaker *gobreaker.CircuitBreaker,
	broker Broker,
	fn func(Broker) (T, error),
) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(broker) })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// CircuitBreakerSettings configures circuit breaker behavior
type CircuitBreakerSettings struct {
	MaxRequests  uint32             // Max requests when half-open
	Interval     time.Duration      // Reset counts interval
	Timeout      time.Duration      // Open circuit duration
	MinRequests  uint32             // Min requests before tripping
	FailureRatio float64            // Failure ratio threshold
	Logger       logrus.FieldLogger // Optional, defaults to the standard logger
}

// DefaultCircuitBreakerSettings returns the settings used by NewCircuitBreakerBroker.
func DefaultCircuitBreakerSettings() CircuitBreakerSettings {
	return CircuitBreakerSettings{
		MaxRequests:  3,                // Allow 3 requests when half-open
		Interval:     60 * time.Second, // Reset counts every minute
		Timeout:      30 * time.Second, // Open circuit for 30 seconds
		MinRequests:  5,                // Minimum requests before tripping
		FailureRatio: 0.6,              // Trip if 60% failure rate
	}
}

// NewCircuitBreakerBroker creates a new CircuitBreakerBroker with sensible defaults
func NewCircuitBreakerBroker(broker Broker) *CircuitBreakerBroker {
	return NewCircuitBreakerBrokerWithSettings(broker, DefaultCircuitBreakerSettings())
}

// NewCircuitBreakerBrokerWithSettings creates a CircuitBreakerBroker with custom settings
func NewCircuitBreakerBrokerWithSettings(broker Broker, settings CircuitBreakerSettings) *CircuitBreakerBroker {
	if broker == nil {
		panic("broker: nil broker passed to NewCircuitBreakerBrokerWithSettings")
	}
	logger := settings.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	gbSettings := gobreaker.Settings{
		Name:        "BrokerCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		// Caller mistakes do not count as broker failures.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrInvalidQuantity) || errors.Is(err, ErrNoPrice)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	}

	return &CircuitBreakerBroker{
		broker:  broker,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// State returns the current breaker state.
func (c *CircuitBreakerBroker) State() gobreaker.State {
	return c.breaker.State()
}

// Price wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) Price(symbol string) (float64, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (float64, error) { return b.Price(symbol) })
}

// Holding wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) Holding(symbol string) (Holding, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (Holding, error) { return b.Holding(symbol) })
}

// Holdings wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) Holdings() ([]Holding, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]Holding, error) { return b.Holdings() })
}

// Cash wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) Cash() (float64, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (float64, error) { return b.Cash() })
}

// TotalPortfolioValue wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) TotalPortfolioValue() (float64, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (float64, error) { return b.TotalPortfolioValue() })
}

// MarketOrder wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) MarketOrder(ctx context.Context, symbol string, quantity int, tag string) (*models.OrderEvent, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*models.OrderEvent, error) {
		return b.MarketOrder(ctx, symbol, quantity, tag)
	})
}

// SetHoldings wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) SetHoldings(ctx context.Context, symbol string, fraction float64) (*models.OrderEvent, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*models.OrderEvent, error) {
		return b.SetHoldings(ctx, symbol, fraction)
	})
}

// Liquidate wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) Liquidate(ctx context.Context, symbol string) (*models.OrderEvent, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*models.OrderEvent, error) {
		return b.Liquidate(ctx, symbol)
	})
}

// OptionHoldings filters holdings down to invested option positions, in symbol order.
func OptionHoldings(b Broker) ([]Holding, error) {
	all, err := b.Holdings()
	if err != nil {
		return nil, fmt.Errorf("list holdings: %w", err)
	}
	var out []Holding
	for _, h := range all {
		if h.Type == models.SecurityTypeOption && h.Invested() {
			out = append(out, h)
		}
	}
	return out, nil
}
