// Package mock provides testify mocks for the broker and the strategy host.
package mock

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/feyerinaGO/OptimalInvesting/internal/broker"
	"github.com/feyerinaGO/OptimalInvesting/internal/models"
)

// Broker is a testify mock of broker.Broker.
type Broker struct {
	mock.Mock
}

var _ broker.Broker = (*Broker)(nil)

func (m *Broker) Price(symbol string) (float64, error) {
	args := m.Called(symbol)
	return args.Get(0).(float64), args.Error(1)
}

func (m *Broker) Holding(symbol string) (broker.Holding, error) {
	args := m.Called(symbol)
	return args.Get(0).(broker.Holding), args.Error(1)
}

func (m *Broker) Holdings() ([]broker.Holding, error) {
	args := m.Called()
	h, _ := args.Get(0).([]broker.Holding)
	return h, args.Error(1)
}

func (m *Broker) Cash() (float64, error) {
	args := m.Called()
	return args.Get(0).(float64), args.Error(1)
}

func (m *Broker) TotalPortfolioValue() (float64, error) {
	args := m.Called()
	return args.Get(0).(float64), args.Error(1)
}

func (m *Broker) MarketOrder(ctx context.Context, symbol string, quantity int, tag string) (*models.OrderEvent, error) {
	args := m.Called(ctx, symbol, quantity, tag)
	ev, _ := args.Get(0).(*models.OrderEvent)
	return ev, args.Error(1)
}

func (m *Broker) SetHoldings(ctx context.Context, symbol string, fraction float64) (*models.OrderEvent, error) {
	args := m.Called(ctx, symbol, fraction)
	ev, _ := args.Get(0).(*models.OrderEvent)
	return ev, args.Error(1)
}

func (m *Broker) Liquidate(ctx context.Context, symbol string) (*models.OrderEvent, error) {
	args := m.Called(ctx, symbol)
	ev, _ := args.Get(0).(*models.OrderEvent)
	return ev, args.Error(1)
}

// Liquidator is a testify mock of the strategy's retrying liquidator.
type Liquidator struct {
	mock.Mock
}

func (m *Liquidator) LiquidateWithRetry(ctx context.Context, symbol string) (*models.OrderEvent, error) {
	args := m.Called(ctx, symbol)
	ev, _ := args.Get(0).(*models.OrderEvent)
	return ev, args.Error(1)
}

// Plotter is a testify mock of a chart sink.
type Plotter struct {
	mock.Mock
}

func (m *Plotter) Plot(chart, series string, t time.Time, value float64) {
	m.Called(chart, series, t, value)
}
