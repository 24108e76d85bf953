package strategy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/feyerinaGO/OptimalInvesting/internal/broker"
	mocks "github.com/feyerinaGO/OptimalInvesting/internal/mock"
	"github.com/feyerinaGO/OptimalInvesting/internal/models"
)

var ny = func() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.UTC
	}
	return loc
}()

func put(strike float64, expiry time.Time) models.OptionContract {
	return models.OptionContract{Underlying: "MCD", Right: models.OptionRightPut, Strike: strike, Expiry: expiry}
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, ny)
}

// chain at 2017-01-20 10:00 with MCD at 150
func testChain() []models.OptionContract {
	return []models.OptionContract{
		put(149, day(2017, 2, 17)), // inside the OTM threshold
		{Underlying: "MCD", Right: models.OptionRightCall, Strike: 140, Expiry: day(2017, 2, 17)},
		put(148, day(2017, 2, 10)), // 20 days
		put(146, day(2017, 2, 17)), // 27 days
		put(145, day(2017, 2, 17)),
		put(147, day(2017, 2, 24)), // 34 days, outside the window
		put(140, day(2017, 2, 3)),  // 13 days, outside the window
	}
}

// flatHistory returns n bars whose last range is lastRange against a window of 6.
func flatHistory(n int, lastHigh, lastLow float64) []models.Bar {
	bars := make([]models.Bar, n)
	for i := range bars {
		bars[i] = models.Bar{High: 103, Low: 97}
	}
	bars[n-1] = models.Bar{High: lastHigh, Low: lastLow}
	return bars
}

type fixture struct {
	broker  *mocks.Broker
	host    *mocks.Host
	liq     *mocks.Liquidator
	plotter *mocks.Plotter
	hook    *test.Hook
	s       *MarriedPut
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger, hook := test.NewNullLogger()
	f := &fixture{
		broker:  &mocks.Broker{},
		host:    &mocks.Host{},
		liq:     &mocks.Liquidator{},
		plotter: &mocks.Plotter{},
		hook:    hook,
	}
	f.s = NewMarriedPut(DefaultConfig(), f.broker, f.liq, f.plotter, logger)
	f.s.host = f.host
	t.Cleanup(func() {
		f.broker.AssertExpectations(t)
		f.host.AssertExpectations(t)
		f.liq.AssertExpectations(t)
		f.plotter.AssertExpectations(t)
	})
	return f
}

func TestFilterPuts(t *testing.T) {
	now := time.Date(2017, 1, 20, 10, 0, 0, 0, ny)
	got := FilterPuts(testChain(), 150, now, DefaultConfig())

	var strikes []float64
	for _, c := range got {
		strikes = append(strikes, c.Strike)
	}
	assert.Equal(t, []float64{148, 146, 145}, strikes)
}

func TestSelectContract(t *testing.T) {
	now := time.Date(2017, 1, 20, 10, 0, 0, 0, ny)
	candidates := FilterPuts(testChain(), 150, now, DefaultConfig())

	best, ok := SelectContract(candidates, 150, now, 25, PriorityDTE)
	require.True(t, ok)
	assert.Equal(t, 146.0, best.Strike)
	assert.True(t, best.Expiry.Equal(day(2017, 2, 17)))

	best, ok = SelectContract(candidates, 150, now, 25, PriorityStrike)
	require.True(t, ok)
	assert.Equal(t, 148.0, best.Strike)

	_, ok = SelectContract(nil, 150, now, 25, PriorityDTE)
	assert.False(t, ok)
}

func TestMarriedPut_Initialize(t *testing.T) {
	f := newFixture(t)
	f.s.host = nil
	f.host.On("AddEquity", "MCD").Return(nil).Once()
	f.host.On("SetWarmUp", 25*24*time.Hour).Once()
	f.host.On("Schedule", "Plotting", 30*time.Minute, mock.Anything).Once()

	require.NoError(t, f.s.Initialize(f.host))
	assert.Error(t, f.s.Initialize(nil))
}

func TestMarriedPut_InitializeRejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DTE = 0
	s := NewMarriedPut(cfg, &mocks.Broker{}, &mocks.Liquidator{}, nil, nil)
	err := s.Initialize(&mocks.Host{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid strategy config")
}

func TestNewMarriedPut_NilDependencies(t *testing.T) {
	assert.Panics(t, func() { NewMarriedPut(DefaultConfig(), nil, &mocks.Liquidator{}, nil, nil) })
	assert.Panics(t, func() { NewMarriedPut(DefaultConfig(), &mocks.Broker{}, nil, nil, nil) })
}

func TestMarriedPut_OnDataWarmingUp(t *testing.T) {
	f := newFixture(t)
	f.host.On("IsWarmingUp").Return(true).Once()

	require.NoError(t, f.s.OnData(context.Background(), models.NewSlice(time.Now())))
}

func TestMarriedPut_OnDataSelectsAndSubscribes(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2017, 1, 20, 10, 0, 0, 0, ny)
	slice := models.NewSlice(now)
	best := put(146, day(2017, 2, 17))

	f.host.On("IsWarmingUp").Return(false)
	f.host.On("Now").Return(now)
	f.host.On("History", "MCD", 25).Return(flatHistory(25, 103, 97), nil)
	f.host.On("OptionContractList", "MCD", now).Return(testChain())
	f.host.On("AddOptionContract", best).Return(nil).Once()

	f.broker.On("Holding", "MCD").Return(broker.Holding{Symbol: "MCD"}, nil).Once()
	f.broker.On("SetHoldings", mock.Anything, "MCD", 0.7).Return(&models.OrderEvent{}, nil).Once()
	f.broker.On("Price", "MCD").Return(150.0, nil)

	require.NoError(t, f.s.OnData(context.Background(), slice))
	assert.Equal(t, 1.0, f.s.Rank())
	assert.Equal(t, []models.OptionContract{best}, f.s.Contracts())

	// choosing the same contract again does not resubscribe
	again, err := f.s.OptionsFilter(slice)
	require.NoError(t, err)
	assert.Equal(t, []models.OptionContract{best}, again)
	f.host.AssertNumberOfCalls(t, "AddOptionContract", 1)
}

func TestMarriedPut_OnDataNoQualifyingPut(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2017, 1, 20, 10, 0, 0, 0, ny)
	expiry := day(2017, 2, 17)

	f.host.On("IsWarmingUp").Return(false)
	f.host.On("History", "MCD", 25).Return(flatHistory(25, 103, 97), nil)
	f.host.On("OptionContractList", "MCD", now).Return([]models.OptionContract{
		{Underlying: "MCD", Right: models.OptionRightCall, Strike: 140, Expiry: expiry},
		{Underlying: "MCD", Right: models.OptionRightCall, Strike: 160, Expiry: expiry},
		put(155, expiry), // in the money
		put(150, expiry), // at the money
		put(149, expiry), // inside the OTM threshold
	})
	f.broker.On("Holding", "MCD").Return(broker.Holding{Symbol: "MCD", Quantity: 466}, nil).Once()
	f.broker.On("Price", "MCD").Return(150.0, nil)

	require.NoError(t, f.s.OnData(context.Background(), models.NewSlice(now)))
	assert.Equal(t, 1.0, f.s.Rank())
	assert.Empty(t, f.s.Contracts())
	f.host.AssertNotCalled(t, "AddOptionContract", mock.Anything)
}

func TestMarriedPut_SubscribeRetriesAfterFailure(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2017, 1, 20, 10, 0, 0, 0, ny)
	best := put(146, day(2017, 2, 17))

	f.host.On("IsWarmingUp").Return(false)
	f.host.On("History", "MCD", 25).Return(flatHistory(25, 103, 97), nil)
	f.host.On("OptionContractList", "MCD", now).Return(testChain())
	f.host.On("AddOptionContract", best).Return(errors.New("feed unavailable")).Once()
	f.host.On("AddOptionContract", best).Return(nil).Once()
	f.host.On("Now").Return(now)
	f.broker.On("Holding", "MCD").Return(broker.Holding{Symbol: "MCD", Quantity: 466}, nil).Twice()
	f.broker.On("Price", "MCD").Return(150.0, nil)

	err := f.s.OnData(context.Background(), models.NewSlice(now))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "feed unavailable")
	assert.Empty(t, f.s.Contracts())

	require.NoError(t, f.s.OnData(context.Background(), models.NewSlice(now)))
	assert.Equal(t, []models.OptionContract{best}, f.s.Contracts())
	f.host.AssertNumberOfCalls(t, "AddOptionContract", 2)
}

func TestMarriedPut_OnDataLowRankDoesNotBuy(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2017, 1, 20, 10, 0, 0, 0, ny)

	f.host.On("IsWarmingUp").Return(false)
	// last range 3 against a window of 6 is exactly the threshold
	f.host.On("History", "MCD", 25).Return(flatHistory(25, 101.5, 98.5), nil)
	f.broker.On("Holding", "MCD").Return(broker.Holding{Symbol: "MCD", Quantity: 466}, nil).Once()

	require.NoError(t, f.s.OnData(context.Background(), models.NewSlice(now)))
	assert.Equal(t, 0.5, f.s.Rank())
	assert.Empty(t, f.s.Contracts())
}

func TestMarriedPut_ShortHistoryKeepsRank(t *testing.T) {
	f := newFixture(t)
	f.s.rank = 0.8
	f.host.On("History", "MCD", 25).Return(flatHistory(10, 103, 97), nil).Once()
	f.host.On("History", "MCD", 25).Return(nil, errors.New("no data")).Once()

	f.s.updateRank()
	assert.Equal(t, 0.8, f.s.Rank())
	f.s.updateRank()
	assert.Equal(t, 0.8, f.s.Rank())
}

func TestMarriedPut_BuyPut(t *testing.T) {
	contract := put(146, day(2017, 2, 17))
	sym := contract.Symbol()

	tests := []struct {
		name     string
		shares   int
		inSlice  bool
		held     int
		wantBuy  int
		holdingQ bool
	}{
		{"buys rounded quantity", 466, true, 0, 39, true},
		{"rounds half to even", 30, true, 0, 2, true},
		{"skips zero quantity", 5, true, 0, 0, true},
		{"waits for contract data", 466, false, 0, 0, false},
		{"already held", 466, true, 39, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.s.contracts = []models.OptionContract{contract}

			slice := models.NewSlice(time.Date(2017, 1, 23, 10, 0, 0, 0, ny))
			if tt.inSlice {
				slice.Options[sym] = models.Quote{Symbol: sym, Price: 1.1}
			}
			f.broker.On("Holding", sym).Return(broker.Holding{Symbol: sym, Quantity: tt.held}, nil).Once()
			if tt.holdingQ {
				f.broker.On("Holding", "MCD").Return(broker.Holding{Symbol: "MCD", Quantity: tt.shares}, nil).Once()
			}
			if tt.wantBuy > 0 {
				f.broker.On("MarketOrder", mock.Anything, sym, tt.wantBuy, "").Return(&models.OrderEvent{}, nil).Once()
			}

			require.NoError(t, f.s.BuyPut(context.Background(), slice))
		})
	}
}

func TestMarriedPut_BuyPutOrderError(t *testing.T) {
	f := newFixture(t)
	contract := put(146, day(2017, 2, 17))
	sym := contract.Symbol()
	f.s.contracts = []models.OptionContract{contract}

	slice := models.NewSlice(time.Date(2017, 1, 23, 10, 0, 0, 0, ny))
	slice.Options[sym] = models.Quote{Symbol: sym, Price: 1.1}
	f.broker.On("Holding", sym).Return(broker.Holding{Symbol: sym}, nil).Once()
	f.broker.On("Holding", "MCD").Return(broker.Holding{Symbol: "MCD", Quantity: 120}, nil).Once()
	f.broker.On("MarketOrder", mock.Anything, sym, 10, "").Return(nil, errors.New("circuit breaker is open")).Once()

	err := f.s.BuyPut(context.Background(), slice)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit breaker is open")
}

func TestMarriedPut_ClosesNearExpiry(t *testing.T) {
	contract := put(146, day(2017, 2, 17))

	tests := []struct {
		name      string
		now       time.Time
		wantClose bool
	}{
		{"more than two days out", time.Date(2017, 2, 14, 23, 59, 0, 0, ny), false},
		{"exactly two days out", time.Date(2017, 2, 15, 0, 0, 0, 0, ny), true},
		{"inside two days", time.Date(2017, 2, 15, 10, 0, 0, 0, ny), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.s.contracts = []models.OptionContract{contract}
			f.host.On("Now").Return(tt.now)
			if tt.wantClose {
				f.liq.On("LiquidateWithRetry", mock.Anything, contract.Symbol()).Return(&models.OrderEvent{}, nil).Once()
			}

			require.NoError(t, f.s.closeExpiring(context.Background()))
			if tt.wantClose {
				assert.Empty(t, f.s.Contracts())
				require.NotNil(t, f.hook.LastEntry())
				assert.Equal(t, "Closed: too close to expiration", f.hook.LastEntry().Message)
			} else {
				assert.Len(t, f.s.Contracts(), 1)
			}
		})
	}
}

func TestMarriedPut_FailedLiquidationKeepsContract(t *testing.T) {
	f := newFixture(t)
	contract := put(146, day(2017, 2, 17))
	f.s.contracts = []models.OptionContract{contract}
	f.host.On("Now").Return(time.Date(2017, 2, 16, 10, 0, 0, 0, ny))
	f.liq.On("LiquidateWithRetry", mock.Anything, contract.Symbol()).Return(nil, errors.New("timed out")).Once()

	require.Error(t, f.s.closeExpiring(context.Background()))
	assert.Len(t, f.s.Contracts(), 1)
}

func TestMarriedPut_Plotting(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2017, 1, 23, 10, 0, 0, 0, ny)
	f.s.rank = 0.7
	contract := put(146, day(2017, 2, 17))

	f.host.On("Now").Return(now)
	f.broker.On("Price", "MCD").Return(151.5, nil)
	f.broker.On("Holdings").Return([]broker.Holding{
		{Symbol: "MCD", Type: models.SecurityTypeEquity, Quantity: 466},
		{Symbol: contract.Symbol(), Type: models.SecurityTypeOption, Contract: &contract, Quantity: 39},
	}, nil)

	f.plotter.On("Plot", VolChart, SeriesRank, now, 0.7).Once()
	f.plotter.On("Plot", VolChart, SeriesLevel, now, 0.5).Once()
	f.plotter.On("Plot", DataChart, "MCD", now, 151.5).Once()
	f.plotter.On("Plot", DataChart, SeriesStrike, now, 146.0).Once()

	f.s.Plotting(context.Background())
}

func TestMarriedPut_PlottingWithoutPut(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2017, 1, 23, 10, 0, 0, 0, ny)

	f.host.On("Now").Return(now)
	f.broker.On("Price", "MCD").Return(151.5, nil)
	f.broker.On("Holdings").Return([]broker.Holding{{Symbol: "MCD", Quantity: 466}}, nil)
	f.plotter.On("Plot", VolChart, SeriesRank, now, 0.0).Once()
	f.plotter.On("Plot", VolChart, SeriesLevel, now, 0.5).Once()
	f.plotter.On("Plot", DataChart, "MCD", now, 151.5).Once()

	f.s.Plotting(context.Background())
}

func TestMarriedPut_OnOrderEvent(t *testing.T) {
	f := newFixture(t)
	f.s.OnOrderEvent(models.OrderEvent{
		Time:    time.Date(2017, 1, 23, 10, 0, 0, 0, ny),
		OrderID: 3,
		Symbol:  "MCD",
		Status:  models.OrderStatusSubmitted,
	})
	require.NotNil(t, f.hook.LastEntry())
	assert.Equal(t, logrus.InfoLevel, f.hook.LastEntry().Level)
	assert.Contains(t, f.hook.LastEntry().Message, "OrderID: 3")
}
