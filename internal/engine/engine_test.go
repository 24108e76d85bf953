package engine

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feyerinaGO/OptimalInvesting/internal/broker"
	"github.com/feyerinaGO/OptimalInvesting/internal/chart"
	"github.com/feyerinaGO/OptimalInvesting/internal/market"
	"github.com/feyerinaGO/OptimalInvesting/internal/models"
	"github.com/feyerinaGO/OptimalInvesting/internal/orders"
	"github.com/feyerinaGO/OptimalInvesting/internal/retry"
	"github.com/feyerinaGO/OptimalInvesting/internal/storage"
	"github.com/feyerinaGO/OptimalInvesting/internal/strategy"
)

// fakeAlgo records what the engine hands it.
type fakeAlgo struct {
	warmUp   time.Duration
	symbol   string
	host     strategy.Host
	onData   func(ctx context.Context, slice *models.Slice) error
	slices   []*models.Slice
	warming  []bool
	plotted  []time.Time
	events   []models.OrderEvent
	noEquity bool
}

func (f *fakeAlgo) Initialize(host strategy.Host) error {
	f.host = host
	if f.noEquity {
		return nil
	}
	if f.symbol == "" {
		f.symbol = "MCD"
	}
	if err := host.AddEquity(f.symbol); err != nil {
		return err
	}
	host.SetWarmUp(f.warmUp)
	host.Schedule("plot", 30*time.Minute, func(ctx context.Context) {
		f.plotted = append(f.plotted, host.Now())
	})
	return nil
}

func (f *fakeAlgo) OnData(ctx context.Context, slice *models.Slice) error {
	f.slices = append(f.slices, slice)
	f.warming = append(f.warming, f.host.IsWarmingUp())
	if f.onData != nil {
		return f.onData(ctx, slice)
	}
	return nil
}

func (f *fakeAlgo) OnOrderEvent(ev models.OrderEvent) {
	f.events = append(f.events, ev)
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, market.Exchange())
}

func newTestEngine(start, end time.Time) (*Engine, *broker.SimBroker) {
	logger, _ := test.NewNullLogger()
	sim := broker.NewSimBroker(100000, logger)
	provider := market.NewSyntheticProvider(market.DefaultSyntheticConfig(), market.DefaultChainConfig())
	cfg := DefaultConfig()
	cfg.Start = start
	cfg.End = end
	return New(cfg, provider, sim, logger), sim
}

func TestEngine_WarmUpScheduleAndHistory(t *testing.T) {
	e, _ := newTestEngine(date(2017, 1, 9), date(2017, 1, 14))
	algo := &fakeAlgo{warmUp: 5 * 24 * time.Hour}

	var firstHistory []models.Bar
	algo.onData = func(ctx context.Context, slice *models.Slice) error {
		if firstHistory == nil && !algo.host.IsWarmingUp() {
			var err error
			firstHistory, err = algo.host.History("MCD", 100)
			require.NoError(t, err)
		}
		return nil
	}

	result, err := e.Run(context.Background(), algo)
	require.NoError(t, err)

	// Jan 4-6 warm up, Jan 9-13 trade
	assert.Equal(t, 8*market.MinutesPerSession, result.Bars)
	assert.Len(t, algo.slices, 8*market.MinutesPerSession)
	assert.True(t, algo.warming[0])
	assert.False(t, algo.warming[3*market.MinutesPerSession])
	assert.Len(t, result.Equity, 5)
	assert.True(t, result.Equity[0].Date.Equal(date(2017, 1, 9)))

	// 12 padding sessions plus 3 warm-up sessions
	assert.Len(t, firstHistory, 15)

	require.Len(t, algo.plotted, 5)
	for i, p := range algo.plotted {
		want := time.Date(2017, 1, 9+i, 10, 0, 0, 0, market.Exchange())
		assert.True(t, p.Equal(want), "plot %d at %s", i, p)
	}

	_, err = e.History("SPY", 5)
	assert.ErrorIs(t, err, ErrUnknownSymbol)
}

func TestEngine_OptionQuotesStartOnNextBar(t *testing.T) {
	e, sim := newTestEngine(date(2017, 1, 9), date(2017, 1, 11))
	contract := models.OptionContract{
		Underlying: "MCD",
		Right:      models.OptionRightPut,
		Strike:     160,
		Expiry:     date(2017, 2, 17),
	}
	sym := contract.Symbol()

	algo := &fakeAlgo{}
	subscribedAt := -1
	algo.onData = func(ctx context.Context, slice *models.Slice) error {
		if subscribedAt < 0 {
			list := algo.host.OptionContractList("MCD", slice.Time)
			require.NotEmpty(t, list)
			require.NoError(t, algo.host.AddOptionContract(contract))
			subscribedAt = len(algo.slices) - 1
		}
		return nil
	}

	_, err := e.Run(context.Background(), algo)
	require.NoError(t, err)

	require.Equal(t, 0, subscribedAt)
	assert.False(t, algo.slices[0].ContainsKey(sym))
	require.True(t, algo.slices[1].ContainsKey(sym))
	quote := algo.slices[1].Options[sym]
	assert.Greater(t, quote.Price, 0.0)

	price, err := sim.Price(sym)
	require.NoError(t, err)
	assert.Greater(t, price, 0.0)
	assert.Equal(t, []string{sym}, e.Subscriptions())
}

func TestEngine_SettlesExpiredOptions(t *testing.T) {
	e, sim := newTestEngine(date(2017, 1, 9), date(2017, 1, 18))
	contract := models.OptionContract{
		Underlying: "MCD",
		Right:      models.OptionRightPut,
		Strike:     1000,
		Expiry:     date(2017, 1, 13),
	}
	sym := contract.Symbol()

	algo := &fakeAlgo{}
	bought := false
	algo.onData = func(ctx context.Context, slice *models.Slice) error {
		if len(algo.slices) == 1 {
			return algo.host.AddOptionContract(contract)
		}
		if !bought && slice.ContainsKey(sym) {
			bought = true
			_, err := sim.MarketOrder(ctx, sym, 1, "")
			return err
		}
		return nil
	}

	result, err := e.Run(context.Background(), algo)
	require.NoError(t, err)
	require.True(t, bought)

	var settled *models.OrderEvent
	for i := range algo.events {
		if algo.events[i].Tag == models.TagExpiry {
			settled = &algo.events[i]
		}
	}
	require.NotNil(t, settled)
	assert.Equal(t, sym, settled.Symbol)
	assert.Equal(t, -1, settled.FillQuantity)
	assert.True(t, settled.Time.Equal(time.Date(2017, 1, 16, 9, 31, 0, 0, market.Exchange())))

	h, err := sim.Holding(sym)
	require.NoError(t, err)
	assert.False(t, h.Invested())
	assert.Equal(t, 2, result.Orders)
}

func TestEngine_CancelStopsReplay(t *testing.T) {
	e, _ := newTestEngine(date(2017, 1, 9), date(2017, 1, 14))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	algo := &fakeAlgo{}
	algo.onData = func(context.Context, *models.Slice) error {
		if len(algo.slices) == 10 {
			cancel()
		}
		return nil
	}

	result, err := e.Run(ctx, algo)
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, result)
	assert.True(t, result.Canceled)
	assert.Equal(t, 10, result.Bars)
}

func TestEngine_RunErrors(t *testing.T) {
	e, _ := newTestEngine(date(2017, 1, 9), date(2017, 1, 9))
	_, err := e.Run(context.Background(), &fakeAlgo{})
	assert.Error(t, err)

	e, _ = newTestEngine(date(2017, 1, 9), date(2017, 1, 14))
	_, err = e.Run(context.Background(), &fakeAlgo{noEquity: true})
	assert.ErrorIs(t, err, ErrNoSubscription)

	_, err = e.Run(context.Background(), nil)
	assert.Error(t, err)

	assert.Error(t, e.AddEquity(""))
}

func TestHistoryPadding(t *testing.T) {
	assert.Equal(t, 45*24*time.Hour, historyPadding(25*24*time.Hour))
	assert.Equal(t, 10*24*time.Hour, historyPadding(0))
}

func TestEngine_MarriedPutEndToEnd(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	logger.SetOutput(io.Discard)

	sim := broker.NewSimBroker(100000, logger)
	cb := broker.NewCircuitBreakerBroker(sim)
	store := storage.NewMockStorage()
	ledger := orders.NewManager(store, logger)
	sim.OnOrderEvent(ledger.OnOrderEvent)
	recorder := chart.NewRecorder()

	cfg := DefaultConfig()
	cfg.Start = date(2017, 1, 1)
	cfg.End = date(2017, 7, 1)
	provider := market.NewSyntheticProvider(market.SyntheticConfig{Seed: 7, SwitchProb: 0.3}, market.DefaultChainConfig())
	e := New(cfg, provider, sim, logger)

	strat := strategy.NewMarriedPut(strategy.DefaultConfig(), cb, retry.NewClient(cb, logger), recorder, logger)
	result, err := e.Run(context.Background(), strat)
	require.NoError(t, err)

	require.NotEmpty(t, result.Equity)
	equity, err := sim.Holding("MCD")
	require.NoError(t, err)
	assert.True(t, equity.Invested())

	// one plot per trading day after the start
	ranks, ok := recorder.Series(strategy.VolChart)
	require.True(t, ok)
	assert.Len(t, ranks[strategy.SeriesRank], len(result.Equity))
	assert.Len(t, ranks[strategy.SeriesLevel], len(result.Equity))

	history := store.GetHistory()
	active := store.GetOpenHedges()
	require.Positive(t, len(history)+len(active), "expected at least one hedge over six months")
	for _, h := range history {
		assert.NoError(t, h.ValidateState())
	}
	for _, h := range active {
		assert.True(t, h.IsActive())
	}
	assert.Equal(t, 0, ledger.PendingOrders())
}
