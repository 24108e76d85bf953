package report

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feyerinaGO/OptimalInvesting/internal/engine"
	"github.com/feyerinaGO/OptimalInvesting/internal/storage"
)

func testResult() *engine.Result {
	d := func(day int) time.Time { return time.Date(2017, 1, day, 0, 0, 0, 0, time.UTC) }
	return &engine.Result{
		Start:         d(1),
		End:           d(10),
		StartingValue: 100,
		Orders:        4,
		Equity: []engine.EquityPoint{
			{Date: d(3), Value: 110},
			{Date: d(4), Value: 99},
			{Date: d(5), Value: 120},
		},
	}
}

func TestDailyReturns(t *testing.T) {
	got := DailyReturns([]float64{100, 110, 0, 50})
	require.Len(t, got, 2)
	assert.InDelta(t, 0.1, got[0], 1e-12)
	assert.InDelta(t, -1.0, got[1], 1e-12)
}

func TestSharpe(t *testing.T) {
	assert.Equal(t, 0.0, Sharpe(nil))
	assert.Equal(t, 0.0, Sharpe([]float64{0.01}))
	assert.Equal(t, 0.0, Sharpe([]float64{0.01, 0.01, 0.01}))

	// mean 0.01, sample std 0.01
	got := Sharpe([]float64{0, 0.01, 0.02})
	assert.InDelta(t, math.Sqrt(252), got, 1e-9)
}

func TestMaxDrawdown(t *testing.T) {
	assert.InDelta(t, 0.1, MaxDrawdown([]float64{100, 110, 99, 120}), 1e-12)
	assert.Equal(t, 0.0, MaxDrawdown([]float64{1, 2, 3}))
	assert.Equal(t, 0.0, MaxDrawdown(nil))
}

func TestCAGR(t *testing.T) {
	from := time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(time.Duration(2 * 365.25 * 24 * float64(time.Hour)))
	assert.InDelta(t, 0.1, CAGR(100, 121, from, to), 1e-9)
	assert.Equal(t, 0.0, CAGR(100, 121, to, from))
	assert.Equal(t, 0.0, CAGR(0, 121, from, to))
}

func TestBuild(t *testing.T) {
	stats := &storage.Statistics{TotalHedges: 2}
	s, err := Build(testResult(), stats)
	require.NoError(t, err)

	assert.Equal(t, "2017-01-03", s.Start)
	assert.Equal(t, "2017-01-05", s.End)
	assert.Equal(t, 3, s.TradingDays)
	assert.InDelta(t, 0.2, s.TotalReturn, 1e-12)
	assert.InDelta(t, 0.1, s.MaxDrawdown, 1e-12)
	assert.Greater(t, s.Sharpe, 0.0)
	assert.Greater(t, s.Volatility, 0.0)
	assert.Greater(t, s.CAGR, 0.0)
	assert.Equal(t, 4, s.Orders)
	assert.Same(t, stats, s.Hedges)

	_, err = Build(&engine.Result{}, nil)
	assert.ErrorIs(t, err, ErrEmptyEquity)
	_, err = Build(nil, nil)
	assert.ErrorIs(t, err, ErrEmptyEquity)
}

func TestWrite(t *testing.T) {
	result := testResult()
	s, err := Build(result, nil)
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "out")
	paths, err := Write(dir, s, result)
	require.NoError(t, err)
	require.Len(t, paths, 2)

	data, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	var decoded Summary
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, s.TradingDays, decoded.TradingDays)
	assert.Nil(t, decoded.Hedges)

	f, err := os.Open(paths[1])
	require.NoError(t, err)
	defer f.Close()
	var rows []*equityRow
	require.NoError(t, gocsv.UnmarshalFile(f, &rows))
	require.Len(t, rows, 3)
	assert.Equal(t, "2017-01-04", rows[1].Date)
	assert.InDelta(t, 0.1, rows[1].Drawdown, 1e-12)
	assert.Equal(t, 0.0, rows[2].Drawdown)

	_, err = Write(dir, nil, result)
	assert.Error(t, err)
}
