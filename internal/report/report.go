// Package report summarises a finished backtest and writes it to disk.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/gocarina/gocsv"
	"gonum.org/v1/gonum/stat"

	"github.com/feyerinaGO/OptimalInvesting/internal/engine"
	"github.com/feyerinaGO/OptimalInvesting/internal/storage"
)

// TradingDaysPerYear annualises the daily Sharpe ratio.
const TradingDaysPerYear = 252

// ErrEmptyEquity is returned when a result has no equity curve.
var ErrEmptyEquity = errors.New("empty equity curve")

// Summary holds the headline performance figures.
type Summary struct {
	Start         string              `json:"start"`
	End           string              `json:"end"`
	TradingDays   int                 `json:"trading_days"`
	StartingValue float64             `json:"starting_value"`
	FinalValue    float64             `json:"final_value"`
	TotalReturn   float64             `json:"total_return"`
	CAGR          float64             `json:"cagr"`
	Sharpe        float64             `json:"sharpe"`
	Volatility    float64             `json:"volatility"`
	MaxDrawdown   float64             `json:"max_drawdown"`
	Orders        int                 `json:"orders"`
	Canceled      bool                `json:"canceled,omitempty"`
	Hedges        *storage.Statistics `json:"hedges,omitempty"`
}

// Build computes the summary for result. hedges may be nil.
func Build(result *engine.Result, hedges *storage.Statistics) (*Summary, error) {
	if result == nil || len(result.Equity) == 0 {
		return nil, ErrEmptyEquity
	}
	eq := result.Equity
	first, last := eq[0], eq[len(eq)-1]

	s := &Summary{
		Start:         first.Date.Format("2006-01-02"),
		End:           last.Date.Format("2006-01-02"),
		TradingDays:   len(eq),
		StartingValue: result.StartingValue,
		FinalValue:    last.Value,
		Orders:        result.Orders,
		Canceled:      result.Canceled,
		Hedges:        hedges,
	}
	if s.StartingValue > 0 {
		s.TotalReturn = last.Value/s.StartingValue - 1
	}

	values := make([]float64, 0, len(eq)+1)
	values = append(values, result.StartingValue)
	for _, p := range eq {
		values = append(values, p.Value)
	}
	returns := DailyReturns(values)
	s.Sharpe = Sharpe(returns)
	if len(returns) > 1 {
		s.Volatility = stat.StdDev(returns, nil) * math.Sqrt(TradingDaysPerYear)
	}
	s.MaxDrawdown = MaxDrawdown(values)
	s.CAGR = CAGR(result.StartingValue, last.Value, result.Start, last.Date)
	return s, nil
}

// DailyReturns returns simple returns between consecutive values. Steps
// from a non-positive value are skipped.
func DailyReturns(values []float64) []float64 {
	var out []float64
	for i := 1; i < len(values); i++ {
		if values[i-1] <= 0 {
			continue
		}
		out = append(out, values[i]/values[i-1]-1)
	}
	return out
}

// Sharpe returns the annualised Sharpe ratio of daily returns with a zero
// risk-free rate. Fewer than two returns or zero dispersion yield 0.
func Sharpe(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean, std := stat.MeanStdDev(returns, nil)
	if std == 0 || math.IsNaN(std) {
		return 0
	}
	return mean / std * math.Sqrt(TradingDaysPerYear)
}

// MaxDrawdown returns the largest peak-to-trough decline as a positive
// fraction of the peak.
func MaxDrawdown(values []float64) float64 {
	var peak, worst float64
	for _, v := range values {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := (peak - v) / peak; dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

// CAGR returns the compound annual growth rate between two dates.
func CAGR(startValue, endValue float64, from, to time.Time) float64 {
	years := to.Sub(from).Hours() / 24 / 365.25
	if years <= 0 || startValue <= 0 || endValue <= 0 {
		return 0
	}
	return math.Pow(endValue/startValue, 1/years) - 1
}

type equityRow struct {
	Date     string  `csv:"date"`
	Value    float64 `csv:"value"`
	Drawdown float64 `csv:"drawdown"`
}

// Write stores summary.json and equity.csv under dir and returns their paths.
func Write(dir string, summary *Summary, result *engine.Result) ([]string, error) {
	if summary == nil || result == nil {
		return nil, errors.New("write report: nothing to write")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create report directory: %w", err)
	}

	summaryPath := filepath.Join(dir, "summary.json")
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal summary: %w", err)
	}
	if err := os.WriteFile(summaryPath, data, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write summary: %w", err)
	}

	rows := make([]*equityRow, 0, len(result.Equity))
	peak := result.StartingValue
	for _, p := range result.Equity {
		if p.Value > peak {
			peak = p.Value
		}
		dd := 0.0
		if peak > 0 {
			dd = (peak - p.Value) / peak
		}
		rows = append(rows, &equityRow{Date: p.Date.Format("2006-01-02"), Value: p.Value, Drawdown: dd})
	}

	equityPath := filepath.Join(dir, "equity.csv")
	f, err := os.Create(equityPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create equity file: %w", err)
	}
	if err := gocsv.MarshalFile(&rows, f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to write equity curve: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close equity file: %w", err)
	}
	return []string{summaryPath, equityPath}, nil
}
