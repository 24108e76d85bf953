package strategy

import (
	"errors"
	"fmt"

	talib "github.com/markcheno/go-talib"

	"github.com/feyerinaGO/OptimalInvesting/internal/models"
)

// ErrInsufficientHistory is returned when fewer daily bars than the
// lookback are available.
var ErrInsufficientHistory = errors.New("insufficient history")

// VolatilityRank returns (high - low) of the last bar divided by the range of
// the whole window: (high[-1] - low[-1]) / (max(high) - min(low)).
// A flat window yields 0.
func VolatilityRank(bars []models.Bar) (float64, error) {
	n := len(bars)
	if n == 0 {
		return 0, fmt.Errorf("volatility rank: %w", ErrInsufficientHistory)
	}

	highs := make([]float64, n)
	lows := make([]float64, n)
	for i, b := range bars {
		highs[i] = b.High
		lows[i] = b.Low
	}

	hi, lo := highs[0], lows[0]
	if n > 1 {
		// talib leaves the output empty for periods below 2
		hi = talib.Max(highs, n)[n-1]
		lo = talib.Min(lows, n)[n-1]
	}

	window := hi - lo
	if window <= 0 {
		return 0, nil
	}
	last := bars[n-1]
	return (last.High - last.Low) / window, nil
}
