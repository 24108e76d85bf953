package market

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/feyerinaGO/OptimalInvesting/internal/models"
)

// DefaultVolatility is used when there is too little history to measure one.
const DefaultVolatility = 0.30

// Aggregate folds intraday bars into one bar per exchange date. The daily
// bar's Time is the session close of that date. Input must be time sorted.
func Aggregate(bars []models.Bar, loc *time.Location) []models.Bar {
	var out []models.Bar
	var cur *models.Bar
	var curDay time.Time

	for _, b := range bars {
		day := Midnight(b.Time, loc)
		if cur == nil || !day.Equal(curDay) {
			if cur != nil {
				out = append(out, *cur)
			}
			curDay = day
			cur = &models.Bar{
				Time:   SessionClose(day, loc),
				Open:   b.Open,
				High:   b.High,
				Low:    b.Low,
				Close:  b.Close,
				Volume: b.Volume,
			}
			continue
		}
		cur.High = math.Max(cur.High, b.High)
		cur.Low = math.Min(cur.Low, b.Low)
		cur.Close = b.Close
		cur.Volume += b.Volume
	}
	if cur != nil {
		out = append(out, *cur)
	}
	return out
}

// AnnualizedVolatility computes close-to-close historical volatility from
// daily closes, annualised with 252 trading days.
func AnnualizedVolatility(closes []float64) float64 {
	if len(closes) < 3 {
		return DefaultVolatility
	}
	rets := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] <= 0 || closes[i] <= 0 {
			continue
		}
		rets = append(rets, math.Log(closes[i]/closes[i-1]))
	}
	if len(rets) < 2 {
		return DefaultVolatility
	}
	sd := stat.StdDev(rets, nil)
	if sd == 0 || math.IsNaN(sd) {
		return DefaultVolatility
	}
	return sd * math.Sqrt(252)
}
