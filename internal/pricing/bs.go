// Package pricing values European options for the simulated option quotes.
package pricing

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat/distuv"
)

// TradingDaysPerYear annualises daily volatility and converts time to expiry.
const TradingDaysPerYear = 252

var stdNormal = distuv.UnitNormal

// BlackScholesPrice returns the theoretical price of a European option.
//
//   - isCall: true for a call, false for a put
//   - s: spot price of the underlying
//   - k: strike
//   - t: time to expiry in years
//   - r: risk-free rate (annual, continuous)
//   - sigma: annual volatility as a decimal
//
// When t or sigma is not positive the intrinsic value is returned.
func BlackScholesPrice(isCall bool, s, k, t, r, sigma float64) float64 {
	if t <= 0 || sigma <= 0 || s <= 0 || k <= 0 {
		return Intrinsic(isCall, s, k)
	}

	sqrtT := math.Sqrt(t)
	d1 := (math.Log(s/k) + (r+0.5*sigma*sigma)*t) / (sigma * sqrtT)
	d2 := d1 - sigma*sqrtT
	disc := k * math.Exp(-r*t)

	if isCall {
		return s*stdNormal.CDF(d1) - disc*stdNormal.CDF(d2)
	}
	return disc*stdNormal.CDF(-d2) - s*stdNormal.CDF(-d1)
}

// Intrinsic is the exercise value of an option.
func Intrinsic(isCall bool, s, k float64) float64 {
	if isCall {
		return math.Max(0, s-k)
	}
	return math.Max(0, k-s)
}

// YearFraction converts a duration to years on a calendar-day basis.
func YearFraction(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return d.Hours() / 24 / 365
}
