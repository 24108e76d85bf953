// Package util provides rounding helpers for prices and order sizes.
package util

import "math"

// tickEpsilon absorbs float error when x is an exact multiple of tick.
const tickEpsilon = 1e-9

func normalizeTick(x, tick float64) (float64, bool) {
	if math.IsNaN(x) || math.IsInf(x, 0) || tick == 0 || math.IsNaN(tick) {
		return 0, false
	}
	return math.Abs(tick), true
}

// RoundToTick rounds x to the nearest tick increment. Ties round away from zero.
func RoundToTick(x, tick float64) float64 {
	t, ok := normalizeTick(x, tick)
	if !ok {
		return x
	}
	return math.Round(x/t) * t
}

// FloorToTick rounds x down to a multiple of tick.
func FloorToTick(x, tick float64) float64 {
	t, ok := normalizeTick(x, tick)
	if !ok {
		return x
	}
	return math.Floor(x/t+tickEpsilon) * t
}

// CeilToTick rounds x up to a multiple of tick.
func CeilToTick(x, tick float64) float64 {
	t, ok := normalizeTick(x, tick)
	if !ok {
		return x
	}
	return math.Ceil(x/t-tickEpsilon) * t
}

// RoundQuantity divides shares by divisor and rounds half to even, the way
// order sizes are derived from an equity position. A non-positive divisor
// yields zero.
func RoundQuantity(shares float64, divisor float64) int {
	if divisor <= 0 || math.IsNaN(shares) || math.IsInf(shares, 0) {
		return 0
	}
	return int(math.RoundToEven(shares / divisor))
}
