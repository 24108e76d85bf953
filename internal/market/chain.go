package market

import (
	"math"
	"time"

	"github.com/feyerinaGO/OptimalInvesting/internal/models"
	"github.com/feyerinaGO/OptimalInvesting/internal/util"
)

// ChainConfig shapes the generated option chain.
type ChainConfig struct {
	// ExpiryWeeks is the number of weekly Friday expirations listed.
	ExpiryWeeks int
	// StrikeRange is the fraction of spot covered above and below it.
	StrikeRange float64
}

// DefaultChainConfig lists ten weekly expirations with strikes within 30% of spot.
func DefaultChainConfig() ChainConfig {
	return ChainConfig{ExpiryWeeks: 10, StrikeRange: 0.30}
}

func (c ChainConfig) normalize() ChainConfig {
	def := DefaultChainConfig()
	if c.ExpiryWeeks <= 0 {
		c.ExpiryWeeks = def.ExpiryWeeks
	}
	if c.StrikeRange <= 0 {
		c.StrikeRange = def.StrikeRange
	}
	return c
}

// StrikeIncrement returns the listed strike spacing for an underlying price.
func StrikeIncrement(spot float64) float64 {
	switch {
	case spot < 25:
		return 0.5
	case spot < 50:
		return 1
	case spot < 200:
		return 2.5
	default:
		return 5
	}
}

// Expirations returns the next n Friday expirations strictly after at.
// Each expiry is midnight of the Friday in loc.
func Expirations(at time.Time, n int, loc *time.Location) []time.Time {
	out := make([]time.Time, 0, n)
	day := Midnight(at, loc)
	offset := (int(time.Friday) - int(day.Weekday()) + 7) % 7
	day = day.AddDate(0, 0, offset)
	for len(out) < n {
		if day.After(at) {
			out = append(out, day)
		}
		day = day.AddDate(0, 0, 7)
	}
	return out
}

// ListContracts generates the calls and puts listed on underlying at the given
// time: every weekly expiration crossed with a strike grid centred on spot.
func ListContracts(underlying string, at time.Time, spot float64, cfg ChainConfig, loc *time.Location) []models.OptionContract {
	if spot <= 0 || math.IsNaN(spot) {
		return nil
	}
	cfg = cfg.normalize()

	inc := StrikeIncrement(spot)
	lo := math.Max(inc, util.FloorToTick(spot*(1-cfg.StrikeRange), inc))
	hi := util.CeilToTick(spot*(1+cfg.StrikeRange), inc)
	steps := int(math.Round((hi - lo) / inc))

	expiries := Expirations(at, cfg.ExpiryWeeks, loc)
	out := make([]models.OptionContract, 0, len(expiries)*(steps+1)*2)
	for _, exp := range expiries {
		for i := 0; i <= steps; i++ {
			strike := util.RoundToTick(lo+float64(i)*inc, 0.001)
			for _, right := range []models.OptionRight{models.OptionRightPut, models.OptionRightCall} {
				out = append(out, models.OptionContract{
					Underlying: underlying,
					Right:      right,
					Strike:     strike,
					Expiry:     exp,
				})
			}
		}
	}
	return out
}
