package market

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/feyerinaGO/OptimalInvesting/internal/models"
)

// SyntheticConfig parameterises the simulated price path.
type SyntheticConfig struct {
	Seed       int64   `yaml:"seed"`
	StartPrice float64 `yaml:"start_price"`
	Drift      float64 `yaml:"drift"`       // annual
	LowVol     float64 `yaml:"low_vol"`     // annual, calm regime
	HighVol    float64 `yaml:"high_vol"`    // annual, stressed regime
	SwitchProb float64 `yaml:"switch_prob"` // daily chance of flipping regime
}

// DefaultSyntheticConfig resembles a large-cap consumer stock.
func DefaultSyntheticConfig() SyntheticConfig {
	return SyntheticConfig{
		Seed:       1,
		StartPrice: 160,
		Drift:      0.08,
		LowVol:     0.15,
		HighVol:    0.40,
		SwitchProb: 0.05,
	}
}

// SyntheticProvider generates a seeded geometric Brownian motion whose
// volatility switches between a calm and a stressed regime. The same seed and
// range always produce the same bars.
type SyntheticProvider struct {
	cfg   SyntheticConfig
	chain ChainConfig
	loc   *time.Location
}

// NewSyntheticProvider creates a provider. Zero fields in cfg take defaults.
func NewSyntheticProvider(cfg SyntheticConfig, chain ChainConfig) *SyntheticProvider {
	def := DefaultSyntheticConfig()
	if cfg.StartPrice <= 0 {
		cfg.StartPrice = def.StartPrice
	}
	if cfg.LowVol <= 0 {
		cfg.LowVol = def.LowVol
	}
	if cfg.HighVol <= 0 {
		cfg.HighVol = def.HighVol
	}
	if cfg.SwitchProb <= 0 {
		cfg.SwitchProb = def.SwitchProb
	}
	return &SyntheticProvider{cfg: cfg, chain: chain.normalize(), loc: Exchange()}
}

// Bars generates minute bars for every weekday session between from and to.
func (p *SyntheticProvider) Bars(ctx context.Context, symbol string, from, to time.Time) ([]models.Bar, error) {
	if err := validateRange(from, to); err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(p.cfg.Seed)) // #nosec G404 -- reproducible simulation
	minutesPerYear := float64(252 * MinutesPerSession)
	dt := 1 / minutesPerYear

	price := p.cfg.StartPrice
	stressed := false
	var out []models.Bar

	for day := Midnight(from, p.loc); !day.After(to); day = day.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !IsTradingDay(day) {
			continue
		}

		if rng.Float64() < p.cfg.SwitchProb {
			stressed = !stressed
		}
		vol := p.cfg.LowVol
		if stressed {
			vol = p.cfg.HighVol
		}

		// overnight gap
		price *= math.Exp(rng.NormFloat64() * vol * math.Sqrt(1.0/252) * 0.3)

		drift := (p.cfg.Drift - 0.5*vol*vol) * dt
		diffusion := vol * math.Sqrt(dt)
		open := SessionOpen(day, p.loc)

		for i := 0; i < MinutesPerSession; i++ {
			end := open.Add(time.Duration(i+1) * time.Minute)
			o := price
			c := o * math.Exp(drift+diffusion*rng.NormFloat64())
			h := math.Max(o, c) * (1 + math.Abs(rng.NormFloat64())*diffusion*0.5)
			l := math.Min(o, c) * (1 - math.Abs(rng.NormFloat64())*diffusion*0.5)
			volume := float64(1000 + rng.Intn(5000))
			price = c

			if !end.After(from) || end.After(to) {
				continue
			}
			out = append(out, models.Bar{
				Time:   end,
				Open:   o,
				High:   h,
				Low:    l,
				Close:  c,
				Volume: volume,
			})
		}
	}

	if len(out) == 0 {
		return nil, ErrNoData
	}
	return out, nil
}

// Contracts lists the generated weekly chain for underlying.
func (p *SyntheticProvider) Contracts(underlying string, at time.Time, spot float64) []models.OptionContract {
	return ListContracts(underlying, at, spot, p.chain, p.loc)
}
