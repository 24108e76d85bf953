package strategy

import (
	"fmt"
	"strings"
	"time"
)

// Selection priorities for choosing among qualifying puts.
const (
	// PriorityDTE ranks by distance from the DTE target, then by distance
	// between the underlying price and the strike.
	PriorityDTE = "dte"
	// PriorityStrike ranks by strike distance first, then DTE distance.
	PriorityStrike = "strike"
)

// Config holds the married put parameters.
type Config struct {
	Symbol            string
	DaysBeforeExp     int           // exit this many days before expiry
	DTE               int           // target days to expiration
	DTETolerance      int           // accepted +/- days around DTE
	OTM               float64       // minimum OTM distance as a fraction of price
	Lookback          int           // daily bars in the volatility window
	Threshold         float64       // buy puts above this rank
	Allocation        float64       // portfolio fraction held in the underlying
	OptionsAlloc      float64       // one option per this many shares
	PlotAfterOpen     time.Duration // daily plot offset from the open
	SelectionPriority string
}

// DefaultConfig returns the parameters of the reference MCD strategy.
func DefaultConfig() Config {
	return Config{
		Symbol:            "MCD",
		DaysBeforeExp:     2,
		DTE:               25,
		DTETolerance:      8,
		OTM:               0.01,
		Lookback:          25,
		Threshold:         0.5,
		Allocation:        0.7,
		OptionsAlloc:      12,
		PlotAfterOpen:     30 * time.Minute,
		SelectionPriority: PriorityDTE,
	}
}

// Validate checks the parameters are usable.
func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Symbol) == "":
		return fmt.Errorf("symbol is required")
	case c.DaysBeforeExp < 0:
		return fmt.Errorf("days_before_exp must be >= 0, got %d", c.DaysBeforeExp)
	case c.DTE <= 0:
		return fmt.Errorf("dte must be > 0, got %d", c.DTE)
	case c.DTETolerance <= 0:
		return fmt.Errorf("dte_tolerance must be > 0, got %d", c.DTETolerance)
	case c.OTM < 0 || c.OTM >= 1:
		return fmt.Errorf("otm must be in [0, 1), got %g", c.OTM)
	case c.Lookback < 1:
		return fmt.Errorf("lookback must be >= 1, got %d", c.Lookback)
	case c.Allocation <= 0 || c.Allocation > 1:
		return fmt.Errorf("allocation must be in (0, 1], got %g", c.Allocation)
	case c.OptionsAlloc <= 0:
		return fmt.Errorf("options_alloc must be > 0, got %g", c.OptionsAlloc)
	case c.PlotAfterOpen < 0:
		return fmt.Errorf("plot_after_open must be >= 0, got %s", c.PlotAfterOpen)
	}
	switch c.SelectionPriority {
	case PriorityDTE, PriorityStrike:
	default:
		return fmt.Errorf("selection_priority must be %q or %q, got %q", PriorityDTE, PriorityStrike, c.SelectionPriority)
	}
	return nil
}
