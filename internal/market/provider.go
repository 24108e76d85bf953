// Package market supplies intraday bars and listed option contracts to the
// backtest engine.
package market

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	_ "time/tzdata" // exchange time zone without relying on the host database

	"github.com/feyerinaGO/OptimalInvesting/internal/models"
)

// ErrNoData is returned when a provider has no bars for the requested range.
var ErrNoData = errors.New("no market data")

// MinutesPerSession is the number of one-minute bars in a regular session.
const MinutesPerSession = 390

// Provider supplies market data
type Provider interface {
	// Bars returns minute bars for symbol with end times in (from, to], sorted by time.
	Bars(ctx context.Context, symbol string, from, to time.Time) ([]models.Bar, error)
	// Contracts lists the option contracts trading on underlying at the given time.
	Contracts(underlying string, at time.Time, spot float64) []models.OptionContract
}

var (
	exchangeOnce sync.Once
	exchangeLoc  *time.Location
)

// Exchange returns the time zone the US equity and option markets run in.
func Exchange() *time.Location {
	exchangeOnce.Do(func() {
		loc, err := time.LoadLocation("America/New_York")
		if err != nil {
			panic(fmt.Sprintf("load exchange location: %v", err))
		}
		exchangeLoc = loc
	})
	return exchangeLoc
}

// IsTradingDay reports whether day is a weekday. Exchange holidays are not modelled.
func IsTradingDay(day time.Time) bool {
	wd := day.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// SessionOpen returns 09:30 on day's date in loc.
func SessionOpen(day time.Time, loc *time.Location) time.Time {
	d := day.In(loc)
	return time.Date(d.Year(), d.Month(), d.Day(), 9, 30, 0, 0, loc)
}

// SessionClose returns 16:00 on day's date in loc.
func SessionClose(day time.Time, loc *time.Location) time.Time {
	d := day.In(loc)
	return time.Date(d.Year(), d.Month(), d.Day(), 16, 0, 0, 0, loc)
}

// Midnight truncates t to the start of its date in loc.
func Midnight(t time.Time, loc *time.Location) time.Time {
	d := t.In(loc)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
}

func validateRange(from, to time.Time) error {
	if !to.After(from) {
		return fmt.Errorf("invalid bar range %s to %s: end must be after start",
			from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	return nil
}
