// Package models provides the market and position types shared by the backtester.
package models

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ContractMultiplier is the number of shares controlled by one equity option contract.
const ContractMultiplier = 100

// OptionRight is the right conveyed by an option contract.
type OptionRight string

const (
	// OptionRightPut is the right to sell the underlying at the strike
	OptionRightPut OptionRight = "put"
	// OptionRightCall is the right to buy the underlying at the strike
	OptionRightCall OptionRight = "call"
)

// Valid returns true if the OptionRight is one of the defined constants
func (r OptionRight) Valid() bool {
	switch r {
	case OptionRightPut, OptionRightCall:
		return true
	default:
		return false
	}
}

// SecurityType distinguishes equity holdings from option holdings.
type SecurityType string

const (
	// SecurityTypeEquity is a position in the underlying shares.
	SecurityTypeEquity SecurityType = "equity"
	// SecurityTypeOption is a position in a listed option contract.
	SecurityTypeOption SecurityType = "option"
)

// OptionContract identifies a single listed option. Expiry is the expiration
// date at midnight in the exchange time zone.
type OptionContract struct {
	Underlying string      `json:"underlying"`
	Right      OptionRight `json:"right"`
	Strike     float64     `json:"strike"`
	Expiry     time.Time   `json:"expiry"`
}

// Symbol returns the OCC-style ticker: <root><YYMMDD><C|P><strike*1000 padded to 8 digits>.
func (c OptionContract) Symbol() string {
	right := "C"
	if c.Right == OptionRightPut {
		right = "P"
	}
	strike := int64(math.Round(c.Strike * 1000))
	return fmt.Sprintf("%s%s%s%08d", strings.ToUpper(c.Underlying), c.Expiry.Format("060102"), right, strike)
}

// String implements fmt.Stringer.
func (c OptionContract) String() string {
	return c.Symbol()
}

// DaysToExpiry returns the whole number of days between now and expiry,
// rounded toward negative infinity (a contract expiring tonight has 0 days).
func (c OptionContract) DaysToExpiry(now time.Time) int {
	return int(math.Floor(c.Expiry.Sub(now).Hours() / 24))
}

// TimeToExpiry returns the exact duration between now and expiry.
func (c OptionContract) TimeToExpiry(now time.Time) time.Duration {
	return c.Expiry.Sub(now)
}

// Intrinsic returns the exercise value of the contract at the given underlying price.
func (c OptionContract) Intrinsic(spot float64) float64 {
	if c.Right == OptionRightPut {
		return math.Max(0, c.Strike-spot)
	}
	return math.Max(0, spot-c.Strike)
}

// ParseOptionSymbol parses an OCC-style ticker produced by Symbol. The expiry
// is interpreted in loc.
func ParseOptionSymbol(symbol string, loc *time.Location) (OptionContract, error) {
	// 6 date digits + 1 right + 8 strike digits
	const suffixLen = 15
	if len(symbol) <= suffixLen {
		return OptionContract{}, fmt.Errorf("option symbol %q too short", symbol)
	}
	root := symbol[:len(symbol)-suffixLen]
	rest := symbol[len(symbol)-suffixLen:]

	expiry, err := time.ParseInLocation("060102", rest[:6], loc)
	if err != nil {
		return OptionContract{}, fmt.Errorf("option symbol %q: invalid expiry: %w", symbol, err)
	}

	var right OptionRight
	switch rest[6] {
	case 'P':
		right = OptionRightPut
	case 'C':
		right = OptionRightCall
	default:
		return OptionContract{}, fmt.Errorf("option symbol %q: invalid right %q", symbol, rest[6])
	}

	strike, err := strconv.ParseInt(rest[7:], 10, 64)
	if err != nil {
		return OptionContract{}, fmt.Errorf("option symbol %q: invalid strike: %w", symbol, err)
	}

	return OptionContract{
		Underlying: root,
		Right:      right,
		Strike:     float64(strike) / 1000,
		Expiry:     expiry,
	}, nil
}

// IsOptionSymbol reports whether symbol looks like an OCC option ticker.
func IsOptionSymbol(symbol string) bool {
	_, err := ParseOptionSymbol(symbol, time.UTC)
	return err == nil
}
