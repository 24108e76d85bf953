package models

import "time"

// Bar is an OHLCV bar. Time is the bar's end time.
type Bar struct {
	Time   time.Time `csv:"time" json:"time"`
	Open   float64   `csv:"open" json:"open"`
	High   float64   `csv:"high" json:"high"`
	Low    float64   `csv:"low" json:"low"`
	Close  float64   `csv:"close" json:"close"`
	Volume float64   `csv:"volume" json:"volume"`
}

// Quote is a single price observation for a symbol inside a Slice.
type Quote struct {
	Symbol string
	Price  float64
	Bid    float64
	Ask    float64
}

// Slice is the set of data delivered to the strategy at one point in time.
type Slice struct {
	Time    time.Time
	Bars    map[string]Bar
	Options map[string]Quote
}

// NewSlice creates an empty slice at t.
func NewSlice(t time.Time) *Slice {
	return &Slice{
		Time:    t,
		Bars:    make(map[string]Bar),
		Options: make(map[string]Quote),
	}
}

// ContainsKey reports whether the slice carries data for symbol.
func (s *Slice) ContainsKey(symbol string) bool {
	if _, ok := s.Bars[symbol]; ok {
		return true
	}
	_, ok := s.Options[symbol]
	return ok
}
