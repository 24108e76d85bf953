package market

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gocarina/gocsv"

	"github.com/feyerinaGO/OptimalInvesting/internal/models"
)

// csvBar is one row of an intraday bar file.
type csvBar struct {
	Timestamp string  `csv:"timestamp"`
	Open      float64 `csv:"open"`
	High      float64 `csv:"high"`
	Low       float64 `csv:"low"`
	Close     float64 `csv:"close"`
	Volume    float64 `csv:"volume"`
}

// csvTimeLayouts are tried in order; layouts without a zone are read in the exchange zone.
var csvTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"20060102 15:04",
}

// CSVProvider serves bars from a single file of one symbol's minute bars.
// The chain is generated the same way as the synthetic provider's.
type CSVProvider struct {
	path   string
	symbol string
	chain  ChainConfig
	loc    *time.Location

	once sync.Once
	bars []models.Bar
	err  error
}

// NewCSVProvider creates a provider reading path lazily on first use.
func NewCSVProvider(path, symbol string, chain ChainConfig) *CSVProvider {
	return &CSVProvider{
		path:   path,
		symbol: strings.ToUpper(symbol),
		chain:  chain.normalize(),
		loc:    Exchange(),
	}
}

func (p *CSVProvider) load() {
	f, err := os.Open(p.path)
	if err != nil {
		p.err = fmt.Errorf("open bar file: %w", err)
		return
	}
	defer func() { _ = f.Close() }()

	var rows []*csvBar
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		p.err = fmt.Errorf("parse bar file %s: %w", p.path, err)
		return
	}

	bars := make([]models.Bar, 0, len(rows))
	for i, r := range rows {
		if strings.TrimSpace(r.Timestamp) == "" {
			p.err = fmt.Errorf("bar file %s row %d: empty timestamp, header must be timestamp,open,high,low,close,volume", p.path, i+2)
			return
		}
		t, err := parseBarTime(r.Timestamp, p.loc)
		if err != nil {
			p.err = fmt.Errorf("bar file %s row %d: %w", p.path, i+2, err)
			return
		}
		bars = append(bars, models.Bar{
			Time:   t,
			Open:   r.Open,
			High:   r.High,
			Low:    r.Low,
			Close:  r.Close,
			Volume: r.Volume,
		})
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })
	p.bars = bars
}

func parseBarTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range csvTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.In(loc), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// Bars returns the file's bars in (from, to].
func (p *CSVProvider) Bars(ctx context.Context, symbol string, from, to time.Time) ([]models.Bar, error) {
	if err := validateRange(from, to); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !strings.EqualFold(symbol, p.symbol) {
		return nil, fmt.Errorf("symbol %s: %w", symbol, ErrNoData)
	}

	p.once.Do(p.load)
	if p.err != nil {
		return nil, p.err
	}

	lo := sort.Search(len(p.bars), func(i int) bool { return p.bars[i].Time.After(from) })
	hi := sort.Search(len(p.bars), func(i int) bool { return p.bars[i].Time.After(to) })
	if lo >= hi {
		return nil, fmt.Errorf("symbol %s between %s and %s: %w",
			symbol, from.Format("2006-01-02"), to.Format("2006-01-02"), ErrNoData)
	}
	out := make([]models.Bar, hi-lo)
	copy(out, p.bars[lo:hi])
	return out, nil
}

// Contracts lists the generated weekly chain for underlying.
func (p *CSVProvider) Contracts(underlying string, at time.Time, spot float64) []models.OptionContract {
	return ListContracts(underlying, at, spot, p.chain, p.loc)
}
