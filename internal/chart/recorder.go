// Package chart records named time series plotted by the strategy.
package chart

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gocarina/gocsv"
)

// Point is one plotted value.
type Point struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

// Recorder collects points per chart and series. It is safe for concurrent
// use so the dashboard can read while a backtest plots.
type Recorder struct {
	mu     sync.RWMutex
	charts map[string]map[string][]Point
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{charts: make(map[string]map[string][]Point)}
}

// Plot appends value to series on chart.
func (r *Recorder) Plot(chart, series string, t time.Time, value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.charts[chart]
	if !ok {
		c = make(map[string][]Point)
		r.charts[chart] = c
	}
	c[series] = append(c[series], Point{Time: t, Value: value})
}

// Charts returns the chart names in sorted order.
func (r *Recorder) Charts() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.charts))
	for name := range r.charts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Series returns a copy of every series on chart, or false if the chart
// has never been plotted.
func (r *Recorder) Series(chart string) (map[string][]Point, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.charts[chart]
	if !ok {
		return nil, false
	}
	out := make(map[string][]Point, len(c))
	for name, pts := range c {
		out[name] = append([]Point(nil), pts...)
	}
	return out, true
}

// Last returns the most recent point of a series.
func (r *Recorder) Last(chart, series string) (Point, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pts := r.charts[chart][series]
	if len(pts) == 0 {
		return Point{}, false
	}
	return pts[len(pts)-1], true
}

type csvRow struct {
	Time   string  `csv:"time"`
	Series string  `csv:"series"`
	Value  float64 `csv:"value"`
}

// WriteCSV writes one file per chart into dir, named after the chart.
// Rows are ordered by series then time.
func (r *Recorder) WriteCSV(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create chart directory: %w", err)
	}

	var written []string
	for _, name := range r.Charts() {
		series, _ := r.Series(name)
		keys := make([]string, 0, len(series))
		for k := range series {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var rows []*csvRow
		for _, k := range keys {
			for _, p := range series[k] {
				rows = append(rows, &csvRow{
					Time:   p.Time.Format(time.RFC3339),
					Series: k,
					Value:  p.Value,
				})
			}
		}

		path := filepath.Join(dir, FileName(name))
		if err := writeRows(path, rows); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}

func writeRows(path string, rows []*csvRow) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := gocsv.MarshalFile(&rows, f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

// FileName turns a chart title into a CSV file name: "Vol Chart" becomes
// "vol_chart.csv".
func FileName(chart string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(chart)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "chart.csv"
	}
	return b.String() + ".csv"
}
