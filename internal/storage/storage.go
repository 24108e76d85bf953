// Package storage persists hedges and their running statistics.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/feyerinaGO/OptimalInvesting/internal/models"
)

// JSONStorage keeps hedges in memory and mirrors them to a JSON file after
// every mutation. Writes go to a temp file that is renamed into place.
type JSONStorage struct {
	mu       sync.RWMutex
	filepath string
	data     *Data
}

// Data is the persisted document.
type Data struct {
	OpenHedges  map[string]*models.Hedge `json:"open_hedges"`
	History     []models.Hedge           `json:"history"`
	DailyPnL    map[string]float64       `json:"daily_pnl"`
	Statistics  *Statistics              `json:"statistics"`
	LastUpdated time.Time                `json:"last_updated"`
}

func newData() *Data {
	return &Data{
		OpenHedges: make(map[string]*models.Hedge),
		DailyPnL:   make(map[string]float64),
		Statistics: &Statistics{},
	}
}

// NewJSONStorage creates a storage backed by path, loading it if it exists.
func NewJSONStorage(path string) (*JSONStorage, error) {
	s := &JSONStorage{
		filepath: path,
		data:     newData(),
	}
	if path == "" {
		return s, nil
	}

	if _, err := os.Stat(path); err == nil {
		if err := s.Load(); err != nil {
			return nil, fmt.Errorf("loading storage: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("stat storage file: %w", err)
	}
	return s, nil
}

// Load replaces in-memory state with the file contents.
func (s *JSONStorage) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.filepath == "" {
		return nil
	}

	raw, err := os.ReadFile(s.filepath)
	if err != nil {
		return err
	}

	data := newData()
	if err := json.Unmarshal(raw, data); err != nil {
		return fmt.Errorf("decode %s: %w", s.filepath, err)
	}
	if data.OpenHedges == nil {
		data.OpenHedges = make(map[string]*models.Hedge)
	}
	if data.DailyPnL == nil {
		data.DailyPnL = make(map[string]float64)
	}
	if data.Statistics == nil {
		data.Statistics = &Statistics{}
	}
	for id, h := range data.OpenHedges {
		if h == nil {
			delete(data.OpenHedges, id)
			continue
		}
		h.StateMachine = models.NewStateMachineFromState(h.State)
	}
	s.data = data
	return nil
}

// Save writes the current state to disk.
func (s *JSONStorage) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *JSONStorage) saveLocked() error {
	if s.filepath == "" {
		return nil
	}
	s.data.LastUpdated = time.Now()

	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode storage: %w", err)
	}

	if dir := filepath.Dir(s.filepath); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create storage dir: %w", err)
		}
	}

	tmpFile := s.filepath + ".tmp"
	if err := os.WriteFile(tmpFile, raw, 0o600); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmpFile, s.filepath); err != nil {
		_ = os.Remove(tmpFile)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// GetOpenHedges returns copies of all active hedges ordered by submission time.
func (s *JSONStorage) GetOpenHedges() []*models.Hedge {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Hedge, 0, len(s.data.OpenHedges))
	for _, h := range s.data.OpenHedges {
		out = append(out, h.Copy())
	}
	sortHedges(out)
	return out
}

// GetOpenHedge returns a copy of the open hedge with the given ID.
func (s *JSONStorage) GetOpenHedge(id string) (*models.Hedge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.data.OpenHedges[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrHedgeNotFound)
	}
	return h.Copy(), nil
}

// FindOpenHedgeBySymbol returns the most recent open hedge on an option symbol.
func (s *JSONStorage) FindOpenHedgeBySymbol(symbol string) (*models.Hedge, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *models.Hedge
	for _, h := range s.data.OpenHedges {
		if h.Symbol != symbol {
			continue
		}
		if found == nil || h.SubmitDate.After(found.SubmitDate) {
			found = h
		}
	}
	if found == nil {
		return nil, false
	}
	return found.Copy(), true
}

// AddHedge stores a new open hedge.
func (s *JSONStorage) AddHedge(h *models.Hedge) error {
	if h == nil {
		return errors.New("add hedge: nil hedge")
	}
	if err := h.ValidateState(); err != nil {
		return fmt.Errorf("add hedge: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.OpenHedges[h.ID]; ok || s.hasInHistoryLocked(h.ID) {
		return fmt.Errorf("%s: %w", h.ID, ErrHedgeExists)
	}
	s.data.OpenHedges[h.ID] = h.Copy()
	return s.saveLocked()
}

// UpdateHedge replaces a stored open hedge.
func (s *JSONStorage) UpdateHedge(h *models.Hedge) error {
	if h == nil {
		return errors.New("update hedge: nil hedge")
	}
	if err := h.ValidateState(); err != nil {
		return fmt.Errorf("update hedge: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.OpenHedges[h.ID]; !ok {
		return fmt.Errorf("%s: %w", h.ID, ErrHedgeNotFound)
	}
	s.data.OpenHedges[h.ID] = h.Copy()
	return s.saveLocked()
}

// CloseHedge moves a closed or errored hedge to history. Filled hedges count
// toward statistics and the daily P&L of their exit date.
func (s *JSONStorage) CloseHedge(h *models.Hedge) error {
	if h == nil {
		return errors.New("close hedge: nil hedge")
	}
	if h.State != models.StateClosed && h.State != models.StateError {
		return fmt.Errorf("%s in state %s: %w", h.ID, h.State, ErrHedgeStillActive)
	}
	if err := h.ValidateState(); err != nil {
		return fmt.Errorf("close hedge: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.OpenHedges[h.ID]; !ok {
		return fmt.Errorf("%s: %w", h.ID, ErrHedgeNotFound)
	}
	delete(s.data.OpenHedges, h.ID)

	closed := h.Copy()
	closed.StateMachine = nil
	s.data.History = append(s.data.History, *closed)

	if h.State == models.StateClosed {
		s.data.Statistics.record(h.RealizedPnL, h.Cost())
		s.data.DailyPnL[h.ExitDate.Format("2006-01-02")] += h.RealizedPnL
	}
	return s.saveLocked()
}

// GetHistory returns a copy of all closed hedges in close order.
func (s *JSONStorage) GetHistory() []models.Hedge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Hedge, len(s.data.History))
	copy(out, s.data.History)
	return out
}

// HasInHistory reports whether a hedge with id has been closed.
func (s *JSONStorage) HasInHistory(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasInHistoryLocked(id)
}

func (s *JSONStorage) hasInHistoryLocked(id string) bool {
	for i := range s.data.History {
		if s.data.History[i].ID == id {
			return true
		}
	}
	return false
}

// GetStatistics returns a copy of the running statistics.
func (s *JSONStorage) GetStatistics() *Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := *s.data.Statistics
	return &stats
}

// GetDailyPnL returns realised hedge P&L for a YYYY-MM-DD date.
func (s *JSONStorage) GetDailyPnL(date string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.DailyPnL[date]
}

func sortHedges(hs []*models.Hedge) {
	sort.Slice(hs, func(i, j int) bool {
		if !hs[i].SubmitDate.Equal(hs[j].SubmitDate) {
			return hs[i].SubmitDate.Before(hs[j].SubmitDate)
		}
		return hs[i].ID < hs[j].ID
	})
}
