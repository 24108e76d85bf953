package storage

import (
	"fmt"
	"sync"

	"github.com/feyerinaGO/OptimalInvesting/internal/models"
)

// MockStorage implements Interface in memory for testing, with error
// injection and call counting.
type MockStorage struct {
	mu            sync.Mutex
	saveError     error
	loadError     error
	addError      error
	open          map[string]*models.Hedge
	history       []models.Hedge
	dailyPnL      map[string]float64
	statistics    *Statistics
	saveCallCount int
	loadCallCount int
}

// NewMockStorage creates a new mock storage for testing
func NewMockStorage() *MockStorage {
	return &MockStorage{
		open:       make(map[string]*models.Hedge),
		dailyPnL:   make(map[string]float64),
		statistics: &Statistics{},
	}
}

func (m *MockStorage) GetOpenHedges() []*models.Hedge {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Hedge, 0, len(m.open))
	for _, h := range m.open {
		out = append(out, h.Copy())
	}
	sortHedges(out)
	return out
}

func (m *MockStorage) GetOpenHedge(id string) (*models.Hedge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.open[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrHedgeNotFound)
	}
	return h.Copy(), nil
}

func (m *MockStorage) FindOpenHedgeBySymbol(symbol string) (*models.Hedge, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.open {
		if h.Symbol == symbol {
			return h.Copy(), true
		}
	}
	return nil, false
}

func (m *MockStorage) AddHedge(h *models.Hedge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.addError != nil {
		return m.addError
	}
	if _, ok := m.open[h.ID]; ok {
		return fmt.Errorf("%s: %w", h.ID, ErrHedgeExists)
	}
	m.open[h.ID] = h.Copy()
	m.saveCallCount++
	return m.saveError
}

func (m *MockStorage) UpdateHedge(h *models.Hedge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.open[h.ID]; !ok {
		return fmt.Errorf("%s: %w", h.ID, ErrHedgeNotFound)
	}
	m.open[h.ID] = h.Copy()
	m.saveCallCount++
	return m.saveError
}

func (m *MockStorage) CloseHedge(h *models.Hedge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.open[h.ID]; !ok {
		return fmt.Errorf("%s: %w", h.ID, ErrHedgeNotFound)
	}
	if h.State != models.StateClosed && h.State != models.StateError {
		return fmt.Errorf("%s in state %s: %w", h.ID, h.State, ErrHedgeStillActive)
	}
	delete(m.open, h.ID)
	m.history = append(m.history, *h.Copy())
	if h.State == models.StateClosed {
		m.statistics.record(h.RealizedPnL, h.Cost())
		m.dailyPnL[h.ExitDate.Format("2006-01-02")] += h.RealizedPnL
	}
	m.saveCallCount++
	return m.saveError
}

// Data persistence methods (mocked)
func (m *MockStorage) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveCallCount++
	return m.saveError
}

func (m *MockStorage) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadCallCount++
	return m.loadError
}

// Historical data and analytics
func (m *MockStorage) GetHistory() []models.Hedge {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Hedge, len(m.history))
	copy(out, m.history)
	return out
}

func (m *MockStorage) HasInHistory(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.history {
		if m.history[i].ID == id {
			return true
		}
	}
	return false
}

func (m *MockStorage) GetStatistics() *Statistics {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := *m.statistics
	return &stats
}

func (m *MockStorage) GetDailyPnL(date string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dailyPnL[date]
}

// Mock control methods for testing
func (m *MockStorage) SetSaveError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveError = err
}

func (m *MockStorage) SetLoadError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadError = err
}

func (m *MockStorage) SetAddError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addError = err
}

func (m *MockStorage) GetSaveCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveCallCount
}

func (m *MockStorage) GetLoadCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadCallCount
}

func (m *MockStorage) AddHistoryHedge(h models.Hedge) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, h)
}

// Ensure MockStorage implements Interface
var _ Interface = (*MockStorage)(nil)
