package storage

import (
	"github.com/feyerinaGO/OptimalInvesting/internal/models"
)

// Interface defines the contract for hedge persistence.
//
// Implementations must be safe for concurrent use. Hedges passed in are
// copied, and hedges returned are copies the caller may mutate freely.
type Interface interface {
	// Open hedge management
	GetOpenHedges() []*models.Hedge
	GetOpenHedge(id string) (*models.Hedge, error)
	FindOpenHedgeBySymbol(symbol string) (*models.Hedge, bool)
	AddHedge(h *models.Hedge) error
	UpdateHedge(h *models.Hedge) error
	CloseHedge(h *models.Hedge) error

	// Data persistence
	Save() error
	Load() error

	// Historical data and analytics
	GetHistory() []models.Hedge
	HasInHistory(id string) bool
	GetStatistics() *Statistics
	GetDailyPnL(date string) float64
}

// NewStorage creates a new storage implementation (currently JSON-based).
// An empty path keeps everything in memory.
func NewStorage(filepath string) (Interface, error) {
	return NewJSONStorage(filepath)
}

// Ensure JSONStorage implements Interface
var _ Interface = (*JSONStorage)(nil)
