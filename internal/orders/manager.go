// Package orders turns broker order events into the hedge ledger.
package orders

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/feyerinaGO/OptimalInvesting/internal/models"
	"github.com/feyerinaGO/OptimalInvesting/internal/storage"
)

// EntryContext reports the underlying spot and volatility rank at the time
// a put for the given symbol is bought.
type EntryContext func(symbol string) (spot, rank float64)

// Manager consumes order events for option contracts and keeps one Hedge
// per protective put in storage.
type Manager struct {
	mu       sync.Mutex
	storage  storage.Interface
	logger   logrus.FieldLogger
	entryCtx EntryContext
	pending  map[int]string // entry order ID -> hedge ID
	exiting  map[int]string // exit order ID -> hedge ID
	newID    func() string
}

// NewManager creates a new order manager instance.
func NewManager(store storage.Interface, logger logrus.FieldLogger) *Manager {
	if store == nil {
		panic("orders.NewManager: storage cannot be nil")
	}
	if logger == nil {
		l := logrus.New()
		logger = l.WithField("component", "orders")
	}
	return &Manager{
		storage: store,
		logger:  logger,
		pending: make(map[int]string),
		exiting: make(map[int]string),
		newID:   func() string { return uuid.New().String() },
	}
}

// SetEntryContext installs the callback used to annotate new hedges.
func (m *Manager) SetEntryContext(fn EntryContext) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entryCtx = fn
}

// OnOrderEvent drives the hedge state machine from a broker order event.
// Equity orders are ignored.
func (m *Manager) OnOrderEvent(ev models.OrderEvent) {
	if ev.SecurityType != models.SecurityTypeOption {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var err error
	switch {
	case ev.IsBuy():
		err = m.handleEntry(ev)
	default:
		err = m.handleExit(ev)
	}
	if err != nil {
		m.logger.WithFields(logrus.Fields{
			"order_id": ev.OrderID,
			"symbol":   ev.Symbol,
			"status":   ev.Status,
		}).WithError(err).Error("Failed to apply order event")
	}
}

func (m *Manager) handleEntry(ev models.OrderEvent) error {
	switch ev.Status {
	case models.OrderStatusSubmitted:
		_, err := m.submitHedge(ev)
		return err

	case models.OrderStatusFilled:
		h, err := m.pendingHedge(ev)
		if err != nil {
			return err
		}
		delete(m.pending, ev.OrderID)

		h.Quantity = ev.FillQuantity
		h.EntryPrice = ev.FillPrice
		if m.entryCtx != nil {
			h.EntrySpot, h.EntryRank = m.entryCtx(ev.Symbol)
		}
		if err := h.TransitionState(models.StateOpen, models.ConditionOrderFilled, ev.Time); err != nil {
			return err
		}
		if err := m.storage.UpdateHedge(h); err != nil {
			return fmt.Errorf("failed to save hedge %s after fill: %w", h.ID, err)
		}
		m.logger.WithFields(logrus.Fields{
			"hedge_id": h.ID,
			"symbol":   h.Symbol,
			"quantity": h.Quantity,
			"price":    h.EntryPrice,
		}).Info("Hedge opened")
		return nil

	case models.OrderStatusInvalid:
		h, err := m.pendingHedge(ev)
		if err != nil {
			return err
		}
		delete(m.pending, ev.OrderID)

		if err := h.TransitionState(models.StateError, models.ConditionOrderInvalid, ev.Time); err != nil {
			return err
		}
		if err := m.storage.UpdateHedge(h); err != nil {
			return fmt.Errorf("failed to save hedge %s after rejection: %w", h.ID, err)
		}
		if err := m.storage.CloseHedge(h); err != nil {
			return fmt.Errorf("failed to archive rejected hedge %s: %w", h.ID, err)
		}
		m.logger.WithFields(logrus.Fields{
			"hedge_id": h.ID,
			"symbol":   h.Symbol,
			"reason":   ev.Message,
		}).Warn("Hedge order rejected")
		return nil
	}
	return nil
}

// submitHedge records a new hedge for a submitted buy order.
func (m *Manager) submitHedge(ev models.OrderEvent) (*models.Hedge, error) {
	contract, err := models.ParseOptionSymbol(ev.Symbol, ev.Time.Location())
	if err != nil {
		return nil, fmt.Errorf("cannot track order %d: %w", ev.OrderID, err)
	}
	h := models.NewHedge(m.newID(), contract)
	h.EntryOrderID = ev.OrderID
	if err := h.TransitionState(models.StateSubmitted, models.ConditionOrderPlaced, ev.Time); err != nil {
		return nil, err
	}
	if err := m.storage.AddHedge(h); err != nil {
		return nil, fmt.Errorf("failed to add hedge for order %d: %w", ev.OrderID, err)
	}
	m.pending[ev.OrderID] = h.ID
	m.logger.WithFields(logrus.Fields{
		"hedge_id": h.ID,
		"order_id": ev.OrderID,
		"symbol":   h.Symbol,
	}).Debug("Hedge order submitted")
	return h, nil
}

// pendingHedge finds the hedge for an entry order. A terminal event that
// arrives without a prior submission starts a fresh hedge.
func (m *Manager) pendingHedge(ev models.OrderEvent) (*models.Hedge, error) {
	if id, ok := m.pending[ev.OrderID]; ok {
		return m.storage.GetOpenHedge(id)
	}
	m.logger.WithField("order_id", ev.OrderID).Warn("Entry event without submission, tracking it now")
	return m.submitHedge(ev)
}

func (m *Manager) handleExit(ev models.OrderEvent) error {
	switch ev.Status {
	case models.OrderStatusSubmitted:
		h, ok := m.storage.FindOpenHedgeBySymbol(ev.Symbol)
		if !ok {
			m.logger.WithField("symbol", ev.Symbol).Debug("Sell order for untracked contract")
			return nil
		}
		m.exiting[ev.OrderID] = h.ID
		return nil

	case models.OrderStatusFilled:
		h, err := m.exitHedge(ev)
		if err != nil {
			return err
		}
		delete(m.exiting, ev.OrderID)
		return m.close(h, ev.FillPrice, ev.OrderID, conditionForTag(ev.Tag), ev.Time)

	case models.OrderStatusInvalid:
		// the put is still held
		delete(m.exiting, ev.OrderID)
		m.logger.WithFields(logrus.Fields{
			"order_id": ev.OrderID,
			"symbol":   ev.Symbol,
			"reason":   ev.Message,
		}).Warn("Exit order rejected, hedge remains open")
		return nil
	}
	return nil
}

func (m *Manager) exitHedge(ev models.OrderEvent) (*models.Hedge, error) {
	if id, ok := m.exiting[ev.OrderID]; ok {
		return m.storage.GetOpenHedge(id)
	}
	h, ok := m.storage.FindOpenHedgeBySymbol(ev.Symbol)
	if !ok {
		return nil, fmt.Errorf("no open hedge for %s: %w", ev.Symbol, storage.ErrHedgeNotFound)
	}
	return h, nil
}

func (m *Manager) close(h *models.Hedge, price float64, orderID int, condition string, at time.Time) error {
	h.Close(price, orderID)
	if err := h.TransitionState(models.StateClosed, condition, at); err != nil {
		return err
	}
	if err := m.storage.UpdateHedge(h); err != nil {
		return fmt.Errorf("failed to save hedge %s after exit: %w", h.ID, err)
	}
	if err := m.storage.CloseHedge(h); err != nil {
		return fmt.Errorf("failed to archive hedge %s: %w", h.ID, err)
	}
	m.logger.WithFields(logrus.Fields{
		"hedge_id": h.ID,
		"symbol":   h.Symbol,
		"reason":   h.ExitReason,
		"pnl":      h.RealizedPnL,
	}).Info("Hedge closed")
	return nil
}

// conditionForTag maps the broker's order tag to the closing condition.
func conditionForTag(tag string) string {
	switch tag {
	case models.TagExpiry:
		return models.ConditionExpired
	case models.TagLiquidate:
		return models.ConditionExpiryExit
	default:
		return models.ConditionForceClose
	}
}

// ForceCloseAll marks every open hedge closed at the price returned by
// priceOf. Hedges still waiting on an entry fill are left untouched.
func (m *Manager) ForceCloseAll(at time.Time, priceOf func(symbol string) (float64, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, h := range m.storage.GetOpenHedges() {
		if h.State != models.StateOpen {
			continue
		}
		price, err := priceOf(h.Symbol)
		if err != nil {
			errs = append(errs, fmt.Errorf("price %s: %w", h.Symbol, err))
			continue
		}
		if err := m.close(h, price, 0, models.ConditionForceClose, at); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PendingOrders returns the number of entry orders awaiting a terminal event.
func (m *Manager) PendingOrders() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}
