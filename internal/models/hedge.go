package models

import (
	"fmt"
	"strings"
	"time"
)

// Hedge is one protective put from order submission to close.
type Hedge struct {
	StateMachine *StateMachine  `json:"-"`     // Runtime only, excluded from JSON
	State        HedgeState     `json:"state"` // Canonical persisted state
	ID           string         `json:"id"`
	Contract     OptionContract `json:"contract"`
	Symbol       string         `json:"symbol"`
	EntryOrderID int            `json:"entry_order_id,omitempty"`
	ExitOrderID  int            `json:"exit_order_id,omitempty"`
	ExitReason   string         `json:"exit_reason,omitempty"`
	SubmitDate   time.Time      `json:"submit_date,omitempty"`
	EntryDate    time.Time      `json:"entry_date,omitempty"`
	ExitDate     time.Time      `json:"exit_date,omitempty"`
	EntryPrice   float64        `json:"entry_price"`
	ExitPrice    float64        `json:"exit_price"`
	EntrySpot    float64        `json:"entry_spot"`
	EntryRank    float64        `json:"entry_rank"`
	Quantity     int            `json:"quantity"`
	RealizedPnL  float64        `json:"realized_pnl"`
}

// NewHedge creates an idle hedge for the given contract
func NewHedge(id string, contract OptionContract) *Hedge {
	return &Hedge{
		ID:           id,
		Contract:     contract,
		Symbol:       contract.Symbol(),
		StateMachine: NewStateMachine(),
		State:        StateIdle,
	}
}

// ensureMachine ensures the StateMachine is initialized from persisted state
func (h *Hedge) ensureMachine() *StateMachine {
	if h.StateMachine == nil {
		h.StateMachine = NewStateMachineFromState(h.State)
	}
	return h.StateMachine
}

// TransitionState moves the hedge to a new state at simulation time at
func (h *Hedge) TransitionState(to HedgeState, condition string, at time.Time) error {
	if err := h.ensureMachine().Transition(to, condition, at); err != nil {
		return fmt.Errorf("hedge %s state transition failed: %w", h.ID, err)
	}
	h.State = to

	switch to {
	case StateSubmitted:
		h.SubmitDate = at
	case StateOpen:
		if h.EntryDate.IsZero() {
			h.EntryDate = at
		}
	case StateClosed:
		if h.ExitDate.IsZero() {
			h.ExitDate = at
		}
		if h.ExitReason == "" {
			h.ExitReason = condition
		}
	case StateError:
		h.Quantity = 0
		h.EntryPrice = 0
	}
	return nil
}

// GetCurrentState returns the canonical persisted state
func (h *Hedge) GetCurrentState() HedgeState {
	return h.State
}

// IsActive returns true while the put is ordered or held
func (h *Hedge) IsActive() bool {
	return h.ensureMachine().IsActive()
}

// Cost returns the premium paid for the put in dollars.
func (h *Hedge) Cost() float64 {
	return h.EntryPrice * float64(h.Quantity) * ContractMultiplier
}

// Close records the exit fill and realised P&L. The caller transitions state.
func (h *Hedge) Close(exitPrice float64, orderID int) {
	h.ExitPrice = exitPrice
	h.ExitOrderID = orderID
	h.RealizedPnL = (exitPrice - h.EntryPrice) * float64(h.Quantity) * ContractMultiplier
}

// ReturnPercent returns realised P&L as a percentage of premium paid.
func (h *Hedge) ReturnPercent() float64 {
	cost := h.Cost()
	if cost == 0 {
		return 0
	}
	return h.RealizedPnL / cost * 100
}

// DaysHeld returns whole days between entry and exit (or asOf while open).
func (h *Hedge) DaysHeld(asOf time.Time) int {
	if h.EntryDate.IsZero() {
		return 0
	}
	end := asOf
	if !h.ExitDate.IsZero() {
		end = h.ExitDate
	}
	return int(end.Sub(h.EntryDate).Hours() / 24)
}

// ValidateState ensures the hedge data is consistent with its state
func (h *Hedge) ValidateState() error {
	switch h.State {
	case StateIdle, StateSubmitted:
		if !h.EntryDate.IsZero() {
			return fmt.Errorf("hedge %s in state %s: EntryDate must be zero (current: %v)", h.ID, h.State, h.EntryDate)
		}
		if !h.ExitDate.IsZero() {
			return fmt.Errorf("hedge %s in state %s: ExitDate must be zero (current: %v)", h.ID, h.State, h.ExitDate)
		}
	case StateOpen:
		if h.EntryDate.IsZero() {
			return fmt.Errorf("hedge %s in state %s: EntryDate must be set", h.ID, h.State)
		}
		if h.Quantity <= 0 {
			return fmt.Errorf("hedge %s in state %s: Quantity must be > 0 (current: %d)", h.ID, h.State, h.Quantity)
		}
		if !h.ExitDate.IsZero() {
			return fmt.Errorf("hedge %s in state %s: ExitDate must be zero (current: %v)", h.ID, h.State, h.ExitDate)
		}
	case StateClosed:
		if h.EntryDate.IsZero() || h.ExitDate.IsZero() {
			return fmt.Errorf("hedge %s in state %s: EntryDate and ExitDate must be set", h.ID, h.State)
		}
		if strings.TrimSpace(h.ExitReason) == "" {
			return fmt.Errorf("hedge %s in state %s: ExitReason must be set", h.ID, h.State)
		}
		if h.ExitDate.Before(h.EntryDate) {
			return fmt.Errorf("hedge %s in state %s: EntryDate (%v) must not be after ExitDate (%v)",
				h.ID, h.State, h.EntryDate, h.ExitDate)
		}
	case StateError:
		if h.Quantity != 0 {
			return fmt.Errorf("hedge %s in state %s: Quantity must be zero (current: %d)", h.ID, h.State, h.Quantity)
		}
	}
	return nil
}

// Copy returns a deep copy safe to hand out of storage.
func (h *Hedge) Copy() *Hedge {
	if h == nil {
		return nil
	}
	c := *h
	c.StateMachine = h.StateMachine.Copy()
	return &c
}
