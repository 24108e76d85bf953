package models

import (
	"fmt"
	"time"
)

// HedgeState represents the current state of a protective put
type HedgeState string

const (
	StateIdle      HedgeState = "idle"      // No put held or ordered
	StateSubmitted HedgeState = "submitted" // Buy order submitted, waiting for fill
	StateOpen      HedgeState = "open"      // Put held
	StateClosed    HedgeState = "closed"    // Put sold or settled
	StateError     HedgeState = "error"     // Buy order rejected
)

// Transition conditions
const (
	ConditionOrderPlaced    = "order_placed"
	ConditionOrderFilled    = "order_filled"
	ConditionOrderInvalid   = "order_invalid"
	ConditionExpiryExit     = "expiry_exit"
	ConditionExpired        = "expired"
	ConditionForceClose     = "force_close"
	ConditionManualRecovery = "manual_intervention"
)

// StateTransition defines valid state transitions
type StateTransition struct {
	From        HedgeState
	To          HedgeState
	Condition   string
	Description string
}

// ValidTransitions lists every allowed hedge transition.
var ValidTransitions = []StateTransition{
	{StateIdle, StateSubmitted, ConditionOrderPlaced, "Put buy order submitted"},
	{StateSubmitted, StateOpen, ConditionOrderFilled, "Put buy order filled"},
	{StateSubmitted, StateError, ConditionOrderInvalid, "Put buy order rejected"},

	{StateOpen, StateClosed, ConditionExpiryExit, "Put sold before expiration"},
	{StateOpen, StateClosed, ConditionExpired, "Put settled at expiration"},
	{StateOpen, StateClosed, ConditionForceClose, "Put closed at end of run"},

	{StateError, StateIdle, ConditionManualRecovery, "Manual intervention completed"},
	{StateError, StateClosed, ConditionForceClose, "Force close hedge"},
}

// StateMachine manages hedge state transitions
type StateMachine struct {
	transitionTime  time.Time
	transitionCount map[HedgeState]int
	currentState    HedgeState
	previousState   HedgeState
}

// NewStateMachine creates a new state machine
func NewStateMachine() *StateMachine {
	return &StateMachine{
		currentState:    StateIdle,
		previousState:   StateIdle,
		transitionCount: make(map[HedgeState]int),
	}
}

// NewStateMachineFromState rebuilds a machine positioned at state, used when
// a hedge is loaded from storage.
func NewStateMachineFromState(state HedgeState) *StateMachine {
	sm := NewStateMachine()
	if state == "" {
		return sm
	}
	sm.currentState = state
	if state != StateIdle {
		sm.transitionCount[state] = 1
	}
	return sm
}

// GetCurrentState returns the current state
func (sm *StateMachine) GetCurrentState() HedgeState {
	return sm.currentState
}

// GetPreviousState returns the previous state
func (sm *StateMachine) GetPreviousState() HedgeState {
	return sm.previousState
}

// GetTransitionTime returns the simulation time of the last transition
func (sm *StateMachine) GetTransitionTime() time.Time {
	return sm.transitionTime
}

// IsValidTransition checks if a transition is valid
func (sm *StateMachine) IsValidTransition(to HedgeState, condition string) error {
	for _, transition := range ValidTransitions {
		if transition.From == sm.currentState && transition.To == to && transition.Condition == condition {
			return nil
		}
	}
	return fmt.Errorf("invalid transition from %s to %s with condition '%s'",
		sm.currentState, to, condition)
}

// Transition moves to a new state at simulation time at
func (sm *StateMachine) Transition(to HedgeState, condition string, at time.Time) error {
	if err := sm.IsValidTransition(to, condition); err != nil {
		return err
	}

	sm.previousState = sm.currentState
	sm.currentState = to
	sm.transitionTime = at
	sm.transitionCount[to]++
	return nil
}

// GetTransitionCount returns how many times we've been in a state
func (sm *StateMachine) GetTransitionCount(state HedgeState) int {
	return sm.transitionCount[state]
}

// IsActive returns true while a put is ordered or held
func (sm *StateMachine) IsActive() bool {
	return sm.currentState == StateSubmitted || sm.currentState == StateOpen
}

// Reset returns the machine to idle
func (sm *StateMachine) Reset() {
	sm.currentState = StateIdle
	sm.previousState = StateIdle
	sm.transitionTime = time.Time{}
	sm.transitionCount = make(map[HedgeState]int)
}

// GetStateDescription returns a human-readable description of the current state
func (sm *StateMachine) GetStateDescription() string {
	switch sm.currentState {
	case StateIdle:
		return "No protective put, waiting for elevated volatility"
	case StateSubmitted:
		return "Put order submitted, waiting for fill"
	case StateOpen:
		return "Protective put held"
	case StateClosed:
		return "Protective put closed"
	case StateError:
		return "Put order rejected - manual intervention required"
	default:
		return "Unknown state"
	}
}

// Copy creates a deep copy of the StateMachine
func (sm *StateMachine) Copy() *StateMachine {
	if sm == nil {
		return nil
	}
	newSM := &StateMachine{
		currentState:    sm.currentState,
		previousState:   sm.previousState,
		transitionTime:  sm.transitionTime,
		transitionCount: make(map[HedgeState]int, len(sm.transitionCount)),
	}
	for k, v := range sm.transitionCount {
		newSM.transitionCount[k] = v
	}
	return newSM
}
