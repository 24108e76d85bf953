package storage

import "errors"

var (
	// ErrHedgeNotFound is returned when no open hedge has the requested ID
	ErrHedgeNotFound = errors.New("hedge not found")
	// ErrHedgeExists is returned when adding a hedge whose ID is already stored
	ErrHedgeExists = errors.New("hedge already exists")
	// ErrHedgeStillActive is returned when closing a hedge that is not closed or errored
	ErrHedgeStillActive = errors.New("hedge is still active")
)
