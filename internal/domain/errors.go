package domain

import "errors"

var (
	// ErrNotFound is returned when a run id is unknown.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState is returned for operator commands issued outside the HITL gate.
	ErrInvalidState = errors.New("not at HITL review stage")
	// ErrRunAwaitingReview blocks a new run while the latest one waits for a decision.
	ErrRunAwaitingReview = errors.New("latest pipeline run is awaiting HITL review")
	// ErrRunInProgress blocks a new run while this process is executing one.
	ErrRunInProgress = errors.New("a pipeline run is already in progress")
)

// ErrInvalidInput is returned when an operator command is missing required fields.
var ErrInvalidInput = errors.New("invalid input")
