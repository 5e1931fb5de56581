package session

import "errors"

// Error taxonomy surfaced by the orchestrator. Callers match with
// errors.Is; the HTTP layer maps each to a stable code.
var (
	// ErrValidation marks a malformed or incomplete request.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound marks an unknown session or catalog id.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate marks an attempt to register an id twice.
	ErrDuplicate = errors.New("duplicate session id")

	// ErrAlreadyRunning marks a second worker bind or a leader that
	// already drives an active session.
	ErrAlreadyRunning = errors.New("already running")

	// ErrInvalidTransition marks a worker-reported status unreachable
	// from the current state. The report is logged and dropped; the
	// session keeps its prior status.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrSpawn marks an infrastructure failure standing up a worker.
	ErrSpawn = errors.New("worker spawn failed")
)
