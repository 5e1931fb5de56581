package supervisor

import (
	"context"

	"github.com/kmajdoub/botfleet/internal/session"
)

// WorkerConfig is the spawn contract handed to the external bot worker.
// It is built strictly from session fields, never from UI-level input.
type WorkerConfig struct {
	SessionID          string              `json:"sessionId"`
	Type               session.Type        `json:"type"`
	Leader             session.Character   `json:"leader"`
	Followers          []session.Character `json:"followers,omitempty"`
	Path               *session.Path       `json:"path,omitempty"`
	PathsIDs           []string            `json:"pathsIds,omitempty"`
	JobFilters         []session.JobFilter `json:"jobFilters,omitempty"`
	UnloadType         session.UnloadType  `json:"unloadType"`
	MonsterLvlCoefDiff float64             `json:"monsterLvlCoefDiff,omitempty"`
}

// EventKind discriminates worker-originated events.
type EventKind string

const (
	// EventStatus reports a lifecycle transition.
	EventStatus EventKind = "status"
	// EventMetrics carries a run-counter delta.
	EventMetrics EventKind = "metrics"
	// EventLog carries a batch of log lines.
	EventLog EventKind = "log"
)

// Event is one worker-originated callback: a status report, a metrics
// delta, or a log batch.
type Event struct {
	Kind   EventKind
	Status session.Status
	Reason string
	Delta  session.MetricsDelta
	Lines  []string
}

// StatusEvent builds a status report event.
func StatusEvent(status session.Status, reason string) Event {
	return Event{Kind: EventStatus, Status: status, Reason: reason}
}

// MetricsEvent builds a metrics delta event.
func MetricsEvent(delta session.MetricsDelta) Event {
	return Event{Kind: EventMetrics, Delta: delta}
}

// LogEvent builds a log batch event.
func LogEvent(lines ...string) Event {
	return Event{Kind: EventLog, Lines: lines}
}

// Worker is a handle on one running external bot process or agent.
type Worker interface {
	// Events delivers worker-originated events in order. The channel
	// is closed after the worker has exited and all events are drained.
	Events() <-chan Event
	// Stop requests graceful shutdown; it returns once the worker has
	// acknowledged or ctx expires.
	Stop(ctx context.Context) error
	// Kill terminates the worker immediately.
	Kill() error
	// Done closes when the worker has exited.
	Done() <-chan struct{}
	// Err reports the exit error, valid once Done is closed.
	Err() error
}

// Spawner abstracts worker creation for testability and for swapping
// transports (local subprocess, remote agent).
type Spawner interface {
	Spawn(ctx context.Context, cfg WorkerConfig) (Worker, error)
}
