package session

// Status is a session's lifecycle state.
type Status string

const (
	StatusAuthenticating Status = "AUTHENTICATING"
	StatusLoadingMap     Status = "LOADING_MAP"
	StatusProcessingMap  Status = "PROCESSING_MAP"
	StatusOutOfRoleplay  Status = "OUT_OF_ROLEPLAY"
	StatusRoleplaying    Status = "ROLEPLAYING"
	StatusFighting       Status = "FIGHTING"
	StatusIdle           Status = "IDLE"
	StatusRunning        Status = "RUNNING"
	StatusDisconnected   Status = "DISCONNECTED"
	StatusCrashed        Status = "CRASHED"
	StatusTerminated     Status = "TERMINATED"
	StatusBanned         Status = "BANNED"
)

// InitialStatus is the state every session starts in.
const InitialStatus = StatusAuthenticating

// activeStates are the intermediate states a logged-in worker moves
// between. They are mutually reachable; re-entering AUTHENTICATING is
// only possible after a disconnect.
var activeStates = []Status{
	StatusLoadingMap,
	StatusProcessingMap,
	StatusOutOfRoleplay,
	StatusRoleplaying,
	StatusFighting,
	StatusIdle,
	StatusRunning,
}

// transitions maps each state to the set of states a worker report may
// move it to. Terminal states have no outgoing edges.
var transitions = map[Status]map[Status]bool{}

func init() {
	add := func(from Status, to ...Status) {
		m, ok := transitions[from]
		if !ok {
			m = make(map[Status]bool)
			transitions[from] = m
		}
		for _, s := range to {
			m[s] = true
		}
	}

	endings := []Status{StatusDisconnected, StatusCrashed, StatusTerminated, StatusBanned}

	add(StatusAuthenticating, activeStates...)
	add(StatusAuthenticating, endings...)

	for _, from := range activeStates {
		for _, to := range activeStates {
			if from != to {
				add(from, to)
			}
		}
		add(from, endings...)
	}

	// A disconnected worker either re-authenticates, resumes, or ends.
	add(StatusDisconnected, StatusAuthenticating, StatusRunning, StatusCrashed, StatusTerminated, StatusBanned)
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	if _, ok := transitions[s]; ok {
		return true
	}
	return s.Terminal()
}

// Terminal reports whether s is absorbing: once entered, no further
// transitions are accepted and the session is eligible for removal.
func (s Status) Terminal() bool {
	switch s {
	case StatusTerminated, StatusCrashed, StatusBanned:
		return true
	}
	return false
}

// CanTransition reports whether a worker-reported move from s to next is
// an edge of the state machine.
func (s Status) CanTransition(next Status) bool {
	return transitions[s][next]
}

// KeepsReason reports whether statusReason should be retained when
// entering s. Every other transition clears the reason.
func (s Status) KeepsReason() bool {
	switch s {
	case StatusCrashed, StatusDisconnected, StatusTerminated, StatusBanned:
		return true
	}
	return false
}

// Statuses returns all known statuses in a stable order.
func Statuses() []Status {
	return []Status{
		StatusAuthenticating,
		StatusLoadingMap,
		StatusProcessingMap,
		StatusOutOfRoleplay,
		StatusRoleplaying,
		StatusFighting,
		StatusIdle,
		StatusRunning,
		StatusDisconnected,
		StatusCrashed,
		StatusTerminated,
		StatusBanned,
	}
}
