// Package registry is the authoritative in-memory store of all known
// sessions. Mutations are serialized per session; readers always observe
// a committed snapshot.
package registry

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/kmajdoub/botfleet/internal/session"
)

// Registry owns every session.Session. The supervisor and the control
// service hold session ids, never pointers into the registry.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string // session ids in creation order
}

// entry pairs a session with its mutation lock. The per-entry lock
// orders status transitions and metric updates for one session while
// different sessions proceed in parallel.
type entry struct {
	mu   sync.Mutex
	sess session.Session
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// GenerateID creates a unique session id in sess-xxxxxxxx format (8-char hex).
func GenerateID() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("registry: generate session ID: %w", err)
	}
	return "sess-" + hex.EncodeToString(b), nil
}

// Create registers a new session. The id must be unset or unused; ids
// are never reused even after removal.
func (r *Registry) Create(sess session.Session) (string, error) {
	return r.create(sess, false)
}

// CreateForLeader is Create with the one-active-session-per-leader rule
// enforced under the registry lock, so two simultaneous creates for the
// same leader cannot both pass the check.
func (r *Registry) CreateForLeader(sess session.Session) (string, error) {
	return r.create(sess, true)
}

func (r *Registry) create(sess session.Session, exclusiveLeader bool) (string, error) {
	if sess.ID == "" {
		id, err := GenerateID()
		if err != nil {
			return "", err
		}
		sess.ID = id
	}
	if sess.Status == "" {
		sess.Status = session.InitialStatus
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[sess.ID]; ok {
		return "", fmt.Errorf("registry: create %s: %w", sess.ID, session.ErrDuplicate)
	}
	if exclusiveLeader && r.leaderActiveLocked(sess.Leader.ID) {
		return "", fmt.Errorf("registry: leader %s already has an active session: %w",
			sess.Leader.Name, session.ErrAlreadyRunning)
	}
	r.entries[sess.ID] = &entry{sess: sess.Clone()}
	r.order = append(r.order, sess.ID)
	return sess.ID, nil
}

// lookup finds the entry for id under the map lock.
func (r *Registry) lookup(id string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("registry: session %s: %w", id, session.ErrNotFound)
	}
	return e, nil
}

// Get returns a snapshot of the session.
func (r *Registry) Get(id string) (session.Session, error) {
	e, err := r.lookup(id)
	if err != nil {
		return session.Session{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sess.Clone(), nil
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Status session.Status
	Type   session.Type
	Active bool // only sessions in a non-terminal status
}

// List returns snapshots of all matching sessions in creation order.
func (r *Registry) List(f Filter) []session.Session {
	r.mu.RLock()
	ids := append([]string(nil), r.order...)
	r.mu.RUnlock()

	out := make([]session.Session, 0, len(ids))
	for _, id := range ids {
		e, err := r.lookup(id)
		if err != nil {
			continue // removed concurrently
		}
		e.mu.Lock()
		sess := e.sess.Clone()
		e.mu.Unlock()
		if f.Status != "" && sess.Status != f.Status {
			continue
		}
		if f.Type != "" && sess.Type != f.Type {
			continue
		}
		if f.Active && sess.Status.Terminal() {
			continue
		}
		out = append(out, sess)
	}
	return out
}

// Remove deletes the session from the registry.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; !ok {
		return fmt.Errorf("registry: remove %s: %w", id, session.ErrNotFound)
	}
	delete(r.entries, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// Update applies fn to the session under its mutation lock. The change
// is all-or-nothing: when fn returns an error the stored session is
// untouched.
func (r *Registry) Update(id string, fn func(*session.Session) error) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	next := e.sess.Clone()
	if err := fn(&next); err != nil {
		return err
	}
	e.sess = next
	return nil
}

// Transition applies a worker-reported status change after validating
// it against the state machine. Invalid reports are rejected with
// ErrInvalidTransition and leave the session untouched.
func (r *Registry) Transition(id string, next session.Status, reason string) error {
	err := r.Update(id, func(s *session.Session) error {
		if !s.Status.CanTransition(next) {
			return fmt.Errorf("registry: session %s: %s -> %s: %w",
				id, s.Status, next, session.ErrInvalidTransition)
		}
		applyStatus(s, next, reason)
		return nil
	})
	if err != nil {
		return err
	}
	return nil
}

// ForceStatus applies a supervisor-driven status change, bypassing the
// worker-report edges. Terminal states stay absorbing even here: forcing
// a status on an ended session is a no-op.
func (r *Registry) ForceStatus(id string, next session.Status, reason string) error {
	return r.Update(id, func(s *session.Session) error {
		if s.Status.Terminal() {
			return nil
		}
		applyStatus(s, next, reason)
		return nil
	})
}

func applyStatus(s *session.Session, next session.Status, reason string) {
	s.Status = next
	if next.KeepsReason() {
		s.StatusReason = reason
	} else {
		s.StatusReason = ""
	}
	if next.Terminal() {
		s.EndedAt = time.Now()
		if !s.Metrics.StartTime.IsZero() {
			s.Metrics.TotalRunTime = s.EndedAt.Sub(s.Metrics.StartTime)
		}
	}
}

// ApplyMetrics adds a worker-reported delta to the run counters.
// Negative components are dropped so the counters never decrease, and
// deltas arriving after the session ended are rejected so the counters
// stay consistent with the archived final snapshot.
func (r *Registry) ApplyMetrics(id string, d session.MetricsDelta) error {
	return r.Update(id, func(s *session.Session) error {
		if s.Status.Terminal() {
			return fmt.Errorf("registry: session %s ended as %s, dropping metrics delta", id, s.Status)
		}
		if d.EarnedKamas < 0 || d.NbrFightsDone < 0 || d.EarnedLevels < 0 {
			log.Printf("registry: session %s: dropping negative metrics delta %+v", id, d)
		}
		if d.EarnedKamas > 0 {
			s.Metrics.EarnedKamas += d.EarnedKamas
		}
		if d.NbrFightsDone > 0 {
			s.Metrics.NbrFightsDone += d.NbrFightsDone
		}
		if d.EarnedLevels > 0 {
			s.Metrics.EarnedLevels += d.EarnedLevels
		}
		return nil
	})
}

// LeaderActive reports whether the character already drives a session
// in a non-terminal status.
func (r *Registry) LeaderActive(leaderID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.leaderActiveLocked(leaderID)
}

// leaderActiveLocked needs r.mu held. Taking the per-entry locks under
// the map lock follows the r.mu-then-entry.mu order used everywhere.
func (r *Registry) leaderActiveLocked(leaderID int64) bool {
	for _, e := range r.entries {
		e.mu.Lock()
		active := e.sess.Leader.ID == leaderID && !e.sess.Status.Terminal()
		e.mu.Unlock()
		if active {
			return true
		}
	}
	return false
}
