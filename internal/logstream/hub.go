// Package logstream fans worker log output out to any number of live
// observers. Each subscriber owns a fixed-capacity ring buffer, so a
// slow or stalled observer can never block a worker or grow memory
// without bound.
package logstream

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned by Subscription.Next once the subscription has
// been removed, either explicitly or because its session ended.
var ErrClosed = errors.New("logstream: subscription closed")

// DefaultCapacity is the per-subscriber line buffer size.
const DefaultCapacity = 300

// DefaultIdleTimeout is how long a subscriber may go without draining
// its buffer before the hub drops it.
const DefaultIdleTimeout = 2 * time.Minute

// Hub routes per-session log batches to subscribers.
type Hub struct {
	capacity int
	idle     time.Duration

	mu     sync.Mutex
	subs   map[string]map[int64]*subscriber // session id -> observer id
	nextID int64
}

type subscriber struct {
	ring     *ring
	notify   chan struct{} // size 1, coalesced wakeup
	closed   chan struct{}
	lastRead time.Time
}

// New creates a Hub. capacity <= 0 and idle <= 0 fall back to defaults.
func New(capacity int, idle time.Duration) *Hub {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	return &Hub{
		capacity: capacity,
		idle:     idle,
		subs:     make(map[string]map[int64]*subscriber),
	}
}

// Subscription is one observer's handle on a session's log stream. Only
// lines produced after Subscribe are delivered; there is no backfill.
type Subscription struct {
	ID        int64
	SessionID string
	hub       *Hub
	sub       *subscriber
}

// Subscribe attaches a new observer to the session's stream.
func (h *Hub) Subscribe(sessionID string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	s := &subscriber{
		ring:     newRing(h.capacity),
		notify:   make(chan struct{}, 1),
		closed:   make(chan struct{}),
		lastRead: time.Now(),
	}
	m, ok := h.subs[sessionID]
	if !ok {
		m = make(map[int64]*subscriber)
		h.subs[sessionID] = m
	}
	m[h.nextID] = s
	return &Subscription{ID: h.nextID, SessionID: sessionID, hub: h, sub: s}
}

// Unsubscribe detaches the observer and frees its buffer. Safe to call
// more than once.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub.SessionID, sub.ID)
}

func (h *Hub) removeLocked(sessionID string, id int64) {
	m, ok := h.subs[sessionID]
	if !ok {
		return
	}
	if s, ok := m[id]; ok {
		close(s.closed)
		delete(m, id)
	}
	if len(m) == 0 {
		delete(h.subs, sessionID)
	}
}

// Publish appends lines to every subscriber of the session. It never
// blocks: full buffers evict their oldest lines, and subscribers idle
// past the timeout are dropped on the spot.
func (h *Hub) Publish(sessionID string, lines []string) {
	if len(lines) == 0 {
		return
	}
	now := time.Now()
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, s := range h.subs[sessionID] {
		if now.Sub(s.lastRead) > h.idle {
			h.removeLocked(sessionID, id)
			continue
		}
		for _, line := range lines {
			s.ring.push(line)
		}
		select {
		case s.notify <- struct{}{}:
		default:
		}
	}
}

// DropSession detaches every subscriber of the session. Pending Next
// calls return ErrClosed.
func (h *Hub) DropSession(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id := range h.subs[sessionID] {
		h.removeLocked(sessionID, id)
	}
}

// Subscribers returns the observer count for the session.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[sessionID])
}

// Next blocks until lines are available, then drains the buffer and
// returns the batch in production order. It returns ErrClosed when the
// subscription is gone and the buffer is empty, or ctx.Err on cancel.
func (s *Subscription) Next(ctx context.Context) ([]string, error) {
	for {
		if batch := s.take(); batch != nil {
			return batch, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.sub.closed:
			// Drain anything published before the close.
			if batch := s.take(); batch != nil {
				return batch, nil
			}
			return nil, ErrClosed
		case <-s.sub.notify:
		}
	}
}

// take drains the ring under the hub lock and refreshes the idle stamp.
func (s *Subscription) take() []string {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	s.sub.lastRead = time.Now()
	return s.sub.ring.drain()
}
