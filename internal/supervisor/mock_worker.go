package supervisor

import (
	"context"
	"fmt"
	"sync"

	"github.com/kmajdoub/botfleet/internal/session"
)

// MockWorker implements Worker for testing. Tests feed it events via
// Report* methods and end it with Exit.
type MockWorker struct {
	mu       sync.Mutex
	events   chan Event
	done     chan struct{}
	exited   bool
	exitErr  error
	killed   bool
	stops    int
	stopHook func(ctx context.Context) error // optional override for Stop
}

// NewMockWorker creates a MockWorker with a buffered event channel.
func NewMockWorker() *MockWorker {
	return &MockWorker{
		events: make(chan Event, 100),
		done:   make(chan struct{}),
	}
}

// Events returns the worker's event channel.
func (m *MockWorker) Events() <-chan Event { return m.events }

// Done returns the exit channel.
func (m *MockWorker) Done() <-chan struct{} { return m.done }

// Err returns the exit error set by Exit.
func (m *MockWorker) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exitErr
}

// Stop records the graceful stop request and, by default, exits cleanly.
func (m *MockWorker) Stop(ctx context.Context) error {
	m.mu.Lock()
	m.stops++
	hook := m.stopHook
	m.mu.Unlock()
	if hook != nil {
		return hook(ctx)
	}
	m.Exit(nil)
	return nil
}

// Kill records the kill and exits the worker.
func (m *MockWorker) Kill() error {
	m.mu.Lock()
	m.killed = true
	m.mu.Unlock()
	m.Exit(fmt.Errorf("killed"))
	return nil
}

// SetStopHook overrides Stop behavior, e.g. to simulate a hung worker.
func (m *MockWorker) SetStopHook(fn func(ctx context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopHook = fn
}

// ReportStatus emits a status event.
func (m *MockWorker) ReportStatus(status session.Status, reason string) {
	m.emit(Event{Kind: EventStatus, Status: status, Reason: reason})
}

// ReportEvent emits an arbitrary event.
func (m *MockWorker) ReportEvent(ev Event) { m.emit(ev) }

func (m *MockWorker) emit(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.exited {
		return
	}
	m.events <- ev
}

// Exit ends the worker: the event channel is closed after pending
// events and Done unblocks. Safe to call more than once.
func (m *MockWorker) Exit(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.exited {
		return
	}
	m.exited = true
	m.exitErr = err
	close(m.events)
	close(m.done)
}

// Killed reports whether Kill was called.
func (m *MockWorker) Killed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.killed
}

// Stops returns how many times Stop was called.
func (m *MockWorker) Stops() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stops
}

// MockSpawner implements Spawner, handing out queued MockWorkers.
type MockSpawner struct {
	mu      sync.Mutex
	queue   []*MockWorker
	configs []WorkerConfig
	err     error
}

// NewMockSpawner creates a spawner that will return the given workers
// in order. When the queue is empty a fresh MockWorker is created.
func NewMockSpawner(workers ...*MockWorker) *MockSpawner {
	return &MockSpawner{queue: workers}
}

// Fail makes subsequent Spawn calls return err.
func (m *MockSpawner) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Spawn pops the next queued worker and records the config it was
// spawned with.
func (m *MockSpawner) Spawn(ctx context.Context, cfg WorkerConfig) (Worker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.configs = append(m.configs, cfg)
	if len(m.queue) == 0 {
		return NewMockWorker(), nil
	}
	w := m.queue[0]
	m.queue = m.queue[1:]
	return w, nil
}

// Configs returns the configs of every spawn, in order.
func (m *MockSpawner) Configs() []WorkerConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]WorkerConfig(nil), m.configs...)
}
