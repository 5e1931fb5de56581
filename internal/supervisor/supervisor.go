// Package supervisor binds external bot workers to sessions: it spawns
// and stops them, routes their events into the registry and the log
// hub, and turns unexpected terminations into CRASHED transitions or
// bounded restarts.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/kmajdoub/botfleet/internal/logstream"
	"github.com/kmajdoub/botfleet/internal/registry"
	"github.com/kmajdoub/botfleet/internal/session"
)

// Default timeouts; each is independently configurable via Opts.
const (
	DefaultSpawnTimeout    = 30 * time.Second
	DefaultStopTimeout     = 15 * time.Second
	DefaultDisconnectGrace = 2 * time.Minute
)

// Archive persists final run summaries when sessions end.
type Archive interface {
	SaveSummary(ctx context.Context, sum session.RunSummary) error
}

// Notifier is told when a session reaches a terminal status.
type Notifier interface {
	SessionEnded(ctx context.Context, sum session.RunSummary) error
}

// Opts configures a Supervisor.
type Opts struct {
	Registry *registry.Registry
	Spawner  Spawner
	Hub      *logstream.Hub

	Archive  Archive  // optional
	Notifier Notifier // optional

	SpawnTimeout    time.Duration
	StopTimeout     time.Duration
	DisconnectGrace time.Duration
	MaxRestarts     int
}

// Supervisor enforces the at-most-one-worker invariant and owns the run
// metrics of every session it supervises.
type Supervisor struct {
	reg      *registry.Registry
	spawner  Spawner
	hub      *logstream.Hub
	archive  Archive
	notifier Notifier

	spawnTimeout    time.Duration
	stopTimeout     time.Duration
	disconnectGrace time.Duration
	maxRestarts     int

	mu       sync.Mutex
	bindings map[string]*binding
}

// binding is the supervisor's non-owning reference to a session's live
// worker. Its fields are guarded by Supervisor.mu. The worker is nil
// while a spawn is in flight; ready closes once the slot settles, either
// with a worker installed or with the binding removed.
type binding struct {
	worker     Worker
	ready      chan struct{}
	stopping   bool
	stopReason string
	graceTimer *time.Timer
}

// New creates a Supervisor.
func New(opts Opts) (*Supervisor, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("supervisor: registry is required")
	}
	if opts.Spawner == nil {
		return nil, fmt.Errorf("supervisor: spawner is required")
	}
	if opts.Hub == nil {
		return nil, fmt.Errorf("supervisor: log hub is required")
	}
	if opts.SpawnTimeout <= 0 {
		opts.SpawnTimeout = DefaultSpawnTimeout
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	if opts.DisconnectGrace <= 0 {
		opts.DisconnectGrace = DefaultDisconnectGrace
	}
	return &Supervisor{
		reg:             opts.Registry,
		spawner:         opts.Spawner,
		hub:             opts.Hub,
		archive:         opts.Archive,
		notifier:        opts.Notifier,
		spawnTimeout:    opts.SpawnTimeout,
		stopTimeout:     opts.StopTimeout,
		disconnectGrace: opts.DisconnectGrace,
		maxRestarts:     opts.MaxRestarts,
		bindings:        make(map[string]*binding),
	}, nil
}

// configFor builds the spawn contract from session fields.
func configFor(sess session.Session) WorkerConfig {
	return WorkerConfig{
		SessionID:          sess.ID,
		Type:               sess.Type,
		Leader:             sess.Leader,
		Followers:          sess.Followers,
		Path:               sess.Path,
		PathsIDs:           sess.PathsIDs,
		JobFilters:         sess.JobFilters,
		UnloadType:         sess.UnloadType,
		MonsterLvlCoefDiff: sess.MonsterLvlCoefDiff,
	}
}

// Spawn binds a worker to the session. It fails with ErrAlreadyRunning
// when a live worker is already bound to the id.
func (s *Supervisor) Spawn(ctx context.Context, sess session.Session) error {
	s.mu.Lock()
	if _, ok := s.bindings[sess.ID]; ok {
		s.mu.Unlock()
		return fmt.Errorf("supervisor: session %s: %w", sess.ID, session.ErrAlreadyRunning)
	}
	// Reserve the slot before the (slow) spawn so concurrent attempts
	// fail fast instead of racing.
	b := &binding{ready: make(chan struct{})}
	s.bindings[sess.ID] = b
	s.mu.Unlock()

	if err := s.startWorker(ctx, sess.ID, configFor(sess), b); err != nil {
		s.mu.Lock()
		delete(s.bindings, sess.ID)
		close(b.ready)
		s.mu.Unlock()
		return err
	}
	return nil
}

// startWorker spawns a worker into an already-reserved binding and
// records the start time.
func (s *Supervisor) startWorker(ctx context.Context, id string, cfg WorkerConfig, b *binding) error {
	spawnCtx, cancel := context.WithTimeout(ctx, s.spawnTimeout)
	defer cancel()

	w, err := s.spawner.Spawn(spawnCtx, cfg)
	if err != nil {
		return fmt.Errorf("supervisor: session %s: %w: %v", id, session.ErrSpawn, err)
	}

	_ = s.reg.Update(id, func(sess *session.Session) error {
		if sess.Metrics.StartTime.IsZero() {
			sess.Metrics.StartTime = time.Now()
		}
		return nil
	})

	s.mu.Lock()
	if b.stopping {
		// A stop landed while the worker was being spawned; never run it.
		reason := b.stopReason
		s.mu.Unlock()
		_ = w.Kill()
		<-w.Done()
		if err := s.reg.ForceStatus(id, session.StatusTerminated, reason); err != nil {
			log.Printf("supervisor: session %s: terminate: %v", id, err)
		}
		s.finalize(id)
		s.mu.Lock()
		delete(s.bindings, id)
		close(b.ready)
		s.mu.Unlock()
		return nil
	}
	b.worker = w
	close(b.ready)
	s.mu.Unlock()

	go s.watch(id, w)
	return nil
}

// Running reports whether a live worker is bound to the session.
func (s *Supervisor) Running(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.bindings[id]
	return ok
}

// Stop requests graceful shutdown of the session's worker. It is
// idempotent: stopping an unknown-but-registered or already-stopping
// session is a no-op ack. Unknown session ids return ErrNotFound.
func (s *Supervisor) Stop(ctx context.Context, id, reason string) error {
	s.mu.Lock()
	b, ok := s.bindings[id]
	if !ok {
		s.mu.Unlock()
		if _, err := s.reg.Get(id); err != nil {
			return fmt.Errorf("supervisor: stop %s: %w", id, session.ErrNotFound)
		}
		return nil // already ended, second stop is a no-op ack
	}
	if b.stopping {
		s.mu.Unlock()
		return nil
	}
	b.stopping = true
	b.stopReason = reason
	w := b.worker
	ready := b.ready
	s.mu.Unlock()

	if w == nil {
		// A spawn is in flight. startWorker sees stopping set and tears
		// the worker down itself; wait for that to settle.
		select {
		case <-ready:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("supervisor: stop %s: %w", id, ctx.Err())
		}
	}

	stopCtx, cancel := context.WithTimeout(ctx, s.stopTimeout)
	defer cancel()
	if err := w.Stop(stopCtx); err != nil {
		log.Printf("supervisor: session %s: graceful stop failed (%v), killing worker", id, err)
		if kerr := w.Kill(); kerr != nil {
			log.Printf("supervisor: session %s: kill: %v", id, kerr)
		}
	}

	select {
	case <-w.Done():
	case <-time.After(s.stopTimeout):
		log.Printf("supervisor: session %s: worker did not exit after stop, killing", id)
		_ = w.Kill()
		select {
		case <-w.Done():
		case <-ctx.Done():
			return fmt.Errorf("supervisor: stop %s: %w", id, ctx.Err())
		}
	}
	return nil
}

// watch consumes the worker's event stream, then handles its exit.
func (s *Supervisor) watch(id string, w Worker) {
	for ev := range w.Events() {
		switch ev.Kind {
		case EventStatus:
			s.handleStatus(id, w, ev.Status, ev.Reason)
		case EventMetrics:
			if err := s.reg.ApplyMetrics(id, ev.Delta); err != nil {
				log.Printf("supervisor: session %s: apply metrics: %v", id, err)
			}
		case EventLog:
			s.hub.Publish(id, ev.Lines)
		}
	}
	<-w.Done()
	s.handleExit(id, w)
}

// handleStatus routes a worker-reported transition through the state
// machine. Invalid reports are logged and dropped; the session keeps
// its prior status.
func (s *Supervisor) handleStatus(id string, w Worker, next session.Status, reason string) {
	if err := s.reg.Transition(id, next, reason); err != nil {
		if errors.Is(err, session.ErrInvalidTransition) {
			log.Printf("supervisor: session %s: ignoring status report: %v", id, err)
			return
		}
		log.Printf("supervisor: session %s: transition: %v", id, err)
		return
	}

	s.mu.Lock()
	b, ok := s.bindings[id]
	if ok && b.worker == w {
		if b.graceTimer != nil {
			b.graceTimer.Stop()
			b.graceTimer = nil
		}
		if next == session.StatusDisconnected {
			b.graceTimer = time.AfterFunc(s.disconnectGrace, func() {
				s.disconnectExpired(id, w)
			})
		}
		if next.Terminal() {
			// The worker announced its own end; don't treat the
			// upcoming exit as a crash.
			b.stopping = true
		}
	}
	s.mu.Unlock()
}

// disconnectExpired fires when a session stayed DISCONNECTED past the
// grace period: the supervisor forces CRASHED and kills the worker.
func (s *Supervisor) disconnectExpired(id string, w Worker) {
	sess, err := s.reg.Get(id)
	if err != nil || sess.Status != session.StatusDisconnected {
		return
	}
	reason := fmt.Sprintf("disconnected for more than %s without reconnecting", s.disconnectGrace)
	log.Printf("supervisor: session %s: %s", id, reason)
	if err := s.reg.ForceStatus(id, session.StatusCrashed, reason); err != nil {
		log.Printf("supervisor: session %s: force crashed: %v", id, err)
	}

	s.mu.Lock()
	b, ok := s.bindings[id]
	if ok && b.worker == w {
		b.stopping = true
		delete(s.bindings, id)
	}
	s.mu.Unlock()
	if ok {
		_ = w.Kill()
		s.finalize(id)
	}
}

// handleExit runs once per worker after its event stream ends.
func (s *Supervisor) handleExit(id string, w Worker) {
	s.mu.Lock()
	b, ok := s.bindings[id]
	if !ok || b.worker != w {
		s.mu.Unlock()
		return // already finalized (disconnect watchdog) or superseded
	}
	if b.graceTimer != nil {
		b.graceTimer.Stop()
		b.graceTimer = nil
	}
	stopping := b.stopping
	stopReason := b.stopReason
	s.mu.Unlock()

	sess, err := s.reg.Get(id)
	if err != nil {
		s.release(id)
		return
	}

	switch {
	case sess.Status.Terminal():
		// Worker reported its own terminal status before exiting.
		s.release(id)
		s.finalize(id)

	case stopping:
		if err := s.reg.ForceStatus(id, session.StatusTerminated, stopReason); err != nil {
			log.Printf("supervisor: session %s: terminate: %v", id, err)
		}
		s.release(id)
		s.finalize(id)

	default:
		s.crashOrRestart(id, sess, w.Err())
	}
}

// crashOrRestart handles an unexpected worker exit: re-spawn while the
// restart ceiling allows it, otherwise mark the session CRASHED.
func (s *Supervisor) crashOrRestart(id string, sess session.Session, exitErr error) {
	failure := "worker exited unexpectedly"
	if exitErr != nil {
		failure = fmt.Sprintf("worker exited unexpectedly: %v", exitErr)
	}

	if sess.Metrics.NumberOfRestarts < s.maxRestarts {
		s.mu.Lock()
		b := s.bindings[id]
		if b == nil {
			s.mu.Unlock()
			return
		}
		if b.stopping {
			// A stop raced the crash; honor it instead of respawning.
			reason := b.stopReason
			s.mu.Unlock()
			if err := s.reg.ForceStatus(id, session.StatusTerminated, reason); err != nil {
				log.Printf("supervisor: session %s: terminate: %v", id, err)
			}
			s.release(id)
			s.finalize(id)
			return
		}
		// Put the binding back into the spawn-in-flight state so a stop
		// issued during the respawn lands on the new worker.
		b.worker = nil
		b.ready = make(chan struct{})
		s.mu.Unlock()

		restarts := sess.Metrics.NumberOfRestarts + 1
		log.Printf("supervisor: session %s: %s; restarting (%d/%d)", id, failure, restarts, s.maxRestarts)
		err := s.reg.Update(id, func(cur *session.Session) error {
			cur.Metrics.NumberOfRestarts = restarts
			cur.Status = session.InitialStatus
			cur.StatusReason = ""
			return nil
		})
		if err != nil {
			log.Printf("supervisor: session %s: restart bookkeeping: %v", id, err)
		}

		fresh, err := s.reg.Get(id)
		if err == nil {
			err = s.startWorker(context.Background(), id, configFor(fresh), b)
		}
		if err == nil {
			return
		}
		log.Printf("supervisor: session %s: restart failed: %v", id, err)
		s.mu.Lock()
		close(b.ready)
		s.mu.Unlock()
		failure = fmt.Sprintf("restart failed: %v", err)
	}

	if err := s.reg.ForceStatus(id, session.StatusCrashed, failure); err != nil {
		log.Printf("supervisor: session %s: force crashed: %v", id, err)
	}
	s.release(id)
	s.finalize(id)
}

// release drops the binding, freeing the session's worker slot.
func (s *Supervisor) release(id string) {
	s.mu.Lock()
	delete(s.bindings, id)
	s.mu.Unlock()
}

// finalize emits the final metrics snapshot: archive, notify, and close
// the session's log stream. The registry entry stays readable until the
// reaper removes it after the grace period.
func (s *Supervisor) finalize(id string) {
	sess, err := s.reg.Get(id)
	if err != nil {
		return
	}
	sum := sess.Summary()

	if s.archive != nil {
		if err := s.archive.SaveSummary(context.Background(), sum); err != nil {
			log.Printf("supervisor: session %s: archive summary: %v", id, err)
		}
	}
	if s.notifier != nil {
		if err := s.notifier.SessionEnded(context.Background(), sum); err != nil {
			log.Printf("supervisor: session %s: notify: %v", id, err)
		}
	}
	s.hub.DropSession(id)
	log.Printf("supervisor: session %s ended: status=%s kamas=%d fights=%d restarts=%d",
		id, sum.Status, sum.EarnedKamas, sum.NbrFightsDone, sum.NumberOfRestarts)
}
