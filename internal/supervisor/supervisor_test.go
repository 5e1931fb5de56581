package supervisor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kmajdoub/botfleet/internal/logstream"
	"github.com/kmajdoub/botfleet/internal/registry"
	"github.com/kmajdoub/botfleet/internal/session"
)

type mockArchive struct {
	mu        sync.Mutex
	summaries []session.RunSummary
}

func (m *mockArchive) SaveSummary(ctx context.Context, sum session.RunSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summaries = append(m.summaries, sum)
	return nil
}

func (m *mockArchive) all() []session.RunSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]session.RunSummary(nil), m.summaries...)
}

type mockNotifier struct {
	mu    sync.Mutex
	ended []session.RunSummary
}

func (m *mockNotifier) SessionEnded(ctx context.Context, sum session.RunSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ended = append(m.ended, sum)
	return nil
}

func (m *mockNotifier) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ended)
}

// gatedSpawner holds every Spawn call open until the test feeds the
// release channel, keeping the spawn-in-flight window open on demand.
type gatedSpawner struct {
	inner   *MockSpawner
	entered chan struct{} // one receive per Spawn call that reached the gate
	release chan struct{} // one send (or a close) lets a Spawn through
}

func newGatedSpawner(workers ...*MockWorker) *gatedSpawner {
	return &gatedSpawner{
		inner:   NewMockSpawner(workers...),
		entered: make(chan struct{}, 4),
		release: make(chan struct{}, 4),
	}
}

func (g *gatedSpawner) Spawn(ctx context.Context, cfg WorkerConfig) (Worker, error) {
	g.entered <- struct{}{}
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.inner.Spawn(ctx, cfg)
}

type harness struct {
	reg      *registry.Registry
	hub      *logstream.Hub
	spawner  *MockSpawner
	archive  *mockArchive
	notifier *mockNotifier
	sup      *Supervisor
}

func newHarness(t *testing.T, mutate func(*Opts), workers ...*MockWorker) *harness {
	t.Helper()
	h := &harness{
		reg:      registry.New(),
		hub:      logstream.New(100, time.Minute),
		spawner:  NewMockSpawner(workers...),
		archive:  &mockArchive{},
		notifier: &mockNotifier{},
	}
	opts := Opts{
		Registry:        h.reg,
		Spawner:         h.spawner,
		Hub:             h.hub,
		Archive:         h.archive,
		Notifier:        h.notifier,
		SpawnTimeout:    time.Second,
		StopTimeout:     time.Second,
		DisconnectGrace: time.Minute,
	}
	if mutate != nil {
		mutate(&opts)
	}
	sup, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.sup = sup
	return h
}

func (h *harness) createSession(t *testing.T, leaderID int64) session.Session {
	t.Helper()
	id, err := h.reg.Create(session.Session{
		Leader: session.Character{Name: fmt.Sprintf("char-%d", leaderID), ID: leaderID, ServerID: 2, Login: "acc1"},
		Type:   session.TypeFight,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	sess, err := h.reg.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return sess
}

// waitFor polls until cond passes or the deadline hits.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting: %s", msg)
}

func TestSpawnAtMostOneWorker(t *testing.T) {
	h := newHarness(t, nil)
	sess := h.createSession(t, 1)

	if err := h.sup.Spawn(context.Background(), sess); err != nil {
		t.Fatalf("first Spawn: %v", err)
	}
	err := h.sup.Spawn(context.Background(), sess)
	if !errors.Is(err, session.ErrAlreadyRunning) {
		t.Errorf("second Spawn = %v, want ErrAlreadyRunning", err)
	}
}

func TestSpawnConcurrentDuplicates(t *testing.T) {
	h := newHarness(t, nil)
	sess := h.createSession(t, 1)

	const attempts = 8
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- h.sup.Spawn(context.Background(), sess)
		}()
	}
	wg.Wait()
	close(errs)

	var okCount, dupCount int
	for err := range errs {
		switch {
		case err == nil:
			okCount++
		case errors.Is(err, session.ErrAlreadyRunning):
			dupCount++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if okCount != 1 || dupCount != attempts-1 {
		t.Errorf("ok=%d dup=%d, want 1 and %d", okCount, dupCount, attempts-1)
	}
}

func TestSpawnFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.spawner.Fail(errors.New("no binary"))
	sess := h.createSession(t, 1)

	err := h.sup.Spawn(context.Background(), sess)
	if !errors.Is(err, session.ErrSpawn) {
		t.Fatalf("Spawn = %v, want ErrSpawn", err)
	}
	if h.sup.Running(sess.ID) {
		t.Error("failed spawn left a binding behind")
	}
}

func TestSpawnConfigBuiltFromSessionFields(t *testing.T) {
	h := newHarness(t, nil)
	id, _ := h.reg.Create(session.Session{
		Leader:     session.Character{Name: "Kira", ID: 1, ServerID: 2},
		Type:       session.TypeFarm,
		Path:       &session.Path{ID: "p1", Type: session.PathRandomSubArea},
		JobFilters: []session.JobFilter{{JobID: 3, ResourceIDs: []int{10, 11}}},
		UnloadType: session.UnloadBank,
	})
	sess, _ := h.reg.Get(id)

	if err := h.sup.Spawn(context.Background(), sess); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	cfgs := h.spawner.Configs()
	if len(cfgs) != 1 {
		t.Fatalf("spawned %d times, want 1", len(cfgs))
	}
	cfg := cfgs[0]
	if cfg.SessionID != id || cfg.Type != session.TypeFarm || cfg.Path == nil || cfg.Path.ID != "p1" {
		t.Errorf("config not built from session fields: %+v", cfg)
	}
	if len(cfg.JobFilters) != 1 || cfg.JobFilters[0].JobID != 3 {
		t.Errorf("job filters not carried: %+v", cfg.JobFilters)
	}
}

func TestFarmScenario(t *testing.T) {
	w := NewMockWorker()
	h := newHarness(t, nil, w)
	sess := h.createSession(t, 1)

	if err := h.sup.Spawn(context.Background(), sess); err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	got, _ := h.reg.Get(sess.ID)
	if got.Status != session.StatusAuthenticating {
		t.Fatalf("status = %s, want AUTHENTICATING", got.Status)
	}

	w.ReportStatus(session.StatusRunning, "")
	w.ReportStatus(session.StatusFighting, "")
	w.ReportStatus(session.StatusRunning, "")
	w.ReportEvent(MetricsEvent(session.MetricsDelta{EarnedKamas: 500}))

	waitFor(t, func() bool {
		s, err := h.reg.Get(sess.ID)
		return err == nil && s.Status == session.StatusRunning && s.Metrics.EarnedKamas == 500
	}, "status RUNNING with 500 kamas")

	w.ReportEvent(MetricsEvent(session.MetricsDelta{EarnedKamas: 250, NbrFightsDone: 1}))
	waitFor(t, func() bool {
		s, _ := h.reg.Get(sess.ID)
		return s.Metrics.EarnedKamas == 750 && s.Metrics.NbrFightsDone == 1
	}, "metrics accumulate monotonically")
}

func TestInvalidStatusReportIgnored(t *testing.T) {
	w := NewMockWorker()
	h := newHarness(t, nil, w)
	sess := h.createSession(t, 1)
	if err := h.sup.Spawn(context.Background(), sess); err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	w.ReportStatus(session.StatusFighting, "")
	waitFor(t, func() bool {
		s, _ := h.reg.Get(sess.ID)
		return s.Status == session.StatusFighting
	}, "status FIGHTING")

	// FIGHTING -> AUTHENTICATING is not an edge; the session must keep
	// its status and the worker must stay bound.
	w.ReportStatus(session.StatusAuthenticating, "")
	w.ReportEvent(MetricsEvent(session.MetricsDelta{EarnedKamas: 1}))
	waitFor(t, func() bool {
		s, _ := h.reg.Get(sess.ID)
		return s.Metrics.EarnedKamas == 1
	}, "metrics after rejected report")

	s, _ := h.reg.Get(sess.ID)
	if s.Status != session.StatusFighting {
		t.Errorf("status = %s, want FIGHTING after rejected report", s.Status)
	}
	if !h.sup.Running(sess.ID) {
		t.Error("worker unbound after rejected report")
	}
}

func TestLogEventsReachSubscribers(t *testing.T) {
	w := NewMockWorker()
	h := newHarness(t, nil, w)
	sess := h.createSession(t, 1)
	if err := h.sup.Spawn(context.Background(), sess); err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	sub := h.hub.Subscribe(sess.ID)
	defer h.hub.Unsubscribe(sub)

	w.ReportEvent(LogEvent("moving to map", "starting fight"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	batch, err := sub.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if len(batch) != 2 || batch[0] != "moving to map" {
		t.Errorf("batch = %v", batch)
	}
}

func TestStopGraceful(t *testing.T) {
	w := NewMockWorker()
	h := newHarness(t, nil, w)
	sess := h.createSession(t, 1)
	if err := h.sup.Spawn(context.Background(), sess); err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	if err := h.sup.Stop(context.Background(), sess.ID, "user requested stop"); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	waitFor(t, func() bool {
		s, _ := h.reg.Get(sess.ID)
		return s.Status == session.StatusTerminated
	}, "status TERMINATED after stop")

	s, _ := h.reg.Get(sess.ID)
	if s.StatusReason != "user requested stop" {
		t.Errorf("statusReason = %q", s.StatusReason)
	}
	if w.Stops() != 1 {
		t.Errorf("Stop called %d times on worker, want 1", w.Stops())
	}

	waitFor(t, func() bool { return len(h.archive.all()) == 1 }, "summary archived")
	sum := h.archive.all()[0]
	if sum.SessionID != sess.ID || sum.Status != session.StatusTerminated {
		t.Errorf("summary = %+v", sum)
	}
	waitFor(t, func() bool { return h.notifier.count() == 1 }, "notifier called")
}

func TestStopIdempotent(t *testing.T) {
	w := NewMockWorker()
	h := newHarness(t, nil, w)
	sess := h.createSession(t, 1)
	if err := h.sup.Spawn(context.Background(), sess); err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	if err := h.sup.Stop(context.Background(), sess.ID, "first"); err != nil {
		t.Fatalf("first Stop: %v", err)
	}
	waitFor(t, func() bool { return !h.sup.Running(sess.ID) }, "binding released")

	if err := h.sup.Stop(context.Background(), sess.ID, "second"); err != nil {
		t.Errorf("second Stop = %v, want nil (no-op ack)", err)
	}
}

func TestStopUnknownSession(t *testing.T) {
	h := newHarness(t, nil)
	err := h.sup.Stop(context.Background(), "sess-nope", "")
	if !errors.Is(err, session.ErrNotFound) {
		t.Errorf("Stop = %v, want ErrNotFound", err)
	}
}

func TestStopHungWorkerKilled(t *testing.T) {
	w := NewMockWorker()
	w.SetStopHook(func(ctx context.Context) error {
		<-ctx.Done() // never acknowledges
		return ctx.Err()
	})
	h := newHarness(t, func(o *Opts) { o.StopTimeout = 30 * time.Millisecond }, w)
	sess := h.createSession(t, 1)
	if err := h.sup.Spawn(context.Background(), sess); err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	if err := h.sup.Stop(context.Background(), sess.ID, "stuck"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !w.Killed() {
		t.Error("hung worker was not killed")
	}
	waitFor(t, func() bool {
		s, _ := h.reg.Get(sess.ID)
		return s.Status == session.StatusTerminated
	}, "status TERMINATED after forced stop")
}

func TestStopWhileSpawnInFlight(t *testing.T) {
	w := NewMockWorker()
	gs := newGatedSpawner(w)
	h := newHarness(t, func(o *Opts) {
		o.Spawner = gs
		o.SpawnTimeout = 5 * time.Second
	})
	sess := h.createSession(t, 1)

	spawnErr := make(chan error, 1)
	go func() { spawnErr <- h.sup.Spawn(context.Background(), sess) }()
	<-gs.entered

	// The slot is reserved but no worker is installed yet. A stop landing
	// now must not touch a nil worker; it has to wait the spawn out and
	// tear the worker down.
	stopErr := make(chan error, 1)
	go func() { stopErr <- h.sup.Stop(context.Background(), sess.ID, "stop requested") }()
	time.Sleep(20 * time.Millisecond)
	gs.release <- struct{}{}

	if err := <-spawnErr; err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if err := <-stopErr; err != nil {
		t.Fatalf("Stop: %v", err)
	}

	waitFor(t, func() bool {
		s, _ := h.reg.Get(sess.ID)
		return s.Status == session.StatusTerminated
	}, "status TERMINATED after stop during spawn")

	s, _ := h.reg.Get(sess.ID)
	if s.StatusReason != "stop requested" {
		t.Errorf("statusReason = %q, want %q", s.StatusReason, "stop requested")
	}
	if !w.Killed() {
		t.Error("worker from the aborted spawn left running")
	}
	waitFor(t, func() bool { return !h.sup.Running(sess.ID) }, "binding released")
	waitFor(t, func() bool { return len(h.archive.all()) == 1 }, "summary archived")
}

func TestStopWhileRestartInFlight(t *testing.T) {
	w1 := NewMockWorker()
	w2 := NewMockWorker()
	gs := newGatedSpawner(w1, w2)
	gs.release <- struct{}{} // first spawn passes straight through
	h := newHarness(t, func(o *Opts) {
		o.Spawner = gs
		o.MaxRestarts = 1
		o.SpawnTimeout = 5 * time.Second
	})
	sess := h.createSession(t, 1)
	if err := h.sup.Spawn(context.Background(), sess); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	<-gs.entered

	w1.Exit(errors.New("boom"))
	<-gs.entered // respawn is held at the gate

	// A stop issued while the replacement worker is being spawned must
	// end the session, not ack while the respawn keeps going.
	stopErr := make(chan error, 1)
	go func() { stopErr <- h.sup.Stop(context.Background(), sess.ID, "stop requested") }()
	time.Sleep(20 * time.Millisecond)
	gs.release <- struct{}{}

	if err := <-stopErr; err != nil {
		t.Fatalf("Stop: %v", err)
	}

	waitFor(t, func() bool {
		s, _ := h.reg.Get(sess.ID)
		return s.Status == session.StatusTerminated
	}, "status TERMINATED after stop during restart")

	s, _ := h.reg.Get(sess.ID)
	if s.StatusReason != "stop requested" {
		t.Errorf("statusReason = %q, want %q", s.StatusReason, "stop requested")
	}
	if !w2.Killed() {
		t.Error("respawned worker left running after stop")
	}
	waitFor(t, func() bool { return !h.sup.Running(sess.ID) }, "binding released")
}

func TestUnexpectedExitCrashes(t *testing.T) {
	w := NewMockWorker()
	h := newHarness(t, nil, w)
	sess := h.createSession(t, 1)
	if err := h.sup.Spawn(context.Background(), sess); err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	w.Exit(errors.New("segfault"))

	waitFor(t, func() bool {
		s, _ := h.reg.Get(sess.ID)
		return s.Status == session.StatusCrashed
	}, "status CRASHED")

	s, _ := h.reg.Get(sess.ID)
	if !strings.Contains(s.StatusReason, "segfault") {
		t.Errorf("statusReason = %q, want failure summary", s.StatusReason)
	}
	if h.sup.Running(sess.ID) {
		t.Error("binding not released after crash")
	}
	waitFor(t, func() bool { return len(h.archive.all()) == 1 }, "crash summary archived")
}

func TestRestartCeiling(t *testing.T) {
	w1 := NewMockWorker()
	w2 := NewMockWorker()
	h := newHarness(t, func(o *Opts) { o.MaxRestarts = 1 }, w1, w2)
	sess := h.createSession(t, 1)
	if err := h.sup.Spawn(context.Background(), sess); err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	w1.Exit(errors.New("boom"))

	waitFor(t, func() bool {
		s, _ := h.reg.Get(sess.ID)
		return s.Metrics.NumberOfRestarts == 1 && s.Status == session.StatusAuthenticating
	}, "restarted once with same session id")

	if got := len(h.spawner.Configs()); got != 2 {
		t.Fatalf("spawn count = %d, want 2", got)
	}
	if h.spawner.Configs()[1].SessionID != sess.ID {
		t.Error("restart changed the session id")
	}

	// Ceiling reached: the next crash is final.
	w2.Exit(errors.New("boom again"))
	waitFor(t, func() bool {
		s, _ := h.reg.Get(sess.ID)
		return s.Status == session.StatusCrashed
	}, "status CRASHED after ceiling")

	s, _ := h.reg.Get(sess.ID)
	if s.Metrics.NumberOfRestarts != 1 {
		t.Errorf("NumberOfRestarts = %d, want 1", s.Metrics.NumberOfRestarts)
	}
}

func TestWorkerReportedTerminationIsNotACrash(t *testing.T) {
	w := NewMockWorker()
	h := newHarness(t, func(o *Opts) { o.MaxRestarts = 3 }, w)
	sess := h.createSession(t, 1)
	if err := h.sup.Spawn(context.Background(), sess); err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	w.ReportStatus(session.StatusTerminated, "")
	w.Exit(nil)

	waitFor(t, func() bool { return !h.sup.Running(sess.ID) }, "binding released")
	s, _ := h.reg.Get(sess.ID)
	if s.Status != session.StatusTerminated {
		t.Errorf("status = %s, want TERMINATED", s.Status)
	}
	if s.Metrics.NumberOfRestarts != 0 {
		t.Error("clean termination triggered a restart")
	}
}

func TestDisconnectGraceExpiry(t *testing.T) {
	w := NewMockWorker()
	h := newHarness(t, func(o *Opts) { o.DisconnectGrace = 30 * time.Millisecond }, w)
	sess := h.createSession(t, 1)
	if err := h.sup.Spawn(context.Background(), sess); err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	w.ReportStatus(session.StatusDisconnected, "socket closed")

	waitFor(t, func() bool {
		s, _ := h.reg.Get(sess.ID)
		return s.Status == session.StatusCrashed
	}, "status CRASHED after grace expiry")

	s, _ := h.reg.Get(sess.ID)
	if s.StatusReason == "" {
		t.Error("statusReason empty after forced crash")
	}
	if !w.Killed() {
		t.Error("worker not killed after grace expiry")
	}
}

func TestDisconnectRecoveryCancelsWatchdog(t *testing.T) {
	w := NewMockWorker()
	h := newHarness(t, func(o *Opts) { o.DisconnectGrace = 50 * time.Millisecond }, w)
	sess := h.createSession(t, 1)
	if err := h.sup.Spawn(context.Background(), sess); err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	w.ReportStatus(session.StatusDisconnected, "socket closed")
	waitFor(t, func() bool {
		s, _ := h.reg.Get(sess.ID)
		return s.Status == session.StatusDisconnected
	}, "status DISCONNECTED")

	w.ReportStatus(session.StatusRunning, "")
	waitFor(t, func() bool {
		s, _ := h.reg.Get(sess.ID)
		return s.Status == session.StatusRunning
	}, "status RUNNING after reconnect")

	time.Sleep(100 * time.Millisecond)
	s, _ := h.reg.Get(sess.ID)
	if s.Status != session.StatusRunning {
		t.Errorf("status = %s, watchdog fired after recovery", s.Status)
	}
}
