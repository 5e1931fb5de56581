package registry

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/kmajdoub/botfleet/internal/session"
)

func testSession(leaderID int64) session.Session {
	return session.Session{
		Leader: session.Character{Name: fmt.Sprintf("char-%d", leaderID), ID: leaderID, ServerID: 2},
		Type:   session.TypeFight,
	}
}

func TestCreateAssignsIDAndInitialStatus(t *testing.T) {
	r := New()
	id, err := r.Create(testSession(1))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if id == "" {
		t.Fatal("Create returned empty id")
	}

	got, err := r.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != session.StatusAuthenticating {
		t.Errorf("initial status = %s, want %s", got.Status, session.StatusAuthenticating)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
}

func TestCreateDuplicateID(t *testing.T) {
	r := New()
	s := testSession(1)
	s.ID = "sess-fixed"
	if _, err := r.Create(s); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	_, err := r.Create(s)
	if !errors.Is(err, session.ErrDuplicate) {
		t.Errorf("second Create = %v, want ErrDuplicate", err)
	}
}

func TestGetUnknown(t *testing.T) {
	r := New()
	if _, err := r.Get("sess-nope"); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("Get = %v, want ErrNotFound", err)
	}
}

func TestListCreationOrder(t *testing.T) {
	r := New()
	var want []string
	for i := int64(1); i <= 5; i++ {
		id, err := r.Create(testSession(i))
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		want = append(want, id)
	}

	got := r.List(Filter{})
	if len(got) != 5 {
		t.Fatalf("List returned %d sessions, want 5", len(got))
	}
	for i, s := range got {
		if s.ID != want[i] {
			t.Errorf("List[%d] = %s, want %s", i, s.ID, want[i])
		}
	}
}

func TestListFilters(t *testing.T) {
	r := New()
	fightID, _ := r.Create(testSession(1))
	farm := testSession(2)
	farm.Type = session.TypeFarm
	farm.Path = &session.Path{ID: "p1", Type: session.PathRandomSubArea}
	farmID, _ := r.Create(farm)

	if err := r.Transition(fightID, session.StatusCrashed, "boom"); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	active := r.List(Filter{Active: true})
	if len(active) != 1 || active[0].ID != farmID {
		t.Errorf("Active filter returned %v, want only %s", active, farmID)
	}

	farms := r.List(Filter{Type: session.TypeFarm})
	if len(farms) != 1 || farms[0].ID != farmID {
		t.Errorf("Type filter returned %v, want only %s", farms, farmID)
	}

	crashed := r.List(Filter{Status: session.StatusCrashed})
	if len(crashed) != 1 || crashed[0].ID != fightID {
		t.Errorf("Status filter returned %v, want only %s", crashed, fightID)
	}
}

func TestTransitionRejectsInvalidEdge(t *testing.T) {
	r := New()
	id, _ := r.Create(testSession(1))
	if err := r.Transition(id, session.StatusRunning, ""); err != nil {
		t.Fatalf("to RUNNING: %v", err)
	}
	if err := r.Transition(id, session.StatusFighting, ""); err != nil {
		t.Fatalf("to FIGHTING: %v", err)
	}

	err := r.Transition(id, session.StatusAuthenticating, "")
	if !errors.Is(err, session.ErrInvalidTransition) {
		t.Fatalf("FIGHTING -> AUTHENTICATING = %v, want ErrInvalidTransition", err)
	}

	got, _ := r.Get(id)
	if got.Status != session.StatusFighting {
		t.Errorf("status after rejected transition = %s, want FIGHTING", got.Status)
	}
}

func TestTerminalStatusIsAbsorbing(t *testing.T) {
	r := New()
	id, _ := r.Create(testSession(1))
	if err := r.Transition(id, session.StatusCrashed, "worker died"); err != nil {
		t.Fatalf("to CRASHED: %v", err)
	}

	if err := r.Transition(id, session.StatusRunning, ""); !errors.Is(err, session.ErrInvalidTransition) {
		t.Errorf("transition out of CRASHED = %v, want ErrInvalidTransition", err)
	}

	// ForceStatus must not resurrect an ended session either.
	if err := r.ForceStatus(id, session.StatusRunning, ""); err != nil {
		t.Fatalf("ForceStatus: %v", err)
	}
	got, _ := r.Get(id)
	if got.Status != session.StatusCrashed {
		t.Errorf("status = %s, want CRASHED", got.Status)
	}
	if got.StatusReason != "worker died" {
		t.Errorf("statusReason = %q, want %q", got.StatusReason, "worker died")
	}
}

func TestStatusReasonClearedOnHealthyTransition(t *testing.T) {
	r := New()
	id, _ := r.Create(testSession(1))
	if err := r.Transition(id, session.StatusDisconnected, "socket closed"); err != nil {
		t.Fatalf("to DISCONNECTED: %v", err)
	}
	got, _ := r.Get(id)
	if got.StatusReason != "socket closed" {
		t.Errorf("statusReason = %q, want %q", got.StatusReason, "socket closed")
	}

	if err := r.Transition(id, session.StatusRunning, ""); err != nil {
		t.Fatalf("to RUNNING: %v", err)
	}
	got, _ = r.Get(id)
	if got.StatusReason != "" {
		t.Errorf("statusReason after recovery = %q, want empty", got.StatusReason)
	}
}

func TestApplyMetricsMonotonic(t *testing.T) {
	r := New()
	id, _ := r.Create(testSession(1))

	if err := r.ApplyMetrics(id, session.MetricsDelta{EarnedKamas: 500, NbrFightsDone: 2}); err != nil {
		t.Fatalf("ApplyMetrics: %v", err)
	}
	if err := r.ApplyMetrics(id, session.MetricsDelta{EarnedKamas: -100, NbrFightsDone: 1, EarnedLevels: -3}); err != nil {
		t.Fatalf("ApplyMetrics: %v", err)
	}

	got, _ := r.Get(id)
	if got.Metrics.EarnedKamas != 500 {
		t.Errorf("EarnedKamas = %d, want 500 (negative delta must not decrease)", got.Metrics.EarnedKamas)
	}
	if got.Metrics.NbrFightsDone != 3 {
		t.Errorf("NbrFightsDone = %d, want 3", got.Metrics.NbrFightsDone)
	}
	if got.Metrics.EarnedLevels != 0 {
		t.Errorf("EarnedLevels = %d, want 0", got.Metrics.EarnedLevels)
	}
}

func TestUpdateAllOrNothing(t *testing.T) {
	r := New()
	id, _ := r.Create(testSession(1))

	wantErr := errors.New("nope")
	err := r.Update(id, func(s *session.Session) error {
		s.Metrics.EarnedKamas = 9999
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("Update = %v, want wrapped error", err)
	}
	got, _ := r.Get(id)
	if got.Metrics.EarnedKamas != 0 {
		t.Error("failed Update leaked partial mutation")
	}
}

func TestLeaderActive(t *testing.T) {
	r := New()
	id, _ := r.Create(testSession(7))
	if !r.LeaderActive(7) {
		t.Error("LeaderActive = false for active session")
	}
	if r.LeaderActive(8) {
		t.Error("LeaderActive = true for unknown leader")
	}
	if err := r.Transition(id, session.StatusTerminated, ""); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if r.LeaderActive(7) {
		t.Error("LeaderActive = true after terminal status")
	}
}

func TestCreateForLeaderRejectsSecondActive(t *testing.T) {
	r := New()
	if _, err := r.CreateForLeader(testSession(7)); err != nil {
		t.Fatalf("first CreateForLeader: %v", err)
	}
	_, err := r.CreateForLeader(testSession(7))
	if !errors.Is(err, session.ErrAlreadyRunning) {
		t.Fatalf("second CreateForLeader = %v, want ErrAlreadyRunning", err)
	}
	// A different leader is unaffected.
	if _, err := r.CreateForLeader(testSession(8)); err != nil {
		t.Errorf("CreateForLeader for other leader: %v", err)
	}
}

func TestCreateForLeaderConcurrent(t *testing.T) {
	r := New()

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = r.CreateForLeader(testSession(7))
		}(i)
	}
	wg.Wait()

	var created int
	for i, err := range errs {
		switch {
		case err == nil:
			created++
		case !errors.Is(err, session.ErrAlreadyRunning):
			t.Errorf("attempt %d = %v, want nil or ErrAlreadyRunning", i, err)
		}
	}
	if created != 1 {
		t.Errorf("%d concurrent creates succeeded for one leader, want exactly 1", created)
	}
	if got := r.List(Filter{Active: true}); len(got) != 1 {
		t.Errorf("registry holds %d active sessions, want 1", len(got))
	}
}

func TestApplyMetricsAfterEndRejected(t *testing.T) {
	r := New()
	id, _ := r.Create(testSession(1))
	if err := r.ApplyMetrics(id, session.MetricsDelta{EarnedKamas: 100}); err != nil {
		t.Fatalf("ApplyMetrics: %v", err)
	}
	if err := r.ForceStatus(id, session.StatusCrashed, "worker died"); err != nil {
		t.Fatalf("ForceStatus: %v", err)
	}

	// A late delta from the dead worker must not move the final counters.
	if err := r.ApplyMetrics(id, session.MetricsDelta{EarnedKamas: 50, NbrFightsDone: 1}); err == nil {
		t.Fatal("ApplyMetrics after terminal status = nil, want error")
	}
	got, _ := r.Get(id)
	if got.Metrics.EarnedKamas != 100 {
		t.Errorf("EarnedKamas = %d, want 100", got.Metrics.EarnedKamas)
	}
	if got.Metrics.NbrFightsDone != 0 {
		t.Errorf("NbrFightsDone = %d, want 0", got.Metrics.NbrFightsDone)
	}
}

func TestRemove(t *testing.T) {
	r := New()
	id, _ := r.Create(testSession(1))
	if err := r.Remove(id); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := r.Remove(id); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("second Remove = %v, want ErrNotFound", err)
	}
	if got := r.List(Filter{}); len(got) != 0 {
		t.Errorf("List after Remove returned %d sessions", len(got))
	}
}

func TestConcurrentMetricsUpdates(t *testing.T) {
	r := New()
	id, _ := r.Create(testSession(1))

	const workers = 8
	const perWorker = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				_ = r.ApplyMetrics(id, session.MetricsDelta{EarnedKamas: 1})
			}
		}()
	}
	wg.Wait()

	got, _ := r.Get(id)
	if got.Metrics.EarnedKamas != workers*perWorker {
		t.Errorf("EarnedKamas = %d, want %d", got.Metrics.EarnedKamas, workers*perWorker)
	}
}
