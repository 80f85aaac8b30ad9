package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pavelanni/assessor/internal/model"
)

type memStates struct {
	mu    sync.Mutex
	data  map[string][]byte
	saves int
	err   error
}

func newMemStates() *memStates { return &memStates{data: map[string][]byte{}} }

func (m *memStates) SaveState(_ context.Context, snap model.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	m.data[snap.SessionID] = b
	m.saves++
	return nil
}

func (m *memStates) LoadState(_ context.Context, id string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data[id]
	return b, ok, nil
}

func (m *memStates) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func TestManagerCreateAndRestore(t *testing.T) {
	deps, _ := testDeps(t, testBank(t, 3))
	states := newMemStates()
	m := NewManager(DefaultConfig(), deps, states)
	ctx := context.Background()

	s, err := m.Create(ctx)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	_ = s.AcceptRules()
	_ = s.SubmitPersonalInfo(validInfo())
	if err := m.Save(ctx, s); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// A second manager simulates a process restart.
	m2 := NewManager(DefaultConfig(), deps, states)
	got, err := m2.Get(ctx, s.ID())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.View().Phase != model.PhaseInProgress || current(got) != 1 {
		t.Errorf("restored view = %+v", got.View())
	}
	again, _ := m2.Get(ctx, s.ID())
	if again != got {
		t.Error("Get should return the cached session")
	}
}

func TestManagerMissingAndCorrupt(t *testing.T) {
	deps, _ := testDeps(t, testBank(t, 3))
	states := newMemStates()
	states.data["DXT-bad"] = []byte("{not json")
	states.data["DXT-odd"] = []byte(`{"phase":"in_progress","currentQuestionIndex":44}`)
	m := NewManager(DefaultConfig(), deps, states)
	ctx := context.Background()

	if _, err := m.Get(ctx, "DXT-none"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing err = %v, want ErrNotFound", err)
	}
	for _, id := range []string{"DXT-bad", "DXT-odd"} {
		s, err := m.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get(%s): %v", id, err)
		}
		if s.ID() != id || s.View().Phase != model.PhaseRules {
			t.Errorf("%s: corrupt state should yield a fresh session, got %+v", id, s.View())
		}
	}
}

func TestManagerWithoutStore(t *testing.T) {
	deps, _ := testDeps(t, testBank(t, 2))
	m := NewManager(DefaultConfig(), deps, nil)
	ctx := context.Background()
	s, err := m.Create(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Get(ctx, s.ID()); err != nil {
		t.Errorf("Get live session: %v", err)
	}
	if _, err := m.Get(ctx, "DXT-x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v", err)
	}
}

func TestManagerSaveAllSkipsBusySession(t *testing.T) {
	deps, _ := testDeps(t, testBank(t, 2))
	states := newMemStates()
	m := NewManager(DefaultConfig(), deps, states)
	ctx := context.Background()
	s, _ := m.Create(ctx)
	before := states.saveCount()

	s.saveMu.Lock()
	if n := m.SaveAll(ctx); n != 0 {
		t.Errorf("SaveAll = %d while busy, want 0", n)
	}
	if states.saveCount() != before {
		t.Error("autosave ran while another save was in flight")
	}
	s.saveMu.Unlock()
	if n := m.SaveAll(ctx); n != 1 {
		t.Errorf("SaveAll = %d, want 1", n)
	}
	if err := m.Save(ctx, s); err != nil {
		t.Fatal(err)
	}
	if states.saveCount() != before+2 {
		t.Errorf("saveCount = %d, want %d", states.saveCount(), before+2)
	}
}

func TestManagerSaveAllReportsFailures(t *testing.T) {
	deps, _ := testDeps(t, testBank(t, 2))
	states := newMemStates()
	m := NewManager(DefaultConfig(), deps, states)
	ctx := context.Background()
	_, _ = m.Create(ctx)
	_, _ = m.Create(ctx)
	states.err = errors.New("locked")
	if n := m.SaveAll(ctx); n != 0 {
		t.Errorf("SaveAll = %d, want 0", n)
	}
	if len(m.Sessions()) != 2 {
		t.Errorf("sessions = %d", len(m.Sessions()))
	}
}

func TestSaveAllEvictsSettledSessions(t *testing.T) {
	deps, _ := testDeps(t, testBank(t, 1))
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	deps.Now = func() time.Time { return now }
	cfg := DefaultConfig()
	cfg.IdleTimeout = 10 * time.Minute
	states := newMemStates()
	m := NewManager(cfg, deps, states)
	ctx := context.Background()

	idle, _ := m.Create(ctx)
	done, _ := m.Create(ctx)
	_ = done.AcceptRules()
	_ = done.SubmitPersonalInfo(validInfo())
	answerAndAdvance(t, done)
	if _, err := done.Submit(ctx); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	now = now.Add(5 * time.Minute)
	active, _ := m.Create(ctx)
	if n := m.SaveAll(ctx); n != 3 {
		t.Errorf("SaveAll = %d, want 3", n)
	}
	if got := len(m.Sessions()); got != 2 {
		t.Fatalf("live sessions = %d, want 2 after the submitted one left", got)
	}

	now = now.Add(6 * time.Minute)
	_ = active.AcceptRules()
	m.SaveAll(ctx)
	live := m.Sessions()
	if len(live) != 1 || live[0] != active {
		t.Fatalf("live sessions = %d, want only the active one", len(live))
	}

	restored, err := m.Get(ctx, idle.ID())
	if err != nil {
		t.Fatalf("Get evicted session: %v", err)
	}
	if restored == idle || restored.ID() != idle.ID() {
		t.Error("evicted session should be restored from the state store")
	}
	got, err := m.Get(ctx, done.ID())
	if err != nil {
		t.Fatal(err)
	}
	if got.View().Phase != model.PhaseSubmitted {
		t.Errorf("restored phase = %s, want submitted", got.View().Phase)
	}
}

func TestSaveAllKeepsSessionsWithoutStore(t *testing.T) {
	deps, _ := testDeps(t, testBank(t, 1))
	now := time.Now()
	deps.Now = func() time.Time { return now }
	m := NewManager(DefaultConfig(), deps, nil)
	_, _ = m.Create(context.Background())
	now = now.Add(time.Hour)
	m.SaveAll(context.Background())
	if len(m.Sessions()) != 1 {
		t.Error("sessions must stay in memory when there is no state store")
	}
}

func TestAutosaverFlushesOnCancel(t *testing.T) {
	deps, _ := testDeps(t, testBank(t, 2))
	states := newMemStates()
	m := NewManager(DefaultConfig(), deps, states)
	_, _ = m.Create(context.Background())
	before := states.saveCount()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewAutosaver(m, 10*time.Millisecond).Run(ctx)
		close(done)
	}()
	time.Sleep(35 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("autosaver did not stop")
	}
	if got := states.saveCount(); got < before+2 {
		t.Errorf("saves = %d, want at least %d", got, before+2)
	}
}
