package workflow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/ModGuard/internal/adapter/memstore"
	"github.com/Strob0t/ModGuard/internal/domain"
	"github.com/Strob0t/ModGuard/internal/domain/checkpoint"
)

type testState struct {
	Trail    []string `json:"trail"`
	Value    int      `json:"value"`
	Decision string   `json:"decision"`
}

type testPatch struct {
	Decision string
}

func validatePatch(p testPatch) error {
	if p.Decision != "approve" && p.Decision != "reject" {
		return domain.ErrInvalidDecision
	}
	return nil
}

// testGraph: a -> (value > 10 ? review : b); review -> b; b -> End.
func testGraph(b StepFunc[testState]) *Graph[testState, testPatch] {
	trail := func(name string) StepFunc[testState] {
		return func(_ context.Context, s *testState) error {
			s.Trail = append(s.Trail, name)
			return nil
		}
	}
	if b == nil {
		b = trail("b")
	}
	return NewGraph[testState, testPatch]("test").
		Step("a", trail("a")).
		Suspend("review", func(s *testState, p testPatch) error {
			s.Decision = p.Decision
			s.Trail = append(s.Trail, "review")
			return nil
		}, validatePatch).
		Step("b", b).
		Route("a", RouteTable[testState]{
			{Name: "needs_review", When: func(s *testState) bool { return s.Value > 10 }, Next: "review"},
			{Name: "default", When: func(*testState) bool { return true }, Next: "b"},
		}).
		Edge("review", "b").
		Edge("b", End)
}

func newTestEngine(t *testing.T, g *Graph[testState, testPatch], opts ...Option) (*Engine[testState, testPatch], *memstore.CheckpointStore) {
	t.Helper()
	store := memstore.NewCheckpointStore()
	eng, err := NewEngine(g, store, opts...)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return eng, store
}

func TestStartTerminatesAndDiscardsCheckpoint(t *testing.T) {
	eng, store := newTestEngine(t, testGraph(nil))

	res, err := eng.Start(context.Background(), "t1", testState{Value: 1})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if res.Outcome != OutcomeTerminated {
		t.Fatalf("expected terminated, got %s", res.Outcome)
	}
	if got := strings.Join(res.State.Trail, ","); got != "a,b" {
		t.Fatalf("expected trail a,b, got %s", got)
	}
	if store.Len() != 0 {
		t.Fatalf("expected no checkpoint after termination, got %d", store.Len())
	}
}

func TestSuspendAndResume(t *testing.T) {
	eng, store := newTestEngine(t, testGraph(nil))
	ctx := context.Background()

	res, err := eng.Start(ctx, "t1", testState{Value: 42})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if res.Outcome != OutcomeSuspended || res.NextStep != "b" {
		t.Fatalf("expected suspended with next step b, got %s/%s", res.Outcome, res.NextStep)
	}

	cp, err := store.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if cp.Status != checkpoint.StatusSuspended || cp.SuspendedAt != "review" || cp.NextStep != "b" {
		t.Fatalf("unexpected checkpoint: %+v", cp)
	}

	snap, err := eng.Inspect(ctx, "t1")
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if snap.State.Value != 42 {
		t.Fatalf("expected persisted value 42, got %d", snap.State.Value)
	}

	res, err = eng.Resume(ctx, "t1", testPatch{Decision: "approve"})
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if res.Outcome != OutcomeTerminated || res.State.Decision != "approve" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got := strings.Join(res.State.Trail, ","); got != "a,review,b" {
		t.Fatalf("expected trail a,review,b, got %s", got)
	}
	if store.Len() != 0 {
		t.Fatal("expected checkpoint removed after resume")
	}

	_, err = eng.Resume(ctx, "t1", testPatch{Decision: "approve"})
	if !errors.Is(err, ErrNoCheckpoint) || !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNoCheckpoint on second resume, got %v", err)
	}
}

func TestResumeSurvivesEngineRestart(t *testing.T) {
	store := memstore.NewCheckpointStore()
	first, err := NewEngine(testGraph(nil), store)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := first.Start(context.Background(), "t1", testState{Value: 11}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	second, err := NewEngine(testGraph(nil), store)
	if err != nil {
		t.Fatal(err)
	}
	res, err := second.Resume(context.Background(), "t1", testPatch{Decision: "reject"})
	if err != nil {
		t.Fatalf("Resume on new engine: %v", err)
	}
	if res.State.Value != 11 || res.State.Decision != "reject" {
		t.Fatalf("state not restored: %+v", res.State)
	}
}

func TestResumeUnknownThread(t *testing.T) {
	eng, _ := newTestEngine(t, testGraph(nil))
	_, err := eng.Resume(context.Background(), "missing", testPatch{Decision: "approve"})
	if !errors.Is(err, ErrNoCheckpoint) {
		t.Fatalf("expected ErrNoCheckpoint, got %v", err)
	}
}

func TestResumeInvalidPatchLeavesCheckpoint(t *testing.T) {
	eng, store := newTestEngine(t, testGraph(nil))
	ctx := context.Background()
	if _, err := eng.Start(ctx, "t1", testState{Value: 50}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	before, _ := store.Get(ctx, "t1")

	_, err := eng.Resume(ctx, "t1", testPatch{Decision: "maybe"})
	if !errors.Is(err, domain.ErrInvalidDecision) {
		t.Fatalf("expected ErrInvalidDecision, got %v", err)
	}

	after, err := store.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("checkpoint should remain: %v", err)
	}
	if after.Version != before.Version || after.Status != checkpoint.StatusSuspended {
		t.Fatalf("checkpoint changed: before %+v after %+v", before, after)
	}

	if _, err := eng.Resume(ctx, "t1", testPatch{Decision: "approve"}); err != nil {
		t.Fatalf("valid resume after rejected patch: %v", err)
	}
}

func TestMergeErrorKeepsThreadResumable(t *testing.T) {
	calls := 0
	g := NewGraph[testState, testPatch]("merge").
		Step("a", func(context.Context, *testState) error { return nil }).
		Suspend("review", func(s *testState, p testPatch) error {
			calls++
			if calls == 1 {
				return errors.New("transient")
			}
			s.Decision = p.Decision
			return nil
		}, nil).
		Step("b", func(context.Context, *testState) error { return nil }).
		Edge("a", "review").
		Edge("review", "b").
		Edge("b", End)
	eng, store := newTestEngine(t, g)
	ctx := context.Background()

	if _, err := eng.Start(ctx, "t1", testState{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := eng.Resume(ctx, "t1", testPatch{Decision: "approve"}); err == nil {
		t.Fatal("expected merge error")
	}
	cp, err := store.Get(ctx, "t1")
	if err != nil || cp.Status != checkpoint.StatusSuspended {
		t.Fatalf("expected suspended checkpoint after merge error, got %+v, %v", cp, err)
	}
	if _, err := eng.Resume(ctx, "t1", testPatch{Decision: "approve"}); err != nil {
		t.Fatalf("second resume: %v", err)
	}
}

func TestStepFailureDiscardsCheckpoint(t *testing.T) {
	boom := errors.New("boom")
	eng, store := newTestEngine(t, testGraph(func(context.Context, *testState) error { return boom }))

	_, err := eng.Start(context.Background(), "t1", testState{Value: 1})
	if !errors.Is(err, boom) {
		t.Fatalf("expected step error, got %v", err)
	}
	if !strings.Contains(err.Error(), "step b") {
		t.Fatalf("expected error to name the step, got %v", err)
	}
	if store.Len() != 0 {
		t.Fatal("failed run must not leave a checkpoint")
	}

	// A thread that failed after resume is not resumable either.
	if _, err := eng.Start(context.Background(), "t2", testState{Value: 99}); err != nil {
		t.Fatalf("Start t2: %v", err)
	}
	if _, err := eng.Resume(context.Background(), "t2", testPatch{Decision: "approve"}); !errors.Is(err, boom) {
		t.Fatalf("expected step error on resume, got %v", err)
	}
	if _, err := eng.Resume(context.Background(), "t2", testPatch{Decision: "approve"}); !errors.Is(err, ErrNoCheckpoint) {
		t.Fatalf("expected ErrNoCheckpoint after failed resume, got %v", err)
	}
}

func TestFailureRunsCompensationBeforeDiscard(t *testing.T) {
	boom := errors.New("boom")
	g := testGraph(func(context.Context, *testState) error { return boom })
	var store *memstore.CheckpointStore
	var calls []string
	g.OnFailure(func(_ context.Context, threadID string, st *testState) error {
		if store.Len() != 1 {
			t.Errorf("compensation must run while the checkpoint exists, have %d", store.Len())
		}
		if st == nil || len(st.Trail) == 0 || st.Trail[0] != "a" {
			t.Errorf("compensation got state %+v", st)
		}
		calls = append(calls, threadID)
		return errors.New("undo failed")
	})
	eng, store := newTestEngine(t, g)

	_, err := eng.Start(context.Background(), "t1", testState{Value: 1})
	if !errors.Is(err, boom) {
		t.Fatalf("expected step error, got %v", err)
	}
	if len(calls) != 1 || calls[0] != "t1" {
		t.Fatalf("expected one compensation for t1, got %v", calls)
	}
	if store.Len() != 0 {
		t.Fatal("checkpoint must be discarded even when compensation fails")
	}
}

// suspendFailStore refuses to persist a suspended checkpoint.
type suspendFailStore struct {
	*memstore.CheckpointStore
}

func (s suspendFailStore) Update(ctx context.Context, cp *checkpoint.Checkpoint, expectedVersion int64) error {
	if cp.Status == checkpoint.StatusSuspended {
		return errors.New("disk full")
	}
	return s.CheckpointStore.Update(ctx, cp, expectedVersion)
}

func TestSuspendPersistFailureCompensates(t *testing.T) {
	g := testGraph(nil)
	var compensated bool
	g.OnFailure(func(context.Context, string, *testState) error {
		compensated = true
		return nil
	})
	store := suspendFailStore{memstore.NewCheckpointStore()}
	eng, err := NewEngine(g, store)
	if err != nil {
		t.Fatal(err)
	}

	_, err = eng.Start(context.Background(), "t1", testState{Value: 99})
	if err == nil || !strings.Contains(err.Error(), "persist checkpoint") {
		t.Fatalf("expected persist error, got %v", err)
	}
	if !compensated {
		t.Fatal("compensation did not run")
	}
	if store.Len() != 0 {
		t.Fatal("failed suspend must not leave a checkpoint")
	}
}

func TestStartRejectsLiveThread(t *testing.T) {
	eng, _ := newTestEngine(t, testGraph(nil))
	ctx := context.Background()
	if _, err := eng.Start(ctx, "t1", testState{Value: 50}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := eng.Start(ctx, "t1", testState{Value: 1}); !errors.Is(err, domain.ErrThreadConflict) {
		t.Fatalf("expected ErrThreadConflict, got %v", err)
	}
}

func TestStartRequiresThreadID(t *testing.T) {
	eng, _ := newTestEngine(t, testGraph(nil))
	if _, err := eng.Start(context.Background(), "", testState{}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestConcurrentStartOneWinner(t *testing.T) {
	entered := make(chan struct{})
	unblock := make(chan struct{})
	var once sync.Once
	eng, _ := newTestEngine(t, testGraph(func(context.Context, *testState) error {
		once.Do(func() { close(entered) })
		<-unblock
		return nil
	}))

	errs := make(chan error, 2)
	go func() {
		_, err := eng.Start(context.Background(), "t1", testState{Value: 1})
		errs <- err
	}()
	<-entered
	go func() {
		_, err := eng.Start(context.Background(), "t1", testState{Value: 1})
		errs <- err
	}()

	second := <-errs
	if !errors.Is(second, domain.ErrThreadConflict) {
		t.Fatalf("expected ErrThreadConflict for the concurrent start, got %v", second)
	}
	close(unblock)
	if first := <-errs; first != nil {
		t.Fatalf("first start failed: %v", first)
	}
}

func TestConcurrentResumeOneWinner(t *testing.T) {
	entered := make(chan struct{})
	unblock := make(chan struct{})
	var once sync.Once
	eng, _ := newTestEngine(t, testGraph(func(context.Context, *testState) error {
		once.Do(func() { close(entered) })
		<-unblock
		return nil
	}))
	ctx := context.Background()
	if _, err := eng.Start(ctx, "t1", testState{Value: 50}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	errs := make(chan error, 2)
	go func() {
		_, err := eng.Resume(ctx, "t1", testPatch{Decision: "approve"})
		errs <- err
	}()
	<-entered
	go func() {
		_, err := eng.Resume(ctx, "t1", testPatch{Decision: "reject"})
		errs <- err
	}()

	second := <-errs
	if !errors.Is(second, domain.ErrThreadConflict) {
		t.Fatalf("expected ErrThreadConflict for the concurrent resume, got %v", second)
	}
	close(unblock)
	if first := <-errs; first != nil {
		t.Fatalf("first resume failed: %v", first)
	}
}

func TestResumeRejectsRunningCheckpoint(t *testing.T) {
	store := memstore.NewCheckpointStore()
	eng, err := NewEngine(testGraph(nil), store)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	// Simulates another process holding the thread.
	if err := store.Create(ctx, &checkpoint.Checkpoint{
		ThreadID: "t1",
		Pipeline: "test",
		State:    []byte(`{}`),
		Status:   checkpoint.StatusRunning,
		NextStep: "a",
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.Resume(ctx, "t1", testPatch{Decision: "approve"}); !errors.Is(err, domain.ErrThreadConflict) {
		t.Fatalf("expected ErrThreadConflict, got %v", err)
	}
}

func TestResumeOtherPipeline(t *testing.T) {
	store := memstore.NewCheckpointStore()
	eng, err := NewEngine(testGraph(nil), store)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := store.Create(ctx, &checkpoint.Checkpoint{
		ThreadID:    "t1",
		Pipeline:    "other",
		State:       []byte(`{}`),
		Status:      checkpoint.StatusSuspended,
		SuspendedAt: "review",
		NextStep:    "b",
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.Resume(ctx, "t1", testPatch{Decision: "approve"}); !errors.Is(err, ErrNoCheckpoint) {
		t.Fatalf("expected ErrNoCheckpoint, got %v", err)
	}
}

func TestStaleRunningCheckpointTakeover(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	store := memstore.NewCheckpointStore()
	eng, err := NewEngine(testGraph(nil), store, WithClock(clock), WithStaleAfter(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := store.Create(ctx, &checkpoint.Checkpoint{
		ThreadID:  "t1",
		Pipeline:  "test",
		State:     []byte(`{}`),
		Status:    checkpoint.StatusRunning,
		NextStep:  "a",
		UpdatedAt: now.Add(-30 * time.Second),
	}); err != nil {
		t.Fatal(err)
	}

	if _, err := eng.Start(ctx, "t1", testState{Value: 1}); !errors.Is(err, domain.ErrThreadConflict) {
		t.Fatalf("expected conflict on fresh running checkpoint, got %v", err)
	}

	now = now.Add(2 * time.Minute)
	res, err := eng.Start(ctx, "t1", testState{Value: 1})
	if err != nil {
		t.Fatalf("expected takeover of stale checkpoint, got %v", err)
	}
	if res.Outcome != OutcomeTerminated {
		t.Fatalf("expected terminated, got %s", res.Outcome)
	}
}

func TestRouteTableFirstMatchWins(t *testing.T) {
	table := RouteTable[testState]{
		{Name: "big", When: func(s *testState) bool { return s.Value > 100 }, Next: "x"},
		{Name: "positive", When: func(s *testState) bool { return s.Value > 0 }, Next: "y"},
		{Name: "any", When: func(*testState) bool { return true }, Next: "z"},
	}
	tests := []struct {
		value int
		want  string
	}{
		{500, "big"},
		{5, "positive"},
		{-1, "any"},
	}
	for _, tt := range tests {
		r, ok := table.Route(&testState{Value: tt.value})
		if !ok || r.Name != tt.want {
			t.Errorf("value %d: got %q, want %q", tt.value, r.Name, tt.want)
		}
	}
	if _, ok := (RouteTable[testState]{}).Route(&testState{}); ok {
		t.Error("empty table must not match")
	}
}

func TestGraphValidate(t *testing.T) {
	noop := func(context.Context, *testState) error { return nil }
	merge := func(*testState, testPatch) error { return nil }

	tests := []struct {
		name    string
		graph   *Graph[testState, testPatch]
		wantErr string
	}{
		{
			name:  "valid",
			graph: testGraph(nil),
		},
		{
			name: "cycle",
			graph: NewGraph[testState, testPatch]("g").
				Step("a", noop).Suspend("s", merge, nil).Step("b", noop).
				Edge("a", "s").Edge("s", "b").Edge("b", "a"),
			wantErr: "cycle",
		},
		{
			name: "missing successor",
			graph: NewGraph[testState, testPatch]("g").
				Step("a", noop).Suspend("s", merge, nil).
				Edge("a", "s"),
			wantErr: "no successor",
		},
		{
			name: "second suspend",
			graph: NewGraph[testState, testPatch]("g").
				Step("a", noop).Suspend("s1", merge, nil).Suspend("s2", merge, nil).
				Edge("a", "s1").Edge("s1", End),
			wantErr: "second suspend",
		},
		{
			name: "no suspend",
			graph: NewGraph[testState, testPatch]("g").
				Step("a", noop).Edge("a", End),
			wantErr: "no suspend step",
		},
		{
			name: "undeclared target",
			graph: NewGraph[testState, testPatch]("g").
				Step("a", noop).Suspend("s", merge, nil).
				Edge("a", "s").Edge("s", "ghost"),
			wantErr: "undeclared",
		},
		{
			name: "routed suspend",
			graph: NewGraph[testState, testPatch]("g").
				Step("a", noop).Suspend("s", merge, nil).
				Edge("a", "s").
				Route("s", RouteTable[testState]{{Name: "r", When: func(*testState) bool { return true }, Next: End}}),
			wantErr: "plain edge",
		},
		{
			name: "duplicate step",
			graph: NewGraph[testState, testPatch]("g").
				Step("a", noop).Step("a", noop).Suspend("s", merge, nil).
				Edge("a", "s").Edge("s", End),
			wantErr: "duplicate step",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.graph.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestThreadGuardRelease(t *testing.T) {
	g := newThreadGuard()
	release, ok := g.TryAcquire("t1")
	if !ok {
		t.Fatal("first acquire must succeed")
	}
	if _, ok := g.TryAcquire("t1"); ok {
		t.Fatal("second acquire must fail while held")
	}
	if _, ok := g.TryAcquire("t2"); !ok {
		t.Fatal("other threads are independent")
	}
	release()
	if g.size() != 1 {
		t.Fatalf("expected 1 active thread, got %d", g.size())
	}
	if _, ok := g.TryAcquire("t1"); !ok {
		t.Fatal("acquire after release must succeed")
	}
}

type recordingObserver struct {
	mu       sync.Mutex
	steps    []string
	outcomes []Outcome
}

func (o *recordingObserver) StartStep(ctx context.Context, _, step string) (context.Context, func(error)) {
	o.mu.Lock()
	o.steps = append(o.steps, step)
	o.mu.Unlock()
	return ctx, func(error) {}
}

func (o *recordingObserver) RunFinished(_ context.Context, _ string, outcome Outcome, _ error) {
	o.mu.Lock()
	o.outcomes = append(o.outcomes, outcome)
	o.mu.Unlock()
}

func TestObserverCallbacks(t *testing.T) {
	obs := &recordingObserver{}
	eng, _ := newTestEngine(t, testGraph(nil), WithObserver(obs))
	ctx := context.Background()

	if _, err := eng.Start(ctx, "t1", testState{Value: 20}); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.Resume(ctx, "t1", testPatch{Decision: "approve"}); err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(obs.steps, ","); got != "a,review,b" {
		t.Fatalf("unexpected steps %s", got)
	}
	if len(obs.outcomes) != 2 || obs.outcomes[0] != OutcomeSuspended || obs.outcomes[1] != OutcomeTerminated {
		t.Fatalf("unexpected outcomes %v", obs.outcomes)
	}
}
