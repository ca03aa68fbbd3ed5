package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Strob0t/ModGuard/internal/domain"
	"github.com/Strob0t/ModGuard/internal/domain/checkpoint"
	"github.com/Strob0t/ModGuard/internal/logger"
	"github.com/Strob0t/ModGuard/internal/port/checkpointstore"
)

// ErrNoCheckpoint is returned by Resume when the thread has no live
// checkpoint, including when an earlier Resume already consumed it.
var ErrNoCheckpoint = fmt.Errorf("no checkpoint: %w", domain.ErrNotFound)

// Outcome tells how a Start or Resume call ended.
type Outcome string

const (
	OutcomeTerminated Outcome = "terminated"
	OutcomeSuspended  Outcome = "suspended"
)

// Result is the state at the end of a Start or Resume call.
type Result[S any] struct {
	ThreadID string  `json:"thread_id"`
	Outcome  Outcome `json:"outcome"`
	State    S       `json:"state"`
	// NextStep is the step Resume will continue from; set when suspended.
	NextStep string `json:"next_step,omitempty"`
}

// Snapshot is a decoded view of a live checkpoint.
type Snapshot[S any] struct {
	Checkpoint *checkpoint.Checkpoint `json:"checkpoint"`
	State      S                      `json:"state"`
}

// Observer receives step and run lifecycle callbacks for tracing and metrics.
type Observer interface {
	// StartStep is called before a step runs; finish is called with its error.
	StartStep(ctx context.Context, pipeline, step string) (stepCtx context.Context, finish func(error))
	// RunFinished is called once per Start or Resume; outcome is empty on error.
	RunFinished(ctx context.Context, pipeline string, outcome Outcome, err error)
}

type nopObserver struct{}

func (nopObserver) StartStep(ctx context.Context, _, _ string) (context.Context, func(error)) {
	return ctx, func(error) {}
}

func (nopObserver) RunFinished(context.Context, string, Outcome, error) {}

type options struct {
	observer   Observer
	now        func() time.Time
	staleAfter time.Duration
}

// Option configures an Engine.
type Option func(*options)

// WithObserver attaches lifecycle callbacks.
func WithObserver(o Observer) Option {
	return func(opts *options) { opts.observer = o }
}

// WithClock overrides the time source used for checkpoint timestamps.
func WithClock(now func() time.Time) Option {
	return func(opts *options) { opts.now = now }
}

// WithStaleAfter lets Start take over a checkpoint left in the running state
// by a crashed process once it has not been updated for d. Zero disables takeover.
func WithStaleAfter(d time.Duration) Option {
	return func(opts *options) { opts.staleAfter = d }
}

// Engine runs one pipeline graph against a checkpoint store.
type Engine[S, P any] struct {
	graph      *Graph[S, P]
	store      checkpointstore.Store
	guard      *threadGuard
	obs        Observer
	now        func() time.Time
	staleAfter time.Duration
}

// NewEngine validates the graph and returns an engine bound to store.
func NewEngine[S, P any](g *Graph[S, P], store checkpointstore.Store, opts ...Option) (*Engine[S, P], error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	o := options{observer: nopObserver{}, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Engine[S, P]{
		graph:      g,
		store:      store,
		guard:      newThreadGuard(),
		obs:        o.observer,
		now:        o.now,
		staleAfter: o.staleAfter,
	}, nil
}

// Pipeline returns the graph name.
func (e *Engine[S, P]) Pipeline() string { return e.graph.name }

// Start runs a fresh thread from the entry step until it terminates or
// reaches the suspend point. A thread with a live checkpoint is refused
// with domain.ErrThreadConflict.
func (e *Engine[S, P]) Start(ctx context.Context, threadID string, initial S) (Result[S], error) {
	if threadID == "" {
		return Result[S]{}, fmt.Errorf("thread id is required: %w", domain.ErrValidation)
	}
	release, ok := e.guard.TryAcquire(threadID)
	if !ok {
		return Result[S]{}, fmt.Errorf("start %s: already in progress: %w", threadID, domain.ErrThreadConflict)
	}
	defer release()
	ctx = logger.WithThreadID(ctx, threadID)

	state := initial
	raw, err := json.Marshal(&state)
	if err != nil {
		return Result[S]{}, fmt.Errorf("start %s: encode state: %w", threadID, err)
	}

	now := e.now()
	cp := &checkpoint.Checkpoint{
		ThreadID:  threadID,
		Pipeline:  e.graph.name,
		State:     raw,
		Status:    checkpoint.StatusRunning,
		NextStep:  e.graph.start,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.create(ctx, cp); err != nil {
		e.obs.RunFinished(ctx, e.graph.name, "", err)
		return Result[S]{}, fmt.Errorf("start %s: %w", threadID, err)
	}

	return e.run(ctx, cp, &state, e.graph.start)
}

// create inserts cp, taking over a stale running checkpoint when allowed.
func (e *Engine[S, P]) create(ctx context.Context, cp *checkpoint.Checkpoint) error {
	err := e.store.Create(ctx, cp)
	if err == nil || e.staleAfter <= 0 || !errors.Is(err, domain.ErrThreadConflict) {
		return err
	}

	existing, getErr := e.store.Get(ctx, cp.ThreadID)
	if getErr != nil || existing.Status != checkpoint.StatusRunning || e.now().Sub(existing.UpdatedAt) < e.staleAfter {
		return err
	}
	if updErr := e.store.Update(ctx, cp, existing.Version); updErr != nil {
		return updErr
	}
	slog.Warn("workflow: took over stale running checkpoint",
		"pipeline", e.graph.name,
		"thread_id", cp.ThreadID,
		"last_update", existing.UpdatedAt,
	)
	return nil
}

// Resume applies patch at the suspend point and runs the remaining steps.
// The patch is validated before the checkpoint is read. A missing
// checkpoint yields ErrNoCheckpoint; losing the claim race yields
// domain.ErrThreadConflict.
func (e *Engine[S, P]) Resume(ctx context.Context, threadID string, patch P) (Result[S], error) {
	if e.graph.validate != nil {
		if err := e.graph.validate(patch); err != nil {
			return Result[S]{}, fmt.Errorf("resume %s: %w", threadID, err)
		}
	}
	release, ok := e.guard.TryAcquire(threadID)
	if !ok {
		return Result[S]{}, fmt.Errorf("resume %s: already in progress: %w", threadID, domain.ErrThreadConflict)
	}
	defer release()
	ctx = logger.WithThreadID(ctx, threadID)

	cp, err := e.claim(ctx, threadID)
	if err != nil {
		e.obs.RunFinished(ctx, e.graph.name, "", err)
		return Result[S]{}, fmt.Errorf("resume %s: %w", threadID, err)
	}

	var state S
	if err := json.Unmarshal(cp.State, &state); err != nil {
		return e.fail(ctx, cp, nil, e.graph.suspend, fmt.Errorf("decode state: %w", err))
	}

	_, finish := e.obs.StartStep(ctx, e.graph.name, e.graph.suspend)
	err = e.graph.merge(&state, patch)
	finish(err)
	if err != nil {
		e.unclaim(ctx, cp)
		e.obs.RunFinished(ctx, e.graph.name, "", err)
		return Result[S]{}, fmt.Errorf("resume %s: apply patch: %w", threadID, err)
	}

	return e.run(ctx, cp, &state, cp.NextStep)
}

// claim moves a suspended checkpoint to running with a version CAS.
func (e *Engine[S, P]) claim(ctx context.Context, threadID string) (*checkpoint.Checkpoint, error) {
	cp, err := e.store.Get(ctx, threadID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, ErrNoCheckpoint
		}
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	if cp.Pipeline != e.graph.name {
		return nil, fmt.Errorf("thread belongs to pipeline %q: %w", cp.Pipeline, ErrNoCheckpoint)
	}
	if cp.Status != checkpoint.StatusSuspended {
		return nil, fmt.Errorf("checkpoint is %s: %w", cp.Status, domain.ErrThreadConflict)
	}
	if cp.SuspendedAt != e.graph.suspend {
		return nil, fmt.Errorf("checkpoint suspended at %q, not %q: %w", cp.SuspendedAt, e.graph.suspend, domain.ErrConflict)
	}
	if !e.graph.isStep(cp.NextStep) {
		return nil, fmt.Errorf("checkpoint next step %q is not declared: %w", cp.NextStep, domain.ErrConflict)
	}

	cp.Status = checkpoint.StatusRunning
	cp.UpdatedAt = e.now()
	if err := e.store.Update(ctx, cp, cp.Version); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, ErrNoCheckpoint
		}
		return nil, fmt.Errorf("claim checkpoint: %w", err)
	}
	return cp, nil
}

// unclaim returns a claimed checkpoint to suspended so the thread stays resumable.
func (e *Engine[S, P]) unclaim(ctx context.Context, cp *checkpoint.Checkpoint) {
	cp.Status = checkpoint.StatusSuspended
	cp.UpdatedAt = e.now()
	if err := e.store.Update(context.WithoutCancel(ctx), cp, cp.Version); err != nil {
		slog.Error("workflow: release checkpoint failed",
			"pipeline", e.graph.name, "thread_id", cp.ThreadID, "error", err)
	}
}

// run executes steps from `from` until End or the suspend point.
func (e *Engine[S, P]) run(ctx context.Context, cp *checkpoint.Checkpoint, state *S, from string) (Result[S], error) {
	step := from
	for step != End {
		if step == e.graph.suspend {
			return e.suspend(ctx, cp, state)
		}

		stepCtx, finish := e.obs.StartStep(ctx, e.graph.name, step)
		err := e.graph.steps[step](stepCtx, state)
		finish(err)
		if err != nil {
			return e.fail(ctx, cp, state, step, err)
		}

		next, err := e.graph.next(step, state)
		if err != nil {
			return e.fail(ctx, cp, state, step, err)
		}
		step = next
	}

	if err := e.store.Delete(ctx, cp.ThreadID); err != nil {
		e.obs.RunFinished(ctx, e.graph.name, "", err)
		return Result[S]{ThreadID: cp.ThreadID, Outcome: OutcomeTerminated, State: *state},
			fmt.Errorf("%s thread %s: discard checkpoint: %w", e.graph.name, cp.ThreadID, err)
	}
	e.obs.RunFinished(ctx, e.graph.name, OutcomeTerminated, nil)
	return Result[S]{ThreadID: cp.ThreadID, Outcome: OutcomeTerminated, State: *state}, nil
}

// suspend persists the state with the step after the suspend point as next step.
func (e *Engine[S, P]) suspend(ctx context.Context, cp *checkpoint.Checkpoint, state *S) (Result[S], error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return e.fail(ctx, cp, state, e.graph.suspend, fmt.Errorf("encode state: %w", err))
	}

	next := e.graph.edges[e.graph.suspend]
	cp.State = raw
	cp.Status = checkpoint.StatusSuspended
	cp.SuspendedAt = e.graph.suspend
	cp.NextStep = next
	cp.UpdatedAt = e.now()
	if err := e.store.Update(ctx, cp, cp.Version); err != nil {
		return e.fail(ctx, cp, state, e.graph.suspend, fmt.Errorf("persist checkpoint: %w", err))
	}

	e.obs.RunFinished(ctx, e.graph.name, OutcomeSuspended, nil)
	return Result[S]{ThreadID: cp.ThreadID, Outcome: OutcomeSuspended, State: *state, NextStep: next}, nil
}

// fail runs the graph's compensation and discards the checkpoint so a
// failed run is never resumable.
func (e *Engine[S, P]) fail(ctx context.Context, cp *checkpoint.Checkpoint, state *S, step string, err error) (Result[S], error) {
	if e.graph.undo != nil {
		if uerr := e.graph.undo(context.WithoutCancel(ctx), cp.ThreadID, state); uerr != nil {
			slog.Error("workflow: compensate failed run",
				"pipeline", e.graph.name, "thread_id", cp.ThreadID, "step", step, "error", uerr)
		}
	}
	if derr := e.store.Delete(context.WithoutCancel(ctx), cp.ThreadID); derr != nil {
		slog.Error("workflow: discard checkpoint after failure",
			"pipeline", e.graph.name, "thread_id", cp.ThreadID, "error", derr)
	}
	e.obs.RunFinished(ctx, e.graph.name, "", err)
	return Result[S]{}, fmt.Errorf("%s step %s: %w", e.graph.name, step, err)
}

// Inspect decodes the live checkpoint of threadID.
func (e *Engine[S, P]) Inspect(ctx context.Context, threadID string) (*Snapshot[S], error) {
	cp, err := e.store.Get(ctx, threadID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("inspect %s: %w", threadID, ErrNoCheckpoint)
		}
		return nil, fmt.Errorf("inspect %s: %w", threadID, err)
	}
	if cp.Pipeline != e.graph.name {
		return nil, fmt.Errorf("inspect %s: thread belongs to pipeline %q: %w", threadID, cp.Pipeline, ErrNoCheckpoint)
	}
	snap := &Snapshot[S]{Checkpoint: cp}
	if err := json.Unmarshal(cp.State, &snap.State); err != nil {
		return nil, fmt.Errorf("inspect %s: decode state: %w", threadID, err)
	}
	return snap, nil
}
