// Package run tracks pipeline executions. The manager owns the registry of
// runs, drives each one in a background goroutine, and exposes the snapshot,
// event-stream, history, resume and abort operations callers build on.
package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/justme409/aiprojectengineerv3/internal/checkpoint"
	"github.com/justme409/aiprojectengineerv3/internal/ctxlog"
	"github.com/justme409/aiprojectengineerv3/internal/engine"
	"github.com/justme409/aiprojectengineerv3/internal/graph"
	"github.com/justme409/aiprojectengineerv3/internal/state"
)

// Control-flow sentinels.
var (
	ErrUnknownRun      = errors.New("unknown run")
	ErrNotInterrupted  = errors.New("run is not interrupted")
	ErrAlreadyFinished = errors.New("run already finished")
)

// Input starts a run.
type Input struct {
	ProjectID   string
	DocumentIDs []string
}

// Snapshot is a point-in-time view of one run.
type Snapshot struct {
	RunID     string
	Status    engine.Status
	LastStage string
	State     *state.State
	Err       string
}

// Event is one stage transition on a run's event stream.
type Event struct {
	Seq    int
	RunID  string
	Stage  string
	Status engine.Status
}

type transition struct {
	stage  string
	status engine.Status
}

type runRecord struct {
	mu          sync.Mutex
	id          string
	status      engine.Status
	lastStage   string
	cursor      int
	snapshot    *state.State
	err         error
	transitions []transition
	cancel      context.CancelFunc
}

// Manager drives runs of one compiled graph. Safe for concurrent use; a
// given run is advanced by at most one goroutine at a time.
type Manager struct {
	graph        *graph.Graph
	checkpoints  checkpoint.Store
	stageTimeout time.Duration
	poll         time.Duration

	mu   sync.Mutex
	runs map[string]*runRecord
}

// Option tunes a Manager.
type Option func(*Manager)

// WithStageTimeout bounds every stage invocation.
func WithStageTimeout(d time.Duration) Option {
	return func(m *Manager) { m.stageTimeout = d }
}

// WithPollInterval overrides the event-stream poll cadence. Tests shorten it.
func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) { m.poll = d }
}

// NewManager builds a manager over a compiled graph and a checkpoint store.
func NewManager(g *graph.Graph, cps checkpoint.Store, opts ...Option) *Manager {
	m := &Manager{
		graph:       g,
		checkpoints: cps,
		poll:        50 * time.Millisecond,
		runs:        make(map[string]*runRecord),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start registers a new run and begins driving it in the background. The
// returned id is usable immediately with Get, Events, History and Abort.
func (m *Manager) Start(ctx context.Context, in Input) (string, error) {
	if in.ProjectID == "" {
		return "", fmt.Errorf("run input requires a project id")
	}
	if len(in.DocumentIDs) == 0 {
		return "", fmt.Errorf("run input requires at least one document id")
	}

	runID := uuid.NewString()
	st := state.New(in.ProjectID, in.DocumentIDs)
	rec := &runRecord{
		id:       runID,
		status:   engine.StatusRunning,
		snapshot: st.Clone(),
	}

	m.mu.Lock()
	m.runs[runID] = rec
	m.mu.Unlock()

	m.drive(ctxlog.FromContext(ctx), rec, st, 0)
	return runID, nil
}

// drive launches the goroutine that advances the run. The caller's context
// is deliberately not inherited; the run outlives the request that started
// it and stops only via Abort.
func (m *Manager) drive(logger *slog.Logger, rec *runRecord, st *state.State, startAt int) {
	rctx, cancel := context.WithCancel(context.Background())
	rctx = ctxlog.WithLogger(rctx, logger)

	rec.mu.Lock()
	rec.status = engine.StatusRunning
	rec.cancel = cancel
	rec.mu.Unlock()

	observer := func(stage string, snapshot *state.State) {
		rec.mu.Lock()
		rec.lastStage = stage
		rec.snapshot = snapshot
		rec.transitions = append(rec.transitions, transition{stage: stage, status: engine.StatusRunning})
		rec.mu.Unlock()
	}

	go func() {
		defer cancel()
		outcome := engine.Execute(rctx, m.graph, st, engine.Options{
			RunID:        rec.id,
			StartAt:      startAt,
			StageTimeout: m.stageTimeout,
			Observer:     observer,
			Checkpoints:  m.checkpoints,
		})

		rec.mu.Lock()
		rec.status = outcome.Status
		rec.cursor = outcome.Cursor
		rec.err = outcome.Err
		rec.snapshot = st.Clone()
		rec.cancel = nil
		rec.transitions = append(rec.transitions, transition{stage: rec.lastStage, status: outcome.Status})
		rec.mu.Unlock()

		logger.Info("Run finished driving.", "run_id", rec.id, "status", outcome.Status)
	}()
}

// Get returns a point-in-time snapshot of the run.
func (m *Manager) Get(runID string) (Snapshot, error) {
	rec, err := m.record(runID)
	if err != nil {
		return Snapshot{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	snap := Snapshot{
		RunID:     rec.id,
		Status:    rec.status,
		LastStage: rec.lastStage,
		State:     rec.snapshot.Clone(),
	}
	if rec.err != nil {
		snap.Err = rec.err.Error()
	} else if rec.snapshot.Error != "" {
		snap.Err = rec.snapshot.Error
	}
	return snap, nil
}

// Resume continues an interrupted run from its recorded cursor. The working
// state reloads from the latest checkpoint, so a resume survives everything
// short of losing the checkpoint store.
func (m *Manager) Resume(ctx context.Context, runID string) error {
	rec, err := m.record(runID)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	if rec.status != engine.StatusInterrupted {
		status := rec.status
		rec.mu.Unlock()
		return fmt.Errorf("resume %s in status %s: %w", runID, status, ErrNotInterrupted)
	}
	rec.status = engine.StatusRunning
	rec.mu.Unlock()

	cp, err := m.checkpoints.Latest(ctx, runID)
	if err == nil && cp == nil {
		err = fmt.Errorf("no checkpoint recorded")
	}
	if err != nil {
		rec.mu.Lock()
		rec.status = engine.StatusInterrupted
		rec.mu.Unlock()
		return fmt.Errorf("load checkpoint for %s: %w", runID, err)
	}

	m.drive(ctxlog.FromContext(ctx), rec, cp.State.Clone(), cp.Cursor)
	return nil
}

// Abort cancels a run. An in-flight run is cancelled cooperatively; an
// interrupted run is finalized as failed without re-entering the engine.
func (m *Manager) Abort(runID string) error {
	rec, err := m.record(runID)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	switch rec.status {
	case engine.StatusRunning:
		if rec.cancel != nil {
			rec.cancel()
		}
		return nil
	case engine.StatusInterrupted:
		rec.status = engine.StatusFailed
		rec.err = fmt.Errorf("run aborted while interrupted")
		rec.transitions = append(rec.transitions, transition{stage: rec.lastStage, status: engine.StatusFailed})
		return nil
	default:
		return fmt.Errorf("abort %s: %w", runID, ErrAlreadyFinished)
	}
}

// Events returns a finite stream of the run's stage transitions. Already
// recorded transitions replay first; the channel closes after the terminal
// completed or failed event, or when ctx is done. An interrupted run's
// stream stays open so a later resume keeps feeding the same consumer.
func (m *Manager) Events(ctx context.Context, runID string) (<-chan Event, error) {
	rec, err := m.record(runID)
	if err != nil {
		return nil, err
	}

	out := make(chan Event)
	go func() {
		defer close(out)
		ticker := time.NewTicker(m.poll)
		defer ticker.Stop()

		next := 0
		for {
			rec.mu.Lock()
			pending := rec.transitions[next:]
			status := rec.status
			rec.mu.Unlock()

			for _, t := range pending {
				ev := Event{Seq: next, RunID: runID, Stage: t.stage, Status: t.status}
				next++
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}

			if status == engine.StatusCompleted || status == engine.StatusFailed {
				rec.mu.Lock()
				drained := next >= len(rec.transitions)
				rec.mu.Unlock()
				if drained {
					return
				}
				continue
			}

			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Prune drops a finished run from the registry along with its checkpoints.
// Running and interrupted runs cannot be pruned; abort them first.
func (m *Manager) Prune(ctx context.Context, runID string) error {
	rec, err := m.record(runID)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	status := rec.status
	rec.mu.Unlock()
	if status != engine.StatusCompleted && status != engine.StatusFailed {
		return fmt.Errorf("prune %s in status %s: run still active", runID, status)
	}

	if err := m.checkpoints.Delete(ctx, runID); err != nil {
		return fmt.Errorf("prune checkpoints for %s: %w", runID, err)
	}
	m.mu.Lock()
	delete(m.runs, runID)
	m.mu.Unlock()
	return nil
}

// History returns the run's recorded checkpoints in order.
func (m *Manager) History(ctx context.Context, runID string) ([]checkpoint.Checkpoint, error) {
	if _, err := m.record(runID); err != nil {
		return nil, err
	}
	return m.checkpoints.History(ctx, runID)
}

func (m *Manager) record(runID string) (*runRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", runID, ErrUnknownRun)
	}
	return rec, nil
}
