package run

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justme409/aiprojectengineerv3/internal/checkpoint"
	"github.com/justme409/aiprojectengineerv3/internal/engine"
	"github.com/justme409/aiprojectengineerv3/internal/graph"
	"github.com/justme409/aiprojectengineerv3/internal/state"
)

func stageFunc(id string) graph.Func {
	return func(_ context.Context, _ *state.State) (*state.Delta, error) {
		return &state.Delta{Documents: []state.Document{{ID: id}}}, nil
	}
}

func lineGraph(t *testing.T) *graph.Graph {
	t.Helper()
	g, err := graph.NewBuilder().
		AddStage(graph.Stage{Name: "a", Run: stageFunc("a")}).
		AddStage(graph.Stage{Name: "b", DependsOn: []string{"a"}, Run: stageFunc("b")}).
		AddStage(graph.Stage{Name: "c", DependsOn: []string{"b"}, Run: stageFunc("c")}).
		Compile()
	require.NoError(t, err)
	return g
}

func pausingGraph(t *testing.T) *graph.Graph {
	t.Helper()
	g, err := graph.NewBuilder().
		AddStage(graph.Stage{Name: "a", Run: stageFunc("a")}).
		AddStage(graph.Stage{Name: "pause", DependsOn: []string{"a"}, Run: stageFunc("pause")}).
		AddStage(graph.Stage{Name: "c", DependsOn: []string{"pause"}, Run: stageFunc("c")}).
		MarkInterrupt("pause").
		Compile()
	require.NoError(t, err)
	return g
}

func waitForStatus(t *testing.T, m *Manager, runID string, want engine.Status) Snapshot {
	t.Helper()
	var snap Snapshot
	require.Eventually(t, func() bool {
		var err error
		snap, err = m.Get(runID)
		if err != nil {
			return false
		}
		return snap.Status == want
	}, 2*time.Second, 5*time.Millisecond)
	return snap
}

func TestStartRunsToCompletion(t *testing.T) {
	m := NewManager(lineGraph(t), checkpoint.NewMemStore(), WithPollInterval(time.Millisecond))

	runID, err := m.Start(context.Background(), Input{ProjectID: "p1", DocumentIDs: []string{"d1"}})
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	snap := waitForStatus(t, m, runID, engine.StatusCompleted)
	assert.Equal(t, "c", snap.LastStage)
	assert.Len(t, snap.State.Documents, 3)
	assert.Empty(t, snap.Err)
}

func TestStartValidatesInput(t *testing.T) {
	m := NewManager(lineGraph(t), checkpoint.NewMemStore())

	_, err := m.Start(context.Background(), Input{DocumentIDs: []string{"d1"}})
	require.Error(t, err)

	_, err = m.Start(context.Background(), Input{ProjectID: "p1"})
	require.Error(t, err)
}

func TestUnknownRun(t *testing.T) {
	m := NewManager(lineGraph(t), checkpoint.NewMemStore())

	_, err := m.Get("nope")
	assert.ErrorIs(t, err, ErrUnknownRun)
	assert.ErrorIs(t, m.Resume(context.Background(), "nope"), ErrUnknownRun)
	assert.ErrorIs(t, m.Abort("nope"), ErrUnknownRun)
	_, err = m.Events(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownRun)
}

func TestEventsStreamInOrderAndTerminate(t *testing.T) {
	m := NewManager(lineGraph(t), checkpoint.NewMemStore(), WithPollInterval(time.Millisecond))

	runID, err := m.Start(context.Background(), Input{ProjectID: "p1", DocumentIDs: []string{"d1"}})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	events, err := m.Events(ctx, runID)
	require.NoError(t, err)

	var got []Event
	for ev := range events {
		got = append(got, ev)
	}

	// Three stage transitions plus the terminal event, each seen once.
	require.Len(t, got, 4)
	assert.Equal(t, "a", got[0].Stage)
	assert.Equal(t, "b", got[1].Stage)
	assert.Equal(t, "c", got[2].Stage)
	assert.Equal(t, engine.StatusCompleted, got[3].Status)
	for i, ev := range got {
		assert.Equal(t, i, ev.Seq)
		assert.Equal(t, runID, ev.RunID)
	}
}

func TestInterruptAndResume(t *testing.T) {
	cps := checkpoint.NewMemStore()
	m := NewManager(pausingGraph(t), cps, WithPollInterval(time.Millisecond))

	runID, err := m.Start(context.Background(), Input{ProjectID: "p1", DocumentIDs: []string{"d1"}})
	require.NoError(t, err)

	snap := waitForStatus(t, m, runID, engine.StatusInterrupted)
	assert.Equal(t, "pause", snap.LastStage)
	assert.Len(t, snap.State.Documents, 2)

	// Resuming before the interrupt is an error for a completed run only;
	// here it continues from the checkpointed cursor.
	require.NoError(t, m.Resume(context.Background(), runID))
	snap = waitForStatus(t, m, runID, engine.StatusCompleted)
	assert.Len(t, snap.State.Documents, 3)

	// The resumed portion picked up the checkpointed state, not a fresh one.
	assert.Equal(t, "a", snap.State.Documents[0].ID)
	assert.Equal(t, "c", snap.State.Documents[2].ID)

	history, err := m.History(context.Background(), runID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, string(engine.StatusInterrupted), history[1].Status)
}

func TestResumeRequiresInterruptedRun(t *testing.T) {
	m := NewManager(lineGraph(t), checkpoint.NewMemStore(), WithPollInterval(time.Millisecond))

	runID, err := m.Start(context.Background(), Input{ProjectID: "p1", DocumentIDs: []string{"d1"}})
	require.NoError(t, err)
	waitForStatus(t, m, runID, engine.StatusCompleted)

	assert.ErrorIs(t, m.Resume(context.Background(), runID), ErrNotInterrupted)
}

func TestAbortCancelsInFlightRun(t *testing.T) {
	release := make(chan struct{})
	g, err := graph.NewBuilder().
		AddStage(graph.Stage{Name: "block", Run: func(ctx context.Context, _ *state.State) (*state.Delta, error) {
			close(release)
			<-ctx.Done()
			return nil, ctx.Err()
		}}).
		Compile()
	require.NoError(t, err)

	m := NewManager(g, checkpoint.NewMemStore(), WithPollInterval(time.Millisecond))
	runID, err := m.Start(context.Background(), Input{ProjectID: "p1", DocumentIDs: []string{"d1"}})
	require.NoError(t, err)

	<-release
	require.NoError(t, m.Abort(runID))

	snap := waitForStatus(t, m, runID, engine.StatusFailed)
	assert.Contains(t, snap.Err, "block")
}

func TestAbortInterruptedRunFinalizesAsFailed(t *testing.T) {
	m := NewManager(pausingGraph(t), checkpoint.NewMemStore(), WithPollInterval(time.Millisecond))

	runID, err := m.Start(context.Background(), Input{ProjectID: "p1", DocumentIDs: []string{"d1"}})
	require.NoError(t, err)
	waitForStatus(t, m, runID, engine.StatusInterrupted)

	require.NoError(t, m.Abort(runID))
	snap, err := m.Get(runID)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusFailed, snap.Status)

	// A finished run cannot be aborted again.
	assert.ErrorIs(t, m.Abort(runID), ErrAlreadyFinished)
}

func TestPruneRemovesFinishedRun(t *testing.T) {
	m := NewManager(lineGraph(t), checkpoint.NewMemStore(), WithPollInterval(time.Millisecond))

	runID, err := m.Start(context.Background(), Input{ProjectID: "p1", DocumentIDs: []string{"d1"}})
	require.NoError(t, err)
	waitForStatus(t, m, runID, engine.StatusCompleted)

	require.NoError(t, m.Prune(context.Background(), runID))

	_, err = m.Get(runID)
	assert.ErrorIs(t, err, ErrUnknownRun)
	_, err = m.History(context.Background(), runID)
	assert.ErrorIs(t, err, ErrUnknownRun)
}

func TestPruneRejectsActiveRun(t *testing.T) {
	m := NewManager(pausingGraph(t), checkpoint.NewMemStore(), WithPollInterval(time.Millisecond))

	runID, err := m.Start(context.Background(), Input{ProjectID: "p1", DocumentIDs: []string{"d1"}})
	require.NoError(t, err)
	waitForStatus(t, m, runID, engine.StatusInterrupted)

	err = m.Prune(context.Background(), runID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "still active")
}
