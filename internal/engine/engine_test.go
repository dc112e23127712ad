package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justme409/aiprojectengineerv3/internal/checkpoint"
	"github.com/justme409/aiprojectengineerv3/internal/graph"
	"github.com/justme409/aiprojectengineerv3/internal/state"
)

func appendDoc(id string) graph.Func {
	return func(_ context.Context, _ *state.State) (*state.Delta, error) {
		return &state.Delta{Documents: []state.Document{{ID: id}}}, nil
	}
}

func TestExecuteWalksTopologicalOrderAndAccumulates(t *testing.T) {
	g, err := graph.NewBuilder().
		AddStage(graph.Stage{Name: "a", Run: appendDoc("a")}).
		AddStage(graph.Stage{Name: "b", DependsOn: []string{"a"}, Run: appendDoc("b")}).
		AddStage(graph.Stage{Name: "c", DependsOn: []string{"b"}, Run: appendDoc("c")}).
		Compile()
	require.NoError(t, err)

	st := state.New("p1", nil)
	var visited []string
	outcome := Execute(context.Background(), g, st, Options{
		RunID: "r1",
		Observer: func(stage string, _ *state.State) {
			visited = append(visited, stage)
		},
	})

	assert.Equal(t, StatusCompleted, outcome.Status)
	require.NoError(t, outcome.Err)
	assert.Equal(t, []string{"a", "b", "c"}, visited)
	require.Len(t, st.Documents, 3)
	assert.Equal(t, "a", st.Documents[0].ID)
	assert.Equal(t, "c", st.Documents[2].ID)
}

func TestExecuteRouterSkipsAhead(t *testing.T) {
	var ranMiddle bool
	g, err := graph.NewBuilder().
		AddStage(graph.Stage{Name: "start", Run: appendDoc("start")}).
		AddStage(graph.Stage{Name: "middle", DependsOn: []string{"start"}, Run: func(_ context.Context, _ *state.State) (*state.Delta, error) {
			ranMiddle = true
			return nil, nil
		}}).
		AddStage(graph.Stage{Name: "finish", DependsOn: []string{"middle"}, Run: appendDoc("finish")}).
		AddRouter("start", []string{"middle", "finish"}, func(_ *state.State) string { return "finish" }).
		Compile()
	require.NoError(t, err)

	st := state.New("p1", nil)
	outcome := Execute(context.Background(), g, st, Options{RunID: "r1"})

	assert.Equal(t, StatusCompleted, outcome.Status)
	assert.False(t, ranMiddle)
	require.Len(t, st.Documents, 2)
	assert.Equal(t, "finish", st.Documents[1].ID)
}

func TestExecuteRouterEndStopsRun(t *testing.T) {
	g, err := graph.NewBuilder().
		AddStage(graph.Stage{Name: "start", Run: appendDoc("start")}).
		AddStage(graph.Stage{Name: "never", DependsOn: []string{"start"}, Run: appendDoc("never")}).
		AddRouter("start", []string{"never"}, func(_ *state.State) string { return graph.End }).
		Compile()
	require.NoError(t, err)

	st := state.New("p1", nil)
	outcome := Execute(context.Background(), g, st, Options{RunID: "r1"})

	assert.Equal(t, StatusCompleted, outcome.Status)
	require.Len(t, st.Documents, 1)
}

func TestExecuteStageErrorFailsRunPreservingState(t *testing.T) {
	boom := errors.New("boom")
	g, err := graph.NewBuilder().
		AddStage(graph.Stage{Name: "ok", Run: appendDoc("ok")}).
		AddStage(graph.Stage{Name: "bad", DependsOn: []string{"ok"}, Run: func(_ context.Context, _ *state.State) (*state.Delta, error) {
			return &state.Delta{Documents: []state.Document{{ID: "partial"}}}, boom
		}}).
		Compile()
	require.NoError(t, err)

	st := state.New("p1", nil)
	outcome := Execute(context.Background(), g, st, Options{RunID: "r1"})

	assert.Equal(t, StatusFailed, outcome.Status)
	require.Error(t, outcome.Err)
	assert.ErrorIs(t, outcome.Err, boom)
	assert.Contains(t, outcome.Err.Error(), "stage bad")
	// The failed stage's delta is not merged.
	require.Len(t, st.Documents, 1)
	assert.Equal(t, "ok", st.Documents[0].ID)
}

func TestExecuteFinalStatusFollowsFailedFlag(t *testing.T) {
	g, err := graph.NewBuilder().
		AddStage(graph.Stage{Name: "mark", Run: func(_ context.Context, _ *state.State) (*state.Delta, error) {
			return &state.Delta{Failed: state.Bool(true), Done: state.Bool(true)}, nil
		}}).
		Compile()
	require.NoError(t, err)

	st := state.New("p1", nil)
	outcome := Execute(context.Background(), g, st, Options{RunID: "r1"})

	assert.Equal(t, StatusFailed, outcome.Status)
	assert.NoError(t, outcome.Err)
	assert.True(t, st.Done)
}

func TestExecuteInterruptPausesAndResumes(t *testing.T) {
	g, err := graph.NewBuilder().
		AddStage(graph.Stage{Name: "first", Run: appendDoc("first")}).
		AddStage(graph.Stage{Name: "pause", DependsOn: []string{"first"}, Run: appendDoc("pause")}).
		AddStage(graph.Stage{Name: "after", DependsOn: []string{"pause"}, Run: appendDoc("after")}).
		MarkInterrupt("pause").
		Compile()
	require.NoError(t, err)

	st := state.New("p1", nil)
	outcome := Execute(context.Background(), g, st, Options{RunID: "r1"})

	require.Equal(t, StatusInterrupted, outcome.Status)
	// The interrupt stage itself completed before pausing.
	require.Len(t, st.Documents, 2)
	assert.Equal(t, 2, outcome.Cursor)

	resumed := Execute(context.Background(), g, st, Options{RunID: "r1", StartAt: outcome.Cursor})
	assert.Equal(t, StatusCompleted, resumed.Status)
	require.Len(t, st.Documents, 3)
	assert.Equal(t, "after", st.Documents[2].ID)
}

func TestExecuteContextCancellationFailsRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	g, err := graph.NewBuilder().
		AddStage(graph.Stage{Name: "first", Run: func(_ context.Context, _ *state.State) (*state.Delta, error) {
			cancel()
			return nil, nil
		}}).
		AddStage(graph.Stage{Name: "second", DependsOn: []string{"first"}, Run: appendDoc("second")}).
		Compile()
	require.NoError(t, err)

	st := state.New("p1", nil)
	outcome := Execute(ctx, g, st, Options{RunID: "r1"})

	assert.Equal(t, StatusFailed, outcome.Status)
	require.Error(t, outcome.Err)
	assert.Contains(t, outcome.Err.Error(), "run aborted")
	assert.Empty(t, st.Documents)
}

func TestExecuteStageTimeout(t *testing.T) {
	g, err := graph.NewBuilder().
		AddStage(graph.Stage{Name: "slow", Run: func(ctx context.Context, _ *state.State) (*state.Delta, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(5 * time.Second):
				return nil, nil
			}
		}}).
		Compile()
	require.NoError(t, err)

	st := state.New("p1", nil)
	outcome := Execute(context.Background(), g, st, Options{RunID: "r1", StageTimeout: 10 * time.Millisecond})

	assert.Equal(t, StatusFailed, outcome.Status)
	require.Error(t, outcome.Err)
	assert.ErrorIs(t, outcome.Err, context.DeadlineExceeded)
}

func TestExecuteRecordsCheckpoints(t *testing.T) {
	g, err := graph.NewBuilder().
		AddStage(graph.Stage{Name: "a", Run: appendDoc("a")}).
		AddStage(graph.Stage{Name: "b", DependsOn: []string{"a"}, Run: appendDoc("b")}).
		Compile()
	require.NoError(t, err)

	cps := checkpoint.NewMemStore()
	st := state.New("p1", nil)
	outcome := Execute(context.Background(), g, st, Options{RunID: "r1", Checkpoints: cps})
	require.Equal(t, StatusCompleted, outcome.Status)

	history, err := cps.History(context.Background(), "r1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "a", history[0].Stage)
	assert.Equal(t, 1, history[0].Cursor)
	require.Len(t, history[0].State.Documents, 1)
	assert.Equal(t, "b", history[1].Stage)
	require.Len(t, history[1].State.Documents, 2)

	latest, err := cps.Latest(context.Background(), "r1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 2, latest.Seq)
}
