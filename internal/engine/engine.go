// Package engine executes a compiled graph against one run state. A single
// run advances cooperatively in dependency order; concurrency lives inside
// stages (fan-out over independent sub-items), never between stages of the
// same run. Independent runs share nothing and execute concurrently.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/justme409/aiprojectengineerv3/internal/checkpoint"
	"github.com/justme409/aiprojectengineerv3/internal/ctxlog"
	"github.com/justme409/aiprojectengineerv3/internal/graph"
	"github.com/justme409/aiprojectengineerv3/internal/state"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusRunning     Status = "running"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusInterrupted Status = "interrupted"
)

// Observer is invoked after each stage completes, with the stage name and an
// immutable snapshot of the merged state.
type Observer func(stage string, snapshot *state.State)

// Options configure one Execute call.
type Options struct {
	// RunID tags checkpoints and log lines.
	RunID string
	// StartAt is the execution-order index to begin from; a resume passes
	// the cursor recorded at the interrupt checkpoint.
	StartAt int
	// StageTimeout, when non-zero, wraps every stage invocation with a
	// deadline. Expiry is treated identically to an error raised by the
	// stage.
	StageTimeout time.Duration
	// Observer, when set, receives every stage transition.
	Observer Observer
	// Checkpoints, when set, records a snapshot after every stage.
	Checkpoints checkpoint.Store
}

// Outcome is the result of driving a graph until a terminal state, an
// interrupt point, or a failure.
type Outcome struct {
	Status Status
	// Cursor is the execution-order index of the next stage to run. Only
	// meaningful when Status is StatusInterrupted.
	Cursor int
	Err    error
}

// Execute drives the graph over the given state, mutating it in place.
//
// Stages run in the compiled topological order. After each stage its delta
// is merged into the state, a checkpoint is recorded, and the stage's
// conditional edge (if any) picks the next stage or the End sentinel. A
// stage returning an error aborts the run as failed, preserving the last
// recorded snapshot. An interrupt stage pauses the run after it completes;
// resuming re-enters Execute at the recorded cursor.
//
// The final status of a run that walks to the end of the graph is taken
// from the state's failed flag, so a fail-fast jump through the failure
// finalization stage terminates as StatusFailed.
func Execute(ctx context.Context, g *graph.Graph, st *state.State, opts Options) Outcome {
	logger := ctxlog.FromContext(ctx).With("run_id", opts.RunID)
	order := g.Order()

	i := opts.StartAt
	for i < len(order) {
		if err := ctx.Err(); err != nil {
			logger.Warn("Run aborted.", "stage", order[i], "error", err)
			return Outcome{Status: StatusFailed, Cursor: i, Err: fmt.Errorf("run aborted: %w", err)}
		}

		stage := g.StageAt(i)
		logger.Debug("Stage starting.", "stage", stage.Name)

		delta, err := runStage(ctx, stage, st, opts.StageTimeout)
		if err != nil {
			logger.Error("Stage failed.", "stage", stage.Name, "error", err)
			return Outcome{Status: StatusFailed, Cursor: i, Err: fmt.Errorf("stage %s: %w", stage.Name, err)}
		}
		st.Apply(delta)
		logger.Debug("Stage completed.", "stage", stage.Name)

		next := i + 1
		if router, ok := g.Router(stage.Name); ok {
			target := router(st)
			if target == graph.End {
				next = len(order)
			} else {
				pos, ok := g.Position(target)
				if !ok {
					return Outcome{Status: StatusFailed, Cursor: i, Err: fmt.Errorf("router after %s returned unknown stage %q", stage.Name, target)}
				}
				if pos <= i {
					return Outcome{Status: StatusFailed, Cursor: i, Err: fmt.Errorf("router after %s returned %q, which does not execute later", stage.Name, target)}
				}
				if pos != next {
					logger.Info("Conditional edge skipping ahead.", "from", stage.Name, "to", target)
				}
				next = pos
			}
		}

		paused := g.IsInterrupt(stage.Name) && next < len(order)
		status := StatusRunning
		if paused {
			status = StatusInterrupted
		}
		saveCheckpoint(ctx, logger, opts, stage.Name, next, status, st)
		if opts.Observer != nil {
			opts.Observer(stage.Name, st.Clone())
		}

		if paused {
			logger.Info("Run interrupted at pause point.", "stage", stage.Name)
			return Outcome{Status: StatusInterrupted, Cursor: next}
		}
		i = next
	}

	if st.Failed {
		return Outcome{Status: StatusFailed, Cursor: len(order)}
	}
	return Outcome{Status: StatusCompleted, Cursor: len(order)}
}

// runStage invokes a stage, wrapping it with a deadline when configured.
func runStage(ctx context.Context, stage graph.Stage, st *state.State, timeout time.Duration) (*state.Delta, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return stage.Run(ctx, st)
}

// saveCheckpoint records a snapshot; a checkpoint write failure is logged
// but does not abort the run.
func saveCheckpoint(ctx context.Context, logger *slog.Logger, opts Options, stageName string, cursor int, status Status, st *state.State) {
	if opts.Checkpoints == nil {
		return
	}
	cp := checkpoint.Checkpoint{
		RunID:  opts.RunID,
		Stage:  stageName,
		Cursor: cursor,
		Status: string(status),
		State:  st.Clone(),
	}
	if err := opts.Checkpoints.Save(ctx, cp); err != nil {
		logger.Warn("Checkpoint write failed.", "stage", stageName, "error", err)
	}
}
