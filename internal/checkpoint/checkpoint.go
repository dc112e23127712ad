// Package checkpoint persists run state snapshots. A checkpoint is recorded
// after every completed stage and at interrupt points; it is the unit of
// crash recovery and the source for run history inspection.
package checkpoint

import (
	"context"
	"time"

	"github.com/justme409/aiprojectengineerv3/internal/state"
)

// Checkpoint is one durable snapshot of a run. Seq is assigned by the store,
// monotonically per run. Cursor is the execution-order index of the next
// stage to run, which is what a resume starts from.
type Checkpoint struct {
	RunID     string       `json:"run_id"`
	Seq       int          `json:"seq"`
	Stage     string       `json:"stage"`
	Cursor    int          `json:"cursor"`
	Status    string       `json:"status"`
	State     *state.State `json:"state"`
	CreatedAt time.Time    `json:"created_at"`
}

// Store persists and retrieves checkpoints. Snapshots handed to Save and
// returned from Latest/History must not alias live run state.
type Store interface {
	// Save records a new checkpoint and assigns its sequence number.
	Save(ctx context.Context, cp Checkpoint) error
	// Latest returns the most recent checkpoint for a run, or nil if the
	// run has none.
	Latest(ctx context.Context, runID string) (*Checkpoint, error)
	// History returns all checkpoints for a run in execution order.
	History(ctx context.Context, runID string) ([]Checkpoint, error)
	// Delete removes every checkpoint recorded for a run. Deleting a run
	// with no checkpoints is a no-op.
	Delete(ctx context.Context, runID string) error
}
