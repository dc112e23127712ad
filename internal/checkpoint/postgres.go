package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/justme409/aiprojectengineerv3/internal/state"
)

// PGStore is a Postgres-backed checkpoint store. One row per checkpoint:
//
//	run_checkpoints(run_id, seq, stage, cursor, status, state jsonb, created_at)
//
// with a unique constraint on (run_id, seq).
type PGStore struct {
	db *sql.DB
}

// NewPGStore wraps an open database handle.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

// Save implements Store. Sequence assignment and insert run in one
// statement so two writers on the same run cannot share a seq.
func (s *PGStore) Save(ctx context.Context, cp Checkpoint) error {
	payload, err := json.Marshal(cp.State)
	if err != nil {
		return fmt.Errorf("marshal checkpoint state: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO run_checkpoints (run_id, seq, stage, cursor, status, state, created_at)
		SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3, $4, $5, NOW()
		FROM run_checkpoints WHERE run_id = $1
	`, cp.RunID, cp.Stage, cp.Cursor, cp.Status, payload)
	if err != nil {
		return fmt.Errorf("save checkpoint for run %s: %w", cp.RunID, err)
	}
	return nil
}

// Latest implements Store.
func (s *PGStore) Latest(ctx context.Context, runID string) (*Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, seq, stage, cursor, status, state, created_at
		FROM run_checkpoints
		WHERE run_id = $1
		ORDER BY seq DESC
		LIMIT 1
	`, runID)
	cp, err := scanCheckpoint(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load latest checkpoint for run %s: %w", runID, err)
	}
	return cp, nil
}

// Delete implements Store.
func (s *PGStore) Delete(ctx context.Context, runID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM run_checkpoints WHERE run_id = $1`, runID)
	if err != nil {
		return fmt.Errorf("delete checkpoints for run %s: %w", runID, err)
	}
	return nil
}

// History implements Store.
func (s *PGStore) History(ctx context.Context, runID string) ([]Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, seq, stage, cursor, status, state, created_at
		FROM run_checkpoints
		WHERE run_id = $1
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("load history for run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scan checkpoint for run %s: %w", runID, err)
		}
		out = append(out, *cp)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(r rowScanner) (*Checkpoint, error) {
	var cp Checkpoint
	var payload []byte
	if err := r.Scan(&cp.RunID, &cp.Seq, &cp.Stage, &cp.Cursor, &cp.Status, &payload, &cp.CreatedAt); err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		var st state.State
		if err := json.Unmarshal(payload, &st); err != nil {
			return nil, fmt.Errorf("unmarshal checkpoint state: %w", err)
		}
		cp.State = &st
	}
	return &cp, nil
}
