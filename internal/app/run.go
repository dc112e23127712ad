package app

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/justme409/aiprojectengineerv3/internal/ctxlog"
	"github.com/justme409/aiprojectengineerv3/internal/engine"
	"github.com/justme409/aiprojectengineerv3/internal/run"
)

// Run starts one extraction run and follows it to completion, streaming
// stage transitions to the log. An inspection pause is resumed immediately
// in CLI mode; the pause point exists for embedding callers with a human in
// the loop.
func (a *App) Run(ctx context.Context, opts *Options) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	if a.config.HealthcheckPort > 0 {
		a.startHealthcheckServer(a.config.HealthcheckPort)
	}

	runID, err := a.manager.Start(ctx, run.Input{
		ProjectID:   opts.ProjectID,
		DocumentIDs: opts.DocumentIDs,
	})
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	a.logger.Info("Run started.", "run_id", runID, "project_id", opts.ProjectID, "documents", len(opts.DocumentIDs))

	events, err := a.manager.Events(ctx, runID)
	if err != nil {
		return fmt.Errorf("subscribe to run events: %w", err)
	}
	for ev := range events {
		a.logger.Info("Stage transition.", "run_id", runID, "stage", ev.Stage, "status", ev.Status)
		if ev.Status == engine.StatusInterrupted {
			a.logger.Info("Run paused for inspection, resuming.", "run_id", runID)
			if err := a.manager.Resume(ctx, runID); err != nil {
				return fmt.Errorf("resume run: %w", err)
			}
		}
	}

	snap, err := a.manager.Get(runID)
	if err != nil {
		return fmt.Errorf("read run result: %w", err)
	}
	if snap.Status == engine.StatusFailed {
		return fmt.Errorf("run %s failed: %s", runID, snap.Err)
	}

	result := map[string]any{
		"run_id":  runID,
		"status":  snap.Status,
		"summary": snap.State.ExtractionSummary,
	}
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encode run result: %w", err)
	}
	fmt.Fprintln(a.outW, string(out))
	a.logger.Debug("App.Run method finished.")
	return nil
}
