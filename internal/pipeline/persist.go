package pipeline

import (
	"context"
	"fmt"

	"github.com/justme409/aiprojectengineerv3/internal/ctxlog"
	"github.com/justme409/aiprojectengineerv3/internal/graph"
	"github.com/justme409/aiprojectengineerv3/internal/state"
)

// persistAssets flushes every accumulated write spec in one idempotent batch
// and publishes the run summary. A transaction-level store failure marks the
// run failed and routes it to finalization; individual spec failures are
// recorded but leave the run successful, mirroring the per-spec atomicity of
// the store itself.
func persistAssets(deps Deps) graph.Func {
	return func(ctx context.Context, st *state.State) (*state.Delta, error) {
		logger := ctxlog.FromContext(ctx)

		batch, err := deps.Assets.UpsertAssets(ctx, st.AssetSpecs)
		if err != nil {
			logger.Error("Asset batch persistence failed.", "error", err)
			return &state.Delta{
				StageErrors: []state.StageError{{
					Stage:   StagePersistAssets,
					Kind:    state.KindPersistence,
					Message: fmt.Sprintf("asset batch persistence failed: %v", err),
				}},
				Failed: state.Bool(true),
			}, nil
		}

		var stageErrs []state.StageError
		for _, res := range batch.Results {
			if res.Error != "" {
				stageErrs = append(stageErrs, state.StageError{
					Stage:   StagePersistAssets,
					Kind:    state.KindPersistence,
					Message: fmt.Sprintf("spec %s: %s", res.IdempotencyKey, res.Error),
				})
			}
		}

		summary := map[string]any{
			"documents_extracted": len(st.Documents),
			"documents_failed":    len(st.FailedDocuments),
			"standards_found":     len(st.Standards),
			"plans_generated":     len(st.GeneratedPlans),
			"itps_generated":      len(st.GeneratedITPs),
			"asset_specs":         len(st.AssetSpecs),
			"edge_specs":          len(st.EdgeSpecs),
			"assets_written":      batch.Created(),
			"edges_created":       batch.EdgeCount(),
			"specs_failed":        len(batch.Results) - batch.Created(),
		}
		logger.Info("Asset persistence finished.",
			"written", batch.Created(), "edges", batch.EdgeCount(),
			"failed", len(batch.Results)-batch.Created())

		return &state.Delta{
			StageErrors:       stageErrs,
			ExtractionSummary: summary,
			Done:              state.Bool(true),
		}, nil
	}
}
