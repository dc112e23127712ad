package pipeline

import (
	"context"
	"fmt"

	"github.com/justme409/aiprojectengineerv3/internal/asset"
	"github.com/justme409/aiprojectengineerv3/internal/ctxlog"
	"github.com/justme409/aiprojectengineerv3/internal/graph"
	"github.com/justme409/aiprojectengineerv3/internal/state"
)

type standardsResult struct {
	Standards []state.Standard `json:"standards"`
}

// extractStandards pulls the referenced technical standards out of the
// document bundle and links each standard back to the documents that cite it.
func extractStandards(deps Deps) graph.Func {
	return func(ctx context.Context, st *state.State) (*state.Delta, error) {
		logger := ctxlog.FromContext(ctx)

		prompt := fmt.Sprintf(`Identify every technical standard referenced by these construction
project documents (AS, ISO, ASTM, EN and similar). Return JSON with a
"standards" array; each entry has: standard_code, spec_name, org_identifier,
section_reference, context, document_ids (ids of the documents citing it).

PROJECT DOCUMENTS:
%s`, combinedContent(st.Documents))

		var result standardsResult
		if err := deps.LLM.Extract(ctx, prompt, &result); err != nil {
			return nil, fmt.Errorf("standards extraction: %w", err)
		}

		delta := &state.Delta{Standards: result.Standards}
		for _, std := range result.Standards {
			if std.Code == "" {
				logger.Warn("Standard without a code skipped.", "name", std.Name)
				continue
			}
			var edges []asset.EdgeSpec
			for _, docID := range std.DocumentIDs {
				edges = append(edges, asset.EdgeSpec{
					ToAssetID: fmt.Sprintf("doc_extract:%s:%s", st.ProjectID, docID),
					EdgeType:  asset.EdgeReferences,
					Properties: map[string]any{
						"reference_type":    "standards_citation",
						"section_reference": std.SectionReference,
						"context":           excerpt(std.Context, 100),
					},
					IdempotencyKey: fmt.Sprintf("std_doc_ref:%s:%s:%s", st.ProjectID, std.Code, docID),
				})
			}
			delta.EdgeSpecs = append(delta.EdgeSpecs, edges...)
			delta.AssetSpecs = append(delta.AssetSpecs, asset.WriteSpec{
				Type:      "standard",
				Name:      pickName(std.Name, std.Code),
				ProjectID: st.ProjectID,
				Content: map[string]any{
					"standard_code":     std.Code,
					"spec_name":         std.Name,
					"org_identifier":    std.Organization,
					"section_reference": std.SectionReference,
					"context":           std.Context,
					"document_ids":      std.DocumentIDs,
				},
				Metadata: map[string]any{
					"category": "register",
					"tags":     []string{"standards", "register", "compliance", "references"},
				},
				IdempotencyKey: fmt.Sprintf("standard:%s:%s", st.ProjectID, std.Code),
				Edges:          edges,
			})
		}
		logger.Info("Standards extraction finished.", "standards", len(result.Standards))
		return delta, nil
	}
}
