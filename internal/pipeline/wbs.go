package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/justme409/aiprojectengineerv3/internal/asset"
	"github.com/justme409/aiprojectengineerv3/internal/ctxlog"
	"github.com/justme409/aiprojectengineerv3/internal/graph"
	"github.com/justme409/aiprojectengineerv3/internal/state"
)

type wbsNode struct {
	ID          string   `json:"id"`
	ParentID    string   `json:"parent_id"`
	NodeType    string   `json:"node_type"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	SourceDocs  []string `json:"source_reference_uuids"`
	ITPRequired bool     `json:"itp_required"`
	IsLeafNode  bool     `json:"is_leaf_node"`
}

type wbsResult struct {
	Nodes []wbsNode `json:"nodes"`
}

// extractWBS designs the work breakdown structure. The stage guards its own
// input: with no aggregate document content there is nothing to decompose,
// so the run fails fast instead of calling the model.
func extractWBS(deps Deps) graph.Func {
	return func(ctx context.Context, st *state.State) (*state.Delta, error) {
		logger := ctxlog.FromContext(ctx)

		hasContent := false
		for _, d := range st.Documents {
			if strings.TrimSpace(d.Content) != "" {
				hasContent = true
				break
			}
		}
		if !hasContent {
			return &state.Delta{
				StageErrors: []state.StageError{{
					Stage:   StageWBSExtraction,
					Kind:    state.KindValidation,
					Message: "wbs extraction requires non-empty document content",
				}},
				Failed: state.Bool(true),
			}, nil
		}

		content := combinedContent(st.Documents)
		prompt := fmt.Sprintf(`You are a WBS architect for civil engineering projects. Analyze the
document bundle and design the complete work breakdown structure.
Focus on deliverables, not activities; capture the full contractual scope.
Return JSON with a "nodes" array in adjacency-list form; each node has:
id, parent_id (empty for the root), node_type (project|section|work_package),
name, description, source_reference_uuids, itp_required, is_leaf_node.

PROJECT DOCUMENTS:
%s`, content)

		var result wbsResult
		if err := deps.LLM.Extract(ctx, prompt, &result); err != nil {
			return nil, fmt.Errorf("wbs extraction: %w", err)
		}
		if len(result.Nodes) == 0 {
			return nil, fmt.Errorf("wbs extraction returned no nodes")
		}

		nodes := make([]map[string]any, 0, len(result.Nodes))
		for _, n := range result.Nodes {
			nodes = append(nodes, map[string]any{
				"id":                     n.ID,
				"parent_id":              n.ParentID,
				"node_type":              n.NodeType,
				"name":                   n.Name,
				"description":            n.Description,
				"source_reference_uuids": n.SourceDocs,
				"itp_required":           n.ITPRequired,
				"is_leaf_node":           n.IsLeafNode,
			})
		}
		structure := map[string]any{
			"nodes": nodes,
			"metadata": map[string]any{
				"total_nodes":            len(result.Nodes),
				"source_documents_count": len(st.Documents),
			},
		}

		delta := &state.Delta{WBSStructure: structure}
		for _, n := range result.Nodes {
			var edges []asset.EdgeSpec
			if n.ParentID != "" {
				// Sibling nodes land in the same batch, so endpoints are
				// written as idempotency keys for the store to resolve to
				// the freshly created asset ids.
				parentEdge := asset.EdgeSpec{
					FromAssetID: fmt.Sprintf("wbs_node:%s:%s", st.ProjectID, n.ParentID),
					EdgeType:    asset.EdgeParentOf,
					ToAssetID:   fmt.Sprintf("wbs_node:%s:%s", st.ProjectID, n.ID),
					Properties: map[string]any{
						"hierarchy": "wbs",
					},
					IdempotencyKey: fmt.Sprintf("wbs_parent:%s:%s", st.ProjectID, n.ID),
				}
				edges = append(edges, parentEdge)
				delta.EdgeSpecs = append(delta.EdgeSpecs, parentEdge)
			}
			delta.AssetSpecs = append(delta.AssetSpecs, asset.WriteSpec{
				Type:      "wbs_node",
				Subtype:   n.NodeType,
				Name:      n.Name,
				ProjectID: st.ProjectID,
				Content: map[string]any{
					"node_id":                n.ID,
					"parent_id":              n.ParentID,
					"node_type":              n.NodeType,
					"description":            n.Description,
					"source_reference_uuids": n.SourceDocs,
					"itp_required":           n.ITPRequired,
					"is_leaf_node":           n.IsLeafNode,
				},
				Metadata: map[string]any{
					"category": "planning",
					"tags":     []string{"wbs", "work_breakdown", "project_structure"},
				},
				IdempotencyKey: fmt.Sprintf("wbs_node:%s:%s", st.ProjectID, n.ID),
				Edges:          edges,
			})
		}
		logger.Info("WBS extraction finished.", "nodes", len(result.Nodes))
		return delta, nil
	}
}

// nodesOf reads the node list out of a WBS structure. Structures restored
// from a checkpoint come back as []any after the JSON round trip.
func nodesOf(structure map[string]any) []map[string]any {
	if structure == nil {
		return nil
	}
	switch t := structure["nodes"].(type) {
	case []map[string]any:
		return t
	case []any:
		out := make([]map[string]any, 0, len(t))
		for _, e := range t {
			if m, ok := e.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	default:
		return nil
	}
}

// itpTargets lists the ITP-required leaf work packages from a WBS structure.
func itpTargets(structure map[string]any) []wbsNode {
	raw := nodesOf(structure)
	var out []wbsNode
	for _, m := range raw {
		n := wbsNode{
			ID:          stringField(m, "id"),
			ParentID:    stringField(m, "parent_id"),
			NodeType:    stringField(m, "node_type"),
			Name:        stringField(m, "name"),
			Description: stringField(m, "description"),
		}
		required, _ := m["itp_required"].(bool)
		leaf, _ := m["is_leaf_node"].(bool)
		if required && leaf {
			out = append(out, n)
		}
	}
	return out
}

type lbsNode struct {
	ID           string `json:"id"`
	ParentID     string `json:"parent_id"`
	Name         string `json:"name"`
	LocationType string `json:"location_type"`
}

type lbsResult struct {
	Nodes    []lbsNode        `json:"nodes"`
	LotCards []map[string]any `json:"lot_cards"`
}

// extractLBS derives the location breakdown and the lot cards that map work
// packages onto locations.
func extractLBS(deps Deps) graph.Func {
	return func(ctx context.Context, st *state.State) (*state.Delta, error) {
		logger := ctxlog.FromContext(ctx)

		prompt := fmt.Sprintf(`Derive the location breakdown structure for this construction project
and map the WBS work packages onto locations as lot cards.
Return JSON with: nodes (array of {id, parent_id, name, location_type}) and
lot_cards (array of {lot_id, location_id, wbs_node_id, description}).

WBS NODES:
%s

PROJECT DOCUMENTS:
%s`, wbsNodeNames(st.WBSStructure), combinedContent(st.Documents))

		var result lbsResult
		if err := deps.LLM.Extract(ctx, prompt, &result); err != nil {
			return nil, fmt.Errorf("lbs extraction: %w", err)
		}

		mapping := map[string]any{
			"lot_cards": anySlice(result.LotCards),
		}
		delta := &state.Delta{MappingContent: mapping}
		for _, n := range result.Nodes {
			var edges []asset.EdgeSpec
			if n.ParentID != "" {
				parentEdge := asset.EdgeSpec{
					FromAssetID: fmt.Sprintf("lbs_node:%s:%s", st.ProjectID, n.ParentID),
					EdgeType:    asset.EdgeParentOf,
					ToAssetID:   fmt.Sprintf("lbs_node:%s:%s", st.ProjectID, n.ID),
					Properties: map[string]any{
						"hierarchy": "lbs",
					},
					IdempotencyKey: fmt.Sprintf("lbs_parent:%s:%s", st.ProjectID, n.ID),
				}
				edges = append(edges, parentEdge)
				delta.EdgeSpecs = append(delta.EdgeSpecs, parentEdge)
			}
			delta.AssetSpecs = append(delta.AssetSpecs, asset.WriteSpec{
				Type:      "lbs_node",
				Subtype:   n.LocationType,
				Name:      n.Name,
				ProjectID: st.ProjectID,
				Content: map[string]any{
					"node_id":       n.ID,
					"parent_id":     n.ParentID,
					"location_type": n.LocationType,
				},
				Metadata: map[string]any{
					"category": "planning",
					"tags":     []string{"lbs", "location_breakdown"},
				},
				IdempotencyKey: fmt.Sprintf("lbs_node:%s:%s", st.ProjectID, n.ID),
				Edges:          edges,
			})
		}
		logger.Info("LBS extraction finished.", "nodes", len(result.Nodes), "lot_cards", len(result.LotCards))
		return delta, nil
	}
}

func wbsNodeNames(structure map[string]any) string {
	raw := nodesOf(structure)
	parts := make([]string, 0, len(raw))
	for _, m := range raw {
		parts = append(parts, fmt.Sprintf("- %s (%s)", stringField(m, "name"), stringField(m, "id")))
	}
	return strings.Join(parts, "\n")
}

func anySlice(in []map[string]any) []any {
	out := make([]any, len(in))
	for i, m := range in {
		out[i] = m
	}
	return out
}
