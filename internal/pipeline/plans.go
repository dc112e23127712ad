package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/justme409/aiprojectengineerv3/internal/asset"
	"github.com/justme409/aiprojectengineerv3/internal/ctxlog"
	"github.com/justme409/aiprojectengineerv3/internal/graph"
	"github.com/justme409/aiprojectengineerv3/internal/state"
)

var planCategories = map[string]struct {
	category string
	tags     []string
}{
	"pqp":   {"management_plan", []string{"plan", "pqp", "quality"}},
	"emp":   {"management_plan", []string{"plan", "emp", "environment"}},
	"ohsmp": {"management_plan", []string{"plan", "ohsmp", "safety"}},
	"tmp":   {"management_plan", []string{"plan", "tmp", "traffic"}},
}

// generatePlans produces one management plan per configured plan type. Each
// type is an independent model call; the fan-out is bounded like the
// per-document stages.
func generatePlans(deps Deps) graph.Func {
	return func(ctx context.Context, st *state.State) (*state.Delta, error) {
		logger := ctxlog.FromContext(ctx)
		content := combinedContent(st.Documents)

		type generated struct {
			idx      int
			planType string
			plan     map[string]any
		}
		var mu sync.Mutex
		var plans []generated

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(deps.concurrency())
		for i, planType := range planTypes {
			i, planType := i, planType
			g.Go(func() error {
				prompt := fmt.Sprintf(`Draft the %s management plan for this construction project.
Return JSON with fields: title, sections (array of {heading, body}),
responsibilities, and references.

PROJECT DOCUMENTS:
%s`, strings.ToUpper(planType), content)

				plan := map[string]any{}
				if err := deps.LLM.Extract(gctx, prompt, &plan); err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					return fmt.Errorf("generate %s plan: %w", planType, err)
				}
				mu.Lock()
				plans = append(plans, generated{idx: i, planType: planType, plan: plan})
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		sort.Slice(plans, func(a, b int) bool { return plans[a].idx < plans[b].idx })

		delta := &state.Delta{}
		for _, p := range plans {
			defaults := planCategories[p.planType]
			record := map[string]any{
				"plan_type": p.planType,
				"title":     fmt.Sprintf("%s Plan", strings.ToUpper(p.planType)),
				"plan":      p.plan,
			}
			delta.GeneratedPlans = append(delta.GeneratedPlans, record)
			delta.AssetSpecs = append(delta.AssetSpecs, asset.WriteSpec{
				Type:        "plan",
				Subtype:     p.planType,
				Name:        fmt.Sprintf("%s Plan", strings.ToUpper(p.planType)),
				Description: fmt.Sprintf("%s Plan generated from project documents", strings.ToUpper(p.planType)),
				ProjectID:   st.ProjectID,
				Content:     p.plan,
				Metadata: map[string]any{
					"plan_type": p.planType,
					"category":  defaults.category,
					"tags":      defaults.tags,
				},
				IdempotencyKey: fmt.Sprintf("plan:%s:%s", st.ProjectID, p.planType),
			})
		}
		logger.Info("Plan generation finished.", "plans", len(plans))
		return delta, nil
	}
}

type itpResult struct {
	Title    string           `json:"title"`
	ITPItems []map[string]any `json:"itp_items"`
}

// generateITPs drafts one inspection and test plan per ITP-required leaf
// work package from the WBS.
func generateITPs(deps Deps) graph.Func {
	return func(ctx context.Context, st *state.State) (*state.Delta, error) {
		logger := ctxlog.FromContext(ctx)

		targets := itpTargets(st.WBSStructure)
		if len(targets) == 0 {
			logger.Info("No work packages require an inspection and test plan.")
			return nil, nil
		}

		type generated struct {
			idx    int
			node   wbsNode
			result itpResult
		}
		var mu sync.Mutex
		var itps []generated

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(deps.concurrency())
		for i, node := range targets {
			i, node := i, node
			g.Go(func() error {
				prompt := fmt.Sprintf(`Draft the inspection and test plan for the work package %q.
Work package description: %s
Return JSON with fields: title, itp_items (array of {activity,
acceptance_criteria, inspection_type, hold_point, records}).

PROJECT DOCUMENTS:
%s`, node.Name, node.Description, combinedContent(st.Documents))

				var result itpResult
				if err := deps.LLM.Extract(gctx, prompt, &result); err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					return fmt.Errorf("generate itp for %s: %w", node.ID, err)
				}
				mu.Lock()
				itps = append(itps, generated{idx: i, node: node, result: result})
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		sort.Slice(itps, func(a, b int) bool { return itps[a].idx < itps[b].idx })

		delta := &state.Delta{}
		for _, itp := range itps {
			nodeEdge := asset.EdgeSpec{
				ToAssetID: fmt.Sprintf("wbs_node:%s:%s", st.ProjectID, itp.node.ID),
				EdgeType:  asset.EdgeReferences,
				Properties: map[string]any{
					"reference_type": "itp_target",
				},
				IdempotencyKey: fmt.Sprintf("itp_wbs_ref:%s:%s", st.ProjectID, itp.node.ID),
			}
			record := map[string]any{
				"wbs_node_id":    itp.node.ID,
				"wbs_node_title": itp.node.Name,
				"title":          pickName(itp.result.Title, fmt.Sprintf("ITP: %s", itp.node.Name)),
				"itp_items":      itp.result.ITPItems,
			}
			delta.GeneratedITPs = append(delta.GeneratedITPs, record)
			delta.AssetSpecs = append(delta.AssetSpecs, asset.WriteSpec{
				Type:      "plan",
				Subtype:   "itp",
				Name:      pickName(itp.result.Title, fmt.Sprintf("ITP: %s", itp.node.Name)),
				ProjectID: st.ProjectID,
				Content:   record,
				Metadata: map[string]any{
					"plan_type": "itp",
					"category":  "quality",
					"tags":      []string{"itp", "inspection", "testing", "quality"},
				},
				IdempotencyKey: fmt.Sprintf("itp:%s:%s", st.ProjectID, itp.node.ID),
				Edges:          []asset.EdgeSpec{nodeEdge},
			})
			delta.EdgeSpecs = append(delta.EdgeSpecs, nodeEdge)
		}
		logger.Info("ITP generation finished.", "itps", len(itps))
		return delta, nil
	}
}
