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

// excerpt bounds how much document text goes into a per-document prompt.
func excerpt(content string, limit int) string {
	if len(content) <= limit {
		return content
	}
	return content[:limit]
}

// combinedContent renders all extracted documents into one prompt section.
func combinedContent(docs []state.Document) string {
	parts := make([]string, 0, len(docs))
	for _, d := range docs {
		parts = append(parts, fmt.Sprintf("Document: %s (ID: %s)\n%s", d.FileName, d.ID, d.Content))
	}
	return strings.Join(parts, "\n\n")
}

type documentMetadataResult struct {
	DocumentNumber string   `json:"document_number"`
	RevisionCode   string   `json:"revision_code"`
	Title          string   `json:"title"`
	Discipline     string   `json:"discipline"`
	DocumentType   string   `json:"document_type"`
	Tags           []string `json:"tags"`
}

// extractDocumentMetadata asks the model for register metadata per document.
// Per-document model failures accumulate as stage errors; the stage itself
// succeeds as long as the run can keep going.
func extractDocumentMetadata(deps Deps) graph.Func {
	return func(ctx context.Context, st *state.State) (*state.Delta, error) {
		logger := ctxlog.FromContext(ctx)

		type extracted struct {
			idx  int
			doc  state.Document
			meta documentMetadataResult
		}
		var mu sync.Mutex
		var results []extracted
		var stageErrs []state.StageError

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(deps.concurrency())
		for i, doc := range st.Documents {
			i, doc := i, doc
			g.Go(func() error {
				prompt := fmt.Sprintf(`Extract register metadata for this construction project document.
Return JSON with fields: document_number, revision_code, title, discipline, document_type, tags.

Document file name: %s
Document content:
%s`, doc.FileName, excerpt(doc.Content, 12000))

				var meta documentMetadataResult
				if err := deps.LLM.Extract(gctx, prompt, &meta); err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					logger.Warn("Document metadata extraction failed.", "document_id", doc.ID, "error", err)
					mu.Lock()
					stageErrs = append(stageErrs, state.StageError{
						Stage:   StageDocumentMetadata,
						Kind:    state.KindCollaborator,
						Message: fmt.Sprintf("metadata extraction failed for %s: %v", doc.ID, err),
					})
					mu.Unlock()
					return nil
				}
				mu.Lock()
				results = append(results, extracted{idx: i, doc: doc, meta: meta})
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, fmt.Errorf("document metadata aborted: %w", err)
		}
		sort.Slice(results, func(a, b int) bool { return results[a].idx < results[b].idx })

		delta := &state.Delta{StageErrors: stageErrs}
		for _, r := range results {
			record := map[string]any{
				"document_id":     r.doc.ID,
				"document_number": r.meta.DocumentNumber,
				"revision_code":   r.meta.RevisionCode,
				"title":           r.meta.Title,
				"discipline":      r.meta.Discipline,
				"document_type":   r.meta.DocumentType,
			}
			delta.DocumentMetadata = append(delta.DocumentMetadata, record)
			delta.AssetSpecs = append(delta.AssetSpecs, asset.WriteSpec{
				Type:           "document_metadata",
				Name:           pickName(r.meta.Title, r.doc.FileName),
				ProjectID:      st.ProjectID,
				DocumentNumber: r.meta.DocumentNumber,
				RevisionCode:   r.meta.RevisionCode,
				Content:        record,
				Metadata: map[string]any{
					"category":   "register",
					"discipline": r.meta.Discipline,
					"tags":       r.meta.Tags,
				},
				IdempotencyKey: fmt.Sprintf("doc_meta:%s:%s", st.ProjectID, r.doc.ID),
				Edges: []asset.EdgeSpec{{
					ToAssetID: fmt.Sprintf("doc_extract:%s:%s", st.ProjectID, r.doc.ID),
					EdgeType:  asset.EdgeReferences,
					Properties: map[string]any{
						"reference_type": "metadata_of",
					},
					IdempotencyKey: fmt.Sprintf("doc_meta_ref:%s:%s", st.ProjectID, r.doc.ID),
				}},
			})
		}
		return delta, nil
	}
}

func pickName(preferred, fallback string) string {
	if preferred != "" {
		return preferred
	}
	return fallback
}

// extractProjectDetails makes a single model call over the whole document
// bundle. This stage owns the ProjectDetails scalar; a model failure here
// fails the run.
func extractProjectDetails(deps Deps) graph.Func {
	return func(ctx context.Context, st *state.State) (*state.Delta, error) {
		prompt := fmt.Sprintf(`Extract project details for this construction project.
Return JSON with fields: project_name, project_number, client, contractor,
location, contract_type, scope_summary, key_dates.

PROJECT DOCUMENTS:
%s`, combinedContent(st.Documents))

		details := map[string]any{}
		if err := deps.LLM.Extract(ctx, prompt, &details); err != nil {
			return nil, fmt.Errorf("project details extraction: %w", err)
		}

		return &state.Delta{
			ProjectDetails: details,
			AssetSpecs: []asset.WriteSpec{{
				Type:      "project_details",
				Name:      pickName(stringField(details, "project_name"), "Project Details"),
				ProjectID: st.ProjectID,
				Content:   details,
				Metadata: map[string]any{
					"category": "project",
					"tags":     []string{"project", "details"},
				},
				IdempotencyKey: fmt.Sprintf("project_details:%s", st.ProjectID),
			}},
		}, nil
	}
}

func stringField(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}
