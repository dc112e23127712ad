package pipeline

import (
	"context"
	"fmt"
	"path"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/justme409/aiprojectengineerv3/internal/asset"
	"github.com/justme409/aiprojectengineerv3/internal/ctxlog"
	"github.com/justme409/aiprojectengineerv3/internal/graph"
	"github.com/justme409/aiprojectengineerv3/internal/state"
)

// BlobKey maps a document id to its storage ref. Mock wiring uses it to
// seed the in-memory fetcher with the same keys the stages read.
func BlobKey(projectID, documentID string) string {
	return path.Join("projects", projectID, "documents", documentID)
}

// extractDocuments fans out over the run's document ids, fetching each blob
// and recording its text content. A document that cannot be fetched lands in
// FailedDocuments without failing the stage; whether the run can proceed is
// decided by verify_documents.
func extractDocuments(deps Deps) graph.Func {
	return func(ctx context.Context, st *state.State) (*state.Delta, error) {
		logger := ctxlog.FromContext(ctx)

		type fetched struct {
			idx int
			doc state.Document
		}
		type failed struct {
			idx int
			f   state.FailedDocument
		}

		var mu sync.Mutex
		var docs []fetched
		var failures []failed

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(deps.concurrency())
		for i, id := range st.DocumentIDs {
			i, id := i, id
			g.Go(func() error {
				ref := BlobKey(st.ProjectID, id)
				body, meta, err := deps.Fetcher.Fetch(gctx, ref)
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					logger.Warn("Document fetch failed.", "document_id", id, "error", err)
					mu.Lock()
					failures = append(failures, failed{idx: i, f: state.FailedDocument{
						ID:    id,
						Error: err.Error(),
					}})
					mu.Unlock()
					return nil
				}
				mu.Lock()
				docs = append(docs, fetched{idx: i, doc: state.Document{
					ID:          id,
					FileName:    path.Base(ref),
					Content:     string(body),
					ProjectID:   st.ProjectID,
					StoragePath: ref,
					Metadata: map[string]any{
						"content_type": meta.ContentType,
						"size_bytes":   meta.Size,
					},
				}})
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, fmt.Errorf("document extraction aborted: %w", err)
		}

		// Fan-out completion order is nondeterministic; restore input order
		// so accumulators stay stable across reruns.
		sort.Slice(docs, func(a, b int) bool { return docs[a].idx < docs[b].idx })
		sort.Slice(failures, func(a, b int) bool { return failures[a].idx < failures[b].idx })

		delta := &state.Delta{}
		for _, d := range docs {
			delta.Documents = append(delta.Documents, d.doc)
			delta.AssetSpecs = append(delta.AssetSpecs, asset.WriteSpec{
				Type:      "document",
				Name:      d.doc.FileName,
				ProjectID: st.ProjectID,
				Content: map[string]any{
					"text":         d.doc.Content,
					"storage_path": d.doc.StoragePath,
				},
				Metadata: map[string]any{
					"category":     "source_document",
					"content_type": d.doc.Metadata["content_type"],
					"size_bytes":   d.doc.Metadata["size_bytes"],
				},
				IdempotencyKey: fmt.Sprintf("doc_extract:%s:%s", st.ProjectID, d.doc.ID),
			})
		}
		for _, f := range failures {
			delta.FailedDocuments = append(delta.FailedDocuments, f.f)
		}
		logger.Info("Document extraction finished.",
			"fetched", len(docs), "failed", len(failures))
		return delta, nil
	}
}

// verifyDocuments is the fail-fast gate between extraction and the model
// stages. No usable documents means the rest of the pipeline has nothing to
// work with.
func verifyDocuments() graph.Func {
	return func(ctx context.Context, st *state.State) (*state.Delta, error) {
		if len(st.Documents) > 0 {
			return nil, nil
		}
		return &state.Delta{
			StageErrors: []state.StageError{{
				Stage:   StageVerifyDocuments,
				Kind:    state.KindValidation,
				Message: fmt.Sprintf("no documents with extracted content available (%d failed)", len(st.FailedDocuments)),
			}},
			Failed: state.Bool(true),
		}, nil
	}
}

// inspectionPause mints short-lived review URLs for the extracted documents
// and logs them. The engine halts the run after this stage until resumed.
func inspectionPause(deps Deps) graph.Func {
	return func(ctx context.Context, st *state.State) (*state.Delta, error) {
		logger := ctxlog.FromContext(ctx)
		for _, doc := range st.Documents {
			url, err := deps.Fetcher.PresignURL(ctx, doc.StoragePath, 15*time.Minute)
			if err != nil {
				logger.Warn("Could not mint review URL.", "document_id", doc.ID, "error", err)
				continue
			}
			logger.Info("Document ready for inspection.", "document_id", doc.ID, "url", url)
		}
		return nil, nil
	}
}
