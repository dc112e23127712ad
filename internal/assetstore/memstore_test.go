package assetstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justme409/aiprojectengineerv3/internal/asset"
)

func seededStore() *MemStore {
	s := NewMemStore()
	s.AddProject("p1", "org1")
	return s
}

func TestUpsertCreatesVersionOne(t *testing.T) {
	s := seededStore()
	ctx := context.Background()

	batch, err := s.UpsertAssets(ctx, []asset.WriteSpec{{
		Type:           "document",
		Name:           "spec.pdf",
		ProjectID:      "p1",
		Content:        map[string]any{"text": "hello"},
		IdempotencyKey: "doc_extract:p1:d1",
	}})
	require.NoError(t, err)
	require.True(t, batch.Success)
	require.Len(t, batch.Results, 1)
	assert.Equal(t, asset.ResultCreated, batch.Results[0].Status)

	a, err := s.GetByIdempotencyKey(ctx, "p1", "document", "doc_extract:p1:d1")
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, 1, a.Version)
	assert.True(t, a.IsCurrent)
	assert.Equal(t, "org1", a.OrganizationID)
	assert.Equal(t, asset.StatusDraft, a.Status)
	assert.Equal(t, asset.ApprovalNotRequired, a.ApprovalState)
	assert.Equal(t, asset.ClassificationInternal, a.Classification)
}

func TestUpsertSameKeySupersedes(t *testing.T) {
	s := seededStore()
	ctx := context.Background()

	first, err := s.UpsertAssets(ctx, []asset.WriteSpec{{
		Type:           "document",
		Name:           "spec.pdf",
		ProjectID:      "p1",
		Content:        map[string]any{"text": "v1"},
		Metadata:       map[string]any{"category": "source_document"},
		IdempotencyKey: "doc_extract:p1:d1",
	}})
	require.NoError(t, err)
	firstID := first.Results[0].AssetID

	second, err := s.UpsertAssets(ctx, []asset.WriteSpec{{
		Type:           "document",
		ProjectID:      "p1",
		Content:        map[string]any{"text": "v2"},
		IdempotencyKey: "doc_extract:p1:d1",
	}})
	require.NoError(t, err)
	require.Equal(t, asset.ResultCreated, second.Results[0].Status)

	versions := s.Versions("p1", "document", "doc_extract:p1:d1")
	require.Len(t, versions, 2)

	old, cur := versions[0], versions[1]
	assert.False(t, old.IsCurrent)
	assert.Equal(t, "doc_extract:p1:d1:v1", old.IdempotencyKey)

	assert.True(t, cur.IsCurrent)
	assert.Equal(t, 2, cur.Version)
	assert.Equal(t, firstID, cur.SupersedesAssetID)
	assert.Equal(t, old.UID, cur.UID)
	assert.Equal(t, "doc_extract:p1:d1", cur.IdempotencyKey)
	// Unset fields carry forward; set fields win.
	assert.Equal(t, "spec.pdf", cur.Name)
	assert.Equal(t, "v2", cur.Content["text"])
	assert.Equal(t, "source_document", cur.Metadata["category"])
}

func TestUpsertPlanDefaultsRevisionAndCarriesIt(t *testing.T) {
	s := seededStore()
	ctx := context.Background()

	_, err := s.UpsertAssets(ctx, []asset.WriteSpec{{
		Type:           "plan",
		Subtype:        "pqp",
		Name:           "PQP Plan",
		ProjectID:      "p1",
		IdempotencyKey: "plan:p1:pqp",
	}})
	require.NoError(t, err)

	a, err := s.GetByIdempotencyKey(ctx, "p1", "plan", "plan:p1:pqp")
	require.NoError(t, err)
	assert.Equal(t, "A", a.RevisionCode)

	// A rewrite with a different revision code still keeps the stored one.
	_, err = s.UpsertAssets(ctx, []asset.WriteSpec{{
		Type:           "plan",
		ProjectID:      "p1",
		RevisionCode:   "C",
		IdempotencyKey: "plan:p1:pqp",
	}})
	require.NoError(t, err)

	a, err = s.GetByIdempotencyKey(ctx, "p1", "plan", "plan:p1:pqp")
	require.NoError(t, err)
	assert.Equal(t, 2, a.Version)
	assert.Equal(t, "A", a.RevisionCode)
}

func TestUpsertUnknownProjectFailsSpecNotBatch(t *testing.T) {
	s := seededStore()
	ctx := context.Background()

	batch, err := s.UpsertAssets(ctx, []asset.WriteSpec{
		{Type: "document", ProjectID: "ghost", Name: "a", IdempotencyKey: "k1"},
		{Type: "document", ProjectID: "p1", Name: "b", IdempotencyKey: "k2"},
	})
	require.NoError(t, err)
	assert.True(t, batch.Success)
	require.Len(t, batch.Results, 2)
	assert.Equal(t, asset.ResultError, batch.Results[0].Status)
	assert.Contains(t, batch.Results[0].Error, "not found")
	assert.Equal(t, asset.ResultCreated, batch.Results[1].Status)
	assert.Equal(t, 1, batch.Created())
}

func TestEdgePlaceholderResolvesToNewAsset(t *testing.T) {
	s := seededStore()
	ctx := context.Background()

	// Target must exist and be current.
	target, err := s.UpsertAssets(ctx, []asset.WriteSpec{{
		Type: "document", ProjectID: "p1", Name: "doc", IdempotencyKey: "doc:1",
	}})
	require.NoError(t, err)
	targetID := target.Results[0].AssetID

	batch, err := s.UpsertAssets(ctx, []asset.WriteSpec{{
		Type:           "standard",
		ProjectID:      "p1",
		Name:           "AS 1289",
		IdempotencyKey: "standard:p1:AS 1289",
		Edges: []asset.EdgeSpec{{
			ToAssetID:      targetID,
			EdgeType:       asset.EdgeReferences,
			IdempotencyKey: "std_doc_ref:p1:AS 1289:d1",
		}},
	}})
	require.NoError(t, err)
	require.Equal(t, 1, batch.Results[0].EdgesCreated)

	edges := s.Edges()
	require.Len(t, edges, 1)
	assert.Equal(t, batch.Results[0].AssetID, edges[0].FromAssetID)
	assert.Equal(t, targetID, edges[0].ToAssetID)
}

func TestEdgeSkippedWhenEndpointMissing(t *testing.T) {
	s := seededStore()
	ctx := context.Background()

	batch, err := s.UpsertAssets(ctx, []asset.WriteSpec{{
		Type:           "wbs_node",
		ProjectID:      "p1",
		Name:           "Bulk Earthworks",
		IdempotencyKey: "wbs_node:p1:wp-0",
		Edges: []asset.EdgeSpec{{
			FromAssetID: "project-0", // business key, not a persisted asset
			ToAssetID:   "also-missing",
			EdgeType:    asset.EdgeParentOf,
		}},
	}})
	require.NoError(t, err)
	assert.Equal(t, asset.ResultCreated, batch.Results[0].Status)
	assert.Equal(t, 0, batch.Results[0].EdgesCreated)
	assert.Empty(t, s.Edges())
}

func TestEdgeResolvesSiblingByKeyWithinBatch(t *testing.T) {
	s := seededStore()
	ctx := context.Background()

	batch, err := s.UpsertAssets(ctx, []asset.WriteSpec{
		{
			Type: "document", ProjectID: "p1", Name: "doc",
			IdempotencyKey: "doc_extract:p1:d1",
		},
		{
			Type: "document_metadata", ProjectID: "p1", Name: "doc meta",
			IdempotencyKey: "doc_meta:p1:d1",
			Edges: []asset.EdgeSpec{{
				ToAssetID:      "doc_extract:p1:d1",
				EdgeType:       asset.EdgeReferences,
				IdempotencyKey: "doc_meta_ref:p1:d1",
			}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, batch.Results[1].EdgesCreated)

	edges := s.Edges()
	require.Len(t, edges, 1)
	assert.Equal(t, batch.Results[1].AssetID, edges[0].FromAssetID)
	assert.Equal(t, batch.Results[0].AssetID, edges[0].ToAssetID)
}

func TestEdgeDeferredUntilLaterSpecInBatch(t *testing.T) {
	s := seededStore()
	ctx := context.Background()

	// The child carries the parent edge but the parent is written after it,
	// so resolution only succeeds on the post-batch pass.
	batch, err := s.UpsertAssets(ctx, []asset.WriteSpec{
		{
			Type: "wbs_node", ProjectID: "p1", Name: "Earthworks",
			IdempotencyKey: "wbs_node:p1:wp-0",
			Edges: []asset.EdgeSpec{{
				FromAssetID:    "wbs_node:p1:root",
				EdgeType:       asset.EdgeParentOf,
				ToAssetID:      "wbs_node:p1:wp-0",
				IdempotencyKey: "wbs_parent:p1:wp-0",
			}},
		},
		{
			Type: "wbs_node", ProjectID: "p1", Name: "Project Root",
			IdempotencyKey: "wbs_node:p1:root",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, batch.Results[0].EdgesCreated)

	edges := s.Edges()
	require.Len(t, edges, 1)
	assert.Equal(t, batch.Results[1].AssetID, edges[0].FromAssetID)
	assert.Equal(t, batch.Results[0].AssetID, edges[0].ToAssetID)
}

func TestEdgeResolvesCurrentAssetByKeyAcrossBatches(t *testing.T) {
	s := seededStore()
	ctx := context.Background()

	first, err := s.UpsertAssets(ctx, []asset.WriteSpec{{
		Type: "document", ProjectID: "p1", Name: "doc",
		IdempotencyKey: "doc_extract:p1:d1",
	}})
	require.NoError(t, err)

	second, err := s.UpsertAssets(ctx, []asset.WriteSpec{{
		Type: "standard", ProjectID: "p1", Name: "AS 1289",
		IdempotencyKey: "standard:p1:AS 1289",
		Edges: []asset.EdgeSpec{{
			ToAssetID:      "doc_extract:p1:d1",
			EdgeType:       asset.EdgeReferences,
			IdempotencyKey: "std_doc_ref:p1:AS 1289:d1",
		}},
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, second.Results[0].EdgesCreated)

	edges := s.Edges()
	require.Len(t, edges, 1)
	assert.Equal(t, first.Results[0].AssetID, edges[0].ToAssetID)
}

func TestEdgeIdempotencyKeyIsNoOp(t *testing.T) {
	s := seededStore()
	ctx := context.Background()

	target, err := s.UpsertAssets(ctx, []asset.WriteSpec{{
		Type: "document", ProjectID: "p1", Name: "doc", IdempotencyKey: "doc:1",
	}})
	require.NoError(t, err)
	targetID := target.Results[0].AssetID

	edge := asset.EdgeSpec{
		ToAssetID:      targetID,
		EdgeType:       asset.EdgeReferences,
		IdempotencyKey: "ref:1",
	}
	_, err = s.UpsertAssets(ctx, []asset.WriteSpec{{
		Type: "standard", ProjectID: "p1", Name: "s1", IdempotencyKey: "std:1",
		Edges: []asset.EdgeSpec{edge},
	}})
	require.NoError(t, err)

	second, err := s.UpsertAssets(ctx, []asset.WriteSpec{{
		Type: "standard", ProjectID: "p1", Name: "s2", IdempotencyKey: "std:2",
		Edges: []asset.EdgeSpec{edge},
	}})
	require.NoError(t, err)
	assert.Equal(t, 0, second.Results[0].EdgesCreated)
	assert.Len(t, s.Edges(), 1)
}

func TestListByProjectReturnsCurrentOnly(t *testing.T) {
	s := seededStore()
	ctx := context.Background()

	_, err := s.UpsertAssets(ctx, []asset.WriteSpec{
		{Type: "document", ProjectID: "p1", Name: "a", IdempotencyKey: "k1"},
		{Type: "plan", ProjectID: "p1", Name: "b", IdempotencyKey: "k2"},
	})
	require.NoError(t, err)
	// Supersede k1 so an old version exists.
	_, err = s.UpsertAssets(ctx, []asset.WriteSpec{
		{Type: "document", ProjectID: "p1", Name: "a2", IdempotencyKey: "k1"},
	})
	require.NoError(t, err)

	all, err := s.ListByProject(ctx, "p1", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	docs, err := s.ListByProject(ctx, "p1", "document")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "a2", docs[0].Name)
	assert.Equal(t, 2, docs[0].Version)
}

func TestGetByIdempotencyKeyMissingReturnsNil(t *testing.T) {
	s := seededStore()
	a, err := s.GetByIdempotencyKey(context.Background(), "p1", "document", "nope")
	require.NoError(t, err)
	assert.Nil(t, a)
}
