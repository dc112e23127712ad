package assetstore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/justme409/aiprojectengineerv3/internal/asset"
	"github.com/justme409/aiprojectengineerv3/internal/ctxlog"
)

// MemStore is an in-memory Store with the same versioning semantics as the
// Postgres implementation. It backs tests and credential-less local runs.
type MemStore struct {
	mu       sync.RWMutex
	projects map[string]string // project id -> organization id
	assets   []*asset.Asset    // every version, append order
	edges    []*asset.Edge
}

// NewMemStore returns an empty store with no known projects.
func NewMemStore() *MemStore {
	return &MemStore{projects: make(map[string]string)}
}

// AddProject registers a project and its owning organization. Specs against
// unregistered projects fail individually, as they would against Postgres.
func (s *MemStore) AddProject(projectID, organizationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[projectID] = organizationID
}

// pendingEdge is an edge whose endpoint references did not resolve when its
// owning spec was written, typically because the referenced sibling lands
// later in the same batch.
type pendingEdge struct {
	resultIdx int
	ownerID   string
	spec      asset.EdgeSpec
}

// UpsertAssets implements Store.
func (s *MemStore) UpsertAssets(ctx context.Context, specs []asset.WriteSpec) (*asset.BatchResult, error) {
	logger := ctxlog.FromContext(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := &asset.BatchResult{Success: true}
	keyToID := make(map[string]string, len(specs))
	var deferred []pendingEdge

	for _, spec := range specs {
		res := asset.Result{IdempotencyKey: spec.IdempotencyKey}
		a, err := s.upsertOne(spec)
		if err != nil {
			logger.Error("Asset upsert failed.", "idempotency_key", spec.IdempotencyKey, "error", err)
			res.Status = asset.ResultError
			res.Error = err.Error()
			batch.Results = append(batch.Results, res)
			continue
		}
		keyToID[spec.IdempotencyKey] = a.ID
		res.AssetID = a.ID
		res.Status = asset.ResultCreated
		batch.Results = append(batch.Results, res)
		idx := len(batch.Results) - 1

		for _, e := range spec.Edges {
			created, resolved := s.createEdge(logger, keyToID, a.ID, e)
			switch {
			case created:
				batch.Results[idx].EdgesCreated++
			case !resolved:
				deferred = append(deferred, pendingEdge{resultIdx: idx, ownerID: a.ID, spec: e})
			}
		}
	}

	// Second pass once the whole batch is written, so edges can point at
	// siblings that were created after their owning spec.
	for _, p := range deferred {
		created, resolved := s.createEdge(logger, keyToID, p.ownerID, p.spec)
		if created {
			batch.Results[p.resultIdx].EdgesCreated++
		} else if !resolved {
			logger.Warn("Edge endpoint unresolved, skipping.",
				"from", p.spec.FromAssetID, "to", p.spec.ToAssetID)
		}
	}
	return batch, nil
}

func (s *MemStore) upsertOne(spec asset.WriteSpec) (*asset.Asset, error) {
	orgID, ok := s.projects[spec.ProjectID]
	if !ok {
		return nil, fmt.Errorf("project %s not found", spec.ProjectID)
	}

	now := time.Now().UTC()
	existing := s.currentByKey(spec.ProjectID, spec.Type, spec.IdempotencyKey)
	if existing == nil {
		a := &asset.Asset{
			ID:             uuid.NewString(),
			UID:            uuid.NewString(),
			Version:        1,
			IsCurrent:      true,
			Type:           spec.Type,
			Subtype:        spec.Subtype,
			Name:           spec.Name,
			OrganizationID: orgID,
			ProjectID:      spec.ProjectID,
			DocumentNumber: spec.DocumentNumber,
			RevisionCode:   initialRevision(spec),
			Metadata:       pickMap(spec.Metadata, nil),
			Content:        pickMap(spec.Content, nil),
			IdempotencyKey: spec.IdempotencyKey,
			Status:         asset.StatusDraft,
			ApprovalState:  asset.ApprovalNotRequired,
			Classification: asset.ClassificationInternal,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		s.assets = append(s.assets, a)
		return a, nil
	}

	// Retire the old row's key so the new row can claim it, then insert
	// the superseding version with carry-forward for unset fields.
	existing.IsCurrent = false
	existing.IdempotencyKey = fmt.Sprintf("%s:v%d", existing.IdempotencyKey, existing.Version)
	existing.UpdatedAt = now

	a := &asset.Asset{
		ID:                uuid.NewString(),
		UID:               existing.UID,
		Version:           existing.Version + 1,
		IsCurrent:         true,
		SupersedesAssetID: existing.ID,
		Type:              spec.Type,
		Subtype:           pick(spec.Subtype, existing.Subtype),
		Name:              pick(spec.Name, existing.Name),
		OrganizationID:    existing.OrganizationID,
		ProjectID:         existing.ProjectID,
		DocumentNumber:    pick(spec.DocumentNumber, existing.DocumentNumber),
		RevisionCode:      existing.RevisionCode,
		Metadata:          pickMap(spec.Metadata, existing.Metadata),
		Content:           pickMap(spec.Content, existing.Content),
		IdempotencyKey:    spec.IdempotencyKey,
		Status:            existing.Status,
		ApprovalState:     existing.ApprovalState,
		Classification:    existing.Classification,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	s.assets = append(s.assets, a)
	return a, nil
}

// createEdge writes one spec-attached edge. The second return value is
// false when an endpoint reference cannot be resolved yet; the caller
// retries those after the whole batch is written. Malformed edges are logged
// and dropped without failing the asset write.
func (s *MemStore) createEdge(logger *slog.Logger, keyToID map[string]string, ownerID string, e asset.EdgeSpec) (created, resolved bool) {
	if e.EdgeType == "" || e.ToAssetID == "" {
		logger.Warn("Edge spec missing required fields, skipping.", "edge_type", e.EdgeType)
		return false, true
	}
	from := e.FromAssetID
	if from == "" {
		from = ownerID
	}
	fromID, okFrom := s.resolveEndpoint(keyToID, from)
	toID, okTo := s.resolveEndpoint(keyToID, e.ToAssetID)
	if !okFrom || !okTo {
		return false, false
	}
	if e.IdempotencyKey != "" && s.edgeByKey(e.EdgeType, e.IdempotencyKey) != nil {
		return false, true
	}
	s.edges = append(s.edges, &asset.Edge{
		ID:             uuid.NewString(),
		FromAssetID:    fromID,
		ToAssetID:      toID,
		EdgeType:       e.EdgeType,
		Properties:     e.Properties,
		IdempotencyKey: e.IdempotencyKey,
	})
	return true, true
}

// resolveEndpoint maps an edge endpoint reference to a current asset id.
// Keys written earlier in the batch win over store lookups so an edge always
// attaches to the version its batch created.
func (s *MemStore) resolveEndpoint(keyToID map[string]string, ref string) (string, bool) {
	if id, ok := keyToID[ref]; ok {
		return id, true
	}
	for _, a := range s.assets {
		if a.IsCurrent && (a.ID == ref || a.IdempotencyKey == ref) {
			return a.ID, true
		}
	}
	return "", false
}

// GetByIdempotencyKey implements Store.
func (s *MemStore) GetByIdempotencyKey(_ context.Context, projectID, assetType, key string) (*asset.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if a := s.currentByKey(projectID, assetType, key); a != nil {
		cp := *a
		return &cp, nil
	}
	return nil, nil
}

// ListByProject implements Store.
func (s *MemStore) ListByProject(_ context.Context, projectID, assetType string) ([]asset.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []asset.Asset
	for _, a := range s.assets {
		if !a.IsCurrent || a.ProjectID != projectID {
			continue
		}
		if assetType != "" && a.Type != assetType {
			continue
		}
		out = append(out, *a)
	}
	return out, nil
}

// Versions returns every version row for a key's logical asset, oldest
// first. Test helper; the public contract exposes current rows only.
func (s *MemStore) Versions(projectID, assetType, key string) []asset.Asset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cur := s.currentByKey(projectID, assetType, key)
	if cur == nil {
		return nil
	}
	var out []asset.Asset
	for _, a := range s.assets {
		if a.UID == cur.UID {
			out = append(out, *a)
		}
	}
	return out
}

// Edges returns all persisted edges. Test helper.
func (s *MemStore) Edges() []asset.Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]asset.Edge, len(s.edges))
	for i, e := range s.edges {
		out[i] = *e
	}
	return out
}

func (s *MemStore) currentByKey(projectID, assetType, key string) *asset.Asset {
	for _, a := range s.assets {
		if a.IsCurrent && a.ProjectID == projectID && a.Type == assetType && a.IdempotencyKey == key {
			return a
		}
	}
	return nil
}

func (s *MemStore) edgeByKey(edgeType, key string) *asset.Edge {
	for _, e := range s.edges {
		if e.EdgeType == edgeType && e.IdempotencyKey == key {
			return e
		}
	}
	return nil
}
