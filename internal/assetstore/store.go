// Package assetstore persists versioned assets and their edges. Writes go
// through the idempotent upsert contract: the same (project, type,
// idempotency key) written twice supersedes the previous version instead of
// duplicating it, and fields left unset on the incoming spec carry forward
// from the prior version.
package assetstore

import (
	"context"

	"github.com/justme409/aiprojectengineerv3/internal/asset"
)

// Store is the persistence contract for assets and edges. It is the only
// durable shared resource of the pipeline; stages never write outside it.
type Store interface {
	// UpsertAssets writes each spec independently: a failed spec is
	// reported in its Result and does not roll back specs that already
	// succeeded, but all writes for a single spec (asset plus its edges)
	// are atomic. The batch commits once at the end; if the surrounding
	// transaction itself fails, everything rolls back and the returned
	// error plus BatchResult.Success=false report the batch-level failure
	// alongside whatever per-spec results were computed. Edge endpoints
	// may reference assets by idempotency key; references resolve against
	// the batch's own writes first, then against current assets.
	UpsertAssets(ctx context.Context, specs []asset.WriteSpec) (*asset.BatchResult, error)

	// GetByIdempotencyKey returns the current version for the key, or nil
	// when no current row exists.
	GetByIdempotencyKey(ctx context.Context, projectID, assetType, key string) (*asset.Asset, error)

	// ListByProject returns current versions for a project, optionally
	// filtered by type (empty means all types).
	ListByProject(ctx context.Context, projectID, assetType string) ([]asset.Asset, error)
}

// initialRevision returns the default revision code for a first write.
// Plans start at revision "A" when the caller supplies none.
func initialRevision(spec asset.WriteSpec) string {
	if spec.RevisionCode != "" {
		return spec.RevisionCode
	}
	if spec.Type == "plan" {
		return "A"
	}
	return ""
}

// pick returns the incoming value when present, otherwise the existing one.
func pick(incoming, existing string) string {
	if incoming != "" {
		return incoming
	}
	return existing
}

// pickMap returns the incoming payload when present, otherwise the existing
// one; never nil.
func pickMap(incoming, existing map[string]any) map[string]any {
	if incoming != nil {
		return incoming
	}
	if existing != nil {
		return existing
	}
	return map[string]any{}
}
