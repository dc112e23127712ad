// Package asset defines the envelope types for the versioned knowledge-graph
// records produced by pipeline runs. Content and metadata payloads stay
// opaque maps; only the envelope (ids, versions, keys) is strongly typed.
package asset

import "time"

// Workflow defaults applied to newly created assets.
const (
	StatusDraft            = "draft"
	ApprovalNotRequired    = "not_required"
	ClassificationInternal = "internal"
)

// Edge types used by the pipeline.
const (
	EdgeReferences = "REFERENCES"
	EdgeSupersedes = "SUPERSEDES"
	EdgeParentOf   = "PARENT_OF"
)

// EdgeSpec declares a directed, typed relationship between two assets.
// Endpoints are references, not necessarily persisted ids: each may be an
// asset id, the idempotency key of an asset written in the same batch, or
// the key of an already current asset. An empty FromAssetID is a placeholder
// for "the asset this spec creates". The store resolves every reference to a
// current asset id at write time.
type EdgeSpec struct {
	FromAssetID    string         `json:"from_asset_id"`
	ToAssetID      string         `json:"to_asset_id"`
	EdgeType       string         `json:"edge_type"`
	Properties     map[string]any `json:"properties,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

// WriteSpec is an idempotent asset write request. Writing twice with the
// same (ProjectID, Type, IdempotencyKey) supersedes the previous version
// rather than duplicating the record.
type WriteSpec struct {
	Type           string         `json:"type"`
	Subtype        string         `json:"subtype,omitempty"`
	Name           string         `json:"name"`
	Description    string         `json:"description,omitempty"`
	ProjectID      string         `json:"project_id"`
	DocumentNumber string         `json:"document_number,omitempty"`
	RevisionCode   string         `json:"revision_code,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Content        map[string]any `json:"content,omitempty"`
	IdempotencyKey string         `json:"idempotency_key"`
	Edges          []EdgeSpec     `json:"edges,omitempty"`
}

// Asset is one persisted version row. ID is unique per version; UID is
// stable across all versions of the same logical asset.
type Asset struct {
	ID                string         `json:"id"`
	UID               string         `json:"asset_uid"`
	Version           int            `json:"version"`
	IsCurrent         bool           `json:"is_current"`
	SupersedesAssetID string         `json:"supersedes_asset_id,omitempty"`
	Type              string         `json:"type"`
	Subtype           string         `json:"subtype,omitempty"`
	Name              string         `json:"name"`
	OrganizationID    string         `json:"organization_id"`
	ProjectID         string         `json:"project_id"`
	DocumentNumber    string         `json:"document_number,omitempty"`
	RevisionCode      string         `json:"revision_code,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	Content           map[string]any `json:"content,omitempty"`
	IdempotencyKey    string         `json:"idempotency_key"`
	Status            string         `json:"status"`
	ApprovalState     string         `json:"approval_state"`
	Classification    string         `json:"classification"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// Edge is a persisted relationship between two current assets.
type Edge struct {
	ID             string         `json:"id"`
	FromAssetID    string         `json:"from_asset_id"`
	ToAssetID      string         `json:"to_asset_id"`
	EdgeType       string         `json:"edge_type"`
	Properties     map[string]any `json:"properties,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

// Result statuses for a single spec within a batch.
const (
	ResultCreated = "created"
	ResultError   = "error"
)

// Result reports the outcome of one WriteSpec within a batch.
type Result struct {
	AssetID        string `json:"asset_id,omitempty"`
	IdempotencyKey string `json:"idempotency_key"`
	Status         string `json:"status"`
	Error          string `json:"error,omitempty"`
	EdgesCreated   int    `json:"edges_created"`
}

// BatchResult reports a whole UpsertAssets call. Success is false only when
// the surrounding transaction itself failed; individual spec failures are
// reported per Result and leave Success true.
type BatchResult struct {
	Success bool     `json:"success"`
	Error   string   `json:"error,omitempty"`
	Results []Result `json:"results"`
}

// Created counts the specs that were written successfully.
func (b *BatchResult) Created() int {
	n := 0
	for _, r := range b.Results {
		if r.Status == ResultCreated {
			n++
		}
	}
	return n
}

// EdgeCount sums the edges created across the whole batch.
func (b *BatchResult) EdgeCount() int {
	n := 0
	for _, r := range b.Results {
		n += r.EdgesCreated
	}
	return n
}
