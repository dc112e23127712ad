package assetstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/justme409/aiprojectengineerv3/internal/asset"
	"github.com/justme409/aiprojectengineerv3/internal/ctxlog"
)

// PGStore is the Postgres-backed Store. The whole batch runs in one
// transaction; each spec gets its own SAVEPOINT so a failed spec rolls back
// only its own asset and edges while the rest of the batch commits.
type PGStore struct {
	db *sql.DB
}

// NewPGStore wraps an open database handle.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

// UpsertAssets implements Store.
func (s *PGStore) UpsertAssets(ctx context.Context, specs []asset.WriteSpec) (*asset.BatchResult, error) {
	logger := ctxlog.FromContext(ctx)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &asset.BatchResult{Success: false, Error: err.Error()}, fmt.Errorf("begin upsert transaction: %w", err)
	}

	batch := &asset.BatchResult{Success: true}
	keyToID := make(map[string]string, len(specs))
	var deferred []pendingEdge

	for i, spec := range specs {
		res := asset.Result{IdempotencyKey: spec.IdempotencyKey}
		sp := fmt.Sprintf("spec_%d", i)

		if _, err := tx.ExecContext(ctx, "SAVEPOINT "+sp); err != nil {
			_ = tx.Rollback()
			batch.Success = false
			batch.Error = err.Error()
			return batch, fmt.Errorf("open savepoint: %w", err)
		}

		assetID, err := s.upsertOne(ctx, tx, spec)
		if err != nil {
			logger.Error("Asset upsert failed.", "idempotency_key", spec.IdempotencyKey, "error", err)
			if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+sp); rbErr != nil {
				_ = tx.Rollback()
				batch.Success = false
				batch.Error = rbErr.Error()
				return batch, fmt.Errorf("rollback savepoint: %w", rbErr)
			}
			res.Status = asset.ResultError
			res.Error = err.Error()
			batch.Results = append(batch.Results, res)
			continue
		}

		keyToID[spec.IdempotencyKey] = assetID
		res.AssetID = assetID
		res.Status = asset.ResultCreated
		batch.Results = append(batch.Results, res)
		idx := len(batch.Results) - 1

		for j, e := range spec.Edges {
			created, resolved := s.createEdge(ctx, tx, logger, keyToID, fmt.Sprintf("edge_%d_%d", i, j), assetID, e)
			switch {
			case created:
				batch.Results[idx].EdgesCreated++
			case !resolved:
				deferred = append(deferred, pendingEdge{resultIdx: idx, ownerID: assetID, spec: e})
			}
		}
		if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+sp); err != nil {
			_ = tx.Rollback()
			batch.Success = false
			batch.Error = err.Error()
			return batch, fmt.Errorf("release savepoint: %w", err)
		}
	}

	// Second pass inside the same transaction, so edges can point at
	// siblings that were created after their owning spec.
	for i, p := range deferred {
		created, resolved := s.createEdge(ctx, tx, logger, keyToID, fmt.Sprintf("deferred_%d", i), p.ownerID, p.spec)
		if created {
			batch.Results[p.resultIdx].EdgesCreated++
		} else if !resolved {
			logger.Warn("Edge endpoint unresolved, skipping.",
				"from", p.spec.FromAssetID, "to", p.spec.ToAssetID)
		}
	}

	if err := tx.Commit(); err != nil {
		batch.Success = false
		batch.Error = err.Error()
		return batch, fmt.Errorf("commit upsert batch: %w", err)
	}
	return batch, nil
}

func (s *PGStore) upsertOne(ctx context.Context, tx *sql.Tx, spec asset.WriteSpec) (string, error) {
	var orgID string
	err := tx.QueryRowContext(ctx,
		`SELECT organization_id FROM projects WHERE id = $1`, spec.ProjectID,
	).Scan(&orgID)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("project %s not found", spec.ProjectID)
	}
	if err != nil {
		return "", fmt.Errorf("resolve organization: %w", err)
	}

	existing, err := s.currentByKey(ctx, tx, spec.ProjectID, spec.Type, spec.IdempotencyKey)
	if err != nil {
		return "", err
	}

	metadata, err := json.Marshal(pickMap(spec.Metadata, nil))
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	content, err := json.Marshal(pickMap(spec.Content, nil))
	if err != nil {
		return "", fmt.Errorf("marshal content: %w", err)
	}

	if existing == nil {
		assetID := uuid.NewString()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO assets (
				id, asset_uid, version, is_current,
				type, subtype, name, organization_id, project_id,
				document_number, revision_code,
				metadata, content, idempotency_key,
				status, approval_state, classification,
				created_at, updated_at
			) VALUES (
				$1, $2, 1, true,
				$3, $4, $5, $6, $7,
				$8, $9,
				$10, $11, $12,
				$13, $14, $15,
				NOW(), NOW()
			)`,
			assetID, uuid.NewString(),
			spec.Type, nullStr(spec.Subtype), spec.Name, orgID, spec.ProjectID,
			nullStr(spec.DocumentNumber), nullStr(initialRevision(spec)),
			metadata, content, spec.IdempotencyKey,
			asset.StatusDraft, asset.ApprovalNotRequired, asset.ClassificationInternal,
		)
		if err != nil {
			return "", fmt.Errorf("insert asset: %w", err)
		}
		return assetID, nil
	}

	// Relocate the retiring row's key in the same transaction as the new
	// insert, so the unique key constraint never sees two claimants.
	_, err = tx.ExecContext(ctx, `
		UPDATE assets
		SET is_current = false,
		    idempotency_key = idempotency_key || ':v' || version,
		    updated_at = NOW()
		WHERE id = $1`,
		existing.ID,
	)
	if err != nil {
		return "", fmt.Errorf("retire previous version: %w", err)
	}

	metadata, err = json.Marshal(pickMap(spec.Metadata, existing.Metadata))
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	content, err = json.Marshal(pickMap(spec.Content, existing.Content))
	if err != nil {
		return "", fmt.Errorf("marshal content: %w", err)
	}

	assetID := uuid.NewString()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO assets (
			id, asset_uid, version, is_current, supersedes_asset_id,
			type, subtype, name, organization_id, project_id,
			document_number, revision_code,
			metadata, content, idempotency_key,
			status, approval_state, classification,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, true, $4,
			$5, $6, $7, $8, $9,
			$10, $11,
			$12, $13, $14,
			$15, $16, $17,
			NOW(), NOW()
		)`,
		assetID, existing.UID, existing.Version+1, existing.ID,
		spec.Type, nullStr(pick(spec.Subtype, existing.Subtype)), pick(spec.Name, existing.Name), existing.OrganizationID, existing.ProjectID,
		nullStr(pick(spec.DocumentNumber, existing.DocumentNumber)), nullStr(existing.RevisionCode),
		metadata, content, spec.IdempotencyKey,
		existing.Status, existing.ApprovalState, existing.Classification,
	)
	if err != nil {
		return "", fmt.Errorf("insert superseding version: %w", err)
	}
	return assetID, nil
}

// createEdge writes one spec-attached edge under its own savepoint so a bad
// edge is skipped without poisoning the asset write. The second return value
// is false when an endpoint reference cannot be resolved yet; the caller
// retries those after the whole batch is written.
func (s *PGStore) createEdge(ctx context.Context, tx *sql.Tx, logger *slog.Logger, keyToID map[string]string, sp, ownerID string, e asset.EdgeSpec) (created, resolved bool) {
	if e.EdgeType == "" || e.ToAssetID == "" {
		logger.Warn("Edge spec missing required fields, skipping.", "edge_type", e.EdgeType)
		return false, true
	}
	from := e.FromAssetID
	if from == "" {
		from = ownerID
	}
	fromID, okFrom := s.resolveEndpoint(ctx, tx, keyToID, from)
	toID, okTo := s.resolveEndpoint(ctx, tx, keyToID, e.ToAssetID)
	if !okFrom || !okTo {
		return false, false
	}

	if e.IdempotencyKey != "" {
		var existingID string
		err := tx.QueryRowContext(ctx, `
			SELECT id FROM asset_edges
			WHERE edge_type = $1 AND idempotency_key = $2`,
			e.EdgeType, e.IdempotencyKey,
		).Scan(&existingID)
		if err == nil {
			return false, true // idempotent no-op
		}
		if err != sql.ErrNoRows {
			logger.Warn("Edge idempotency lookup failed, skipping.", "error", err)
			return false, true
		}
	}

	props, err := json.Marshal(pickMap(e.Properties, nil))
	if err != nil {
		logger.Warn("Edge properties not serializable, skipping.", "error", err)
		return false, true
	}

	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+sp); err != nil {
		logger.Warn("Edge savepoint failed, skipping.", "error", err)
		return false, true
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO asset_edges (id, from_asset_id, to_asset_id, edge_type, properties, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.NewString(), fromID, toID, e.EdgeType, props, nullStr(e.IdempotencyKey),
	)
	if err != nil {
		logger.Warn("Edge insert failed, skipping.", "from", fromID, "to", toID, "error", err)
		_, _ = tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+sp)
		return false, true
	}
	_, _ = tx.ExecContext(ctx, "RELEASE SAVEPOINT "+sp)
	return true, true
}

// resolveEndpoint maps an edge endpoint reference to a current asset id.
// Keys written earlier in the batch win over store lookups so an edge always
// attaches to the version its batch created.
func (s *PGStore) resolveEndpoint(ctx context.Context, tx *sql.Tx, keyToID map[string]string, ref string) (string, bool) {
	if id, ok := keyToID[ref]; ok {
		return id, true
	}
	var id string
	err := tx.QueryRowContext(ctx, `
		SELECT id FROM assets
		WHERE (id::text = $1 OR idempotency_key = $1) AND is_current = true
		LIMIT 1`, ref,
	).Scan(&id)
	if err != nil {
		return "", false
	}
	return id, true
}

// GetByIdempotencyKey implements Store.
func (s *PGStore) GetByIdempotencyKey(ctx context.Context, projectID, assetType, key string) (*asset.Asset, error) {
	row := s.db.QueryRowContext(ctx, selectAsset+`
		WHERE project_id = $1 AND type = $2 AND idempotency_key = $3 AND is_current = true`,
		projectID, assetType, key,
	)
	a, err := scanAsset(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get asset by key %s: %w", key, err)
	}
	return a, nil
}

// ListByProject implements Store.
func (s *PGStore) ListByProject(ctx context.Context, projectID, assetType string) ([]asset.Asset, error) {
	query := selectAsset + ` WHERE project_id = $1 AND is_current = true`
	args := []any{projectID}
	if assetType != "" {
		query += ` AND type = $2`
		args = append(args, assetType)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list assets for project %s: %w", projectID, err)
	}
	defer rows.Close()

	var out []asset.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

const selectAsset = `
	SELECT id, asset_uid, version, is_current, supersedes_asset_id,
	       type, subtype, name, organization_id, project_id,
	       document_number, revision_code, metadata, content,
	       idempotency_key, status, approval_state, classification,
	       created_at, updated_at
	FROM assets`

func (s *PGStore) currentByKey(ctx context.Context, tx *sql.Tx, projectID, assetType, key string) (*asset.Asset, error) {
	row := tx.QueryRowContext(ctx, selectAsset+`
		WHERE project_id = $1 AND type = $2 AND idempotency_key = $3 AND is_current = true
		ORDER BY version DESC LIMIT 1`,
		projectID, assetType, key,
	)
	a, err := scanAsset(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("look up current version: %w", err)
	}
	return a, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAsset(r rowScanner) (*asset.Asset, error) {
	var a asset.Asset
	var supersedes, subtype, documentNumber, revisionCode sql.NullString
	var metadata, content []byte
	if err := r.Scan(
		&a.ID, &a.UID, &a.Version, &a.IsCurrent, &supersedes,
		&a.Type, &subtype, &a.Name, &a.OrganizationID, &a.ProjectID,
		&documentNumber, &revisionCode, &metadata, &content,
		&a.IdempotencyKey, &a.Status, &a.ApprovalState, &a.Classification,
		&a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	a.SupersedesAssetID = supersedes.String
	a.Subtype = subtype.String
	a.DocumentNumber = documentNumber.String
	a.RevisionCode = revisionCode.String
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &a.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	if len(content) > 0 {
		if err := json.Unmarshal(content, &a.Content); err != nil {
			return nil, fmt.Errorf("unmarshal content: %w", err)
		}
	}
	return &a, nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
