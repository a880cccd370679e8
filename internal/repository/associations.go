package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/quantumlayerhq/aetim/pkg/models"
)

const associationColumns = `id, threat_id, asset_id, confidence, match_kind,
	match_details, created_at, updated_at`

// Associations persists the confidence-scored threat-asset edges.
type Associations struct {
	db DBTX
}

// NewAssociations creates the association repository.
func NewAssociations(db DBTX) *Associations {
	return &Associations{db: db}
}

// WithTx returns a repository bound to the given transaction.
func (r *Associations) WithTx(tx pgx.Tx) *Associations {
	return &Associations{db: tx}
}

// Upsert inserts or refreshes the edge keyed on (threat_id, asset_id) and
// reports whether a new edge was created.
func (r *Associations) Upsert(ctx context.Context, assoc *models.Association) (bool, error) {
	var existingID uuid.UUID
	err := r.db.QueryRow(ctx, `
		SELECT id FROM associations WHERE threat_id = $1 AND asset_id = $2
	`, assoc.ThreatID, assoc.AssetID).Scan(&existingID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return false, err
	}
	created := existingID == uuid.Nil

	err = r.db.QueryRow(ctx, `
		INSERT INTO associations (threat_id, asset_id, confidence, match_kind, match_details)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (threat_id, asset_id) DO UPDATE SET
			confidence = EXCLUDED.confidence,
			match_kind = EXCLUDED.match_kind,
			match_details = EXCLUDED.match_details,
			updated_at = NOW()
		RETURNING id, created_at, updated_at
	`, assoc.ThreatID, assoc.AssetID, assoc.Confidence, assoc.MatchKind, assoc.MatchDetails,
	).Scan(&assoc.ID, &assoc.CreatedAt, &assoc.UpdatedAt)
	if err != nil {
		return false, err
	}
	return created, nil
}

// GetByID retrieves one association.
func (r *Associations) GetByID(ctx context.Context, id uuid.UUID) (*models.Association, error) {
	assoc, err := scanAssociation(r.db.QueryRow(ctx,
		`SELECT `+associationColumns+` FROM associations WHERE id = $1`, id))
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return assoc, nil
}

// ListByThreat returns every edge of one threat.
func (r *Associations) ListByThreat(ctx context.Context, threatID uuid.UUID) ([]models.Association, error) {
	return r.list(ctx, `SELECT `+associationColumns+` FROM associations WHERE threat_id = $1`, threatID)
}

// ListByAsset returns every edge touching one asset.
func (r *Associations) ListByAsset(ctx context.Context, assetID uuid.UUID) ([]models.Association, error) {
	return r.list(ctx, `SELECT `+associationColumns+` FROM associations WHERE asset_id = $1`, assetID)
}

func (r *Associations) list(ctx context.Context, sql string, args ...any) ([]models.Association, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var associations []models.Association
	for rows.Next() {
		assoc, err := scanAssociation(rows)
		if err != nil {
			return nil, err
		}
		associations = append(associations, *assoc)
	}
	return associations, rows.Err()
}

// Delete removes a stale edge after re-correlation.
func (r *Associations) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM associations WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func scanAssociation(row pgx.Row) (*models.Association, error) {
	var a models.Association
	err := row.Scan(
		&a.ID, &a.ThreatID, &a.AssetID, &a.Confidence, &a.MatchKind,
		&a.MatchDetails, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
