package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/quantumlayerhq/aetim/pkg/models"
)

const pirColumns = `id, name, description, priority, condition_type,
	condition_value, enabled, created_at, updated_at`

// PIRs persists the priority intelligence requirements.
type PIRs struct {
	db DBTX
}

// NewPIRs creates the PIR repository.
func NewPIRs(db DBTX) *PIRs {
	return &PIRs{db: db}
}

// WithTx returns a repository bound to the given transaction.
func (r *PIRs) WithTx(tx pgx.Tx) *PIRs {
	return &PIRs{db: tx}
}

// Create inserts a requirement.
func (r *PIRs) Create(ctx context.Context, pir *models.PIR) error {
	return r.db.QueryRow(ctx, `
		INSERT INTO pirs (name, description, priority, condition_type, condition_value, enabled)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`, pir.Name, pir.Description, pir.Priority, pir.ConditionType, pir.ConditionValue, pir.Enabled,
	).Scan(&pir.ID, &pir.CreatedAt, &pir.UpdatedAt)
}

// GetByID retrieves one requirement.
func (r *PIRs) GetByID(ctx context.Context, id uuid.UUID) (*models.PIR, error) {
	pir, err := scanPIR(r.db.QueryRow(ctx, `SELECT `+pirColumns+` FROM pirs WHERE id = $1`, id))
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return pir, nil
}

// Update rewrites a requirement.
func (r *PIRs) Update(ctx context.Context, pir *models.PIR) error {
	err := r.db.QueryRow(ctx, `
		UPDATE pirs SET
			name = $2, description = $3, priority = $4, condition_type = $5,
			condition_value = $6, enabled = $7, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`, pir.ID, pir.Name, pir.Description, pir.Priority, pir.ConditionType,
		pir.ConditionValue, pir.Enabled,
	).Scan(&pir.UpdatedAt)
	return wrapNotFound(err)
}

// Delete removes a requirement.
func (r *PIRs) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM pirs WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// List returns every requirement.
func (r *PIRs) List(ctx context.Context) ([]models.PIR, error) {
	return r.list(ctx, `SELECT `+pirColumns+` FROM pirs ORDER BY priority, name`)
}

// ListEnabled returns the requirements the scorer evaluates.
func (r *PIRs) ListEnabled(ctx context.Context) ([]models.PIR, error) {
	return r.list(ctx, `SELECT `+pirColumns+` FROM pirs WHERE enabled ORDER BY priority, name`)
}

func (r *PIRs) list(ctx context.Context, sql string, args ...any) ([]models.PIR, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pirs []models.PIR
	for rows.Next() {
		pir, err := scanPIR(rows)
		if err != nil {
			return nil, err
		}
		pirs = append(pirs, *pir)
	}
	return pirs, rows.Err()
}

func scanPIR(row pgx.Row) (*models.PIR, error) {
	var p models.PIR
	err := row.Scan(
		&p.ID, &p.Name, &p.Description, &p.Priority, &p.ConditionType,
		&p.ConditionValue, &p.Enabled, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
