package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/quantumlayerhq/aetim/pkg/models"
)

const assessmentColumns = `id, threat_id, association_id, base_score,
	asset_weight, affected_count, count_weight, pir_weight, kev_weight,
	final_score, level, breakdown, created_at, updated_at`

// Assessments persists risk assessments and their append-only history.
type Assessments struct {
	db DBTX
}

// NewAssessments creates the assessment repository.
func NewAssessments(db DBTX) *Assessments {
	return &Assessments{db: db}
}

// WithTx returns a repository bound to the given transaction.
func (r *Assessments) WithTx(tx pgx.Tx) *Assessments {
	return &Assessments{db: tx}
}

// GetByAssociation retrieves the current assessment of one association.
func (r *Assessments) GetByAssociation(ctx context.Context, associationID uuid.UUID) (*models.RiskAssessment, error) {
	assessment, err := scanAssessment(r.db.QueryRow(ctx,
		`SELECT `+assessmentColumns+` FROM risk_assessments WHERE association_id = $1`, associationID))
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return assessment, nil
}

// Upsert inserts or refreshes the assessment keyed on its association.
// Re-scoring overwrites the current row; history keeps the trail.
func (r *Assessments) Upsert(ctx context.Context, a *models.RiskAssessment) error {
	return r.db.QueryRow(ctx, `
		INSERT INTO risk_assessments (threat_id, association_id, base_score,
			asset_weight, affected_count, count_weight, pir_weight, kev_weight,
			final_score, level, breakdown)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (association_id) DO UPDATE SET
			base_score = EXCLUDED.base_score,
			asset_weight = EXCLUDED.asset_weight,
			affected_count = EXCLUDED.affected_count,
			count_weight = EXCLUDED.count_weight,
			pir_weight = EXCLUDED.pir_weight,
			kev_weight = EXCLUDED.kev_weight,
			final_score = EXCLUDED.final_score,
			level = EXCLUDED.level,
			breakdown = EXCLUDED.breakdown,
			updated_at = NOW()
		RETURNING id, created_at, updated_at
	`, a.ThreatID, a.AssociationID, a.BaseScore,
		a.AssetWeight, a.AffectedCount, a.CountWeight, a.PIRWeight, a.KEVWeight,
		a.FinalScore, a.Level, a.Breakdown,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
}

// AppendHistory records one immutable scoring entry.
func (r *Assessments) AppendHistory(ctx context.Context, entry *models.RiskAssessmentHistory) error {
	return r.db.QueryRow(ctx, `
		INSERT INTO risk_assessment_history (assessment_id, threat_id, final_score, level, breakdown)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, entry.AssessmentID, entry.ThreatID, entry.FinalScore, entry.Level, entry.Breakdown,
	).Scan(&entry.ID, &entry.CreatedAt)
}

// ListHistory returns the scoring trail of one assessment, oldest first.
func (r *Assessments) ListHistory(ctx context.Context, assessmentID uuid.UUID) ([]models.RiskAssessmentHistory, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, assessment_id, threat_id, final_score, level, breakdown, created_at
		FROM risk_assessment_history WHERE assessment_id = $1 ORDER BY created_at
	`, assessmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []models.RiskAssessmentHistory
	for rows.Next() {
		var h models.RiskAssessmentHistory
		err := rows.Scan(&h.ID, &h.AssessmentID, &h.ThreatID, &h.FinalScore, &h.Level, &h.Breakdown, &h.CreatedAt)
		if err != nil {
			return nil, err
		}
		history = append(history, h)
	}
	return history, rows.Err()
}

func scanAssessment(row pgx.Row) (*models.RiskAssessment, error) {
	var a models.RiskAssessment
	err := row.Scan(
		&a.ID, &a.ThreatID, &a.AssociationID, &a.BaseScore,
		&a.AssetWeight, &a.AffectedCount, &a.CountWeight, &a.PIRWeight, &a.KEVWeight,
		&a.FinalScore, &a.Level, &a.Breakdown, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// =============================================================================
// Reporting statistics
// =============================================================================

// Stats aggregates the reporting and digest windows.
type Stats struct {
	db DBTX
}

// NewStats creates the statistics repository.
func NewStats(db DBTX) *Stats {
	return &Stats{db: db}
}

// CountThreatsBetween counts threats collected inside [start, end).
func (r *Stats) CountThreatsBetween(ctx context.Context, start, end time.Time) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM threats WHERE collected_at >= $1 AND collected_at < $2
	`, start, end).Scan(&count)
	return count, err
}

// ListAssessmentsBetween returns assessments last scored inside [start, end).
func (r *Stats) ListAssessmentsBetween(ctx context.Context, start, end time.Time) ([]models.RiskAssessment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+assessmentColumns+` FROM risk_assessments
		WHERE updated_at >= $1 AND updated_at < $2
		ORDER BY final_score DESC
	`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assessments []models.RiskAssessment
	for rows.Next() {
		assessment, err := scanAssessment(rows)
		if err != nil {
			return nil, err
		}
		assessments = append(assessments, *assessment)
	}
	return assessments, rows.Err()
}
