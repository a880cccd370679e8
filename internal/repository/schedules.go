package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/quantumlayerhq/aetim/pkg/models"
)

const scheduleColumns = `id, name, cron_expr, timezone, enabled, last_run_at,
	created_at, updated_at`

// Schedules persists the cron-driven report and digest triggers.
type Schedules struct {
	db DBTX
}

// NewSchedules creates the schedule repository.
func NewSchedules(db DBTX) *Schedules {
	return &Schedules{db: db}
}

// Create inserts a schedule.
func (r *Schedules) Create(ctx context.Context, s *models.ReportSchedule) error {
	return r.db.QueryRow(ctx, `
		INSERT INTO report_schedules (name, cron_expr, timezone, enabled)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`, s.Name, s.CronExpr, s.Timezone, s.Enabled,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
}

// GetByID retrieves one schedule.
func (r *Schedules) GetByID(ctx context.Context, id uuid.UUID) (*models.ReportSchedule, error) {
	s, err := scanSchedule(r.db.QueryRow(ctx,
		`SELECT `+scheduleColumns+` FROM report_schedules WHERE id = $1`, id))
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return s, nil
}

// ListEnabled returns the schedules to register at startup.
func (r *Schedules) ListEnabled(ctx context.Context) ([]models.ReportSchedule, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+scheduleColumns+` FROM report_schedules WHERE enabled ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []models.ReportSchedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, *s)
	}
	return schedules, rows.Err()
}

// MarkRun stamps the last successful trigger time.
func (r *Schedules) MarkRun(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE report_schedules SET last_run_at = $2, updated_at = NOW() WHERE id = $1
	`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func scanSchedule(row pgx.Row) (*models.ReportSchedule, error) {
	var s models.ReportSchedule
	err := row.Scan(
		&s.ID, &s.Name, &s.CronExpr, &s.Timezone, &s.Enabled, &s.LastRunAt,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
