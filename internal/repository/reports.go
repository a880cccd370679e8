package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/quantumlayerhq/aetim/pkg/models"
)

const reportColumns = `id, kind, title, path, format, generated_at,
	period_start, period_end, ai_summary, metadata, ticket_status,
	created_at, updated_at`

// Reports persists rendered artefact records: weekly reports and tickets.
type Reports struct {
	db DBTX
}

// NewReports creates the report repository.
func NewReports(db DBTX) *Reports {
	return &Reports{db: db}
}

// WithTx returns a repository bound to the given transaction.
func (r *Reports) WithTx(tx pgx.Tx) *Reports {
	return &Reports{db: tx}
}

// Create inserts a report record.
func (r *Reports) Create(ctx context.Context, report *models.Report) error {
	return r.db.QueryRow(ctx, `
		INSERT INTO reports (kind, title, path, format, generated_at,
			period_start, period_end, ai_summary, metadata, ticket_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at
	`, report.Kind, report.Title, report.Path, report.Format, report.GeneratedAt,
		report.PeriodStart, report.PeriodEnd, report.AISummary, report.Metadata, report.TicketStatus,
	).Scan(&report.ID, &report.CreatedAt, &report.UpdatedAt)
}

// GetByID retrieves one report record.
func (r *Reports) GetByID(ctx context.Context, id uuid.UUID) (*models.Report, error) {
	report, err := scanReport(r.db.QueryRow(ctx, `SELECT `+reportColumns+` FROM reports WHERE id = $1`, id))
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return report, nil
}

// Update rewrites the mutable fields, primarily the ticket status.
func (r *Reports) Update(ctx context.Context, report *models.Report) error {
	err := r.db.QueryRow(ctx, `
		UPDATE reports SET
			title = $2, path = $3, ai_summary = $4, metadata = $5,
			ticket_status = $6, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`, report.ID, report.Title, report.Path, report.AISummary, report.Metadata,
		report.TicketStatus,
	).Scan(&report.UpdatedAt)
	return wrapNotFound(err)
}

// ListTickets returns every ticket record, newest first.
func (r *Reports) ListTickets(ctx context.Context) ([]models.Report, error) {
	return r.list(ctx, `
		SELECT `+reportColumns+` FROM reports
		WHERE kind = $1 ORDER BY generated_at DESC
	`, models.ReportKindItTicket)
}

// ListByKind returns report records of one kind, newest first.
func (r *Reports) ListByKind(ctx context.Context, kind models.ReportKind, limit int) ([]models.Report, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.list(ctx, `
		SELECT `+reportColumns+` FROM reports
		WHERE kind = $1 ORDER BY generated_at DESC LIMIT $2
	`, kind, limit)
}

func (r *Reports) list(ctx context.Context, sql string, args ...any) ([]models.Report, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []models.Report
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, *report)
	}
	return reports, rows.Err()
}

func scanReport(row pgx.Row) (*models.Report, error) {
	var r models.Report
	err := row.Scan(
		&r.ID, &r.Kind, &r.Title, &r.Path, &r.Format, &r.GeneratedAt,
		&r.PeriodStart, &r.PeriodEnd, &r.AISummary, &r.Metadata, &r.TicketStatus,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
