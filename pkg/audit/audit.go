// Package audit provides the append-only audit log. The write path here is
// the only code that references the audit table; no code path updates or
// deletes rows.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantumlayerhq/aetim/pkg/logger"
)

// Sink writes and queries audit entries.
type Sink struct {
	db  *pgxpool.Pool
	log *logger.Logger
}

// NewSink creates a new audit sink.
func NewSink(db *pgxpool.Pool, log *logger.Logger) *Sink {
	return &Sink{
		db:  db,
		log: log.WithComponent("audit"),
	}
}

// Entry represents an audit log entry.
type Entry struct {
	// Actor information
	SubjectID *string   `json:"subject_id,omitempty"`
	ActorType ActorType `json:"actor_type"`
	OriginIP  string    `json:"origin_ip,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`

	// Action details
	Verb Verb `json:"verb"`

	// Resource affected
	ResourceKind string  `json:"resource_kind"`
	ResourceID   *string `json:"resource_id,omitempty"`

	// Additional context
	Details map[string]interface{} `json:"details,omitempty"`

	// Outcome
	Status Status `json:"status"`
}

// ActorType defines who performed the action.
type ActorType string

const (
	ActorTypeUser   ActorType = "user"
	ActorTypeSystem ActorType = "system"
)

// Verb is the closed set of auditable operations.
type Verb string

const (
	VerbCreate Verb = "CREATE"
	VerbUpdate Verb = "UPDATE"
	VerbDelete Verb = "DELETE"
	VerbImport Verb = "IMPORT"
	VerbView   Verb = "VIEW"
	VerbToggle Verb = "TOGGLE"
	VerbExport Verb = "EXPORT"
	VerbLogin  Verb = "LOGIN"
	VerbLogout Verb = "LOGOUT"
)

// Valid reports whether the verb belongs to the closed set.
func (v Verb) Valid() bool {
	switch v {
	case VerbCreate, VerbUpdate, VerbDelete, VerbImport, VerbView,
		VerbToggle, VerbExport, VerbLogin, VerbLogout:
		return true
	}
	return false
}

// Status indicates the outcome of the action.
type Status string

const (
	StatusSuccess Status = "success"
	StatusDenied  Status = "denied"
	StatusFailure Status = "failure"
)

// Log writes an audit entry to the database. Writes are append-only.
func (s *Sink) Log(ctx context.Context, entry Entry) error {
	if !entry.Verb.Valid() {
		return fmt.Errorf("audit verb %q outside the closed set", entry.Verb)
	}

	detailsJSON, err := json.Marshal(entry.Details)
	if err != nil {
		detailsJSON = []byte("{}")
	}

	if entry.ActorType == "" {
		entry.ActorType = ActorTypeSystem
	}

	query := `
		INSERT INTO audit_entries (
			subject_id, actor_type, verb,
			resource_kind, resource_id,
			details, origin_ip, user_agent, status
		) VALUES (
			$1, $2, $3,
			$4, $5,
			$6, $7, $8, $9
		)
	`

	_, err = s.db.Exec(ctx, query,
		entry.SubjectID, entry.ActorType, entry.Verb,
		entry.ResourceKind, entry.ResourceID,
		detailsJSON, entry.OriginIP, entry.UserAgent, entry.Status,
	)

	if err != nil {
		s.log.Error("failed to write audit entry", "error", err, "verb", entry.Verb)
		return fmt.Errorf("failed to write audit entry: %w", err)
	}

	return nil
}

// LogAsync writes an audit entry asynchronously (fire and forget).
func (s *Sink) LogAsync(ctx context.Context, entry Entry) {
	go func() {
		// The caller's context may already be cancelled.
		logCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.Log(logCtx, entry); err != nil {
			s.log.Error("async audit write failed", "error", err, "verb", entry.Verb)
		}
	}()
}

// QueryFilters contains filters for querying audit entries.
type QueryFilters struct {
	SubjectID    string
	Verb         Verb
	ResourceKind string
	ResourceID   string
	Status       Status
	StartTime    time.Time
	EndTime      time.Time
	Limit        int
	Offset       int
}

// Row represents a persisted audit entry.
type Row struct {
	ID           uuid.UUID              `json:"id"`
	CreatedAt    time.Time              `json:"created_at"`
	SubjectID    *string                `json:"subject_id,omitempty"`
	ActorType    string                 `json:"actor_type"`
	Verb         string                 `json:"verb"`
	ResourceKind string                 `json:"resource_kind"`
	ResourceID   *string                `json:"resource_id,omitempty"`
	Details      map[string]interface{} `json:"details,omitempty"`
	OriginIP     string                 `json:"origin_ip,omitempty"`
	UserAgent    string                 `json:"user_agent,omitempty"`
	Status       string                 `json:"status"`
}

// Query retrieves audit entries with filters.
func (s *Sink) Query(ctx context.Context, filters QueryFilters) ([]Row, error) {
	query := `
		SELECT
			id, created_at, subject_id, actor_type, verb,
			resource_kind, resource_id,
			details, origin_ip, user_agent, status
		FROM audit_entries
		WHERE 1=1
	`
	args := []interface{}{}
	argIdx := 1

	if filters.SubjectID != "" {
		query += fmt.Sprintf(" AND subject_id = $%d", argIdx)
		args = append(args, filters.SubjectID)
		argIdx++
	}

	if filters.Verb != "" {
		query += fmt.Sprintf(" AND verb = $%d", argIdx)
		args = append(args, filters.Verb)
		argIdx++
	}

	if filters.ResourceKind != "" {
		query += fmt.Sprintf(" AND resource_kind = $%d", argIdx)
		args = append(args, filters.ResourceKind)
		argIdx++
	}

	if filters.ResourceID != "" {
		query += fmt.Sprintf(" AND resource_id = $%d", argIdx)
		args = append(args, filters.ResourceID)
		argIdx++
	}

	if filters.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filters.Status)
		argIdx++
	}

	if !filters.StartTime.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, filters.StartTime)
		argIdx++
	}

	if !filters.EndTime.IsZero() {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, filters.EndTime)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if filters.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filters.Limit)
	} else {
		query += " LIMIT 100"
	}

	if filters.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filters.Offset)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var results []Row
	for rows.Next() {
		var row Row
		var details []byte

		err := rows.Scan(
			&row.ID, &row.CreatedAt, &row.SubjectID, &row.ActorType, &row.Verb,
			&row.ResourceKind, &row.ResourceID,
			&details, &row.OriginIP, &row.UserAgent, &row.Status,
		)
		if err != nil {
			s.log.Warn("failed to scan audit row", "error", err)
			continue
		}

		_ = json.Unmarshal(details, &row.Details)

		results = append(results, row)
	}

	return results, nil
}
