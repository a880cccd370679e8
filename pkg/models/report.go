package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Reports & Tickets
// =============================================================================

// Report is a rendered artefact: a weekly CISO report or an IT ticket.
type Report struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	Kind         ReportKind      `json:"kind" db:"kind"`
	Title        string          `json:"title" db:"title"`
	Path         string          `json:"path" db:"path"` // Relative to the reports base dir
	Format       ReportFormat    `json:"format" db:"format"`
	GeneratedAt  time.Time       `json:"generatedAt" db:"generated_at"`
	PeriodStart  *time.Time      `json:"periodStart,omitempty" db:"period_start"`
	PeriodEnd    *time.Time      `json:"periodEnd,omitempty" db:"period_end"`
	AISummary    *string         `json:"aiSummary,omitempty" db:"ai_summary"`
	Metadata     json.RawMessage `json:"metadata,omitempty" db:"metadata"`
	TicketStatus *TicketStatus   `json:"ticketStatus,omitempty" db:"ticket_status"` // Ticket kind only
	CreatedAt    time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time       `json:"updatedAt" db:"updated_at"`
}

// ReportKind constants.
type ReportKind string

const (
	ReportKindCISOWeekly ReportKind = "ciso_weekly"
	ReportKindItTicket   ReportKind = "it_ticket"
)

// ReportFormat constants.
type ReportFormat string

const (
	ReportFormatHTML ReportFormat = "html"
	ReportFormatPDF  ReportFormat = "pdf"
	ReportFormatTXT  ReportFormat = "txt"
	ReportFormatJSON ReportFormat = "json"
)

// =============================================================================
// Ticket Lifecycle
// =============================================================================

// TicketStatus constants.
type TicketStatus string

const (
	TicketStatusPending    TicketStatus = "pending"
	TicketStatusInProgress TicketStatus = "in_progress"
	TicketStatusCompleted  TicketStatus = "completed"
	TicketStatusClosed     TicketStatus = "closed"
)

var ticketTransitions = map[TicketStatus][]TicketStatus{
	TicketStatusPending:    {TicketStatusInProgress, TicketStatusClosed},
	TicketStatusInProgress: {TicketStatusCompleted, TicketStatusClosed},
	TicketStatusCompleted:  {TicketStatusClosed},
	TicketStatusClosed:     {},
}

// CanTransitionTo reports whether the transition is permitted.
func (s TicketStatus) CanTransitionTo(next TicketStatus) bool {
	for _, allowed := range ticketTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// TransitionTicket moves a ticket report to the next status, rejecting
// forbidden edges and non-ticket reports.
func (r *Report) TransitionTicket(next TicketStatus) error {
	if r.Kind != ReportKindItTicket || r.TicketStatus == nil {
		return &ValidationError{Field: "kind", Message: "report is not a ticket"}
	}
	if !r.TicketStatus.CanTransitionTo(next) {
		return &ValidationError{
			Field:   "ticketStatus",
			Message: fmt.Sprintf("illegal ticket transition %s -> %s", *r.TicketStatus, next),
		}
	}
	r.TicketStatus = &next
	return nil
}

// TicketPriority constants.
type TicketPriority string

const (
	TicketPriorityHigh   TicketPriority = "high"
	TicketPriorityMedium TicketPriority = "medium"
	TicketPriorityLow    TicketPriority = "low"
)

// TicketPriorityFromScore derives the ticket priority tag from the final
// risk score.
func TicketPriorityFromScore(final float64) TicketPriority {
	switch {
	case final >= 8.0:
		return TicketPriorityHigh
	case final >= 6.0:
		return TicketPriorityMedium
	default:
		return TicketPriorityLow
	}
}

// =============================================================================
// Ticket Export
// =============================================================================

// TicketExport is the JSON shape of one exported ticket.
type TicketExport struct {
	ID           uuid.UUID    `json:"id"`
	Title        string       `json:"title"`
	TicketStatus TicketStatus `json:"ticketStatus"`
	GeneratedAt  time.Time    `json:"generatedAt"`
	Body         string       `json:"body"`
}

// TicketExportEnvelope is the batch-export wrapper.
type TicketExportEnvelope struct {
	ExportedAt  time.Time      `json:"exported_at"`
	TicketCount int            `json:"ticket_count"`
	Tickets     []TicketExport `json:"tickets"`
}
