// Package events provides the in-process publish/subscribe bus that glues
// the pipeline stages together.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/quantumlayerhq/aetim/pkg/models"
)

// Kind identifies a domain event type.
type Kind string

const (
	ThreatIngested          Kind = "ThreatIngested"
	AssociationCreated      Kind = "AssociationCreated"
	RiskAssessmentCompleted Kind = "RiskAssessmentCompleted"
	ReportGenerated         Kind = "ReportGenerated"
	NotificationRuleUpdated Kind = "NotificationRuleUpdated"
	TicketStatusUpdated     Kind = "TicketStatusUpdated"
	CollectionFailureAlert  Kind = "CollectionFailureAlert"
)

// Event is one published domain event.
type Event struct {
	ID        uuid.UUID
	Kind      Kind
	Timestamp time.Time
	Payload   any
}

// ThreatIngestedPayload accompanies ThreatIngested.
type ThreatIngestedPayload struct {
	ThreatID uuid.UUID
	FeedID   uuid.UUID
	FeedName string
	CVEID    *string
	Title    string
}

// AssociationCreatedPayload accompanies AssociationCreated.
type AssociationCreatedPayload struct {
	AssociationID uuid.UUID
	ThreatID      uuid.UUID
	AssetID       uuid.UUID
	Confidence    float64
	MatchKind     models.MatchKind
}

// RiskAssessmentCompletedPayload accompanies RiskAssessmentCompleted.
type RiskAssessmentCompletedPayload struct {
	ThreatID      uuid.UUID
	AssociationID uuid.UUID
	AssessmentID  uuid.UUID
	FinalScore    float64
	Level         models.RiskLevel
	AffectedCount int
	Timestamp     time.Time
}

// ReportGeneratedPayload accompanies ReportGenerated.
type ReportGeneratedPayload struct {
	ReportID uuid.UUID
	Kind     models.ReportKind
	Title    string
	Path     string
}

// NotificationRuleUpdatedPayload accompanies NotificationRuleUpdated.
type NotificationRuleUpdatedPayload struct {
	RuleID uuid.UUID
	Kind   models.NotificationRuleKind
}

// TicketStatusUpdatedPayload accompanies TicketStatusUpdated.
type TicketStatusUpdatedPayload struct {
	ReportID  uuid.UUID
	OldStatus models.TicketStatus
	NewStatus models.TicketStatus
}

// CollectionFailureAlertPayload accompanies CollectionFailureAlert.
type CollectionFailureAlertPayload struct {
	FeedID       uuid.UUID
	FeedName     string
	FailureCount int
	LastError    string
	ErrorKind    string
}
