package models

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Notification Rules & Notifications
// =============================================================================

// NotificationRule is a subscription to pipeline events.
type NotificationRule struct {
	ID             uuid.UUID            `json:"id" db:"id"`
	Kind           NotificationRuleKind `json:"kind" db:"kind"`
	Enabled        bool                 `json:"enabled" db:"enabled"`
	ScoreThreshold float64              `json:"scoreThreshold" db:"score_threshold"`
	SendTime       *string              `json:"sendTime,omitempty" db:"send_time"` // HH:MM, digests only
	Recipients     []string             `json:"recipients" db:"recipients"`
	CreatedAt      time.Time            `json:"createdAt" db:"created_at"`
	UpdatedAt      time.Time            `json:"updatedAt" db:"updated_at"`
}

// NotificationRuleKind constants.
type NotificationRuleKind string

const (
	RuleKindCriticalThreat      NotificationRuleKind = "critical_threat"
	RuleKindHighRiskDailyDigest NotificationRuleKind = "high_risk_daily_digest"
	RuleKindWeeklyReport        NotificationRuleKind = "weekly_report"
)

// DefaultThreshold returns the default score threshold for a rule kind.
func (k NotificationRuleKind) DefaultThreshold() float64 {
	switch k {
	case RuleKindCriticalThreat:
		return 8.0
	case RuleKindHighRiskDailyDigest:
		return 6.0
	default:
		return 0.0
	}
}

// Notification is one sent (or failed) instance of a rule firing.
type Notification struct {
	ID          uuid.UUID          `json:"id" db:"id"`
	RuleID      uuid.UUID          `json:"ruleId" db:"rule_id"`
	Subject     string             `json:"subject" db:"subject"`
	Recipients  []string           `json:"recipients" db:"recipients"`
	DeliveredAt *time.Time         `json:"deliveredAt,omitempty" db:"delivered_at"`
	Status      NotificationStatus `json:"status" db:"status"`
	Error       *string            `json:"error,omitempty" db:"error"`
	CreatedAt   time.Time          `json:"createdAt" db:"created_at"`
}

// NotificationStatus constants.
type NotificationStatus string

const (
	NotificationStatusSent   NotificationStatus = "sent"
	NotificationStatusFailed NotificationStatus = "failed"
)
