package models

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Priority Intelligence Requirements
// =============================================================================

// PIR is an operator-defined predicate that flags threats of elevated
// business interest.
type PIR struct {
	ID             uuid.UUID        `json:"id" db:"id"`
	Name           string           `json:"name" db:"name"`
	Description    string           `json:"description" db:"description"`
	Priority       PIRPriority      `json:"priority" db:"priority"`
	ConditionType  PIRConditionType `json:"conditionType" db:"condition_type"`
	ConditionValue string           `json:"conditionValue" db:"condition_value"` // Interpreted per type; supports prefix forms (CVE-2024-) and comparators (>7.0)
	Enabled        bool             `json:"enabled" db:"enabled"`
	CreatedAt      time.Time        `json:"createdAt" db:"created_at"`
	UpdatedAt      time.Time        `json:"updatedAt" db:"updated_at"`
}

// PIRPriority constants.
type PIRPriority string

const (
	PIRPriorityHigh   PIRPriority = "high"
	PIRPriorityMedium PIRPriority = "medium"
	PIRPriorityLow    PIRPriority = "low"
)

// PIRConditionType constants.
type PIRConditionType string

const (
	PIRConditionProductName PIRConditionType = "product_name"
	PIRConditionCVEID       PIRConditionType = "cve_id"
	PIRConditionThreatType  PIRConditionType = "threat_type"
	PIRConditionCVSSScore   PIRConditionType = "cvss_score"
)
