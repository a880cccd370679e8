package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Risk Assessments
// =============================================================================

// RiskAssessment is one scoring of one threat-asset association.
type RiskAssessment struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	ThreatID      uuid.UUID       `json:"threatId" db:"threat_id"`
	AssociationID uuid.UUID       `json:"associationId" db:"association_id"`
	BaseScore     float64         `json:"baseScore" db:"base_score"`
	AssetWeight   float64         `json:"assetWeight" db:"asset_weight"`
	AffectedCount int             `json:"affectedCount" db:"affected_count"`
	CountWeight   float64         `json:"countWeight" db:"count_weight"`
	PIRWeight     float64         `json:"pirWeight" db:"pir_weight"`
	KEVWeight     float64         `json:"kevWeight" db:"kev_weight"`
	FinalScore    float64         `json:"finalScore" db:"final_score"` // 0.0-10.0
	Level         RiskLevel       `json:"level" db:"level"`
	Breakdown     json.RawMessage `json:"breakdown,omitempty" db:"breakdown"` // Reproduces the formula inputs
	CreatedAt     time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time       `json:"updatedAt" db:"updated_at"`
}

// RiskAssessmentHistory is one row per (re-)scoring of an assessment.
// Immutable after write.
type RiskAssessmentHistory struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	AssessmentID uuid.UUID       `json:"assessmentId" db:"assessment_id"`
	ThreatID     uuid.UUID       `json:"threatId" db:"threat_id"`
	FinalScore   float64         `json:"finalScore" db:"final_score"`
	Level        RiskLevel       `json:"level" db:"level"`
	Breakdown    json.RawMessage `json:"breakdown" db:"breakdown"`
	CreatedAt    time.Time       `json:"createdAt" db:"created_at"`
}

// =============================================================================
// Risk Levels
// =============================================================================

// RiskLevel constants. Risk reflects contextualized impact; its bands are
// deliberately different from the CVSS severity bands.
type RiskLevel string

const (
	RiskLevelCritical RiskLevel = "critical"
	RiskLevelHigh     RiskLevel = "high"
	RiskLevelMedium   RiskLevel = "medium"
	RiskLevelLow      RiskLevel = "low"
)

// RiskLevelFromScore converts a final risk score to a level.
func RiskLevelFromScore(score float64) RiskLevel {
	switch {
	case score >= 8.0:
		return RiskLevelCritical
	case score >= 6.0:
		return RiskLevelHigh
	case score >= 4.0:
		return RiskLevelMedium
	default:
		return RiskLevelLow
	}
}

// RiskWeights holds the configurable scoring constants.
type RiskWeights struct {
	CountDivisor float64 `json:"countDivisor"`
	CountWeight  float64 `json:"countWeight"`
	PIRWeight    float64 `json:"pirWeight"`
	KEVWeight    float64 `json:"kevWeight"`
}

// DefaultRiskWeights returns the stated default weights.
func DefaultRiskWeights() RiskWeights {
	return RiskWeights{
		CountDivisor: 10.0,
		CountWeight:  0.1,
		PIRWeight:    0.3,
		KEVWeight:    0.5,
	}
}
