package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Threat-Asset Associations
// =============================================================================

// Association is a confidence-scored edge between a threat and an asset.
// (ThreatID, AssetID) is a unique key; re-computation upserts.
type Association struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	ThreatID     uuid.UUID       `json:"threatId" db:"threat_id"`
	AssetID      uuid.UUID       `json:"assetId" db:"asset_id"`
	Confidence   float64         `json:"confidence" db:"confidence"` // 0.0-1.0
	MatchKind    MatchKind       `json:"matchKind" db:"match_kind"`
	MatchDetails json.RawMessage `json:"matchDetails,omitempty" db:"match_details"`
	CreatedAt    time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time       `json:"updatedAt" db:"updated_at"`
}

// MatchKind tags how the product/OS match was made. Versionless matches use
// the no_version suffix; versioned matches carry the reconciliation outcome.
type MatchKind string

const (
	MatchExactProductNoVersion    MatchKind = "exact_product_no_version"
	MatchExactProductVersionExact MatchKind = "exact_product_version_exact"
	MatchExactProductVersionRange MatchKind = "exact_product_version_range"
	MatchExactProductVersionMajor MatchKind = "exact_product_version_major"
	MatchFuzzyProductNoVersion    MatchKind = "fuzzy_product_no_version"
	MatchFuzzyProductVersionExact MatchKind = "fuzzy_product_version_exact"
	MatchFuzzyProductVersionRange MatchKind = "fuzzy_product_version_range"
	MatchFuzzyProductVersionMajor MatchKind = "fuzzy_product_version_major"
	MatchOS                       MatchKind = "os_match"
)
