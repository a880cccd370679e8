package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Threats
// =============================================================================

// Threat represents one normalized vulnerability advisory.
type Threat struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	FeedID      uuid.UUID       `json:"feedId" db:"feed_id"`
	CVEID       *string         `json:"cveId,omitempty" db:"cve_id"` // Globally unique when present
	Title       string          `json:"title" db:"title"`
	Description string          `json:"description" db:"description"`
	CVSSScore   *float64        `json:"cvssScore,omitempty" db:"cvss_score"` // 0.0-10.0
	CVSSVector  *string         `json:"cvssVector,omitempty" db:"cvss_vector"`
	Severity    Severity        `json:"severity" db:"severity"`
	ThreatType  *string         `json:"threatType,omitempty" db:"threat_type"`
	PublishedAt *time.Time      `json:"publishedAt,omitempty" db:"published_at"`
	CollectedAt time.Time       `json:"collectedAt" db:"collected_at"`
	SourceURL   string          `json:"sourceUrl" db:"source_url"`
	Status      ThreatStatus    `json:"status" db:"status"`
	RawPayload  []byte          `json:"-" db:"raw_payload"` // Original source bytes
	Products    []ThreatProduct `json:"products" db:"-"`
	TTPs        []string        `json:"ttps" db:"ttps"`
	IOCs        IOCSet          `json:"iocs" db:"iocs"`
	CreatedAt   time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time       `json:"updatedAt" db:"updated_at"`
}

// ThreatProduct is a product reference extracted from an advisory.
type ThreatProduct struct {
	ID           uuid.UUID   `json:"id" db:"id"`
	ThreatID     uuid.UUID   `json:"threatId" db:"threat_id"`
	Name         string      `json:"name" db:"name"`
	Version      *string     `json:"version,omitempty" db:"version"`
	Type         ProductType `json:"type,omitempty" db:"type"`
	OriginalText *string     `json:"originalText,omitempty" db:"original_text"` // Source fragment it was extracted from
}

// ProductType constants.
type ProductType string

const (
	ProductTypeApplication ProductType = "application"
	ProductTypeOS          ProductType = "os"
	ProductTypeHardware    ProductType = "hardware"
)

// IsOS reports whether the product type denotes an operating system.
func (t ProductType) IsOS() bool {
	return t == ProductTypeOS || t == "operating system"
}

// IOCSet holds the indicator-of-compromise buckets of a threat.
type IOCSet struct {
	IPs     []string `json:"ips"`
	Domains []string `json:"domains"`
	Hashes  []string `json:"hashes"`
}

// Empty reports whether the set carries no indicators.
func (s IOCSet) Empty() bool {
	return len(s.IPs) == 0 && len(s.Domains) == 0 && len(s.Hashes) == 0
}

// Value serializes the set for storage.
func (s IOCSet) Value() (json.RawMessage, error) {
	return json.Marshal(s)
}

// =============================================================================
// Severity
// =============================================================================

// Severity constants. Severity reflects the advisory as authored.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// SeverityFromCVSS converts a CVSS base score to severity.
func SeverityFromCVSS(score float64) Severity {
	switch {
	case score >= 9.0:
		return SeverityCritical
	case score >= 7.0:
		return SeverityHigh
	case score >= 4.0:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// =============================================================================
// Threat Lifecycle
// =============================================================================

// ThreatStatus constants.
type ThreatStatus string

const (
	ThreatStatusNew       ThreatStatus = "new"
	ThreatStatusAnalyzing ThreatStatus = "analyzing"
	ThreatStatusProcessed ThreatStatus = "processed"
	ThreatStatusClosed    ThreatStatus = "closed"
)

// threatTransitions holds the allowed state-machine edges.
var threatTransitions = map[ThreatStatus][]ThreatStatus{
	ThreatStatusNew:       {ThreatStatusAnalyzing, ThreatStatusClosed},
	ThreatStatusAnalyzing: {ThreatStatusProcessed, ThreatStatusClosed},
	ThreatStatusProcessed: {ThreatStatusClosed},
	ThreatStatusClosed:    {},
}

// CanTransitionTo reports whether the transition is permitted.
func (s ThreatStatus) CanTransitionTo(next ThreatStatus) bool {
	for _, allowed := range threatTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Transition moves the threat to the next status, rejecting forbidden edges.
func (t *Threat) Transition(next ThreatStatus) error {
	if !t.Status.CanTransitionTo(next) {
		return &ValidationError{
			Field:   "status",
			Message: fmt.Sprintf("illegal threat transition %s -> %s", t.Status, next),
		}
	}
	t.Status = next
	return nil
}

// DedupKey returns the upsert identity for a threat: the CVE id when present,
// else the (feed, source URL, title) tuple.
func (t *Threat) DedupKey() string {
	if t.CVEID != nil && *t.CVEID != "" {
		return *t.CVEID
	}
	return fmt.Sprintf("%s|%s|%s", t.FeedID, t.SourceURL, t.Title)
}
