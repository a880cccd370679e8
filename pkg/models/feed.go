package models

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Threat Intelligence Feeds
// =============================================================================

// Feed represents a configured external threat intelligence source.
type Feed struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	Name          string     `json:"name" db:"name"` // Unique display name
	FeedType      FeedType   `json:"feedType" db:"feed_type"`
	URL           string     `json:"url" db:"url"`
	Priority      FeedTier   `json:"priority" db:"priority"` // p0, p1, p2, p3
	Enabled       bool       `json:"enabled" db:"enabled"`
	Cadence       Cadence    `json:"cadence" db:"cadence"`
	CredentialRef *string    `json:"credentialRef,omitempty" db:"credential_ref"` // Reference to secret storage
	LastRunAt     *time.Time `json:"lastRunAt,omitempty" db:"last_run_at"`
	LastRunStatus RunStatus  `json:"lastRunStatus" db:"last_run_status"`
	LastRunError  *string    `json:"lastRunError,omitempty" db:"last_run_error"`
	CreatedAt     time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time  `json:"updatedAt" db:"updated_at"`
}

// FeedType identifies the driver used to collect a feed.
type FeedType string

const (
	FeedTypeCISAKEV FeedType = "cisa_kev"
	FeedTypeNVD     FeedType = "nvd"
	FeedTypeVMware  FeedType = "vmware"
	FeedTypeMSRC    FeedType = "msrc"
	FeedTypeTWCERT  FeedType = "twcert"
)

// FeedTier constants.
type FeedTier string

const (
	FeedTierP0 FeedTier = "p0" // Highest priority
	FeedTierP1 FeedTier = "p1"
	FeedTierP2 FeedTier = "p2"
	FeedTierP3 FeedTier = "p3"
)

// Cadence is the collection schedule granularity for a feed.
type Cadence string

const (
	CadenceHourly  Cadence = "hourly"
	CadenceDaily   Cadence = "daily"
	CadenceWeekly  Cadence = "weekly"
	CadenceMonthly Cadence = "monthly"
)

// Interval returns the collection interval for the cadence.
// Monthly is treated as four weeks.
func (c Cadence) Interval() time.Duration {
	switch c {
	case CadenceHourly:
		return time.Hour
	case CadenceDaily:
		return 24 * time.Hour
	case CadenceWeekly:
		return 7 * 24 * time.Hour
	case CadenceMonthly:
		return 4 * 7 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// Valid reports whether the cadence is one of the known values.
func (c Cadence) Valid() bool {
	switch c {
	case CadenceHourly, CadenceDaily, CadenceWeekly, CadenceMonthly:
		return true
	}
	return false
}

// RunStatus is the outcome of the most recent collection run.
type RunStatus string

const (
	RunStatusSuccess    RunStatus = "success"
	RunStatusFailed     RunStatus = "failed"
	RunStatusInProgress RunStatus = "in_progress"
)
