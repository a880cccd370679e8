package models

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Report Schedules
// =============================================================================

// ReportSchedule is a cron-driven report or digest trigger. Feed collection
// cadence lives on the Feed itself; this entity covers everything else.
type ReportSchedule struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	Name      string     `json:"name" db:"name"`
	CronExpr  string     `json:"cronExpr" db:"cron_expr"`
	Timezone  string     `json:"timezone" db:"timezone"`
	Enabled   bool       `json:"enabled" db:"enabled"`
	LastRunAt *time.Time `json:"lastRunAt,omitempty" db:"last_run_at"`
	CreatedAt time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time  `json:"updatedAt" db:"updated_at"`
}
