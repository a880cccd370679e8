// Package ingest orchestrates scheduled feed collection: cadence timers,
// concurrency capping, retry, failure tracking, and threat persistence.
package ingest

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quantumlayerhq/aetim/internal/events"
	"github.com/quantumlayerhq/aetim/internal/retry"
	"github.com/quantumlayerhq/aetim/pkg/logger"
)

// FailureRecord tracks consecutive collection failures for one feed.
// State is process-local and not persisted across restarts.
type FailureRecord struct {
	FeedID       uuid.UUID
	FeedName     string
	FailureCount int
	FirstFailure time.Time
	LastFailure  time.Time
	LastError    string
	LastKind     retry.Kind
	AlertSent    bool
	AlertSentAt  time.Time
}

// Tracker counts consecutive failures per feed and raises alert events
// with a cooldown.
type Tracker struct {
	threshold int
	cooldown  time.Duration
	bus       *events.Bus
	log       *logger.Logger

	mu      sync.Mutex
	records map[uuid.UUID]*FailureRecord
	now     func() time.Time
}

// NewTracker builds a tracker that alerts after threshold consecutive
// failures, suppressing duplicate alerts for cooldown.
func NewTracker(threshold int, cooldown time.Duration, bus *events.Bus, log *logger.Logger) *Tracker {
	return &Tracker{
		threshold: threshold,
		cooldown:  cooldown,
		bus:       bus,
		log:       log.WithComponent("failure_tracker"),
		records:   make(map[uuid.UUID]*FailureRecord),
		now:       time.Now,
	}
}

// RecordSuccess resets the feed's failure record in one step.
func (t *Tracker) RecordSuccess(feedID uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, feedID)
}

// RecordFailure increments the feed's failure count and, at the threshold
// and outside the cooldown, publishes a collection-failure alert. The
// cooldown suppresses duplicate alerts, never the underlying failure.
func (t *Tracker) RecordFailure(feedID uuid.UUID, feedName string, err error) {
	kind := retry.Classify(err)
	now := t.now()

	t.mu.Lock()
	rec, ok := t.records[feedID]
	if !ok {
		rec = &FailureRecord{FeedID: feedID, FeedName: feedName, FirstFailure: now}
		t.records[feedID] = rec
	}
	rec.FailureCount++
	rec.LastFailure = now
	rec.LastError = err.Error()
	rec.LastKind = kind

	alert := rec.FailureCount >= t.threshold &&
		(!rec.AlertSent || now.Sub(rec.AlertSentAt) >= t.cooldown)
	if alert {
		rec.AlertSent = true
		rec.AlertSentAt = now
	}
	payload := events.CollectionFailureAlertPayload{
		FeedID:       feedID,
		FeedName:     feedName,
		FailureCount: rec.FailureCount,
		LastError:    rec.LastError,
		ErrorKind:    string(kind),
	}
	t.mu.Unlock()

	t.log.Warn("collection failure recorded",
		"feed", feedName, "count", payload.FailureCount, "kind", kind, "error", err)

	if alert {
		t.bus.Publish(events.CollectionFailureAlert, payload)
	}
}

// Record returns a copy of the feed's failure record, if any.
func (t *Tracker) Record(feedID uuid.UUID) (FailureRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[feedID]
	if !ok {
		return FailureRecord{}, false
	}
	return *rec, true
}
