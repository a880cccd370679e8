package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/quantumlayerhq/aetim/internal/events"
	"github.com/quantumlayerhq/aetim/internal/feeds"
	"github.com/quantumlayerhq/aetim/internal/retry"
	"github.com/quantumlayerhq/aetim/pkg/config"
	"github.com/quantumlayerhq/aetim/pkg/logger"
	"github.com/quantumlayerhq/aetim/pkg/models"
)

// FeedStore is the persistence surface the scheduler needs for feeds.
type FeedStore interface {
	ListEnabled(ctx context.Context) ([]models.Feed, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Feed, error)
	UpdateLastRun(ctx context.Context, id uuid.UUID, status models.RunStatus, errText *string, at time.Time) error
}

// ThreatStore upserts collected threats. Upsert keys on the CVE id when
// present, else on the (feed, source URL, title) tuple.
type ThreatStore interface {
	Upsert(ctx context.Context, threat *models.Threat) (created bool, err error)
}

// Scheduler fires feed collections on their cadence, caps global
// concurrency, and guards each feed against overlapping runs.
type Scheduler struct {
	cron      *cron.Cron
	drivers   *feeds.Registry
	extractor feeds.TextExtractor
	feedStore FeedStore
	threats   ThreatStore
	tracker   *Tracker
	bus       *events.Bus
	policy    retry.Policy
	sem       chan struct{}
	log       *logger.Logger

	mu      sync.Mutex
	entries map[uuid.UUID]cron.EntryID
	running map[uuid.UUID]bool
}

// NewScheduler wires the collection pipeline.
func NewScheduler(
	cfg config.CollectorConfig,
	drivers *feeds.Registry,
	extractor feeds.TextExtractor,
	feedStore FeedStore,
	threats ThreatStore,
	tracker *Tracker,
	bus *events.Bus,
	log *logger.Logger,
) *Scheduler {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 3
	}
	return &Scheduler{
		cron:      cron.New(),
		drivers:   drivers,
		extractor: extractor,
		feedStore: feedStore,
		threats:   threats,
		tracker:   tracker,
		bus:       bus,
		policy: retry.Policy{
			Initial:    cfg.RetryInitial,
			Multiplier: 2,
			MaxDelay:   cfg.RetryMaxDelay,
			MaxRetries: cfg.RetryMax,
		},
		sem:     make(chan struct{}, maxConcurrent),
		log:     log.WithComponent("scheduler"),
		entries: make(map[uuid.UUID]cron.EntryID),
		running: make(map[uuid.UUID]bool),
	}
}

// Start loads every enabled feed, installs its cadence timer, and starts
// the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	enabled, err := s.feedStore.ListEnabled(ctx)
	if err != nil {
		return fmt.Errorf("loading enabled feeds: %w", err)
	}

	for _, feed := range enabled {
		if err := s.AddFeed(feed); err != nil {
			s.log.Error("failed to schedule feed", "feed", feed.Name, "error", err)
		}
	}

	s.cron.Start()
	s.log.Info("collection scheduler started", "feeds", len(enabled))
	return nil
}

// Stop halts the cron loop and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("collection scheduler stopped")
}

// AddFeed installs a cadence timer for the feed.
func (s *Scheduler) AddFeed(feed models.Feed) error {
	if !feed.Cadence.Valid() {
		return &models.ValidationError{Field: "cadence", Message: fmt.Sprintf("unknown cadence %q", feed.Cadence)}
	}

	feedID := feed.ID
	spec := fmt.Sprintf("@every %s", feed.Cadence.Interval())
	entryID, err := s.cron.AddFunc(spec, func() {
		s.runFeed(context.Background(), feedID)
	})
	if err != nil {
		return fmt.Errorf("scheduling feed %s: %w", feed.Name, err)
	}

	s.mu.Lock()
	if old, ok := s.entries[feedID]; ok {
		s.cron.Remove(old)
	}
	s.entries[feedID] = entryID
	s.mu.Unlock()

	s.log.Info("feed scheduled", "feed", feed.Name, "cadence", feed.Cadence)
	return nil
}

// RemoveFeed uninstalls the feed's timer.
func (s *Scheduler) RemoveFeed(feedID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entryID, ok := s.entries[feedID]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, feedID)
	}
}

// UpdateFeed reschedules the feed with its current cadence, or removes it
// when disabled.
func (s *Scheduler) UpdateFeed(feed models.Feed) error {
	if !feed.Enabled {
		s.RemoveFeed(feed.ID)
		return nil
	}
	return s.AddFeed(feed)
}

// RunNow kicks off a collection immediately, outside the cadence.
func (s *Scheduler) RunNow(ctx context.Context, feedID uuid.UUID) error {
	return s.runFeed(ctx, feedID)
}

// runFeed executes one collection cycle for the feed. The same feed never
// runs concurrently with itself; independent feeds run in parallel up to
// the concurrency cap.
func (s *Scheduler) runFeed(ctx context.Context, feedID uuid.UUID) error {
	s.mu.Lock()
	if s.running[feedID] {
		s.mu.Unlock()
		s.log.Warn("collection already in progress, skipping", "feed_id", feedID)
		return nil
	}
	s.running[feedID] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, feedID)
		s.mu.Unlock()
	}()

	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	case <-ctx.Done():
		return ctx.Err()
	}

	feed, err := s.feedStore.GetByID(ctx, feedID)
	if err != nil {
		return fmt.Errorf("loading feed %s: %w", feedID, err)
	}
	if !feed.Enabled {
		return nil
	}

	ctx, span := otel.Tracer("aetim/ingest").Start(ctx, "feed.collect")
	defer span.End()
	span.SetAttributes(
		attribute.String("feed.name", feed.Name),
		attribute.String("feed.type", string(feed.FeedType)),
	)

	log := s.log.WithFeed(feed.Name)
	log.Info("collection started")

	now := time.Now().UTC()
	if err := s.feedStore.UpdateLastRun(ctx, feedID, models.RunStatusInProgress, nil, now); err != nil {
		log.Warn("failed to mark run in progress", "error", err)
	}

	persisted, err := s.collect(ctx, *feed)
	finished := time.Now().UTC()

	if err != nil {
		msg := err.Error()
		if uerr := s.feedStore.UpdateLastRun(ctx, feedID, models.RunStatusFailed, &msg, finished); uerr != nil {
			log.Warn("failed to record run outcome", "error", uerr)
		}
		s.tracker.RecordFailure(feedID, feed.Name, err)
		span.RecordError(err)
		log.Error("collection failed", "error", err)
		return err
	}

	if uerr := s.feedStore.UpdateLastRun(ctx, feedID, models.RunStatusSuccess, nil, finished); uerr != nil {
		log.Warn("failed to record run outcome", "error", uerr)
	}
	s.tracker.RecordSuccess(feedID)

	for _, threat := range persisted {
		s.bus.Publish(events.ThreatIngested, events.ThreatIngestedPayload{
			ThreatID: threat.ID,
			FeedID:   feed.ID,
			FeedName: feed.Name,
			CVEID:    threat.CVEID,
			Title:    threat.Title,
		})
	}

	log.Info("collection succeeded", "threats", len(persisted), "duration", finished.Sub(now))
	return nil
}

// collect calls the driver under the retry policy, enriches sparse records
// through the extractor, and upserts each threat.
func (s *Scheduler) collect(ctx context.Context, feed models.Feed) ([]models.Threat, error) {
	driver, err := s.drivers.Get(feed.FeedType)
	if err != nil {
		return nil, err
	}

	since := feed.LastRunAt

	var collected []models.Threat
	err = retry.Do(ctx, s.policy, func(ctx context.Context) error {
		var cerr error
		collected, cerr = driver.Collect(ctx, feed, since, nil)
		return cerr
	})
	if err != nil {
		return nil, err
	}

	var persisted []models.Threat
	for i := range collected {
		threat := &collected[i]
		s.enrich(ctx, threat)

		if _, err := s.threats.Upsert(ctx, threat); err != nil {
			s.log.Error("threat upsert failed", "feed", feed.Name, "title", threat.Title, "error", err)
			continue
		}
		persisted = append(persisted, *threat)
	}
	return persisted, nil
}

// enrich fills products, TTPs, and IOCs from the extractor when the source
// left them sparse.
func (s *Scheduler) enrich(ctx context.Context, threat *models.Threat) {
	if s.extractor == nil {
		return
	}
	if len(threat.Products) > 0 && len(threat.TTPs) > 0 {
		return
	}

	result := s.extractor.Extract(ctx, threat.Title+" "+threat.Description)
	if len(threat.Products) == 0 {
		for _, p := range result.Products {
			tp := models.ThreatProduct{Name: p.Name}
			if p.Version != "" {
				tp.Version = &p.Version
			}
			if p.Type != "" {
				tp.Type = models.ProductType(p.Type)
			}
			if p.OriginalText != "" {
				text := p.OriginalText
				tp.OriginalText = &text
			}
			threat.Products = append(threat.Products, tp)
		}
	}
	if len(threat.TTPs) == 0 {
		threat.TTPs = result.TTPs
	}
	if threat.IOCs.Empty() {
		threat.IOCs = models.IOCSet{
			IPs:     result.IOCs.IPs,
			Domains: result.IOCs.Domains,
			Hashes:  result.IOCs.Hashes,
		}
	}
}
