package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/quantumlayerhq/aetim/pkg/audit"
	"github.com/quantumlayerhq/aetim/pkg/authz"
	"github.com/quantumlayerhq/aetim/pkg/models"
)

// knownFeedTypes is the closed set of collection drivers.
var knownFeedTypes = map[models.FeedType]bool{
	models.FeedTypeCISAKEV: true,
	models.FeedTypeNVD:     true,
	models.FeedTypeVMware:  true,
	models.FeedTypeMSRC:    true,
	models.FeedTypeTWCERT:  true,
}

func validateFeed(feed *models.Feed) error {
	if feed.Name == "" {
		return &models.ValidationError{Field: "name", Message: "must not be empty"}
	}
	if feed.URL == "" {
		return &models.ValidationError{Field: "url", Message: "must not be empty"}
	}
	if !knownFeedTypes[feed.FeedType] {
		return &models.ValidationError{Field: "feedType", Message: fmt.Sprintf("unknown feed type %q", feed.FeedType)}
	}
	if !feed.Cadence.Valid() {
		return &models.ValidationError{Field: "cadence", Message: fmt.Sprintf("unknown cadence %q", feed.Cadence)}
	}
	return nil
}

// CreateFeed registers a feed and schedules it when enabled.
func (s *Service) CreateFeed(ctx context.Context, feed *models.Feed) error {
	p, err := s.authorize(ctx, authz.ResourceFeeds, authz.ActionCreate, nil)
	if err != nil {
		return err
	}
	if err := validateFeed(feed); err != nil {
		return err
	}

	err = s.db.WithTx(ctx, func(tx pgx.Tx) error {
		return s.feeds.WithTx(tx).Create(ctx, feed)
	})
	s.record(ctx, p, audit.VerbCreate, authz.ResourceFeeds, idStr(feed.ID), err,
		map[string]interface{}{"name": feed.Name, "feed_type": feed.FeedType})
	if err != nil {
		return err
	}

	if feed.Enabled {
		if err := s.scheduler.AddFeed(*feed); err != nil {
			return fmt.Errorf("scheduling feed %s: %w", feed.ID, err)
		}
	}
	return nil
}

// UpdateFeed rewrites a feed and reconciles its schedule.
func (s *Service) UpdateFeed(ctx context.Context, feed *models.Feed) error {
	p, err := s.authorize(ctx, authz.ResourceFeeds, authz.ActionUpdate, idStr(feed.ID))
	if err != nil {
		return err
	}
	if err := validateFeed(feed); err != nil {
		return err
	}

	err = s.db.WithTx(ctx, func(tx pgx.Tx) error {
		return s.feeds.WithTx(tx).Update(ctx, feed)
	})
	s.record(ctx, p, audit.VerbUpdate, authz.ResourceFeeds, idStr(feed.ID), err, nil)
	if err != nil {
		return err
	}
	return s.scheduler.UpdateFeed(*feed)
}

// ToggleFeed enables or disables a feed.
func (s *Service) ToggleFeed(ctx context.Context, feedID uuid.UUID, enabled bool) error {
	p, err := s.authorize(ctx, authz.ResourceFeeds, authz.ActionToggle, idStr(feedID))
	if err != nil {
		return err
	}

	feed, err := s.feeds.GetByID(ctx, feedID)
	if err == nil {
		feed.Enabled = enabled
		err = s.db.WithTx(ctx, func(tx pgx.Tx) error {
			return s.feeds.WithTx(tx).Update(ctx, feed)
		})
	}
	s.record(ctx, p, audit.VerbToggle, authz.ResourceFeeds, idStr(feedID), err,
		map[string]interface{}{"enabled": enabled})
	if err != nil {
		return err
	}
	return s.scheduler.UpdateFeed(*feed)
}

// DeleteFeed removes a feed and unschedules it.
func (s *Service) DeleteFeed(ctx context.Context, feedID uuid.UUID) error {
	p, err := s.authorize(ctx, authz.ResourceFeeds, authz.ActionDelete, idStr(feedID))
	if err != nil {
		return err
	}

	err = s.db.WithTx(ctx, func(tx pgx.Tx) error {
		return s.feeds.WithTx(tx).Delete(ctx, feedID)
	})
	s.record(ctx, p, audit.VerbDelete, authz.ResourceFeeds, idStr(feedID), err, nil)
	if err != nil {
		return err
	}
	s.scheduler.RemoveFeed(feedID)
	return nil
}

// RunFeedNow triggers an immediate out-of-cadence collection.
func (s *Service) RunFeedNow(ctx context.Context, feedID uuid.UUID) error {
	p, err := s.authorize(ctx, authz.ResourceFeeds, authz.ActionImport, idStr(feedID))
	if err != nil {
		return err
	}
	err = s.scheduler.RunNow(ctx, feedID)
	s.record(ctx, p, audit.VerbImport, authz.ResourceFeeds, idStr(feedID), err, nil)
	return err
}

// ListFeeds returns every configured feed.
func (s *Service) ListFeeds(ctx context.Context) ([]models.Feed, error) {
	if _, err := s.authorize(ctx, authz.ResourceFeeds, authz.ActionView, nil); err != nil {
		return nil, err
	}
	return s.feeds.List(ctx)
}
