package service

import (
	"context"
	"fmt"
	"regexp"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/quantumlayerhq/aetim/internal/events"
	"github.com/quantumlayerhq/aetim/pkg/audit"
	"github.com/quantumlayerhq/aetim/pkg/authz"
	"github.com/quantumlayerhq/aetim/pkg/models"
)

var sendTimeRe = regexp.MustCompile(`^([01]?\d|2[0-3]):[0-5]\d$`)

var knownRuleKinds = map[models.NotificationRuleKind]bool{
	models.RuleKindCriticalThreat:      true,
	models.RuleKindHighRiskDailyDigest: true,
	models.RuleKindWeeklyReport:        true,
}

func validateRule(rule *models.NotificationRule) error {
	if !knownRuleKinds[rule.Kind] {
		return &models.ValidationError{Field: "kind", Message: fmt.Sprintf("unknown rule kind %q", rule.Kind)}
	}
	if len(rule.Recipients) == 0 {
		return &models.ValidationError{Field: "recipients", Message: "must not be empty"}
	}
	if rule.Kind == models.RuleKindHighRiskDailyDigest && rule.SendTime != nil && !sendTimeRe.MatchString(*rule.SendTime) {
		return &models.ValidationError{Field: "sendTime", Message: "must be HH:MM"}
	}
	return nil
}

// CreateNotificationRule registers an event subscription.
func (s *Service) CreateNotificationRule(ctx context.Context, rule *models.NotificationRule) error {
	p, err := s.authorize(ctx, authz.ResourceNotifications, authz.ActionCreate, nil)
	if err != nil {
		return err
	}
	if err := validateRule(rule); err != nil {
		return err
	}

	err = s.db.WithTx(ctx, func(tx pgx.Tx) error {
		return s.rules.WithTx(tx).Create(ctx, rule)
	})
	s.record(ctx, p, audit.VerbCreate, authz.ResourceNotifications, idStr(rule.ID), err,
		map[string]interface{}{"kind": rule.Kind})
	if err != nil {
		return err
	}

	s.bus.Publish(events.NotificationRuleUpdated, events.NotificationRuleUpdatedPayload{
		RuleID: rule.ID, Kind: rule.Kind,
	})
	return nil
}

// UpdateNotificationRule rewrites a subscription.
func (s *Service) UpdateNotificationRule(ctx context.Context, rule *models.NotificationRule) error {
	p, err := s.authorize(ctx, authz.ResourceNotifications, authz.ActionUpdate, idStr(rule.ID))
	if err != nil {
		return err
	}
	if err := validateRule(rule); err != nil {
		return err
	}

	err = s.db.WithTx(ctx, func(tx pgx.Tx) error {
		return s.rules.WithTx(tx).Update(ctx, rule)
	})
	s.record(ctx, p, audit.VerbUpdate, authz.ResourceNotifications, idStr(rule.ID), err, nil)
	if err != nil {
		return err
	}

	s.bus.Publish(events.NotificationRuleUpdated, events.NotificationRuleUpdatedPayload{
		RuleID: rule.ID, Kind: rule.Kind,
	})
	return nil
}

// ToggleNotificationRule enables or disables a subscription.
func (s *Service) ToggleNotificationRule(ctx context.Context, ruleID uuid.UUID, enabled bool) error {
	p, err := s.authorize(ctx, authz.ResourceNotifications, authz.ActionToggle, idStr(ruleID))
	if err != nil {
		return err
	}

	rule, err := s.rules.GetByID(ctx, ruleID)
	if err == nil {
		rule.Enabled = enabled
		err = s.db.WithTx(ctx, func(tx pgx.Tx) error {
			return s.rules.WithTx(tx).Update(ctx, rule)
		})
	}
	s.record(ctx, p, audit.VerbToggle, authz.ResourceNotifications, idStr(ruleID), err,
		map[string]interface{}{"enabled": enabled})
	if err != nil {
		return err
	}

	s.bus.Publish(events.NotificationRuleUpdated, events.NotificationRuleUpdatedPayload{
		RuleID: rule.ID, Kind: rule.Kind,
	})
	return nil
}

// ListNotificationRules returns every subscription.
func (s *Service) ListNotificationRules(ctx context.Context) ([]models.NotificationRule, error) {
	if _, err := s.authorize(ctx, authz.ResourceNotifications, authz.ActionView, nil); err != nil {
		return nil, err
	}
	return s.rules.List(ctx)
}

// ListNotificationDeliveries returns the delivery history for one rule.
func (s *Service) ListNotificationDeliveries(ctx context.Context, ruleID uuid.UUID, limit int) ([]models.Notification, error) {
	if _, err := s.authorize(ctx, authz.ResourceNotifications, authz.ActionView, idStr(ruleID)); err != nil {
		return nil, err
	}
	return s.notifications.ListByRule(ctx, ruleID, limit)
}
