package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/quantumlayerhq/aetim/pkg/models"
)

const ruleColumns = `id, kind, enabled, score_threshold, send_time,
	recipients, created_at, updated_at`

// NotificationRules persists the event subscriptions.
type NotificationRules struct {
	db DBTX
}

// NewNotificationRules creates the rule repository.
func NewNotificationRules(db DBTX) *NotificationRules {
	return &NotificationRules{db: db}
}

// WithTx returns a repository bound to the given transaction.
func (r *NotificationRules) WithTx(tx pgx.Tx) *NotificationRules {
	return &NotificationRules{db: tx}
}

// Create inserts a rule.
func (r *NotificationRules) Create(ctx context.Context, rule *models.NotificationRule) error {
	return r.db.QueryRow(ctx, `
		INSERT INTO notification_rules (kind, enabled, score_threshold, send_time, recipients)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`, rule.Kind, rule.Enabled, rule.ScoreThreshold, rule.SendTime, rule.Recipients,
	).Scan(&rule.ID, &rule.CreatedAt, &rule.UpdatedAt)
}

// GetByID retrieves one rule.
func (r *NotificationRules) GetByID(ctx context.Context, id uuid.UUID) (*models.NotificationRule, error) {
	rule, err := scanRule(r.db.QueryRow(ctx,
		`SELECT `+ruleColumns+` FROM notification_rules WHERE id = $1`, id))
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return rule, nil
}

// Update rewrites a rule.
func (r *NotificationRules) Update(ctx context.Context, rule *models.NotificationRule) error {
	err := r.db.QueryRow(ctx, `
		UPDATE notification_rules SET
			kind = $2, enabled = $3, score_threshold = $4, send_time = $5,
			recipients = $6, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`, rule.ID, rule.Kind, rule.Enabled, rule.ScoreThreshold, rule.SendTime, rule.Recipients,
	).Scan(&rule.UpdatedAt)
	return wrapNotFound(err)
}

// Delete removes a rule.
func (r *NotificationRules) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM notification_rules WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// List returns every rule.
func (r *NotificationRules) List(ctx context.Context) ([]models.NotificationRule, error) {
	return r.list(ctx, `SELECT `+ruleColumns+` FROM notification_rules ORDER BY kind`)
}

// ListEnabledByKind returns the enabled rules of one kind.
func (r *NotificationRules) ListEnabledByKind(ctx context.Context, kind models.NotificationRuleKind) ([]models.NotificationRule, error) {
	return r.list(ctx, `
		SELECT `+ruleColumns+` FROM notification_rules
		WHERE kind = $1 AND enabled ORDER BY created_at
	`, kind)
}

func (r *NotificationRules) list(ctx context.Context, sql string, args ...any) ([]models.NotificationRule, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []models.NotificationRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *rule)
	}
	return rules, rows.Err()
}

func scanRule(row pgx.Row) (*models.NotificationRule, error) {
	var rule models.NotificationRule
	err := row.Scan(
		&rule.ID, &rule.Kind, &rule.Enabled, &rule.ScoreThreshold, &rule.SendTime,
		&rule.Recipients, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

// =============================================================================
// Sent notifications
// =============================================================================

// Notifications records every delivery attempt outcome.
type Notifications struct {
	db DBTX
}

// NewNotifications creates the notification repository.
func NewNotifications(db DBTX) *Notifications {
	return &Notifications{db: db}
}

// Create inserts one delivery record.
func (r *Notifications) Create(ctx context.Context, n *models.Notification) error {
	return r.db.QueryRow(ctx, `
		INSERT INTO notifications (rule_id, subject, recipients, delivered_at, status, error)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`, n.RuleID, n.Subject, n.Recipients, n.DeliveredAt, n.Status, n.Error,
	).Scan(&n.ID, &n.CreatedAt)
}

// ListByRule returns the delivery trail of one rule, newest first.
func (r *Notifications) ListByRule(ctx context.Context, ruleID uuid.UUID, limit int) ([]models.Notification, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx, `
		SELECT id, rule_id, subject, recipients, delivered_at, status, error, created_at
		FROM notifications WHERE rule_id = $1 ORDER BY created_at DESC LIMIT $2
	`, ruleID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifications []models.Notification
	for rows.Next() {
		var n models.Notification
		err := rows.Scan(&n.ID, &n.RuleID, &n.Subject, &n.Recipients, &n.DeliveredAt, &n.Status, &n.Error, &n.CreatedAt)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}
