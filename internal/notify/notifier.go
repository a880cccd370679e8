// Package notify delivers rule-driven email: immediate critical-threat
// alerts, the daily high-risk digest, and the weekly-report announcement.
// Delivery failures are recorded, never propagated.
package notify

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/quantumlayerhq/aetim/internal/events"
	"github.com/quantumlayerhq/aetim/pkg/logger"
	"github.com/quantumlayerhq/aetim/pkg/models"
)

// RuleStore lists the enabled notification rules of one kind.
type RuleStore interface {
	ListEnabledByKind(ctx context.Context, kind models.NotificationRuleKind) ([]models.NotificationRule, error)
}

// NotificationStore records every delivery attempt outcome.
type NotificationStore interface {
	Create(ctx context.Context, notification *models.Notification) error
}

// ThreatStore loads threats for the alert templates.
type ThreatStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Threat, error)
}

// AssessmentLister feeds the daily digest window.
type AssessmentLister interface {
	ListAssessmentsBetween(ctx context.Context, start, end time.Time) ([]models.RiskAssessment, error)
}

const maxDeliveryAttempts = 3

// Notifier routes pipeline events to email per the notification rules.
type Notifier struct {
	rules         RuleStore
	notifications NotificationStore
	threats       ThreatStore
	assessments   AssessmentLister
	mailer        Mailer
	tz            *time.Location
	log           *logger.Logger

	sleep func(time.Duration)
	now   func() time.Time
}

// NewNotifier wires the notification pipeline. tz may be nil for UTC.
func NewNotifier(
	rules RuleStore,
	notifications NotificationStore,
	threats ThreatStore,
	assessments AssessmentLister,
	mailer Mailer,
	tz *time.Location,
	log *logger.Logger,
) *Notifier {
	if tz == nil {
		tz = time.UTC
	}
	return &Notifier{
		rules:         rules,
		notifications: notifications,
		threats:       threats,
		assessments:   assessments,
		mailer:        mailer,
		tz:            tz,
		log:           log.WithComponent("notifier"),
		sleep:         time.Sleep,
		now:           time.Now,
	}
}

// Subscribe hooks the notifier onto the pipeline events it reacts to.
func (n *Notifier) Subscribe(bus *events.Bus) {
	bus.Subscribe(events.RiskAssessmentCompleted, func(e events.Event) {
		if payload, ok := e.Payload.(events.RiskAssessmentCompletedPayload); ok {
			n.handleAssessment(context.Background(), payload)
		}
	})
	bus.Subscribe(events.ReportGenerated, func(e events.Event) {
		if payload, ok := e.Payload.(events.ReportGeneratedPayload); ok {
			n.handleReport(context.Background(), payload)
		}
	})
}

// ScheduleDigests registers one cron entry per enabled daily-digest rule at
// its configured send time.
func (n *Notifier) ScheduleDigests(ctx context.Context, c *cron.Cron) error {
	rules, err := n.rules.ListEnabledByKind(ctx, models.RuleKindHighRiskDailyDigest)
	if err != nil {
		return fmt.Errorf("listing digest rules: %w", err)
	}
	for _, rule := range rules {
		spec, err := digestCronSpec(rule.SendTime)
		if err != nil {
			n.log.Warn("skipping digest rule with bad send time", "rule_id", rule.ID, "error", err)
			continue
		}
		rule := rule
		if _, err := c.AddFunc(spec, func() {
			n.RunDailyDigest(context.Background(), rule)
		}); err != nil {
			return fmt.Errorf("scheduling digest rule %s: %w", rule.ID, err)
		}
	}
	return nil
}

// digestCronSpec converts an HH:MM send time to a daily cron expression.
func digestCronSpec(sendTime *string) (string, error) {
	raw := "08:00"
	if sendTime != nil && *sendTime != "" {
		raw = *sendTime
	}
	parts := strings.SplitN(raw, ":", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("send time %q is not HH:MM", raw)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return "", fmt.Errorf("send time %q has a bad hour", raw)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return "", fmt.Errorf("send time %q has a bad minute", raw)
	}
	return fmt.Sprintf("%d %d * * *", minute, hour), nil
}

func (n *Notifier) handleAssessment(ctx context.Context, payload events.RiskAssessmentCompletedPayload) {
	rules, err := n.rules.ListEnabledByKind(ctx, models.RuleKindCriticalThreat)
	if err != nil {
		n.log.Error("loading critical-threat rules failed", "error", err)
		return
	}

	for _, rule := range rules {
		if payload.FinalScore < ruleThreshold(rule) {
			continue
		}

		data := criticalThreatData{
			FinalScore:    payload.FinalScore,
			Level:         payload.Level,
			AffectedCount: payload.AffectedCount,
		}
		subject := "Critical threat alert"
		if threat, err := n.threats.GetByID(ctx, payload.ThreatID); err == nil {
			data.Title = threat.Title
			data.SourceURL = threat.SourceURL
			if threat.CVEID != nil {
				data.CVE = *threat.CVEID
				subject = fmt.Sprintf("Critical threat alert: %s", *threat.CVEID)
			}
		}

		body, err := render(criticalThreatTemplate, data)
		if err != nil {
			n.log.Error("rendering critical alert failed", "error", err)
			continue
		}
		n.deliver(ctx, rule, subject, body)
	}
}

func (n *Notifier) handleReport(ctx context.Context, payload events.ReportGeneratedPayload) {
	if payload.Kind != models.ReportKindCISOWeekly {
		return
	}
	rules, err := n.rules.ListEnabledByKind(ctx, models.RuleKindWeeklyReport)
	if err != nil {
		n.log.Error("loading weekly-report rules failed", "error", err)
		return
	}

	body, err := render(weeklyReportTemplate, weeklyReportData{Title: payload.Title, Path: payload.Path})
	if err != nil {
		n.log.Error("rendering weekly announcement failed", "error", err)
		return
	}
	for _, rule := range rules {
		n.deliver(ctx, rule, payload.Title, body)
	}
}

// RunDailyDigest collects the last 24 hours of assessments at or above the
// rule threshold and sends one digest. An empty window sends nothing.
func (n *Notifier) RunDailyDigest(ctx context.Context, rule models.NotificationRule) {
	end := n.now().In(n.tz)
	start := end.Add(-24 * time.Hour)
	threshold := ruleThreshold(rule)

	assessments, err := n.assessments.ListAssessmentsBetween(ctx, start, end)
	if err != nil {
		n.log.Error("listing digest assessments failed", "rule_id", rule.ID, "error", err)
		return
	}

	// One row per threat, keeping its highest score.
	best := make(map[uuid.UUID]models.RiskAssessment)
	for _, a := range assessments {
		if a.FinalScore < threshold {
			continue
		}
		if cur, ok := best[a.ThreatID]; !ok || a.FinalScore > cur.FinalScore {
			best[a.ThreatID] = a
		}
	}
	if len(best) == 0 {
		n.log.Debug("digest window empty, nothing to send", "rule_id", rule.ID)
		return
	}

	rows := make([]digestRow, 0, len(best))
	for threatID, a := range best {
		row := digestRow{FinalScore: a.FinalScore, Level: a.Level}
		if threat, err := n.threats.GetByID(ctx, threatID); err == nil {
			row.Title = threat.Title
			if threat.CVEID != nil {
				row.CVE = *threat.CVEID
			}
		}
		rows = append(rows, row)
	}

	body, err := render(dailyDigestTemplate, digestData{Date: end, Threshold: threshold, Rows: rows})
	if err != nil {
		n.log.Error("rendering digest failed", "rule_id", rule.ID, "error", err)
		return
	}
	n.deliver(ctx, rule, fmt.Sprintf("High-risk digest %s", end.Format("2006-01-02")), body)
}

// deliver sends with bounded retries and records the outcome. Failures are
// persisted and logged; they never propagate to the caller.
func (n *Notifier) deliver(ctx context.Context, rule models.NotificationRule, subject, body string) {
	var lastErr error
	for attempt := 1; attempt <= maxDeliveryAttempts; attempt++ {
		lastErr = n.mailer.Send(ctx, rule.Recipients, subject, body)
		if lastErr == nil {
			break
		}
		n.log.Warn("mail delivery attempt failed",
			"rule_id", rule.ID, "attempt", attempt, "error", lastErr)
		if attempt < maxDeliveryAttempts {
			n.sleep(time.Duration(math.Pow(2, float64(attempt))) * time.Second)
		}
	}

	record := &models.Notification{
		RuleID:     rule.ID,
		Subject:    subject,
		Recipients: rule.Recipients,
		Status:     models.NotificationStatusSent,
	}
	if lastErr == nil {
		deliveredAt := n.now().UTC()
		record.DeliveredAt = &deliveredAt
	} else {
		record.Status = models.NotificationStatusFailed
		errText := lastErr.Error()
		record.Error = &errText
	}

	if err := n.notifications.Create(ctx, record); err != nil {
		n.log.Error("persisting notification record failed", "rule_id", rule.ID, "error", err)
	}
	if lastErr != nil {
		n.log.Error("notification delivery failed permanently",
			"rule_id", rule.ID, "subject", subject, "error", lastErr)
	}
}

// ruleThreshold falls back to the kind default when the rule leaves the
// threshold unset.
func ruleThreshold(rule models.NotificationRule) float64 {
	if rule.ScoreThreshold > 0 {
		return rule.ScoreThreshold
	}
	return rule.Kind.DefaultThreshold()
}
