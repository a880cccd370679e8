package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumlayerhq/aetim/internal/events"
	"github.com/quantumlayerhq/aetim/pkg/logger"
	"github.com/quantumlayerhq/aetim/pkg/models"
)

func strp(s string) *string { return &s }

type sentMail struct {
	Recipients []string
	Subject    string
	Body       string
}

type stubMailer struct {
	mu   sync.Mutex
	sent []sentMail
	errs []error
}

func (m *stubMailer) Send(_ context.Context, recipients []string, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		if err != nil {
			return err
		}
	}
	m.sent = append(m.sent, sentMail{Recipients: recipients, Subject: subject, Body: body})
	return nil
}

type stubRules map[models.NotificationRuleKind][]models.NotificationRule

func (s stubRules) ListEnabledByKind(_ context.Context, kind models.NotificationRuleKind) ([]models.NotificationRule, error) {
	return s[kind], nil
}

type memNotifications struct {
	mu      sync.Mutex
	records []models.Notification
}

func (m *memNotifications) Create(_ context.Context, n *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n.ID = uuid.New()
	m.records = append(m.records, *n)
	return nil
}

type memThreats map[uuid.UUID]*models.Threat

func (m memThreats) GetByID(_ context.Context, id uuid.UUID) (*models.Threat, error) {
	if t, ok := m[id]; ok {
		return t, nil
	}
	return nil, models.ErrNotFound
}

type stubAssessments []models.RiskAssessment

func (s stubAssessments) ListAssessmentsBetween(context.Context, time.Time, time.Time) ([]models.RiskAssessment, error) {
	return s, nil
}

type harness struct {
	notifier *Notifier
	mailer   *stubMailer
	store    *memNotifications
	sleeps   []time.Duration
}

func newHarness(t *testing.T, rules stubRules, threats memThreats, assessments stubAssessments) *harness {
	t.Helper()
	h := &harness{mailer: &stubMailer{}, store: &memNotifications{}}
	h.notifier = NewNotifier(rules, h.store, threats, assessments, h.mailer,
		time.UTC, logger.New("debug", "text"))
	h.notifier.sleep = func(d time.Duration) { h.sleeps = append(h.sleeps, d) }
	return h
}

func criticalRule(threshold float64) models.NotificationRule {
	return models.NotificationRule{
		ID:             uuid.New(),
		Kind:           models.RuleKindCriticalThreat,
		Enabled:        true,
		ScoreThreshold: threshold,
		Recipients:     []string{"soc@example.com"},
	}
}

func TestCriticalThreatAlert(t *testing.T) {
	threatID := uuid.New()
	threats := memThreats{threatID: {
		ID:        threatID,
		CVEID:     strp("CVE-2026-4242"),
		Title:     "Exchange advisory",
		SourceURL: "https://example.com/advisory",
	}}
	rules := stubRules{models.RuleKindCriticalThreat: {criticalRule(8.0)}}

	h := newHarness(t, rules, threats, nil)
	bus := events.NewBus(logger.New("debug", "text"))
	h.notifier.Subscribe(bus)

	// Below threshold: silent.
	bus.Publish(events.RiskAssessmentCompleted, events.RiskAssessmentCompletedPayload{
		ThreatID: threatID, FinalScore: 7.9, Level: models.RiskLevelHigh,
	})
	assert.Empty(t, h.mailer.sent)

	bus.Publish(events.RiskAssessmentCompleted, events.RiskAssessmentCompletedPayload{
		ThreatID: threatID, FinalScore: 8.0, Level: models.RiskLevelCritical, AffectedCount: 2,
	})
	require.Len(t, h.mailer.sent, 1)
	assert.Equal(t, "Critical threat alert: CVE-2026-4242", h.mailer.sent[0].Subject)
	assert.Contains(t, h.mailer.sent[0].Body, "CVE-2026-4242")
	assert.Contains(t, h.mailer.sent[0].Body, "Affected assets: 2")

	require.Len(t, h.store.records, 1)
	assert.Equal(t, models.NotificationStatusSent, h.store.records[0].Status)
	assert.NotNil(t, h.store.records[0].DeliveredAt)
}

func TestCriticalRuleDefaultThreshold(t *testing.T) {
	threatID := uuid.New()
	rules := stubRules{models.RuleKindCriticalThreat: {criticalRule(0)}}

	h := newHarness(t, rules, memThreats{}, nil)
	h.notifier.handleAssessment(context.Background(), events.RiskAssessmentCompletedPayload{
		ThreatID: threatID, FinalScore: 7.5, Level: models.RiskLevelHigh,
	})
	assert.Empty(t, h.mailer.sent)

	h.notifier.handleAssessment(context.Background(), events.RiskAssessmentCompletedPayload{
		ThreatID: threatID, FinalScore: 8.2, Level: models.RiskLevelCritical,
	})
	assert.Len(t, h.mailer.sent, 1)
}

func TestWeeklyReportAnnouncement(t *testing.T) {
	rules := stubRules{models.RuleKindWeeklyReport: {{
		ID:         uuid.New(),
		Kind:       models.RuleKindWeeklyReport,
		Enabled:    true,
		Recipients: []string{"ciso@example.com"},
	}}}

	h := newHarness(t, rules, memThreats{}, nil)
	bus := events.NewBus(logger.New("debug", "text"))
	h.notifier.Subscribe(bus)

	// Ticket reports do not announce.
	bus.Publish(events.ReportGenerated, events.ReportGeneratedPayload{
		ReportID: uuid.New(), Kind: models.ReportKindItTicket, Title: "IT Ticket - CVE-2026-1",
	})
	assert.Empty(t, h.mailer.sent)

	bus.Publish(events.ReportGenerated, events.ReportGeneratedPayload{
		ReportID: uuid.New(),
		Kind:     models.ReportKindCISOWeekly,
		Title:    "CISO Weekly Report 2026-08-10",
		Path:     "2026/202608/CISO_Weekly_Report_2026-08-17.html",
	})
	require.Len(t, h.mailer.sent, 1)
	assert.Contains(t, h.mailer.sent[0].Body, "CISO_Weekly_Report_2026-08-17.html")
}

func TestDailyDigest(t *testing.T) {
	highID := uuid.New()
	lowID := uuid.New()
	threats := memThreats{
		highID: {ID: highID, CVEID: strp("CVE-2026-7777"), Title: "High advisory"},
		lowID:  {ID: lowID, Title: "Low advisory"},
	}
	assessments := stubAssessments{
		{ThreatID: highID, FinalScore: 6.4, Level: models.RiskLevelHigh},
		{ThreatID: highID, FinalScore: 7.2, Level: models.RiskLevelHigh},
		{ThreatID: lowID, FinalScore: 3.0, Level: models.RiskLevelLow},
	}
	rule := models.NotificationRule{
		ID:         uuid.New(),
		Kind:       models.RuleKindHighRiskDailyDigest,
		Enabled:    true,
		SendTime:   strp("07:30"),
		Recipients: []string{"ops@example.com"},
	}

	h := newHarness(t, stubRules{}, threats, assessments)
	h.notifier.now = func() time.Time { return time.Date(2026, 8, 24, 7, 30, 0, 0, time.UTC) }
	h.notifier.RunDailyDigest(context.Background(), rule)

	require.Len(t, h.mailer.sent, 1)
	body := h.mailer.sent[0].Body
	assert.Contains(t, h.mailer.sent[0].Subject, "2026-08-24")
	assert.Contains(t, body, "1 assessment(s) scored 6.0 or above")
	assert.Contains(t, body, "CVE-2026-7777: 7.20")
	assert.NotContains(t, body, "Low advisory")
}

func TestDailyDigestEmptyWindowSendsNothing(t *testing.T) {
	rule := models.NotificationRule{
		ID:         uuid.New(),
		Kind:       models.RuleKindHighRiskDailyDigest,
		Enabled:    true,
		Recipients: []string{"ops@example.com"},
	}

	h := newHarness(t, stubRules{}, memThreats{}, stubAssessments{
		{ThreatID: uuid.New(), FinalScore: 2.0, Level: models.RiskLevelLow},
	})
	h.notifier.RunDailyDigest(context.Background(), rule)

	assert.Empty(t, h.mailer.sent)
	assert.Empty(t, h.store.records)
}

func TestDeliveryRetriesWithBackoff(t *testing.T) {
	rules := stubRules{models.RuleKindCriticalThreat: {criticalRule(8.0)}}
	h := newHarness(t, rules, memThreats{}, nil)
	h.mailer.errs = []error{errors.New("connection refused"), errors.New("connection refused")}

	h.notifier.handleAssessment(context.Background(), events.RiskAssessmentCompletedPayload{
		ThreatID: uuid.New(), FinalScore: 9.0, Level: models.RiskLevelCritical,
	})

	require.Len(t, h.mailer.sent, 1)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, h.sleeps)
	require.Len(t, h.store.records, 1)
	assert.Equal(t, models.NotificationStatusSent, h.store.records[0].Status)
}

func TestDeliveryFailureRecordedNeverThrown(t *testing.T) {
	rules := stubRules{models.RuleKindCriticalThreat: {criticalRule(8.0)}}
	h := newHarness(t, rules, memThreats{}, nil)
	h.mailer.errs = []error{
		errors.New("connection refused"),
		errors.New("connection refused"),
		errors.New("connection refused"),
	}

	h.notifier.handleAssessment(context.Background(), events.RiskAssessmentCompletedPayload{
		ThreatID: uuid.New(), FinalScore: 9.0, Level: models.RiskLevelCritical,
	})

	assert.Empty(t, h.mailer.sent)
	require.Len(t, h.store.records, 1)
	assert.Equal(t, models.NotificationStatusFailed, h.store.records[0].Status)
	require.NotNil(t, h.store.records[0].Error)
	assert.Contains(t, *h.store.records[0].Error, "connection refused")
}

func TestDigestCronSpec(t *testing.T) {
	spec, err := digestCronSpec(strp("07:30"))
	require.NoError(t, err)
	assert.Equal(t, "30 7 * * *", spec)

	spec, err = digestCronSpec(nil)
	require.NoError(t, err)
	assert.Equal(t, "0 8 * * *", spec)

	_, err = digestCronSpec(strp("25:00"))
	assert.Error(t, err)
	_, err = digestCronSpec(strp("nine"))
	assert.Error(t, err)
}
