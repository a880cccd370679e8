package service

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumlayerhq/aetim/internal/events"
	"github.com/quantumlayerhq/aetim/pkg/audit"
	"github.com/quantumlayerhq/aetim/pkg/auth"
	"github.com/quantumlayerhq/aetim/pkg/authz"
	"github.com/quantumlayerhq/aetim/pkg/logger"
	"github.com/quantumlayerhq/aetim/pkg/models"
)

// ============================================================================
// Stubs
// ============================================================================

type recordingAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *recordingAudit) LogAsync(_ context.Context, entry audit.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
}

func (r *recordingAudit) Query(_ context.Context, _ audit.QueryFilters) ([]audit.Row, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rows := make([]audit.Row, 0, len(r.entries))
	for _, e := range r.entries {
		rows = append(rows, audit.Row{
			SubjectID:    e.SubjectID,
			ActorType:    string(e.ActorType),
			Verb:         string(e.Verb),
			ResourceKind: e.ResourceKind,
			ResourceID:   e.ResourceID,
			Status:       string(e.Status),
		})
	}
	return rows, nil
}

func (r *recordingAudit) last(t *testing.T) audit.Entry {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.entries)
	return r.entries[len(r.entries)-1]
}

type stubScheduler struct {
	added   []models.Feed
	updated []models.Feed
	removed []uuid.UUID
	ran     []uuid.UUID
	runErr  error
}

func (s *stubScheduler) AddFeed(feed models.Feed) error {
	s.added = append(s.added, feed)
	return nil
}

func (s *stubScheduler) UpdateFeed(feed models.Feed) error {
	s.updated = append(s.updated, feed)
	return nil
}

func (s *stubScheduler) RemoveFeed(feedID uuid.UUID) {
	s.removed = append(s.removed, feedID)
}

func (s *stubScheduler) RunNow(_ context.Context, feedID uuid.UUID) error {
	s.ran = append(s.ran, feedID)
	return s.runErr
}

type stubCorrelator struct {
	recorrelated []uuid.UUID
	correlated   []uuid.UUID
}

func (s *stubCorrelator) RecorrelateAsset(_ context.Context, asset *models.Asset) error {
	s.recorrelated = append(s.recorrelated, asset.ID)
	return nil
}

func (s *stubCorrelator) CorrelateThreat(_ context.Context, threatID uuid.UUID) ([]models.Association, error) {
	s.correlated = append(s.correlated, threatID)
	return []models.Association{{ID: uuid.New(), ThreatID: threatID}}, nil
}

type stubTickets struct {
	transitions map[uuid.UUID]models.TicketStatus
	exported    []uuid.UUID
	batchCalls  int
	updateErr   error
}

func (s *stubTickets) UpdateStatus(_ context.Context, reportID uuid.UUID, next models.TicketStatus) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	if s.transitions == nil {
		s.transitions = map[uuid.UUID]models.TicketStatus{}
	}
	s.transitions[reportID] = next
	return nil
}

func (s *stubTickets) Export(_ context.Context, reportID uuid.UUID, _ models.ReportFormat) ([]byte, error) {
	s.exported = append(s.exported, reportID)
	return []byte("ticket body"), nil
}

func (s *stubTickets) ExportBatch(_ context.Context) ([]byte, error) {
	s.batchCalls++
	return []byte(`{"ticket_count":0}`), nil
}

type harness struct {
	svc        *Service
	sink       *recordingAudit
	scheduler  *stubScheduler
	correlator *stubCorrelator
	tickets    *stubTickets
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		sink:       &recordingAudit{},
		scheduler:  &stubScheduler{},
		correlator: &stubCorrelator{},
		tickets:    &stubTickets{},
	}
	log := logger.New("error", "text")
	h.svc = New(nil, authz.NewGate(nil), h.sink, events.NewBus(log),
		nil, nil, nil, nil, nil, nil, nil, nil,
		h.scheduler, h.correlator, h.tickets, log)
	return h
}

func ctxAs(roles ...string) context.Context {
	return auth.WithPrincipal(context.Background(), auth.Principal{
		SubjectID: "u-100",
		Roles:     roles,
		OriginIP:  "10.0.0.9",
	})
}

// ============================================================================
// Authorization and audit
// ============================================================================

func TestDeniedCommandIsAudited(t *testing.T) {
	h := newHarness(t)

	err := h.svc.RunFeedNow(ctxAs(authz.RoleViewer), uuid.New())
	require.Error(t, err)
	assert.True(t, authz.IsPermissionDenied(err))
	assert.Empty(t, h.scheduler.ran)

	entry := h.sink.last(t)
	assert.Equal(t, audit.StatusDenied, entry.Status)
	assert.Equal(t, audit.VerbImport, entry.Verb)
	assert.Equal(t, "feeds", entry.ResourceKind)
	require.NotNil(t, entry.SubjectID)
	assert.Equal(t, "u-100", *entry.SubjectID)
}

func TestMissingPrincipalRunsAsSystem(t *testing.T) {
	h := newHarness(t)

	err := h.svc.RunFeedNow(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Len(t, h.scheduler.ran, 1)

	entry := h.sink.last(t)
	assert.Equal(t, audit.ActorTypeSystem, entry.ActorType)
	assert.Equal(t, audit.StatusSuccess, entry.Status)
}

func TestCommandFailureAudited(t *testing.T) {
	h := newHarness(t)
	h.tickets.updateErr = &models.ValidationError{Field: "ticketStatus", Message: "cannot move from pending to completed"}

	err := h.svc.UpdateTicketStatus(ctxAs(authz.RoleAnalyst), uuid.New(), models.TicketStatusCompleted)
	require.Error(t, err)

	entry := h.sink.last(t)
	assert.Equal(t, audit.StatusFailure, entry.Status)
	assert.Contains(t, entry.Details["error"], "pending to completed")
}

// ============================================================================
// Feeds
// ============================================================================

func TestCreateFeedRejectsUnknownType(t *testing.T) {
	h := newHarness(t)

	feed := &models.Feed{
		Name:     "mystery",
		FeedType: models.FeedType("rss"),
		URL:      "https://example.com/feed",
		Cadence:  models.CadenceDaily,
	}
	err := h.svc.CreateFeed(ctxAs(authz.RoleOperator), feed)

	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "feedType", verr.Field)
}

func TestCreateFeedRejectsBadCadence(t *testing.T) {
	h := newHarness(t)

	feed := &models.Feed{
		Name:     "nvd",
		FeedType: models.FeedTypeNVD,
		URL:      "https://services.nvd.nist.gov/rest/json/cves/2.0",
		Cadence:  models.Cadence("fortnightly"),
	}
	err := h.svc.CreateFeed(ctxAs(authz.RoleOperator), feed)

	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "cadence", verr.Field)
}

func TestAnalystCannotManageFeeds(t *testing.T) {
	h := newHarness(t)

	err := h.svc.DeleteFeed(ctxAs(authz.RoleAnalyst), uuid.New())
	assert.True(t, authz.IsPermissionDenied(err))
	assert.Empty(t, h.scheduler.removed)
}

// ============================================================================
// Correlation
// ============================================================================

func TestCorrelateThreatOnDemand(t *testing.T) {
	h := newHarness(t)
	threatID := uuid.New()

	assocs, err := h.svc.CorrelateThreat(ctxAs(authz.RoleAnalyst), threatID)
	require.NoError(t, err)
	require.Len(t, assocs, 1)
	assert.Equal(t, threatID, assocs[0].ThreatID)
	assert.Equal(t, []uuid.UUID{threatID}, h.correlator.correlated)
}

func TestViewerCannotTriageThreats(t *testing.T) {
	h := newHarness(t)

	err := h.svc.UpdateThreatStatus(ctxAs(authz.RoleViewer), uuid.New(), models.ThreatStatusClosed)
	assert.True(t, authz.IsPermissionDenied(err))
}

func TestViewerCannotCorrelate(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.CorrelateThreat(ctxAs(authz.RoleViewer), uuid.New())
	assert.True(t, authz.IsPermissionDenied(err))
	assert.Empty(t, h.correlator.correlated)
}

func TestImportAssetsRejectsBadWeights(t *testing.T) {
	h := newHarness(t)

	assets := []models.Asset{{
		Hostname:          "db-primary-01",
		SensitivityWeight: 0,
		CriticalityWeight: 1.5,
	}}
	err := h.svc.ImportAssets(ctxAs(authz.RoleOperator), assets)

	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "weights", verr.Field)
}

// ============================================================================
// Tickets
// ============================================================================

func TestTicketCommands(t *testing.T) {
	h := newHarness(t)
	ctx := ctxAs(authz.RoleAnalyst)
	ticketID := uuid.New()

	require.NoError(t, h.svc.UpdateTicketStatus(ctx, ticketID, models.TicketStatusInProgress))
	assert.Equal(t, models.TicketStatusInProgress, h.tickets.transitions[ticketID])

	data, err := h.svc.ExportTicket(ctx, ticketID, models.ReportFormatTXT)
	require.NoError(t, err)
	assert.Equal(t, "ticket body", string(data))

	_, err = h.svc.ExportTickets(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, h.tickets.batchCalls)

	entry := h.sink.last(t)
	assert.Equal(t, audit.VerbExport, entry.Verb)
	assert.Equal(t, "tickets", entry.ResourceKind)
}

func TestViewerCannotExportTickets(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.ExportTickets(ctxAs(authz.RoleViewer))
	assert.True(t, authz.IsPermissionDenied(err))
	assert.Zero(t, h.tickets.batchCalls)
}

// ============================================================================
// Validation helpers
// ============================================================================

func TestValidateRuleDigestSendTime(t *testing.T) {
	bad := "25:00"
	good := "08:30"

	rule := models.NotificationRule{
		Kind:       models.RuleKindHighRiskDailyDigest,
		Recipients: []string{"soc@example.com"},
		SendTime:   &bad,
	}
	var verr *models.ValidationError
	require.ErrorAs(t, validateRule(&rule), &verr)
	assert.Equal(t, "sendTime", verr.Field)

	rule.SendTime = &good
	assert.NoError(t, validateRule(&rule))
}

func TestValidateRuleUnknownKind(t *testing.T) {
	rule := models.NotificationRule{
		Kind:       models.NotificationRuleKind("pager"),
		Recipients: []string{"soc@example.com"},
	}
	var verr *models.ValidationError
	require.ErrorAs(t, validateRule(&rule), &verr)
	assert.Equal(t, "kind", verr.Field)
}

func TestAuditTrailReadRestricted(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.QueryAuditEntries(ctxAs(authz.RoleAnalyst), audit.QueryFilters{})
	assert.True(t, authz.IsPermissionDenied(err))

	require.NoError(t, h.svc.RunFeedNow(ctxAs(authz.RoleOperator), uuid.New()))
	rows, err := h.svc.QueryAuditEntries(ctxAs(authz.RoleAdmin), audit.QueryFilters{})
	require.NoError(t, err)
	assert.NotEmpty(t, rows)
}

func TestValidateScheduleCronExpr(t *testing.T) {
	sched := models.ReportSchedule{Name: "weekly", CronExpr: "0 9 * * 1"}
	assert.NoError(t, validateSchedule(&sched))

	sched.CronExpr = "every monday"
	var verr *models.ValidationError
	require.ErrorAs(t, validateSchedule(&sched), &verr)
	assert.Equal(t, "cronExpr", verr.Field)

	sched.CronExpr = "0 9 * * 1"
	sched.Timezone = "Mars/Olympus"
	require.ErrorAs(t, validateSchedule(&sched), &verr)
	assert.Equal(t, "timezone", verr.Field)
}

func TestVerbMapping(t *testing.T) {
	assert.Equal(t, audit.VerbCreate, verbFor(authz.ActionCreate))
	assert.Equal(t, audit.VerbToggle, verbFor(authz.ActionToggle))
	assert.Equal(t, audit.VerbView, verbFor(authz.ActionView))
}
