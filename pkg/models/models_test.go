package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeverityFromCVSS(t *testing.T) {
	tests := []struct {
		name  string
		score float64
		want  Severity
	}{
		{"zero", 0.0, SeverityLow},
		{"below medium boundary", 3.9, SeverityLow},
		{"medium boundary", 4.0, SeverityMedium},
		{"mid medium", 6.9, SeverityMedium},
		{"high boundary", 7.0, SeverityHigh},
		{"below critical boundary", 8.9, SeverityHigh},
		{"critical boundary", 9.0, SeverityCritical},
		{"max", 10.0, SeverityCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SeverityFromCVSS(tt.score))
		})
	}
}

func TestRiskLevelFromScore(t *testing.T) {
	tests := []struct {
		name  string
		score float64
		want  RiskLevel
	}{
		{"critical boundary", 8.0, RiskLevelCritical},
		{"just below critical", 7.99, RiskLevelHigh},
		{"high boundary", 6.0, RiskLevelHigh},
		{"just below high", 5.99, RiskLevelMedium},
		{"medium boundary", 4.0, RiskLevelMedium},
		{"just below medium", 3.99, RiskLevelLow},
		{"zero", 0.0, RiskLevelLow},
		{"max", 10.0, RiskLevelCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RiskLevelFromScore(tt.score))
		})
	}
}

func TestRiskBandsDifferFromSeverityBands(t *testing.T) {
	// 6.5 is Medium as a CVSS severity but High as a contextual risk level.
	assert.Equal(t, SeverityMedium, SeverityFromCVSS(6.5))
	assert.Equal(t, RiskLevelHigh, RiskLevelFromScore(6.5))
}

func TestThreatTransitions(t *testing.T) {
	tests := []struct {
		from    ThreatStatus
		to      ThreatStatus
		allowed bool
	}{
		{ThreatStatusNew, ThreatStatusAnalyzing, true},
		{ThreatStatusNew, ThreatStatusClosed, true},
		{ThreatStatusNew, ThreatStatusProcessed, false},
		{ThreatStatusAnalyzing, ThreatStatusProcessed, true},
		{ThreatStatusAnalyzing, ThreatStatusClosed, true},
		{ThreatStatusAnalyzing, ThreatStatusNew, false},
		{ThreatStatusProcessed, ThreatStatusClosed, true},
		{ThreatStatusProcessed, ThreatStatusAnalyzing, false},
		{ThreatStatusClosed, ThreatStatusNew, false},
		{ThreatStatusClosed, ThreatStatusClosed, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"_to_"+string(tt.to), func(t *testing.T) {
			th := &Threat{Status: tt.from}
			err := th.Transition(tt.to)
			if tt.allowed {
				require.NoError(t, err)
				assert.Equal(t, tt.to, th.Status)
			} else {
				require.Error(t, err)
				assert.True(t, IsValidationError(err))
				assert.Equal(t, tt.from, th.Status)
			}
		})
	}
}

func TestTicketTransitions(t *testing.T) {
	tests := []struct {
		from    TicketStatus
		to      TicketStatus
		allowed bool
	}{
		{TicketStatusPending, TicketStatusInProgress, true},
		{TicketStatusPending, TicketStatusClosed, true},
		{TicketStatusPending, TicketStatusCompleted, false},
		{TicketStatusInProgress, TicketStatusCompleted, true},
		{TicketStatusInProgress, TicketStatusClosed, true},
		{TicketStatusInProgress, TicketStatusPending, false},
		{TicketStatusCompleted, TicketStatusClosed, true},
		{TicketStatusCompleted, TicketStatusInProgress, false},
		{TicketStatusClosed, TicketStatusPending, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"_to_"+string(tt.to), func(t *testing.T) {
			status := tt.from
			r := &Report{Kind: ReportKindItTicket, TicketStatus: &status}
			err := r.TransitionTicket(tt.to)
			if tt.allowed {
				require.NoError(t, err)
				assert.Equal(t, tt.to, *r.TicketStatus)
			} else {
				require.Error(t, err)
			}
		})
	}
}

func TestTransitionTicketRejectsNonTicket(t *testing.T) {
	r := &Report{Kind: ReportKindCISOWeekly}
	err := r.TransitionTicket(TicketStatusInProgress)
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
}

func TestTicketPriorityFromScore(t *testing.T) {
	tests := []struct {
		score float64
		want  TicketPriority
	}{
		{8.0, TicketPriorityHigh},
		{9.5, TicketPriorityHigh},
		{7.5, TicketPriorityMedium},
		{6.0, TicketPriorityMedium},
		{5.9, TicketPriorityLow},
		{0.0, TicketPriorityLow},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, TicketPriorityFromScore(tt.score), "score %v", tt.score)
	}
}

func TestCadenceInterval(t *testing.T) {
	assert.Equal(t, time.Hour, CadenceHourly.Interval())
	assert.Equal(t, 24*time.Hour, CadenceDaily.Interval())
	assert.Equal(t, 7*24*time.Hour, CadenceWeekly.Interval())
	// Monthly is four weeks.
	assert.Equal(t, 28*24*time.Hour, CadenceMonthly.Interval())
}

func TestThreatDedupKey(t *testing.T) {
	cve := "CVE-2024-1234"
	th := &Threat{CVEID: &cve}
	assert.Equal(t, "CVE-2024-1234", th.DedupKey())

	anon := &Threat{Title: "Advisory", SourceURL: "https://example.org/a"}
	assert.Contains(t, anon.DedupKey(), "Advisory")
	assert.Contains(t, anon.DedupKey(), "https://example.org/a")
}

func TestNotificationRuleDefaultThreshold(t *testing.T) {
	assert.Equal(t, 8.0, RuleKindCriticalThreat.DefaultThreshold())
	assert.Equal(t, 6.0, RuleKindHighRiskDailyDigest.DefaultThreshold())
	assert.Equal(t, 0.0, RuleKindWeeklyReport.DefaultThreshold())
}
