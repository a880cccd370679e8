package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/quantumlayerhq/aetim/internal/events"
	"github.com/quantumlayerhq/aetim/pkg/config"
	"github.com/quantumlayerhq/aetim/pkg/logger"
	"github.com/quantumlayerhq/aetim/pkg/models"
)

// StatsStore aggregates the reporting window.
type StatsStore interface {
	CountThreatsBetween(ctx context.Context, start, end time.Time) (int, error)
	ListAssessmentsBetween(ctx context.Context, start, end time.Time) ([]models.RiskAssessment, error)
}

// AssetLister provides the inventory snapshot for the asset statistics.
type AssetLister interface {
	List(ctx context.Context) ([]models.Asset, error)
}

// Summarizer produces the executive summary. Satisfied by the AI client;
// when it fails the generator falls back to a rule-based paraphrase.
type Summarizer interface {
	Summarize(ctx context.Context, content string, targetLength int, language, style string) (string, error)
}

// TopThreat is one digest row in the weekly report.
type TopThreat struct {
	CVE           string           `json:"cve,omitempty"`
	Title         string           `json:"title"`
	FinalScore    float64          `json:"final_score"`
	Level         models.RiskLevel `json:"level"`
	AffectedCount int              `json:"affected_count"`
}

// WeeklyStats is the aggregated content of one weekly report.
type WeeklyStats struct {
	PeriodStart   time.Time      `json:"period_start"`
	PeriodEnd     time.Time      `json:"period_end"`
	TotalThreats  int            `json:"total_threats"`
	CriticalCount int            `json:"critical_count"`
	MeanScore     float64        `json:"mean_score"`
	TopThreats    []TopThreat    `json:"top_threats"`
	AssetsByType  map[string]int `json:"assets_by_type"`
	AssetsByTier  map[string]int `json:"assets_by_tier"`
	PrevWeekTotal int            `json:"prev_week_total"`
	WeekDelta     int            `json:"week_delta"`
	PrevWeekMean  float64        `json:"prev_week_mean"`
	MeanDelta     float64        `json:"mean_delta"`
}

// WeeklyGenerator builds the Monday CISO report.
type WeeklyGenerator struct {
	cfg        config.ReportConfig
	tz         *time.Location
	stats      StatsStore
	threats    ThreatStore
	assets     AssetLister
	reports    ReportStore
	summarizer Summarizer
	pdfClient  *http.Client
	bus        *events.Bus
	log        *logger.Logger

	now func() time.Time
}

// NewWeeklyGenerator wires the weekly report pipeline. tz may be nil for UTC.
func NewWeeklyGenerator(
	cfg config.ReportConfig,
	tz *time.Location,
	stats StatsStore,
	threats ThreatStore,
	assets AssetLister,
	reports ReportStore,
	summarizer Summarizer,
	bus *events.Bus,
	log *logger.Logger,
) *WeeklyGenerator {
	if cfg.TopThreats <= 0 {
		cfg.TopThreats = 10
	}
	if tz == nil {
		tz = time.UTC
	}
	return &WeeklyGenerator{
		cfg:        cfg,
		tz:         tz,
		stats:      stats,
		threats:    threats,
		assets:     assets,
		reports:    reports,
		summarizer: summarizer,
		pdfClient:  &http.Client{Timeout: 30 * time.Second},
		bus:        bus,
		log:        log.WithComponent("weekly_report"),
		now:        time.Now,
	}
}

// Schedule registers the weekly job on the shared cron runner. The default
// cadence is Monday 09:00 in the configured timezone.
func (g *WeeklyGenerator) Schedule(c *cron.Cron) error {
	spec := g.cfg.WeeklyCron
	if spec == "" {
		spec = "0 9 * * 1"
	}
	_, err := c.AddFunc(spec, func() {
		if _, err := g.Generate(context.Background()); err != nil {
			g.log.Error("weekly report generation failed", "error", err)
		}
	})
	return err
}

// Generate builds, persists, and announces the report for the most recent
// complete week (previous Monday 00:00 through Sunday 23:59).
func (g *WeeklyGenerator) Generate(ctx context.Context) (*models.Report, error) {
	start, end := g.periodBounds(g.now().In(g.tz))

	stats, err := g.collect(ctx, start, end)
	if err != nil {
		return nil, err
	}

	summary := g.summarize(ctx, stats)

	html, err := renderWeeklyHTML(stats, summary)
	if err != nil {
		return nil, err
	}

	generatedAt := g.now().In(g.tz)
	relPath := relativePath(models.ReportKindCISOWeekly, generatedAt, "", models.ReportFormatHTML)
	if err := writeAtomic(g.cfg.BaseDir, relPath, html); err != nil {
		return nil, err
	}

	if g.cfg.RenderPDF {
		if err := g.renderPDF(ctx, html, generatedAt); err != nil {
			// The HTML artefact stands on its own; PDF is best effort.
			g.log.Warn("pdf rendering skipped", "error", err)
		}
	}

	metadata, err := json.Marshal(stats)
	if err != nil {
		return nil, fmt.Errorf("encoding report stats: %w", err)
	}

	periodStart := stats.PeriodStart
	periodEnd := stats.PeriodEnd
	rpt := &models.Report{
		Kind:        models.ReportKindCISOWeekly,
		Title:       fmt.Sprintf("CISO Weekly Report %s", start.Format("2006-01-02")),
		Path:        relPath,
		Format:      models.ReportFormatHTML,
		GeneratedAt: generatedAt.UTC(),
		PeriodStart: &periodStart,
		PeriodEnd:   &periodEnd,
		AISummary:   &summary,
		Metadata:    metadata,
	}
	if err := g.reports.Create(ctx, rpt); err != nil {
		return nil, fmt.Errorf("persisting report: %w", err)
	}

	g.bus.Publish(events.ReportGenerated, events.ReportGeneratedPayload{
		ReportID: rpt.ID,
		Kind:     models.ReportKindCISOWeekly,
		Title:    rpt.Title,
		Path:     rpt.Path,
	})

	g.log.Info("weekly report generated", "report_id", rpt.ID, "path", rpt.Path,
		"threats", stats.TotalThreats, "critical", stats.CriticalCount)
	return rpt, nil
}

// periodBounds returns the previous complete Monday-to-Sunday window.
func (g *WeeklyGenerator) periodBounds(now time.Time) (time.Time, time.Time) {
	daysSinceMonday := (int(now.Weekday()) + 6) % 7
	thisMonday := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, g.tz).
		AddDate(0, 0, -daysSinceMonday)
	start := thisMonday.AddDate(0, 0, -7)
	return start, thisMonday
}

func (g *WeeklyGenerator) collect(ctx context.Context, start, end time.Time) (*WeeklyStats, error) {
	total, err := g.stats.CountThreatsBetween(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("counting threats: %w", err)
	}
	prevTotal, err := g.stats.CountThreatsBetween(ctx, start.AddDate(0, 0, -7), start)
	if err != nil {
		return nil, fmt.Errorf("counting previous week: %w", err)
	}

	assessments, err := g.stats.ListAssessmentsBetween(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("listing assessments: %w", err)
	}
	prevAssessments, err := g.stats.ListAssessmentsBetween(ctx, start.AddDate(0, 0, -7), start)
	if err != nil {
		return nil, fmt.Errorf("listing previous week assessments: %w", err)
	}

	critical := 0
	// One digest row per threat, keeping its highest-scoring assessment.
	best := make(map[uuid.UUID]models.RiskAssessment)
	for _, a := range assessments {
		if a.FinalScore >= 8.0 {
			critical++
		}
		if cur, ok := best[a.ThreatID]; !ok || a.FinalScore > cur.FinalScore {
			best[a.ThreatID] = a
		}
	}

	top := make([]TopThreat, 0, len(best))
	for threatID, a := range best {
		row := TopThreat{FinalScore: a.FinalScore, Level: a.Level, AffectedCount: a.AffectedCount}
		if threat, err := g.threats.GetByID(ctx, threatID); err == nil {
			row.Title = threat.Title
			if threat.CVEID != nil {
				row.CVE = *threat.CVEID
			}
		}
		top = append(top, row)
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].FinalScore != top[j].FinalScore {
			return top[i].FinalScore > top[j].FinalScore
		}
		return top[i].Title < top[j].Title
	})
	if len(top) > g.cfg.TopThreats {
		top = top[:g.cfg.TopThreats]
	}

	byType := make(map[string]int)
	byTier := make(map[string]int)
	if assetList, err := g.assets.List(ctx); err != nil {
		g.log.Warn("asset statistics unavailable", "error", err)
	} else {
		for _, asset := range assetList {
			kind := "unclassified"
			if asset.AssetType != nil && *asset.AssetType != "" {
				kind = *asset.AssetType
			}
			byType[kind]++
			byTier[fmt.Sprintf("%.1fx%.1f", asset.SensitivityWeight, asset.CriticalityWeight)]++
		}
	}

	mean := meanFinalScore(assessments)
	prevMean := meanFinalScore(prevAssessments)

	return &WeeklyStats{
		PeriodStart:   start,
		PeriodEnd:     end.Add(-time.Second),
		TotalThreats:  total,
		CriticalCount: critical,
		MeanScore:     mean,
		TopThreats:    top,
		AssetsByType:  byType,
		AssetsByTier:  byTier,
		PrevWeekTotal: prevTotal,
		WeekDelta:     total - prevTotal,
		PrevWeekMean:  prevMean,
		MeanDelta:     mean - prevMean,
	}, nil
}

// meanFinalScore is zero over an empty window.
func meanFinalScore(assessments []models.RiskAssessment) float64 {
	if len(assessments) == 0 {
		return 0
	}
	var sum float64
	for _, a := range assessments {
		sum += a.FinalScore
	}
	return sum / float64(len(assessments))
}

// summarize asks the AI collaborator first and falls back to the built-in
// paraphrase when the service declines.
func (g *WeeklyGenerator) summarize(ctx context.Context, stats *WeeklyStats) string {
	if g.summarizer != nil {
		digest, _ := json.Marshal(stats)
		summary, err := g.summarizer.Summarize(ctx, string(digest), 150, "en", "executive")
		if err == nil && summary != "" {
			return summary
		}
		if err != nil {
			g.log.Warn("summarisation service unavailable, using fallback", "error", err)
		}
	}
	return fallbackSummary(stats)
}

// fallbackSummary is the rule-based paraphrase used when no summarisation
// service is reachable. Phrasing varies with the numbers so consecutive
// reports do not read identically.
func fallbackSummary(stats *WeeklyStats) string {
	trend := "held steady against"
	switch {
	case stats.WeekDelta > 0:
		trend = "rose compared to"
	case stats.WeekDelta < 0:
		trend = "declined compared to"
	}

	pressure := "routine"
	switch {
	case stats.CriticalCount >= 10:
		pressure = "sustained critical"
	case stats.CriticalCount >= 3:
		pressure = "elevated"
	case stats.CriticalCount >= 1:
		pressure = "notable"
	}

	lead := ""
	if len(stats.TopThreats) > 0 {
		t := stats.TopThreats[0]
		name := t.Title
		if t.CVE != "" {
			name = t.CVE
		}
		lead = fmt.Sprintf(" The highest-risk item was %s at %.2f, touching %d asset(s).",
			name, t.FinalScore, t.AffectedCount)
	}

	return fmt.Sprintf(
		"During the week of %s the organisation ingested %d threat(s), which %s the prior week's %d. "+
			"Risk pressure was %s, with %d assessment(s) scoring 8.0 or above.%s",
		stats.PeriodStart.Format("2 January 2006"),
		stats.TotalThreats, trend, stats.PrevWeekTotal,
		pressure, stats.CriticalCount, lead)
}

// renderPDF posts the HTML to the external renderer and stores the result
// next to the HTML artefact.
func (g *WeeklyGenerator) renderPDF(ctx context.Context, html []byte, generatedAt time.Time) error {
	if g.cfg.PDFRendererURL == "" {
		return fmt.Errorf("pdf renderer url not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.PDFRendererURL, bytes.NewReader(html))
	if err != nil {
		return fmt.Errorf("building renderer request: %w", err)
	}
	req.Header.Set("Content-Type", "text/html")

	resp, err := g.pdfClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling pdf renderer: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("pdf renderer returned %d", resp.StatusCode)
	}

	pdf, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading rendered pdf: %w", err)
	}
	return writeAtomic(g.cfg.BaseDir,
		relativePath(models.ReportKindCISOWeekly, generatedAt, "", models.ReportFormatPDF), pdf)
}

var weeklyTemplate = template.Must(template.New("weekly").Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>CISO Weekly Report</title></head>
<body>
<h1>CISO Weekly Report</h1>
<p>Reporting period: {{.Stats.PeriodStart.Format "2006-01-02"}} to {{.Stats.PeriodEnd.Format "2006-01-02"}}</p>

<h2>Executive summary</h2>
<p>{{.Summary}}</p>

<h2>Key figures</h2>
<table>
<tr><th>Threats ingested</th><td>{{.Stats.TotalThreats}}</td></tr>
<tr><th>Change vs previous week</th><td>{{printf "%+d" .Stats.WeekDelta}} (prior: {{.Stats.PrevWeekTotal}})</td></tr>
<tr><th>Mean risk score</th><td>{{printf "%.2f" .Stats.MeanScore}} ({{printf "%+.2f" .Stats.MeanDelta}} vs prior {{printf "%.2f" .Stats.PrevWeekMean}})</td></tr>
<tr><th>Assessments scoring 8.0+</th><td>{{.Stats.CriticalCount}}</td></tr>
</table>

<h2>Top threats</h2>
<table>
<tr><th>Identifier</th><th>Score</th><th>Level</th><th>Affected assets</th></tr>
{{range .Stats.TopThreats}}<tr><td>{{if .CVE}}{{.CVE}}{{else}}{{.Title}}{{end}}</td><td>{{printf "%.2f" .FinalScore}}</td><td>{{.Level}}</td><td>{{.AffectedCount}}</td></tr>
{{end}}</table>

<h2>Asset inventory</h2>
<h3>By type</h3>
<table>
{{range $kind, $count := .Stats.AssetsByType}}<tr><th>{{$kind}}</th><td>{{$count}}</td></tr>
{{end}}</table>
<h3>By sensitivity &times; criticality</h3>
<table>
{{range $tier, $count := .Stats.AssetsByTier}}<tr><th>{{$tier}}</th><td>{{$count}}</td></tr>
{{end}}</table>
</body></html>
`))

func renderWeeklyHTML(stats *WeeklyStats, summary string) ([]byte, error) {
	var buf bytes.Buffer
	err := weeklyTemplate.Execute(&buf, struct {
		Stats   *WeeklyStats
		Summary string
	}{stats, summary})
	if err != nil {
		return nil, fmt.Errorf("rendering weekly report: %w", err)
	}
	return buf.Bytes(), nil
}
