package notify

import (
	"bytes"
	"fmt"
	"text/template"
	"time"

	"github.com/quantumlayerhq/aetim/pkg/models"
)

// criticalThreatData feeds the critical-threat template.
type criticalThreatData struct {
	CVE           string
	Title         string
	FinalScore    float64
	Level         models.RiskLevel
	AffectedCount int
	SourceURL     string
}

var criticalThreatTemplate = template.Must(template.New("critical").Parse(
	`A threat crossed the critical risk threshold.

Identifier: {{if .CVE}}{{.CVE}}{{else}}{{.Title}}{{end}}
Final risk score: {{printf "%.2f" .FinalScore}} ({{.Level}})
Affected assets: {{.AffectedCount}}
{{if .SourceURL}}Reference: {{.SourceURL}}
{{end}}
Immediate triage is recommended.
`))

// digestRow is one line in the daily digest.
type digestRow struct {
	CVE        string
	Title      string
	FinalScore float64
	Level      models.RiskLevel
}

type digestData struct {
	Date      time.Time
	Threshold float64
	Rows      []digestRow
}

var dailyDigestTemplate = template.Must(template.New("digest").Parse(
	`High-risk digest for {{.Date.Format "2006-01-02"}}

{{len .Rows}} assessment(s) scored {{printf "%.1f" .Threshold}} or above in the last 24 hours:
{{range .Rows}}
  - {{if .CVE}}{{.CVE}}{{else}}{{.Title}}{{end}}: {{printf "%.2f" .FinalScore}} ({{.Level}})
{{- end}}
`))

// weeklyReportData feeds the weekly-report announcement.
type weeklyReportData struct {
	Title string
	Path  string
}

var weeklyReportTemplate = template.Must(template.New("weekly").Parse(
	`The weekly report is ready.

{{.Title}}
Stored at: {{.Path}}
`))

func render(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering %s notification: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}
