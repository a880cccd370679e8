package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quantumlayerhq/aetim/internal/events"
	"github.com/quantumlayerhq/aetim/pkg/logger"
	"github.com/quantumlayerhq/aetim/pkg/models"
)

// ThreatStore loads threats for rendering.
type ThreatStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Threat, error)
}

// AssociationStore lists the associations behind an assessment.
type AssociationStore interface {
	ListByThreat(ctx context.Context, threatID uuid.UUID) ([]models.Association, error)
}

// AssetStore loads the affected assets.
type AssetStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Asset, error)
}

// ReportStore persists report records.
type ReportStore interface {
	Create(ctx context.Context, report *models.Report) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Report, error)
	Update(ctx context.Context, report *models.Report) error
	ListTickets(ctx context.Context) ([]models.Report, error)
}

// TicketContent is the structured ticket body. The JSON rendering is
// symmetric: marshalling and re-parsing yields the same content.
type TicketContent struct {
	Title       string                `json:"title"`
	CVE         string                `json:"cve,omitempty"`
	Description string                `json:"description"`
	CVSSScore   *float64              `json:"cvss_score,omitempty"`
	FinalScore  float64               `json:"final_score"`
	RiskLevel   models.RiskLevel      `json:"risk_level"`
	Priority    models.TicketPriority `json:"priority"`
	SourceURL   string                `json:"source_url"`
	Assets      []TicketAsset         `json:"assets"`
}

// TicketAsset is one affected asset in the ticket body.
type TicketAsset struct {
	Hostname   string   `json:"hostname"`
	IPs        []string `json:"ips,omitempty"`
	Owner      string   `json:"owner"`
	OS         string   `json:"os"`
	Products   []string `json:"products,omitempty"`
	Confidence float64  `json:"confidence"`
	MatchKind  string   `json:"match_kind"`
}

// TicketGenerator turns high-risk assessments into IT tickets.
type TicketGenerator struct {
	minScore     float64
	baseDir      string
	threats      ThreatStore
	associations AssociationStore
	assets       AssetStore
	reports      ReportStore
	bus          *events.Bus
	log          *logger.Logger
}

// NewTicketGenerator wires the ticket pipeline. minScore defaults to 6.0.
func NewTicketGenerator(
	minScore float64,
	baseDir string,
	threats ThreatStore,
	associations AssociationStore,
	assets AssetStore,
	reports ReportStore,
	bus *events.Bus,
	log *logger.Logger,
) *TicketGenerator {
	if minScore <= 0 {
		minScore = 6.0
	}
	return &TicketGenerator{
		minScore:     minScore,
		baseDir:      baseDir,
		threats:      threats,
		associations: associations,
		assets:       assets,
		reports:      reports,
		bus:          bus,
		log:          log.WithComponent("ticket_generator"),
	}
}

// Subscribe hooks the generator onto completed risk assessments.
func (g *TicketGenerator) Subscribe(bus *events.Bus) {
	bus.Subscribe(events.RiskAssessmentCompleted, func(e events.Event) {
		payload, ok := e.Payload.(events.RiskAssessmentCompletedPayload)
		if !ok {
			return
		}
		if payload.FinalScore < g.minScore {
			return
		}
		if _, err := g.Generate(context.Background(), payload.ThreatID, payload.FinalScore, payload.Level); err != nil {
			g.log.Error("ticket generation failed", "threat_id", payload.ThreatID, "error", err)
		}
	})
}

// Generate creates one Pending ticket for the threat at the given score.
func (g *TicketGenerator) Generate(ctx context.Context, threatID uuid.UUID, finalScore float64, level models.RiskLevel) (*models.Report, error) {
	threat, err := g.threats.GetByID(ctx, threatID)
	if err != nil {
		return nil, fmt.Errorf("loading threat %s: %w", threatID, err)
	}

	content, err := g.buildContent(ctx, threat, finalScore, level)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	body := RenderTicketText(content)

	metadata, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("encoding ticket content: %w", err)
	}

	pending := models.TicketStatusPending
	rpt := &models.Report{
		Kind:         models.ReportKindItTicket,
		Title:        content.Title,
		Path:         relativePath(models.ReportKindItTicket, now, shortID(), models.ReportFormatTXT),
		Format:       models.ReportFormatTXT,
		GeneratedAt:  now,
		Metadata:     metadata,
		TicketStatus: &pending,
	}

	if g.baseDir != "" {
		if err := writeAtomic(g.baseDir, rpt.Path, []byte(body)); err != nil {
			return nil, err
		}
	}
	if err := g.reports.Create(ctx, rpt); err != nil {
		return nil, fmt.Errorf("persisting ticket: %w", err)
	}

	g.log.Info("ticket created", "report_id", rpt.ID, "title", rpt.Title, "priority", content.Priority)
	return rpt, nil
}

// UpdateStatus moves a ticket along its state machine and publishes the
// change.
func (g *TicketGenerator) UpdateStatus(ctx context.Context, reportID uuid.UUID, next models.TicketStatus) error {
	rpt, err := g.reports.GetByID(ctx, reportID)
	if err != nil {
		return fmt.Errorf("loading ticket %s: %w", reportID, err)
	}

	var old models.TicketStatus
	if rpt.TicketStatus != nil {
		old = *rpt.TicketStatus
	}
	if err := rpt.TransitionTicket(next); err != nil {
		return err
	}
	if err := g.reports.Update(ctx, rpt); err != nil {
		return fmt.Errorf("persisting ticket status: %w", err)
	}

	g.bus.Publish(events.TicketStatusUpdated, events.TicketStatusUpdatedPayload{
		ReportID:  reportID,
		OldStatus: old,
		NewStatus: next,
	})
	return nil
}

// Export renders one ticket in the requested format.
func (g *TicketGenerator) Export(ctx context.Context, reportID uuid.UUID, format models.ReportFormat) ([]byte, error) {
	rpt, err := g.reports.GetByID(ctx, reportID)
	if err != nil {
		return nil, fmt.Errorf("loading ticket %s: %w", reportID, err)
	}
	if rpt.Kind != models.ReportKindItTicket {
		return nil, &models.ValidationError{Field: "kind", Message: "report is not a ticket"}
	}

	content, err := ParseTicketContent(rpt.Metadata)
	if err != nil {
		return nil, err
	}

	switch format {
	case models.ReportFormatTXT:
		return []byte(RenderTicketText(content)), nil
	case models.ReportFormatJSON:
		return json.MarshalIndent(content, "", "  ")
	case models.ReportFormatHTML, models.ReportFormatPDF:
		return RenderTicketHTML(content)
	default:
		return nil, &models.ValidationError{Field: "format", Message: fmt.Sprintf("unsupported format %q", format)}
	}
}

// ExportBatch renders every ticket into the JSON export envelope.
func (g *TicketGenerator) ExportBatch(ctx context.Context) ([]byte, error) {
	tickets, err := g.reports.ListTickets(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing tickets: %w", err)
	}

	envelope := models.TicketExportEnvelope{
		ExportedAt:  time.Now().UTC(),
		TicketCount: len(tickets),
		Tickets:     make([]models.TicketExport, 0, len(tickets)),
	}
	for _, t := range tickets {
		status := models.TicketStatusPending
		if t.TicketStatus != nil {
			status = *t.TicketStatus
		}
		body := ""
		if content, err := ParseTicketContent(t.Metadata); err == nil {
			body = RenderTicketText(content)
		}
		envelope.Tickets = append(envelope.Tickets, models.TicketExport{
			ID:           t.ID,
			Title:        t.Title,
			TicketStatus: status,
			GeneratedAt:  t.GeneratedAt,
			Body:         body,
		})
	}

	return json.MarshalIndent(envelope, "", "  ")
}

func (g *TicketGenerator) buildContent(ctx context.Context, threat *models.Threat, finalScore float64, level models.RiskLevel) (TicketContent, error) {
	subject := threat.Title
	cve := ""
	if threat.CVEID != nil {
		subject = *threat.CVEID
		cve = *threat.CVEID
	}

	content := TicketContent{
		Title:       "IT Ticket - " + subject,
		CVE:         cve,
		Description: threat.Description,
		CVSSScore:   threat.CVSSScore,
		FinalScore:  finalScore,
		RiskLevel:   level,
		Priority:    models.TicketPriorityFromScore(finalScore),
		SourceURL:   threat.SourceURL,
	}

	associations, err := g.associations.ListByThreat(ctx, threat.ID)
	if err != nil {
		return TicketContent{}, fmt.Errorf("listing associations: %w", err)
	}
	for _, assoc := range associations {
		asset, err := g.assets.GetByID(ctx, assoc.AssetID)
		if err != nil {
			g.log.Warn("skipping unloadable asset", "asset_id", assoc.AssetID, "error", err)
			continue
		}
		products := make([]string, 0, len(asset.Products))
		for _, p := range asset.Products {
			label := p.Name
			if p.Version != "" {
				label += " " + p.Version
			}
			products = append(products, label)
		}
		content.Assets = append(content.Assets, TicketAsset{
			Hostname:   asset.Hostname,
			IPs:        asset.IPAddresses,
			Owner:      asset.Owner,
			OS:         asset.OperatingSystem,
			Products:   products,
			Confidence: assoc.Confidence,
			MatchKind:  string(assoc.MatchKind),
		})
	}

	return content, nil
}

// ParseTicketContent is the inverse of the JSON rendering.
func ParseTicketContent(data []byte) (TicketContent, error) {
	var content TicketContent
	if err := json.Unmarshal(data, &content); err != nil {
		return TicketContent{}, fmt.Errorf("parsing ticket content: %w", err)
	}
	return content, nil
}

// RenderTicketText renders the plain-text ticket body.
func RenderTicketText(c TicketContent) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s\n%s\n\n", c.Title, strings.Repeat("=", len(c.Title)))
	if c.CVE != "" {
		fmt.Fprintf(&sb, "CVE: %s\n", c.CVE)
	}
	if c.CVSSScore != nil {
		fmt.Fprintf(&sb, "CVSS base score: %.1f\n", *c.CVSSScore)
	}
	fmt.Fprintf(&sb, "Final risk score: %.2f (%s)\n", c.FinalScore, c.RiskLevel)
	fmt.Fprintf(&sb, "Priority: %s\n\n", c.Priority)
	fmt.Fprintf(&sb, "Description:\n%s\n\n", c.Description)

	fmt.Fprintf(&sb, "Affected assets (%d):\n", len(c.Assets))
	for _, a := range c.Assets {
		fmt.Fprintf(&sb, "  - %s (owner: %s, os: %s)\n", a.Hostname, a.Owner, a.OS)
		if len(a.IPs) > 0 {
			fmt.Fprintf(&sb, "    ips: %s\n", strings.Join(a.IPs, ", "))
		}
		if len(a.Products) > 0 {
			fmt.Fprintf(&sb, "    products: %s\n", strings.Join(a.Products, "; "))
		}
		fmt.Fprintf(&sb, "    match: %s (confidence %.2f)\n", a.MatchKind, a.Confidence)
	}

	if c.SourceURL != "" {
		fmt.Fprintf(&sb, "\nRemediation reference: %s\n", c.SourceURL)
	}
	return sb.String()
}

// cvss dereferences the optional score for the template; printf on the
// pointer itself would render the address.
var ticketFuncs = template.FuncMap{
	"cvss": func(v *float64) string {
		if v == nil {
			return ""
		}
		return fmt.Sprintf("%.1f", *v)
	},
}

var ticketTemplate = template.Must(template.New("ticket").Funcs(ticketFuncs).Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body>
<h1>{{.Title}}</h1>
<table>
{{if .CVE}}<tr><th>CVE</th><td>{{.CVE}}</td></tr>{{end}}
{{if .CVSSScore}}<tr><th>CVSS base score</th><td>{{cvss .CVSSScore}}</td></tr>{{end}}
<tr><th>Final risk score</th><td>{{printf "%.2f" .FinalScore}} ({{.RiskLevel}})</td></tr>
<tr><th>Priority</th><td>{{.Priority}}</td></tr>
</table>
<h2>Description</h2>
<p>{{.Description}}</p>
<h2>Affected assets</h2>
<ul>
{{range .Assets}}<li><strong>{{.Hostname}}</strong> (owner: {{.Owner}}, os: {{.OS}}) &mdash; {{.MatchKind}}, confidence {{printf "%.2f" .Confidence}}</li>
{{end}}</ul>
{{if .SourceURL}}<p>Remediation reference: <a href="{{.SourceURL}}">{{.SourceURL}}</a></p>{{end}}
</body></html>
`))

// RenderTicketHTML renders the HTML ticket body.
func RenderTicketHTML(c TicketContent) ([]byte, error) {
	var buf bytes.Buffer
	if err := ticketTemplate.Execute(&buf, c); err != nil {
		return nil, fmt.Errorf("rendering ticket html: %w", err)
	}
	return buf.Bytes(), nil
}

func shortID() string {
	return uuid.New().String()[:8]
}
