package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/quantumlayerhq/aetim/internal/retry"
	"github.com/quantumlayerhq/aetim/pkg/logger"
	"github.com/quantumlayerhq/aetim/pkg/models"
)

const (
	defaultKEVURL    = "https://www.cisa.gov/sites/default/files/feeds/known_exploited_vulnerabilities.json"
	kevCataloguePage = "https://www.cisa.gov/known-exploited-vulnerabilities-catalog"
	kevDateLayout    = "2006-01-02"
)

// KEVDriver collects the CISA Known Exploited Vulnerabilities catalogue.
type KEVDriver struct {
	client *http.Client
	url    string
	log    *logger.Logger
}

// NewKEVDriver builds the driver. url overrides the catalogue location when
// non-empty.
func NewKEVDriver(client *http.Client, url string, log *logger.Logger) *KEVDriver {
	if url == "" {
		url = defaultKEVURL
	}
	return &KEVDriver{client: client, url: url, log: log.WithComponent("kev_driver")}
}

func (d *KEVDriver) FeedType() models.FeedType { return models.FeedTypeCISAKEV }

type kevCatalogue struct {
	Title           string `json:"title"`
	CatalogVersion  string `json:"catalogVersion"`
	Vulnerabilities []struct {
		CVEID             string   `json:"cveID"`
		VendorProject     string   `json:"vendorProject"`
		Product           string   `json:"product"`
		VulnerabilityName string   `json:"vulnerabilityName"`
		ShortDescription  string   `json:"shortDescription"`
		DateAdded         string   `json:"dateAdded"`
		RequiredAction    string   `json:"requiredAction"`
		CVSSScore         *float64 `json:"cvssScore,omitempty"`
	} `json:"vulnerabilities"`
}

// Collect fetches the catalogue and emits one threat per listed CVE inside
// the window. A KEV listing implies active exploitation, so severity
// defaults to High when no CVSS is carried.
func (d *KEVDriver) Collect(ctx context.Context, feed models.Feed, since, until *time.Time) ([]models.Threat, error) {
	body, err := fetch(ctx, d.client, d.url, nil)
	if err != nil {
		return nil, err
	}

	var catalogue kevCatalogue
	if err := json.Unmarshal(body, &catalogue); err != nil {
		return nil, &retry.DataFormatError{Source: "cisa_kev", Err: err}
	}

	now := time.Now().UTC()
	var threats []models.Threat
	for _, v := range catalogue.Vulnerabilities {
		added, err := time.Parse(kevDateLayout, v.DateAdded)
		if err != nil {
			d.log.Warn("skipping entry with unparseable dateAdded", "cve", v.CVEID, "date_added", v.DateAdded)
			continue
		}
		if !inWindow(added, since, until) {
			continue
		}

		description := v.ShortDescription
		if v.RequiredAction != "" {
			description = fmt.Sprintf("%s Required action: %s", description, v.RequiredAction)
		}

		severity := models.SeverityHigh
		if v.CVSSScore != nil {
			severity = models.SeverityFromCVSS(*v.CVSSScore)
		}

		raw, _ := json.Marshal(v)
		cve := v.CVEID
		threats = append(threats, models.Threat{
			FeedID:      feed.ID,
			CVEID:       &cve,
			Title:       v.VulnerabilityName,
			Description: description,
			CVSSScore:   v.CVSSScore,
			Severity:    severity,
			PublishedAt: &added,
			CollectedAt: now,
			SourceURL:   kevCataloguePage,
			Status:      models.ThreatStatusNew,
			RawPayload:  raw,
			Products: []models.ThreatProduct{{
				Name:         fmt.Sprintf("%s %s", v.VendorProject, v.Product),
				Type:         models.ProductTypeApplication,
				OriginalText: strPtr(fmt.Sprintf("%s %s", v.VendorProject, v.Product)),
			}},
		})
	}

	d.log.Info("kev collection complete", "total", len(catalogue.Vulnerabilities), "in_window", len(threats))
	return threats, nil
}
