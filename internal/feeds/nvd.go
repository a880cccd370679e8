package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/quantumlayerhq/aetim/internal/retry"
	"github.com/quantumlayerhq/aetim/pkg/logger"
	"github.com/quantumlayerhq/aetim/pkg/models"
	"github.com/quantumlayerhq/aetim/pkg/ratelimit"
)

const (
	defaultNVDBaseURL = "https://services.nvd.nist.gov/rest/json/cves/2.0"
	nvdPageSize       = 2000
	nvdDateLayout     = "2006-01-02T15:04:05.000 UTC-00:00"
	nvdDefaultWindow  = 7 * 24 * time.Hour
	nvdRateWindow     = 6 * time.Second
)

// NVDDriver collects CVEs from the NVD v2.0 REST API. It honours the
// published request budget: 5 requests per rolling 6 seconds without an API
// key, 50 with one.
type NVDDriver struct {
	client  *http.Client
	baseURL string
	apiKey  string
	limiter *ratelimit.Limiter
	log     *logger.Logger
}

// NewNVDDriver builds the driver. baseURL overrides the API location when
// non-empty; apiKey may be empty.
func NewNVDDriver(client *http.Client, baseURL, apiKey string, log *logger.Logger) *NVDDriver {
	if baseURL == "" {
		baseURL = defaultNVDBaseURL
	}
	maxRequests := 5
	if apiKey != "" {
		maxRequests = 50
	}
	return &NVDDriver{
		client:  client,
		baseURL: baseURL,
		apiKey:  apiKey,
		limiter: ratelimit.New(maxRequests, nvdRateWindow),
		log:     log.WithComponent("nvd_driver"),
	}
}

func (d *NVDDriver) FeedType() models.FeedType { return models.FeedTypeNVD }

type nvdResponse struct {
	ResultsPerPage  int `json:"resultsPerPage"`
	StartIndex      int `json:"startIndex"`
	TotalResults    int `json:"totalResults"`
	Vulnerabilities []struct {
		CVE nvdCVE `json:"cve"`
	} `json:"vulnerabilities"`
}

type nvdCVE struct {
	ID           string `json:"id"`
	Published    string `json:"published"`
	Descriptions []struct {
		Lang  string `json:"lang"`
		Value string `json:"value"`
	} `json:"descriptions"`
	Metrics struct {
		CVSSMetricV31 []nvdMetric `json:"cvssMetricV31"`
		CVSSMetricV30 []nvdMetric `json:"cvssMetricV30"`
		CVSSMetricV2  []nvdMetric `json:"cvssMetricV2"`
	} `json:"metrics"`
	Configurations []struct {
		Nodes []struct {
			CPEMatch []struct {
				Criteria string `json:"criteria"`
			} `json:"cpeMatch"`
		} `json:"nodes"`
	} `json:"configurations"`
}

type nvdMetric struct {
	CVSSData struct {
		BaseScore    float64 `json:"baseScore"`
		VectorString string  `json:"vectorString"`
	} `json:"cvssData"`
}

// Collect pages through the publication window. A nil since defaults to the
// last seven days.
func (d *NVDDriver) Collect(ctx context.Context, feed models.Feed, since, until *time.Time) ([]models.Threat, error) {
	end := time.Now().UTC()
	if until != nil {
		end = *until
	}
	start := end.Add(-nvdDefaultWindow)
	if since != nil {
		start = *since
	}

	headers := map[string]string{}
	if d.apiKey != "" {
		headers["apiKey"] = d.apiKey
	}

	var threats []models.Threat
	for startIndex := 0; ; {
		if err := d.limiter.Acquire(ctx); err != nil {
			return nil, err
		}

		page, err := d.fetchPage(ctx, start, end, startIndex, headers)
		if err != nil {
			return nil, err
		}

		for _, v := range page.Vulnerabilities {
			threat, err := d.toThreat(feed, v.CVE)
			if err != nil {
				d.log.Warn("skipping malformed record", "cve", v.CVE.ID, "error", err)
				continue
			}
			threats = append(threats, threat)
		}

		startIndex += len(page.Vulnerabilities)
		if startIndex >= page.TotalResults || len(page.Vulnerabilities) == 0 {
			break
		}
	}

	d.log.Info("nvd collection complete", "threats", len(threats), "window_start", start, "window_end", end)
	return threats, nil
}

func (d *NVDDriver) fetchPage(ctx context.Context, start, end time.Time, startIndex int, headers map[string]string) (*nvdResponse, error) {
	params := url.Values{}
	params.Set("startIndex", fmt.Sprintf("%d", startIndex))
	params.Set("resultsPerPage", fmt.Sprintf("%d", nvdPageSize))
	params.Set("pubStartDate", start.UTC().Format(nvdDateLayout))
	params.Set("pubEndDate", end.UTC().Format(nvdDateLayout))

	body, err := fetch(ctx, d.client, d.baseURL+"?"+params.Encode(), headers)
	if err != nil {
		return nil, err
	}

	var page nvdResponse
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, &retry.DataFormatError{Source: "nvd", Err: err}
	}
	return &page, nil
}

func (d *NVDDriver) toThreat(feed models.Feed, cve nvdCVE) (models.Threat, error) {
	if cve.ID == "" {
		return models.Threat{}, fmt.Errorf("record without id")
	}

	description := ""
	for _, desc := range cve.Descriptions {
		if desc.Lang == "en" {
			description = desc.Value
			break
		}
	}
	if description == "" && len(cve.Descriptions) > 0 {
		description = cve.Descriptions[0].Value
	}

	threat := models.Threat{
		FeedID:      feed.ID,
		CVEID:       strPtr(cve.ID),
		Title:       cve.ID,
		Description: description,
		Severity:    models.SeverityLow,
		CollectedAt: time.Now().UTC(),
		SourceURL:   "https://nvd.nist.gov/vuln/detail/" + cve.ID,
		Status:      models.ThreatStatusNew,
		Products:    parseCPEs(cve),
	}
	threat.RawPayload, _ = json.Marshal(cve)

	if published, err := time.Parse(time.RFC3339, cve.Published); err == nil {
		threat.PublishedAt = &published
	} else if published, err := time.Parse("2006-01-02T15:04:05.000", cve.Published); err == nil {
		threat.PublishedAt = &published
	}

	// CVSS preference order: v3.1, then v3.0, then v2.0.
	for _, metrics := range [][]nvdMetric{
		cve.Metrics.CVSSMetricV31,
		cve.Metrics.CVSSMetricV30,
		cve.Metrics.CVSSMetricV2,
	} {
		if len(metrics) > 0 {
			threat.CVSSScore = floatPtr(metrics[0].CVSSData.BaseScore)
			threat.CVSSVector = strPtr(metrics[0].CVSSData.VectorString)
			threat.Severity = models.SeverityFromCVSS(metrics[0].CVSSData.BaseScore)
			break
		}
	}

	return threat, nil
}

// parseCPEs maps cpe:2.3:{a|o|h}:vendor:product:version:... criteria into
// product references.
func parseCPEs(cve nvdCVE) []models.ThreatProduct {
	seen := make(map[string]struct{})
	var products []models.ThreatProduct

	for _, cfg := range cve.Configurations {
		for _, node := range cfg.Nodes {
			for _, match := range node.CPEMatch {
				product, ok := parseCPE(match.Criteria)
				if !ok {
					continue
				}
				key := product.Name
				if product.Version != nil {
					key += "@" + *product.Version
				}
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
				products = append(products, product)
			}
		}
	}
	return products
}

func parseCPE(criteria string) (models.ThreatProduct, bool) {
	parts := strings.Split(criteria, ":")
	if len(parts) < 6 || parts[0] != "cpe" || parts[1] != "2.3" {
		return models.ThreatProduct{}, false
	}

	var ptype models.ProductType
	switch parts[2] {
	case "a":
		ptype = models.ProductTypeApplication
	case "o":
		ptype = models.ProductTypeOS
	case "h":
		ptype = models.ProductTypeHardware
	default:
		return models.ThreatProduct{}, false
	}

	vendor := strings.ReplaceAll(parts[3], "_", " ")
	name := strings.ReplaceAll(parts[4], "_", " ")
	if name == "" || name == "*" {
		return models.ThreatProduct{}, false
	}

	product := models.ThreatProduct{
		Name:         strings.TrimSpace(vendor + " " + name),
		Type:         ptype,
		OriginalText: strPtr(criteria),
	}
	if version := parts[5]; version != "*" && version != "-" && version != "" {
		product.Version = strPtr(version)
	}
	return product, true
}
