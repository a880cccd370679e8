package feeds

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/quantumlayerhq/aetim/internal/retry"
	"github.com/quantumlayerhq/aetim/pkg/logger"
	"github.com/quantumlayerhq/aetim/pkg/models"
)

const defaultMSRCBaseURL = "https://api.msrc.microsoft.com"

// MSRCDriver collects Microsoft security updates via the CVRF v2.0 API:
// first the update index, then each update's CVRF document.
type MSRCDriver struct {
	client  *http.Client
	baseURL string
	apiKey  string
	log     *logger.Logger
}

// NewMSRCDriver builds the driver. baseURL overrides the API location when
// non-empty; apiKey may be empty.
func NewMSRCDriver(client *http.Client, baseURL, apiKey string, log *logger.Logger) *MSRCDriver {
	if baseURL == "" {
		baseURL = defaultMSRCBaseURL
	}
	return &MSRCDriver{client: client, baseURL: baseURL, apiKey: apiKey, log: log.WithComponent("msrc_driver")}
}

func (d *MSRCDriver) FeedType() models.FeedType { return models.FeedTypeMSRC }

type msrcUpdateIndex struct {
	Value []struct {
		ID          string `json:"ID"`
		ReleaseDate string `json:"InitialReleaseDate"`
	} `json:"value"`
}

type msrcCVRF struct {
	DocumentTitle struct {
		Value string `json:"Value"`
	} `json:"DocumentTitle"`
	Vulnerability []struct {
		CVE   string `json:"CVE"`
		Title struct {
			Value string `json:"Value"`
		} `json:"Title"`
		Notes []struct {
			Title string `json:"Title"`
			Type  int    `json:"Type"`
			Value string `json:"Value"`
		} `json:"Notes"`
		CVSSScoreSets []struct {
			BaseScore float64 `json:"BaseScore"`
			Vector    string  `json:"Vector"`
		} `json:"CVSSScoreSets"`
	} `json:"Vulnerability"`
}

// cvrfNoteTypeDescription is the CVRF note type carrying the prose
// description.
const cvrfNoteTypeDescription = 2

// Collect fetches the update index, then each in-window update's CVRF
// document, and emits one threat per distinct CVE.
func (d *MSRCDriver) Collect(ctx context.Context, feed models.Feed, since, until *time.Time) ([]models.Threat, error) {
	headers := map[string]string{"Accept": "application/json"}
	if d.apiKey != "" {
		headers["apiKey"] = d.apiKey
	}

	body, err := fetch(ctx, d.client, d.baseURL+"/cvrf/v2.0/updates", headers)
	if err != nil {
		return nil, err
	}

	var index msrcUpdateIndex
	if err := json.Unmarshal(body, &index); err != nil {
		return nil, &retry.DataFormatError{Source: "msrc", Err: err}
	}

	var threats []models.Threat
	for _, update := range index.Value {
		released, parseErr := time.Parse(time.RFC3339, update.ReleaseDate)
		if parseErr == nil && !inWindow(released, since, until) {
			continue
		}

		doc, raw, err := d.fetchCVRF(ctx, update.ID, headers)
		if err != nil {
			d.log.Warn("skipping unreachable update document", "update", update.ID, "error", err)
			continue
		}

		var publishedAt *time.Time
		if parseErr == nil {
			publishedAt = &released
		}
		threats = append(threats, d.documentThreats(feed, doc, raw, publishedAt)...)
	}

	d.log.Info("msrc collection complete", "threats", len(threats))
	return threats, nil
}

func (d *MSRCDriver) fetchCVRF(ctx context.Context, id string, headers map[string]string) (*msrcCVRF, []byte, error) {
	raw, err := fetch(ctx, d.client, d.baseURL+"/cvrf/v2.0/cvrf/"+id, headers)
	if err != nil {
		return nil, nil, err
	}

	var doc msrcCVRF
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, nil, &retry.DataFormatError{Source: "msrc", Err: err}
	}
	return &doc, raw, nil
}

// documentThreats emits one threat per distinct CVE in the document. The
// description prefers the English note of type Description.
func (d *MSRCDriver) documentThreats(feed models.Feed, doc *msrcCVRF, raw []byte, published *time.Time) []models.Threat {
	seen := make(map[string]struct{})
	var threats []models.Threat

	for _, vuln := range doc.Vulnerability {
		if vuln.CVE == "" {
			continue
		}
		if _, dup := seen[vuln.CVE]; dup {
			continue
		}
		seen[vuln.CVE] = struct{}{}

		description := ""
		for _, note := range vuln.Notes {
			if note.Type == cvrfNoteTypeDescription && note.Title == "Description" {
				description = note.Value
				break
			}
		}
		if description == "" {
			for _, note := range vuln.Notes {
				if note.Title == "Description" {
					description = note.Value
					break
				}
			}
		}

		title := vuln.Title.Value
		if title == "" {
			title = vuln.CVE
		}

		threat := models.Threat{
			FeedID:      feed.ID,
			CVEID:       strPtr(vuln.CVE),
			Title:       title,
			Description: description,
			Severity:    models.SeverityLow,
			PublishedAt: published,
			CollectedAt: time.Now().UTC(),
			SourceURL:   "https://msrc.microsoft.com/update-guide/vulnerability/" + vuln.CVE,
			Status:      models.ThreatStatusNew,
			RawPayload:  raw,
		}
		if len(vuln.CVSSScoreSets) > 0 {
			score := vuln.CVSSScoreSets[0].BaseScore
			threat.CVSSScore = floatPtr(score)
			threat.CVSSVector = strPtr(vuln.CVSSScoreSets[0].Vector)
			threat.Severity = models.SeverityFromCVSS(score)
		}
		threats = append(threats, threat)
	}

	return threats
}
