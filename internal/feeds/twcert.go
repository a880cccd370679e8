package feeds

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/quantumlayerhq/aetim/internal/extract"
	"github.com/quantumlayerhq/aetim/internal/retry"
	"github.com/quantumlayerhq/aetim/pkg/logger"
	"github.com/quantumlayerhq/aetim/pkg/models"
)

var twcertAdvisoryRe = regexp.MustCompile(`/twcert/advisory/`)

// TextExtractor pulls structured tokens out of prose. The TWCERT driver
// needs one because its advisories are unstructured Chinese text.
type TextExtractor interface {
	Extract(ctx context.Context, text string) extract.Result
}

// TWCERTDriver scrapes the TWCERT advisory index and runs each advisory
// page through the extractor.
type TWCERTDriver struct {
	client    *http.Client
	indexURL  string
	extractor TextExtractor
	log       *logger.Logger
}

// NewTWCERTDriver builds the driver. indexURL overrides the feed's own URL
// when non-empty; extractor is required.
func NewTWCERTDriver(client *http.Client, indexURL string, extractor TextExtractor, log *logger.Logger) *TWCERTDriver {
	return &TWCERTDriver{
		client:    client,
		indexURL:  indexURL,
		extractor: extractor,
		log:       log.WithComponent("twcert_driver"),
	}
}

func (d *TWCERTDriver) FeedType() models.FeedType { return models.FeedTypeTWCERT }

// Collect scrapes the index for advisory anchors, fetches each page, and
// emits one threat per extracted CVE. Pages without a CVE yield a single
// CVE-less threat carrying the advisory title.
func (d *TWCERTDriver) Collect(ctx context.Context, feed models.Feed, since, until *time.Time) ([]models.Threat, error) {
	indexURL := d.indexURL
	if indexURL == "" {
		indexURL = feed.URL
	}

	body, err := fetch(ctx, d.client, indexURL, nil)
	if err != nil {
		return nil, err
	}

	links, err := advisoryLinks(body, indexURL, twcertAdvisoryRe)
	if err != nil {
		return nil, &retry.DataFormatError{Source: "twcert", Err: err}
	}

	var threats []models.Threat
	for _, link := range links {
		page, err := fetch(ctx, d.client, link, nil)
		if err != nil {
			d.log.Warn("skipping unreachable advisory page", "url", link, "error", err)
			continue
		}

		threats = append(threats, d.pageThreats(ctx, feed, link, page)...)
	}

	d.log.Info("twcert collection complete", "advisories", len(links), "threats", len(threats))
	return threats, nil
}

func (d *TWCERTDriver) pageThreats(ctx context.Context, feed models.Feed, link string, page []byte) []models.Threat {
	text := htmlText(page)
	title := htmlTitle(page)
	if title == "" {
		title = link
	}

	result := d.extractor.Extract(ctx, text)

	base := models.Threat{
		FeedID:      feed.ID,
		Title:       title,
		Description: text,
		Severity:    models.SeverityMedium,
		CollectedAt: time.Now().UTC(),
		SourceURL:   link,
		Status:      models.ThreatStatusNew,
		RawPayload:  page,
		Products:    toThreatProducts(result.Products),
		TTPs:        result.TTPs,
		IOCs: models.IOCSet{
			IPs:     result.IOCs.IPs,
			Domains: result.IOCs.Domains,
			Hashes:  result.IOCs.Hashes,
		},
	}

	if len(result.CVEs) == 0 {
		return []models.Threat{base}
	}

	threats := make([]models.Threat, 0, len(result.CVEs))
	for _, cve := range result.CVEs {
		t := base
		t.CVEID = strPtr(cve)
		threats = append(threats, t)
	}
	return threats
}

// toThreatProducts converts extractor products into threat products.
func toThreatProducts(products []extract.Product) []models.ThreatProduct {
	out := make([]models.ThreatProduct, 0, len(products))
	for _, p := range products {
		tp := models.ThreatProduct{
			Name:         p.Name,
			Version:      strPtr(p.Version),
			OriginalText: strPtr(p.OriginalText),
		}
		if p.Type != "" {
			tp.Type = models.ProductType(p.Type)
		}
		out = append(out, tp)
	}
	return out
}
