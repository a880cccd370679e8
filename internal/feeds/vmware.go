package feeds

import (
	"context"
	"encoding/xml"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/quantumlayerhq/aetim/internal/extract"
	"github.com/quantumlayerhq/aetim/internal/retry"
	"github.com/quantumlayerhq/aetim/pkg/logger"
	"github.com/quantumlayerhq/aetim/pkg/models"
)

const defaultVMwareRSSURL = "https://www.vmware.com/security/advisories.xml"

var vmsaRe = regexp.MustCompile(`VMSA-\d{4}-\d{4}`)

// VMwareDriver collects VMSA advisories, preferring the RSS feed and
// falling back to scraping the advisories index when the feed is empty.
type VMwareDriver struct {
	client   *http.Client
	rssURL   string
	indexURL string
	log      *logger.Logger
}

// NewVMwareDriver builds the driver. rssURL overrides the RSS location when
// non-empty; indexURL overrides the feed's own URL for the index scrape.
func NewVMwareDriver(client *http.Client, rssURL, indexURL string, log *logger.Logger) *VMwareDriver {
	if rssURL == "" {
		rssURL = defaultVMwareRSSURL
	}
	return &VMwareDriver{
		client:   client,
		rssURL:   rssURL,
		indexURL: indexURL,
		log:      log.WithComponent("vmware_driver"),
	}
}

func (d *VMwareDriver) FeedType() models.FeedType { return models.FeedTypeVMware }

type vmwareRSS struct {
	Channel struct {
		Items []vmwareItem `xml:"item"`
	} `xml:"channel"`
}

type vmwareItem struct {
	Title       string `xml:"title"`
	Description string `xml:"description"`
	Link        string `xml:"link"`
	PubDate     string `xml:"pubDate"`
}

// Collect parses the RSS feed into threats. When the feed carries no items,
// the advisories index page is scraped for VMSA links instead.
func (d *VMwareDriver) Collect(ctx context.Context, feed models.Feed, since, until *time.Time) ([]models.Threat, error) {
	body, err := fetch(ctx, d.client, d.rssURL, nil)
	if err != nil {
		return nil, err
	}

	var rss vmwareRSS
	if err := xml.Unmarshal(body, &rss); err != nil {
		return nil, &retry.DataFormatError{Source: "vmware", Err: err}
	}

	if len(rss.Channel.Items) == 0 {
		indexURL := d.indexURL
		if indexURL == "" {
			indexURL = feed.URL
		}
		if indexURL != "" {
			d.log.Info("rss feed empty, scraping advisories index", "url", indexURL)
			return d.scrapeIndex(ctx, feed, indexURL)
		}
	}

	var threats []models.Threat
	for _, item := range rss.Channel.Items {
		if !vmsaRe.MatchString(item.Title) {
			continue
		}
		published := parseRSSDate(item.PubDate)
		if published != nil && !inWindow(*published, since, until) {
			continue
		}
		threats = append(threats, d.itemThreats(feed, item, published)...)
	}

	d.log.Info("vmware collection complete", "threats", len(threats))
	return threats, nil
}

// itemThreats emits one threat per CVE named in the advisory, or a single
// CVE-less threat when the advisory names none.
func (d *VMwareDriver) itemThreats(feed models.Feed, item vmwareItem, published *time.Time) []models.Threat {
	base := models.Threat{
		FeedID:      feed.ID,
		Title:       item.Title,
		Description: item.Description,
		Severity:    models.SeverityMedium,
		PublishedAt: published,
		CollectedAt: time.Now().UTC(),
		SourceURL:   item.Link,
		Status:      models.ThreatStatusNew,
		RawPayload:  []byte(item.Title + "\n" + item.Description),
	}

	cves := extract.ExtractCVEs(item.Title + " " + item.Description)
	if len(cves) == 0 {
		return []models.Threat{base}
	}

	threats := make([]models.Threat, 0, len(cves))
	for _, cve := range cves {
		t := base
		t.CVEID = strPtr(cve)
		threats = append(threats, t)
	}
	return threats
}

// scrapeIndex walks the advisories index for VMSA anchors and fetches each
// advisory page.
func (d *VMwareDriver) scrapeIndex(ctx context.Context, feed models.Feed, indexURL string) ([]models.Threat, error) {
	body, err := fetch(ctx, d.client, indexURL, nil)
	if err != nil {
		return nil, err
	}

	links, err := advisoryLinks(body, indexURL, vmsaRe)
	if err != nil {
		return nil, &retry.DataFormatError{Source: "vmware", Err: err}
	}

	var threats []models.Threat
	for _, link := range links {
		page, err := fetch(ctx, d.client, link, nil)
		if err != nil {
			d.log.Warn("skipping unreachable advisory page", "url", link, "error", err)
			continue
		}

		text := htmlText(page)
		title := vmsaRe.FindString(link)
		if t := htmlTitle(page); t != "" {
			title = t
		}

		item := vmwareItem{Title: title, Description: text, Link: link}
		threats = append(threats, d.itemThreats(feed, item, nil)...)
	}
	return threats, nil
}

func parseRSSDate(v string) *time.Time {
	for _, layout := range []string{time.RFC1123Z, time.RFC1123, time.RFC822Z, time.RFC822} {
		if ts, err := time.Parse(layout, v); err == nil {
			return &ts
		}
	}
	return nil
}

// advisoryLinks extracts absolute anchor targets whose href matches pattern.
func advisoryLinks(page []byte, baseURL string, pattern *regexp.Regexp) ([]string, error) {
	doc, err := html.Parse(strings.NewReader(string(page)))
	if err != nil {
		return nil, err
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var links []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key != "href" || !pattern.MatchString(attr.Val) {
					continue
				}
				ref, err := url.Parse(attr.Val)
				if err != nil {
					continue
				}
				abs := base.ResolveReference(ref).String()
				if _, dup := seen[abs]; !dup {
					seen[abs] = struct{}{}
					links = append(links, abs)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return links, nil
}

// htmlText flattens a page to its visible text.
func htmlText(page []byte) string {
	doc, err := html.Parse(strings.NewReader(string(page)))
	if err != nil {
		return string(page)
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				sb.WriteString(text)
				sb.WriteString(" ")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return strings.TrimSpace(sb.String())
}

func htmlTitle(page []byte) string {
	doc, err := html.Parse(strings.NewReader(string(page)))
	if err != nil {
		return ""
	}

	var title string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if title != "" {
			return
		}
		if n.Type == html.ElementNode && n.Data == "title" && n.FirstChild != nil {
			title = strings.TrimSpace(n.FirstChild.Data)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return title
}
