package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumlayerhq/aetim/internal/extract"
	"github.com/quantumlayerhq/aetim/internal/retry"
	"github.com/quantumlayerhq/aetim/pkg/logger"
	"github.com/quantumlayerhq/aetim/pkg/models"
)

func testLog() *logger.Logger { return logger.New("debug", "text") }

func testFeed(feedType models.FeedType) models.Feed {
	return models.Feed{ID: uuid.New(), Name: string(feedType), FeedType: feedType, Enabled: true}
}

// ruleExtractor adapts the rule engine to the driver extractor contract.
type ruleExtractor struct {
	engine *extract.Engine
}

func (r ruleExtractor) Extract(_ context.Context, text string) extract.Result {
	return r.engine.Extract(text)
}

// =============================================================================
// CISA KEV
// =============================================================================

const kevFixture = `{
  "title": "CISA Catalog of Known Exploited Vulnerabilities",
  "vulnerabilities": [
    {
      "cveID": "CVE-2024-1709",
      "vendorProject": "ConnectWise",
      "product": "ScreenConnect",
      "vulnerabilityName": "ConnectWise ScreenConnect Authentication Bypass",
      "shortDescription": "ScreenConnect contains an authentication bypass.",
      "dateAdded": "2024-02-22",
      "requiredAction": "Apply mitigations per vendor instructions.",
      "cvssScore": 10.0
    },
    {
      "cveID": "CVE-2024-21762",
      "vendorProject": "Fortinet",
      "product": "FortiOS",
      "vulnerabilityName": "Fortinet FortiOS Out-of-Bound Write",
      "shortDescription": "FortiOS contains an out-of-bound write.",
      "dateAdded": "2024-02-09",
      "requiredAction": "Apply updates."
    }
  ]
}`

func TestKEVDriverCollect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, kevFixture)
	}))
	defer srv.Close()

	driver := NewKEVDriver(srv.Client(), srv.URL, testLog())
	threats, err := driver.Collect(context.Background(), testFeed(models.FeedTypeCISAKEV), nil, nil)
	require.NoError(t, err)
	require.Len(t, threats, 2)

	scored := threats[0]
	require.NotNil(t, scored.CVEID)
	assert.Equal(t, "CVE-2024-1709", *scored.CVEID)
	assert.Equal(t, models.SeverityCritical, scored.Severity)
	assert.Contains(t, scored.Description, "Required action: Apply mitigations")
	assert.Equal(t, kevCataloguePage, scored.SourceURL)
	require.NotNil(t, scored.PublishedAt)
	assert.Equal(t, models.ThreatStatusNew, scored.Status)
	assert.NotEmpty(t, scored.RawPayload)

	// No CVSS on a KEV listing still means active exploitation.
	unscored := threats[1]
	assert.Nil(t, unscored.CVSSScore)
	assert.Equal(t, models.SeverityHigh, unscored.Severity)
}

func TestKEVDriverWindow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, kevFixture)
	}))
	defer srv.Close()

	since := time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC)
	driver := NewKEVDriver(srv.Client(), srv.URL, testLog())
	threats, err := driver.Collect(context.Background(), testFeed(models.FeedTypeCISAKEV), &since, nil)
	require.NoError(t, err)
	require.Len(t, threats, 1)
	assert.Equal(t, "CVE-2024-1709", *threats[0].CVEID)
}

func TestKEVDriverMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>not json</html>")
	}))
	defer srv.Close()

	driver := NewKEVDriver(srv.Client(), srv.URL, testLog())
	_, err := driver.Collect(context.Background(), testFeed(models.FeedTypeCISAKEV), nil, nil)
	require.Error(t, err)

	var dfe *retry.DataFormatError
	assert.ErrorAs(t, err, &dfe)
}

// =============================================================================
// NVD
// =============================================================================

func TestNVDDriverCollect(t *testing.T) {
	var sawKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawKey = r.Header.Get("apiKey")
		assert.Equal(t, "2000", r.URL.Query().Get("resultsPerPage"))
		assert.NotEmpty(t, r.URL.Query().Get("pubStartDate"))

		json.NewEncoder(w).Encode(map[string]any{
			"resultsPerPage": 1,
			"startIndex":     0,
			"totalResults":   1,
			"vulnerabilities": []map[string]any{{
				"cve": map[string]any{
					"id":        "CVE-2024-3400",
					"published": "2024-04-12T08:15:06.230",
					"descriptions": []map[string]string{
						{"lang": "es", "value": "descripcion"},
						{"lang": "en", "value": "A command injection vulnerability."},
					},
					"metrics": map[string]any{
						"cvssMetricV2": []map[string]any{{
							"cvssData": map[string]any{"baseScore": 9.8, "vectorString": "AV:N"},
						}},
						"cvssMetricV31": []map[string]any{{
							"cvssData": map[string]any{"baseScore": 10.0, "vectorString": "CVSS:3.1/AV:N"},
						}},
					},
					"configurations": []map[string]any{{
						"nodes": []map[string]any{{
							"cpeMatch": []map[string]any{
								{"criteria": "cpe:2.3:o:paloaltonetworks:pan-os:10.2.0:*:*:*:*:*:*:*"},
								{"criteria": "cpe:2.3:a:paloaltonetworks:globalprotect:*:*:*:*:*:*:*:*"},
							},
						}},
					}},
				},
			}},
		})
	}))
	defer srv.Close()

	driver := NewNVDDriver(srv.Client(), srv.URL, "secret-key", testLog())
	threats, err := driver.Collect(context.Background(), testFeed(models.FeedTypeNVD), nil, nil)
	require.NoError(t, err)
	require.Len(t, threats, 1)
	assert.Equal(t, "secret-key", sawKey)

	threat := threats[0]
	assert.Equal(t, "CVE-2024-3400", *threat.CVEID)
	// v3.1 wins over v2.
	require.NotNil(t, threat.CVSSScore)
	assert.Equal(t, 10.0, *threat.CVSSScore)
	assert.Equal(t, "CVSS:3.1/AV:N", *threat.CVSSVector)
	assert.Equal(t, models.SeverityCritical, threat.Severity)

	require.Len(t, threat.Products, 2)
	assert.Equal(t, "paloaltonetworks pan-os", threat.Products[0].Name)
	assert.Equal(t, models.ProductTypeOS, threat.Products[0].Type)
	require.NotNil(t, threat.Products[0].Version)
	assert.Equal(t, "10.2.0", *threat.Products[0].Version)
	assert.Equal(t, models.ProductTypeApplication, threat.Products[1].Type)
	assert.Nil(t, threat.Products[1].Version)
}

func TestNVDDriverPaging(t *testing.T) {
	pages := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pages++
		start := r.URL.Query().Get("startIndex")
		vulns := []map[string]any{{
			"cve": map[string]any{"id": fmt.Sprintf("CVE-2024-%s1", start)},
		}}
		json.NewEncoder(w).Encode(map[string]any{
			"totalResults":    2,
			"vulnerabilities": vulns,
		})
	}))
	defer srv.Close()

	driver := NewNVDDriver(srv.Client(), srv.URL, "k", testLog())
	threats, err := driver.Collect(context.Background(), testFeed(models.FeedTypeNVD), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, pages)
	assert.Len(t, threats, 2)
}

func TestParseCPE(t *testing.T) {
	tests := []struct {
		criteria string
		wantName string
		wantType models.ProductType
		wantVer  string
		ok       bool
	}{
		{"cpe:2.3:a:apache:tomcat:9.0.65:*:*:*:*:*:*:*", "apache tomcat", models.ProductTypeApplication, "9.0.65", true},
		{"cpe:2.3:o:microsoft:windows_server_2019:-:*:*:*:*:*:*:*", "microsoft windows server 2019", models.ProductTypeOS, "", true},
		{"cpe:2.3:h:cisco:asa_5505:*:*:*:*:*:*:*:*", "cisco asa 5505", models.ProductTypeHardware, "", true},
		{"cpe:2.2:a:x:y:1", "", "", "", false},
		{"not-a-cpe", "", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.criteria, func(t *testing.T) {
			got, ok := parseCPE(tt.criteria)
			require.Equal(t, tt.ok, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.wantName, got.Name)
			assert.Equal(t, tt.wantType, got.Type)
			if tt.wantVer == "" {
				assert.Nil(t, got.Version)
			} else {
				require.NotNil(t, got.Version)
				assert.Equal(t, tt.wantVer, *got.Version)
			}
		})
	}
}

// =============================================================================
// VMware
// =============================================================================

const vmwareRSSFixture = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel>
  <item>
    <title>VMSA-2024-0001: VMware ESXi updates address CVE-2024-22252 and CVE-2024-22253</title>
    <description>Use-after-free vulnerabilities in XHCI controller.</description>
    <link>https://www.vmware.com/security/advisories/VMSA-2024-0001.html</link>
    <pubDate>Tue, 05 Mar 2024 00:00:00 +0000</pubDate>
  </item>
  <item>
    <title>VMSA-2024-0002: VMware Aria advisory</title>
    <description>Hardening guidance, no tracked identifier.</description>
    <link>https://www.vmware.com/security/advisories/VMSA-2024-0002.html</link>
    <pubDate>Thu, 07 Mar 2024 00:00:00 +0000</pubDate>
  </item>
</channel></rss>`

func TestVMwareDriverRSS(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, vmwareRSSFixture)
	}))
	defer srv.Close()

	driver := NewVMwareDriver(srv.Client(), srv.URL, "", testLog())
	threats, err := driver.Collect(context.Background(), testFeed(models.FeedTypeVMware), nil, nil)
	require.NoError(t, err)
	require.Len(t, threats, 3)

	// First advisory fans out to one threat per CVE.
	assert.Equal(t, "CVE-2024-22252", *threats[0].CVEID)
	assert.Equal(t, "CVE-2024-22253", *threats[1].CVEID)
	assert.Equal(t, threats[0].Title, threats[1].Title)

	// Advisory without a CVE still yields one record.
	assert.Nil(t, threats[2].CVEID)
	assert.Contains(t, threats[2].Title, "VMSA-2024-0002")
}

func TestVMwareDriverScrapeFallback(t *testing.T) {
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/rss", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<?xml version="1.0"?><rss version="2.0"><channel></channel></rss>`)
	})
	mux.HandleFunc("/index", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<html><body><a href="%s/advisories/VMSA-2024-0010.html">VMSA-2024-0010</a></body></html>`, srv.URL)
	})
	mux.HandleFunc("/advisories/VMSA-2024-0010.html", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><title>VMSA-2024-0010</title></head><body>Fixes CVE-2024-22273 in ESXi.</body></html>`)
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	driver := NewVMwareDriver(srv.Client(), srv.URL+"/rss", srv.URL+"/index", testLog())
	threats, err := driver.Collect(context.Background(), testFeed(models.FeedTypeVMware), nil, nil)
	require.NoError(t, err)
	require.Len(t, threats, 1)
	assert.Equal(t, "CVE-2024-22273", *threats[0].CVEID)
	assert.Equal(t, "VMSA-2024-0010", threats[0].Title)
}

func TestVMwareDriverScrapeUsesFeedURL(t *testing.T) {
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/rss", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<?xml version="1.0"?><rss version="2.0"><channel></channel></rss>`)
	})
	mux.HandleFunc("/index", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<html><body><a href="%s/advisories/VMSA-2024-0011.html">VMSA-2024-0011</a></body></html>`, srv.URL)
	})
	mux.HandleFunc("/advisories/VMSA-2024-0011.html", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><title>VMSA-2024-0011</title></head><body>Fixes CVE-2024-22274 in vCenter.</body></html>`)
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	// No explicit index override, so the empty-RSS fallback scrapes the
	// feed's own URL.
	driver := NewVMwareDriver(srv.Client(), srv.URL+"/rss", "", testLog())
	feed := testFeed(models.FeedTypeVMware)
	feed.URL = srv.URL + "/index"
	threats, err := driver.Collect(context.Background(), feed, nil, nil)
	require.NoError(t, err)
	require.Len(t, threats, 1)
	assert.Equal(t, "CVE-2024-22274", *threats[0].CVEID)
	assert.Equal(t, "VMSA-2024-0011", threats[0].Title)
}

// =============================================================================
// MSRC
// =============================================================================

func TestMSRCDriverCollect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/cvrf/v2.0/updates", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"value": []map[string]string{{"ID": "2024-Apr", "InitialReleaseDate": "2024-04-09T07:00:00Z"}},
		})
	})
	mux.HandleFunc("/cvrf/v2.0/cvrf/2024-Apr", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"DocumentTitle": map[string]string{"Value": "April 2024 Security Updates"},
			"Vulnerability": []map[string]any{
				{
					"CVE":   "CVE-2024-26234",
					"Title": map[string]string{"Value": "Proxy Driver Spoofing Vulnerability"},
					"Notes": []map[string]any{
						{"Title": "FAQ", "Type": 4, "Value": "not this"},
						{"Title": "Description", "Type": 2, "Value": "A spoofing vulnerability in the proxy driver."},
					},
					"CVSSScoreSets": []map[string]any{{"BaseScore": 6.7, "Vector": "CVSS:3.1/AV:L"}},
				},
				{
					// Duplicate CVE rows collapse to one threat.
					"CVE":   "CVE-2024-26234",
					"Title": map[string]string{"Value": "Duplicate row"},
				},
				{
					"CVE":   "CVE-2024-29988",
					"Title": map[string]string{"Value": "SmartScreen Bypass"},
				},
			},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	driver := NewMSRCDriver(srv.Client(), srv.URL, "", testLog())
	threats, err := driver.Collect(context.Background(), testFeed(models.FeedTypeMSRC), nil, nil)
	require.NoError(t, err)
	require.Len(t, threats, 2)

	first := threats[0]
	assert.Equal(t, "CVE-2024-26234", *first.CVEID)
	assert.Equal(t, "A spoofing vulnerability in the proxy driver.", first.Description)
	require.NotNil(t, first.CVSSScore)
	assert.Equal(t, 6.7, *first.CVSSScore)
	assert.Equal(t, models.SeverityMedium, first.Severity)

	second := threats[1]
	assert.Equal(t, "CVE-2024-29988", *second.CVEID)
	assert.Empty(t, second.Description)
}

func TestMSRCDriverWindowSkipsOldUpdates(t *testing.T) {
	cvrfCalls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/cvrf/v2.0/updates", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"value": []map[string]string{{"ID": "2020-Jan", "InitialReleaseDate": "2020-01-14T08:00:00Z"}},
		})
	})
	mux.HandleFunc("/cvrf/v2.0/cvrf/", func(w http.ResponseWriter, r *http.Request) {
		cvrfCalls++
		json.NewEncoder(w).Encode(map[string]any{})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	driver := NewMSRCDriver(srv.Client(), srv.URL, "", testLog())
	threats, err := driver.Collect(context.Background(), testFeed(models.FeedTypeMSRC), &since, nil)
	require.NoError(t, err)
	assert.Empty(t, threats)
	assert.Zero(t, cvrfCalls)
}

// =============================================================================
// TWCERT
// =============================================================================

func TestTWCERTDriverCollect(t *testing.T) {
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/index", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<html><body>
			<a href="%s/twcert/advisory/1001">advisory one</a>
			<a href="%s/twcert/advisory/1002">advisory two</a>
			<a href="%s/other/page">unrelated</a>
		</body></html>`, srv.URL, srv.URL, srv.URL)
	})
	mux.HandleFunc("/twcert/advisory/1001", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><title>資安通報 CVE-2024-5555</title></head><body>漏洞說明 CVE-2024-5555 影響 Apache Tomcat 9.0.65。</body></html>`)
	})
	mux.HandleFunc("/twcert/advisory/1002", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><title>資安公告</title></head><body>一般性資安提醒，無特定弱點編號。</body></html>`)
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	driver := NewTWCERTDriver(srv.Client(), srv.URL+"/index", ruleExtractor{extract.NewEngine()}, testLog())
	threats, err := driver.Collect(context.Background(), testFeed(models.FeedTypeTWCERT), nil, nil)
	require.NoError(t, err)
	require.Len(t, threats, 2)

	withCVE := threats[0]
	require.NotNil(t, withCVE.CVEID)
	assert.Equal(t, "CVE-2024-5555", *withCVE.CVEID)
	require.NotEmpty(t, withCVE.Products)
	assert.Equal(t, "Apache Tomcat", withCVE.Products[0].Name)

	withoutCVE := threats[1]
	assert.Nil(t, withoutCVE.CVEID)
	assert.Equal(t, "資安公告", withoutCVE.Title)
}

// =============================================================================
// Shared plumbing
// =============================================================================

func TestFetchClassifiesFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "12")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := fetch(context.Background(), srv.Client(), srv.URL, nil)
	require.Error(t, err)

	var he *retry.HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusTooManyRequests, he.StatusCode)
	assert.Equal(t, 12*time.Second, he.RetryAfter)
}

func TestRegistry(t *testing.T) {
	kev := NewKEVDriver(http.DefaultClient, "", testLog())
	registry := NewRegistry(kev)

	got, err := registry.Get(models.FeedTypeCISAKEV)
	require.NoError(t, err)
	assert.Equal(t, models.FeedTypeCISAKEV, got.FeedType())

	_, err = registry.Get(models.FeedTypeNVD)
	assert.Error(t, err)
}
