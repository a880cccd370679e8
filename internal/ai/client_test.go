package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumlayerhq/aetim/internal/extract"
	"github.com/quantumlayerhq/aetim/pkg/config"
	"github.com/quantumlayerhq/aetim/pkg/logger"
)

func testClient(t *testing.T, url string) *Client {
	t.Helper()
	return NewClient(config.AIConfig{
		Enabled:        true,
		ServiceURL:     url,
		RequestTimeout: 2 * time.Second,
		HealthTimeout:  time.Second,
	}, logger.New("debug", "text"))
}

func TestClientExtract(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/ai/extract", r.URL.Path)

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "CVE-2024-1 in nginx", req["text"])

		json.NewEncoder(w).Encode(map[string]any{
			"cves":       []string{"CVE-2024-0001"},
			"products":   []map[string]string{{"product_name": "nginx", "product_version": "1.25"}},
			"ttps":       []string{"T1190"},
			"iocs":       map[string][]string{"ips": {"203.0.113.9"}},
			"confidence": 0.92,
		})
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	got, err := c.Extract(context.Background(), "CVE-2024-1 in nginx")
	require.NoError(t, err)

	assert.Equal(t, extract.OriginML, got.Origin)
	assert.Equal(t, 0.92, got.Confidence)
	assert.Equal(t, []string{"CVE-2024-0001"}, got.CVEs)
	require.Len(t, got.Products, 1)
	assert.Equal(t, "nginx", got.Products[0].Name)
	assert.Equal(t, []string{"203.0.113.9"}, got.IOCs.IPs)
}

func TestClientExtractDefaultsConfidence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"cves": []string{"CVE-2024-0002"}})
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	got, err := c.Extract(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, mlConfidence, got.Confidence)
}

func TestClientExtractFailureFlipsHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	assert.True(t, c.Healthy(context.Background()))

	_, err := c.Extract(context.Background(), "text")
	require.Error(t, err)

	// A single failure marks the service unhealthy; the recheck hits
	// /health, which this server does not serve with 200 either.
	c.mu.Lock()
	cached := c.healthy
	c.mu.Unlock()
	assert.False(t, cached)
}

func TestClientHealthRecovery(t *testing.T) {
	var healthUp atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			if healthUp.Load() {
				w.WriteHeader(http.StatusOK)
			} else {
				w.WriteHeader(http.StatusServiceUnavailable)
			}
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	_, err := c.Extract(context.Background(), "text")
	require.Error(t, err)

	assert.False(t, c.Healthy(context.Background()))

	healthUp.Store(true)
	assert.True(t, c.Healthy(context.Background()))

	// Recovered state is cached.
	c.mu.Lock()
	cached := c.healthy
	c.mu.Unlock()
	assert.True(t, cached)
}

func TestClientSummarizeAndTranslate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/ai/summarize":
			json.NewEncoder(w).Encode(map[string]string{"summary": "executive view"})
		case "/api/v1/ai/translate-to-business":
			json.NewEncoder(w).Encode(map[string]string{"business_description": "risk to operations"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)

	summary, err := c.Summarize(context.Background(), "long technical content", 200, "en", "executive")
	require.NoError(t, err)
	assert.Equal(t, "executive view", summary)

	business, err := c.TranslateToBusiness(context.Background(), "heap overflow in parser")
	require.NoError(t, err)
	assert.Equal(t, "risk to operations", business)
}

func TestNilClientIsUnhealthy(t *testing.T) {
	var c *Client
	assert.False(t, c.Healthy(context.Background()))
}

func TestExtractorFallsBackToRules(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	x := NewExtractor(testClient(t, srv.URL), logger.New("debug", "text"))
	got := x.Extract(context.Background(), "exploit for CVE-2024-31337 via phishing")

	assert.Equal(t, extract.OriginRule, got.Origin)
	assert.Equal(t, []string{"CVE-2024-31337"}, got.CVEs)
	assert.Equal(t, []string{"T1566"}, got.TTPs)
}

func TestExtractorWithoutClientUsesRules(t *testing.T) {
	x := NewExtractor(nil, logger.New("debug", "text"))
	got := x.Extract(context.Background(), "CVE-2023-4444 observed")
	assert.Equal(t, extract.OriginRule, got.Origin)
	assert.Equal(t, []string{"CVE-2023-4444"}, got.CVEs)
}

func TestExtractorPrefersService(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"cves":       []string{"CVE-2024-0042"},
			"confidence": 0.88,
		})
	}))
	defer srv.Close()

	x := NewExtractor(testClient(t, srv.URL), logger.New("debug", "text"))
	got := x.Extract(context.Background(), "whatever")
	assert.Equal(t, extract.OriginML, got.Origin)
	assert.Equal(t, []string{"CVE-2024-0042"}, got.CVEs)
}
