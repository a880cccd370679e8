// Package ai talks to the external extraction and summarisation service.
// Every call has a rule-based degradation path; callers must never depend
// on the service being up.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/quantumlayerhq/aetim/internal/extract"
	"github.com/quantumlayerhq/aetim/internal/retry"
	"github.com/quantumlayerhq/aetim/pkg/config"
	"github.com/quantumlayerhq/aetim/pkg/logger"
	"github.com/quantumlayerhq/aetim/pkg/resilience"
)

const (
	extractPath   = "/api/v1/ai/extract"
	summarizePath = "/api/v1/ai/summarize"
	translatePath = "/api/v1/ai/translate-to-business"
	healthPath    = "/health"
)

// mlConfidence is assigned when the service omits its own confidence.
const mlConfidence = 0.7

// Client is the HTTP client for the extraction service. The health flag is
// process-local: one failed call flips it to unhealthy, and it stays there
// until a successful health probe.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	healthClient *http.Client
	breaker      *resilience.Breaker
	log          *logger.Logger

	mu      sync.Mutex
	healthy bool
}

// NewClient builds a client from config. Returns nil when the service is
// disabled or unconfigured; callers treat a nil client as always unhealthy.
func NewClient(cfg config.AIConfig, log *logger.Logger) *Client {
	if !cfg.Enabled || cfg.ServiceURL == "" {
		return nil
	}

	return &Client{
		baseURL:      cfg.ServiceURL,
		httpClient:   &http.Client{Timeout: cfg.RequestTimeout},
		healthClient: &http.Client{Timeout: cfg.HealthTimeout},
		breaker: resilience.NewBreaker(&resilience.BreakerConfig{
			Name:             "ai-extract",
			MaxFailures:      3,
			Timeout:          30 * time.Second,
			HalfOpenMaxCalls: 1,
		}),
		log:     log.WithComponent("ai_client"),
		healthy: true,
	}
}

// Healthy reports whether the service is usable. A cached healthy flag is
// trusted; an unhealthy flag triggers a recheck against /health.
func (c *Client) Healthy(ctx context.Context) bool {
	if c == nil {
		return false
	}

	c.mu.Lock()
	cached := c.healthy
	c.mu.Unlock()
	if cached {
		return true
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+healthPath, nil)
	if err != nil {
		return false
	}
	resp, err := c.healthClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	c.setHealthy(true)
	c.log.Debug("extraction service recovered")
	return true
}

func (c *Client) setHealthy(v bool) {
	c.mu.Lock()
	c.healthy = v
	c.mu.Unlock()
}

type extractRequest struct {
	Text string `json:"text"`
}

type extractResponse struct {
	CVEs       []string          `json:"cves"`
	Products   []extract.Product `json:"products"`
	TTPs       []string          `json:"ttps"`
	IOCs       extract.IOCs      `json:"iocs"`
	Confidence float64           `json:"confidence"`
}

// Extract posts text to the extraction endpoint and returns the structured
// result verbatim, tagged with the ml origin. Any failure flips the health
// cache to unhealthy.
func (c *Client) Extract(ctx context.Context, text string) (extract.Result, error) {
	out, err := c.breaker.Execute(ctx, func() (any, error) {
		var resp extractResponse
		if err := c.post(ctx, extractPath, extractRequest{Text: text}, &resp); err != nil {
			return nil, err
		}
		return resp, nil
	})
	if err != nil {
		c.setHealthy(false)
		return extract.Result{}, err
	}

	resp := out.(extractResponse)
	confidence := resp.Confidence
	if confidence == 0 {
		confidence = mlConfidence
	}

	return extract.Result{
		CVEs:       resp.CVEs,
		Products:   resp.Products,
		TTPs:       resp.TTPs,
		IOCs:       resp.IOCs,
		Confidence: confidence,
		Origin:     extract.OriginML,
	}, nil
}

type summarizeRequest struct {
	Content      string `json:"content"`
	TargetLength int    `json:"target_length,omitempty"`
	Language     string `json:"language,omitempty"`
	Style        string `json:"style,omitempty"`
}

type summarizeResponse struct {
	Summary string `json:"summary"`
}

// Summarize condenses content into a short business-facing summary.
func (c *Client) Summarize(ctx context.Context, content string, targetLength int, language, style string) (string, error) {
	if c == nil {
		return "", fmt.Errorf("summarisation service not configured")
	}

	var resp summarizeResponse
	err := c.post(ctx, summarizePath, summarizeRequest{
		Content:      content,
		TargetLength: targetLength,
		Language:     language,
		Style:        style,
	}, &resp)
	if err != nil {
		c.setHealthy(false)
		return "", err
	}
	return resp.Summary, nil
}

type translateRequest struct {
	TechnicalDescription string `json:"technical_description"`
}

type translateResponse struct {
	BusinessDescription string `json:"business_description"`
}

// TranslateToBusiness rewrites a technical description in business language.
func (c *Client) TranslateToBusiness(ctx context.Context, technical string) (string, error) {
	if c == nil {
		return "", fmt.Errorf("summarisation service not configured")
	}

	var resp translateResponse
	err := c.post(ctx, translatePath, translateRequest{TechnicalDescription: technical}, &resp)
	if err != nil {
		c.setHealthy(false)
		return "", err
	}
	return resp.BusinessDescription, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &retry.HTTPError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			URL:        c.baseURL + path,
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &retry.DataFormatError{Source: "ai", Err: err}
	}
	return nil
}
