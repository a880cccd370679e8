// Package feeds contains one driver per external advisory source. Drivers
// are pure transformers from source bytes to threat records; persistence,
// scheduling, and scoring happen elsewhere.
package feeds

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/quantumlayerhq/aetim/internal/retry"
	"github.com/quantumlayerhq/aetim/pkg/models"
)

// Driver collects advisories from one feed type. since/until bound the
// publication window when the source supports incremental fetch; nil means
// the driver's default window.
type Driver interface {
	FeedType() models.FeedType
	Collect(ctx context.Context, feed models.Feed, since, until *time.Time) ([]models.Threat, error)
}

// Registry maps feed types to their drivers.
type Registry struct {
	drivers map[models.FeedType]Driver
}

// NewRegistry indexes the given drivers by feed type.
func NewRegistry(drivers ...Driver) *Registry {
	r := &Registry{drivers: make(map[models.FeedType]Driver, len(drivers))}
	for _, d := range drivers {
		r.drivers[d.FeedType()] = d
	}
	return r
}

// Get returns the driver for a feed type.
func (r *Registry) Get(feedType models.FeedType) (Driver, error) {
	d, ok := r.drivers[feedType]
	if !ok {
		return nil, fmt.Errorf("no driver registered for feed type %q", feedType)
	}
	return d, nil
}

// fetch issues a GET and returns the body. Non-200 responses become
// classified HTTP errors carrying any Retry-After hint.
func fetch(ctx context.Context, client *http.Client, url string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", url, err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &retry.HTTPError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			URL:        url,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	return io.ReadAll(resp.Body)
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// inWindow reports whether ts falls inside the optional [since, until] bounds.
func inWindow(ts time.Time, since, until *time.Time) bool {
	if since != nil && ts.Before(*since) {
		return false
	}
	if until != nil && ts.After(*until) {
		return false
	}
	return true
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func floatPtr(f float64) *float64 { return &f }
