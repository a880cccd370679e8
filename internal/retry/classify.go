// Package retry classifies external transport errors and drives the
// exponential back-off policy for feed collection.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"
)

// Kind is the closed classification set shared by the retry policy and the
// failure tracker.
type Kind string

const (
	KindTimeout         Kind = "timeout"
	KindNetwork         Kind = "network"
	KindRateLimited     Kind = "rate_limited"
	KindTransientServer Kind = "transient_server"
	KindAuthentication  Kind = "authentication"
	KindDataFormat      Kind = "data_format"
	KindClientError     Kind = "client_error"
	KindUnknown         Kind = "unknown"
)

// Retryable reports whether the kind is worth retrying. Unknown is retried
// conservatively.
func (k Kind) Retryable() bool {
	switch k {
	case KindAuthentication, KindDataFormat, KindClientError:
		return false
	}
	return true
}

// HTTPError is produced by drivers for non-2xx responses.
type HTTPError struct {
	StatusCode int
	Status     string
	URL        string
	RetryAfter time.Duration // Parsed from the Retry-After header, zero if absent
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d from %s", e.StatusCode, e.URL)
}

// DataFormatError is produced when a response parses but has an unexpected
// shape. Never retried.
type DataFormatError struct {
	Source string
	Err    error
}

func (e *DataFormatError) Error() string {
	return fmt.Sprintf("malformed %s response: %v", e.Source, e.Err)
}

func (e *DataFormatError) Unwrap() error { return e.Err }

// Classify places an error into exactly one kind.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	var dfe *DataFormatError
	if errors.As(err, &dfe) {
		return KindDataFormat
	}

	var he *HTTPError
	if errors.As(err, &he) {
		switch {
		case he.StatusCode == 429:
			return KindRateLimited
		case he.StatusCode >= 500:
			return KindTransientServer
		case he.StatusCode == 401 || he.StatusCode == 403:
			return KindAuthentication
		case he.StatusCode >= 400:
			return KindClientError
		}
		return KindUnknown
	}

	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return KindTimeout
		}
		return KindNetwork
	}

	var ue *url.Error
	if errors.As(err, &ue) {
		if ue.Timeout() {
			return KindTimeout
		}
		return KindNetwork
	}

	var oe *net.OpError
	if errors.As(err, &oe) {
		return KindNetwork
	}

	return KindUnknown
}

// RetryAfterHint extracts a server-provided delay hint, if any.
func RetryAfterHint(err error) time.Duration {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.RetryAfter
	}
	return 0
}
