package client

import (
	"net/http"
	"strings"
	"time"

	"github.com/turtacn/discovery-engine/internal/infrastructure/monitoring/logging"
)

// Option is a functional option for configuring the Client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithLogger sets a custom logger
func WithLogger(logger logging.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithAPIKey sends the key as a bearer token.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithStructureBaseURL overrides the host PDB files are downloaded from.
func WithStructureBaseURL(base string) Option {
	return func(c *Client) {
		if base != "" {
			c.structureBase = strings.TrimSuffix(base, "/")
		}
	}
}

// WithRetryMax sets the maximum number of retries
func WithRetryMax(retryMax int) Option {
	return func(c *Client) {
		if retryMax >= 0 {
			c.retryMax = retryMax
		}
	}
}

// WithRetryWait sets the minimum and maximum retry wait durations.
// max is only applied when it is at least min.
func WithRetryWait(min, max time.Duration) Option {
	return func(c *Client) {
		if min > 0 {
			c.retryWaitMin = min
			if max >= min {
				c.retryWaitMax = max
			}
		}
	}
}

// WithUserAgent sets a custom User-Agent string
func WithUserAgent(userAgent string) Option {
	return func(c *Client) {
		if userAgent != "" {
			c.userAgent = userAgent
		}
	}
}
