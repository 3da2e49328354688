// Package client is the HTTP adapter for the discovery backend services:
// disease suggestion, protein lookup, bioassay candidates, molecule
// generation, structure download, docking and visualization.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/turtacn/discovery-engine/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/discovery-engine/pkg/errors"
)

const Version = "0.1.0"

// DefaultStructureBaseURL serves PDB files as {base}/{id}.pdb.
const DefaultStructureBaseURL = "https://files.rcsb.org/download"

// Client talks to the backend API rooted at baseURL (which includes the
// /api/v1 prefix) and to the structure file host.
type Client struct {
	baseURL       string
	structureBase string
	httpClient    *http.Client
	apiKey        string
	userAgent     string
	logger        logging.Logger
	retryMax      int
	retryWaitMin  time.Duration
	retryWaitMax  time.Duration

	diseases      *DiseasesClient
	diseasesOnce  sync.Once
	proteins      *ProteinsClient
	proteinsOnce  sync.Once
	molecules     *MoleculesClient
	moleculesOnce sync.Once
	docking       *DockingClient
	dockingOnce   sync.Once
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int    `json:"status_code"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	RequestID  string `json:"request_id"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("discovery api: %s (HTTP %d): %s [request_id=%s]", e.Code, e.StatusCode, e.Message, e.RequestID)
}

func (e *APIError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

func (e *APIError) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

func (e *APIError) IsServerError() bool {
	return e.StatusCode >= 500 && e.StatusCode < 600
}

// AsAPIError extracts an *APIError from err's chain.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	ok := stderrors.As(err, &apiErr)
	return apiErr, ok
}

// NewClient creates a client for the backend at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.ErrInvalidConfig
	}
	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid baseURL: %v", errors.ErrInvalidConfig, err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, fmt.Errorf("%w: baseURL scheme must be http or https", errors.ErrInvalidConfig)
	}

	c := &Client{
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		structureBase: DefaultStructureBaseURL,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		userAgent:     fmt.Sprintf("discovery-engine/%s", Version),
		logger:        logging.NewNopLogger(),
		retryMax:      3,
		retryWaitMin:  500 * time.Millisecond,
		retryWaitMax:  5 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("client")
	return c, nil
}

// Diseases returns the disease sub-client.
func (c *Client) Diseases() *DiseasesClient {
	c.diseasesOnce.Do(func() { c.diseases = &DiseasesClient{client: c} })
	return c.diseases
}

// Proteins returns the protein sub-client.
func (c *Client) Proteins() *ProteinsClient {
	c.proteinsOnce.Do(func() { c.proteins = &ProteinsClient{client: c} })
	return c.proteins
}

// Molecules returns the generation sub-client.
func (c *Client) Molecules() *MoleculesClient {
	c.moleculesOnce.Do(func() { c.molecules = &MoleculesClient{client: c} })
	return c.molecules
}

// Docking returns the docking sub-client.
func (c *Client) Docking() *DockingClient {
	c.dockingOnce.Do(func() { c.docking = &DockingClient{client: c} })
	return c.docking
}

func (c *Client) apiURL(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

// do sends a JSON request to the backend API and decodes a JSON response
// into result.
func (c *Client) do(ctx context.Context, method, path string, body, result interface{}) error {
	respBody, err := c.send(ctx, method, c.apiURL(path), body, "application/json")
	if err != nil {
		return err
	}
	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return errors.Wrap(err, errors.ErrCodeExternalBadPayload, fmt.Sprintf("decode %s %s", method, path))
		}
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, result interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, result)
}

func (c *Client) post(ctx context.Context, path string, body, result interface{}) error {
	return c.do(ctx, http.MethodPost, path, body, result)
}

// send performs one logical request with retries and returns the raw body of
// a 2xx response.
func (c *Client) send(ctx context.Context, method, fullURL string, body interface{}, accept string) ([]byte, error) {
	var bodyBytes []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeSerialization, "failed to marshal request body")
		}
		bodyBytes = b
	}

	var lastErr error
	var wait time.Duration
	for attempt := 0; attempt <= c.retryMax; attempt++ {
		if attempt > 0 {
			if wait == 0 {
				wait = c.calculateBackoff(attempt)
			}
			c.logger.Debug("retrying request",
				logging.Int("attempt", attempt), logging.Duration("backoff", wait), logging.String("url", fullURL))
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			wait = 0
		}

		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeInvalidParam, "failed to create request")
		}

		requestID := uuid.New().String()
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}
		if bodyBytes != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", accept)
		req.Header.Set("User-Agent", c.userAgent)
		req.Header.Set("X-Request-ID", requestID)

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		duration := time.Since(start)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Warn("request failed", logging.String("url", fullURL), logging.Err(err))
			lastErr = errors.Wrap(err, errors.CodeExternalService, fmt.Sprintf("%s %s", method, fullURL))
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = errors.Wrap(err, errors.CodeExternalService, "failed to read response body")
			continue
		}
		c.logger.Debug("request completed",
			logging.String("method", method), logging.String("url", fullURL),
			logging.Int("status", resp.StatusCode), logging.Duration("duration", duration))

		if resp.StatusCode < 400 {
			return respBody, nil
		}

		apiErr := newAPIError(resp.StatusCode, requestID, respBody)
		lastErr = wrapAPIError(apiErr)
		if !shouldRetry(resp.StatusCode) {
			return nil, lastErr
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			if seconds, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && seconds >= 0 {
				wait = time.Duration(seconds) * time.Second
				if wait > c.retryWaitMax {
					wait = c.retryWaitMax
				}
			}
		}
	}
	return nil, lastErr
}

func newAPIError(status int, requestID string, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, RequestID: requestID}
	if len(body) == 0 {
		apiErr.Message = http.StatusText(status)
		return apiErr
	}
	var errResp struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	if err := json.Unmarshal(body, &errResp); err == nil && (errResp.Message != "" || errResp.Detail != "") {
		apiErr.Code = errResp.Code
		apiErr.Message = errResp.Message
		if apiErr.Message == "" {
			apiErr.Message = errResp.Detail
		}
	} else {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}

func wrapAPIError(apiErr *APIError) error {
	switch {
	case apiErr.IsNotFound():
		return errors.Wrap(apiErr, errors.CodeNotFound, "resource not found")
	case apiErr.IsRateLimited():
		return errors.Wrap(apiErr, errors.CodeRateLimit, "rate limited")
	default:
		return errors.Wrap(apiErr, errors.CodeExternalService, "service returned an error")
	}
}

// shouldRetry retries 5xx and 429; other 4xx are final.
func shouldRetry(status int) bool {
	return status == http.StatusTooManyRequests || (status >= 500 && status < 600)
}

func (c *Client) calculateBackoff(attempt int) time.Duration {
	backoff := c.retryWaitMin * time.Duration(1<<uint(attempt-1))
	if backoff > c.retryWaitMax || backoff <= 0 {
		backoff = c.retryWaitMax
	}
	if q := int64(backoff / 4); q > 0 {
		backoff += time.Duration(rand.Int63n(q))
	}
	return backoff
}
