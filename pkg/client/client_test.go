package client

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/discovery-engine/internal/testutil"
	"github.com/turtacn/discovery-engine/pkg/errors"
)

// ---------------------------------------------------------------------------
// Test Helpers
// ---------------------------------------------------------------------------

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	opts = append([]Option{WithRetryWait(time.Millisecond, 5*time.Millisecond), WithStructureBaseURL(server.URL + "/files")}, opts...)
	c, err := NewClient(server.URL+"/api/v1", opts...)
	require.NoError(t, err)
	return c
}

// ---------------------------------------------------------------------------
// Constructor Tests
// ---------------------------------------------------------------------------

func TestNewClient_Success(t *testing.T) {
	c, err := NewClient("http://api.example.com/api/v1/")
	require.NoError(t, err)
	assert.Equal(t, "http://api.example.com/api/v1", c.baseURL)
	assert.Equal(t, DefaultStructureBaseURL, c.structureBase)
	assert.Equal(t, 3, c.retryMax)
	assert.Contains(t, c.userAgent, "discovery-engine/")
}

func TestNewClient_InvalidBaseURL(t *testing.T) {
	for _, u := range []string{"", "ftp://invalid", "invalid-url"} {
		_, err := NewClient(u)
		assert.ErrorIs(t, err, errors.ErrInvalidConfig, u)
	}
}

func TestNewClient_WithOptions(t *testing.T) {
	custom := &http.Client{Timeout: 10 * time.Second}
	c, err := NewClient("http://api.example.com",
		WithHTTPClient(custom),
		WithRetryMax(5),
		WithRetryWait(time.Second, 500*time.Millisecond),
		WithUserAgent("ua/1"),
		WithAPIKey("k"),
		WithTimeout(2*time.Second),
	)
	require.NoError(t, err)
	assert.Same(t, custom, c.httpClient)
	assert.Equal(t, 2*time.Second, custom.Timeout)
	assert.Equal(t, 5, c.retryMax)
	assert.Equal(t, time.Second, c.retryWaitMin)
	assert.Equal(t, 5*time.Second, c.retryWaitMax, "max below min is ignored")
	assert.Equal(t, "ua/1", c.userAgent)
	assert.Equal(t, "k", c.apiKey)
}

func TestClient_SubClientsAreLazySingletons(t *testing.T) {
	c, _ := NewClient("http://api.example.com")
	assert.Nil(t, c.proteins)
	assert.Same(t, c.Proteins(), c.Proteins())
	assert.Same(t, c.Diseases(), c.Diseases())
	assert.Same(t, c.Molecules(), c.Molecules())
	assert.Same(t, c.Docking(), c.Docking())
	cs := c.Candidates()
	assert.Same(t, c.Proteins(), cs.ProteinsClient)
}

// ---------------------------------------------------------------------------
// Request Tests
// ---------------------------------------------------------------------------

func TestClient_Headers(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Contains(t, r.Header.Get("User-Agent"), "discovery-engine/")
		_, _ = io.WriteString(w, `{}`)
	}, WithAPIKey("secret"))

	require.NoError(t, c.post(context.Background(), "ping", map[string]string{"a": "b"}, nil))
}

func TestClient_NoAuthorizationWithoutKey(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		assert.Empty(t, r.Header.Get("Content-Type"))
		_, _ = io.WriteString(w, `{}`)
	})
	require.NoError(t, c.get(context.Background(), "/ping", nil))
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, `{"ok":true}`)
	})

	var out struct{ OK bool }
	require.NoError(t, c.get(context.Background(), "/x", &out))
	assert.True(t, out.OK)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClient_GivesUpAfterRetryMax(t *testing.T) {
	var calls int32
	log := testutil.NewMockLogger()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"code":"DOWN","message":"maintenance"}`)
	}, WithRetryMax(2), WithLogger(log))

	err := c.get(context.Background(), "/x", nil)
	require.Error(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.True(t, errors.IsCode(err, errors.CodeExternalService))

	apiErr, ok := AsAPIError(err)
	require.True(t, ok)
	assert.True(t, apiErr.IsServerError())
	assert.Equal(t, "DOWN", apiErr.Code)
	assert.Equal(t, "maintenance", apiErr.Message)
	assert.NotEmpty(t, apiErr.RequestID)
	assert.Equal(t, 2, log.Count("debug", "retrying request"))
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"detail":"Not Found"}`)
	})

	err := c.get(context.Background(), "/x", nil)
	assert.True(t, errors.IsNotFound(err))
	apiErr, ok := AsAPIError(err)
	require.True(t, ok)
	assert.True(t, apiErr.IsNotFound())
	assert.Equal(t, "Not Found", apiErr.Message)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestClient_RateLimitHonoursRetryAfter(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = io.WriteString(w, `{}`)
	})
	require.NoError(t, c.get(context.Background(), "/x", nil))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestClient_RateLimitExhausted(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, "slow down")
	}, WithRetryMax(1))

	err := c.get(context.Background(), "/x", nil)
	assert.True(t, errors.IsCode(err, errors.CodeRateLimit))
	apiErr, _ := AsAPIError(err)
	require.NotNil(t, apiErr)
	assert.True(t, apiErr.IsRateLimited())
	assert.Equal(t, "slow down", apiErr.Message)
}

func TestClient_BadJSON(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{not json`)
	})
	var out map[string]string
	err := c.get(context.Background(), "/x", &out)
	assert.True(t, errors.IsCode(err, errors.ErrCodeExternalBadPayload))
}

func TestClient_ContextCancelledDuringBackoff(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}, WithRetryWait(time.Hour, time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := c.get(ctx, "/x", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_NetworkErrorIsRetriedThenWrapped(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	c, err := NewClient(url, WithRetryMax(1), WithRetryWait(time.Millisecond, time.Millisecond))
	require.NoError(t, err)
	err = c.get(context.Background(), "/x", nil)
	assert.True(t, errors.IsCode(err, errors.CodeExternalService))
}

func TestCalculateBackoff(t *testing.T) {
	c, _ := NewClient("http://api.example.com", WithRetryWait(100*time.Millisecond, time.Second))
	b1 := c.calculateBackoff(1)
	assert.GreaterOrEqual(t, b1, 100*time.Millisecond)
	assert.Less(t, b1, 125*time.Millisecond+time.Millisecond)

	b3 := c.calculateBackoff(3)
	assert.GreaterOrEqual(t, b3, 400*time.Millisecond)

	b10 := c.calculateBackoff(10)
	assert.GreaterOrEqual(t, b10, time.Second)
	assert.LessOrEqual(t, b10, 1250*time.Millisecond)
}
