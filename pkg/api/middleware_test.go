package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGlobalRateLimiterThrottles(t *testing.T) {
	rl := NewGlobalRateLimiter(1, 2)
	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/v1/control-points", nil)
		req.RemoteAddr = "10.0.0.1:5000"
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	assert.Equal(t, http.StatusOK, codes[0])
	assert.Equal(t, http.StatusOK, codes[1])
	assert.Equal(t, http.StatusTooManyRequests, codes[2])
	assert.Equal(t, http.StatusTooManyRequests, codes[3])
}

func TestGlobalRateLimiterIsolatesClients(t *testing.T) {
	rl := NewGlobalRateLimiter(1, 1)
	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	first := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5000"
	handler.ServeHTTP(first, req)
	require.Equal(t, http.StatusOK, first.Code)

	exhausted := httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5001"
	handler.ServeHTTP(exhausted, req)
	require.Equal(t, http.StatusTooManyRequests, exhausted.Code)

	other := httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.2:5000"
	handler.ServeHTTP(other, req)
	assert.Equal(t, http.StatusOK, other.Code)
}

func TestReplayMiddlewareReplaysSuccess(t *testing.T) {
	cache := NewMemoryReplayCache(time.Minute)
	calls := 0
	handler := ReplayMiddleware(cache)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"record_id":"rec-1"}`))
	}))

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/voyages/VOY-001/execute", strings.NewReader("{}"))
		req.Header.Set("Idempotency-Key", "key-abc")
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"record_id":"rec-1"}`, rec.Body.String())
		if i > 0 {
			assert.Equal(t, "true", rec.Header().Get("Idempotency-Replayed"))
		}
	}
	assert.Equal(t, 1, calls)
}

func TestReplayMiddlewareScopesKeysToRoute(t *testing.T) {
	cache := NewMemoryReplayCache(time.Minute)
	handler := ReplayMiddleware(cache)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"voyage":"` + r.URL.Path + `"}`))
	}))

	for _, path := range []string{"/v1/voyages/VOY-001/execute", "/v1/voyages/VOY-002/execute"} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader("{}"))
		req.Header.Set("Idempotency-Key", "shared-key")
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), path,
			"a key reused on another voyage must not replay a foreign response")
		assert.Empty(t, rec.Header().Get("Idempotency-Replayed"))
	}
}

func TestReplayMiddlewareSkipsErrorResponses(t *testing.T) {
	cache := NewMemoryReplayCache(time.Minute)
	calls := 0
	handler := ReplayMiddleware(cache)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/voyages/VOY-001/execute", strings.NewReader("{}"))
		req.Header.Set("Idempotency-Key", "key-err")
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusBadGateway, rec.Code)
	}
	assert.Equal(t, 2, calls)
}

func TestRequestIDHonorsCallerValue(t *testing.T) {
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-42")
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}
