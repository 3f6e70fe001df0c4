//go:build !integration && !e2e
// +build !integration,!e2e

package proxyengine

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/llm-gateway-proxy/internal/proxyconfig"
	"github.com/user/llm-gateway-proxy/internal/proxylog"
	"github.com/user/llm-gateway-proxy/internal/proxymetrics"
	"github.com/user/llm-gateway-proxy/internal/proxystats"
	"go.uber.org/zap"
)

func newTestEngine() *Engine {
	return NewEngine(zap.NewNop(), proxylog.NewRing(), proxystats.NewMap(), proxymetrics.NewMetrics())
}

func oneUpstreamConfig(upstreamBase string, fallbackRetries int) *proxyconfig.ProxyConfig {
	return &proxyconfig.ProxyConfig{
		ListenPort:      8080,
		FallbackRetries: fallbackRetries,
		Services: []proxyconfig.Service{
			{
				ID: "svc", Name: "svc", Enabled: true, BasePath: "/",
				Upstreams: []proxyconfig.Upstream{
					{ID: "u1", Label: "primary", UpstreamBase: upstreamBase, Enabled: true, Priority: 0},
				},
			},
		},
	}
}

func TestServeHTTP_AuthRejectionLogsTerminalRow(t *testing.T) {
	e := newTestEngine()
	cfg := oneUpstreamConfig("http://unused.invalid", 0)
	cfg.GlobalKey = "secret"

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	e.ServeHTTP(w, req, cfg, 8080)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	rows := e.LogRing.Query(nil, 0)
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].Status)
	assert.Equal(t, http.StatusUnauthorized, *rows[0].Status)
}

func TestServeHTTP_NoRouteProducesNoLogRow(t *testing.T) {
	e := newTestEngine()
	cfg := &proxyconfig.ProxyConfig{ListenPort: 8080, Services: []proxyconfig.Service{
		{ID: "svc", Enabled: true, BasePath: "/api", Upstreams: []proxyconfig.Upstream{
			{ID: "u1", UpstreamBase: "http://unused.invalid", Enabled: true},
		}},
	}}

	req := httptest.NewRequest(http.MethodGet, "/other", nil)
	w := httptest.NewRecorder()
	e.ServeHTTP(w, req, cfg, 8080)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Empty(t, e.LogRing.Query(nil, 0))
}

func TestServeHTTP_SingleAttemptSuccess(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	e := newTestEngine()
	cfg := oneUpstreamConfig(upstream.URL, 0)

	req := httptest.NewRequest(http.MethodPost, "/v1/models", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	e.ServeHTTP(w, req, cfg, 8080)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `{"ok":true}`, w.Body.String())

	rows := e.LogRing.Query(nil, 0)
	require.Len(t, rows, 1)
	assert.Equal(t, proxylog.RetryActionNone, rows[0].RetryAction)
}

func TestServeHTTP_RetryThenSuccess_Scenario4(t *testing.T) {
	var call int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&call, 1)
		if n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	e := newTestEngine()
	cfg := oneUpstreamConfig(upstream.URL, 2)

	req := httptest.NewRequest(http.MethodPost, "/v1/models", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	e.ServeHTTP(w, req, cfg, 8080)

	assert.Equal(t, http.StatusOK, w.Code)

	rows := e.LogRing.Query(nil, 0)
	require.Len(t, rows, 2)

	var sub, main *proxylog.Entry
	for i := range rows {
		if strings.Contains(rows[i].ID, "-1-1") {
			sub = &rows[i]
		} else {
			main = &rows[i]
		}
	}
	require.NotNil(t, sub)
	require.NotNil(t, main)
	require.NotNil(t, sub.Status)
	assert.Equal(t, http.StatusServiceUnavailable, *sub.Status)
	assert.Equal(t, proxylog.RetryActionRetry, sub.RetryAction)

	require.NotNil(t, main.Status)
	assert.Equal(t, http.StatusOK, *main.Status)
	assert.Equal(t, proxylog.RetryActionRetry, main.RetryAction)
}

func TestServeHTTP_FallbackAcrossUpstreams_Scenario5(t *testing.T) {
	upA := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer upA.Close()
	upB := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer upB.Close()

	e := newTestEngine()
	cfg := &proxyconfig.ProxyConfig{
		ListenPort:      8080,
		FallbackRetries: 1,
		Services: []proxyconfig.Service{
			{
				ID: "svc", Enabled: true, BasePath: "/",
				Upstreams: []proxyconfig.Upstream{
					{ID: "a", UpstreamBase: upA.URL, Enabled: true, Priority: 0},
					{ID: "b", UpstreamBase: upB.URL, Enabled: true, Priority: 1},
				},
			},
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/models", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	e.ServeHTTP(w, req, cfg, 8080)

	assert.Equal(t, http.StatusOK, w.Code)

	rows := e.LogRing.Query(nil, 0)
	var main *proxylog.Entry
	for i := range rows {
		if !strings.Contains(rows[i].ID, "-1-1") {
			main = &rows[i]
		}
	}
	require.NotNil(t, main)
	assert.Equal(t, proxylog.RetryActionFallback, main.RetryAction)

	stats := e.Stats.Snapshot()
	byID := map[string]proxystats.Upstream{}
	for _, s := range stats {
		byID[s.UpstreamID] = s
	}
	assert.EqualValues(t, 1, byID["a"].ErrorCount)
	assert.EqualValues(t, 1, byID["b"].SuccessCount)
}

func TestServeHTTP_ZeroRetriesNoFallback_Boundary(t *testing.T) {
	var calls int32
	upA := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer upA.Close()
	upB := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer upB.Close()

	e := newTestEngine()
	cfg := &proxyconfig.ProxyConfig{
		ListenPort:      8080,
		FallbackRetries: 0,
		Services: []proxyconfig.Service{
			{
				ID: "svc", Enabled: true, BasePath: "/",
				Upstreams: []proxyconfig.Upstream{
					{ID: "a", UpstreamBase: upA.URL, Enabled: true, Priority: 0},
					{ID: "b", UpstreamBase: upB.URL, Enabled: true, Priority: 1},
				},
			},
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	e.ServeHTTP(w, req, cfg, 8080)

	// With no retry/fallback budget, the first upstream's response -- even a
	// retryable 500 -- is committed as the final outcome rather than
	// triggering a fallback to the second upstream.
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls), "only the first upstream should be tried")
}

func TestServeHTTP_StreamingCapture_Scenario6(t *testing.T) {
	chunks := []string{"data: a\n\n", "data: b\n\n", "data: c\n\n"}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		for _, c := range chunks {
			io.WriteString(w, c)
			flusher.Flush()
		}
	}))
	defer upstream.Close()

	e := newTestEngine()
	cfg := oneUpstreamConfig(upstream.URL, 0)

	req := httptest.NewRequest(http.MethodGet, "/stream", nil)
	w := httptest.NewRecorder()
	e.ServeHTTP(w, req, cfg, 8080)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, strings.Join(chunks, ""), w.Body.String())

	rows := e.LogRing.Query(nil, 0)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].IsStreaming)
	assert.Equal(t, strings.Join(chunks, ""), rows[0].ResponseBody)
}

func TestServeHTTP_PlainTextClassifiedAsStreaming(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "token-stream")
	}))
	defer upstream.Close()

	e := newTestEngine()
	cfg := oneUpstreamConfig(upstream.URL, 0)

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	w := httptest.NewRecorder()
	e.ServeHTTP(w, req, cfg, 8080)

	rows := e.LogRing.Query(nil, 0)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].IsStreaming)
}

func TestServeHTTP_TransportErrorExhaustionReturns502(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	unreachable := upstream.URL
	upstream.Close() // connections to this address now fail outright

	e := newTestEngine()
	cfg := oneUpstreamConfig(unreachable, 1)

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	w := httptest.NewRecorder()
	e.ServeHTTP(w, req, cfg, 8080)

	assert.Equal(t, http.StatusBadGateway, w.Code)

	// The main row (first in the ring) plus one sub-log for the failed attempt.
	rows := e.LogRing.Query(nil, 0)
	require.Len(t, rows, 2)
	require.NotNil(t, rows[0].Status)
	assert.Equal(t, http.StatusBadGateway, *rows[0].Status)
	assert.Contains(t, rows[0].Error, "upstream failed")
}

func TestServeHTTP_RetryableStatusWithNoBudgetLeftCommitsAsIs(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer upstream.Close()

	e := newTestEngine()
	cfg := oneUpstreamConfig(upstream.URL, 1)

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	w := httptest.NewRecorder()
	e.ServeHTTP(w, req, cfg, 8080)

	// A single upstream with no fallback target forwards the retryable 500
	// verbatim rather than fabricating a 502, since there is a real
	// response to show the client.
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
