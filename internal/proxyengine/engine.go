// Package proxyengine implements the attempt engine and response forwarder:
// the priority × retry loop that dispatches a request to one or more
// upstreams, classifies outcomes, and forwards the winning response while
// maintaining the log ring and stats map in real time.
package proxyengine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/user/llm-gateway-proxy/internal/proxyauth"
	"github.com/user/llm-gateway-proxy/internal/proxyconfig"
	"github.com/user/llm-gateway-proxy/internal/proxyheaders"
	"github.com/user/llm-gateway-proxy/internal/proxylog"
	"github.com/user/llm-gateway-proxy/internal/proxymetrics"
	"github.com/user/llm-gateway-proxy/internal/proxyrouter"
	"github.com/user/llm-gateway-proxy/internal/proxystats"
	"go.uber.org/zap"
)

// dispatchTimeout is the outbound client's single per-request timeout; the
// engine imposes no separate per-attempt timeout (§5).
const dispatchTimeout = 600 * time.Second

// Engine owns the outbound HTTP client and the two shared observables (log
// ring, stats map) that every request through a listener updates.
type Engine struct {
	Logger  *zap.Logger
	LogRing *proxylog.Ring
	Stats   *proxystats.Map
	Metrics *proxymetrics.Metrics
	Client  *http.Client
}

// NewEngine constructs an Engine with a fresh outbound client. The client's
// own retry behavior is disabled; all retry/fallback decisions are made
// explicitly by the attempt loop.
func NewEngine(logger *zap.Logger, ring *proxylog.Ring, stats *proxystats.Map, metrics *proxymetrics.Metrics) *Engine {
	return &Engine{
		Logger:  logger,
		LogRing: ring,
		Stats:   stats,
		Metrics: metrics,
		Client: &http.Client{
			Timeout: dispatchTimeout,
		},
	}
}

// recordOutcome updates both the stats map and the Prometheus collectors
// for a single dispatched attempt.
func (e *Engine) recordOutcome(upstreamID, upstreamLabel string, durationMS int64, success bool) {
	e.Stats.Update(upstreamID, upstreamLabel, durationMS, success)
	if e.Metrics != nil {
		e.Metrics.RecordAttempt(upstreamID, upstreamLabel, durationMS, success)
	}
}

// ServeHTTP runs one request through auth gate → router → attempt engine →
// response forwarder, against the given immutable config snapshot.
func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request, cfg *proxyconfig.ProxyConfig, listenPort int) {
	admission := time.Now()
	id := uuid.New().String()

	entry := proxylog.Entry{
		ID:         id,
		Timestamp:  admission,
		ListenPort: listenPort,
		ClientIP:   clientIP(r),
		Method:     r.Method,
		Path:       r.URL.Path,
	}

	if !proxyauth.Check(r.Header, cfg.GlobalKey) {
		status := http.StatusUnauthorized
		entry.Status = &status
		entry.Error = "unauthorized"
		entry.DurationMS = time.Since(admission).Milliseconds()
		e.LogRing.Upsert(entry)
		writeJSONError(w, status, "unauthorized")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		status := http.StatusBadRequest
		entry.Status = &status
		entry.Error = "failed to read request body"
		entry.DurationMS = time.Since(admission).Milliseconds()
		e.LogRing.Upsert(entry)
		writeJSONError(w, status, "failed to read request body")
		return
	}
	entry.RequestBody = proxylog.TruncateLossyUTF8(string(body), maxRequestBodyBytes)

	match, err := proxyrouter.Route(cfg, r.URL.Path)
	if err != nil {
		// No log row for a routing miss (§4.2, §9 open question).
		writeJSONError(w, http.StatusServiceUnavailable, "no matching route")
		return
	}
	entry.ServiceName = match.Service.Name
	entry.BasePath = match.Service.BasePath
	entry.RouteKey = match.RouteKey

	e.runAttempts(r, &entry, cfg, match, body, w, admission)
}

const maxRequestBodyBytes = 8_000

func (e *Engine) runAttempts(r *http.Request, entry *proxylog.Entry, cfg *proxyconfig.ProxyConfig, match proxyrouter.Match, body []byte, w http.ResponseWriter, admission time.Time) {
	retryBudget := clamp(cfg.FallbackRetries, 0, 10)
	retriesPerUpstream := retryBudget - 1
	if retriesPerUpstream < 0 {
		retriesPerUpstream = 0
	}
	allowFallback := retryBudget >= 1

	var attemptErrors []string

	for u, upstream := range match.Upstreams {
		for a := 0; a <= retriesPerUpstream; a++ {
			attemptMoreOnUpstream := a < retriesPerUpstream
			moreUpstreams := allowFallback && u < len(match.Upstreams)-1

			entry.UpstreamURL = proxyrouter.BuildUpstreamURL(upstream.UpstreamBase, match.TrimmedPath)
			entry.UpstreamLabel = upstream.Label

			outReq, buildErr := http.NewRequestWithContext(r.Context(), r.Method, entry.UpstreamURL, bytes.NewReader(body))
			if buildErr != nil {
				attemptErrors = append(attemptErrors, buildErr.Error())
				continue
			}
			rewritten := proxyheaders.RewriteOutbound(r.Header, upstream.APIKey)
			outReq.Header = rewritten.Header
			entry.RequestHeaders = proxyheaders.Dump(rewritten.Header)

			e.LogRing.Upsert(*entry)

			resp, dispatchErr := e.Client.Do(outReq)
			elapsed := time.Since(admission).Milliseconds()

			if dispatchErr != nil {
				action := nextAction(attemptMoreOnUpstream, moreUpstreams)
				attemptErrors = append(attemptErrors, dispatchErr.Error())
				e.recordSubLog(entry, u, a, http.StatusBadGateway, dispatchErr.Error(), action, elapsed)
				e.recordOutcome(upstream.ID, upstream.Label, elapsed, false)
				continue
			}

			if isRetryableStatus(resp.StatusCode) && (attemptMoreOnUpstream || moreUpstreams) {
				drained, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorSnippetChars))
				resp.Body.Close()
				action := nextAction(attemptMoreOnUpstream, moreUpstreams)
				msg := fmt.Sprintf("upstream %d: %s", resp.StatusCode, strings.TrimSpace(string(drained)))
				attemptErrors = append(attemptErrors, msg)
				e.recordSubLog(entry, u, a, resp.StatusCode, msg, action, elapsed)
				e.recordOutcome(upstream.ID, upstream.Label, elapsed, false)
				continue
			}

			// Commit: this is the final outcome.
			if u > 0 {
				entry.RetryAction = proxylog.RetryActionFallback
			} else if a > 0 {
				entry.RetryAction = proxylog.RetryActionRetry
			} else {
				entry.RetryAction = proxylog.RetryActionNone
			}

			if isStreamingContentType(resp.Header.Get("Content-Type")) {
				forwardStreaming(r.Context(), w, resp, entry, admission, e.Logger)
			} else {
				forwardBuffered(w, resp, entry, admission)
			}
			e.LogRing.Upsert(*entry)
			e.recordOutcome(upstream.ID, upstream.Label, entry.DurationMS, resp.StatusCode < 400)
			return
		}
		if !allowFallback {
			break
		}
	}

	status := http.StatusBadGateway
	entry.Status = &status
	entry.Error = "upstream failed: " + strings.Join(attemptErrors, "; ")
	entry.DurationMS = time.Since(admission).Milliseconds()
	e.LogRing.Upsert(*entry)
	writeJSONError(w, status, "upstream request failed")
}

func (e *Engine) recordSubLog(main *proxylog.Entry, upstreamIndex, attempt, status int, errMsg string, action proxylog.RetryAction, durationMS int64) {
	sub := *main
	sub.ID = fmt.Sprintf("%s-%d-%d", main.ID, upstreamIndex+1, attempt+1)
	s := status
	sub.Status = &s
	sub.Error = errMsg
	sub.RetryAction = action
	sub.DurationMS = durationMS
	e.LogRing.Upsert(sub)
}

// nextAction reports the retry_action a non-terminal attempt's sub-log
// should carry: retry if another attempt remains on this upstream,
// otherwise fallback if a lower-priority upstream remains, otherwise absent.
func nextAction(attemptMoreOnUpstream, moreUpstreams bool) proxylog.RetryAction {
	if attemptMoreOnUpstream {
		return proxylog.RetryActionRetry
	}
	if moreUpstreams {
		return proxylog.RetryActionFallback
	}
	return proxylog.RetryActionNone
}

// isRetryableStatus reports whether an HTTP status should trigger a retry
// or fallback per §4.5: any 5xx, 408 Request Timeout, or 429 Too Many
// Requests.
func isRetryableStatus(code int) bool {
	if code == http.StatusRequestTimeout || code == http.StatusTooManyRequests {
		return true
	}
	return code >= 500
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
