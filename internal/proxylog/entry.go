// Package proxylog implements the bounded in-memory request log: a FIFO
// ring of ProxyLogEntry rows, upserted by id as a request's attempts
// progress, queryable by the admin surface.
package proxylog

import (
	"time"
	"unicode/utf8"
)

// RetryAction records why a terminal entry's outcome followed the attempt it
// did. Absent (the zero value) on a main entry means the committed response
// came from the first attempt against the first upstream, or that no
// response was committed (auth rejection, body read failure, exhausted
// attempts); on a sub-log it means no further attempt followed.
type RetryAction string

const (
	RetryActionNone     RetryAction = ""
	RetryActionRetry    RetryAction = "retry"
	RetryActionFallback RetryAction = "fallback"
)

// Entry is a single row in the log ring: either a main entry (one per client
// request, id is a bare UUID) or a sub-log recording a non-terminal attempt
// (id is "{id}-{upstreamIndex}-{attempt}").
type Entry struct {
	ID string `json:"id"`

	Timestamp     time.Time `json:"timestamp"`
	ListenPort    int       `json:"listen_port"`
	ClientIP      string    `json:"client_ip"`
	ServiceName   string    `json:"service_name"`
	BasePath      string    `json:"base_path"`
	RouteKey      string    `json:"route_key"`
	UpstreamLabel string    `json:"upstream_label,omitempty"`
	UpstreamURL   string    `json:"upstream_url,omitempty"`

	Method         string `json:"method"`
	Path           string `json:"path"`
	RequestHeaders string `json:"request_headers,omitempty"`
	RequestBody    string `json:"request_body,omitempty"`

	// Status is nil while the entry is inflight (no outcome committed yet).
	Status          *int   `json:"status,omitempty"`
	ResponseHeaders string `json:"response_headers,omitempty"`
	ResponseBody    string `json:"response_body,omitempty"`
	IsStreaming     bool   `json:"is_streaming"`
	DurationMS      int64  `json:"duration_ms"`

	Error       string      `json:"error,omitempty"`
	RetryAction RetryAction `json:"retry_action,omitempty"`
}

// Inflight reports whether this entry's outcome has not yet been committed.
func (e *Entry) Inflight() bool {
	return e.Status == nil
}

const (
	maxRequestBodyBytes       = 8_000
	maxBufferedResponseBytes  = 8_000
	maxStreamingResponseBytes = 64_000
	maxErrorSnippetChars      = 2_000
	streamPlaceholder         = "[stream]"
)

// TruncateLossyUTF8 copies s up to maxBytes, dropping any trailing byte
// sequence that would split a multi-byte rune (best-effort lossy UTF-8, per
// the log body truncation rule).
func TruncateLossyUTF8(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	// Back off while the first dropped byte is a continuation byte, so the
	// cut falls on a rune boundary and no rune is cut in half.
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
