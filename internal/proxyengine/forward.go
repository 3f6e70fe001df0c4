package proxyengine

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/user/llm-gateway-proxy/internal/proxyheaders"
	"github.com/user/llm-gateway-proxy/internal/proxylog"
	"go.uber.org/zap"
)

const (
	maxResponseBodyBytesBuffered  = 8_000
	maxResponseBodyBytesStreaming = 64_000
	maxErrorSnippetChars          = 2_000
	streamPlaceholder             = "[stream]"
)

const (
	streamingChunkBufferSize = 32 * 1024
	// streamChunkBacklog bounds the channel feeding the client write loop.
	// The spec's reference behavior is an unbounded channel; we bound it
	// (see DESIGN.md) since an unbounded one lets a slow client grow proxy
	// memory without limit.
	streamChunkBacklog = 32
)

// isStreamingContentType classifies a response's content-type header as
// streaming vs buffered (§4.6). text/plain is intentionally included to
// support upstreams that stream plain-text tokens.
func isStreamingContentType(contentType string) bool {
	lower := strings.ToLower(contentType)
	for _, marker := range []string{"text/event-stream", "application/x-ndjson", "text/plain"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// forwardBuffered awaits the full upstream body, captures it for the log,
// and writes the response to the client in one shot.
func forwardBuffered(w http.ResponseWriter, resp *http.Response, entry *proxylog.Entry, admission time.Time) {
	body, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()

	status := resp.StatusCode
	entry.Status = &status
	entry.IsStreaming = false
	entry.ResponseHeaders = proxyheaders.Dump(proxyheaders.FilterResponseHeaders(resp.Header))
	entry.ResponseBody = proxylog.TruncateLossyUTF8(string(body), maxResponseBodyBytesBuffered)

	if status >= 400 {
		snippet := string(body)
		if len(snippet) > maxErrorSnippetChars {
			snippet = snippet[:maxErrorSnippetChars]
		}
		entry.Error = "upstream " + strconv.Itoa(status) + ": " + snippet
	}
	if readErr != nil && entry.Error == "" {
		entry.Error = "read upstream response: " + readErr.Error()
	}

	entry.DurationMS = time.Since(admission).Milliseconds()

	filtered := proxyheaders.FilterResponseHeaders(resp.Header)
	dst := w.Header()
	for k, vv := range filtered {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
	w.WriteHeader(status)
	w.Write(body)
}

type streamChunk struct {
	data []byte
	err  error
}

// forwardStreaming tees the upstream body into the client response and into
// a capped log buffer concurrently via a background read pump, so the
// response starts flushing to the client as soon as the upstream produces
// bytes rather than after the whole body completes.
func forwardStreaming(ctx contextDoner, w http.ResponseWriter, resp *http.Response, entry *proxylog.Entry, admission time.Time, logger *zap.Logger) {
	status := resp.StatusCode
	entry.Status = &status
	entry.IsStreaming = true
	entry.ResponseHeaders = proxyheaders.Dump(proxyheaders.FilterResponseHeaders(resp.Header))

	filtered := proxyheaders.FilterResponseHeaders(resp.Header)
	dst := w.Header()
	for k, vv := range filtered {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
	w.WriteHeader(status)
	flusher, canFlush := w.(http.Flusher)
	if canFlush {
		flusher.Flush()
	}

	chunks := make(chan streamChunk, streamChunkBacklog)
	go func() {
		defer close(chunks)
		defer resp.Body.Close()
		buf := make([]byte, streamingChunkBufferSize)
		for {
			n, err := resp.Body.Read(buf)
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				chunks <- streamChunk{data: data}
			}
			if err != nil {
				if err != io.EOF {
					chunks <- streamChunk{err: err}
				}
				return
			}
		}
	}()

	var captured bytes.Buffer
	var streamErr error

loop:
	for {
		select {
		case <-ctx.Done():
			logger.Debug("client disconnected during stream")
			break loop
		case c, ok := <-chunks:
			if !ok {
				break loop
			}
			if c.err != nil {
				streamErr = c.err
				break loop
			}
			w.Write(c.data)
			if canFlush {
				flusher.Flush()
			}
			if captured.Len() < maxResponseBodyBytesStreaming {
				remaining := maxResponseBodyBytesStreaming - captured.Len()
				if remaining > len(c.data) {
					captured.Write(c.data)
				} else {
					captured.Write(c.data[:remaining])
				}
			}
		}
	}

	body := captured.String()
	if body == "" {
		body = streamPlaceholder
	}
	entry.ResponseBody = body
	entry.DurationMS = time.Since(admission).Milliseconds()
	if streamErr != nil {
		entry.Error = "stream read: " + streamErr.Error()
	}
}

// contextDoner is the subset of context.Context forwardStreaming needs; it
// lets tests supply a bare channel without constructing a full context.
type contextDoner interface {
	Done() <-chan struct{}
}
