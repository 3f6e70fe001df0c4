// Package proxyheaders implements header rewriting: filtering hop-by-hop
// and proxy-private headers, and injecting the configured upstream
// credential while preserving the client's auth scheme.
package proxyheaders

import (
	"net/http"
	"sort"
	"strings"
)

// dropOutbound never reach the upstream: Host and Content-Length are
// recomputed by the transport, x-proxy-key is proxy-private.
var dropOutbound = map[string]struct{}{
	"host":           {},
	"content-length": {},
	"x-proxy-key":    {},
}

// capturedAuth headers are read but re-emitted explicitly rather than
// copied verbatim (§4.4).
const (
	headerAuthorization = "Authorization"
	headerGoogleAPIKey  = "x-goog-api-key"
)

// logExcluded headers never appear in rendered header dumps for the log
// entry, in either direction (§4.7).
var logExcluded = map[string]struct{}{
	"authorization": {},
	"x-proxy-key":   {},
}

// Rewritten is the result of rewriting an inbound header set for dispatch to
// an upstream.
type Rewritten struct {
	Header http.Header
	UsesGoogleScheme bool
}

// RewriteOutbound builds the outbound header set for dispatch: drops hop-by-hop
// and proxy-private headers, forwards everything else verbatim, and injects
// the upstream's configured credential (or re-emits the client's captured
// auth if the upstream has none configured).
func RewriteOutbound(inbound http.Header, upstreamAPIKey string) Rewritten {
	usesGoog := inbound.Get(headerGoogleAPIKey) != ""

	capturedAuthorization := inbound.Get(headerAuthorization)
	capturedGoogleKey := inbound.Get(headerGoogleAPIKey)

	out := http.Header{}
	for name, values := range inbound {
		lower := strings.ToLower(name)
		if _, drop := dropOutbound[lower]; drop {
			continue
		}
		if lower == strings.ToLower(headerAuthorization) || lower == strings.ToLower(headerGoogleAPIKey) {
			continue
		}
		for _, v := range values {
			out.Add(name, v)
		}
	}

	if upstreamAPIKey != "" {
		if usesGoog {
			out.Set(headerGoogleAPIKey, upstreamAPIKey)
		} else {
			out.Set(headerAuthorization, "Bearer "+upstreamAPIKey)
		}
	} else {
		if capturedAuthorization != "" {
			out.Set(headerAuthorization, capturedAuthorization)
		}
		if capturedGoogleKey != "" {
			out.Set(headerGoogleAPIKey, capturedGoogleKey)
		}
	}

	return Rewritten{Header: out, UsesGoogleScheme: usesGoog}
}

// dropFromResponse headers are dropped when forwarding an upstream response
// back to the client; the server recomputes framing.
var dropFromResponse = map[string]struct{}{
	"transfer-encoding": {},
	"content-length":    {},
	"connection":        {},
}

// FilterResponseHeaders returns a copy of upstream response headers with the
// framing headers removed, suitable to copy onto the client response.
func FilterResponseHeaders(upstream http.Header) http.Header {
	out := http.Header{}
	for name, values := range upstream {
		if _, drop := dropFromResponse[strings.ToLower(name)]; drop {
			continue
		}
		for _, v := range values {
			out.Add(name, v)
		}
	}
	return out
}

// Dump renders an ASCII "name: value\n..." representation of h for a log
// entry, sorted by header name for determinism, excluding sensitive keys.
func Dump(h http.Header) string {
	names := make([]string, 0, len(h))
	for name := range h {
		if _, excluded := logExcluded[strings.ToLower(name)]; excluded {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		for _, v := range h[name] {
			b.WriteString(name)
			b.WriteString(": ")
			b.WriteString(v)
			b.WriteByte('\n')
		}
	}
	return b.String()
}
