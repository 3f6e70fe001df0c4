// Package proxyauth implements the auth gate: validating the per-listener
// global key against the client-supplied x-proxy-key or Authorization
// header.
package proxyauth

import (
	"net/http"
	"strings"
)

// ExtractKey returns the candidate key from an inbound request, in priority
// order: x-proxy-key (trimmed, non-empty) first, then Authorization (Bearer
// prefix stripped if present, otherwise the trimmed raw value). Returns ""
// if neither header yields a candidate.
func ExtractKey(h http.Header) string {
	if v := strings.TrimSpace(h.Get("x-proxy-key")); v != "" {
		return v
	}

	auth := strings.TrimSpace(h.Get("Authorization"))
	if auth == "" {
		return ""
	}
	if rest, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return rest
	}
	return auth
}

// Check reports whether the request is authorized for globalKey. An empty
// globalKey means no auth is required (always authorized). Otherwise the
// extracted candidate must equal globalKey verbatim.
func Check(h http.Header, globalKey string) bool {
	if globalKey == "" {
		return true
	}
	return ExtractKey(h) == globalKey
}
