// Package proxyrouter implements longest-prefix service matching and
// upstream URL synthesis against a live config snapshot.
package proxyrouter

import (
	"errors"
	"sort"
	"strings"

	"github.com/user/llm-gateway-proxy/internal/proxyconfig"
)

// ErrNoRoute is returned when no enabled service matches the request path,
// or the matched service has no enabled upstream. Callers translate this to
// HTTP 503; per spec, no log row is created for a routing miss.
var ErrNoRoute = errors.New("no matching route")

// Match is the outcome of routing a single request.
type Match struct {
	Service      proxyconfig.Service
	TrimmedPath  string
	RouteKey     string
	Upstreams    []proxyconfig.Upstream // enabled, priority-sorted ascending
}

// Route selects the longest-prefix enabled Service for path and computes the
// trimmed path and the candidate upstream list (§4.2).
func Route(cfg *proxyconfig.ProxyConfig, path string) (Match, error) {
	candidates := make([]proxyconfig.Service, 0, len(cfg.Services))
	for _, svc := range cfg.Services {
		if !svc.Enabled {
			continue
		}
		if svc.BasePath == "/" || strings.HasPrefix(path, svc.BasePath) {
			candidates = append(candidates, svc)
		}
	}
	if len(candidates) == 0 {
		return Match{}, ErrNoRoute
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return len(candidates[i].BasePath) > len(candidates[j].BasePath)
	})
	svc := candidates[0]

	trimmed := path
	if svc.BasePath != "/" {
		trimmed = strings.TrimPrefix(path, svc.BasePath)
		if trimmed == "" {
			trimmed = "/"
		}
	}

	upstreams := svc.EnabledUpstreams()
	if len(upstreams) == 0 {
		return Match{}, ErrNoRoute
	}
	sort.SliceStable(upstreams, func(i, j int) bool {
		return upstreams[i].Priority < upstreams[j].Priority
	})

	return Match{
		Service:     svc,
		TrimmedPath: trimmed,
		RouteKey:    svc.BasePath,
		Upstreams:   upstreams,
	}, nil
}

// BuildUpstreamURL joins an upstream base (trailing slash already stripped
// by config normalization) with a trimmed request path, inserting exactly
// one "/" boundary.
func BuildUpstreamURL(base, trimmedPath string) string {
	baseHasSlash := strings.HasSuffix(base, "/")
	pathHasSlash := strings.HasPrefix(trimmedPath, "/")

	switch {
	case baseHasSlash && pathHasSlash:
		return base + trimmedPath[1:]
	case !baseHasSlash && !pathHasSlash:
		return base + "/" + trimmedPath
	default:
		return base + trimmedPath
	}
}
