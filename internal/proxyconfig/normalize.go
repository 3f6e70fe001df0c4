package proxyconfig

import (
	"path"
	"sort"
	"strings"
)

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error: " + e.Field + ": " + e.Message
}

const (
	minFallbackRetries = 0
	maxFallbackRetries = 10
)

// NormalizeBasePath canonicalizes a service base path per the table:
//
//	""     -> "/"
//	"api"  -> "/api"
//	"/api/"-> "/api"
//	"//"   -> "/"
//
// It is idempotent: NormalizeBasePath(NormalizeBasePath(p)) == NormalizeBasePath(p).
func NormalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

// normalizeUpstreamBase trims whitespace and a single trailing slash.
// build_upstream_url(base, "/") == build_upstream_url(trim_trailing_slash(base), "/")
// holds because the trailing slash is the only thing stripped here.
func normalizeUpstreamBase(s string) string {
	s = strings.TrimSpace(s)
	return strings.TrimSuffix(s, "/")
}

// Normalize validates and canonicalizes a raw config into a snapshot safe to
// serve from. It never mutates its input; on failure no in-memory state
// changes anywhere (the caller still holds whatever snapshot was live).
func Normalize(raw *ProxyConfig) (*ProxyConfig, error) {
	if raw == nil {
		return nil, &ConfigError{Field: "config", Message: "must not be nil"}
	}

	cfg := raw.Clone()

	if cfg.ListenPort < 1 || cfg.ListenPort > 65535 {
		return nil, &ConfigError{Field: "listen_port", Message: "must be between 1 and 65535"}
	}

	cfg.GlobalKey = strings.TrimSpace(cfg.GlobalKey)
	cfg.ProxyURL = strings.TrimSpace(cfg.ProxyURL)

	if cfg.FallbackRetries < minFallbackRetries {
		cfg.FallbackRetries = minFallbackRetries
	} else if cfg.FallbackRetries > maxFallbackRetries {
		cfg.FallbackRetries = maxFallbackRetries
	}

	kept := make([]Service, 0, len(cfg.Services))
	for _, svc := range cfg.Services {
		svc.Name = strings.TrimSpace(svc.Name)
		svc.BasePath = NormalizeBasePath(svc.BasePath)

		ups := make([]Upstream, len(svc.Upstreams))
		copy(ups, svc.Upstreams)
		for i := range ups {
			ups[i].Label = strings.TrimSpace(ups[i].Label)
			ups[i].UpstreamBase = normalizeUpstreamBase(ups[i].UpstreamBase)
			ups[i].APIKey = strings.TrimSpace(ups[i].APIKey)
		}
		sort.SliceStable(ups, func(i, j int) bool { return ups[i].Priority < ups[j].Priority })
		svc.Upstreams = ups

		if !hasServableUpstream(ups) {
			// Not retained for serving (invariant: a retained Service has at
			// least one Upstream with a non-empty upstream_base).
			continue
		}
		kept = append(kept, svc)
	}
	cfg.Services = kept

	if len(cfg.Services) == 0 {
		return nil, &ConfigError{Field: "services", Message: "zero services after normalization"}
	}

	return cfg, nil
}

func hasServableUpstream(ups []Upstream) bool {
	for _, u := range ups {
		if u.UpstreamBase != "" {
			return true
		}
	}
	return false
}
