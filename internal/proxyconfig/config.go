// Package proxyconfig defines the immutable configuration snapshot consumed
// by the proxy pipeline: listen port, global key, outbound proxy URL, retry
// budget, and the ordered services/upstreams tree.
package proxyconfig

// ProxyConfig is an immutable snapshot of everything the pipeline needs to
// serve requests. A new snapshot replaces the old one wholesale on reload;
// in-flight requests keep whatever snapshot they started with.
type ProxyConfig struct {
	ListenPort      int       `json:"listen_port"`
	GlobalKey       string    `json:"global_key,omitempty"`
	ProxyURL        string    `json:"proxy_url,omitempty"`
	FallbackRetries int       `json:"fallback_retries"`
	Services        []Service `json:"services"`
}

// Service is a logical grouping identified by a URL prefix, backed by one or
// more upstreams.
type Service struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Enabled   bool       `json:"enabled"`
	BasePath  string     `json:"base_path"`
	Upstreams []Upstream `json:"upstreams"`
}

// Upstream is a concrete origin (base URL + credential) behind a service.
type Upstream struct {
	ID           string `json:"id"`
	Label        string `json:"label,omitempty"`
	UpstreamBase string `json:"upstream_base"`
	APIKey       string `json:"api_key,omitempty"`
	Priority     uint32 `json:"priority"`
	Enabled      bool   `json:"enabled"`
}

// Clone returns a deep copy so a caller can hold a private, never-mutated
// snapshot even while the source config is reloaded out from under it.
func (c *ProxyConfig) Clone() *ProxyConfig {
	if c == nil {
		return nil
	}
	out := *c
	out.Services = make([]Service, len(c.Services))
	for i, svc := range c.Services {
		out.Services[i] = svc
		out.Services[i].Upstreams = make([]Upstream, len(svc.Upstreams))
		copy(out.Services[i].Upstreams, svc.Upstreams)
	}
	return &out
}

// EnabledUpstreams returns this service's enabled upstreams, already
// priority-sorted ascending (Normalize guarantees the sort).
func (s *Service) EnabledUpstreams() []Upstream {
	out := make([]Upstream, 0, len(s.Upstreams))
	for _, u := range s.Upstreams {
		if u.Enabled {
			out = append(out, u)
		}
	}
	return out
}
