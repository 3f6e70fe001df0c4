package proxyconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// Load reads the JSON config document at path, applies environment variable
// overrides (highest priority, mirroring the teacher's env > stored > default
// tiering), and normalizes the result. This loader is a thin, dev-mode stand-in
// for the real persistent configuration store, which is an external
// collaborator (see SPEC_FULL.md §4.11) — it exists so the binary in this
// repo is runnable, not as the deliverable.
func Load(path string) (*ProxyConfig, error) {
	cfg := &ProxyConfig{}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		// Absent config file tolerated; env vars alone may be enough to boot.
	} else if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	return Normalize(cfg)
}

// applyEnvOverrides applies the top-level environment overrides. Per-service
// and per-upstream fields are file-only; only the config-wide knobs are
// exposed as env vars, matching the scope of the teacher's own overrides.
func applyEnvOverrides(cfg *ProxyConfig) {
	if v := os.Getenv("LLM_GATEWAY_LISTEN_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.ListenPort = port
		}
	}
	if v, ok := os.LookupEnv("LLM_GATEWAY_GLOBAL_KEY"); ok {
		cfg.GlobalKey = v
	}
	if v, ok := os.LookupEnv("LLM_GATEWAY_PROXY_URL"); ok {
		cfg.ProxyURL = v
	}
	if v := os.Getenv("LLM_GATEWAY_FALLBACK_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.FallbackRetries = n
		}
	}
}

// Save persists cfg as the JSON document at path. Like Load, this is the
// thin dev-mode stand-in — the real store owns backups, migrations, and
// concurrent-writer safety.
func Save(path string, cfg *ProxyConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}
