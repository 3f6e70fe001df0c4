// Package proxymanager owns the running-listener registry: starting,
// stopping, and reloading proxy listeners against the shared log ring,
// stats map, and metrics that every listener's requests update.
package proxymanager

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/user/llm-gateway-proxy/internal/proxyconfig"
	"github.com/user/llm-gateway-proxy/internal/proxyengine"
	"github.com/user/llm-gateway-proxy/internal/proxylog"
	"github.com/user/llm-gateway-proxy/internal/proxymetrics"
	"github.com/user/llm-gateway-proxy/internal/proxystats"
	"go.uber.org/zap"
)

// shutdownGrace bounds how long a listener's graceful drain may take.
const shutdownGrace = 10 * time.Second

// cell holds a listener's live config snapshot behind a reader-writer lock;
// requests in flight keep whatever clone they read at admission.
type cell struct {
	mu  sync.RWMutex
	cfg *proxyconfig.ProxyConfig
}

func (c *cell) snapshot() *proxyconfig.ProxyConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg.Clone()
}

func (c *cell) swap(cfg *proxyconfig.ProxyConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg
}

type runningListener struct {
	cell   *cell
	server *http.Server
	done   chan struct{}
}

// Manager is the running-listener registry: map from listen_port to a
// {shutdown signal, join handle, config cell}, guarded by one mutex (§5).
type Manager struct {
	logger  *zap.Logger
	Engine  *proxyengine.Engine
	LogRing *proxylog.Ring
	Stats   *proxystats.Map
	Metrics *proxymetrics.Metrics

	mu        sync.Mutex
	listeners map[int]*runningListener
}

// NewManager constructs a Manager with a fresh engine and the shared
// observables it exposes to callers (admin surface, metrics endpoint).
func NewManager(logger *zap.Logger) *Manager {
	ring := proxylog.NewRing()
	stats := proxystats.NewMap()
	metrics := proxymetrics.NewMetrics()
	return &Manager{
		logger:    logger,
		Engine:    proxyengine.NewEngine(logger, ring, stats, metrics),
		LogRing:   ring,
		Stats:     stats,
		Metrics:   metrics,
		listeners: make(map[int]*runningListener),
	}
}

// Start binds a new listener on cfg.ListenPort and begins serving. cfg must
// already be normalized.
func (m *Manager) Start(cfg *proxyconfig.ProxyConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.listeners[cfg.ListenPort]; exists {
		return fmt.Errorf("listener already running on port %d", cfg.ListenPort)
	}

	c := &cell{cfg: cfg}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.NoRoute(func(gc *gin.Context) {
		m.Engine.ServeHTTP(gc.Writer, gc.Request, c.snapshot(), cfg.ListenPort)
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf("0.0.0.0:%d", cfg.ListenPort),
		Handler: r,
	}

	rl := &runningListener{cell: c, server: srv, done: make(chan struct{})}
	m.listeners[cfg.ListenPort] = rl

	go func() {
		defer close(rl.done)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.logger.Error("listener stopped unexpectedly", zap.Int("listen_port", cfg.ListenPort), zap.Error(err))
		}
	}()

	m.logger.Info("listener started", zap.Int("listen_port", cfg.ListenPort))
	return nil
}

// Stop gracefully drains and removes the listener on port, then finalizes
// any log entries it left inflight (§4.9).
func (m *Manager) Stop(port int) error {
	m.mu.Lock()
	rl, ok := m.listeners[port]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("no listener running on port %d", port)
	}
	delete(m.listeners, port)
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	err := rl.server.Shutdown(ctx)
	<-rl.done

	m.LogRing.FinalizeInflight(port)
	m.logger.Info("listener stopped", zap.Int("listen_port", port))
	return err
}

// StopAll drains every running listener. Errors are collected but do not
// stop the sweep.
func (m *Manager) StopAll() error {
	m.mu.Lock()
	ports := make([]int, 0, len(m.listeners))
	for port := range m.listeners {
		ports = append(ports, port)
	}
	m.mu.Unlock()

	var firstErr error
	for _, port := range ports {
		if err := m.Stop(port); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Reload swaps the config snapshot of the already-running listener on
// cfg.ListenPort. It rejects attempts to reload onto a port with no running
// listener: reload never changes which port is bound, only its config (§6:
// "Reload rejects port changes").
func (m *Manager) Reload(cfg *proxyconfig.ProxyConfig) error {
	m.mu.Lock()
	rl, ok := m.listeners[cfg.ListenPort]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("no listener running on port %d to reload", cfg.ListenPort)
	}
	rl.cell.swap(cfg)
	m.logger.Info("listener reloaded", zap.Int("listen_port", cfg.ListenPort))
	return nil
}

// Running reports whether a listener is currently bound to port.
func (m *Manager) Running(port int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.listeners[port]
	return ok
}

// GetLogs returns a filtered, limited snapshot of the shared log ring.
func (m *Manager) GetLogs(listenPort *int, limit int) []proxylog.Entry {
	return m.LogRing.Query(listenPort, limit)
}

// ClearLogs empties the shared log ring.
func (m *Manager) ClearLogs() {
	m.LogRing.Clear()
}

// GetStats returns a snapshot of every tracked upstream's counters.
func (m *Manager) GetStats() []proxystats.Upstream {
	return m.Stats.Snapshot()
}

// ClearStats clears the shared stats map.
func (m *Manager) ClearStats() {
	m.Stats.Clear()
}
