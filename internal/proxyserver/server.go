// Package proxyserver exposes the admin HTTP surface: log/stats queries and
// commands, health, and the Prometheus scrape endpoint. It is served on its
// own mux, never the proxy listener itself.
package proxyserver

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/user/llm-gateway-proxy/internal/proxymanager"
	"go.uber.org/zap"
)

// NewRouter builds the admin gin engine wired to manager.
func NewRouter(manager *proxymanager.Manager, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	admin := r.Group("/__admin")
	{
		admin.GET("/logs", getLogs(manager))
		admin.POST("/logs/clear", clearLogs(manager))
		admin.GET("/stats", getStats(manager))
		admin.POST("/stats/clear", clearStats(manager))
		admin.GET("/health", health())
	}

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(manager.Metrics.Registry, promhttp.HandlerOpts{})))

	return r
}

func getLogs(manager *proxymanager.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 0
		if v := c.Query("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				limit = n
			}
		}
		var listenPort *int
		if v := c.Query("listen_port"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				listenPort = &n
			}
		}
		c.JSON(http.StatusOK, manager.GetLogs(listenPort, limit))
	}
}

func clearLogs(manager *proxymanager.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		manager.ClearLogs()
		c.JSON(http.StatusOK, gin.H{"cleared": true})
	}
}

func getStats(manager *proxymanager.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, manager.GetStats())
	}
}

func clearStats(manager *proxymanager.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		manager.ClearStats()
		c.JSON(http.StatusOK, gin.H{"cleared": true})
	}
}

func health() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	}
}
