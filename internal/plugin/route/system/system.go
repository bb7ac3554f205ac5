package system

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	registryroute "github.com/chirino/assistant-state/internal/registry/route"
)

// probeTimeout bounds a single readiness probe.
const probeTimeout = 2 * time.Second

var (
	ready atomic.Bool
	probe atomic.Pointer[func(context.Context) error]
)

// MarkReady signals that the service has finished initializing and is ready to
// serve traffic. Call this once StartServer has completed successfully.
func MarkReady() {
	ready.Store(true)
}

// MarkNotReady flips readiness off while the server drains.
func MarkNotReady() {
	ready.Store(false)
}

// SetProbe installs a check run on every /ready request once the service is
// marked ready. A failing probe reports the service as unavailable.
func SetProbe(fn func(ctx context.Context) error) {
	if fn == nil {
		probe.Store(nil)
		return
	}
	probe.Store(&fn)
}

func readiness(c *gin.Context) {
	if !ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
		return
	}
	if fn := probe.Load(); fn != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), probeTimeout)
		defer cancel()
		if err := (*fn)(ctx); err != nil {
			log.Warn("Readiness probe failed", "err", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func init() {
	registryroute.Register(registryroute.Plugin{
		Name:  "system",
		Order: 0,
		Type:  registryroute.RouteTypeManagement,
		Loader: func(r gin.IRouter) error {
			// Liveness: process is up
			r.GET("/health", func(c *gin.Context) {
				c.JSON(http.StatusOK, gin.H{"status": "ok"})
			})

			// Readiness: initialized and the slot backend answers
			r.GET("/ready", readiness)

			// Prometheus metrics
			r.GET("/metrics", gin.WrapH(promhttp.Handler()))

			return nil
		},
	})
}
