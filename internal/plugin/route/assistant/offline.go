package assistant

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/chirino/assistant-state/internal/offline"
	"github.com/chirino/assistant-state/internal/store"
	"github.com/gin-gonic/gin"
)

func mountOffline(g *gin.RouterGroup, opts Options) {
	syncer := opts.Syncer
	if syncer == nil {
		syncer = offline.HTTPSyncer{}
	}
	g.GET("/offline/cache", listCache)
	g.PUT("/offline/cache/:key", putCache)
	g.GET("/offline/cache/:key", getCache)
	g.DELETE("/offline/cache", invalidateCache)
	g.POST("/offline/actions", enqueueAction)
	g.POST("/offline/status", setOnline)
	g.POST("/offline/sync", func(c *gin.Context) { syncActions(c, syncer, opts.SyncTimeout) })
	g.GET("/offline/stats", offlineStats)
}

func listCache(c *gin.Context) {
	list(c, stateOf(c).Offline.Entries())
}

func putCache(c *gin.Context) {
	var req struct {
		Value      json.RawMessage `json:"value"`
		TTLSeconds int             `json:"ttlSeconds"`
	}
	if !bind(c, &req) {
		return
	}
	maxSeconds := int64(offline.MaxTTL / time.Second)
	if req.TTLSeconds < 0 || int64(req.TTLSeconds) > maxSeconds {
		handleError(c, &store.ValidationError{Field: "ttlSeconds", Message: fmt.Sprintf("must be between 0 and %d", maxSeconds)})
		return
	}
	e, err := stateOf(c).Offline.Put(c.Request.Context(), c.Param("key"), req.Value, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

func getCache(c *gin.Context) {
	key := c.Param("key")
	value, ok := stateOf(c).Offline.Lookup(c.Request.Context(), key)
	if !ok {
		notFound(c, "cache entry", key)
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "value": value})
}

// invalidateCache drops entries matching ?pattern=, every entry when omitted.
func invalidateCache(c *gin.Context) {
	pattern := c.DefaultQuery("pattern", "*")
	n, err := stateOf(c).Offline.Invalidate(c.Request.Context(), pattern)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": n})
}

func enqueueAction(c *gin.Context) {
	var in offline.ActionInput
	if !bind(c, &in) {
		return
	}
	a, err := stateOf(c).Offline.Enqueue(c.Request.Context(), in)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

func setOnline(c *gin.Context) {
	var req struct {
		Online *bool `json:"online"`
	}
	if !bind(c, &req) {
		return
	}
	if req.Online == nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "invalid", "error": "online is required"})
		return
	}
	o := stateOf(c).Offline
	o.SetOnline(c.Request.Context(), *req.Online)
	c.JSON(http.StatusOK, o.Stats(o.Clock().Now()))
}

func syncActions(c *gin.Context, syncer offline.Syncer, timeout time.Duration) {
	report, err := stateOf(c).Offline.Drain(c.Request.Context(), syncer, timeout)
	if errors.Is(err, offline.ErrOffline) {
		c.JSON(http.StatusConflict, gin.H{"code": "offline", "error": err.Error(), "remaining": report.Remaining})
		return
	}
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func offlineStats(c *gin.Context) {
	o := stateOf(c).Offline
	c.JSON(http.StatusOK, o.Stats(o.Clock().Now()))
}
