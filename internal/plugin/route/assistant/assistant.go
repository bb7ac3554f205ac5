// Package assistant mounts the REST API over a user's assistant state.
package assistant

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/assistant-state/internal/offline"
	"github.com/chirino/assistant-state/internal/security"
	"github.com/chirino/assistant-state/internal/state"
	"github.com/chirino/assistant-state/internal/store"
	"github.com/gin-gonic/gin"
)

const contextKeySet = "stateSet"

// Options carries the collaborators routes need beyond the store set.
type Options struct {
	// SyncTimeout bounds each replayed offline action.
	SyncTimeout time.Duration
	// Syncer replays offline actions. Nil posts each action to its target.
	Syncer offline.Syncer
}

// MountRoutes mounts the state API on the given router.
func MountRoutes(r *gin.Engine, m *state.Manager, auth gin.HandlerFunc, opts Options) {
	g := r.Group("/v1", auth, openState(m))

	g.GET("/state/:store", getState)
	g.DELETE("/state/:store", clearState)

	mountContext(g)
	mountInsights(g)
	mountSessions(g)
	mountOffline(g, opts)
	mountReminders(g)
	mountWorkspaces(g)
	mountCommands(g)
	mountWorkflows(g)
}

// openState loads the caller's store set and stores it in the gin context.
func openState(m *state.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		set, err := m.Open(c.Request.Context(), security.GetUserID(c))
		if err != nil {
			if errors.Is(err, state.ErrClosed) {
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "shutting down"})
				return
			}
			log.Error("Failed to open state", "user", security.GetUserID(c), "err", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}
		c.Set(contextKeySet, set)
		c.Next()
	}
}

func stateOf(c *gin.Context) *state.Set {
	return c.MustGet(contextKeySet).(*state.Set)
}

func handleError(c *gin.Context, err error) {
	var notFound *store.NotFoundError
	var validation *store.ValidationError
	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": err.Error()})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"code": "invalid", "error": err.Error()})
	default:
		log.Error("State API error", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func notFound(c *gin.Context, resource, id string) {
	handleError(c, &store.NotFoundError{Resource: resource, ID: id})
}

// bind decodes the JSON body into v, answering 400 on failure.
func bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "invalid", "error": err.Error()})
		return false
	}
	return true
}

// bindOptional is bind for endpoints whose body may be omitted.
func bindOptional(c *gin.Context, v any) bool {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "invalid", "error": err.Error()})
		return false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	if err := json.Unmarshal(body, v); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "invalid", "error": err.Error()})
		return false
	}
	return true
}

// queryInt parses an optional non-negative integer query parameter.
func queryInt(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil || i < 0 {
		return def
	}
	return i
}

// list answers with {"data": [...]}, never null.
func list[T any](c *gin.Context, seq iter.Seq[T]) {
	data := slices.Collect(seq)
	if data == nil {
		data = []T{}
	}
	c.JSON(http.StatusOK, gin.H{"data": data})
}

// mutated answers a mutation that may have targeted an absent id.
func mutated(c *gin.Context, found bool, err error, resource, id string, ok func()) {
	switch {
	case err != nil:
		handleError(c, err)
	case !found:
		notFound(c, resource, id)
	default:
		ok()
	}
}

func etag(rev uint64) string {
	return fmt.Sprintf("%q", strconv.FormatUint(rev, 10))
}

func getState(c *gin.Context) {
	e, ok := stateOf(c).Entry(c.Param("store"))
	if !ok {
		notFound(c, "store", c.Param("store"))
		return
	}
	value, rev := e.View()
	tag := etag(rev)
	c.Header("ETag", tag)
	for _, candidate := range strings.Split(c.GetHeader("If-None-Match"), ",") {
		if strings.TrimSpace(candidate) == tag {
			c.Status(http.StatusNotModified)
			return
		}
	}
	c.JSON(http.StatusOK, value)
}

func clearState(c *gin.Context) {
	e, ok := stateOf(c).Entry(c.Param("store"))
	if !ok {
		notFound(c, "store", c.Param("store"))
		return
	}
	e.Reset(c.Request.Context())
	log.Info("State cleared", "user", stateOf(c).UserID, "store", e.Name)
	c.Status(http.StatusNoContent)
}
