package assistant

import (
	"net/http"

	"github.com/chirino/assistant-state/internal/contextmemory"
	"github.com/gin-gonic/gin"
)

func mountContext(g *gin.RouterGroup) {
	g.POST("/context/messages", recordContextMessage)
	g.PUT("/context/preferences/:key", setPreference)
	g.DELETE("/context/preferences/:key", removePreference)
	g.POST("/context/facts", addFact)
	g.DELETE("/context/facts/:id", removeFact)
	g.GET("/context/topics", listContextTopics)
	g.GET("/context/summary", contextSummary)
}

type textRequest struct {
	Text string `json:"text"`
}

func recordContextMessage(c *gin.Context) {
	var req textRequest
	if !bind(c, &req) {
		return
	}
	topics := stateOf(c).Context.RecordMessage(c.Request.Context(), req.Text)
	c.JSON(http.StatusOK, gin.H{"topics": topics})
}

func setPreference(c *gin.Context) {
	var req struct {
		Value string `json:"value"`
	}
	if !bind(c, &req) {
		return
	}
	p, err := stateOf(c).Context.SetPreference(c.Request.Context(), c.Param("key"), req.Value)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func removePreference(c *gin.Context) {
	stateOf(c).Context.RemovePreference(c.Request.Context(), c.Param("key"))
	c.Status(http.StatusNoContent)
}

func addFact(c *gin.Context) {
	var req struct {
		Text   string `json:"text"`
		Source string `json:"source"`
	}
	if !bind(c, &req) {
		return
	}
	f, err := stateOf(c).Context.AddFact(c.Request.Context(), req.Text, req.Source)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, f)
}

func removeFact(c *gin.Context) {
	stateOf(c).Context.RemoveFact(c.Request.Context(), c.Param("id"))
	c.Status(http.StatusNoContent)
}

// listContextTopics orders by mentions, or by recency with ?order=recent.
func listContextTopics(c *gin.Context) {
	cm := stateOf(c).Context
	n := queryInt(c, "limit", contextmemory.MaxTopics)
	if c.Query("order") == "recent" {
		list(c, cm.RecentTopics(n))
		return
	}
	list(c, cm.TopTopics(n))
}

func contextSummary(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"summary": stateOf(c).Context.Summary()})
}
