package assistant

import (
	"net/http"

	"github.com/chirino/assistant-state/internal/insights"
	"github.com/gin-gonic/gin"
)

func mountInsights(g *gin.RouterGroup) {
	g.POST("/insights/messages", recordInsightMessage)
	g.POST("/insights", addInsight)
	g.GET("/insights", listInsights)
	g.GET("/insights/weekly", weeklyInsights)
	g.GET("/insights/sentiment", sentimentBreakdown)
	g.GET("/insights/topics", insightTopics)
}

func recordInsightMessage(c *gin.Context) {
	var req struct {
		Role string `json:"role"`
		Text string `json:"text"`
	}
	if !bind(c, &req) {
		return
	}
	if req.Role == "" {
		req.Role = "user"
	}
	c.JSON(http.StatusOK, stateOf(c).Insights.RecordMessage(c.Request.Context(), req.Role, req.Text))
}

func addInsight(c *gin.Context) {
	var req textRequest
	if !bind(c, &req) {
		return
	}
	in, err := stateOf(c).Insights.AddInsight(c.Request.Context(), req.Text)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, in)
}

func listInsights(c *gin.Context) {
	list(c, stateOf(c).Insights.RecentInsights(queryInt(c, "limit", insights.MaxInsights)))
}

func weeklyInsights(c *gin.Context) {
	c.JSON(http.StatusOK, stateOf(c).Insights.Weekly())
}

func sentimentBreakdown(c *gin.Context) {
	c.JSON(http.StatusOK, stateOf(c).Insights.SentimentBreakdown())
}

func insightTopics(c *gin.Context) {
	list(c, stateOf(c).Insights.TopTopics(queryInt(c, "limit", insights.MaxTopics)))
}
