package assistant

import (
	"net/http"

	"github.com/chirino/assistant-state/internal/workflows"
	"github.com/gin-gonic/gin"
)

func mountWorkflows(g *gin.RouterGroup) {
	g.GET("/workflows", listWorkflows)
	g.POST("/workflows", addWorkflow)
	g.POST("/workflows/evaluate", evaluateWorkflows)
	g.GET("/workflows/history", workflowHistory)
	g.PATCH("/workflows/:id", updateWorkflow)
	g.DELETE("/workflows/:id", removeWorkflow)
	g.POST("/workflows/:id/toggle", toggleWorkflow)
}

// listWorkflows serves ?order=executions (most triggered first), evaluation
// order otherwise.
func listWorkflows(c *gin.Context) {
	flows := stateOf(c).Workflows
	if c.Query("order") == "executions" {
		list(c, flows.MostTriggered(queryInt(c, "limit", 0)))
		return
	}
	list(c, flows.All())
}

func addWorkflow(c *gin.Context) {
	var in workflows.Input
	if !bind(c, &in) {
		return
	}
	t, err := stateOf(c).Workflows.Add(c.Request.Context(), in)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

// evaluateWorkflows runs the first trigger matching the text. A failed action
// is reported in the execution, not as an HTTP error.
func evaluateWorkflows(c *gin.Context) {
	var req textRequest
	if !bind(c, &req) {
		return
	}
	exec, ok := stateOf(c).Workflows.Evaluate(c.Request.Context(), req.Text)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"matched": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"matched": true, "execution": exec, "responses": exec.Responses()})
}

func workflowHistory(c *gin.Context) {
	list(c, stateOf(c).Workflows.History(queryInt(c, "limit", workflows.MaxHistory)))
}

func updateWorkflow(c *gin.Context) {
	var p workflows.Patch
	if !bind(c, &p) {
		return
	}
	id := c.Param("id")
	flows := stateOf(c).Workflows
	found, err := flows.Update(c.Request.Context(), id, p)
	mutated(c, found, err, "workflow", id, func() {
		t, _ := flows.Get(id)
		c.JSON(http.StatusOK, t)
	})
}

func removeWorkflow(c *gin.Context) {
	stateOf(c).Workflows.Remove(c.Request.Context(), c.Param("id"))
	c.Status(http.StatusNoContent)
}

func toggleWorkflow(c *gin.Context) {
	id := c.Param("id")
	t, found := stateOf(c).Workflows.Toggle(c.Request.Context(), id)
	mutated(c, found, nil, "workflow", id, func() {
		c.JSON(http.StatusOK, t)
	})
}
