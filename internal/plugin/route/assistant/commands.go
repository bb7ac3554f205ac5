package assistant

import (
	"net/http"

	"github.com/chirino/assistant-state/internal/voicecommands"
	"github.com/gin-gonic/gin"
)

func mountCommands(g *gin.RouterGroup) {
	g.GET("/commands", listCommands)
	g.POST("/commands", addCommand)
	g.POST("/commands/match", matchCommand)
	g.PATCH("/commands/:id", updateCommand)
	g.DELETE("/commands/:id", removeCommand)
	g.POST("/commands/:id/toggle", toggleCommand)
}

// listCommands serves ?order=usage (most used first), match order otherwise.
func listCommands(c *gin.Context) {
	cmds := stateOf(c).Commands
	if c.Query("order") == "usage" {
		list(c, cmds.MostUsed(queryInt(c, "limit", 0)))
		return
	}
	list(c, cmds.All())
}

func addCommand(c *gin.Context) {
	var in voicecommands.Input
	if !bind(c, &in) {
		return
	}
	cmd, err := stateOf(c).Commands.Add(c.Request.Context(), in)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, cmd)
}

func matchCommand(c *gin.Context) {
	var req textRequest
	if !bind(c, &req) {
		return
	}
	cmd, ok := stateOf(c).Commands.Match(c.Request.Context(), req.Text)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"matched": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"matched": true, "command": cmd})
}

func updateCommand(c *gin.Context) {
	var p voicecommands.Patch
	if !bind(c, &p) {
		return
	}
	id := c.Param("id")
	cmds := stateOf(c).Commands
	found, err := cmds.Update(c.Request.Context(), id, p)
	mutated(c, found, err, "command", id, func() {
		cmd, _ := cmds.Get(id)
		c.JSON(http.StatusOK, cmd)
	})
}

func removeCommand(c *gin.Context) {
	stateOf(c).Commands.Remove(c.Request.Context(), c.Param("id"))
	c.Status(http.StatusNoContent)
}

func toggleCommand(c *gin.Context) {
	id := c.Param("id")
	cmd, found := stateOf(c).Commands.Toggle(c.Request.Context(), id)
	mutated(c, found, nil, "command", id, func() {
		c.JSON(http.StatusOK, cmd)
	})
}
