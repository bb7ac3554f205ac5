package assistant

import (
	"net/http"
	"slices"

	"github.com/chirino/assistant-state/internal/conversations"
	"github.com/gin-gonic/gin"
)

func mountSessions(g *gin.RouterGroup) {
	g.GET("/sessions", listSessions)
	g.POST("/sessions", createSession)
	g.GET("/sessions/search", searchSessions)
	g.GET("/sessions/:id", getSession)
	g.PATCH("/sessions/:id", updateSession)
	g.DELETE("/sessions/:id", deleteSession)
	g.POST("/sessions/:id/messages", addSessionMessage)
	g.GET("/sessions/:id/context", sessionContext)
	g.POST("/sessions/:id/activate", activateSession)
}

func listSessions(c *gin.Context) {
	sessions := stateOf(c).Sessions
	st := sessions.Snapshot()
	data := slices.Collect(sessions.Recent(queryInt(c, "limit", 0)))
	if data == nil {
		data = []conversations.Session{}
	}
	c.JSON(http.StatusOK, gin.H{"data": data, "activeId": st.ActiveID})
}

func createSession(c *gin.Context) {
	var req struct {
		Title     string `json:"title"`
		PersonaID string `json:"personaId"`
	}
	if !bindOptional(c, &req) {
		return
	}
	c.JSON(http.StatusCreated, stateOf(c).Sessions.CreateSession(c.Request.Context(), req.Title, req.PersonaID))
}

func searchSessions(c *gin.Context) {
	list(c, stateOf(c).Sessions.Search(c.Query("q")))
}

func getSession(c *gin.Context) {
	sess, ok := stateOf(c).Sessions.Get(c.Param("id"))
	if !ok {
		notFound(c, "session", c.Param("id"))
		return
	}
	c.JSON(http.StatusOK, sess)
}

func updateSession(c *gin.Context) {
	var p conversations.SessionPatch
	if !bind(c, &p) {
		return
	}
	id := c.Param("id")
	sessions := stateOf(c).Sessions
	found := sessions.UpdateSession(c.Request.Context(), id, p)
	mutated(c, found, nil, "session", id, func() {
		sess, _ := sessions.Get(id)
		c.JSON(http.StatusOK, sess)
	})
}

func deleteSession(c *gin.Context) {
	stateOf(c).Sessions.DeleteSession(c.Request.Context(), c.Param("id"))
	c.Status(http.StatusNoContent)
}

func addSessionMessage(c *gin.Context) {
	var req struct {
		Role    conversations.Role `json:"role"`
		Content string             `json:"content"`
	}
	if !bind(c, &req) {
		return
	}
	if req.Role == "" {
		req.Role = conversations.RoleUser
	}
	id := c.Param("id")
	msg, found, err := stateOf(c).Sessions.AddMessage(c.Request.Context(), id, req.Role, req.Content)
	mutated(c, found, err, "session", id, func() {
		c.JSON(http.StatusCreated, msg)
	})
}

func sessionContext(c *gin.Context) {
	id := c.Param("id")
	sessions := stateOf(c).Sessions
	if _, ok := sessions.Get(id); !ok {
		notFound(c, "session", id)
		return
	}
	list(c, slices.Values(sessions.ContextWindow(id, queryInt(c, "limit", 0))))
}

func activateSession(c *gin.Context) {
	id := c.Param("id")
	found := stateOf(c).Sessions.SetActive(c.Request.Context(), id)
	mutated(c, found, nil, "session", id, func() {
		c.Status(http.StatusNoContent)
	})
}
