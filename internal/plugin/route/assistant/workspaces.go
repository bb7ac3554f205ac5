package assistant

import (
	"net/http"

	"github.com/chirino/assistant-state/internal/workspace"
	"github.com/gin-gonic/gin"
)

func mountWorkspaces(g *gin.RouterGroup) {
	g.GET("/workspaces", listWorkspaces)
	g.POST("/workspaces", createWorkspace)
	g.PATCH("/workspaces/:id", renameWorkspace)
	g.DELETE("/workspaces/:id", deleteWorkspace)
	g.POST("/workspaces/:id/activate", activateWorkspace)
	g.POST("/workspaces/:id/members", addMember)
	g.GET("/workspaces/:id/members", membersByRole)
	g.PATCH("/workspaces/:id/members/:memberId", updateMember)
	g.DELETE("/workspaces/:id/members/:memberId", removeMember)
	g.POST("/workspaces/:id/items", shareItem)
	g.PATCH("/workspaces/:id/items/:itemId", updateItem)
	g.DELETE("/workspaces/:id/items/:itemId", removeItem)
	g.GET("/workspaces/:id/activity", workspaceActivity)
}

func listWorkspaces(c *gin.Context) {
	ws := stateOf(c).Workspace
	list(c, ws.All())
}

func createWorkspace(c *gin.Context) {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if !bind(c, &req) {
		return
	}
	w, err := stateOf(c).Workspace.CreateWorkspace(c.Request.Context(), req.Name, req.Description)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, w)
}

func renameWorkspace(c *gin.Context) {
	var p workspace.Patch
	if !bind(c, &p) {
		return
	}
	id := c.Param("id")
	ws := stateOf(c).Workspace
	found, err := ws.Rename(c.Request.Context(), id, p)
	mutated(c, found, err, "workspace", id, func() {
		w, _ := ws.Get(id)
		c.JSON(http.StatusOK, w)
	})
}

func deleteWorkspace(c *gin.Context) {
	stateOf(c).Workspace.DeleteWorkspace(c.Request.Context(), c.Param("id"))
	c.Status(http.StatusNoContent)
}

func activateWorkspace(c *gin.Context) {
	id := c.Param("id")
	mutated(c, stateOf(c).Workspace.SetActive(c.Request.Context(), id), nil, "workspace", id, func() {
		c.Status(http.StatusNoContent)
	})
}

func addMember(c *gin.Context) {
	var in workspace.MemberInput
	if !bind(c, &in) {
		return
	}
	id := c.Param("id")
	m, found, err := stateOf(c).Workspace.AddMember(c.Request.Context(), id, in)
	mutated(c, found, err, "workspace", id, func() {
		c.JSON(http.StatusCreated, m)
	})
}

func membersByRole(c *gin.Context) {
	id := c.Param("id")
	byRole := stateOf(c).Workspace.MembersByRole(id)
	if byRole == nil {
		notFound(c, "workspace", id)
		return
	}
	c.JSON(http.StatusOK, byRole)
}

func updateMember(c *gin.Context) {
	var req struct {
		Role workspace.Role `json:"role"`
	}
	if !bind(c, &req) {
		return
	}
	id, memberID := c.Param("id"), c.Param("memberId")
	found, err := stateOf(c).Workspace.UpdateMemberRole(c.Request.Context(), id, memberID, req.Role)
	mutated(c, found, err, "member", memberID, func() {
		c.Status(http.StatusNoContent)
	})
}

func removeMember(c *gin.Context) {
	_, err := stateOf(c).Workspace.RemoveMember(c.Request.Context(), c.Param("id"), c.Param("memberId"))
	if err != nil {
		handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func shareItem(c *gin.Context) {
	var in workspace.ItemInput
	if !bind(c, &in) {
		return
	}
	id := c.Param("id")
	it, found, err := stateOf(c).Workspace.ShareItem(c.Request.Context(), id, in)
	mutated(c, found, err, "workspace", id, func() {
		c.JSON(http.StatusCreated, it)
	})
}

func updateItem(c *gin.Context) {
	var p workspace.ItemPatch
	if !bind(c, &p) {
		return
	}
	id, itemID := c.Param("id"), c.Param("itemId")
	found, err := stateOf(c).Workspace.UpdateItem(c.Request.Context(), id, itemID, p)
	mutated(c, found, err, "item", itemID, func() {
		c.Status(http.StatusNoContent)
	})
}

func removeItem(c *gin.Context) {
	stateOf(c).Workspace.RemoveItem(c.Request.Context(), c.Param("id"), c.Param("itemId"))
	c.Status(http.StatusNoContent)
}

func workspaceActivity(c *gin.Context) {
	id := c.Param("id")
	if _, ok := stateOf(c).Workspace.Get(id); !ok {
		notFound(c, "workspace", id)
		return
	}
	list(c, stateOf(c).Workspace.Activity(id, queryInt(c, "limit", workspace.MaxActivity)))
}
