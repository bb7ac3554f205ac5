package assistant

import (
	"fmt"
	"net/http"
	"time"

	"github.com/chirino/assistant-state/internal/reminders"
	"github.com/chirino/assistant-state/internal/store"
	"github.com/gin-gonic/gin"
)

const defaultSnooze = 10 * time.Minute

func mountReminders(g *gin.RouterGroup) {
	g.GET("/reminders", listReminders)
	g.POST("/reminders", createReminder)
	g.POST("/reminders/parse", parseReminder)
	g.PATCH("/reminders/:id", updateReminder)
	g.DELETE("/reminders/:id", deleteReminder)
	g.POST("/reminders/:id/complete", completeReminder)
	g.POST("/reminders/:id/snooze", snoozeReminder)
}

// listReminders serves ?view=upcoming|overdue, all reminders otherwise.
func listReminders(c *gin.Context) {
	r := stateOf(c).Reminders
	now := r.Clock().Now()
	switch c.Query("view") {
	case "upcoming":
		list(c, r.Upcoming(now, queryInt(c, "limit", 0)))
	case "overdue":
		list(c, r.Overdue(now))
	default:
		list(c, r.All())
	}
}

func createReminder(c *gin.Context) {
	var d reminders.Draft
	if !bind(c, &d) {
		return
	}
	created, err := stateOf(c).Reminders.Create(c.Request.Context(), d)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

// parseReminder creates a reminder from a phrase like "remind me to call Sam
// in 30 minutes". Wall-clock times are read in the optional IANA timezone.
func parseReminder(c *gin.Context) {
	var req struct {
		Input    string `json:"input"`
		Timezone string `json:"timezone"`
	}
	if !bind(c, &req) {
		return
	}
	loc := time.UTC
	if req.Timezone != "" {
		var err error
		if loc, err = time.LoadLocation(req.Timezone); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": "invalid", "error": "unknown timezone " + req.Timezone})
			return
		}
	}
	created, ok := stateOf(c).Reminders.CreateFromText(c.Request.Context(), req.Input, loc)
	if !ok {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"code": "unrecognized", "error": "could not understand the reminder"})
		return
	}
	c.JSON(http.StatusCreated, created)
}

func updateReminder(c *gin.Context) {
	var p reminders.Patch
	if !bind(c, &p) {
		return
	}
	id := c.Param("id")
	r := stateOf(c).Reminders
	found, err := r.Update(c.Request.Context(), id, p)
	mutated(c, found, err, "reminder", id, func() {
		got, _ := r.Get(id)
		c.JSON(http.StatusOK, got)
	})
}

func deleteReminder(c *gin.Context) {
	stateOf(c).Reminders.Delete(c.Request.Context(), c.Param("id"))
	c.Status(http.StatusNoContent)
}

func completeReminder(c *gin.Context) {
	id := c.Param("id")
	r := stateOf(c).Reminders
	mutated(c, r.Complete(c.Request.Context(), id), nil, "reminder", id, func() {
		got, _ := r.Get(id)
		c.JSON(http.StatusOK, got)
	})
}

// snoozeReminder postpones by {"minutes": n}, ten minutes by default.
func snoozeReminder(c *gin.Context) {
	var req struct {
		Minutes int `json:"minutes"`
	}
	if !bindOptional(c, &req) {
		return
	}
	maxMinutes := int64(reminders.MaxLead / time.Minute)
	if req.Minutes < 0 || int64(req.Minutes) > maxMinutes {
		handleError(c, &store.ValidationError{Field: "minutes", Message: fmt.Sprintf("must be between 1 and %d", maxMinutes)})
		return
	}
	d := defaultSnooze
	if req.Minutes > 0 {
		d = time.Duration(req.Minutes) * time.Minute
	}
	id := c.Param("id")
	r := stateOf(c).Reminders
	mutated(c, r.Snooze(c.Request.Context(), id, d), nil, "reminder", id, func() {
		got, _ := r.Get(id)
		c.JSON(http.StatusOK, got)
	})
}
