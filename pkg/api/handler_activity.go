package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/samotage/claude-headspace-sub003/pkg/models"
)

const defaultActivityWindow = 24 * time.Hour
const defaultActivityLimit = 288 // 24h of 5-minute buckets

// handleActivity is a read-only projection over the objective scorer's
// ActivityMetric buckets: overall by default, or scoped to a project via
// ?project_id=.
func (s *Server) handleActivity(c *gin.Context) {
	limit := defaultActivityLimit
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	since := time.Now().Add(-defaultActivityWindow)
	ctx := c.Request.Context()

	var (
		buckets []*models.ActivityMetric
		err     error
	)
	if raw := c.Query("project_id"); raw != "" {
		id, parseErr := strconv.ParseInt(raw, 10, 64)
		if parseErr != nil {
			writeError(c, http.StatusBadRequest, "invalid_project_id", "project_id must be an integer")
			return
		}
		buckets, err = s.deps.Activity.ForProject(ctx, id, since, limit)
	} else {
		buckets, err = s.deps.Activity.Recent(ctx, since, limit)
	}
	if err != nil {
		s.writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"buckets": buckets})
}
