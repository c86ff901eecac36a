package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type healthResponse struct {
	Status         string  `json:"status"`
	Version        string  `json:"version"`
	Database       string  `json:"database"`
	WatcherRunning bool    `json:"watcher_running"`
	DatabaseError  *string `json:"database_error,omitempty"`
}

// handleHealth reports overall service health. Always returns 200: a
// degraded dependency is surfaced in the body, not the status line, so a
// load balancer health check doesn't flap the process on a transient DB
// blip.
func (s *Server) handleHealth(c *gin.Context) {
	resp := healthResponse{
		Status:  "healthy",
		Version: Version,
		Database: "connected",
	}

	if err := s.deps.DB.PingContext(c.Request.Context()); err != nil {
		resp.Status = "degraded"
		resp.Database = "disconnected"
		msg := err.Error()
		resp.DatabaseError = &msg
	}

	if s.deps.WatcherHealth != nil {
		status := s.deps.WatcherHealth.Check()
		resp.WatcherRunning = status.Alive
		if !status.Alive {
			resp.Status = "degraded"
		}
	}

	c.JSON(http.StatusOK, resp)
}
