package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/samotage/claude-headspace-sub003/pkg/store"
)

func (s *Server) handleGetObjective(c *gin.Context) {
	obj, err := s.deps.Objectives.Current(c.Request.Context())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusOK, gin.H{"text": "", "priority_enabled": false})
			return
		}
		s.writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"text": obj.Text, "priority_enabled": obj.PriorityEnabled})
}

type setObjectiveRequest struct {
	Text            string `json:"text" binding:"required"`
	PriorityEnabled bool   `json:"priority_enabled"`
}

func (s *Server) handleSetObjective(c *gin.Context) {
	var req setObjectiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	obj, err := s.deps.Objectives.Set(c.Request.Context(), req.Text, req.PriorityEnabled)
	if err != nil {
		s.writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"text": obj.Text, "priority_enabled": obj.PriorityEnabled})
}
