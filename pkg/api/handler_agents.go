package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/samotage/claude-headspace-sub003/pkg/lifecycle"
)

type createAgentRequest struct {
	ProjectID   int64   `json:"project_id" binding:"required"`
	PersonaSlug *string `json:"persona_slug"`
}

func (s *Server) handleCreateAgent(c *gin.Context) {
	var req createAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	agent, err := s.deps.Lifecycle.Create(c.Request.Context(), lifecycle.CreateOptions{
		ProjectID:   req.ProjectID,
		PersonaSlug: req.PersonaSlug,
	})
	if err != nil {
		s.writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"agent_id": agent.ID, "session_uuid": agent.SessionUUID.String()})
}

func (s *Server) handleListAgents(c *gin.Context) {
	agents, err := s.deps.Agents.Active(c.Request.Context())
	if err != nil {
		s.writeDomainError(c, err)
		return
	}

	cards := make([]*gin.H, 0, len(agents))
	for _, a := range agents {
		built, err := s.deps.Cards.Build(c.Request.Context(), a)
		if err != nil {
			continue
		}
		h := gin.H{"card": built}
		cards = append(cards, &h)
	}
	c.JSON(http.StatusOK, gin.H{"agents": cards})
}

func (s *Server) handleShutdownAgent(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid_id", "agent id must be an integer")
		return
	}

	result, err := s.deps.Lifecycle.Shutdown(c.Request.Context(), id)
	if err != nil {
		s.writeDomainError(c, err)
		return
	}
	if result.Reason == "not found" {
		writeError(c, http.StatusNotFound, "not_found", "agent not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"attempted": result.Attempted, "reason": result.Reason})
}

func (s *Server) handleAgentContext(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid_id", "agent id must be an integer")
		return
	}

	agent, err := s.deps.Agents.GetByID(c.Request.Context(), id)
	if err != nil {
		s.writeDomainError(c, err)
		return
	}

	if agent.ContextPercentUsed == nil {
		c.JSON(http.StatusOK, gin.H{"available": false, "reason": "no context line parsed yet"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"available":         true,
		"percent_used":      *agent.ContextPercentUsed,
		"remaining_tokens":  agent.ContextRemainingTokens,
		"updated_at":        agent.ContextUpdatedAt,
	})
}
