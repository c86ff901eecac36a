package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/samotage/claude-headspace-sub003/pkg/lifecycle"
)

type createRemoteAgentRequest struct {
	ProjectSlug  string          `json:"project_slug" binding:"required"`
	PersonaSlug  string          `json:"persona_slug" binding:"required"`
	InitialPrompt string         `json:"initial_prompt" binding:"required"`
	FeatureFlags map[string]bool `json:"feature_flags"`
}

func (s *Server) handleCreateRemoteAgent(c *gin.Context) {
	if !s.deps.Config.RemoteAgents.Enabled {
		writeError(c, http.StatusServiceUnavailable, "remote_agents_disabled", "remote agent creation is disabled")
		return
	}

	var req createRemoteAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	ctx := c.Request.Context()
	project, err := s.deps.Projects.GetBySlug(ctx, req.ProjectSlug)
	if err != nil {
		s.writeDomainError(c, err)
		return
	}

	agent, err := s.deps.Lifecycle.Create(ctx, lifecycle.CreateOptions{
		ProjectID:   project.ID,
		PersonaSlug: &req.PersonaSlug,
	})
	if err != nil {
		s.writeDomainError(c, err)
		return
	}

	token := s.deps.RemoteTokens.Generate(agent.ID, req.FeatureFlags)
	c.JSON(http.StatusCreated, gin.H{
		"agent_id":     agent.ID,
		"embed_url":    fmt.Sprintf("/remote/%d", agent.ID),
		"session_token": token,
	})
}

func (s *Server) handleRemoteAgentAlive(c *gin.Context) {
	id, ok := remoteAgentID(c)
	if !ok {
		return
	}
	agent, err := s.deps.Agents.GetByID(c.Request.Context(), id)
	if err != nil {
		writeError(c, http.StatusNotFound, "agent_not_found", "agent not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"alive": agent.EndedAt == nil})
}

func (s *Server) handleRemoteAgentShutdown(c *gin.Context) {
	id, ok := remoteAgentID(c)
	if !ok {
		return
	}
	result, err := s.deps.Lifecycle.Shutdown(c.Request.Context(), id)
	if err != nil || result.Reason == "not found" {
		writeError(c, http.StatusNotFound, "agent_not_found", "agent not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "message": "agent shutdown initiated"})
}

func remoteAgentID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid_id", "agent id must be an integer")
		return 0, false
	}
	return id, true
}
