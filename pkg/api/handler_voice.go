package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// handleVoiceAuthProbe is a diagnostic mount: reaching this handler means
// voiceauth.Auth.Middleware() already let the request through, so the only
// thing worth reporting is that fact.
func (s *Server) handleVoiceAuthProbe(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"authenticated": true})
}
