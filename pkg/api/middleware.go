package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// corsMiddleware allows the embedded remote-agent surface to be fetched
// cross-origin from the configured host list. An empty allowlist leaves
// CORS headers unset, which browsers treat as same-origin-only.
func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && allowed[origin] {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// remoteTokenMiddleware requires a bearer token naming exactly the agent
// the URL path addresses, so a token issued for one agent can never be
// replayed against another.
func (s *Server) remoteTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := remoteAgentID(c)
		if !ok {
			return
		}

		authHeader := c.GetHeader("Authorization")
		const prefix = "Bearer "
		if len(authHeader) <= len(prefix) || authHeader[:len(prefix)] != prefix {
			writeError(c, http.StatusUnauthorized, "missing_token", "Authorization: Bearer <token> is required")
			return
		}
		token := authHeader[len(prefix):]

		if _, ok := s.deps.RemoteTokens.ValidateForAgent(token, id); !ok {
			writeError(c, http.StatusUnauthorized, "invalid_token", "token is invalid or does not match this agent")
			return
		}
		c.Next()
	}
}
