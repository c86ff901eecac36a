package api

import "github.com/gin-gonic/gin"

func (s *Server) registerRoutes() {
	s.deps.HookReceiver.RegisterRoutes(s.engine)

	s.engine.GET("/health", s.handleHealth)
	if s.deps.Config.Metrics.Enabled {
		path := s.deps.Config.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		s.engine.GET(path, gin.WrapH(s.metrics.Handler()))
	}

	api := s.engine.Group("/api")
	api.Use(s.deps.APICallLog.Middleware())

	agents := api.Group("/agents")
	agents.POST("", s.handleCreateAgent)
	agents.GET("", s.handleListAgents)
	agents.DELETE("/:id", s.handleShutdownAgent)
	agents.GET("/:id/context", s.handleAgentContext)

	personas := api.Group("/personas")
	personas.POST("/register", s.handleRegisterPersona)
	personas.GET("/active", s.handleActivePersonas)

	objective := api.Group("/objective")
	objective.GET("", s.handleGetObjective)
	objective.PUT("", s.handleSetObjective)

	api.GET("/activity", s.handleActivity)
	api.GET("/events/stream", s.handleEventStream)

	voice := api.Group("/voice")
	voice.Use(s.deps.VoiceAuth.Middleware())
	voice.GET("/_auth_probe", s.handleVoiceAuthProbe)

	remote := api.Group("/remote_agents")
	remote.Use(corsMiddleware(s.deps.Config.RemoteAgents.AllowedOrigins))
	// corsMiddleware answers every OPTIONS preflight itself (204, or no
	// CORS headers for an unlisted origin); this wildcard just gives gin's
	// router an OPTIONS route to dispatch to under the group.
	remote.OPTIONS("/*any", func(c *gin.Context) {})
	remote.POST("/create", s.handleCreateRemoteAgent)
	remote.GET("/:id/alive", s.remoteTokenMiddleware(), s.handleRemoteAgentAlive)
	remote.POST("/:id/shutdown", s.remoteTokenMiddleware(), s.handleRemoteAgentShutdown)
}
