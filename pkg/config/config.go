package config

// Config is the fully resolved, validated configuration tree handed to
// every component at boot.
type Config struct {
	configDir string

	Server            ServerConfig
	Database          DatabaseConfig
	FileWatcher       FileWatcherConfig
	EventSystem       EventSystemConfig
	Correlator        CorrelatorConfig
	SSE               SSEConfig
	TmuxBridge        TmuxBridgeConfig
	RemoteAgents      RemoteAgentsConfig
	VoiceBridge       VoiceBridgeConfig
	Guardrail         GuardrailConfig
	Personas          PersonasConfig
	ExceptionReporting ExceptionReportingConfig
	APICallLogging    APICallLoggingConfig
	Metrics           MetricsConfig
	Logging           LoggingConfig
	Oracle            OracleConfig
	Reaper            ReaperConfig
	Priority          PriorityConfig
	Summary           SummaryConfig
	Retention         RetentionConfig
	Dashboard         DashboardConfig
}

// ConfigDir returns the directory this configuration was loaded from.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// Stats summarises the resolved configuration for a single startup log line.
type Stats struct {
	FileWatcherRoot string
	SSEEnabled      bool
	RemoteAgents    bool
	VoiceBridge     bool
	Metrics         bool
}

// Stats returns a snapshot used for the startup log line.
func (c *Config) Stats() Stats {
	return Stats{
		FileWatcherRoot: c.FileWatcher.ProjectsRoot,
		SSEEnabled:      true,
		RemoteAgents:    c.RemoteAgents.Enabled,
		VoiceBridge:     c.VoiceBridge.Enabled,
		Metrics:         c.Metrics.Enabled,
	}
}
