package config

import "time"

// DefaultConfig returns the built-in baseline every loaded YAML document is
// merged on top of. Only non-zero values need to appear in a user's
// headspace.yaml.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8420,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "headspace",
			Database:        "headspace",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    10,
			ConnMaxLifetime: time.Hour,
			ConnMaxIdleTime: 15 * time.Minute,
		},
		FileWatcher: FileWatcherConfig{
			PollInterval:       2 * time.Second,
			DebounceWindow:     500 * time.Millisecond,
			HookActiveInterval: 500 * time.Millisecond,
			ActiveWindow:       2 * time.Minute,
		},
		EventSystem: EventSystemConfig{
			RetryMaxElapsedTime: 30 * time.Second,
			RetryInitialDelay:   200 * time.Millisecond,
		},
		Correlator: CorrelatorConfig{
			DedupeWindow: 5 * time.Minute,
			DedupeCap:    2048,
			RateMax:      30,
			RateWindow:   time.Minute,
		},
		SSE: SSEConfig{
			SubscriberBufferSize: 256,
			CatchupWindow:        5 * time.Minute,
			HeartbeatInterval:    15 * time.Second,
		},
		TmuxBridge: TmuxBridgeConfig{
			SocketName:     "headspace",
			ReplBinary:     "claude",
			SpawnTimeout:   10 * time.Second,
			InjectKeyDelay: 50 * time.Millisecond,
		},
		RemoteAgents: RemoteAgentsConfig{
			Enabled:        false,
			TokenTTL:       24 * time.Hour,
			MaxPerProject:  5,
			AllowedOrigins: []string{},
		},
		VoiceBridge: VoiceBridgeConfig{
			Enabled:           false,
			LocalhostBypass:   true,
			RequestsPerMinute: 30,
		},
		Guardrail: GuardrailConfig{
			Enabled:       true,
			PatternGroups: []string{"security"},
			DocumentPath:  "guardrails/GUARDRAILS.md",
		},
		Personas: PersonasConfig{
			Root: "personas",
		},
		ExceptionReporting: ExceptionReportingConfig{
			Enabled:           false,
			RequestsPerMinute: 10,
			BurstSize:         3,
			Timeout:           5 * time.Second,
		},
		APICallLogging: APICallLoggingConfig{
			Enabled:      true,
			PathPrefixes: []string{"/api/"},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			DevConsole: false,
		},
		Oracle: OracleConfig{
			Model:    "default",
			Timeout:  20 * time.Second,
			CacheTTL: 10 * time.Minute,
		},
		Reaper: ReaperConfig{
			SweepInterval:          30 * time.Second,
			StaleThreshold:         10 * time.Minute,
			MaxConsecutiveFailures: 3,
		},
		Priority: PriorityConfig{
			SweepInterval: time.Minute,
		},
		Summary: SummaryConfig{
			SweepInterval: 30 * time.Second,
			BatchSize:     20,
		},
		Retention: RetentionConfig{
			SweepInterval:  time.Hour,
			AgentRetention: 30 * 24 * time.Hour,
			EventRetention: 90 * 24 * time.Hour,
		},
		Dashboard: DashboardConfig{
			StaleProcessingSeconds: 600,
		},
	}
}
