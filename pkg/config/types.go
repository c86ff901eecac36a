package config

import "time"

// ServerConfig controls the HTTP listener shared by the dashboard API, the
// SSE stream, and the webhook/hook receiver.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port" validate:"required"`
}

// DatabaseConfig mirrors pkg/database.Config, expressed in YAML so it can be
// merged with environment overrides the way every other section is.
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// FileWatcherConfig controls the transcript watcher's polling and
// debouncing behaviour, and the hook receiver's hook-active/fallback
// interval switch (HookActiveInterval/ActiveWindow govern the hook
// receiver's side of that switch; PollInterval is the fallback rate the
// watcher process itself polls at when no hook has arrived recently).
type FileWatcherConfig struct {
	ProjectsRoot       string        `yaml:"projects_root" validate:"required"`
	PollInterval       time.Duration `yaml:"poll_interval"`
	DebounceWindow     time.Duration `yaml:"debounce_window"`
	HookActiveInterval time.Duration `yaml:"hook_active_interval"`
	ActiveWindow       time.Duration `yaml:"active_window"`
}

// EventSystemConfig controls the event writer's retry and fan-out behaviour.
type EventSystemConfig struct {
	RetryMaxElapsedTime time.Duration `yaml:"retry_max_elapsed_time"`
	RetryInitialDelay   time.Duration `yaml:"retry_initial_delay"`
}

// CorrelatorConfig bounds the turn correlator's in-process duplicate-hash
// ring and per-agent command creation rate limit.
type CorrelatorConfig struct {
	DedupeWindow time.Duration `yaml:"dedupe_window"`
	DedupeCap    int           `yaml:"dedupe_cap"`
	RateMax      int           `yaml:"rate_max"`
	RateWindow   time.Duration `yaml:"rate_window"`
}

// SSEConfig controls the broadcaster's per-subscriber channel sizing and
// catchup window.
type SSEConfig struct {
	SubscriberBufferSize int           `yaml:"subscriber_buffer_size"`
	CatchupWindow        time.Duration `yaml:"catchup_window"`
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
}

// TmuxBridgeConfig controls the terminal bridge's spawn and injection
// behaviour.
type TmuxBridgeConfig struct {
	SocketName     string        `yaml:"socket_name"`
	ReplBinary     string        `yaml:"repl_binary"`
	SpawnTimeout   time.Duration `yaml:"spawn_timeout"`
	InjectKeyDelay time.Duration `yaml:"inject_key_delay"`
}

// RemoteAgentsConfig controls the remote-agent session token surface.
type RemoteAgentsConfig struct {
	Enabled        bool          `yaml:"enabled"`
	TokenTTL       time.Duration `yaml:"token_ttl"`
	MaxPerProject  int           `yaml:"max_per_project"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

// VoiceBridgeConfig controls the voice bridge authentication middleware.
// The voice bridge feature itself is out of scope; this section
// only governs whether the middleware accepts or rejects a request.
type VoiceBridgeConfig struct {
	Enabled          bool   `yaml:"enabled"`
	Token            string `yaml:"token"`
	LocalhostBypass  bool   `yaml:"localhost_bypass"`
	RequestsPerMinute int   `yaml:"requests_per_minute"`
}

// GuardrailConfig controls both guardrail concerns: the sanitiser's pattern
// set (named and custom regex patterns compiled ahead of use, stripping
// system detail from tool output before it reaches an agent) and the
// platform-wide instruction document injected into every persona-bearing
// agent at creation, whose SHA-256 is stamped on the agent as
// guardrails_version_hash.
type GuardrailConfig struct {
	Enabled        bool             `yaml:"enabled"`
	PatternGroups  []string         `yaml:"pattern_groups,omitempty"`
	Patterns       []string         `yaml:"patterns,omitempty"`
	CustomPatterns []MaskingPattern `yaml:"custom_patterns,omitempty"`
	DocumentPath   string           `yaml:"document_path"`
}

// PersonasConfig controls where the lifecycle controller reads persona
// skill/experience content from on disk.
type PersonasConfig struct {
	Root string `yaml:"root"`
}

// MaskingPattern defines a regex-based masking pattern.
type MaskingPattern struct {
	Pattern     string `yaml:"pattern" validate:"required"`
	Replacement string `yaml:"replacement" validate:"required"`
	Description string `yaml:"description,omitempty"`
}

// ExceptionReportingConfig controls the best-effort internal-exception
// forwarder.
type ExceptionReportingConfig struct {
	Enabled           bool          `yaml:"enabled"`
	Endpoint          string        `yaml:"endpoint"`
	WebhookSecret     string        `yaml:"webhook_secret"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	BurstSize         int           `yaml:"burst_size"`
	Timeout           time.Duration `yaml:"timeout"`
}

// APICallLoggingConfig controls which path prefixes get logged to
// api_call_logs.
type APICallLoggingConfig struct {
	Enabled      bool     `yaml:"enabled"`
	PathPrefixes []string `yaml:"path_prefixes"`
}

// MetricsConfig controls the Prometheus exporter.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig controls the slog handler construction.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // "json" or "text"
	DevConsole bool   `yaml:"dev_console"`
}

// OracleConfig controls the pluggable inference backend.
type OracleConfig struct {
	Endpoint  string        `yaml:"endpoint"`
	Model     string        `yaml:"model"`
	APIKeyEnv string        `yaml:"api_key_env"`
	Timeout   time.Duration `yaml:"timeout"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
}

// ReaperConfig controls the orphan-detection sweep.
type ReaperConfig struct {
	SweepInterval          time.Duration `yaml:"sweep_interval"`
	StaleThreshold         time.Duration `yaml:"stale_threshold"`
	MaxConsecutiveFailures int           `yaml:"max_consecutive_failures"`
}

// DashboardConfig controls the card projector.
type DashboardConfig struct {
	StaleProcessingSeconds int `yaml:"stale_processing_seconds"`
}

// PriorityConfig controls the objective-scoring sweep.
type PriorityConfig struct {
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// SummaryConfig controls the turn/command summarisation sweep.
type SummaryConfig struct {
	SweepInterval time.Duration `yaml:"sweep_interval"`
	BatchSize     int           `yaml:"batch_size"`
}

// RetentionConfig controls the background data-retention sweep: how long a
// finished agent (and, by cascade, its commands/turns/handoff row) is kept
// before deletion, how long an event row is kept once it outlives the
// agent it concerned, and how often the sweep runs.
type RetentionConfig struct {
	SweepInterval  time.Duration `yaml:"sweep_interval"`
	AgentRetention time.Duration `yaml:"agent_retention"`
	EventRetention time.Duration `yaml:"event_retention"`
}
