package config

import "fmt"

// Validator validates a loaded configuration comprehensively with clear
// error messages, failing fast at the first problem found.
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll validates every section in dependency order.
func (v *Validator) ValidateAll() error {
	if err := v.validateServer(); err != nil {
		return fmt.Errorf("server validation failed: %w", err)
	}
	if err := v.validateFileWatcher(); err != nil {
		return fmt.Errorf("file_watcher validation failed: %w", err)
	}
	if err := v.validateSSE(); err != nil {
		return fmt.Errorf("sse validation failed: %w", err)
	}
	if err := v.validateRemoteAgents(); err != nil {
		return fmt.Errorf("remote_agents validation failed: %w", err)
	}
	if err := v.validateVoiceBridge(); err != nil {
		return fmt.Errorf("voice_bridge validation failed: %w", err)
	}
	if err := v.validateGuardrail(); err != nil {
		return fmt.Errorf("guardrail validation failed: %w", err)
	}
	if err := v.validateExceptionReporting(); err != nil {
		return fmt.Errorf("exception_reporting validation failed: %w", err)
	}
	return nil
}

func (v *Validator) validateServer() error {
	if v.cfg.Server.Port <= 0 || v.cfg.Server.Port > 65535 {
		return NewValidationError("server", "", "port", fmt.Errorf("must be between 1 and 65535, got %d", v.cfg.Server.Port))
	}
	return nil
}

func (v *Validator) validateFileWatcher() error {
	fw := v.cfg.FileWatcher
	if fw.ProjectsRoot == "" {
		return NewValidationError("file_watcher", "", "projects_root", fmt.Errorf("required"))
	}
	if fw.PollInterval <= 0 {
		return NewValidationError("file_watcher", "", "poll_interval", fmt.Errorf("must be positive"))
	}
	return nil
}

func (v *Validator) validateSSE() error {
	s := v.cfg.SSE
	if s.SubscriberBufferSize < 1 {
		return NewValidationError("sse", "", "subscriber_buffer_size", fmt.Errorf("must be at least 1"))
	}
	if s.CatchupWindow < 0 {
		return NewValidationError("sse", "", "catchup_window", fmt.Errorf("must be non-negative"))
	}
	return nil
}

func (v *Validator) validateRemoteAgents() error {
	ra := v.cfg.RemoteAgents
	if !ra.Enabled {
		return nil
	}
	if ra.TokenTTL <= 0 {
		return NewValidationError("remote_agents", "", "token_ttl", fmt.Errorf("must be positive when enabled"))
	}
	if ra.MaxPerProject < 1 {
		return NewValidationError("remote_agents", "", "max_per_project", fmt.Errorf("must be at least 1 when enabled"))
	}
	return nil
}

func (v *Validator) validateVoiceBridge() error {
	vb := v.cfg.VoiceBridge
	if !vb.Enabled {
		return nil
	}
	if vb.Token == "" && !vb.LocalhostBypass {
		return NewValidationError("voice_bridge", "", "token", fmt.Errorf("required unless localhost_bypass is set"))
	}
	if vb.RequestsPerMinute < 1 {
		return NewValidationError("voice_bridge", "", "requests_per_minute", fmt.Errorf("must be at least 1"))
	}
	return nil
}

func (v *Validator) validateGuardrail() error {
	for i, p := range v.cfg.Guardrail.CustomPatterns {
		if p.Pattern == "" {
			return NewValidationError("guardrail", "", fmt.Sprintf("custom_patterns[%d].pattern", i), fmt.Errorf("required"))
		}
		if p.Replacement == "" {
			return NewValidationError("guardrail", "", fmt.Sprintf("custom_patterns[%d].replacement", i), fmt.Errorf("required"))
		}
	}
	return nil
}

func (v *Validator) validateExceptionReporting() error {
	er := v.cfg.ExceptionReporting
	if !er.Enabled {
		return nil
	}
	if er.Endpoint == "" {
		return NewValidationError("exception_reporting", "", "endpoint", fmt.Errorf("required when enabled"))
	}
	if er.RequestsPerMinute < 1 {
		return NewValidationError("exception_reporting", "", "requests_per_minute", fmt.Errorf("must be at least 1"))
	}
	return nil
}
