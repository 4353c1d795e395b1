package config

import (
	"fmt"
	"strings"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	case "google":
		if !strings.HasPrefix(key, "AIza") {
			return fmt.Errorf("invalid Google API key format (should start with AIza)")
		}
	}

	return nil
}

// ValidateTemperature validates temperature value
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 1 {
		return fmt.Errorf("temperature must be between 0 and 1, got %f", temp)
	}
	return nil
}

// ValidateMaxTokens validates max tokens value
func (v *Validator) ValidateMaxTokens(tokens int) error {
	if tokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", tokens)
	}
	if tokens > 200000 {
		return fmt.Errorf("max tokens too large (max 200000), got %d", tokens)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateSandboxMode validates an agent sandbox mode
func (v *Validator) ValidateSandboxMode(mode string) error {
	if mode == "" {
		return nil // Use default
	}

	validModes := []string{"off", "all", "non-main"}
	for _, valid := range validModes {
		if mode == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid sandbox mode: %s (must be one of: %s)", mode, strings.Join(validModes, ", "))
}

// ValidateWorkspaceAccess validates a sandbox workspace access level
func (v *Validator) ValidateWorkspaceAccess(access string) error {
	if access == "" {
		return nil // Use default
	}

	validLevels := []string{"none", "ro", "rw"}
	for _, valid := range validLevels {
		if access == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid workspace access: %s (must be one of: %s)", access, strings.Join(validLevels, ", "))
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	// Validate provider credentials when present
	for name, provider := range cfg.Providers {
		if provider.APIKey != "" {
			if err := v.ValidateAPIKey(provider.APIKey, name); err != nil {
				errors = append(errors, fmt.Errorf("provider %s: %w", name, err))
			}
		}
	}

	// Validate agents
	for i, agent := range cfg.Agents {
		if agent.Temperature != 0 {
			if err := v.ValidateTemperature(agent.Temperature); err != nil {
				errors = append(errors, fmt.Errorf("agent %d (%s): %w", i, agent.ID, err))
			}
		}
		if agent.MaxTokens != 0 {
			if err := v.ValidateMaxTokens(agent.MaxTokens); err != nil {
				errors = append(errors, fmt.Errorf("agent %d (%s): %w", i, agent.ID, err))
			}
		}
		if err := v.ValidateSandboxMode(agent.Sandbox.Mode); err != nil {
			errors = append(errors, fmt.Errorf("agent %d (%s): %w", i, agent.ID, err))
		}
		if err := v.ValidateWorkspaceAccess(agent.Sandbox.WorkspaceAccess); err != nil {
			errors = append(errors, fmt.Errorf("agent %d (%s): %w", i, agent.ID, err))
		}
	}

	// Validate channel history limits
	channels := map[string]*ChannelConfig{
		"telegram": &cfg.Channels.Telegram,
		"whatsapp": &cfg.Channels.WhatsApp,
		"discord":  &cfg.Channels.Discord,
		"slack":    &cfg.Channels.Slack,
		"signal":   &cfg.Channels.Signal,
		"imessage": &cfg.Channels.IMessage,
		"msteams":  &cfg.Channels.MSTeams,
	}
	for name, ch := range channels {
		if ch.DMHistoryLimit != nil && *ch.DMHistoryLimit < 0 {
			errors = append(errors, fmt.Errorf("channel %s: dm_history_limit must be >= 0", name))
		}
		for user, override := range ch.DMs {
			if override.HistoryLimit != nil && *override.HistoryLimit < 0 {
				errors = append(errors, fmt.Errorf("channel %s: dm %s: history_limit must be >= 0", name, user))
			}
		}
	}

	// Validate retention settings
	if cfg.Session.ArchiveAfterHours < 0 {
		errors = append(errors, fmt.Errorf("session.archive_after_hours must be >= 0"))
	}
	if cfg.Session.PurgeAfterDays < 0 {
		errors = append(errors, fmt.Errorf("session.purge_after_days must be >= 0"))
	}

	// Validate runner settings
	if cfg.Runner.TurnTimeoutSeconds < 0 {
		errors = append(errors, fmt.Errorf("runner.turn_timeout_seconds must be >= 0"))
	}
	if cfg.Runner.MaxToolRounds < 0 {
		errors = append(errors, fmt.Errorf("runner.max_tool_rounds must be >= 0"))
	}
	if cfg.Runner.MaxRetries < 0 {
		errors = append(errors, fmt.Errorf("runner.max_retries must be >= 0"))
	}

	// Validate gateway
	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		errors = append(errors, fmt.Errorf("gateway.port must be between 0 and 65535"))
	}

	// Validate logging
	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	return errors
}
