package config

import (
	"encoding/json"
	"fmt"
)

// Config represents the main Braid configuration
type Config struct {
	// Agents
	Agents []AgentConfig `json:"agents" mapstructure:"agents"`

	// Providers, keyed by provider name (anthropic, openai, google)
	Providers map[string]ProviderConfig `json:"providers" mapstructure:"providers"`

	// Channels
	Channels ChannelsConfig `json:"channels" mapstructure:"channels"`

	// Session persistence and retention
	Session SessionConfig `json:"session" mapstructure:"session"`

	// Runner behavior
	Runner RunnerConfig `json:"runner" mapstructure:"runner"`

	// Gateway configuration
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// Workspace path
	WorkspacePath string `json:"workspace_path" mapstructure:"workspace_path"`
}

// AgentConfig represents an agent configuration
type AgentConfig struct {
	ID           string           `json:"id" mapstructure:"id"`
	Name         string           `json:"name" mapstructure:"name"`
	Default      bool             `json:"default" mapstructure:"default"`
	Model        string           `json:"model" mapstructure:"model"`
	Temperature  float64          `json:"temperature" mapstructure:"temperature"`
	MaxTokens    int              `json:"max_tokens" mapstructure:"max_tokens"`
	SystemPrompt string           `json:"system_prompt" mapstructure:"system_prompt"`
	Workspace    string           `json:"workspace" mapstructure:"workspace"`
	Tools        ToolPolicyConfig `json:"tools" mapstructure:"tools"`
	Sandbox      SandboxConfig    `json:"sandbox" mapstructure:"sandbox"`
}

// ToolPolicyConfig defines tool access policies
type ToolPolicyConfig struct {
	Allow []string `json:"allow" mapstructure:"allow"`
	Deny  []string `json:"deny" mapstructure:"deny"`
}

// SandboxConfig defines sandbox settings for an agent
type SandboxConfig struct {
	Mode            string          `json:"mode" mapstructure:"mode"`                         // off, all, non-main
	Scope           string          `json:"scope" mapstructure:"scope"`                       // agent, session
	WorkspaceAccess string          `json:"workspace_access" mapstructure:"workspace_access"` // none, ro, rw
	Browser         BrowserConfig   `json:"browser" mapstructure:"browser"`
	Elevated        ElevationConfig `json:"elevated" mapstructure:"elevated"`
}

// BrowserConfig describes a sandboxed browser endpoint
type BrowserConfig struct {
	Enabled          bool   `json:"enabled" mapstructure:"enabled"`
	ControlURL       string `json:"control_url" mapstructure:"control_url"`
	NoVNCURL         string `json:"no_vnc_url" mapstructure:"no_vnc_url"`
	AllowHostControl bool   `json:"allow_host_control" mapstructure:"allow_host_control"`
}

// ElevationConfig gates sandbox-escape for privileged sessions
type ElevationConfig struct {
	Enabled      bool     `json:"enabled" mapstructure:"enabled"`
	Allowed      []string `json:"allowed" mapstructure:"allowed"`
	DefaultLevel string   `json:"default_level" mapstructure:"default_level"`
}

// ProviderConfig holds one model provider's credentials and catalog
type ProviderConfig struct {
	API     string        `json:"api" mapstructure:"api"`
	APIKey  string        `json:"api_key" mapstructure:"api_key"`
	BaseURL string        `json:"base_url" mapstructure:"base_url"`
	Models  []ModelConfig `json:"models" mapstructure:"models"`
}

// ModelConfig describes a single model in a provider catalog
type ModelConfig struct {
	ID            string     `json:"id" mapstructure:"id"`
	Name          string     `json:"name" mapstructure:"name"`
	Reasoning     bool       `json:"reasoning" mapstructure:"reasoning"`
	ContextWindow int        `json:"context_window" mapstructure:"context_window"`
	MaxTokens     int        `json:"max_tokens" mapstructure:"max_tokens"`
	Cost          CostConfig `json:"cost" mapstructure:"cost"`
}

// CostConfig holds per-million-token pricing
type CostConfig struct {
	Input      float64 `json:"input" mapstructure:"input"`
	Output     float64 `json:"output" mapstructure:"output"`
	CacheRead  float64 `json:"cache_read" mapstructure:"cache_read"`
	CacheWrite float64 `json:"cache_write" mapstructure:"cache_write"`
}

// ChannelsConfig holds per-provider channel configuration
type ChannelsConfig struct {
	Telegram ChannelConfig `json:"telegram" mapstructure:"telegram"`
	WhatsApp ChannelConfig `json:"whatsapp" mapstructure:"whatsapp"`
	Discord  ChannelConfig `json:"discord" mapstructure:"discord"`
	Slack    ChannelConfig `json:"slack" mapstructure:"slack"`
	Signal   ChannelConfig `json:"signal" mapstructure:"signal"`
	IMessage ChannelConfig `json:"imessage" mapstructure:"imessage"`
	MSTeams  ChannelConfig `json:"msteams" mapstructure:"msteams"`
}

// ByProvider returns the channel block for a session-key provider name.
func (c *ChannelsConfig) ByProvider(name string) (*ChannelConfig, bool) {
	switch name {
	case "telegram":
		return &c.Telegram, true
	case "whatsapp":
		return &c.WhatsApp, true
	case "discord":
		return &c.Discord, true
	case "slack":
		return &c.Slack, true
	case "signal":
		return &c.Signal, true
	case "imessage":
		return &c.IMessage, true
	case "msteams":
		return &c.MSTeams, true
	default:
		return nil, false
	}
}

// ChannelConfig represents a channel configuration. DMHistoryLimit and the
// per-user overrides are pointers so an explicit 0 ("unlimited") stays
// distinct from "not set".
type ChannelConfig struct {
	Enabled        bool                  `json:"enabled" mapstructure:"enabled"`
	DMHistoryLimit *int                  `json:"dm_history_limit,omitempty" mapstructure:"dm_history_limit"`
	DMs            map[string]DMOverride `json:"dms,omitempty" mapstructure:"dms"`
}

// DMOverride carries per-user channel overrides
type DMOverride struct {
	HistoryLimit *int `json:"history_limit,omitempty" mapstructure:"history_limit"`
}

// SessionConfig holds transcript storage settings
type SessionConfig struct {
	Dir               string `json:"dir" mapstructure:"dir"`
	IndexPath         string `json:"index_path" mapstructure:"index_path"`
	RetentionSchedule string `json:"retention_schedule" mapstructure:"retention_schedule"`
	ArchiveAfterHours int    `json:"archive_after_hours" mapstructure:"archive_after_hours"`
	PurgeAfterDays    int    `json:"purge_after_days" mapstructure:"purge_after_days"`
}

// RunnerConfig holds turn execution settings
type RunnerConfig struct {
	TurnTimeoutSeconds int `json:"turn_timeout_seconds" mapstructure:"turn_timeout_seconds"`
	MaxToolRounds      int `json:"max_tool_rounds" mapstructure:"max_tool_rounds"`
	MaxRetries         int `json:"max_retries" mapstructure:"max_retries"`
}

// GatewayConfig holds gateway server configuration
type GatewayConfig struct {
	Port         int    `json:"port" mapstructure:"port"`
	Host         string `json:"host" mapstructure:"host"`
	SharedSecret string `json:"shared_secret" mapstructure:"shared_secret"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Agents: []AgentConfig{
			{
				ID:          "assistant",
				Name:        "Assistant",
				Default:     true,
				Model:       "claude-sonnet-4-0",
				Temperature: 0.7,
				MaxTokens:   4096,
				Tools: ToolPolicyConfig{
					Allow: []string{"*"},
					Deny:  []string{},
				},
				Sandbox: SandboxConfig{
					Mode:            "off",
					Scope:           "agent",
					WorkspaceAccess: "rw",
				},
			},
		},
		Providers: map[string]ProviderConfig{
			"anthropic": {
				API: "anthropic-messages",
				Models: []ModelConfig{
					{
						ID:            "claude-opus-4-1",
						Name:          "Claude Opus 4.1",
						Reasoning:     true,
						ContextWindow: 200000,
						MaxTokens:     32000,
						Cost:          CostConfig{Input: 15, Output: 75, CacheRead: 1.5, CacheWrite: 18.75},
					},
					{
						ID:            "claude-sonnet-4-0",
						Name:          "Claude Sonnet 4",
						Reasoning:     true,
						ContextWindow: 200000,
						MaxTokens:     64000,
						Cost:          CostConfig{Input: 3, Output: 15, CacheRead: 0.3, CacheWrite: 3.75},
					},
				},
			},
			"openai": {
				API: "openai-chat",
				Models: []ModelConfig{
					{
						ID:            "gpt-4o",
						Name:          "GPT-4o",
						ContextWindow: 128000,
						MaxTokens:     16384,
						Cost:          CostConfig{Input: 2.5, Output: 10, CacheRead: 1.25},
					},
					{
						ID:            "gpt-4o-mini",
						Name:          "GPT-4o mini",
						ContextWindow: 128000,
						MaxTokens:     16384,
						Cost:          CostConfig{Input: 0.15, Output: 0.6, CacheRead: 0.075},
					},
				},
			},
			"google": {
				API: "google-generative-ai",
				Models: []ModelConfig{
					{
						ID:            "gemini-2.0-flash",
						Name:          "Gemini 2.0 Flash",
						ContextWindow: 1048576,
						MaxTokens:     8192,
						Cost:          CostConfig{Input: 0.1, Output: 0.4},
					},
					{
						ID:            "gemini-1.5-pro",
						Name:          "Gemini 1.5 Pro",
						ContextWindow: 2097152,
						MaxTokens:     8192,
						Cost:          CostConfig{Input: 1.25, Output: 5},
					},
				},
			},
		},
		Channels: ChannelsConfig{},
		Session: SessionConfig{
			RetentionSchedule: "0 * * * *",
			ArchiveAfterHours: 72,
			PurgeAfterDays:    7,
		},
		Runner: RunnerConfig{
			TurnTimeoutSeconds: 120,
			MaxToolRounds:      8,
			MaxRetries:         3,
		},
		Gateway: GatewayConfig{
			Port:         8080,
			Host:         "0.0.0.0",
			SharedSecret: "",
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		DataDir:       "",
		WorkspacePath: "",
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// AgentByID returns the agent config block for id.
func (c *Config) AgentByID(id string) (*AgentConfig, bool) {
	for i := range c.Agents {
		if c.Agents[i].ID == id {
			return &c.Agents[i], true
		}
	}
	return nil, false
}

// DefaultAgent returns the single agent marked default. Configurations with
// zero or multiple defaults are rejected so routing stays deterministic.
func (c *Config) DefaultAgent() (*AgentConfig, error) {
	var found *AgentConfig
	count := 0
	for i := range c.Agents {
		if c.Agents[i].Default {
			found = &c.Agents[i]
			count++
		}
	}
	if count == 0 {
		return nil, fmt.Errorf("no agent is marked default")
	}
	if count > 1 {
		return nil, fmt.Errorf("%d agents are marked default, want exactly one", count)
	}
	return found, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate providers
	if len(c.Providers) == 0 {
		return fmt.Errorf("no providers configured: at least one provider is required")
	}

	for name, provider := range c.Providers {
		if provider.API == "" {
			return fmt.Errorf("provider %s: api is required", name)
		}
		validAPIs := []string{"anthropic-messages", "openai-chat", "google-generative-ai"}
		valid := false
		for _, api := range validAPIs {
			if provider.API == api {
				valid = true
				break
			}
		}
		if !valid {
			return fmt.Errorf("provider %s: unknown api %s (must be: anthropic-messages, openai-chat, google-generative-ai)", name, provider.API)
		}
		for i, model := range provider.Models {
			if model.ID == "" {
				return fmt.Errorf("provider %s: model %d: id is required", name, i)
			}
		}
	}

	// Validate agents
	if len(c.Agents) == 0 {
		return fmt.Errorf("at least one agent must be configured")
	}

	seen := make(map[string]bool, len(c.Agents))
	for i, agent := range c.Agents {
		if agent.ID == "" {
			return fmt.Errorf("agent %d: ID is required", i)
		}
		if seen[agent.ID] {
			return fmt.Errorf("agent %s: duplicate ID", agent.ID)
		}
		seen[agent.ID] = true
		if agent.Model == "" {
			return fmt.Errorf("agent %s: model is required", agent.ID)
		}
	}

	if _, err := c.DefaultAgent(); err != nil {
		return err
	}

	return nil
}
