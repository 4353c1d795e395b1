package agent

import (
	"context"
	"time"

	"github.com/hollis/braid/internal/config"
	"github.com/hollis/braid/pkg/sandbox"
)

// ChatMessage is one message of the in-memory replay handed to a model
// client. It is never persisted as-is; the transcript stores session entries
// and the runner rebuilds replays from them.
type ChatMessage struct {
	Role       string                 `json:"role"`
	Content    string                 `json:"content"`
	ToolCalls  []ToolCall             `json:"tool_calls,omitempty"`
	ToolCallID string                 `json:"tool_call_id,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// ToolCall represents a tool invocation requested by the model
type ToolCall struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	Parameters map[string]interface{} `json:"parameters"`
}

// ToolHandler executes one tool call with already-validated arguments.
type ToolHandler func(ctx context.Context, args map[string]interface{}) (string, error)

// ToolDefinition describes a tool offered to the model. InputSchema is a
// JSON Schema object for the tool's arguments; Handler runs the call.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema,omitempty"`
	Handler     ToolHandler            `json:"-"`
}

// Payload is one unit of turn output. A failed model call is reported as a
// payload with IsError set rather than a Go error, so callers can relay the
// failure into the conversation.
type Payload struct {
	Text    string `json:"text"`
	IsError bool   `json:"isError,omitempty"`
}

// TokenUsage tracks token consumption
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates usage from another call into u.
func (u *TokenUsage) Add(other *TokenUsage) {
	if other == nil {
		return
	}
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// TurnRequest carries everything one turn needs. Config is read-only for
// the duration of the turn; SystemPrompt and HistoryLimit are pointers so
// explicit zero values stay distinct from "not set".
type TurnRequest struct {
	SessionID      string
	SessionKey     string
	TranscriptPath string
	WorkspaceDir   string
	AgentDir       string
	Config         *config.Config
	Prompt         string
	Provider       string
	Model          string
	Timeout        time.Duration
	SystemPrompt   *string
	HistoryLimit   *int
	Sandbox        *sandbox.Context
	Elevation      *sandbox.ElevationPolicy
	Tools          []ToolDefinition
}

// TurnResult is the outcome of one RunTurn.
type TurnResult struct {
	RunID      string        `json:"run_id"`
	SessionKey string        `json:"session_key"`
	AgentID    string        `json:"agent_id"`
	Provider   string        `json:"provider"`
	Model      string        `json:"model"`
	Payloads   []Payload     `json:"payloads"`
	Usage      *TokenUsage   `json:"usage,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Text joins the turn's non-error payload texts.
func (r *TurnResult) Text() string {
	out := ""
	for _, p := range r.Payloads {
		if p.IsError {
			continue
		}
		if out != "" && p.Text != "" {
			out += "\n"
		}
		out += p.Text
	}
	return out
}

// Failed reports whether any payload carries an error flag.
func (r *TurnResult) Failed() bool {
	for _, p := range r.Payloads {
		if p.IsError {
			return true
		}
	}
	return false
}

// EstimateTokens provides a rough token count estimation
func EstimateTokens(messages []ChatMessage) int {
	totalChars := 0
	for _, msg := range messages {
		totalChars += len(msg.Content)
	}
	// Rough estimation: 1 token ≈ 4 characters
	return (totalChars + 3) / 4
}
