package agent

import (
	"context"
	"fmt"

	"github.com/hollis/braid/internal/config"
)

// Wire API families a provider block may declare.
const (
	apiAnthropicMessages = "anthropic-messages"
	apiOpenAIChat        = "openai-chat"
	apiGoogleGenAI       = "google-generative-ai"
)

// ModelClient is the interface to one model API family
type ModelClient interface {
	// Complete runs one model call
	Complete(ctx context.Context, request CompletionRequest) (*CompletionResponse, error)

	// API returns the wire API family this client speaks
	API() string
}

// CompletionRequest contains the request parameters for one model call
type CompletionRequest struct {
	Model        string
	Messages     []ChatMessage
	Tools        []ToolDefinition
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
}

// CompletionResponse contains the model's reply
type CompletionResponse struct {
	Content   string
	ToolCalls []ToolCall
	Usage     *TokenUsage
}

// NewModelClient creates a model client for a provider block. The API
// string selects the wire family; credentials and base URL come from the
// same block.
func NewModelClient(pc *config.ProviderConfig) (ModelClient, error) {
	if pc == nil {
		return nil, fmt.Errorf("nil provider config")
	}

	switch pc.API {
	case apiAnthropicMessages:
		return NewAnthropicClient(pc.APIKey, pc.BaseURL), nil
	case apiOpenAIChat:
		return NewOpenAIClient(pc.APIKey, pc.BaseURL), nil
	case apiGoogleGenAI:
		return NewGoogleClient(pc.APIKey)
	default:
		return nil, fmt.Errorf("unsupported model api: %s", pc.API)
	}
}
