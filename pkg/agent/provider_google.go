package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"
)

// GoogleClient implements ModelClient for the google-generative-ai API.
// This is the API family the turn-ordering corrector exists for: requests
// whose first conversational turn is not a user turn are rejected upstream,
// so replays must arrive already repaired.
type GoogleClient struct {
	client *genai.Client
}

// NewGoogleClient creates a new Google generative-language client
func NewGoogleClient(apiKey string) (*GoogleClient, error) {
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create google client: %w", err)
	}
	return &GoogleClient{client: client}, nil
}

// API returns the wire API family
func (c *GoogleClient) API() string {
	return apiGoogleGenAI
}

// Complete makes one call against the Google generative-language API
func (c *GoogleClient) Complete(ctx context.Context, request CompletionRequest) (*CompletionResponse, error) {
	contents := c.convertMessages(request.Messages)
	config := &genai.GenerateContentConfig{}

	if request.SystemPrompt != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: request.SystemPrompt}},
		}
	}

	if request.MaxTokens > 0 {
		config.MaxOutputTokens = int32(request.MaxTokens)
	}

	if request.Temperature > 0 {
		temp := float32(request.Temperature)
		config.Temperature = &temp
	}

	if len(request.Tools) > 0 {
		config.Tools = convertGoogleTools(request.Tools)
	}

	response, err := c.client.Models.GenerateContent(ctx, request.Model, contents, config)
	if err != nil {
		return nil, err
	}

	content := ""
	toolCalls := []ToolCall{}

	for _, candidate := range response.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			if part.Text != "" {
				content += part.Text
			}
			if part.FunctionCall != nil {
				args := part.FunctionCall.Args
				if args == nil {
					args = map[string]interface{}{}
				}
				toolCalls = append(toolCalls, ToolCall{
					ID:         newGoogleToolCallID(part.FunctionCall.Name),
					Name:       part.FunctionCall.Name,
					Parameters: args,
				})
			}
		}
	}

	usage := &TokenUsage{}
	if response.UsageMetadata != nil {
		usage.InputTokens = int(response.UsageMetadata.PromptTokenCount)
		usage.OutputTokens = int(response.UsageMetadata.CandidatesTokenCount)
	}

	return &CompletionResponse{
		Content:   content,
		ToolCalls: toolCalls,
		Usage:     usage,
	}, nil
}

// convertMessages maps the replay to Google's content format: assistant
// turns become the model role, tool results become function responses on
// the user side.
func (c *GoogleClient) convertMessages(messages []ChatMessage) []*genai.Content {
	var contents []*genai.Content

	for _, msg := range messages {
		if msg.Role == "system" {
			continue // System prompt rides SystemInstruction
		}

		content := &genai.Content{}
		switch msg.Role {
		case "assistant":
			content.Role = genai.RoleModel
		default:
			content.Role = genai.RoleUser
		}

		if msg.Role == "tool" {
			var response map[string]interface{}
			if err := json.Unmarshal([]byte(msg.Content), &response); err != nil {
				response = map[string]interface{}{"result": msg.Content}
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					Name:     googleToolNameFromID(msg.ToolCallID, messages),
					Response: response,
				},
			})
		} else if msg.Content != "" {
			content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
		}

		for _, tc := range msg.ToolCalls {
			content.Parts = append(content.Parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{
					Name: tc.Name,
					Args: tc.Parameters,
				},
			})
		}

		if len(content.Parts) > 0 {
			contents = append(contents, content)
		}
	}

	return contents
}

// convertGoogleTools maps tool definitions to function declarations.
func convertGoogleTools(tools []ToolDefinition) []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, def := range tools {
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  toGoogleSchema(def.InputSchema),
		})
	}
	if len(declarations) == 0 {
		return nil
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// toGoogleSchema converts a JSON Schema object to Google's schema type.
func toGoogleSchema(schemaMap map[string]interface{}) *genai.Schema {
	if schemaMap == nil {
		return nil
	}

	schema := &genai.Schema{}

	if t, ok := schemaMap["type"].(string); ok {
		schema.Type = genai.Type(strings.ToUpper(t))
	}

	if desc, ok := schemaMap["description"].(string); ok {
		schema.Description = desc
	}

	if enum, ok := schemaMap["enum"].([]interface{}); ok {
		for _, e := range enum {
			if s, ok := e.(string); ok {
				schema.Enum = append(schema.Enum, s)
			}
		}
	}

	if props, ok := schemaMap["properties"].(map[string]interface{}); ok {
		schema.Properties = make(map[string]*genai.Schema)
		for name, prop := range props {
			if propMap, ok := prop.(map[string]interface{}); ok {
				schema.Properties[name] = toGoogleSchema(propMap)
			}
		}
	}

	if required, ok := schemaMap["required"].([]interface{}); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	} else if required, ok := schemaMap["required"].([]string); ok {
		schema.Required = append(schema.Required, required...)
	}

	if items, ok := schemaMap["items"].(map[string]interface{}); ok {
		schema.Items = toGoogleSchema(items)
	}

	return schema
}

// newGoogleToolCallID synthesizes a call ID; the API does not supply one.
func newGoogleToolCallID(name string) string {
	return fmt.Sprintf("call_%s_%d", name, time.Now().UnixNano())
}

// googleToolNameFromID recovers the function name for a tool result by
// scanning the replay for the originating call, falling back to the ID
// format "call_<name>_<timestamp>".
func googleToolNameFromID(toolCallID string, messages []ChatMessage) string {
	for _, msg := range messages {
		for _, tc := range msg.ToolCalls {
			if tc.ID == toolCallID {
				return tc.Name
			}
		}
	}
	parts := strings.Split(toolCallID, "_")
	if len(parts) >= 2 {
		return parts[1]
	}
	return ""
}
