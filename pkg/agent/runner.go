package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hollis/braid/internal/config"
	"github.com/hollis/braid/internal/observability"
	"github.com/hollis/braid/internal/tracing"
	"github.com/hollis/braid/pkg/sandbox"
	"github.com/hollis/braid/pkg/session"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Runner orchestrates single conversational turns
type Runner struct {
	logger        zerolog.Logger
	clientFactory ClientFactory
}

// ClientFactory creates model clients from provider blocks. Swappable so
// tests can run turns without network access.
type ClientFactory func(pc *config.ProviderConfig) (ModelClient, error)

// NewRunner creates a turn runner backed by the real provider clients.
func NewRunner(logger zerolog.Logger) *Runner {
	return NewRunnerWithFactory(logger, NewModelClient)
}

// NewRunnerWithFactory creates a turn runner with a custom client factory.
func NewRunnerWithFactory(logger zerolog.Logger, factory ClientFactory) *Runner {
	observability.EnsureRegistered()
	if factory == nil {
		factory = NewModelClient
	}
	return &Runner{logger: logger, clientFactory: factory}
}

// RunTurn executes one conversational turn. The user prompt is durably
// appended to the transcript before the model is invoked, so a failing or
// timed-out call never loses it; those failures come back as an
// error-flagged payload, not a Go error. Only configuration-level problems
// (no default agent, unknown provider/model, unusable transcript) are
// returned as errors.
func (r *Runner) RunTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	start := time.Now()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := validateTurnRequest(req); err != nil {
		return nil, err
	}

	resolution, err := session.ResolveAgent(req.SessionKey, req.Config.Agents)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve agent: %w", err)
	}
	agentID := resolution.SessionAgentID

	if tracing.GetTraceID(ctx) == "" {
		ctx = tracing.NewRequestContext(ctx)
	}
	ctx = tracing.NewTurnContext(ctx, req.SessionKey, agentID)
	runID := tracing.GetRunID(ctx)

	ctx, span := tracing.StartSpan(
		ctx,
		"braid.agent",
		"turn.run",
		attribute.String("session_key", req.SessionKey),
		attribute.String("agent_id", agentID),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, r.logger)

	agentCfg, ok := req.Config.AgentByID(agentID)
	if !ok {
		// Agent-qualified keys are not validated against the config; a key
		// naming an unconfigured agent keeps its identity but runs with the
		// default agent's settings.
		agentCfg, err = req.Config.DefaultAgent()
		if err != nil {
			return nil, err
		}
		logger.Debug().
			Str("agent_id", agentID).
			Str("fallback", agentCfg.ID).
			Msg("Session agent has no config block, using default agent settings")
	}

	// Callers may supply a prebuilt sandbox context; otherwise it is derived
	// from the agent's own sandbox settings. Inert configurations stay nil so
	// unsandboxed turns carry no sandbox block.
	sbCtx, sbPolicy := req.Sandbox, req.Elevation
	if sbCtx == nil && sbPolicy == nil {
		if derived, policy := sandbox.FromAgentConfig(agentCfg, req.SessionKey, req.WorkspaceDir); derived.Active() || policy != nil {
			sbCtx, sbPolicy = derived, policy
		}
	}

	provider, model := req.Provider, req.Model
	if model == "" {
		model = agentCfg.Model
	}
	if provider == "" {
		if name, found := ProviderForModel(req.Config, model); found {
			provider = name
		}
	}
	span.SetAttributes(attribute.String("provider", provider), attribute.String("model", model))

	store, err := session.OpenWithContext(ctx, req.TranscriptPath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to open transcript: %w", err)
	}

	// The user's message is durable before anything model-side happens.
	if err := store.Append(ctx, session.NewMessageEntry(session.RoleUser, req.Prompt)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to persist user message: %w", err)
	}

	// The runtime reads its catalog from the agent dir. Materialization does
	// not depend on the requested model resolving; an unknown model still
	// sees a complete catalog on disk.
	if req.AgentDir != "" {
		if _, err := MaterializeCatalog(ctx, req.Config, req.AgentDir); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}

	providerCfg, modelCfg, err := ResolveModel(req.Config, provider, model)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.RecordTurn(provider, time.Since(start), false)
		return nil, err
	}

	client, err := r.clientFactory(providerCfg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to create model client: %w", err)
	}

	replay, err := r.buildReplay(ctx, store, req, providerCfg.API)
	if err != nil {
		return nil, err
	}

	systemPrompt := composeSystemPrompt(req, agentCfg, sbCtx, sbPolicy)

	timeout := req.Timeout
	if timeout <= 0 && req.Config.Runner.TurnTimeoutSeconds > 0 {
		timeout = time.Duration(req.Config.Runner.TurnTimeoutSeconds) * time.Second
	}
	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	result := &TurnResult{
		RunID:      runID,
		SessionKey: req.SessionKey,
		AgentID:    agentID,
		Provider:   provider,
		Model:      model,
	}

	response, usage, err := r.executeWithTools(callCtx, client, replay, req, agentCfg, modelCfg, sbCtx, model, systemPrompt)
	result.Usage = usage
	result.Duration = time.Since(start)

	if err != nil {
		// Model-level failure: the turn completes with an error payload and
		// the already-persisted user message stays put. No assistant entry
		// is fabricated.
		msg := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			msg = fmt.Sprintf("model call timed out after %s", timeout)
		}
		logger.Warn().Err(err).Msg("Turn completed with error")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.RecordTurn(provider, result.Duration, false)
		observability.RecordTurnAudit(ctx, req.SessionKey, "failure", map[string]interface{}{
			"runId":    runID,
			"provider": provider,
			"model":    model,
		})

		result.Payloads = []Payload{{Text: msg, IsError: true}}
		return result, nil
	}

	if response.Content != "" {
		entry := session.NewMessageEntry(session.RoleAssistant, response.Content)
		entry.Message.Metadata = map[string]interface{}{
			"provider": provider,
			"model":    model,
		}
		if usage != nil {
			entry.Message.Metadata["inputTokens"] = usage.InputTokens
			entry.Message.Metadata["outputTokens"] = usage.OutputTokens
		}
		if err := store.Append(ctx, entry); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			observability.RecordTurn(provider, result.Duration, false)
			return nil, fmt.Errorf("failed to persist assistant message: %w", err)
		}
	}

	result.Payloads = []Payload{{Text: response.Content}}
	result.Duration = time.Since(start)
	observability.RecordTurn(provider, result.Duration, true)
	observability.RecordTurnAudit(ctx, req.SessionKey, "success", map[string]interface{}{
		"runId":    runID,
		"provider": provider,
		"model":    model,
	})

	logger.Info().
		Str("run_id", runID).
		Dur("duration", result.Duration).
		Msg("Turn completed")

	return result, nil
}

func validateTurnRequest(req TurnRequest) error {
	if req.Config == nil {
		return fmt.Errorf("config is required")
	}
	if req.TranscriptPath == "" {
		return fmt.Errorf("transcript path is required")
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return fmt.Errorf("prompt cannot be empty")
	}
	return nil
}

// buildReplay assembles the in-memory message replay: windowed history plus
// the just-persisted user prompt, quirk-corrected for the target API. The
// durable transcript is not touched beyond the corrector's one-time marker.
func (r *Runner) buildReplay(ctx context.Context, store *session.Store, req TurnRequest, modelAPI string) ([]ChatMessage, error) {
	entries := store.Entries()

	limit := 0
	if req.HistoryLimit != nil {
		limit = *req.HistoryLimit
	} else if dm := session.DMHistoryLimit(req.SessionKey, req.Config); dm != nil {
		limit = *dm
	}
	entries = session.LimitTurns(entries, limit)

	replay := make([]ChatMessage, 0, len(entries))
	for _, e := range entries {
		if e.Type != session.EntryTypeMessage || e.Message == nil {
			continue // bookkeeping entries never replay
		}
		replay = append(replay, ChatMessage{
			Role:    string(e.Message.Role),
			Content: e.Message.Content,
		})
	}

	logger := tracing.LoggerFromContext(ctx, r.logger)
	fixed, err := ApplyOrderingFix(ctx, OrderingFixParams{
		Messages:   replay,
		ModelAPI:   modelAPI,
		Store:      store,
		SessionKey: req.SessionKey,
		Warn: func(msg string) {
			logger.Warn().Msg(msg)
		},
	})
	if err != nil {
		// The in-memory repair holds either way; a lost marker only costs a
		// repeat warning on a later turn.
		logger.Warn().Err(err).Msg("Failed to persist ordering marker")
	}

	return fixed, nil
}

// composeSystemPrompt resolves the effective system prompt. A caller
// override fully replaces the agent default: whitespace-only collapses to
// empty rather than falling back. The sandbox projection, when present, is
// appended as its own block.
func composeSystemPrompt(req TurnRequest, agentCfg *config.AgentConfig, sbCtx *sandbox.Context, sbPolicy *sandbox.ElevationPolicy) string {
	systemPrompt := agentCfg.SystemPrompt
	if req.SystemPrompt != nil {
		if strings.TrimSpace(*req.SystemPrompt) == "" {
			systemPrompt = ""
		} else {
			systemPrompt = *req.SystemPrompt
		}
	}

	if info := sandbox.Project(sbCtx, sbPolicy); info != nil {
		if block := info.PromptBlock(); block != "" {
			if systemPrompt != "" {
				systemPrompt += "\n\n"
			}
			systemPrompt += block
		}
	}

	return systemPrompt
}

// executeWithTools drives the model with a bounded tool loop.
func (r *Runner) executeWithTools(ctx context.Context, client ModelClient, replay []ChatMessage, req TurnRequest, agentCfg *config.AgentConfig, modelCfg *config.ModelConfig, sbCtx *sandbox.Context, model, systemPrompt string) (*CompletionResponse, *TokenUsage, error) {
	split := SplitTools(SplitToolsParams{
		Tools:          req.Tools,
		SandboxEnabled: sbCtx != nil && sbCtx.Enabled,
	})
	tools := split.Custom

	maxTokens := agentCfg.MaxTokens
	if modelCfg.MaxTokens > 0 && (maxTokens <= 0 || maxTokens > modelCfg.MaxTokens) {
		maxTokens = modelCfg.MaxTokens
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	maxRounds := req.Config.Runner.MaxToolRounds
	if maxRounds <= 0 {
		maxRounds = 8
	}

	usage := &TokenUsage{}
	currentMessages := replay

	for round := 0; round < maxRounds; round++ {
		response, err := r.callModelWithRetry(ctx, client, CompletionRequest{
			Model:        model,
			Messages:     currentMessages,
			Tools:        tools,
			Temperature:  agentCfg.Temperature,
			MaxTokens:    maxTokens,
			SystemPrompt: systemPrompt,
		}, req.Config.Runner.MaxRetries)
		if err != nil {
			return nil, usage, err
		}
		usage.Add(response.Usage)

		if len(response.ToolCalls) == 0 {
			return response, usage, nil
		}

		currentMessages = append(currentMessages, ChatMessage{
			Role:      "assistant",
			Content:   response.Content,
			ToolCalls: response.ToolCalls,
		})
		currentMessages = append(currentMessages, r.executeToolCalls(ctx, response.ToolCalls, tools)...)
	}

	return nil, usage, fmt.Errorf("maximum tool rounds (%d) exceeded", maxRounds)
}

// executeToolCalls runs the model's tool calls through their handlers and
// returns the tool-result messages. Failures become error text in the
// result message; they never abort the turn.
func (r *Runner) executeToolCalls(ctx context.Context, calls []ToolCall, tools []ToolDefinition) []ChatMessage {
	logger := tracing.LoggerFromContext(ctx, r.logger)

	byName := make(map[string]ToolDefinition, len(tools))
	for _, def := range tools {
		byName[def.Name] = def
	}

	results := make([]ChatMessage, 0, len(calls))
	for _, call := range calls {
		toolStart := time.Now()
		content, err := r.executeToolCall(ctx, call, byName)
		observability.RecordToolExecution(call.Name, time.Since(toolStart), err == nil)

		if err != nil {
			logger.Warn().
				Str("tool", call.Name).
				Err(err).
				Msg("Tool call failed")
			content = fmt.Sprintf("Error: %s", err.Error())
		}

		results = append(results, ChatMessage{
			Role:       "tool",
			Content:    content,
			ToolCallID: call.ID,
		})
	}
	return results
}

func (r *Runner) executeToolCall(ctx context.Context, call ToolCall, byName map[string]ToolDefinition) (string, error) {
	def, ok := byName[call.Name]
	if !ok {
		return "", fmt.Errorf("tool not found: %s", call.Name)
	}
	if def.Handler == nil {
		return "", fmt.Errorf("tool %s has no handler", call.Name)
	}
	if err := ValidateToolArgs(def, call.Parameters); err != nil {
		return "", err
	}
	return def.Handler(ctx, call.Parameters)
}

// callModelWithRetry calls the model with exponential backoff on retryable
// errors.
func (r *Runner) callModelWithRetry(ctx context.Context, client ModelClient, request CompletionRequest, maxRetries int) (*CompletionResponse, error) {
	if maxRetries <= 0 {
		maxRetries = 3
	}

	logger := tracing.LoggerFromContext(ctx, r.logger)
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		response, err := client.Complete(ctx, request)
		if err == nil {
			return response, nil
		}

		lastErr = err

		if !IsRetryableError(err) {
			return nil, err
		}

		if attempt == maxRetries-1 {
			break
		}

		observability.RecordProviderRetry(client.API())

		// Exponential backoff: 1s, 2s, 4s
		delay := time.Duration(1000*(1<<attempt)) * time.Millisecond
		logger.Info().
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("Retrying model call after error")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("max retries (%d) exceeded: %w", maxRetries, lastErr)
}
