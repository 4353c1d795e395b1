package gateway

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hollis/braid/internal/tracing"
	"github.com/hollis/braid/pkg/agent"
	"github.com/hollis/braid/pkg/session"
)

// registerBuiltinMethods registers all built-in RPC methods
func (s *Server) registerBuiltinMethods() {
	_ = s.router.RegisterMethod("turn.run", s.handleTurnRun)
	_ = s.router.RegisterMethod("sessions.list", s.handleSessionsList)
	_ = s.router.RegisterMethod("sessions.history", s.handleSessionsHistory)
	_ = s.router.RegisterMethod("status", s.handleStatus)
}

// handleTurnRun runs one conversation turn. The turn is enqueued on a lane
// named after the session key, so concurrent callers against the same
// transcript execute one at a time while different sessions run in parallel.
func (s *Server) handleTurnRun(params map[string]interface{}) (interface{}, error) {
	sessionKey, err := requireStringParam(params, "sessionKey")
	if err != nil {
		return nil, err
	}
	prompt, err := requireStringParam(params, "prompt")
	if err != nil {
		return nil, err
	}

	cfg := s.configFn()
	if cfg == nil {
		return nil, fmt.Errorf("configuration is unavailable")
	}

	transcriptPath, err := s.sessions.TranscriptPath(sessionKey)
	if err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: err.Error()}
	}

	req := agent.TurnRequest{
		SessionKey:     sessionKey,
		TranscriptPath: transcriptPath,
		WorkspaceDir:   cfg.WorkspacePath,
		AgentDir:       s.agentDir,
		Config:         cfg,
		Prompt:         prompt,
		Timeout:        time.Duration(cfg.Runner.TurnTimeoutSeconds) * time.Second,
	}
	if v, ok := params["provider"].(string); ok {
		req.Provider = v
	}
	if v, ok := params["model"].(string); ok {
		req.Model = v
	}
	if v, ok := params["systemPrompt"].(string); ok {
		systemPrompt := v
		req.SystemPrompt = &systemPrompt
	}
	if v, ok := params["historyLimit"].(float64); ok {
		limit := int(v)
		req.HistoryLimit = &limit
	}
	if v, ok := params["timeoutSeconds"].(float64); ok && v > 0 {
		req.Timeout = time.Duration(v) * time.Second
	}

	ctx := tracing.NewRequestContext(context.Background())
	ctx = tracing.WithSessionKey(ctx, sessionKey)
	traceID := tracing.GetTraceID(ctx)

	value, err := s.queue.Enqueue(ctx, sessionKey, func(ctx context.Context) (interface{}, error) {
		s.broadcaster.BroadcastTyped(EventMessage{
			Event:      EventTurnStarted,
			SessionKey: sessionKey,
			TraceID:    traceID,
			Data: map[string]interface{}{
				"promptChars": len(prompt),
			},
		})

		result, runErr := s.runner.RunTurn(ctx, req)
		if runErr != nil {
			s.broadcaster.BroadcastTyped(EventMessage{
				Event:      EventTurnCompleted,
				SessionKey: sessionKey,
				TraceID:    traceID,
				Data: map[string]interface{}{
					"failed": true,
					"error":  runErr.Error(),
				},
			})
			return nil, runErr
		}

		s.refreshIndex(ctx, sessionKey, result.AgentID)

		s.broadcaster.BroadcastTyped(EventMessage{
			Event:      EventTurnCompleted,
			SessionKey: sessionKey,
			TraceID:    traceID,
			RunID:      result.RunID,
			AgentID:    result.AgentID,
			Data: map[string]interface{}{
				"failed":     result.Failed(),
				"durationMs": result.Duration.Milliseconds(),
			},
		})
		return result, nil
	}, nil)
	if err != nil {
		if agent.IsUnknownModelError(err) {
			return nil, &RPCError{Code: InvalidParams, Message: err.Error()}
		}
		return nil, fmt.Errorf("turn failed: %w", err)
	}

	result, ok := value.(*agent.TurnResult)
	if !ok {
		return nil, fmt.Errorf("unexpected turn result type %T", value)
	}

	payloads := make([]map[string]interface{}, 0, len(result.Payloads))
	for _, p := range result.Payloads {
		payloads = append(payloads, map[string]interface{}{
			"text":    p.Text,
			"isError": p.IsError,
		})
	}

	return map[string]interface{}{
		"runId":      result.RunID,
		"sessionKey": result.SessionKey,
		"agentId":    result.AgentID,
		"provider":   result.Provider,
		"model":      result.Model,
		"payloads":   payloads,
		"usage":      result.Usage,
		"durationMs": result.Duration.Milliseconds(),
	}, nil
}

// refreshIndex updates the session index row after a turn. Index trouble is
// logged, never surfaced; the transcript already holds the truth.
func (s *Server) refreshIndex(ctx context.Context, sessionKey, agentID string) {
	if s.index == nil {
		return
	}
	store, err := s.sessions.StoreFor(ctx, sessionKey)
	if err != nil {
		s.logger.Warn().Err(err).Str("session_key", sessionKey).Msg("Failed to open store for index refresh")
		return
	}
	if err := s.index.UpsertFromStore(ctx, sessionKey, agentID, store); err != nil {
		s.logger.Warn().Err(err).Str("session_key", sessionKey).Msg("Failed to refresh session index")
	}
}

// handleSessionsList handles sessions.list RPC method
func (s *Server) handleSessionsList(params map[string]interface{}) (interface{}, error) {
	ctx := context.Background()

	if s.index != nil {
		records, err := s.index.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list sessions: %w", err)
		}
		sessions := make([]map[string]interface{}, 0, len(records))
		for _, rec := range records {
			sessions = append(sessions, map[string]interface{}{
				"sessionKey":   rec.SessionKey,
				"agentId":      rec.AgentID,
				"entryCount":   rec.EntryCount,
				"userTurns":    rec.UserTurns,
				"lastActivity": rec.LastActivity,
				"createdAt":    rec.CreatedAt,
			})
		}
		return map[string]interface{}{"sessions": sessions}, nil
	}

	// No index: fall back to scanning the transcripts directory.
	keys, err := s.sessions.ListSessions()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	sessions := make([]map[string]interface{}, 0, len(keys))
	for _, key := range keys {
		entry := map[string]interface{}{"sessionKey": key}
		if info, err := s.sessions.Stat(key); err == nil {
			entry["sizeBytes"] = info.Size
			entry["lastActivity"] = info.LastModified
		}
		sessions = append(sessions, entry)
	}
	return map[string]interface{}{"sessions": sessions}, nil
}

// handleSessionsHistory handles sessions.history RPC method
func (s *Server) handleSessionsHistory(params map[string]interface{}) (interface{}, error) {
	sessionKey, err := requireStringParam(params, "sessionKey")
	if err != nil {
		return nil, err
	}
	if err := session.ValidateKey(sessionKey); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: err.Error()}
	}

	// Stat before opening: StoreFor creates the transcript file, and a
	// read-only query must not mint empty transcripts.
	if _, err := s.sessions.Stat(sessionKey); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &RPCError{Code: InvalidParams, Message: fmt.Sprintf("no transcript for session %q", sessionKey)}
		}
		return nil, fmt.Errorf("failed to stat session: %w", err)
	}

	ctx := tracing.NewRequestContext(context.Background())
	ctx = tracing.WithSessionKey(ctx, sessionKey)

	store, err := s.sessions.StoreFor(ctx, sessionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	entries := store.Entries()
	if v, ok := params["limit"].(float64); ok {
		if limit := int(v); limit > 0 && limit < len(entries) {
			entries = entries[len(entries)-limit:]
		}
	}

	return map[string]interface{}{
		"sessionKey": sessionKey,
		"entries":    entries,
		"count":      len(entries),
	}, nil
}

// handleStatus handles status RPC method
func (s *Server) handleStatus(params map[string]interface{}) (interface{}, error) {
	status := map[string]interface{}{
		"status":        "ok",
		"uptimeSeconds": int64(time.Since(s.startedAt).Seconds()),
		"clients": map[string]interface{}{
			"connected":     s.clients.Count(),
			"authenticated": s.clients.AuthenticatedCount(),
		},
		"queue": s.queue.Stats(),
	}

	if s.index != nil {
		if records, err := s.index.List(context.Background()); err == nil {
			status["sessions"] = len(records)
		}
	}

	return status, nil
}

func requireStringParam(params map[string]interface{}, name string) (string, error) {
	v, ok := params[name].(string)
	if !ok || strings.TrimSpace(v) == "" {
		return "", &RPCError{
			Code:    InvalidParams,
			Message: fmt.Sprintf("%s parameter is required and must be a string", name),
		}
	}
	return v, nil
}
