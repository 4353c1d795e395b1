package tracing

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewTraceID(t *testing.T) {
	id1 := NewTraceID()
	id2 := NewTraceID()

	if id1 == "" {
		t.Error("NewTraceID returned empty string")
	}

	if id1 == id2 {
		t.Error("NewTraceID returned duplicate IDs")
	}
}

func TestNewRunID(t *testing.T) {
	id1 := NewRunID()
	id2 := NewRunID()

	if id1 == "" {
		t.Error("NewRunID returned empty string")
	}

	if id1 == id2 {
		t.Error("NewRunID returned duplicate IDs")
	}
}

func TestWithTraceID(t *testing.T) {
	ctx := context.Background()
	traceID := "test-trace-id"

	ctx = WithTraceID(ctx, traceID)

	retrieved := GetTraceID(ctx)
	if retrieved != traceID {
		t.Errorf("Expected trace ID %s, got %s", traceID, retrieved)
	}
}

func TestWithRunID(t *testing.T) {
	ctx := context.Background()
	runID := "test-run-id"

	ctx = WithRunID(ctx, runID)

	retrieved := GetRunID(ctx)
	if retrieved != runID {
		t.Errorf("Expected run ID %s, got %s", runID, retrieved)
	}
}

func TestWithSessionKey(t *testing.T) {
	ctx := context.Background()
	sessionKey := "telegram:dm:42"

	ctx = WithSessionKey(ctx, sessionKey)

	retrieved := GetSessionKey(ctx)
	if retrieved != sessionKey {
		t.Errorf("Expected session key %s, got %s", sessionKey, retrieved)
	}
}

func TestGettersEmptyContext(t *testing.T) {
	ctx := context.Background()

	if GetTraceID(ctx) != "" {
		t.Error("Expected empty trace ID")
	}
	if GetRunID(ctx) != "" {
		t.Error("Expected empty run ID")
	}
	if GetAgentID(ctx) != "" {
		t.Error("Expected empty agent ID")
	}
	if GetSessionKey(ctx) != "" {
		t.Error("Expected empty session key")
	}
	if GetRequestID(ctx) != "" {
		t.Error("Expected empty request ID")
	}
}

func TestFromContext(t *testing.T) {
	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-123")
	ctx = WithRunID(ctx, "run-456")
	ctx = WithAgentID(ctx, "agent-789")
	ctx = WithSessionKey(ctx, "session-abc")

	tc := FromContext(ctx)

	if tc.TraceID != "trace-123" {
		t.Errorf("Expected trace ID trace-123, got %s", tc.TraceID)
	}
	if tc.RunID != "run-456" {
		t.Errorf("Expected run ID run-456, got %s", tc.RunID)
	}
	if tc.AgentID != "agent-789" {
		t.Errorf("Expected agent ID agent-789, got %s", tc.AgentID)
	}
	if tc.SessionKey != "session-abc" {
		t.Errorf("Expected session key session-abc, got %s", tc.SessionKey)
	}
}

func TestNewContextPartial(t *testing.T) {
	ctx := context.Background()

	tc := &TraceContext{
		TraceID: "trace-123",
		// Other fields empty
	}

	ctx = NewContext(ctx, tc)

	if GetTraceID(ctx) != "trace-123" {
		t.Error("Trace ID not set correctly")
	}
	if GetRunID(ctx) != "" {
		t.Error("Run ID should be empty")
	}
	if GetAgentID(ctx) != "" {
		t.Error("Agent ID should be empty")
	}
	if GetSessionKey(ctx) != "" {
		t.Error("Session key should be empty")
	}
}

func TestNewRequestContext(t *testing.T) {
	ctx := context.Background()

	ctx = NewRequestContext(ctx)

	traceID := GetTraceID(ctx)
	if traceID == "" {
		t.Error("Trace ID not generated")
	}

	// Verify it's a valid UUID format
	if len(traceID) != 36 {
		t.Errorf("Expected UUID format (36 chars), got %d chars", len(traceID))
	}
}

func TestNewTurnContext(t *testing.T) {
	ctx := context.Background()

	ctx = NewTurnContext(ctx, "telegram:dm:42", "assistant")

	if GetRunID(ctx) == "" {
		t.Error("Run ID not generated")
	}
	if GetSessionKey(ctx) != "telegram:dm:42" {
		t.Errorf("Expected session key telegram:dm:42, got %s", GetSessionKey(ctx))
	}
	if GetAgentID(ctx) != "assistant" {
		t.Errorf("Expected agent ID assistant, got %s", GetAgentID(ctx))
	}

	// Each turn gets its own run ID
	next := NewTurnContext(context.Background(), "telegram:dm:42", "assistant")
	if GetRunID(ctx) == GetRunID(next) {
		t.Error("Run ID should differ between turns")
	}
}

func TestPropagateToLogger(t *testing.T) {
	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-123")
	ctx = WithSessionKey(ctx, "session-abc")

	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	logger = PropagateToLogger(ctx, logger)

	logger.Info().Msg("hello")

	out := buf.String()
	if !strings.Contains(out, `"trace_id":"trace-123"`) {
		t.Errorf("Expected trace_id in log output, got %s", out)
	}
	if !strings.Contains(out, `"session_key":"session-abc"`) {
		t.Errorf("Expected session_key in log output, got %s", out)
	}
	if strings.Contains(out, "run_id") {
		t.Errorf("Unset run_id should not appear in log output, got %s", out)
	}
}
