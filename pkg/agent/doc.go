// Package agent runs single conversational turns against a pluggable model
// runtime: provider and model resolve through the config catalog, the user
// prompt is persisted before the model is invoked, replay history is
// windowed and quirk-corrected in memory only, and tool calls execute in a
// bounded loop with schema-validated arguments.
//
// Invariants:
// - The user entry is durable before any model call starts.
// - The transcript is append-only; the ordering marker is the only
//   cross-call side effect.
// - At most one in-flight RunTurn per transcript file (callers serialize).
//
// Usage:
//
//	runner := agent.NewRunner(logger)
//	result, err := runner.RunTurn(ctx, agent.TurnRequest{
//		SessionKey:     "telegram:dm:123",
//		TranscriptPath: path,
//		Config:         cfg,
//		Prompt:         "hello",
//		Provider:       "anthropic",
//		Model:          "claude-sonnet-4-0",
//	})
package agent
