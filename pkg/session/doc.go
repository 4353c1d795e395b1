// Package session manages persistent conversation transcripts using JSONL
// files, one per session key.
//
// Invariants:
// - Session keys are validated and path-safe.
// - Appends for the same transcript are serialized and synced before return.
// - Entries already on disk are never rewritten; windowing and replay
//   filtering happen on in-memory copies only.
// - Transcript open/append operations are observable via tracing and metrics.
//
// Usage:
//
//	mgr, _ := session.NewManager("/tmp/braid/transcripts")
//	store, _ := mgr.StoreFor(ctx, "telegram:dm:42")
//	_ = store.Append(ctx, session.NewMessageEntry(session.RoleUser, "hello"))
//	replay := session.LimitTurns(store.Entries(), 10)
//	_ = replay
package session
