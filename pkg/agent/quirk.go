package agent

import (
	"context"
	"fmt"

	"github.com/hollis/braid/pkg/session"
)

// The Google turn protocol requires the first conversational turn to be a
// user turn. Transcripts that open with an assistant message (seeded
// announcements, migrated history, windowing that cut mid-turn) violate it
// and the API rejects the call. The corrector prepends a synthetic user
// message to the in-memory replay and records a durable marker so the repair
// is warned about once per session, not once per call.
const (
	// OrderingBootstrapMarker is the custom-entry type recording that a
	// session's replay needed the ordering repair. Its presence in the
	// transcript is the sole idempotence state.
	OrderingBootstrapMarker = "google-turn-ordering-bootstrap"

	// orderingBootstrapText is the synthetic user turn injected ahead of an
	// assistant-first replay.
	orderingBootstrapText = "(continuing an earlier conversation)"
)

// OrderingFixParams carries the inputs for ApplyOrderingFix.
type OrderingFixParams struct {
	Messages   []ChatMessage
	ModelAPI   string
	Store      *session.Store
	SessionKey string
	Warn       func(string)
}

// ApplyOrderingFix repairs the Google turn-ordering violation. For any
// other model API, or a replay that already opens with a user turn, the
// input slice is returned untouched so callers can detect "unchanged" by
// identity. When the repair applies, the synthetic user message is
// prepended on every call; the durable marker is appended at most once and
// Warn fires only on the call that writes it. Existing entries are never
// rewritten.
func ApplyOrderingFix(ctx context.Context, p OrderingFixParams) ([]ChatMessage, error) {
	if p.ModelAPI != apiGoogleGenAI {
		return p.Messages, nil
	}
	if len(p.Messages) == 0 || p.Messages[0].Role == "user" {
		return p.Messages, nil
	}

	fixed := make([]ChatMessage, 0, len(p.Messages)+1)
	fixed = append(fixed, ChatMessage{Role: "user", Content: orderingBootstrapText})
	fixed = append(fixed, p.Messages...)

	// Without a store there is no durable idempotence state, so neither the
	// marker nor the one-shot warning applies; the in-memory repair still
	// does.
	if p.Store == nil {
		return fixed, nil
	}

	if p.Store.HasCustomMarker(OrderingBootstrapMarker) {
		return fixed, nil
	}

	if err := p.Store.Append(ctx, session.NewCustomEntry(OrderingBootstrapMarker)); err != nil {
		return fixed, fmt.Errorf("failed to record ordering marker: %w", err)
	}

	if p.Warn != nil {
		p.Warn(fmt.Sprintf("session %s: replay opened with an assistant turn; prepended a bootstrap user turn for the Google API", p.SessionKey))
	}

	return fixed, nil
}
