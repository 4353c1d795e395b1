package agent

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hollis/braid/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openQuirkStore(t *testing.T) *session.Store {
	t.Helper()
	store, err := session.Open(filepath.Join(t.TempDir(), "transcript.jsonl"))
	require.NoError(t, err)
	return store
}

func countMarkers(t *testing.T, store *session.Store) int {
	t.Helper()
	n := 0
	for _, e := range store.Entries() {
		if e.Type == session.EntryTypeCustom && e.CustomType == OrderingBootstrapMarker {
			n++
		}
	}
	return n
}

func TestApplyOrderingFix_NonGoogleIsIdentityNoOp(t *testing.T) {
	store := openQuirkStore(t)
	messages := []ChatMessage{
		{Role: "assistant", Content: "seeded announcement"},
		{Role: "user", Content: "hello"},
	}

	warnings := 0
	fixed, err := ApplyOrderingFix(context.Background(), OrderingFixParams{
		Messages:   messages,
		ModelAPI:   apiAnthropicMessages,
		Store:      store,
		SessionKey: "telegram:dm:1",
		Warn:       func(string) { warnings++ },
	})
	require.NoError(t, err)

	assert.True(t, &fixed[0] == &messages[0], "non-affected APIs must return the input slice untouched")
	assert.Zero(t, warnings)
	assert.Zero(t, countMarkers(t, store))
	assert.Equal(t, 0, store.Len())
}

func TestApplyOrderingFix_UserFirstIsIdentityNoOp(t *testing.T) {
	store := openQuirkStore(t)
	messages := []ChatMessage{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi"},
	}

	fixed, err := ApplyOrderingFix(context.Background(), OrderingFixParams{
		Messages: messages,
		ModelAPI: apiGoogleGenAI,
		Store:    store,
	})
	require.NoError(t, err)

	assert.True(t, &fixed[0] == &messages[0])
	assert.Zero(t, countMarkers(t, store))
}

func TestApplyOrderingFix_EmptyReplay(t *testing.T) {
	fixed, err := ApplyOrderingFix(context.Background(), OrderingFixParams{
		Messages: nil,
		ModelAPI: apiGoogleGenAI,
	})
	require.NoError(t, err)
	assert.Empty(t, fixed)
}

func TestApplyOrderingFix_AssistantFirstGoogle(t *testing.T) {
	store := openQuirkStore(t)
	messages := []ChatMessage{
		{Role: "assistant", Content: "seeded announcement"},
		{Role: "user", Content: "hello"},
	}

	var warnings []string
	params := OrderingFixParams{
		Messages:   messages,
		ModelAPI:   apiGoogleGenAI,
		Store:      store,
		SessionKey: "telegram:dm:1",
		Warn:       func(msg string) { warnings = append(warnings, msg) },
	}

	fixed, err := ApplyOrderingFix(context.Background(), params)
	require.NoError(t, err)

	require.Len(t, fixed, 3)
	assert.Equal(t, "user", fixed[0].Role)
	assert.Equal(t, "(continuing an earlier conversation)", fixed[0].Content)
	assert.Equal(t, "seeded announcement", fixed[1].Content)
	assert.Equal(t, "hello", fixed[2].Content)

	// The input slice is not mutated
	assert.Equal(t, "assistant", messages[0].Role)

	assert.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "telegram:dm:1")
	assert.Equal(t, 1, countMarkers(t, store))
	assert.True(t, store.HasCustomMarker(OrderingBootstrapMarker))

	// Second call still repairs the replay but writes no second marker and
	// warns no second time.
	fixed2, err := ApplyOrderingFix(context.Background(), params)
	require.NoError(t, err)

	require.Len(t, fixed2, 3)
	assert.Equal(t, "user", fixed2[0].Role)
	assert.Len(t, warnings, 1)
	assert.Equal(t, 1, countMarkers(t, store))
}

func TestApplyOrderingFix_MarkerSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "transcript.jsonl")

	store, err := session.Open(path)
	require.NoError(t, err)

	messages := []ChatMessage{{Role: "assistant", Content: "seeded"}}
	warnings := 0

	_, err = ApplyOrderingFix(context.Background(), OrderingFixParams{
		Messages:   messages,
		ModelAPI:   apiGoogleGenAI,
		Store:      store,
		SessionKey: "global",
		Warn:       func(string) { warnings++ },
	})
	require.NoError(t, err)
	require.Equal(t, 1, warnings)

	// A fresh process sees the durable marker and stays quiet.
	reopened, err := session.Open(path)
	require.NoError(t, err)

	fixed, err := ApplyOrderingFix(context.Background(), OrderingFixParams{
		Messages:   messages,
		ModelAPI:   apiGoogleGenAI,
		Store:      reopened,
		SessionKey: "global",
		Warn:       func(string) { warnings++ },
	})
	require.NoError(t, err)

	assert.Len(t, fixed, 2)
	assert.Equal(t, 1, warnings)
	assert.Equal(t, 1, countMarkers(t, reopened))
}

func TestApplyOrderingFix_NilStoreStillRepairsInMemory(t *testing.T) {
	warnings := 0
	fixed, err := ApplyOrderingFix(context.Background(), OrderingFixParams{
		Messages: []ChatMessage{{Role: "assistant", Content: "seeded"}},
		ModelAPI: apiGoogleGenAI,
		Warn:     func(string) { warnings++ },
	})
	require.NoError(t, err)

	require.Len(t, fixed, 2)
	assert.Equal(t, "user", fixed[0].Role)
	assert.Zero(t, warnings)
}
