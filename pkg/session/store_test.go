package session

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreOpen(t *testing.T) {
	t.Run("should create the file and parent directory", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "transcript.jsonl")

		store, err := Open(path)
		require.NoError(t, err)
		assert.Equal(t, path, store.Path())
		assert.Equal(t, 0, store.Len())

		_, err = os.Stat(path)
		assert.NoError(t, err)
	})

	t.Run("should reject an empty path", func(t *testing.T) {
		_, err := Open("")
		assert.Error(t, err)
	})
}

func TestStoreAppendAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transcript.jsonl")
	ctx := context.Background()

	store, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, store.Append(ctx, NewMessageEntry(RoleUser, "hello")))
	require.NoError(t, store.Append(ctx, NewMessageEntry(RoleAssistant, "hi")))
	require.NoError(t, store.Append(ctx, NewCustomEntry("bookmark")))
	require.NoError(t, store.Append(ctx, NewMessageEntry(RoleUser, "more")))

	assert.Equal(t, 4, store.Len())
	assert.Equal(t, 2, store.CountUserMessages())

	// A fresh open replays the file in append order.
	reloaded, err := Open(path)
	require.NoError(t, err)

	entries := reloaded.Entries()
	require.Len(t, entries, 4)
	assert.Equal(t, "hello", entries[0].Message.Content)
	assert.Equal(t, RoleAssistant, entries[1].Message.Role)
	assert.Equal(t, EntryTypeCustom, entries[2].Type)
	assert.Equal(t, "bookmark", entries[2].CustomType)
	assert.Equal(t, "more", entries[3].Message.Content)

	for i, e := range entries {
		assert.NotEmpty(t, e.ID, "entry %d id", i)
		assert.False(t, e.Timestamp.IsZero(), "entry %d timestamp", i)
	}
}

func TestStoreAppendValidation(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "transcript.jsonl"))
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("should reject a message without a role", func(t *testing.T) {
		err := store.Append(ctx, Entry{Type: EntryTypeMessage, Message: &Message{Content: "x"}})
		assert.Error(t, err)
	})

	t.Run("should reject a message without content", func(t *testing.T) {
		err := store.Append(ctx, Entry{Type: EntryTypeMessage, Message: &Message{Role: RoleUser}})
		assert.Error(t, err)
	})

	t.Run("should reject a custom entry without a customType", func(t *testing.T) {
		err := store.Append(ctx, Entry{Type: EntryTypeCustom})
		assert.Error(t, err)
	})

	t.Run("should reject an unknown entry type", func(t *testing.T) {
		err := store.Append(ctx, Entry{Type: "telemetry"})
		assert.Error(t, err)
	})

	t.Run("should leave the transcript untouched on rejection", func(t *testing.T) {
		assert.Equal(t, 0, store.Len())
	})
}

func TestStoreAppendFillsIDAndTimestamp(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "transcript.jsonl"))
	require.NoError(t, err)

	bare := Entry{Type: EntryTypeMessage, Message: &Message{Role: RoleUser, Content: "hi"}}
	require.NoError(t, store.Append(context.Background(), bare))

	entries := store.Entries()
	require.Len(t, entries, 1)
	assert.NotEmpty(t, entries[0].ID)
	assert.False(t, entries[0].Timestamp.IsZero())
}

func TestStoreEntriesIsASnapshot(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "transcript.jsonl"))
	require.NoError(t, err)
	require.NoError(t, store.Append(context.Background(), NewMessageEntry(RoleUser, "hello")))

	snapshot := store.Entries()
	snapshot[0].Message.Content = "mutated"
	snapshot[0].Type = EntryTypeCustom

	fresh := store.Entries()
	assert.Equal(t, EntryTypeMessage, fresh[0].Type)
}

func TestStoreSkipsUnparseableLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transcript.jsonl")

	store, err := Open(path)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, store.Append(ctx, NewMessageEntry(RoleUser, "first")))

	// Corrupt the file by hand: garbage and blank lines between valid entries.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, store.Append(ctx, NewMessageEntry(RoleAssistant, "second")))

	reloaded, err := Open(path)
	require.NoError(t, err)

	entries := reloaded.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "first", entries[0].Message.Content)
	assert.Equal(t, "second", entries[1].Message.Content)
}

func TestStoreHandlesLongEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transcript.jsonl")
	store, err := Open(path)
	require.NoError(t, err)

	// Longer than the default bufio.Scanner token size.
	long := strings.Repeat("x", 256*1024)
	require.NoError(t, store.Append(context.Background(), NewMessageEntry(RoleAssistant, long)))

	reloaded, err := Open(path)
	require.NoError(t, err)
	entries := reloaded.Entries()
	require.Len(t, entries, 1)
	assert.Len(t, entries[0].Message.Content, 256*1024)
}

func TestStoreHasCustomMarker(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transcript.jsonl")
	store, err := Open(path)
	require.NoError(t, err)

	assert.False(t, store.HasCustomMarker("bookmark"))

	require.NoError(t, store.Append(context.Background(), NewCustomEntry("bookmark")))
	assert.True(t, store.HasCustomMarker("bookmark"))
	assert.False(t, store.HasCustomMarker("other"))

	// The marker is durable, not an in-memory flag.
	reloaded, err := Open(path)
	require.NoError(t, err)
	assert.True(t, reloaded.HasCustomMarker("bookmark"))
}
