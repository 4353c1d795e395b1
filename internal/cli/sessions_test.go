package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/hollis/braid/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeCLIConfig writes a minimal config file rooted at dataDir and returns
// its path. Derived paths (transcripts, index, log) all land under dataDir.
func writeCLIConfig(t *testing.T, dataDir string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "braid.json")
	body := fmt.Sprintf(`{"data_dir": %q, "gateway": {"shared_secret": "test-secret"}}`, dataDir)
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func seedTranscript(t *testing.T, dataDir, sessionKey string) *session.Store {
	t.Helper()
	ctx := context.Background()

	manager, err := session.NewManager(filepath.Join(dataDir, "transcripts"))
	require.NoError(t, err)

	store, err := manager.StoreFor(ctx, sessionKey)
	require.NoError(t, err)
	require.NoError(t, store.Append(ctx, session.NewMessageEntry(session.RoleUser, "ping")))
	require.NoError(t, store.Append(ctx, session.NewMessageEntry(session.RoleAssistant, "pong")))
	return store
}

func TestSessionsListCommand(t *testing.T) {
	t.Run("empty index", func(t *testing.T) {
		defer resetGlobalFlags()

		cfgPath := writeCLIConfig(t, t.TempDir())

		cmd := GetRootCmd()
		cmd.SetArgs([]string{"sessions", "list", "--config", cfgPath})

		output := &bytes.Buffer{}
		cmd.SetOut(output)

		require.NoError(t, cmd.Execute())
		assert.Contains(t, output.String(), "No sessions recorded")
	})

	t.Run("lists indexed sessions", func(t *testing.T) {
		defer resetGlobalFlags()

		dataDir := t.TempDir()
		cfgPath := writeCLIConfig(t, dataDir)
		store := seedTranscript(t, dataDir, "telegram:dm:42")

		index, err := session.OpenIndex(filepath.Join(dataDir, "sessions.db"))
		require.NoError(t, err)
		require.NoError(t, index.UpsertFromStore(context.Background(), "telegram:dm:42", "assistant", store))
		require.NoError(t, index.Close())

		cmd := GetRootCmd()
		cmd.SetArgs([]string{"sessions", "list", "--config", cfgPath})

		output := &bytes.Buffer{}
		cmd.SetOut(output)

		require.NoError(t, cmd.Execute())

		listing := output.String()
		assert.Contains(t, listing, "SESSION KEY")
		assert.Contains(t, listing, "telegram:dm:42")
		assert.Contains(t, listing, "assistant")
	})
}

func TestSessionsShowCommand(t *testing.T) {
	t.Run("prints transcript", func(t *testing.T) {
		defer resetGlobalFlags()

		dataDir := t.TempDir()
		cfgPath := writeCLIConfig(t, dataDir)
		seedTranscript(t, dataDir, "telegram:dm:42")

		cmd := GetRootCmd()
		cmd.SetArgs([]string{"sessions", "show", "telegram:dm:42", "--config", cfgPath})

		output := &bytes.Buffer{}
		cmd.SetOut(output)

		require.NoError(t, cmd.Execute())

		transcript := output.String()
		assert.Contains(t, transcript, "user: ping")
		assert.Contains(t, transcript, "assistant: pong")
	})

	t.Run("limit keeps the tail", func(t *testing.T) {
		defer resetGlobalFlags()

		dataDir := t.TempDir()
		cfgPath := writeCLIConfig(t, dataDir)
		seedTranscript(t, dataDir, "telegram:dm:42")

		cmd := GetRootCmd()
		cmd.SetArgs([]string{"sessions", "show", "telegram:dm:42", "--limit", "1", "--config", cfgPath})

		output := &bytes.Buffer{}
		cmd.SetOut(output)

		require.NoError(t, cmd.Execute())

		transcript := output.String()
		assert.Contains(t, transcript, "pong")
		assert.NotContains(t, transcript, "ping")
	})

	t.Run("json output", func(t *testing.T) {
		defer resetGlobalFlags()

		dataDir := t.TempDir()
		cfgPath := writeCLIConfig(t, dataDir)
		seedTranscript(t, dataDir, "telegram:dm:42")

		cmd := GetRootCmd()
		cmd.SetArgs([]string{"sessions", "show", "telegram:dm:42", "--json", "--config", cfgPath})

		output := &bytes.Buffer{}
		cmd.SetOut(output)

		require.NoError(t, cmd.Execute())

		transcript := output.String()
		assert.Contains(t, transcript, `"type":"message"`)
		assert.Contains(t, transcript, `"content":"ping"`)
	})

	t.Run("unknown session", func(t *testing.T) {
		defer resetGlobalFlags()

		cfgPath := writeCLIConfig(t, t.TempDir())

		cmd := GetRootCmd()
		cmd.SetArgs([]string{"sessions", "show", "telegram:dm:99", "--config", cfgPath})
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})

		err := cmd.Execute()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no transcript")
	})

	t.Run("rejects traversal keys", func(t *testing.T) {
		defer resetGlobalFlags()

		cfgPath := writeCLIConfig(t, t.TempDir())

		cmd := GetRootCmd()
		cmd.SetArgs([]string{"sessions", "show", "../escape", "--config", cfgPath})
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})

		err := cmd.Execute()
		require.Error(t, err)
	})
}

func TestFormatEntry(t *testing.T) {
	t.Run("message entry", func(t *testing.T) {
		entry := session.NewMessageEntry(session.RoleUser, "hello")
		line := formatEntry(entry)
		assert.Contains(t, line, "user: hello")
	})

	t.Run("custom entry", func(t *testing.T) {
		entry := session.NewCustomEntry("compaction")
		line := formatEntry(entry)
		assert.Contains(t, line, "[compaction]")
	})

	t.Run("message entry without payload", func(t *testing.T) {
		entry := session.Entry{Type: session.EntryTypeMessage}
		line := formatEntry(entry)
		assert.Contains(t, line, "empty")
	})
}
