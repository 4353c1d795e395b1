package cli

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/hollis/braid/internal/config"
	"github.com/hollis/braid/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCommand(t *testing.T) {
	t.Run("command exists", func(t *testing.T) {
		found := false
		for _, c := range GetRootCmd().Commands() {
			if c.Name() == "run" {
				found = true
				break
			}
		}
		assert.True(t, found, "run command should exist")
	})

	t.Run("help text", func(t *testing.T) {
		defer resetGlobalFlags()

		cmd := GetRootCmd()
		cmd.SetArgs([]string{"run", "--help"})

		output := &bytes.Buffer{}
		cmd.SetOut(output)

		err := cmd.Execute()
		require.NoError(t, err)

		helpText := output.String()
		assert.Contains(t, helpText, "conversational turn")
		assert.Contains(t, helpText, "--session")
		assert.Contains(t, helpText, "--model")
	})

	t.Run("session flag is required", func(t *testing.T) {
		defer resetGlobalFlags()

		cmd := GetRootCmd()
		cmd.SetArgs([]string{"run", "hello"})

		output := &bytes.Buffer{}
		cmd.SetOut(output)
		cmd.SetErr(output)

		err := cmd.Execute()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "session")
	})
}

func TestBuildTurnRequest(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.WorkspacePath = filepath.Join(cfg.DataDir, "workspace")
	cfg.Runner.TurnTimeoutSeconds = 90

	sessions, err := session.NewManager(filepath.Join(cfg.DataDir, "transcripts"))
	require.NoError(t, err)

	t.Run("defaults from config", func(t *testing.T) {
		req, err := buildTurnRequest(cfg, sessions, "telegram:dm:42", "hi there", turnOverrides{})
		require.NoError(t, err)

		assert.Equal(t, "telegram:dm:42", req.SessionKey)
		assert.Contains(t, req.TranscriptPath, "transcripts")
		assert.Equal(t, cfg.WorkspacePath, req.WorkspaceDir)
		assert.Equal(t, filepath.Join(cfg.DataDir, "agent"), req.AgentDir)
		assert.Equal(t, "hi there", req.Prompt)
		assert.Equal(t, 90*time.Second, req.Timeout)
		assert.Nil(t, req.SystemPrompt)
		assert.Nil(t, req.HistoryLimit)
	})

	t.Run("flag overrides", func(t *testing.T) {
		emptyPrompt := ""
		limit := 5
		req, err := buildTurnRequest(cfg, sessions, "telegram:dm:42", "hi", turnOverrides{
			Provider:       "openai",
			Model:          "gpt-4o",
			SystemPrompt:   &emptyPrompt,
			HistoryLimit:   &limit,
			TimeoutSeconds: 15,
		})
		require.NoError(t, err)

		assert.Equal(t, "openai", req.Provider)
		assert.Equal(t, "gpt-4o", req.Model)
		require.NotNil(t, req.SystemPrompt)
		assert.Empty(t, *req.SystemPrompt)
		require.NotNil(t, req.HistoryLimit)
		assert.Equal(t, 5, *req.HistoryLimit)
		assert.Equal(t, 15*time.Second, req.Timeout)
	})

	t.Run("invalid session key is rejected", func(t *testing.T) {
		_, err := buildTurnRequest(cfg, sessions, "../escape", "hi", turnOverrides{})
		assert.Error(t, err)
	})
}
