package config

import (
	"bufio"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWizard(input string) *Wizard {
	return &Wizard{reader: bufio.NewReader(strings.NewReader(input))}
}

func TestWizardRun(t *testing.T) {
	t.Run("full flow", func(t *testing.T) {
		w := newTestWizard(strings.Join([]string{
			"sk-ant-test123", // anthropic key
			"",               // skip openai
			"",               // skip google
			"claude-opus-4-1",
			"hunter2",
			"debug",
		}, "\n") + "\n")

		cfg, err := w.Run()
		require.NoError(t, err)

		assert.Equal(t, "sk-ant-test123", cfg.Providers["anthropic"].APIKey)
		assert.Empty(t, cfg.Providers["openai"].APIKey)
		assert.Equal(t, "claude-opus-4-1", cfg.Agents[0].Model)
		assert.Equal(t, "hunter2", cfg.Gateway.SharedSecret)
		assert.Equal(t, "debug", cfg.Logging.Level)
	})

	t.Run("defaults when answers are blank", func(t *testing.T) {
		w := newTestWizard("sk-ant-test123\n\n\n\n\n\n")

		cfg, err := w.Run()
		require.NoError(t, err)

		assert.Equal(t, "claude-sonnet-4-0", cfg.Agents[0].Model)
		assert.Equal(t, "info", cfg.Logging.Level)
		// A blank secret answer generates one.
		assert.Len(t, cfg.Gateway.SharedSecret, 64)
	})

	t.Run("requires at least one provider key", func(t *testing.T) {
		w := newTestWizard("\n\n\n")

		_, err := w.Run()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "at least one provider API key")
	})

	t.Run("re-prompts on malformed key", func(t *testing.T) {
		w := newTestWizard(strings.Join([]string{
			"bogus", // rejected, prompt repeats
			"sk-ant-test123",
			"",
			"",
			"",
			"hunter2",
			"",
		}, "\n") + "\n")

		cfg, err := w.Run()
		require.NoError(t, err)
		assert.Equal(t, "sk-ant-test123", cfg.Providers["anthropic"].APIKey)
	})

	t.Run("invalid log level falls back to default", func(t *testing.T) {
		w := newTestWizard("sk-ant-test123\n\n\n\nhunter2\nshouting\n")

		cfg, err := w.Run()
		require.NoError(t, err)
		assert.Equal(t, "info", cfg.Logging.Level)
	})
}

func TestGenerateSharedSecret(t *testing.T) {
	first, err := generateSharedSecret()
	require.NoError(t, err)
	assert.Len(t, first, 64)

	second, err := generateSharedSecret()
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}
