package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoader(t *testing.T) {
	loader := NewLoader("/path/to/braid.json")
	assert.NotNil(t, loader)
	assert.Equal(t, "/path/to/braid.json", loader.configPath)
}

func TestLoaderLoad(t *testing.T) {
	t.Run("load default config when file doesn't exist", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "nonexistent.json")

		loader := NewLoader(configPath)
		cfg, err := loader.Load()

		require.NoError(t, err)
		assert.NotNil(t, cfg)
		assert.Equal(t, 8080, cfg.Gateway.Port)
		assert.Contains(t, cfg.Providers, "anthropic")
	})

	t.Run("load config from file", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "braid.json")

		testConfig := `{
			"gateway": {
				"port": 9000,
				"shared_secret": "hunter2"
			},
			"runner": {
				"turn_timeout_seconds": 30
			}
		}`
		err := os.WriteFile(configPath, []byte(testConfig), 0644)
		require.NoError(t, err)

		loader := NewLoader(configPath)
		cfg, err := loader.Load()

		require.NoError(t, err)
		assert.Equal(t, 9000, cfg.Gateway.Port)
		assert.Equal(t, "hunter2", cfg.Gateway.SharedSecret)
		assert.Equal(t, 30, cfg.Runner.TurnTimeoutSeconds)

		// Sections absent from the file keep their defaults.
		assert.Contains(t, cfg.Providers, "anthropic")
		assert.Len(t, cfg.Agents, 1)
	})

	t.Run("set default paths", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "braid.json")

		err := os.WriteFile(configPath, []byte(`{"gateway": {"port": 9000}}`), 0644)
		require.NoError(t, err)

		loader := NewLoader(configPath)
		cfg, err := loader.Load()

		require.NoError(t, err)
		assert.NotEmpty(t, cfg.DataDir)
		assert.Contains(t, cfg.Session.Dir, "transcripts")
		assert.Contains(t, cfg.Session.IndexPath, "sessions.db")
		assert.Contains(t, cfg.Logging.File, "braid.log")
		assert.NotEmpty(t, cfg.WorkspacePath)
	})

	t.Run("explicit data_dir derives dependent paths", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "braid.json")

		err := os.WriteFile(configPath, []byte(`{"data_dir": "/srv/braid"}`), 0644)
		require.NoError(t, err)

		loader := NewLoader(configPath)
		cfg, err := loader.Load()

		require.NoError(t, err)
		assert.Equal(t, "/srv/braid", cfg.DataDir)
		assert.Equal(t, filepath.Join("/srv/braid", "transcripts"), cfg.Session.Dir)
		assert.Equal(t, filepath.Join("/srv/braid", "sessions.db"), cfg.Session.IndexPath)
	})

	t.Run("malformed file errors", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "braid.json")

		err := os.WriteFile(configPath, []byte(`{broken`), 0644)
		require.NoError(t, err)

		loader := NewLoader(configPath)
		_, err = loader.Load()
		assert.Error(t, err)
	})
}

func TestLoaderSave(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "braid.json")

	cfg := DefaultConfig()
	provider := cfg.Providers["anthropic"]
	provider.APIKey = "sk-ant-test123"
	cfg.Providers["anthropic"] = provider
	cfg.Gateway.Port = 9000
	cfg.Gateway.SharedSecret = "hunter2"

	loader := NewLoader(configPath)
	err := loader.Save(cfg)
	require.NoError(t, err)

	_, err = os.Stat(configPath)
	require.NoError(t, err)

	loaded, err := NewLoader(configPath).Load()
	require.NoError(t, err)
	assert.Equal(t, 9000, loaded.Gateway.Port)
	assert.Equal(t, "hunter2", loaded.Gateway.SharedSecret)
	assert.Equal(t, "sk-ant-test123", loaded.Providers["anthropic"].APIKey)
}

func TestLoaderGetConfigPath(t *testing.T) {
	t.Run("explicit path", func(t *testing.T) {
		loader := NewLoader("/etc/braid/braid.json")
		assert.Equal(t, "/etc/braid/braid.json", loader.GetConfigPath())
	})

	t.Run("default path", func(t *testing.T) {
		loader := NewLoader("")
		path := loader.GetConfigPath()
		assert.Contains(t, path, ".braid")
		assert.Contains(t, path, "braid.json")
	})
}

func TestLoadConvenience(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "braid.json")

	err := os.WriteFile(configPath, []byte(`{"gateway": {"port": 9100}}`), 0644)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Gateway.Port)
}
