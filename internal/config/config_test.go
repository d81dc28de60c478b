package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskpilot/internal/task"
)

// clearEnv blanks every variable Load looks at.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"OPENAI_API_KEY", "GEMINI_API_KEY", "TASKPILOT_MODEL", "TASKPILOT_DB", "TASKPILOT_ADDR", "TASKPILOT_LOG_LEVEL"} {
		t.Setenv(k, "")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, 6, cfg.Conversation.MaxTurns)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, task.DemoActor(), cfg.Actor)
	assert.Equal(t, 10*time.Second, cfg.GetToolTimeout())
	assert.Equal(t, 60*time.Second, cfg.GetLLMTimeout())
	assert.NoError(t, cfg.Validate())
	assert.False(t, cfg.HasAPIKey())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestConfig_SaveLoad(t *testing.T) {
	clearEnv(t)

	for _, name := range []string{"config.yaml", "config.toml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)

			cfg := DefaultConfig()
			cfg.LLM.Provider = "gemini"
			cfg.LLM.APIKey = "test-key"
			cfg.Conversation.MaxTurns = 4
			cfg.Store.Driver = "memory"
			cfg.Logging.Categories = map[string]bool{"store": false}
			require.NoError(t, cfg.Save(path))

			loaded, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, cfg, loaded)

			info, err := os.Stat(path)
			require.NoError(t, err)
			assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
		})
	}
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "taskpilot.yaml")
	require.NoError(t, os.WriteFile(path, []byte("conversation:\n  max_turns: 3\n"), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Conversation.MaxTurns)
	assert.Equal(t, "10s", cfg.Conversation.ToolTimeout)
	assert.Equal(t, "openai", cfg.LLM.Provider)
}

func TestLoadBadFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("llm: [unterminated"), 0600))
	_, err := Load(yamlPath)
	assert.Error(t, err)

	tomlPath := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(tomlPath, []byte("[llm\nprovider ="), 0600))
	_, err = Load(tomlPath)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"provider", func(c *Config) { c.LLM.Provider = "anthropic" }},
		{"turns", func(c *Config) { c.Conversation.MaxTurns = 0 }},
		{"driver", func(c *Config) { c.Store.Driver = "postgres" }},
		{"path", func(c *Config) { c.Store.Path = " " }},
		{"actor", func(c *Config) { c.Actor.ID = "" }},
		{"duration", func(c *Config) { c.Conversation.ToolTimeout = "soon" }},
		{"retries", func(c *Config) { c.LLM.MaxRetries = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}

	cfg := DefaultConfig()
	cfg.Store = StoreConfig{Driver: "memory"}
	assert.NoError(t, cfg.Validate())
}

func TestDurationFallbacks(t *testing.T) {
	cfg := &Config{}
	assert.Equal(t, 60*time.Second, cfg.GetLLMTimeout())
	assert.Equal(t, 10*time.Second, cfg.GetToolTimeout())
	assert.Equal(t, 15*time.Second, cfg.GetReadTimeout())
	assert.Equal(t, 90*time.Second, cfg.GetWriteTimeout())
	assert.Equal(t, 10*time.Second, cfg.GetShutdownTimeout())

	cfg.Conversation.ToolTimeout = "250ms"
	assert.Equal(t, 250*time.Millisecond, cfg.GetToolTimeout())
}

func TestRedacted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LLM.APIKey = "sk-secret"
	out := cfg.Redacted()
	assert.Equal(t, "********", out.LLM.APIKey)
	assert.Equal(t, "sk-secret", cfg.LLM.APIKey)

	data, err := out.Marshal(false)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "sk-secret")
}
