package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"THREADBOT_CONFIG", "THREADBOT_BACKEND", "THREADBOT_BASE_URL", "LLM_API_URL",
	"THREADBOT_MODEL", "THREADBOT_API_KEY", "SLACK_BOT_TOKEN", "SLACK_APP_TOKEN",
	"DISCORD_TOKEN", "THREADBOT_LOG_LEVEL",
}

func clearEnv(t *testing.T) {
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[backend]
kind = "openai"
base_url = "https://llm.internal/v1"
model = "gpt-4o-mini"
api_key = "from-file"
timeout = "90s"

[bot]
max_depth = 10
reply_on_error = true

[render]
flush_threshold = 40
`), 0600))

	t.Setenv("THREADBOT_API_KEY", "from-env")
	t.Setenv("DISCORD_TOKEN", "discord-token")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, BackendOpenAI, cfg.Backend.Kind)
	assert.Equal(t, "https://llm.internal/v1", cfg.Backend.BaseURL)
	assert.Equal(t, "from-env", cfg.Backend.APIKey)
	assert.Equal(t, 90*time.Second, cfg.Backend.Timeout.Duration)
	assert.Equal(t, 10, cfg.Bot.MaxDepth)
	assert.True(t, cfg.Bot.ReplyOnError)
	assert.Equal(t, 40, cfg.Render.FlushThreshold)
	// untouched keys keep their defaults
	assert.Equal(t, 2000, cfg.Render.MaxMessageLength)
	assert.Equal(t, 8, cfg.Bot.MaxConcurrent)
	assert.Equal(t, 2, cfg.Backend.MaxRetries)
	assert.Equal(t, "discord-token", cfg.Discord.Token)
}

func TestBaseURLEnvPrecedence(t *testing.T) {
	clearEnv(t)
	t.Setenv("LLM_API_URL", "http://legacy:11434")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, "http://legacy:11434", cfg.Backend.BaseURL)

	t.Setenv("THREADBOT_BASE_URL", "http://preferred:11434")
	cfg, err = Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, "http://preferred:11434", cfg.Backend.BaseURL)
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[backend\nkind ="), 0600))

	_, err := Load(path)
	assert.ErrorContains(t, err, "failed to parse config")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"unknown backend", func(c *Config) { c.Backend.Kind = "gemini" }, "unknown backend.kind"},
		{"ollama without url", func(c *Config) { c.Backend.BaseURL = "" }, "backend.base_url"},
		{"openai without key", func(c *Config) { c.Backend.Kind = BackendOpenAI }, "backend.api_key"},
		{"anthropic without key", func(c *Config) { c.Backend.Kind = BackendAnthropic }, "backend.api_key"},
		{"no model", func(c *Config) { c.Backend.Model = "" }, "backend.model"},
		{"negative retries", func(c *Config) { c.Backend.MaxRetries = -1 }, "backend.max_retries"},
		{"negative timeout", func(c *Config) { c.Backend.Timeout.Duration = -time.Second }, "backend.timeout"},
		{"zero depth", func(c *Config) { c.Bot.MaxDepth = 0 }, "bot.max_depth"},
		{"zero concurrency", func(c *Config) { c.Bot.MaxConcurrent = 0 }, "bot.max_concurrent"},
		{"zero limit", func(c *Config) { c.Render.MaxMessageLength = 0 }, "render.max_message_length"},
		{"zero threshold", func(c *Config) { c.Render.FlushThreshold = -1 }, "render.flush_threshold"},
		{"bad empty policy", func(c *Config) { c.Render.EmptyReply = "drop" }, "render.empty_reply"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.errMsg)
		})
	}
}

func TestValidateReportsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.Backend.Model = ""
	cfg.Render.FlushThreshold = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend.model")
	assert.Contains(t, err.Error(), "render.flush_threshold")
}

func TestSaveRoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg := Default()
	cfg.Backend.Kind = BackendAnthropic
	cfg.Backend.APIKey = "sk-test"
	cfg.Backend.Timeout = Duration{2 * time.Minute}
	require.NoError(t, cfg.Save(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestDurationText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("30")))
	assert.Equal(t, 30*time.Second, d.Duration)

	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration)

	assert.Error(t, d.UnmarshalText([]byte("soon")))

	text, err := Duration{5 * time.Minute}.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "5m0s", string(text))
}
