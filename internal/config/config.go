// Package config handles configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Backend kinds.
const (
	BackendOllama    = "ollama"
	BackendOpenAI    = "openai"
	BackendAnthropic = "anthropic"
)

// Config represents the threadbot configuration.
type Config struct {
	Backend BackendConfig `toml:"backend" json:"backend"`
	Bot     BotConfig     `toml:"bot" json:"bot"`
	Render  RenderConfig  `toml:"render" json:"render"`
	Slack   SlackConfig   `toml:"slack" json:"slack"`
	Discord DiscordConfig `toml:"discord" json:"discord"`
	Logging LoggingConfig `toml:"logging" json:"logging"`
}

// BackendConfig selects and addresses the text-generation backend.
type BackendConfig struct {
	Kind       string   `toml:"kind" json:"kind"`
	BaseURL    string   `toml:"base_url" json:"base_url"`
	Model      string   `toml:"model" json:"model"`
	APIKey     string   `toml:"api_key" json:"api_key"`
	MaxTokens  int      `toml:"max_tokens" json:"max_tokens"`
	MaxRetries int      `toml:"max_retries" json:"max_retries"`
	Timeout    Duration `toml:"timeout" json:"timeout"`
}

// BotConfig holds conversation and pipeline settings.
type BotConfig struct {
	SystemPrompt  string `toml:"system_prompt" json:"system_prompt"`
	MaxDepth      int    `toml:"max_depth" json:"max_depth"`
	MaxConcurrent int    `toml:"max_concurrent" json:"max_concurrent"`
	ReplyOnError  bool   `toml:"reply_on_error" json:"reply_on_error"`
}

// RenderConfig holds the outbound message limits.
type RenderConfig struct {
	MaxMessageLength int    `toml:"max_message_length" json:"max_message_length"`
	FlushThreshold   int    `toml:"flush_threshold" json:"flush_threshold"`
	EmptyReply       string `toml:"empty_reply" json:"empty_reply"`
}

// SlackConfig holds Slack tokens.
type SlackConfig struct {
	BotToken string `toml:"bot_token" json:"bot_token"`
	AppToken string `toml:"app_token" json:"app_token"`
}

// DiscordConfig holds the Discord bot token.
type DiscordConfig struct {
	Token string `toml:"token" json:"token"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `toml:"level" json:"level"`
}

// Duration is a time.Duration written as a string such as "5m" in TOML.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	// bare numbers are seconds
	if secs, err := strconv.Atoi(string(text)); err == nil {
		d.Duration = time.Duration(secs) * time.Second
		return nil
	}
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// Load reads configuration from path (ConfigPath() when empty) and the
// environment. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = ConfigPath()
	}
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	// Override with environment variables
	cfg.applyEnv()

	return cfg, nil
}

// ConfigPath returns the path to the config file.
func ConfigPath() string {
	if p := os.Getenv("THREADBOT_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(StateDir(), "config.toml")
}

// StateDir returns the threadbot state directory.
func StateDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".threadbot")
}

// Default returns the built-in configuration: a local Ollama backend.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			Kind:       BackendOllama,
			BaseURL:    "http://localhost:11434",
			Model:      "llama3.2:3b",
			MaxTokens:  1024,
			MaxRetries: 2,
			Timeout:    Duration{5 * time.Minute},
		},
		Bot: BotConfig{
			MaxDepth:      50,
			MaxConcurrent: 8,
		},
		Render: RenderConfig{
			MaxMessageLength: 2000,
			FlushThreshold:   100,
			EmptyReply:       "send",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func (c *Config) applyEnv() {
	if kind := os.Getenv("THREADBOT_BACKEND"); kind != "" {
		c.Backend.Kind = kind
	}

	// LLM_API_URL is accepted for existing deployments
	if url := os.Getenv("LLM_API_URL"); url != "" {
		c.Backend.BaseURL = url
	}
	if url := os.Getenv("THREADBOT_BASE_URL"); url != "" {
		c.Backend.BaseURL = url
	}

	if model := os.Getenv("THREADBOT_MODEL"); model != "" {
		c.Backend.Model = model
	}
	if key := os.Getenv("THREADBOT_API_KEY"); key != "" {
		c.Backend.APIKey = key
	}

	// Slack
	if token := os.Getenv("SLACK_BOT_TOKEN"); token != "" {
		c.Slack.BotToken = token
	}
	if token := os.Getenv("SLACK_APP_TOKEN"); token != "" {
		c.Slack.AppToken = token
	}

	// Discord
	if token := os.Getenv("DISCORD_TOKEN"); token != "" {
		c.Discord.Token = token
	}

	if level := os.Getenv("THREADBOT_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

// Validate reports every problem that would make the bot unable to run.
func (c *Config) Validate() error {
	var errs []error

	switch c.Backend.Kind {
	case BackendOllama:
		if c.Backend.BaseURL == "" {
			errs = append(errs, errors.New("backend.base_url is required for ollama"))
		}
	case BackendOpenAI, BackendAnthropic:
		if c.Backend.APIKey == "" {
			errs = append(errs, fmt.Errorf("backend.api_key is required for %s", c.Backend.Kind))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown backend.kind %q (want ollama, openai or anthropic)", c.Backend.Kind))
	}
	if c.Backend.Model == "" {
		errs = append(errs, errors.New("backend.model is required"))
	}
	if c.Backend.MaxRetries < 0 {
		errs = append(errs, errors.New("backend.max_retries must not be negative"))
	}
	if c.Backend.Timeout.Duration < 0 {
		errs = append(errs, errors.New("backend.timeout must not be negative"))
	}

	if c.Bot.MaxDepth <= 0 {
		errs = append(errs, errors.New("bot.max_depth must be positive"))
	}
	if c.Bot.MaxConcurrent <= 0 {
		errs = append(errs, errors.New("bot.max_concurrent must be positive"))
	}

	if c.Render.MaxMessageLength <= 0 {
		errs = append(errs, errors.New("render.max_message_length must be positive"))
	}
	if c.Render.FlushThreshold <= 0 {
		errs = append(errs, errors.New("render.flush_threshold must be positive"))
	}
	if c.Render.EmptyReply != "send" && c.Render.EmptyReply != "suppress" {
		errs = append(errs, fmt.Errorf("render.empty_reply must be send or suppress, got %q", c.Render.EmptyReply))
	}

	return errors.Join(errs...)
}

// Save writes the config to path.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(c)
}
