package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/eachlabs/threadbot/internal/config"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var (
	configJSON  bool
	configForce bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `Manage threadbot configuration.

Subcommands:
  show                   Show the effective configuration
  init                   Write a default config file
  set <key> <value>      Set a configuration value
  validate               Check the configuration
  path                   Show config file path`,
}

func init() {
	configShowCmd.Flags().BoolVar(&configJSON, "json", false, "output as JSON")
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing file")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configPathCmd)
}

func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.ConfigPath()
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show configuration",
	Long: `Show the configuration after environment overrides, with secrets masked.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		if configJSON {
			out, err := maskedJSON(cfg)
			if err != nil {
				return err
			}
			fmt.Print(gjson.GetBytes(out, "@pretty").Raw)
			return nil
		}
		masked(cfg)
		return toml.NewEncoder(os.Stdout).Encode(cfg)
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath()
		if _, err := os.Stat(path); err == nil && !configForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}

		if err := config.Default().Save(path); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
		fmt.Printf("Wrote %s\n", path)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the config file.

Examples:
  threadbot config set backend.kind openai
  threadbot config set backend.model gpt-4o-mini
  threadbot config set backend.timeout 2m
  threadbot config set render.flush_threshold 200`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		path := configPath()

		// start from the file alone so env overrides are not persisted
		cfg := config.Default()
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return fmt.Errorf("failed to parse config: %w", err)
			}
		}

		if err := setConfigValue(cfg, key, value); err != nil {
			return err
		}

		if err := cfg.Save(path); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Printf("Set %s = %s\n", key, value)
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := loadConfig(); err != nil {
			return err
		}
		fmt.Println("Configuration is valid")
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show config file path",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(configPath())
	},
}

func setConfigValue(cfg *config.Config, key, value string) error {
	atoi := func() (int, error) {
		n, err := strconv.Atoi(value)
		if err != nil {
			return 0, fmt.Errorf("%s must be a number: %w", key, err)
		}
		return n, nil
	}

	var err error
	switch key {
	case "backend.kind":
		cfg.Backend.Kind = value
	case "backend.base_url":
		cfg.Backend.BaseURL = value
	case "backend.model":
		cfg.Backend.Model = value
	case "backend.api_key":
		cfg.Backend.APIKey = value
	case "backend.max_tokens":
		cfg.Backend.MaxTokens, err = atoi()
	case "backend.max_retries":
		cfg.Backend.MaxRetries, err = atoi()
	case "backend.timeout":
		err = cfg.Backend.Timeout.UnmarshalText([]byte(value))
	case "bot.system_prompt":
		cfg.Bot.SystemPrompt = value
	case "bot.max_depth":
		cfg.Bot.MaxDepth, err = atoi()
	case "bot.max_concurrent":
		cfg.Bot.MaxConcurrent, err = atoi()
	case "bot.reply_on_error":
		cfg.Bot.ReplyOnError, err = strconv.ParseBool(value)
	case "render.max_message_length":
		cfg.Render.MaxMessageLength, err = atoi()
	case "render.flush_threshold":
		cfg.Render.FlushThreshold, err = atoi()
	case "render.empty_reply":
		cfg.Render.EmptyReply = value
	case "slack.bot_token":
		cfg.Slack.BotToken = value
	case "slack.app_token":
		cfg.Slack.AppToken = value
	case "discord.token":
		cfg.Discord.Token = value
	case "logging.level":
		cfg.Logging.Level = value
	default:
		return fmt.Errorf("unknown key: %s", key)
	}
	return err
}

// secretKeys are the config keys whose values are never printed.
var secretKeys = []string{"backend.api_key", "slack.bot_token", "slack.app_token", "discord.token"}

func masked(cfg *config.Config) {
	cfg.Backend.APIKey = maskToken(cfg.Backend.APIKey)
	cfg.Slack.BotToken = maskToken(cfg.Slack.BotToken)
	cfg.Slack.AppToken = maskToken(cfg.Slack.AppToken)
	cfg.Discord.Token = maskToken(cfg.Discord.Token)
}

// maskedJSON encodes cfg with every secret key masked in place.
func maskedJSON(cfg *config.Config) ([]byte, error) {
	out, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	for _, key := range secretKeys {
		out, err = sjson.SetBytes(out, key, maskToken(gjson.GetBytes(out, key).String()))
		if err != nil {
			return nil, fmt.Errorf("failed to mask %s: %w", key, err)
		}
	}
	return out, nil
}

func maskToken(token string) string {
	if token == "" {
		return "(not set)"
	}
	if len(token) < 8 {
		return "***"
	}
	return token[:4] + "..." + token[len(token)-4:]
}
