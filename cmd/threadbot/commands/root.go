package commands

import (
	"fmt"

	"github.com/eachlabs/threadbot/internal/config"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "threadbot",
	Short: "threadbot - streaming chat assistant for Slack and Discord",
	Long: `threadbot answers chat messages that mention it. It follows the reply
chain for context, streams the answer from a language model and edits its
reply as the text arrives.

  threadbot serve --surface slack   Run the bot on Slack
  threadbot serve --surface discord Run the bot on Discord
  threadbot chat                    Chat in the terminal
  threadbot ask "question"          One-shot answer on stdout
  threadbot config                  Manage configuration`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.threadbot/config.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func Execute(ver string) error {
	version = ver
	return rootCmd.Execute()
}

var version string

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("threadbot %s\n", version)
	},
}

// loadConfig loads and validates the configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
