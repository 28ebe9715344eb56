package commands

import (
	"fmt"

	"github.com/eachlabs/threadbot/internal/channel"
	"github.com/eachlabs/threadbot/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveSurface string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bot on a chat platform",
	Long: `Run threadbot on Slack (Socket Mode) or Discord until interrupted.

The bot answers messages that mention it. Replies to its own messages are
followed back to the start of the conversation for context.

Required tokens:
  slack:   SLACK_BOT_TOKEN (xoxb-...) and SLACK_APP_TOKEN (xapp-...)
  discord: DISCORD_TOKEN

Examples:
  export SLACK_BOT_TOKEN=xoxb-...
  export SLACK_APP_TOKEN=xapp-...
  threadbot serve --surface slack

  DISCORD_TOKEN=... threadbot serve --surface discord`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveSurface, "surface", "s", "slack", "chat platform: slack, discord")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log, err := logging.New(logging.Options{
		Level:       cfg.Logging.Level,
		Verbose:     verbose,
		Development: verbose,
	})
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	var surface channel.Channel
	switch serveSurface {
	case "slack":
		surface, err = channel.NewSlackChannel(ctx, channel.SlackConfig{
			BotToken: cfg.Slack.BotToken,
			AppToken: cfg.Slack.AppToken,
		}, log)
	case "discord":
		surface, err = channel.NewDiscordChannel(channel.DiscordConfig{
			Token: cfg.Discord.Token,
		}, log)
	default:
		return fmt.Errorf("unknown surface %q (want slack or discord)", serveSurface)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", serveSurface, err)
	}
	defer surface.Stop()

	p, err := newPipeline(cfg, surface.BotID(), log)
	if err != nil {
		return err
	}

	log.Info("starting",
		zap.String("surface", surface.Name()),
		zap.String("bot", surface.BotID()),
		zap.String("backend", cfg.Backend.Kind),
		zap.String("model", cfg.Backend.Model))

	if err := p.Serve(ctx, surface); err != nil {
		return err
	}
	log.Info("stopped")
	return nil
}
