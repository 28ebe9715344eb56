package commands

import (
	"os"
	"strings"

	"github.com/eachlabs/threadbot/internal/channel"
	"github.com/eachlabs/threadbot/internal/logging"
	"github.com/spf13/cobra"
)

var askCmd = &cobra.Command{
	Use:   "ask <prompt>",
	Short: "Answer a single prompt",
	Long: `Send one prompt through the pipeline and print the answer as it
streams in.

Examples:
  threadbot ask "What is a goroutine?"
  THREADBOT_MODEL=llama3.1:8b threadbot ask explain channels`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log, err := logging.New(logging.Options{
		Level:       "error",
		Verbose:     verbose,
		Development: true,
	})
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	ask := channel.NewAskChannel(strings.Join(args, " "), os.Stdout)
	defer ask.Stop()

	p, err := newPipeline(cfg, ask.BotID(), log)
	if err != nil {
		return err
	}
	// Handle rather than Serve, so a failure sets the exit status
	return p.Handle(ctx, ask, <-ask.Receive())
}
