package commands

import (
	"fmt"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/eachlabs/threadbot/internal/channel"
	"github.com/eachlabs/threadbot/internal/config"
	"github.com/eachlabs/threadbot/internal/logging"
	"github.com/eachlabs/threadbot/internal/tui"
	"github.com/spf13/cobra"
)

var chatSimple bool

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start interactive chat",
	Long: `Chat with the configured backend in the terminal. Every line you type
continues the conversation, and answers stream in exactly as they would on a
chat platform.

Logs go to ~/.threadbot/threadbot.log.

Examples:
  threadbot chat
  threadbot chat --simple   # Use simple terminal mode`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().BoolVar(&chatSimple, "simple", false, "use simple terminal mode (no TUI)")
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// the terminal shows every error already
	cfg.Bot.ReplyOnError = true

	if err := os.MkdirAll(config.StateDir(), 0755); err != nil {
		return fmt.Errorf("failed to create state dir: %w", err)
	}
	log, err := logging.New(logging.Options{
		Level:       cfg.Logging.Level,
		Verbose:     verbose,
		Development: true,
		File:        filepath.Join(config.StateDir(), "threadbot.log"),
	})
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	if chatSimple {
		term := channel.NewTerminal(os.Stdin, os.Stdout, channel.WithHistory(cfg.Bot.MaxDepth))
		p, err := newPipeline(cfg, term.BotID(), log)
		if err != nil {
			return err
		}
		fmt.Printf("threadbot (%s · %s). Type /help for commands, /exit to quit.\n", cfg.Backend.Kind, cfg.Backend.Model)
		return p.Serve(ctx, term)
	}

	tuiChan := channel.NewTUIChannel(channel.WithHistory(cfg.Bot.MaxDepth))
	p, err := newPipeline(cfg, tuiChan.BotID(), log)
	if err != nil {
		return err
	}

	// Start pipeline in background
	serveDone := make(chan error, 1)
	go func() {
		serveDone <- p.Serve(ctx, tuiChan)
	}()

	// Adapter to convert TUIMessage to tui.ChatMessage
	chatOutput := make(chan tui.ChatMessage, 100)
	go func() {
		defer close(chatOutput)
		for {
			select {
			case <-tuiChan.Done():
				return
			case msg := <-tuiChan.TUIOutput():
				chatOutput <- tui.ChatMessage{
					ID:      msg.ID,
					Role:    msg.Role,
					Content: msg.Content,
				}
			}
		}
	}()

	model := tui.NewChatModel(cfg.Backend.Kind+" · "+cfg.Backend.Model, tuiChan.UserInput(), chatOutput)
	prog := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err = prog.Run()

	_ = tuiChan.Stop()
	cancel()
	<-serveDone
	return err
}
