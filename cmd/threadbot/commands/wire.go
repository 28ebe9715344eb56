package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/eachlabs/threadbot/internal/config"
	"github.com/eachlabs/threadbot/internal/conversation"
	"github.com/eachlabs/threadbot/internal/mention"
	"github.com/eachlabs/threadbot/internal/pipeline"
	"github.com/eachlabs/threadbot/internal/provider"
	"github.com/eachlabs/threadbot/internal/render"
	"go.uber.org/zap"
)

// newPipeline builds the pipeline for a surface whose bot user is botID.
func newPipeline(cfg *config.Config, botID string, log *zap.Logger) (*pipeline.Pipeline, error) {
	prov, err := provider.New(provider.Config{
		Kind:       cfg.Backend.Kind,
		BaseURL:    cfg.Backend.BaseURL,
		Model:      cfg.Backend.Model,
		APIKey:     cfg.Backend.APIKey,
		MaxTokens:  cfg.Backend.MaxTokens,
		MaxRetries: cfg.Backend.MaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}

	filter, err := mention.New(botID)
	if err != nil {
		return nil, fmt.Errorf("failed to build mention filter: %w", err)
	}

	return pipeline.New(prov, filter, pipeline.Config{
		Model:         cfg.Backend.Model,
		Timeout:       cfg.Backend.Timeout.Duration,
		MaxConcurrent: cfg.Bot.MaxConcurrent,
		ReplyOnError:  cfg.Bot.ReplyOnError,
		Conversation: conversation.Config{
			SystemPrompt: cfg.Bot.SystemPrompt,
			MaxDepth:     cfg.Bot.MaxDepth,
		},
		Render: render.Config{
			MaxMessageLength: cfg.Render.MaxMessageLength,
			FlushThreshold:   cfg.Render.FlushThreshold,
			EmptyReply:       render.EmptyReplyPolicy(cfg.Render.EmptyReply),
		},
	}, log), nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
