package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/eachlabs/threadbot/internal/conversation"
	"github.com/eachlabs/threadbot/internal/stream"
)

// Anthropic streams from the Anthropic Messages API.
type Anthropic struct {
	client    *anthropic.Client
	maxTokens int
}

// NewAnthropic creates an Anthropic provider.
func NewAnthropic(cfg Config) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com"
	}

	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1024
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(baseURL(cfg.BaseURL)),
		option.WithMaxRetries(cfg.retries()),
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &Anthropic{
		client:    anthropic.NewClient(opts...),
		maxTokens: maxTokens,
	}, nil
}

func (a *Anthropic) Name() string {
	return "anthropic"
}

// Stream sends the request. The system turn travels in the top-level
// system field; empty turns are dropped because the API rejects them.
func (a *Anthropic) Stream(ctx context.Context, req *ChatRequest) (*Stream, error) {
	var resp *http.Response
	err := a.client.Post(ctx, "v1/messages", a.buildParams(req), &resp,
		option.WithJSONSet("stream", true),
		option.WithHeader("Accept", "text/event-stream"),
	)
	if err != nil {
		return nil, requestError(err)
	}
	return newStream(resp, stream.Anthropic{}), nil
}

func (a *Anthropic) buildParams(req *ChatRequest) anthropic.MessageNewParams {
	var system []string
	var messages []anthropic.MessageParam

	for _, turn := range req.Turns {
		if strings.TrimSpace(turn.Text) == "" {
			continue
		}

		role := anthropic.MessageParamRoleUser
		switch turn.Role {
		case conversation.RoleSystem:
			system = append(system, turn.Text)
			continue
		case conversation.RoleAssistant:
			role = anthropic.MessageParamRoleAssistant
		}

		messages = append(messages, anthropic.MessageParam{
			Role: anthropic.F(role),
			Content: anthropic.F([]anthropic.ContentBlockParamUnion{
				anthropic.NewTextBlock(turn.Text),
			}),
		})
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.F(anthropic.Model(req.Model)),
		MaxTokens: anthropic.F(int64(a.maxTokens)),
		Messages:  anthropic.F(messages),
	}
	if len(system) > 0 {
		params.System = anthropic.F([]anthropic.TextBlockParam{
			anthropic.NewTextBlock(strings.Join(system, "\n\n")),
		})
	}
	return params
}
