package provider

import (
	"context"
	"fmt"
	"net/http"

	"github.com/eachlabs/threadbot/internal/conversation"
	"github.com/eachlabs/threadbot/internal/stream"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAI streams from any OpenAI-compatible chat completions endpoint
// (OpenAI, OpenRouter, vLLM, llama.cpp server, ...).
type OpenAI struct {
	client *openai.Client
}

// NewOpenAI creates an OpenAI-compatible provider.
func NewOpenAI(cfg Config) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}

	client := newOpenAIClient(cfg)
	return &OpenAI{client: &client}, nil
}

// newOpenAIClient builds an openai-go client. An empty APIKey sends no
// Authorization header, even when OPENAI_API_KEY is set.
func newOpenAIClient(cfg Config) openai.Client {
	opts := []option.RequestOption{
		option.WithBaseURL(baseURL(cfg.BaseURL)),
		option.WithMaxRetries(cfg.retries()),
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	} else {
		opts = append(opts, option.WithHeaderDel("Authorization"))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	return openai.NewClient(opts...)
}

func (p *OpenAI) Name() string {
	return "openai"
}

// Stream posts the request with "stream": true and decodes server-sent events.
func (p *OpenAI) Stream(ctx context.Context, req *ChatRequest) (*Stream, error) {
	return postChat(ctx, p.client, "chat/completions", "text/event-stream", stream.SSE{}, req)
}

// postChat posts a {"model", "messages", "stream": true} body to path and
// hands the undrained response to the decoder.
func postChat(ctx context.Context, client *openai.Client, path, accept string, framing stream.Framing, req *ChatRequest) (*Stream, error) {
	params := openai.ChatCompletionNewParams{
		Model:    req.Model,
		Messages: buildMessages(req.Turns),
	}

	var resp *http.Response
	err := client.Post(ctx, path, params, &resp,
		option.WithJSONSet("stream", true),
		option.WithHeader("Accept", accept),
	)
	if err != nil {
		return nil, requestError(err)
	}
	return newStream(resp, framing), nil
}

func buildMessages(turns []conversation.Turn) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns))

	for _, turn := range turns {
		switch turn.Role {
		case conversation.RoleSystem:
			messages = append(messages, openai.SystemMessage(turn.Text))
		case conversation.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(turn.Text))
		default:
			messages = append(messages, openai.UserMessage(turn.Text))
		}
	}

	return messages
}
