package provider

import (
	"context"
	"fmt"

	"github.com/eachlabs/threadbot/internal/stream"
	"github.com/openai/openai-go"
)

// Ollama streams from Ollama's native /api/chat endpoint, which answers with
// newline-delimited JSON.
type Ollama struct {
	client *openai.Client
}

// NewOllama creates an Ollama provider. No credentials are needed; an
// APIKey is sent as a bearer token for authenticating proxies.
func NewOllama(cfg Config) (*Ollama, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("ollama base url is required")
	}

	client := newOpenAIClient(cfg)
	return &Ollama{client: &client}, nil
}

func (p *Ollama) Name() string {
	return "ollama"
}

// Stream sends the same body shape as the chat completions API.
func (p *Ollama) Stream(ctx context.Context, req *ChatRequest) (*Stream, error) {
	return postChat(ctx, p.client, "api/chat", "application/x-ndjson", stream.NDJSON{}, req)
}
