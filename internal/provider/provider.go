// Package provider opens streaming chat requests against text-generation
// backends.
package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/eachlabs/threadbot/internal/conversation"
	"github.com/eachlabs/threadbot/internal/stream"
	"github.com/openai/openai-go"
)

// Provider is any backend that can stream a chat completion.
type Provider interface {
	// Stream sends the request and returns the open response stream.
	Stream(ctx context.Context, req *ChatRequest) (*Stream, error)

	// Name returns the provider name (e.g., "ollama", "openai").
	Name() string
}

// ChatRequest is a streaming chat completion request.
type ChatRequest struct {
	Model string
	Turns []conversation.Turn
}

// Stream is an open streaming response. Callers must Close it.
type Stream struct {
	*stream.Decoder
	body io.Closer
}

// Close releases the underlying connection.
func (s *Stream) Close() error {
	return s.body.Close()
}

func newStream(resp *http.Response, framing stream.Framing) *Stream {
	return &Stream{
		Decoder: stream.NewDecoder(resp.Body, framing),
		body:    resp.Body,
	}
}

// StatusError is returned when the backend answers with an error status.
// Err is the SDK error it was built from.
type StatusError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("backend returned %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the backend asked to be tried again later.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// DefaultMaxRetries is used when Config.MaxRetries is negative.
const DefaultMaxRetries = 2

// Config selects and configures a provider.
type Config struct {
	Kind      string // "ollama", "openai", "anthropic"
	BaseURL   string
	Model     string
	APIKey    string
	MaxTokens int

	// MaxRetries is how often a failed request is retried before any
	// response byte is read. Negative selects DefaultMaxRetries.
	MaxRetries int

	// HTTPClient is shared by every request. Defaults to http.DefaultClient;
	// bound requests through the context instead of a client timeout.
	HTTPClient *http.Client
}

func (c Config) retries() int {
	if c.MaxRetries < 0 {
		return DefaultMaxRetries
	}
	return c.MaxRetries
}

// baseURL returns u with exactly one trailing slash so relative endpoint
// paths resolve below it.
func baseURL(u string) string {
	return strings.TrimRight(u, "/") + "/"
}

// New creates the provider named by cfg.Kind.
func New(cfg Config) (Provider, error) {
	switch cfg.Kind {
	case "ollama":
		return NewOllama(cfg)
	case "openai":
		return NewOpenAI(cfg)
	case "anthropic":
		return NewAnthropic(cfg)
	default:
		return nil, fmt.Errorf("unknown provider: %q", cfg.Kind)
	}
}

// requestError turns the SDK error types into a StatusError; transport
// failures pass through wrapped.
func requestError(err error) error {
	var oaiErr *openai.Error
	if errors.As(err, &oaiErr) {
		return &StatusError{StatusCode: oaiErr.StatusCode, Body: oaiErr.RawJSON(), Err: err}
	}
	var antErr *anthropic.Error
	if errors.As(err, &antErr) {
		return &StatusError{StatusCode: antErr.StatusCode, Body: antErr.JSON.RawJSON(), Err: err}
	}
	return fmt.Errorf("request failed: %w", err)
}
