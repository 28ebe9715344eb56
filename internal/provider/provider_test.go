package provider

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/eachlabs/threadbot/internal/conversation"
	"github.com/eachlabs/threadbot/internal/stream"
	"github.com/openai/openai-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

var turns = []conversation.Turn{
	{Role: conversation.RoleSystem, Text: "persona"},
	{Role: conversation.RoleUser, Text: "hi"},
	{Role: conversation.RoleAssistant, Text: "hello"},
	{Role: conversation.RoleUser, Text: "how are you?"},
}

type captured struct {
	path   string
	header http.Header
	body   []byte
}

func backend(t *testing.T, status int, response string) (*httptest.Server, *captured) {
	t.Helper()
	got := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.path = r.URL.Path
		got.header = r.Header.Clone()
		got.body, _ = io.ReadAll(r.Body)
		w.WriteHeader(status)
		_, _ = io.WriteString(w, response)
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func drain(t *testing.T, s *Stream) string {
	t.Helper()
	defer s.Close()
	var text string
	for {
		d, err := s.Next()
		if errors.Is(err, io.EOF) {
			return text
		}
		require.NoError(t, err)
		text += d.Text
	}
}

func TestOllamaStream(t *testing.T) {
	srv, got := backend(t, http.StatusOK,
		`{"message":{"role":"assistant","content":"fine"},"done":false}`+"\n"+
			`{"message":{"role":"assistant","content":", thanks"},"done":true}`+"\n")

	p, err := New(Config{Kind: "ollama", BaseURL: srv.URL + "/", Model: "llama3.2:3b"})
	require.NoError(t, err)
	assert.Equal(t, "ollama", p.Name())

	s, err := p.Stream(context.Background(), &ChatRequest{Model: "llama3.2:3b", Turns: turns})
	require.NoError(t, err)
	assert.Equal(t, "fine, thanks", drain(t, s))

	assert.Equal(t, "/api/chat", got.path)
	assert.Empty(t, got.header.Get("Authorization"))
	assert.Equal(t, "application/json", got.header.Get("Content-Type"))
	assert.Equal(t, "application/x-ndjson", got.header.Get("Accept"))

	body := gjson.ParseBytes(got.body)
	assert.Equal(t, "llama3.2:3b", body.Get("model").String())
	assert.True(t, body.Get("stream").Bool())
	assert.Equal(t, `["system","user","assistant","user"]`, body.Get("messages.#.role").Raw)
	assert.Equal(t, "persona", body.Get("messages.0.content").String())
	assert.Equal(t, "how are you?", body.Get("messages.3.content").String())
}

func TestOpenAIStream(t *testing.T) {
	srv, got := backend(t, http.StatusOK,
		"data: {\"choices\":[{\"delta\":{\"content\":\"fine\"},\"finish_reason\":null}]}\n\n"+
			"data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n"+
			"data: [DONE]\n\n")

	p, err := New(Config{Kind: "openai", BaseURL: srv.URL, APIKey: "sk-test"})
	require.NoError(t, err)

	s, err := p.Stream(context.Background(), &ChatRequest{Model: "gpt-4o-mini", Turns: turns})
	require.NoError(t, err)
	assert.Equal(t, "fine", drain(t, s))

	assert.Equal(t, "/chat/completions", got.path)
	assert.Equal(t, "Bearer sk-test", got.header.Get("Authorization"))
	assert.Equal(t, "text/event-stream", got.header.Get("Accept"))

	body := gjson.ParseBytes(got.body)
	assert.Equal(t, "gpt-4o-mini", body.Get("model").String())
	assert.True(t, body.Get("stream").Bool())
	assert.Equal(t, int64(4), body.Get("messages.#").Int())
}

func TestAnthropicStream(t *testing.T) {
	srv, got := backend(t, http.StatusOK,
		"event: content_block_delta\n"+
			"data: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"fine\"}}\n\n"+
			"event: message_stop\n"+
			"data: {\"type\":\"message_stop\"}\n\n")

	p, err := New(Config{Kind: "anthropic", BaseURL: srv.URL, APIKey: "key"})
	require.NoError(t, err)

	req := &ChatRequest{Model: "claude-sonnet-4-20250514", Turns: append([]conversation.Turn{
		{Role: conversation.RoleUser, Text: "  "},
	}, turns...)}
	s, err := p.Stream(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "fine", drain(t, s))

	assert.Equal(t, "/v1/messages", got.path)
	assert.Equal(t, "key", got.header.Get("X-Api-Key"))
	assert.Equal(t, "2023-06-01", got.header.Get("Anthropic-Version"))

	body := gjson.ParseBytes(got.body)
	assert.True(t, body.Get("stream").Bool())
	assert.Equal(t, int64(1024), body.Get("max_tokens").Int())
	assert.Equal(t, "persona", body.Get("system.0.text").String())
	assert.Equal(t, `["user","assistant","user"]`, body.Get("messages.#.role").Raw)
	assert.Equal(t, "hi", body.Get("messages.0.content.0.text").String())
}

func TestStatusError(t *testing.T) {
	srv, _ := backend(t, http.StatusNotFound, `{"error":"model 'nope' not found"}`)

	p, err := NewOllama(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = p.Stream(context.Background(), &ChatRequest{Model: "nope", Turns: turns})
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	assert.Contains(t, statusErr.Error(), "not found")
	assert.False(t, statusErr.Retryable())

	var sdkErr *openai.Error
	assert.ErrorAs(t, err, &sdkErr)
}

func TestAnthropicStatusError(t *testing.T) {
	srv, _ := backend(t, http.StatusTooManyRequests,
		`{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`)

	p, err := NewAnthropic(Config{BaseURL: srv.URL, APIKey: "key"})
	require.NoError(t, err)

	_, err = p.Stream(context.Background(), &ChatRequest{Model: "m", Turns: turns})
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode)
	assert.Contains(t, statusErr.Body, "slow down")
	assert.True(t, statusErr.Retryable())

	var sdkErr *anthropic.Error
	assert.ErrorAs(t, err, &sdkErr)
}

func TestRetriesBeforeStreaming(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.Header().Set("Retry-After-Ms", "1")
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `{"message":{"content":"back"},"done":true}`+"\n")
	}))
	t.Cleanup(srv.Close)

	p, err := NewOllama(Config{BaseURL: srv.URL, MaxRetries: 1})
	require.NoError(t, err)

	s, err := p.Stream(context.Background(), &ChatRequest{Model: "m", Turns: turns})
	require.NoError(t, err)
	assert.Equal(t, "back", drain(t, s))
	assert.EqualValues(t, 2, hits.Load())
}

func TestConnectionError(t *testing.T) {
	srv, _ := backend(t, http.StatusOK, "")
	srv.Close()

	p, err := NewOllama(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = p.Stream(context.Background(), &ChatRequest{Model: "m", Turns: turns})
	require.Error(t, err)
}

func TestDecodeErrorSurfacesThroughStream(t *testing.T) {
	srv, _ := backend(t, http.StatusOK, `{"message":{"content":"a"},"done":false}`+"\n"+`{"mess`)

	p, err := NewOllama(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	s, err := p.Stream(context.Background(), &ChatRequest{Model: "m", Turns: turns})
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Next()
	require.NoError(t, err)
	_, err = s.Next()
	var decodeErr *stream.DecodeError
	require.ErrorAs(t, err, &decodeErr)
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{Kind: "openai"})
	assert.Error(t, err)

	_, err = New(Config{Kind: "anthropic"})
	assert.Error(t, err)

	_, err = New(Config{Kind: "ollama"})
	assert.Error(t, err)

	_, err = New(Config{Kind: "bard"})
	assert.Error(t, err)
}
