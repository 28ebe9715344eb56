package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/tidwall/gjson"
)

var errNotObject = errors.New("line is not a JSON object")

// NDJSON decodes newline-delimited JSON as produced by Ollama's /api/chat:
//
//	{"message":{"role":"assistant","content":"Hel"},"done":false}
//	{"message":{"role":"assistant","content":""},"done":true}
type NDJSON struct{}

func (NDJSON) Name() string { return "ndjson" }

func (NDJSON) DecodeLine(line []byte) (Delta, bool, error) {
	if !gjson.ValidBytes(line) || !gjson.ParseBytes(line).IsObject() {
		return Delta{}, false, errNotObject
	}

	fields := gjson.GetManyBytes(line, "message.content", "done", "error")
	if fields[2].Exists() {
		return Delta{}, false, fmt.Errorf("backend error: %s", fields[2].String())
	}

	return Delta{
		Text:     fields[0].String(),
		Terminal: fields[1].Bool(),
	}, true, nil
}

// SSE decodes OpenAI-compatible chat completion event streams:
//
//	data: {"choices":[{"delta":{"content":"Hel"},"finish_reason":null}]}
//	data: [DONE]
type SSE struct{}

func (SSE) Name() string { return "sse" }

func (SSE) DecodeLine(line []byte) (Delta, bool, error) {
	payload, ok := dataPayload(line)
	if !ok || len(payload) == 0 || bytes.Equal(payload, []byte("[DONE]")) {
		return Delta{}, false, nil
	}

	var chunk openai.ChatCompletionChunk
	if err := json.Unmarshal(payload, &chunk); err != nil {
		return Delta{}, false, err
	}

	if len(chunk.Choices) == 0 {
		if msg := gjson.GetBytes(payload, "error.message"); msg.Exists() {
			return Delta{}, false, fmt.Errorf("backend error: %s", msg.String())
		}
		// usage-only chunks
		return Delta{}, false, nil
	}

	choice := chunk.Choices[0]
	return Delta{
		Text:     choice.Delta.Content,
		Terminal: choice.FinishReason != "",
	}, true, nil
}

// Anthropic decodes Anthropic Messages API event streams. Only text deltas
// and the final message_stop produce output; event: lines, pings and
// bookkeeping events are skipped.
type Anthropic struct{}

func (Anthropic) Name() string { return "anthropic" }

func (Anthropic) DecodeLine(line []byte) (Delta, bool, error) {
	payload, ok := dataPayload(line)
	if !ok {
		return Delta{}, false, nil
	}
	if !gjson.ValidBytes(payload) || !gjson.ParseBytes(payload).IsObject() {
		return Delta{}, false, errNotObject
	}

	event := gjson.GetManyBytes(payload, "type", "delta.type", "delta.text", "error.message")
	switch event[0].String() {
	case "content_block_delta":
		if event[1].String() != "text_delta" {
			return Delta{}, false, nil
		}
		return Delta{Text: event[2].String()}, true, nil
	case "message_stop":
		return Delta{Terminal: true}, true, nil
	case "error":
		return Delta{}, false, fmt.Errorf("backend error: %s", event[3].String())
	default:
		return Delta{}, false, nil
	}
}

// dataPayload strips the "data:" field name and the optional single space
// that follows it.
func dataPayload(line []byte) ([]byte, bool) {
	payload, ok := bytes.CutPrefix(line, []byte("data:"))
	if !ok {
		return nil, false
	}
	payload = bytes.TrimPrefix(payload, []byte(" "))
	return bytes.TrimSpace(payload), true
}
