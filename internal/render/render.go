// Package render streams generated text into chat messages, editing the
// current message while it has room and starting a new one when it is full.
package render

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/eachlabs/threadbot/internal/channel"
	"github.com/eachlabs/threadbot/internal/stream"
	"go.uber.org/zap"
)

const (
	// MaxMessageLength is the per-message character limit of the surface.
	MaxMessageLength = 2000

	// FlushThreshold is how many buffered characters trigger a flush.
	FlushThreshold = 100
)

// EmptyReplyPolicy controls what happens when a response has no text at all.
type EmptyReplyPolicy string

const (
	// EmptyReplySend posts one empty message.
	EmptyReplySend EmptyReplyPolicy = "send"
	// EmptyReplySuppress posts nothing.
	EmptyReplySuppress EmptyReplyPolicy = "suppress"
)

// Sender is the part of a chat surface the renderer writes to.
type Sender interface {
	Reply(ctx context.Context, to channel.MessageRef, text string) (channel.MessageRef, error)
	EditMessage(ctx context.Context, ref channel.MessageRef, text string) error
}

// Source yields deltas; *stream.Decoder satisfies it.
type Source interface {
	Next() (stream.Delta, error)
}

// Config holds renderer limits.
type Config struct {
	MaxMessageLength int
	FlushThreshold   int
	EmptyReply       EmptyReplyPolicy
}

func (c Config) withDefaults() Config {
	if c.MaxMessageLength <= 0 {
		c.MaxMessageLength = MaxMessageLength
	}
	if c.FlushThreshold <= 0 {
		c.FlushThreshold = FlushThreshold
	}
	if c.EmptyReply == "" {
		c.EmptyReply = EmptyReplySend
	}
	return c
}

// Result summarizes what a render did on the surface.
type Result struct {
	Messages []channel.MessageRef
	Sends    int
	Edits    int
	Chars    int
}

// Renderer renders one response as replies to one message. It is not safe for
// concurrent use and must not be reused across responses.
type Renderer struct {
	sender Sender
	to     channel.MessageRef
	cfg    Config
	log    *zap.Logger

	state      State
	pending    strings.Builder
	pendingLen int
	result     Result
}

// New creates a renderer whose new messages answer to.
func New(sender Sender, to channel.MessageRef, cfg Config, log *zap.Logger) *Renderer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Renderer{
		sender: sender,
		to:     to,
		cfg:    cfg.withDefaults(),
		log:    log,
	}
}

// Render consumes src until its terminal delta. A source or surface error
// stops rendering; messages already posted are left as they are.
func (r *Renderer) Render(ctx context.Context, src Source) (Result, error) {
	for {
		delta, err := src.Next()
		if err != nil {
			return r.result, err
		}

		r.pending.WriteString(delta.Text)
		r.pendingLen += utf8.RuneCountInString(delta.Text)
		r.result.Chars += utf8.RuneCountInString(delta.Text)

		if delta.Terminal || r.pendingLen >= r.cfg.FlushThreshold {
			if err := r.flush(ctx, delta.Terminal); err != nil {
				return r.result, err
			}
		}

		if delta.Terminal {
			return r.result, nil
		}
	}
}

// State returns the current render state.
func (r *Renderer) State() State {
	return r.state
}

func (r *Renderer) flush(ctx context.Context, terminal bool) error {
	pending := r.pending.String()
	r.pending.Reset()
	r.pendingLen = 0

	if pending == "" && !r.state.Active() {
		if !terminal || r.cfg.EmptyReply == EmptyReplySuppress {
			return nil
		}
		return r.commit(ctx, "")
	}

	for _, piece := range splitRunes(pending, r.cfg.MaxMessageLength) {
		if err := r.commit(ctx, piece); err != nil {
			return err
		}
	}
	return nil
}

func (r *Renderer) commit(ctx context.Context, piece string) error {
	op, text := r.state.Plan(piece, r.cfg.MaxMessageLength)

	switch op {
	case OpSend:
		ref, err := r.sender.Reply(ctx, r.to, text)
		if err != nil {
			return fmt.Errorf("failed to send message: %w", err)
		}
		r.state = r.state.Sent(ref, text)
		r.result.Sends++
		r.result.Messages = append(r.result.Messages, ref)

	case OpEdit:
		if err := r.sender.EditMessage(ctx, r.state.Ref(), text); err != nil {
			return fmt.Errorf("failed to edit message %s: %w", r.state.Ref(), err)
		}
		r.state = r.state.Edited(text)
		r.result.Edits++
	}

	r.log.Debug("flush",
		zap.Stringer("op", op),
		zap.Int("sent_length", r.state.SentLength()),
		zap.Stringer("message", r.state.Ref()))
	return nil
}

// splitRunes cuts s into pieces of at most n characters. An empty s yields
// one empty piece.
func splitRunes(s string, n int) []string {
	if utf8.RuneCountInString(s) <= n {
		return []string{s}
	}

	var pieces []string
	for s != "" {
		i, count := 0, 0
		for i < len(s) && count < n {
			_, size := utf8.DecodeRuneInString(s[i:])
			i += size
			count++
		}
		pieces = append(pieces, s[:i])
		s = s[i:]
	}
	return pieces
}
