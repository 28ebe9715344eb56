// Package channel defines the chat surface interface.
package channel

import (
	"context"
	"errors"
	"time"
)

// ErrMessageNotFound is returned by FetchMessage when the referenced message
// does not exist or is not visible to the bot.
var ErrMessageNotFound = errors.New("message not found")

// Channel is any chat surface the bot can listen on and reply to
// (slack, discord, terminal).
type Channel interface {
	// Start connects to the surface and begins receiving messages.
	Start(ctx context.Context) error

	// Receive returns inbound messages.
	Receive() <-chan *Message

	// Reply posts a new message in to's channel, answering to, and returns
	// the new message's reference.
	Reply(ctx context.Context, to MessageRef, text string) (MessageRef, error)

	// EditMessage replaces the full text of a message previously sent by the bot.
	EditMessage(ctx context.Context, ref MessageRef, text string) error

	// FetchMessage resolves a reference to its message.
	FetchMessage(ctx context.Context, ref MessageRef) (*Message, error)

	// BotID returns the bot's own user ID on this surface.
	BotID() string

	// Stop gracefully shuts down the channel.
	Stop() error

	// Done is closed once the channel has stopped.
	Done() <-chan struct{}

	// Name returns the channel identifier.
	Name() string
}

// MessageRef identifies a message on a surface. ThreadID is only set by
// surfaces with explicit threads (slack).
type MessageRef struct {
	ChannelID string
	MessageID string
	ThreadID  string
}

func (r MessageRef) String() string {
	return r.ChannelID + "/" + r.MessageID
}

// Message represents a chat message as seen by the pipeline.
type Message struct {
	Ref       MessageRef
	AuthorID  string
	Text      string
	Timestamp time.Time

	// ReplyTo points at the message this one answers, if any.
	ReplyTo *MessageRef

	// MentionsBot is set by surfaces that report mentions as metadata.
	MentionsBot bool
}

// Finisher is implemented by surfaces that show progress while a reply is
// being produced. Finish is called once the reply to trigger is complete,
// whether it succeeded or not.
type Finisher interface {
	Finish(ctx context.Context, trigger MessageRef)
}

// ReplyResolver is implemented by surfaces whose inbound messages do not
// carry their reply target (slack threads). The target is looked up when
// the reply chain is assembled; nil means the message starts a chain.
type ReplyResolver interface {
	ResolveReply(ctx context.Context, msg *Message) (*MessageRef, error)
}
