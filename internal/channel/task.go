package channel

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
)

const askBotID = "threadbot"

// AskChannel sends a single prompt and prints the answer as it streams in.
// Receive yields the prompt once and is then closed.
type AskChannel struct {
	out      io.Writer
	trigger  *Message
	messages chan *Message
	done     chan struct{}

	mu      sync.Mutex
	printed map[string]string
}

// NewAskChannel creates a channel for a one-shot prompt written to out.
func NewAskChannel(prompt string, out io.Writer) *AskChannel {
	trigger := &Message{
		Ref:         MessageRef{ChannelID: "ask", MessageID: uuid.New().String()},
		AuthorID:    "you",
		Text:        prompt,
		Timestamp:   time.Now(),
		MentionsBot: true,
	}

	messages := make(chan *Message, 1)
	messages <- trigger
	close(messages)

	return &AskChannel{
		out:      out,
		trigger:  trigger,
		messages: messages,
		done:     make(chan struct{}),
		printed:  make(map[string]string),
	}
}

func (a *AskChannel) Name() string {
	return "ask"
}

func (a *AskChannel) BotID() string {
	return askBotID
}

func (a *AskChannel) Start(ctx context.Context) error {
	return nil
}

func (a *AskChannel) Reply(ctx context.Context, to MessageRef, text string) (MessageRef, error) {
	ref := MessageRef{ChannelID: to.ChannelID, MessageID: uuid.New().String()}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.printed[ref.MessageID] = text
	if _, err := io.WriteString(a.out, text); err != nil {
		return MessageRef{}, err
	}
	return ref, nil
}

// EditMessage prints only what the edit appended.
func (a *AskChannel) EditMessage(ctx context.Context, ref MessageRef, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	prev, ok := a.printed[ref.MessageID]
	if !ok {
		return fmt.Errorf("%s: %w", ref, ErrMessageNotFound)
	}
	a.printed[ref.MessageID] = text

	_, err := io.WriteString(a.out, appended(prev, text))
	return err
}

// Finish ends the printed answer with a newline.
func (a *AskChannel) Finish(ctx context.Context, trigger MessageRef) {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, _ = io.WriteString(a.out, "\n")
}

// FetchMessage only knows the prompt; it never replies to anything.
func (a *AskChannel) FetchMessage(ctx context.Context, ref MessageRef) (*Message, error) {
	if ref.MessageID == a.trigger.Ref.MessageID {
		cp := *a.trigger
		return &cp, nil
	}
	return nil, fmt.Errorf("%s: %w", ref, ErrMessageNotFound)
}

func (a *AskChannel) Receive() <-chan *Message {
	return a.messages
}

func (a *AskChannel) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	select {
	case <-a.done:
	default:
		close(a.done)
	}

	return nil
}

func (a *AskChannel) Done() <-chan struct{} {
	return a.done
}
