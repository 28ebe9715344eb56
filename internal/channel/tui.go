package channel

import (
	"context"
	"fmt"
	"sync"
)

const (
	tuiChannelID = "tui"
	tuiUserID    = "you"
	tuiBotID     = "threadbot"

	// tuiClearCommand starts a new conversation.
	tuiClearCommand = "/clear"
)

// TUIMessage is one on-screen message. An update with a known ID replaces
// the text of that message.
type TUIMessage struct {
	ID      string
	Role    string // "assistant", "done"
	Content string
}

// TUIChannel bridges the pipeline with the bubbletea TUI. Messages live in
// memory; every user line replies to the bot's latest message.
type TUIChannel struct {
	// Input from user (TUI sends here)
	userInput chan string
	// Output to TUI
	tuiOutput chan TUIMessage

	messages chan *Message
	done     chan struct{}
	store    *memoryStore

	mu      sync.Mutex
	started bool
}

// NewTUIChannel creates a channel that works with the bubbletea TUI.
func NewTUIChannel(opts ...LocalOption) *TUIChannel {
	return &TUIChannel{
		userInput: make(chan string, 10),
		tuiOutput: make(chan TUIMessage, 100),
		messages:  make(chan *Message, 10),
		done:      make(chan struct{}),
		store:     newMemoryStore(tuiChannelID, tuiBotID, opts...),
	}
}

// UserInput returns the channel for user input (TUI writes here).
func (t *TUIChannel) UserInput() chan<- string {
	return t.userInput
}

// TUIOutput returns the channel for TUI output (TUI reads from here).
func (t *TUIChannel) TUIOutput() <-chan TUIMessage {
	return t.tuiOutput
}

func (t *TUIChannel) Name() string {
	return "tui"
}

func (t *TUIChannel) BotID() string {
	return tuiBotID
}

func (t *TUIChannel) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return nil
	}
	t.started = true
	t.mu.Unlock()

	// Forward user input to the pipeline
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.done:
				return
			case input := <-t.userInput:
				if input == tuiClearCommand {
					t.store.reset()
					continue
				}
				msg := t.store.postUser(tuiUserID, input)
				select {
				case t.messages <- msg:
				case <-ctx.Done():
					return
				case <-t.done:
					return
				}
			}
		}
	}()

	return nil
}

func (t *TUIChannel) Reply(ctx context.Context, to MessageRef, text string) (MessageRef, error) {
	ref := t.store.postBot(to, text)
	return ref, t.emit(ctx, TUIMessage{ID: ref.MessageID, Role: "assistant", Content: text})
}

func (t *TUIChannel) EditMessage(ctx context.Context, ref MessageRef, text string) error {
	if _, err := t.store.edit(ref, text); err != nil {
		return err
	}
	return t.emit(ctx, TUIMessage{ID: ref.MessageID, Role: "assistant", Content: text})
}

func (t *TUIChannel) FetchMessage(ctx context.Context, ref MessageRef) (*Message, error) {
	return t.store.fetch(ref)
}

// Finish tells the TUI the reply is complete.
func (t *TUIChannel) Finish(ctx context.Context, trigger MessageRef) {
	_ = t.emit(ctx, TUIMessage{Role: "done"})
}

func (t *TUIChannel) emit(ctx context.Context, m TUIMessage) error {
	select {
	case t.tuiOutput <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.done:
		return fmt.Errorf("tui channel stopped")
	}
}

func (t *TUIChannel) Receive() <-chan *Message {
	return t.messages
}

func (t *TUIChannel) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	select {
	case <-t.done:
	default:
		close(t.done)
	}

	return nil
}

func (t *TUIChannel) Done() <-chan struct{} {
	return t.done
}
