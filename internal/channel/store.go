package channel

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultLocalHistory is how many reply hops a local conversation keeps.
const DefaultLocalHistory = 40

// LocalOption configures the terminal and TUI channels.
type LocalOption func(*memoryStore)

// WithHistory keeps at most hops reply hops behind each new user line. Older
// messages drop out of the conversation. Pass the assembler's depth limit so
// long sessions never hit it.
func WithHistory(hops int) LocalOption {
	return func(s *memoryStore) {
		if hops > 0 {
			s.maxHops = hops
		}
	}
}

// memoryStore holds the messages of a local conversation. Every user line
// replies to the bot's latest message so the session reads as one chain,
// cut to maxHops.
type memoryStore struct {
	channelID string
	botID     string
	maxHops   int

	mu      sync.Mutex
	msgs    map[string]*Message
	lastBot *MessageRef
}

func newMemoryStore(channelID, botID string, opts ...LocalOption) *memoryStore {
	s := &memoryStore{
		channelID: channelID,
		botID:     botID,
		maxHops:   DefaultLocalHistory,
		msgs:      make(map[string]*Message),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *memoryStore) postUser(author, text string) *Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := &Message{
		Ref:         MessageRef{ChannelID: s.channelID, MessageID: uuid.New().String()},
		AuthorID:    author,
		Text:        text,
		Timestamp:   time.Now(),
		MentionsBot: true,
	}
	if s.lastBot != nil {
		ref := *s.lastBot
		msg.ReplyTo = &ref
		s.trim(ref)
	}
	s.msgs[msg.Ref.MessageID] = msg
	return msg
}

// trim cuts the chain ending at head so a line replying to head has at most
// maxHops ancestors. The oldest message kept is a user line. s.mu is held.
func (s *memoryStore) trim(head MessageRef) {
	path := make([]*Message, 0, s.maxHops+1)
	for ref := &head; ref != nil && len(path) <= s.maxHops; {
		msg, ok := s.msgs[ref.MessageID]
		if !ok {
			break
		}
		path = append(path, msg)
		ref = msg.ReplyTo
	}
	if len(path) <= s.maxHops {
		return
	}

	oldest := s.maxHops - 1
	if oldest > 0 && path[oldest].AuthorID == s.botID {
		oldest--
	}
	// older messages stay fetchable for invocations already walking them
	path[oldest].ReplyTo = nil
}

// reset starts a new conversation; the next user line replies to nothing.
func (s *memoryStore) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastBot = nil
}

func (s *memoryStore) postBot(to MessageRef, text string) MessageRef {
	s.mu.Lock()
	defer s.mu.Unlock()

	ref := MessageRef{ChannelID: s.channelID, MessageID: uuid.New().String()}
	s.msgs[ref.MessageID] = &Message{
		Ref:       ref,
		AuthorID:  s.botID,
		Text:      text,
		Timestamp: time.Now(),
		ReplyTo:   &to,
	}
	s.lastBot = &ref
	return ref
}

// edit replaces a message's text and returns the previous text.
func (s *memoryStore) edit(ref MessageRef, text string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.msgs[ref.MessageID]
	if !ok {
		return "", fmt.Errorf("%s: %w", ref, ErrMessageNotFound)
	}
	prev := msg.Text
	msg.Text = text
	return prev, nil
}

func (s *memoryStore) fetch(ref MessageRef) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.msgs[ref.MessageID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", ref, ErrMessageNotFound)
	}
	cp := *msg
	return &cp, nil
}

// appended returns what an edit from prev to text adds on screen. A rewrite
// that is not an append shows the whole text on a new line.
func appended(prev, text string) string {
	if suffix, ok := strings.CutPrefix(text, prev); ok {
		return suffix
	}
	return "\n" + text
}
