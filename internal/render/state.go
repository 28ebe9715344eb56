package render

import (
	"unicode/utf8"

	"github.com/eachlabs/threadbot/internal/channel"
)

// Op is the surface operation chosen for a flush.
type Op int

const (
	// OpNone leaves the surface untouched.
	OpNone Op = iota
	// OpSend posts a new message.
	OpSend
	// OpEdit rewrites the active message.
	OpEdit
)

func (o Op) String() string {
	switch o {
	case OpSend:
		return "send"
	case OpEdit:
		return "edit"
	default:
		return "none"
	}
}

// State is the render position for one response. The zero value is Idle:
// nothing has been sent yet. Once a message has been sent the state is
// Active and tracks that message, its text and its length in characters.
type State struct {
	active  bool
	ref     channel.MessageRef
	text    string
	sentLen int
}

// Active reports whether a message is being extended.
func (s State) Active() bool { return s.active }

// Ref returns the active message.
func (s State) Ref() channel.MessageRef { return s.ref }

// Text returns the full text of the active message.
func (s State) Text() string { return s.text }

// SentLength returns the character count of the active message.
func (s State) SentLength() int { return s.sentLen }

// Plan decides how pending text is committed under the length limit.
// It returns the operation and the full text the surface must show for it.
// pending must not be longer than limit.
func (s State) Plan(pending string, limit int) (Op, string) {
	n := utf8.RuneCountInString(pending)
	switch {
	case !s.active, s.sentLen+n > limit:
		return OpSend, pending
	case n == 0:
		return OpNone, s.text
	default:
		return OpEdit, s.text + pending
	}
}

// Sent is the transition after a new message carrying text was posted.
func (s State) Sent(ref channel.MessageRef, text string) State {
	return State{
		active:  true,
		ref:     ref,
		text:    text,
		sentLen: utf8.RuneCountInString(text),
	}
}

// Edited is the transition after the active message was rewritten to text.
func (s State) Edited(text string) State {
	s.text = text
	s.sentLen = utf8.RuneCountInString(text)
	return s
}
