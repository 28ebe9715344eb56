// Package conversation rebuilds the chat context sent to the backend from a
// message's reply chain.
package conversation

import (
	"context"
	"errors"
	"fmt"

	"github.com/eachlabs/threadbot/internal/channel"
	"github.com/eachlabs/threadbot/internal/mention"
)

// Role is the speaker of a turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// DefaultMaxDepth bounds how many reply hops are followed.
const DefaultMaxDepth = 50

// DefaultSystemPrompt is the persona instruction prepended to every request.
const DefaultSystemPrompt = "You are an assistant bot used in a chat server. Keep your answers concise."

var (
	// ErrChainTooLong is returned when a reply chain exceeds the configured depth.
	ErrChainTooLong = errors.New("reply chain too long")

	// ErrReplyCycle is returned when a reply chain refers back to itself.
	ErrReplyCycle = errors.New("reply chain contains a cycle")
)

// Turn is one role-tagged message in the backend context.
type Turn struct {
	Role Role
	Text string
}

// Fetcher resolves referenced messages. channel.Channel satisfies it.
type Fetcher interface {
	FetchMessage(ctx context.Context, ref channel.MessageRef) (*channel.Message, error)
}

// Config holds assembler settings.
type Config struct {
	SystemPrompt string
	MaxDepth     int
}

// Assembler turns a triggering message into an ordered list of turns.
type Assembler struct {
	fetcher Fetcher
	filter  *mention.Filter
	system  string
	depth   int
}

// NewAssembler creates an assembler. The bot identity is taken from filter.
func NewAssembler(fetcher Fetcher, filter *mention.Filter, cfg Config) *Assembler {
	system := cfg.SystemPrompt
	if system == "" {
		system = DefaultSystemPrompt
	}
	depth := cfg.MaxDepth
	if depth <= 0 {
		depth = DefaultMaxDepth
	}

	return &Assembler{
		fetcher: fetcher,
		filter:  filter,
		system:  system,
		depth:   depth,
	}
}

// Assemble walks the reply chain of trigger back to its root and returns the
// turns oldest first, preceded by a single system turn. Any fetch failure
// aborts the whole assembly.
func (a *Assembler) Assemble(ctx context.Context, trigger *channel.Message) ([]Turn, error) {
	chain, err := a.resolveChain(ctx, trigger)
	if err != nil {
		return nil, err
	}

	turns := make([]Turn, 0, len(chain)+1)
	turns = append(turns, Turn{Role: RoleSystem, Text: a.system})

	// chain is newest first
	for i := len(chain) - 1; i >= 0; i-- {
		turns = append(turns, a.classify(chain[i]))
	}

	return turns, nil
}

func (a *Assembler) resolveChain(ctx context.Context, trigger *channel.Message) ([]*channel.Message, error) {
	if r, ok := a.fetcher.(channel.ReplyResolver); ok && trigger.ReplyTo == nil {
		to, err := r.ResolveReply(ctx, trigger)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve reply target of %s: %w", trigger.Ref, err)
		}
		if to != nil {
			linked := *trigger
			linked.ReplyTo = to
			trigger = &linked
		}
	}

	chain := []*channel.Message{trigger}
	visited := map[channel.MessageRef]struct{}{trigger.Ref: {}}

	current := trigger
	for current.ReplyTo != nil {
		ref := *current.ReplyTo
		if _, seen := visited[ref]; seen {
			return nil, fmt.Errorf("message %s: %w", ref, ErrReplyCycle)
		}
		if len(chain) > a.depth {
			return nil, fmt.Errorf("more than %d hops: %w", a.depth, ErrChainTooLong)
		}

		msg, err := a.fetcher.FetchMessage(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch message %s: %w", ref, err)
		}

		visited[ref] = struct{}{}
		chain = append(chain, msg)
		current = msg
	}

	return chain, nil
}

func (a *Assembler) classify(msg *channel.Message) Turn {
	if msg.AuthorID == a.filter.BotID() {
		return Turn{Role: RoleAssistant, Text: msg.Text}
	}
	return Turn{Role: RoleUser, Text: a.filter.Strip(msg.Text)}
}
