package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

var (
	promptStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#22C55E"))

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280"))
)

// Terminal is a line-mode terminal channel. Answers are printed as they
// stream in; edits print only the appended text.
type Terminal struct {
	in    io.Reader
	out   io.Writer
	store *memoryStore

	messages chan *Message
	done     chan struct{}

	mu          sync.Mutex
	started     bool
	waitingResp bool
}

// NewTerminal creates a terminal channel reading lines from in.
func NewTerminal(in io.Reader, out io.Writer, opts ...LocalOption) *Terminal {
	return &Terminal{
		in:       in,
		out:      out,
		store:    newMemoryStore("terminal", tuiBotID, opts...),
		messages: make(chan *Message, 10),
		done:     make(chan struct{}),
	}
}

func (t *Terminal) Name() string {
	return "terminal"
}

func (t *Terminal) BotID() string {
	return tuiBotID
}

func (t *Terminal) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return nil
	}
	t.started = true
	t.mu.Unlock()

	go t.readLoop(ctx)
	return nil
}

func (t *Terminal) readLoop(ctx context.Context) {
	reader := bufio.NewReader(t.in)
	t.prompt()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		default:
		}

		line, err := reader.ReadString('\n')
		if err != nil {
			_ = t.Stop()
			return
		}

		line = strings.TrimSpace(line)
		if line == "" {
			t.prompt()
			continue
		}

		if line == "exit" || line == "quit" || line == "/exit" || line == "/quit" {
			_ = t.Stop()
			return
		}

		if strings.HasPrefix(line, "/") {
			t.handleCommand(line)
			t.prompt()
			continue
		}

		t.mu.Lock()
		t.waitingResp = true
		t.mu.Unlock()

		select {
		case t.messages <- t.store.postUser(tuiUserID, line):
		case <-ctx.Done():
			return
		case <-t.done:
			return
		}
	}
}

func (t *Terminal) handleCommand(cmd string) {
	switch cmd {
	case "/help":
		t.print(mutedStyle.Render("Commands:\n  /help    - Show this help\n  /clear   - Clear screen and start a new conversation\n  /exit    - Exit threadbot") + "\n")
	case "/clear":
		t.store.reset()
		t.print("\033[H\033[2J")
	default:
		t.print(fmt.Sprintf("Unknown command: %s (try /help)\n", cmd))
	}
}

func (t *Terminal) prompt() {
	t.mu.Lock()
	waiting := t.waitingResp
	t.mu.Unlock()

	if !waiting {
		t.print("\n" + promptStyle.Render(">") + " ")
	}
}

func (t *Terminal) print(s string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, _ = io.WriteString(t.out, s)
}

func (t *Terminal) Reply(ctx context.Context, to MessageRef, text string) (MessageRef, error) {
	ref := t.store.postBot(to, text)
	t.print(text)
	return ref, nil
}

func (t *Terminal) EditMessage(ctx context.Context, ref MessageRef, text string) error {
	prev, err := t.store.edit(ref, text)
	if err != nil {
		return err
	}
	t.print(appended(prev, text))
	return nil
}

func (t *Terminal) FetchMessage(ctx context.Context, ref MessageRef) (*Message, error) {
	return t.store.fetch(ref)
}

// Finish ends the answer and shows the prompt again.
func (t *Terminal) Finish(ctx context.Context, trigger MessageRef) {
	t.mu.Lock()
	t.waitingResp = false
	t.mu.Unlock()

	t.print("\n")
	t.prompt()
}

func (t *Terminal) Receive() <-chan *Message {
	return t.messages
}

func (t *Terminal) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	select {
	case <-t.done:
	default:
		close(t.done)
	}

	return nil
}

// Done returns a channel that's closed when the terminal exits.
func (t *Terminal) Done() <-chan struct{} {
	return t.done
}
