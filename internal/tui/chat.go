// Package tui is the full-screen chat front end for local conversations.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ClearCommand starts a new conversation. It is forwarded on the input
// channel so the surface can drop its reply chain too.
const ClearCommand = "/clear"

// Transcript roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleError     = "error"
	// RoleDone marks the end of a reply; it is not shown.
	RoleDone = "done"
)

// ChatMessage is one transcript entry. An entry whose ID is already shown
// replaces it, which is how streamed edits arrive.
type ChatMessage struct {
	ID      string
	Role    string
	Content string
}

type styles struct {
	title     lipgloss.Style
	subtitle  lipgloss.Style
	rule      lipgloss.Style
	user      lipgloss.Style
	bot       lipgloss.Style
	botLabel  lipgloss.Style
	userLabel lipgloss.Style
	errText   lipgloss.Style
	status    lipgloss.Style
	input     lipgloss.Style
	busyInput lipgloss.Style
}

func defaultStyles() styles {
	accent := lipgloss.Color("#A855F7")
	ok := lipgloss.Color("#22C55E")
	muted := lipgloss.Color("#6B7280")

	box := lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	return styles{
		title:     lipgloss.NewStyle().Bold(true).Foreground(accent),
		subtitle:  lipgloss.NewStyle().Foreground(muted),
		rule:      lipgloss.NewStyle().Foreground(muted),
		user:      lipgloss.NewStyle().Foreground(lipgloss.Color("#F9FAFB")).Background(accent).Padding(0, 1),
		bot:       lipgloss.NewStyle(),
		botLabel:  lipgloss.NewStyle().Foreground(ok).Bold(true),
		userLabel: lipgloss.NewStyle().Foreground(accent).Bold(true),
		errText:   lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444")).Bold(true),
		status:    lipgloss.NewStyle().Foreground(muted),
		input:     box.BorderForeground(ok),
		busyInput: box.BorderForeground(muted),
	}
}

// ChatModel is the bubbletea model: a transcript viewport over a one-line
// composer. Input is disabled while an answer is streaming.
type ChatModel struct {
	composer   textarea.Model
	transcript viewport.Model
	spinner    spinner.Model
	styles     styles

	entries  []ChatMessage
	byID     map[string]int
	awaiting bool
	width    int
	ready    bool
	subtitle string

	input  chan<- string
	output <-chan ChatMessage
	ctx    context.Context
	cancel context.CancelFunc
}

type replyMsg ChatMessage
type closedMsg struct{}

// NewChatModel creates the model. subtitle is shown next to the title,
// typically the backend and model in use.
func NewChatModel(subtitle string, input chan<- string, output <-chan ChatMessage) ChatModel {
	st := defaultStyles()

	ta := textarea.New()
	ta.Placeholder = "Ask something..."
	ta.Focus()
	ta.CharLimit = 4000
	ta.SetHeight(1)
	ta.ShowLineNumbers = false
	ta.KeyMap.InsertNewline.SetEnabled(false)

	sp := spinner.New(spinner.WithSpinner(spinner.MiniDot), spinner.WithStyle(st.status))

	ctx, cancel := context.WithCancel(context.Background())
	return ChatModel{
		composer:   ta,
		transcript: viewport.New(0, 0),
		spinner:    sp,
		styles:     st,
		byID:       map[string]int{},
		subtitle:   subtitle,
		input:      input,
		output:     output,
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (m ChatModel) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.spinner.Tick, m.next())
}

// next waits for the next update from the surface.
func (m ChatModel) next() tea.Cmd {
	return func() tea.Msg {
		select {
		case <-m.ctx.Done():
			return closedMsg{}
		case msg, ok := <-m.output:
			if !ok {
				return closedMsg{}
			}
			return replyMsg(msg)
		}
	}
}

func (m ChatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.cancel()
			return m, tea.Quit
		case tea.KeyCtrlL:
			return m, m.clear()
		case tea.KeyEnter:
			return m, m.submit()
		}

	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)

	case replyMsg:
		m.apply(ChatMessage(msg))
		cmds = append(cmds, m.next())

	case closedMsg:
		m.awaiting = false

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	if !m.awaiting {
		var cmd tea.Cmd
		m.composer, cmd = m.composer.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

// submit sends the composer text, unless an answer is still streaming.
func (m *ChatModel) submit() tea.Cmd {
	if m.awaiting {
		return nil
	}
	text := strings.TrimSpace(m.composer.Value())
	if text == "" {
		return nil
	}
	if text == ClearCommand {
		return m.clear()
	}

	m.composer.Reset()
	m.awaiting = true
	m.apply(ChatMessage{Role: RoleUser, Content: text})
	return m.send(text)
}

// clear empties the transcript and tells the surface to start over.
func (m *ChatModel) clear() tea.Cmd {
	if m.awaiting {
		return nil
	}
	m.composer.Reset()
	m.entries = nil
	m.byID = map[string]int{}
	m.render()
	return m.send(ClearCommand)
}

func (m *ChatModel) send(text string) tea.Cmd {
	input, ctx := m.input, m.ctx
	return func() tea.Msg {
		select {
		case input <- text:
		case <-ctx.Done():
		}
		return nil
	}
}

// apply adds or replaces a transcript entry.
func (m *ChatModel) apply(msg ChatMessage) {
	switch {
	case msg.Role == RoleDone:
		m.awaiting = false
		return
	case msg.ID == "":
		m.entries = append(m.entries, msg)
	default:
		if i, ok := m.byID[msg.ID]; ok {
			m.entries[i] = msg
		} else {
			m.byID[msg.ID] = len(m.entries)
			m.entries = append(m.entries, msg)
		}
	}
	m.render()
}

func (m *ChatModel) resize(width, height int) {
	m.width = width
	m.composer.SetWidth(width - 4)

	chrome := lipgloss.Height(m.header()) + lipgloss.Height(m.footer())
	m.transcript.Width = width
	m.transcript.Height = max(height-chrome, 1)
	m.ready = true
	m.render()
}

// render lays the transcript out. Consecutive assistant entries are the
// parts of one split answer and share a single label.
func (m *ChatModel) render() {
	var b strings.Builder
	prev := ""
	for _, e := range m.entries {
		switch e.Role {
		case RoleUser:
			fmt.Fprintf(&b, "\n%s\n%s\n", m.styles.userLabel.Render("You"), m.styles.user.Render(e.Content))
		case RoleAssistant:
			if prev != RoleAssistant {
				fmt.Fprintf(&b, "\n%s\n", m.styles.botLabel.Render("threadbot"))
			}
			b.WriteString(m.styles.bot.Width(max(m.width-2, 10)).Render(e.Content) + "\n")
		case RoleError:
			fmt.Fprintf(&b, "\n%s\n", m.styles.errText.Render("Error: "+e.Content))
		}
		prev = e.Role
	}
	m.transcript.SetContent(b.String())
	m.transcript.GotoBottom()
}

func (m ChatModel) header() string {
	title := m.styles.title.Render("threadbot") + "  " + m.styles.subtitle.Render(m.subtitle)
	return title + "\n" + m.styles.rule.Render(strings.Repeat("─", max(m.width, 1)))
}

func (m ChatModel) footer() string {
	status := m.styles.status.Render("Enter to send • Ctrl+L or /clear for a new conversation • Esc to quit")
	box := m.styles.input
	if m.awaiting {
		status = m.spinner.View() + " " + m.styles.status.Render("answering...")
		box = m.styles.busyInput
	}
	return box.Render(m.composer.View()) + "\n" + status
}

func (m ChatModel) View() string {
	if !m.ready {
		return "Loading..."
	}
	return m.header() + "\n" + m.transcript.View() + "\n" + m.footer()
}
