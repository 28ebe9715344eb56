package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// discordSession is the subset of *discordgo.Session the channel calls.
type discordSession interface {
	Open() error
	Close() error
	ChannelMessage(channelID, messageID string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendReply(channelID, content string, reference *discordgo.MessageReference, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEdit(channelID, messageID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordChannel integrates with Discord over the gateway. Discord replies
// carry an explicit message reference, which becomes Message.ReplyTo.
type DiscordChannel struct {
	session discordSession
	botID   string
	log     *zap.Logger

	messages chan *Message
	done     chan struct{}

	mu      sync.Mutex
	started bool
}

// DiscordConfig holds Discord configuration.
type DiscordConfig struct {
	Token string
}

// NewDiscordChannel creates a Discord channel and resolves the bot identity.
func NewDiscordChannel(cfg DiscordConfig, log *zap.Logger) (*DiscordChannel, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("discord token is required")
	}

	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	me, err := session.User("@me")
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}

	d := newDiscordChannel(session, me.ID, log)
	session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		d.handleMessage(m.Message)
	})
	return d, nil
}

func newDiscordChannel(session discordSession, botID string, log *zap.Logger) *DiscordChannel {
	return &DiscordChannel{
		session:  session,
		botID:    botID,
		log:      log.Named("discord"),
		messages: make(chan *Message, 10),
		done:     make(chan struct{}),
	}
}

func (d *DiscordChannel) Name() string {
	return "discord"
}

func (d *DiscordChannel) BotID() string {
	return d.botID
}

func (d *DiscordChannel) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return nil
	}

	if err := d.session.Open(); err != nil {
		return fmt.Errorf("failed to open gateway: %w", err)
	}
	d.started = true
	d.log.Info("connected")

	go func() {
		select {
		case <-ctx.Done():
			_ = d.Stop()
		case <-d.done:
		}
	}()
	return nil
}

// handleMessage runs on the gateway's event goroutine.
func (d *DiscordChannel) handleMessage(m *discordgo.Message) {
	if m == nil || m.Author == nil || m.Author.ID == d.botID {
		return
	}

	msg := d.convert(m)
	// direct messages always address the bot
	if m.GuildID == "" {
		msg.MentionsBot = true
	}

	select {
	case d.messages <- msg:
	case <-d.done:
	}
}

func (d *DiscordChannel) convert(m *discordgo.Message) *Message {
	msg := &Message{
		Ref:       MessageRef{ChannelID: m.ChannelID, MessageID: m.ID},
		Text:      m.Content,
		Timestamp: m.Timestamp,
	}
	if m.Author != nil {
		msg.AuthorID = m.Author.ID
	}
	if ref := m.MessageReference; ref != nil && ref.MessageID != "" {
		channelID := ref.ChannelID
		if channelID == "" {
			channelID = m.ChannelID
		}
		msg.ReplyTo = &MessageRef{ChannelID: channelID, MessageID: ref.MessageID}
	}
	for _, u := range m.Mentions {
		if u != nil && u.ID == d.botID {
			msg.MentionsBot = true
			break
		}
	}
	return msg
}

// Reply posts text as a Discord reply to to.
func (d *DiscordChannel) Reply(ctx context.Context, to MessageRef, text string) (MessageRef, error) {
	sent, err := d.session.ChannelMessageSendReply(to.ChannelID, text,
		&discordgo.MessageReference{MessageID: to.MessageID, ChannelID: to.ChannelID},
		discordgo.WithContext(ctx),
	)
	if err != nil {
		return MessageRef{}, fmt.Errorf("discord send failed: %w", err)
	}
	return MessageRef{ChannelID: sent.ChannelID, MessageID: sent.ID}, nil
}

func (d *DiscordChannel) EditMessage(ctx context.Context, ref MessageRef, text string) error {
	if _, err := d.session.ChannelMessageEdit(ref.ChannelID, ref.MessageID, text, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord edit failed: %w", err)
	}
	return nil
}

func (d *DiscordChannel) FetchMessage(ctx context.Context, ref MessageRef) (*Message, error) {
	m, err := d.session.ChannelMessage(ref.ChannelID, ref.MessageID, discordgo.WithContext(ctx))
	if err != nil {
		var restErr *discordgo.RESTError
		if errors.As(err, &restErr) && restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%s: %w", ref, ErrMessageNotFound)
		}
		return nil, fmt.Errorf("discord fetch failed: %w", err)
	}
	return d.convert(m), nil
}

func (d *DiscordChannel) Receive() <-chan *Message {
	return d.messages
}

func (d *DiscordChannel) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	default:
		close(d.done)
	}

	if d.started {
		return d.session.Close()
	}
	return nil
}

func (d *DiscordChannel) Done() <-chan struct{} {
	return d.done
}
