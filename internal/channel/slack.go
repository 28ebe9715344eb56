package channel

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"go.uber.org/zap"
)

// SlackChannel integrates with Slack via Socket Mode.
//
// Slack has threads rather than per-message replies. A message inside a
// thread is treated as a reply to the message just before it in that
// thread, so a thread reads as one reply chain. The predecessor of an
// inbound message is looked up by ResolveReply, off the event loop. Answers
// are posted into the thread of the message they answer.
type SlackChannel struct {
	client       *slack.Client
	socketClient *socketmode.Client
	botUserID    string
	botID        string
	log          *zap.Logger

	messages chan *Message
	done     chan struct{}

	mu      sync.Mutex
	started bool
}

// SlackConfig holds Slack configuration.
type SlackConfig struct {
	BotToken string // xoxb-...
	AppToken string // xapp-...
	APIURL   string // optional, defaults to slack.com
}

// NewSlackChannel creates a new Slack channel and resolves the bot identity.
func NewSlackChannel(ctx context.Context, cfg SlackConfig, log *zap.Logger) (*SlackChannel, error) {
	if cfg.BotToken == "" || cfg.AppToken == "" {
		return nil, fmt.Errorf("both bot token and app token are required")
	}

	opts := []slack.Option{slack.OptionAppLevelToken(cfg.AppToken)}
	if cfg.APIURL != "" {
		opts = append(opts, slack.OptionAPIURL(cfg.APIURL))
	}
	client := slack.New(cfg.BotToken, opts...)

	authResp, err := client.AuthTestContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}

	return &SlackChannel{
		client:       client,
		socketClient: socketmode.New(client, socketmode.OptionDebug(false)),
		botUserID:    authResp.UserID,
		botID:        authResp.BotID,
		log:          log.Named("slack"),
		messages:     make(chan *Message, 10),
		done:         make(chan struct{}),
	}, nil
}

func (s *SlackChannel) Name() string {
	return "slack"
}

func (s *SlackChannel) BotID() string {
	return s.botUserID
}

func (s *SlackChannel) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	go s.handleEvents(ctx)

	go func() {
		if err := s.socketClient.RunContext(ctx); err != nil && ctx.Err() == nil {
			s.log.Error("socket mode stopped", zap.Error(err))
		}
	}()

	return nil
}

func (s *SlackChannel) handleEvents(ctx context.Context) {
	s.log.Debug("event handler started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case evt, ok := <-s.socketClient.Events:
			if !ok {
				return
			}
			switch evt.Type {
			case socketmode.EventTypeEventsAPI:
				eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
				if !ok {
					s.log.Warn("unexpected events api payload", zap.String("type", fmt.Sprintf("%T", evt.Data)))
					continue
				}
				s.socketClient.Ack(*evt.Request)
				s.handleEventsAPI(ctx, eventsAPIEvent)

			case socketmode.EventTypeConnecting:
				s.log.Info("connecting")

			case socketmode.EventTypeConnected:
				s.log.Info("connected")

			case socketmode.EventTypeConnectionError:
				s.log.Warn("connection error")

			default:
				s.log.Debug("ignored event", zap.String("type", string(evt.Type)))
			}
		}
	}
}

func (s *SlackChannel) handleEventsAPI(ctx context.Context, event slackevents.EventsAPIEvent) {
	if event.Type != slackevents.CallbackEvent {
		return
	}

	switch ev := event.InnerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		msg := &Message{
			Ref:         MessageRef{ChannelID: ev.Channel, MessageID: ev.TimeStamp, ThreadID: ev.ThreadTimeStamp},
			AuthorID:    s.authorID(ev.User, ev.BotID),
			Text:        ev.Text,
			Timestamp:   parseSlackTimestamp(ev.TimeStamp),
			MentionsBot: true,
		}
		s.dispatch(ctx, msg)

	case *slackevents.MessageEvent:
		// channel messages that mention the bot also arrive as app_mention;
		// only direct messages are handled here
		if ev.ChannelType != "im" || ev.SubType != "" {
			return
		}
		msg := &Message{
			Ref:         MessageRef{ChannelID: ev.Channel, MessageID: ev.TimeStamp, ThreadID: ev.ThreadTimeStamp},
			AuthorID:    s.authorID(ev.User, ev.BotID),
			Text:        ev.Text,
			Timestamp:   parseSlackTimestamp(ev.TimeStamp),
			MentionsBot: true,
		}
		s.dispatch(ctx, msg)
	}
}

func (s *SlackChannel) dispatch(ctx context.Context, msg *Message) {
	if msg.AuthorID == s.botUserID {
		return
	}

	select {
	case s.messages <- msg:
	case <-ctx.Done():
	case <-s.done:
	}
}

// ResolveReply returns the message posted right before msg in its thread,
// or nil for a message that is not a thread reply.
func (s *SlackChannel) ResolveReply(ctx context.Context, msg *Message) (*MessageRef, error) {
	if msg.ReplyTo != nil {
		return msg.ReplyTo, nil
	}
	if msg.Ref.ThreadID == "" || msg.Ref.ThreadID == msg.Ref.MessageID {
		return nil, nil
	}

	_, prev, err := s.threadNeighbors(ctx, msg.Ref)
	if err != nil {
		return nil, err
	}
	return prev, nil
}

// Reply posts text into the thread of to, starting a thread if to is a
// top-level message.
func (s *SlackChannel) Reply(ctx context.Context, to MessageRef, text string) (MessageRef, error) {
	threadTS := to.ThreadID
	if threadTS == "" {
		threadTS = to.MessageID
	}

	channelID, ts, err := s.client.PostMessageContext(ctx, to.ChannelID,
		slack.MsgOptionText(text, false),
		slack.MsgOptionTS(threadTS),
	)
	if err != nil {
		return MessageRef{}, fmt.Errorf("slack post failed: %w", err)
	}

	return MessageRef{ChannelID: channelID, MessageID: ts, ThreadID: threadTS}, nil
}

func (s *SlackChannel) EditMessage(ctx context.Context, ref MessageRef, text string) error {
	_, _, _, err := s.client.UpdateMessageContext(ctx, ref.ChannelID, ref.MessageID,
		slack.MsgOptionText(text, false),
	)
	if err != nil {
		return fmt.Errorf("slack update failed: %w", err)
	}
	return nil
}

// FetchMessage loads a message from its thread. Its ReplyTo is the message
// posted right before it in the same thread.
func (s *SlackChannel) FetchMessage(ctx context.Context, ref MessageRef) (*Message, error) {
	found, prev, err := s.threadNeighbors(ctx, ref)
	if err != nil {
		return nil, err
	}

	return &Message{
		Ref:       MessageRef{ChannelID: ref.ChannelID, MessageID: found.Timestamp, ThreadID: threadOf(ref)},
		AuthorID:  s.authorID(found.User, found.BotID),
		Text:      found.Text,
		Timestamp: parseSlackTimestamp(found.Timestamp),
		ReplyTo:   prev,
	}, nil
}

// threadNeighbors pages through ref's thread up to ref and returns the
// message itself and a reference to its predecessor, if any.
func (s *SlackChannel) threadNeighbors(ctx context.Context, ref MessageRef) (slack.Message, *MessageRef, error) {
	thread := threadOf(ref)
	params := &slack.GetConversationRepliesParameters{
		ChannelID: ref.ChannelID,
		Timestamp: thread,
		Latest:    ref.MessageID,
		Inclusive: true,
		Limit:     200,
	}

	var prev *slack.Message
	for {
		msgs, hasMore, cursor, err := s.client.GetConversationRepliesContext(ctx, params)
		if err != nil {
			var slackErr slack.SlackErrorResponse
			if errors.As(err, &slackErr) && (slackErr.Err == "thread_not_found" || slackErr.Err == "message_not_found") {
				return slack.Message{}, nil, fmt.Errorf("%s: %w", ref, ErrMessageNotFound)
			}
			return slack.Message{}, nil, fmt.Errorf("slack replies failed: %w", err)
		}

		for i := range msgs {
			if msgs[i].Timestamp == ref.MessageID {
				var prevRef *MessageRef
				if prev != nil {
					prevRef = &MessageRef{ChannelID: ref.ChannelID, MessageID: prev.Timestamp, ThreadID: thread}
				}
				return msgs[i], prevRef, nil
			}
			prev = &msgs[i]
		}

		if !hasMore || cursor == "" {
			return slack.Message{}, nil, fmt.Errorf("%s: %w", ref, ErrMessageNotFound)
		}
		params.Cursor = cursor
	}
}

// authorID maps messages posted through the bot's own integration to the
// bot user, since some of them carry only a bot_id.
func (s *SlackChannel) authorID(user, botID string) string {
	if botID != "" && botID == s.botID {
		return s.botUserID
	}
	if user == "" {
		return botID
	}
	return user
}

func (s *SlackChannel) Receive() <-chan *Message {
	return s.messages
}

func (s *SlackChannel) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.done:
	default:
		close(s.done)
	}

	return nil
}

func (s *SlackChannel) Done() <-chan struct{} {
	return s.done
}

func threadOf(ref MessageRef) string {
	if ref.ThreadID != "" {
		return ref.ThreadID
	}
	return ref.MessageID
}

// parseSlackTimestamp converts Slack's "seconds.micros" format to time.Time.
func parseSlackTimestamp(ts string) time.Time {
	secs, frac, _ := strings.Cut(ts, ".")
	sec, err := strconv.ParseInt(secs, 10, 64)
	if err != nil {
		return time.Time{}
	}
	micros, _ := strconv.ParseInt(frac, 10, 64)
	return time.Unix(sec, micros*int64(time.Microsecond))
}
