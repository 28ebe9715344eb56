// Package pipeline answers chat messages that address the bot: it assembles
// the reply chain, streams a completion from the backend and renders it back
// into the chat surface.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eachlabs/threadbot/internal/channel"
	"github.com/eachlabs/threadbot/internal/conversation"
	"github.com/eachlabs/threadbot/internal/mention"
	"github.com/eachlabs/threadbot/internal/provider"
	"github.com/eachlabs/threadbot/internal/render"
	"github.com/eachlabs/threadbot/internal/stream"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Stage names the part of an invocation that failed.
type Stage string

const (
	StageContext   Stage = "context"
	StageTransport Stage = "transport"
	StageDecode    Stage = "decode"
	StageRender    Stage = "render"
)

// StageError attributes an invocation failure to a stage.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// DefaultMaxConcurrent bounds concurrent invocations in Serve.
const DefaultMaxConcurrent = 8

// Config holds pipeline settings.
type Config struct {
	Model string

	// Timeout bounds one backend stream; zero disables it.
	Timeout time.Duration

	MaxConcurrent int

	// ReplyOnError posts a short notice to the chat when an invocation fails.
	ReplyOnError bool

	Conversation conversation.Config
	Render       render.Config
}

// Pipeline is safe for concurrent use; every invocation has its own stream
// and renderer.
type Pipeline struct {
	provider provider.Provider
	filter   *mention.Filter
	cfg      Config
	log      *zap.Logger
}

// New creates a pipeline. filter carries the bot identity.
func New(prov provider.Provider, filter *mention.Filter, cfg Config, log *zap.Logger) *Pipeline {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{
		provider: prov,
		filter:   filter,
		cfg:      cfg,
		log:      log.Named("pipeline"),
	}
}

// Serve starts surface and handles its messages until ctx is cancelled, the
// surface stops, or its inbound channel is closed. In-flight invocations are
// waited for before Serve returns.
func (p *Pipeline) Serve(ctx context.Context, surface channel.Channel) error {
	if err := surface.Start(ctx); err != nil {
		return fmt.Errorf("failed to start %s channel: %w", surface.Name(), err)
	}

	// admit ends when either ctx or the surface is done; invocations keep ctx
	admit, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		select {
		case <-surface.Done():
			stop()
		case <-admit.Done():
		}
	}()

	sem := semaphore.NewWeighted(int64(p.cfg.MaxConcurrent))
	var g errgroup.Group

	p.log.Info("serving", zap.String("channel", surface.Name()), zap.String("provider", p.provider.Name()))
	for {
		select {
		case <-admit.Done():
			return g.Wait()
		case msg, ok := <-surface.Receive():
			if !ok {
				return g.Wait()
			}
			if err := sem.Acquire(admit, 1); err != nil {
				p.log.Warn("dropped message on shutdown", zap.Stringer("message", msg.Ref))
				return g.Wait()
			}
			g.Go(func() error {
				defer sem.Release(1)
				_ = p.Handle(ctx, surface, msg)
				return nil
			})
		}
	}
}

// Handle answers msg if it addresses the bot. Messages from the bot itself
// and messages without a mention are ignored with no outbound calls. The
// returned error is a *StageError; it has already been logged.
func (p *Pipeline) Handle(ctx context.Context, surface channel.Channel, msg *channel.Message) error {
	if msg.AuthorID == p.filter.BotID() {
		return nil
	}
	if !msg.MentionsBot && !p.filter.Mentions(msg.Text) {
		return nil
	}

	log := p.log.With(
		zap.String("invocation", uuid.New().String()),
		zap.String("channel", surface.Name()),
		zap.Stringer("message", msg.Ref),
	)
	if f, ok := surface.(channel.Finisher); ok {
		defer f.Finish(ctx, msg.Ref)
	}

	start := time.Now()
	log.Debug("triggered", zap.String("author", msg.AuthorID))

	res, err := p.run(ctx, surface, msg, log)
	if err != nil {
		var se *StageError
		stage := Stage("")
		if errors.As(err, &se) {
			stage = se.Stage
		}
		log.Error("invocation failed",
			zap.String("stage", string(stage)),
			zap.Int("messages", len(res.Messages)),
			zap.Error(err))

		if p.cfg.ReplyOnError && ctx.Err() == nil {
			if _, rerr := surface.Reply(ctx, msg.Ref, errorNotice(stage, err)); rerr != nil {
				log.Warn("failed to report error", zap.Error(rerr))
			}
		}
		return err
	}

	log.Info("replied",
		zap.Int("messages", len(res.Messages)),
		zap.Int("edits", res.Edits),
		zap.Int("chars", res.Chars),
		zap.Duration("took", time.Since(start)))
	return nil
}

func (p *Pipeline) run(ctx context.Context, surface channel.Channel, msg *channel.Message, log *zap.Logger) (render.Result, error) {
	assembler := conversation.NewAssembler(surface, p.filter, p.cfg.Conversation)
	turns, err := assembler.Assemble(ctx, msg)
	if err != nil {
		return render.Result{}, &StageError{Stage: StageContext, Err: err}
	}
	log.Debug("context assembled", zap.Int("turns", len(turns)))

	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	st, err := p.provider.Stream(ctx, &provider.ChatRequest{Model: p.cfg.Model, Turns: turns})
	if err != nil {
		return render.Result{}, &StageError{Stage: StageTransport, Err: err}
	}
	defer st.Close()

	src := &trackedSource{src: st}
	res, err := render.New(surface, msg.Ref, p.cfg.Render, log).Render(ctx, src)
	if err != nil {
		if src.err != nil && errors.Is(err, src.err) {
			return res, &StageError{Stage: streamStage(src.err), Err: err}
		}
		return res, &StageError{Stage: StageRender, Err: err}
	}
	return res, nil
}

// trackedSource remembers the error its source failed with, so render and
// stream failures can be told apart.
type trackedSource struct {
	src render.Source
	err error
}

func (t *trackedSource) Next() (stream.Delta, error) {
	d, err := t.src.Next()
	if err != nil {
		t.err = err
	}
	return d, err
}

// streamStage classifies a failure while reading the response.
func streamStage(err error) Stage {
	var de *stream.DecodeError
	if errors.As(err, &de) {
		return StageDecode
	}
	// I/O errors, deadlines and truncated streams
	return StageTransport
}

func errorNotice(stage Stage, err error) string {
	switch stage {
	case StageContext:
		return "Sorry, I couldn't read the conversation this message replies to."
	case StageTransport:
		var se *provider.StatusError
		if errors.As(err, &se) && se.Retryable() {
			return "Sorry, the language model is busy right now. Please try again in a moment."
		}
		return "Sorry, I couldn't reach the language model. Please try again later."
	case StageDecode:
		return "Sorry, the language model sent a response I couldn't understand."
	default:
		return "Sorry, I couldn't post my answer."
	}
}
