package render

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/eachlabs/threadbot/internal/channel"
	"github.com/eachlabs/threadbot/internal/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type op struct {
	kind string
	ref  string
	text string
}

// fakeSurface records operations and keeps the visible text of each message.
type fakeSurface struct {
	ops      []op
	visible  map[string]string
	order    []string
	failOn   int // 1-based operation index that fails, 0 for never
	sendSeen int
}

func newFakeSurface() *fakeSurface {
	return &fakeSurface{visible: map[string]string{}}
}

func (f *fakeSurface) fail() error {
	if f.failOn != 0 && len(f.ops) == f.failOn {
		return errors.New("surface unavailable")
	}
	return nil
}

func (f *fakeSurface) Reply(ctx context.Context, to channel.MessageRef, text string) (channel.MessageRef, error) {
	f.sendSeen++
	id := fmt.Sprintf("m%d", f.sendSeen)
	f.ops = append(f.ops, op{kind: "send", ref: id, text: text})
	if err := f.fail(); err != nil {
		return channel.MessageRef{}, err
	}
	f.visible[id] = text
	f.order = append(f.order, id)
	return channel.MessageRef{ChannelID: to.ChannelID, MessageID: id}, nil
}

func (f *fakeSurface) EditMessage(ctx context.Context, ref channel.MessageRef, text string) error {
	f.ops = append(f.ops, op{kind: "edit", ref: ref.MessageID, text: text})
	if err := f.fail(); err != nil {
		return err
	}
	f.visible[ref.MessageID] = text
	return nil
}

func (f *fakeSurface) count(kind string) int {
	n := 0
	for _, o := range f.ops {
		if o.kind == kind {
			n++
		}
	}
	return n
}

func (f *fakeSurface) messages() []string {
	out := make([]string, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, f.visible[id])
	}
	return out
}

type deltas struct {
	items []stream.Delta
	i     int
	err   error
}

func (d *deltas) Next() (stream.Delta, error) {
	if d.i >= len(d.items) {
		if d.err != nil {
			return stream.Delta{}, d.err
		}
		return stream.Delta{}, io.EOF
	}
	item := d.items[d.i]
	d.i++
	return item, nil
}

// chunks builds n non-terminal deltas of size characters followed by a
// terminal delta of tail characters. Each chunk uses its own letter.
func chunks(n, size, tail int) (*deltas, string) {
	var all strings.Builder
	src := &deltas{}
	for i := 0; i < n; i++ {
		text := strings.Repeat(string(rune('a'+i%26)), size)
		all.WriteString(text)
		src.items = append(src.items, stream.Delta{Text: text})
	}
	text := strings.Repeat("z", tail)
	all.WriteString(text)
	src.items = append(src.items, stream.Delta{Text: text, Terminal: true})
	return src, all.String()
}

func render(t *testing.T, surface *fakeSurface, src Source, cfg Config) (Result, error) {
	t.Helper()
	trigger := channel.MessageRef{ChannelID: "C1", MessageID: "trigger"}
	return New(surface, trigger, cfg, zaptest.NewLogger(t)).Render(context.Background(), src)
}

func TestRenderSplitsAtLimit(t *testing.T) {
	surface := newFakeSurface()
	src, full := chunks(21, 100, 50)

	res, err := render(t, surface, src, Config{MaxMessageLength: 2000, FlushThreshold: 100})
	require.NoError(t, err)

	// the first flush opens a message, then one more send at the boundary
	assert.Equal(t, 2, surface.count("send"))
	assert.Equal(t, 20, surface.count("edit"))
	assert.Equal(t, 2, res.Sends)
	assert.Equal(t, 20, res.Edits)
	assert.Equal(t, 2150, res.Chars)
	require.Len(t, res.Messages, 2)

	// edits follow the boundary send
	assert.Equal(t, "send", surface.ops[20].kind)
	assert.Equal(t, "edit", surface.ops[21].kind)

	msgs := surface.messages()
	assert.Equal(t, full[:2000], msgs[0])
	assert.Equal(t, full[2000:], msgs[1])
	assert.Equal(t, full, strings.Join(msgs, ""))
}

func TestRenderExactLimitStaysInOneMessage(t *testing.T) {
	surface := newFakeSurface()
	src, full := chunks(19, 100, 100)

	_, err := render(t, surface, src, Config{})
	require.NoError(t, err)

	assert.Equal(t, 1, surface.count("send"))
	assert.Equal(t, []string{full}, surface.messages())
}

func TestRenderLengthNeverExceedsLimit(t *testing.T) {
	surface := newFakeSurface()
	src, full := chunks(40, 37, 11)

	_, err := render(t, surface, src, Config{MaxMessageLength: 500, FlushThreshold: 60})
	require.NoError(t, err)

	for _, o := range surface.ops {
		assert.LessOrEqual(t, len([]rune(o.text)), 500)
	}
	assert.Equal(t, full, strings.Join(surface.messages(), ""))
}

func TestRenderSplitsOversizedChunk(t *testing.T) {
	surface := newFakeSurface()
	text := strings.Repeat("é", 45)
	src := &deltas{items: []stream.Delta{{Text: text, Terminal: true}}}

	_, err := render(t, surface, src, Config{MaxMessageLength: 20, FlushThreshold: 100})
	require.NoError(t, err)

	assert.Equal(t, []string{strings.Repeat("é", 20), strings.Repeat("é", 20), strings.Repeat("é", 5)}, surface.messages())
}

func TestRenderCountsCharactersNotBytes(t *testing.T) {
	surface := newFakeSurface()
	src := &deltas{items: []stream.Delta{
		{Text: strings.Repeat("世", 6)},
		{Text: strings.Repeat("界", 6)},
		{Terminal: true},
	}}

	_, err := render(t, surface, src, Config{MaxMessageLength: 10, FlushThreshold: 6})
	require.NoError(t, err)

	assert.Equal(t, []string{strings.Repeat("世", 6), strings.Repeat("界", 6)}, surface.messages())
}

func TestRenderEmptyReplyPolicy(t *testing.T) {
	empty := func() *deltas {
		return &deltas{items: []stream.Delta{{Text: ""}, {Terminal: true}}}
	}

	surface := newFakeSurface()
	_, err := render(t, surface, empty(), Config{EmptyReply: EmptyReplySend})
	require.NoError(t, err)
	assert.Equal(t, []op{{kind: "send", ref: "m1", text: ""}}, surface.ops)

	surface = newFakeSurface()
	_, err = render(t, surface, empty(), Config{EmptyReply: EmptyReplySuppress})
	require.NoError(t, err)
	assert.Empty(t, surface.ops)
}

func TestRenderSkipsNoopEdit(t *testing.T) {
	surface := newFakeSurface()
	src := &deltas{items: []stream.Delta{
		{Text: strings.Repeat("x", 100)},
		{Text: "", Terminal: true},
	}}

	_, err := render(t, surface, src, Config{})
	require.NoError(t, err)
	assert.Len(t, surface.ops, 1)
}

func TestRenderShortReplyIsOneSend(t *testing.T) {
	surface := newFakeSurface()
	src := &deltas{items: []stream.Delta{{Text: "Hel"}, {Text: "lo"}, {Terminal: true}}}

	res, err := render(t, surface, src, Config{})
	require.NoError(t, err)
	assert.Equal(t, []op{{kind: "send", ref: "m1", text: "Hello"}}, surface.ops)
	assert.Equal(t, 5, res.Chars)
}

func TestRenderStopsOnSurfaceError(t *testing.T) {
	surface := newFakeSurface()
	surface.failOn = 2
	src, _ := chunks(5, 100, 0)

	res, err := render(t, surface, src, Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "surface unavailable")
	assert.Len(t, surface.ops, 2)
	assert.Equal(t, 1, res.Sends)
	assert.Equal(t, []string{strings.Repeat("a", 100)}, surface.messages())
}

func TestRenderPropagatesSourceError(t *testing.T) {
	surface := newFakeSurface()
	boom := errors.New("decode failed")
	src := &deltas{items: []stream.Delta{{Text: strings.Repeat("a", 150)}}, err: boom}

	_, err := render(t, surface, src, Config{})
	require.ErrorIs(t, err, boom)
	// what was flushed before the failure stays
	assert.Equal(t, []string{strings.Repeat("a", 150)}, surface.messages())
}

func TestStatePlan(t *testing.T) {
	var s State
	op, text := s.Plan("abc", 5)
	assert.Equal(t, OpSend, op)
	assert.Equal(t, "abc", text)

	s = s.Sent(channel.MessageRef{ChannelID: "C", MessageID: "1"}, "abc")
	assert.True(t, s.Active())
	assert.Equal(t, 3, s.SentLength())

	op, text = s.Plan("de", 5)
	assert.Equal(t, OpEdit, op)
	assert.Equal(t, "abcde", text)
	s = s.Edited(text)
	assert.Equal(t, 5, s.SentLength())

	op, _ = s.Plan("", 5)
	assert.Equal(t, OpNone, op)

	op, text = s.Plan("f", 5)
	assert.Equal(t, OpSend, op)
	assert.Equal(t, "f", text)
}
