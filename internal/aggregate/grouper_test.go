package aggregate

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kit "serverbot/internal/transport"
	"serverbot/internal/transport/transporttest"
	logx "serverbot/pkg/logx"
)

var chat = kit.ChatTarget{ChatID: -100123}

func rec(i int) kit.Record { return kit.Record{Title: fmt.Sprintf("r%d", i)} }

func TestTwelveEventsMakeTwoMessages(t *testing.T) {
	t.Parallel()
	sink := transporttest.New()
	g := New(10, logx.Nop())

	for i := 1; i <= 12; i++ {
		_, err := g.Deliver(context.Background(), sink, chat, "sonarr:1:s1", rec(i))
		require.NoError(t, err)
	}

	msgs := sink.Messages()
	require.Len(t, msgs, 2)
	assert.Len(t, msgs[0].Records, 10)
	assert.Len(t, msgs[1].Records, 2)
	assert.Equal(t, "r1", msgs[0].Records[0].Title)
	assert.Equal(t, "r10", msgs[0].Records[9].Title)
	assert.Equal(t, "r11", msgs[1].Records[0].Title)
}

func TestOutcomes(t *testing.T) {
	t.Parallel()
	sink := transporttest.New()
	g := New(2, logx.Nop())
	ctx := context.Background()

	out, err := g.Deliver(ctx, sink, chat, "", rec(0))
	require.NoError(t, err)
	assert.Equal(t, Standalone, out)
	assert.Equal(t, 0, g.Len(), "standalone must not touch the grouper")

	out, _ = g.Deliver(ctx, sink, chat, "k", rec(1))
	assert.Equal(t, Created, out)
	out, _ = g.Deliver(ctx, sink, chat, "k", rec(2))
	assert.Equal(t, Appended, out)
	_, ok := g.Resolve("k")
	assert.False(t, ok, "full handle must not resolve")
	out, _ = g.Deliver(ctx, sink, chat, "k", rec(3))
	assert.Equal(t, Created, out)
}

func TestMissingMessageFallsBackToNew(t *testing.T) {
	t.Parallel()
	sink := transporttest.New()
	g := New(10, logx.Nop())
	ctx := context.Background()

	_, err := g.Deliver(ctx, sink, chat, "radarr:9", rec(1))
	require.NoError(t, err)
	h, ok := g.Resolve("radarr:9")
	require.True(t, ok)

	sink.Delete(h.Ref.MessageID)

	out, err := g.Deliver(ctx, sink, chat, "radarr:9", rec(2))
	require.NoError(t, err)
	assert.Equal(t, Created, out)

	h2, ok := g.Resolve("radarr:9")
	require.True(t, ok)
	assert.NotEqual(t, h.Ref.MessageID, h2.Ref.MessageID)
	assert.Equal(t, 1, h2.Count())
}

func TestEditErrorOtherThanGoneIsReturned(t *testing.T) {
	t.Parallel()
	g := New(10, logx.Nop())
	sink := &editFailSink{Sink: transporttest.New(), err: errors.New("429")}
	ctx := context.Background()

	_, err := g.Deliver(ctx, sink, chat, "k", rec(1))
	require.NoError(t, err)
	_, err = g.Deliver(ctx, sink, chat, "k", rec(2))
	require.Error(t, err)

	h, ok := g.Resolve("k")
	require.True(t, ok)
	assert.Equal(t, 1, h.Count(), "failed edit must not grow the handle")
}

func TestDifferentChatStartsNewMessage(t *testing.T) {
	t.Parallel()
	sink := transporttest.New()
	g := New(10, logx.Nop())
	ctx := context.Background()

	_, _ = g.Deliver(ctx, sink, chat, "k", rec(1))
	out, err := g.Deliver(ctx, sink, kit.ChatTarget{ChatID: 42}, "k", rec(2))
	require.NoError(t, err)
	assert.Equal(t, Created, out)
	assert.Len(t, sink.Messages(), 2)
}

type editFailSink struct {
	*transporttest.Sink
	err error
}

func (s *editFailSink) Edit(context.Context, kit.MessageRef, []kit.Record) error { return s.err }

func TestFullMessageStartsNewOne(t *testing.T) {
	t.Parallel()
	sink := transporttest.New()
	sink.EditLimit = 2
	g := New(10, logx.Nop())
	ctx := context.Background()

	want := []Outcome{Created, Appended, Created, Appended, Created}
	for i, w := range want {
		out, err := g.Deliver(ctx, sink, chat, "sonarr:1:s1", rec(i+1))
		require.NoError(t, err)
		assert.Equal(t, w, out, "record %d", i+1)
	}

	msgs := sink.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"r1", "r2"}, []string{msgs[0].Records[0].Title, msgs[0].Records[1].Title})
	assert.Equal(t, "r3", msgs[1].Records[0].Title)
	assert.Equal(t, "r5", msgs[2].Records[0].Title)
	h, ok := g.Resolve("sonarr:1:s1")
	require.True(t, ok)
	assert.Equal(t, msgs[2].Ref, h.Ref)
}
