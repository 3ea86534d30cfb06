package helpers

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/onboardbot/core/logger"
	"github.com/m3rciful/onboardbot/core/telegram/sender"

	tele "gopkg.in/telebot.v4"
)

func newContext(t *testing.T) tele.Context {
	t.Helper()
	b, err := tele.NewBot(tele.Settings{Offline: true})
	require.NoError(t, err)
	return b.NewContext(tele.Update{
		ID: 77,
		Message: &tele.Message{
			Sender: &tele.User{ID: 5},
			Chat:   &tele.Chat{ID: 6},
		},
	})
}

func TestBuildContextCachesMeta(t *testing.T) {
	c := newContext(t)
	ctx := BuildContext(c)

	assert.Equal(t, int64(5), logger.UserIDFrom(ctx))
	assert.Equal(t, int64(6), logger.ChatIDFrom(ctx))
	assert.Equal(t, 77, logger.UpdateIDFrom(ctx))
	assert.NotEmpty(t, logger.RIDFrom(ctx))

	again, ok := ContextFrom(c)
	require.True(t, ok)
	assert.Equal(t, ctx, again)
}

func TestNewUpdateContextReplacesStored(t *testing.T) {
	c := newContext(t)
	first := WithHandler(c, "start")
	fresh := NewUpdateContext(c)
	assert.Empty(t, logger.HandlerFrom(fresh))
	assert.Equal(t, "start", logger.HandlerFrom(first))
	assert.Equal(t, "77:6:5", c.Get("rid"))

	userID, chatID := IDs(c)
	assert.Equal(t, int64(5), userID)
	assert.Equal(t, int64(6), chatID)
}

func TestWithHandler(t *testing.T) {
	c := newContext(t)
	ctx := WithHandler(c, "start")
	assert.Equal(t, "start", logger.HandlerFrom(ctx))

	stored, ok := ContextFrom(c)
	require.True(t, ok)
	assert.Equal(t, "start", logger.HandlerFrom(stored))
}

func TestDeliverRunsInlineWithoutDispatcher(t *testing.T) {
	SetDispatcher(nil)
	c := newContext(t)
	boom := errors.New("boom")
	ran := false
	err := deliver(c, "send.text", "sendMessage", func() error { ran = true; return boom })
	assert.True(t, ran)
	assert.ErrorIs(t, err, boom)
}

func TestDeliverFallsBackWhenQueueClosed(t *testing.T) {
	d := sender.NewDispatcher(sender.Options{})
	d.Close()
	SetDispatcher(d)
	t.Cleanup(func() { SetDispatcher(nil) })

	ran := false
	err := deliver(newContext(t), "send.text", "sendMessage", func() error { ran = true; return nil })
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestDeliverQueues(t *testing.T) {
	d := sender.NewDispatcher(sender.Options{})
	SetDispatcher(d)
	t.Cleanup(func() { SetDispatcher(nil) })

	done := make(chan struct{})
	err := deliver(newContext(t), "send.text", "sendMessage", func() error { close(done); return nil })
	require.NoError(t, err)
	d.Close()
	select {
	case <-done:
	default:
		t.Fatal("queued send did not run before Close returned")
	}
}
