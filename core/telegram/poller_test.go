package telegram

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreconfig "github.com/m3rciful/onboardbot/core/config"

	tele "gopkg.in/telebot.v4"
)

func TestNewPollerWebhook(t *testing.T) {
	cfg := &coreconfig.Config{
		Telegram: coreconfig.TelegramConfig{Token: "123:abc", RunMode: coreconfig.RunModeWebhook},
		Webhook: coreconfig.WebhookConfig{
			URL:    "https://bot.example.com",
			Listen: "0.0.0.0",
			Port:   8443,
			Secret: "s3cret",
		},
	}

	p := NewPoller(cfg)
	wh, ok := p.(*tele.Webhook)
	require.True(t, ok)
	assert.Equal(t, "0.0.0.0:8443", wh.Listen)
	assert.Equal(t, "s3cret", wh.SecretToken)
	assert.Equal(t, "https://bot.example.com/123:abc", wh.Endpoint.PublicURL)
	assert.Equal(t, []string{"message", "callback_query"}, wh.AllowedUpdates)
}

func TestNewPollerLongPoll(t *testing.T) {
	cfg := &coreconfig.Config{Telegram: coreconfig.TelegramConfig{RunMode: "LongPoll"}}
	lp, ok := NewPoller(cfg).(*tele.LongPoller)
	require.True(t, ok)
	assert.Equal(t, 10*time.Second, lp.Timeout)
	assert.Contains(t, lp.AllowedUpdates, "callback_query")

	cfg.Telegram.LongPollTimeoutSeconds = 25
	assert.Equal(t, 25*time.Second, NewPoller(cfg).(*tele.LongPoller).Timeout)
}
