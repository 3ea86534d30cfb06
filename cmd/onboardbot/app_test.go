package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/onboardbot/core/bootstrap"
	coreconfig "github.com/m3rciful/onboardbot/core/config"
	tg "github.com/m3rciful/onboardbot/core/telegram"
	"github.com/m3rciful/onboardbot/onboarding/sink"

	tele "gopkg.in/telebot.v4"
)

type nopSink struct{}

func (nopSink) Append(context.Context, sink.Record) error { return nil }
func (nopSink) Name() string                              { return "nop" }

func testConfig(t *testing.T) *coreconfig.Config {
	t.Helper()
	cfg := &coreconfig.Config{
		Telegram: coreconfig.TelegramConfig{Token: "123:abc", AdminID: 42},
		Sheets: coreconfig.SheetsConfig{
			SpreadsheetID:   "sheet",
			CredentialsJSON: `{"type":"service_account"}`,
		},
		Metrics: coreconfig.MetricsConfig{Listen: "127.0.0.1:0"},
	}
	require.NoError(t, coreconfig.Normalize(cfg))
	return cfg
}

func testBootstrap() bootstrap.Options {
	return bootstrap.Options{
		LoggerInit: func(*coreconfig.Config) error { return nil },
		NewSheets: func(context.Context, sink.SheetsConfig) (sink.Sink, error) {
			return nopSink{}, nil
		},
	}
}

func useOfflineBot(t *testing.T) {
	t.Helper()
	prev := newBot
	newBot = func(*coreconfig.Config) (*tele.Bot, error) {
		return tele.NewBot(tele.Settings{Offline: true})
	}
	t.Cleanup(func() { newBot = prev })
}

func TestBuildAppWiresEverything(t *testing.T) {
	useOfflineBot(t)
	a, err := buildApp(context.Background(), testConfig(t), testBootstrap())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	opts, err := a.TelegramRunOptions()
	require.NoError(t, err)
	assert.Same(t, a.tele, opts.Bot)
	assert.Same(t, a.registry, opts.Registry)
	assert.NotEmpty(t, opts.Routes)
	assert.NotEmpty(t, opts.Middlewares)
	require.NotNil(t, opts.OnStop)
	assert.NoError(t, opts.OnStop(context.Background(), tg.Runtime{}))

	names := make([]string, 0, 2)
	for _, svc := range a.Services() {
		names = append(names, svc.Name)
	}
	assert.Equal(t, []string{"sweeper", "metrics"}, names)

	_, _, ok := a.registry.LookupCommand("/start")
	assert.True(t, ok)
}

func TestServicesWithoutMetrics(t *testing.T) {
	useOfflineBot(t)
	cfg := testConfig(t)
	cfg.Metrics.Listen = ""
	a, err := buildApp(context.Background(), cfg, testBootstrap())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	require.Len(t, a.Services(), 1)
	assert.Equal(t, "sweeper", a.Services()[0].Name)
}

func TestBuildAppRejectsBadSchedule(t *testing.T) {
	useOfflineBot(t)
	cfg := testConfig(t)
	cfg.Session.SweepSchedule = "every now and then"
	_, err := buildApp(context.Background(), cfg, testBootstrap())
	assert.ErrorContains(t, err, "invalid sweep schedule")
}

func TestHealthEndpoint(t *testing.T) {
	useOfflineBot(t)
	a, err := buildApp(context.Background(), testConfig(t), testBootstrap())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	assert.NoError(t, a.health(context.Background()))
}

func TestScriptCommandPrintsDefaultScript(t *testing.T) {
	t.Setenv("SCRIPT_PATH", "")
	cmd := newScriptCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.Execute())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.NotEmpty(t, lines)
	assert.Contains(t, lines[0], " 1  ")
}

func TestVersionCommand(t *testing.T) {
	cmd := newVersionCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.Execute())
	assert.True(t, strings.HasPrefix(out.String(), "onboardbot dev"))
}
