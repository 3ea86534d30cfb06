package bootstrap

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreconfig "github.com/m3rciful/onboardbot/core/config"
	coredatabase "github.com/m3rciful/onboardbot/core/database"
	"github.com/m3rciful/onboardbot/core/telegram/state"
	"github.com/m3rciful/onboardbot/onboarding/sink"
)

type nopSink struct{}

func (nopSink) Append(context.Context, sink.Record) error { return nil }
func (nopSink) Name() string                              { return "nop" }

func noLogger(*coreconfig.Config) error { return nil }

func sheetsConfig() *coreconfig.Config {
	return &coreconfig.Config{
		Sink:    coreconfig.SinkConfig{Kind: coreconfig.SinkSheets},
		Session: coreconfig.SessionConfig{Backend: coreconfig.SessionMemory},
		Sheets:  coreconfig.SheetsConfig{SpreadsheetID: "sheet", SheetName: "Sheet1"},
	}
}

func TestRunDefaults(t *testing.T) {
	var got sink.SheetsConfig
	res, err := Run(context.Background(), Options{
		Config:     sheetsConfig(),
		LoggerInit: noLogger,
		NewSheets: func(_ context.Context, sc sink.SheetsConfig) (sink.Sink, error) {
			got = sc
			return nopSink{}, nil
		},
	})
	require.NoError(t, err)
	defer res.Close()

	assert.Equal(t, "sheet", got.SpreadsheetID)
	assert.Equal(t, 9, res.Script.Len())
	assert.Equal(t, "nop", res.Sink.Name())
	assert.Nil(t, res.DB)

	_, created, err := res.Store.GetOrCreate(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, created)
}

func TestRunRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := sheetsConfig()
	cfg.Session = coreconfig.SessionConfig{Backend: coreconfig.SessionRedis, RedisAddr: mr.Addr(), RedisPrefix: "test:"}

	res, err := Run(context.Background(), Options{
		Config:     cfg,
		LoggerInit: noLogger,
		NewSheets:  func(context.Context, sink.SheetsConfig) (sink.Sink, error) { return nopSink{}, nil },
	})
	require.NoError(t, err)
	_, ok := res.Store.(*state.RedisStore)
	require.True(t, ok)

	_, _, err = res.Store.GetOrCreate(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:7"))
	require.NoError(t, res.Close())
}

func TestRunPostgresSink(t *testing.T) {
	cfg := sheetsConfig()
	cfg.Sink.Kind = coreconfig.SinkPostgres
	cfg.Database = coreconfig.DatabaseConfig{Host: "db", Port: "5432", Name: "onboarding", SSLMode: "disable"}

	migrated := false
	res, err := Run(context.Background(), Options{
		Config:     cfg,
		LoggerInit: noLogger,
		Connect: func(_ context.Context, dc coredatabase.Config) (*sqlx.DB, error) {
			return sqlx.Open("postgres", coredatabase.DSN(dc))
		},
		Migrate: func(context.Context, coredatabase.Config) error {
			migrated = true
			return nil
		},
	})
	require.NoError(t, err)
	defer res.Close()

	assert.True(t, migrated)
	assert.NotNil(t, res.DB)
	assert.Equal(t, "postgres", res.Sink.Name())
}

func TestRunClosesOnMigrationFailure(t *testing.T) {
	cfg := sheetsConfig()
	cfg.Sink.Kind = coreconfig.SinkPostgres

	var db *sqlx.DB
	_, err := Run(context.Background(), Options{
		Config:     cfg,
		LoggerInit: noLogger,
		Connect: func(_ context.Context, dc coredatabase.Config) (*sqlx.DB, error) {
			var err error
			db, err = sqlx.Open("postgres", coredatabase.DSN(dc))
			return db, err
		},
		Migrate: func(context.Context, coredatabase.Config) error { return errors.New("dirty") },
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "migrations failed")
	assert.Error(t, db.Ping(), "connection must be closed")
}

func TestRunFailsOnBrokenScript(t *testing.T) {
	path := filepath.Join(t.TempDir(), "script.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fields:\n  - key: name\n    prompt: ''\n"), 0o600))
	cfg := sheetsConfig()
	cfg.Onboarding.ScriptPath = path

	_, err := Run(context.Background(), Options{Config: cfg, LoggerInit: noLogger})
	assert.Error(t, err)
}

func TestRunRequiresConfig(t *testing.T) {
	_, err := Run(context.Background(), Options{})
	assert.Error(t, err)
}

func TestLoadScriptFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "script.yaml")
	yml := "fields:\n  - key: name\n    prompt: What is your name?\n  - key: email\n    prompt: Email?\n    rule: email\n"
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))

	sc, err := LoadScript(path)
	require.NoError(t, err)
	assert.Equal(t, 2, sc.Len())
}
