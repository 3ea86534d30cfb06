package database

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListMigrationFilesSortsUpFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"0002_b.up.sql", "0001_a.up.sql", "0001_a.down.sql", "README"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o600))
	}
	assert.Equal(t, []string{"0001_a.up.sql", "0002_b.up.sql"}, listMigrationFiles(dir))
}

func TestMigrationsDirUsesConfig(t *testing.T) {
	dir := t.TempDir()
	got, err := migrationsDir(Config{MigrationsDir: dir})
	require.NoError(t, err)
	assert.Equal(t, dir, got)
}

func TestRunMigrationsNeedsFiles(t *testing.T) {
	err := RunMigrations(context.Background(), Config{MigrationsDir: t.TempDir()})
	assert.ErrorContains(t, err, "no *.up.sql migrations")
}

func TestRepositoryMigrationsArePaired(t *testing.T) {
	up := listMigrationFiles(filepath.Join("..", "..", "migrations"))
	require.NotEmpty(t, up)
	for _, name := range up {
		down := filepath.Join("..", "..", "migrations", name[:len(name)-len(".up.sql")]+".down.sql")
		_, err := os.Stat(down)
		assert.NoError(t, err, "missing down migration for %s", name)
	}
}

func TestConnectionStrings(t *testing.T) {
	cfg := Config{User: "bot", Password: "pw", Host: "db", Port: "5432", Name: "onboarding", SSLMode: "disable"}
	assert.Equal(t, "user=bot password=pw host=db port=5432 dbname=onboarding sslmode=disable", DSN(cfg))
	assert.Equal(t, "postgres://bot:pw@db:5432/onboarding?sslmode=disable", URL(cfg))
}

func TestConnectionStringsEscapeSecrets(t *testing.T) {
	cfg := Config{User: "bot", Password: `p@ss w'/rd`, Host: "db", Port: "5432", Name: "onboarding", SSLMode: "require"}
	assert.Equal(t, `user=bot password='p@ss w\'/rd' host=db port=5432 dbname=onboarding sslmode=require`, DSN(cfg))
	assert.Equal(t, "postgres://bot:p%40ss%20w%27%2Frd@db:5432/onboarding?sslmode=require", URL(cfg))
	assert.Contains(t, DSN(Config{}), "password=''")
}

type flakyPinger struct {
	fails int32
	calls atomic.Int32
}

func (p *flakyPinger) PingContext(context.Context) error {
	if p.calls.Add(1) <= p.fails {
		return errors.New("connection refused")
	}
	return nil
}

func TestWaitReady(t *testing.T) {
	ok := &flakyPinger{}
	require.NoError(t, waitReady(context.Background(), ok, time.Second))
	assert.Equal(t, int32(1), ok.calls.Load())

	down := &flakyPinger{fails: 1 << 20}
	err := waitReady(context.Background(), down, 50*time.Millisecond)
	assert.ErrorContains(t, err, "database not ready")
	assert.ErrorContains(t, err, "connection refused")
}
