package database

import (
	"net"
	"net/url"
	"strings"

	coreconfig "github.com/m3rciful/onboardbot/core/config"
)

// Config holds database connection settings.
type Config = coreconfig.DatabaseConfig

// DSN returns the lib/pq keyword/value connection string. Values are quoted
// when they contain spaces, quotes or backslashes.
func DSN(cfg Config) string {
	pairs := [][2]string{
		{"user", cfg.User},
		{"password", cfg.Password},
		{"host", cfg.Host},
		{"port", cfg.Port},
		{"dbname", cfg.Name},
		{"sslmode", cfg.SSLMode},
	}
	parts := make([]string, 0, len(pairs))
	for _, kv := range pairs {
		parts = append(parts, kv[0]+"="+quoteDSN(kv[1]))
	}
	return strings.Join(parts, " ")
}

func quoteDSN(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}

// URL returns the postgres:// form used by golang-migrate.
func URL(cfg Config) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     net.JoinHostPort(cfg.Host, cfg.Port),
		Path:     "/" + cfg.Name,
		RawQuery: url.Values{"sslmode": {cfg.SSLMode}}.Encode(),
	}
	return u.String()
}
