package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// TelegramConfig holds Telegram bot related settings.
type TelegramConfig struct {
	Token   string `yaml:"token" envconfig:"BOT_TOKEN"`
	AdminID int64  `yaml:"admin_id" envconfig:"TELEGRAM_ADMIN_ID"`
	RunMode string `yaml:"run_mode" envconfig:"TELEGRAM_RUN_MODE"`
	// LongPollTimeoutSeconds defines long polling timeout; 0 -> default
	LongPollTimeoutSeconds int `yaml:"longpoll_timeout_seconds" envconfig:"TELEGRAM_LONGPOLL_TIMEOUT_SECONDS"`
}

// WebhookConfig specifies webhook settings.
// URL is the public base URL; the bot token is appended as the callback path.
type WebhookConfig struct {
	URL    string `yaml:"url" envconfig:"APP_URL"`
	Listen string `yaml:"listen" envconfig:"WEBHOOK_LISTEN"`
	Port   int    `yaml:"port" envconfig:"PORT"`
	Secret string `yaml:"secret" envconfig:"WEBHOOK_SECRET"`
}

// LoggingConfig defines logging related configuration.
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LOG_LEVEL"`
	Format      string `yaml:"format" envconfig:"LOG_FORMAT"`
	KeysOrder   string `yaml:"keys_order"`
	DebugSample string `yaml:"debug_sample"`
	Dir         string `yaml:"dir" envconfig:"LOG_DIR"`
	BotFile     string `yaml:"bot_file" envconfig:"LOG_FILE"`
	// Profile indicates environment profile such as "debug" or "prod".
	Profile string `yaml:"profile" envconfig:"LOG_PROFILE"`
}

// SinkConfig selects and authenticates the record sink.
type SinkConfig struct {
	Kind string `yaml:"kind" envconfig:"SINK_KIND"`
	// Attempts bounds the number of append tries per flush.
	Attempts  int `yaml:"attempts" envconfig:"SINK_ATTEMPTS"`
	BackoffMS int `yaml:"backoff_ms" envconfig:"SINK_BACKOFF_MS"`
}

// SheetsConfig holds Google Sheets target and credentials.
type SheetsConfig struct {
	SpreadsheetID   string `yaml:"spreadsheet_id" envconfig:"SPREADSHEET_ID"`
	CredentialsJSON string `yaml:"credentials_json" envconfig:"GOOGLE_CREDS_JSON_CONTENT"`
	SheetName       string `yaml:"sheet_name" envconfig:"SHEET_NAME"`
}

// DatabaseConfig holds PostgreSQL connection settings for the postgres record sink.
type DatabaseConfig struct {
	Host           string `yaml:"host" envconfig:"DB_HOST"`
	Port           string `yaml:"port" envconfig:"DB_PORT"`
	User           string `yaml:"user" envconfig:"DB_USER"`
	Password       string `yaml:"password" envconfig:"DB_PASSWORD"`
	Name           string `yaml:"name" envconfig:"DB_NAME"`
	SSLMode        string `yaml:"sslmode" envconfig:"DB_SSLMODE"`
	MaxConnections int    `yaml:"max_connections" envconfig:"DB_MAX_CONNECTIONS"`
	// MigrationsDir points at the *.up.sql files; defaults to ./migrations.
	MigrationsDir string `yaml:"migrations_dir" envconfig:"DB_MIGRATIONS_DIR"`
}

// SessionConfig controls the session store backend and idle expiry.
type SessionConfig struct {
	Backend       string        `yaml:"backend" envconfig:"SESSION_BACKEND"`
	IdleTTL       time.Duration `yaml:"idle_ttl" envconfig:"SESSION_IDLE_TTL"`
	SweepSchedule string        `yaml:"sweep_schedule" envconfig:"SWEEP_SCHEDULE"`
	RedisAddr     string        `yaml:"redis_addr" envconfig:"REDIS_ADDR"`
	RedisPassword string        `yaml:"redis_password" envconfig:"REDIS_PASSWORD"`
	RedisDB       int           `yaml:"redis_db" envconfig:"REDIS_DB"`
	RedisPrefix   string        `yaml:"redis_prefix" envconfig:"REDIS_PREFIX"`
}

// OnboardingConfig carries user-facing options of the questionnaire.
type OnboardingConfig struct {
	HRUsername         string `yaml:"hr_username" envconfig:"HR_TELEGRAM_USERNAME"`
	ImageURL           string `yaml:"image_url" envconfig:"ONBOARDING_IMAGE_URL"`
	EmployeeCodePrefix string `yaml:"employee_code_prefix" envconfig:"EMPLOYEE_CODE_PREFIX"`
	ScriptPath         string `yaml:"script_path" envconfig:"SCRIPT_PATH"`
}

// MetricsConfig configures the Prometheus endpoint. Empty Listen disables it.
type MetricsConfig struct {
	Listen string `yaml:"listen" envconfig:"METRICS_LISTEN"`
}

const (
	// RunModeWebhook selects webhook mode for Telegram updates.
	RunModeWebhook = "webhook"
	// RunModeLongpoll selects long-polling mode for Telegram updates.
	RunModeLongpoll = "longpoll"
)

const (
	// SinkSheets appends records to a Google spreadsheet.
	SinkSheets = "sheets"
	// SinkPostgres inserts records into a PostgreSQL table.
	SinkPostgres = "postgres"

	// SessionMemory keeps sessions in process memory.
	SessionMemory = "memory"
	// SessionRedis keeps sessions in Redis.
	SessionRedis = "redis"
)

const (
	// UpdateCallback identifies callback updates for rate limit exclusions.
	UpdateCallback = "callback"
	// UpdateMessage identifies message updates for rate limit exclusions.
	UpdateMessage = "message"
)

// RateLimitConfig holds settings for per-user rate limiting.
// ExcludeUpdates accepts update types to bypass limiting:
// - "callback": Telegram callback button presses
// - "message": standard text messages
type RateLimitConfig struct {
	IntervalMS     int      `yaml:"interval_ms" envconfig:"RATE_LIMIT_INTERVAL_MS"`
	Burst          int      `yaml:"burst" envconfig:"RATE_LIMIT_BURST"`
	ExcludeUpdates []string `yaml:"exclude_updates" envconfig:"RATE_LIMIT_EXCLUDE_UPDATES"`
}

// Config aggregates the service configuration.
type Config struct {
	Telegram   TelegramConfig   `yaml:"telegram"`
	Webhook    WebhookConfig    `yaml:"webhook"`
	Logging    LoggingConfig    `yaml:"logging"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Sink       SinkConfig       `yaml:"sink"`
	Sheets     SheetsConfig     `yaml:"sheets"`
	Database   DatabaseConfig   `yaml:"database"`
	Session    SessionConfig    `yaml:"session"`
	Onboarding OnboardingConfig `yaml:"onboarding"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// Load reads configuration from an optional YAML file and environment variables.
// An empty path or a missing file means environment-only configuration.
func Load(path string) (*Config, error) {
	var cfg Config

	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("failed to parse YAML config: %w", err)
			}
		}
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}

	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize performs validation of required configuration fields and adjusts defaults.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return fmt.Errorf("telegram token is required (BOT_TOKEN)")
	}

	if err := normalizeTransport(cfg); err != nil {
		return err
	}
	if err := normalizeSink(cfg); err != nil {
		return err
	}
	if err := normalizeSession(cfg); err != nil {
		return err
	}

	if strings.TrimSpace(cfg.Onboarding.EmployeeCodePrefix) == "" {
		cfg.Onboarding.EmployeeCodePrefix = "EMP"
	}
	cfg.Onboarding.HRUsername = strings.TrimPrefix(strings.TrimSpace(cfg.Onboarding.HRUsername), "@")

	allowed := map[string]struct{}{
		UpdateCallback: {},
		UpdateMessage:  {},
	}
	for i, v := range cfg.RateLimit.ExcludeUpdates {
		key := strings.ToLower(strings.TrimSpace(v))
		if key == "" {
			continue
		}
		if _, ok := allowed[key]; !ok {
			return fmt.Errorf("invalid rate_limit.exclude_updates value %q; allowed: callback, message", v)
		}
		cfg.RateLimit.ExcludeUpdates[i] = key
	}
	if cfg.RateLimit.IntervalMS < 0 {
		return fmt.Errorf("rate_limit.interval_ms must be >= 0")
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 1
	}
	return nil
}

func normalizeTransport(cfg *Config) error {
	rm := strings.ToLower(strings.TrimSpace(cfg.Telegram.RunMode))
	if rm == "" {
		rm = RunModeLongpoll
		if strings.TrimSpace(cfg.Webhook.URL) != "" {
			rm = RunModeWebhook
		}
	}
	if rm == "polling" { // accept alias
		rm = RunModeLongpoll
	}
	switch rm {
	case RunModeWebhook:
		if strings.TrimSpace(cfg.Webhook.URL) == "" {
			return fmt.Errorf("webhook.url (APP_URL) is required when telegram.run_mode is 'webhook'")
		}
		cfg.Webhook.URL = strings.TrimRight(strings.TrimSpace(cfg.Webhook.URL), "/")
		if strings.TrimSpace(cfg.Webhook.Listen) == "" {
			cfg.Webhook.Listen = "0.0.0.0"
		}
		if cfg.Webhook.Port == 0 {
			cfg.Webhook.Port = 8080
		}
		if cfg.Webhook.Port < 0 {
			return fmt.Errorf("webhook.port must be > 0 when telegram.run_mode is 'webhook'")
		}
	case RunModeLongpoll:
		if cfg.Telegram.LongPollTimeoutSeconds < 0 {
			return fmt.Errorf("telegram.longpoll_timeout_seconds must be >= 0")
		}
	default:
		return fmt.Errorf("invalid telegram.run_mode %q; allowed: webhook, longpoll", cfg.Telegram.RunMode)
	}
	cfg.Telegram.RunMode = rm
	return nil
}

func normalizeSink(cfg *Config) error {
	kind := strings.ToLower(strings.TrimSpace(cfg.Sink.Kind))
	if kind == "" {
		kind = SinkSheets
	}
	switch kind {
	case SinkSheets:
		if strings.TrimSpace(cfg.Sheets.SpreadsheetID) == "" {
			return fmt.Errorf("sheets.spreadsheet_id (SPREADSHEET_ID) is required for the sheets sink")
		}
		creds := strings.TrimSpace(cfg.Sheets.CredentialsJSON)
		if creds == "" {
			return fmt.Errorf("sheets.credentials_json (GOOGLE_CREDS_JSON_CONTENT) is required for the sheets sink")
		}
		if !json.Valid([]byte(creds)) {
			return fmt.Errorf("sheets.credentials_json must be valid JSON")
		}
		if strings.TrimSpace(cfg.Sheets.SheetName) == "" {
			cfg.Sheets.SheetName = "Sheet1"
		}
	case SinkPostgres:
		if strings.TrimSpace(cfg.Database.Host) == "" || strings.TrimSpace(cfg.Database.Name) == "" {
			return fmt.Errorf("database.host and database.name are required for the postgres sink")
		}
		if cfg.Database.Port == "" {
			cfg.Database.Port = "5432"
		}
		if cfg.Database.SSLMode == "" {
			cfg.Database.SSLMode = "disable"
		}
		if cfg.Database.MaxConnections <= 0 {
			cfg.Database.MaxConnections = 5
		}
	default:
		return fmt.Errorf("invalid sink.kind %q; allowed: sheets, postgres", cfg.Sink.Kind)
	}
	cfg.Sink.Kind = kind

	if cfg.Sink.Attempts <= 0 {
		cfg.Sink.Attempts = 3
	}
	if cfg.Sink.BackoffMS < 0 {
		return fmt.Errorf("sink.backoff_ms must be >= 0")
	}
	if cfg.Sink.BackoffMS == 0 {
		cfg.Sink.BackoffMS = 500
	}
	return nil
}

func normalizeSession(cfg *Config) error {
	backend := strings.ToLower(strings.TrimSpace(cfg.Session.Backend))
	if backend == "" {
		backend = SessionMemory
	}
	switch backend {
	case SessionMemory:
	case SessionRedis:
		if strings.TrimSpace(cfg.Session.RedisAddr) == "" {
			return fmt.Errorf("session.redis_addr (REDIS_ADDR) is required for the redis session backend")
		}
	default:
		return fmt.Errorf("invalid session.backend %q; allowed: memory, redis", cfg.Session.Backend)
	}
	cfg.Session.Backend = backend
	if cfg.Session.IdleTTL < 0 {
		return fmt.Errorf("session.idle_ttl must be >= 0")
	}
	if strings.TrimSpace(cfg.Session.SweepSchedule) == "" {
		cfg.Session.SweepSchedule = "@every 1m"
	}
	return nil
}

// WebhookPublicURL returns the callback URL registered with Telegram.
func (c *Config) WebhookPublicURL() string {
	if c == nil || c.Webhook.URL == "" {
		return ""
	}
	return c.Webhook.URL + "/" + c.Telegram.Token
}

// SinkBackoff returns the configured delay between append attempts.
func (c *Config) SinkBackoff() time.Duration {
	return time.Duration(c.Sink.BackoffMS) * time.Millisecond
}
