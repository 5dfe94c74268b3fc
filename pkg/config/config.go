// Package config loads the blog monitor configuration from YAML, .env files
// and the environment, in that order of precedence (environment wins).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	configPathEnv         = "BLOG_MONITOR_CONFIG"
	databaseURLEnv        = "DATABASE_URL"
	databaseDriverEnv     = "DATABASE_DRIVER"
	anthropicKeyEnv       = "ANTHROPIC_API_KEY"
	openAIKeyEnv          = "OPENAI_API_KEY"
	inferenceProviderEnv  = "INFERENCE_PROVIDER"
	inferenceModelEnv     = "INFERENCE_MODEL"
	smtpHostEnv           = "SMTP_HOST"
	smtpPortEnv           = "SMTP_PORT"
	smtpUserEnv           = "SMTP_USER"
	smtpPasswordEnv       = "SMTP_PASSWORD"
	alertEmailEnv         = "ALERT_EMAIL"
	redisAddrEnv          = "REDIS_ADDR"
	maxWorkersEnv         = "MAX_WORKERS"
	checkIntervalHoursEnv = "CHECK_INTERVAL_HOURS"
	logLevelEnv           = "LOG_LEVEL"
)

// Config holds every setting of the application.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Inference InferenceConfig `yaml:"inference"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Lifecycle LifecycleConfig `yaml:"lifecycle"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Lock      LockConfig      `yaml:"lock"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DatabaseConfig selects the store backend.
type DatabaseConfig struct {
	Driver           string        `yaml:"driver"` // postgres, supabase or sqlite
	DSN              string        `yaml:"dsn"`
	SupabaseURL      string        `yaml:"supabase_url"`
	SupabaseKey      string        `yaml:"supabase_key"`
	SupabasePassword string        `yaml:"supabase_password"`
	MaxOpenConns     int           `yaml:"max_open_conns"`
	MaxIdleConns     int           `yaml:"max_idle_conns"`
	ConnMaxIdle      time.Duration `yaml:"conn_max_idle"`
	ConnMaxLife      time.Duration `yaml:"conn_max_life"`
}

// FetchConfig controls page downloads.
type FetchConfig struct {
	Client     string        `yaml:"client"` // browser or cloudflare
	UserAgent  string        `yaml:"user_agent"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// InferenceConfig selects and tunes the LLM provider.
type InferenceConfig struct {
	Provider          string        `yaml:"provider"` // anthropic or openai
	Model             string        `yaml:"model"`
	APIKey            string        `yaml:"api_key"`
	Endpoint          string        `yaml:"endpoint"`
	MaxTokens         int           `yaml:"max_tokens"`
	MaxRetries        int           `yaml:"max_retries"`
	RetryDelay        time.Duration `yaml:"retry_delay"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Timeout           time.Duration `yaml:"timeout"`
}

type IngestConfig struct {
	MaxWorkers    int           `yaml:"max_workers"`
	TaskTimeout   time.Duration `yaml:"task_timeout"`
	MinTextLength int           `yaml:"min_text_length"`
}

type LifecycleConfig struct {
	MaxRefinements int           `yaml:"max_refinements"`
	ConfirmWindow  time.Duration `yaml:"confirm_window"`
}

// SchedulerConfig drives periodic checks. Spec wins over IntervalHours.
type SchedulerConfig struct {
	Spec           string        `yaml:"spec"`
	IntervalHours  int           `yaml:"interval_hours"`
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	DigestSpec     string        `yaml:"digest_spec"`
}

// CheckSpec returns the cron spec for the check job.
func (s SchedulerConfig) CheckSpec() string {
	if s.Spec != "" {
		return s.Spec
	}
	return fmt.Sprintf("@every %dh", s.IntervalHours)
}

// AlertsConfig configures SMTP alert delivery. Without a host, alerts are
// only logged.
type AlertsConfig struct {
	SMTPHost     string   `yaml:"smtp_host"`
	SMTPPort     int      `yaml:"smtp_port"`
	SMTPUser     string   `yaml:"smtp_user"`
	SMTPPassword string   `yaml:"smtp_password"`
	From         string   `yaml:"from"`
	To           []string `yaml:"to"`
}

// LockConfig selects the per-source lock backend.
type LockConfig struct {
	Backend       string        `yaml:"backend"` // memory or redis
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	TTL           time.Duration `yaml:"ttl"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Database: DatabaseConfig{
			Driver:       "postgres",
			MaxOpenConns: 10,
			MaxIdleConns: 5,
			ConnMaxIdle:  5 * time.Minute,
			ConnMaxLife:  30 * time.Minute,
		},
		Fetch: FetchConfig{
			Client:     "browser",
			Timeout:    30 * time.Second,
			MaxRetries: 2,
			RetryDelay: time.Second,
		},
		Inference: InferenceConfig{
			Provider:   "anthropic",
			Model:      "claude-sonnet-4-5",
			MaxTokens:  2048,
			MaxRetries: 3,
			RetryDelay: time.Second,
			Timeout:    60 * time.Second,
		},
		Ingest: IngestConfig{
			MaxWorkers:    8,
			TaskTimeout:   120 * time.Second,
			MinTextLength: 100,
		},
		Lifecycle: LifecycleConfig{
			MaxRefinements: 3,
			ConfirmWindow:  24 * time.Hour,
		},
		Scheduler: SchedulerConfig{
			IntervalHours:  6,
			MaxAttempts:    3,
			InitialBackoff: time.Minute,
			MaxBackoff:     30 * time.Minute,
			DigestSpec:     "0 0 * * *",
		},
		Alerts: AlertsConfig{SMTPPort: 587},
		Lock: LockConfig{
			Backend: "memory",
			TTL:     30 * time.Minute,
		},
		Server:  ServerConfig{Addr: ":8080"},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads .env (if present), then the YAML file at path (or the file
// named by BLOG_MONITOR_CONFIG when path is empty), then the environment.
// A missing .env is ignored; a named config file that cannot be read is an
// error.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path == "" {
		path = os.Getenv(configPathEnv)
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() error {
	setString(&c.Database.DSN, databaseURLEnv)
	setString(&c.Database.Driver, databaseDriverEnv)
	setString(&c.Inference.Provider, inferenceProviderEnv)
	setString(&c.Inference.Model, inferenceModelEnv)
	switch c.Inference.Provider {
	case "openai":
		setString(&c.Inference.APIKey, openAIKeyEnv)
	default:
		setString(&c.Inference.APIKey, anthropicKeyEnv)
	}
	setString(&c.Alerts.SMTPHost, smtpHostEnv)
	setString(&c.Alerts.SMTPUser, smtpUserEnv)
	setString(&c.Alerts.SMTPPassword, smtpPasswordEnv)
	if v := os.Getenv(alertEmailEnv); v != "" {
		c.Alerts.To = splitList(v)
	}
	if v := os.Getenv(redisAddrEnv); v != "" {
		c.Lock.RedisAddr = v
		c.Lock.Backend = "redis"
	}
	setString(&c.Logging.Level, logLevelEnv)

	var errs []error
	errs = append(errs, setInt(&c.Alerts.SMTPPort, smtpPortEnv))
	errs = append(errs, setInt(&c.Ingest.MaxWorkers, maxWorkersEnv))
	errs = append(errs, setInt(&c.Scheduler.IntervalHours, checkIntervalHoursEnv))
	return errors.Join(errs...)
}

// ValidateDatabase checks only what is needed to open the store.
func (c Config) ValidateDatabase() error {
	var errs []error
	switch c.Database.Driver {
	case "postgres", "sqlite":
		errs = append(errs, required("database.dsn ("+databaseURLEnv+")", c.Database.DSN))
	case "supabase":
		if c.Database.DSN == "" && c.Database.SupabasePassword == "" {
			errs = append(errs, &ValidationError{Field: "database.supabase_password", Message: "is required when database.dsn is empty"})
		}
		if c.Database.DSN == "" {
			errs = append(errs, required("database.supabase_url", c.Database.SupabaseURL))
		}
	default:
		errs = append(errs, &ValidationError{Field: "database.driver", Message: "must be one of: postgres, supabase, sqlite"})
	}
	return errors.Join(errs...)
}

// Validate reports every missing or invalid setting at once.
func (c Config) Validate() error {
	errs := []error{c.ValidateDatabase()}

	switch c.Inference.Provider {
	case "anthropic":
		errs = append(errs, required("inference.api_key ("+anthropicKeyEnv+")", c.Inference.APIKey))
	case "openai":
		errs = append(errs, required("inference.api_key ("+openAIKeyEnv+")", c.Inference.APIKey))
	default:
		errs = append(errs, &ValidationError{Field: "inference.provider", Message: "must be one of: anthropic, openai"})
	}
	errs = append(errs, required("inference.model ("+inferenceModelEnv+")", c.Inference.Model))

	if c.Fetch.Client != "browser" && c.Fetch.Client != "cloudflare" {
		errs = append(errs, &ValidationError{Field: "fetch.client", Message: "must be one of: browser, cloudflare"})
	}
	if c.Ingest.MaxWorkers < 1 {
		errs = append(errs, &ValidationError{Field: "ingest.max_workers", Message: "must be at least 1"})
	}
	if c.Scheduler.Spec == "" && c.Scheduler.IntervalHours < 1 {
		errs = append(errs, &ValidationError{Field: "scheduler.interval_hours", Message: "must be at least 1"})
	}
	if c.Alerts.SMTPHost != "" {
		if len(c.Alerts.To) == 0 {
			errs = append(errs, &ValidationError{Field: "alerts.to (" + alertEmailEnv + ")", Message: "is required when smtp_host is set"})
		}
		if c.Alerts.SMTPPort < 1 || c.Alerts.SMTPPort > 65535 {
			errs = append(errs, &ValidationError{Field: "alerts.smtp_port", Message: "must be between 1 and 65535"})
		}
	}
	switch c.Lock.Backend {
	case "memory":
	case "redis":
		errs = append(errs, required("lock.redis_addr ("+redisAddrEnv+")", c.Lock.RedisAddr))
	default:
		errs = append(errs, &ValidationError{Field: "lock.backend", Message: "must be one of: memory, redis"})
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, &ValidationError{Field: "logging.level", Message: "must be one of: debug, info, warn, error"})
	}
	return errors.Join(errs...)
}

// ValidationError describes one invalid setting.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return &ValidationError{Field: field, Message: "is required"}
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return &ValidationError{Field: key, Message: fmt.Sprintf("not an integer: %q", v)}
	}
	*dst = n
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
