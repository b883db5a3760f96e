// Package config loads runtime configuration from config.yaml with
// environment variable overrides. Secrets (database password, provider API
// key) only come from the environment, never from YAML.
package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for the matching engine.
type Config struct {
	// Env names the deployment environment (local, staging, production).
	Env string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`

	// BindAddr and Port serve the health and metrics endpoints.
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8090"`

	Version string `yaml:"-"` // Set at load time, not from config.

	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Queue      QueueConfig      `yaml:"queue"`
	Cache      CacheConfig      `yaml:"cache"`
	Scoring    ScoringConfig    `yaml:"scoring"`
	Enrichment EnrichmentConfig `yaml:"enrichment"`
	Worker     WorkerConfig     `yaml:"worker"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost" validate:"required"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432" validate:"min=1,max=65535"`
	User           string `yaml:"user" env:"PGUSER" env-default:"matchengine" validate:"required"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"matchengine" validate:"required"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable" validate:"oneof=disable require verify-ca verify-full"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25" validate:"min=1"`
}

// URL returns a PostgreSQL connection URL for the pool.
func (c *DatabaseConfig) URL() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   c.Database,
	}
	q := u.Query()
	q.Set("sslmode", c.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// RedisConfig holds Redis connection configuration. Redis backs the
// cross-host sweep leases; leave Host empty on single-host deployments.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379" validate:"min=1,max=65535"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0" validate:"min=0"`
}

// QueueConfig tunes the enrichment queue.
type QueueConfig struct {
	// MaxRetries is the attempt ceiling: an item that has failed this many
	// times parks as permanently failed.
	MaxRetries int `yaml:"max_retries" env:"QUEUE_MAX_RETRIES" env-default:"3" validate:"min=1"`
	// ZombieTimeoutSeconds is how long an item may sit in processing
	// before the sweeper reclaims it.
	ZombieTimeoutSeconds int `yaml:"zombie_timeout_seconds" env:"QUEUE_ZOMBIE_TIMEOUT_SECONDS" env-default:"600" validate:"min=1"`
	// SweepIntervalMinutes schedules the zombie-recovery pass.
	SweepIntervalMinutes int `yaml:"sweep_interval_minutes" env:"QUEUE_SWEEP_INTERVAL_MINUTES" env-default:"5" validate:"min=1"`
	// RefreshIntervalMinutes schedules the stale-enrichment refresh pass.
	// Zero disables it.
	RefreshIntervalMinutes int `yaml:"refresh_interval_minutes" env:"QUEUE_REFRESH_INTERVAL_MINUTES" env-default:"60" validate:"min=0"`
	// StaleAfterHours is the enrichment age past which a deal is queued
	// for a refresh.
	StaleAfterHours int `yaml:"stale_after_hours" env:"QUEUE_STALE_AFTER_HOURS" env-default:"168" validate:"min=1"`
	// RefreshBatchSize caps how many deals one refresh pass enqueues.
	RefreshBatchSize int `yaml:"refresh_batch_size" env:"QUEUE_REFRESH_BATCH_SIZE" env-default:"100" validate:"min=1"`
}

func (c *QueueConfig) ZombieTimeout() time.Duration {
	return time.Duration(c.ZombieTimeoutSeconds) * time.Second
}

func (c *QueueConfig) StaleAfter() time.Duration {
	return time.Duration(c.StaleAfterHours) * time.Hour
}

// CacheConfig tunes the response cache.
type CacheConfig struct {
	// DefaultTTLMinutes applies to entries stored without an explicit TTL.
	DefaultTTLMinutes int `yaml:"default_ttl_minutes" env:"CACHE_DEFAULT_TTL_MINUTES" env-default:"60" validate:"min=1"`
	// SweepIntervalMinutes schedules the expired-entry eviction pass.
	SweepIntervalMinutes int `yaml:"sweep_interval_minutes" env:"CACHE_SWEEP_INTERVAL_MINUTES" env-default:"10" validate:"min=1"`
}

func (c *CacheConfig) DefaultTTL() time.Duration {
	return time.Duration(c.DefaultTTLMinutes) * time.Minute
}

// ScoringConfig points at an optional policy overlay file. An empty path
// runs the built-in defaults.
type ScoringConfig struct {
	PolicyPath string `yaml:"policy_path" env:"SCORING_POLICY_PATH" env-default:""`
}

// EnrichmentConfig configures the research provider.
type EnrichmentConfig struct {
	Endpoint    string  `yaml:"endpoint" env:"ENRICHMENT_ENDPOINT" env-default:"https://api.openai.com/v1"`
	Model       string  `yaml:"model" env:"ENRICHMENT_MODEL" env-default:"gpt-4o-mini" validate:"required"`
	APIKey      string  `yaml:"-" env:"ENRICHMENT_API_KEY"` // Secret - not in YAML
	Temperature float64 `yaml:"temperature" env:"ENRICHMENT_TEMPERATURE" env-default:"0.1" validate:"gte=0,lte=2"`
	// CacheTTLMinutes is how long provider responses stay reusable.
	CacheTTLMinutes int `yaml:"cache_ttl_minutes" env:"ENRICHMENT_CACHE_TTL_MINUTES" env-default:"1440" validate:"min=1"`
}

func (c *EnrichmentConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLMinutes) * time.Minute
}

// WorkerConfig tunes the enrichment worker loop.
type WorkerConfig struct {
	Concurrency int `yaml:"concurrency" env:"WORKER_CONCURRENCY" env-default:"4" validate:"min=1"`
	BatchSize   int `yaml:"batch_size" env:"WORKER_BATCH_SIZE" env-default:"8" validate:"min=1"`
	// PollIntervalSeconds is the sleep between polls of an empty queue.
	PollIntervalSeconds int `yaml:"poll_interval_seconds" env:"WORKER_POLL_INTERVAL_SECONDS" env-default:"5" validate:"min=1"`
}

func (c *WorkerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// Load reads configuration from the given YAML path with environment
// variable overrides, then validates it. A missing file is not an error;
// the environment and defaults carry the full configuration.
func Load(path, version string) (*Config, error) {
	cfg := &Config{Version: version}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
