package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/kelseyhightower/envconfig"

	"github.com/odyssey-erp/closeflow/internal/platform/cache"
	"github.com/odyssey-erp/closeflow/internal/platform/db"
)

// Prefs drivers.
const (
	PrefsMemory   = "memory"
	PrefsRedis    = "redis"
	PrefsPostgres = "postgres"
)

// Config holds runtime configuration for the application.
type Config struct {
	AppEnv            string        `envconfig:"APP_ENV" default:"development"`
	AppAddr           string        `envconfig:"APP_ADDR" default:":8080"`
	AppReadTimeout    time.Duration `envconfig:"APP_READ_TIMEOUT" default:"15s"`
	AppWriteTimeout   time.Duration `envconfig:"APP_WRITE_TIMEOUT" default:"0s"`
	AppRequestTimeout time.Duration `envconfig:"APP_REQUEST_TIMEOUT" default:"30s"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	BackendURL     string        `envconfig:"BACKEND_URL" default:"http://127.0.0.1:8000"`
	BackendTimeout time.Duration `envconfig:"BACKEND_TIMEOUT" default:"30s"`

	ReportingCurrencies []string `envconfig:"REPORTING_CURRENCIES" default:"USD,INR"`

	PrefsDriver string        `envconfig:"PREFS_DRIVER" default:"redis"`
	PrefsTTL    time.Duration `envconfig:"PREFS_TTL" default:"2160h"`

	PGDSN      string `envconfig:"PG_DSN"`
	PGMaxConns int32  `envconfig:"PG_MAX_CONNS" default:"4"`

	RedisAddr     string `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	ClientCookie    string        `envconfig:"CLIENT_COOKIE" default:"closeflow_client"`
	ClientCookieTTL time.Duration `envconfig:"CLIENT_COOKIE_TTL" default:"8760h"`

	DeleteTokenTTL time.Duration `envconfig:"DELETE_TOKEN_TTL" default:"2m"`
	WorkspaceIdle  time.Duration `envconfig:"WORKSPACE_IDLE" default:"2h"`

	ReadinessInterval time.Duration `envconfig:"READINESS_INTERVAL" default:"10s"`

	AsyncGeneration   bool   `envconfig:"ASYNC_GENERATION" default:"false"`
	WorkerConcurrency int    `envconfig:"WORKER_CONCURRENCY" default:"5"`
	BackendPingCron   string `envconfig:"BACKEND_PING_CRON" default:"*/5 * * * *"`
	WorkerMetricsAddr string `envconfig:"WORKER_METRICS_ADDR"`
	MaxUploadBytes    int64  `envconfig:"MAX_UPLOAD_BYTES" default:"26214400"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.BackendURL) == "" {
		return errors.New("backend url must be provided")
	}
	switch c.PrefsDriver {
	case PrefsMemory, PrefsRedis:
	case PrefsPostgres:
		if c.PGDSN == "" {
			return errors.New("PG_DSN must be provided for the postgres prefs driver")
		}
	default:
		return fmt.Errorf("unknown prefs driver %q", c.PrefsDriver)
	}
	for i, code := range c.ReportingCurrencies {
		code = strings.ToUpper(strings.TrimSpace(code))
		if len(code) != 3 {
			return fmt.Errorf("invalid reporting currency %q", code)
		}
		c.ReportingCurrencies[i] = code
	}
	return nil
}

// Redis returns the shared Redis connection options.
func (c *Config) Redis() cache.Options {
	return cache.Options{Addr: c.RedisAddr, Password: c.RedisPassword, DB: c.RedisDB}
}

// QueueRedis returns the same Redis instance in asynq's terms.
func (c *Config) QueueRedis() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: c.RedisAddr, Password: c.RedisPassword, DB: c.RedisDB}
}

// Postgres returns the pool options of the postgres prefs driver.
func (c *Config) Postgres() db.Options {
	return db.Options{DSN: c.PGDSN, MaxConns: c.PGMaxConns}
}

// IsProduction returns true when the application runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}
