package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/goliatone/go-credentials/migrations"
)

type serverConfig struct {
	Host               string        `env:"HOST" envDefault:"127.0.0.1"`
	Port               int           `env:"PORT" envDefault:"8080"`
	DatabaseURL        string        `env:"DATABASE_URL" envDefault:"file:credentials.db?cache=shared&_foreign_keys=on"`
	DatabaseDebug      bool          `env:"CREDENTIALS_DB_DEBUG"`
	SecretKey          string        `env:"SECRET_KEY"`
	PreviousSecretKeys []string      `env:"CREDENTIALS_PREVIOUS_SECRET_KEYS" envSeparator:","`
	AllowPartialKinds  bool          `env:"CREDENTIALS_ALLOW_PARTIAL_KINDS"`
	SweepInterval      time.Duration `env:"CREDENTIALS_SWEEP_INTERVAL" envDefault:"1m"`
	CacheTTL           time.Duration `env:"CREDENTIALS_WORKSPACE_CACHE_TTL" envDefault:"10m"`
	ShutdownTimeout    time.Duration `env:"CREDENTIALS_SHUTDOWN_TIMEOUT" envDefault:"15s"`
	LogLevel           string        `env:"CREDENTIALS_LOG_LEVEL" envDefault:"info"`

	JobQueue                 string        `env:"CREDENTIALS_JOB_QUEUE" envDefault:"sql"`
	RefreshMaxAttempts       int           `env:"CREDENTIALS_REFRESH_MAX_ATTEMPTS" envDefault:"5"`
	RefreshMaxDelay          time.Duration `env:"CREDENTIALS_REFRESH_MAX_DELAY" envDefault:"10m"`
	RefreshVisibilityTimeout time.Duration `env:"CREDENTIALS_REFRESH_VISIBILITY_TIMEOUT" envDefault:"1m"`
}

const (
	jobQueueSQL    = "sql"
	jobQueueMemory = "memory"
)

// parseConfig reads environ, or the process environment when environ is nil.
func parseConfig(environ map[string]string) (serverConfig, error) {
	var cfg serverConfig
	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return serverConfig{}, fmt.Errorf("parse environment: %w", err)
	}
	if strings.TrimSpace(cfg.SecretKey) == "" {
		return serverConfig{}, fmt.Errorf("SECRET_KEY is required")
	}
	cfg.JobQueue = strings.ToLower(strings.TrimSpace(cfg.JobQueue))
	if cfg.JobQueue != jobQueueSQL && cfg.JobQueue != jobQueueMemory {
		return serverConfig{}, fmt.Errorf("CREDENTIALS_JOB_QUEUE must be %q or %q, got %q", jobQueueSQL, jobQueueMemory, cfg.JobQueue)
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return serverConfig{}, fmt.Errorf("PORT must be between 1 and 65535, got %d", cfg.Port)
	}
	return cfg, nil
}

func (c serverConfig) addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type databaseTarget struct {
	Driver  string
	DSN     string
	Dialect string
}

// database picks the driver from the DATABASE_URL scheme. Anything that is
// not a postgres URL is handed to sqlite.
func (c serverConfig) database() databaseTarget {
	dsn := strings.TrimSpace(c.DatabaseURL)
	lower := strings.ToLower(dsn)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return newDatabaseTarget("postgres", dsn)
	}
	dsn = strings.TrimPrefix(dsn, "sqlite://")
	dsn = strings.TrimPrefix(dsn, "sqlite3://")
	return newDatabaseTarget("sqlite3", dsn)
}

func newDatabaseTarget(driver string, dsn string) databaseTarget {
	dialect, _ := migrations.DialectForDriver(driver)
	return databaseTarget{Driver: driver, DSN: dsn, Dialect: dialect}
}

// persistenceConfig satisfies the go-persistence-bun client config.
type persistenceConfig struct {
	debug  bool
	driver string
	server string
}

func (c persistenceConfig) GetDebug() bool {
	return c.debug
}

func (c persistenceConfig) GetDriver() string {
	return c.driver
}

func (c persistenceConfig) GetServer() string {
	return c.server
}

func (c persistenceConfig) GetPingTimeout() time.Duration {
	return 5 * time.Second
}

func (c persistenceConfig) GetOtelIdentifier() string {
	return "go-credentials"
}
