/*
Package config reads ledger settings from the environment.

SOURCES:
  An optional .env file (joho/godotenv) is loaded first; variables already
  set in the environment win. Every key has a default except DATABASE_URL
  and REDIS_ADDRESS, which are required only by the backends that use them.

KEYS:
  LEDGER_STORE            memory | sqlite | postgres       (sqlite)
  LEDGER_SQLITE_PATH      SQLite file, or ":memory:"       (ledger.db)
  DATABASE_URL            PostgreSQL connection string
  LEDGER_NEGATIVE_STOCK   reject | allow                    (reject)
  LEDGER_LOCK_BACKEND     local | redis                     (local)
  REDIS_ADDRESS           host:port of Redis
  LEDGER_LOCK_ATTEMPTS    lock retries per key              (50)
  LEDGER_LOCK_BACKOFF     linear backoff step               (10ms)
  LEDGER_MAX_ATTEMPTS     retries on concurrent modification (3)
  DRAWER_CRON_SCHEDULE    when drawers are opened           (5 0 * * *)
  TIMEZONE                business-date location            (UTC)
  LOG_LEVEL, LOG_FORMAT, LOG_TIME_FORMAT, LOG_OUTPUT
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/warp/stock-ledger/ledger"
	"github.com/warp/stock-ledger/logger"
)

// Config represents the full application configuration surface.
type Config struct {
	Store     StoreConfig
	Ledger    LedgerConfig
	Lock      LockConfig
	Scheduler SchedulerConfig
	Log       logger.LogConfig
}

type StoreConfig struct {
	Backend     string
	SQLitePath  string
	DatabaseURL string
}

type LedgerConfig struct {
	NegativeStock ledger.NegativeStockPolicy
	MaxAttempts   int
	Timezone      string
}

type LockConfig struct {
	Backend      string
	RedisAddress string
	Attempts     int
	Backoff      time.Duration
}

type SchedulerConfig struct {
	CronSchedule string
}

// Load reads environment variables (optionally from the provided file) and
// materializes a Config instance.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed loading env file %s: %w", envFile, err)
		}
	} else {
		// a missing .env is fine
		_ = godotenv.Load()
	}

	attempts, err := getIntEnv("LEDGER_LOCK_ATTEMPTS", ledger.DefaultLockAttempts)
	if err != nil {
		return nil, err
	}
	backoff, err := getDurationEnv("LEDGER_LOCK_BACKOFF", ledger.DefaultLockBackoff)
	if err != nil {
		return nil, err
	}
	maxAttempts, err := getIntEnv("LEDGER_MAX_ATTEMPTS", ledger.DefaultMaxAttempts)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Store: StoreConfig{
			Backend:     getEnv("LEDGER_STORE", "sqlite"),
			SQLitePath:  getEnv("LEDGER_SQLITE_PATH", "ledger.db"),
			DatabaseURL: os.Getenv("DATABASE_URL"),
		},
		Ledger: LedgerConfig{
			NegativeStock: ledger.NegativeStockPolicy(getEnv("LEDGER_NEGATIVE_STOCK", string(ledger.NegativeStockReject))),
			MaxAttempts:   maxAttempts,
			Timezone:      getEnv("TIMEZONE", "UTC"),
		},
		Lock: LockConfig{
			Backend:      getEnv("LEDGER_LOCK_BACKEND", "local"),
			RedisAddress: os.Getenv("REDIS_ADDRESS"),
			Attempts:     attempts,
			Backoff:      backoff,
		},
		Scheduler: SchedulerConfig{
			CronSchedule: getEnv("DRAWER_CRON_SCHEDULE", "5 0 * * *"),
		},
		Log: logger.LogConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			Format:     getEnv("LOG_FORMAT", "console"),
			TimeFormat: getEnv("LOG_TIME_FORMAT", time.RFC3339),
			Output:     getEnv("LOG_OUTPUT", "stderr"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures that required configuration fields are populated.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	switch c.Store.Backend {
	case "memory":
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return errors.New("LEDGER_SQLITE_PATH must not be empty")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return errors.New("DATABASE_URL must be provided for the postgres store")
		}
	default:
		return fmt.Errorf("LEDGER_STORE must be memory, sqlite or postgres, got %q", c.Store.Backend)
	}

	if _, err := ledger.ParseNegativeStockPolicy(string(c.Ledger.NegativeStock)); err != nil {
		return fmt.Errorf("LEDGER_NEGATIVE_STOCK: %w", err)
	}
	if c.Ledger.MaxAttempts <= 0 {
		return errors.New("LEDGER_MAX_ATTEMPTS must be positive")
	}
	if _, err := c.Location(); err != nil {
		return err
	}

	switch c.Lock.Backend {
	case "local":
	case "redis":
		if c.Lock.RedisAddress == "" {
			return errors.New("REDIS_ADDRESS must be provided for the redis lock backend")
		}
	default:
		return fmt.Errorf("LEDGER_LOCK_BACKEND must be local or redis, got %q", c.Lock.Backend)
	}
	if c.Lock.Attempts <= 0 {
		return errors.New("LEDGER_LOCK_ATTEMPTS must be positive")
	}
	if c.Lock.Backoff <= 0 {
		return errors.New("LEDGER_LOCK_BACKOFF must be positive")
	}

	if _, err := cron.ParseStandard(c.Scheduler.CronSchedule); err != nil {
		return fmt.Errorf("DRAWER_CRON_SCHEDULE: %w", err)
	}
	return nil
}

// Location is the time zone business dates are computed in.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Ledger.Timezone)
	if err != nil {
		return nil, fmt.Errorf("TIMEZONE: %w", err)
	}
	return loc, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getIntEnv(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func getDurationEnv(key string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration: %w", key, err)
	}
	return d, nil
}
