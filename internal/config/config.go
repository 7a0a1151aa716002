package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"balance-tracer/internal/observability/logging"
)

// Store backends.
const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
	BackendBadger   = "badger"
	BackendMemory   = "memory"
)

// StoreConfig selects and connects the balance store.
type StoreConfig struct {
	Backend       string        `yaml:"backend"`
	DSN           string        `yaml:"dsn"`
	Timeout       time.Duration `yaml:"timeout"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
}

// Config is the service configuration.
type Config struct {
	HTTPAddr         string         `yaml:"http_addr"`
	ShutdownTimeout  time.Duration  `yaml:"shutdown_timeout"`
	Store            StoreConfig    `yaml:"store"`
	FanOut           int            `yaml:"fan_out"`
	ParseErrorStatus int            `yaml:"parse_error_status"`
	JWTSecret        string         `yaml:"jwt_secret"`
	Log              logging.Config `yaml:"log"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		HTTPAddr:         ":8080",
		ShutdownTimeout:  10 * time.Second,
		Store:            StoreConfig{Backend: BackendMemory},
		FanOut:           8,
		ParseErrorStatus: 500,
		Log:              logging.Config{Level: "info", Format: "json"},
	}
}

// Load layers defaults, the YAML file named by BALANCE_TRACER_CONFIG and
// environment variables. A .env file in the working directory is loaded first
// and never overrides variables already set.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load .env: %w", err)
	}

	cfg := Default()
	if path := os.Getenv("BALANCE_TRACER_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return cfg, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.HTTPAddr = getenvDefault("HTTP_ADDR", c.HTTPAddr)
	c.Store.Backend = strings.ToLower(getenvDefault("BALANCE_STORE", c.Store.Backend))
	c.Store.DSN = getenvDefault("BALANCE_TRACER_DSN",
		getenvDefault("BALANCE_TRACER_INFLUXDB_CONNECTION_STRING", c.Store.DSN))
	c.Store.RedisPassword = getenvDefault("REDIS_PASSWORD", c.Store.RedisPassword)
	c.JWTSecret = getenvDefault("AUTH_JWT_SECRET", c.JWTSecret)
	c.Log.Level = getenvDefault("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getenvDefault("LOG_FORMAT", c.Log.Format)
	c.Log.File = getenvDefault("LOG_FILE", c.Log.File)

	var err error
	if c.FanOut, err = getenvInt("BALANCE_FANOUT", c.FanOut); err != nil {
		return err
	}
	if c.ParseErrorStatus, err = getenvInt("PARSE_ERROR_STATUS", c.ParseErrorStatus); err != nil {
		return err
	}
	if c.Store.RedisDB, err = getenvInt("REDIS_DB", c.Store.RedisDB); err != nil {
		return err
	}
	if c.Log.MaxSizeMB, err = getenvInt("LOG_MAX_SIZE_MB", c.Log.MaxSizeMB); err != nil {
		return err
	}
	if c.Log.MaxBackups, err = getenvInt("LOG_MAX_BACKUPS", c.Log.MaxBackups); err != nil {
		return err
	}
	if c.Log.MaxAgeDays, err = getenvInt("LOG_MAX_AGE_DAYS", c.Log.MaxAgeDays); err != nil {
		return err
	}
	if c.Log.Compress, err = getenvBool("LOG_COMPRESS", c.Log.Compress); err != nil {
		return err
	}
	if c.Store.Timeout, err = getenvDuration("BALANCE_STORE_TIMEOUT", c.Store.Timeout); err != nil {
		return err
	}
	if c.ShutdownTimeout, err = getenvDuration("SHUTDOWN_TIMEOUT", c.ShutdownTimeout); err != nil {
		return err
	}
	return nil
}

// Validate checks the configuration before startup.
func (c Config) Validate() error {
	if c.HTTPAddr == "" {
		return errors.New("config: HTTP_ADDR is required")
	}
	switch c.Store.Backend {
	case BackendMemory:
	case BackendPostgres, BackendSQLite, BackendRedis, BackendBadger:
		if c.Store.DSN == "" {
			return fmt.Errorf("config: BALANCE_TRACER_DSN is required for store %q", c.Store.Backend)
		}
	default:
		return fmt.Errorf("config: unknown BALANCE_STORE %q", c.Store.Backend)
	}
	if c.FanOut <= 0 {
		return fmt.Errorf("config: BALANCE_FANOUT must be positive, got %d", c.FanOut)
	}
	if c.ParseErrorStatus != 400 && c.ParseErrorStatus != 500 {
		return fmt.Errorf("config: PARSE_ERROR_STATUS must be 400 or 500, got %d", c.ParseErrorStatus)
	}
	if c.Store.Timeout < 0 {
		return errors.New("config: BALANCE_STORE_TIMEOUT must not be negative")
	}
	return nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback, fmt.Errorf("config: %s: %w", key, err)
	}
	return parsed, nil
}

func getenvBool(key string, fallback bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fallback, fmt.Errorf("config: %s: %w", key, err)
	}
	return parsed, nil
}

func getenvDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback, fmt.Errorf("config: %s: %w", key, err)
	}
	return parsed, nil
}
