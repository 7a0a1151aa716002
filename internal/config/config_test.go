package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"BALANCE_TRACER_CONFIG", "HTTP_ADDR", "BALANCE_STORE", "BALANCE_TRACER_DSN",
	"BALANCE_TRACER_INFLUXDB_CONNECTION_STRING", "BALANCE_FANOUT", "BALANCE_STORE_TIMEOUT",
	"PARSE_ERROR_STATUS", "AUTH_JWT_SECRET", "LOG_LEVEL", "LOG_FORMAT", "LOG_FILE",
	"LOG_MAX_SIZE_MB", "LOG_MAX_BACKUPS", "LOG_MAX_AGE_DAYS", "LOG_COMPRESS",
	"REDIS_PASSWORD", "REDIS_DB", "SHUTDOWN_TIMEOUT",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range envKeys {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, BackendMemory, cfg.Store.Backend)
	assert.Equal(t, 8, cfg.FanOut)
	assert.Equal(t, 500, cfg.ParseErrorStatus)
	assert.Zero(t, cfg.Store.Timeout)
	assert.Empty(t, cfg.JWTSecret)
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("BALANCE_STORE", "Postgres")
	t.Setenv("BALANCE_TRACER_DSN", "postgres://localhost/balances")
	t.Setenv("BALANCE_FANOUT", "3")
	t.Setenv("BALANCE_STORE_TIMEOUT", "2s")
	t.Setenv("PARSE_ERROR_STATUS", "400")
	t.Setenv("LOG_COMPRESS", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, BackendPostgres, cfg.Store.Backend)
	assert.Equal(t, "postgres://localhost/balances", cfg.Store.DSN)
	assert.Equal(t, 3, cfg.FanOut)
	assert.Equal(t, 2*time.Second, cfg.Store.Timeout)
	assert.Equal(t, 400, cfg.ParseErrorStatus)
	assert.True(t, cfg.Log.Compress)
}

func TestLoad_LegacyConnectionString(t *testing.T) {
	clearEnv(t)
	t.Setenv("BALANCE_STORE", "redis")
	t.Setenv("BALANCE_TRACER_INFLUXDB_CONNECTION_STRING", "localhost:6379")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", cfg.Store.DSN)
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "balance.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http_addr: ":9090"
fan_out: 4
store:
  backend: sqlite
  dsn: /tmp/balances.db
  timeout: 1500ms
log:
  level: debug
  format: console
`), 0o600))
	t.Setenv("BALANCE_TRACER_CONFIG", path)
	t.Setenv("BALANCE_FANOUT", "16")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, 16, cfg.FanOut)
	assert.Equal(t, BackendSQLite, cfg.Store.Backend)
	assert.Equal(t, 1500*time.Millisecond, cfg.Store.Timeout)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoad_ValidationErrors(t *testing.T) {
	cases := map[string]map[string]string{
		"unknown store":     {"BALANCE_STORE": "influx"},
		"missing dsn":       {"BALANCE_STORE": "badger"},
		"bad fan-out":       {"BALANCE_FANOUT": "0"},
		"non-numeric":       {"BALANCE_FANOUT": "many"},
		"bad parse status":  {"PARSE_ERROR_STATUS": "418"},
		"bad timeout":       {"BALANCE_STORE_TIMEOUT": "soon"},
		"negative timeout":  {"BALANCE_STORE_TIMEOUT": "-1s"},
		"missing yaml file": {"BALANCE_TRACER_CONFIG": "/nonexistent/balance.yaml"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			for key, value := range env {
				t.Setenv(key, value)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
