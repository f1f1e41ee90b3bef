package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()
	require.NoError(t, cfg.Validate())

	sources := cfg.GetEnabledSources()
	require.Len(t, sources, 1)
	assert.Equal(t, "myscheme-api", sources[0].Name)
	assert.Equal(t, KindAPI, sources[0].Kind)
	assert.Equal(t, 100, sources[0].PageSize)
	assert.Equal(t, DefaultAPIFields, sources[0].Fields)
	assert.Equal(t, cfg.Aggregator.FetchTimeout, sources[0].Timeout)
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
store:
  driver: sqlite
  path: /tmp/test.db
aggregator:
  base_delay: 250ms
  rate_limit_cooldown: 1m
  empty_page_limit: 5
sources:
  - name: portal
    kind: html
    url: https://portal.test/schemes?page={page}
    enabled: true
    strategies:
      - type: keyword
        values: [pension]
  - name: disabled
    url: https://other.test/api
logging:
  level: debug
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "/tmp/test.db", cfg.Store.DSN())
	assert.Equal(t, 250*time.Millisecond, cfg.Aggregator.BaseDelay)
	assert.Equal(t, time.Minute, cfg.Aggregator.RateLimitCooldown)
	assert.Equal(t, 5, cfg.Aggregator.EmptyPageLimit)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 8080, cfg.Server.Port, "untouched defaults survive")

	require.Len(t, cfg.Sources, 2, "file sources replace the built-in ones")
	enabled := cfg.GetEnabledSources()
	require.Len(t, enabled, 1)
	assert.Equal(t, DefaultContainers, enabled[0].Containers)
	assert.Equal(t, 1, enabled[0].StartPage)
	assert.Equal(t, KindAPI, cfg.Sources[1].Kind)
	assert.Equal(t, []StrategyConfig{{Type: StrategyPaginate}}, cfg.Sources[1].Strategies)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/schemes")
	t.Setenv("SP_SERVER_PORT", "9999")
	t.Setenv("SP_BROADCAST_TRANSPORTS", "log,redis")
	t.Setenv("SP_TELEGRAM_CHAT_ID", "12345")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "postgres://u:p@db:5432/schemes", cfg.Store.DSN())
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, []string{"log", "redis"}, cfg.Broadcast.Transports)
	assert.Equal(t, int64(12345), cfg.Telegram.ChatID)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   error
	}{
		{"no enabled sources", func(c *Config) { c.Sources[0].Enabled = false }, ErrNoSources},
		{"missing name", func(c *Config) { c.Sources[0].Name = "" }, ErrSourceMissingName},
		{"missing url", func(c *Config) { c.Sources[0].URL = "" }, ErrSourceMissingURL},
		{"bad kind", func(c *Config) { c.Sources[0].Kind = "ftp" }, ErrInvalidSourceKind},
		{"bad strategy", func(c *Config) { c.Sources[0].Strategies = []StrategyConfig{{Type: "random"}} }, ErrInvalidStrategy},
		{"strategy without values", func(c *Config) { c.Sources[0].Strategies = []StrategyConfig{{Type: StrategyState}} }, ErrStrategyNoValues},
		{"bad driver", func(c *Config) { c.Store.Driver = "mongo" }, ErrInvalidStoreDriver},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, ErrInvalidLogLevel},
		{"bad transport", func(c *Config) { c.Broadcast.Transports = []string{"carrier-pigeon"} }, ErrInvalidTransport},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestDelayForPage(t *testing.T) {
	a := AggregatorConfig{BaseDelay: time.Second, DelayStep: 100 * time.Millisecond, MaxDelay: 1500 * time.Millisecond}
	assert.Equal(t, time.Second, a.DelayForPage(0))
	assert.Equal(t, 1300*time.Millisecond, a.DelayForPage(3))
	assert.Equal(t, 1500*time.Millisecond, a.DelayForPage(50))

	unbounded := AggregatorConfig{BaseDelay: time.Second, DelayStep: time.Second}
	assert.Equal(t, 11*time.Second, unbounded.DelayForPage(10))
}

func TestStoreDSN(t *testing.T) {
	s := StoreConfig{Driver: "postgres", Host: "h", Port: 5432, User: "u", Password: "p", Database: "d", SSLMode: "disable"}
	assert.Equal(t, "host=h port=5432 user=u password=p dbname=d sslmode=disable", s.DSN())
}
