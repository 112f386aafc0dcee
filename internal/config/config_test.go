package config

import (
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
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":3001", cfg.Server.Addr)
	assert.Equal(t, "https://fundgz.1234567.com.cn", cfg.Oracle.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.Oracle.Timeout)
	assert.Equal(t, "@every 30s", cfg.Poll.Cron)
	assert.Equal(t, 15, cfg.Settlement.CutoffHour)
	assert.Equal(t, "Asia/Shanghai", cfg.Settlement.Timezone)
	assert.Equal(t, 50, cfg.History.Limit)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.False(t, cfg.TelegramEnabled())
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":8080"
  allowed_origins: ["http://localhost:5173"]
oracle:
  timeout: 3s
  rate_limit: 2
poll:
  cron: "*/10 * * * * *"
settlement:
  cutoff_hour: 14
  timezone: UTC
storage:
  driver: memory
  memory_file: data/state.json
telegram:
  bot_token: from-file
  chat_id: "42"
`)
	t.Setenv("TELEGRAM_BOT_TOKEN", "from-env")
	t.Setenv("RUN_ON_START", "true")
	t.Setenv("SETTLEMENT_CUTOFF_HOUR", "16")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 3*time.Second, cfg.Oracle.Timeout)
	assert.Equal(t, 2.0, cfg.Oracle.RateLimit)
	assert.Equal(t, "*/10 * * * * *", cfg.Poll.Cron)
	assert.True(t, cfg.Poll.RunOnStart)
	assert.Equal(t, 16, cfg.Settlement.CutoffHour)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, "from-env", cfg.Telegram.BotToken)
	assert.True(t, cfg.TelegramEnabled())

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)
}

func TestLoad_BadEnv(t *testing.T) {
	t.Setenv("RUN_ON_START", "maybe")
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"cutoff out of range", func(c *Config) { c.Settlement.CutoffHour = 24 }},
		{"unknown timezone", func(c *Config) { c.Settlement.Timezone = "Mars/Olympus" }},
		{"postgres without dsn", func(c *Config) { c.Storage.Driver = "postgres" }},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "redis" }},
		{"token without chat", func(c *Config) { c.Telegram.BotToken = "x" }},
		{"negative retention", func(c *Config) { c.History.RetentionDays = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
