package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

// DefaultPath is used when CONFIG_PATH is not set.
const DefaultPath = "configs/config.yaml"

// Config holds all application configuration.
type Config struct {
	Server struct {
		Addr           string   `yaml:"addr"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"server"`
	Oracle struct {
		BaseURL   string        `yaml:"base_url"`
		Timeout   time.Duration `yaml:"timeout"`
		RateLimit float64       `yaml:"rate_limit"`
		Proxy     string        `yaml:"proxy"`
	} `yaml:"oracle"`
	Poll struct {
		Cron       string `yaml:"cron"`
		RunOnStart bool   `yaml:"run_on_start"`
	} `yaml:"poll"`
	Settlement struct {
		CutoffHour int    `yaml:"cutoff_hour"`
		Timezone   string `yaml:"timezone"`
	} `yaml:"settlement"`
	History struct {
		Limit         int    `yaml:"limit"`
		RetentionDays int    `yaml:"retention_days"`
		PurgeCron     string `yaml:"purge_cron"`
	} `yaml:"history"`
	Storage struct {
		Driver      string `yaml:"driver"`
		SQLitePath  string `yaml:"sqlite_path"`
		PostgresDSN string `yaml:"postgres_dsn"`
		MemoryFile  string `yaml:"memory_file"`
	} `yaml:"storage"`
	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id"`
		// UserID is whose portfolio the /portfolio command shows.
		UserID string `yaml:"user_id"`
	} `yaml:"telegram"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// Path returns CONFIG_PATH or the default location.
func Path() string {
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		return v
	}
	return DefaultPath
}

// Load reads config from a YAML file, then applies environment variable overrides.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	cfg.Settlement.CutoffHour = -1

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("FUND_ORACLE_URL"); v != "" {
		cfg.Oracle.BaseURL = v
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" {
		cfg.Oracle.Proxy = v
	}
	if v := os.Getenv("CRON_POLL"); v != "" {
		cfg.Poll.Cron = v
	}
	if v := os.Getenv("RUN_ON_START"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("RUN_ON_START: %w", err)
		}
		cfg.Poll.RunOnStart = b
	}
	if v := os.Getenv("SETTLEMENT_CUTOFF_HOUR"); v != "" {
		h, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("SETTLEMENT_CUTOFF_HOUR: %w", err)
		}
		cfg.Settlement.CutoffHour = h
	}
	if v := os.Getenv("TZ_SETTLEMENT"); v != "" {
		cfg.Settlement.Timezone = v
	}
	if v := os.Getenv("STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Storage.PostgresDSN = v
	}
	if v := os.Getenv("MEMORY_FILE"); v != "" {
		cfg.Storage.MemoryFile = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := os.Getenv("TELEGRAM_USER_ID"); v != "" {
		cfg.Telegram.UserID = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}

	// Defaults
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":3001"
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{"*"}
	}
	if cfg.Oracle.BaseURL == "" {
		cfg.Oracle.BaseURL = "https://fundgz.1234567.com.cn"
	}
	if cfg.Oracle.Timeout == 0 {
		cfg.Oracle.Timeout = 5 * time.Second
	}
	if cfg.Oracle.RateLimit == 0 {
		cfg.Oracle.RateLimit = 10
	}
	if cfg.Poll.Cron == "" {
		cfg.Poll.Cron = "@every 30s"
	}
	if cfg.Settlement.CutoffHour < 0 {
		cfg.Settlement.CutoffHour = 15
	}
	if cfg.Settlement.Timezone == "" {
		cfg.Settlement.Timezone = "Asia/Shanghai"
	}
	if cfg.History.Limit == 0 {
		cfg.History.Limit = 50
	}
	if cfg.History.PurgeCron == "" {
		cfg.History.PurgeCron = "0 30 3 * * *"
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "data/fund_tracker.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	return cfg, nil
}

// Validate checks that all required fields are set and consistent.
func (c *Config) Validate() error {
	if c.Settlement.CutoffHour < 1 || c.Settlement.CutoffHour > 23 {
		return fmt.Errorf("settlement.cutoff_hour must be between 1 and 23")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.Oracle.Timeout <= 0 {
		return fmt.Errorf("oracle.timeout must be positive")
	}
	if c.Oracle.RateLimit <= 0 {
		return fmt.Errorf("oracle.rate_limit must be positive")
	}
	if c.History.Limit < 1 {
		return fmt.Errorf("history.limit must be positive")
	}
	if c.History.RetentionDays < 0 {
		return fmt.Errorf("history.retention_days must not be negative")
	}
	switch c.Storage.Driver {
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path is required")
		}
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage.postgres_dsn is required for the postgres driver")
		}
	case "memory":
	default:
		return fmt.Errorf("storage.driver %q is not one of sqlite, postgres, memory", c.Storage.Driver)
	}
	if c.Telegram.BotToken != "" && c.Telegram.ChatID == "" {
		return fmt.Errorf("telegram.chat_id is required when telegram.bot_token is set")
	}
	return nil
}

// Location resolves settlement.timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Settlement.Timezone)
	if err != nil {
		return nil, fmt.Errorf("settlement.timezone %q: %w", c.Settlement.Timezone, err)
	}
	return loc, nil
}

// TelegramEnabled reports whether notifications should be sent.
func (c *Config) TelegramEnabled() bool {
	return c.Telegram.BotToken != ""
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
