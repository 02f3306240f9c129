package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"SectorSentinel/internal/model"
)

// Supported database drivers.
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// Database selects and tunes the store backend.
type Database struct {
	Driver          string        `yaml:"driver" validate:"oneof=sqlite mysql"`
	DSN             string        `yaml:"dsn"`
	SQLitePath      string        `yaml:"sqlite_path"`
	MaxOpenConns    int           `yaml:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `yaml:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// Kernel holds the indicator and leadership settings.
type Kernel struct {
	ExcludedIndustries []string        `yaml:"excluded_industries"`
	Horizons           []model.Horizon `yaml:"horizons" validate:"min=1,dive"`
	TrackedRanks       int             `yaml:"tracked_ranks" validate:"gte=1"`
	ReplayCandidates   int             `yaml:"replay_candidates" validate:"gtefield=TrackedRanks"`
	ReplayWindow       int             `yaml:"replay_window" validate:"gte=1"`
	HistoryWindow      int             `yaml:"history_window" validate:"gte=2"`
	Workers            int             `yaml:"workers" validate:"gte=1,lte=64"`
}

// Config holds all application configuration.
type Config struct {
	Telegram struct {
		BotToken    string `yaml:"bot_token"`
		ChatID      string `yaml:"chat_id" validate:"required_with=BotToken"`
		PollTimeout int    `yaml:"poll_timeout" validate:"gte=0"`
	} `yaml:"telegram"`
	DataSource struct {
		BaseURL string        `yaml:"base_url" validate:"omitempty,url"`
		Timeout time.Duration `yaml:"timeout"`
		Mock    bool          `yaml:"mock"`
	} `yaml:"data_source"`
	Segments []model.Segment `yaml:"segments" validate:"min=1,dive"`
	Kernel   Kernel          `yaml:"kernel"`
	Schedule struct {
		DailyCron  string `yaml:"daily_cron" validate:"required"`
		RecalcCron string `yaml:"recalc_cron" validate:"required"`
	} `yaml:"schedule"`
	Database Database `yaml:"database"`
	Metrics  struct {
		Addr string `yaml:"addr" validate:"omitempty,hostname_port"`
	} `yaml:"metrics"`
	Log struct {
		Level  string `yaml:"level" validate:"oneof=debug info warn error"`
		Format string `yaml:"format" validate:"oneof=text json"`
	} `yaml:"log"`
	RetentionDays int      `yaml:"retention_days" validate:"gte=0"`
	StateFile     string   `yaml:"state_file" validate:"required"`
	Holidays      []string `yaml:"holidays" validate:"dive,datetime=2006-01-02"`
	Proxy         string   `yaml:"proxy"`
}

// Load reads .env, the YAML file at path, then applies environment variable
// overrides and defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		c.Telegram.ChatID = v
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" {
		c.Proxy = v
	}
	if v := os.Getenv("CRON_DAILY"); v != "" {
		c.Schedule.DailyCron = v
	}
	if v := os.Getenv("CRON_RECALC"); v != "" {
		c.Schedule.RecalcCron = v
	}
	if v := os.Getenv("DB_DRIVER"); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv("DB_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		c.Database.SQLitePath = v
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		c.Metrics.Addr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("EXCLUDED_SECTORS"); v != "" {
		c.Kernel.ExcludedIndustries = splitList(v)
	}
	if v := os.Getenv("RETENTION_DAYS"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid RETENTION_DAYS: %w", err)
		}
		c.RetentionDays = days
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) applyDefaults() {
	if c.DataSource.BaseURL == "" {
		c.DataSource.BaseURL = "http://data.krx.co.kr"
	}
	if c.DataSource.Timeout == 0 {
		c.DataSource.Timeout = 30 * time.Second
	}
	if len(c.Segments) == 0 {
		c.Segments = []model.Segment{
			{Name: "KOSPI", MarketCode: "STK"},
			{Name: "KOSDAQ", MarketCode: "KSQ"},
		}
	}
	if c.Kernel.ExcludedIndustries == nil {
		c.Kernel.ExcludedIndustries = []string{"기타"}
	}
	if len(c.Kernel.Horizons) == 0 {
		c.Kernel.Horizons = append([]model.Horizon(nil), model.DefaultHorizons...)
	}
	if c.Kernel.TrackedRanks == 0 {
		c.Kernel.TrackedRanks = 2
	}
	if c.Kernel.ReplayCandidates == 0 {
		c.Kernel.ReplayCandidates = 5
	}
	if c.Kernel.ReplayWindow == 0 {
		c.Kernel.ReplayWindow = 100
	}
	if c.Kernel.HistoryWindow == 0 {
		c.Kernel.HistoryWindow = 120
	}
	if c.Kernel.Workers == 0 {
		c.Kernel.Workers = 1
	}
	if c.Schedule.DailyCron == "" {
		c.Schedule.DailyCron = "0 30 18 * * 1-5"
	}
	if c.Schedule.RecalcCron == "" {
		c.Schedule.RecalcCron = "0 0 7 * * 6"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DriverSQLite
	}
	if c.Database.SQLitePath == "" {
		c.Database.SQLitePath = "data/sector_sentinel.db"
	}
	if c.Database.Driver == DriverMySQL {
		if c.Database.MaxOpenConns == 0 {
			c.Database.MaxOpenConns = 20
		}
		if c.Database.MaxIdleConns == 0 {
			c.Database.MaxIdleConns = 5
		}
		if c.Database.ConnMaxLifetime == 0 {
			c.Database.ConnMaxLifetime = time.Hour
		}
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Telegram.PollTimeout == 0 {
		c.Telegram.PollTimeout = 30
	}
	if c.RetentionDays == 0 {
		c.RetentionDays = 365
	}
	if c.StateFile == "" {
		c.StateFile = "data/run_state.json"
	}
}

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Database.Driver == DriverMySQL && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required for the mysql driver")
	}
	if c.Database.Driver == DriverSQLite && c.Database.SQLitePath == "" {
		return fmt.Errorf("database.sqlite_path is required for the sqlite driver")
	}
	seen := make(map[string]bool, len(c.Kernel.Horizons))
	for _, h := range c.Kernel.Horizons {
		if seen[h.Name] {
			return fmt.Errorf("duplicate horizon %q", h.Name)
		}
		seen[h.Name] = true
	}
	if !seen[model.DailyHorizon] {
		return fmt.Errorf("kernel.horizons must include %q", model.DailyHorizon)
	}
	return nil
}

// HolidayDates parses the configured holiday dates.
func (c *Config) HolidayDates() ([]time.Time, error) {
	out := make([]time.Time, 0, len(c.Holidays))
	for _, s := range c.Holidays {
		d, err := model.ParseDay(s)
		if err != nil {
			return nil, fmt.Errorf("holiday %q: %w", s, err)
		}
		out = append(out, d)
	}
	return out, nil
}

// Notify reports whether Telegram delivery is configured.
func (c *Config) Notify() bool {
	return c.Telegram.BotToken != "" && c.Telegram.ChatID != ""
}
