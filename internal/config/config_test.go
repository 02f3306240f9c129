package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SectorSentinel/internal/model"
)

var envKeys = []string{
	"TELEGRAM_BOT_TOKEN", "TELEGRAM_CHAT_ID", "HTTPS_PROXY", "CRON_DAILY", "CRON_RECALC",
	"DB_DRIVER", "DB_DSN", "SQLITE_PATH", "METRICS_ADDR", "LOG_LEVEL", "EXCLUDED_SECTORS", "RETENTION_DAYS",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, []string{"기타"}, cfg.Kernel.ExcludedIndustries)
	assert.Equal(t, model.DefaultHorizons, cfg.Kernel.Horizons)
	assert.Equal(t, 2, cfg.Kernel.TrackedRanks)
	assert.Equal(t, 5, cfg.Kernel.ReplayCandidates)
	assert.Equal(t, 100, cfg.Kernel.ReplayWindow)
	assert.Equal(t, 120, cfg.Kernel.HistoryWindow)
	assert.Equal(t, 1, cfg.Kernel.Workers)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "0 30 18 * * 1-5", cfg.Schedule.DailyCron)
	assert.Equal(t, "0 0 7 * * 6", cfg.Schedule.RecalcCron)
	assert.Equal(t, 365, cfg.RetentionDays)
	assert.Len(t, cfg.Segments, 2)
	assert.False(t, cfg.Notify())
}

func TestLoadYAMLAndEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
segments:
  - name: KOSPI
    market_code: STK
kernel:
  excluded_industries: ["기타", "금융"]
  horizons:
    - {name: d, period: 10}
    - {name: w, period: 20}
  workers: 4
database:
  driver: mysql
  dsn: "user:pw@tcp(localhost:3306)/krx?parseTime=true"
  conn_max_lifetime: 30m
holidays: ["2026-01-01"]
`)
	t.Setenv("EXCLUDED_SECTORS", " 기타 , 서비스업 ,")
	t.Setenv("TELEGRAM_BOT_TOKEN", "token")
	t.Setenv("TELEGRAM_CHAT_ID", "42")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, []string{"기타", "서비스업"}, cfg.Kernel.ExcludedIndustries)
	assert.Equal(t, []model.Horizon{{Name: "d", Period: 10}, {Name: "w", Period: 20}}, cfg.Kernel.Horizons)
	assert.Equal(t, 4, cfg.Kernel.Workers)
	assert.Equal(t, 30*time.Minute, cfg.Database.ConnMaxLifetime)
	assert.Equal(t, 20, cfg.Database.MaxOpenConns)
	assert.True(t, cfg.Notify())

	days, err := cfg.HolidayDates()
	require.NoError(t, err)
	assert.Equal(t, []time.Time{time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}, days)
}

func TestLoadRejectsBadRetention(t *testing.T) {
	clearEnv(t)
	t.Setenv("RETENTION_DAYS", "a year")
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"mysql without dsn", func(c *Config) { c.Database.Driver = DriverMySQL }},
		{"unknown driver", func(c *Config) { c.Database.Driver = "postgres" }},
		{"token without chat", func(c *Config) { c.Telegram.BotToken = "t" }},
		{"zero period", func(c *Config) { c.Kernel.Horizons = []model.Horizon{{Name: "d", Period: 0}} }},
		{"duplicate horizon", func(c *Config) {
			c.Kernel.Horizons = []model.Horizon{{Name: "d", Period: 14}, {Name: "d", Period: 30}}
		}},
		{"missing daily horizon", func(c *Config) { c.Kernel.Horizons = []model.Horizon{{Name: "w", Period: 30}} }},
		{"candidates below ranks", func(c *Config) { c.Kernel.ReplayCandidates = 1 }},
		{"bad holiday", func(c *Config) { c.Holidays = []string{"01/01/2026"} }},
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }},
		{"segment without code", func(c *Config) { c.Segments = []model.Segment{{Name: "KOSPI"}} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			cfg.applyDefaults()
			require.NoError(t, cfg.Validate())
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
