package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "redis", cfg.Storage.Type)
	assert.Equal(t, 50, cfg.Usage.EventLogCapacity)
	assert.Equal(t, 7, cfg.Usage.RetentionDays)
	assert.Equal(t, 10, cfg.Usage.DefaultLimitMinutes)
	assert.Equal(t, "event", cfg.Usage.ReportMode)
	assert.Equal(t, -1, cfg.Device.BatteryPercentage)
	assert.False(t, cfg.Shield.ClearOnRollover)
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
storage:
  type: sqlite
  sqlite:
    path: /tmp/tabnova-test.db
backend:
  base_url: https://mdm.example.com/api
device:
  profile_id: profile-1
usage:
  report_mode: batch
  threshold_plan: stride
shield:
  clear_on_rollover: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Storage.Type)
	assert.Equal(t, "/tmp/tabnova-test.db", cfg.Storage.SQLite.Path)
	assert.Equal(t, "https://mdm.example.com/api", cfg.Backend.BaseURL)
	assert.Equal(t, "profile-1", cfg.Device.ProfileID)
	assert.Equal(t, "batch", cfg.Usage.ReportMode)
	assert.Equal(t, "stride", cfg.Usage.ThresholdPlan)
	assert.True(t, cfg.Shield.ClearOnRollover)
}

func TestLoadEnvironmentOverride(t *testing.T) {
	t.Setenv("TABNOVA_DEVICE_EMAIL", "parent@example.com")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "parent@example.com", cfg.Device.Email)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"storage type", "storage:\n  type: bolt\n"},
		{"base url", "backend:\n  base_url: not-a-url\n"},
		{"report mode", "usage:\n  report_mode: hourly\n"},
		{"plan", "usage:\n  threshold_plan: random\n"},
		{"capacity", "usage:\n  event_log_capacity: 0\n"},
		{"reset time", "usage:\n  daily_reset_time: \"25:00\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestUnknownKeys(t *testing.T) {
	path := writeConfig(t, `
server:
  api_address: 127.0.0.1:9000
  listen_port: 80
usage:
  retention_day: 3
`)

	unknown, err := UnknownKeys(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"server.listen_port", "usage.retention_day"}, unknown)
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, "127.0.0.1:8740", cfg.Server.APIAddress)
	assert.Equal(t, "tabnova:", cfg.Storage.Redis.KeyPrefix)
}

func TestParseDuration(t *testing.T) {
	assert.Equal(t, 5*time.Second, ParseDuration("5s", time.Minute))
	assert.Equal(t, time.Minute, ParseDuration("", time.Minute))
	assert.Equal(t, time.Minute, ParseDuration("soon", time.Minute))
}
