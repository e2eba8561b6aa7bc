package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Scan.Concurrency)
	assert.Equal(t, 58, cfg.Scan.AIGate)
	assert.Equal(t, 3, cfg.Scan.MaxAI)
	assert.Equal(t, 45*time.Second, cfg.Scan.TaskTimeout)
	assert.Equal(t, 70, cfg.Alerting.ScoreThreshold)
	assert.Equal(t, "Europe/Berlin", cfg.Alerting.Quiet.TZ)
	assert.Equal(t, 23, cfg.Alerting.Quiet.Start)
	assert.Equal(t, 6, cfg.Alerting.Quiet.End)
	assert.Equal(t, 6*time.Hour, cfg.Alerting.DedupeCooldown)
	assert.Equal(t, []string{ChannelOneSignal}, cfg.Alerting.Channels)
	assert.Equal(t, 4, cfg.Judge.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Judge.BaseDelay)
	assert.Equal(t, DriverFile, cfg.Storage.Driver)
	assert.Equal(t, time.Hour, cfg.Scheduler.Interval)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
scan:
  ai_gate: 50
  max_ai: 5
alerting:
  channels: [telegram, onesignal]
  quiet:
    tz: UTC
    start: 22
    end: 7
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	t.Setenv("SCANNER_SCAN_MAX_AI", "2")
	t.Setenv("SCORE_THRESHOLD", "80")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("DEDUPE_HOURS", "12")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.Scan.AIGate)
	assert.Equal(t, 2, cfg.Scan.MaxAI)
	assert.Equal(t, 80, cfg.Alerting.ScoreThreshold)
	assert.Equal(t, "sk-test", cfg.Judge.APIKey)
	assert.Equal(t, 12*time.Hour, cfg.Alerting.DedupeCooldown)
	assert.Equal(t, []string{"telegram", "onesignal"}, cfg.Alerting.Channels)
	assert.Equal(t, 22, cfg.Alerting.Quiet.Start)
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := Load("")
	require.NoError(t, err)
	return cfg
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"zero concurrency", func(c *Config) { c.Scan.Concurrency = 0 }},
		{"gate out of range", func(c *Config) { c.Scan.AIGate = 101 }},
		{"negative max ai", func(c *Config) { c.Scan.MaxAI = -1 }},
		{"bad quiet hour", func(c *Config) { c.Alerting.Quiet.End = 24 }},
		{"bad zone", func(c *Config) { c.Alerting.Quiet.TZ = "Mars/Olympus" }},
		{"unknown channel", func(c *Config) { c.Alerting.Channels = []string{"pager"} }},
		{"postgres without dsn", func(c *Config) { c.Storage.Driver = DriverPostgres }},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "sqlite" }},
		{"archive without dsn", func(c *Config) { c.Report.Archive = true }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig(t)
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestCheckSecrets(t *testing.T) {
	cfg := validConfig(t)
	cfg.Judge.APIKey = ""
	cfg.Alerting.OneSignal = OneSignalConfig{}
	err := cfg.CheckSecrets()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "judge.api_key")
	assert.Contains(t, err.Error(), "alerting.onesignal.rest_key")

	cfg.Judge.APIKey = "k"
	cfg.Alerting.OneSignal.AppID = "app"
	cfg.Alerting.OneSignal.RESTKey = "rest"
	assert.NoError(t, cfg.CheckSecrets())
}
