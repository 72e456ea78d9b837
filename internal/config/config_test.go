package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elonfeng/newsgauge/pkg/saturation"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "llama-3.3-70b-versatile", cfg.LLM.Model)
	assert.Equal(t, 50, cfg.Search.QueryLimit)
	assert.Equal(t, 2*time.Second, cfg.Search.ParseQueryDelay())
	assert.Equal(t, 72, cfg.Search.LookbackHours)
	assert.Equal(t, 6*time.Hour, cfg.Schedule.ParseQuantifyInterval())
	assert.Equal(t, "Asia/Tokyo", cfg.Timezone)
	assert.NotEmpty(t, cfg.Scoring.Thresholds)

	// Defaults must construct a valid calculator.
	_, err = saturation.NewCalculator(cfg.Scoring)
	assert.NoError(t, err)
}

func TestLoadOverlayKeepsThresholds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
search:
  language: en
  query_delay: 5s
scoring:
  count_weight: 0.4
  time_weight: 0.35
  authority_weight: 0.25
  count_max: 200
  time_max_hours: 72
  authority_max: 5
  confidence_sample_max: 30
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "en", cfg.Search.Language)
	assert.Equal(t, 5*time.Second, cfg.Search.ParseQueryDelay())
	assert.Equal(t, 200, cfg.Scoring.CountMax)
	// Thresholds are not yaml-tunable and survive the overlay.
	assert.NotEmpty(t, cfg.Scoring.Thresholds)
	assert.Equal(t, saturation.LevelRehash, cfg.Scoring.DefaultLevel)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "gsk_test")
	t.Setenv("NEWSGAUGE_SEARCH_URL", "http://localhost:9999")
	t.Setenv("DISCORD_WEBHOOK_URL", "https://discord.test/hook")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "gsk_test", cfg.LLM.APIKey)
	assert.Equal(t, "http://localhost:9999", cfg.Search.BaseURL)
	assert.True(t, cfg.Alerts.Discord.Enabled)
	assert.Equal(t, "https://discord.test/hook", cfg.Alerts.Discord.WebhookURL)
}

func TestParseDurationFallbacks(t *testing.T) {
	assert.Equal(t, 30*time.Second, LLMConfig{Timeout: "bogus"}.ParseTimeout())
	assert.Equal(t, 2*time.Second, SearchConfig{}.ParseQueryDelay())
	assert.Equal(t, 6*time.Hour, ScheduleConfig{QuantifyInterval: ""}.ParseQuantifyInterval())
}

func TestLocation(t *testing.T) {
	cfg := Default()
	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Tokyo", loc.String())

	cfg.Timezone = "Not/AZone"
	_, err = cfg.Location()
	assert.Error(t, err)
}
