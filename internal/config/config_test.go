package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nolaskote/Simulation/internal/transform"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestDefaults(t *testing.T) {
	cfg, err := FromViper(New(), testLogger(), now)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.False(t, cfg.Auth.Enabled)
	assert.Equal(t, 12.0, cfg.Field.UpdateHz)
	assert.Equal(t, 60.0, cfg.Field.FrameHz)
	assert.Equal(t, 50.0, cfg.Field.Scale)
	assert.Equal(t, 120, cfg.CacheFrames)
	assert.Equal(t, "/tmp/orrery/neo", cfg.Population.CacheDir)
	assert.Equal(t, 5, cfg.Population.MaxFiles)
	assert.Equal(t, 10, cfg.Stream.MaxConcurrentPerIP)
	assert.Equal(t, 1048576, cfg.Stream.BandwidthLimit)
	assert.Equal(t, 30*time.Second, cfg.Stream.KeepaliveInterval)
	assert.Equal(t, 250*time.Millisecond, cfg.Stream.Interval)
	assert.Equal(t, 1.0, cfg.Clock.Rate)
	assert.InDelta(t, transform.DaysSinceJ2000(now), cfg.Clock.StartDays, 1e-9)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Empty(t, cfg.Population.ExtraURLs)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("ORRERY_HTTP_ADDR", ":9090")
	t.Setenv("ORRERY_FIELD_UPDATE_HZ", "6")
	t.Setenv("ORRERY_FIELD_WORKERS", "3")
	t.Setenv("ORRERY_CLOCK_START", "8000.5")
	t.Setenv("ORRERY_CLOCK_RATE", "-2")
	t.Setenv("ORRERY_POPULATION_EXTRA_URLS", "https://a.example/x.json, ,https://b.example/y.json")
	t.Setenv("ORRERY_STREAM_KEEPALIVE_INTERVAL", "15")
	t.Setenv("ORRERY_LOG_LEVEL", "debug")

	cfg, err := FromViper(New(), testLogger(), now)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, 6.0, cfg.Field.UpdateHz)
	assert.Equal(t, 3, cfg.Propagation.Workers)
	assert.Equal(t, 8000.5, cfg.Clock.StartDays)
	assert.Equal(t, -2.0, cfg.Clock.Rate)
	assert.Equal(t, []string{"https://a.example/x.json", "https://b.example/y.json"}, cfg.Population.ExtraURLs)
	assert.Equal(t, 15*time.Second, cfg.Stream.KeepaliveInterval)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("ORRERY_FIELD_UPDATE_HZ", "fast")
	t.Setenv("ORRERY_FIELD_FRAME_HZ", "-1")
	t.Setenv("ORRERY_CACHE_FRAMES", "0")
	t.Setenv("ORRERY_CLOCK_START", "yesterday")
	t.Setenv("ORRERY_CLOCK_RATE", "NaN")
	t.Setenv("ORRERY_STREAM_INTERVAL", "soon")
	t.Setenv("ORRERY_POPULATION_ENABLE_FETCH", "true")

	cfg, err := FromViper(New(), testLogger(), now)
	require.NoError(t, err)

	assert.Equal(t, 12.0, cfg.Field.UpdateHz)
	assert.Equal(t, 60.0, cfg.Field.FrameHz)
	assert.Equal(t, 120, cfg.CacheFrames)
	assert.InDelta(t, transform.DaysSinceJ2000(now), cfg.Clock.StartDays, 1e-9)
	assert.Equal(t, 1.0, cfg.Clock.Rate)
	assert.Equal(t, 250*time.Millisecond, cfg.Stream.Interval)
	assert.False(t, cfg.Population.EnableFetch, "fetch needs a source URL")
}

func TestUpdateRateCappedAtFrameRate(t *testing.T) {
	t.Setenv("ORRERY_FIELD_UPDATE_HZ", "120")
	t.Setenv("ORRERY_FIELD_FRAME_HZ", "30")

	cfg, err := FromViper(New(), testLogger(), now)
	require.NoError(t, err)
	assert.Equal(t, 30.0, cfg.Field.UpdateHz)
}

func TestAuthValidation(t *testing.T) {
	t.Setenv("ORRERY_AUTH_ENABLED", "true")
	_, err := FromViper(New(), testLogger(), now)
	assert.Error(t, err, "token required when enabled")

	t.Setenv("ORRERY_AUTH_TOKEN", "s3cret")
	cfg, err := FromViper(New(), testLogger(), now)
	require.NoError(t, err)
	assert.True(t, cfg.Auth.Enabled)
	assert.Equal(t, "s3cret", cfg.Auth.Token)

	t.Setenv("ORRERY_AUTH_ENABLED", "maybe")
	_, err = FromViper(New(), testLogger(), now)
	assert.Error(t, err)
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orrery.toml")
	doc := `
[http]
addr = ":7000"

[population]
path = "/data/neos.json"
extra_urls = ["https://a.example/x.json"]

[field]
scale = 25.0
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	t.Setenv("ORRERY_CONFIG", path)
	t.Setenv("ORRERY_FIELD_UPDATE_HZ", "4")

	cfg, err := Load(testLogger())
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.Addr)
	assert.Equal(t, "/data/neos.json", cfg.Population.Path)
	assert.Equal(t, []string{"https://a.example/x.json"}, cfg.Population.ExtraURLs)
	assert.Equal(t, 25.0, cfg.Field.Scale)
	assert.Equal(t, 4.0, cfg.Field.UpdateHz, "environment overrides the file")
}

func TestConfigFileMissing(t *testing.T) {
	t.Setenv("ORRERY_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := Load(testLogger())
	assert.Error(t, err)
}
