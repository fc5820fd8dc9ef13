// Package config loads service configuration from an optional config file
// (ORRERY_CONFIG, format by extension) and ORRERY_* environment variables.
// Keys are dotted ("field.update_hz"); the environment form upper-cases the
// key and replaces dots with underscores (ORRERY_FIELD_UPDATE_HZ).
//
// Invalid values are logged and replaced by their default. Only an auth
// configuration that cannot be honoured is an error.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Nolaskote/Simulation/internal/auth"
	"github.com/Nolaskote/Simulation/internal/field"
	"github.com/Nolaskote/Simulation/internal/propagation"
	"github.com/Nolaskote/Simulation/internal/scheduler"
	"github.com/Nolaskote/Simulation/internal/stream"
	"github.com/Nolaskote/Simulation/internal/transform"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "ORRERY"

// PopulationConfig locates the NEO population.
type PopulationConfig struct {
	Path        string   // local JSON file, preferred when set
	SourceURL   string   // remote JSON document
	ExtraURLs   []string // merged into the source document
	CacheDir    string
	MaxFiles    int
	EnableFetch bool
}

// ClockConfig sets the simulation clock's initial state.
type ClockConfig struct {
	StartDays float64 // days since J2000
	Rate      float64 // simulated days per wall second
}

// Config is the full service configuration.
type Config struct {
	Addr        string
	TrustProxy  bool
	LogLevel    slog.Level
	Auth        auth.Config
	Population  PopulationConfig
	Field       field.Config
	Propagation propagation.PropConfig
	Clock       ClockConfig
	CacheFrames int
	Stream      stream.Config
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.trust_proxy", false)
	v.SetDefault("log.level", "info")

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.token", "")

	v.SetDefault("population.path", "")
	v.SetDefault("population.source_url", "")
	v.SetDefault("population.extra_urls", "")
	v.SetDefault("population.cache_dir", "/tmp/orrery/neo")
	v.SetDefault("population.max_files", 5)
	v.SetDefault("population.enable_fetch", false)

	v.SetDefault("field.update_hz", scheduler.DefaultUpdateHz)
	v.SetDefault("field.frame_hz", 60)
	v.SetDefault("field.workers", runtime.NumCPU())
	v.SetDefault("field.chunk_size", 1024)
	v.SetDefault("field.scale", transform.DefaultScale)

	v.SetDefault("clock.start", "now")
	v.SetDefault("clock.rate", 1.0)

	v.SetDefault("cache.frames", 120)

	v.SetDefault("stream.max_concurrent_per_ip", 10)
	v.SetDefault("stream.bandwidth_limit", 1048576)
	v.SetDefault("stream.keepalive_interval", "30s")
	v.SetDefault("stream.interval", "250ms")
}

// New returns a viper instance bound to the environment with defaults set.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file named by ORRERY_CONFIG, if any, and the
// environment.
func Load(logger *slog.Logger) (Config, error) {
	v := New()
	if path := os.Getenv(EnvPrefix + "_CONFIG"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
		logger.Info("config file loaded", "component", "config", "path", path)
	}
	return FromViper(v, logger, time.Now())
}

// FromViper validates the values held by v.
func FromViper(v *viper.Viper, logger *slog.Logger, now time.Time) (Config, error) {
	r := reader{v: v, logger: logger}

	cfg := Config{
		Addr:       v.GetString("http.addr"),
		TrustProxy: r.boolean("http.trust_proxy", false),
		LogLevel:   r.level("log.level"),
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}

	enabled, err := strconv.ParseBool(v.GetString("auth.enabled"))
	if err != nil {
		return cfg, errors.New("auth.enabled must be a boolean value (true/false/1/0)")
	}
	cfg.Auth.Enabled = enabled
	if enabled {
		cfg.Auth.Token = v.GetString("auth.token")
		if cfg.Auth.Token == "" {
			return cfg, errors.New("auth.token is required when auth is enabled")
		}
	}

	cfg.Population = PopulationConfig{
		Path:        strings.TrimSpace(v.GetString("population.path")),
		SourceURL:   strings.TrimSpace(v.GetString("population.source_url")),
		ExtraURLs:   r.list("population.extra_urls"),
		CacheDir:    v.GetString("population.cache_dir"),
		MaxFiles:    r.positiveInt("population.max_files", 5),
		EnableFetch: r.boolean("population.enable_fetch", false),
	}
	if cfg.Population.EnableFetch && cfg.Population.SourceURL == "" {
		logger.Warn("population.enable_fetch is set without population.source_url, fetching disabled", "component", "config")
		cfg.Population.EnableFetch = false
	}

	cfg.Field = field.Config{
		UpdateHz: r.positiveFloat("field.update_hz", scheduler.DefaultUpdateHz),
		FrameHz:  r.positiveFloat("field.frame_hz", 60),
		Scale:    r.positiveFloat("field.scale", transform.DefaultScale),
	}
	if cfg.Field.UpdateHz > cfg.Field.FrameHz {
		logger.Warn("field.update_hz above field.frame_hz, capping", "component", "config",
			"update_hz", cfg.Field.UpdateHz, "frame_hz", cfg.Field.FrameHz)
		cfg.Field.UpdateHz = cfg.Field.FrameHz
	}
	cfg.Propagation = propagation.PropConfig{
		Workers:   r.positiveInt("field.workers", runtime.NumCPU()),
		ChunkSize: r.positiveInt("field.chunk_size", 1024),
	}

	start := v.GetString("clock.start")
	days, ok := transform.ParseStart(start, now)
	if !ok {
		logger.Warn("invalid clock.start value, using now", "component", "config", "value", start)
		days = transform.DaysSinceJ2000(now)
	}
	cfg.Clock = ClockConfig{StartDays: days, Rate: r.finiteFloat("clock.rate", 1)}

	cfg.CacheFrames = r.positiveInt("cache.frames", 120)

	cfg.Stream = stream.Config{
		MaxConcurrentPerIP: r.positiveInt("stream.max_concurrent_per_ip", 10),
		BandwidthLimit:     r.nonNegativeInt("stream.bandwidth_limit", 1048576),
		KeepaliveInterval:  r.duration("stream.keepalive_interval", 30*time.Second),
		Interval:           r.duration("stream.interval", 250*time.Millisecond),
		TrustProxy:         cfg.TrustProxy,
	}

	logger.Info("config loaded",
		"component", "config",
		"addr", cfg.Addr,
		"auth_enabled", cfg.Auth.Enabled,
		"population_path", cfg.Population.Path,
		"population_source_url", cfg.Population.SourceURL,
		"fetch_enabled", cfg.Population.EnableFetch,
		"update_hz", cfg.Field.UpdateHz,
		"frame_hz", cfg.Field.FrameHz,
		"workers", cfg.Propagation.Workers,
		"scale", cfg.Field.Scale,
		"clock_start_days", cfg.Clock.StartDays,
		"clock_rate", cfg.Clock.Rate,
		"cache_frames", cfg.CacheFrames,
	)
	return cfg, nil
}

// reader validates individual keys, warning and falling back on bad input.
type reader struct {
	v      *viper.Viper
	logger *slog.Logger
}

func (r reader) warn(key string, def any) {
	r.logger.Warn("invalid "+key+" value, using default", "component", "config", "value", r.v.Get(key), "default", def)
}

func (r reader) positiveInt(key string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(r.v.GetString(key)))
	if err != nil || n < 1 {
		r.warn(key, def)
		return def
	}
	return n
}

func (r reader) nonNegativeInt(key string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(r.v.GetString(key)))
	if err != nil || n < 0 {
		r.warn(key, def)
		return def
	}
	return n
}

func (r reader) finiteFloat(key string, def float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(r.v.GetString(key)), 64)
	if err != nil || !transform.Finite(f) {
		r.warn(key, def)
		return def
	}
	return f
}

func (r reader) positiveFloat(key string, def float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(r.v.GetString(key)), 64)
	if err != nil || !transform.Finite(f) || f <= 0 {
		r.warn(key, def)
		return def
	}
	return f
}

func (r reader) boolean(key string, def bool) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(r.v.GetString(key)))
	if err != nil {
		r.warn(key, def)
		return def
	}
	return b
}

// duration accepts Go durations ("250ms") or whole seconds.
func (r reader) duration(key string, def time.Duration) time.Duration {
	s := strings.TrimSpace(r.v.GetString(key))
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		r.warn(key, def)
		return def
	}
	return d
}

func (r reader) level(key string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(r.v.GetString(key))); err != nil {
		r.warn(key, "info")
		return slog.LevelInfo
	}
	return l
}

// list reads a comma-separated string or a config-file list.
func (r reader) list(key string) []string {
	var parts []string
	switch raw := r.v.Get(key).(type) {
	case []any:
		for _, p := range raw {
			parts = append(parts, fmt.Sprint(p))
		}
	case []string:
		parts = raw
	default:
		parts = strings.Split(r.v.GetString(key), ",")
	}

	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
