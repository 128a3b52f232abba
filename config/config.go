package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/viper"

	"queuewatch/analytics"
	"queuewatch/source"
)

// SourceConfig describes one polled scalar source.
type SourceConfig struct {
	Name string `mapstructure:"name"`
	// DSN is the database connection string (lib/pq format).
	DSN string `mapstructure:"dsn"`
	// Query must return exactly one numeric row/column. If empty it is
	// derived from Table/Column as a COUNT query.
	Query  string `mapstructure:"query"`
	Table  string `mapstructure:"table"`
	Column string `mapstructure:"column"`
	// PollingFrequency in seconds; falls back to the global value.
	PollingFrequency int `mapstructure:"polling_frequency"`
}

// RedisConfig controls the optional recent-points cache.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LogConfig controls logging output.
type LogConfig struct {
	Level string `mapstructure:"level"`
	Dir   string `mapstructure:"dir"`
}

// RateLimitConfig controls the HTTP rate limiter.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// Config is the full service configuration. Detector parameters live
// at the top level of the settings file, matching the historical
// settings.json layout.
type Config struct {
	analytics.Config `mapstructure:",squash"`

	Port             string          `mapstructure:"port"`
	PollingFrequency int             `mapstructure:"polling_frequency"`
	Sources          []SourceConfig  `mapstructure:"sources"`
	Redis            RedisConfig     `mapstructure:"redis"`
	Log              LogConfig       `mapstructure:"log"`
	RateLimit        RateLimitConfig `mapstructure:"rate_limit"`
}

// Detector returns the detector parameter block.
func (c *Config) Detector() analytics.Config {
	return c.Config
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("window_size", analytics.DefaultWindowSize)
	v.SetDefault("k_upper", analytics.DefaultKUpper)
	v.SetDefault("min_rel_increase", analytics.DefaultMinRelIncrease)
	v.SetDefault("q", analytics.DefaultQuantile)
	v.SetDefault("ew_alpha", analytics.DefaultEWAlpha)
	v.SetDefault("debounce", analytics.DefaultDebounce)

	v.SetDefault("port", "8080")
	v.SetDefault("polling_frequency", 5)
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.dir", "logs")
	v.SetDefault("rate_limit.rps", 2000)
	v.SetDefault("rate_limit.burst", 50000)
}

// migrateLegacy maps settings keys kept for backward compatibility
// onto their current names.
func migrateLegacy(v *viper.Viper) {
	// IsSet sees defaults, so probe the file contents directly. Set
	// outranks AutomaticEnv, so an explicit env override must keep
	// winning over the legacy file key.
	if os.Getenv("QUEUEWATCH_K_UPPER") != "" {
		return
	}
	if v.InConfig("anomaly_k") && !v.InConfig("k_upper") {
		v.Set("k_upper", v.GetFloat64("anomaly_k"))
	}
}

// Load reads configuration from the given settings file (JSON), the
// QUEUEWATCH_* environment, and built-in defaults, in increasing
// priority of env over file over defaults. A missing settings file is
// not an error; defaults apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path == "" {
		path = "settings.json"
	}
	v.SetConfigFile(path)
	v.SetConfigType("json")

	v.SetEnvPrefix("QUEUEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read settings %s: %w", path, err)
		}
	}
	migrateLegacy(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// normalize fills per-source gaps: missing names, queries derived from
// table/column, and polling frequencies inherited from the global
// setting.
func (c *Config) normalize() error {
	if c.PollingFrequency < 1 {
		c.PollingFrequency = 1
	}
	for i := range c.Sources {
		src := &c.Sources[i]
		if src.Name == "" {
			src.Name = fmt.Sprintf("source-%d", i+1)
		}
		if src.Query == "" && src.Table != "" {
			q, err := source.CountQuery(src.Table, src.Column)
			if err != nil {
				return fmt.Errorf("source %q: %w", src.Name, err)
			}
			src.Query = q
		}
		if src.PollingFrequency < 1 {
			src.PollingFrequency = c.PollingFrequency
		}
	}
	return nil
}

// Validate checks the whole configuration, failing fast on the first
// problem.
func (c *Config) Validate() error {
	if err := c.Config.Validate(); err != nil {
		return err
	}
	if c.Port == "" {
		return errors.New("port must not be empty")
	}
	seen := make(map[string]bool, len(c.Sources))
	for _, src := range c.Sources {
		if seen[src.Name] {
			return fmt.Errorf("duplicate source name %q", src.Name)
		}
		seen[src.Name] = true
		if src.DSN == "" {
			return fmt.Errorf("source %q: dsn is required", src.Name)
		}
		if src.Query == "" {
			return fmt.Errorf("source %q: query or table is required", src.Name)
		}
	}
	return nil
}
