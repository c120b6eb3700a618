// Package config loads readaloud settings from readaloud.yml, READALOUD_*
// environment variables and flags bound through viper.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/mitchellh/go-homedir"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/viper"

	"github.com/dgnsrekt/readaloud/internal/chunk"
	"github.com/dgnsrekt/readaloud/internal/jobs"
)

// AppName names the config, cache and data directories.
const AppName = "readaloud"

// Config holds every setting read from the config file.
type Config struct {
	Cache    CacheConfig    `mapstructure:"cache"`
	Cloud    CloudConfig    `mapstructure:"cloud"`
	Registry RegistryConfig `mapstructure:"registry"`
	Playback PlaybackConfig `mapstructure:"playback"`
	Synth    SynthConfig    `mapstructure:"synth"`
}

type CacheConfig struct {
	Dir string `mapstructure:"dir"`
	// MaxSize in megabytes; 0 disables eviction.
	MaxSize int `mapstructure:"max_size"`
}

// MaxBytes returns MaxSize in bytes.
func (c CacheConfig) MaxBytes() int64 {
	return int64(c.MaxSize) << 20
}

type CloudConfig struct {
	BaseURL           string `mapstructure:"base_url"`
	APIKey            string `mapstructure:"api_key"`
	Voice             string `mapstructure:"voice"`
	Locale            string `mapstructure:"locale"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute"`
}

type RegistryConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

type PlaybackConfig struct {
	PreferCloud bool          `mapstructure:"prefer_cloud"`
	TickRate    time.Duration `mapstructure:"tick_rate"`
}

type SynthConfig struct {
	Binary    string  `mapstructure:"binary"`
	Model     string  `mapstructure:"model"`
	MaxLength int     `mapstructure:"max_length"`
	Rate      float64 `mapstructure:"rate"`
}

// Env holds settings that only come from the environment.
type Env struct {
	ConfigHome string `env:"READALOUD_CONFIG_HOME"`
	XDGConfig  string `env:"XDG_CONFIG_HOME"`
	Debug      bool   `env:"READALOUD_DEBUG"`
	LogFile    string `env:"READALOUD_LOG_FILE"`
	LogLevel   string `env:"READALOUD_LOG_LEVEL" envDefault:"info"`
}

// ReadEnv parses Env from the process environment.
func ReadEnv() (Env, error) {
	e, err := env.ParseAs[Env]()
	if err != nil {
		return Env{}, fmt.Errorf("error parsing environment: %w", err)
	}
	return e, nil
}

// SetDefaults registers every key with its default. Keys must be known to
// viper for READALOUD_* overrides to reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("cache.dir", "")
	v.SetDefault("cache.max_size", 100)
	v.SetDefault("cloud.base_url", "")
	v.SetDefault("cloud.api_key", "")
	v.SetDefault("cloud.voice", "")
	v.SetDefault("cloud.locale", "en-US")
	v.SetDefault("cloud.requests_per_minute", 60)
	v.SetDefault("registry.backend", jobs.BackendFile)
	v.SetDefault("registry.path", "")
	v.SetDefault("playback.prefer_cloud", true)
	v.SetDefault("playback.tick_rate", "16ms")
	v.SetDefault("synth.binary", "piper")
	v.SetDefault("synth.model", "")
	v.SetDefault("synth.max_length", chunk.DeviceMaxLength)
	v.SetDefault("synth.rate", 1.0)
}

// ConfigDirs returns where readaloud.yml is searched for, most specific
// first.
func ConfigDirs(e Env) ([]string, error) {
	dirs, err := gap.NewScope(gap.User, AppName).ConfigDirs()
	if err != nil {
		return nil, fmt.Errorf("could not find configuration directory: %w", err)
	}
	if e.XDGConfig != "" {
		dirs = append([]string{filepath.Join(e.XDGConfig, AppName)}, dirs...)
	}
	if e.ConfigHome != "" {
		dirs = append([]string{e.ConfigHome}, dirs...)
	}
	return dirs, nil
}

// Prepare points v at the config search path and environment.
func Prepare(v *viper.Viper, dirs []string) {
	for _, d := range dirs {
		v.AddConfigPath(d)
	}
	v.SetConfigName(AppName)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(AppName)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
}

// Load decodes v, fills in directory defaults, expands ~ and validates.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unable to decode configuration: %w", err)
	}
	if err := cfg.resolvePaths(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) resolvePaths() error {
	scope := gap.NewScope(gap.User, AppName)

	if c.Cache.Dir == "" {
		dir, err := scope.CacheDir()
		if err != nil {
			return fmt.Errorf("could not find cache directory: %w", err)
		}
		c.Cache.Dir = filepath.Join(dir, "audio")
	}
	if c.Registry.Path == "" {
		dirs, err := scope.DataDirs()
		if err != nil || len(dirs) == 0 {
			return fmt.Errorf("could not find data directory: %w", err)
		}
		name := "pending.yml"
		if c.Registry.Backend == jobs.BackendSQLite {
			name = "pending.db"
		}
		c.Registry.Path = filepath.Join(dirs[0], name)
	}

	for _, p := range []*string{&c.Cache.Dir, &c.Registry.Path, &c.Synth.Model} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("unable to expand %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	var errs []error
	if c.Cache.MaxSize < 0 || c.Cache.MaxSize > 100000 {
		errs = append(errs, fmt.Errorf("cache.max_size must be between 0 and 100000 MB, got %d", c.Cache.MaxSize))
	}
	if c.Cloud.Locale != "" {
		if _, err := jobs.ParseLocale(c.Cloud.Locale); err != nil {
			errs = append(errs, fmt.Errorf("cloud.locale: %w", err))
		}
	}
	if c.Cloud.RequestsPerMinute < 0 {
		errs = append(errs, fmt.Errorf("cloud.requests_per_minute must not be negative, got %d", c.Cloud.RequestsPerMinute))
	}
	switch c.Registry.Backend {
	case "", jobs.BackendFile, jobs.BackendSQLite:
	default:
		errs = append(errs, fmt.Errorf("registry.backend must be %q or %q, got %q", jobs.BackendFile, jobs.BackendSQLite, c.Registry.Backend))
	}
	if c.Playback.TickRate < time.Millisecond || c.Playback.TickRate > time.Second {
		errs = append(errs, fmt.Errorf("playback.tick_rate must be between 1ms and 1s, got %v", c.Playback.TickRate))
	}
	if c.Synth.MaxLength < 2 {
		errs = append(errs, fmt.Errorf("synth.max_length must be at least 2, got %d", c.Synth.MaxLength))
	}
	if c.Synth.Rate < 0.1 || c.Synth.Rate > 3.0 {
		errs = append(errs, fmt.Errorf("synth.rate must be between 0.1 and 3.0, got %.2f", c.Synth.Rate))
	}
	return errors.Join(errs...)
}

// Default is the file written by "readaloud config" when none exists.
const Default = `# Audio cache
cache:
  # directory for rendered audio (default: user cache dir)
  dir: ""
  # size limit in MB, oldest files are evicted first (0 disables)
  max_size: 100

# Cloud rendering service
cloud:
  base_url: ""
  api_key: ""
  voice: ""
  locale: "en-US"
  requests_per_minute: 60

# Where jobs waiting on the cloud are remembered: file or sqlite
registry:
  backend: "file"
  path: ""

playback:
  # play cached cloud audio when available
  prefer_cloud: true
  tick_rate: "16ms"

# On-device synthesis with piper
synth:
  binary: "piper"
  model: ""
  max_length: 4000
  rate: 1.0
`
