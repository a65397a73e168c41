// Package config loads the build service configuration from a YAML file,
// EXTENDER_* environment variables and dotenv files.
package config

import (
	"bytes"
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables overriding config keys,
// e.g. EXTENDER_MAX_JOBS.
const EnvPrefix = "EXTENDER"

// Config is the build service configuration.
type Config struct {
	// SDKDir holds one SDK per directory, or packed .tar.xz SDKs.
	SDKDir   string `mapstructure:"sdk_dir"`
	BuildDir string `mapstructure:"build_dir"`
	CacheDir string `mapstructure:"cache_dir"`
	// CacheFileSizeThreshold is the smallest upload, in bytes, worth
	// caching.
	CacheFileSizeThreshold int64  `mapstructure:"cache_file_size_threshold"`
	CacheRetries           int    `mapstructure:"cache_retries"`
	GradleHome             string `mapstructure:"gradle_home"`
	GradlePluginVersion    string `mapstructure:"gradle_plugin_version"`
	// PodsHome is the prefix of the rotating CocoaPods cache dirs.
	PodsHome string `mapstructure:"pods_home"`
	// EnvFiles are dotenv files whose variables become env.* keys of every
	// job context.
	EnvFiles    []string `mapstructure:"env_files"`
	MaxJobs     int      `mapstructure:"max_jobs"`
	CompileJobs int      `mapstructure:"compile_jobs"`
	LogLevel    string   `mapstructure:"log_level"`
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// every key needs a default for AutomaticEnv to reach Unmarshal
	v.SetDefault("sdk_dir", "sdk")
	v.SetDefault("build_dir", os.TempDir())
	v.SetDefault("cache_dir", "cache")
	v.SetDefault("cache_file_size_threshold", 0)
	v.SetDefault("cache_retries", 3)
	v.SetDefault("gradle_home", ".gradle")
	v.SetDefault("gradle_plugin_version", "")
	v.SetDefault("pods_home", "")
	v.SetDefault("env_files", []string{})
	v.SetDefault("max_jobs", runtime.NumCPU())
	v.SetDefault("compile_jobs", 1)
	v.SetDefault("log_level", "info")
	return v
}

// Default returns the configuration made of defaults and environment
// overrides only.
func Default() (*Config, error) {
	return decode(newViper())
}

// LoadConfig reads and parses the config file at path.
func LoadConfig(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return decode(v)
}

// ParseConfig parses YAML bytes into a Config.
func ParseConfig(data []byte) (*Config, error) {
	v := newViper()
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the config for internal consistency.
func (c *Config) Validate() error {
	if c.SDKDir == "" {
		return fmt.Errorf("config: sdk_dir is empty")
	}
	if c.BuildDir == "" {
		return fmt.Errorf("config: build_dir is empty")
	}
	if c.MaxJobs < 1 {
		return fmt.Errorf("config: max_jobs must be positive, got %d", c.MaxJobs)
	}
	if c.CompileJobs < 1 {
		return fmt.Errorf("config: compile_jobs must be positive, got %d", c.CompileJobs)
	}
	if c.CacheRetries < 1 {
		return fmt.Errorf("config: cache_retries must be positive, got %d", c.CacheRetries)
	}
	if c.CacheFileSizeThreshold < 0 {
		return fmt.Errorf("config: cache_file_size_threshold is negative")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: log_level %q: %w", c.LogLevel, err)
	}
	for _, f := range c.EnvFiles {
		if f == "" {
			return fmt.Errorf("config: env_files has an empty entry")
		}
	}
	return nil
}

// Level returns the configured log level.
func (c *Config) Level() zerolog.Level {
	l, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return l
}

// Env reads the configured env files. Later files override earlier ones.
func (c *Config) Env() (map[string]string, error) {
	return LoadEnvFiles(c.EnvFiles...)
}

// LoadEnvFiles reads dotenv files into one map, later files winning.
func LoadEnvFiles(paths ...string) (map[string]string, error) {
	out := make(map[string]string)
	for _, p := range paths {
		m, err := godotenv.Read(p)
		if err != nil {
			return nil, fmt.Errorf("reading env file %s: %w", p, err)
		}
		for k, v := range m {
			out[k] = v
		}
	}
	return out, nil
}

// EnvKeys returns the keys of env sorted, for deterministic logging.
func EnvKeys(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
