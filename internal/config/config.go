package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/harliandi/go-fitsize/internal/converter"
	"github.com/harliandi/go-fitsize/internal/logger"
)

// Config holds application configuration
type Config struct {
	Port            int          `mapstructure:"port"`
	MaxUploadMB     int          `mapstructure:"max_upload_mb"`
	TargetSizeKB    int          `mapstructure:"target_size_kb"`
	MaxConcurrent   int          `mapstructure:"max_concurrent"`
	RateLimitPerSec int          `mapstructure:"rate_limit"`
	RateLimitBurst  int          `mapstructure:"rate_limit_burst"`
	WorkerCount     int          `mapstructure:"worker_count"`
	OutputFormat    string       `mapstructure:"output_format"`
	Solver          SolverConfig `mapstructure:"solver"`
	Log             LogConfig    `mapstructure:"log"`
}

// SolverConfig holds the search defaults applied to every request
type SolverConfig struct {
	Tolerance      float64 `mapstructure:"tolerance"`
	MaxAttempts    int     `mapstructure:"max_attempts"`
	MinQuality     float64 `mapstructure:"min_quality"`
	MaxQuality     float64 `mapstructure:"max_quality"`
	InitialQuality float64 `mapstructure:"initial_quality"`
	AllowRescale   bool    `mapstructure:"allow_rescale"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
	File  string `mapstructure:"file"`
}

// Load reads configuration from defaults, an optional fitsize.yaml and the
// environment. Nested keys map to env vars with "_", so solver.tolerance is
// SOLVER_TOLERANCE. path, if set, names the config file explicitly.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("port", 8080)
	v.SetDefault("max_upload_mb", 10)
	v.SetDefault("target_size_kb", 500)
	v.SetDefault("max_concurrent", 50)
	v.SetDefault("rate_limit", 10)
	v.SetDefault("rate_limit_burst", 20)
	v.SetDefault("worker_count", 10)
	v.SetDefault("output_format", converter.FormatJPEG)
	v.SetDefault("solver.tolerance", 0.02)
	v.SetDefault("solver.max_attempts", 15)
	v.SetDefault("solver.min_quality", 0.1)
	v.SetDefault("solver.max_quality", 1.0)
	v.SetDefault("solver.initial_quality", 0.7)
	v.SetDefault("solver.allow_rescale", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", true)
	v.SetDefault("log.file", "")

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("fitsize")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/fitsize")
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found is OK, use env vars and defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// Validate rejects values the server cannot run with
func (c *Config) Validate() error {
	switch {
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("port must be between 1 and 65535")
	case c.MaxUploadMB <= 0:
		return fmt.Errorf("max_upload_mb must be positive")
	case c.TargetSizeKB <= 0:
		return fmt.Errorf("target_size_kb must be positive")
	case c.MaxConcurrent <= 0 || c.WorkerCount <= 0:
		return fmt.Errorf("max_concurrent and worker_count must be positive")
	case c.RateLimitPerSec <= 0 || c.RateLimitBurst <= 0:
		return fmt.Errorf("rate_limit and rate_limit_burst must be positive")
	}
	if _, err := converter.NewEncoder(c.OutputFormat); err != nil {
		return fmt.Errorf("output_format: %w", err)
	}

	s := c.Solver
	switch {
	case s.Tolerance <= 0 || s.Tolerance > 1:
		return fmt.Errorf("solver.tolerance must be within (0, 1]")
	case s.MaxAttempts < 1:
		return fmt.Errorf("solver.max_attempts must be at least 1")
	case s.MinQuality < 0 || s.MaxQuality > 1 || s.MinQuality >= s.MaxQuality:
		return fmt.Errorf("solver quality range [%v, %v] is invalid", s.MinQuality, s.MaxQuality)
	case s.InitialQuality < s.MinQuality || s.InitialQuality > s.MaxQuality:
		return fmt.Errorf("solver.initial_quality must be within the quality range")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Log.Level)
	}
	return nil
}

// ConverterOptions returns the per-request defaults for the converter
func (c *Config) ConverterOptions() converter.Options {
	opts := converter.DefaultOptions(c.TargetSizeKB)
	opts.Tolerance = c.Solver.Tolerance
	opts.MaxAttempts = c.Solver.MaxAttempts
	opts.MinQuality = c.Solver.MinQuality
	opts.MaxQuality = c.Solver.MaxQuality
	opts.InitialQuality = c.Solver.InitialQuality
	opts.AllowRescale = c.Solver.AllowRescale
	opts.Format = c.OutputFormat
	opts.MaxFileSize = c.MaxUploadMB << 20
	return opts
}

// LoggerConfig returns the logger settings
func (c *Config) LoggerConfig() logger.Config {
	cfg := logger.DefaultConfig()
	cfg.Level = c.Log.Level
	cfg.JSON = c.Log.JSON
	cfg.FilePath = c.Log.File
	return cfg
}
