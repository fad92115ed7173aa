package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"Port", cfg.Port, 8080},
		{"MaxUploadMB", cfg.MaxUploadMB, 10},
		{"TargetSizeKB", cfg.TargetSizeKB, 500},
		{"MaxConcurrent", cfg.MaxConcurrent, 50},
		{"RateLimitPerSec", cfg.RateLimitPerSec, 10},
		{"RateLimitBurst", cfg.RateLimitBurst, 20},
		{"WorkerCount", cfg.WorkerCount, 10},
		{"OutputFormat", cfg.OutputFormat, "jpeg"},
		{"Tolerance", cfg.Solver.Tolerance, 0.02},
		{"MaxAttempts", cfg.Solver.MaxAttempts, 15},
		{"MinQuality", cfg.Solver.MinQuality, 0.1},
		{"AllowRescale", cfg.Solver.AllowRescale, false},
		{"LogLevel", cfg.Log.Level, "info"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestLoad_Env(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PORT", "9090")
	t.Setenv("TARGET_SIZE_KB", "200")
	t.Setenv("SOLVER_TOLERANCE", "0.05")
	t.Setenv("SOLVER_ALLOW_RESCALE", "true")
	t.Setenv("OUTPUT_FORMAT", "webp")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != 9090 || cfg.TargetSizeKB != 200 {
		t.Errorf("Port = %d, TargetSizeKB = %d", cfg.Port, cfg.TargetSizeKB)
	}
	if cfg.Solver.Tolerance != 0.05 || !cfg.Solver.AllowRescale {
		t.Errorf("Solver = %+v", cfg.Solver)
	}
	if cfg.OutputFormat != "webp" || cfg.Log.Level != "debug" {
		t.Errorf("OutputFormat = %q, Log.Level = %q", cfg.OutputFormat, cfg.Log.Level)
	}

	opts := cfg.ConverterOptions()
	if opts.TargetBytes != 200*1024 || opts.Format != "webp" || !opts.AllowRescale {
		t.Errorf("ConverterOptions() = %+v", opts)
	}
	if opts.MaxFileSize != 10<<20 {
		t.Errorf("MaxFileSize = %d", opts.MaxFileSize)
	}
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fitsize.yaml")
	yaml := strings.Join([]string{
		"target_size_kb: 300",
		"solver:",
		"  max_attempts: 40",
		"  min_quality: 0.05",
		"log:",
		"  json: false",
	}, "\n")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.TargetSizeKB != 300 || cfg.Solver.MaxAttempts != 40 || cfg.Solver.MinQuality != 0.05 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.LoggerConfig().JSON {
		t.Error("log.json should be false")
	}

	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing explicit config file")
	}
}

func TestValidate(t *testing.T) {
	t.Chdir(t.TempDir())
	base, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"Zero port", func(c *Config) { c.Port = 0 }},
		{"Zero target", func(c *Config) { c.TargetSizeKB = 0 }},
		{"Zero workers", func(c *Config) { c.WorkerCount = 0 }},
		{"Bad format", func(c *Config) { c.OutputFormat = "bmp" }},
		{"Bad tolerance", func(c *Config) { c.Solver.Tolerance = 0 }},
		{"Bad attempts", func(c *Config) { c.Solver.MaxAttempts = 0 }},
		{"Inverted range", func(c *Config) { c.Solver.MinQuality = 0.9; c.Solver.MaxQuality = 0.5 }},
		{"Initial outside range", func(c *Config) { c.Solver.InitialQuality = 0.05 }},
		{"Bad log level", func(c *Config) { c.Log.Level = "verbose" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := *base
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() expected error")
			}
		})
	}
}

func TestLoad_ShippedExample(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "fitsize.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.TargetSizeKB != 500 || cfg.Solver.InitialQuality != 0.7 {
		t.Errorf("example config = %+v", cfg)
	}
}
