// Package pampaxconfig loads the effective configuration object the core
// pipeline reads (spec §6). Parsing is TOML-via-BurntSushi, the pack's
// canonical TOML library (seen in AbdelazizMoustafa10m-Harvx's
// internal/config and in shiyuanpei-ntm/terraphim-ntm), with a thin
// env-override layer shaped like codeNERD's own config loader. The core
// packages never import this package directly; they depend only on the
// Config struct it produces.
package pampaxconfig

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the effective object spec §6 describes.
type Config struct {
	Logging     LoggingConfig     `toml:"logging"`
	Metrics     MetricsConfig     `toml:"metrics"`
	Cache       CacheConfig       `toml:"cache"`
	Performance PerformanceConfig `toml:"performance"`
	Indexer     IndexerConfig     `toml:"indexer"`
}

type LoggingConfig struct {
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	Output     string `toml:"output"`
	Structured bool   `toml:"structured"`
}

type MetricsConfig struct {
	Enabled              bool    `toml:"enabled"`
	Sink                 string  `toml:"sink"`
	SamplingRate         float64 `toml:"sampling_rate"`
	ExportIntervalSeconds int    `toml:"export_interval_seconds"`
}

type CacheConfig struct {
	Enabled    bool `toml:"enabled"`
	TTLSeconds int  `toml:"ttl_seconds"`
	MaxSizeMB  int  `toml:"max_size_mb"`
}

type PerformanceConfig struct {
	QueryTimeoutMS       int `toml:"query_timeout_ms"`
	MaxConcurrentSearches int `toml:"max_concurrent_searches"`
	SQLiteCacheSize      int `toml:"sqlite_cache_size"`
	MemoryLimitMB        int `toml:"memory_limit_mb"`
}

type IndexerConfig struct {
	IncludePatterns []string `toml:"include_patterns"`
	ExcludePatterns []string `toml:"exclude_patterns"`
	FollowSymlinks  bool     `toml:"follow_symlinks"`
	RespectGitignore bool    `toml:"respect_gitignore"`
}

// Default returns the configuration a fresh install should behave as if it
// had, used whenever the loader falls back per spec §7's "Config validation
// failure ... core must not panic — use defaults" disposition.
func Default() Config {
	return Config{
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout", Structured: true},
		Metrics: MetricsConfig{Enabled: true, Sink: "stdout", SamplingRate: 1.0, ExportIntervalSeconds: 60},
		Cache:   CacheConfig{Enabled: true, TTLSeconds: 3600, MaxSizeMB: 500},
		Performance: PerformanceConfig{
			QueryTimeoutMS: 5000, MaxConcurrentSearches: 10, SQLiteCacheSize: 8000, MemoryLimitMB: 4096,
		},
		Indexer: IndexerConfig{RespectGitignore: true},
	}
}

// Load reads a TOML file at path and applies PAMPAX_{SECTION}_{KEY}
// environment overrides. An invalid or missing file falls back to Default()
// rather than erroring, per spec §7 — the chosen disposition for spec §6's
// "implementation choice" on invalid values.
func Load(path string) Config {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			cfg = Default()
		}
	}

	applyEnvOverrides(&cfg)
	return cfg
}

// applyEnvOverrides mutates cfg in place from PAMPAX_{SECTION}_{KEY}
// variables, where dots in the TOML key path are replaced with underscores
// and the whole name is uppercased (spec §6).
func applyEnvOverrides(cfg *Config) {
	set := func(section, key string, assign func(string)) {
		name := "PAMPAX_" + strings.ToUpper(section) + "_" + strings.ToUpper(key)
		if v, ok := os.LookupEnv(name); ok {
			assign(v)
		}
	}
	setBool := func(section, key string, assign func(bool)) {
		set(section, key, func(v string) {
			if b, err := strconv.ParseBool(v); err == nil {
				assign(b)
			}
		})
	}
	setInt := func(section, key string, assign func(int)) {
		set(section, key, func(v string) {
			if n, err := strconv.Atoi(v); err == nil {
				assign(n)
			}
		})
	}
	setFloat := func(section, key string, assign func(float64)) {
		set(section, key, func(v string) {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				assign(f)
			}
		})
	}

	set("logging", "level", func(v string) { cfg.Logging.Level = v })
	set("logging", "format", func(v string) { cfg.Logging.Format = v })
	set("logging", "output", func(v string) { cfg.Logging.Output = v })
	setBool("logging", "structured", func(v bool) { cfg.Logging.Structured = v })

	setBool("metrics", "enabled", func(v bool) { cfg.Metrics.Enabled = v })
	set("metrics", "sink", func(v string) { cfg.Metrics.Sink = v })
	setFloat("metrics", "sampling_rate", func(v float64) { cfg.Metrics.SamplingRate = v })
	setInt("metrics", "export_interval_seconds", func(v int) { cfg.Metrics.ExportIntervalSeconds = v })

	setBool("cache", "enabled", func(v bool) { cfg.Cache.Enabled = v })
	setInt("cache", "ttl_seconds", func(v int) { cfg.Cache.TTLSeconds = v })
	setInt("cache", "max_size_mb", func(v int) { cfg.Cache.MaxSizeMB = v })

	setInt("performance", "query_timeout_ms", func(v int) { cfg.Performance.QueryTimeoutMS = v })
	setInt("performance", "max_concurrent_searches", func(v int) { cfg.Performance.MaxConcurrentSearches = v })
	setInt("performance", "sqlite_cache_size", func(v int) { cfg.Performance.SQLiteCacheSize = v })
	setInt("performance", "memory_limit_mb", func(v int) { cfg.Performance.MemoryLimitMB = v })

	setBool("indexer", "follow_symlinks", func(v bool) { cfg.Indexer.FollowSymlinks = v })
	setBool("indexer", "respect_gitignore", func(v bool) { cfg.Indexer.RespectGitignore = v })
}

// Validate reports configuration problems without mutating cfg. Callers
// (the CLI's config loader, out of scope here) decide whether to fall back
// to defaults or fail; the core never calls this.
func Validate(cfg Config) []error {
	var errs []error
	if cfg.Metrics.SamplingRate < 0 || cfg.Metrics.SamplingRate > 1 {
		errs = append(errs, fmt.Errorf("metrics.sampling_rate must be in [0,1], got %v", cfg.Metrics.SamplingRate))
	}
	if cfg.Cache.TTLSeconds < 0 {
		errs = append(errs, fmt.Errorf("cache.ttl_seconds must be >= 0, got %d", cfg.Cache.TTLSeconds))
	}
	return errs
}
