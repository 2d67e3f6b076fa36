// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
)

// Config is the bootstrap configuration read once at startup. Everything an
// operator can change at runtime lives in the settings store instead (see
// Settings); these values shape process wiring and cannot change without a
// restart.
type Config struct {
	// DataDir is the root for all persistent state (db, logs, cache, thumbs).
	DataDir string

	LogLevel  string
	LogPretty bool

	// ListenAddr serves the admin API; MetricsAddr serves Prometheus.
	ListenAddr  string
	MetricsAddr string
	MaxConns    int

	FFmpegBin     string
	FFprobeBin    string
	KillTimeout   time.Duration
	Workers       int
	DBBusyTimeout time.Duration

	// ProbeCache selects the probe result cache backend: badger, memory or off.
	ProbeCache string

	// RedisAddr enables the Redis recording-flag source when non-empty.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	ShutdownTimeout time.Duration

	Telemetry TelemetryConfig
}

// TelemetryConfig configures the OTLP trace exporter.
type TelemetryConfig struct {
	Enabled      bool
	Environment  string
	ExporterType string
	Endpoint     string
	SamplingRate float64
}

// Load builds the bootstrap Config from the process environment. A .env file
// in the working directory is honored when present.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		DataDir:       ResolveDataDir(),
		LogLevel:      ParseString("SO_LOG_LEVEL", "info"),
		LogPretty:     ParseBool("SO_LOG_PRETTY", false),
		ListenAddr:    ParseString("SO_LISTEN", ":8591"),
		MetricsAddr:   ParseString("SO_METRICS_LISTEN", ":9090"),
		MaxConns:      ParseInt("SO_MAX_CONNS", 256),
		FFmpegBin:     ParseString("SO_FFMPEG_BIN", "ffmpeg"),
		FFprobeBin:    ParseString("SO_FFPROBE_BIN", "ffprobe"),
		KillTimeout:   ParseDuration("SO_FFMPEG_KILL_TIMEOUT", 5*time.Second),
		Workers:       ParseInt("SO_WORKERS", 4),
		DBBusyTimeout: ParseDuration("SO_DB_BUSY_TIMEOUT", 5*time.Second),
		ProbeCache:    ParseString("SO_PROBE_CACHE", "badger"),
		RedisAddr:     ParseString("SO_REDIS_ADDR", ""),
		RedisPassword: ParseString("SO_REDIS_PASSWORD", ""),
		RedisDB:       ParseInt("SO_REDIS_DB", 0),

		ShutdownTimeout: ParseDuration("SO_SHUTDOWN_TIMEOUT", 10*time.Second),

		Telemetry: TelemetryConfig{
			Enabled:      ParseBool("SO_OTEL_ENABLED", false),
			Environment:  ParseString("SO_ENVIRONMENT", "production"),
			ExporterType: ParseString("SO_OTEL_EXPORTER", "grpc"),
			Endpoint:     ParseString("SO_OTEL_ENDPOINT", "localhost:4317"),
			SamplingRate: ParseFloat("SO_OTEL_SAMPLE_RATE", 1.0),
		},
	}
}

// Validate fails fast on configuration that would only surface as a broken
// daemon later.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data dir must not be empty")
	}
	if !filepath.IsAbs(c.DataDir) {
		return fmt.Errorf("data dir %q must be absolute", c.DataDir)
	}
	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		return fmt.Errorf("invalid listen addr %q: %w", c.ListenAddr, err)
	}
	if c.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(c.MetricsAddr); err != nil {
			return fmt.Errorf("invalid metrics addr %q: %w", c.MetricsAddr, err)
		}
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be >= 1, got %d", c.Workers)
	}
	switch c.ProbeCache {
	case "badger", "memory", "off":
	default:
		return fmt.Errorf("invalid probe cache backend %q (want badger, memory or off)", c.ProbeCache)
	}
	switch c.Telemetry.ExporterType {
	case "grpc", "http", "noop":
	default:
		return fmt.Errorf("invalid otel exporter %q (want grpc, http or noop)", c.Telemetry.ExporterType)
	}
	if r := c.Telemetry.SamplingRate; r < 0 || r > 1 {
		return fmt.Errorf("otel sample rate %v out of range [0,1]", r)
	}
	return nil
}

// Derived locations under DataDir.

func (c Config) DBPath() string         { return filepath.Join(c.DataDir, "db", "streamops.db") }
func (c Config) ConfigDir() string      { return filepath.Join(c.DataDir, "config") }
func (c Config) ConfigPath() string     { return filepath.Join(c.ConfigDir(), "config.json") }
func (c Config) SaltPath() string       { return filepath.Join(c.ConfigDir(), ".salt") }
func (c Config) LogsDir() string        { return filepath.Join(c.DataDir, "logs") }
func (c Config) CacheDir() string       { return filepath.Join(c.DataDir, "cache") }
func (c Config) ProbeCacheDir() string  { return filepath.Join(c.CacheDir(), "probe") }
func (c Config) ThumbsDir() string      { return filepath.Join(c.DataDir, "thumbs") }

// EnsureDirs creates the data directory tree.
func (c Config) EnsureDirs() error {
	for _, dir := range []string{
		filepath.Dir(c.DBPath()),
		c.ConfigDir(),
		c.LogsDir(),
		c.CacheDir(),
		c.ThumbsDir(),
	} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	return nil
}
