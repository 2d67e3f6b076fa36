package log

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// Config captures options for configuring the global logger.
type Config struct {
	Level   string    // optional log level ("debug", "info", etc.)
	Output  io.Writer // optional writer override (used by tests; disables file sinks)
	Service string    // optional service name attached to every log entry
	Version string    // optional build version attached to every log entry
	Dir     string    // optional log directory; enables rotating file sinks
	Pretty  bool      // force human-readable console output
}

var (
	once sync.Once
	base zerolog.Logger
)

// Configure initialises the global zerolog logger exactly once. The first
// caller wins; later calls are no-ops. cmd/daemon calls it before anything
// else logs.
func Configure(cfg Config) {
	once.Do(func() {
		level := zerolog.InfoLevel
		if cfg.Level != "" {
			if parsed, err := zerolog.ParseLevel(cfg.Level); err == nil {
				level = parsed
			}
		} else if env := os.Getenv("SO_LOG_LEVEL"); env != "" {
			if parsed, err := zerolog.ParseLevel(env); err == nil {
				level = parsed
			}
		}
		zerolog.SetGlobalLevel(level)
		zerolog.TimeFieldFormat = time.RFC3339

		service := cfg.Service
		if service == "" {
			service = os.Getenv("SO_LOG_SERVICE")
			if service == "" {
				service = "streamops"
			}
		}

		writer := cfg.Output
		if writer == nil {
			writer = buildWriter(cfg, service)
		}

		base = zerolog.New(writer).With().
			Timestamp().
			Str("service", service).
			Str("version", cfg.Version).
			Logger()
	})
}

// buildWriter stacks the console sink with the rotating file sinks when a log
// directory is configured.
func buildWriter(cfg Config, service string) io.Writer {
	var console io.Writer = os.Stdout
	if cfg.Pretty || isatty.IsTerminal(os.Stdout.Fd()) {
		console = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	}

	if cfg.Dir == "" {
		return console
	}

	main := rotatingWriter(filepath.Join(cfg.Dir, service+".log"))
	errs := errorOnlyWriter(filepath.Join(cfg.Dir, service+"_errors.log"))
	return zerolog.MultiLevelWriter(console, main, errs)
}

func logger() zerolog.Logger {
	Configure(Config{})
	return base
}

// Base returns the configured base logger instance.
func Base() zerolog.Logger {
	return logger()
}

// WithComponent returns a child logger annotated with the given component name.
func WithComponent(component string) zerolog.Logger {
	l := logger().With().Str("component", component).Logger()
	return l
}

// Derive attaches arbitrary fields to a child logger using the provided builder function.
func Derive(build func(*zerolog.Context)) zerolog.Logger {
	ctx := logger().With()
	if build != nil {
		build(&ctx)
	}
	return ctx.Logger()
}
