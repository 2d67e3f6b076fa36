// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package bootstrap is the production composition root. WireServices builds
// the whole service graph out of the environment and returns a container the
// daemon entrypoint runs.
package bootstrap

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ManuGH/streamops/internal/actions"
	"github.com/ManuGH/streamops/internal/api"
	"github.com/ManuGH/streamops/internal/asset"
	"github.com/ManuGH/streamops/internal/cache"
	"github.com/ManuGH/streamops/internal/config"
	"github.com/ManuGH/streamops/internal/daemon"
	"github.com/ManuGH/streamops/internal/fsutil"
	"github.com/ManuGH/streamops/internal/guard"
	"github.com/ManuGH/streamops/internal/health"
	"github.com/ManuGH/streamops/internal/jobs"
	"github.com/ManuGH/streamops/internal/log"
	"github.com/ManuGH/streamops/internal/media"
	"github.com/ManuGH/streamops/internal/persistence/sqlite"
	"github.com/ManuGH/streamops/internal/rules"
	"github.com/ManuGH/streamops/internal/telemetry"
	"github.com/ManuGH/streamops/internal/watcher"
)

// Container is the production composition root output.
type Container struct {
	Config  config.Config
	Logger  zerolog.Logger
	Server  *api.Server
	Manager daemon.Manager
	App     *daemon.App

	// Engine is exposed for the wiring tests; production code drives it
	// through the watcher and the API reload callback only.
	Engine *rules.Engine
}

// WireServices builds the production dependency graph and returns a runnable
// container.
func WireServices(ctx context.Context, version, commit, buildDate string) (*Container, error) {
	if ctx == nil {
		return nil, fmt.Errorf("wire services context is nil")
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("prepare data directories: %w", err)
	}

	log.Configure(log.Config{
		Level:   cfg.LogLevel,
		Service: "streamops",
		Version: version,
		Dir:     cfg.LogsDir(),
		Pretty:  cfg.LogPretty,
	})
	logger := log.WithComponent("bootstrap")

	if configBytes, marshalErr := json.Marshal(cfg); marshalErr == nil {
		hash := sha256.Sum256(configBytes)
		logger.Info().
			Str("event", "config.snapshot").
			Str("sha256", fmt.Sprintf("%x", hash)).
			Msg("configuration snapshot fingerprint")
	}

	if err := health.PerformStartupChecks(ctx, cfg); err != nil {
		return nil, fmt.Errorf("startup checks failed: %w", err)
	}

	logger.Info().
		Str("event", "startup").
		Str("version", version).
		Str("commit", commit).
		Str("build_date", buildDate).
		Msg("starting streamops")
	logger.Info().Msgf("→ Data dir: %s", cfg.DataDir)
	logger.Info().Msgf("→ Admin API: %s", cfg.ListenAddr)
	if cfg.MetricsAddr != "" {
		logger.Info().Msgf("→ Metrics: %s", cfg.MetricsAddr)
	} else {
		logger.Info().Msg("→ Metrics: disabled")
	}
	logger.Info().Msgf("→ Toolchain: %s / %s", cfg.FFmpegBin, cfg.FFprobeBin)
	logger.Info().Msgf("→ Workers: %d", cfg.Workers)
	logger.Info().Msgf("→ Probe cache: %s", cfg.ProbeCache)

	tracing, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "streamops",
		ServiceVersion: version,
		Environment:    cfg.Telemetry.Environment,
		ExporterType:   cfg.Telemetry.ExporterType,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize telemetry: %w", err)
	}

	// An existing store is integrity-checked before anything writes to it;
	// refusing to start beats compounding page damage under WAL traffic.
	if fsutil.IsRegularFile(cfg.DBPath()) == nil {
		issues, verr := sqlite.VerifyIntegrity(cfg.DBPath(), "quick")
		if verr != nil {
			return nil, fmt.Errorf("verify state store: %w", verr)
		}
		if len(issues) > 0 {
			return nil, fmt.Errorf("state store failed integrity check: %s", strings.Join(issues, "; "))
		}
	}

	dbCfg := sqlite.DefaultConfig()
	if cfg.DBBusyTimeout > 0 {
		dbCfg.BusyTimeout = cfg.DBBusyTimeout
	}
	db, err := sqlite.Open(cfg.DBPath(), dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}
	if err := sqlite.Migrate(ctx, db); err != nil {
		return nil, fmt.Errorf("migrate state store: %w", err)
	}

	cipher, err := config.NewCipher(cfg.SaltPath())
	if err != nil {
		return nil, fmt.Errorf("initialize config cipher: %w", err)
	}
	settings, err := config.NewSettings(db, cipher)
	if err != nil {
		return nil, fmt.Errorf("initialize settings: %w", err)
	}
	roles := config.NewRoles(db)

	probeCache, closeProbeCache, err := buildProbeCache(cfg, logger)
	if err != nil {
		return nil, err
	}

	ffmpeg := media.NewRunner(cfg.FFmpegBin, cfg.KillTimeout)
	ffprobe := media.NewRunner(cfg.FFprobeBin, cfg.KillTimeout)
	prober := media.NewProber(ffprobe, probeCache)
	gpu := media.NewGPUDetector(cfg.FFmpegBin)
	staging, err := media.NewStaging(cfg.CacheDir())
	if err != nil {
		return nil, fmt.Errorf("initialize staging area: %w", err)
	}

	assets := asset.NewStore(db)
	events := asset.NewEventLog(db)
	indexer := asset.NewIndexer(assets, events, media.InfoProber{Prober: prober})

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient, err = guard.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			logger.Warn().Err(err).
				Str("addr", cfg.RedisAddr).
				Msg("redis unreachable, recording flag falls back to the config setting")
			redisClient = nil
		} else {
			logger.Info().Msgf("→ Recording flag: redis (%s)", cfg.RedisAddr)
		}
	}
	guardian := guard.New(settings, guard.Options{Redis: redisClient})

	jobStore := jobs.NewStore(db)
	queue := jobs.NewQueue(jobStore, settings)
	dispatcher := jobs.NewDispatcher(queue, cfg.Workers)

	if err := actions.RegisterAll(queue, actions.Deps{
		FFmpeg:    ffmpeg,
		Probe:     prober,
		GPU:       gpu,
		Staging:   staging,
		Assets:    assets,
		Indexer:   indexer,
		Events:    events,
		Settings:  settings,
		ThumbsDir: cfg.ThumbsDir(),
	}); err != nil {
		return nil, fmt.Errorf("register action handlers: %w", err)
	}

	ruleStore := rules.NewStore(db)
	executor := rules.NewExecutor(queue, guardian, events, settings)
	engine := rules.NewEngine(ruleStore, executor, cfg.Workers)
	if err := engine.Reload(ctx); err != nil {
		return nil, fmt.Errorf("load rule set: %w", err)
	}

	fsWatcher := watcher.New(roles, settings, fileClosedEmitter(indexer, engine), watcher.Options{})

	hm := health.NewManager(version)
	hm.RegisterChecker(health.NewDatabaseChecker(db))
	hm.RegisterChecker(health.NewDirChecker("data_dir", cfg.DataDir))
	hm.RegisterChecker(health.NewToolChecker("ffmpeg", cfg.FFmpegBin))
	hm.RegisterChecker(health.NewToolChecker("ffprobe", cfg.FFprobeBin))

	server := api.NewServer(cfg, api.Deps{
		Version:        version,
		Queue:          queue,
		Assets:         assets,
		Events:         events,
		Rules:          ruleStore,
		Settings:       settings,
		Roles:          roles,
		Guard:          guardian,
		GPU:            gpu,
		Health:         hm,
		OnRulesChanged: engine.Reload,
	})

	mgr, err := daemon.NewManager(cfg, daemon.Deps{
		Logger:         logger,
		API:            server,
		MetricsHandler: promhttp.Handler(),
		MetricsAddr:    cfg.MetricsAddr,
		Runners: []daemon.Runner{
			{Name: "dispatcher", Run: dispatcher.Run},
			{Name: "guard", Run: guardian.Run},
			{Name: "watcher", Run: fsWatcher.Run},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create daemon manager: %w", err)
	}

	// Hooks run LIFO: the engine drains while the stores are still open,
	// the database closes last.
	mgr.RegisterShutdownHook("db_close", func(context.Context) error { return db.Close() })
	if closeProbeCache != nil {
		mgr.RegisterShutdownHook("probe_cache_close", func(context.Context) error { return closeProbeCache() })
	}
	if redisClient != nil {
		mgr.RegisterShutdownHook("redis_close", func(context.Context) error { return redisClient.Close() })
	}
	mgr.RegisterShutdownHook("telemetry_shutdown", tracing.Shutdown)
	mgr.RegisterShutdownHook("engine_drain", func(context.Context) error { engine.Drain(); return nil })

	app := daemon.NewApp(logger, mgr, engine.Reload)

	return &Container{
		Config:  cfg,
		Logger:  logger,
		Server:  server,
		Manager: mgr,
		App:     app,
		Engine:  engine,
	}, nil
}

// buildProbeCache selects the ffprobe result cache backend. The close
// function is nil when the backend holds no resources.
func buildProbeCache(cfg config.Config, logger zerolog.Logger) (cache.Cache, func() error, error) {
	switch cfg.ProbeCache {
	case "badger":
		bc, err := cache.NewBadgerCache(cfg.ProbeCacheDir(), logger)
		if err != nil {
			return nil, nil, fmt.Errorf("open probe cache: %w", err)
		}
		return bc, bc.Close, nil
	case "memory":
		mc := cache.NewMemoryCache(5 * time.Minute)
		return mc, func() error { mc.Stop(); return nil }, nil
	default:
		return cache.NewNoOpCache(), nil, nil
	}
}

// Run starts the daemon app loop and blocks until shutdown.
func (c *Container) Run(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("run context is nil")
	}
	if c == nil {
		return fmt.Errorf("container is nil")
	}
	if c.App == nil || c.Manager == nil || c.Server == nil {
		return fmt.Errorf("container is not fully initialized")
	}
	return c.App.Run(ctx)
}
