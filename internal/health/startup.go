// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ManuGH/streamops/internal/config"
	"github.com/ManuGH/streamops/internal/log"
	"github.com/rs/zerolog"
)

// PerformStartupChecks validates the environment and dependencies before the
// daemon starts accepting work.
func PerformStartupChecks(ctx context.Context, cfg config.Config) error {
	logger := log.WithComponent("startup-check")
	logger.Info().Msg("Running pre-flight startup checks...")

	// 1. Data Directory Permissions
	if err := checkDataDir(logger, cfg.DataDir); err != nil {
		return fmt.Errorf("data directory check failed: %w", err)
	}

	// 2. Listen Addresses
	if err := checkListenAddr(logger, "admin", cfg.ListenAddr); err != nil {
		return err
	}
	if err := checkListenAddr(logger, "metrics", cfg.MetricsAddr); err != nil {
		return err
	}

	// 3. Media Toolchain
	if err := checkTools(logger, cfg); err != nil {
		return err
	}

	// 4. Redis (recording-flag source, optional)
	if cfg.RedisAddr != "" {
		if _, _, err := net.SplitHostPort(cfg.RedisAddr); err != nil {
			return fmt.Errorf("invalid SO_REDIS_ADDR %q: %w", cfg.RedisAddr, err)
		}
		logger.Info().Str("addr", cfg.RedisAddr).Msg("✓ Redis address is valid")
	}

	tempDir := filepath.Clean(os.TempDir())
	dataDir := filepath.Clean(cfg.DataDir)
	if tempDir != "." && (dataDir == tempDir || strings.HasPrefix(dataDir, tempDir+string(filepath.Separator))) {
		logger.Warn().
			Str("data_dir", cfg.DataDir).
			Msg("data directory is under temp; assets and state may be lost on reboot")
	}

	logger.Info().Msg("✅ All startup checks passed")
	return nil
}

func checkDataDir(logger zerolog.Logger, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("directory does not exist: %s", path)
		}
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}

	// Check write permissions by creating a temp file
	testFile := filepath.Join(path, ".write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0600); err != nil {
		return fmt.Errorf("directory is not writable: %s (error: %v)", path, err)
	}
	_ = os.Remove(testFile)

	logger.Info().Str("path", path).Msg("✓ Data directory is writable")
	return nil
}

func checkListenAddr(logger zerolog.Logger, name, addr string) error {
	if addr == "" {
		return nil
	}
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid %s listen address %q: %w", name, addr, err)
	}
	portNum, err := strconv.Atoi(port)
	if err != nil || portNum < 0 || portNum > 65535 {
		return fmt.Errorf("invalid %s listen port %q in %q", name, port, addr)
	}
	logger.Info().Str("addr", addr).Str("listener", name).Msg("✓ Listen address is valid")
	return nil
}

func checkTools(logger zerolog.Logger, cfg config.Config) error {
	ffmpeg := strings.TrimSpace(cfg.FFmpegBin)
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	if _, err := exec.LookPath(ffmpeg); err != nil {
		return fmt.Errorf("ffmpeg binary not found (%s): %w", ffmpeg, err)
	}

	ffprobe := strings.TrimSpace(cfg.FFprobeBin)
	if ffprobe == "" {
		ffprobe = "ffprobe"
	}
	if _, err := exec.LookPath(ffprobe); err != nil {
		return fmt.Errorf("ffprobe binary not found (%s): %w", ffprobe, err)
	}

	logger.Info().Str("ffmpeg", ffmpeg).Str("ffprobe", ffprobe).Msg("✓ Media toolchain available")
	return nil
}
