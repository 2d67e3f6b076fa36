// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package guard

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient dials the external recording-flag source and verifies the
// connection. The daemon treats a dial failure as "run without Redis", so
// the error is returned instead of logged here.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// recordingActive resolves the recording flag from the configured source.
// The Redis source falls back to the config flag when the key read fails, so
// a Redis outage cannot wedge the pipeline into permanent deferral.
func (g *Guard) recordingActive(ctx context.Context) bool {
	source, err := g.settings.Get(ctx, "recording_flag_source")
	if err != nil {
		source = "config"
	}

	if source == "redis" {
		if g.redis == nil {
			g.noRedisWarn.Do(func() {
				g.logger.Warn().Msg("recording_flag_source is redis but no redis address is configured")
			})
		} else if active, ok := g.redisFlag(ctx); ok {
			return active
		}
	}

	active, err := g.settings.GetBool(ctx, "recording_active")
	return err == nil && active
}

func (g *Guard) redisFlag(ctx context.Context) (bool, bool) {
	key, err := g.settings.Get(ctx, "redis_recording_key")
	if err != nil || key == "" {
		return false, false
	}

	val, err := g.redis.Get(ctx, key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		// Absent key means no recording.
		return false, true
	case err != nil:
		g.logger.Debug().Err(err).Str("key", key).Msg("redis recording flag read failed")
		return false, false
	}
	return truthy(val), true
}

func truthy(s string) bool {
	s = strings.TrimSpace(strings.ToLower(s))
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s == "yes" || s == "on"
}
