// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ManuGH/streamops/internal/log"
)

// envValue reads key and logs which source won. Empty counts as unset so
// `SO_FOO=` in a unit file cannot blank out a default. Values of keys that
// look sensitive never reach the log.
func envValue(key string) (string, bool) {
	logger := log.WithComponent("config")
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		logger.Debug().
			Str("key", key).
			Str("source", "default").
			Msg("env var unset, using default")
		return "", false
	}

	ev := logger.Debug().Str("key", key).Str("source", "environment")
	if sensitiveKey(key) {
		ev = ev.Bool("sensitive", true)
	} else {
		ev = ev.Str("value", v)
	}
	ev.Msg("using environment variable")
	return v, true
}

func sensitiveKey(key string) bool {
	k := strings.ToLower(key)
	return strings.Contains(k, "password") || strings.Contains(k, "secret") || strings.Contains(k, "token")
}

func warnInvalid(key, value, want string) {
	logger := log.WithComponent("config")
	logger.Warn().
		Str("key", key).
		Str("value", value).
		Str("want", want).
		Msg("invalid environment value, using default")
}

// ParseString reads key from the environment, falling back to def.
func ParseString(key, def string) string {
	if v, ok := envValue(key); ok {
		return v
	}
	return def
}

// ParseInt reads an integer; a malformed value falls back to def.
func ParseInt(key string, def int) int {
	v, ok := envValue(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		warnInvalid(key, v, "integer")
		return def
	}
	return n
}

// ParseBool accepts true/false, 1/0 and yes/no in any case.
func ParseBool(key string, def bool) bool {
	v, ok := envValue(key)
	if !ok {
		return def
	}
	switch strings.ToLower(v) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	}
	warnInvalid(key, v, "boolean")
	return def
}

// ParseDuration reads a Go duration string such as "45s" or "2m".
func ParseDuration(key string, def time.Duration) time.Duration {
	v, ok := envValue(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		warnInvalid(key, v, "duration")
		return def
	}
	return d
}

// ParseFloat reads a float64; a malformed value falls back to def.
func ParseFloat(key string, def float64) float64 {
	v, ok := envValue(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		warnInvalid(key, v, "number")
		return def
	}
	return f
}

// ResolveDataDir resolves the data root from SO_DATA, defaulting to /data.
func ResolveDataDir() string {
	if v := strings.TrimSpace(ParseString("SO_DATA", "")); v != "" {
		return v
	}
	return "/data"
}
