// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package config provides configuration management for streamops: the
// bootstrap environment config read at startup, the runtime settings
// store backed by SQLite, and at-rest encryption for sensitive values.
package config
