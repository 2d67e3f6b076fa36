// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/ManuGH/streamops/internal/opserr"
)

// SettingType names the value type a known key must parse as.
type SettingType string

const (
	TypeString SettingType = "string"
	TypeInt    SettingType = "int"
	TypeFloat  SettingType = "float"
	TypeBool   SettingType = "bool"
)

// SettingDef describes one known runtime setting.
type SettingDef struct {
	Key     string
	Type    SettingType
	Default string
	Doc     string
}

// Registry is the inventory of known runtime settings. Unknown keys are
// still storable (the config table is a generic key/value store); known
// keys get defaults and type validation.
type Registry struct {
	byKey map[string]SettingDef
	order []string
}

var (
	globalRegistry    *Registry
	globalRegistryErr error
	registryOnce      sync.Once
)

// GetRegistry returns the global settings registry.
// It returns an error if the registry contains duplicate keys.
func GetRegistry() (*Registry, error) {
	registryOnce.Do(func() {
		globalRegistry, globalRegistryErr = buildRegistry()
	})
	return globalRegistry, globalRegistryErr
}

func buildRegistry() (*Registry, error) {
	defs := []SettingDef{
		{Key: "quiet_period_sec", Type: TypeInt, Default: "45", Doc: "seconds a file must stay unchanged before it counts as closed"},
		{Key: "cpu_guard_pct", Type: TypeInt, Default: "80", Doc: "defer guarded actions while CPU utilization is at or above this percent"},
		{Key: "gpu_guard_pct", Type: TypeInt, Default: "80", Doc: "defer guarded actions while GPU utilization is at or above this percent"},
		{Key: "pause_when_recording", Type: TypeBool, Default: "true", Doc: "defer guarded actions while a recording is active"},
		{Key: "recording_active", Type: TypeBool, Default: "false", Doc: "manual recording flag, used when no external source is configured"},
		{Key: "recording_flag_source", Type: TypeString, Default: "config", Doc: "where the recording flag comes from: config or redis"},
		{Key: "redis_recording_key", Type: TypeString, Default: "streamops:recording_active", Doc: "redis key polled for the recording flag"},
		{Key: "proxy.min_duration_sec", Type: TypeFloat, Default: "5", Doc: "skip proxy generation for clips shorter than this"},
		{Key: "default_remux_container", Type: TypeString, Default: "mov", Doc: "container a remux action targets when the rule names none"},
		{Key: "copy_bwlimit_mbps", Type: TypeInt, Default: "0", Doc: "cap copy and cross-device move throughput at this many MiB/s, 0 for unthrottled"},
		{Key: "rule_deadline_sec", Type: TypeInt, Default: "600", Doc: "how long a guarded action may wait before failing"},
		{Key: "max_retries", Type: TypeInt, Default: "3", Doc: "default retry budget for new jobs"},
		{Key: "queue_paused", Type: TypeBool, Default: "false", Doc: "pause dispatching of queued jobs"},
	}

	r := &Registry{byKey: make(map[string]SettingDef, len(defs))}
	for _, d := range defs {
		if _, dup := r.byKey[d.Key]; dup {
			return nil, fmt.Errorf("duplicate registry key: %s", d.Key)
		}
		r.byKey[d.Key] = d
		r.order = append(r.order, d.Key)
	}
	return r, nil
}

// Lookup returns the definition for a known key.
func (r *Registry) Lookup(key string) (SettingDef, bool) {
	d, ok := r.byKey[key]
	return d, ok
}

// Keys returns the known keys in declaration order.
func (r *Registry) Keys() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// validate checks a value against the declared type of a known key.
// Unknown keys accept anything.
func (r *Registry) validate(key, value string) error {
	d, ok := r.byKey[key]
	if !ok {
		return nil
	}
	switch d.Type {
	case TypeInt:
		if _, err := strconv.Atoi(value); err != nil {
			return opserr.Newf(opserr.KindValidation, "config.set", "key %s wants an integer, got %q", key, value)
		}
	case TypeFloat:
		if _, err := strconv.ParseFloat(value, 64); err != nil {
			return opserr.Newf(opserr.KindValidation, "config.set", "key %s wants a number, got %q", key, value)
		}
	case TypeBool:
		if _, err := strconv.ParseBool(value); err != nil {
			return opserr.Newf(opserr.KindValidation, "config.set", "key %s wants a boolean, got %q", key, value)
		}
	}
	return nil
}

// StoredValue is one config row as persisted: ciphertext stays ciphertext.
type StoredValue struct {
	Value     string `json:"value"`
	Encrypted bool   `json:"encrypted"`
}

// Settings manages the runtime key/value store backed by the so_configs
// table. Reads are concurrent; writes serialize on a single-writer mutex.
type Settings struct {
	db       *sql.DB
	cipher   *Cipher
	registry *Registry

	mu sync.Mutex
}

// NewSettings wires the settings store. The cipher may be nil, which
// disables encrypted writes.
func NewSettings(db *sql.DB, cipher *Cipher) (*Settings, error) {
	registry, err := GetRegistry()
	if err != nil {
		return nil, err
	}
	return &Settings{db: db, cipher: cipher, registry: registry}, nil
}

// Registry exposes the known-key inventory.
func (s *Settings) Registry() *Registry { return s.registry }

// Get returns the effective plaintext value for key: the stored row when
// present (decrypted as needed), otherwise the registered default.
func (s *Settings) Get(ctx context.Context, key string) (string, error) {
	var value string
	var encrypted bool
	err := s.db.QueryRowContext(ctx,
		`SELECT value, encrypted FROM so_configs WHERE key = ?`, key,
	).Scan(&value, &encrypted)
	if err == sql.ErrNoRows {
		if d, ok := s.registry.Lookup(key); ok {
			return d.Default, nil
		}
		return "", opserr.Newf(opserr.KindNotFound, "config.get", "unknown config key %q", key)
	}
	if err != nil {
		return "", opserr.Wrap(err, opserr.KindInternal, "config.get", "query config")
	}

	if encrypted {
		if s.cipher == nil {
			return "", opserr.Newf(opserr.KindInternal, "config.get", "key %s is encrypted but no cipher is configured", key)
		}
		plain, err := s.cipher.Decrypt(value)
		if err != nil {
			return "", opserr.Wrap(err, opserr.KindInternal, "config.get", "decrypt config value")
		}
		return plain, nil
	}
	return value, nil
}

// GetInt returns the effective value of a known integer key.
func (s *Settings) GetInt(ctx context.Context, key string) (int, error) {
	v, err := s.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, opserr.Newf(opserr.KindValidation, "config.get", "key %s holds %q, not an integer", key, v)
	}
	return i, nil
}

// GetFloat returns the effective value of a known numeric key.
func (s *Settings) GetFloat(ctx context.Context, key string) (float64, error) {
	v, err := s.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, opserr.Newf(opserr.KindValidation, "config.get", "key %s holds %q, not a number", key, v)
	}
	return f, nil
}

// GetBool returns the effective value of a known boolean key.
func (s *Settings) GetBool(ctx context.Context, key string) (bool, error) {
	v, err := s.Get(ctx, key)
	if err != nil {
		return false, err
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, opserr.Newf(opserr.KindValidation, "config.get", "key %s holds %q, not a boolean", key, v)
	}
	return b, nil
}

// GetDuration reads a *_sec integer key as a duration.
func (s *Settings) GetDuration(ctx context.Context, key string) (time.Duration, error) {
	secs, err := s.GetInt(ctx, key)
	if err != nil {
		return 0, err
	}
	return time.Duration(secs) * time.Second, nil
}

// Set stores one value. Encrypted values are sealed before they hit the
// database; the plaintext never lands on disk.
func (s *Settings) Set(ctx context.Context, key, value string, encrypted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setLocked(ctx, s.db, key, value, encrypted)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Settings) setLocked(ctx context.Context, db execer, key, value string, encrypted bool) error {
	if key == "" {
		return opserr.New(opserr.KindValidation, "config.set", "config key must not be empty")
	}
	if err := s.registry.validate(key, value); err != nil {
		return err
	}

	stored := value
	if encrypted {
		if s.cipher == nil {
			return opserr.New(opserr.KindValidation, "config.set", "encrypted values need a configured cipher")
		}
		var err error
		stored, err = s.cipher.Encrypt(value)
		if err != nil {
			return opserr.Wrap(err, opserr.KindInternal, "config.set", "encrypt config value")
		}
	}

	_, err := db.ExecContext(ctx, `
	INSERT INTO so_configs (key, value, encrypted, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		value = excluded.value,
		encrypted = excluded.encrypted,
		updated_at = excluded.updated_at
	`, key, stored, encrypted, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return opserr.Wrap(err, opserr.KindInternal, "config.set", "upsert config")
	}
	return nil
}

// SetStored writes an already-persisted form (used by import, where
// encrypted values arrive as ciphertext and must stay byte-identical).
func (s *Settings) SetStored(ctx context.Context, key string, v StoredValue) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if key == "" {
		return opserr.New(opserr.KindValidation, "config.set", "config key must not be empty")
	}
	if !v.Encrypted {
		if err := s.registry.validate(key, v.Value); err != nil {
			return err
		}
	}
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO so_configs (key, value, encrypted, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		value = excluded.value,
		encrypted = excluded.encrypted,
		updated_at = excluded.updated_at
	`, key, v.Value, v.Encrypted, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return opserr.Wrap(err, opserr.KindInternal, "config.set", "upsert config")
	}
	return nil
}

// BulkSet applies several plaintext updates in one transaction.
func (s *Settings) BulkSet(ctx context.Context, values map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return opserr.Wrap(err, opserr.KindInternal, "config.bulk", "begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if err := s.setLocked(ctx, tx, k, values[k], false); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return opserr.Wrap(err, opserr.KindInternal, "config.bulk", "commit tx")
	}
	return nil
}

// All returns the effective config map in stored form: every persisted row
// plus registry defaults for known keys without a row. Encrypted values are
// returned as ciphertext.
func (s *Settings) All(ctx context.Context) (map[string]StoredValue, error) {
	out := make(map[string]StoredValue)
	for _, key := range s.registry.Keys() {
		d, _ := s.registry.Lookup(key)
		out[key] = StoredValue{Value: d.Default}
	}

	rows, err := s.db.QueryContext(ctx, `SELECT key, value, encrypted FROM so_configs`)
	if err != nil {
		return nil, opserr.Wrap(err, opserr.KindInternal, "config.all", "query config")
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var key string
		var v StoredValue
		if err := rows.Scan(&key, &v.Value, &v.Encrypted); err != nil {
			return nil, opserr.Wrap(err, opserr.KindInternal, "config.all", "scan config row")
		}
		out[key] = v
	}
	return out, rows.Err()
}
