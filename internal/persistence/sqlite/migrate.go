package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// schemaVersion is the user_version the current binary expects.
const schemaVersion = 1

// Migrate brings the database to the current schema. Each step runs inside a
// transaction together with its user_version bump, so a crash mid-migration
// leaves a consistent version.
func Migrate(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("sqlite: read user_version: %w", err)
	}

	if version > schemaVersion {
		return fmt.Errorf("sqlite: database schema v%d is newer than binary (v%d)", version, schemaVersion)
	}

	for version < schemaVersion {
		next := version + 1
		if err := applyMigration(ctx, db, next); err != nil {
			return fmt.Errorf("sqlite: migrate to v%d: %w", next, err)
		}
		version = next
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, target int) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	switch target {
	case 1:
		if _, err := tx.ExecContext(ctx, schemaV1); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown schema version %d", target)
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", target)); err != nil {
		return err
	}
	return tx.Commit()
}

// Timestamps are stored as RFC 3339 UTC strings: they compare lexically and
// stay readable in the sqlite3 shell.
const schemaV1 = `
CREATE TABLE IF NOT EXISTS so_assets (
	id            TEXT PRIMARY KEY,
	abs_path      TEXT NOT NULL,
	current_path  TEXT NOT NULL,
	size          INTEGER NOT NULL DEFAULT 0,
	mtime         TEXT,
	ctime         TEXT,
	file_hash     TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'pending',
	duration_sec  REAL,
	width         INTEGER,
	height        INTEGER,
	fps           REAL,
	video_codec   TEXT,
	audio_codec   TEXT,
	bitrate       INTEGER,
	container     TEXT,
	tags          TEXT NOT NULL DEFAULT '[]',
	last_error    TEXT,
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_so_assets_current_path ON so_assets(current_path);
CREATE INDEX IF NOT EXISTS idx_so_assets_hash_size ON so_assets(file_hash, size);

CREATE TABLE IF NOT EXISTS so_asset_events (
	id          TEXT PRIMARY KEY,
	asset_id    TEXT NOT NULL REFERENCES so_assets(id),
	event_type  TEXT NOT NULL,
	payload     TEXT NOT NULL DEFAULT '{}',
	job_id      TEXT,
	created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_so_asset_events_asset ON so_asset_events(asset_id, created_at);

CREATE TABLE IF NOT EXISTS so_jobs (
	id             TEXT PRIMARY KEY,
	type           TEXT NOT NULL,
	asset_id       TEXT,
	payload        TEXT NOT NULL DEFAULT '{}',
	state          TEXT NOT NULL DEFAULT 'queued',
	priority       TEXT NOT NULL DEFAULT 'normal',
	progress       REAL NOT NULL DEFAULT 0,
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 3,
	timeout_sec    INTEGER,
	retry_at       TEXT,
	result         TEXT,
	error_message  TEXT,
	created_at     TEXT NOT NULL,
	started_at     TEXT,
	completed_at   TEXT,
	updated_at     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_so_jobs_state ON so_jobs(state, created_at);
CREATE INDEX IF NOT EXISTS idx_so_jobs_asset ON so_jobs(asset_id);

CREATE TABLE IF NOT EXISTS so_progress (
	job_id      TEXT PRIMARY KEY,
	progress    REAL NOT NULL DEFAULT 0,
	message     TEXT,
	updated_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS so_rules (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	priority    INTEGER NOT NULL DEFAULT 0,
	enabled     INTEGER NOT NULL DEFAULT 1,
	doc         TEXT NOT NULL,
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS so_roles (
	role      TEXT PRIMARY KEY,
	abs_path  TEXT NOT NULL,
	watch     INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS so_configs (
	key         TEXT PRIMARY KEY,
	value       TEXT NOT NULL,
	encrypted   INTEGER NOT NULL DEFAULT 0,
	updated_at  TEXT NOT NULL
);

CREATE VIRTUAL TABLE IF NOT EXISTS so_assets_fts USING fts5(
	file_name,
	path,
	tags,
	asset_id UNINDEXED
);
`
