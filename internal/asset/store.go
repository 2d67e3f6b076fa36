// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package asset

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/ManuGH/streamops/internal/normalize"
	"github.com/ManuGH/streamops/internal/opserr"
)

// Store persists assets and keeps the search index in step with them. Every
// write that changes file_name, path or tags refreshes the FTS row in the
// same transaction.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const assetColumns = `id, abs_path, current_path, size, mtime, ctime, file_hash, status,
	duration_sec, width, height, fps, video_codec, audio_codec, bitrate, container,
	tags, last_error, created_at, updated_at`

// Upsert inserts the asset or updates the existing row by id. AbsPath,
// CreatedAt and Tags are insert-only: moves go through SetCurrentPath and
// tag changes through MergeTags.
func (s *Store) Upsert(ctx context.Context, a *Asset) error {
	if a.ID == "" || a.AbsPath == "" {
		return opserr.New(opserr.KindValidation, "asset.upsert", "id and abs_path are required")
	}
	if a.CurrentPath == "" {
		a.CurrentPath = a.AbsPath
	}
	if a.Status == "" {
		a.Status = StatusPending
	}

	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	tagsJSON, err := marshalTags(a.Tags)
	if err != nil {
		return fmt.Errorf("asset %s: encode tags: %w", a.ID, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	query := `
	INSERT INTO so_assets (
		id, abs_path, current_path, size, mtime, ctime, file_hash, status,
		duration_sec, width, height, fps, video_codec, audio_codec, bitrate,
		container, tags, last_error, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		current_path = excluded.current_path,
		size         = excluded.size,
		mtime        = excluded.mtime,
		ctime        = excluded.ctime,
		file_hash    = excluded.file_hash,
		status       = excluded.status,
		duration_sec = excluded.duration_sec,
		width        = excluded.width,
		height       = excluded.height,
		fps          = excluded.fps,
		video_codec  = excluded.video_codec,
		audio_codec  = excluded.audio_codec,
		bitrate      = excluded.bitrate,
		container    = excluded.container,
		last_error   = excluded.last_error,
		updated_at   = excluded.updated_at
	`
	_, err = tx.ExecContext(ctx, query,
		a.ID, a.AbsPath, a.CurrentPath, a.Size,
		timeOrNil(a.MTime), timeOrNil(a.CTime),
		a.FileHash, a.Status,
		a.Media.DurationSec, a.Media.Width, a.Media.Height, a.Media.FPS,
		a.Media.VideoCodec, a.Media.AudioCodec, a.Media.Bitrate, a.Media.Container,
		tagsJSON, strOrNil(a.LastError),
		a.CreatedAt.Format(time.RFC3339), a.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("asset %s: upsert: %w", a.ID, err)
	}

	// The row's tags may predate this call, read them back for the index.
	stored, err := s.getTx(ctx, tx, a.ID)
	if err != nil {
		return err
	}
	if err := refreshFTS(ctx, tx, stored); err != nil {
		return fmt.Errorf("asset %s: refresh search index: %w", a.ID, err)
	}
	a.Tags = stored.Tags
	a.CreatedAt = stored.CreatedAt

	return tx.Commit()
}

// Get retrieves an asset by id.
func (s *Store) Get(ctx context.Context, id string) (*Asset, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+assetColumns+` FROM so_assets WHERE id = ?`, id)
	a, err := scanAsset(row)
	if err == sql.ErrNoRows {
		return nil, opserr.Newf(opserr.KindNotFound, "asset.get", "asset %s not found", id)
	}
	return a, err
}

// LookupByPath retrieves the asset whose current_path matches path.
func (s *Store) LookupByPath(ctx context.Context, path string) (*Asset, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+assetColumns+` FROM so_assets WHERE current_path = ?`, path)
	a, err := scanAsset(row)
	if err == sql.ErrNoRows {
		return nil, opserr.Newf(opserr.KindNotFound, "asset.lookup", "no asset at %s", path)
	}
	return a, err
}

// FindByHash retrieves an asset by content fingerprint. Size is part of the
// key because large files are only partially hashed.
func (s *Store) FindByHash(ctx context.Context, fileHash string, size int64) (*Asset, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+assetColumns+` FROM so_assets WHERE file_hash = ? AND size = ? LIMIT 1`,
		fileHash, size)
	a, err := scanAsset(row)
	if err == sql.ErrNoRows {
		return nil, opserr.New(opserr.KindNotFound, "asset.find", "no asset with that fingerprint")
	}
	return a, err
}

// SetCurrentPath records that the asset's file now lives at path.
func (s *Store) SetCurrentPath(ctx context.Context, id, path string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE so_assets SET current_path = ?, updated_at = ? WHERE id = ?`,
		path, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("asset %s: set path: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return opserr.Newf(opserr.KindNotFound, "asset.setpath", "asset %s not found", id)
	}

	stored, err := s.getTx(ctx, tx, id)
	if err != nil {
		return err
	}
	if err := refreshFTS(ctx, tx, stored); err != nil {
		return fmt.Errorf("asset %s: refresh search index: %w", id, err)
	}
	return tx.Commit()
}

// MergeTags unions tags into the asset's tag set and returns the merged,
// sorted result.
func (s *Store) MergeTags(ctx context.Context, id string, tags []string) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	stored, err := s.getTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(stored.Tags)+len(tags))
	merged := make([]string, 0, len(stored.Tags)+len(tags))
	for _, t := range append(append([]string{}, stored.Tags...), tags...) {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		merged = append(merged, t)
	}
	sort.Strings(merged)

	tagsJSON, err := marshalTags(merged)
	if err != nil {
		return nil, fmt.Errorf("asset %s: encode tags: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE so_assets SET tags = ?, updated_at = ? WHERE id = ?`,
		tagsJSON, time.Now().UTC().Format(time.RFC3339), id); err != nil {
		return nil, fmt.Errorf("asset %s: merge tags: %w", id, err)
	}

	stored.Tags = merged
	if err := refreshFTS(ctx, tx, stored); err != nil {
		return nil, fmt.Errorf("asset %s: refresh search index: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return merged, nil
}

// SetStatus updates the lifecycle status.
func (s *Store) SetStatus(ctx context.Context, id, status string) error {
	switch status {
	case StatusPending, StatusIndexed, StatusError:
	default:
		return opserr.Newf(opserr.KindValidation, "asset.status", "unknown status %q", status)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE so_assets SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("asset %s: set status: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return opserr.Newf(opserr.KindNotFound, "asset.status", "asset %s not found", id)
	}
	return nil
}

// SetError marks the asset failed and records why. The error status is the
// one state in which current_path may name a missing file.
func (s *Store) SetError(ctx context.Context, id, message string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE so_assets SET status = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		StatusError, message, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("asset %s: set error: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return opserr.Newf(opserr.KindNotFound, "asset.seterror", "asset %s not found", id)
	}
	return nil
}

// ListOptions filter and page List results.
type ListOptions struct {
	Status string
	Limit  int
	Offset int
}

// List returns a page of assets, newest first, plus the unpaged total.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]Asset, int, error) {
	if opts.Limit <= 0 {
		opts.Limit = 50
	}

	where := ""
	args := []any{}
	if opts.Status != "" {
		where = " WHERE status = ?"
		args = append(args, opts.Status)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM so_assets`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("asset list: count: %w", err)
	}

	query := `SELECT ` + assetColumns + ` FROM so_assets` + where +
		` ORDER BY created_at DESC, id ASC LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, query, append(args, opts.Limit, opts.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("asset list: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var assets []Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, 0, err
		}
		assets = append(assets, *a)
	}
	return assets, total, rows.Err()
}

// Search runs a full-text query over file names, paths and tags. Query text
// is folded the same way the index was built, so accents and case do not
// matter; every token matches as a prefix.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]Asset, error) {
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
	SELECT `+prefixColumns("a")+`
	FROM so_assets_fts
	JOIN so_assets a ON a.id = so_assets_fts.asset_id
	WHERE so_assets_fts MATCH ?
	ORDER BY so_assets_fts.rank
	LIMIT ?`, match, limit)
	if err != nil {
		return nil, fmt.Errorf("asset search %q: %w", query, err)
	}
	defer func() { _ = rows.Close() }()

	var assets []Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, *a)
	}
	return assets, rows.Err()
}

// Count returns the total number of asset rows.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM so_assets`).Scan(&n)
	return n, err
}

func (s *Store) getTx(ctx context.Context, tx *sql.Tx, id string) (*Asset, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+assetColumns+` FROM so_assets WHERE id = ?`, id)
	a, err := scanAsset(row)
	if err == sql.ErrNoRows {
		return nil, opserr.Newf(opserr.KindNotFound, "asset.get", "asset %s not found", id)
	}
	return a, err
}

// refreshFTS replaces the asset's search row. Indexed text is folded once at
// write time; Search folds queries with the same transform.
func refreshFTS(ctx context.Context, tx *sql.Tx, a *Asset) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM so_assets_fts WHERE asset_id = ?`, a.ID); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO so_assets_fts (file_name, path, tags, asset_id) VALUES (?, ?, ?, ?)`,
		normalize.Fold(filepath.Base(a.CurrentPath)),
		normalize.Fold(a.CurrentPath),
		normalize.Fold(strings.Join(a.Tags, " ")),
		a.ID,
	)
	return err
}

// ftsQuery folds the query and rewrites it as quoted prefix tokens. Only
// letters and digits survive, mirroring how the unicode61 tokenizer splits
// indexed text, so FTS5 operator characters in user input never become
// query syntax.
func ftsQuery(query string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, normalize.Fold(query))

	fields := strings.Fields(cleaned)
	if len(fields) == 0 {
		return ""
	}
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		tokens = append(tokens, `"`+f+`"*`)
	}
	return strings.Join(tokens, " ")
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAsset(sc scanner) (*Asset, error) {
	var (
		a                    Asset
		mtime, ctime         sql.NullString
		durationSec, fps     sql.NullFloat64
		width, height        sql.NullInt64
		vcodec, acodec       sql.NullString
		bitrate              sql.NullInt64
		container, lastError sql.NullString
		tagsJSON             string
		createdAt, updatedAt string
	)

	err := sc.Scan(
		&a.ID, &a.AbsPath, &a.CurrentPath, &a.Size, &mtime, &ctime, &a.FileHash, &a.Status,
		&durationSec, &width, &height, &fps, &vcodec, &acodec, &bitrate, &container,
		&tagsJSON, &lastError, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.MTime = parseTime(mtime)
	a.CTime = parseTime(ctime)
	a.Media = MediaInfo{
		DurationSec: durationSec.Float64,
		Width:       int(width.Int64),
		Height:      int(height.Int64),
		FPS:         fps.Float64,
		VideoCodec:  vcodec.String,
		AudioCodec:  acodec.String,
		Bitrate:     bitrate.Int64,
		Container:   container.String,
	}
	a.LastError = lastError.String
	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	a.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	if err := json.Unmarshal([]byte(tagsJSON), &a.Tags); err != nil {
		return nil, fmt.Errorf("asset %s: decode tags: %w", a.ID, err)
	}
	return &a, nil
}

func prefixColumns(alias string) string {
	cols := strings.Split(assetColumns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

func marshalTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func timeOrNil(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func strOrNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func parseTime(ns sql.NullString) time.Time {
	if !ns.Valid {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return time.Time{}
	}
	return t
}
