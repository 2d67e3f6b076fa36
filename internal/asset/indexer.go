// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package asset

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/streamops/internal/log"
	"github.com/ManuGH/streamops/internal/metrics"
	"github.com/ManuGH/streamops/internal/opserr"
)

// Prober extracts technical metadata from a media file. The media package
// provides the ffprobe-backed implementation.
type Prober interface {
	Probe(ctx context.Context, path string) (MediaInfo, error)
}

// Index outcomes.
const (
	IndexOutcomeIndexed = "indexed"
	IndexOutcomeSkipped = "skipped"
)

// IndexResult reports what Index did with a path.
type IndexResult struct {
	Asset   *Asset `json:"asset"`
	Outcome string `json:"outcome"`
}

// Indexer turns files on disk into asset rows. Indexing is idempotent: an
// unchanged file is skipped, a changed one is re-probed, and content already
// known under another path is adopted instead of duplicated.
type Indexer struct {
	store  *Store
	events *EventLog
	prober Prober
	logger zerolog.Logger
}

func NewIndexer(store *Store, events *EventLog, prober Prober) *Indexer {
	return &Indexer{
		store:  store,
		events: events,
		prober: prober,
		logger: log.WithComponent("asset.indexer"),
	}
}

// Index fingerprints the file at path and upserts its asset row. Unless
// force is set, a row whose stored mtime is at least the file's mtime is
// left untouched. The first index of new content emits a "recorded" event.
func (ix *Indexer) Index(ctx context.Context, path string, force bool, jobID string) (*IndexResult, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, opserr.Wrap(err, opserr.KindValidation, "asset.index", "resolve path")
	}

	info, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, opserr.Newf(opserr.KindNotFound, "asset.index", "file %s does not exist", absPath)
		}
		return nil, opserr.Wrap(err, opserr.KindIO, "asset.index", "stat "+absPath)
	}
	if !info.Mode().IsRegular() {
		return nil, opserr.Newf(opserr.KindValidation, "asset.index", "%s is not a regular file", absPath)
	}

	fileHash, err := HashFile(absPath)
	if err != nil {
		return nil, opserr.Wrap(err, opserr.KindIO, "asset.index", "fingerprint "+absPath)
	}

	existing, err := ix.lookupExisting(ctx, ID(absPath), fileHash, info.Size())
	if err != nil {
		return nil, err
	}

	fileMTime := info.ModTime().UTC().Truncate(time.Second)
	if existing != nil && !force && !existing.MTime.Before(fileMTime) {
		return &IndexResult{Asset: existing, Outcome: IndexOutcomeSkipped}, nil
	}

	media, err := ix.prober.Probe(ctx, absPath)
	if err != nil {
		return nil, err
	}

	a := &Asset{
		ID:          ID(absPath),
		AbsPath:     absPath,
		CurrentPath: absPath,
		Size:        info.Size(),
		MTime:       fileMTime,
		CTime:       ctimeOf(info),
		FileHash:    fileHash,
		Status:      StatusIndexed,
		Media:       media,
	}
	if existing != nil {
		// Same content seen before, possibly under another path: keep the
		// original identity instead of minting a second asset.
		a.ID = existing.ID
		a.AbsPath = existing.AbsPath
		a.CreatedAt = existing.CreatedAt
	}

	if err := ix.store.Upsert(ctx, a); err != nil {
		return nil, err
	}

	if existing == nil {
		payload := map[string]any{"path": absPath, "size": info.Size()}
		if _, err := ix.events.Emit(ctx, a.ID, EventRecorded, payload, jobID); err != nil {
			return nil, err
		}
	}

	metrics.IncAssetIndexed()
	ix.logger.Info().
		Str(log.FieldAssetID, a.ID).
		Str(log.FieldPath, absPath).
		Int64("size", a.Size).
		Bool("first_index", existing == nil).
		Msg("asset indexed")

	return &IndexResult{Asset: a, Outcome: IndexOutcomeIndexed}, nil
}

// lookupExisting finds a prior row by id, then by content fingerprint.
func (ix *Indexer) lookupExisting(ctx context.Context, id, fileHash string, size int64) (*Asset, error) {
	a, err := ix.store.Get(ctx, id)
	if err == nil {
		return a, nil
	}
	if opserr.KindOf(err) != opserr.KindNotFound {
		return nil, err
	}

	a, err = ix.store.FindByHash(ctx, fileHash, size)
	if err == nil {
		return a, nil
	}
	if opserr.KindOf(err) != opserr.KindNotFound {
		return nil, err
	}
	return nil, nil
}
