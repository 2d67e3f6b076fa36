// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package actions

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/ManuGH/streamops/internal/jobs"
	"github.com/ManuGH/streamops/internal/log"
	"github.com/ManuGH/streamops/internal/opserr"
)

// Index fingerprints a file into the asset catalog. The heavy lifting
// lives in asset.Indexer; here we just resolve the path and surface the
// asset id so a rule can pick it up for later actions.
type Index struct {
	d      Deps
	logger zerolog.Logger
}

func NewIndex(d Deps) *Index {
	return &Index{d: d, logger: log.WithComponent("actions.index")}
}

func (a *Index) Execute(ctx context.Context, job *jobs.Job, progress jobs.ProgressFunc) (map[string]any, error) {
	const op = "actions.index"

	path := strParam(job.Params, "input", "")
	if path == "" && job.AssetID != "" {
		existing, err := a.d.Assets.Get(ctx, job.AssetID)
		if err != nil {
			return nil, err
		}
		path = existing.CurrentPath
	}
	if path == "" {
		return nil, opserr.New(opserr.KindValidation, op, "missing input path")
	}

	progress(25, "fingerprinting")
	res, err := a.d.Indexer.Index(ctx, path, boolParam(job.Params, "force_reindex", false), job.ID)
	if err != nil {
		return nil, err
	}

	a.logger.Info().
		Str(log.FieldJobID, job.ID).
		Str(log.FieldAssetID, res.Asset.ID).
		Str("outcome", res.Outcome).
		Msg("index done")

	return map[string]any{
		"asset_id": res.Asset.ID,
		"outcome":  res.Outcome,
		"path":     res.Asset.CurrentPath,
	}, nil
}
