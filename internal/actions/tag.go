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

// Tag union-merges labels into the asset's tag list and rebuilds its
// search row.
type Tag struct {
	d      Deps
	logger zerolog.Logger
}

func NewTag(d Deps) *Tag {
	return &Tag{d: d, logger: log.WithComponent("actions.tag")}
}

func (a *Tag) Execute(ctx context.Context, job *jobs.Job, _ jobs.ProgressFunc) (map[string]any, error) {
	const op = "actions.tag"

	if job.AssetID == "" {
		return nil, opserr.New(opserr.KindValidation, op, "tagging needs an indexed asset")
	}
	tags := strSliceParam(job.Params, "tags")
	if len(tags) == 0 {
		return nil, opserr.New(opserr.KindValidation, op, "missing tags")
	}

	merged, err := a.d.Assets.MergeTags(ctx, job.AssetID, tags)
	if err != nil {
		return nil, err
	}

	a.logger.Info().
		Str(log.FieldJobID, job.ID).
		Str(log.FieldAssetID, job.AssetID).
		Strs("tags", tags).
		Msg("tags merged")

	return map[string]any{"tags": merged}, nil
}
