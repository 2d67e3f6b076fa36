// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package bootstrap

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/ManuGH/streamops/internal/asset"
	"github.com/ManuGH/streamops/internal/log"
	"github.com/ManuGH/streamops/internal/rules"
	"github.com/ManuGH/streamops/internal/watcher"
)

// fileClosedEmitter glues the watcher to the rest of the pipeline: a settled
// file is indexed first, then announced to the rule engine as a file_closed
// event. Content the store already knows is not re-announced, so a daemon
// restart over an unchanged library stays quiet.
func fileClosedEmitter(indexer *asset.Indexer, engine *rules.Engine) watcher.EmitFunc {
	logger := log.WithComponent("pipeline")

	return func(ctx context.Context, fe watcher.FileEvent) {
		res, err := indexer.Index(ctx, fe.Path, false, "")
		if err != nil {
			logger.Error().Err(err).
				Str("role", fe.Role).
				Str("path", fe.Path).
				Msg("index of settled file failed")
			return
		}
		if res.Outcome == asset.IndexOutcomeSkipped {
			logger.Debug().
				Str("asset_id", res.Asset.ID).
				Str("path", fe.Path).
				Msg("settled file already indexed, not re-announced")
			return
		}

		logger.Info().
			Str("asset_id", res.Asset.ID).
			Str("role", fe.Role).
			Str("path", fe.Path).
			Int64("size", fe.Size).
			Msg("file closed")
		engine.Submit(ctx, fileClosedEvent(res.Asset, fe))
	}
}

// fileClosedEvent shapes the engine event for one settled file. The file.*
// payload fields are what rule conditions match on; the extension is folded
// to lower case so conditions never depend on recorder casing.
func fileClosedEvent(a *asset.Asset, fe watcher.FileEvent) rules.Event {
	file := map[string]any{
		"name":      filepath.Base(fe.Path),
		"directory": filepath.Dir(fe.Path),
		"extension": strings.ToLower(filepath.Ext(fe.Path)),
		"size":      fe.Size,
	}
	if a.Media.DurationSec > 0 {
		file["duration_sec"] = a.Media.DurationSec
	}

	return rules.Event{
		Type:    "file_closed",
		AssetID: a.ID,
		Path:    a.CurrentPath,
		Payload: map[string]any{
			"role": fe.Role,
			"file": file,
		},
	}
}
