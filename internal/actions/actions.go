// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package actions implements the job handlers behind the rule actions:
// remux, move, copy, proxy, thumbnail, transcode, index and tag. Each
// handler reads its parameters from the job payload, drives the external
// tools through internal/media, and reports its artifacts in the job
// result. Handlers are idempotent on re-run with the same inputs.
package actions

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ManuGH/streamops/internal/asset"
	"github.com/ManuGH/streamops/internal/config"
	"github.com/ManuGH/streamops/internal/jobs"
	"github.com/ManuGH/streamops/internal/media"
	"github.com/ManuGH/streamops/internal/opserr"
)

// Runner is the slice of media.Runner the encode handlers call.
type Runner interface {
	Run(ctx context.Context, args []string, parser media.ProgressParser, onProgress media.ProgressFunc) (*media.Result, error)
}

// Prober is the slice of media.Prober the handlers call.
type Prober interface {
	Probe(ctx context.Context, path string) (*media.ProbeResult, error)
}

// Sink records pipeline events on the asset timeline.
type Sink interface {
	Emit(ctx context.Context, assetID, eventType string, payload map[string]any, jobID string) (bool, error)
}

// Deps bundles everything the handler set needs. The daemon fills it once
// at startup.
type Deps struct {
	FFmpeg    Runner
	Probe     Prober
	GPU       *media.GPUDetector
	Staging   *media.Staging
	Assets    *asset.Store
	Indexer   *asset.Indexer
	Events    Sink
	Settings  *config.Settings
	ThumbsDir string
}

// RegisterAll wires every action handler into the queue under its job type.
func RegisterAll(q *jobs.Queue, d Deps) error {
	handlers := map[string]jobs.Handler{
		"remux":     NewRemux(d),
		"move":      NewMove(d),
		"copy":      NewCopy(d),
		"proxy":     NewProxy(d),
		"thumbnail": NewThumbnail(d),
		"transcode": NewTranscode(d),
		"index":     NewIndex(d),
		"tag":       NewTag(d),
	}
	for typ, h := range handlers {
		if err := q.Register(typ, h); err != nil {
			return err
		}
	}
	return nil
}

// inputPath reads the mandatory input parameter. The rules executor always
// injects it; direct enqueues must carry it themselves.
func inputPath(op string, params map[string]any) (string, error) {
	in := strParam(params, "input", "")
	if in == "" {
		return "", opserr.New(opserr.KindValidation, op, "missing input path")
	}
	return in, nil
}

// siblingPath places name next to path, keeping the directory.
func siblingPath(path, name string) string {
	return filepath.Join(filepath.Dir(path), name)
}

// stem returns the file name without its extension.
func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func strParam(params map[string]any, key, def string) string {
	if v, ok := params[key].(string); ok && v != "" {
		return v
	}
	return def
}

func boolParam(params map[string]any, key string, def bool) bool {
	if v, ok := params[key].(bool); ok {
		return v
	}
	return def
}

// floatParam accepts any JSON number shape; payloads that crossed the
// database arrive as float64, in-process ones may still be ints.
func floatParam(params map[string]any, key string, def float64) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return def
}

func intParam(params map[string]any, key string, def int) int {
	switch v := params[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return def
}

// strSliceParam reads a list parameter, tolerating both []string and the
// []any a JSON round-trip produces.
func strSliceParam(params map[string]any, key string) []string {
	switch v := params[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// fmtSeconds renders a second count the way FFmpeg takes -ss and -t.
func fmtSeconds(sec float64) string {
	return fmt.Sprintf("%.3f", sec)
}
