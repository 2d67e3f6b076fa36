// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package actions

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/streamops/internal/asset"
	"github.com/ManuGH/streamops/internal/jobs"
	"github.com/ManuGH/streamops/internal/opserr"
)

func TestThumbnailProducesSet(t *testing.T) {
	env := newTestEnv(t)
	input := writeInput(t, t.TempDir(), "clip.mkv")
	seedAsset(t, env.assets, "asset-1", input)

	var milestones []float64
	progress := func(pct float64, _ string) { milestones = append(milestones, pct) }

	h := NewThumbnail(env.deps)
	job := &jobs.Job{ID: "thumb_0001", AssetID: "asset-1", Params: map[string]any{
		"input":        input,
		"sprite_count": 9,
	}}

	result, err := h.Execute(context.Background(), job, progress)
	require.NoError(t, err)

	dir := filepath.Join(env.deps.ThumbsDir, "asset-1")
	assert.FileExists(t, filepath.Join(dir, "poster.jpg"))
	assert.FileExists(t, filepath.Join(dir, "sprite.jpg"))
	assert.FileExists(t, filepath.Join(dir, "hover.mp4"))

	outputs, ok := result["outputs"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "poster.jpg"), outputs["poster"])

	assert.Equal(t, []float64{10, 40, 70, 100}, milestones)
	assert.Len(t, env.tool.invocations(), 3)

	events := env.sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, asset.EventThumbnailCompleted, events[0].eventType)
}

func TestThumbnailRequiresAsset(t *testing.T) {
	env := newTestEnv(t)

	h := NewThumbnail(env.deps)
	job := &jobs.Job{ID: "thumb_0002", Params: map[string]any{"input": "/x.mkv"}}

	_, err := h.Execute(context.Background(), job, noProgress)
	require.Error(t, err)
	assert.Equal(t, opserr.KindValidation, opserr.KindOf(err))
}

func TestSpriteGrid(t *testing.T) {
	cases := []struct {
		n    int
		grid string
	}{
		{1, "tile=1x1"},
		{4, "tile=2x2"},
		{9, "tile=3x3"},
		{10, "tile=4x3"},
		{16, "tile=4x4"},
	}
	for _, tc := range cases {
		args := spriteArgs("/in.mkv", "/out.jpg", tc.n, 90)
		assert.Contains(t, strings.Join(args, " "), tc.grid, "n=%d", tc.n)
	}
}

func TestHoverWindowCentersOnMidpoint(t *testing.T) {
	args := hoverArgs("/in.mkv", "/out.mp4", 3, 10)
	assert.True(t, hasArgPair(args, "-ss", "3.500"))
	assert.True(t, hasArgPair(args, "-t", "3.000"))
	assert.True(t, contains(args, "-an"), "hover clip is silent")
}

func TestHoverWindowClampsToClip(t *testing.T) {
	args := hoverArgs("/in.mkv", "/out.mp4", 30, 4)
	assert.True(t, hasArgPair(args, "-ss", "0.000"))
	assert.True(t, hasArgPair(args, "-t", "4.000"))
}

func contains(args []string, flag string) bool {
	for _, a := range args {
		if a == flag {
			return true
		}
	}
	return false
}
