package rules

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// touchFile creates an empty file and pins its mtime.
func touchFile(t *testing.T, path string, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func TestExpandFileTokens(t *testing.T) {
	c := NewRuleContext(Event{Path: "/recordings/stream_001.mkv"})

	assert.Equal(t, "stream_001_proxy.mkv", Expand("{stem}_proxy{ext}", c))
	assert.Equal(t, "/archive/stream_001.mkv", Expand("/archive/{filename}", c))
	assert.Equal(t, "plain/no/tokens", Expand("plain/no/tokens", c))
}

func TestExpandTimeTokensFromMtime(t *testing.T) {
	mtime := time.Date(2024, 3, 7, 9, 5, 2, 0, time.Local)
	path := filepath.Join(t.TempDir(), "clip.mkv")
	touchFile(t, path, mtime)

	c := NewRuleContext(Event{Path: path})

	assert.Equal(t, "/editing/2024/03/07", Expand("/editing/{year}/{month}/{day}", c))
	assert.Equal(t, "09-05-02", Expand("{hour}-{minute}-{second}", c))
}

func TestExpandTimeFallsBackToNow(t *testing.T) {
	c := NewRuleContext(Event{Path: "/gone/never-existed.mkv"})

	before := time.Now().Format("2006")
	got := Expand("{year}", c)
	after := time.Now().Format("2006")

	assert.Contains(t, []string{before, after}, got)
}

func TestExpandVars(t *testing.T) {
	c := NewRuleContext(Event{
		Type:    "file_closed",
		AssetID: "asset-9",
		Path:    "/recordings/a.mkv",
		Payload: map[string]any{"camera": "cam2", "take": 7},
	})

	assert.Equal(t, "/by-asset/asset-9", Expand("/by-asset/{asset_id}", c))
	assert.Equal(t, "cam2/take-7", Expand("{camera}/take-{take}", c))
	assert.Equal(t, "file_closed", Expand("{event}", c))
}

func TestExpandUnknownTokenKeptLiteral(t *testing.T) {
	c := NewRuleContext(Event{Path: "/recordings/a.mkv"})
	assert.Equal(t, "/x/{mystery}/a.mkv", Expand("/x/{mystery}/{filename}", c))
}

func TestExpandDirectoryTarget(t *testing.T) {
	mtime := time.Date(2024, 3, 7, 12, 0, 0, 0, time.Local)
	path := filepath.Join(t.TempDir(), "clip.mkv")
	touchFile(t, path, mtime)

	c := NewRuleContext(Event{Path: path})

	got := Expand("/editing/{year}/{month}/", c)
	assert.Equal(t, filepath.Join("/editing/2024/03", "clip.mkv"), got)
}

func TestExpandFollowsActiveArtifact(t *testing.T) {
	// A remux that turned clip.mkv into clip.mov: the move that follows
	// must see the new name in every file token.
	c := NewRuleContext(Event{Path: "/recordings/clip.mkv"})
	c.UpdateActive(NewArtifact("/tmp/work/clip.mov"))

	got := Expand("/editing/{year}/{month}/{filename}", c)
	assert.True(t, strings.HasSuffix(got, "/clip.mov"), got)
	assert.Equal(t, "clip_edit.mov", Expand("{stem}_edit{ext}", c))

	require.Len(t, c.History, 1)
	assert.Equal(t, "/recordings/clip.mkv", c.History[0].Path)
	assert.Equal(t, "/recordings/clip.mkv", c.Original.Path)
}
