// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package media

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ManuGH/streamops/internal/asset"
	"github.com/ManuGH/streamops/internal/cache"
	"github.com/ManuGH/streamops/internal/log"
	"github.com/ManuGH/streamops/internal/opserr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ffprobe -print_format json output for a short h264/aac clip. nb_frames is
// a string in the real output, which is easy to get wrong.
const sampleProbeJSON = `{
  "streams": [
    {
      "codec_type": "video",
      "codec_name": "h264",
      "width": 1920,
      "height": 1080,
      "r_frame_rate": "30000/1001",
      "avg_frame_rate": "30000/1001",
      "pix_fmt": "yuv420p",
      "nb_frames": "8991"
    },
    {
      "codec_type": "audio",
      "codec_name": "aac"
    }
  ],
  "format": {
    "format_name": "mov,mp4,m4a,3gp,3g2,mj2",
    "duration": "300.010000",
    "size": "157286400",
    "bit_rate": "4194304"
  }
}`

type fakeRunner struct {
	stdout string
	err    error
	calls  int
}

func (f *fakeRunner) Run(_ context.Context, _ []string, _ ProgressParser, _ ProgressFunc) (*Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &Result{Stdout: f.stdout}, nil
}

func newTestProber(t *testing.T, runner commandRunner) *Prober {
	t.Helper()
	c := cache.NewMemoryCache(time.Minute)
	t.Cleanup(c.Stop)
	return &Prober{
		runner: runner,
		cache:  c,
		logger: log.WithComponent("media.probe"),
	}
}

func writeSample(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o640))
	return path
}

func TestParseProbeOutput(t *testing.T) {
	res, err := parseProbeOutput(sampleProbeJSON)
	require.NoError(t, err)

	assert.True(t, res.HasVideo)
	assert.True(t, res.HasAudio)
	assert.Equal(t, "h264", res.VideoCodec)
	assert.Equal(t, "aac", res.AudioCodec)
	assert.Equal(t, 1920, res.Width)
	assert.Equal(t, 1080, res.Height)
	assert.Equal(t, "yuv420p", res.PixFmt)
	assert.InDelta(t, 29.97, res.FPS, 0.01)
	assert.InDelta(t, 300.01, res.DurationSec, 0.001)
	assert.Equal(t, int64(157286400), res.SizeBytes)
	assert.Equal(t, int64(4194304), res.Bitrate)
	assert.Equal(t, int64(8991), res.NBFrames)
	assert.Equal(t, "mov,mp4,m4a,3gp,3g2,mj2", res.Container)
}

func TestParseProbeOutputAudioOnly(t *testing.T) {
	res, err := parseProbeOutput(`{
	  "streams": [{"codec_type": "audio", "codec_name": "flac"}],
	  "format": {"format_name": "flac", "duration": "183.4"}
	}`)
	require.NoError(t, err)

	assert.False(t, res.HasVideo)
	assert.True(t, res.HasAudio)
	assert.Equal(t, "flac", res.AudioCodec)
	assert.Empty(t, res.VideoCodec)
}

func TestParseProbeOutputGarbage(t *testing.T) {
	_, err := parseProbeOutput("not json at all")
	assert.Error(t, err)
}

func TestParseFrameRate(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"30000/1001", 29.97},
		{"25/1", 25},
		{"50", 50},
		{"0/0", 0},
		{"24/0", 0},
		{"", 0},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, parseFrameRate(tt.in), 0.01, "rate %q", tt.in)
	}
}

func TestTotalFramesFallback(t *testing.T) {
	// Matroska typically omits nb_frames; the estimate comes from
	// duration and frame rate instead.
	withFrames := ProbeResult{NBFrames: 8991, DurationSec: 300, FPS: 29.97}
	assert.Equal(t, int64(8991), withFrames.TotalFrames())

	estimated := ProbeResult{DurationSec: 120, FPS: 25}
	assert.Equal(t, int64(3000), estimated.TotalFrames())

	unknown := ProbeResult{DurationSec: 120}
	assert.Equal(t, int64(0), unknown.TotalFrames())
}

func TestProbeCachesByContent(t *testing.T) {
	runner := &fakeRunner{stdout: sampleProbeJSON}
	p := newTestProber(t, runner)
	path := writeSample(t, "fake video payload")

	first, err := p.Probe(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 1, runner.calls)

	second, err := p.Probe(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 1, runner.calls, "identical content must hit the cache")
	assert.Equal(t, first.DurationSec, second.DurationSec)

	// A rename keeps the content hash, so the cache still serves it.
	moved := filepath.Join(filepath.Dir(path), "renamed.mp4")
	require.NoError(t, os.Rename(path, moved))
	_, err = p.Probe(context.Background(), moved)
	require.NoError(t, err)
	assert.Equal(t, 1, runner.calls)
}

func TestProbeReprobesChangedContent(t *testing.T) {
	runner := &fakeRunner{stdout: sampleProbeJSON}
	p := newTestProber(t, runner)
	path := writeSample(t, "take one")

	_, err := p.Probe(context.Background(), path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("take two, regrown"), 0o640))
	_, err = p.Probe(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 2, runner.calls)
}

func TestProbeDropsCorruptCacheEntry(t *testing.T) {
	runner := &fakeRunner{stdout: sampleProbeJSON}
	c := cache.NewMemoryCache(time.Minute)
	t.Cleanup(c.Stop)
	p := &Prober{runner: runner, cache: c, logger: log.WithComponent("media.probe")}
	path := writeSample(t, "payload")

	hash, err := asset.HashFile(path)
	require.NoError(t, err)
	c.Set("probe:"+hash, []byte("{broken"), 0)

	res, err := p.Probe(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 1, runner.calls, "corrupt entry must be replaced by a real probe")
	assert.Equal(t, "h264", res.VideoCodec)
}

func TestProbeMissingFile(t *testing.T) {
	p := newTestProber(t, &fakeRunner{stdout: sampleProbeJSON})
	_, err := p.Probe(context.Background(), filepath.Join(t.TempDir(), "gone.mp4"))
	require.Error(t, err)
	assert.Equal(t, opserr.KindIO, opserr.KindOf(err))
}

func TestProbeToolFailure(t *testing.T) {
	runner := &fakeRunner{err: opserr.New(opserr.KindExternalTool, "media.run", "ffprobe exited 1")}
	p := newTestProber(t, runner)
	path := writeSample(t, "payload")

	_, err := p.Probe(context.Background(), path)
	require.Error(t, err)
	assert.Equal(t, opserr.KindExternalTool, opserr.KindOf(err))
}

func TestProbeUnparsableOutput(t *testing.T) {
	runner := &fakeRunner{stdout: "ffprobe wrote nothing useful"}
	p := newTestProber(t, runner)
	path := writeSample(t, "payload")

	_, err := p.Probe(context.Background(), path)
	require.Error(t, err)
	assert.Equal(t, opserr.KindExternalTool, opserr.KindOf(err))
}

func TestProbeResultInfo(t *testing.T) {
	res, err := parseProbeOutput(sampleProbeJSON)
	require.NoError(t, err)

	info := res.Info()
	assert.Equal(t, res.DurationSec, info.DurationSec)
	assert.Equal(t, res.Width, info.Width)
	assert.Equal(t, res.Height, info.Height)
	assert.InDelta(t, res.FPS, info.FPS, 0.001)
	assert.Equal(t, res.VideoCodec, info.VideoCodec)
	assert.Equal(t, res.AudioCodec, info.AudioCodec)
	assert.Equal(t, res.Bitrate, info.Bitrate)
	assert.Equal(t, res.Container, info.Container)
}

func TestInfoProberAdapter(t *testing.T) {
	runner := &fakeRunner{stdout: sampleProbeJSON}
	p := newTestProber(t, runner)
	path := writeSample(t, "payload")

	info, err := (&InfoProber{Prober: p}).Probe(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "h264", info.VideoCodec)
	assert.InDelta(t, 300.01, info.DurationSec, 0.001)
}
