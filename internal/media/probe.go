// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package media

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/ManuGH/streamops/internal/asset"
	"github.com/ManuGH/streamops/internal/cache"
	"github.com/ManuGH/streamops/internal/log"
	"github.com/ManuGH/streamops/internal/metrics"
	"github.com/ManuGH/streamops/internal/opserr"
)

const probeTimeout = 30 * time.Second

// ProbeResult is the technical metadata FFprobe reports for a file.
type ProbeResult struct {
	DurationSec float64 `json:"duration_sec"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	FPS         float64 `json:"fps"`
	VideoCodec  string  `json:"video_codec"`
	AudioCodec  string  `json:"audio_codec"`
	Bitrate     int64   `json:"bitrate"`
	Container   string  `json:"container"`
	PixFmt      string  `json:"pix_fmt"`
	NBFrames    int64   `json:"nb_frames"`
	SizeBytes   int64   `json:"size_bytes"`
	HasVideo    bool    `json:"has_video"`
	HasAudio    bool    `json:"has_audio"`
}

// Info converts the probe result to the subset the asset store persists.
func (r *ProbeResult) Info() asset.MediaInfo {
	return asset.MediaInfo{
		DurationSec: r.DurationSec,
		Width:       r.Width,
		Height:      r.Height,
		FPS:         r.FPS,
		VideoCodec:  r.VideoCodec,
		AudioCodec:  r.AudioCodec,
		Bitrate:     r.Bitrate,
		Container:   r.Container,
	}
}

// TotalFrames returns the frame count, derived from duration and frame rate
// when the container does not carry nb_frames (Matroska usually does not).
func (r *ProbeResult) TotalFrames() int64 {
	if r.NBFrames > 0 {
		return r.NBFrames
	}
	if r.DurationSec > 0 && r.FPS > 0 {
		return int64(r.DurationSec * r.FPS)
	}
	return 0
}

// commandRunner is what Prober needs from Runner.
type commandRunner interface {
	Run(ctx context.Context, args []string, parser ProgressParser, onProgress ProgressFunc) (*Result, error)
}

// Prober runs ffprobe with a content-addressed cache in front. Results are
// keyed by file hash, so a moved file hits the cache while an overwritten
// one misses it. Concurrent probes of one path collapse to a single run.
type Prober struct {
	runner commandRunner
	cache  cache.Cache
	group  singleflight.Group
	logger zerolog.Logger
}

func NewProber(runner *Runner, c cache.Cache) *Prober {
	if c == nil {
		c = cache.NewNoOpCache()
	}
	return &Prober{
		runner: runner,
		cache:  c,
		logger: log.WithComponent("media.probe"),
	}
}

// Probe returns metadata for the file at path.
func (p *Prober) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	fileHash, err := asset.HashFile(path)
	if err != nil {
		return nil, opserr.Wrap(err, opserr.KindIO, "media.probe", "fingerprint "+path)
	}
	key := "probe:" + fileHash

	if raw, ok := p.cache.Get(key); ok {
		var res ProbeResult
		if err := json.Unmarshal(raw, &res); err == nil {
			metrics.IncProbeCache("hit")
			return &res, nil
		}
		p.cache.Delete(key)
	}
	metrics.IncProbeCache("miss")

	v, err, _ := p.group.Do(path, func() (any, error) {
		return p.probeUncached(ctx, path, key)
	})
	if err != nil {
		return nil, err
	}
	return v.(*ProbeResult), nil
}

func (p *Prober) probeUncached(ctx context.Context, path, cacheKey string) (*ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	args := []string{
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}
	out, err := p.runner.Run(ctx, args, nil, nil)
	if err != nil {
		return nil, err
	}

	res, err := parseProbeOutput(out.Stdout)
	if err != nil {
		return nil, opserr.Wrap(err, opserr.KindExternalTool, "media.probe", "parse ffprobe output for "+path)
	}

	if raw, err := json.Marshal(res); err == nil {
		p.cache.Set(cacheKey, raw, 0)
	}
	p.logger.Debug().
		Str(log.FieldPath, path).
		Float64(log.FieldDuration, res.DurationSec).
		Str(log.FieldCodec, res.VideoCodec).
		Msg("probed")
	return res, nil
}

type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeFormat struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	BitRate    string `json:"bit_rate"`
}

type ffprobeStream struct {
	CodecType    string `json:"codec_type"`
	CodecName    string `json:"codec_name"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	RFrameRate   string `json:"r_frame_rate"`
	AvgFrameRate string `json:"avg_frame_rate"`
	PixFmt       string `json:"pix_fmt"`
	NBFrames     string `json:"nb_frames"`
}

func parseProbeOutput(raw string) (*ProbeResult, error) {
	var out ffprobeOutput
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}

	res := &ProbeResult{Container: out.Format.FormatName}
	if out.Format.Duration != "" {
		res.DurationSec, _ = strconv.ParseFloat(out.Format.Duration, 64)
	}
	if out.Format.Size != "" {
		res.SizeBytes, _ = strconv.ParseInt(out.Format.Size, 10, 64)
	}
	if out.Format.BitRate != "" {
		res.Bitrate, _ = strconv.ParseInt(out.Format.BitRate, 10, 64)
	}

	for i := range out.Streams {
		stream := &out.Streams[i]
		switch stream.CodecType {
		case "video":
			if res.HasVideo {
				continue
			}
			res.HasVideo = true
			res.VideoCodec = stream.CodecName
			res.Width = stream.Width
			res.Height = stream.Height
			res.PixFmt = stream.PixFmt
			res.FPS = parseFrameRate(stream.RFrameRate)
			if res.FPS == 0 {
				res.FPS = parseFrameRate(stream.AvgFrameRate)
			}
			if stream.NBFrames != "" {
				res.NBFrames, _ = strconv.ParseInt(stream.NBFrames, 10, 64)
			}
		case "audio":
			if res.HasAudio {
				continue
			}
			res.HasAudio = true
			res.AudioCodec = stream.CodecName
		}
	}
	return res, nil
}

// parseFrameRate parses ffprobe rational rates like "30000/1001" or "25/1".
func parseFrameRate(s string) float64 {
	if s == "" || s == "0/0" {
		return 0
	}
	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		f, _ := strconv.ParseFloat(s, 64)
		return f
	}
	num, _ := strconv.ParseFloat(parts[0], 64)
	den, _ := strconv.ParseFloat(parts[1], 64)
	if den == 0 {
		return 0
	}
	return num / den
}

// InfoProber adapts Prober to the asset indexer's narrower interface.
type InfoProber struct {
	Prober *Prober
}

func (ip InfoProber) Probe(ctx context.Context, path string) (asset.MediaInfo, error) {
	res, err := ip.Prober.Probe(ctx, path)
	if err != nil {
		return asset.MediaInfo{}, err
	}
	return res.Info(), nil
}
