// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package media

import (
	"fmt"
	"sync"

	_ "embed"

	"gopkg.in/yaml.v3"

	"github.com/ManuGH/streamops/internal/opserr"
)

//go:embed profiles.yaml
var profilesYAML []byte

// TranscodePreset is one named output profile from the embedded table.
// The json tags let rules pass a custom_preset with the same field names.
type TranscodePreset struct {
	VideoCodec   string `yaml:"video_codec" json:"video_codec"`
	AudioCodec   string `yaml:"audio_codec" json:"audio_codec"`
	VideoBitrate string `yaml:"video_bitrate" json:"video_bitrate,omitempty"`
	AudioBitrate string `yaml:"audio_bitrate" json:"audio_bitrate,omitempty"`
	PixFmt       string `yaml:"pix_fmt" json:"pix_fmt,omitempty"`
	Preset       string `yaml:"preset" json:"preset,omitempty"`
	CRF          int    `yaml:"crf" json:"crf,omitempty"`
	ScaleHeight  int    `yaml:"scale_height" json:"scale_height,omitempty"`
	Container    string `yaml:"container" json:"container"`
}

type presetFile struct {
	Presets map[string]TranscodePreset `yaml:"presets"`
}

var (
	presetOnce sync.Once
	presetMap  map[string]TranscodePreset
	presetErr  error
)

// Presets returns the embedded preset table. The table is parsed and
// validated once; callers get a copy they may mutate.
func Presets() (map[string]TranscodePreset, error) {
	presetOnce.Do(func() {
		var f presetFile
		if err := yaml.Unmarshal(profilesYAML, &f); err != nil {
			presetErr = fmt.Errorf("media: parse embedded presets: %w", err)
			return
		}
		if len(f.Presets) == 0 {
			presetErr = fmt.Errorf("media: embedded preset table is empty")
			return
		}
		for name, p := range f.Presets {
			if p.VideoCodec == "" || p.AudioCodec == "" || p.Container == "" {
				presetErr = fmt.Errorf("media: preset %q is missing codec or container", name)
				return
			}
		}
		presetMap = f.Presets
	})
	if presetErr != nil {
		return nil, presetErr
	}

	out := make(map[string]TranscodePreset, len(presetMap))
	for k, v := range presetMap {
		out[k] = v
	}
	return out, nil
}

// LookupPreset resolves a preset by name.
func LookupPreset(name string) (TranscodePreset, error) {
	presets, err := Presets()
	if err != nil {
		return TranscodePreset{}, err
	}
	p, ok := presets[name]
	if !ok {
		return TranscodePreset{}, opserr.Newf(opserr.KindValidation, "media.preset", "unknown preset %q", name)
	}
	return p, nil
}

// GPUEncoder maps a software encoder to its NVENC counterpart.
func GPUEncoder(videoCodec string) (string, bool) {
	switch videoCodec {
	case "libx264":
		return "h264_nvenc", true
	case "libx265":
		return "hevc_nvenc", true
	}
	return "", false
}
