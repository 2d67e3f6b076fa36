// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package asset owns the media library: one row per known file, a
// deduplicated fingerprint, and an append-only event timeline per asset.
package asset

import "time"

// Asset status values.
const (
	StatusPending = "pending"
	StatusIndexed = "indexed"
	StatusError   = "error"
)

// Timeline event types.
const (
	EventRecorded           = "recorded"
	EventRemuxCompleted     = "remux_completed"
	EventMoveCompleted      = "move_completed"
	EventCopyCompleted      = "copy_completed"
	EventProxyCompleted     = "proxy_completed"
	EventThumbnailCompleted = "thumbnail_completed"
	EventTranscodeCompleted = "transcode_completed"
	EventError              = "error"
)

// MediaInfo is the probed technical metadata of a media file.
type MediaInfo struct {
	DurationSec float64 `json:"duration_sec"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	FPS         float64 `json:"fps"`
	VideoCodec  string  `json:"video_codec"`
	AudioCodec  string  `json:"audio_codec"`
	Bitrate     int64   `json:"bitrate"`
	Container   string  `json:"container"`
}

// Asset is one media file known to the pipeline. ID is derived from the
// absolute path the file was first seen at; AbsPath never changes afterwards,
// CurrentPath follows the file through moves and remuxes.
type Asset struct {
	ID          string    `json:"id"`
	AbsPath     string    `json:"abs_path"`
	CurrentPath string    `json:"current_path"`
	Size        int64     `json:"size"`
	MTime       time.Time `json:"mtime"`
	CTime       time.Time `json:"ctime,omitempty"`
	FileHash    string    `json:"file_hash"`
	Status      string    `json:"status"`
	Media       MediaInfo `json:"media"`
	Tags        []string  `json:"tags"`
	LastError   string    `json:"last_error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Event is one entry in an asset's timeline. IDs are content-derived, so
// re-emitting the same event for the same job is a no-op.
type Event struct {
	ID        string         `json:"id"`
	AssetID   string         `json:"asset_id"`
	Type      string         `json:"event_type"`
	Payload   map[string]any `json:"payload,omitempty"`
	JobID     string         `json:"job_id,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
