// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package media

import (
	"regexp"
	"strconv"
)

var (
	timeRe  = regexp.MustCompile(`time=(\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)
	frameRe = regexp.MustCompile(`frame=\s*(\d+)`)
)

// TimeParser reads `time=HH:MM:SS.cc` from FFmpeg stats lines and reports
// progress against the known total duration.
type TimeParser struct {
	TotalSec float64
}

func (p TimeParser) Parse(line string) (float64, bool) {
	if p.TotalSec <= 0 {
		return 0, false
	}
	m := timeRe.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	hours, _ := strconv.ParseFloat(m[1], 64)
	minutes, _ := strconv.ParseFloat(m[2], 64)
	seconds, _ := strconv.ParseFloat(m[3], 64)

	elapsed := hours*3600 + minutes*60 + seconds
	return clampPercent(elapsed / p.TotalSec * 100), true
}

// FrameParser reads `frame= N` from FFmpeg stats lines and reports progress
// against the known total frame count. Used where the time position is
// unreliable, as with image sequence outputs.
type FrameParser struct {
	TotalFrames int64
}

func (p FrameParser) Parse(line string) (float64, bool) {
	if p.TotalFrames <= 0 {
		return 0, false
	}
	m := frameRe.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	frame, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return clampPercent(float64(frame) / float64(p.TotalFrames) * 100), true
}

func clampPercent(pct float64) float64 {
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
