// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package watcher

import (
	"context"
	"os"
	"time"
)

// sample is one size observation of a tracked file.
type sample struct {
	size  int64
	mtime time.Time
}

// sizeSettled reports whether the file's size holds still across two stat
// calls taken delay apart. This is what keeps half-written recordings out
// of the pipeline: a file the recorder is still appending to fails the
// second sample.
//
// The bool result is only meaningful when err is nil. A vanished file
// comes back as os.IsNotExist so the caller can drop it silently.
func sizeSettled(ctx context.Context, path string, delay time.Duration) (bool, sample, error) {
	first, err := os.Stat(path)
	if err != nil {
		return false, sample{}, err
	}

	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
		return false, sample{}, ctx.Err()
	}

	second, err := os.Stat(path)
	if err != nil {
		return false, sample{}, err
	}

	s := sample{size: second.Size(), mtime: second.ModTime()}
	return first.Size() == second.Size(), s, nil
}
