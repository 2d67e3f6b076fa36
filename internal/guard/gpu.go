// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package guard

import (
	"context"
	"errors"
	"io/fs"
	"os/exec"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

const gpuSampleTimeout = 2 * time.Second

// gpuReader shells out to nvidia-smi for the current utilization. A missing
// binary disables the reader permanently; other failures are retried on the
// next sample.
type gpuReader struct {
	bin      string
	disabled atomic.Bool
}

func newGPUReader(bin string) *gpuReader {
	return &gpuReader{bin: bin}
}

func (r *gpuReader) utilization(ctx context.Context) (float64, bool) {
	if r.disabled.Load() {
		return 0, false
	}
	ctx, cancel := context.WithTimeout(ctx, gpuSampleTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, r.bin, "--query-gpu=utilization.gpu", "--format=csv,noheader,nounits").Output()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			r.disabled.Store(true)
		}
		return 0, false
	}
	return parseSMIUtilization(string(out))
}

// parseSMIUtilization reads one percent value per GPU line and returns the
// busiest one.
func parseSMIUtilization(out string) (float64, bool) {
	var max float64
	found := false
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		v, err := strconv.ParseFloat(line, 64)
		if err != nil {
			continue
		}
		found = true
		if v > max {
			max = v
		}
	}
	return max, found
}
