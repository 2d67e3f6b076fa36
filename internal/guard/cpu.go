// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package guard

import (
	"sync"

	"github.com/prometheus/procfs"
)

// cpuSampler derives busy percent from the delta between two /proc/stat
// reads. Instantaneous utilization needs two samples; the first call primes
// the baseline and reports idle.
type cpuSampler struct {
	fs procfs.FS

	mu   sync.Mutex
	prev *procfs.CPUStat
}

func newCPUSampler(procRoot string) (*cpuSampler, error) {
	fs, err := procfs.NewFS(procRoot)
	if err != nil {
		return nil, err
	}
	return &cpuSampler{fs: fs}, nil
}

func (c *cpuSampler) utilization() (float64, error) {
	stat, err := c.fs.Stat()
	if err != nil {
		return 0, err
	}
	cur := stat.CPUTotal

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.prev == nil {
		c.prev = &cur
		return 0, nil
	}

	busy := busyTime(cur) - busyTime(*c.prev)
	total := totalTime(cur) - totalTime(*c.prev)
	c.prev = &cur

	if total <= 0 {
		return 0, nil
	}
	pct := 100 * busy / total
	if pct < 0 {
		// Counter reset after suspend or container restart.
		return 0, nil
	}
	if pct > 100 {
		pct = 100
	}
	return pct, nil
}

func busyTime(s procfs.CPUStat) float64 {
	return s.User + s.Nice + s.System + s.IRQ + s.SoftIRQ + s.Steal
}

func totalTime(s procfs.CPUStat) float64 {
	return busyTime(s) + s.Idle + s.Iowait
}
