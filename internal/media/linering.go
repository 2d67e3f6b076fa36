// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package media

import "sync"

// LineRing keeps the last lines of tool output so failures can be reported
// with context without buffering unbounded stderr.
type LineRing struct {
	mu    sync.Mutex
	lines []string
	head  int
	count int
}

func NewLineRing(capacity int) *LineRing {
	if capacity < 1 {
		capacity = 64
	}
	return &LineRing{lines: make([]string, capacity)}
}

// Append records one line. Empty lines are dropped.
func (r *LineRing) Append(line string) {
	if line == "" {
		return
	}
	r.mu.Lock()
	r.lines[r.head] = line
	r.head = (r.head + 1) % len(r.lines)
	if r.count < len(r.lines) {
		r.count++
	}
	r.mu.Unlock()
}

// LastN returns up to n lines, oldest first.
func (r *LineRing) LastN(n int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n > r.count {
		n = r.count
	}
	size := len(r.lines)
	out := make([]string, 0, n)
	for i := r.count - n; i < r.count; i++ {
		idx := (r.head - r.count + i + 2*size) % size
		out = append(out, r.lines[idx])
	}
	return out
}
