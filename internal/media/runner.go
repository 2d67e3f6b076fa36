// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package media owns every FFmpeg and FFprobe invocation: process spawning
// and reaping, stderr progress parsing, probe caching, GPU capability
// detection, and the embedded transcode preset table.
package media

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/streamops/internal/log"
	"github.com/ManuGH/streamops/internal/metrics"
	"github.com/ManuGH/streamops/internal/opserr"
	"github.com/ManuGH/streamops/internal/procgroup"
)

// stderrTailLines is how many trailing stderr lines failures report.
const stderrTailLines = 20

// ProgressParser extracts a completion percentage from one stderr line.
// Lines that carry no progress return ok=false.
type ProgressParser interface {
	Parse(line string) (percent float64, ok bool)
}

// ProgressFunc receives parsed progress, 0-100.
type ProgressFunc func(percent float64)

// Result is the outcome of one tool run.
type Result struct {
	ExitCode   int
	Stdout     string
	StderrTail []string
	Duration   time.Duration
}

// Runner invokes one external binary. Each Run spawns the child in its own
// process group; cancellation sends SIGTERM to the group and escalates to
// SIGKILL after the kill timeout.
type Runner struct {
	bin         string
	killTimeout time.Duration
	logger      zerolog.Logger
}

func NewRunner(bin string, killTimeout time.Duration) *Runner {
	if killTimeout <= 0 {
		killTimeout = 5 * time.Second
	}
	return &Runner{
		bin:         bin,
		killTimeout: killTimeout,
		logger:      log.WithComponent("media"),
	}
}

// Bin returns the configured binary path.
func (r *Runner) Bin() string { return r.bin }

// Run executes the tool and blocks until it exits or ctx is cancelled.
// Stderr is scanned line by line through the parser; stdout is captured
// whole for tools like ffprobe that emit JSON there.
func (r *Runner) Run(ctx context.Context, args []string, parser ProgressParser, onProgress ProgressFunc) (*Result, error) {
	tool := filepath.Base(r.bin)
	start := time.Now()

	cmd := exec.Command(r.bin, args...) // #nosec G204
	procgroup.Set(cmd)

	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, opserr.Wrap(err, opserr.KindInternal, "media.run", "stderr pipe")
	}

	ring := NewLineRing(256)
	var ioWg sync.WaitGroup
	ioWg.Add(1)
	go func() {
		defer ioWg.Done()
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		scanner.Split(scanToolLines)
		for scanner.Scan() {
			line := scanner.Text()
			ring.Append(line)
			if parser == nil || onProgress == nil {
				continue
			}
			if pct, ok := parser.Parse(line); ok {
				onProgress(pct)
			}
		}
	}()

	r.logger.Debug().Str("tool", tool).Strs("args", args).Msg("starting tool")
	if err := cmd.Start(); err != nil {
		metrics.IncToolInvocation(tool, "failure")
		return nil, opserr.Wrap(err, opserr.KindExternalTool, "media.run", tool+" start failed")
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	var waitErr error
	select {
	case waitErr = <-waitCh:
	case <-ctx.Done():
		// TERM the group, KILL after the grace window.
		waitErr = procgroup.Terminate(cmd, waitCh, r.killTimeout)
	}
	ioWg.Wait()

	res := &Result{
		ExitCode:   exitCode(waitErr),
		Stdout:     stdout.String(),
		StderrTail: ring.LastN(stderrTailLines),
		Duration:   time.Since(start),
	}
	metrics.ObserveToolDuration(tool, res.Duration.Seconds())

	if ctx.Err() != nil {
		metrics.IncToolInvocation(tool, "killed")
		return res, opserr.Wrap(ctx.Err(), opserr.KindOf(ctx.Err()), "media.run", tool+" interrupted")
	}
	if waitErr != nil {
		metrics.IncToolInvocation(tool, "failure")
		detail := fmt.Sprintf("%s exited %d", tool, res.ExitCode)
		if tail := lastLine(res.StderrTail); tail != "" {
			detail += ": " + tail
		}
		r.logger.Error().
			Str("tool", tool).
			Int("exit_code", res.ExitCode).
			Strs("stderr", res.StderrTail).
			Msg("tool failed")
		return res, opserr.Wrap(waitErr, opserr.KindExternalTool, "media.run", detail)
	}

	metrics.IncToolInvocation(tool, "success")
	return res, nil
}

// scanToolLines splits on \n and \r. FFmpeg rewrites its stats line in place
// with carriage returns, which a plain line scanner would deliver as one
// giant token at exit.
func scanToolLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func lastLine(lines []string) string {
	for i := len(lines) - 1; i >= 0; i-- {
		if s := strings.TrimSpace(lines[i]); s != "" {
			return s
		}
	}
	return ""
}
