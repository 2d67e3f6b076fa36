// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package procgroup starts external tools in their own process groups and
// tears the whole group down on cancellation. FFmpeg forks helper children
// for some filter graphs; signalling only the direct child would leak them.
package procgroup

import (
	"os/exec"
	"syscall"
	"time"

	"github.com/ManuGH/streamops/internal/metrics"
)

// Terminate stops a running tool together with its descendants. It sends
// SIGTERM to the process group, waits up to grace for the exit status on
// waitCh, then escalates to SIGKILL and drains waitCh. The returned error
// is the child's wait result. Safe to call for commands that never started.
func Terminate(cmd *exec.Cmd, waitCh <-chan error, grace time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	_ = Kill(cmd, syscall.SIGTERM)
	metrics.IncToolSignal("term")

	select {
	case err := <-waitCh:
		return err
	case <-time.After(grace):
	}

	_ = Kill(cmd, syscall.SIGKILL)
	metrics.IncToolSignal("kill")

	// SIGKILL cannot be caught; the wait goroutine delivers the final status.
	return <-waitCh
}
