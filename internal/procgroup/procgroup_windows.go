// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

//go:build windows

package procgroup

import (
	"os/exec"
	"syscall"
)

// Set is a no-op. Windows has job objects rather than POSIX process groups;
// the daemon targets Linux containers and only kills the direct child here.
func Set(cmd *exec.Cmd) {}

// Kill maps SIGKILL to Process.Kill and drops everything else, so the
// graceful half of the TERM-then-KILL ladder degrades to waiting out the
// grace window.
func Kill(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if sig == syscall.SIGKILL {
		return cmd.Process.Kill()
	}
	return nil
}
