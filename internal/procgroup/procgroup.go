// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package procgroup starts engine processes in their own process group and
// tears the whole group down on timeout or cancellation.
package procgroup

import (
	"errors"
	"os/exec"
	"syscall"
	"time"

	"github.com/ManuGH/subclip/internal/log"
	"github.com/ManuGH/subclip/internal/metrics"
)

// DefaultGrace is how long a group gets between SIGTERM and SIGKILL.
const DefaultGrace = 5 * time.Second

// Result describes how Terminate ended the process.
type Result struct {
	// Forced is true when SIGKILL was needed.
	Forced bool
	// WaitErr is the error returned by cmd.Wait.
	WaitErr error
}

// Terminate sends SIGTERM to the group of cmd, waits up to grace for the
// process to exit via waitCh and then sends SIGKILL. It always drains waitCh.
// waitCh must deliver the result of cmd.Wait exactly once.
func Terminate(cmd *exec.Cmd, waitCh <-chan error, grace time.Duration) Result {
	if cmd == nil || cmd.Process == nil {
		return Result{}
	}
	logger := log.WithComponent("procgroup")
	pid := cmd.Process.Pid

	metrics.IncProcTerminate("SIGTERM", signalResult(Kill(cmd, syscall.SIGTERM)))

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case err := <-waitCh:
		if err == nil {
			metrics.IncProcWait("exit0")
		} else {
			metrics.IncProcWait("exit_nonzero")
		}
		return Result{WaitErr: err}
	case <-timer.C:
	}

	logger.Warn().
		Str(log.FieldEvent, "procgroup.sigkill").
		Int(log.FieldPID, pid).
		Dur("grace", grace).
		Msg("SIGTERM grace period exceeded, sending SIGKILL to process group")
	metrics.IncProcTerminate("SIGKILL", signalResult(Kill(cmd, syscall.SIGKILL)))

	err := <-waitCh
	if err == nil {
		metrics.IncProcWait("forced_exit0")
	} else {
		metrics.IncProcWait("forced_error")
	}
	return Result{Forced: true, WaitErr: err}
}

func signalResult(err error) string {
	switch {
	case err == nil:
		return "sent"
	case errors.Is(err, syscall.ESRCH):
		return "esrch"
	default:
		return "error"
	}
}
