// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build linux || (unix && !darwin)

package procgroup

import (
	"os/exec"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startGroup(t *testing.T, script string) (*exec.Cmd, <-chan error) {
	t.Helper()
	cmd := exec.Command("sh", "-c", script)
	Set(cmd)
	require.NoError(t, cmd.Start())

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()
	return cmd, waitCh
}

func TestTerminateGraceful(t *testing.T) {
	cmd, waitCh := startGroup(t, "sleep 30 & sleep 30")
	time.Sleep(50 * time.Millisecond)

	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	require.NoError(t, err)
	require.Equal(t, cmd.Process.Pid, pgid, "process should lead its group")

	res := Terminate(cmd, waitCh, 2*time.Second)
	assert.False(t, res.Forced)
	assert.Error(t, res.WaitErr, "SIGTERM exit is non-zero")

	assert.Eventually(t, func() bool {
		return syscall.Kill(-pgid, syscall.Signal(0)) == syscall.ESRCH
	}, 2*time.Second, 20*time.Millisecond, "whole group should be gone")
}

func TestTerminateEscalatesToSIGKILL(t *testing.T) {
	cmd, waitCh := startGroup(t, "trap '' TERM; while :; do sleep 0.05; done")
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	res := Terminate(cmd, waitCh, 200*time.Millisecond)
	assert.True(t, res.Forced)
	assert.Error(t, res.WaitErr)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestTerminateAlreadyExited(t *testing.T) {
	cmd, waitCh := startGroup(t, "exit 0")
	time.Sleep(100 * time.Millisecond)

	res := Terminate(cmd, waitCh, time.Second)
	assert.False(t, res.Forced)
	assert.NoError(t, res.WaitErr)
}

func TestTerminateNilCommand(t *testing.T) {
	assert.Equal(t, Result{}, Terminate(nil, nil, time.Second))
	assert.NoError(t, Kill(&exec.Cmd{}, syscall.SIGTERM))
}
