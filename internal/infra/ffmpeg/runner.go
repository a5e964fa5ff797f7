package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/subclip/internal/log"
	"github.com/ManuGH/subclip/internal/procgroup"
)

const (
	defaultStderrLines = 64
	maxStderrLine      = 1024
)

// RunResult describes how an engine process ended.
type RunResult struct {
	ExitCode int
	// Signal names the signal that killed the process, if any.
	Signal string
	// Forced is true when the group needed SIGKILL after the grace period.
	Forced   bool
	Stderr   []string
	Elapsed  time.Duration
	Canceled bool
}

// Runner starts ffmpeg in its own process group, streams `-progress` blocks
// to a callback and keeps the tail of stderr for diagnostics.
type Runner struct {
	Bin         string
	Grace       time.Duration
	StderrLines int
	Logger      zerolog.Logger
}

// NewRunner returns a runner for bin, defaulting to "ffmpeg" on PATH.
func NewRunner(bin string, grace time.Duration) *Runner {
	if bin == "" {
		bin = "ffmpeg"
	}
	if grace <= 0 {
		grace = procgroup.DefaultGrace
	}
	return &Runner{
		Bin:         bin,
		Grace:       grace,
		StderrLines: defaultStderrLines,
		Logger:      log.WithComponent("ffmpeg"),
	}
}

// Run executes the engine with args. When ctx ends first the process group
// is terminated (SIGTERM, then SIGKILL after Grace) and ctx.Err() is
// returned along with the result. A non-zero exit is reported in the result,
// not as an error; errors are reserved for failing to start or to wait.
func (r *Runner) Run(ctx context.Context, args []string, onProgress func(Progress)) (RunResult, error) {
	full := append([]string{"-progress", "pipe:1", "-nostats"}, args...)
	// #nosec G204 -- args are produced by Builder from validated values
	cmd := exec.Command(r.Bin, full...)
	procgroup.Set(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return RunResult{}, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return RunResult{}, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return RunResult{Canceled: true}, err
	}
	start := time.Now()
	if err := cmd.Start(); err != nil {
		return RunResult{}, fmt.Errorf("start %s: %w", r.Bin, err)
	}
	r.Logger.Debug().
		Str(log.FieldEvent, "ffmpeg.started").
		Int(log.FieldPID, cmd.Process.Pid).
		Msg("engine process started")

	if onProgress == nil {
		onProgress = func(Progress) {}
	}
	ring := NewRingBuffer(r.StderrLines)
	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		ParseProgress(stdout, onProgress)
	}()
	go func() {
		defer readers.Done()
		collectLines(stderr, ring)
	}()

	// Wait must not run before the pipes are drained
	waitCh := make(chan error, 1)
	go func() {
		readers.Wait()
		waitCh <- cmd.Wait()
	}()

	var (
		waitErr  error
		forced   bool
		canceled bool
	)
	select {
	case waitErr = <-waitCh:
	case <-ctx.Done():
		canceled = true
		tr := procgroup.Terminate(cmd, waitCh, r.Grace)
		waitErr, forced = tr.WaitErr, tr.Forced
	}

	res := RunResult{
		Forced:   forced,
		Stderr:   ring.Lines(),
		Elapsed:  time.Since(start),
		Canceled: canceled,
	}
	res.ExitCode, res.Signal = exitStatus(cmd, waitErr)
	if canceled {
		return res, ctx.Err()
	}

	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		return res, fmt.Errorf("wait %s: %w", r.Bin, waitErr)
	}
	return res, nil
}

func exitStatus(cmd *exec.Cmd, waitErr error) (int, string) {
	ps := cmd.ProcessState
	if ps == nil {
		if waitErr != nil {
			return -1, ""
		}
		return 0, ""
	}
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return -1, ws.Signal().String()
	}
	return ps.ExitCode(), ""
}

func collectLines(rd io.Reader, ring *RingBuffer) {
	scanner := bufio.NewScanner(rd)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) > maxStderrLine {
			line = line[:maxStderrLine]
		}
		if line != "" {
			ring.Add(line)
		}
	}
	_, _ = io.Copy(io.Discard, rd)
}

// RingBuffer keeps the last N lines written to it.
type RingBuffer struct {
	mu    sync.Mutex
	lines []string
	pos   int
	full  bool
}

func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = defaultStderrLines
	}
	return &RingBuffer{lines: make([]string, size)}
}

func (r *RingBuffer) Add(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines[r.pos] = line
	r.pos = (r.pos + 1) % len(r.lines)
	if r.pos == 0 {
		r.full = true
	}
}

// Lines returns the buffered lines, oldest first.
func (r *RingBuffer) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		return append([]string(nil), r.lines[:r.pos]...)
	}
	res := make([]string, len(r.lines))
	n := copy(res, r.lines[r.pos:])
	copy(res[n:], r.lines[:r.pos])
	return res
}
