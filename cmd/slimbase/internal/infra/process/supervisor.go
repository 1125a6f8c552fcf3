// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/AleutianAI/slimbase/cmd/slimbase/internal/util"
	"github.com/AleutianAI/slimbase/pkg/logging"
)

// =============================================================================
// Types
// =============================================================================

// Spec describes a child process.
type Spec struct {
	// Name tags log lines and errors ("postgres", "postgrest", "gotrue").
	Name string

	// Path is the executable.
	Path string

	// Args excludes the program name.
	Args []string

	// Env is overlaid on the parent environment. Nil inherits it unchanged.
	Env *util.EnvVars

	// Dir is the working directory; empty inherits the parent's.
	Dir string

	// StderrAsInfo logs stderr lines at info level. Services that write
	// routine output to stderr set this so the console is not all errors.
	StderrAsInfo bool
}

func (s Spec) commandLine() string {
	if len(s.Args) == 0 {
		return s.Path
	}
	return s.Path + " " + strings.Join(s.Args, " ")
}

// Process is a running child as seen by launchers.
type Process interface {
	PID() int
	Stop() error
	Kill() error
	Wait(ctx context.Context) error
	Exited() bool
}

// Spawner starts long-lived children and runs one-shot commands.
type Spawner interface {
	Start(ctx context.Context, spec Spec) (Process, error)
	Run(ctx context.Context, spec Spec) ([]byte, error)
}

// =============================================================================
// Supervisor
// =============================================================================

// Supervisor is the production Spawner.
//
// # Description
//
// Each spawned child logs through logger.With("service", spec.Name).
// Supervisor holds no per-child state and is safe for concurrent use.
type Supervisor struct {
	logger *logging.Logger
}

// NewSupervisor creates a Supervisor logging through logger.
func NewSupervisor(logger *logging.Logger) *Supervisor {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Supervisor{logger: logger}
}

// Spawn starts spec and begins draining its output.
//
// # Description
//
// The child runs in a new process group. Two drain goroutines forward its
// stdout and stderr line by line; the handle is marked exited only after
// both streams are drained and the process has been reaped.
//
// # Inputs
//
//   - ctx: Only consulted before starting. The child outlives ctx; use
//     Handle.Stop to end it.
//   - spec: What to run
//
// # Outputs
//
//   - *Handle: The running child
//   - error: Non-nil if the executable could not be started
func (s *Supervisor) Spawn(ctx context.Context, spec Spec) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sink := s.logger.With("service", spec.Name)

	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Env = spec.Env.Environ(os.Environ())
	cmd.Dir = spec.Dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%s: stdout pipe: %w", spec.Name, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("%s: stderr pipe: %w", spec.Name, err)
	}

	s.logger.Debug("spawning process", "name", spec.Name, "cmd", spec.commandLine(), "env", spec.Env.RedactedSlice())
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", spec.Name, err)
	}

	h := &Handle{
		name:   spec.Name,
		cmd:    cmd,
		stdout: stdout,
		stderr: stderr,
		done:   make(chan struct{}),
	}
	drains := Pipe(h, sink, spec.StderrAsInfo)

	go func() {
		drainErr := drains.Wait()
		h.exitErr = cmd.Wait()
		close(h.done)
		if drainErr != nil {
			sink.Warn("output drain failed", "error", drainErr)
		}
		if h.stopRequested.Load() {
			sink.Debug("process exited", "pid", h.PID())
			return
		}
		if h.exitErr != nil {
			sink.Error("process exited unexpectedly", "pid", h.PID(), "error", h.exitErr)
		} else {
			sink.Info("process exited", "pid", h.PID())
		}
	}()

	s.logger.Info("process started", "name", spec.Name, "pid", cmd.Process.Pid)
	return h, nil
}

// Start implements Spawner.
func (s *Supervisor) Start(ctx context.Context, spec Spec) (Process, error) {
	h, err := s.Spawn(ctx, spec)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Run executes spec to completion and returns its stdout.
//
// # Outputs
//
//   - []byte: Captured stdout
//   - error: *util.CommandError with trimmed stderr on non-zero exit or
//     start failure; ctx cancellation kills the child
func (s *Supervisor) Run(ctx context.Context, spec Spec) ([]byte, error) {
	cmd := exec.CommandContext(ctx, spec.Path, spec.Args...)
	cmd.Env = spec.Env.Environ(os.Environ())
	cmd.Dir = spec.Dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	s.logger.Debug("running command", "name", spec.Name, "cmd", spec.commandLine())
	if err := cmd.Run(); err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return stdout.Bytes(), util.NewCommandError(spec.commandLine(), exitCode, stderr.String(), err)
	}
	return stdout.Bytes(), nil
}

var _ Spawner = (*Supervisor)(nil)

// =============================================================================
// Handle
// =============================================================================

// Handle is a running child started by Spawn.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Handle struct {
	name   string
	cmd    *exec.Cmd
	stdout io.Reader
	stderr io.Reader

	done    chan struct{}
	exitErr error

	stopOnce      sync.Once
	stopErr       error
	stopRequested atomic.Bool
}

// Name returns the spec name.
func (h *Handle) Name() string { return h.name }

// Stdout implements OutputStreams.
func (h *Handle) Stdout() io.Reader { return h.stdout }

// Stderr implements OutputStreams.
func (h *Handle) Stderr() io.Reader { return h.stderr }

// PID returns the child's process ID (also its process group ID).
func (h *Handle) PID() int { return h.cmd.Process.Pid }

// Stop sends SIGTERM to the child and returns without waiting.
//
// # Description
//
// Repeated calls return the first result without signalling again. Stopping
// a child that already exited is a no-op.
func (h *Handle) Stop() error {
	h.stopOnce.Do(func() {
		h.stopRequested.Store(true)
		if h.Exited() {
			return
		}
		if err := h.cmd.Process.Signal(unix.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
			h.stopErr = fmt.Errorf("signal %s: %w", h.name, err)
		}
	})
	return h.stopErr
}

// Kill sends SIGKILL to the child's whole process group.
func (h *Handle) Kill() error {
	h.stopRequested.Store(true)
	if h.Exited() {
		return nil
	}
	if err := unix.Kill(-h.PID(), unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("kill %s: %w", h.name, err)
	}
	return nil
}

// Wait blocks until the child has exited and its output is drained.
//
// # Outputs
//
//   - error: ctx.Err() if ctx ends first, nil for a clean exit or an exit
//     caused by Stop/Kill, otherwise the exit error
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		if h.stopRequested.Load() {
			return nil
		}
		return h.exitErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Exited reports whether the child has been reaped.
func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Done is closed when the child has exited.
func (h *Handle) Done() <-chan struct{} { return h.done }

var (
	_ Process       = (*Handle)(nil)
	_ OutputStreams = (*Handle)(nil)
)

// StopAndWait sends SIGTERM, waits up to grace, then kills the process
// group and waits again.
func StopAndWait(ctx context.Context, p Process, grace time.Duration) error {
	if err := p.Stop(); err != nil {
		return err
	}
	graceCtx, cancel := context.WithTimeout(ctx, util.DefaultIfZero(grace, util.DefaultStopGrace))
	defer cancel()
	if err := p.Wait(graceCtx); err == nil || !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if err := p.Kill(); err != nil {
		return err
	}
	return p.Wait(ctx)
}
