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
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/slimbase/cmd/slimbase/internal/util"
	"github.com/AleutianAI/slimbase/pkg/logging"
)

// =============================================================================
// Helpers
// =============================================================================

// recordingSink captures forwarded lines by level.
type recordingSink struct {
	mu    sync.Mutex
	info  []string
	error []string
}

func (r *recordingSink) Info(msg string, _ ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.info = append(r.info, msg)
}

func (r *recordingSink) Error(msg string, _ ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.error = append(r.error, msg)
}

type fixedStreams struct {
	out, err io.Reader
}

func (f fixedStreams) Stdout() io.Reader { return f.out }
func (f fixedStreams) Stderr() io.Reader { return f.err }

func requireShell(t *testing.T) string {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	return sh
}

// =============================================================================
// Pipe Tests
// =============================================================================

func TestPipe_SplitsLinesAndDropsBlanks(t *testing.T) {
	sink := &recordingSink{}
	streams := fixedStreams{
		out: strings.NewReader("first\n\n  \nsecond\r\npartial"),
		err: strings.NewReader("warn one\n"),
	}

	require.NoError(t, Pipe(streams, sink, false).Wait())
	assert.Equal(t, []string{"first", "second", "partial"}, sink.info)
	assert.Equal(t, []string{"warn one"}, sink.error)
}

func TestPipe_StderrAsInfo(t *testing.T) {
	sink := &recordingSink{}
	streams := fixedStreams{out: strings.NewReader(""), err: strings.NewReader("GoTrue API started\n")}

	require.NoError(t, Pipe(streams, sink, true).Wait())
	assert.Equal(t, []string{"GoTrue API started"}, sink.info)
	assert.Empty(t, sink.error)
}

func TestPipe_LongLine(t *testing.T) {
	sink := &recordingSink{}
	long := strings.Repeat("x", 256*1024)
	streams := fixedStreams{out: strings.NewReader(long + "\n"), err: strings.NewReader("")}

	require.NoError(t, Pipe(streams, sink, false).Wait())
	require.Len(t, sink.info, 1)
	assert.Len(t, sink.info[0], len(long))
}

// =============================================================================
// Supervisor Tests
// =============================================================================

func TestSupervisor_SpawnForwardsOutput(t *testing.T) {
	sh := requireShell(t)
	var buf lockedBuffer
	sup := NewSupervisor(logging.New(logging.Config{Output: &buf}))

	env := util.EmptyEnvVars()
	env.MustAdd("GREETING", "hello", false)
	h, err := sup.Spawn(context.Background(), Spec{
		Name: "echoer",
		Path: sh,
		Args: []string{"-c", `echo "$GREETING out"; echo "err line" 1>&2`},
		Env:  env,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.Wait(ctx))
	assert.True(t, h.Exited())

	out := buf.String()
	assert.Contains(t, out, `msg="hello out"`)
	assert.Contains(t, out, `level=ERROR msg="err line"`)
	assert.Contains(t, out, "service=echoer")
}

func TestSupervisor_StopIsIdempotent(t *testing.T) {
	sh := requireShell(t)
	sup := NewSupervisor(nil)

	h, err := sup.Spawn(context.Background(), Spec{Name: "sleeper", Path: sh, Args: []string{"-c", "exec sleep 30"}})
	require.NoError(t, err)
	assert.Greater(t, h.PID(), 0)

	require.NoError(t, h.Stop())
	require.NoError(t, h.Stop())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.Wait(ctx), "exit caused by Stop is not an error")
	require.NoError(t, h.Stop(), "stop after exit is a no-op")
}

func TestSupervisor_UnexpectedExitReportsError(t *testing.T) {
	sh := requireShell(t)
	h, err := NewSupervisor(nil).Spawn(context.Background(), Spec{Name: "crasher", Path: sh, Args: []string{"-c", "exit 3"}})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = h.Wait(ctx)
	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 3, exitErr.ExitCode())
}

func TestSupervisor_SpawnMissingBinary(t *testing.T) {
	_, err := NewSupervisor(nil).Spawn(context.Background(), Spec{Name: "ghost", Path: filepath.Join(t.TempDir(), "nope")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start ghost")
}

func TestStopAndWait_KillsAfterGrace(t *testing.T) {
	sh := requireShell(t)
	h, err := NewSupervisor(nil).Spawn(context.Background(), Spec{
		Name: "stubborn",
		Path: sh,
		Args: []string{"-c", `trap "" TERM; while true; do sleep 0.1; done`},
	})
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	start := time.Now()
	require.NoError(t, StopAndWait(ctx, h, 300*time.Millisecond))
	assert.True(t, h.Exited())
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)
}

func TestSupervisor_RunCapturesStderr(t *testing.T) {
	sh := requireShell(t)
	sup := NewSupervisor(nil)

	out, err := sup.Run(context.Background(), Spec{Name: "ok", Path: sh, Args: []string{"-c", "echo done"}})
	require.NoError(t, err)
	assert.Equal(t, "done\n", string(out))

	_, err = sup.Run(context.Background(), Spec{Name: "migrate", Path: sh, Args: []string{"-c", "echo 'relation already exists' 1>&2; exit 1"}})
	var cmdErr *util.CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, 1, cmdErr.ExitCode)
	assert.True(t, cmdErr.StderrContains("already"))
}

// =============================================================================
// Lock Tests
// =============================================================================

func TestStateLock_RejectsSecondHolder(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")
	first := NewStateLock(LockConfig{Dir: dir})
	require.NoError(t, first.Acquire())
	defer first.Release()
	assert.True(t, first.IsHeld())
	require.NoError(t, first.Acquire(), "re-acquire by holder is a no-op")

	second := NewStateLock(LockConfig{Dir: dir})
	err := second.Acquire()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLockHeld)

	var held *LockHeldError
	require.True(t, errors.As(err, &held))
	assert.Equal(t, os.Getpid(), held.HolderPID)
	assert.Contains(t, err.Error(), fmt.Sprintf("PID %d", os.Getpid()))
}

func TestStateLock_ReleaseAllowsReacquire(t *testing.T) {
	dir := t.TempDir()
	first := NewStateLock(LockConfig{Dir: dir})
	require.NoError(t, first.Acquire())
	require.NoError(t, first.Release())
	require.NoError(t, first.Release(), "double release is safe")
	assert.Equal(t, 0, first.HolderPID())

	second := NewStateLock(LockConfig{Dir: dir})
	require.NoError(t, second.Acquire())
	require.NoError(t, second.Release())
}

// =============================================================================
// Mock Tests
// =============================================================================

func TestMockProcess_StopEndsWait(t *testing.T) {
	p := NewMockProcess(7)
	assert.False(t, p.Exited())
	require.NoError(t, p.Stop())
	require.NoError(t, p.Wait(context.Background()))
	assert.Equal(t, 1, p.Stops())
}

type lockedBuffer struct {
	mu sync.Mutex
	b  strings.Builder
}

func (l *lockedBuffer) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.Write(p)
}

func (l *lockedBuffer) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.String()
}
