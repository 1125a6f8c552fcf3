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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// =============================================================================
// State Directory Lock
// =============================================================================

// Locker guards a state directory against a second running stack.
type Locker interface {
	Acquire() error
	Release() error
	IsHeld() bool
	HolderPID() int
}

// LockConfig locates the lock and PID files.
type LockConfig struct {
	// Dir is the state directory.
	Dir string

	// Name is the file stem; the lock is <Name>.lock, the PID file <Name>.pid.
	Name string
}

// StateLock is an exclusive flock on <state_dir>/slimbase.lock.
//
// # Description
//
// Two stacks sharing a state directory would share secrets.json and the
// PostgreSQL data directory, and the second postmaster would refuse to
// start with a confusing message. The lock turns that into a clear error
// naming the running PID. The kernel drops the lock when the process dies,
// so a crash never leaves a stale lock behind (only a stale PID file,
// which is informational).
//
// # Thread Safety
//
// Not safe for concurrent Acquire/Release. The orchestrator calls both from
// its own goroutine.
type StateLock struct {
	lockPath string
	pidPath  string
	file     *os.File
	held     bool
}

// ErrLockHeld matches *LockHeldError.
var ErrLockHeld = errors.New("state directory is locked")

// LockHeldError names the process holding the lock.
type LockHeldError struct {
	HolderPID int
	LockPath  string
}

func (e *LockHeldError) Error() string {
	if e.HolderPID > 0 {
		return fmt.Sprintf("another slimbase stack is running (PID %d); lock %s", e.HolderPID, e.LockPath)
	}
	return fmt.Sprintf("another slimbase stack is running (check: lsof %s)", e.LockPath)
}

// Is matches ErrLockHeld.
func (e *LockHeldError) Is(target error) bool { return target == ErrLockHeld }

// NewStateLock builds a lock for config. Name defaults to "slimbase".
func NewStateLock(config LockConfig) *StateLock {
	if config.Name == "" {
		config.Name = "slimbase"
	}
	return &StateLock{
		lockPath: filepath.Join(config.Dir, config.Name+".lock"),
		pidPath:  filepath.Join(config.Dir, config.Name+".pid"),
	}
}

// Acquire takes the lock without blocking. Acquiring twice is a no-op.
//
// # Outputs
//
//   - error: *LockHeldError (matches ErrLockHeld) when another holder exists
func (p *StateLock) Acquire() error {
	if p.held {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(p.lockPath), 0700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	f, err := os.OpenFile(p.lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open lock file %s: %w", p.lockPath, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return &LockHeldError{HolderPID: p.readHolderPID(), LockPath: p.lockPath}
		}
		return fmt.Errorf("acquire lock: %w", err)
	}

	p.file = f
	p.held = true
	// The PID file is informational; the flock is what excludes.
	_ = os.WriteFile(p.pidPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0600)
	return nil
}

// Release drops the lock and removes the PID file. Safe to call when not held.
func (p *StateLock) Release() error {
	if !p.held || p.file == nil {
		return nil
	}
	_ = os.Remove(p.pidPath)
	err := unix.Flock(int(p.file.Fd()), unix.LOCK_UN)
	p.file.Close()
	p.file = nil
	p.held = false
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// IsHeld reports whether this instance holds the lock.
func (p *StateLock) IsHeld() bool { return p.held }

// HolderPID returns the PID recorded by the current holder, or 0.
func (p *StateLock) HolderPID() int { return p.readHolderPID() }

func (p *StateLock) readHolderPID() int {
	data, err := os.ReadFile(p.pidPath)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

var _ Locker = (*StateLock)(nil)
