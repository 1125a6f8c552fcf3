// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package util

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// Command Error Type
// =============================================================================

// CommandError wraps a one-shot command failure with stderr context.
//
// # Description
//
// Carries the command that failed, its exit code, and its standard error
// output. Launchers inspect Stderr to decide whether an init step failed
// for a benign reason (for example, migrations that were already applied).
//
// # Thread Safety
//
// CommandError is immutable after creation and safe for concurrent reads.
//
// # Example
//
//	err := NewCommandError("gotrue migrate", 1, "relation already exists", originalErr)
//	fmt.Println(err.Error()) // "gotrue migrate (exit 1): relation already exists"
//
// # Limitations
//
//   - Stderr is captured whole, so very chatty commands consume memory
type CommandError struct {
	// Command is the command line that was executed.
	Command string

	// ExitCode is the process exit code (-1 if the process never ran).
	ExitCode int

	// Stderr contains the standard error output (trimmed).
	Stderr string

	// Wrapped is the underlying error (may be nil).
	Wrapped error
}

// =============================================================================
// CommandError Methods
// =============================================================================

// Error returns a formatted error message. Stderr takes priority over the
// wrapped error.
func (e *CommandError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s (exit %d): %s", e.Command, e.ExitCode, e.Stderr)
	}
	if e.Wrapped != nil {
		return fmt.Sprintf("%s (exit %d): %v", e.Command, e.ExitCode, e.Wrapped)
	}
	return fmt.Sprintf("%s (exit %d)", e.Command, e.ExitCode)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *CommandError) Unwrap() error {
	return e.Wrapped
}

// HasStderr reports whether any stderr output was captured.
func (e *CommandError) HasStderr() bool {
	return e.Stderr != ""
}

// StderrContains reports whether the captured stderr contains substr,
// ignoring case.
func (e *CommandError) StderrContains(substr string) bool {
	return strings.Contains(strings.ToLower(e.Stderr), strings.ToLower(substr))
}

var _ error = (*CommandError)(nil)

// =============================================================================
// Constructors
// =============================================================================

// NewCommandError creates a CommandError with trimmed stderr.
func NewCommandError(cmd string, exitCode int, stderr string, wrapped error) *CommandError {
	return &CommandError{
		Command:  cmd,
		ExitCode: exitCode,
		Stderr:   strings.TrimSpace(stderr),
		Wrapped:  wrapped,
	}
}

// ExtractStderr walks the error chain and returns the first non-empty
// CommandError stderr, or "" when there is none.
func ExtractStderr(err error) string {
	var cmdErr *CommandError
	for err != nil {
		if errors.As(err, &cmdErr) && cmdErr.HasStderr() {
			return cmdErr.Stderr
		}
		if cmdErr == nil {
			return ""
		}
		err = cmdErr.Unwrap()
		cmdErr = nil
	}
	return ""
}
