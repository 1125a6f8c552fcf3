// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package util provides shared utilities for the slimbase CLI.
//
// This package contains low-level utilities that have no dependencies on
// other internal packages, making it a leaf package in the dependency graph.
//
// # Overview
//
// The util package provides four categories of utilities:
//
//   - Timeout Management: Enforce minimum and default timeouts to prevent hangs
//   - Environment Variables: Typed child-process environments with redaction
//   - Command Errors: Rich error wrapping for one-shot command failures
//   - Goroutine Safety: Panic recovery for background goroutines
//
// # Thread Safety
//
// [CommandError] and [EnvVar] are immutable after creation. [EnvVars] is
// NOT thread-safe; build it on one goroutine and hand it off read-only.
//
// # Key Types
//
// Environment variables:
//
//	envs := util.EmptyEnvVars()
//	envs.MustAdd("PGRST_JWT_SECRET", secret, true)
//	fmt.Println(envs.RedactedSlice()) // Safe for logging
//
// Command errors:
//
//	err := util.NewCommandError("auth migrate", 1, stderr, originalErr)
//	var cmdErr *util.CommandError
//	if errors.As(err, &cmdErr) {
//	    fmt.Println(cmdErr.Stderr)
//	}
package util
