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

import "time"

// =============================================================================
// Timeout Constants
// =============================================================================

const (
	// MinProbeTimeout bounds a single readiness probe from below.
	MinProbeTimeout = 250 * time.Millisecond

	// DefaultReadinessTimeout applies to the database and data API.
	DefaultReadinessTimeout = 30 * time.Second

	// SlowReadinessTimeout applies to dependencies that migrate on boot (auth).
	SlowReadinessTimeout = 60 * time.Second

	// DefaultPollInterval is the gap between readiness probes.
	DefaultPollInterval = 500 * time.Millisecond

	// DefaultStopGrace is how long a stopped process may take to exit
	// before it is killed.
	DefaultStopGrace = 10 * time.Second

	// DefaultShutdownTimeout bounds the gateway's graceful shutdown.
	DefaultShutdownTimeout = 5 * time.Second

	// DefaultInitTimeout bounds one-shot init commands (initdb, migrate).
	DefaultInitTimeout = 2 * time.Minute
)

// =============================================================================
// Timeout Enforcement
// =============================================================================

// EnforceMinTimeout returns timeout, raised to minimum when it is lower.
// Zero and negative values are raised too, so callers cannot disable a
// deadline by accident.
//
//	t := EnforceMinTimeout(probeTimeout, MinProbeTimeout)
func EnforceMinTimeout(timeout, minimum time.Duration) time.Duration {
	if timeout < minimum {
		return minimum
	}
	return timeout
}

// DefaultIfZero returns def when timeout is zero or negative.
func DefaultIfZero(timeout, def time.Duration) time.Duration {
	if timeout <= 0 {
		return def
	}
	return timeout
}
