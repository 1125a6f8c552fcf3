// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stack

// Phase is a step of the stack lifecycle. Phases only move forward.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseConfigResolved
	PhaseSecretsReady
	PhaseDatabaseUp
	PhaseDataAPIUp
	PhaseAuthAPIUp
	PhaseGatewayUp
	PhaseRunning
	PhaseShuttingDown
	PhaseStopped

	// PhaseFailed is terminal after a startup error.
	PhaseFailed
)

var phaseNames = [...]string{
	PhaseIdle:           "idle",
	PhaseConfigResolved: "config_resolved",
	PhaseSecretsReady:   "secrets_ready",
	PhaseDatabaseUp:     "database_up",
	PhaseDataAPIUp:      "data_api_up",
	PhaseAuthAPIUp:      "auth_api_up",
	PhaseGatewayUp:      "gateway_up",
	PhaseRunning:        "running",
	PhaseShuttingDown:   "shutting_down",
	PhaseStopped:        "stopped",
	PhaseFailed:         "failed",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}

// Terminal reports whether no further transitions happen.
func (p Phase) Terminal() bool {
	return p == PhaseStopped || p == PhaseFailed
}
