// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import "fmt"

// PortFinder returns the lowest free port at or above preferred.
type PortFinder interface {
	FindAvailablePort(preferred int) (int, error)
}

// Reallocation records a configured port that was busy.
type Reallocation struct {
	Field     string
	Preferred int
	Chosen    int
}

// WithFreePorts returns a copy of c where every port the stack binds is
// currently free.
//
// # Description
//
// Ports are resolved in a fixed order (db, api, internal api, auth,
// metrics). Probing releases the port immediately, so a later field could
// be handed a port an earlier field already took. Such a collision is
// skipped by probing again from the next port.
//
// # Outputs
//
//   - Config: The resolved copy; c is not modified
//   - []Reallocation: One entry per field whose port changed
//   - error: The finder's error, wrapped with the field name
func (c Config) WithFreePorts(finder PortFinder) (Config, []Reallocation, error) {
	out := c
	taken := map[int]bool{}
	var moved []Reallocation

	for _, f := range c.portFields() {
		candidate := f.value
		for {
			port, err := finder.FindAvailablePort(candidate)
			if err != nil {
				return Config{}, nil, fmt.Errorf("resolve %s: %w", f.name, err)
			}
			if !taken[port] {
				candidate = port
				break
			}
			candidate = port + 1
		}
		taken[candidate] = true
		f.dst(&out, candidate)
		if candidate != f.value {
			moved = append(moved, Reallocation{Field: f.name, Preferred: f.value, Chosen: candidate})
		}
	}
	return out, moved, nil
}
