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

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// RecordFile is the runtime record's name inside the state directory.
const RecordFile = "stack.json"

// ErrNoRecord means no stack is recorded as running.
var ErrNoRecord = errors.New("no running stack recorded")

// ServiceInfo describes one started service. URLs never carry passwords.
type ServiceInfo struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Port int    `json:"port"`
	PID  int    `json:"pid,omitempty"`
}

// Record is the runtime description of a running stack, written once it
// reaches PhaseRunning and removed on clean shutdown.
type Record struct {
	RunID      string        `json:"runId"`
	PID        int           `json:"pid"`
	GatewayURL string        `json:"gatewayUrl"`
	MetricsURL string        `json:"metricsUrl,omitempty"`
	Services   []ServiceInfo `json:"services"`
	StartedAt  time.Time     `json:"startedAt"`
}

// RecordPath is the record's location in stateDir.
func RecordPath(stateDir string) string {
	return filepath.Join(stateDir, RecordFile)
}

// WriteRecord atomically replaces the record in stateDir.
func WriteRecord(stateDir string, rec Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode stack record: %w", err)
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(stateDir, RecordFile+".*")
	if err != nil {
		return fmt.Errorf("write stack record: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("write stack record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write stack record: %w", err)
	}
	if err := os.Rename(tmp.Name(), RecordPath(stateDir)); err != nil {
		return fmt.Errorf("write stack record: %w", err)
	}
	return nil
}

// ReadRecord loads the record. A missing file is ErrNoRecord.
func ReadRecord(stateDir string) (Record, error) {
	var rec Record
	data, err := os.ReadFile(RecordPath(stateDir))
	if errors.Is(err, os.ErrNotExist) {
		return rec, ErrNoRecord
	}
	if err != nil {
		return rec, fmt.Errorf("read stack record: %w", err)
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("decode stack record %s: %w", RecordPath(stateDir), err)
	}
	return rec, nil
}

// RemoveRecord deletes the record. A missing file is not an error.
func RemoveRecord(stateDir string) error {
	err := os.Remove(RecordPath(stateDir))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stack record: %w", err)
	}
	return nil
}
