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
	"sync"
)

// =============================================================================
// Mock Implementations
// =============================================================================

// MockSpawner is a Spawner for tests.
//
// # Description
//
// Records every call. When StartFunc is nil, Start returns a fresh
// MockProcess. When RunFunc is nil, Run succeeds with empty output.
//
// # Examples
//
//	spawner := &MockSpawner{
//	    RunFunc: func(ctx context.Context, spec Spec) ([]byte, error) {
//	        return nil, util.NewCommandError("gotrue migrate", 1, "already exists", nil)
//	    },
//	}
type MockSpawner struct {
	StartFunc func(ctx context.Context, spec Spec) (Process, error)
	RunFunc   func(ctx context.Context, spec Spec) ([]byte, error)

	Calls []SpawnerCall

	mu sync.Mutex
}

// SpawnerCall records one MockSpawner invocation.
type SpawnerCall struct {
	Method string
	Spec   Spec
}

// Start records the call and delegates to StartFunc.
func (m *MockSpawner) Start(ctx context.Context, spec Spec) (Process, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, SpawnerCall{Method: "Start", Spec: spec})
	fn := m.StartFunc
	m.mu.Unlock()
	if fn == nil {
		return NewMockProcess(4242), nil
	}
	return fn(ctx, spec)
}

// Run records the call and delegates to RunFunc.
func (m *MockSpawner) Run(ctx context.Context, spec Spec) ([]byte, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, SpawnerCall{Method: "Run", Spec: spec})
	fn := m.RunFunc
	m.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(ctx, spec)
}

// CallsTo returns the recorded calls for method, in order.
func (m *MockSpawner) CallsTo(method string) []SpawnerCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []SpawnerCall
	for _, c := range m.Calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

var _ Spawner = (*MockSpawner)(nil)

// MockProcess is a Process whose Stop ends it immediately.
type MockProcess struct {
	Pid       int
	StopCount int
	KillCount int
	StopErr   error

	mu   sync.Mutex
	done chan struct{}
	once sync.Once
}

// NewMockProcess returns a running MockProcess.
func NewMockProcess(pid int) *MockProcess {
	return &MockProcess{Pid: pid, done: make(chan struct{})}
}

func (m *MockProcess) PID() int { return m.Pid }

func (m *MockProcess) Stop() error {
	m.mu.Lock()
	m.StopCount++
	m.mu.Unlock()
	m.Exit()
	return m.StopErr
}

func (m *MockProcess) Kill() error {
	m.mu.Lock()
	m.KillCount++
	m.mu.Unlock()
	m.Exit()
	return nil
}

func (m *MockProcess) Wait(ctx context.Context) error {
	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *MockProcess) Exited() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

// Exit simulates the process ending on its own.
func (m *MockProcess) Exit() {
	m.once.Do(func() { close(m.done) })
}

// Stops returns how many times Stop was called.
func (m *MockProcess) Stops() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.StopCount
}

var _ Process = (*MockProcess)(nil)
