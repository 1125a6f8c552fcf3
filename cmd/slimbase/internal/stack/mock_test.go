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
	"context"
	"sync"

	"github.com/AleutianAI/slimbase/cmd/slimbase/config"
	"github.com/AleutianAI/slimbase/cmd/slimbase/internal/infra/process"
	"github.com/AleutianAI/slimbase/cmd/slimbase/internal/launcher"
	"github.com/AleutianAI/slimbase/cmd/slimbase/internal/secrets"
)

// eventLog records launches and stops in order across mocks.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.events))
	copy(out, l.events)
	return out
}

// MockLauncher is a launcher.Launcher with a configurable outcome.
type MockLauncher struct {
	NameValue  string
	Port       int
	LaunchFunc func(ctx context.Context) (*launcher.RunningService, error)

	log  *eventLog
	Proc *process.MockProcess
}

func (m *MockLauncher) Name() string { return m.NameValue }

func (m *MockLauncher) Launch(ctx context.Context) (*launcher.RunningService, error) {
	m.log.add("launch " + m.NameValue)
	if m.LaunchFunc != nil {
		return m.LaunchFunc(ctx)
	}
	m.Proc = process.NewMockProcess(1000 + m.Port)
	proc := m.Proc
	return launcher.NewRunningService(m.NameValue, "http://127.0.0.1:1", m.Port, proc,
		func(context.Context) error {
			m.log.add("stop " + m.NameValue)
			return proc.Stop()
		}), nil
}

var _ launcher.Launcher = (*MockLauncher)(nil)

// MockGateway is a stack.Gateway.
type MockGateway struct {
	StartErr error
	StopErr  error
	Up       Upstreams

	log *eventLog
}

func (m *MockGateway) Start() error {
	m.log.add("launch gateway")
	return m.StartErr
}

func (m *MockGateway) Stop(context.Context) error {
	m.log.add("stop gateway")
	return m.StopErr
}

func (m *MockGateway) URL() string { return "http://127.0.0.1:54321" }

var _ Gateway = (*MockGateway)(nil)

// MockLocker is a process.Locker.
type MockLocker struct {
	AcquireErr error

	log  *eventLog
	held bool
}

func (m *MockLocker) Acquire() error {
	if m.AcquireErr != nil {
		return m.AcquireErr
	}
	m.log.add("lock")
	m.held = true
	return nil
}

func (m *MockLocker) Release() error {
	m.log.add("unlock")
	m.held = false
	return nil
}

func (m *MockLocker) IsHeld() bool   { return m.held }
func (m *MockLocker) HolderPID() int { return 0 }

var _ process.Locker = (*MockLocker)(nil)

// stubSecrets returns a fixed bundle.
type stubSecrets struct {
	bundle  secrets.Bundle
	created bool
	err     error
}

func (s stubSecrets) LoadOrCreate() (secrets.Bundle, bool, error) {
	return s.bundle, s.created, s.err
}

// identityPorts reports every preferred port as free.
type identityPorts struct{ err error }

func (p identityPorts) FindAvailablePort(preferred int) (int, error) {
	if p.err != nil {
		return 0, p.err
	}
	return preferred, nil
}

var _ config.PortFinder = identityPorts{}
