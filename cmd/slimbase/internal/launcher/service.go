// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package launcher starts the stack's dependencies: the database, the data
// API and the auth service.
//
// Every launcher follows the same sequence:
//
//  1. Build the child's environment (secrets marked sensitive)
//  2. Run one-time idempotent init, treating "already done" as success
//  3. Spawn the long-lived process through a process.Spawner
//  4. Wait for readiness
//  5. Return a *RunningService
//
// A launcher that fails after step 3 stops its own process before
// returning, so the orchestrator only tears down services it was handed.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/AleutianAI/slimbase/cmd/slimbase/internal/infra/process"
)

// =============================================================================
// Errors
// =============================================================================

// ErrDependencyInit matches every *InitError.
var ErrDependencyInit = errors.New("dependency initialization failed")

// InitError reports a failed provisioning or init step.
type InitError struct {
	// Service is the launcher name ("database", "data-api", "auth").
	Service string

	// Step is the failed step ("provision", "initdb", "start", "bootstrap",
	// "passwords", "migrate").
	Step string

	Err error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("%s: %s failed: %v", e.Service, e.Step, e.Err)
}

// Unwrap returns the cause, often a *util.CommandError.
func (e *InitError) Unwrap() error { return e.Err }

// Is matches ErrDependencyInit.
func (e *InitError) Is(target error) bool { return target == ErrDependencyInit }

func initErr(service, step string, err error) error {
	return &InitError{Service: service, Step: step, Err: err}
}

// =============================================================================
// Running Service
// =============================================================================

// RunningService is a started, ready dependency.
//
// # Description
//
// Created only after a successful readiness check. Stop is idempotent:
// every call after the first returns the first call's result. A stopped
// service is never restarted; launch a new one instead.
type RunningService struct {
	// Name is the launcher name.
	Name string

	// Process is nil for in-process services (the gateway).
	Process process.Process

	// BaseURL is where the service listens. For the database this is the
	// superuser connection string.
	BaseURL string

	// Port is the TCP port the service listens on.
	Port int

	stop    func(ctx context.Context) error
	once    sync.Once
	stopErr error
}

// NewRunningService wraps stop in an idempotent Stop.
func NewRunningService(name, baseURL string, port int, proc process.Process, stop func(ctx context.Context) error) *RunningService {
	return &RunningService{Name: name, BaseURL: baseURL, Port: port, Process: proc, stop: stop}
}

// Stop shuts the service down once.
func (s *RunningService) Stop(ctx context.Context) error {
	s.once.Do(func() {
		if s.stop != nil {
			s.stopErr = s.stop(ctx)
		}
	})
	return s.stopErr
}

// Launcher starts one dependency.
type Launcher interface {
	Name() string
	Launch(ctx context.Context) (*RunningService, error)
}
