// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package launcher

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/AleutianAI/slimbase/cmd/slimbase/internal/health"
	"github.com/AleutianAI/slimbase/cmd/slimbase/internal/infra/process"
	"github.com/AleutianAI/slimbase/cmd/slimbase/internal/util"
	"github.com/AleutianAI/slimbase/pkg/logging"
)

// DataAPILauncher starts PostgREST on a loopback port behind the gateway.
type DataAPILauncher struct {
	Spawner     process.Spawner
	Provisioner Provisioner
	Waiter      *health.Waiter

	// Port is the internal listening port.
	Port int

	// DBURI connects as the authenticator role.
	DBURI string

	JWTSecret string

	// LibDir is exported as LD_LIBRARY_PATH and DYLD_LIBRARY_PATH when set.
	LibDir string

	ReadyTimeout time.Duration
	StopGrace    time.Duration
	Logger       *logging.Logger
}

// Name implements Launcher.
func (l *DataAPILauncher) Name() string { return "data-api" }

// BaseURL is where the data API listens.
func (l *DataAPILauncher) BaseURL() string {
	return "http://127.0.0.1:" + strconv.Itoa(l.Port)
}

// Env builds the child environment. Secrets are marked sensitive.
func (l *DataAPILauncher) Env() *util.EnvVars {
	env := util.EmptyEnvVars()
	env.MustAdd("PGRST_DB_URI", l.DBURI, true)
	env.MustAdd("PGRST_DB_SCHEMAS", "public", false)
	env.MustAdd("PGRST_DB_ANON_ROLE", "anon", false)
	env.MustAdd("PGRST_JWT_SECRET", l.JWTSecret, true)
	env.MustAdd("PGRST_SERVER_HOST", "127.0.0.1", false)
	env.MustAdd("PGRST_SERVER_PORT", strconv.Itoa(l.Port), false)
	if l.LibDir != "" {
		env.MustAdd("LD_LIBRARY_PATH", l.LibDir, false)
		env.MustAdd("DYLD_LIBRARY_PATH", l.LibDir, false)
	}
	return env
}

// Launch implements Launcher.
func (l *DataAPILauncher) Launch(ctx context.Context) (*RunningService, error) {
	log := l.Logger
	if log == nil {
		log = logging.Discard()
	}
	waiter := l.Waiter
	if waiter == nil {
		waiter = &health.Waiter{}
	}

	bin, err := l.Provisioner.Ensure(BinPostgREST)
	if err != nil {
		return nil, err
	}
	env := l.Env()
	log.Debug("data api environment", "env", env.RedactedSlice())

	proc, err := l.Spawner.Start(ctx, process.Spec{
		Name:         BinPostgREST,
		Path:         bin,
		Env:          env,
		StderrAsInfo: true,
	})
	if err != nil {
		return nil, initErr(l.Name(), "start", err)
	}
	grace := util.DefaultIfZero(l.StopGrace, util.DefaultStopGrace)

	timeout := util.DefaultIfZero(l.ReadyTimeout, util.DefaultReadinessTimeout)
	if err := waiter.WaitForReady(ctx, l.BaseURL()+"/", timeout); err != nil {
		_ = process.StopAndWait(context.WithoutCancel(ctx), proc, grace)
		return nil, fmt.Errorf("%s: %w", l.Name(), err)
	}
	log.Info("data api ready", "url", l.BaseURL())

	return NewRunningService(l.Name(), l.BaseURL(), l.Port, proc,
		func(ctx context.Context) error { return process.StopAndWait(ctx, proc, grace) }), nil
}

var _ Launcher = (*DataAPILauncher)(nil)
