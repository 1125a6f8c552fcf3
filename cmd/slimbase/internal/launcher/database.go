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
	_ "embed"
	"fmt"
	"time"

	"github.com/AleutianAI/slimbase/cmd/slimbase/internal/health"
	"github.com/AleutianAI/slimbase/cmd/slimbase/internal/infra/process"
	"github.com/AleutianAI/slimbase/cmd/slimbase/internal/util"
	"github.com/AleutianAI/slimbase/pkg/logging"
)

// Login roles whose passwords are set after bootstrap.
const (
	RoleAuthenticator     = "authenticator"
	RoleSupabaseAuthAdmin = "supabase_auth_admin"
)

// BootstrapSQL creates the roles and schemas the other services expect.
// Every statement is guarded, so it runs on every start.
//
//go:embed sql/bootstrap.sql
var BootstrapSQL string

// DatabaseLauncher brings up the database.
//
// # Description
//
// The order is fixed: init the cluster, start the server, wait until it
// accepts connections, apply BootstrapSQL, then set the login passwords.
// The passwords must come after bootstrap because the roles do not exist
// before it.
type DatabaseLauncher struct {
	Engine Engine
	Waiter *health.Waiter

	// Password is assigned to the authenticator and supabase_auth_admin roles.
	Password string

	// ReadyTimeout defaults to util.DefaultReadinessTimeout.
	ReadyTimeout time.Duration

	// StopGrace defaults to util.DefaultStopGrace.
	StopGrace time.Duration

	Logger *logging.Logger
}

// Name implements Launcher.
func (l *DatabaseLauncher) Name() string { return "database" }

// Launch implements Launcher.
func (l *DatabaseLauncher) Launch(ctx context.Context) (*RunningService, error) {
	log := l.Logger
	if log == nil {
		log = logging.Discard()
	}
	waiter := l.Waiter
	if waiter == nil {
		waiter = &health.Waiter{}
	}

	if err := l.Engine.Init(ctx); err != nil {
		return nil, initErr(l.Name(), "initdb", err)
	}

	proc, err := l.Engine.Start(ctx)
	if err != nil {
		return nil, initErr(l.Name(), "start", err)
	}
	grace := util.DefaultIfZero(l.StopGrace, util.DefaultStopGrace)
	abort := func() { _ = process.StopAndWait(context.WithoutCancel(ctx), proc, grace) }

	target := fmt.Sprintf("postgres on port %d", l.Engine.Port())
	timeout := util.DefaultIfZero(l.ReadyTimeout, util.DefaultReadinessTimeout)
	if err := waiter.WaitFor(ctx, target, timeout, l.Engine.Ping); err != nil {
		abort()
		return nil, fmt.Errorf("%s: %w", l.Name(), err)
	}

	if err := l.Engine.Exec(ctx, ConnOptions{}, BootstrapSQL); err != nil {
		abort()
		return nil, initErr(l.Name(), "bootstrap", err)
	}
	if err := l.Engine.Exec(ctx, ConnOptions{}, passwordSQL(l.Password)); err != nil {
		abort()
		return nil, initErr(l.Name(), "passwords", err)
	}
	log.Info("database ready", "port", l.Engine.Port())

	return NewRunningService(l.Name(), l.Engine.ConnString(ConnOptions{}), l.Engine.Port(), proc,
		func(ctx context.Context) error { return process.StopAndWait(ctx, proc, grace) }), nil
}

func passwordSQL(password string) string {
	lit := quoteLiteral(password)
	return fmt.Sprintf("ALTER ROLE %s PASSWORD %s;\nALTER ROLE %s PASSWORD %s;",
		RoleAuthenticator, lit, RoleSupabaseAuthAdmin, lit)
}

var _ Launcher = (*DatabaseLauncher)(nil)
