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
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/AleutianAI/slimbase/cmd/slimbase/internal/health"
	"github.com/AleutianAI/slimbase/cmd/slimbase/internal/infra/process"
	"github.com/AleutianAI/slimbase/cmd/slimbase/internal/util"
	"github.com/AleutianAI/slimbase/pkg/logging"
)

// AuthAPILauncher runs the auth service's migrations and then serves it.
type AuthAPILauncher struct {
	Spawner     process.Spawner
	Provisioner Provisioner
	Waiter      *health.Waiter

	Port int

	// DBURI connects as supabase_auth_admin.
	DBURI string

	JWTSecret string
	SiteURL   string

	// ExternalURL is the gateway URL clients use.
	ExternalURL string

	// ReadyTimeout defaults to util.SlowReadinessTimeout.
	ReadyTimeout time.Duration
	StopGrace    time.Duration
	Logger       *logging.Logger
}

// Name implements Launcher.
func (l *AuthAPILauncher) Name() string { return "auth" }

// BaseURL is where the auth service listens.
func (l *AuthAPILauncher) BaseURL() string {
	return "http://127.0.0.1:" + strconv.Itoa(l.Port)
}

// Env builds the child environment shared by migrate and serve.
func (l *AuthAPILauncher) Env() *util.EnvVars {
	env := util.EmptyEnvVars()
	env.MustAdd("DATABASE_URL", l.DBURI, true)
	env.MustAdd("GOTRUE_DB_DRIVER", "postgres", false)
	env.MustAdd("GOTRUE_JWT_SECRET", l.JWTSecret, true)
	env.MustAdd("GOTRUE_JWT_EXP", "3600", false)
	env.MustAdd("GOTRUE_SITE_URL", l.SiteURL, false)
	env.MustAdd("API_EXTERNAL_URL", l.ExternalURL, false)
	env.MustAdd("GOTRUE_API_HOST", "127.0.0.1", false)
	env.MustAdd("PORT", strconv.Itoa(l.Port), false)
	env.MustAdd("GOTRUE_MAILER_AUTOCONFIRM", "true", false)
	env.MustAdd("GOTRUE_PHONE_AUTOCONFIRM", "true", false)
	env.MustAdd("GOTRUE_EXTERNAL_EMAIL_ENABLED", "true", false)
	env.MustAdd("GOTRUE_EXTERNAL_PHONE_ENABLED", "false", false)
	return env
}

// Launch implements Launcher.
func (l *AuthAPILauncher) Launch(ctx context.Context) (*RunningService, error) {
	log := l.Logger
	if log == nil {
		log = logging.Discard()
	}
	waiter := l.Waiter
	if waiter == nil {
		waiter = &health.Waiter{}
	}

	bin, err := l.Provisioner.Ensure(BinAuth)
	if err != nil {
		return nil, err
	}
	env := l.Env()

	log.Info("running auth migrations")
	migrateCtx, cancel := context.WithTimeout(ctx, util.DefaultInitTimeout)
	_, err = l.Spawner.Run(migrateCtx, process.Spec{Name: BinAuth, Path: bin, Args: []string{"migrate"}, Env: env})
	cancel()
	if err != nil {
		if !alreadyMigrated(err) {
			return nil, initErr(l.Name(), "migrate", err)
		}
		log.Info("auth migrations already applied", "detail", util.ExtractStderr(err))
	}

	proc, err := l.Spawner.Start(ctx, process.Spec{
		Name:         BinAuth,
		Path:         bin,
		Args:         []string{"serve"},
		Env:          env,
		StderrAsInfo: true,
	})
	if err != nil {
		return nil, initErr(l.Name(), "start", err)
	}
	grace := util.DefaultIfZero(l.StopGrace, util.DefaultStopGrace)

	timeout := util.DefaultIfZero(l.ReadyTimeout, util.SlowReadinessTimeout)
	if err := waiter.WaitForReady(ctx, l.BaseURL()+"/health", timeout); err != nil {
		_ = process.StopAndWait(context.WithoutCancel(ctx), proc, grace)
		return nil, fmt.Errorf("%s: %w", l.Name(), err)
	}
	log.Info("auth ready", "url", l.BaseURL())

	return NewRunningService(l.Name(), l.BaseURL(), l.Port, proc,
		func(ctx context.Context) error { return process.StopAndWait(ctx, proc, grace) }), nil
}

// alreadyMigrated reports a migrate failure whose stderr says the schema
// is already in place.
func alreadyMigrated(err error) bool {
	var cmdErr *util.CommandError
	return errors.As(err, &cmdErr) && cmdErr.StderrContains("already")
}

var _ Launcher = (*AuthAPILauncher)(nil)
