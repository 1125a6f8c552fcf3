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
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/slimbase/cmd/slimbase/config"
	"github.com/AleutianAI/slimbase/cmd/slimbase/internal/health"
	"github.com/AleutianAI/slimbase/cmd/slimbase/internal/infra/process"
	"github.com/AleutianAI/slimbase/cmd/slimbase/internal/launcher"
	"github.com/AleutianAI/slimbase/cmd/slimbase/internal/secrets"
	"github.com/AleutianAI/slimbase/pkg/logging"
	"github.com/AleutianAI/slimbase/services/gateway"
	"github.com/AleutianAI/slimbase/services/gateway/observability"
)

// LauncherDeps are the collaborators shared by the production launchers.
type LauncherDeps struct {
	Spawner     process.Spawner
	Provisioner launcher.Provisioner
	Waiter      *health.Waiter
	Logger      *logging.Logger
}

// DefaultLaunchers wires the PostgreSQL, PostgREST and auth launchers.
//
// # Description
//
// The data API connects as the authenticator role and the auth service as
// supabase_auth_admin, both with the configured database password that
// the database launcher assigns after bootstrap. The auth launcher is
// omitted when cfg.Auth.Enabled is false.
func DefaultLaunchers(deps LauncherDeps) LauncherFactory {
	return func(cfg config.Config, bundle secrets.Bundle) Launchers {
		log := deps.Logger
		if log == nil {
			log = logging.Discard()
		}
		engine := &launcher.PostgresEngine{
			Spawner:     deps.Spawner,
			Provisioner: deps.Provisioner,
			DataDir:     cfg.Paths.DataDir,
			ListenPort:  cfg.DB.Port,
			User:        cfg.DB.User,
			Password:    cfg.DB.Password,
			Logger:      log,
		}

		ls := Launchers{
			Database: &launcher.DatabaseLauncher{
				Engine:   engine,
				Waiter:   deps.Waiter,
				Password: cfg.DB.Password,
				Logger:   log,
			},
			DataAPI: &launcher.DataAPILauncher{
				Spawner:     deps.Spawner,
				Provisioner: deps.Provisioner,
				Waiter:      deps.Waiter,
				Port:        cfg.API.InternalPort,
				DBURI: engine.ConnString(launcher.ConnOptions{
					Role:     launcher.RoleAuthenticator,
					Password: cfg.DB.Password,
				}),
				JWTSecret: bundle.JWTSecret,
				LibDir:    cfg.Paths.LibDir,
				Logger:    log,
			},
		}
		if cfg.Auth.Enabled {
			ls.AuthAPI = &launcher.AuthAPILauncher{
				Spawner:     deps.Spawner,
				Provisioner: deps.Provisioner,
				Waiter:      deps.Waiter,
				Port:        cfg.Auth.Port,
				DBURI: engine.ConnString(launcher.ConnOptions{
					Role:     launcher.RoleSupabaseAuthAdmin,
					Password: cfg.DB.Password,
				}),
				JWTSecret:   bundle.JWTSecret,
				SiteURL:     cfg.Auth.SiteURL,
				ExternalURL: cfg.GatewayURL(),
				Logger:      log,
			}
		}
		return ls
	}
}

// DefaultGateway builds a services/gateway Gateway routing /rest/v1 to the
// data API and, when started, /auth/v1 to the auth service. Both persisted
// keys are accepted.
func DefaultGateway(logger *logging.Logger, metrics *observability.Metrics, tp trace.TracerProvider) GatewayFactory {
	return func(cfg config.Config, bundle secrets.Bundle, up Upstreams) (Gateway, error) {
		routes := make([]gateway.Route, 0, 2)
		data, err := gateway.NewRoute(up.DataAPI.Name, gateway.PrefixDataAPI, up.DataAPI.BaseURL)
		if err != nil {
			return nil, err
		}
		routes = append(routes, data)
		if up.AuthAPI != nil {
			auth, err := gateway.NewRoute(up.AuthAPI.Name, gateway.PrefixAuthAPI, up.AuthAPI.BaseURL)
			if err != nil {
				return nil, err
			}
			routes = append(routes, auth)
		}
		table, err := gateway.NewRouteTable(routes...)
		if err != nil {
			return nil, err
		}
		return gateway.New(gateway.Config{
			Port:            cfg.API.Port,
			Keys:            gateway.NewKeySet(bundle.APIKeys()...),
			Routes:          table,
			UpstreamTimeout: cfg.Gateway.UpstreamTimeout,
			MetricsPort:     cfg.Gateway.MetricsPort,
			Metrics:         metrics,
			TracerProvider:  tp,
			Logger:          logger,
		})
	}
}
