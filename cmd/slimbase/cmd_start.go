// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/slimbase/cmd/slimbase/internal/health"
	"github.com/AleutianAI/slimbase/cmd/slimbase/internal/infra/process"
	"github.com/AleutianAI/slimbase/cmd/slimbase/internal/launcher"
	"github.com/AleutianAI/slimbase/cmd/slimbase/internal/stack"
	"github.com/AleutianAI/slimbase/cmd/slimbase/internal/telemetry"
	"github.com/AleutianAI/slimbase/pkg/ux"
	"github.com/AleutianAI/slimbase/services/gateway"
	"github.com/AleutianAI/slimbase/services/gateway/observability"
)

func newStartCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Run the stack in the foreground until interrupted",
		Long: `Resolves the configuration, creates or loads the persisted keys, then
starts the database, the data API, the auth API (unless auth.enabled is
false) and the gateway in that order. The first SIGINT or SIGTERM stops
everything in reverse order.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStart(cmd, flags)
		},
	}
}

// runStart blocks until the stack stops. A signal-initiated shutdown returns
// nil; a startup failure or an unexpected child exit returns the error.
func runStart(cmd *cobra.Command, flags *globalFlags) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}

	logger := newLogger(cfg, flags, cmd.ErrOrStderr(), filepath.Join(cfg.Paths.StateDir, "logs"))
	defer logger.Close()

	ctx, release := stack.WithShutdownSignals(cmd.Context(), logger)
	defer release()

	tel, err := telemetry.Init(ctx, telemetry.Config{
		Exporter: cfg.Telemetry.Exporter,
		Endpoint: cfg.Telemetry.OTLPEndpoint,
		Output:   cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Warn("Trace exporter shutdown failed", "error", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(registry)

	deps := stack.LauncherDeps{
		Spawner:     process.NewSupervisor(logger),
		Provisioner: &launcher.LocalProvisioner{BinDir: cfg.Paths.BinDir},
		Waiter:      &health.Waiter{},
		Logger:      logger,
	}

	orch, err := stack.New(stack.Options{
		Config:    cfg,
		Logger:    logger,
		Launchers: stack.DefaultLaunchers(deps),
		Gateway:   stack.DefaultGateway(logger.With("service", "gateway"), metrics, tel.TracerProvider()),
		Tracer:    tel.TracerProvider(),
	})
	if err != nil {
		return err
	}

	printer := ux.NewPrinter(cmd.OutOrStdout())
	return orch.Run(ctx, func(info stack.Info) {
		if flags.json {
			if err := writeJSON(cmd.OutOrStdout(), readyPayload(info)); err != nil {
				logger.Warn("Failed to write ready payload", "error", err)
			}
			return
		}
		stack.PrintBanner(printer, info)
	})
}

// readyInfo is the --json form of the ready banner.
type readyInfo struct {
	RunID          string              `json:"runId"`
	GatewayURL     string              `json:"gatewayUrl"`
	RestURL        string              `json:"restUrl"`
	AuthURL        string              `json:"authUrl,omitempty"`
	DatabaseURL    string              `json:"databaseUrl"`
	AnonKey        string              `json:"anonKey"`
	ServiceRoleKey string              `json:"serviceRoleKey"`
	Services       []stack.ServiceInfo `json:"services"`
}

func readyPayload(info stack.Info) readyInfo {
	out := readyInfo{
		RunID:          info.RunID,
		GatewayURL:     info.GatewayURL,
		RestURL:        info.GatewayURL + gateway.PrefixDataAPI,
		DatabaseURL:    info.DatabaseURL,
		AnonKey:        info.Bundle.AnonKey,
		ServiceRoleKey: info.Bundle.ServiceRoleKey,
		Services:       info.Services,
	}
	if info.AuthEnabled() {
		out.AuthURL = info.GatewayURL + gateway.PrefixAuthAPI
	}
	return out
}
