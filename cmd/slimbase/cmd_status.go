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
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/AleutianAI/slimbase/cmd/slimbase/internal/secrets"
	"github.com/AleutianAI/slimbase/cmd/slimbase/internal/stack"
	"github.com/AleutianAI/slimbase/pkg/ux"
	"github.com/AleutianAI/slimbase/services/gateway"
)

// Stack states reported by status.
const (
	StateStopped      = "stopped"
	StateRunning      = "running"
	StateUnresponsive = "unresponsive"
	StateStale        = "stale"
)

const statusProbeTimeout = 2 * time.Second

type statusOutput struct {
	State      string              `json:"state"`
	RunID      string              `json:"runId,omitempty"`
	PID        int                 `json:"pid,omitempty"`
	GatewayURL string              `json:"gatewayUrl,omitempty"`
	MetricsURL string              `json:"metricsUrl,omitempty"`
	StartedAt  *time.Time          `json:"startedAt,omitempty"`
	HTTPStatus int                 `json:"httpStatus,omitempty"`
	ProbeError string              `json:"probeError,omitempty"`
	Services   []stack.ServiceInfo `json:"services,omitempty"`
}

func newStatusCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether a stack is running",
		Long: `Reads <state_dir>/stack.json and probes the recorded gateway. The state is
one of stopped (no record), running (the gateway answered), unresponsive
(the owning process is alive but the gateway did not answer) or stale (the
owning process is gone).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, flags)
		},
	}
}

func runStatus(cmd *cobra.Command, flags *globalFlags) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}

	out, err := collectStatus(cmd.Context(), cfg.Paths.StateDir, http.DefaultClient)
	if err != nil {
		return err
	}

	if flags.json {
		return writeJSON(cmd.OutOrStdout(), out)
	}
	printStatus(ux.NewPrinter(cmd.OutOrStdout()), out)
	return nil
}

// collectStatus reads the runtime record and probes its gateway.
//
// # Description
//
// The probe sends the anon key when secrets exist so that a healthy data
// API answers 200. Any HTTP answer counts as reachable; only transport
// errors mark the stack unresponsive.
func collectStatus(ctx context.Context, stateDir string, client *http.Client) (statusOutput, error) {
	rec, err := stack.ReadRecord(stateDir)
	if errors.Is(err, stack.ErrNoRecord) {
		return statusOutput{State: StateStopped}, nil
	}
	if err != nil {
		return statusOutput{}, err
	}

	started := rec.StartedAt
	out := statusOutput{
		RunID:      rec.RunID,
		PID:        rec.PID,
		GatewayURL: rec.GatewayURL,
		MetricsURL: rec.MetricsURL,
		StartedAt:  &started,
		Services:   rec.Services,
	}

	if !processAlive(rec.PID) {
		out.State = StateStale
		return out, nil
	}

	var key string
	if bundle, err := secrets.NewStore(stateDir).Load(); err == nil {
		key = bundle.AnonKey
	}
	code, err := probeGateway(ctx, client, rec.GatewayURL, key)
	if err != nil {
		out.State = StateUnresponsive
		out.ProbeError = err.Error()
		return out, nil
	}
	out.State = StateRunning
	out.HTTPStatus = code
	return out, nil
}

func probeGateway(ctx context.Context, client *http.Client, baseURL, key string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, statusProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+gateway.PrefixDataAPI+"/", nil)
	if err != nil {
		return 0, err
	}
	if key != "" {
		req.Header.Set(gateway.HeaderAPIKey, key)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	_ = resp.Body.Close()
	return resp.StatusCode, nil
}

// processAlive reports whether pid exists. EPERM means it exists under
// another user.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

func printStatus(p *ux.Printer, out statusOutput) {
	switch out.State {
	case StateStopped:
		p.Status(ux.IconPending, "No stack is running")
		return
	case StateStale:
		p.Warning("Stack record is stale: process " + strconv.Itoa(out.PID) + " is gone")
		return
	}

	fields := []ux.Field{
		{Label: "State", Value: out.State},
		{Label: "Run ID", Value: out.RunID},
		{Label: "PID", Value: strconv.Itoa(out.PID)},
		{Label: "Gateway", Value: out.GatewayURL},
	}
	if out.StartedAt != nil {
		fields = append(fields, ux.Field{Label: "Started", Value: out.StartedAt.Local().Format(time.RFC3339)})
	}
	if out.MetricsURL != "" {
		fields = append(fields, ux.Field{Label: "Metrics", Value: out.MetricsURL})
	}
	for _, s := range out.Services {
		fields = append(fields, ux.Field{Label: s.Name, Value: s.URL})
	}

	if out.State == StateRunning {
		p.Box("slimbase status", fields)
		return
	}
	fields = append(fields, ux.Field{Label: "Probe error", Value: out.ProbeError})
	p.ErrorBox("slimbase status", fields)
}
