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
	"encoding/json"
	"fmt"
	"io"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/slimbase/cmd/slimbase/config"
	"github.com/AleutianAI/slimbase/pkg/logging"
	"github.com/AleutianAI/slimbase/pkg/ux"
)

// Set with -ldflags "-X main.Version=... -X main.Commit=...".
var (
	Version = "dev"
	Commit  = "none"
)

// =============================================================================
// Global Flags
// =============================================================================

// globalFlags are the persistent flags shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
	json       bool
}

// =============================================================================
// Command Tree
// =============================================================================

// newRootCmd builds the command tree. A fresh tree per invocation keeps flag
// state out of package globals, which lets tests execute commands repeatedly.
func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "slimbase",
		Short: "A local backend stack in one process",
		Long: `slimbase starts PostgreSQL, a PostgREST data API and an optional auth
API on loopback ports, then fronts them with a single keyed gateway.
Everything runs in the foreground and stops on Ctrl+C.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "path to the YAML config file (default ./"+config.DefaultConfigFile+" when present)")
	pf.StringVar(&flags.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
	pf.BoolVar(&flags.json, "json", false, "JSON logs and machine-readable command output")

	rootCmd.AddCommand(
		newStartCmd(flags),
		newKeysCmd(flags),
		newStatusCmd(flags),
		newVersionCmd(flags),
	)
	return rootCmd
}

// execute runs the CLI against the real process streams.
func execute(args []string) int {
	return run(context.Background(), args, nil, nil)
}

// run executes args and maps the outcome to an exit code: 0 on success or
// graceful shutdown, 1 on any error. Nil writers keep cobra's defaults.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	rootCmd := newRootCmd()
	rootCmd.SetArgs(args)
	if stdout != nil {
		rootCmd.SetOut(stdout)
	}
	if stderr != nil {
		rootCmd.SetErr(stderr)
	}

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ux.NewPrinter(rootCmd.ErrOrStderr()).Error(err.Error())
		return 1
	}
	return 0
}

// =============================================================================
// Shared Helpers
// =============================================================================

// loadConfig resolves the configuration and applies --log-level.
func loadConfig(flags *globalFlags) (config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{ConfigPath: flags.configPath})
	if err != nil {
		return config.Config{}, err
	}
	if flags.logLevel != "" {
		if _, err := logging.ParseLevel(flags.logLevel); err != nil {
			return config.Config{}, config.NewConfigError("log.level", "--log-level", err)
		}
		cfg.Log.Level = flags.logLevel
	}
	return cfg, nil
}

// newLogger builds the command logger.
//
// # Description
//
// --json wins, then log.json from the config. With neither set the console
// output is JSON whenever stderr is not a terminal. logDir enables the daily
// JSON log file and may be empty.
func newLogger(cfg config.Config, flags *globalFlags, stderr io.Writer, logDir string) *logging.Logger {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = logging.LevelInfo
	}

	asJSON := !ux.IsTerminal(stderr)
	if cfg.Log.JSON != nil {
		asJSON = *cfg.Log.JSON
	}
	if flags.json {
		asJSON = true
	}

	return logging.New(logging.Config{
		Level:   level,
		LogDir:  logDir,
		Service: "slimbase",
		JSON:    asJSON,
		Output:  stderr,
	})
}

// writeJSON prints v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// =============================================================================
// version
// =============================================================================

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	GoVersion string `json:"goVersion"`
}

func newVersionCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the slimbase version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := versionInfo{Version: Version, Commit: Commit, GoVersion: runtime.Version()}
			if flags.json {
				return writeJSON(cmd.OutOrStdout(), info)
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "slimbase %s (%s, %s)\n", info.Version, info.Commit, info.GoVersion)
			return err
		},
	}
}
