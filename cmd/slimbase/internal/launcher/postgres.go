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
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/AleutianAI/slimbase/cmd/slimbase/internal/infra/process"
	"github.com/AleutianAI/slimbase/pkg/logging"
)

// =============================================================================
// Engine Interface
// =============================================================================

// ConnOptions selects who connects to which database.
//
// Empty fields fall back to the configured superuser, its password, and
// the "postgres" database.
type ConnOptions struct {
	Role     string
	Password string
	Database string
}

// DefaultDatabase is the database every service connects to.
const DefaultDatabase = "postgres"

// Engine is the database collaborator of DatabaseLauncher.
type Engine interface {
	// Init creates the cluster. Must be a no-op when one already exists.
	Init(ctx context.Context) error

	// Start spawns the server process.
	Start(ctx context.Context) (process.Process, error)

	// Ping succeeds once the server accepts connections.
	Ping(ctx context.Context) error

	// Exec runs a (possibly multi-statement) script.
	Exec(ctx context.Context, opts ConnOptions, sql string) error

	// ConnString renders a URL for opts.
	ConnString(opts ConnOptions) string

	// Port is the listening port.
	Port() int
}

// =============================================================================
// PostgresEngine
// =============================================================================

// PostgresEngine runs a local PostgreSQL cluster with initdb and postgres.
//
// # Description
//
// The cluster lives in DataDir and listens on 127.0.0.1:Port only; its
// unix socket is placed inside DataDir to avoid needing /var/run. SQL goes
// through pgx over TCP.
//
// # Assumptions
//
//   - initdb and postgres are the same major version
//   - DataDir is not shared with another running cluster (the state lock
//     enforces this when DataDir lives alongside the state dir)
type PostgresEngine struct {
	Spawner     process.Spawner
	Provisioner Provisioner
	DataDir     string
	ListenPort  int
	User        string
	Password    string
	Logger      *logging.Logger
}

func (e *PostgresEngine) logger() *logging.Logger {
	if e.Logger == nil {
		return logging.Discard()
	}
	return e.Logger
}

// Port implements Engine.
func (e *PostgresEngine) Port() int { return e.ListenPort }

// Initialized reports whether DataDir holds a cluster.
func (e *PostgresEngine) Initialized() bool {
	_, err := os.Stat(filepath.Join(e.DataDir, "PG_VERSION"))
	return err == nil
}

// Init runs initdb unless PG_VERSION already exists.
func (e *PostgresEngine) Init(ctx context.Context) error {
	if e.Initialized() {
		e.logger().Info("data directory already initialized, skipping initdb", "dir", e.DataDir)
		return nil
	}
	bin, err := e.Provisioner.Ensure(BinInitDB)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(e.DataDir), 0700); err != nil {
		return fmt.Errorf("create data dir parent: %w", err)
	}

	pwFile, err := os.CreateTemp("", "slimbase-pw-*")
	if err != nil {
		return fmt.Errorf("create password file: %w", err)
	}
	defer os.Remove(pwFile.Name())
	if _, err := pwFile.WriteString(e.Password + "\n"); err != nil {
		pwFile.Close()
		return fmt.Errorf("write password file: %w", err)
	}
	if err := pwFile.Close(); err != nil {
		return fmt.Errorf("close password file: %w", err)
	}

	e.logger().Info("initializing data directory", "dir", e.DataDir)
	_, err = e.Spawner.Run(ctx, process.Spec{
		Name: BinInitDB,
		Path: bin,
		Args: []string{
			"-D", e.DataDir,
			"-U", e.User,
			"--pwfile=" + pwFile.Name(),
			"--auth=scram-sha-256",
			"--encoding=UTF8",
			"--no-locale",
		},
	})
	return err
}

// Start spawns postgres bound to loopback.
func (e *PostgresEngine) Start(ctx context.Context) (process.Process, error) {
	bin, err := e.Provisioner.Ensure(BinPostgres)
	if err != nil {
		return nil, err
	}
	socketDir, err := filepath.Abs(e.DataDir)
	if err != nil {
		return nil, err
	}
	e.logger().Info("starting postgres", "port", e.ListenPort)
	return e.Spawner.Start(ctx, process.Spec{
		Name: BinPostgres,
		Path: bin,
		Args: []string{
			"-D", e.DataDir,
			"-p", strconv.Itoa(e.ListenPort),
			"-c", "listen_addresses=127.0.0.1",
			"-k", socketDir,
		},
		// postgres writes all of its log output to stderr.
		StderrAsInfo: true,
	})
}

// Ping opens a connection as the superuser and pings it.
func (e *PostgresEngine) Ping(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, e.ConnString(ConnOptions{}))
	if err != nil {
		return err
	}
	defer conn.Close(context.WithoutCancel(ctx))
	return conn.Ping(ctx)
}

// Exec runs sql using the simple query protocol, so one call may carry
// several statements and DO blocks.
func (e *PostgresEngine) Exec(ctx context.Context, opts ConnOptions, sql string) error {
	conn, err := pgx.Connect(ctx, e.ConnString(opts))
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.WithoutCancel(ctx))

	results, err := conn.PgConn().Exec(ctx, sql).ReadAll()
	if err != nil {
		return err
	}
	for _, r := range results {
		if r.Err != nil {
			return r.Err
		}
	}
	return nil
}

// ConnString renders a postgresql:// URL on 127.0.0.1.
func (e *PostgresEngine) ConnString(opts ConnOptions) string {
	role := opts.Role
	if role == "" {
		role = e.User
	}
	password := opts.Password
	if password == "" {
		password = e.Password
	}
	database := opts.Database
	if database == "" {
		database = DefaultDatabase
	}
	u := url.URL{
		Scheme: "postgresql",
		User:   url.UserPassword(role, password),
		Host:   net.JoinHostPort("127.0.0.1", strconv.Itoa(e.ListenPort)),
		Path:   "/" + database,
	}
	return u.String()
}

var _ Engine = (*PostgresEngine)(nil)

// quoteLiteral renders s as a SQL string literal.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
