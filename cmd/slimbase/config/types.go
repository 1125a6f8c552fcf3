// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config resolves the slimbase configuration.
//
// Sources are layered, highest precedence first:
//
//  1. Process environment
//  2. A .env file (read without mutating the process environment)
//  3. slimbase.yaml
//  4. DefaultConfig
//
// The result is validated once and then treated as immutable. Callers that
// need different ports derive a new value with WithFreePorts.
package config

import (
	"strconv"
	"time"
)

// =============================================================================
// Root Config
// =============================================================================

// Config is the fully resolved configuration.
//
// # Description
//
// Produced by Load and passed by value. Field tags carry both the YAML key
// and the validator rules.
//
// # Examples
//
//	cfg, err := config.Load(config.LoadOptions{})
//	fmt.Println(cfg.API.Port) // 54321
type Config struct {
	DB        DBConfig        `yaml:"db"`
	API       APIConfig       `yaml:"api"`
	Auth      AuthConfig      `yaml:"auth"`
	Paths     PathsConfig     `yaml:"paths"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// DBConfig configures the embedded PostgreSQL instance.
type DBConfig struct {
	Port     int    `yaml:"port" validate:"min=1,max=65535"`
	User     string `yaml:"user" validate:"required"`
	Password string `yaml:"password" validate:"required"`
}

// APIConfig configures the public gateway port and the data API's
// loopback port behind it.
type APIConfig struct {
	Port         int `yaml:"port" validate:"min=1,max=65535"`
	InternalPort int `yaml:"internal_port" validate:"min=1,max=65535"`
}

// AuthConfig configures the auth service.
type AuthConfig struct {
	Port    int    `yaml:"port" validate:"min=1,max=65535"`
	SiteURL string `yaml:"site_url" validate:"required,url"`
	Enabled bool   `yaml:"enabled"`
}

// PathsConfig locates state, data, and binaries on disk.
type PathsConfig struct {
	// StateDir holds secrets.json, the lock file and stack.json.
	StateDir string `yaml:"state_dir" validate:"required"`

	// DataDir is the PostgreSQL cluster directory.
	DataDir string `yaml:"data_dir" validate:"required"`

	// BinDir is searched for executables before PATH.
	BinDir string `yaml:"bin_dir"`

	// LibDir, when set, is exported as the dynamic library path of the
	// data API.
	LibDir string `yaml:"lib_dir"`
}

// GatewayConfig tunes the reverse proxy.
type GatewayConfig struct {
	UpstreamTimeout time.Duration `yaml:"upstream_timeout" validate:"min=0"`

	// MetricsPort exposes /metrics on loopback when non-zero.
	MetricsPort int `yaml:"metrics_port" validate:"min=0,max=65535"`
}

// LogConfig controls pkg/logging.
type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn warning error"`

	// JSON forces JSON (true) or text (false). Nil selects JSON when stderr
	// is not a terminal.
	JSON *bool `yaml:"json,omitempty"`
}

// TelemetryConfig selects the trace exporter.
type TelemetryConfig struct {
	// Exporter is "", "otlp" or "stdout".
	Exporter     string `yaml:"exporter" validate:"omitempty,oneof=otlp stdout"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// =============================================================================
// Defaults
// =============================================================================

const (
	// DefaultConfigFile is read from the working directory when no path is given.
	DefaultConfigFile = "slimbase.yaml"

	// DefaultEnvFile is overlaid on the YAML file when present.
	DefaultEnvFile = ".env"
)

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		DB: DBConfig{
			Port:     54322,
			User:     "postgres",
			Password: "postgres",
		},
		API: APIConfig{
			Port:         54321,
			InternalPort: 54001,
		},
		Auth: AuthConfig{
			Port:    54002,
			SiteURL: "http://localhost:3000",
			Enabled: true,
		},
		Paths: PathsConfig{
			StateDir: ".slimbase",
			DataDir:  "data/db",
			BinDir:   "bin",
		},
		Gateway: GatewayConfig{
			UpstreamTimeout: 30 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: "localhost:4317",
		},
	}
}

// GatewayURL is the externally visible base URL of the stack.
func (c Config) GatewayURL() string {
	return "http://localhost:" + strconv.Itoa(c.API.Port)
}
