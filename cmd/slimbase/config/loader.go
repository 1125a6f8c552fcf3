// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Environment Variable Names
// =============================================================================

const (
	EnvDBPort          = "SUPABASE_DB_PORT"
	EnvDBUser          = "SUPABASE_DB_USER"
	EnvDBPassword      = "SUPABASE_DB_PASSWORD"
	EnvAPIPort         = "SUPABASE_API_PORT"
	EnvAPIInternalPort = "SUPABASE_API_INTERNAL_PORT"
	EnvAuthPort        = "SUPABASE_AUTH_PORT"
	EnvAuthSiteURL     = "SUPABASE_AUTH_SITE_URL"
	EnvAuthEnabled     = "SUPABASE_AUTH_ENABLED"
	EnvStateDir        = "SLIMBASE_STATE_DIR"
	EnvDataDir         = "SLIMBASE_DATA_DIR"
	EnvBinDir          = "SLIMBASE_BIN_DIR"
	EnvLibDir          = "SLIMBASE_LIB_DIR"
	EnvUpstreamTimeout = "SLIMBASE_UPSTREAM_TIMEOUT"
	EnvMetricsPort     = "SLIMBASE_METRICS_PORT"
	EnvLogLevel        = "SLIMBASE_LOG_LEVEL"
	EnvLogJSON         = "SLIMBASE_LOG_JSON"
	EnvTraceExporter   = "SLIMBASE_TRACE_EXPORTER"
	EnvOTLPEndpoint    = "OTEL_EXPORTER_OTLP_ENDPOINT"
)

// =============================================================================
// Loading
// =============================================================================

// LoadOptions controls where Load reads from. The zero value reads
// slimbase.yaml and .env from the working directory and the real process
// environment.
type LoadOptions struct {
	// ConfigPath is the YAML file. When set explicitly the file must exist;
	// the default file is optional.
	ConfigPath string

	// EnvFile is the dotenv file. Always optional.
	EnvFile string

	// LookupEnv replaces os.LookupEnv. Tests inject a map here.
	LookupEnv func(key string) (string, bool)
}

// Load resolves the configuration from every layer and validates it.
//
// # Description
//
// Starts from DefaultConfig, decodes the YAML file over it, then applies
// environment overrides where the process environment beats the .env file.
// The .env file is read with godotenv.Read, so the process environment is
// never modified.
//
// # Outputs
//
//   - Config: Validated configuration
//   - error: *ConfigError (matches ErrConfig) for any unreadable or invalid input
func Load(opts LoadOptions) (Config, error) {
	cfg := DefaultConfig()

	path := opts.ConfigPath
	explicit := path != ""
	if !explicit {
		path = DefaultConfigFile
	}
	if err := decodeFile(path, explicit, &cfg); err != nil {
		return Config{}, err
	}

	envFile := opts.EnvFile
	if envFile == "" {
		envFile = DefaultEnvFile
	}
	dotenv, err := readDotenv(envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := opts.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	layered := func(key string) (string, string, bool) {
		if v, ok := lookup(key); ok {
			return v, "env", true
		}
		if v, ok := dotenv[key]; ok {
			return v, envFile, true
		}
		return "", "", false
	}

	if err := applyEnv(&cfg, layered); err != nil {
		return Config{}, err
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeFile(path string, required bool, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !required {
			return nil
		}
		return NewConfigError(path, "file", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return NewConfigError(path, "file", fmt.Errorf("parse yaml: %w", err))
	}
	return nil
}

func readDotenv(path string) (map[string]string, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, NewConfigError(path, ".env", err)
	}
	values, err := godotenv.Read(path)
	if err != nil {
		return nil, NewConfigError(path, ".env", err)
	}
	return values, nil
}

// =============================================================================
// Environment Overrides
// =============================================================================

type layeredLookup func(key string) (value, source string, ok bool)

func applyEnv(cfg *Config, lookup layeredLookup) error {
	ints := []struct {
		key string
		dst *int
	}{
		{EnvDBPort, &cfg.DB.Port},
		{EnvAPIPort, &cfg.API.Port},
		{EnvAPIInternalPort, &cfg.API.InternalPort},
		{EnvAuthPort, &cfg.Auth.Port},
		{EnvMetricsPort, &cfg.Gateway.MetricsPort},
	}
	for _, f := range ints {
		if v, src, ok := lookup(f.key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return NewConfigError(f.key, src, fmt.Errorf("not an integer: %q", v))
			}
			*f.dst = n
		}
	}

	strs := []struct {
		key string
		dst *string
	}{
		{EnvDBUser, &cfg.DB.User},
		{EnvDBPassword, &cfg.DB.Password},
		{EnvAuthSiteURL, &cfg.Auth.SiteURL},
		{EnvStateDir, &cfg.Paths.StateDir},
		{EnvDataDir, &cfg.Paths.DataDir},
		{EnvBinDir, &cfg.Paths.BinDir},
		{EnvLibDir, &cfg.Paths.LibDir},
		{EnvLogLevel, &cfg.Log.Level},
		{EnvTraceExporter, &cfg.Telemetry.Exporter},
		{EnvOTLPEndpoint, &cfg.Telemetry.OTLPEndpoint},
	}
	for _, f := range strs {
		if v, _, ok := lookup(f.key); ok {
			*f.dst = v
		}
	}

	if v, src, ok := lookup(EnvAuthEnabled); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return NewConfigError(EnvAuthEnabled, src, fmt.Errorf("not a boolean: %q", v))
		}
		cfg.Auth.Enabled = b
	}
	if v, src, ok := lookup(EnvLogJSON); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return NewConfigError(EnvLogJSON, src, fmt.Errorf("not a boolean: %q", v))
		}
		cfg.Log.JSON = &b
	}
	if v, src, ok := lookup(EnvUpstreamTimeout); ok {
		d, err := parseDuration(v)
		if err != nil {
			return NewConfigError(EnvUpstreamTimeout, src, err)
		}
		cfg.Gateway.UpstreamTimeout = d
	}
	return nil
}

// parseDuration accepts Go durations ("45s") and bare seconds ("45").
func parseDuration(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("not a duration: %q", v)
	}
	return d, nil
}

// =============================================================================
// Validation
// =============================================================================

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field rules and cross-field port uniqueness.
func Validate(cfg Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return NewConfigError(fe.Namespace(), "validation",
				fmt.Errorf("failed %q rule (value %v)", fe.Tag(), fe.Value()))
		}
		return NewConfigError("", "validation", err)
	}

	seen := map[int]string{}
	for _, p := range cfg.portFields() {
		if prev, dup := seen[p.value]; dup {
			return NewConfigError(p.name, "validation",
				fmt.Errorf("port %d already used by %s", p.value, prev))
		}
		seen[p.value] = p.name
	}
	return nil
}

type portField struct {
	name  string
	value int
	dst   func(*Config, int)
}

// portFields lists the ports the stack will bind, in allocation order.
// Disabled services are omitted.
func (c Config) portFields() []portField {
	fields := []portField{
		{"db.port", c.DB.Port, func(c *Config, p int) { c.DB.Port = p }},
		{"api.port", c.API.Port, func(c *Config, p int) { c.API.Port = p }},
		{"api.internal_port", c.API.InternalPort, func(c *Config, p int) { c.API.InternalPort = p }},
	}
	if c.Auth.Enabled {
		fields = append(fields, portField{"auth.port", c.Auth.Port, func(c *Config, p int) { c.Auth.Port = p }})
	}
	if c.Gateway.MetricsPort > 0 {
		fields = append(fields, portField{"gateway.metrics_port", c.Gateway.MetricsPort, func(c *Config, p int) { c.Gateway.MetricsPort = p }})
	}
	return fields
}
