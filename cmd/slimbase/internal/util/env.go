// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package util

import (
	"fmt"
	"regexp"
	"strings"
)

// =============================================================================
// Package-level Variables
// =============================================================================

// envVarKeyPattern validates environment variable key names (POSIX).
var envVarKeyPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ErrInvalidEnvVarKey is returned when an environment variable key is invalid.
var ErrInvalidEnvVarKey = fmt.Errorf("invalid environment variable key")

// =============================================================================
// EnvVar Type
// =============================================================================

// EnvVar represents a single environment variable handed to a child process.
//
// # Description
//
// A typed representation of an environment variable with sensitivity
// marking. Launchers mark JWT secrets and database URLs as sensitive so
// that the supervisor can log the child's environment safely.
//
// # Example
//
//	ev := EnvVar{Key: "GOTRUE_JWT_SECRET", Value: "s3cr3t", Sensitive: true}
//	fmt.Println(ev.Redacted()) // GOTRUE_JWT_SECRET=[REDACTED]
type EnvVar struct {
	// Key is the environment variable name.
	Key string

	// Value is the environment variable value. May be empty.
	Value string

	// Sensitive indicates this value should be redacted in logs.
	Sensitive bool
}

// String returns the KEY=VALUE format used by exec.Cmd.Env.
func (e EnvVar) String() string {
	return e.Key + "=" + e.Value
}

// Redacted returns KEY=[REDACTED] for sensitive vars, otherwise String().
func (e EnvVar) Redacted() string {
	if e.Sensitive {
		return e.Key + "=[REDACTED]"
	}
	return e.String()
}

// Validate checks the key against POSIX naming conventions.
func (e EnvVar) Validate() error {
	if !envVarKeyPattern.MatchString(e.Key) {
		return fmt.Errorf("%w: %q must match pattern [a-zA-Z_][a-zA-Z0-9_]*", ErrInvalidEnvVarKey, e.Key)
	}
	return nil
}

// =============================================================================
// EnvVars Collection
// =============================================================================

// EnvVars is an ordered collection of environment variables.
//
// # Description
//
// Later entries with the same key win, matching how exec resolves
// duplicate keys in cmd.Env. Not safe for concurrent modification.
type EnvVars struct {
	vars []EnvVar
}

// NewEnvVars creates a validated collection.
func NewEnvVars(vars ...EnvVar) (*EnvVars, error) {
	for _, v := range vars {
		if err := v.Validate(); err != nil {
			return nil, err
		}
	}
	return &EnvVars{vars: vars}, nil
}

// EmptyEnvVars returns an empty, ready-to-use collection.
func EmptyEnvVars() *EnvVars {
	return &EnvVars{vars: []EnvVar{}}
}

// Add appends a variable after validating its key.
func (e *EnvVars) Add(key, value string, sensitive bool) error {
	ev := EnvVar{Key: key, Value: value, Sensitive: sensitive}
	if err := ev.Validate(); err != nil {
		return err
	}
	e.vars = append(e.vars, ev)
	return nil
}

// MustAdd is Add for compile-time constant keys. Panics on an invalid key.
func (e *EnvVars) MustAdd(key, value string, sensitive bool) {
	if err := e.Add(key, value, sensitive); err != nil {
		panic(err)
	}
}

// Get returns the last value recorded for key, or "".
func (e *EnvVars) Get(key string) string {
	if e == nil {
		return ""
	}
	for i := len(e.vars) - 1; i >= 0; i-- {
		if e.vars[i].Key == key {
			return e.vars[i].Value
		}
	}
	return ""
}

// Has reports whether key is present.
func (e *EnvVars) Has(key string) bool {
	if e == nil {
		return false
	}
	for _, v := range e.vars {
		if v.Key == key {
			return true
		}
	}
	return false
}

// Len returns the number of entries, duplicates included.
func (e *EnvVars) Len() int {
	if e == nil {
		return 0
	}
	return len(e.vars)
}

// ToSlice returns KEY=VALUE strings in insertion order.
func (e *EnvVars) ToSlice() []string {
	if e == nil {
		return nil
	}
	result := make([]string, len(e.vars))
	for i, v := range e.vars {
		result[i] = v.String()
	}
	return result
}

// RedactedSlice returns KEY=VALUE strings with sensitive values masked.
func (e *EnvVars) RedactedSlice() []string {
	if e == nil {
		return nil
	}
	result := make([]string, len(e.vars))
	for i, v := range e.vars {
		result[i] = v.Redacted()
	}
	return result
}

// Environ overlays the collection on top of a base environment (usually
// os.Environ()) and returns the result for exec.Cmd.Env. Keys from the
// collection replace matching base entries.
func (e *EnvVars) Environ(base []string) []string {
	if e == nil || len(e.vars) == 0 {
		out := make([]string, len(base))
		copy(out, base)
		return out
	}
	overridden := make(map[string]bool, len(e.vars))
	for _, v := range e.vars {
		overridden[v.Key] = true
	}
	out := make([]string, 0, len(base)+len(e.vars))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if overridden[key] {
			continue
		}
		out = append(out, kv)
	}
	return append(out, e.ToSlice()...)
}
