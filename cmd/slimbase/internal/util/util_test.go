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
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// CommandError Tests
// =============================================================================

func TestCommandError_Error(t *testing.T) {
	wrapped := errors.New("exit status 1")

	tests := []struct {
		name string
		err  *CommandError
		want string
	}{
		{"stderr wins", NewCommandError("gotrue migrate", 1, "  boom \n", wrapped), "gotrue migrate (exit 1): boom"},
		{"wrapped fallback", NewCommandError("initdb", 2, "", wrapped), "initdb (exit 2): exit status 1"},
		{"bare", NewCommandError("initdb", -1, "", nil), "initdb (exit -1)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestCommandError_Unwrap(t *testing.T) {
	sentinel := errors.New("sentinel")
	err := fmt.Errorf("outer: %w", NewCommandError("x", 1, "", sentinel))
	assert.ErrorIs(t, err, sentinel)
}

func TestCommandError_StderrContains(t *testing.T) {
	err := NewCommandError("migrate", 1, "ERROR: relation ALREADY exists", nil)
	assert.True(t, err.StderrContains("already"))
	assert.False(t, err.StderrContains("permission"))
}

func TestExtractStderr(t *testing.T) {
	inner := NewCommandError("inner", 1, "disk full", nil)
	outer := NewCommandError("outer", 1, "", inner)

	assert.Equal(t, "disk full", ExtractStderr(fmt.Errorf("wrap: %w", outer)))
	assert.Equal(t, "", ExtractStderr(errors.New("plain")))
	assert.Equal(t, "", ExtractStderr(nil))
}

// =============================================================================
// EnvVars Tests
// =============================================================================

func TestEnvVar_Redacted(t *testing.T) {
	assert.Equal(t, "A=b", EnvVar{Key: "A", Value: "b"}.Redacted())
	assert.Equal(t, "TOKEN=[REDACTED]", EnvVar{Key: "TOKEN", Value: "x", Sensitive: true}.Redacted())
}

func TestEnvVars_AddRejectsInvalidKey(t *testing.T) {
	envs := EmptyEnvVars()
	err := envs.Add("BAD-KEY", "v", false)
	assert.ErrorIs(t, err, ErrInvalidEnvVarKey)
	assert.Equal(t, 0, envs.Len())
	assert.Panics(t, func() { envs.MustAdd("1BAD", "v", false) })
}

func TestEnvVars_GetLastWins(t *testing.T) {
	envs := EmptyEnvVars()
	envs.MustAdd("PORT", "1", false)
	envs.MustAdd("PORT", "2", false)
	assert.Equal(t, "2", envs.Get("PORT"))
	assert.True(t, envs.Has("PORT"))
	assert.False(t, envs.Has("MISSING"))
}

func TestEnvVars_RedactedSlice(t *testing.T) {
	envs, err := NewEnvVars(
		EnvVar{Key: "PGRST_DB_SCHEMAS", Value: "public"},
		EnvVar{Key: "PGRST_JWT_SECRET", Value: "s3cr3t", Sensitive: true},
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"PGRST_DB_SCHEMAS=public", "PGRST_JWT_SECRET=[REDACTED]"}, envs.RedactedSlice())
	assert.Equal(t, []string{"PGRST_DB_SCHEMAS=public", "PGRST_JWT_SECRET=s3cr3t"}, envs.ToSlice())
}

func TestEnvVars_Environ(t *testing.T) {
	envs := EmptyEnvVars()
	envs.MustAdd("PORT", "9999", false)

	got := envs.Environ([]string{"HOME=/root", "PORT=1", "PATH=/bin"})
	assert.Equal(t, []string{"HOME=/root", "PATH=/bin", "PORT=9999"}, got)

	var nilEnvs *EnvVars
	assert.Equal(t, []string{"A=1"}, nilEnvs.Environ([]string{"A=1"}))
}

// =============================================================================
// Goroutine Safety Tests
// =============================================================================

func TestSafeGo_RecoversPanic(t *testing.T) {
	done := make(chan SafeGoResult, 1)
	SafeGo(func() { panic("kaboom") }, func(r SafeGoResult) { done <- r })

	select {
	case r := <-done:
		assert.Equal(t, "kaboom", r.PanicValue)
		assert.NotEmpty(t, r.Stack)
	case <-time.After(2 * time.Second):
		t.Fatal("panic handler was not called")
	}
}

func TestGuardErr(t *testing.T) {
	err := GuardErr(func() error { panic("drain") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "drain")

	assert.NoError(t, GuardErr(func() error { return nil }))
}

// =============================================================================
// Timeout Tests
// =============================================================================

func TestEnforceMinTimeout(t *testing.T) {
	assert.Equal(t, time.Second, EnforceMinTimeout(0, time.Second))
	assert.Equal(t, time.Second, EnforceMinTimeout(-5, time.Second))
	assert.Equal(t, 3*time.Second, EnforceMinTimeout(3*time.Second, time.Second))
}

func TestDefaultIfZero(t *testing.T) {
	assert.Equal(t, DefaultReadinessTimeout, DefaultIfZero(0, DefaultReadinessTimeout))
	assert.Equal(t, time.Minute, DefaultIfZero(time.Minute, DefaultReadinessTimeout))
}
