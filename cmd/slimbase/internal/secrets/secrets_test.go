// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package secrets

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/slimbase/cmd/slimbase/config"
)

// =============================================================================
// Signing Key Tests
// =============================================================================

func TestGenerateSigningKey_Entropy(t *testing.T) {
	key, err := GenerateSigningKey()
	require.NoError(t, err)

	assert.NotContains(t, key, "=")
	assert.NotContains(t, key, "+")
	assert.NotContains(t, key, "/")

	raw, err := base64.RawURLEncoding.DecodeString(key)
	require.NoError(t, err)
	assert.Len(t, raw, 32)

	other, err := GenerateSigningKey()
	require.NoError(t, err)
	assert.NotEqual(t, key, other)
}

// =============================================================================
// Token Tests
// =============================================================================

func TestMintToken_Claims(t *testing.T) {
	key, err := GenerateSigningKey()
	require.NoError(t, err)

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	token, err := mintAt(key, RoleAnon, now)
	require.NoError(t, err)

	claims := &Claims{}
	_, _, err = jwt.NewParser().ParseUnverified(token, claims)
	require.NoError(t, err)

	assert.Equal(t, RoleAnon, claims.Role)
	assert.Equal(t, Issuer, claims.Issuer)
	assert.Equal(t, now.Unix(), claims.IssuedAt.Unix())
	assert.Equal(t, now.AddDate(10, 0, 0).Unix(), claims.ExpiresAt.Unix())

	header := strings.Split(token, ".")[0]
	decoded, err := base64.RawURLEncoding.DecodeString(header)
	require.NoError(t, err)
	assert.Contains(t, string(decoded), `"alg":"HS256"`)
}

func TestVerifyToken_RoundTrip(t *testing.T) {
	key, err := GenerateSigningKey()
	require.NoError(t, err)
	token, err := MintToken(key, RoleServiceRole)
	require.NoError(t, err)

	role, err := VerifyToken(key, token)
	require.NoError(t, err)
	assert.Equal(t, RoleServiceRole, role)
}

func TestVerifyToken_RegeneratedKeyInvalidatesOldTokens(t *testing.T) {
	oldKey, _ := GenerateSigningKey()
	newKey, _ := GenerateSigningKey()
	token, err := MintToken(oldKey, RoleAnon)
	require.NoError(t, err)

	_, err = VerifyToken(newKey, token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyToken_RejectsExpired(t *testing.T) {
	key, _ := GenerateSigningKey()
	token, err := mintAt(key, RoleAnon, time.Now().AddDate(-11, 0, 0))
	require.NoError(t, err)

	_, err = VerifyToken(key, token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestMintToken_RejectsEmptyInputs(t *testing.T) {
	_, err := MintToken("", RoleAnon)
	assert.Error(t, err)
	_, err = MintToken("key", "")
	assert.Error(t, err)
}

// =============================================================================
// Store Tests
// =============================================================================

func TestStore_CreatesThenReloadsVerbatim(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")
	store := NewStore(dir)

	first, created, err := store.LoadOrCreate()
	require.NoError(t, err)
	assert.True(t, created)
	require.NoError(t, first.Validate())

	second, created, err := store.LoadOrCreate()
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first, second)

	info, err := os.Stat(store.Path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	dirInfo, err := os.Stat(dir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0700), dirInfo.Mode().Perm())
}

func TestStore_FileFormat(t *testing.T) {
	store := NewStore(t.TempDir())
	bundle, _, err := store.LoadOrCreate()
	require.NoError(t, err)

	data, err := os.ReadFile(store.Path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "{\n  \"jwtSecret\": "))

	var onDisk map[string]string
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Equal(t, bundle.AnonKey, onDisk["anonKey"])
	assert.Equal(t, bundle.ServiceRoleKey, onDisk["serviceRoleKey"])
}

func TestStore_MintedKeysVerifyAgainstSecret(t *testing.T) {
	bundle, _, err := NewStore(t.TempDir()).LoadOrCreate()
	require.NoError(t, err)

	role, err := VerifyToken(bundle.JWTSecret, bundle.AnonKey)
	require.NoError(t, err)
	assert.Equal(t, RoleAnon, role)

	role, err = VerifyToken(bundle.JWTSecret, bundle.ServiceRoleKey)
	require.NoError(t, err)
	assert.Equal(t, RoleServiceRole, role)
}

func TestStore_CorruptFileIsConfigError(t *testing.T) {
	tests := map[string]string{
		"not json":      "{nope",
		"missing field": `{"jwtSecret":"a","anonKey":"b"}`,
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			store := NewStore(t.TempDir())
			require.NoError(t, os.WriteFile(store.Path, []byte(content), 0600))

			_, _, err := store.LoadOrCreate()
			require.Error(t, err)
			assert.ErrorIs(t, err, config.ErrConfig)

			data, _ := os.ReadFile(store.Path)
			assert.Equal(t, content, string(data), "corrupt file must not be overwritten")
		})
	}
}
