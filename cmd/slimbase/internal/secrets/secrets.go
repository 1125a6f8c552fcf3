// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package secrets generates the stack's JWT signing key and the two
// long-lived API keys minted from it, and persists them per state directory.
//
// The data API and auth service are both configured with the signing key,
// so any token minted here is accepted by them. The gateway never verifies
// signatures; it only compares the presented apikey with the bundle.
package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// Issuer is stamped into every minted token.
	Issuer = "slimbase"

	// RoleAnon is the public, low-privilege role.
	RoleAnon = "anon"

	// RoleServiceRole bypasses row-level security in the data API.
	RoleServiceRole = "service_role"

	// signingKeyBytes is the entropy of a generated key (256 bits).
	signingKeyBytes = 32

	// tokenLifetimeYears is the validity of minted API keys.
	tokenLifetimeYears = 10
)

// ErrInvalidToken is returned by VerifyToken for any rejected token.
var ErrInvalidToken = errors.New("invalid token")

// =============================================================================
// Claims
// =============================================================================

// Claims is the payload of a minted API key.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// =============================================================================
// Key Generation and Minting
// =============================================================================

// GenerateSigningKey returns 32 random bytes encoded with the URL-safe
// base64 alphabet and no padding.
func GenerateSigningKey() (string, error) {
	buf := make([]byte, signingKeyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// MintToken signs an HS256 token carrying role, valid for ten years.
//
// # Inputs
//
//   - key: Signing key as produced by GenerateSigningKey (used as raw bytes)
//   - role: Role claim, usually RoleAnon or RoleServiceRole
//
// # Outputs
//
//   - string: Compact JWS
//   - error: Non-nil if key or role is empty or signing fails
func MintToken(key, role string) (string, error) {
	return mintAt(key, role, time.Now())
}

func mintAt(key, role string, now time.Time) (string, error) {
	if key == "" {
		return "", errors.New("signing key is empty")
	}
	if role == "" {
		return "", errors.New("role is empty")
	}
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.AddDate(tokenLifetimeYears, 0, 0)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(key))
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", role, err)
	}
	return signed, nil
}

// VerifyToken checks signature, algorithm, issuer and expiry, and returns
// the role claim.
func VerifyToken(key, token string) (string, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return []byte(key), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Role == "" {
		return "", fmt.Errorf("%w: missing role claim", ErrInvalidToken)
	}
	return claims.Role, nil
}

// =============================================================================
// Bundle
// =============================================================================

// Bundle is the persisted secret set. Field tags define the on-disk format.
type Bundle struct {
	JWTSecret      string `json:"jwtSecret"`
	AnonKey        string `json:"anonKey"`
	ServiceRoleKey string `json:"serviceRoleKey"`
}

// NewBundle generates a fresh signing key and mints both API keys from it.
func NewBundle() (Bundle, error) {
	secret, err := GenerateSigningKey()
	if err != nil {
		return Bundle{}, err
	}
	anon, err := MintToken(secret, RoleAnon)
	if err != nil {
		return Bundle{}, err
	}
	service, err := MintToken(secret, RoleServiceRole)
	if err != nil {
		return Bundle{}, err
	}
	return Bundle{JWTSecret: secret, AnonKey: anon, ServiceRoleKey: service}, nil
}

// Validate reports the first missing field.
func (b Bundle) Validate() error {
	switch {
	case b.JWTSecret == "":
		return errors.New("jwtSecret is empty")
	case b.AnonKey == "":
		return errors.New("anonKey is empty")
	case b.ServiceRoleKey == "":
		return errors.New("serviceRoleKey is empty")
	}
	return nil
}

// APIKeys returns the keys the gateway accepts in the apikey header.
func (b Bundle) APIKeys() []string {
	return []string{b.AnonKey, b.ServiceRoleKey}
}
