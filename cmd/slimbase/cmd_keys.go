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
	"errors"
	"fmt"
	"io/fs"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/slimbase/cmd/slimbase/internal/secrets"
	"github.com/AleutianAI/slimbase/pkg/ux"
)

// errNoSecrets is returned by keys before the first start.
var errNoSecrets = errors.New("no keys yet; run `slimbase start` once to create them")

type keysOptions struct {
	verify     bool
	showSecret bool
}

// keyCheck is the verification outcome for one key.
type keyCheck struct {
	Name     string `json:"name"`
	Expected string `json:"expectedRole"`
	Role     string `json:"role,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (k keyCheck) ok() bool { return k.Error == "" && k.Role == k.Expected }

type keysOutput struct {
	AnonKey        string     `json:"anonKey"`
	ServiceRoleKey string     `json:"serviceRoleKey"`
	JWTSecret      string     `json:"jwtSecret,omitempty"`
	Checks         []keyCheck `json:"checks,omitempty"`
}

func newKeysCmd(flags *globalFlags) *cobra.Command {
	opts := &keysOptions{}
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Print the persisted API keys",
		Long: `Prints the anon and service role keys from <state_dir>/secrets.json.
With --verify each key is checked against the signing secret and its role
claim. The command fails if any key does not verify.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runKeys(cmd, flags, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.verify, "verify", false, "verify each key's signature and role")
	cmd.Flags().BoolVar(&opts.showSecret, "show-secret", false, "also print the JWT signing secret")
	return cmd
}

func runKeys(cmd *cobra.Command, flags *globalFlags, opts *keysOptions) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}

	bundle, err := secrets.NewStore(cfg.Paths.StateDir).Load()
	if errors.Is(err, fs.ErrNotExist) {
		return errNoSecrets
	}
	if err != nil {
		return err
	}

	out := keysOutput{AnonKey: bundle.AnonKey, ServiceRoleKey: bundle.ServiceRoleKey}
	if opts.showSecret {
		out.JWTSecret = bundle.JWTSecret
	}
	if opts.verify {
		out.Checks = verifyBundle(bundle)
	}

	if flags.json {
		if err := writeJSON(cmd.OutOrStdout(), out); err != nil {
			return err
		}
	} else {
		printKeys(ux.NewPrinter(cmd.OutOrStdout()), out)
	}

	for _, c := range out.Checks {
		if !c.ok() {
			return fmt.Errorf("%s key failed verification", c.Name)
		}
	}
	return nil
}

// verifyBundle checks both keys against the bundle's signing secret.
func verifyBundle(b secrets.Bundle) []keyCheck {
	check := func(name, token, expected string) keyCheck {
		c := keyCheck{Name: name, Expected: expected}
		role, err := secrets.VerifyToken(b.JWTSecret, token)
		if err != nil {
			c.Error = err.Error()
			return c
		}
		c.Role = role
		if role != expected {
			c.Error = fmt.Sprintf("role %q, want %q", role, expected)
		}
		return c
	}
	return []keyCheck{
		check("anon", b.AnonKey, secrets.RoleAnon),
		check("service_role", b.ServiceRoleKey, secrets.RoleServiceRole),
	}
}

func printKeys(p *ux.Printer, out keysOutput) {
	fields := []ux.Field{
		{Label: "Anon key", Value: out.AnonKey},
		{Label: "Service role key", Value: out.ServiceRoleKey},
	}
	if out.JWTSecret != "" {
		fields = append(fields, ux.Field{Label: "JWT secret", Value: out.JWTSecret})
	}
	p.Box("API keys", fields)

	if len(out.Checks) > 0 {
		p.Title("Verification")
	}
	for _, c := range out.Checks {
		if c.ok() {
			p.Success(c.Name + " key verified (role " + c.Role + ")")
		} else {
			p.Error(c.Name + " key invalid: " + c.Error)
		}
	}
}
