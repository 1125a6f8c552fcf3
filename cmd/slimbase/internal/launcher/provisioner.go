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
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// Executable names looked up by the launchers.
const (
	BinInitDB    = "initdb"
	BinPostgres  = "postgres"
	BinPostgREST = "postgrest"
	BinAuth      = "auth"
)

// Provisioner guarantees an executable exists before it is started.
type Provisioner interface {
	// Ensure returns an absolute path to an executable named name.
	Ensure(name string) (string, error)
}

// LocalProvisioner finds executables on disk. It never downloads.
//
// # Description
//
// BinDir is searched first, then PATH. A missing executable is an
// *InitError with step "provision".
type LocalProvisioner struct {
	BinDir string

	// LookPath replaces exec.LookPath. Tests use it to hide PATH.
	LookPath func(file string) (string, error)
}

// Ensure implements Provisioner.
func (p *LocalProvisioner) Ensure(name string) (string, error) {
	if p.BinDir != "" {
		candidate := filepath.Join(p.BinDir, name)
		if isExecutable(candidate) {
			abs, err := filepath.Abs(candidate)
			if err != nil {
				return "", initErr(name, "provision", err)
			}
			return abs, nil
		}
	}

	lookPath := p.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	path, err := lookPath(name)
	if err != nil {
		return "", initErr(name, "provision",
			fmt.Errorf("executable %q not found in %q or PATH; install it or set paths.bin_dir", name, p.BinDir))
	}
	return path, nil
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular() && info.Mode().Perm()&0111 != 0
}

var _ Provisioner = (*LocalProvisioner)(nil)
