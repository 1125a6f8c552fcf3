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
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/AleutianAI/slimbase/cmd/slimbase/config"
)

// FileName is the secrets file inside the state directory.
const FileName = "secrets.json"

// Store persists a Bundle as indented JSON.
//
// # Description
//
// The file is created with mode 0600 inside a 0700 directory. A file that
// exists but cannot be decoded, or lacks a field, is reported as a
// *config.ConfigError. Regenerating in that case would invalidate keys the
// developer has already copied into client code.
//
// # Examples
//
//	store := secrets.NewStore(cfg.Paths.StateDir)
//	bundle, created, err := store.LoadOrCreate()
type Store struct {
	// Path is the full path of the secrets file.
	Path string
}

// NewStore returns a Store for <stateDir>/secrets.json.
func NewStore(stateDir string) *Store {
	return &Store{Path: filepath.Join(stateDir, FileName)}
}

// Load reads an existing bundle. A missing file yields fs.ErrNotExist.
func (s *Store) Load() (Bundle, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return Bundle{}, err
	}
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return Bundle{}, config.NewConfigError(s.Path, "secrets file", fmt.Errorf("decode: %w", err))
	}
	if err := b.Validate(); err != nil {
		return Bundle{}, config.NewConfigError(s.Path, "secrets file", err)
	}
	return b, nil
}

// LoadOrCreate loads the bundle verbatim, or generates and writes one when
// the file does not exist. created reports which path was taken.
func (s *Store) LoadOrCreate() (bundle Bundle, created bool, err error) {
	bundle, err = s.Load()
	if err == nil {
		return bundle, false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return Bundle{}, false, err
	}

	bundle, err = NewBundle()
	if err != nil {
		return Bundle{}, false, fmt.Errorf("generate secrets: %w", err)
	}
	if err := s.Save(bundle); err != nil {
		return Bundle{}, false, err
	}
	return bundle, true, nil
}

// Save writes the bundle through a temp file and rename.
func (s *Store) Save(b Bundle) error {
	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("encode secrets: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(dir, ".secrets-*.json")
	if err != nil {
		return fmt.Errorf("create temp secrets file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod secrets file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write secrets file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close secrets file: %w", err)
	}
	if err := os.Rename(tmpName, s.Path); err != nil {
		return fmt.Errorf("install secrets file: %w", err)
	}
	return nil
}
