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
)

// ErrConfig matches every configuration failure via errors.Is.
var ErrConfig = errors.New("configuration error")

// ConfigError describes an invalid or unreadable configuration input.
//
// # Description
//
// Field names the offending key (YAML path, env var, or file path) and
// Source names where it came from ("env", ".env", "slimbase.yaml",
// "validation", "secrets file").
type ConfigError struct {
	Field  string
	Source string
	Err    error
}

// NewConfigError builds a ConfigError.
func NewConfigError(field, source string, err error) *ConfigError {
	return &ConfigError{Field: field, Source: source, Err: err}
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("config (%s): %v", e.Source, e.Err)
	}
	return fmt.Sprintf("config %s (%s): %v", e.Field, e.Source, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ConfigError) Unwrap() error { return e.Err }

// Is matches ErrConfig.
func (e *ConfigError) Is(target error) bool { return target == ErrConfig }
