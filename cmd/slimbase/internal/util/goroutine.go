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
	"runtime/debug"
)

// =============================================================================
// Goroutine Safety
// =============================================================================

// SafeGoResult contains information about a recovered panic.
type SafeGoResult struct {
	// PanicValue is the value passed to panic().
	PanicValue interface{}

	// Stack is the goroutine stack trace at the time of panic.
	Stack string
}

// SafeGo runs fn in a goroutine and recovers any panic.
//
// # Description
//
// Used for the signal handler and other fire-and-forget goroutines where an
// unrecovered panic would take down the whole stack without running the
// shutdown path. onPanic may be nil.
func SafeGo(fn func(), onPanic func(SafeGoResult)) {
	go func() {
		defer RecoverPanic(onPanic)()
		fn()
	}()
}

// RecoverPanic returns a deferred-call helper that recovers a panic and
// forwards it to onPanic.
//
//	defer util.RecoverPanic(func(r util.SafeGoResult) { log.Error(...) })()
func RecoverPanic(onPanic func(SafeGoResult)) func() {
	return func() {
		if r := recover(); r != nil {
			if onPanic != nil {
				onPanic(SafeGoResult{PanicValue: r, Stack: string(debug.Stack())})
			}
		}
	}
}

// GuardErr runs fn and converts a panic into an error. Drain loops run
// under errgroup, which does not recover panics itself.
func GuardErr(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
