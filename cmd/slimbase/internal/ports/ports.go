// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ports finds free TCP ports for the services slimbase launches.
//
// A port counts as free only when it can be bound on both the wildcard
// address and loopback. Children bind one or the other depending on how
// they were built, so probing only one of them lets collisions through.
//
// The probe listener is closed immediately, so another process may grab
// the port before the child binds it. That race is accepted: the child
// then fails to bind and startup reports it.
package ports

import (
	"errors"
	"fmt"
	"net"
	"strconv"
)

// ProbeRange is how many consecutive ports are tried from the preferred one.
const ProbeRange = 100

// probeHosts are bound in order for every candidate.
var probeHosts = []string{"0.0.0.0", "127.0.0.1"}

// ErrPortExhaustion is returned when no port in the probe range is free.
var ErrPortExhaustion = errors.New("no available port")

// ExhaustionError reports the inclusive range that was probed.
type ExhaustionError struct {
	Start int
	End   int
}

func (e *ExhaustionError) Error() string {
	return fmt.Sprintf("no available port in range %d-%d", e.Start, e.End)
}

// Is matches ErrPortExhaustion.
func (e *ExhaustionError) Is(target error) bool {
	return target == ErrPortExhaustion
}

// BindFunc attempts a test bind and must release it before returning.
type BindFunc func(host string, port int) error

// Allocator finds free ports. The zero value probes real sockets.
type Allocator struct {
	// Bind overrides the socket probe. Tests inject a fake here.
	Bind BindFunc
}

// FindAvailablePort returns the lowest free port in
// [preferred, preferred+ProbeRange-1].
//
// # Description
//
// Candidates are probed in ascending order. A candidate is free only when
// Bind succeeds for every probe host.
//
// # Inputs
//
//   - preferred: First candidate; must be 1..65535
//
// # Outputs
//
//   - int: The first free candidate
//   - error: *ExhaustionError (matches ErrPortExhaustion) when none is free
//
// # Limitations
//
//   - The port is not reserved. See the package comment.
func (a *Allocator) FindAvailablePort(preferred int) (int, error) {
	if preferred < 1 || preferred > 65535 {
		return 0, fmt.Errorf("invalid preferred port %d", preferred)
	}
	bind := a.Bind
	if bind == nil {
		bind = tcpBind
	}

	end := preferred + ProbeRange - 1
	if end > 65535 {
		end = 65535
	}
	for port := preferred; port <= end; port++ {
		if isFree(bind, port) {
			return port, nil
		}
	}
	return 0, &ExhaustionError{Start: preferred, End: end}
}

// FindAvailablePort probes real sockets with a zero-value Allocator.
func FindAvailablePort(preferred int) (int, error) {
	var a Allocator
	return a.FindAvailablePort(preferred)
}

func isFree(bind BindFunc, port int) bool {
	for _, host := range probeHosts {
		if err := bind(host, port); err != nil {
			return false
		}
	}
	return true
}

func tcpBind(host string, port int) error {
	ln, err := net.Listen("tcp4", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return err
	}
	return ln.Close()
}
