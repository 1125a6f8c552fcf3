// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ports

import (
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBinder marks ports busy per host.
type fakeBinder struct {
	busy  map[string]map[int]bool
	calls []int
}

func (f *fakeBinder) bind(host string, port int) error {
	f.calls = append(f.calls, port)
	if f.busy[host][port] {
		return errors.New("address already in use")
	}
	return nil
}

func TestFindAvailablePort_PreferredFree(t *testing.T) {
	fb := &fakeBinder{}
	a := &Allocator{Bind: fb.bind}

	port, err := a.FindAvailablePort(54321)
	require.NoError(t, err)
	assert.Equal(t, 54321, port)
}

func TestFindAvailablePort_ReturnsLowestFreeCandidate(t *testing.T) {
	fb := &fakeBinder{busy: map[string]map[int]bool{
		"0.0.0.0":   {54321: true},
		"127.0.0.1": {54322: true},
	}}
	a := &Allocator{Bind: fb.bind}

	port, err := a.FindAvailablePort(54321)
	require.NoError(t, err)
	assert.Equal(t, 54323, port, "busy on either host disqualifies a candidate")
}

func TestFindAvailablePort_Exhaustion(t *testing.T) {
	a := &Allocator{Bind: func(string, int) error { return errors.New("busy") }}

	_, err := a.FindAvailablePort(6000)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPortExhaustion)

	var exErr *ExhaustionError
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, 6000, exErr.Start)
	assert.Equal(t, 6099, exErr.End)
}

func TestFindAvailablePort_ClampsAtMaxPort(t *testing.T) {
	a := &Allocator{Bind: func(string, int) error { return errors.New("busy") }}

	_, err := a.FindAvailablePort(65500)
	var exErr *ExhaustionError
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, 65535, exErr.End)
}

func TestFindAvailablePort_InvalidPreferred(t *testing.T) {
	_, err := FindAvailablePort(0)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrPortExhaustion)
}

func TestFindAvailablePort_RealSocketSkipsHeldPort(t *testing.T) {
	ln, err := net.Listen("tcp4", "0.0.0.0:0")
	require.NoError(t, err)
	defer ln.Close()
	held := ln.Addr().(*net.TCPAddr).Port
	if held+ProbeRange > 65535 {
		t.Skip("ephemeral port too close to the top of the range")
	}

	port, err := FindAvailablePort(held)
	require.NoError(t, err)
	assert.Greater(t, port, held)
}
