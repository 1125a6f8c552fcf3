// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package health

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/slimbase/cmd/slimbase/internal/util"
)

// MockHTTPClient lets tests script responses.
type MockHTTPClient struct {
	DoFunc func(*http.Request) (*http.Response, error)
	calls  atomic.Int32
}

func (m *MockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	m.calls.Add(1)
	return m.DoFunc(req)
}

var _ HTTPClient = (*MockHTTPClient)(nil)

func fastWaiter() *Waiter {
	return &Waiter{Interval: 20 * time.Millisecond}
}

func TestWaitForReady_ImmediateSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	require.NoError(t, fastWaiter().WaitForReady(context.Background(), srv.URL, time.Second))
}

func TestWaitForReady_SucceedsAfterUnavailable(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, fastWaiter().WaitForReady(context.Background(), srv.URL+"/health", 2*time.Second))
	assert.GreaterOrEqual(t, hits.Load(), int32(3))
}

// TestWaitForReady_ReturnsWithinOneIntervalOfReadiness uses the zero-value
// Waiter, so the default poll interval applies.
func TestWaitForReady_ReturnsWithinOneIntervalOfReadiness(t *testing.T) {
	const readyAfter = 700 * time.Millisecond
	const slack = 300 * time.Millisecond

	start := time.Now()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if time.Since(start) < readyAfter {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := (&Waiter{}).WaitForReady(context.Background(), srv.URL, 5*time.Second)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.GreaterOrEqual(t, elapsed, readyAfter)
	assert.LessOrEqual(t, elapsed, readyAfter+util.DefaultPollInterval+slack)
}

func TestWaitForReady_ConnectionRefusedIsNotReady(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	timeout := 150 * time.Millisecond
	start := time.Now()
	err = fastWaiter().WaitForReady(context.Background(), "http://"+addr, timeout)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrReadinessTimeout)
	assert.GreaterOrEqual(t, elapsed, timeout, "timeout must not fire early")

	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "http://"+addr, te.Target)
	assert.GreaterOrEqual(t, te.Elapsed, timeout)
	assert.Error(t, te.LastErr)
	assert.True(t, strings.HasPrefix(te.Error(), "timed out waiting for http://"+addr+" after "))
}

func TestWaitForReady_UsesInjectedClient(t *testing.T) {
	mock := &MockHTTPClient{DoFunc: func(r *http.Request) (*http.Response, error) {
		assert.Equal(t, http.MethodGet, r.Method)
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(""))}, nil
	}}
	w := &Waiter{Client: mock, Interval: 10 * time.Millisecond}

	require.NoError(t, w.WaitForReady(context.Background(), "http://127.0.0.1:1/", time.Second))
	assert.Equal(t, int32(1), mock.calls.Load())
}

func TestWaitFor_CustomProbe(t *testing.T) {
	var n atomic.Int32
	probe := func(ctx context.Context) error {
		if n.Add(1) < 4 {
			return errors.New("the database system is starting up")
		}
		return nil
	}
	require.NoError(t, fastWaiter().WaitFor(context.Background(), "postgres", time.Second, probe))
	assert.Equal(t, int32(4), n.Load())
}

func TestWaitFor_ProbeIsBounded(t *testing.T) {
	w := &Waiter{Interval: 10 * time.Millisecond, ProbeTimeout: 250 * time.Millisecond}
	probe := func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
	start := time.Now()
	err := w.WaitFor(context.Background(), "stuck", 300*time.Millisecond, probe)
	assert.ErrorIs(t, err, ErrReadinessTimeout)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestWaitFor_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	err := fastWaiter().WaitFor(ctx, "never", 10*time.Second, func(context.Context) error {
		return errors.New("not yet")
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrReadinessTimeout)
}
