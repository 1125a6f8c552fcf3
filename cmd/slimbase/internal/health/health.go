// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package health polls a dependency until it reports ready.
//
// A launcher calls WaitForReady after spawning a process and before handing
// the service to the gateway. Connection failures and non-2xx responses are
// treated as "not ready yet"; only the overall deadline ends the wait.
package health

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/AleutianAI/slimbase/cmd/slimbase/internal/util"
)

// =============================================================================
// Errors
// =============================================================================

// ErrReadinessTimeout matches every *TimeoutError.
var ErrReadinessTimeout = errors.New("readiness timeout")

// TimeoutError reports a dependency that never became ready.
//
// # Description
//
// Elapsed is always at least the configured timeout. LastErr is the last
// probe failure, which is usually the most useful hint ("connection
// refused" versus "503").
type TimeoutError struct {
	Target  string
	Elapsed time.Duration
	LastErr error
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("timed out waiting for %s after %dms", e.Target, e.Elapsed.Milliseconds())
	if e.LastErr != nil {
		msg += ": " + e.LastErr.Error()
	}
	return msg
}

// Is matches ErrReadinessTimeout.
func (e *TimeoutError) Is(target error) bool { return target == ErrReadinessTimeout }

// Unwrap exposes the last probe failure.
func (e *TimeoutError) Unwrap() error { return e.LastErr }

// =============================================================================
// Interfaces
// =============================================================================

// Probe performs one readiness check. nil means ready.
type Probe func(ctx context.Context) error

// HTTPClient abstracts HTTP operations for readiness probes.
//
// # Examples
//
//	type MockHTTPClient struct {
//	    DoFunc func(*http.Request) (*http.Response, error)
//	}
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// =============================================================================
// Waiter
// =============================================================================

// Waiter polls probes on a fixed interval.
//
// # Description
//
// The zero value polls every 500ms, bounds each probe to 2s and uses a
// private http.Client. Waiter is stateless and safe for concurrent use.
type Waiter struct {
	// Client performs HTTP probes. Nil uses a default client.
	Client HTTPClient

	// Interval is the pause between probes.
	Interval time.Duration

	// ProbeTimeout bounds a single probe.
	ProbeTimeout time.Duration
}

const defaultProbeTimeout = 2 * time.Second

var defaultClient = &http.Client{
	// Readiness must observe the service itself, not a redirect target.
	CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
}

// WaitForReady polls url with GET until a 2xx arrives or timeout elapses.
//
// # Inputs
//
//   - ctx: Cancels the wait early (returns ctx.Err(), not a TimeoutError)
//   - url: Absolute URL to probe
//   - timeout: Overall deadline; zero selects util.DefaultReadinessTimeout
//
// # Outputs
//
//   - error: nil when ready; *TimeoutError when the deadline passed
func (w *Waiter) WaitForReady(ctx context.Context, url string, timeout time.Duration) error {
	return w.WaitFor(ctx, url, timeout, w.HTTPProbe(url))
}

// WaitFor polls probe until it returns nil or timeout elapses.
//
// # Description
//
// The probe runs immediately, then every Interval. The final sleep is
// shortened to land on the deadline, and one last probe runs there, so a
// TimeoutError is never returned before timeout has fully elapsed.
func (w *Waiter) WaitFor(ctx context.Context, target string, timeout time.Duration, probe Probe) error {
	timeout = util.DefaultIfZero(timeout, util.DefaultReadinessTimeout)
	interval := util.DefaultIfZero(w.Interval, util.DefaultPollInterval)
	probeTimeout := util.EnforceMinTimeout(util.DefaultIfZero(w.ProbeTimeout, defaultProbeTimeout), util.MinProbeTimeout)

	start := time.Now()
	deadline := start.Add(timeout)
	var lastErr error

	for {
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		lastErr = probe(probeCtx)
		cancel()
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("wait for %s: %w", target, ctx.Err())
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return &TimeoutError{Target: target, Elapsed: time.Since(start), LastErr: lastErr}
		}
		if err := sleepWithContext(ctx, min(interval, remaining)); err != nil {
			return fmt.Errorf("wait for %s: %w", target, err)
		}
	}
}

// HTTPProbe returns a Probe that succeeds on any 2xx response to GET url.
func (w *Waiter) HTTPProbe(url string) Probe {
	client := w.Client
	if client == nil {
		client = defaultClient
	}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("status %d", resp.StatusCode)
		}
		return nil
	}
}

// WaitForReady uses a zero-value Waiter.
func WaitForReady(ctx context.Context, url string, timeout time.Duration) error {
	var w Waiter
	return w.WaitForReady(ctx, url, timeout)
}

// WaitFor uses a zero-value Waiter.
func WaitFor(ctx context.Context, target string, timeout time.Duration, probe Probe) error {
	var w Waiter
	return w.WaitFor(ctx, target, timeout, probe)
}

// sleepWithContext sleeps for d or until ctx is done.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
