// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gateway

import (
	"net"
	"net/http"
	"net/http/httputil"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/AleutianAI/slimbase/pkg/logging"
	"github.com/AleutianAI/slimbase/services/gateway/observability"
)

// =============================================================================
// Transport
// =============================================================================

const (
	upstreamDialTimeout = 5 * time.Second
	upstreamKeepAlive   = 30 * time.Second
	upstreamIdleTimeout = 90 * time.Second
)

// newTransport builds the bounded upstream transport.
//
// Upstreams are always loopback, so environment proxies are ignored.
func newTransport(responseHeaderTimeout time.Duration) *http.Transport {
	dialer := &net.Dialer{Timeout: upstreamDialTimeout, KeepAlive: upstreamKeepAlive}
	return &http.Transport{
		Proxy:                 nil,
		DialContext:           dialer.DialContext,
		ResponseHeaderTimeout: responseHeaderTimeout,
		MaxIdleConns:          128,
		MaxIdleConnsPerHost:   64,
		IdleConnTimeout:       upstreamIdleTimeout,
	}
}

// =============================================================================
// Reverse proxy
// =============================================================================

// proxySet holds one reverse proxy per route, keyed by prefix.
type proxySet map[string]*httputil.ReverseProxy

// newProxySet builds the per-route proxies sharing one transport.
//
// # Description
//
// Each proxy rewrites the inbound path by stripping the route prefix, keeps
// the raw query, and drops the inbound Host so the upstream sees its own.
// Method, remaining headers and body pass through untouched. Upstream CORS
// headers are removed so the gateway's own values are the ones sent.
// Connection errors and header timeouts are answered with 502.
func newProxySet(table *RouteTable, transport http.RoundTripper, logger *logging.Logger, metrics *observability.Metrics) proxySet {
	// One warning per second at most; a dead upstream can fail every request.
	errLog := &rate.Sometimes{Interval: time.Second}

	set := make(proxySet, len(table.routes))
	for _, route := range table.routes {
		route := route
		set[route.Prefix] = &httputil.ReverseProxy{
			Rewrite: func(pr *httputil.ProxyRequest) {
				pr.Out.URL.Path = route.strip(pr.In.URL.Path)
				pr.Out.URL.RawPath = ""
				if raw := pr.In.URL.RawPath; raw != "" && route.matches(raw) {
					pr.Out.URL.RawPath = route.strip(raw)
				}
				pr.SetURL(route.Upstream)
				pr.Out.Host = ""
			},
			Transport: transport,
			ModifyResponse: func(resp *http.Response) error {
				stripUpstreamCORS(resp.Header)
				return nil
			},
			ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
				errLog.Do(func() {
					logger.Warn("upstream unavailable",
						"route", route.Name,
						"upstream", route.Upstream.String(),
						"path", r.URL.Path,
						"error", err)
				})
				writeError(w, metrics, UpstreamUnavailable)
			},
		}
	}
	return set
}

// forwardedPath is the path the upstream will see for an inbound path,
// including the upstream base path. Used for logging.
func forwardedPath(route Route, inbound string) string {
	base := strings.TrimSuffix(route.Upstream.Path, "/")
	return base + route.strip(inbound)
}
