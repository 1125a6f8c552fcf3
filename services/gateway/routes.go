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
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Default route prefixes.
const (
	PrefixDataAPI = "/rest/v1"
	PrefixAuthAPI = "/auth/v1"
)

// =============================================================================
// Route
// =============================================================================

// Route maps a path prefix to an upstream base URL.
type Route struct {
	// Name labels metrics and logs, e.g. "data-api".
	Name string

	// Prefix starts with "/" and has no trailing slash.
	Prefix string

	// Upstream is the base URL requests are forwarded to.
	Upstream *url.URL
}

// NewRoute parses upstream and builds a Route.
func NewRoute(name, prefix, upstream string) (Route, error) {
	u, err := url.Parse(upstream)
	if err != nil {
		return Route{}, fmt.Errorf("route %s: invalid upstream %q: %w", name, upstream, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return Route{}, fmt.Errorf("route %s: upstream %q must be absolute", name, upstream)
	}
	return Route{Name: name, Prefix: prefix, Upstream: u}, nil
}

// matches reports whether path is the prefix itself or lies beneath it.
// "/rest/v1x" does not match "/rest/v1".
func (r Route) matches(path string) bool {
	if !strings.HasPrefix(path, r.Prefix) {
		return false
	}
	return len(path) == len(r.Prefix) || path[len(r.Prefix)] == '/'
}

// strip removes the prefix, returning "/" for an empty remainder.
func (r Route) strip(path string) string {
	rest := strings.TrimPrefix(path, r.Prefix)
	if rest == "" {
		return "/"
	}
	return rest
}

// =============================================================================
// RouteTable
// =============================================================================

// RouteTable is an immutable set of routes matched by longest prefix.
type RouteTable struct {
	routes []Route
}

// NewRouteTable validates routes and orders them longest prefix first.
//
// # Description
//
// Prefixes must start with "/", must not end with "/" and must be unique.
// The table is read-only after construction and safe for concurrent use.
//
// # Examples
//
//	data, _ := NewRoute("data-api", "/rest/v1", "http://127.0.0.1:54001")
//	table, err := NewRouteTable(data)
func NewRouteTable(routes ...Route) (*RouteTable, error) {
	seen := make(map[string]struct{}, len(routes))
	sorted := make([]Route, 0, len(routes))
	for _, r := range routes {
		if !strings.HasPrefix(r.Prefix, "/") || len(r.Prefix) < 2 || strings.HasSuffix(r.Prefix, "/") {
			return nil, fmt.Errorf("route %s: invalid prefix %q", r.Name, r.Prefix)
		}
		if r.Upstream == nil {
			return nil, fmt.Errorf("route %s: missing upstream", r.Name)
		}
		if _, dup := seen[r.Prefix]; dup {
			return nil, fmt.Errorf("route %s: duplicate prefix %q", r.Name, r.Prefix)
		}
		seen[r.Prefix] = struct{}{}
		sorted = append(sorted, r)
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Prefix) > len(sorted[j].Prefix)
	})
	return &RouteTable{routes: sorted}, nil
}

// Match returns the route for path and the rewritten upstream path.
func (t *RouteTable) Match(path string) (Route, string, bool) {
	for _, r := range t.routes {
		if r.matches(path) {
			return r, r.strip(path), true
		}
	}
	return Route{}, "", false
}

// Routes returns a copy of the routes in match order.
func (t *RouteTable) Routes() []Route {
	out := make([]Route, len(t.routes))
	copy(out, t.routes)
	return out
}

// =============================================================================
// KeySet
// =============================================================================

// KeySet is the immutable set of API keys accepted in the apikey header.
type KeySet struct {
	keys map[string]struct{}
}

// NewKeySet builds a KeySet. Empty strings are ignored.
func NewKeySet(keys ...string) KeySet {
	m := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if k != "" {
			m[k] = struct{}{}
		}
	}
	return KeySet{keys: m}
}

// Contains reports whether key is accepted.
func (s KeySet) Contains(key string) bool {
	if key == "" {
		return false
	}
	_, ok := s.keys[key]
	return ok
}

// Len is the number of accepted keys.
func (s KeySet) Len() int { return len(s.keys) }
