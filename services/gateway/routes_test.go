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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRoute_RejectsRelativeUpstream(t *testing.T) {
	_, err := NewRoute("x", "/x", "127.0.0.1:54001")
	assert.Error(t, err)

	_, err = NewRoute("x", "/x", "/only/a/path")
	assert.Error(t, err)

	r, err := NewRoute("x", "/x", "http://127.0.0.1:54001")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:54001", r.Upstream.Host)
}

func TestNewRouteTable_Validation(t *testing.T) {
	up := "http://127.0.0.1:1"
	tests := []struct {
		name   string
		prefix string
	}{
		{"empty", ""},
		{"root", "/"},
		{"relative", "rest/v1"},
		{"trailing slash", "/rest/v1/"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := mustRoute(t, "r", "/ok", up)
			r.Prefix = tt.prefix
			_, err := NewRouteTable(r)
			assert.Error(t, err)
		})
	}

	t.Run("duplicate", func(t *testing.T) {
		_, err := NewRouteTable(mustRoute(t, "a", "/a", up), mustRoute(t, "b", "/a", up))
		assert.Error(t, err)
	})

	t.Run("missing upstream", func(t *testing.T) {
		_, err := NewRouteTable(Route{Name: "a", Prefix: "/a"})
		assert.Error(t, err)
	})
}

func TestRouteTable_Match(t *testing.T) {
	up := "http://127.0.0.1:1"
	table, err := NewRouteTable(
		mustRoute(t, "data-api", PrefixDataAPI, up),
		mustRoute(t, "auth", PrefixAuthAPI, up),
		mustRoute(t, "auth-admin", PrefixAuthAPI+"/admin", up),
	)
	require.NoError(t, err)

	tests := []struct {
		path  string
		route string
		rest  string
		ok    bool
	}{
		{"/rest/v1", "data-api", "/", true},
		{"/rest/v1/", "data-api", "/", true},
		{"/rest/v1/todos", "data-api", "/todos", true},
		{"/rest/v1/rpc/fn", "data-api", "/rpc/fn", true},
		{"/rest/v1x", "", "", false},
		{"/rest/v2/todos", "", "", false},
		{"/auth/v1/token", "auth", "/token", true},
		{"/auth/v1/admin", "auth-admin", "/", true},
		{"/auth/v1/admin/users", "auth-admin", "/users", true},
		{"/auth/v1/adminx", "auth", "/adminx", true},
		{"/", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			route, rest, ok := table.Match(tt.path)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.route, route.Name)
			assert.Equal(t, tt.rest, rest)
		})
	}
}

func TestRouteTable_RoutesOrderedLongestFirst(t *testing.T) {
	up := "http://127.0.0.1:1"
	table, err := NewRouteTable(
		mustRoute(t, "short", "/a", up),
		mustRoute(t, "long", "/a/b/c", up),
		mustRoute(t, "mid", "/a/b", up),
	)
	require.NoError(t, err)

	var names []string
	for _, r := range table.Routes() {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"long", "mid", "short"}, names)
}

func TestKeySet(t *testing.T) {
	ks := NewKeySet("a", "", "b", "a")
	assert.Equal(t, 2, ks.Len())
	assert.True(t, ks.Contains("a"))
	assert.True(t, ks.Contains("b"))
	assert.False(t, ks.Contains(""))
	assert.False(t, ks.Contains("c"))

	var zero KeySet
	assert.False(t, zero.Contains("a"))
}
