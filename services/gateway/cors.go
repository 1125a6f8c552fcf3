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
	"net/http"

	"github.com/gin-gonic/gin"
)

// CORSHeaders are set on every gateway response.
var CORSHeaders = map[string]string{
	"Access-Control-Allow-Origin":   "*",
	"Access-Control-Allow-Headers":  "authorization, x-client-info, apikey, content-type, content-profile, accept-profile, range, prefer, x-supabase-api-version",
	"Access-Control-Allow-Methods":  "GET, POST, PUT, PATCH, DELETE, OPTIONS",
	"Access-Control-Expose-Headers": "content-range, range, x-supabase-api-version",
}

// corsMiddleware sets the allow-list headers and answers preflights.
// OPTIONS never requires an apikey.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		for k, v := range CORSHeaders {
			h.Set(k, v)
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// stripUpstreamCORS removes CORS headers from an upstream response so the
// values already set by corsMiddleware are the only ones sent.
func stripUpstreamCORS(h http.Header) {
	for k := range CORSHeaders {
		h.Del(k)
	}
}
