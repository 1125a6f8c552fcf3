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
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/slimbase/services/gateway/observability"
)

// ErrorCode identifies a response the gateway produces itself.
type ErrorCode int

const (
	// Unauthorized is a missing or unknown apikey.
	Unauthorized ErrorCode = iota + 1

	// RouteNotFound is a path no route prefix matches.
	RouteNotFound

	// UpstreamUnavailable is a failed or timed out upstream exchange.
	UpstreamUnavailable

	// InternalError is a recovered panic.
	InternalError
)

// Status is the HTTP status for the code.
func (c ErrorCode) Status() int {
	switch c {
	case Unauthorized:
		return http.StatusUnauthorized
	case RouteNotFound:
		return http.StatusNotFound
	case UpstreamUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Message is the client-visible error text.
func (c ErrorCode) Message() string {
	switch c {
	case Unauthorized:
		return "Invalid API key"
	case RouteNotFound:
		return "Not found"
	case UpstreamUnavailable:
		return "Upstream unavailable"
	default:
		return "Internal error"
	}
}

// reason is the metrics label for the code.
func (c ErrorCode) reason() string {
	switch c {
	case Unauthorized:
		return observability.ReasonUnauthorized
	case RouteNotFound:
		return observability.ReasonRouteNotFound
	case UpstreamUnavailable:
		return observability.ReasonUpstreamUnavailable
	default:
		return observability.ReasonInternal
	}
}

// ErrorBody is the JSON shape of gateway errors.
type ErrorBody struct {
	Error string `json:"error"`
}

// abortWith counts the rejection, writes the code's JSON body and stops
// the handler chain. metrics may be nil.
func abortWith(c *gin.Context, metrics *observability.Metrics, code ErrorCode) {
	metrics.Reject(code.reason())
	c.AbortWithStatusJSON(code.Status(), ErrorBody{Error: code.Message()})
}

// writeError is abortWith for plain http.ResponseWriter callers such as the
// reverse proxy's error handler.
func writeError(w http.ResponseWriter, metrics *observability.Metrics, code ErrorCode) {
	metrics.Reject(code.reason())
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code.Status())
	_ = json.NewEncoder(w).Encode(ErrorBody{Error: code.Message()})
}
