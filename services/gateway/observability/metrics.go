// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the gateway.
//
// Metrics are registered on a caller-supplied registry rather than the
// global default, so tests can build as many gateways as they like and
// the stack can expose exactly these series on its metrics port.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// =============================================================================
// Constants
// =============================================================================

const metricsNamespace = "slimbase"

const gatewaySubsystem = "gateway"

// Rejection reasons used as the "reason" label.
const (
	ReasonUnauthorized        = "unauthorized"
	ReasonRouteNotFound       = "route_not_found"
	ReasonUpstreamUnavailable = "upstream_unavailable"
	ReasonInternal            = "internal"
)

// =============================================================================
// Metrics
// =============================================================================

// Metrics holds the gateway's collectors.
//
// # Description
//
// All methods are nil-safe so the gateway can run without metrics.
//
// # Examples
//
//	m := observability.NewMetrics(prometheus.NewRegistry())
//	m.ObserveRequest("data-api", 200, 12*time.Millisecond)
type Metrics struct {
	// RequestsTotal counts completed requests by route and status code.
	RequestsTotal *prometheus.CounterVec

	// RequestDurationSeconds observes end-to-end latency by route.
	RequestDurationSeconds *prometheus.HistogramVec

	// RejectionsTotal counts requests answered by the gateway itself.
	RejectionsTotal *prometheus.CounterVec

	// InFlight is the number of requests currently being served.
	InFlight prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics registers the gateway collectors on reg.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "requests_total",
				Help:      "Total gateway requests by route and status code",
			},
			[]string{"route", "code"},
		),
		RequestDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "request_duration_seconds",
				Help:      "Gateway request latency in seconds",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"route"},
		),
		RejectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "rejections_total",
				Help:      "Requests answered by the gateway without reaching an upstream",
			},
			[]string{"reason"},
		),
		InFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "in_flight_requests",
				Help:      "Requests currently being served",
			},
		),
		registry: reg,
	}
}

// ObserveRequest records a completed request.
func (m *Metrics) ObserveRequest(route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.RequestDurationSeconds.WithLabelValues(route).Observe(elapsed.Seconds())
}

// Reject records a gateway-generated error response.
func (m *Metrics) Reject(reason string) {
	if m == nil {
		return
	}
	m.RejectionsTotal.WithLabelValues(reason).Inc()
}

// Begin increments InFlight and returns the matching decrement.
func (m *Metrics) Begin() func() {
	if m == nil {
		return func() {}
	}
	m.InFlight.Inc()
	return m.InFlight.Dec
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
