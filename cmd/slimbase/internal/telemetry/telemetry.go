// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry configures OpenTelemetry tracing for the stack.
//
// Tracing is off unless an exporter is named. "otlp" ships spans over gRPC
// to a collector; "stdout" writes them as JSON, which is handy when
// debugging startup ordering without a collector.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Exporter names.
const (
	ExporterNone   = ""
	ExporterOTLP   = "otlp"
	ExporterStdout = "stdout"
)

// DefaultServiceName is the resource service.name.
const DefaultServiceName = "slimbase"

const shutdownTimeout = 5 * time.Second

// Config selects and configures the span exporter.
type Config struct {
	// Exporter is ExporterNone, ExporterOTLP or ExporterStdout.
	Exporter string

	// Endpoint is the OTLP gRPC collector address, e.g. localhost:4317.
	Endpoint string

	// ServiceName defaults to DefaultServiceName.
	ServiceName string

	// Output receives stdout spans. Defaults to os.Stdout.
	Output io.Writer
}

// Provider owns the tracer provider and its exporter.
type Provider struct {
	sdk  *sdktrace.TracerProvider
	noop trace.TracerProvider
}

// Init builds a Provider for cfg.
//
// # Description
//
// With an exporter configured, the provider is installed as the global
// tracer provider together with W3C trace-context and baggage
// propagators, so the gateway's instrumentation picks it up. With no
// exporter, a no-op provider is returned and global state is untouched.
//
// # Outputs
//
// The caller must call Shutdown to flush buffered spans.
func Init(ctx context.Context, cfg Config) (*Provider, error) {
	var (
		exporter sdktrace.SpanExporter
		err      error
	)
	switch cfg.Exporter {
	case ExporterNone:
		return &Provider{noop: noop.NewTracerProvider()}, nil
	case ExporterOTLP:
		exporter, err = newOTLPExporter(ctx, cfg.Endpoint)
	case ExporterStdout:
		out := cfg.Output
		if out == nil {
			out = os.Stdout
		}
		exporter, err = stdouttrace.New(stdouttrace.WithWriter(out))
	default:
		return nil, fmt.Errorf("telemetry: unknown exporter %q", cfg.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("telemetry: create %s exporter: %w", cfg.Exporter, err)
	}

	name := cfg.ServiceName
	if name == "" {
		name = DefaultServiceName
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceNameKey.String(name)))
	if err != nil {
		return nil, fmt.Errorf("telemetry: resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))
	return &Provider{sdk: tp}, nil
}

func newOTLPExporter(ctx context.Context, endpoint string) (sdktrace.SpanExporter, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("otlp endpoint is empty")
	}
	// NewClient does not dial; an absent collector only surfaces on export.
	conn, err := grpc.NewClient(endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	return otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
}

// Enabled reports whether spans are exported.
func (p *Provider) Enabled() bool { return p != nil && p.sdk != nil }

// TracerProvider returns the active provider, never nil.
func (p *Provider) TracerProvider() trace.TracerProvider {
	switch {
	case p == nil:
		return noop.NewTracerProvider()
	case p.sdk != nil:
		return p.sdk
	default:
		return p.noop
	}
}

// Tracer is shorthand for TracerProvider().Tracer(name).
func (p *Provider) Tracer(name string) trace.Tracer {
	return p.TracerProvider().Tracer(name)
}

// Shutdown flushes and stops the exporter, bounded by shutdownTimeout.
func (p *Provider) Shutdown(ctx context.Context) error {
	if !p.Enabled() {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	return p.sdk.Shutdown(ctx)
}
