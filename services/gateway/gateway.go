// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gateway is the stack's single HTTP entry point.
//
// It checks the apikey header, answers CORS preflights and forwards each
// request to the upstream whose path prefix matches longest. It never
// talks to the database directly.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/slimbase/pkg/logging"
	"github.com/AleutianAI/slimbase/services/gateway/observability"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// DefaultHost keeps the gateway off external interfaces.
	DefaultHost = "127.0.0.1"

	// DefaultUpstreamTimeout bounds the wait for upstream response headers.
	DefaultUpstreamTimeout = 30 * time.Second

	// HeaderAPIKey carries the client's key.
	HeaderAPIKey = "apikey"

	// HeaderRequestID is echoed on every response.
	HeaderRequestID = "X-Request-Id"

	// TracingService names the gateway's spans.
	TracingService = "slimbase-gateway"

	readHeaderTimeout = 10 * time.Second
	routeKey          = "gateway.route"
	noRoute           = "none"
)

// =============================================================================
// Config
// =============================================================================

// Config configures a Gateway.
type Config struct {
	// Host defaults to DefaultHost.
	Host string

	// Port is the listening port. Zero picks an ephemeral port.
	Port int

	// Keys are the accepted apikey values.
	Keys KeySet

	// Routes is the prefix table.
	Routes *RouteTable

	// UpstreamTimeout defaults to DefaultUpstreamTimeout.
	UpstreamTimeout time.Duration

	// MetricsPort serves /metrics on loopback when positive.
	MetricsPort int

	// Metrics may be nil.
	Metrics *observability.Metrics

	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider

	// Transport replaces the bounded upstream transport. Tests inject
	// failing round trippers here.
	Transport http.RoundTripper

	Logger *logging.Logger
}

// =============================================================================
// Gateway
// =============================================================================

// Gateway serves the public API on one loopback port.
//
// # Description
//
// The handler chain runs per request in this order: panic recovery,
// tracing, request ID, access logging, CORS (OPTIONS answered here),
// apikey check, then prefix routing and forwarding. The route table and
// key set are immutable, so requests share no mutable state.
//
// # Examples
//
//	gw, err := gateway.New(gateway.Config{Port: 54321, Keys: keys, Routes: table})
//	if err != nil { ... }
//	if err := gw.Start(); err != nil { ... }
//	defer gw.Stop(ctx)
type Gateway struct {
	cfg     Config
	log     *logging.Logger
	engine  *gin.Engine
	proxies proxySet

	mu       sync.Mutex
	server   *http.Server
	metrics  *http.Server
	addr     string
	stopOnce sync.Once
	stopErr  error
}

// New validates cfg and builds the handler chain. It does not bind.
func New(cfg Config) (*Gateway, error) {
	if cfg.Routes == nil {
		return nil, errors.New("gateway: route table is required")
	}
	if cfg.Keys.Len() == 0 {
		return nil, errors.New("gateway: at least one api key is required")
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("gateway: invalid port %d", cfg.Port)
	}
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.UpstreamTimeout <= 0 {
		cfg.UpstreamTimeout = DefaultUpstreamTimeout
	}
	log := cfg.Logger
	if log == nil {
		log = logging.Discard()
	}
	log = log.With("component", "gateway")

	transport := cfg.Transport
	if transport == nil {
		transport = newTransport(cfg.UpstreamTimeout)
	}
	if cfg.TracerProvider != nil {
		transport = otelhttp.NewTransport(transport, otelhttp.WithTracerProvider(cfg.TracerProvider))
	} else {
		transport = otelhttp.NewTransport(transport)
	}

	g := &Gateway{
		cfg:     cfg,
		log:     log,
		proxies: newProxySet(cfg.Routes, transport, log, cfg.Metrics),
	}

	var traceOpts []otelgin.Option
	if cfg.TracerProvider != nil {
		traceOpts = append(traceOpts, otelgin.WithTracerProvider(cfg.TracerProvider))
	}

	engine := gin.New()
	engine.Use(
		gin.CustomRecoveryWithWriter(nil, g.recoverPanic),
		otelgin.Middleware(TracingService, traceOpts...),
		requestIDMiddleware(),
		g.accessMiddleware(),
		corsMiddleware(),
		g.apiKeyMiddleware(),
	)
	engine.NoRoute(g.forward)
	g.engine = engine
	return g, nil
}

// Handler exposes the handler chain, mainly for tests.
func (g *Gateway) Handler() http.Handler { return g.engine }

// Start binds the listener and serves in the background.
//
// Bind errors are returned synchronously. Start must be called once.
func (g *Gateway) Start() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.server != nil {
		return errors.New("gateway: already started")
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(g.cfg.Host, strconv.Itoa(g.cfg.Port)))
	if err != nil {
		return fmt.Errorf("gateway: listen: %w", err)
	}
	g.addr = ln.Addr().String()
	g.server = &http.Server{Handler: g.engine, ReadHeaderTimeout: readHeaderTimeout}
	go g.serve(g.server, ln, "gateway")

	if g.cfg.MetricsPort > 0 {
		mln, err := net.Listen("tcp", net.JoinHostPort(g.cfg.Host, strconv.Itoa(g.cfg.MetricsPort)))
		if err != nil {
			_ = g.server.Close()
			return fmt.Errorf("gateway: metrics listen: %w", err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", g.cfg.Metrics.Handler())
		g.metrics = &http.Server{Handler: mux, ReadHeaderTimeout: readHeaderTimeout}
		go g.serve(g.metrics, mln, "metrics")
		g.log.Info("metrics listening", "addr", mln.Addr().String())
	}

	g.log.Info("gateway listening", "addr", g.addr, "routes", len(g.cfg.Routes.routes))
	return nil
}

func (g *Gateway) serve(srv *http.Server, ln net.Listener, name string) {
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		g.log.Error("server stopped unexpectedly", "server", name, "error", err)
	}
}

// Addr is the bound host:port, empty before Start.
func (g *Gateway) Addr() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addr
}

// URL is the gateway's base URL, empty before Start.
func (g *Gateway) URL() string {
	addr := g.Addr()
	if addr == "" {
		return ""
	}
	return "http://" + addr
}

// Stop shuts the servers down gracefully within ctx, then closes whatever
// is left. Later calls return the first result.
func (g *Gateway) Stop(ctx context.Context) error {
	g.stopOnce.Do(func() {
		g.mu.Lock()
		servers := []*http.Server{g.server, g.metrics}
		g.mu.Unlock()

		var errs []error
		for _, srv := range servers {
			if srv == nil {
				continue
			}
			if err := srv.Shutdown(ctx); err != nil {
				errs = append(errs, err)
				_ = srv.Close()
			}
		}
		g.stopErr = errors.Join(errs...)
		g.log.Info("gateway stopped")
	})
	return g.stopErr
}

// =============================================================================
// Handlers
// =============================================================================

// forward routes the request by longest prefix and proxies it.
func (g *Gateway) forward(c *gin.Context) {
	route, rest, ok := g.cfg.Routes.Match(c.Request.URL.Path)
	if !ok {
		abortWith(c, g.cfg.Metrics, RouteNotFound)
		return
	}
	c.Set(routeKey, route.Name)
	if g.log.Enabled(logging.LevelDebug) {
		g.log.Debug("forwarding",
			"route", route.Name,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"upstream_path", forwardedPath(route, c.Request.URL.Path),
			"rest", rest)
	}
	g.proxies[route.Prefix].ServeHTTP(c.Writer, c.Request)
	// An empty upstream body must not be replaced by gin's default 404 text.
	c.Writer.WriteHeaderNow()
}

// recoverPanic answers a panicking request with 500 JSON.
func (g *Gateway) recoverPanic(c *gin.Context, err any) {
	if err == http.ErrAbortHandler {
		panic(err)
	}
	g.log.Error("panic in request", "path", c.Request.URL.Path, "error", err)
	abortWith(c, g.cfg.Metrics, InternalError)
}

func (g *Gateway) apiKeyMiddleware() gin.HandlerFunc {
	keys := g.cfg.Keys
	return func(c *gin.Context) {
		if !keys.Contains(c.GetHeader(HeaderAPIKey)) {
			abortWith(c, g.cfg.Metrics, Unauthorized)
			return
		}
		c.Next()
	}
}

func (g *Gateway) accessMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		done := g.cfg.Metrics.Begin()
		defer done()

		c.Next()

		route := c.GetString(routeKey)
		if route == "" {
			route = noRoute
		}
		elapsed := time.Since(start)
		status := c.Writer.Status()
		g.cfg.Metrics.ObserveRequest(route, status, elapsed)
		g.log.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"route", route,
			"status", status,
			"duration_ms", elapsed.Milliseconds(),
			"request_id", c.Writer.Header().Get(HeaderRequestID))
	}
}

// requestIDMiddleware echoes the client's request ID or mints one.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Writer.Header().Set(HeaderRequestID, id)
		c.Next()
	}
}
