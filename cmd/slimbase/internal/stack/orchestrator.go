// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package stack sequences the local backend: config, secrets, database,
// data API, optional auth API, then the gateway. It tears everything down
// in reverse order on shutdown or on any startup failure.
package stack

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/AleutianAI/slimbase/cmd/slimbase/config"
	"github.com/AleutianAI/slimbase/cmd/slimbase/internal/infra/process"
	"github.com/AleutianAI/slimbase/cmd/slimbase/internal/launcher"
	"github.com/AleutianAI/slimbase/cmd/slimbase/internal/ports"
	"github.com/AleutianAI/slimbase/cmd/slimbase/internal/secrets"
	"github.com/AleutianAI/slimbase/cmd/slimbase/internal/util"
	"github.com/AleutianAI/slimbase/pkg/logging"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("stack already started")

	// ErrServiceExited means a supervised process died while running.
	ErrServiceExited = errors.New("service exited unexpectedly")
)

// =============================================================================
// Dependencies
// =============================================================================

// SecretStore supplies the persisted secret bundle.
type SecretStore interface {
	LoadOrCreate() (secrets.Bundle, bool, error)
}

// Launchers are the dependency launchers in start order.
type Launchers struct {
	Database launcher.Launcher
	DataAPI  launcher.Launcher

	// AuthAPI is nil when auth is disabled.
	AuthAPI launcher.Launcher
}

// LauncherFactory builds launchers for the resolved config and secrets.
type LauncherFactory func(cfg config.Config, bundle secrets.Bundle) Launchers

// Gateway is the in-process HTTP entry point.
type Gateway interface {
	Start() error
	Stop(ctx context.Context) error
	URL() string
}

// Upstreams are the started services the gateway routes to.
type Upstreams struct {
	DataAPI *launcher.RunningService

	// AuthAPI is nil when auth was not started.
	AuthAPI *launcher.RunningService
}

// GatewayFactory builds the gateway once its upstreams are ready.
type GatewayFactory func(cfg config.Config, bundle secrets.Bundle, up Upstreams) (Gateway, error)

// Options configures an Orchestrator. Zero fields get production defaults
// in New, except Launchers and Gateway which are required.
type Options struct {
	Config config.Config
	Logger *logging.Logger

	// Ports defaults to a ports.Allocator.
	Ports config.PortFinder

	// Secrets defaults to a secrets.Store in the state directory.
	Secrets SecretStore

	// Lock defaults to a process.StateLock in the state directory.
	Lock process.Locker

	Launchers LauncherFactory
	Gateway   GatewayFactory

	// Tracer defaults to a no-op provider.
	Tracer trace.TracerProvider

	// StopTimeout bounds each service's stop. Defaults to
	// util.DefaultStopGrace plus util.DefaultShutdownTimeout.
	StopTimeout time.Duration

	// MetricsURL is recorded in stack.json when metrics are served.
	MetricsURL string
}

// Info describes a running stack.
type Info struct {
	RunID          string
	Config         config.Config
	Bundle         secrets.Bundle
	SecretsCreated bool
	Reallocated    []config.Reallocation

	GatewayURL string

	// DatabaseURL is the superuser connection string, password included.
	DatabaseURL string

	Services  []ServiceInfo
	StartedAt time.Time
}

// AuthEnabled reports whether the auth service was started.
func (i Info) AuthEnabled() bool {
	for _, s := range i.Services {
		if s.Name == "auth" {
			return true
		}
	}
	return false
}

// =============================================================================
// Orchestrator
// =============================================================================

type stopEntry struct {
	name string
	stop func(ctx context.Context) error
}

// Orchestrator owns one stack's lifecycle.
//
// # Description
//
// Start runs the phases in order on the calling goroutine. Each started
// service's stop function is appended to an ordered list; teardown walks
// that list backwards, so the gateway stops first and the state lock is
// released last. Shutdown is guarded by a sync.Once: concurrent and
// repeated calls wait for the single teardown and return its result.
//
// # Thread Safety
//
// Phase, Info and Shutdown are safe for concurrent use. Start must be
// called at most once. To abandon a Start in progress, cancel its context
// rather than calling Shutdown.
//
// # Examples
//
//	orch, err := stack.New(stack.Options{Config: cfg, Launchers: ..., Gateway: ...})
//	info, err := orch.Start(ctx)
//	defer orch.Shutdown(context.Background())
type Orchestrator struct {
	opts   Options
	log    *logging.Logger
	tracer trace.Tracer

	mu         sync.Mutex
	phase      Phase
	stops      []stopEntry
	info       Info
	supervised []*launcher.RunningService

	shutdownOnce sync.Once
	shutdownErr  error
	done         chan struct{}
	exited       chan string
}

// New fills defaults and validates opts. It starts nothing.
func New(opts Options) (*Orchestrator, error) {
	if opts.Launchers == nil {
		return nil, errors.New("stack: launcher factory is required")
	}
	if opts.Gateway == nil {
		return nil, errors.New("stack: gateway factory is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Ports == nil {
		opts.Ports = &ports.Allocator{}
	}
	if opts.Secrets == nil {
		opts.Secrets = secrets.NewStore(opts.Config.Paths.StateDir)
	}
	if opts.Lock == nil {
		opts.Lock = process.NewStateLock(process.LockConfig{Dir: opts.Config.Paths.StateDir})
	}
	if opts.Tracer == nil {
		opts.Tracer = noop.NewTracerProvider()
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = util.DefaultStopGrace + util.DefaultShutdownTimeout
	}
	return &Orchestrator{
		opts:   opts,
		log:    opts.Logger.With("component", "stack"),
		tracer: opts.Tracer.Tracer("github.com/AleutianAI/slimbase/stack"),
		done:   make(chan struct{}),
		exited: make(chan string, 4),
	}, nil
}

// Phase is the current lifecycle phase.
func (o *Orchestrator) Phase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// Info describes the stack once Running.
func (o *Orchestrator) Info() Info {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.info
}

// Done is closed after teardown finishes.
func (o *Orchestrator) Done() <-chan struct{} { return o.done }

func (o *Orchestrator) setPhase(p Phase) {
	o.mu.Lock()
	prev := o.phase
	o.phase = p
	o.mu.Unlock()
	o.log.Debug("phase", "from", prev.String(), "to", p.String())
}

func (o *Orchestrator) push(name string, stop func(ctx context.Context) error) {
	o.mu.Lock()
	o.stops = append(o.stops, stopEntry{name: name, stop: stop})
	o.mu.Unlock()
}

// Start brings the stack up to PhaseRunning.
//
// # Description
//
// Any error before PhaseRunning tears down what was already started in
// reverse order, leaves the Orchestrator in PhaseFailed and returns the
// error. Fatal categories keep their sentinels: config.ErrConfig,
// ports.ErrPortExhaustion, launcher.ErrDependencyInit and
// health.ErrReadinessTimeout.
//
// # Outputs
//
// The Info describing the running stack.
func (o *Orchestrator) Start(ctx context.Context) (Info, error) {
	o.mu.Lock()
	if o.phase != PhaseIdle {
		o.mu.Unlock()
		return Info{}, ErrAlreadyStarted
	}
	o.mu.Unlock()

	ctx, span := o.tracer.Start(ctx, "stack.start")
	defer span.End()

	info, err := o.startup(ctx)
	if err != nil {
		failedAt := o.Phase()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.log.Error("startup failed", "phase", failedAt.String(), "error", err)
		o.setPhase(PhaseFailed)
		o.shutdownOnce.Do(func() {
			o.shutdownErr = o.teardown(context.WithoutCancel(ctx))
			close(o.done)
		})
		return Info{}, err
	}

	o.mu.Lock()
	o.info = info
	supervised := o.supervised
	o.mu.Unlock()
	o.setPhase(PhaseRunning)
	// Watchers start after PhaseRunning so an exit during startup's last
	// steps is still reported.
	for _, svc := range supervised {
		o.watch(svc)
	}
	span.SetAttributes(attribute.String("slimbase.run_id", info.RunID))
	o.log.Info("stack running", "run_id", info.RunID, "gateway", info.GatewayURL)
	return info, nil
}

func (o *Orchestrator) startup(ctx context.Context) (Info, error) {
	cfg := o.opts.Config
	if err := config.Validate(cfg); err != nil {
		return Info{}, err
	}

	if err := o.opts.Lock.Acquire(); err != nil {
		return Info{}, fmt.Errorf("lock state directory: %w", err)
	}
	o.push("state-lock", func(context.Context) error { return o.opts.Lock.Release() })

	resolved, moves, err := cfg.WithFreePorts(o.opts.Ports)
	if err != nil {
		return Info{}, err
	}
	for _, m := range moves {
		o.log.Warn("port in use, reallocated", "field", m.Field, "preferred", m.Preferred, "port", m.Chosen)
	}
	o.setPhase(PhaseConfigResolved)

	bundle, created, err := o.opts.Secrets.LoadOrCreate()
	if err != nil {
		return Info{}, err
	}
	if created {
		o.log.Info("generated new secrets", "state_dir", resolved.Paths.StateDir)
	} else {
		o.log.Info("loaded existing secrets", "state_dir", resolved.Paths.StateDir)
	}
	o.setPhase(PhaseSecretsReady)

	ls := o.opts.Launchers(resolved, bundle)

	db, err := o.launch(ctx, ls.Database)
	if err != nil {
		return Info{}, err
	}
	o.setPhase(PhaseDatabaseUp)

	api, err := o.launch(ctx, ls.DataAPI)
	if err != nil {
		return Info{}, err
	}
	o.setPhase(PhaseDataAPIUp)

	started := []*launcher.RunningService{db, api}
	up := Upstreams{DataAPI: api}
	if ls.AuthAPI != nil {
		auth, err := o.launch(ctx, ls.AuthAPI)
		if err != nil {
			return Info{}, err
		}
		up.AuthAPI = auth
		started = append(started, auth)
		o.setPhase(PhaseAuthAPIUp)
	}

	gw, err := o.startGateway(ctx, resolved, bundle, up)
	if err != nil {
		return Info{}, err
	}
	o.setPhase(PhaseGatewayUp)

	info := Info{
		RunID:          uuid.NewString(),
		Config:         resolved,
		Bundle:         bundle,
		SecretsCreated: created,
		Reallocated:    moves,
		GatewayURL:     gw.URL(),
		DatabaseURL:    db.BaseURL,
		StartedAt:      time.Now().UTC(),
	}
	for _, s := range started {
		si := ServiceInfo{Name: s.Name, URL: redactURL(s.BaseURL), Port: s.Port}
		if s.Process != nil {
			si.PID = s.Process.PID()
		}
		info.Services = append(info.Services, si)
	}
	info.Services = append(info.Services, ServiceInfo{Name: "gateway", URL: gw.URL(), Port: resolved.API.Port, PID: os.Getpid()})

	stateDir := resolved.Paths.StateDir
	rec := Record{
		RunID:      info.RunID,
		PID:        os.Getpid(),
		GatewayURL: info.GatewayURL,
		MetricsURL: o.opts.MetricsURL,
		Services:   info.Services,
		StartedAt:  info.StartedAt,
	}
	if resolved.Gateway.MetricsPort > 0 && rec.MetricsURL == "" {
		rec.MetricsURL = "http://127.0.0.1:" + strconv.Itoa(resolved.Gateway.MetricsPort) + "/metrics"
	}
	if err := WriteRecord(stateDir, rec); err != nil {
		return Info{}, err
	}
	o.push("stack-record", func(context.Context) error { return RemoveRecord(stateDir) })

	o.mu.Lock()
	o.supervised = started
	o.mu.Unlock()
	return info, nil
}

// launch runs one launcher inside a span and registers its stop.
func (o *Orchestrator) launch(ctx context.Context, l launcher.Launcher) (*launcher.RunningService, error) {
	ctx, span := o.tracer.Start(ctx, "launch."+l.Name())
	defer span.End()

	begin := time.Now()
	o.log.Info("starting service", "service", l.Name())
	svc, err := l.Launch(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	o.push(svc.Name, svc.Stop)
	span.SetAttributes(attribute.Int("slimbase.port", svc.Port))
	o.log.Info("service ready", "service", svc.Name, "port", svc.Port, "elapsed_ms", time.Since(begin).Milliseconds())
	return svc, nil
}

func (o *Orchestrator) startGateway(ctx context.Context, cfg config.Config, bundle secrets.Bundle, up Upstreams) (Gateway, error) {
	_, span := o.tracer.Start(ctx, "launch.gateway")
	defer span.End()

	gw, err := o.opts.Gateway(cfg, bundle, up)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("build gateway: %w", err)
	}
	if err := gw.Start(); err != nil {
		span.RecordError(err)
		return nil, err
	}
	o.push("gateway", gw.Stop)
	return gw, nil
}

// watch reports a supervised process that exits while the stack is running.
func (o *Orchestrator) watch(svc *launcher.RunningService) {
	if svc.Process == nil {
		return
	}
	proc := svc.Process
	go func() {
		err := proc.Wait(context.Background())
		if o.Phase() != PhaseRunning {
			return
		}
		o.log.Error("service exited", "service", svc.Name, "pid", proc.PID(), "error", err)
		select {
		case o.exited <- svc.Name:
		default:
		}
	}()
}

// Shutdown tears the stack down once.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.shutdownOnce.Do(func() {
		o.setPhase(PhaseShuttingDown)
		o.log.Info("shutting down")
		o.shutdownErr = o.teardown(ctx)
		o.setPhase(PhaseStopped)
		close(o.done)
		o.log.Info("all services stopped")
	})
	return o.shutdownErr
}

// teardown pops every registered stop in reverse order.
func (o *Orchestrator) teardown(ctx context.Context) error {
	o.mu.Lock()
	stops := o.stops
	o.stops = nil
	o.mu.Unlock()

	var errs []error
	for i := len(stops) - 1; i >= 0; i-- {
		s := stops[i]
		o.log.Info("stopping", "service", s.name)
		stopCtx, cancel := context.WithTimeout(ctx, o.opts.StopTimeout)
		err := util.GuardErr(func() error { return s.stop(stopCtx) })
		cancel()
		if err != nil {
			o.log.Error("stop failed", "service", s.name, "error", err)
			errs = append(errs, fmt.Errorf("stop %s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}

// Run starts the stack, calls ready, and blocks until ctx is cancelled, a
// supervised process exits, or Shutdown is called elsewhere. It always
// shuts down before returning.
func (o *Orchestrator) Run(ctx context.Context, ready func(Info)) error {
	info, err := o.Start(ctx)
	if err != nil {
		return err
	}
	if ready != nil {
		ready(info)
	}

	var cause error
	select {
	case <-ctx.Done():
		o.log.Info("shutdown requested", "reason", context.Cause(ctx))
	case name := <-o.exited:
		cause = fmt.Errorf("%w: %s", ErrServiceExited, name)
	case <-o.done:
	}

	if err := o.Shutdown(context.WithoutCancel(ctx)); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// redactURL hides any password in raw.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Redacted()
}
