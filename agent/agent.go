// Package agent registers a running HTTP application with the naming service and the
// admin backend.
//
// Once the application is ready, every route it serves is registered as its own service
// name (see route.ServiceName) pointing at this instance. The admin backend is told about
// the instance right after the registrations are dispatched, and told again when the
// application shuts down. Naming-service entries are ephemeral and are not removed
// explicitly: they expire once the process stops renewing them.
package agent

import (
	"context"
	"sync/atomic"

	"ship-client/admin"
	"ship-client/config"
	"ship-client/lifecycle"
	"ship-client/middleware"
	"ship-client/netutil"
	"ship-client/registry"
	"ship-client/route"
	"ship-client/shiperr"
	"ship-client/worker"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Notifier is the admin backend.
type Notifier interface {
	Register(ctx context.Context, req admin.RegisterRequest) error
	Unregister(ctx context.Context, req admin.UnregisterRequest) error
}

const (
	stateUnregistered int32 = iota
	stateRegistered
)

// Registration pool sizing: one resident worker, up to four under a burst, extra workers
// leave as soon as the queue is empty.
const (
	poolCore = 1
	poolMax  = 4
	poolIdle = 0
)

// Agent is the self-registration agent. Create it with New.
type Agent struct {
	cfg      config.Config
	registry registry.Registry
	routes   route.Provider
	notifier Notifier
	scope    *lifecycle.Scope
	pool     *worker.Pool
	logger   log.Logger

	middlewares []middleware.Middleware

	state atomic.Int32

	// ready is closed once instance and batch are set by the first OnReady.
	ready    chan struct{}
	instance registry.ServiceInstance
	batch    *batch
}

// New validates cfg and builds an agent. It fails with a configuration error when a
// required setting or collaborator is missing; nothing is registered in that case.
// The naming backend settings of cfg are not used: reg is already connected.
//
// cfg.IgnorePaths is added to config.DefaultIgnorePaths, it never replaces it.
//
// The registration worker pool is closed by scope on shutdown.
func New(cfg config.Config, reg registry.Registry, routes route.Provider, notifier Notifier, scope *lifecycle.Scope, logger log.Logger) (*Agent, error) {
	if err := cfg.ValidateRequired(); err != nil {
		return nil, err
	}
	switch {
	case reg == nil:
		return nil, shiperr.NewConfigurationError("naming registry is required", nil)
	case routes == nil:
		return nil, shiperr.NewConfigurationError("route provider is required", nil)
	case notifier == nil:
		return nil, shiperr.NewConfigurationError("admin notifier is required", nil)
	case scope == nil:
		return nil, shiperr.NewConfigurationError("lifecycle scope is required", nil)
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	logger = log.WithPrefix(logger, "component", "Agent")

	cfg.IgnorePaths = append(config.DefaultIgnorePaths(), cfg.IgnorePaths...)
	a := &Agent{
		cfg:      cfg,
		registry: reg,
		routes:   routes,
		notifier: notifier,
		scope:    scope,
		pool:     worker.NewPool(poolCore, poolMax, poolIdle, logger),
		logger:   logger,
		ready:    make(chan struct{}),
	}
	a.middlewares = a.defaultMiddlewares()

	if err := scope.OnShutdown("registration-pool", a.pool.Close); err != nil {
		return nil, shiperr.NewInternalError("install pool teardown", err)
	}
	return a, nil
}

func (a *Agent) defaultMiddlewares() []middleware.Middleware {
	rc := a.cfg.Register
	mws := []middleware.Middleware{middleware.LoggingMiddleware(a.logger)}
	if rc.Rate > 0 {
		mws = append(mws, middleware.RateLimitMiddleware(rc.Rate, rc.Burst))
	}
	if rc.Retries > 0 {
		mws = append(mws, middleware.RetryMiddleware(rc.Retries, rc.BaseDelay, a.logger))
	}
	if rc.Timeout > 0 {
		mws = append(mws, middleware.TimeoutMiddleware(rc.Timeout))
	}
	return mws
}

// Use adds a middleware around every naming-service registration, inside the default
// ones. It must be called before OnReady.
func (a *Agent) Use(mw middleware.Middleware) {
	a.middlewares = append(a.middlewares, mw)
}

// OnReady is called when the application has finished starting. The first call registers
// the application and installs the unregister callback on the scope; every later or
// concurrent call returns nil without doing anything.
//
// OnReady does not wait for the naming-service registrations, use Wait for that. An admin
// backend failure is returned and leaves the unregister callback uninstalled.
func (a *Agent) OnReady(ctx context.Context) error {
	if !a.state.CompareAndSwap(stateUnregistered, stateRegistered) {
		return nil
	}
	if err := a.registerAll(ctx); err != nil {
		return err
	}
	return a.installShutdownHook()
}

// registerAll dispatches one registration per service name and then notifies the admin.
func (a *Agent) registerAll(ctx context.Context) error {
	b := newBatch()

	ip := a.cfg.AdvertiseIP
	if ip == "" {
		var err error
		if ip, err = netutil.LocalIP(); err != nil {
			b.seal()
			a.publish(b)
			return shiperr.NewInternalError("resolve local ip", err)
		}
	}
	a.instance = registry.ServiceInstance{
		IP:        ip,
		Port:      a.cfg.Port,
		Ephemeral: true,
		Metadata: map[string]string{
			"version": a.cfg.Version,
			"appName": a.cfg.AppName,
		},
	}

	names := a.ServiceNames()
	handler := middleware.Chain(a.middlewares...)(middleware.Register(a.registry))
	// Registrations outlive the ready signal; they must not die with the caller's ctx.
	taskCtx := context.WithoutCancel(ctx)

	for _, name := range names {
		req := &middleware.Request{ServiceName: name, Instance: a.instance}
		b.add()
		err := a.pool.Submit(func() {
			var regErr error
			if err := handler(taskCtx, req); err != nil {
				regErr = shiperr.NewRegistrationError(req.ServiceName, err)
			}
			b.finish(regErr)
		})
		if err != nil {
			level.Error(a.logger).Log("msg", "Register to naming service failed", "service", name, "err", err)
			b.finish(shiperr.NewRegistrationError(name, err))
		}
	}
	b.seal()
	a.publish(b)
	level.Info(a.logger).Log("msg", "Dispatched naming service registrations", "count", len(names))

	err := a.notifier.Register(ctx, admin.RegisterRequest{
		AppName:     a.cfg.AppName,
		ContextPath: a.cfg.ContextPath,
		IP:          a.instance.IP,
		Port:        a.instance.Port,
		Version:     a.cfg.Version,
	})
	if err != nil {
		return err
	}
	level.Info(a.logger).Log("msg", "Registered to admin", "app", a.cfg.AppName, "version", a.cfg.Version)
	return nil
}

func (a *Agent) publish(b *batch) {
	a.batch = b
	close(a.ready)
}

// installShutdownHook makes the scope tell the admin backend that this instance is gone.
func (a *Agent) installShutdownHook() error {
	req := admin.UnregisterRequest{
		AppName: a.cfg.AppName,
		Version: a.cfg.Version,
		IP:      a.instance.IP,
		Port:    a.instance.Port,
	}
	return a.scope.OnShutdown("admin-unregister", func(ctx context.Context) error {
		if err := a.notifier.Unregister(ctx, req); err != nil {
			return err
		}
		level.Info(a.logger).Log("msg", "Unregistered from admin", "app", req.AppName, "version", req.Version)
		return nil
	})
}

// Wait blocks until every registration dispatched by OnReady has finished, or ctx is
// done. It returns the registration errors joined together, nil when all succeeded.
// Before OnReady it waits for OnReady.
func (a *Agent) Wait(ctx context.Context) error {
	select {
	case <-a.ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	return a.batch.wait(ctx)
}

// Registered reports whether OnReady has fired.
func (a *Agent) Registered() bool {
	return a.state.Load() == stateRegistered
}

// ServiceNames derives the service names from the current route table.
func (a *Agent) ServiceNames() []string {
	return route.ServiceNames(a.routes.Patterns(), a.cfg.ContextPath, a.cfg.Version, a.cfg.IgnorePaths)
}

// Instance returns the instance descriptor built by the first OnReady. It is false before
// OnReady and when the local address could not be resolved; an admin backend failure
// after the descriptor was built still reports it.
func (a *Agent) Instance() (registry.ServiceInstance, bool) {
	select {
	case <-a.ready:
	default:
		return registry.ServiceInstance{}, false
	}
	if a.instance.IP == "" {
		return registry.ServiceInstance{}, false
	}
	inst := a.instance
	inst.Metadata = make(map[string]string, len(a.instance.Metadata))
	for k, v := range a.instance.Metadata {
		inst.Metadata[k] = v
	}
	return inst, true
}
