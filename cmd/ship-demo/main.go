// Command ship-demo is a small echo application that registers its own routes with the
// naming service and the admin backend, and withdraws from the admin on shutdown.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"ship-client/admin"
	"ship-client/agent"
	"ship-client/config"
	"ship-client/lifecycle"
	"ship-client/registry"
	"ship-client/route"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/labstack/echo/v4"
)

func main() {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = log.WithPrefix(logger, "ts", log.DefaultTimestampUTC)
	logger = log.WithPrefix(logger, "caller", log.DefaultCaller)

	if err := run(logger); err != nil {
		level.Error(logger).Log("msg", "ship-demo stopped with error", "err", err)
		os.Exit(1)
	}
}

func run(logger log.Logger) error {
	level.Info(logger).Log("msg", "Starting ship-demo")

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	level.Info(logger).Log(
		"msg", "Configuration loaded",
		"port", cfg.Port,
		"context_path", cfg.ContextPath,
		"app", cfg.AppName,
		"version", cfg.Version,
		"admin_url", cfg.AdminURL,
		"naming_backend", cfg.Naming.Backend,
	)

	scope := lifecycle.NewScope(logger)

	reg, err := newRegistry(*cfg, logger)
	if err != nil {
		return fmt.Errorf("connect naming service: %w", err)
	}
	if err := scope.OnShutdown("naming-registry", func(context.Context) error { return reg.Close() }); err != nil {
		return err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	agentCfg := *cfg
	agentCfg.IgnorePaths = demoIgnorePaths(cfg.IgnorePaths)
	ag, err := agent.New(agentCfg, reg, route.EchoRoutes(e), admin.NewClient(cfg.AdminURL, cfg.NotifyTimeout), scope, logger)
	if err != nil {
		return err
	}
	registerHandlers(e, cfg, ag)

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	e.Listener = ln

	serveErr := make(chan error, 1)
	go func() {
		level.Info(logger).Log("msg", "Starting HTTP server", "addr", ln.Addr().String())
		if err := e.Start(""); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
		close(serveErr)
	}()

	ctx, stop := lifecycle.NotifyContext(context.Background())
	defer stop()

	// The listener is bound, so the route table is final and requests can be served.
	if err := ag.OnReady(ctx); err != nil {
		level.Error(logger).Log("msg", "Self registration failed", "err", err)
		shutdown(e, scope, logger)
		return err
	}
	go func() {
		if err := ag.Wait(ctx); err != nil {
			level.Warn(logger).Log("msg", "Some naming service registrations failed", "err", err)
			return
		}
		names := ag.ServiceNames()
		level.Info(logger).Log("msg", "All naming service registrations done", "count", len(names))
		if inst, ok := ag.Instance(); ok {
			checkVisible(ctx, reg, names, inst.Addr(), logger)
		}
	}()

	select {
	case <-ctx.Done():
		level.Info(logger).Log("msg", "Shutting down...")
	case err := <-serveErr:
		if err != nil {
			level.Error(logger).Log("msg", "HTTP server error", "err", err)
		}
	}

	shutdown(e, scope, logger)
	level.Info(logger).Log("msg", "ship-demo stopped")
	return nil
}

// shutdown runs the scope teardown (admin unregister, registration pool, naming
// registry) and then stops the HTTP server.
func shutdown(e *echo.Echo, scope *lifecycle.Scope, logger log.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = scope.Shutdown(ctx)
	if err := e.Shutdown(ctx); err != nil {
		level.Error(logger).Log("msg", "Error during server shutdown", "err", err)
	}
}

// checkVisible looks every registered service name up again and reports how many of them
// already resolve to addr.
func checkVisible(ctx context.Context, reg registry.Registry, names []string, addr string, logger log.Logger) int {
	visible := 0
	for _, name := range names {
		instances, err := reg.Discover(ctx, name)
		if err != nil {
			level.Warn(logger).Log("msg", "Discover failed", "service", name, "err", err)
			continue
		}
		for _, inst := range instances {
			if inst.Addr() == addr {
				visible++
				break
			}
		}
	}
	lvl := level.Info
	if visible < len(names) {
		lvl = level.Warn
	}
	lvl(logger).Log("msg", "Naming service visibility", "visible", visible, "registered", len(names), "addr", addr)
	return visible
}

func newRegistry(cfg config.Config, logger log.Logger) (registry.Registry, error) {
	if err := cfg.Naming.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Naming.Backend {
	case config.BackendRedis:
		client, err := registry.NewRedisUniversalClient(cfg.Naming.RedisAddr)
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, err
		}
		return registry.NewRedisRegistry(client, cfg.Naming.Prefix, cfg.Naming.TTL, logger), nil
	default:
		return registry.NewEtcdRegistry(cfg.Naming.EtcdEndpoints, cfg.Naming.Prefix, cfg.Naming.TTL, logger)
	}
}
