package main

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/isdmx/safeeval/config"
	"github.com/isdmx/safeeval/evaluation"
	"github.com/isdmx/safeeval/httpserver"
	"github.com/isdmx/safeeval/logger"
	"github.com/isdmx/safeeval/mcpserver"
	"github.com/isdmx/safeeval/metrics"
	"github.com/isdmx/safeeval/sandbox"
	"github.com/isdmx/safeeval/workspace"
)

func main() {
	app := fx.New(
		// Provide dependencies
		fx.Provide(
			// Config
			config.New,

			// Logger with configuration
			logger.NewFromConfig,

			metrics.New,

			// Container runtime based on sandbox.backend
			sandbox.NewRuntime,

			newWorkspaceManager,
			newLauncher,
			newCollector,
			newEvaluator,

			httpserver.New,
			mcpserver.New,
		),

		fx.Invoke(registerRuntime, registerHTTP, registerMCP),

		// Use the application logger for fx logs
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)

	// Start the application
	app.Run()
}

func newWorkspaceManager(cfg *config.Config, log *zap.Logger, m *metrics.Metrics) *workspace.Manager {
	return workspace.NewManager(log, cfg.Sandbox.WorkspaceRoot, workspace.WithCleanupObserver(m))
}

func newLauncher(cfg *config.Config, log *zap.Logger, rt sandbox.Runtime) *sandbox.Launcher {
	return sandbox.NewLauncher(log, rt, cfg.Sandbox.Image)
}

func newCollector(log *zap.Logger, rt sandbox.Runtime, m *metrics.Metrics) *sandbox.Collector {
	return sandbox.NewCollector(log, rt, sandbox.WithRunObserver(m))
}

func newEvaluator(cfg *config.Config, log *zap.Logger, ws *workspace.Manager,
	l *sandbox.Launcher, c *sandbox.Collector, m *metrics.Metrics) *evaluation.Evaluator {
	return evaluation.New(log, ws, l, c, cfg.GetTimeout(), evaluation.WithObserver(m))
}

func registerRuntime(lc fx.Lifecycle, log *zap.Logger, rt sandbox.Runtime) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			// An unreachable daemon is not fatal; /healthz reports it.
			if _, err := rt.Ping(ctx); err != nil {
				log.Warn("container runtime is not reachable", zap.Error(err))
			}
			return nil
		},
		OnStop: func(context.Context) error {
			return rt.Close()
		},
	})
}

func registerHTTP(lc fx.Lifecycle, srv *httpserver.Server) {
	lc.Append(fx.Hook{
		OnStart: srv.Start,
		OnStop:  srv.Shutdown,
	})
}

func registerMCP(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger, srv *mcpserver.MCPServer,
	shutdowner fx.Shutdowner) {
	if !cfg.MCP.Enabled {
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				var err error
				switch cfg.MCP.Transport {
				case "stdio":
					err = srv.ServeStdio()
				case "http":
					err = srv.ServeHTTP()
				}
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("MCP server stopped", zap.Error(err))
					_ = shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: srv.Shutdown,
	})
}
