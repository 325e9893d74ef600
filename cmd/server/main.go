// Package main is the entry point for the traffic audit service.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maasdash/trafficaudit/internal/aggregator"
	"github.com/maasdash/trafficaudit/internal/api"
	"github.com/maasdash/trafficaudit/internal/config"
	"github.com/maasdash/trafficaudit/internal/observability"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to configuration file; empty reads the environment only")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	var (
		cfgManager *config.Manager
		cfg        *config.Config
		err        error
	)
	bootLogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	if configPath != "" {
		cfgManager, err = config.NewManager(configPath, bootLogger)
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}
		defer cfgManager.Close()
		cfg = cfgManager.Get()
	} else {
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}
	}

	level := new(slog.LevelVar)
	level.Set(observability.ParseLevel(cfg.Logging.Level))
	logger := observability.NewLogger(observability.LoggerConfig{
		Level:      level,
		Output:     os.Stdout,
		JSONFormat: cfg.Logging.Format != "text",
	}, observability.NewRedactor())
	slog.SetDefault(logger.Slog())

	logger.Info("starting traffic audit service", "version", version)
	for _, w := range cfg.Warnings() {
		logger.Warn("config warning", "warning", w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := observability.InitTracing(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown error", "error", err)
		}
	}()

	engine, err := aggregator.FromConfig(cfg, logger, tp.Tracer())
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	if cfgManager != nil {
		reloader := newConfigReloader(logger.Slog(), level, engine)
		cfgManager.OnChange(reloader.Reload)
		if err := cfgManager.Watch(ctx); err != nil {
			logger.Warn("config hot-reload disabled", "error", err)
		}
	}

	handler := api.NewHandler(engine, cfgManager, logger.Slog())
	mux, err := buildMux(cfg, handler)
	if err != nil {
		return err
	}
	middleware, err := buildMiddlewareStack(cfg)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      middleware(mux),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	pollDone := make(chan struct{})
	go func() {
		defer close(pollDone)
		engine.Run(ctx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "port", cfg.Server.Port)
		for _, r := range api.Routes() {
			logger.Debug("route registered", "method", r.Method, "path", r.Path)
		}
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			stop()
			<-pollDone
			return fmt.Errorf("serve: %w", err)
		}
	}

	logger.Info("shutting down server...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	<-pollDone

	logger.Info("server stopped")
	return nil
}
