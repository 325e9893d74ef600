package main

import (
	"log/slog"
	"sync/atomic"

	"github.com/maasdash/trafficaudit/internal/config"
	"github.com/maasdash/trafficaudit/internal/observability"
)

type configApplier interface {
	ApplyConfig(*config.Config)
}

// configReloader applies the runtime-adjustable parts of a reloaded config:
// the log level and the engine's scheduling and window bounds.
type configReloader struct {
	logger     *slog.Logger
	level      *slog.LevelVar
	engine     configApplier
	inProgress atomic.Bool
}

func newConfigReloader(logger *slog.Logger, level *slog.LevelVar, engine configApplier) *configReloader {
	if logger == nil {
		logger = slog.Default()
	}
	return &configReloader{
		logger: logger,
		level:  level,
		engine: engine,
	}
}

func (r *configReloader) Reload(cfg *config.Config) {
	if cfg == nil {
		return
	}
	if !r.inProgress.CompareAndSwap(false, true) {
		r.logger.Warn("config reload already in progress")
		return
	}
	defer r.inProgress.Store(false)

	if r.level != nil {
		r.level.Set(observability.ParseLevel(cfg.Logging.Level))
	}
	if r.engine != nil {
		r.engine.ApplyConfig(cfg)
	}
	for _, w := range cfg.Warnings() {
		r.logger.Warn("config warning", "warning", w)
	}

	r.logger.Info("config applied",
		"poll_interval", cfg.Poll.Interval,
		"window_size", cfg.Window.Size,
		"log_level", cfg.Logging.Level,
	)
}
