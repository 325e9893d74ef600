package main

import (
	"io"
	"log/slog"
	"testing"

	"github.com/maasdash/trafficaudit/internal/config"
)

type recordingApplier struct {
	applied []*config.Config
}

func (r *recordingApplier) ApplyConfig(cfg *config.Config) {
	r.applied = append(r.applied, cfg)
}

func TestConfigReloader_AppliesLevelAndEngine(t *testing.T) {
	level := new(slog.LevelVar)
	engine := &recordingApplier{}
	reloader := newConfigReloader(slog.New(slog.NewTextHandler(io.Discard, nil)), level, engine)

	cfg := config.DefaultConfig()
	cfg.Logging.Level = "debug"
	reloader.Reload(cfg)

	if level.Level() != slog.LevelDebug {
		t.Fatalf("level = %v, want debug", level.Level())
	}
	if len(engine.applied) != 1 || engine.applied[0] != cfg {
		t.Fatalf("engine applied %d configs, want 1", len(engine.applied))
	}
}

func TestConfigReloader_SkipsWhenInProgress(t *testing.T) {
	engine := &recordingApplier{}
	reloader := newConfigReloader(nil, nil, engine)
	reloader.inProgress.Store(true)

	reloader.Reload(config.DefaultConfig())

	if len(engine.applied) != 0 {
		t.Fatalf("engine applied %d configs, want 0", len(engine.applied))
	}
}

func TestConfigReloader_NilConfig(t *testing.T) {
	engine := &recordingApplier{}
	newConfigReloader(nil, nil, engine).Reload(nil)
	if len(engine.applied) != 0 {
		t.Fatal("nil config must be ignored")
	}
}
