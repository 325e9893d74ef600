package aggregator

import (
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/maasdash/trafficaudit/internal/config"
	"github.com/maasdash/trafficaudit/internal/fetcher"
	"github.com/maasdash/trafficaudit/internal/inference"
	"github.com/maasdash/trafficaudit/internal/metrics"
	"github.com/maasdash/trafficaudit/internal/observability"
	"github.com/maasdash/trafficaudit/internal/pricing"
	"github.com/maasdash/trafficaudit/internal/reconcile"
	"github.com/maasdash/trafficaudit/internal/resilience"
	"github.com/maasdash/trafficaudit/internal/seed"
	"github.com/maasdash/trafficaudit/internal/telemetry"
	"github.com/maasdash/trafficaudit/internal/window"
	"github.com/maasdash/trafficaudit/pkg/types"
)

// OptionsFromConfig extracts the scheduling options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		PollInterval: cfg.Poll.Interval,
		StaleAfter:   cfg.Poll.StaleAfter,
		RefreshRate:  rate.Limit(cfg.Poll.RefreshRate),
		RefreshBurst: cfg.Poll.RefreshBurst,
	}
}

// InferrerFromConfig builds the inferrer with the configured price table
// layered over the defaults.
func InferrerFromConfig(cfg *config.Config) *inference.Inferrer {
	calc := pricing.NewCalculator(nil)
	for _, p := range cfg.Pricing {
		calc.AddPricing(p)
	}
	return inference.New(inference.Options{
		DefaultModel:        cfg.Synthesis.DefaultModel,
		DefaultTeam:         cfg.Synthesis.DefaultTeam,
		TierPrefix:          cfg.Synthesis.TierPrefix,
		Teams:               cfg.Synthesis.Teams,
		BytesPerToken:       cfg.Synthesis.BytesPerToken,
		DefaultInputTokens:  cfg.Synthesis.DefaultInputTokens,
		DefaultOutputTokens: cfg.Synthesis.DefaultOutputTokens,
		MaxBatch:            cfg.Synthesis.MaxBatch,
	}, calc)
}

// FetchersFromConfig builds one fetcher per enabled source.
func FetchersFromConfig(cfg *config.Config) ([]fetcher.Fetcher, error) {
	var fetchers []fetcher.Fetcher

	if src := cfg.Sources.Log; src.Enabled {
		fetchers = append(fetchers, fetcher.NewLogFetcher(src.Location, src.TailBytes, fetcher.HTTPOptions{
			BearerToken: src.BearerToken,
		}))
	}

	metricSources := []struct {
		kind types.SourceKind
		cfg  config.MetricSourceConfig
	}{
		{types.SourceMesh, cfg.Sources.Gateway},
		{types.SourceRateLimiter, cfg.Sources.Counter},
		{types.SourceAuthService, cfg.Sources.Auth},
	}
	for _, ms := range metricSources {
		if !ms.cfg.Enabled {
			continue
		}
		opts := fetcher.HTTPOptions{
			BearerToken:  ms.cfg.BearerToken,
			Headers:      ms.cfg.Headers,
			MaxBodyBytes: ms.cfg.MaxBodyBytes,
		}
		switch ms.cfg.Mode {
		case config.ModeScrape:
			fetchers = append(fetchers, fetcher.NewScrapeFetcher(ms.kind, ms.cfg.URL, opts))
		case config.ModeQuery:
			fetchers = append(fetchers, fetcher.NewQueryFetcher(ms.kind, ms.cfg.URL, ms.cfg.Queries, opts))
		default:
			return nil, fmt.Errorf("source %s: unknown mode %q", ms.kind, ms.cfg.Mode)
		}
	}
	return fetchers, nil
}

// FromConfig wires a complete engine from configuration.
func FromConfig(cfg *config.Config, logger *observability.Logger, tracer trace.Tracer) (*Engine, error) {
	if logger == nil {
		logger = observability.Discard()
	}

	fetchers, err := FetchersFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	breakers := resilience.NewSet(cfg.CircuitBreaker, breakerObserver(logger.Slog()))
	runner := fetcher.NewRunner(fetcher.RunnerOptions{
		Timeout:  cfg.Poll.FetchTimeout,
		Breakers: breakers,
		Logger:   logger,
		Tracer:   tracer,
	})

	inferrer := InferrerFromConfig(cfg)

	var seeder seed.Provider = seed.None{}
	if cfg.Seed.Enabled {
		seeder = seed.NewIllustrative(inferrer)
	}

	return New(OptionsFromConfig(cfg), Deps{
		Fetchers:   fetchers,
		Runner:     runner,
		Registry:   telemetry.DefaultRegistry(cfg.Sources.Auth.RateWindow),
		Inferrer:   inferrer,
		Reconciler: reconcile.New(inferrer, reconcile.Options{InitialBackfill: cfg.Synthesis.InitialBackfill, Logger: logger}),
		Window:     window.New(window.Options{Size: cfg.Window.Size, MaxAge: cfg.Window.MaxAge}),
		Seed:       seeder,
		Logger:     logger,
		Tracer:     tracer,
	}), nil
}

// ApplyConfig applies the parts of a reloaded configuration that can change
// at runtime: scheduling and window bounds. Source and synthesis changes need
// a restart.
func (e *Engine) ApplyConfig(cfg *config.Config) {
	e.SetOptions(OptionsFromConfig(cfg))
	e.window.Resize(window.Options{Size: cfg.Window.Size, MaxAge: cfg.Window.MaxAge})
	metrics.WindowRecords.Set(float64(e.window.Len()))
}

func breakerObserver(logger *slog.Logger) resilience.StateChangeFunc {
	return func(source types.SourceKind, from, to resilience.State) {
		metrics.SetBreakerState(source, int(to))
		logger.Warn("circuit breaker state changed",
			"source", string(source),
			"from", from.String(),
			"to", to.String(),
		)
	}
}
