package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/maasdash/trafficaudit/internal/reconcile"
	"github.com/maasdash/trafficaudit/internal/telemetry"
	"github.com/maasdash/trafficaudit/pkg/types"
)

type metricsFlags struct {
	source   string
	start    string
	step     time.Duration
	backfill int
	summary  bool
}

// snapshotSummary describes what one captured file contributed.
type snapshotSummary struct {
	File    string `json:"file"`
	Outcome string `json:"outcome"`
	Added   int    `json:"added"`
	Dropped int64  `json:"dropped"`
}

type metricsOutput struct {
	Snapshots []snapshotSummary     `json:"snapshots"`
	Records   []types.RequestRecord `json:"requests"`
}

func newMetricsCmd(root *rootFlags) *cobra.Command {
	flags := &metricsFlags{}

	cmd := &cobra.Command{
		Use:   "metrics SNAPSHOT...",
		Short: "Synthesize requests from successive metrics snapshots",
		Long: "Parse metrics snapshots of one source in the given order and print the requests " +
			"synthesized from the counter deltas between them. Snapshots may be text exposition " +
			"or query API vector responses.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMetrics(cmd, args, root, flags)
		},
	}

	cmd.Flags().StringVarP(&flags.source, "source", "s", string(types.SourceRateLimiter),
		"Source kind of the snapshots: rate-limiter, mesh or auth-service")
	cmd.Flags().StringVar(&flags.start, "start", "", "Capture time of the first snapshot (RFC 3339, default now)")
	cmd.Flags().DurationVar(&flags.step, "step", 30*time.Second, "Time between successive snapshots")
	cmd.Flags().IntVar(&flags.backfill, "backfill", 0, "Records synthesized from the first snapshot's totals")
	cmd.Flags().BoolVar(&flags.summary, "summary", false, "Include a per-snapshot summary in the output")
	return cmd
}

func runMetrics(cmd *cobra.Command, args []string, root *rootFlags, flags *metricsFlags) error {
	kind := types.SourceKind(flags.source)
	switch kind {
	case types.SourceRateLimiter, types.SourceMesh, types.SourceAuthService:
	default:
		return fmt.Errorf("unsupported source %q", flags.source)
	}
	if flags.step <= 0 {
		return fmt.Errorf("step must be positive, got %s", flags.step)
	}

	start := time.Now().UTC()
	if flags.start != "" {
		parsed, err := time.Parse(time.RFC3339, flags.start)
		if err != nil {
			return fmt.Errorf("parse start: %w", err)
		}
		start = parsed
	}

	inferrer, cfg, err := root.inferrer()
	if err != nil {
		return err
	}
	registry := telemetry.DefaultRegistry(cfg.Sources.Auth.RateWindow)
	reconciler := reconcile.New(inferrer, reconcile.Options{InitialBackfill: flags.backfill})

	out := metricsOutput{
		Snapshots: make([]snapshotSummary, 0, len(args)),
		Records:   []types.RequestRecord{},
	}
	for i, path := range args {
		raw, err := readInput(cmd, path)
		if err != nil {
			return err
		}
		at := start.Add(time.Duration(i) * flags.step)

		snap, err := registry.Parse(kind, raw, at)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}

		res := reconciler.Reconcile(kind, snap, at)
		added := 0
		if res.Outcome == reconcile.OutcomeDelta || res.Outcome == reconcile.OutcomeBaseline {
			added = len(res.Records)
			out.Records = append(append([]types.RequestRecord(nil), res.Records...), out.Records...)
		}
		out.Snapshots = append(out.Snapshots, snapshotSummary{
			File:    path,
			Outcome: res.Outcome.String(),
			Added:   added,
			Dropped: res.Dropped,
		})
	}

	if root.limit > 0 && len(out.Records) > root.limit {
		out.Records = out.Records[:root.limit]
	}
	if flags.summary {
		return root.write(cmd, out)
	}
	return root.write(cmd, out.Records)
}
