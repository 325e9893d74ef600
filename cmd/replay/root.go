package main

import (
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/maasdash/trafficaudit/internal/aggregator"
	"github.com/maasdash/trafficaudit/internal/config"
	"github.com/maasdash/trafficaudit/internal/inference"
)

type rootFlags struct {
	configPath string
	pretty     bool
	limit      int
}

func newRootCmd(out io.Writer) *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:          "replay",
		Short:        "Reconstruct gateway requests from captured telemetry",
		Long:         "Run the access log and metrics parsers over captured files and print the request records the service would serve.",
		SilenceUsage: true,
	}
	root.SetOut(out)

	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Config file for synthesis and pricing settings")
	root.PersistentFlags().BoolVar(&flags.pretty, "pretty", false, "Indent JSON output")
	root.PersistentFlags().IntVarP(&flags.limit, "limit", "n", 0, "Print at most this many records, newest first")

	root.AddCommand(newLogsCmd(flags), newMetricsCmd(flags))
	return root
}

// loadConfig reads the config file when one was given, otherwise the
// defaults plus environment overrides.
func (f *rootFlags) loadConfig() (*config.Config, error) {
	if f.configPath == "" {
		return config.Load()
	}
	return config.LoadFromFile(f.configPath)
}

func (f *rootFlags) inferrer() (*inference.Inferrer, *config.Config, error) {
	cfg, err := f.loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	return aggregator.InferrerFromConfig(cfg), cfg, nil
}

func (f *rootFlags) write(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	if f.pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

// readInput reads a file, or stdin for "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}
