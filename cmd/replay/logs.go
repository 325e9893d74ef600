package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/maasdash/trafficaudit/internal/accesslog"
	"github.com/maasdash/trafficaudit/pkg/types"
)

func newLogsCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "logs FILE...",
		Short: "Reconstruct requests from proxy access log files",
		Long:  "Parse access log files (\"-\" reads stdin) and print one record per recognised line, newest first.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inferrer, _, err := flags.inferrer()
			if err != nil {
				return err
			}

			var raw []string
			for _, path := range args {
				data, err := readInput(cmd, path)
				if err != nil {
					return err
				}
				raw = append(raw, string(data))
			}

			// Parse sorts newest first across all inputs.
			entries := accesslog.Parse(strings.Join(raw, "\n"))
			records := inferrer.FromEntries(entries)
			if flags.limit > 0 && len(records) > flags.limit {
				records = records[:flags.limit]
			}
			if records == nil {
				records = []types.RequestRecord{}
			}
			return flags.write(cmd, records)
		},
	}
}
