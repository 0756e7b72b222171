package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/amonks/workcache/cleanup"
	"github.com/amonks/workcache/workspace"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Delete workspaces and history records that have not been used recently",
	Args:  cobra.NoArgs,
	RunE:  runGC,
}

var (
	gcRetention       string
	gcMetricsTextfile string
)

func init() {
	rootCmd.AddCommand(gcCmd)
	gcCmd.Flags().StringVar(&gcRetention, "retention", "", "Delete entries unused for longer than this (e.g. 7d, 12h)")
	gcCmd.Flags().StringVar(&gcMetricsTextfile, "metrics-textfile", "", "Write Prometheus metrics to this file")
}

type gcOutcome struct {
	name   string
	result cleanup.Result
	busy   bool
}

func runGC(cmd *cobra.Command, args []string) error {
	var opts openOptions
	if gcRetention != "" {
		retention, err := cleanup.ParseDuration(gcRetention)
		if err != nil {
			return fmt.Errorf("invalid --retention: %w", err)
		}
		if retention == 0 {
			return fmt.Errorf("invalid --retention: must be positive")
		}
		opts.retention = retention
	}

	env, err := openCache(cmd.Context(), opts)
	if err != nil {
		return err
	}
	defer env.Close()

	outcomes := []gcOutcome{{name: "workspaces"}, {name: "history"}}
	passes := []func() (cleanup.Result, error){
		func() (cleanup.Result, error) { return env.provider.Cleanup(cmd.Context()) },
		func() (cleanup.Result, error) { return env.provider.CleanupHistory(cmd.Context()) },
	}

	var g errgroup.Group
	for i, pass := range passes {
		g.Go(func() error {
			res, err := pass()
			if errors.Is(err, workspace.ErrBusy) {
				outcomes[i].busy = true
				return nil
			}
			if err != nil {
				return fmt.Errorf("clean %s: %w", outcomes[i].name, err)
			}
			outcomes[i].result = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	writeGCOutcomes(cmd.OutOrStdout(), outcomes)

	if gcMetricsTextfile != "" {
		if err := prometheus.WriteToTextfile(gcMetricsTextfile, env.registry); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	return nil
}

func writeGCOutcomes(w io.Writer, outcomes []gcOutcome) {
	for _, o := range outcomes {
		if o.busy {
			fmt.Fprintf(w, "%s: skipped, cache in use\n", o.name)
			continue
		}
		fmt.Fprintf(w, "%s: scanned %d, deleted %d, skipped %d, failed %d\n",
			o.name, o.result.Scanned, o.result.Deleted, o.result.Skipped, o.result.Failed)
	}
}
