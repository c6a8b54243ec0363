package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var harvestCount int

var harvestCmd = &cobra.Command{
	Use:   "harvest",
	Short: "Run one harvest cycle against every source",
	Long: `Run a single harvest cycle: each source is asked for up to --count
newly persisted items, then the process exits. Replayed items already
in the archive do not count toward the target.`,
	Example: `  # One pass, up to 100 new items per source
  harvester harvest --count 100`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a.sched.SetCycleTargets(harvestCount)
		a.sched.RunCycle(ctx)
		a.printSummary()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(harvestCmd)
	harvestCmd.Flags().IntVar(&harvestCount, "count", 100, "new items to collect per source")
}
