package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the continuous quota-driven harvest loop",
	Long: `Run harvest cycles indefinitely, one per quota window, pacing each
cycle to the window length. Hourly windows reset per cycle; a day
rollover writes the daily report.

SIGINT or SIGTERM stops the loop gracefully: the cycle in flight
drains, its results are persisted, and cumulative statistics are
saved before exit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		err = a.sched.Run(ctx)
		a.printSummary()
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
