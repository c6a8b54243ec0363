package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var testMinutes int

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Run the harvest loop for a fixed number of minutes",
	Long: `Run the normal harvest loop under a deadline. Useful for validating
credentials, proxies and source endpoints before committing to a
long-running deployment.`,
	Example: `  # Five-minute shakedown
  harvester test --minutes 5`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		ctx, cancel := context.WithTimeout(ctx, time.Duration(testMinutes)*time.Minute)
		defer cancel()

		err = a.sched.Run(ctx)
		a.printSummary()
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(testCmd)
	testCmd.Flags().IntVar(&testMinutes, "minutes", 5, "how long to run")
}
