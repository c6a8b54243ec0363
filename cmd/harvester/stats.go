package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"harvester/pkg/config"
	"harvester/pkg/stats"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print cumulative harvest statistics across all runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}

		store, err := stats.OpenStore(cfg.Storage.StatsPath)
		if err != nil {
			return err
		}
		defer store.Close()

		counters, lastRun, err := store.Cumulative()
		if err != nil {
			return err
		}
		if len(counters) == 0 {
			fmt.Println("no runs recorded yet")
			return nil
		}

		fmt.Println("cumulative harvest statistics")
		if !lastRun.IsZero() {
			fmt.Printf("  last run: %s\n", lastRun.Format("2006-01-02 15:04:05 MST"))
		}

		keys := make([]string, 0, len(counters))
		for k := range counters {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, section := range []struct {
			title  string
			prefix string
		}{
			{"totals", ""},
			{"per source", "source:"},
			{"outcomes", "outcome:"},
			{"errors", "error:"},
			{"windows met", "windows_met:"},
			{"windows missed", "windows_missed:"},
		} {
			printed := false
			for _, k := range keys {
				if section.prefix == "" {
					if strings.Contains(k, ":") {
						continue
					}
				} else if !strings.HasPrefix(k, section.prefix) {
					continue
				}
				if !printed {
					fmt.Printf("\n%s:\n", section.title)
					printed = true
				}
				fmt.Printf("  %-24s %d\n", strings.TrimPrefix(k, section.prefix), counters[k])
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
