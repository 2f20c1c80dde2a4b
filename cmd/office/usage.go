package main

import (
	"fmt"

	"github.com/dotagent/office/internal/config"
	"github.com/dotagent/office/internal/telegram"
	"github.com/dotagent/office/internal/usage"
	"github.com/spf13/cobra"
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show usage recorded in the stats file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		tracker := usage.NewTracker(cfg.Usage.StatsFile)
		if err := tracker.Load(); err != nil {
			return fmt.Errorf("load usage: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, telegram.FormatUsage(tracker.SessionStats(), tracker.DailyStats()))
		for _, w := range tracker.CheckLimits(cfg.Usage.MaxCallsPerDay, cfg.Usage.MaxTokensPerDay).Warnings {
			fmt.Fprintf(out, "WARNING: %s\n", w)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(usageCmd)
}
