package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rskv-p/toposcan/internal/profiler"
)

var profileShowRunID string

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Inspect a -p profiler database",
}

var profileShowCmd = &cobra.Command{
	Use:   "show PROFILE_PATH",
	Short: "Print recorded round samples",
	Args: func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(1)(cmd, args); err != nil {
			return &usageError{err: err}
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := profiler.Open(args[0], "", zerolog.Nop(), "")
		if err != nil {
			return fmt.Errorf("profile show: %w", err)
		}
		defer p.Close()

		samples, err := p.Show(context.Background(), profileShowRunID)
		if err != nil {
			return fmt.Errorf("profile show: %w", err)
		}
		for _, s := range samples {
			fmt.Printf("%-12s run=%-10s rank=%-3d round=%-4d not_done=%-4d resident=%-4d evictions=%-6d loads=%-6d %6dms\n",
				s.Component, s.RunID, s.Rank, s.Round, s.NotDone, s.Resident, s.Evictions, s.Loads, s.DurationMS)
		}
		return nil
	},
}

func init() {
	profileCmd.AddCommand(profileShowCmd)
	profileShowCmd.Flags().StringVar(&profileShowRunID, "run", "", "filter to one run id (default: all runs)")
}
