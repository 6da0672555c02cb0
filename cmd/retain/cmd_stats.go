package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show collection statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			st, err := newStore(logger)
			if err != nil {
				return fmt.Errorf("stats: opening store: %w", err)
			}
			defer func() { _ = st.Close() }()

			q := newQuerier(st, logger)
			stats, err := q.Stats(ctx, time.Now().UTC())
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}

			fmt.Printf("Total items: %d\n\n", stats.Total)
			fmt.Printf("  %-10s %d\n", "new", stats.New)
			fmt.Printf("  %-10s %d\n", "active", stats.Active)
			fmt.Printf("  %-10s %d\n", "mastered", stats.Mastered)
			fmt.Printf("  %-10s %d\n", "archived", stats.Archived)
			fmt.Printf("\nDue now: %d\n", stats.DueToday)
			fmt.Printf("Reviews: %d (success rate %.0f%%)\n", stats.TotalReviews, stats.AverageSuccessRate*100)
			fmt.Printf("Streak: %d day(s)\n", stats.CurrentStreak)
			return nil
		},
	}
}
