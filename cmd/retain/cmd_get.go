package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func getCmd() *cobra.Command {
	var historyLimit int

	cmd := &cobra.Command{
		Use:   "get [item-id]",
		Short: "Show one item with its review history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			st, err := newStore(logger)
			if err != nil {
				return fmt.Errorf("get: opening store: %w", err)
			}
			defer func() { _ = st.Close() }()

			item, err := st.GetByID(ctx, args[0])
			if err != nil {
				return fmt.Errorf("get: %w", err)
			}

			fmt.Printf("%s [%s/%s]\n", item.Label, item.Kind, item.Status(mastery()))
			fmt.Printf("  ID: %s\n", item.ID)
			if item.CanonicalKey != "" {
				fmt.Printf("  Key: %s\n", item.CanonicalKey)
			}
			if item.Question != "" {
				fmt.Printf("  Q: %s\n  A: %s\n", item.Question, item.Answer)
			}
			fmt.Printf("  Encounters: %d | Relevance: %.2f | Priority: %d\n",
				item.Encounters, item.Relevance, item.Priority)
			fmt.Printf("  SM-2: interval %.0fd, ease %.2f, reps %d, next %s\n",
				item.SM2.Interval, item.SM2.Ease, item.SM2.Repetitions,
				item.SM2.NextReview.Local().Format(time.RFC1123))

			entries, err := st.HistoryForItem(ctx, item.ID, historyLimit)
			if err != nil {
				return fmt.Errorf("get: fetching history: %w", err)
			}
			if len(entries) > 0 {
				fmt.Println("\nHistory (newest first):")
				for _, e := range entries {
					fmt.Printf("  %s  q=%d  %.0fd/%.2f/%d -> %.0fd/%.2f/%d\n",
						e.ReviewedAt.Local().Format("2006-01-02 15:04"),
						e.Quality,
						e.Before.Interval, e.Before.Ease, e.Before.Repetitions,
						e.After.Interval, e.After.Ease, e.After.Repetitions)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&historyLimit, "history", 10, "max history entries (0 = all)")
	return cmd
}
