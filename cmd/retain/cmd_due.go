package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func dueCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "due",
		Short: "List items due for review, oldest overdue first",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			st, err := newStore(logger)
			if err != nil {
				return fmt.Errorf("due: opening store: %w", err)
			}
			defer func() { _ = st.Close() }()

			q := newQuerier(st, logger)
			now := time.Now().UTC()

			items, err := q.Due(ctx, now, limit)
			if err != nil {
				return fmt.Errorf("due: %w", err)
			}

			if len(items) == 0 {
				fmt.Println("Nothing due. Come back later.")
				return nil
			}

			for i := range items {
				it := &items[i]
				overdue := now.Sub(it.SM2.NextReview).Round(time.Minute)
				fmt.Printf("[%d] %s [%s]\n", i+1, truncate(it.Label, 80), it.Kind)
				fmt.Printf("    ID: %s | overdue: %s | reps: %d | ease: %.2f\n",
					it.ID, overdue, it.SM2.Repetitions, it.SM2.Ease)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", -1, "max items (-1 = configured default)")
	return cmd
}
