package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/retainhq/retain/internal/sm2"
)

func reviewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "review [item-id] [quality]",
		Short: "Record a review outcome (quality 0-5, below 3 is a failed recall)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			quality, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("review: quality must be an integer 0-5, got %q", args[1])
			}

			st, err := newStore(logger)
			if err != nil {
				return fmt.Errorf("review: opening store: %w", err)
			}
			defer func() { _ = st.Close() }()

			engine, err := newEngine()
			if err != nil {
				return fmt.Errorf("review: %w", err)
			}
			mgr := newReviewManager(st, engine, logger)

			result, err := mgr.Submit(ctx, args[0], sm2.Quality(quality), time.Now().UTC())
			if err != nil {
				return fmt.Errorf("review: %w", err)
			}

			s := result.Item.SM2
			fmt.Printf("Reviewed %s [%s]\n", result.Item.ID, result.Status)
			fmt.Printf("  interval: %.0fd | ease: %.2f | repetitions: %d\n", s.Interval, s.Ease, s.Repetitions)
			fmt.Printf("  next review: %s\n", s.NextReview.Local().Format(time.RFC1123))
			return nil
		},
	}
}
