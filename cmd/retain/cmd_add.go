package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func addCmd() *cobra.Command {
	var (
		answer   string
		tags     string
		priority int
	)

	cmd := &cobra.Command{
		Use:   "add [question]",
		Short: "Create a flashcard with a question/answer pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			if answer == "" {
				return fmt.Errorf("add: --answer is required")
			}

			st, err := newStore(logger)
			if err != nil {
				return fmt.Errorf("add: opening store: %w", err)
			}
			defer func() { _ = st.Close() }()

			engine, err := newEngine()
			if err != nil {
				return fmt.Errorf("add: %w", err)
			}
			mgr := newReviewManager(st, engine, logger)

			var tagList []string
			if tags != "" {
				tagList = strings.Split(tags, ",")
				for i := range tagList {
					tagList[i] = strings.TrimSpace(tagList[i])
				}
			}

			item, err := mgr.AddFlashcard(ctx, uuid.NewString(), args[0], answer, tagList, priority, time.Now().UTC())
			if err != nil {
				return fmt.Errorf("add: %w", err)
			}

			fmt.Printf("Created flashcard %s (due immediately)\n", item.ID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&answer, "answer", "a", "", "the answer side of the card (required)")
	cmd.Flags().StringVar(&tags, "tags", "", "comma-separated tags")
	cmd.Flags().IntVar(&priority, "priority", 0, "manual priority override")
	return cmd
}
