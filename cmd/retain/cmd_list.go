package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/retainhq/retain/internal/models"
)

func listCmd() *cobra.Command {
	var (
		kind         string
		showArchived bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tracked concepts and flashcards",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			st, err := newStore(logger)
			if err != nil {
				return fmt.Errorf("list: opening store: %w", err)
			}
			defer func() { _ = st.Close() }()

			items, err := st.ListItems(ctx)
			if err != nil {
				return fmt.Errorf("list: fetching items: %w", err)
			}

			m := mastery()
			shown := 0
			for i := range items {
				it := &items[i]
				if kind != "" && string(it.Kind) != kind {
					continue
				}
				if it.Archived && !showArchived {
					continue
				}
				shown++
				fmt.Printf("[%d] [%s/%s] %s\n", shown, it.Kind, it.Status(m), truncate(it.Label, 80))
				fmt.Printf("    ID: %s | encounters: %d | relevance: %.2f | reps: %d\n",
					it.ID, it.Encounters, it.Relevance, it.SM2.Repetitions)
			}

			if shown == 0 {
				fmt.Println("No items found.")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", fmt.Sprintf("filter by kind (%s|%s)", models.KindConcept, models.KindFlashcard))
	cmd.Flags().BoolVar(&showArchived, "archived", false, "include archived items")
	return cmd
}
