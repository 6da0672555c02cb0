package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/retainhq/retain/internal/models"
)

// exportDump is the top-level shape written by the export command.
type exportDump struct {
	Items   []exportItem `json:"items"`
	History int          `json:"history_entries"`
}

type exportItem struct {
	models.Item
	Status  models.ItemStatus           `json:"status"`
	History []models.ReviewHistoryEntry `json:"history,omitempty"`
}

func exportCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export all items and review history as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			st, err := newStore(logger)
			if err != nil {
				return fmt.Errorf("export: opening store: %w", err)
			}
			defer func() { _ = st.Close() }()

			items, err := st.ListItems(ctx)
			if err != nil {
				return fmt.Errorf("export: listing items: %w", err)
			}

			m := mastery()
			dump := exportDump{Items: make([]exportItem, 0, len(items))}
			for i := range items {
				entries, histErr := st.HistoryForItem(ctx, items[i].ID, 0)
				if histErr != nil {
					return fmt.Errorf("export: history for %s: %w", items[i].ID, histErr)
				}
				dump.History += len(entries)
				dump.Items = append(dump.Items, exportItem{
					Item:    items[i],
					Status:  items[i].Status(m),
					History: entries,
				})
			}

			w := os.Stdout
			if output != "" && output != "-" {
				w, err = os.Create(output)
				if err != nil {
					return fmt.Errorf("export: creating output file: %w", err)
				}
				defer func() { _ = w.Close() }()
			}

			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			if encErr := enc.Encode(dump); encErr != nil {
				return fmt.Errorf("export: encoding JSON: %w", encErr)
			}

			if output != "" && output != "-" {
				fmt.Fprintf(os.Stderr, "Exported %d items to %s\n", len(dump.Items), output)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "-", "output file path (- for stdout)")
	return cmd
}
