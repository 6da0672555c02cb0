package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func archiveCmd() *cobra.Command {
	var restore bool

	cmd := &cobra.Command{
		Use:   "archive [item-id]",
		Short: "Archive an item (or restore it with --restore)",
		Long: `Archiving removes an item from due-set queries while keeping its full
encounter and review history. Restore brings it back into rotation.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			st, err := newStore(logger)
			if err != nil {
				return fmt.Errorf("archive: opening store: %w", err)
			}
			defer func() { _ = st.Close() }()

			engine, err := newEngine()
			if err != nil {
				return fmt.Errorf("archive: %w", err)
			}
			mgr := newReviewManager(st, engine, logger)

			item, err := mgr.SetArchived(ctx, args[0], !restore, time.Now().UTC())
			if err != nil {
				return fmt.Errorf("archive: %w", err)
			}

			if restore {
				fmt.Printf("Restored %s\n", item.ID)
			} else {
				fmt.Printf("Archived %s\n", item.ID)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&restore, "restore", false, "unarchive instead of archive")
	return cmd
}
