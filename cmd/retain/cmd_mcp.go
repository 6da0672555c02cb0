package main

import (
	"fmt"
	"log"
	"os"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	retainmcp "github.com/retainhq/retain/internal/mcp"
)

func mcpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server on stdio",
		Long:  "Runs a Model Context Protocol server over stdin/stdout exposing ingest_signal, add_card, review, due and stats tools.",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			st, err := newStore(logger)
			if err != nil {
				return fmt.Errorf("mcp: opening store: %w", err)
			}
			defer func() { _ = st.Close() }()

			engine, err := newEngine()
			if err != nil {
				return fmt.Errorf("mcp: %w", err)
			}

			res := newResolver(st, engine, logger)
			mgr := newReviewManager(st, engine, logger)
			q := newQuerier(st, logger)

			srv := retainmcp.NewServer(res, mgr, q, logger)

			logger.Info("MCP server starting on stdio")

			// Stdout carries the protocol, so mcp-go's own errors go to stderr.
			errLogger := log.New(os.Stderr, "mcp: ", log.LstdFlags)
			if err := mcpserver.ServeStdio(srv.MCPServer(), mcpserver.WithErrorLogger(errLogger)); err != nil {
				return fmt.Errorf("mcp: server error: %w", err)
			}
			return nil
		},
	}
	return cmd
}
