package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// signalLine is one JSONL record accepted on stdin by ingest --stdin.
// It mirrors the contract with upstream signal producers.
type signalLine struct {
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	Source     string    `json:"source"`
	Timestamp  time.Time `json:"timestamp"`
}

func ingestCmd() *cobra.Command {
	var (
		confidence float64
		source     string
		fromStdin  bool
	)

	cmd := &cobra.Command{
		Use:   "ingest [concept text]",
		Short: "Feed study-evidence signals into the concept resolver",
		Long: `Feeds one signal (text argument) or a JSONL stream (--stdin) into the
concept resolver. Matching signals merge into a single tracked concept;
rejected signals are reported and skipped.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			st, err := newStore(logger)
			if err != nil {
				return fmt.Errorf("ingest: opening store: %w", err)
			}
			defer func() { _ = st.Close() }()

			engine, err := newEngine()
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			res := newResolver(st, engine, logger)

			if !fromStdin {
				if len(args) != 1 {
					return errors.New("ingest: provide concept text or --stdin")
				}
				id, resolveErr := res.Resolve(ctx, args[0], confidence, source, time.Now().UTC())
				if resolveErr != nil {
					return fmt.Errorf("ingest: %w", resolveErr)
				}
				fmt.Printf("Resolved to concept %s\n", id)
				return nil
			}

			accepted, rejected := 0, 0
			scanner := bufio.NewScanner(os.Stdin)
			scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
			for scanner.Scan() {
				line := scanner.Bytes()
				if len(line) == 0 {
					continue
				}
				var sig signalLine
				if unmarshalErr := json.Unmarshal(line, &sig); unmarshalErr != nil {
					logger.Warn("ingest: skipping malformed line", "error", unmarshalErr)
					rejected++
					continue
				}
				if sig.Source == "" {
					sig.Source = source
				}
				now := sig.Timestamp
				if now.IsZero() {
					now = time.Now().UTC()
				}
				if _, resolveErr := res.Resolve(ctx, sig.Text, sig.Confidence, sig.Source, now); resolveErr != nil {
					logger.Debug("ingest: signal rejected", "reason", resolveErr, "text", truncate(sig.Text, 60))
					rejected++
					continue
				}
				accepted++
			}
			if scanErr := scanner.Err(); scanErr != nil {
				return fmt.Errorf("ingest: reading stdin: %w", scanErr)
			}

			fmt.Printf("Ingested %d signals (%d rejected)\n", accepted, rejected)
			return nil
		},
	}

	cmd.Flags().Float64Var(&confidence, "confidence", 1.0, "signal confidence 0.0-1.0")
	cmd.Flags().StringVar(&source, "source", "cli", "provenance tag for the signal")
	cmd.Flags().BoolVar(&fromStdin, "stdin", false, "read JSONL signals from stdin")
	return cmd
}
