package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/retainhq/retain/internal/config"
	"github.com/retainhq/retain/internal/models"
	"github.com/retainhq/retain/internal/normalize"
	"github.com/retainhq/retain/internal/query"
	"github.com/retainhq/retain/internal/resolver"
	"github.com/retainhq/retain/internal/review"
	"github.com/retainhq/retain/internal/sm2"
	"github.com/retainhq/retain/internal/store"
)

var cfg *config.Config

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	rootCmd := &cobra.Command{
		Use:   "retain",
		Short: "Spaced-repetition engine for study evidence",
		Long:  "Retain turns noisy study-evidence signals and manual flashcards into a durable set of reviewable knowledge items scheduled with SM-2.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			return nil
		},
	}

	rootCmd.AddCommand(
		ingestCmd(),
		addCmd(),
		reviewCmd(),
		dueCmd(),
		statsCmd(),
		listCmd(),
		getCmd(),
		archiveCmd(),
		exportCmd(),
		serveCmd(),
		mcpCmd(),
	)

	rootCmd.SetContext(ctx)

	err := rootCmd.Execute()
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if cfg != nil && cfg.Logging.Level == "debug" {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg != nil && cfg.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func newStore(logger *slog.Logger) (store.Store, error) {
	return store.NewSQLiteStore(cfg.Store.Path, cfg.Store.LockTimeout(), logger)
}

func newEngine() (*sm2.Engine, error) {
	return sm2.New(sm2.Params{EaseMin: cfg.SM2.EaseMin, EaseMax: cfg.SM2.EaseMax})
}

func mastery() models.MasteryThresholds {
	return models.MasteryThresholds{
		IntervalDays: cfg.SM2.MasteryIntervalDays,
		MinReps:      cfg.SM2.MasteryMinReps,
	}
}

func newResolver(st store.Store, engine *sm2.Engine, logger *slog.Logger) *resolver.Resolver {
	norm := normalize.New(cfg.Resolver.AllowedPunct)
	return resolver.New(st, norm, engine, resolver.Config{
		Alpha:           cfg.Resolver.RelevanceAlpha,
		ConfidenceFloor: cfg.Resolver.ConfidenceFloor,
		MinKeyLen:       cfg.Resolver.MinKeyLen,
		MaxKeyLen:       cfg.Resolver.MaxKeyLen,
		Denylist:        cfg.Resolver.Denylist,
	}, logger)
}

func newReviewManager(st store.Store, engine *sm2.Engine, logger *slog.Logger) *review.Manager {
	return review.NewManager(st, engine, mastery(), logger)
}

func newQuerier(st store.Store, logger *slog.Logger) *query.Querier {
	return query.New(st, mastery(), cfg.Store.DefaultDueLimit, logger)
}

func truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen]) + "..."
	}
	return s
}
