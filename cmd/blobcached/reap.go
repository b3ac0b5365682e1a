package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/sagarc03/blobcache/config"
	"github.com/sagarc03/blobcache/reaper/expiry"
)

var (
	reapDryRun    bool
	reapBatchSize int
	reapOlderThan string
)

var reapCmd = &cobra.Command{
	Use:   "reap",
	Short: "Run one on-demand expiry reaper pass",
	RunE:  runReap,
}

func init() {
	reapCmd.Flags().BoolVar(&reapDryRun, "dry-run", false, "log candidates without deleting them")
	reapCmd.Flags().IntVar(&reapBatchSize, "batch-size", 100, "page size for the expiry sweep; with --older-than, maximum records to delete")
	reapCmd.Flags().StringVar(&reapOlderThan, "older-than", "", "delete records uploaded before this RFC3339 timestamp, regardless of TTL")
	rootCmd.AddCommand(reapCmd)
}

func runReap(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := config.FromContext(ctx)
	if err != nil {
		return err
	}

	engine, closeEngine, err := buildEngine(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer closeEngine()

	r := expiry.New(engine, expiry.Config{
		BatchSize: reapBatchSize,
		DryRun:    reapDryRun,
	})

	if reapOlderThan != "" {
		cutoff, err := time.Parse(time.RFC3339, reapOlderThan)
		if err != nil {
			return fmt.Errorf("parse --older-than: %w", err)
		}
		deleted, err := r.SweepOlderThan(ctx, cutoff, reapBatchSize)
		if err != nil {
			return fmt.Errorf("sweep older than: %w", err)
		}
		slog.Info("reap complete", "deleted", deleted, "older_than", cutoff)
		return nil
	}

	if err := r.Sweep(ctx); err != nil {
		return fmt.Errorf("sweep: %w", err)
	}

	stats := r.Stats()
	slog.Info("reap complete", "deleted", stats.TotalDeleted, "errors", stats.TotalErrors)
	return nil
}
