// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QRTrace Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/qrtrace/qrtrace/internal/adminapi"
	"github.com/qrtrace/qrtrace/internal/config"
	"github.com/qrtrace/qrtrace/internal/logging"
	"github.com/qrtrace/qrtrace/internal/logstore"
	"github.com/qrtrace/qrtrace/internal/retention"
)

// cleanupConfig holds configuration for the cleanup command.
type cleanupConfig struct {
	before  string
	types   []string
	levels  []string
	dryRun  bool
	adminID string
}

// manual reports whether any selection flag was given. Without a
// selection the command runs the retention policy instead.
func (cfg *cleanupConfig) manual() bool {
	return cfg.before != "" || len(cfg.types) > 0 || len(cfg.levels) > 0
}

func (cfg *cleanupConfig) criteria() (logstore.Criteria, error) {
	var c logstore.Criteria
	if cfg.before != "" {
		ts, err := time.Parse(time.RFC3339, cfg.before)
		if err != nil {
			ts, err = time.Parse("2006-01-02", cfg.before)
		}
		if err != nil {
			return c, fmt.Errorf("invalid --before value %q: use RFC3339 or YYYY-MM-DD", cfg.before)
		}
		c.Before = &ts
	}
	for _, t := range cfg.types {
		c.Types = append(c.Types, logstore.Category(t))
	}
	for _, l := range cfg.levels {
		c.Levels = append(c.Levels, logstore.Level(l))
	}
	return c, c.Validate()
}

// NewCleanupCmd creates the cleanup subcommand.
func NewCleanupCmd() *cobra.Command {
	cfg := &cleanupConfig{}

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Purge old log entries",
		Long: `Run a one-shot log purge. Without selection flags this enforces the
configured retention window. With --before, --types, or --levels it
deletes the matching rows instead; manual runs default to a dry run,
pass --dry-run=false to delete.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCleanupWithDeps(cmd.Context(), cfg, cmd, nil)
		},
	}

	cmd.Flags().StringVar(&cfg.before, "before", "", "delete entries created before this date")
	cmd.Flags().StringSliceVar(&cfg.types, "types", nil, "log types to delete")
	cmd.Flags().StringSliceVar(&cfg.levels, "levels", nil, "log levels to delete")
	cmd.Flags().BoolVar(&cfg.dryRun, "dry-run", true, "count matches without deleting")
	cmd.Flags().StringVar(&cfg.adminID, "admin-id", "cli", "admin id recorded for manual deletions")
	cmd.Flags().String("database-url", "", "Postgres connection URL")
	cmd.Flags().Int("retention-days", config.Default().Retention.Days, "log retention window in days")

	return cmd
}

// runCleanupWithDeps runs the purge with injectable dependencies.
func runCleanupWithDeps(ctx context.Context, cfg *cleanupConfig, cmd *cobra.Command, deps *Deps) error {
	if deps == nil {
		deps = &Deps{}
	}
	deps.fillDefaults()

	appCfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if appCfg.DatabaseURL == "" {
		return fmt.Errorf("database_url is required")
	}

	logging.SetDefault("qrtrace", version, appCfg.LogFormat)

	pool, err := deps.OpenPool(ctx, appCfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	store := deps.OpenStore(pool)
	recorder := logstore.NewRecorder(store, slog.Default(),
		logstore.WithFailureCounter(adminapi.LogWriteFailureCounter()))
	cleaner := retention.NewCleaner(store, recorder, appCfg.Retention.Days,
		retention.WithBatchSize(appCfg.Retention.BatchSize),
		retention.WithBatchPause(appCfg.Retention.Pause),
		retention.WithAvgRowBytes(appCfg.Stats.AvgRowBytes))

	var result any
	if cfg.manual() {
		criteria, err := cfg.criteria()
		if err != nil {
			return err
		}
		result, err = cleaner.ManualCleanup(ctx, cfg.adminID, criteria, cfg.dryRun)
		if err != nil {
			return fmt.Errorf("manual cleanup failed: %w", err)
		}
	} else {
		result, err = cleaner.AutoCleanup(ctx)
		if err != nil {
			return fmt.Errorf("retention cleanup failed: %w", err)
		}
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	cmd.Println(string(out))
	return nil
}
