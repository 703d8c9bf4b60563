// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QRTrace Contributors

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/qrtrace/qrtrace/internal/adminapi"
	"github.com/qrtrace/qrtrace/internal/auth"
	"github.com/qrtrace/qrtrace/internal/config"
	"github.com/qrtrace/qrtrace/internal/logging"
	"github.com/qrtrace/qrtrace/internal/logstore"
	"github.com/qrtrace/qrtrace/internal/retention"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the admin log API server",
		Long: `Start the HTTP server exposing the admin log API, row-level security
status checks, metrics, and health probes.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServeWithDeps(cmd.Context(), cmd, nil)
		},
	}

	def := config.Default()
	cmd.Flags().String("listen-addr", def.ListenAddr, "HTTP listen address")
	cmd.Flags().String("database-url", "", "Postgres connection URL")
	cmd.Flags().String("log-format", def.LogFormat, "log format (json or text)")
	cmd.Flags().StringSlice("admin-emails", nil, "emails granted admin access")
	cmd.Flags().Int("retention-days", def.Retention.Days, "log retention window in days")
	cmd.Flags().Int("retention-batch-size", def.Retention.BatchSize, "cleanup delete batch size")

	return cmd
}

// runServeWithDeps starts the server with injectable dependencies.
// If deps is nil, production implementations are used.
func runServeWithDeps(ctx context.Context, cmd *cobra.Command, deps *Deps) error {
	if deps == nil {
		deps = &Deps{}
	}
	deps.fillDefaults()

	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logging.SetDefault("qrtrace", version, cfg.LogFormat)

	slog.Info("starting qrtrace",
		"listen_addr", cfg.ListenAddr,
		"log_format", cfg.LogFormat,
		"retention_days", cfg.Retention.Days,
	)

	pool, err := deps.OpenPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	slog.Info("connected to database")

	store := deps.OpenStore(pool)
	recorder := logstore.NewRecorder(store, slog.Default(),
		logstore.WithFailureCounter(adminapi.LogWriteFailureCounter()))
	stats := logstore.NewStatsCollector(store,
		logstore.Thresholds{
			Warning:  cfg.Stats.WarningThreshold,
			Critical: cfg.Stats.CriticalThreshold,
		},
		logstore.Sizing{
			AvgRowBytes:   cfg.Stats.AvgRowBytes,
			CapacityBytes: cfg.Stats.CapacityBytes,
		})
	cleaner := retention.NewCleaner(store, recorder, cfg.Retention.Days,
		retention.WithBatchSize(cfg.Retention.BatchSize),
		retention.WithBatchPause(cfg.Retention.Pause),
		retention.WithAvgRowBytes(cfg.Stats.AvgRowBytes))

	server := adminapi.NewServer(cfg.ListenAddr, adminapi.Services{
		Store:           store,
		Recorder:        recorder,
		Stats:           stats,
		Cleaner:         cleaner,
		Policies:        deps.PolicyCheckerFactory(pool),
		Admins:          auth.NewAllowList(cfg.AdminEmails),
		ProtectedTables: cfg.ProtectedTables,
	}, func() bool {
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return pool.Ping(pingCtx) == nil
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh, err := server.Start()
	if err != nil {
		return fmt.Errorf("failed to start admin API server: %w", err)
	}
	go monitorServerErrors(ctx, cancel, errCh, "admin-api")

	recorder.Record(ctx, logstore.SystemEntry{
		Event:   "server_start",
		Message: "qrtrace started",
		Details: map[string]any{"listen_addr": server.Addr(), "version": version},
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("qrtrace started")
	slog.Info("qrtrace ready", "addr", server.Addr())

	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		slog.Info("context cancelled, shutting down")
	}

	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	recorder.Record(shutdownCtx, logstore.SystemEntry{
		Event:   "server_stop",
		Message: "qrtrace stopping",
	})

	if err := server.Stop(shutdownCtx); err != nil {
		slog.Warn("error stopping admin API server", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

// monitorServerErrors cancels the context when the server reports an
// error, so a failed listener brings the whole process down cleanly.
// It exits when an error arrives, the channel closes, or the context is
// cancelled.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
