// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QRTrace Contributors

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/qrtrace/qrtrace/internal/config"
	"github.com/qrtrace/qrtrace/internal/logging"
)

// NewCheckCmd creates the check subcommand.
func NewCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Report row-level security posture of the protected tables",
		Long: `Inspect the database catalog and report, for each protected table,
whether row-level security is enabled and how many policies are
attached. Exits non-zero when any table is unprotected.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCheckWithDeps(cmd.Context(), cmd, nil)
		},
	}

	cmd.Flags().String("database-url", "", "Postgres connection URL")
	cmd.Flags().StringSlice("protected-tables", config.Default().ProtectedTables, "tables that must carry RLS policies")

	return cmd
}

// runCheckWithDeps runs the posture check with injectable dependencies.
func runCheckWithDeps(ctx context.Context, cmd *cobra.Command, deps *Deps) error {
	if deps == nil {
		deps = &Deps{}
	}
	deps.fillDefaults()

	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("database_url is required")
	}

	logging.SetDefault("qrtrace", version, cfg.LogFormat)

	pool, err := deps.OpenPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	statuses, err := deps.PolicyCheckerFactory(pool).CheckRLSStatus(ctx, cfg.ProtectedTables)
	if err != nil {
		return fmt.Errorf("rls status check failed: %w", err)
	}

	unhealthy := 0
	for _, st := range statuses {
		marker := "ok"
		if !st.Healthy() {
			marker = "FAIL"
			unhealthy++
		}
		cmd.Printf("%-4s %-30s state=%s policies=%d\n", marker, st.Table, st.State, st.PolicyCount)
	}
	if unhealthy > 0 {
		return fmt.Errorf("%d of %d tables lack row-level security", unhealthy, len(statuses))
	}

	cmd.Printf("all %d tables protected\n", len(statuses))
	return nil
}
