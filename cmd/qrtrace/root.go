package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the qrtrace CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "qrtrace",
		Short: "qrtrace - tenant-scoped audit logging for the QR platform",
		Long: `qrtrace runs the audit log engine for the QR platform: it serves the
admin log API, validates row-level security posture, and enforces the
log retention policy.`,
	}

	// Global flag for config file path
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	// Add subcommands
	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewCleanupCmd())
	cmd.AddCommand(NewCheckCmd())

	return cmd
}
