package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/animus-labs/datapilot/internal/platform/env"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "datapilot",
		Short:         "Versioned datasets with sandboxed transformations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("metadata", env.String("DATAPILOT_METADATA", metadataPostgres), "metadata backend: postgres, or memory (test-only; records last for a single invocation)")
	rootCmd.PersistentFlags().String("author", env.String("DATAPILOT_AUTHOR", ""), "author recorded on versions and audit events")
	rootCmd.PersistentFlags().String("request-id", "", "request id attached to audit events (generated when empty)")

	rootCmd.AddCommand(
		projectCmd(),
		versionCmd(),
		sessionCmd(),
		sandboxCmd(),
		migrateCmd(),
	)
	return rootCmd
}
