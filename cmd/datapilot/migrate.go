package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/animus-labs/datapilot/internal/platform/postgres"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the metadata schema to postgres",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if printOnly, _ := cmd.Flags().GetBool("print"); printOnly {
				_, err := fmt.Fprint(cmd.OutOrStdout(), postgres.Schema())
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			db, err := openDatabase(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()
			if err := postgres.Migrate(ctx, db); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]string{"status": "ok"})
		},
	}
	cmd.Flags().Bool("print", false, "print the schema instead of applying it")
	return cmd
}
