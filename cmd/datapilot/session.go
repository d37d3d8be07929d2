package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/animus-labs/datapilot/internal/service/sessions"
)

func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Run transformations against a moving version pointer",
	}
	cmd.AddCommand(
		sessionCreateCmd(),
		sessionGetCmd(),
		sessionListCmd(),
		sessionImportCmd(),
		sessionApplyCmd(),
		sessionCheckoutCmd(),
	)
	return cmd
}

func sessionCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <project-id>",
		Short: "Open a session on a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			title, _ := cmd.Flags().GetString("title")
			return withApp(cmd, func(ctx context.Context, a *app) error {
				session, err := a.sessions.Create(ctx, args[0], title)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), session)
			})
		},
	}
	cmd.Flags().String("title", "", "session title")
	return cmd
}

func sessionGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <session-id>",
		Short: "Show a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				session, err := a.sessions.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), session)
			})
		},
	}
}

func sessionListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <project-id>",
		Short: "List a project's sessions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			return withApp(cmd, func(ctx context.Context, a *app) error {
				list, err := a.sessions.List(ctx, args[0], limit)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), list)
			})
		},
	}
	cmd.Flags().Int("limit", 0, "maximum number of sessions (0 uses the default)")
	return cmd
}

func sessionImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <session-id> <file>",
		Short: "Upload a file as a new root version and point the session at it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				version, err := a.sessions.Import(ctx, args[0], args[1], author(cmd))
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), version)
			})
		},
	}
}

func sessionApplyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply <session-id>",
		Short: "Run a program against the session's current version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			message, _ := cmd.Flags().GetString("message")
			program, err := readProgram(cmd)
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				result, err := a.sessions.Apply(ctx, args[0], sessions.Transformation{
					Program:     program,
					Description: message,
				}, author(cmd))
				if err != nil {
					if result.Execution.Kind != "" {
						_ = printJSON(cmd.OutOrStdout(), result.Execution)
					}
					return err
				}
				return printJSON(cmd.OutOrStdout(), result)
			})
		},
	}
	cmd.Flags().StringP("message", "m", "", "description of the transformation")
	cmd.Flags().String("code", "", "program to run")
	cmd.Flags().String("code-file", "", "read the program from a file")
	return cmd
}

func sessionCheckoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checkout <session-id> <version-id>",
		Short: "Move the session pointer to another version",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				session, err := a.sessions.Checkout(ctx, args[0], args[1], author(cmd))
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), session)
			})
		},
	}
}
