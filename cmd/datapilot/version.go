package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/animus-labs/datapilot/internal/domain"
	"github.com/animus-labs/datapilot/internal/service/versions"
)

func versionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Record, inspect and prune dataset versions",
	}
	cmd.AddCommand(
		versionImportCmd(),
		versionGetCmd(),
		versionHistoryCmd(),
		versionCheckoutCmd(),
		versionCompareCmd(),
		versionBranchCmd(),
		versionPruneCmd(),
	)
	return cmd
}

func versionImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <project-id> <file>",
		Short: "Record a local dataset file as a new version",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			parent, _ := cmd.Flags().GetString("parent")
			message, _ := cmd.Flags().GetString("message")
			program, err := readProgram(cmd)
			if err != nil {
				return err
			}
			if message == "" {
				message = "upload: " + filepath.Base(args[1])
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				version, err := a.versions.CreateVersion(ctx, versions.CreateVersionInput{
					ProjectID:    args[0],
					ParentID:     parent,
					Description:  message,
					Program:      program,
					SnapshotPath: args[1],
					Author:       author(cmd),
				})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), version)
			})
		},
	}
	cmd.Flags().String("parent", "", "parent version id")
	cmd.Flags().StringP("message", "m", "", "version description")
	cmd.Flags().String("code", "", "program that produced the file")
	cmd.Flags().String("code-file", "", "read the program from a file")
	return cmd
}

func versionGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <version-id>",
		Short: "Show a version record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				version, err := a.versions.GetVersion(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), version)
			})
		},
	}
}

func versionHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <project-id>",
		Short: "List a project's versions, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				history, err := a.versions.GetHistory(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), history)
			})
		},
	}
}

type checkoutOutput struct {
	VersionID string `json:"version_id"`
	Path      string `json:"path"`
}

func versionCheckoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checkout <version-id> <dest>",
		Short: "Materialize a version's snapshot to a local file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				ok, err := a.versions.Checkout(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				if !ok {
					return domain.NewError(domain.KindNotFound, "version.checkout", fmt.Sprintf("snapshot for version %s is unavailable", args[0]))
				}
				path, err := filepath.Abs(args[1])
				if err != nil {
					path = args[1]
				}
				return printJSON(cmd.OutOrStdout(), checkoutOutput{VersionID: args[0], Path: path})
			})
		},
	}
}

func versionCompareCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compare <version-a> <version-b>",
		Short: "Diff the snapshots of two versions",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				result, err := a.versions.CompareVersions(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), result)
			})
		},
	}
}

func versionBranchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "branch <project-id> <from-version-id> <label>",
		Short: "Create a labelled child of an existing version",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				version, err := a.versions.CreateBranch(ctx, args[0], args[2], args[1], author(cmd))
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), version)
			})
		},
	}
}

func versionPruneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune <project-id>",
		Short: "Delete all but the newest versions of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			keep, _ := cmd.Flags().GetInt("keep")
			return withApp(cmd, func(ctx context.Context, a *app) error {
				result, err := a.versions.Prune(ctx, args[0], keep)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), result)
			})
		},
	}
	cmd.Flags().Int("keep", versions.DefaultKeepCount, "number of newest versions to keep")
	return cmd
}

// readProgram returns --code, or the contents of --code-file when set.
func readProgram(cmd *cobra.Command) (string, error) {
	program, _ := cmd.Flags().GetString("code")
	path, _ := cmd.Flags().GetString("code-file")
	if path == "" {
		return program, nil
	}
	if program != "" {
		return "", domain.NewError(domain.KindValidation, "cli.program", "--code and --code-file are mutually exclusive")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", domain.WrapError(domain.KindValidation, "cli.program", err)
	}
	return string(raw), nil
}
