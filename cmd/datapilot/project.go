package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/animus-labs/datapilot/internal/repo"
)

func projectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Manage projects",
	}
	cmd.AddCommand(projectCreateCmd(), projectGetCmd(), projectListCmd())
	return cmd
}

func projectCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			description, _ := cmd.Flags().GetString("description")
			return withApp(cmd, func(ctx context.Context, a *app) error {
				project, err := a.versions.CreateProject(ctx, args[0], description, author(cmd))
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), project)
			})
		},
	}
	cmd.Flags().String("description", "", "project description")
	return cmd
}

func projectGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <project-id>",
		Short: "Show a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				project, err := a.versions.GetProject(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), project)
			})
		},
	}
}

func projectListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			name, _ := cmd.Flags().GetString("name")
			createdBy, _ := cmd.Flags().GetString("created-by")
			return withApp(cmd, func(ctx context.Context, a *app) error {
				projects, err := a.versions.ListProjects(ctx, repo.ProjectFilter{Name: name, CreatedBy: createdBy, Limit: limit})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), projects)
			})
		},
	}
	cmd.Flags().Int("limit", 50, "maximum number of projects (0 for all)")
	cmd.Flags().String("name", "", "only projects with this name")
	cmd.Flags().String("created-by", "", "only projects created by this author")
	return cmd
}
