package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/animus-labs/datapilot/internal/domain"
	"github.com/animus-labs/datapilot/internal/platform/env"
	"github.com/animus-labs/datapilot/internal/platform/logger"
	"github.com/animus-labs/datapilot/internal/sandbox"
)

func sandboxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sandbox",
		Short: "Run or vet programs without recording versions",
	}
	cmd.AddCommand(sandboxExecCmd(), sandboxCheckCmd())
	return cmd
}

func sandboxExecCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exec <input> <output>",
		Short: "Run a program against a local file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			program, err := readProgram(cmd)
			if err != nil {
				return err
			}
			cfg, err := sandbox.ConfigFromEnv()
			if err != nil {
				return err
			}
			log, err := logger.New(env.String("LOG_MODE", "dev"), env.String("LOG_LEVEL", "warn"))
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			exec := &lazyExecutor{cfg: cfg, log: log}
			result := exec.Execute(ctx, program, args[0], args[1])
			if err := printJSON(cmd.OutOrStdout(), result); err != nil {
				return err
			}
			return result.Err()
		},
	}
	cmd.Flags().String("code", "", "program to run")
	cmd.Flags().String("code-file", "", "read the program from a file")
	return cmd
}

func sandboxCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Apply the static program policy without running anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			program, err := readProgram(cmd)
			if err != nil {
				return err
			}
			cfg, err := sandbox.ConfigFromEnv()
			if err != nil {
				return err
			}
			policy, err := sandbox.LoadPolicy(cfg.PolicyFile)
			if err != nil {
				return err
			}
			if reason := policy.Check(program); reason != "" {
				return domain.NewError(domain.KindValidation, "sandbox.check", reason)
			}
			return printJSON(cmd.OutOrStdout(), map[string]bool{"allowed": true})
		},
	}
	cmd.Flags().String("code", "", "program to check")
	cmd.Flags().String("code-file", "", "read the program from a file")
	return cmd
}
