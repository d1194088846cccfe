package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// buildConfigCmd implements the `config` subcommand (spec §6: "show/edit
// persisted configuration; exit 0 on success, non-zero on validation
// error"). Configuration here is entirely environment-derived — TOML file
// parsing is explicitly out of scope (spec §1) — so "persisted
// configuration" means the resolved environment plus the mcp.json server
// list the Tool Map federates.
func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or validate the resolved engine configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(cmd)
		},
	}
	cmd.AddCommand(buildConfigValidateCmd())
	return cmd
}

func runConfigShow(cmd *cobra.Command) error {
	app, err := buildApp(cmd.Context())
	if err != nil {
		return err
	}
	defer app.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "workspace:        %s\n", app.WorkspaceDir)
	fmt.Fprintf(out, "provider:         %s\n", app.Provider.GetName())
	fmt.Fprintf(out, "caching:          %t\n", app.supportsCaching())
	fmt.Fprintf(out, "tools:            %d registered\n", len(app.Registry.List()))
	if app.MCPManager != nil {
		fmt.Fprintf(out, "mcp tools:        %d federated\n", len(app.MCPManager.ToolMap().AllToolNames()))
	} else {
		fmt.Fprintln(out, "mcp servers:      none (no mcp.json found)")
	}
	fmt.Fprintf(out, "cache threshold:  %d tokens\n", app.Engine.CacheTokensThreshold)
	fmt.Fprintf(out, "cache budget:     %d markers\n", app.Engine.CacheBreakpointBudget)
	fmt.Fprintf(out, "truncation limit: %d tokens\n", app.Engine.MaxRequestTokensThreshold)
	fmt.Fprintf(out, "gate threshold:   %d tokens\n", app.Engine.MCPResponseWarningThreshold)
	return nil
}

// buildConfigValidateCmd validates that the environment resolves to a
// usable App without running anything, for CI/startup health checks.
func buildConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the environment and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(context.Background())
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "config invalid: %v\n", err)
				os.Exit(1)
			}
			defer app.Close()
			fmt.Fprintln(cmd.OutOrStdout(), "config ok")
			return nil
		},
	}
}
