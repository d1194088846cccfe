package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// buildShellCmd implements `shell` (spec §6 "peripheral"): runs a command
// through the workspace's shell_exec builtin tool directly, bypassing the
// LLM and Message Log entirely — useful for verifying WORKSPACE_DIR and the
// shell tool's safety filters without spending a provider call.
func buildShellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell <command>",
		Short: "Run a shell command through the shell_exec tool's safety filters",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			t, ok := app.Registry.Get("shell_exec")
			if !ok {
				return fmt.Errorf("relay shell: shell_exec tool is not registered (TOOL_SHELL_ENABLED=false?)")
			}

			payload, err := json.Marshal(map[string]string{"command": strings.Join(args, " ")})
			if err != nil {
				return err
			}
			result, err := t.Execute(cmd.Context(), payload)
			if err != nil {
				return err
			}
			if result.Error != "" {
				return fmt.Errorf("%s", result.Error)
			}
			fmt.Fprintln(cmd.OutOrStdout(), result.Output)
			return nil
		},
	}
}
