package main

import (
	"strings"

	"github.com/spf13/cobra"
)

// buildAskCmd implements `ask` (spec §6 "peripheral"): a one-shot turn whose
// input is the joined argv rather than a single positional arg or stdin,
// for quick single-line questions. Shares runOneShot's plumbing with `run`
// since the only difference spec.md draws between them is argument shape.
func buildAskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a single question (all arguments are joined into one input)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOneShot(cmd, strings.Join(args, " "))
		},
	}
}
