package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/relaymesh/relay/internal/dispatcher"
)

func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		if _, ok := asCancelled(err); ok {
			os.Exit(130) // spec §6: "Exit code 130 is reserved for user-cancelled sessions."
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRootCmd assembles the command tree. Separated from main so tests can
// exercise it without invoking os.Exit.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "relay",
		Short:   "relay federates MCP tool servers into multi-turn LLM sessions",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Long: `relay mediates between a user and one or more LLM providers while
federating a fleet of MCP tool servers: discovery, supervision, routing, and
resource reclamation, plus a session engine driving the recursive LLM/tool
loop with prompt caching, context truncation, and cooperative cancellation.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		buildConfigCmd(),
		buildSessionCmd(),
		buildRunCmd(),
		buildAskCmd(),
		buildShellCmd(),
		buildVarsCmd(),
	)

	return rootCmd
}

// cancelledError marks an error that should produce exit code 130 rather
// than 1, distinguishing a user-requested abort from every other failure.
type cancelledError struct{ err error }

func (c *cancelledError) Error() string { return c.err.Error() }
func (c *cancelledError) Unwrap() error { return c.err }

func asCancelled(err error) (*cancelledError, bool) {
	c, ok := err.(*cancelledError)
	return c, ok
}

// wrapCancelled reports whether the Session Runner's cancel flag tripped
// during a command's turn, translating that into the process's exit-130
// contract.
func wrapCancelled(cancel *dispatcher.CancelFlag, cancelled bool, err error) error {
	if err != nil {
		return err
	}
	if cancelled || (cancel != nil && cancel.Cancelled()) {
		return &cancelledError{err: fmt.Errorf("session cancelled")}
	}
	return nil
}
