package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/relaymesh/relay/internal/dispatcher"
	"github.com/relaymesh/relay/internal/session"
)

// buildRunCmd implements `run <input>` (spec §6: "one-shot non-interactive
// turn, reading input from argv or stdin (TTY-detected)").
func buildRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run [input]",
		Short: "Run a single non-interactive turn",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := resolveRunInput(cmd, args)
			if err != nil {
				return err
			}
			return runOneShot(cmd, input)
		},
	}
}

// resolveRunInput reads argv[0] if given, otherwise stdin when it is not a
// TTY (piped input); an interactive TTY with no argv is a usage error.
func resolveRunInput(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	if isInteractive() {
		return "", fmt.Errorf("relay run: no input given and stdin is a terminal")
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("relay run: read stdin: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func runOneShot(cmd *cobra.Command, input string) error {
	ctx := cmd.Context()
	app, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	log := session.NewMessageLog()
	if err := log.AppendSystem(buildSystemPrompt(app)); err != nil {
		return err
	}

	entry := &session.Entry{
		Log:       log,
		Info:      session.NewInfo(),
		CostGuard: session.NewCostGuard(0, 0),
	}
	runner := app.newRunner(entry)

	cancel := dispatcher.NewCancelFlag()
	installSignalCancel(cancel)

	_, cancelled, runErr := runner.RunTurn(ctx, log, cancel, input)
	if wrapped := wrapCancelled(cancel, cancelled, runErr); wrapped != nil {
		return wrapped
	}

	printLastAssistant(cmd.OutOrStdout(), log)
	return nil
}

// installSignalCancel wires SIGINT to the session's cooperative cancel
// flag, matching the spec's "Cancellation (Ctrl+C) is a process-wide atomic
// flag sampled at every suspension point."
func installSignalCancel(cancel *dispatcher.CancelFlag) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	go func() {
		<-sig
		cancel.Cancel()
	}()
}
