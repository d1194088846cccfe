package main

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/relaymesh/relay/internal/dispatcher"
	"github.com/relaymesh/relay/internal/llm"
	"github.com/relaymesh/relay/internal/session"
)

// buildSessionCmd implements `session` (spec §6: "interactive loop (runs the
// Session Engine)"). Each invocation takes an Entry for the given id (or a
// fresh uuid) from the App's session.Cache. The Entry carries an EventLog
// opened at <workspace>/sessions/<id>.jsonl, but this command writes no
// records to it, and --id does not reload an earlier session's messages:
// the Cache is in-memory and starts empty in every process.
func buildSessionCmd() *cobra.Command {
	var resumeID string
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Start an interactive multi-turn session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd, resumeID)
		},
	}
	cmd.Flags().StringVar(&resumeID, "id", "", "session id (generates one if omitted); earlier messages are not reloaded")
	return cmd
}

func runSession(cmd *cobra.Command, id string) error {
	ctx := cmd.Context()
	app, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	if id == "" {
		id = uuid.NewString()
	}

	entry := app.Cache.GetOrCreate(id, func() *session.Entry {
		logPath := filepath.Join(app.WorkspaceDir, "sessions", id+".jsonl")
		eventLog, err := session.NewEventLog(logPath)
		if err != nil {
			app.Logger.Sugar().Warnf("session log disabled: %v", err)
		}
		log := session.NewMessageLog()
		_ = log.AppendSystem(buildSystemPrompt(app))
		return &session.Entry{
			Log:       log,
			Info:      session.NewInfo(),
			CostGuard: session.NewCostGuard(0, 0),
			EventLog:  eventLog,
		}
	})

	runner := app.newRunner(entry)
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "session %s — provider %s. Type /exit to quit.\n", id, app.Provider.GetName())

	reader := bufio.NewReader(cmd.InOrStdin())
	for {
		fmt.Fprint(out, "> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return nil // EOF: end the interactive loop cleanly
		}
		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "/exit" || input == "/quit" {
			return nil
		}

		cancel := dispatcher.NewCancelFlag()
		phase, cancelled, runErr := runner.RunTurn(ctx, entry.Log, cancel, input)
		if wrapped := wrapCancelled(cancel, cancelled, runErr); wrapped != nil {
			return wrapped
		}
		if phase != session.PhaseCompleted {
			continue
		}

		printLastAssistant(out, entry.Log)
	}
}

// buildSystemPrompt delegates to session.BuildSystemPrompt (soul, user
// rules, L1 tool protocol, L2 behaviour files, tool name list) rather than
// the app assembling its own shorter variant. Layers of the Layered
// Pre-processor do not use it: each starts from its own system_prompt.
func buildSystemPrompt(app *App) string {
	names := make([]string, 0, len(app.Registry.List()))
	for _, t := range app.Registry.List() {
		names = append(names, t.Name())
	}
	return session.BuildSystemPrompt(app.Prompt, names, app.Engine.MaxRequestTokensThreshold)
}

func printLastAssistant(out io.Writer, log *session.MessageLog) {
	messages := log.Snapshot()
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == llm.RoleAssistant && messages[i].Content != "" {
			fmt.Fprintln(out, messages[i].Content)
			return
		}
	}
}
