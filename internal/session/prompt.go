package session

import (
	"strings"

	"github.com/relaymesh/relay/internal/prompt"
	"github.com/relaymesh/relay/internal/tokenest"
)

// l1ToolProtocol is the hardcoded, non-overridable constraint every system
// prompt carries: the tool-call protocol itself. Behaviour and style live in
// L2/L3 files instead, so they stay editable without touching Go source.
const l1ToolProtocol = `You are an assistant that answers by either calling a tool or replying directly.

Core rules:
- Never repeat an identical tool name + argument combination that already appears in this conversation.
- State a brief plan in your first reply to a multi-step task.
- Reply with plain text as soon as the task is done; do not perform extra verification calls.
- Prefer a single combined call over several narrow ones when a tool supports it.`

// BuildSystemPrompt assembles the system message for a session: persona
// (soul), user rules, the hardcoded tool protocol, then project behaviour
// files, matching the teacher's layering (soul and user rules first for
// attention priority, L1 protocol next, L2 behaviour files last). Loader may
// be nil, in which case only l1ToolProtocol and the tool name list are used.
func BuildSystemPrompt(loader *prompt.PromptLoader, toolNames []string, maxTokens int) string {
	var sb strings.Builder

	if loader != nil {
		if persona := loader.LoadSoul(); persona != "" {
			sb.WriteString(persona)
			sb.WriteString("\n\n")
		}
		if rules := loader.LoadUserRules(); rules != "" {
			sb.WriteString("## User rules\n")
			sb.WriteString(rules)
			sb.WriteString("\n\n")
		}
	}

	sb.WriteString(l1ToolProtocol)

	if loader != nil {
		for _, name := range []string{"behavior.md", "answer_style.md"} {
			if content := loader.Load(name); content != "" {
				sb.WriteString("\n\n")
				sb.WriteString(content)
			}
		}
	}

	if len(toolNames) > 0 {
		sb.WriteString("\n\nAvailable tools: ")
		sb.WriteString(strings.Join(toolNames, ", "))
	}

	result := sb.String()
	if maxTokens > 0 {
		result = truncateToTokenBudget(result, maxTokens)
	}
	return result
}

// truncateToTokenBudget trims s (rune-safe, so no multi-byte character is
// split) so tokenest estimates it at or under maxTokens.
func truncateToTokenBudget(s string, maxTokens int) string {
	if tokenest.Default.Estimate(s) <= maxTokens {
		return s
	}
	runes := []rune(s)
	// tokenest's heuristic is ~4 ASCII chars/token; binary-search down from
	// the full length rather than assume a fixed ratio holds for mixed text.
	lo, hi := 0, len(runes)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if tokenest.Default.Estimate(string(runes[:mid])) <= maxTokens {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return string(runes[:lo])
}
