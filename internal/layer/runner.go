package layer

import (
	"context"
	"fmt"

	"github.com/relaymesh/relay/internal/dispatcher"
	"github.com/relaymesh/relay/internal/llm"
	"github.com/relaymesh/relay/internal/session"
	"github.com/relaymesh/relay/internal/tool"
)

// Result is what one layer contributes back to the chain: the text handed
// to the next layer's input, and — when OutputMode != none — the messages
// to splice into the main session.
type Result struct {
	Output     string
	MainAppend []session.Message // only set when the layer's OutputMode != OutputNone
}

// ProviderResolver picks the llm.LLMProvider for a layer's configured model
// name, falling back to whatever default the caller wants for an empty or
// unrecognized name. The provider contract (internal/llm) has no per-call
// temperature parameter, so Def.Temperature is carried for future wiring
// but not applied here.
type ProviderResolver func(model string) llm.LLMProvider

// Processor runs a configured chain of layers ahead of the main Session
// Runner, each on its own ephemeral Message Log, using the exact same
// recursive tool loop as session.Runner (spec §4.12: "the same recursive
// tool loop as §4.11 on its own ephemeral message list").
type Processor struct {
	Defs        []*Def
	Registry    *tool.Registry
	Dispatch    *dispatcher.Dispatcher
	Resolver    ProviderResolver
	DefaultTool []llm.ToolDefinition
}

// NewProcessor builds a Processor over a configured layer chain.
func NewProcessor(defs []*Def, registry *tool.Registry, disp *dispatcher.Dispatcher, resolver ProviderResolver) *Processor {
	return &Processor{Defs: defs, Registry: registry, Dispatch: disp, Resolver: resolver}
}

// Run feeds input through every configured layer in order, applying each
// layer's InputMode to combine the running text with the previous layer's
// Output. It returns the final text (what the main session should treat as
// the effective user input, unless some layer's OutputMode already injected
// directly) and the concatenation of every layer's MainAppend messages, in
// layer order.
func (p *Processor) Run(ctx context.Context, input string) (finalInput string, mainAppend []session.Message, err error) {
	current := input
	for _, def := range p.Defs {
		res, rerr := p.runLayer(ctx, def, current)
		if rerr != nil {
			return "", nil, fmt.Errorf("layer: run %q: %w", def.Name, rerr)
		}

		switch def.InputMode {
		case InputAppend:
			current = current + "\n" + res.Output
		case InputPrepend:
			current = res.Output + "\n" + current
		default: // InputReplace
			current = res.Output
		}

		if len(res.MainAppend) > 0 {
			mainAppend = append(mainAppend, res.MainAppend...)
		}
	}
	return current, mainAppend, nil
}

// runLayer executes one layer's ephemeral tool loop to completion (until it
// answers with no further tool_calls) and builds its Result.
func (p *Processor) runLayer(ctx context.Context, def *Def, input string) (Result, error) {
	provider := p.Resolver(def.Model)
	if provider == nil {
		return Result{}, fmt.Errorf("no provider resolved for model %q", def.Model)
	}

	tools := p.filteredTools(def.AllowedTools)

	log := session.NewMessageLog()
	if err := log.AppendSystem(def.SystemPrompt); err != nil {
		return Result{}, err
	}

	runner := session.NewRunner(provider, tools, p.Dispatch, nil, nil, nil, nil)
	cancel := dispatcher.NewCancelFlag()
	if _, _, err := runner.RunTurn(ctx, log, cancel, input); err != nil {
		return Result{}, err
	}

	output := lastAssistantText(log.Snapshot())

	res := Result{Output: output}
	if def.OutputMode != OutputNone {
		res.MainAppend = []session.Message{session.NewAssistantMessage(output, nil)}
	}
	return res, nil
}

// filteredTools narrows the registry's tool definitions to allowed (empty
// allowed = every registered tool), matching the Dispatcher's registry so a
// layer's tool_calls still resolve during its ephemeral RunTurn. Def.MCPServers
// narrows further at the server level in principle, but the Dispatcher here is
// shared with the main session's single ToolMap/Supervisor pair, so per-layer
// server isolation is achieved purely through AllowedTools today.
func (p *Processor) filteredTools(allowed []string) []llm.ToolDefinition {
	if p.Registry == nil {
		return nil
	}
	all := p.Registry.GenerateToolDefinitions()
	if len(allowed) == 0 {
		return all
	}
	want := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		want[name] = true
	}
	var out []llm.ToolDefinition
	for _, d := range all {
		if want[d.Name] {
			out = append(out, d)
		}
	}
	return out
}

func lastAssistantText(messages []session.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == llm.RoleAssistant && messages[i].Content != "" {
			return messages[i].Content
		}
	}
	return ""
}
