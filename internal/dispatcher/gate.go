package dispatcher

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/relaymesh/relay/internal/tokenest"
)

// defaultWarningThreshold is the token-count ceiling above which a tool
// result is gated behind user confirmation in interactive mode.
const defaultWarningThreshold = 10000

// Prompter asks the user a yes/no question and returns their answer.
// Implementations read from the controlling terminal; NonInteractivePrompter
// is used for `run`/`ask`/scripted invocations.
type Prompter interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
}

// NonInteractivePrompter always answers true without asking, matching the
// spec's "accepted ... in non-interactive mode" rule.
type NonInteractivePrompter struct{}

func (NonInteractivePrompter) Confirm(context.Context, string) (bool, error) { return true, nil }

// StdPrompter asks on stdin/stdout, the CLI's default interactive prompter.
type StdPrompter struct {
	Reader *bufio.Reader
}

func NewStdPrompter(r *bufio.Reader) StdPrompter {
	if r == nil {
		r = bufio.NewReader(strings.NewReader(""))
	}
	return StdPrompter{Reader: r}
}

func (p StdPrompter) Confirm(ctx context.Context, prompt string) (bool, error) {
	fmt.Printf("%s [y/N] ", prompt)
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := p.Reader.ReadString('\n')
		ch <- result{line, err}
	}()
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return false, r.err
		}
		answer := strings.ToLower(strings.TrimSpace(r.line))
		return answer == "y" || answer == "yes", nil
	}
}

// Gate implements the Large-Response Gate (spec §4.7): tool outputs
// estimated above a token threshold are held back for interactive
// confirmation before being handed to the model.
type Gate struct {
	Threshold int
	Estimator tokenest.Estimator
	Prompter  Prompter
}

// NewGate builds a Gate with the given threshold (0 uses the default),
// the package's default CJK-aware estimator, and prompter.
func NewGate(threshold int, prompter Prompter) *Gate {
	if threshold <= 0 {
		threshold = defaultWarningThreshold
	}
	if prompter == nil {
		prompter = NonInteractivePrompter{}
	}
	return &Gate{Threshold: threshold, Estimator: tokenest.Default, Prompter: prompter}
}

// GateResult is the outcome of passing a tool result through the gate.
type GateResult struct {
	Accepted bool   // false means the caller must surgically drop the tool_use
	Text     string // the (possibly unchanged) result text
	IsError  bool   // true when Accepted is false, carrying the decline message
}

// Check estimates text's token count and, if it crosses Threshold, asks the
// prompter for confirmation. A declined result comes back as an MCP-style
// error result per spec §4.7, with Accepted=false so the Dispatcher's caller
// knows to strip the tool_use from the preceding assistant message.
func (g *Gate) Check(ctx context.Context, toolName, text string) GateResult {
	estimate := g.Estimator.Estimate(text)
	if estimate < g.Threshold {
		return GateResult{Accepted: true, Text: text}
	}

	prompt := fmt.Sprintf("Tool %q returned ~%d tokens (threshold %d). Show it to the model?", toolName, estimate, g.Threshold)
	ok, err := g.Prompter.Confirm(ctx, prompt)
	if err != nil || !ok {
		return GateResult{
			Accepted: false,
			IsError:  true,
			Text:     fmt.Sprintf("user declined to include oversized tool output (~%d tokens, threshold %d)", estimate, g.Threshold),
		}
	}
	return GateResult{Accepted: true, Text: text}
}
