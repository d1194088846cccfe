package dispatcher

import (
	"crypto/md5"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	loopWindowSize          = 8   // recent calls to analyze
	loopSameToolLimit       = 3   // Rule 1: same tool call limit
	loopConsecErrorLimit    = 3   // Rule 3: consecutive error limit
	loopSimilarityThreshold = 0.6 // Rule 2: bigram Jaccard threshold
)

// paramDedupTools maps tool names to the JSON argument key used for Rule 1
// dedup instead of a full-argument hash. mcp_reload is bookkeeping, not
// agent progress, and is keyed on nothing (always collapses to one bucket).
// web_search is keyed on nothing too, so reworded queries still count toward
// the same-tool limit.
var paramDedupTools = map[string]string{
	"mcp_reload": "",
	"web_search": "",
}

// CallRecord is one completed tool call, as seen by the loop detector. The
// Dispatcher appends one CallRecord per result onto the session's rolling
// history and calls Check before executing the next round of tool calls.
type CallRecord struct {
	ToolName  string
	Arguments string // raw JSON arguments, used for dedup/similarity
	IsError   bool
}

// Verdict describes a detected loop pattern, or the zero value if none.
type Verdict struct {
	Detected    bool
	Rule        string // "same_tool_freq", "similar_params", "consecutive_errors"
	Description string // human-readable, meant for prompt injection
	ToolName    string
}

// LoopDetector analyzes a rolling CallRecord history to catch an agent stuck
// repeating itself. Stateless: all detection is computed from the slice
// passed to Check.
type LoopDetector struct{}

// Check evaluates the three rules in order; the first match wins.
func (d LoopDetector) Check(history []CallRecord) Verdict {
	if len(history) < 2 {
		return Verdict{}
	}
	if v := d.checkSameToolFrequency(history); v.Detected {
		return v
	}
	if v := d.checkSimilarParams(history); v.Detected {
		return v
	}
	if v := d.checkConsecutiveErrors(history); v.Detected {
		return v
	}
	return Verdict{}
}

func (d LoopDetector) checkSameToolFrequency(history []CallRecord) Verdict {
	window := recentWindow(history, loopWindowSize)

	type dedupKey struct{ name, key string }
	freq := make(map[dedupKey]int)
	for _, c := range window {
		k := callKey(c)
		freq[k]++
	}

	for k, count := range freq {
		if count >= loopSameToolLimit {
			desc := fmt.Sprintf("%s called %d times", k.name, count)
			if k.key != "" && len(k.key) <= 60 {
				desc += fmt.Sprintf(" (args: %s)", k.key)
			}
			return Verdict{Detected: true, Rule: "same_tool_freq", Description: desc, ToolName: k.name}
		}
	}
	return Verdict{}
}

func (d LoopDetector) checkSimilarParams(history []CallRecord) Verdict {
	if len(history) < 2 {
		return Verdict{}
	}
	last := history[len(history)-1]
	prev := history[len(history)-2]
	if last.ToolName != prev.ToolName {
		return Verdict{}
	}

	similar := false
	switch {
	case isSearchTool(last.ToolName):
		q1 := extractParam(prev.Arguments, "query")
		q2 := extractParam(last.Arguments, "query")
		if q1 != "" && q2 != "" {
			similar = jaccardSimilarity(bigrams(q1), bigrams(q2)) > loopSimilarityThreshold
		}
	case isPathTool(last.ToolName):
		p1 := extractParam(prev.Arguments, "path")
		p2 := extractParam(last.Arguments, "path")
		similar = p1 != "" && p1 == p2
	default:
		similar = prev.Arguments == last.Arguments
	}

	if similar {
		return Verdict{
			Detected:    true,
			Rule:        "similar_params",
			Description: fmt.Sprintf("%s called repeatedly with similar arguments", last.ToolName),
			ToolName:    last.ToolName,
		}
	}
	return Verdict{}
}

func (d LoopDetector) checkConsecutiveErrors(history []CallRecord) Verdict {
	if len(history) < loopConsecErrorLimit {
		return Verdict{}
	}
	tail := history[len(history)-loopConsecErrorLimit:]
	for _, c := range tail {
		if !c.IsError {
			return Verdict{}
		}
	}
	return Verdict{
		Detected:    true,
		Rule:        "consecutive_errors",
		Description: fmt.Sprintf("last %d tool calls all failed", loopConsecErrorLimit),
		ToolName:    tail[len(tail)-1].ToolName,
	}
}

func callKey(c CallRecord) struct{ name, key string } {
	if paramKey, ok := paramDedupTools[c.ToolName]; ok {
		return struct{ name, key string }{c.ToolName, extractParam(c.Arguments, paramKey)}
	}
	// #nosec G401 -- used only for in-memory dedup, not security
	h := md5.Sum([]byte(c.Arguments))
	return struct{ name, key string }{c.ToolName, fmt.Sprintf("%x", h)}
}

func recentWindow(history []CallRecord, n int) []CallRecord {
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}

func extractParam(jsonArgs, key string) string {
	var params map[string]any
	if err := json.Unmarshal([]byte(jsonArgs), &params); err != nil {
		return ""
	}
	v, ok := params[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

func isSearchTool(name string) bool {
	return name == "web_search" ||
		(strings.HasPrefix(name, "mcp_") && strings.Contains(name, "search"))
}

func isPathTool(name string) bool {
	return name == "file_read" || name == "file_write" ||
		(strings.HasPrefix(name, "mcp_") && strings.Contains(name, "file"))
}

func bigrams(s string) map[string]bool {
	runes := []rune(s)
	set := make(map[string]bool)
	for i := 0; i < len(runes)-1; i++ {
		set[string(runes[i:i+2])] = true
	}
	return set
}

func jaccardSimilarity(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	intersection := 0
	for k := range a {
		if b[k] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 1.0
	}
	return float64(intersection) / float64(union)
}
