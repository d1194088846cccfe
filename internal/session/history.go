package session

import (
	"strconv"
	"strings"

	"github.com/relaymesh/relay/internal/llm"
	"github.com/relaymesh/relay/internal/util"
)

// summaryHeader marks a Context Reducer summary so it stays visually
// distinguishable from a live assistant reply once it lands in the log.
const summaryHeader = "[对话历史摘要]"

// FormatSummary wraps a `/done` summarization result with summaryHeader.
// Returns "" unchanged if summary is empty.
func FormatSummary(summary string) string {
	if summary == "" {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(summaryHeader)
	sb.WriteString("\n")
	sb.WriteString(summary)
	return sb.String()
}

// FormatTranscript renders a message slice as a plain-text transcript for
// display, truncating each
// message to maxRunes so one runaway message can't flood the screen.
func FormatTranscript(messages []Message, maxRunes int) string {
	var sb strings.Builder
	round := 0
	for i := 0; i < len(messages); i++ {
		m := messages[i]
		switch m.Role {
		case llm.RoleUser:
			round++
			sb.WriteString("Round ")
			sb.WriteString(strconv.Itoa(round))
			sb.WriteString(" - user: ")
			sb.WriteString(util.TruncateRunes(m.Content, maxRunes))
			sb.WriteString("\n")
		case llm.RoleAssistant:
			if m.Content == "" {
				continue
			}
			sb.WriteString("Round ")
			sb.WriteString(strconv.Itoa(round))
			sb.WriteString(" - assistant: ")
			sb.WriteString(util.TruncateRunes(m.Content, maxRunes))
			sb.WriteString("\n\n")
		}
	}
	return sb.String()
}
