package dispatcher

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPrompter struct {
	answer bool
	err    error
	asked  string
}

func (s *stubPrompter) Confirm(_ context.Context, prompt string) (bool, error) {
	s.asked = prompt
	return s.answer, s.err
}

func TestGate_BelowThreshold_NeverPrompts(t *testing.T) {
	p := &stubPrompter{answer: false}
	g := NewGate(1000, p)
	res := g.Check(context.Background(), "t", "short text")
	require.True(t, res.Accepted)
	assert.Empty(t, p.asked)
}

func TestGate_AboveThreshold_Accepted(t *testing.T) {
	p := &stubPrompter{answer: true}
	g := NewGate(1, p)
	big := strings.Repeat("word ", 50)
	res := g.Check(context.Background(), "t", big)
	require.True(t, res.Accepted)
	assert.Equal(t, big, res.Text)
	assert.NotEmpty(t, p.asked)
}

func TestGate_AboveThreshold_Declined(t *testing.T) {
	p := &stubPrompter{answer: false}
	g := NewGate(1, p)
	big := strings.Repeat("word ", 50)
	res := g.Check(context.Background(), "big_tool", big)
	require.False(t, res.Accepted)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Text, "declined")
}

func TestGate_NonInteractive_AlwaysAccepts(t *testing.T) {
	g := NewGate(1, NonInteractivePrompter{})
	big := strings.Repeat("word ", 500)
	res := g.Check(context.Background(), "t", big)
	require.True(t, res.Accepted)
}

func TestGate_ZeroThresholdUsesDefault(t *testing.T) {
	g := NewGate(0, nil)
	assert.Equal(t, defaultWarningThreshold, g.Threshold)
}
