package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSONFencedJSONBlock(t *testing.T) {
	content := "Here is my analysis:\n```json\n{\"decision\": \"APROVAR\", \"score\": 8.5}\n```\nDone."

	m, ok := ExtractJSON(content)
	require.True(t, ok)
	assert.Equal(t, "APROVAR", m["decision"])
	assert.Equal(t, 8.5, m["score"])
}

func TestExtractJSONPlainFence(t *testing.T) {
	content := "```\n{\"decision\": \"REJEITAR\"}\n```"

	m, ok := ExtractJSON(content)
	require.True(t, ok)
	assert.Equal(t, "REJEITAR", m["decision"])
}

func TestExtractJSONPlainFenceNonJSONSkipped(t *testing.T) {
	// A code fence with non-JSON content falls through to brace counting
	content := "```\nfor i in range(10): pass\n```\nverdict: {\"decision\": \"AGUARDAR\"}"

	m, ok := ExtractJSON(content)
	require.True(t, ok)
	assert.Equal(t, "AGUARDAR", m["decision"])
}

func TestExtractJSONBraceCounting(t *testing.T) {
	content := `The setup looks weak. {"decision": "REJEITAR", "nested": {"reason": "low volume"}} End of reply.`

	m, ok := ExtractJSON(content)
	require.True(t, ok)
	assert.Equal(t, "REJEITAR", m["decision"])
	nested, ok := m["nested"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "low volume", nested["reason"])
}

func TestExtractJSONBracesInsideStrings(t *testing.T) {
	content := `{"justification": "beware {weird} tokens and \"escapes\"", "score": 7}`

	m, ok := ExtractJSON(content)
	require.True(t, ok)
	assert.Equal(t, `beware {weird} tokens and "escapes"`, m["justification"])
}

func TestExtractJSONNothingParses(t *testing.T) {
	_, ok := ExtractJSON("no structured data here")
	assert.False(t, ok)

	_, ok = ExtractJSON("unbalanced { \"a\": 1")
	assert.False(t, ok)
}

func TestFallbackChainOrder(t *testing.T) {
	g := NewGateway(map[Provider]Client{
		GeminiFlash: &fakeClient{},
		GeminiPro:   &fakeClient{},
		Anthropic:   &fakeClient{},
	}, nopLogger())

	// Preferred first, then canonical order, duplicates and the
	// unconfigured OpenAI skipped.
	chain := g.Chain(GeminiFlash)
	assert.Equal(t, []Provider{GeminiFlash, GeminiPro, Anthropic}, chain)

	chain = g.Chain(GeminiPro)
	assert.Equal(t, []Provider{GeminiPro, GeminiFlash, Anthropic}, chain)
}
