package rag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aihub/corpus-go/internal/knowledge"
)

func TestExtractiveModel_PicksRelevantSentences(t *testing.T) {
	model := NewExtractiveModel(1)
	answer, err := model.Generate(context.Background(), GenerateRequest{
		Prompt: "How do I reset the router?",
		Context: []string{
			"The modem blinks green. To reset the router hold the button.",
			"Invoices are monthly.",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "To reset the router hold the button.", answer)
}

func TestExtractiveModel_KeepsContextOrder(t *testing.T) {
	model := NewExtractiveModel(2)
	answer, err := model.Generate(context.Background(), GenerateRequest{
		Prompt:  "router password reset",
		Context: []string{"The router has a password.", "Nothing here.", "Reset the router password twice."},
	})
	require.NoError(t, err)
	assert.Equal(t, "The router has a password. Reset the router password twice.", answer)
}

func TestExtractiveModel_NoContext(t *testing.T) {
	answer, err := NewExtractiveModel(0).Generate(context.Background(), GenerateRequest{Prompt: "anything"})
	require.NoError(t, err)
	assert.Equal(t, NoAnswer, answer)
}

func TestFormatAnswer(t *testing.T) {
	sources := []knowledge.SearchMatch{match("set", "/a.txt", "x")}
	assert.Equal(t, "answer", FormatAnswer("answer", sources, false))
	assert.Equal(t, "answer", FormatAnswer("answer", nil, true))
	assert.Equal(t, "answer\n\ndoc-set: set, source: /a.txt", FormatAnswer("answer", sources, true))
}

func TestNewOpenAIChatModel_RequiresKey(t *testing.T) {
	_, err := NewOpenAIChatModel(OpenAIChatOptions{})
	assert.Error(t, err)

	m, err := NewOpenAIChatModel(OpenAIChatOptions{APIKey: "sk-test"})
	require.NoError(t, err)
	turns, err := m.Condense(context.Background(), "standalone", nil)
	require.NoError(t, err)
	assert.Equal(t, "standalone", turns)
}
