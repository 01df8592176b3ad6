package prompts

import (
	_ "embed"
	"strings"
)

//go:embed template/context_prompt.txt
var contextPrompt string

//go:embed template/system_prompt.txt
var systemPrompt string

// SystemPrompt returns the assistant's standing instructions.
func SystemPrompt() string {
	return strings.TrimSpace(systemPrompt)
}

// RenderUserTurn wraps the user's question with retrieved context
// passages. With no passages the question passes through untouched so
// the model never sees an empty context block.
func RenderUserTurn(question string, passages []string) string {
	if len(passages) == 0 {
		return question
	}
	return strings.NewReplacer(
		"{context}", strings.Join(passages, "\n\n"),
		"{question}", question,
	).Replace(contextPrompt)
}
