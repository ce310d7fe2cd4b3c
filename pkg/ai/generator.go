package ai

import "context"

// Message is one role-tagged entry in a chat completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TextGenerator produces text from role-tagged chat messages. All LLM
// providers (OpenAI-compatible, Ollama) implement this interface.
type TextGenerator interface {
	GenerateText(ctx context.Context, messages []Message) (string, error)
}
