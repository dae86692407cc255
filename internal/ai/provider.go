package ai

import "context"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Completion is a single non-streaming model answer. Usage is nil when the
// provider did not report it.
type Completion struct {
	Text  string
	Model string
	Usage *Usage
}

type Provider interface {
	Chat(ctx context.Context, messages []Message) (*Completion, error)
}
