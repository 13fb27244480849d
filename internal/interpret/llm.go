// Package interpret turns free text into the structured intent document by
// calling a language model, and classifies the model's failures.
package interpret

import "context"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type TokenUsage struct {
	InputTokens  int32
	OutputTokens int32
	TotalTokens  int32
}

type Request struct {
	Model       string
	System      []string
	Messages    []Message
	MaxTokens   int32
	Temperature float32
}

type Response struct {
	Text       string
	Usage      TokenUsage
	StopReason string
}

// Client is a language model provider.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}
