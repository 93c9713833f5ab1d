// Package ai is the client side of the AI binding: text generation and text
// embeddings served by a Workers-AI-style inference endpoint.
//
// Callers depend on the Engine interface; Client is the production
// implementation and tests substitute fakes.
package ai

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable wraps failures after retries are exhausted or while the
	// circuit breaker is open.
	ErrUnavailable = errors.New("ai: inference unavailable")

	// ErrBadResponse is returned when the endpoint answers with a payload that
	// does not match the model's documented shape.
	ErrBadResponse = errors.New("ai: malformed inference response")
)

// Role of a chat message.
type Role string

// Chat roles understood by the text generation models.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a chat prompt.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Prompt is the input to Generate.
type Prompt struct {
	Messages  []Message
	MaxTokens int // 0 uses the model default
}

// Engine is the inference capability handed to request handlers.
type Engine interface {
	Generate(ctx context.Context, p Prompt) (string, error)
	Embed(ctx context.Context, text string) ([]float32, error)
}
