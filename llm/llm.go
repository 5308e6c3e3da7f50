package llm

import (
	"context"
	"time"
)

// Message is one role-tagged utterance in a conversation transcript. The
// field names match the persisted record format and the completion API wire
// format, so the same value crosses both boundaries unchanged.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

type Result struct {
	Text     string
	Usage    Usage
	Duration time.Duration
}

// Request carries the full ordered transcript and the fully qualified model
// URI (e.g. "gpt://<folder>/<model>/latest").
type Request struct {
	Model    string
	Messages []Message
}

type Client interface {
	Chat(ctx context.Context, req Request) (Result, error)
}
