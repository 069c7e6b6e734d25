// Package llm streams chat completions from a language model backend.
package llm

import "context"

// Role values understood by every backend.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one prompt message.
type Message struct {
	Role    string
	Content string
}

// ChatModel streams a completion for msgs. onDelta receives each chunk as it arrives;
// returning an error from it stops the stream. StreamChat returns the text received so far
// and stops promptly when ctx is done.
type ChatModel interface {
	Name() string
	StreamChat(ctx context.Context, msgs []Message, onDelta func(string) error) (string, error)
}
