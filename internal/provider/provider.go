// Package provider wraps external text-generation services behind a
// small interface with bounded latency and typed failures. Providers
// make a single attempt per call; retry and fallback policy belongs to
// the turn controller, not here.
package provider

import (
	"context"
)

// Role values for chat messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a chat message.
type Message struct {
	Role    string // system, user, assistant
	Content string
}

// ReplyRequest asks for the assistant's next line in a conversation.
type ReplyRequest struct {
	// System is the fixed framing string describing the assistant.
	System string

	// StageContext describes the current conversational stage.
	StageContext string

	// History is the trailing window of the conversation, oldest
	// first.
	History []Message

	// Input is the caller's newest line.
	Input string
}

// Provider generates assistant replies. Implementations must honor
// the context deadline, never panic across the boundary, and return a
// *ProviderError for every failure so the caller can decide to fall
// back.
type Provider interface {
	// GenerateReply produces the next assistant line.
	GenerateReply(ctx context.Context, req ReplyRequest) (string, error)

	// Name returns the provider name (e.g. "openai").
	Name() string
}

// Messages flattens the request into the chat form providers consume:
// system framing and stage context first, then the history window,
// then the caller's new line.
func (r ReplyRequest) Messages() []Message {
	system := r.System
	if r.StageContext != "" {
		if system != "" {
			system += "\n\n"
		}
		system += r.StageContext
	}

	msgs := make([]Message, 0, len(r.History)+2)
	if system != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: system})
	}
	msgs = append(msgs, r.History...)
	msgs = append(msgs, Message{Role: RoleUser, Content: r.Input})
	return msgs
}
