// Package session holds per-call conversation state between otherwise
// unrelated webhook requests. The store is the only shared mutable
// state in the orchestrator; all mutation goes through its Update
// contract so locking discipline lives in one place.
package session

import (
	"time"
)

// Speaker identifies who produced a history line.
type Speaker string

const (
	// SpeakerCaller marks recognized caller speech.
	SpeakerCaller Speaker = "caller"
	// SpeakerAssistant marks replies spoken by the assistant.
	SpeakerAssistant Speaker = "assistant"
)

// Status is the lifecycle state of a session.
type Status string

const (
	// StatusActive means the call is still in progress.
	StatusActive Status = "active"
	// StatusTerminated means the conversation has ended. Terminated
	// sessions reject further mutation and are eligible for removal.
	StatusTerminated Status = "terminated"
)

// Line is one history entry: something the caller or the assistant
// said.
type Line struct {
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"text"`
}

// Session is the state of one active call, keyed by the gateway's
// call id. Store implementations hand out copies; callers never hold
// a reference into the store's own value.
type Session struct {
	// CallID is the gateway-assigned identifier, the only correlation
	// key across webhook invocations.
	CallID string `json:"call_id"`

	// TurnIndex counts completed caller/assistant exchanges. It is
	// bounded by the stage plan length.
	TurnIndex int `json:"turn_index"`

	// History is the full append-only transcript for the session's
	// lifetime.
	History []Line `json:"history"`

	// StartedAt is when the first webhook for this call arrived. Used
	// for idle expiry.
	StartedAt time.Time `json:"started_at"`

	// Status is the lifecycle state.
	Status Status `json:"status"`
}

// Append adds a line to the history.
func (s *Session) Append(speaker Speaker, text string) {
	s.History = append(s.History, Line{Speaker: speaker, Text: text})
}

// Window returns the trailing n history lines, the context sent to the
// generation backend. The full history is untouched.
func (s *Session) Window(n int) []Line {
	if n <= 0 || n >= len(s.History) {
		return s.History
	}
	return s.History[len(s.History)-n:]
}

// Terminated reports whether the session has ended.
func (s *Session) Terminated() bool {
	return s.Status == StatusTerminated
}

// clone returns a deep copy so store internals never escape.
func (s *Session) clone() *Session {
	cp := *s
	cp.History = make([]Line, len(s.History))
	copy(cp.History, s.History)
	return &cp
}
