// Package events defines the normalized payloads maestro streams to clients.
// The relay translates raw runtime events into these; the HTTP layer writes
// them as SSE data frames. Field names are part of the client contract.
package events

import "time"

// Payload is one normalized client event; always one of the structs below.
type Payload any

// TextDelta carries an increment of assistant text output.
type TextDelta struct {
	Type   string `json:"type"` // "text"
	PartID string `json:"partId"`
	Delta  string `json:"delta"`
}

// ReasoningDelta carries an increment of reasoning output.
type ReasoningDelta struct {
	Type       string `json:"type"` // "reasoning"
	PartID     string `json:"partId"`
	Delta      string `json:"delta"`
	DurationMS int64  `json:"durationMs,omitempty"`
}

// ToolUpdate is a full snapshot of one tool invocation's state.
type ToolUpdate struct {
	Type   string `json:"type"` // "tool"
	PartID string `json:"partId"`
	CallID string `json:"callId,omitempty"`
	Name   string `json:"name"`
	Status string `json:"status"` // pending, running, completed, error
	Input  any    `json:"input,omitempty"`
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// PermissionRequest surfaces a pending tool permission from a swarm session.
type PermissionRequest struct {
	Type      string         `json:"type"` // "permission"
	ID        string         `json:"id"`
	SessionID string         `json:"sessionId"`
	Title     string         `json:"title,omitempty"`
	CallID    string         `json:"callId,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Heartbeat keeps idle SSE connections alive.
type Heartbeat struct {
	Type      string `json:"type"` // "heartbeat"
	Timestamp int64  `json:"timestamp"`
}

// NewHeartbeat returns a heartbeat stamped with the current time in
// milliseconds.
func NewHeartbeat() Heartbeat {
	return Heartbeat{Type: "heartbeat", Timestamp: time.Now().UnixMilli()}
}

// MessagesSnapshot is the poll-watch payload: the full message history sent
// whenever its structural hash changes.
type MessagesSnapshot struct {
	Type     string `json:"type"` // "messages"
	Messages any    `json:"messages"`
	Count    int    `json:"count"`
}

// StreamError is the terminal payload of a failed stream. Error carries the
// upstream error content verbatim when one exists.
type StreamError struct {
	Error any    `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Error codes shared with the HTTP boundary.
const (
	CodeNotFound           = "NOT_FOUND"
	CodeValidation         = "VALIDATION"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeSessionError       = "SESSION_ERROR"
	CodeInternal           = "INTERNAL"
)
