package opencode

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Event type strings emitted by the upstream /event stream.
const (
	EventPartUpdated   = "message.part.updated"
	EventSessionStatus = "session.status"
	EventSessionError  = "session.error"
	EventPermission    = "permission.updated"
)

// Part type strings carried by message.part.updated.
const (
	PartText      = "text"
	PartReasoning = "reasoning"
	PartTool      = "tool"
)

// Tool part lifecycle statuses.
const (
	ToolPending   = "pending"
	ToolRunning   = "running"
	ToolCompleted = "completed"
	ToolError     = "error"
)

// StatusIdle is the session status signalling the turn has finished.
const StatusIdle = "idle"

// Permission responses accepted by RespondPermission.
const (
	PermissionOnce   = "once"
	PermissionAlways = "always"
	PermissionReject = "reject"
)

// Agent modes for outgoing messages.
const (
	ModePlan  = "plan"
	ModeBuild = "build"
)

// Session is upstream session metadata.
type Session struct {
	ID        string       `json:"id"`
	ParentID  string       `json:"parentID,omitempty"`
	Title     string       `json:"title,omitempty"`
	Directory string       `json:"directory,omitempty"`
	Version   string       `json:"version,omitempty"`
	Time      *SessionTime `json:"time,omitempty"`
}

type SessionTime struct {
	Created int64 `json:"created,omitempty"`
	Updated int64 `json:"updated,omitempty"`
}

// Part is one piece of an assistant message. Text and reasoning parts carry
// the cumulative text so far; tool parts carry full state snapshots.
type Part struct {
	ID        string     `json:"id,omitempty"`
	SessionID string     `json:"sessionID,omitempty"`
	MessageID string     `json:"messageID,omitempty"`
	Type      string     `json:"type,omitempty"`
	Text      string     `json:"text,omitempty"`
	Tool      string     `json:"tool,omitempty"`
	CallID    string     `json:"callID,omitempty"`
	State     *ToolState `json:"state,omitempty"`
	Time      *PartTime  `json:"time,omitempty"`
}

type ToolState struct {
	Status string          `json:"status,omitempty"`
	Input  json.RawMessage `json:"input,omitempty"`
	Output string          `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
	Title  string          `json:"title,omitempty"`
}

type PartTime struct {
	Start int64 `json:"start,omitempty"`
	End   int64 `json:"end,omitempty"`
}

// DurationMS returns the part's elapsed time, or 0 when incomplete.
func (t *PartTime) DurationMS() int64 {
	if t == nil || t.Start == 0 || t.End == 0 || t.End < t.Start {
		return 0
	}
	return t.End - t.Start
}

// MessageInfo is message metadata as returned by the history endpoint.
type MessageInfo struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionID,omitempty"`
	Role      string `json:"role,omitempty"`
}

// Message is one history entry: metadata plus its parts.
type Message struct {
	Info  MessageInfo `json:"info"`
	Parts []Part      `json:"parts"`
}

// MessagePart is one input block of an outgoing message.
type MessagePart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// MessageRequest is the body of POST /session/{id}/message.
type MessageRequest struct {
	Parts   []MessagePart `json:"parts"`
	Mode    string        `json:"mode,omitempty"` // "plan" or "build"
	NoReply bool          `json:"noReply,omitempty"`
}

// TextMessage builds a single-part text message request.
func TextMessage(text, mode string) MessageRequest {
	return MessageRequest{
		Parts: []MessagePart{{Type: "text", Text: text}},
		Mode:  mode,
	}
}

// Event is one decoded upstream event.
type Event struct {
	Type       string          `json:"type"`
	Properties json.RawMessage `json:"properties,omitempty"`
}

// PartUpdated is the properties payload of message.part.updated.
type PartUpdated struct {
	Part Part `json:"part"`
}

// SessionStatus is the properties payload of session.status. Status arrives
// either as a bare string or as an object with a type field; StatusValue
// absorbs both shapes.
type SessionStatus struct {
	SessionID string      `json:"sessionID"`
	Status    StatusValue `json:"status"`
}

// SessionError is the properties payload of session.error. The error payload
// is kept raw and forwarded verbatim to clients.
type SessionError struct {
	SessionID string          `json:"sessionID,omitempty"`
	Error     json.RawMessage `json:"error,omitempty"`
}

// Permission is the properties payload of permission.updated.
type Permission struct {
	ID        string         `json:"id"`
	SessionID string         `json:"sessionID,omitempty"`
	Title     string         `json:"title,omitempty"`
	CallID    string         `json:"callID,omitempty"`
	Type      string         `json:"type,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// StatusValue is a session status that tolerates both wire shapes:
// "idle" and {"type":"idle"}.
type StatusValue struct {
	Type string
}

func (s *StatusValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		s.Type = ""
		return nil
	}
	if data[0] == '"' {
		return json.Unmarshal(data, &s.Type)
	}
	var obj struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("session status: %w", err)
	}
	s.Type = obj.Type
	return nil
}

func (s StatusValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Type)
}

// Idle reports whether the status marks the end of a turn.
func (s StatusValue) Idle() bool {
	return s.Type == StatusIdle
}

// envelope is the optional wrapper some upstream versions emit on /event.
type envelope struct {
	Directory string          `json:"directory,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// DecodeFrame normalizes one /event data frame: it unwraps the
// {directory, payload} envelope when present and otherwise treats the frame
// as a bare event. The returned directory is empty for bare frames.
func DecodeFrame(data []byte) (string, Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err == nil && len(env.Payload) > 0 {
		var ev Event
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return "", Event{}, fmt.Errorf("event payload: %w", err)
		}
		return env.Directory, ev, nil
	}

	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return "", Event{}, fmt.Errorf("event frame: %w", err)
	}
	return "", ev, nil
}
