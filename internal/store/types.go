package store

import (
	"fmt"
	"time"
)

// SessionKind identifies which kind of session a mapping binds to an issue.
// Each (project, issue, kind) triple holds at most one live session.
type SessionKind string

const (
	KindIssueChat SessionKind = "issue-chat"
	KindPlanning  SessionKind = "planning"
	KindSwarm     SessionKind = "swarm"
)

// Valid reports whether k is a recognised session kind.
func (k SessionKind) Valid() bool {
	switch k {
	case KindIssueChat, KindPlanning, KindSwarm:
		return true
	}
	return false
}

// AllKinds returns the session kinds in display order.
func AllKinds() []SessionKind {
	return []SessionKind{KindIssueChat, KindPlanning, KindSwarm}
}

// SwarmStatus is the lifecycle state of a swarm mapping.
type SwarmStatus string

const (
	SwarmRunning SwarmStatus = "running"
	SwarmStopped SwarmStatus = "stopped"
	SwarmError   SwarmStatus = "error"
)

// Mapping binds one upstream session to a (project, issue, kind) triple.
// For swarm mappings SessionID is the orchestrator session; child sessions
// are discovered live from the workspace, never persisted.
type Mapping struct {
	ProjectID     string      `json:"project_id"`
	IssueNumber   int         `json:"issue_number"`
	Kind          SessionKind `json:"kind"`
	SessionID     string      `json:"session_id"`
	WorkspacePath string      `json:"workspace_path"`
	Created       time.Time   `json:"created"`
	Updated       time.Time   `json:"updated"`

	// Swarm-only fields.
	EpicID      string      `json:"epic_id,omitempty"`
	SwarmStatus SwarmStatus `json:"swarm_status,omitempty"`
	SwarmError  string      `json:"swarm_error,omitempty"`
}

// Key returns the mapping's identity triple for logs and errors.
func (m *Mapping) Key() string {
	return fmt.Sprintf("%s/issue-%d/%s", m.ProjectID, m.IssueNumber, m.Kind)
}
