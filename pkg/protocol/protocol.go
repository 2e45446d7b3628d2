// Package protocol builds the messages maestro sends into agent sessions.
//
// Agents never see maestro's internals; they see one kickoff message telling
// them what to do and which CLIs to do it with (`bd` for the task graph,
// `gh` for the issue, git for committing). This package renders those
// messages from the instruction templates in the config catalog plus the
// live issue and bead state.
package protocol

import (
	"fmt"
	"strings"

	"github.com/ejohane/maestro-sub001/internal/beads"
	"github.com/ejohane/maestro-sub001/internal/ghcli"
)

// SwarmKickoff carries everything the orchestrator session is told at start.
type SwarmKickoff struct {
	Instructions string // template body from the instruction catalog
	IssueNumber  int
	IssueTitle   string
	IssueBody    string
	Branch       string
	Tree         *beads.Tree
	WorkerAgent  string
	WorkerModel  string
	MaxWorkers   int
}

// RenderSwarmKickoff builds the orchestrator's kickoff message.
func RenderSwarmKickoff(k SwarmKickoff) string {
	var b strings.Builder
	if k.Instructions != "" {
		b.WriteString(strings.TrimRight(k.Instructions, "\n"))
		b.WriteString("\n\n")
	}

	fmt.Fprintf(&b, "## Issue #%d: %s\n\n", k.IssueNumber, k.IssueTitle)
	if body := strings.TrimSpace(k.IssueBody); body != "" {
		b.WriteString(body)
		b.WriteString("\n\n")
	}

	if k.Tree != nil {
		fmt.Fprintf(&b, "## Task breakdown (epic %s)\n\n", k.Tree.ID)
		b.WriteString(RenderTree(k.Tree))
		b.WriteString("\n")
		b.WriteString("Track progress in bd: `bd update <id> --status in_progress` when a task starts and `--status closed` when its work is merged.\n\n")
	}

	b.WriteString("## Constraints\n\n")
	if k.Branch != "" {
		fmt.Fprintf(&b, "- Commit all work to the `%s` branch in this workspace.\n", k.Branch)
	}
	if k.WorkerAgent != "" {
		worker := k.WorkerAgent
		if k.WorkerModel != "" {
			worker += " (" + k.WorkerModel + ")"
		}
		fmt.Fprintf(&b, "- Delegate implementation to `%s` child sessions.\n", worker)
	}
	if k.MaxWorkers > 0 {
		fmt.Fprintf(&b, "- Run at most %d child sessions at a time.\n", k.MaxWorkers)
	}
	fmt.Fprintf(&b, "- Comment on issue #%d with `gh issue comment` when the epic is done or you are blocked.\n", k.IssueNumber)
	return b.String()
}

// RenderTree renders a bead tree as an indented task list.
func RenderTree(t *beads.Tree) string {
	var b strings.Builder
	renderNode(&b, t, 0)
	return b.String()
}

func renderNode(b *strings.Builder, n *beads.Tree, depth int) {
	status := n.Status
	if status == "" {
		status = beads.StatusOpen
	}
	fmt.Fprintf(b, "%s- [%s] %s (%s, P%d, %s)\n",
		strings.Repeat("  ", depth), n.ID, n.Title, n.IssueType, n.Priority, status)
	if desc := strings.TrimSpace(n.Description); desc != "" && depth == 0 {
		fmt.Fprintf(b, "%s  %s\n", strings.Repeat("  ", depth), firstLine(desc))
	}
	for _, c := range n.Children {
		renderNode(b, c, depth+1)
	}
}

// IssueContext carries the material injected into chat and planning sessions
// so the agent answers from the real issue instead of guessing.
type IssueContext struct {
	Instructions string
	Issue        *ghcli.Issue
	Comments     []ghcli.Comment
	Tree         *beads.Tree
}

// RenderIssueContext builds a context-injection message for a session.
func RenderIssueContext(c IssueContext) string {
	var b strings.Builder
	if c.Instructions != "" {
		b.WriteString(strings.TrimRight(c.Instructions, "\n"))
		b.WriteString("\n\n")
	}
	if c.Issue != nil {
		fmt.Fprintf(&b, "## Issue #%d: %s\n\n", c.Issue.Number, c.Issue.Title)
		if c.Issue.Author.Login != "" {
			fmt.Fprintf(&b, "Opened by @%s, state %s.\n\n", c.Issue.Author.Login, strings.ToLower(c.Issue.State))
		}
		if body := strings.TrimSpace(c.Issue.Body); body != "" {
			b.WriteString(body)
			b.WriteString("\n\n")
		}
	}
	if len(c.Comments) > 0 {
		b.WriteString("## Comments\n\n")
		for _, cm := range c.Comments {
			fmt.Fprintf(&b, "@%s:\n%s\n\n", cm.Author.Login, strings.TrimSpace(cm.Body))
		}
	}
	if c.Tree != nil {
		b.WriteString("## Current task breakdown\n\n")
		b.WriteString(RenderTree(c.Tree))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
