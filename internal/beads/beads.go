// Package beads reads the project's task graph from the bd issue tracker and
// projects it into per-issue trees.
package beads

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/ejohane/maestro-sub001/internal/debug"
)

// Bead types as stored by bd.
const (
	TypeEpic     = "epic"
	TypeTask     = "task"
	TypeBug      = "bug"
	TypeFeature  = "feature"
	TypeQuestion = "question"
	TypeDocs     = "docs"
)

// Bead statuses.
const (
	StatusOpen       = "open"
	StatusInProgress = "in_progress"
	StatusClosed     = "closed"
)

// Bead is one node of the task graph. Field names follow bd's JSON output.
type Bead struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	IssueType   string `json:"issue_type"`
	Priority    int    `json:"priority"`
	Status      string `json:"status,omitempty"`
	Parent      string `json:"parent,omitempty"`
	ExternalRef string `json:"external_ref,omitempty"`
}

// Runner executes the bd binary. Swapped out in tests.
type Runner func(ctx context.Context, dir, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}

// Client shells out to the bd CLI. The zero value is not usable; use New.
type Client struct {
	bin string
	db  string
	run Runner
}

func New(bin string) *Client {
	if bin == "" {
		bin = "bd"
	}
	return &Client{bin: bin, run: execRunner}
}

// WithDB returns a client that passes an explicit database path instead of
// relying on bd's working-directory discovery.
func (c *Client) WithDB(path string) *Client {
	clone := *c
	clone.db = path
	return &clone
}

// List returns every bead in the project's database. dir is the project
// checkout, which bd uses to locate the database unless one was pinned.
func (c *Client) List(ctx context.Context, dir string) ([]Bead, error) {
	args := []string{"list", "--json"}
	if c.db != "" {
		args = append([]string{"--db", c.db}, args...)
	}
	out, err := c.run(ctx, dir, c.bin, args...)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %s: %w", c.bin, strings.Join(args, " "), strings.TrimSpace(string(out)), err)
	}
	var all []Bead
	if err := json.Unmarshal(out, &all); err != nil {
		return nil, fmt.Errorf("parsing %s list output: %w", c.bin, err)
	}
	debug.LogKV("beads", "listed", "dir", dir, "count", len(all))
	return all, nil
}
