// Package ghcli wraps the gh CLI for issue metadata, comments, and labels.
// All calls run in the project checkout so gh resolves the right repository.
package ghcli

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/ejohane/maestro-sub001/internal/debug"
)

// Author is the gh representation of a user.
type Author struct {
	Login string `json:"login"`
}

// Label is the gh representation of an issue label.
type Label struct {
	Name        string `json:"name"`
	Color       string `json:"color,omitempty"`
	Description string `json:"description,omitempty"`
}

// Issue carries the fields the server exposes. gh emits RFC 3339 timestamps,
// which decode straight into time.Time.
type Issue struct {
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	Body      string    `json:"body,omitempty"`
	State     string    `json:"state"`
	Author    Author    `json:"author,omitempty"`
	Labels    []Label   `json:"labels,omitempty"`
	URL       string    `json:"url,omitempty"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// Comment is one issue comment.
type Comment struct {
	Author    Author    `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

// Runner executes the gh binary. Swapped out in tests.
type Runner func(ctx context.Context, dir, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}

// Client shells out to gh.
type Client struct {
	bin string
	run Runner
}

func New(bin string) *Client {
	if bin == "" {
		bin = "gh"
	}
	return &Client{bin: bin, run: execRunner}
}

func (c *Client) gh(ctx context.Context, dir string, args ...string) ([]byte, error) {
	debug.LogKV("ghcli", "exec", "cmd", c.bin+" "+strings.Join(args, " "), "dir", dir)
	out, err := c.run(ctx, dir, c.bin, args...)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %s: %w", c.bin, strings.Join(args, " "), strings.TrimSpace(string(out)), err)
	}
	return out, nil
}

// Issues lists open issues for the repository at dir.
func (c *Client) Issues(ctx context.Context, dir string) ([]Issue, error) {
	out, err := c.gh(ctx, dir, "issue", "list",
		"--json", "number,title,state,labels,updatedAt,url",
		"--limit", "200")
	if err != nil {
		return nil, err
	}
	var issues []Issue
	if err := json.Unmarshal(out, &issues); err != nil {
		return nil, fmt.Errorf("parsing issue list: %w", err)
	}
	return issues, nil
}

// Issue fetches one issue with its body.
func (c *Client) Issue(ctx context.Context, dir string, number int) (*Issue, error) {
	out, err := c.gh(ctx, dir, "issue", "view", strconv.Itoa(number),
		"--json", "number,title,body,state,author,labels,createdAt,updatedAt,url")
	if err != nil {
		return nil, err
	}
	var issue Issue
	if err := json.Unmarshal(out, &issue); err != nil {
		return nil, fmt.Errorf("parsing issue %d: %w", number, err)
	}
	return &issue, nil
}

// Comments fetches an issue's comment thread.
func (c *Client) Comments(ctx context.Context, dir string, number int) ([]Comment, error) {
	out, err := c.gh(ctx, dir, "issue", "view", strconv.Itoa(number), "--json", "comments")
	if err != nil {
		return nil, err
	}
	var wrapper struct {
		Comments []Comment `json:"comments"`
	}
	if err := json.Unmarshal(out, &wrapper); err != nil {
		return nil, fmt.Errorf("parsing comments for issue %d: %w", number, err)
	}
	return wrapper.Comments, nil
}

// AddComment posts a comment on the issue.
func (c *Client) AddComment(ctx context.Context, dir string, number int, body string) error {
	if strings.TrimSpace(body) == "" {
		return fmt.Errorf("comment body is empty")
	}
	_, err := c.gh(ctx, dir, "issue", "comment", strconv.Itoa(number), "--body", body)
	return err
}

// AddLabel attaches a label to the issue, creating it in the repository first
// so the edit cannot fail on a label that does not exist yet.
func (c *Client) AddLabel(ctx context.Context, dir string, number int, label string) error {
	if _, err := c.gh(ctx, dir, "label", "create", label, "--force", "--color", "5319E7"); err != nil {
		debug.LogKV("ghcli", "label create failed", "label", label, "err", err)
	}
	_, err := c.gh(ctx, dir, "issue", "edit", strconv.Itoa(number), "--add-label", label)
	return err
}

// RemoveLabel detaches a label from the issue.
func (c *Client) RemoveLabel(ctx context.Context, dir string, number int, label string) error {
	_, err := c.gh(ctx, dir, "issue", "edit", strconv.Itoa(number), "--remove-label", label)
	return err
}
