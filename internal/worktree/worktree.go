// Package worktree provisions one git worktree per issue so agent sessions
// work in isolation from the main checkout and from each other.
package worktree

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/ejohane/maestro-sub001/internal/debug"
)

// Info describes an active issue worktree.
type Info struct {
	Path   string
	Branch string
}

// Manager creates, reuses, and removes issue worktrees for one project.
// Worktrees live outside the repository under the server's state directory,
// so a checkout is never polluted with agent working copies.
type Manager struct {
	repoRoot string
	baseDir  string
}

// NewManager returns a manager for the repository at repoRoot whose worktrees
// live under baseDir (one subdirectory per issue).
func NewManager(repoRoot, baseDir string) *Manager {
	return &Manager{repoRoot: repoRoot, baseDir: baseDir}
}

// BranchName is the branch an issue's agents commit to.
func BranchName(issueNumber int) string {
	return fmt.Sprintf("maestro/issue-%d", issueNumber)
}

// PathFor is where the issue's worktree lives, whether or not it exists yet.
func (m *Manager) PathFor(issueNumber int) string {
	return filepath.Join(m.baseDir, fmt.Sprintf("issue-%d", issueNumber))
}

// Ensure returns the worktree path for an issue, creating it on first use.
//
// A new worktree is added on branch maestro/issue-<n>, created from
// baseBranch (or the current HEAD when empty) unless the branch already
// exists from an earlier run. setupCommands run once, inside the fresh
// worktree; if any fails the worktree is removed so a retry starts clean.
// An existing worktree is reused as-is without re-running setup.
func (m *Manager) Ensure(ctx context.Context, issueNumber int, baseBranch string, setupCommands []string) (string, error) {
	path := m.PathFor(issueNumber)
	if _, err := os.Stat(filepath.Join(path, ".git")); err == nil {
		debug.LogKV("worktree", "reusing", "path", path)
		return path, nil
	}

	if err := os.MkdirAll(m.baseDir, 0755); err != nil {
		return "", fmt.Errorf("creating worktree dir: %w", err)
	}

	branch := BranchName(issueNumber)
	createdBranch := false
	if _, err := m.git(ctx, "rev-parse", "--verify", "refs/heads/"+branch); err != nil {
		base := baseBranch
		if base == "" {
			head, err := m.git(ctx, "rev-parse", "HEAD")
			if err != nil {
				return "", fmt.Errorf("rev-parse HEAD: %w", err)
			}
			base = strings.TrimSpace(head)
		}
		if _, err := m.git(ctx, "branch", branch, base); err != nil {
			return "", fmt.Errorf("creating branch %s: %w", branch, err)
		}
		createdBranch = true
	}

	if _, err := m.git(ctx, "worktree", "add", path, branch); err != nil {
		if createdBranch {
			m.git(ctx, "branch", "-D", branch)
		}
		return "", fmt.Errorf("worktree add: %w", err)
	}

	for _, cmd := range setupCommands {
		if strings.TrimSpace(cmd) == "" {
			continue
		}
		if err := m.runSetup(ctx, path, cmd); err != nil {
			m.removePath(ctx, path)
			if createdBranch {
				m.git(ctx, "branch", "-D", branch)
			}
			return "", err
		}
	}

	debug.LogKV("worktree", "created", "branch", branch, "path", path)
	return path, nil
}

// Remove deletes an issue's worktree. The branch is kept; it holds the
// issue's committed work.
func (m *Manager) Remove(ctx context.Context, issueNumber int) error {
	return m.removePath(ctx, m.PathFor(issueNumber))
}

func (m *Manager) removePath(ctx context.Context, path string) error {
	if _, err := m.git(ctx, "worktree", "remove", "--force", path); err != nil {
		// Fallback: manual cleanup.
		if removeErr := os.RemoveAll(path); removeErr != nil {
			m.git(ctx, "worktree", "prune")
			return fmt.Errorf("worktree remove failed (%w) and manual cleanup also failed: %v", err, removeErr)
		}
		m.git(ctx, "worktree", "prune")
	}
	return nil
}

// List returns the issue worktrees currently registered for this project.
func (m *Manager) List(ctx context.Context) ([]Info, error) {
	out, err := m.git(ctx, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}

	var result []Info
	var current Info
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "worktree ") {
			if current.Path != "" && strings.HasPrefix(current.Path, m.baseDir) {
				result = append(result, current)
			}
			current = Info{Path: strings.TrimPrefix(line, "worktree ")}
		} else if strings.HasPrefix(line, "branch ") {
			current.Branch = strings.TrimPrefix(line, "branch refs/heads/")
		}
	}
	if current.Path != "" && strings.HasPrefix(current.Path, m.baseDir) {
		result = append(result, current)
	}
	return result, nil
}

func (m *Manager) runSetup(ctx context.Context, dir, command string) error {
	debug.LogKV("worktree", "setup exec", "cmd", command, "dir", dir)
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("setup command %q: %s: %w", command, strings.TrimSpace(string(out)), err)
	}
	return nil
}

// git runs a git command in the repo root and returns combined output.
func (m *Manager) git(ctx context.Context, args ...string) (string, error) {
	debug.LogKV("worktree", "git exec", "cmd", "git "+strings.Join(args, " "), "dir", m.repoRoot)
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = m.repoRoot
	out, err := cmd.CombinedOutput()
	if err != nil {
		debug.LogKV("worktree", "git exec failed", "cmd", "git "+strings.Join(args, " "), "error", err, "output_len", len(out))
		return string(out), fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), string(out), err)
	}
	return string(out), nil
}
