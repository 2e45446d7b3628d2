// Package swarm manages the agent sessions executing one issue's epic: an
// orchestrator session that decomposes and delegates, plus the child
// sessions it spawns. Only the orchestrator is persisted; children are
// discovered live from the workspace.
package swarm

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ejohane/maestro-sub001/internal/beads"
	"github.com/ejohane/maestro-sub001/internal/config"
	"github.com/ejohane/maestro-sub001/internal/debug"
	"github.com/ejohane/maestro-sub001/internal/ghcli"
	"github.com/ejohane/maestro-sub001/internal/notify"
	"github.com/ejohane/maestro-sub001/internal/opencode"
	"github.com/ejohane/maestro-sub001/internal/store"
	"github.com/ejohane/maestro-sub001/internal/worktree"
	"github.com/ejohane/maestro-sub001/pkg/protocol"
)

var (
	// ErrNoSwarm means no running swarm exists for the issue.
	ErrNoSwarm = errors.New("no running swarm for issue")
	// ErrNoEpic means the issue has no linked epic bead to execute.
	ErrNoEpic = errors.New("no epic linked to issue")
	// ErrInvalidResponse means a permission response was not once/always/reject.
	ErrInvalidResponse = errors.New("invalid permission response")
)

// Project carries the per-project inputs a swarm call needs.
type Project struct {
	ID         string
	Name       string
	Root       string
	BaseBranch string
	Setup      []string
	BeadsDB    string
	Swarm      config.SwarmConfig
}

// Runtime is the slice of the agent runtime the manager drives.
type Runtime interface {
	CreateSession(ctx context.Context, dir, title string) (*opencode.Session, error)
	AbortSession(ctx context.Context, dir, sessionID string) error
	Sessions(ctx context.Context, dir string) ([]opencode.Session, error)
	SendMessage(ctx context.Context, dir, sessionID string, req opencode.MessageRequest) error
	RespondPermission(ctx context.Context, dir, sessionID, permissionID, response string) error
}

// Prober reports session liveness. Implemented by liveness.Prober.
type Prober interface {
	IsAlive(ctx context.Context, workspacePath, sessionID string) (bool, error)
}

// IssueClient is the slice of the tracker CLI the manager uses.
type IssueClient interface {
	Issue(ctx context.Context, dir string, number int) (*ghcli.Issue, error)
	AddLabel(ctx context.Context, dir string, number int, label string) error
	RemoveLabel(ctx context.Context, dir string, number int, label string) error
}

// Manager coordinates swarm start, status, permissions, and teardown.
type Manager struct {
	store    *store.Store
	runtime  Runtime
	prober   Prober
	issues   IssueClient
	cfg      *config.GlobalConfig
	notifier *notify.Notifier

	listBeads func(ctx context.Context, p Project) ([]beads.Bead, error)
	provision func(ctx context.Context, p Project, issueNumber int) (string, error)
}

func NewManager(st *store.Store, rt Runtime, pr Prober, issues IssueClient, cfg *config.GlobalConfig, notifier *notify.Notifier) *Manager {
	m := &Manager{
		store:    st,
		runtime:  rt,
		prober:   pr,
		issues:   issues,
		cfg:      cfg,
		notifier: notifier,
	}
	m.listBeads = m.defaultListBeads
	m.provision = m.defaultProvision
	return m
}

func (m *Manager) defaultListBeads(ctx context.Context, p Project) ([]beads.Bead, error) {
	bc := beads.New(m.cfg.Beads.Bin)
	if p.BeadsDB != "" {
		bc = bc.WithDB(p.BeadsDB)
	}
	return bc.List(ctx, p.Root)
}

func (m *Manager) defaultProvision(ctx context.Context, p Project, issueNumber int) (string, error) {
	base := filepath.Join(config.WorktreesDir(), p.ID)
	return worktree.NewManager(p.Root, base).Ensure(ctx, issueNumber, p.BaseBranch, p.Setup)
}

// StartResult is the outcome of a successful Start.
type StartResult struct {
	Mapping  *store.Mapping
	Warnings []string
}

// Start launches a swarm on an issue: resolve the epic's bead tree, ensure
// the issue worktree, create the orchestrator session, persist the mapping
// as running, label the issue (best-effort), and send the kickoff message
// asynchronously in build mode. A kickoff send failure is written through to
// the stored record as status error.
//
// Starting an issue whose swarm is already running and alive returns the
// existing record with a warning instead of doubling the orchestrator.
func (m *Manager) Start(ctx context.Context, p Project, issueNumber int) (*StartResult, error) {
	all, err := m.listBeads(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("loading beads for issue %d: %w", issueNumber, err)
	}
	tree := beads.BuildTree(all, issueNumber)
	if tree == nil {
		return nil, fmt.Errorf("%w: issue %d", ErrNoEpic, issueNumber)
	}

	if existing, err := m.store.Get(p.ID, issueNumber, store.KindSwarm); err != nil {
		return nil, err
	} else if existing != nil && existing.SwarmStatus == store.SwarmRunning {
		alive, probeErr := m.prober.IsAlive(ctx, existing.WorkspacePath, existing.SessionID)
		if probeErr == nil && alive {
			return &StartResult{
				Mapping:  existing,
				Warnings: []string{fmt.Sprintf("swarm already running for issue %d", issueNumber)},
			}, nil
		}
	}

	issue, err := m.issues.Issue(ctx, p.Root, issueNumber)
	if err != nil {
		return nil, fmt.Errorf("fetching issue %d: %w", issueNumber, err)
	}

	workspace, err := m.provision(ctx, p, issueNumber)
	if err != nil {
		return nil, fmt.Errorf("provisioning workspace for issue %d: %w", issueNumber, err)
	}

	sess, err := m.runtime.CreateSession(ctx, workspace, fmt.Sprintf("Swarm: #%d %s", issueNumber, issue.Title))
	if err != nil {
		return nil, fmt.Errorf("creating orchestrator session: %w", err)
	}

	mapping := &store.Mapping{
		ProjectID:     p.ID,
		IssueNumber:   issueNumber,
		Kind:          store.KindSwarm,
		SessionID:     sess.ID,
		WorkspacePath: workspace,
		EpicID:        tree.ID,
		SwarmStatus:   store.SwarmRunning,
	}
	if err := m.store.Put(mapping); err != nil {
		_ = m.runtime.AbortSession(ctx, workspace, sess.ID)
		return nil, fmt.Errorf("recording swarm for issue %d: %w", issueNumber, err)
	}

	var warnings []string
	if label := p.Swarm.Label; label != "" {
		if err := m.issues.AddLabel(ctx, p.Root, issueNumber, label); err != nil {
			warnings = append(warnings, fmt.Sprintf("adding label %q: %v", label, err))
		}
	}

	kickoff := protocol.RenderSwarmKickoff(protocol.SwarmKickoff{
		Instructions: m.cfg.InstructionBody(config.TemplateOrchestrator),
		IssueNumber:  issueNumber,
		IssueTitle:   issue.Title,
		IssueBody:    issue.Body,
		Branch:       worktree.BranchName(issueNumber),
		Tree:         tree,
		WorkerAgent:  p.Swarm.WorkerAgent,
		WorkerModel:  p.Swarm.WorkerModel,
		MaxWorkers:   p.Swarm.MaxWorkers,
	})
	go m.runKickoff(context.WithoutCancel(ctx), p, issueNumber, workspace, sess.ID, kickoff)

	if m.notifier != nil && m.notifier.Configured() {
		if err := m.notifier.SwarmStarted(ctx, p.Name, issueNumber, issue.Title); err != nil {
			debug.LogKV("swarm", "notify failed", "err", err)
		}
	}

	debug.LogKV("swarm", "started", "project", p.ID, "issue", issueNumber, "session", sess.ID, "epic", tree.ID)
	return &StartResult{Mapping: mapping, Warnings: warnings}, nil
}

// runKickoff sends the kickoff message and blocks until the orchestrator's
// turn completes. Detached from the starting request's context; the swarm
// outlives the HTTP call that launched it.
func (m *Manager) runKickoff(ctx context.Context, p Project, issueNumber int, workspace, sessionID, kickoff string) {
	err := m.runtime.SendMessage(ctx, workspace, sessionID, opencode.TextMessage(kickoff, opencode.ModeBuild))
	if err != nil {
		debug.LogKV("swarm", "kickoff failed", "project", p.ID, "issue", issueNumber, "err", err)
		if _, uerr := m.store.Update(p.ID, issueNumber, store.KindSwarm, func(mm *store.Mapping) {
			mm.SwarmStatus = store.SwarmError
			mm.SwarmError = err.Error()
		}); uerr != nil {
			debug.LogKV("swarm", "error write-through failed", "issue", issueNumber, "err", uerr)
		}
		if m.notifier != nil && m.notifier.Configured() {
			_ = m.notifier.SwarmFailed(ctx, p.Name, issueNumber, err.Error())
		}
		return
	}
	debug.LogKV("swarm", "orchestrator turn complete", "project", p.ID, "issue", issueNumber)
	if m.notifier != nil && m.notifier.Configured() {
		_ = m.notifier.Send(ctx, fmt.Sprintf("Swarm completed: %s #%d", p.Name, issueNumber),
			"Orchestrator finished its run.", notify.PriorityNormal)
	}
}

// StatusResult is a swarm's stored record plus a read-path warning, set when
// liveness could not be checked.
type StatusResult struct {
	Mapping *store.Mapping
	Warning string
}

// Status returns the swarm record for an issue, reconciling a stored
// "running" status against the orchestrator's actual liveness. A confirmed
// dead orchestrator downgrades the stored status to error before returning;
// a transport failure returns the stored record with a warning, because an
// unreachable runtime says nothing about the session.
func (m *Manager) Status(ctx context.Context, p Project, issueNumber int) (*StatusResult, error) {
	mapping, err := m.store.Get(p.ID, issueNumber, store.KindSwarm)
	if err != nil {
		return nil, err
	}
	if mapping == nil {
		return nil, fmt.Errorf("%w: issue %d", ErrNoSwarm, issueNumber)
	}
	if mapping.SwarmStatus != store.SwarmRunning {
		return &StatusResult{Mapping: mapping}, nil
	}

	alive, err := m.prober.IsAlive(ctx, mapping.WorkspacePath, mapping.SessionID)
	if err != nil {
		return &StatusResult{
			Mapping: mapping,
			Warning: fmt.Sprintf("liveness check unavailable: %v", err),
		}, nil
	}
	if alive {
		if err := m.store.Touch(p.ID, issueNumber, store.KindSwarm); err != nil {
			debug.LogKV("swarm", "touch failed", "issue", issueNumber, "err", err)
		}
		return &StatusResult{Mapping: mapping}, nil
	}

	updated, err := m.store.Update(p.ID, issueNumber, store.KindSwarm, func(mm *store.Mapping) {
		mm.SwarmStatus = store.SwarmError
		mm.SwarmError = "orchestrator session no longer exists"
	})
	if err != nil {
		return nil, fmt.Errorf("downgrading swarm for issue %d: %w", issueNumber, err)
	}
	debug.LogKV("swarm", "downgraded to error", "project", p.ID, "issue", issueNumber)
	return &StatusResult{Mapping: updated}, nil
}

// Children lists the orchestrator's live child sessions.
func (m *Manager) Children(ctx context.Context, p Project, issueNumber int) ([]opencode.Session, error) {
	mapping, err := m.store.Get(p.ID, issueNumber, store.KindSwarm)
	if err != nil {
		return nil, err
	}
	if mapping == nil {
		return nil, fmt.Errorf("%w: issue %d", ErrNoSwarm, issueNumber)
	}

	sessions, err := m.runtime.Sessions(ctx, mapping.WorkspacePath)
	if err != nil {
		return nil, err
	}
	children := make([]opencode.Session, 0, len(sessions))
	for _, s := range sessions {
		if s.ParentID == mapping.SessionID {
			children = append(children, s)
		}
	}
	return children, nil
}

// Respond forwards a permission decision to the session that raised it.
// sessionID may name a child session; empty means the orchestrator.
func (m *Manager) Respond(ctx context.Context, p Project, issueNumber int, sessionID, permissionID, response string) error {
	if !opencode.ValidPermissionResponse(response) {
		return fmt.Errorf("%w: %q", ErrInvalidResponse, response)
	}
	mapping, err := m.store.Get(p.ID, issueNumber, store.KindSwarm)
	if err != nil {
		return err
	}
	if mapping == nil {
		return fmt.Errorf("%w: issue %d", ErrNoSwarm, issueNumber)
	}
	if sessionID == "" {
		sessionID = mapping.SessionID
	}
	return m.runtime.RespondPermission(ctx, mapping.WorkspacePath, sessionID, permissionID, response)
}

// StopResult reports a stop. Stopped is true even when some teardown steps
// failed; Warning concatenates whatever went wrong.
type StopResult struct {
	Stopped bool   `json:"success"`
	Warning string `json:"warning,omitempty"`
}

// Stop tears a swarm down best-effort: abort the discovered children in
// parallel, abort the orchestrator, remove the tracking label, and mark the
// stored record stopped. Individual failures are collected, not fatal; the
// caller gets one result describing how clean the teardown was. An issue
// with no swarm, or one already stopped, returns ErrNoSwarm.
func (m *Manager) Stop(ctx context.Context, p Project, issueNumber int) (*StopResult, error) {
	mapping, err := m.store.Get(p.ID, issueNumber, store.KindSwarm)
	if err != nil {
		return nil, err
	}
	if mapping == nil || mapping.SwarmStatus == store.SwarmStopped {
		return nil, fmt.Errorf("%w: issue %d", ErrNoSwarm, issueNumber)
	}

	var mu sync.Mutex
	var warnings []string
	warn := func(format string, args ...any) {
		mu.Lock()
		warnings = append(warnings, fmt.Sprintf(format, args...))
		mu.Unlock()
	}

	sessions, err := m.runtime.Sessions(ctx, mapping.WorkspacePath)
	if err != nil {
		warn("listing child sessions: %v", err)
	} else {
		var g errgroup.Group
		for _, s := range sessions {
			if s.ParentID != mapping.SessionID {
				continue
			}
			child := s
			g.Go(func() error {
				if err := m.runtime.AbortSession(ctx, mapping.WorkspacePath, child.ID); err != nil {
					warn("aborting child %s: %v", child.ID, err)
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	if err := m.runtime.AbortSession(ctx, mapping.WorkspacePath, mapping.SessionID); err != nil {
		warn("aborting orchestrator: %v", err)
	}

	if label := p.Swarm.Label; label != "" {
		if err := m.issues.RemoveLabel(ctx, p.Root, issueNumber, label); err != nil {
			warn("removing label %q: %v", label, err)
		}
	}

	if _, err := m.store.Update(p.ID, issueNumber, store.KindSwarm, func(mm *store.Mapping) {
		mm.SwarmStatus = store.SwarmStopped
		mm.SwarmError = ""
	}); err != nil {
		warn("recording stop: %v", err)
	}

	if m.notifier != nil && m.notifier.Configured() {
		_ = m.notifier.SwarmStopped(ctx, p.Name, issueNumber)
	}

	debug.LogKV("swarm", "stopped", "project", p.ID, "issue", issueNumber, "warnings", len(warnings))
	return &StopResult{Stopped: true, Warning: strings.Join(warnings, "; ")}, nil
}
