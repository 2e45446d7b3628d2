// Package planning resolves the current agent session for an issue, reusing
// a live one, recovering a dead one in place, and reporting when no session
// exists yet.
//
// The resolver never performs first-time setup. A fresh result tells the
// caller to provision the workspace and create the initial session itself;
// recovery of an existing mapping, by contrast, is handled here because the
// workspace already exists and only the session needs replacing.
package planning

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/ejohane/maestro-sub001/internal/debug"
	"github.com/ejohane/maestro-sub001/internal/opencode"
	"github.com/ejohane/maestro-sub001/internal/store"
)

// State is the terminal outcome of a resolution. Failures are returned as
// errors, not states, so every State carries a usable result.
type State string

const (
	// StateFresh means no mapping exists; the caller owns first-time setup.
	StateFresh State = "fresh"
	// StateReady means the stored session was confirmed alive and reused.
	StateReady State = "ready"
	// StateRecovered means the stored session was dead and a replacement was
	// created in the same workspace. Prior in-memory chat context is gone.
	StateRecovered State = "recovered"
	// StateCreated means no mapping existed and one was created on demand.
	StateCreated State = "created"
)

// Resolution is the answer to "which session should this client talk to".
type Resolution struct {
	State         State
	SessionID     string
	WorkspacePath string
	IsNewSession  bool
}

// Prober reports whether a session is alive. Implemented by liveness.Prober.
type Prober interface {
	IsAlive(ctx context.Context, workspacePath, sessionID string) (bool, error)
}

// Creator opens replacement sessions. Implemented by opencode.Client.
type Creator interface {
	CreateSession(ctx context.Context, dir, title string) (*opencode.Session, error)
}

// Mappings is the slice of the session store the resolver needs.
type Mappings interface {
	Get(projectID string, issueNumber int, kind store.SessionKind) (*store.Mapping, error)
	Put(m *store.Mapping) error
	Touch(projectID string, issueNumber int, kind store.SessionKind) error
	Update(projectID string, issueNumber int, kind store.SessionKind, fn func(*store.Mapping)) (*store.Mapping, error)
}

type Resolver struct {
	store   Mappings
	prober  Prober
	creator Creator
	group   singleflight.Group
}

func NewResolver(mappings Mappings, prober Prober, creator Creator) *Resolver {
	return &Resolver{
		store:   mappings,
		prober:  prober,
		creator: creator,
	}
}

// Resolve reports the session to use for (projectID, issueNumber, kind).
//
// A missing mapping resolves to StateFresh without creating anything. A live
// mapping resolves to StateReady. A confirmed-dead mapping is replaced with a
// new session in the same workspace and resolves to StateRecovered. Store or
// transport failures are returned as errors; a transport failure satisfies
// errors.Is(err, opencode.ErrUnavailable) so callers can distinguish "could
// not check" from "checked and dead".
//
// Concurrent calls for the same key are coalesced into one resolution, which
// runs detached from any single caller's context so that a disconnecting
// client cannot abort work shared with others. Coalescing is what prevents
// two clients racing a dead session into two replacements.
func (r *Resolver) Resolve(ctx context.Context, projectID string, issueNumber int, kind store.SessionKind) (*Resolution, error) {
	return r.coalesce(ctx, projectID, issueNumber, kind, "", "")
}

// ResolveOrCreate behaves like Resolve but creates the session on a missing
// mapping, binding it to workspacePath, instead of reporting StateFresh.
func (r *Resolver) ResolveOrCreate(ctx context.Context, projectID string, issueNumber int, kind store.SessionKind, workspacePath, title string) (*Resolution, error) {
	return r.coalesce(ctx, projectID, issueNumber, kind, workspacePath, title)
}

func (r *Resolver) coalesce(ctx context.Context, projectID string, issueNumber int, kind store.SessionKind, createIn, title string) (*Resolution, error) {
	key := fmt.Sprintf("%s/%d/%s", projectID, issueNumber, kind)
	v, err, shared := r.group.Do(key, func() (any, error) {
		return r.resolve(context.WithoutCancel(ctx), projectID, issueNumber, kind, createIn, title)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		debug.LogKV("planning", "resolution coalesced", "key", key)
	}
	return v.(*Resolution), nil
}

func (r *Resolver) resolve(ctx context.Context, projectID string, issueNumber int, kind store.SessionKind, createIn, title string) (*Resolution, error) {
	m, err := r.store.Get(projectID, issueNumber, kind)
	if err != nil {
		return nil, fmt.Errorf("resolving %s session for issue %d: %w", kind, issueNumber, err)
	}
	if m == nil {
		if createIn == "" {
			return &Resolution{State: StateFresh}, nil
		}
		return r.create(ctx, projectID, issueNumber, kind, createIn, title)
	}

	alive, err := r.prober.IsAlive(ctx, m.WorkspacePath, m.SessionID)
	if err != nil {
		return nil, fmt.Errorf("resolving %s session for issue %d: %w", kind, issueNumber, err)
	}
	if alive {
		if err := r.store.Touch(projectID, issueNumber, kind); err != nil {
			debug.LogKV("planning", "touch failed", "key", m.Key(), "err", err)
		}
		return &Resolution{State: StateReady, SessionID: m.SessionID, WorkspacePath: m.WorkspacePath}, nil
	}

	return r.recover(ctx, projectID, issueNumber, kind)
}

// recover replaces a dead session in place. The mapping is re-read and the
// probe repeated right before creating, so a replacement made by another
// process in the window since the first probe is adopted instead of doubled.
func (r *Resolver) recover(ctx context.Context, projectID string, issueNumber int, kind store.SessionKind) (*Resolution, error) {
	current, err := r.store.Get(projectID, issueNumber, kind)
	if err != nil {
		return nil, fmt.Errorf("recovering %s session for issue %d: %w", kind, issueNumber, err)
	}
	if current == nil {
		// Someone removed the mapping since we read it.
		return &Resolution{State: StateFresh}, nil
	}
	alive, err := r.prober.IsAlive(ctx, current.WorkspacePath, current.SessionID)
	if err != nil {
		return nil, fmt.Errorf("recovering %s session for issue %d: %w", kind, issueNumber, err)
	}
	if alive {
		// A replacement made by another process in the window since the
		// first probe, or a listing flap. Either way the session answers.
		return &Resolution{State: StateReady, SessionID: current.SessionID, WorkspacePath: current.WorkspacePath}, nil
	}

	debug.LogKV("planning", "recreating dead session", "key", current.Key(), "dead", current.SessionID)
	sess, err := r.creator.CreateSession(ctx, current.WorkspacePath, fmt.Sprintf("Issue #%d %s", issueNumber, kind))
	if err != nil {
		return nil, fmt.Errorf("recovering %s session for issue %d: %w", kind, issueNumber, err)
	}
	updated, err := r.store.Update(projectID, issueNumber, kind, func(m *store.Mapping) {
		m.SessionID = sess.ID
	})
	if err != nil {
		return nil, fmt.Errorf("recording replacement session for issue %d: %w", issueNumber, err)
	}
	return &Resolution{
		State:         StateRecovered,
		SessionID:     updated.SessionID,
		WorkspacePath: updated.WorkspacePath,
		IsNewSession:  true,
	}, nil
}

// create opens the first session for a mapping that does not exist yet.
func (r *Resolver) create(ctx context.Context, projectID string, issueNumber int, kind store.SessionKind, workspacePath, title string) (*Resolution, error) {
	sess, err := r.creator.CreateSession(ctx, workspacePath, title)
	if err != nil {
		return nil, fmt.Errorf("creating %s session for issue %d: %w", kind, issueNumber, err)
	}
	if err := r.store.Put(&store.Mapping{
		ProjectID:     projectID,
		IssueNumber:   issueNumber,
		Kind:          kind,
		SessionID:     sess.ID,
		WorkspacePath: workspacePath,
	}); err != nil {
		return nil, fmt.Errorf("recording %s session for issue %d: %w", kind, issueNumber, err)
	}
	return &Resolution{
		State:         StateCreated,
		SessionID:     sess.ID,
		WorkspacePath: workspacePath,
		IsNewSession:  true,
	}, nil
}
