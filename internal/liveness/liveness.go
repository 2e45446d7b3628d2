// Package liveness answers one question: is a stored session id still alive
// in its workspace? The answer is fail-closed, but a transport failure is
// reported distinctly so callers can avoid discarding recoverable sessions.
package liveness

import (
	"context"
	"fmt"

	"github.com/ejohane/maestro-sub001/internal/debug"
	"github.com/ejohane/maestro-sub001/internal/opencode"
)

// SessionLister is the slice of the runtime client the prober needs.
type SessionLister interface {
	Sessions(ctx context.Context, dir string) ([]opencode.Session, error)
}

type Prober struct {
	lister SessionLister
}

func New(lister SessionLister) *Prober {
	return &Prober{lister: lister}
}

// IsAlive reports whether sessionID exists in the workspace's session list.
//
//	(true, nil)   session present
//	(false, nil)  session confirmed gone, or sessionID empty
//	(false, err)  the listing itself failed; liveness is unknown
func (p *Prober) IsAlive(ctx context.Context, workspace, sessionID string) (bool, error) {
	if sessionID == "" {
		return false, nil
	}

	sessions, err := p.lister.Sessions(ctx, workspace)
	if err != nil {
		return false, fmt.Errorf("probing session %s: %w", sessionID, err)
	}

	for _, s := range sessions {
		if s.ID == sessionID {
			return true, nil
		}
	}
	debug.LogKV("liveness", "session not in workspace listing", "workspace", workspace, "session", sessionID)
	return false, nil
}
