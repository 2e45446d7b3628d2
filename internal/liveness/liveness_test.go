package liveness

import (
	"context"
	"errors"
	"testing"

	"github.com/ejohane/maestro-sub001/internal/opencode"
)

type fakeLister struct {
	sessions map[string][]opencode.Session
	err      error
	calls    int
}

func (f *fakeLister) Sessions(_ context.Context, dir string) ([]opencode.Session, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.sessions[dir], nil
}

func TestIsAlive(t *testing.T) {
	lister := &fakeLister{sessions: map[string][]opencode.Session{
		"/w": {{ID: "ses_live"}, {ID: "ses_other"}},
	}}
	p := New(lister)

	alive, err := p.IsAlive(context.Background(), "/w", "ses_live")
	if err != nil || !alive {
		t.Errorf("live session: alive=%v err=%v", alive, err)
	}

	alive, err = p.IsAlive(context.Background(), "/w", "ses_gone")
	if err != nil {
		t.Errorf("dead session should not error: %v", err)
	}
	if alive {
		t.Error("dead session reported alive")
	}

	alive, err = p.IsAlive(context.Background(), "/other", "ses_live")
	if err != nil || alive {
		t.Errorf("wrong workspace: alive=%v err=%v", alive, err)
	}
}

func TestIsAliveEmptySessionSkipsProbe(t *testing.T) {
	lister := &fakeLister{}
	p := New(lister)

	alive, err := p.IsAlive(context.Background(), "/w", "")
	if err != nil || alive {
		t.Errorf("empty id: alive=%v err=%v", alive, err)
	}
	if lister.calls != 0 {
		t.Errorf("empty id should not hit the runtime, calls = %d", lister.calls)
	}
}

func TestIsAliveTransportFailureIsDistinct(t *testing.T) {
	lister := &fakeLister{err: opencode.ErrUnavailable}
	p := New(lister)

	alive, err := p.IsAlive(context.Background(), "/w", "ses_live")
	if alive {
		t.Error("transport failure must fail closed")
	}
	if !errors.Is(err, opencode.ErrUnavailable) {
		t.Errorf("err = %v, want wrapped ErrUnavailable", err)
	}
}
