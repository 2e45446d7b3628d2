// Package relay demultiplexes the runtime's per-workspace event feed to any
// number of session-scoped consumers.
//
// One upstream subscription exists per workspace path, created when the first
// consumer attaches and torn down when the last one leaves. Each consumer has
// its own unbounded queue, so a slow reader delays only itself; the fan-out
// loop never blocks. Text and reasoning parts arrive from upstream as
// cumulative snapshots and leave here as deltas; tool parts are forwarded as
// full state snapshots with duplicate suppression.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ejohane/maestro-sub001/internal/debug"
	"github.com/ejohane/maestro-sub001/internal/eventq"
	"github.com/ejohane/maestro-sub001/internal/events"
	"github.com/ejohane/maestro-sub001/internal/hexid"
	"github.com/ejohane/maestro-sub001/internal/opencode"
)

// FrameSource is a live upstream event subscription.
// *opencode.EventStream satisfies it.
type FrameSource interface {
	Next() (*opencode.Frame, error)
	Close() error
}

// Opener creates upstream subscriptions. Implemented by ClientOpener for the
// real runtime and by fakes in tests.
type Opener interface {
	Events(ctx context.Context, dir string) (FrameSource, error)
}

// ClientOpener adapts an opencode.Client to the Opener interface.
type ClientOpener struct {
	Client *opencode.Client
}

func (o ClientOpener) Events(ctx context.Context, dir string) (FrameSource, error) {
	return o.Client.Events(ctx, dir)
}

// Relay owns the per-workspace subscriptions and their consumers.
type Relay struct {
	opener Opener

	mu   sync.Mutex
	subs map[string]*subscription
}

func New(opener Opener) *Relay {
	return &Relay{
		opener: opener,
		subs:   make(map[string]*subscription),
	}
}

// subscription is one shared upstream feed for a workspace.
type subscription struct {
	dir       string
	source    FrameSource
	cancel    context.CancelFunc
	consumers map[string]*Consumer
	failed    bool
}

// partKey identifies one part's delivery state within a consumer.
type partKey struct {
	id  string
	typ string
}

// partTrack remembers what a consumer has already been sent for a part.
type partTrack struct {
	textLen    int
	toolStatus string
	toolOutput string
	toolError  string
}

// Consumer is one attached client of a workspace feed.
//
// Out delivers payloads in upstream arrival order and is closed at end of
// stream. After the close, Err reports nil for a normal end (session idle or
// unsubscribe) and the terminal failure otherwise; the failure has already
// been delivered as a StreamError payload.
type Consumer struct {
	id        string
	sessionID string

	mu        sync.Mutex
	queue     []events.Payload
	wake      chan struct{}
	closed    bool
	abandoned bool
	err       error

	parts map[partKey]*partTrack
	gone  chan struct{}
	out   chan events.Payload
}

func (c *Consumer) ID() string { return c.id }

func (c *Consumer) Out() <-chan events.Payload { return c.out }

// Err returns the terminal error, valid once Out is closed.
func (c *Consumer) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// deliver appends a payload to the consumer's queue. Never blocks.
func (c *Consumer) deliver(p events.Payload) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.queue = append(c.queue, p)
	c.mu.Unlock()
	eventq.Offer(c.wake, struct{}{})
}

// finish marks the stream ended. When failure is non-nil it is recorded and
// has already been queued as a StreamError payload by the caller.
func (c *Consumer) finish(failure error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.err = failure
	c.mu.Unlock()
	eventq.Offer(c.wake, struct{}{})
}

// abandon records that the client stopped reading. Undelivered payloads are
// dropped so pump can exit even with nobody on the other end of out.
func (c *Consumer) abandon() {
	c.mu.Lock()
	if !c.abandoned {
		c.abandoned = true
		close(c.gone)
	}
	c.mu.Unlock()
	c.finish(nil)
}

// pump moves queued payloads to the out channel. A blocked reader stalls only
// this goroutine; the queue keeps absorbing events meanwhile.
func (c *Consumer) pump() {
	defer close(c.out)
	for {
		c.mu.Lock()
		batch := c.queue
		c.queue = nil
		closed := c.closed
		c.mu.Unlock()

		for _, p := range batch {
			select {
			case c.out <- p:
			case <-c.gone:
				return
			}
		}
		if closed {
			c.mu.Lock()
			drained := len(c.queue) == 0
			c.mu.Unlock()
			if drained {
				return
			}
			continue
		}
		select {
		case <-c.wake:
		case <-c.gone:
			return
		}
	}
}

// Subscribe attaches a consumer to a workspace feed. sessionID filters which
// session's events the consumer sees; empty means all sessions in the
// workspace. The upstream subscription is shared and created on first use.
func (r *Relay) Subscribe(ctx context.Context, dir, sessionID string) (*Consumer, error) {
	c := &Consumer{
		id:        hexid.New(),
		sessionID: sessionID,
		wake:      make(chan struct{}, 1),
		parts:     make(map[partKey]*partTrack),
		gone:      make(chan struct{}),
		out:       make(chan events.Payload),
	}

	r.mu.Lock()
	sub, ok := r.subs[dir]
	if !ok || sub.failed {
		// The stream must outlive the first subscriber's request context.
		streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		source, err := r.opener.Events(streamCtx, dir)
		if err != nil {
			cancel()
			r.mu.Unlock()
			return nil, err
		}
		sub = &subscription{
			dir:       dir,
			source:    source,
			cancel:    cancel,
			consumers: make(map[string]*Consumer),
		}
		r.subs[dir] = sub
		go r.readLoop(sub)
	}
	sub.consumers[c.id] = c
	n := len(sub.consumers)
	r.mu.Unlock()

	go c.pump()
	debug.LogKV("relay", "consumer attached", "dir", dir, "session", sessionID, "consumer", c.id, "consumers", n)
	return c, nil
}

// Unsubscribe detaches a consumer. The shared upstream subscription is closed
// only when no consumers remain on the workspace.
func (r *Relay) Unsubscribe(dir string, c *Consumer) {
	r.mu.Lock()
	var idle *subscription
	if sub, ok := r.subs[dir]; ok {
		delete(sub.consumers, c.id)
		if len(sub.consumers) == 0 {
			delete(r.subs, dir)
			idle = sub
		}
	}
	r.mu.Unlock()

	if idle != nil {
		idle.cancel()
		idle.source.Close()
		debug.LogKV("relay", "workspace feed closed", "dir", dir)
	}
	c.abandon()
}

// ConsumerCount reports the attached consumers for a workspace.
func (r *Relay) ConsumerCount(dir string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sub, ok := r.subs[dir]; ok {
		return len(sub.consumers)
	}
	return 0
}

// readLoop pulls frames from the shared source and fans them out until the
// source ends or fails.
func (r *Relay) readLoop(sub *subscription) {
	for {
		frame, err := sub.source.Next()
		if err != nil {
			r.failAll(sub)
			return
		}
		r.dispatch(sub, frame)
	}
}

// failAll ends every consumer on the subscription with SERVICE_UNAVAILABLE
// and removes it so the next Subscribe reconnects.
func (r *Relay) failAll(sub *subscription) {
	r.mu.Lock()
	sub.failed = true
	if r.subs[sub.dir] == sub {
		delete(r.subs, sub.dir)
	}
	consumers := make([]*Consumer, 0, len(sub.consumers))
	for _, c := range sub.consumers {
		consumers = append(consumers, c)
	}
	sub.consumers = make(map[string]*Consumer)
	r.mu.Unlock()

	sub.cancel()
	sub.source.Close()

	if len(consumers) == 0 {
		return
	}
	debug.LogKV("relay", "workspace feed lost", "dir", sub.dir, "consumers", len(consumers))
	for _, c := range consumers {
		c.deliver(events.StreamError{Error: "event stream lost", Code: events.CodeServiceUnavailable})
		c.finish(errStreamLost)
	}
}

var errStreamLost = errors.New("event stream lost")

// dispatch routes one upstream frame to the matching consumers.
func (r *Relay) dispatch(sub *subscription, frame *opencode.Frame) {
	// Envelope-scoped frames for other workspaces are not ours.
	if frame.Directory != "" && frame.Directory != sub.dir {
		return
	}

	switch frame.Event.Type {
	case opencode.EventPartUpdated:
		var pu opencode.PartUpdated
		if err := json.Unmarshal(frame.Event.Properties, &pu); err != nil {
			return
		}
		r.forEachConsumer(sub, pu.Part.SessionID, func(c *Consumer) {
			if p, ok := c.translatePart(&pu.Part); ok {
				c.deliver(p)
			}
		})

	case opencode.EventSessionStatus:
		var ss opencode.SessionStatus
		if err := json.Unmarshal(frame.Event.Properties, &ss); err != nil {
			return
		}
		if !ss.Status.Idle() {
			return
		}
		// Idle ends the turn for consumers bound to that session. Unfiltered
		// observers keep watching the workspace. The consumer stays registered
		// until its handler unsubscribes.
		r.mu.Lock()
		var ended []*Consumer
		for _, c := range sub.consumers {
			if c.sessionID != "" && c.sessionID == ss.SessionID {
				ended = append(ended, c)
			}
		}
		r.mu.Unlock()
		for _, c := range ended {
			c.finish(nil)
		}

	case opencode.EventSessionError:
		var se opencode.SessionError
		if err := json.Unmarshal(frame.Event.Properties, &se); err != nil {
			return
		}
		payload := events.StreamError{Error: decodeErrorPayload(se.Error), Code: events.CodeSessionError}
		r.mu.Lock()
		var ended []*Consumer
		for _, c := range sub.consumers {
			if se.SessionID == "" || c.sessionID == "" || c.sessionID == se.SessionID {
				ended = append(ended, c)
			}
		}
		r.mu.Unlock()
		for _, c := range ended {
			c.deliver(payload)
			c.finish(errSession(se))
		}

	case opencode.EventPermission:
		var perm opencode.Permission
		if err := json.Unmarshal(frame.Event.Properties, &perm); err != nil {
			return
		}
		p := events.PermissionRequest{
			Type:      "permission",
			ID:        perm.ID,
			SessionID: perm.SessionID,
			Title:     perm.Title,
			CallID:    perm.CallID,
			Metadata:  perm.Metadata,
		}
		r.forEachConsumer(sub, perm.SessionID, func(c *Consumer) {
			c.deliver(p)
		})
	}
	// Unknown event types are dropped.
}

// forEachConsumer runs fn for every consumer whose filter matches sessionID.
func (r *Relay) forEachConsumer(sub *subscription, sessionID string, fn func(*Consumer)) {
	r.mu.Lock()
	matched := make([]*Consumer, 0, len(sub.consumers))
	for _, c := range sub.consumers {
		if c.sessionID == "" || c.sessionID == sessionID {
			matched = append(matched, c)
		}
	}
	r.mu.Unlock()

	for _, c := range matched {
		fn(c)
	}
}

// translatePart converts an upstream part snapshot into this consumer's next
// client payload, applying delta computation and duplicate suppression.
// Called only from the subscription's read loop, which serializes access to
// the part-state map.
func (c *Consumer) translatePart(part *opencode.Part) (events.Payload, bool) {
	key := partKey{id: part.ID, typ: part.Type}

	switch part.Type {
	case opencode.PartText, opencode.PartReasoning:
		track := c.parts[key]
		if track == nil {
			track = &partTrack{}
			c.parts[key] = track
		}
		delta, ok := nextDelta(track, part.Text)
		if !ok {
			return nil, false
		}
		if part.Type == opencode.PartReasoning {
			return events.ReasoningDelta{
				Type:       "reasoning",
				PartID:     part.ID,
				Delta:      delta,
				DurationMS: part.Time.DurationMS(),
			}, true
		}
		return events.TextDelta{Type: "text", PartID: part.ID, Delta: delta}, true

	case opencode.PartTool:
		state := part.State
		if state == nil {
			return nil, false
		}
		track := c.parts[key]
		if track != nil &&
			track.toolStatus == state.Status &&
			track.toolOutput == state.Output &&
			track.toolError == state.Error {
			return nil, false
		}
		c.parts[key] = &partTrack{
			toolStatus: state.Status,
			toolOutput: state.Output,
			toolError:  state.Error,
		}
		return events.ToolUpdate{
			Type:   "tool",
			PartID: part.ID,
			CallID: part.CallID,
			Name:   part.Tool,
			Status: state.Status,
			Input:  decodeToolInput(state.Input),
			Output: state.Output,
			Error:  state.Error,
		}, true
	}
	return nil, false
}

// nextDelta returns the unseen suffix of a cumulative text snapshot. A
// shrunken snapshot means the part restarted; the full new text is emitted.
func nextDelta(track *partTrack, text string) (string, bool) {
	if len(text) < track.textLen {
		track.textLen = len(text)
		if text == "" {
			return "", false
		}
		return text, true
	}
	if len(text) == track.textLen {
		return "", false
	}
	delta := text[track.textLen:]
	track.textLen = len(text)
	return delta, true
}

// decodeToolInput keeps tool inputs as structured JSON when possible.
func decodeToolInput(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}

// decodeErrorPayload forwards the upstream error content verbatim, falling
// back to a generic message when none was supplied.
func decodeErrorPayload(raw json.RawMessage) any {
	if len(raw) == 0 {
		return "session error"
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}

func errSession(se opencode.SessionError) error {
	if len(se.Error) == 0 {
		return errors.New("session error")
	}
	return fmt.Errorf("session error: %s", se.Error)
}
