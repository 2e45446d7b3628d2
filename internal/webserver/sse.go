package webserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ejohane/maestro-sub001/internal/events"
	"github.com/ejohane/maestro-sub001/internal/opencode"
	"github.com/ejohane/maestro-sub001/internal/relay"
)

// doneSentinel is the final frame of a successfully completed stream.
const doneSentinel = "[DONE]"

// sseWriter writes server-sent event frames, flushing after each one.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return nil, false
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &sseWriter{w: w, flusher: flusher}, true
}

// Send writes one data frame.
func (s *sseWriter) Send(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Done terminates a stream that completed normally.
func (s *sseWriter) Done() {
	fmt.Fprintf(s.w, "data: %s\n\n", doneSentinel)
	s.flusher.Flush()
}

// Fail terminates a stream with an error payload. No done sentinel follows.
func (s *sseWriter) Fail(message any, code string) {
	_ = s.Send(events.StreamError{Error: message, Code: code})
}

// streamRelay attaches an SSE response to a relay consumer until the
// consumer ends or the client disconnects. send, when non-nil, is started
// only after the subscription is in place, so the turn's first events
// cannot slip past the stream; a send failure terminates the stream with
// its error. The consumer's own terminal failure has already been
// delivered as a StreamError payload, so only a clean end emits the done
// sentinel.
func streamRelay(w http.ResponseWriter, r *http.Request, rel *relay.Relay, dir, sessionID string, heartbeat time.Duration, send func() <-chan error) {
	sse, ok := newSSEWriter(w)
	if !ok {
		return
	}

	ctx := r.Context()
	cons, err := rel.Subscribe(ctx, dir, sessionID)
	if err != nil {
		sse.Fail(err.Error(), codeServiceUnavailable)
		return
	}
	defer rel.Unsubscribe(dir, cons)

	var sendErr <-chan error
	if send != nil {
		sendErr = send()
	}

	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case payload, open := <-cons.Out():
			if !open {
				if cons.Err() == nil {
					sse.Done()
				}
				return
			}
			if err := sse.Send(payload); err != nil {
				return
			}
		case err := <-sendErr:
			if err != nil {
				sse.Fail(err.Error(), sendErrorCode(err))
				return
			}
			sendErr = nil
		case <-ticker.C:
			if err := sse.Send(events.NewHeartbeat()); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func sendErrorCode(err error) string {
	if errors.Is(err, opencode.ErrUnavailable) {
		return codeServiceUnavailable
	}
	return codeSessionError
}

// streamMessagesWatch polls the session history and pushes a full snapshot
// whenever its shape changes, with heartbeats in between. It is the fallback
// for clients that cannot hold a live event stream.
func streamMessagesWatch(w http.ResponseWriter, r *http.Request, rt *opencode.Client, dir, sessionID string, poll, heartbeat time.Duration) {
	sse, ok := newSSEWriter(w)
	if !ok {
		return
	}

	ctx := r.Context()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	heartbeats := time.NewTicker(heartbeat)
	defer heartbeats.Stop()

	var lastSig string
	push := func() bool {
		msgs, err := rt.Messages(ctx, dir, sessionID)
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			sse.Fail(err.Error(), sendErrorCode(err))
			return false
		}
		sig := messagesSignature(msgs)
		if sig == lastSig {
			return true
		}
		lastSig = sig
		return sse.Send(events.MessagesSnapshot{Type: "messages", Messages: msgs, Count: len(msgs)}) == nil
	}

	if !push() {
		return
	}
	for {
		select {
		case <-ticker.C:
			if !push() {
				return
			}
		case <-heartbeats.C:
			if err := sse.Send(events.NewHeartbeat()); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// messagesSignature is a cheap structural fingerprint of a history: message
// count plus the last message's identity and content size. Streaming updates
// to the tail message change it without hashing the whole transcript.
func messagesSignature(msgs []opencode.Message) string {
	if len(msgs) == 0 {
		return "0"
	}
	last := msgs[len(msgs)-1]
	size := 0
	for _, p := range last.Parts {
		size += len(p.Text)
		if p.State != nil {
			size += len(p.State.Output) + len(p.State.Error)
		}
	}
	return fmt.Sprintf("%d:%s:%d:%d", len(msgs), last.Info.ID, len(last.Parts), size)
}

// detachedSend runs a blocking message send decoupled from the request
// context and reports the outcome on the returned channel.
func detachedSend(ctx context.Context, rt *opencode.Client, dir, sessionID string, req opencode.MessageRequest) <-chan error {
	errs := make(chan error, 1)
	go func() {
		errs <- rt.SendMessage(context.WithoutCancel(ctx), dir, sessionID, req)
	}()
	return errs
}
