package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/ejohane/maestro-sub001/internal/events"
	"github.com/ejohane/maestro-sub001/internal/opencode"
)

type frameResult struct {
	frame *opencode.Frame
	err   error
}

type fakeSource struct {
	frames chan frameResult

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		frames: make(chan frameResult, 256),
		done:   make(chan struct{}),
	}
}

func (s *fakeSource) Next() (*opencode.Frame, error) {
	select {
	case r := <-s.frames:
		return r.frame, r.err
	case <-s.done:
		return nil, io.EOF
	}
}

func (s *fakeSource) Close() error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	s.mu.Unlock()
	return nil
}

func (s *fakeSource) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSource) fail(err error) {
	s.frames <- frameResult{err: err}
}

type fakeOpener struct {
	mu      sync.Mutex
	sources []*fakeSource
}

func (o *fakeOpener) Events(ctx context.Context, dir string) (FrameSource, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := newFakeSource()
	o.sources = append(o.sources, s)
	return s, nil
}

func (o *fakeOpener) opens() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.sources)
}

func (o *fakeOpener) source(i int) *fakeSource {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sources[i]
}

func frame(t *testing.T, dir, eventType string, props any) *opencode.Frame {
	t.Helper()
	raw, err := json.Marshal(props)
	if err != nil {
		t.Fatal(err)
	}
	return &opencode.Frame{
		Directory: dir,
		Event:     opencode.Event{Type: eventType, Properties: raw},
	}
}

func (s *fakeSource) emit(t *testing.T, dir, eventType string, props any) {
	t.Helper()
	s.frames <- frameResult{frame: frame(t, dir, eventType, props)}
}

func textPart(sessionID, partID, text string) opencode.PartUpdated {
	return opencode.PartUpdated{Part: opencode.Part{
		ID:        partID,
		SessionID: sessionID,
		Type:      opencode.PartText,
		Text:      text,
	}}
}

func recv(t *testing.T, c *Consumer) events.Payload {
	t.Helper()
	select {
	case p, ok := <-c.Out():
		if !ok {
			t.Fatal("stream closed while waiting for payload")
		}
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for payload")
	}
	return nil
}

func expectClosed(t *testing.T, c *Consumer) {
	t.Helper()
	select {
	case p, ok := <-c.Out():
		if ok {
			t.Fatalf("unexpected payload before close: %#v", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not close")
	}
}

func waitTrue(t *testing.T, desc string, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

func TestTextDeltas(t *testing.T) {
	opener := &fakeOpener{}
	r := New(opener)

	c, err := r.Subscribe(context.Background(), "/ws", "s1")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Unsubscribe("/ws", c)
	src := opener.source(0)

	src.emit(t, "/ws", opencode.EventPartUpdated, textPart("s1", "p1", "Hel"))
	src.emit(t, "/ws", opencode.EventPartUpdated, textPart("s1", "p1", "Hello"))
	src.emit(t, "/ws", opencode.EventPartUpdated, textPart("s1", "p1", "Hello")) // duplicate snapshot
	src.emit(t, "/ws", opencode.EventPartUpdated, textPart("s1", "p2", "next"))

	want := []events.TextDelta{
		{Type: "text", PartID: "p1", Delta: "Hel"},
		{Type: "text", PartID: "p1", Delta: "lo"},
		{Type: "text", PartID: "p2", Delta: "next"},
	}
	for i, w := range want {
		got, ok := recv(t, c).(events.TextDelta)
		if !ok {
			t.Fatalf("payload %d is not a TextDelta", i)
		}
		if got != w {
			t.Errorf("delta %d = %+v, want %+v", i, got, w)
		}
	}
}

func TestTextShrinkEmitsReplacement(t *testing.T) {
	opener := &fakeOpener{}
	r := New(opener)

	c, err := r.Subscribe(context.Background(), "/ws", "s1")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Unsubscribe("/ws", c)
	src := opener.source(0)

	src.emit(t, "/ws", opencode.EventPartUpdated, textPart("s1", "p1", "Hello world"))
	src.emit(t, "/ws", opencode.EventPartUpdated, textPart("s1", "p1", "Hi"))
	src.emit(t, "/ws", opencode.EventPartUpdated, textPart("s1", "p1", "Hi there"))

	wantDeltas := []string{"Hello world", "Hi", " there"}
	for i, w := range wantDeltas {
		got := recv(t, c).(events.TextDelta)
		if got.Delta != w {
			t.Errorf("delta %d = %q, want %q", i, got.Delta, w)
		}
	}
}

func TestSessionFilter(t *testing.T) {
	opener := &fakeOpener{}
	r := New(opener)

	a, err := r.Subscribe(context.Background(), "/ws", "s1")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Unsubscribe("/ws", a)
	b, err := r.Subscribe(context.Background(), "/ws", "s2")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Unsubscribe("/ws", b)
	all, err := r.Subscribe(context.Background(), "/ws", "")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Unsubscribe("/ws", all)

	if got := opener.opens(); got != 1 {
		t.Fatalf("upstream subscriptions = %d, want 1", got)
	}
	src := opener.source(0)

	src.emit(t, "/ws", opencode.EventPartUpdated, textPart("s1", "p1", "one"))
	src.emit(t, "/ws", opencode.EventPartUpdated, textPart("s2", "p2", "two"))

	if got := recv(t, a).(events.TextDelta); got.Delta != "one" {
		t.Errorf("a got %q, want %q", got.Delta, "one")
	}
	if got := recv(t, b).(events.TextDelta); got.Delta != "two" {
		t.Errorf("b got %q, want %q", got.Delta, "two")
	}
	first := recv(t, all).(events.TextDelta)
	second := recv(t, all).(events.TextDelta)
	if first.Delta != "one" || second.Delta != "two" {
		t.Errorf("observer got %q then %q, want %q then %q", first.Delta, second.Delta, "one", "two")
	}
}

func TestEnvelopeDirectoryFilter(t *testing.T) {
	opener := &fakeOpener{}
	r := New(opener)

	c, err := r.Subscribe(context.Background(), "/ws", "s1")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Unsubscribe("/ws", c)
	src := opener.source(0)

	src.emit(t, "/other", opencode.EventPartUpdated, textPart("s1", "p1", "elsewhere"))
	src.emit(t, "", opencode.EventPartUpdated, textPart("s1", "p2", "bare"))
	src.emit(t, "/ws", opencode.EventPartUpdated, textPart("s1", "p3", "scoped"))

	if got := recv(t, c).(events.TextDelta); got.Delta != "bare" {
		t.Errorf("first delta = %q, want %q", got.Delta, "bare")
	}
	if got := recv(t, c).(events.TextDelta); got.Delta != "scoped" {
		t.Errorf("second delta = %q, want %q", got.Delta, "scoped")
	}
}

func TestToolSnapshots(t *testing.T) {
	opener := &fakeOpener{}
	r := New(opener)

	c, err := r.Subscribe(context.Background(), "/ws", "s1")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Unsubscribe("/ws", c)
	src := opener.source(0)

	toolUpdate := func(status, output, errMsg string) opencode.PartUpdated {
		return opencode.PartUpdated{Part: opencode.Part{
			ID:        "t1",
			SessionID: "s1",
			Type:      opencode.PartTool,
			Tool:      "bash",
			CallID:    "call-1",
			State: &opencode.ToolState{
				Status: status,
				Input:  json.RawMessage(`{"command":"ls"}`),
				Output: output,
				Error:  errMsg,
			},
		}}
	}

	src.emit(t, "/ws", opencode.EventPartUpdated, toolUpdate(opencode.ToolPending, "", ""))
	src.emit(t, "/ws", opencode.EventPartUpdated, toolUpdate(opencode.ToolRunning, "", ""))
	src.emit(t, "/ws", opencode.EventPartUpdated, toolUpdate(opencode.ToolCompleted, "README.md", ""))
	src.emit(t, "/ws", opencode.EventPartUpdated, toolUpdate(opencode.ToolCompleted, "README.md", "")) // duplicate
	src.emit(t, "/ws", opencode.EventPartUpdated, textPart("s1", "p9", "done"))

	wantStatus := []string{opencode.ToolPending, opencode.ToolRunning, opencode.ToolCompleted}
	for i, w := range wantStatus {
		got, ok := recv(t, c).(events.ToolUpdate)
		if !ok {
			t.Fatalf("payload %d is not a ToolUpdate", i)
		}
		if got.Status != w {
			t.Errorf("status %d = %q, want %q", i, got.Status, w)
		}
		if got.Name != "bash" || got.CallID != "call-1" || got.PartID != "t1" {
			t.Errorf("snapshot %d identity = %+v", i, got)
		}
		if !reflect.DeepEqual(got.Input, map[string]any{"command": "ls"}) {
			t.Errorf("snapshot %d input = %#v", i, got.Input)
		}
	}
	// The duplicate completed snapshot was suppressed; next is the text part.
	if got, ok := recv(t, c).(events.TextDelta); !ok || got.Delta != "done" {
		t.Fatalf("after duplicate suppression got %#v", got)
	}
}

func TestToolErrorState(t *testing.T) {
	opener := &fakeOpener{}
	r := New(opener)

	c, err := r.Subscribe(context.Background(), "/ws", "s1")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Unsubscribe("/ws", c)
	src := opener.source(0)

	src.emit(t, "/ws", opencode.EventPartUpdated, opencode.PartUpdated{Part: opencode.Part{
		ID:        "t1",
		SessionID: "s1",
		Type:      opencode.PartTool,
		Tool:      "webfetch",
		State:     &opencode.ToolState{Status: opencode.ToolError, Error: "connection refused"},
	}})

	got := recv(t, c).(events.ToolUpdate)
	if got.Status != opencode.ToolError || got.Error != "connection refused" {
		t.Errorf("tool error snapshot = %+v", got)
	}
}

func TestReasoningDelta(t *testing.T) {
	opener := &fakeOpener{}
	r := New(opener)

	c, err := r.Subscribe(context.Background(), "/ws", "s1")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Unsubscribe("/ws", c)
	src := opener.source(0)

	src.emit(t, "/ws", opencode.EventPartUpdated, opencode.PartUpdated{Part: opencode.Part{
		ID:        "r1",
		SessionID: "s1",
		Type:      opencode.PartReasoning,
		Text:      "thinking",
	}})
	src.emit(t, "/ws", opencode.EventPartUpdated, opencode.PartUpdated{Part: opencode.Part{
		ID:        "r1",
		SessionID: "s1",
		Type:      opencode.PartReasoning,
		Text:      "thinking harder",
		Time:      &opencode.PartTime{Start: 1000, End: 4500},
	}})

	first := recv(t, c).(events.ReasoningDelta)
	if first.Delta != "thinking" || first.DurationMS != 0 {
		t.Errorf("first reasoning delta = %+v", first)
	}
	second := recv(t, c).(events.ReasoningDelta)
	if second.Delta != " harder" || second.DurationMS != 3500 {
		t.Errorf("second reasoning delta = %+v", second)
	}
}

func TestIdleTerminatesOnlyMatchingConsumers(t *testing.T) {
	opener := &fakeOpener{}
	r := New(opener)

	a, err := r.Subscribe(context.Background(), "/ws", "s1")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Unsubscribe("/ws", a)
	b, err := r.Subscribe(context.Background(), "/ws", "s2")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Unsubscribe("/ws", b)
	all, err := r.Subscribe(context.Background(), "/ws", "")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Unsubscribe("/ws", all)
	src := opener.source(0)

	// Object-shaped status.
	src.emit(t, "/ws", opencode.EventSessionStatus, json.RawMessage(`{"sessionID":"s1","status":{"type":"idle"}}`))

	expectClosed(t, a)
	if err := a.Err(); err != nil {
		t.Errorf("idle close err = %v, want nil", err)
	}

	// The other session and the workspace observer are unaffected.
	src.emit(t, "/ws", opencode.EventPartUpdated, textPart("s2", "p1", "still here"))
	if got := recv(t, b).(events.TextDelta); got.Delta != "still here" {
		t.Errorf("b delta = %q", got.Delta)
	}
	if got := recv(t, all).(events.TextDelta); got.Delta != "still here" {
		t.Errorf("observer delta = %q", got.Delta)
	}

	// String-shaped status ends the second session too.
	src.emit(t, "/ws", opencode.EventSessionStatus, json.RawMessage(`{"sessionID":"s2","status":"idle"}`))
	expectClosed(t, b)
	if err := b.Err(); err != nil {
		t.Errorf("idle close err = %v, want nil", err)
	}
}

func TestNonIdleStatusIgnored(t *testing.T) {
	opener := &fakeOpener{}
	r := New(opener)

	c, err := r.Subscribe(context.Background(), "/ws", "s1")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Unsubscribe("/ws", c)
	src := opener.source(0)

	src.emit(t, "/ws", opencode.EventSessionStatus, json.RawMessage(`{"sessionID":"s1","status":{"type":"busy"}}`))
	src.emit(t, "/ws", opencode.EventPartUpdated, textPart("s1", "p1", "working"))

	if got := recv(t, c).(events.TextDelta); got.Delta != "working" {
		t.Errorf("delta = %q, want %q", got.Delta, "working")
	}
}

func TestSessionErrorEndsStream(t *testing.T) {
	opener := &fakeOpener{}
	r := New(opener)

	a, err := r.Subscribe(context.Background(), "/ws", "s1")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Unsubscribe("/ws", a)
	b, err := r.Subscribe(context.Background(), "/ws", "s2")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Unsubscribe("/ws", b)
	src := opener.source(0)

	src.emit(t, "/ws", opencode.EventSessionError,
		json.RawMessage(`{"sessionID":"s1","error":{"name":"ProviderAuthError","data":{"message":"bad key"}}}`))

	got, ok := recv(t, a).(events.StreamError)
	if !ok {
		t.Fatal("expected a StreamError payload")
	}
	if got.Code != events.CodeSessionError {
		t.Errorf("code = %q, want %q", got.Code, events.CodeSessionError)
	}
	errObj, ok := got.Error.(map[string]any)
	if !ok || errObj["name"] != "ProviderAuthError" {
		t.Errorf("error payload not forwarded verbatim: %#v", got.Error)
	}
	expectClosed(t, a)
	if a.Err() == nil {
		t.Error("Err() = nil after session error")
	}

	// The error was scoped to s1; s2 keeps streaming.
	src.emit(t, "/ws", opencode.EventPartUpdated, textPart("s2", "p1", "unaffected"))
	if got := recv(t, b).(events.TextDelta); got.Delta != "unaffected" {
		t.Errorf("b delta = %q", got.Delta)
	}
}

func TestPermissionForwarded(t *testing.T) {
	opener := &fakeOpener{}
	r := New(opener)

	a, err := r.Subscribe(context.Background(), "/ws", "s1")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Unsubscribe("/ws", a)
	all, err := r.Subscribe(context.Background(), "/ws", "")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Unsubscribe("/ws", all)
	src := opener.source(0)

	src.emit(t, "/ws", opencode.EventPermission,
		json.RawMessage(`{"id":"perm-1","sessionID":"s1","title":"Run bash command","callID":"call-9"}`))

	for _, c := range []*Consumer{a, all} {
		got, ok := recv(t, c).(events.PermissionRequest)
		if !ok {
			t.Fatal("expected a PermissionRequest payload")
		}
		if got.ID != "perm-1" || got.SessionID != "s1" || got.Title != "Run bash command" || got.CallID != "call-9" {
			t.Errorf("permission = %+v", got)
		}
	}
}

func TestUpstreamFailureFailsAllConsumers(t *testing.T) {
	opener := &fakeOpener{}
	r := New(opener)

	a, err := r.Subscribe(context.Background(), "/ws", "s1")
	if err != nil {
		t.Fatal(err)
	}
	b, err := r.Subscribe(context.Background(), "/ws", "")
	if err != nil {
		t.Fatal(err)
	}
	src := opener.source(0)

	src.fail(errors.New("connection reset"))

	for _, c := range []*Consumer{a, b} {
		got, ok := recv(t, c).(events.StreamError)
		if !ok {
			t.Fatal("expected a StreamError payload")
		}
		if got.Code != events.CodeServiceUnavailable {
			t.Errorf("code = %q, want %q", got.Code, events.CodeServiceUnavailable)
		}
		expectClosed(t, c)
		if c.Err() == nil {
			t.Error("Err() = nil after upstream failure")
		}
	}
	waitTrue(t, "source close", src.isClosed)

	// The broken subscription is gone; a fresh subscriber reconnects.
	c2, err := r.Subscribe(context.Background(), "/ws", "s1")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Unsubscribe("/ws", c2)
	if got := opener.opens(); got != 2 {
		t.Fatalf("upstream subscriptions = %d, want 2", got)
	}
}

func TestSharedSubscriptionRefcount(t *testing.T) {
	opener := &fakeOpener{}
	r := New(opener)

	a, err := r.Subscribe(context.Background(), "/ws", "s1")
	if err != nil {
		t.Fatal(err)
	}
	b, err := r.Subscribe(context.Background(), "/ws", "s2")
	if err != nil {
		t.Fatal(err)
	}
	if got := opener.opens(); got != 1 {
		t.Fatalf("upstream subscriptions = %d, want 1", got)
	}
	if got := r.ConsumerCount("/ws"); got != 2 {
		t.Fatalf("ConsumerCount = %d, want 2", got)
	}
	src := opener.source(0)

	r.Unsubscribe("/ws", a)
	if src.isClosed() {
		t.Fatal("source closed while a consumer remains")
	}
	r.Unsubscribe("/ws", b)
	if !src.isClosed() {
		t.Fatal("source not closed after last unsubscribe")
	}
	if got := r.ConsumerCount("/ws"); got != 0 {
		t.Fatalf("ConsumerCount = %d, want 0", got)
	}

	c, err := r.Subscribe(context.Background(), "/ws", "s1")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Unsubscribe("/ws", c)
	if got := opener.opens(); got != 2 {
		t.Fatalf("upstream subscriptions = %d, want 2", got)
	}
}

func TestSlowConsumerDoesNotBlockOthers(t *testing.T) {
	opener := &fakeOpener{}
	r := New(opener)

	slow, err := r.Subscribe(context.Background(), "/ws", "")
	if err != nil {
		t.Fatal(err)
	}
	fast, err := r.Subscribe(context.Background(), "/ws", "")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Unsubscribe("/ws", fast)
	src := opener.source(0)

	const n = 200
	text := ""
	for i := 0; i < n; i++ {
		text += "x"
		src.emit(t, "/ws", opencode.EventPartUpdated, textPart("s1", "p1", text))
	}

	// The slow consumer reads nothing; the fast one still gets every delta.
	for i := 0; i < n; i++ {
		got, ok := recv(t, fast).(events.TextDelta)
		if !ok || got.Delta != "x" {
			t.Fatalf("fast delta %d = %#v", i, got)
		}
	}

	// The slow consumer's queue kept everything in order.
	for i := 0; i < n; i++ {
		got, ok := recv(t, slow).(events.TextDelta)
		if !ok || got.Delta != "x" {
			t.Fatalf("slow delta %d = %#v", i, got)
		}
	}
	r.Unsubscribe("/ws", slow)
}

func TestUnsubscribeWithoutDraining(t *testing.T) {
	opener := &fakeOpener{}
	r := New(opener)

	c, err := r.Subscribe(context.Background(), "/ws", "s1")
	if err != nil {
		t.Fatal(err)
	}
	src := opener.source(0)

	for i := 0; i < 50; i++ {
		src.emit(t, "/ws", opencode.EventPartUpdated, textPart("s1", "p1", fmt.Sprintf("%050d", i)[:i+1]))
	}
	r.Unsubscribe("/ws", c)

	waitTrue(t, "out channel close", func() bool {
		select {
		case _, ok := <-c.Out():
			return !ok
		default:
			return false
		}
	})
	if !src.isClosed() {
		t.Error("source not closed after last consumer left")
	}
}

func TestUnknownEventAndPartTypesIgnored(t *testing.T) {
	opener := &fakeOpener{}
	r := New(opener)

	c, err := r.Subscribe(context.Background(), "/ws", "s1")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Unsubscribe("/ws", c)
	src := opener.source(0)

	src.emit(t, "/ws", "server.connected", json.RawMessage(`{}`))
	src.emit(t, "/ws", opencode.EventPartUpdated, opencode.PartUpdated{Part: opencode.Part{
		ID: "f1", SessionID: "s1", Type: "file",
	}})
	src.emit(t, "/ws", opencode.EventPartUpdated, opencode.PartUpdated{Part: opencode.Part{
		ID: "t1", SessionID: "s1", Type: opencode.PartTool, Tool: "bash", // no state yet
	}})
	src.emit(t, "/ws", opencode.EventPartUpdated, textPart("s1", "p1", "visible"))

	if got := recv(t, c).(events.TextDelta); got.Delta != "visible" {
		t.Errorf("delta = %q, want %q", got.Delta, "visible")
	}
}

func TestPerConsumerDeltaState(t *testing.T) {
	opener := &fakeOpener{}
	r := New(opener)

	early, err := r.Subscribe(context.Background(), "/ws", "s1")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Unsubscribe("/ws", early)
	src := opener.source(0)

	src.emit(t, "/ws", opencode.EventPartUpdated, textPart("s1", "p1", "Hello"))
	if got := recv(t, early).(events.TextDelta); got.Delta != "Hello" {
		t.Fatalf("early delta = %q", got.Delta)
	}

	late, err := r.Subscribe(context.Background(), "/ws", "s1")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Unsubscribe("/ws", late)

	src.emit(t, "/ws", opencode.EventPartUpdated, textPart("s1", "p1", "Hello world"))

	// The late subscriber has no history for the part, so it receives the
	// full cumulative text; the early one only the increment.
	if got := recv(t, early).(events.TextDelta); got.Delta != " world" {
		t.Errorf("early delta = %q, want %q", got.Delta, " world")
	}
	if got := recv(t, late).(events.TextDelta); got.Delta != "Hello world" {
		t.Errorf("late delta = %q, want %q", got.Delta, "Hello world")
	}
}

func TestWorkspacesAreIndependent(t *testing.T) {
	opener := &fakeOpener{}
	r := New(opener)

	a, err := r.Subscribe(context.Background(), "/ws-a", "s1")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Unsubscribe("/ws-a", a)
	b, err := r.Subscribe(context.Background(), "/ws-b", "s1")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Unsubscribe("/ws-b", b)

	if got := opener.opens(); got != 2 {
		t.Fatalf("upstream subscriptions = %d, want 2", got)
	}

	opener.source(0).emit(t, "", opencode.EventPartUpdated, textPart("s1", "p1", "alpha"))
	opener.source(1).emit(t, "", opencode.EventPartUpdated, textPart("s1", "p1", "beta"))

	if got := recv(t, a).(events.TextDelta); got.Delta != "alpha" {
		t.Errorf("a delta = %q", got.Delta)
	}
	if got := recv(t, b).(events.TextDelta); got.Delta != "beta" {
		t.Errorf("b delta = %q", got.Delta)
	}
}
