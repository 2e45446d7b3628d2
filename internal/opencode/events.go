package opencode

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ejohane/maestro-sub001/internal/debug"
)

const maxEventLine = 1024 * 1024 // 1 MB

// Frame is one decoded event from the upstream stream. Directory is the
// envelope scope when the upstream wraps payloads; empty for bare frames.
type Frame struct {
	Directory string
	Event     Event
}

// EventStream is a live subscription to the upstream /event feed.
// Next blocks until a frame arrives; Close aborts the subscription.
type EventStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	cancel  context.CancelFunc

	eventType string
	data      bytes.Buffer
}

// Events opens an SSE subscription for one workspace directory. The stream
// stays open until Close, ctx cancellation, or an upstream failure.
func (c *Client) Events(ctx context.Context, dir string) (*EventStream, error) {
	streamCtx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, c.endpoint(dir, "/event"), nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("building event request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: GET /event: %v", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("%w: GET /event: status %d", ErrUnavailable, resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventLine)

	debug.LogKV("opencode", "event stream opened", "dir", dir)
	return &EventStream{
		body:    resp.Body,
		scanner: scanner,
		cancel:  cancel,
	}, nil
}

// Next returns the next decoded frame. It skips comments, keepalives, and
// frames that fail to decode. Returns io.EOF on clean stream end and an
// ErrUnavailable-wrapped error when the connection breaks.
func (s *EventStream) Next() (*Frame, error) {
	for s.scanner.Scan() {
		line := s.scanner.Text()

		if line == "" {
			frame, ok := s.flush()
			if ok {
				return frame, nil
			}
			continue
		}

		switch {
		case strings.HasPrefix(line, ":"):
			// keepalive comment
		case strings.HasPrefix(line, "event:"):
			s.eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			chunk := strings.TrimPrefix(line, "data:")
			chunk = strings.TrimPrefix(chunk, " ")
			if s.data.Len() > 0 {
				s.data.WriteByte('\n')
			}
			s.data.WriteString(chunk)
		}
	}

	// Trailing frame without a final blank line.
	if frame, ok := s.flush(); ok {
		return frame, nil
	}

	if err := s.scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading event stream: %v", ErrUnavailable, err)
	}
	return nil, io.EOF
}

// flush decodes the accumulated frame, if any.
func (s *EventStream) flush() (*Frame, bool) {
	defer func() {
		s.eventType = ""
		s.data.Reset()
	}()

	raw := bytes.TrimSpace(s.data.Bytes())
	if len(raw) == 0 {
		return nil, false
	}

	dir, ev, err := DecodeFrame(raw)
	if err != nil {
		debug.LogKV("opencode", "dropping undecodable frame", "err", err)
		return nil, false
	}
	if ev.Type == "" && s.eventType != "" {
		ev.Type = s.eventType
	}
	if ev.Type == "" {
		return nil, false
	}
	return &Frame{Directory: dir, Event: ev}, true
}

// Close aborts the subscription. Safe to call more than once.
func (s *EventStream) Close() error {
	s.cancel()
	return s.body.Close()
}
