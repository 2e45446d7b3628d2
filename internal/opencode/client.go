// Package opencode is an HTTP+SSE client for the agent runtime that hosts
// sessions. All operations are scoped to a workspace directory via the
// ?directory= query parameter; one runtime serves many workspaces.
package opencode

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/ejohane/maestro-sub001/internal/debug"
)

// ErrUnavailable marks transport-level failures: the runtime could not be
// reached or answered with a server error. Callers treat it differently from
// a definitive negative answer.
var ErrUnavailable = errors.New("agent runtime unavailable")

// DefaultBaseURL is where a locally started runtime listens.
const DefaultBaseURL = "http://127.0.0.1:4096"

// Client talks to one agent runtime server.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a client for the runtime at baseURL. The underlying HTTP
// client carries no global timeout: message sends block for the whole turn
// and are bounded by the caller's context instead.
func NewClient(baseURL string) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{},
	}
}

// BaseURL returns the runtime address this client targets.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// endpoint builds baseURL+path with the workspace directory query.
func (c *Client) endpoint(dir, path string) string {
	u := c.baseURL + path
	if dir != "" {
		u += "?directory=" + url.QueryEscape(dir)
	}
	return u
}

// do issues a request and decodes the JSON response into out (when non-nil).
// Transport failures and 5xx answers are wrapped in ErrUnavailable.
func (c *Client) do(ctx context.Context, method, dir, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding %s %s: %w", method, path, err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(dir, path), reqBody)
	if err != nil {
		return fmt.Errorf("building %s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		debug.LogKV("opencode", "request failed", "method", method, "path", path, "err", err)
		return fmt.Errorf("%w: %s %s: %v", ErrUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s %s: status %d: %s", ErrUnavailable, method, path, resp.StatusCode, strings.TrimSpace(string(excerpt)))
	}
	if resp.StatusCode >= 400 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(excerpt)))
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding %s %s: %v", ErrUnavailable, method, path, err)
	}
	return nil
}

// CreateSession creates a session in the workspace.
func (c *Client) CreateSession(ctx context.Context, dir, title string) (*Session, error) {
	req := map[string]string{}
	if title != "" {
		req["title"] = title
	}
	var sess Session
	if err := c.do(ctx, http.MethodPost, dir, "/session", req, &sess); err != nil {
		return nil, err
	}
	if sess.ID == "" {
		return nil, fmt.Errorf("%w: create session returned no id", ErrUnavailable)
	}
	debug.LogKV("opencode", "session created", "dir", dir, "session", sess.ID)
	return &sess, nil
}

// DeleteSession removes a session from the runtime.
func (c *Client) DeleteSession(ctx context.Context, dir, sessionID string) error {
	return c.do(ctx, http.MethodDelete, dir, "/session/"+url.PathEscape(sessionID), nil, nil)
}

// AbortSession interrupts a session's current turn.
func (c *Client) AbortSession(ctx context.Context, dir, sessionID string) error {
	return c.do(ctx, http.MethodPost, dir, "/session/"+url.PathEscape(sessionID)+"/abort", nil, nil)
}

// Sessions lists the sessions in a workspace.
func (c *Client) Sessions(ctx context.Context, dir string) ([]Session, error) {
	var out []Session
	if err := c.do(ctx, http.MethodGet, dir, "/session", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Messages returns a session's message history.
func (c *Client) Messages(ctx context.Context, dir, sessionID string) ([]Message, error) {
	var out []Message
	if err := c.do(ctx, http.MethodGet, dir, "/session/"+url.PathEscape(sessionID)+"/message", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SendMessage posts a message to a session. The call blocks until the
// session's turn completes; callers that want streaming run this in a
// goroutine and watch the event stream instead.
func (c *Client) SendMessage(ctx context.Context, dir, sessionID string, req MessageRequest) error {
	if len(req.Parts) == 0 {
		return fmt.Errorf("send message: empty parts")
	}
	return c.do(ctx, http.MethodPost, dir, "/session/"+url.PathEscape(sessionID)+"/message", req, nil)
}

// InjectContext primes a session with background text without starting a turn.
func (c *Client) InjectContext(ctx context.Context, dir, sessionID, text string) error {
	req := MessageRequest{
		Parts:   []MessagePart{{Type: "text", Text: text}},
		NoReply: true,
	}
	return c.do(ctx, http.MethodPost, dir, "/session/"+url.PathEscape(sessionID)+"/message", req, nil)
}

// RespondPermission answers a pending permission request.
func (c *Client) RespondPermission(ctx context.Context, dir, sessionID, permissionID, response string) error {
	body := map[string]string{"response": response}
	path := "/session/" + url.PathEscape(sessionID) + "/permissions/" + url.PathEscape(permissionID)
	return c.do(ctx, http.MethodPost, dir, path, body, nil)
}

// ValidPermissionResponse reports whether r is an accepted permission reply.
func ValidPermissionResponse(r string) bool {
	switch r {
	case PermissionOnce, PermissionAlways, PermissionReject:
		return true
	}
	return false
}
