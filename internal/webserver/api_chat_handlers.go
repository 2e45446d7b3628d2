package webserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/ejohane/maestro-sub001/internal/beads"
	"github.com/ejohane/maestro-sub001/internal/config"
	"github.com/ejohane/maestro-sub001/internal/debug"
	"github.com/ejohane/maestro-sub001/internal/opencode"
	"github.com/ejohane/maestro-sub001/internal/planning"
	"github.com/ejohane/maestro-sub001/internal/store"
	"github.com/ejohane/maestro-sub001/pkg/protocol"
)

// sessionResponse is the wire shape for session resolution results.
type sessionResponse struct {
	State         planning.State `json:"state"`
	SessionID     string         `json:"sessionId,omitempty"`
	WorkspacePath string         `json:"workspacePath,omitempty"`
	IsNewSession  bool           `json:"isNewSession"`
}

func resolutionResponse(res *planning.Resolution) sessionResponse {
	return sessionResponse{
		State:         res.State,
		SessionID:     res.SessionID,
		WorkspacePath: res.WorkspacePath,
		IsNewSession:  res.IsNewSession,
	}
}

// chatResolution resolves the chat session for an issue, creating one in the
// project checkout on first use and priming it with the issue context.
func chatResolution(h *projectHandle, r *http.Request, n int) (*planning.Resolution, error) {
	title := fmt.Sprintf("Issue #%d %s", n, store.KindIssueChat)
	res, err := h.resolver.ResolveOrCreate(r.Context(), h.entry.ID, n, store.KindIssueChat, h.project.Root, title)
	if err != nil {
		return nil, err
	}
	if res.IsNewSession {
		primeSession(h, r, n, res, config.TemplateIssueChat)
	}
	return res, nil
}

// primeSession injects the issue, its comments, and the current bead tree
// into a brand-new session. Failures are logged, not fatal: the session
// still works without the primer, just with less context.
func primeSession(h *projectHandle, r *http.Request, n int, res *planning.Resolution, template string) {
	ctx := r.Context()
	issue, err := h.issues.Issue(ctx, h.project.Root, n)
	if err != nil {
		debug.LogKV("webserver", "context injection skipped", "issue", n, "err", err)
		return
	}
	comments, err := h.issues.Comments(ctx, h.project.Root, n)
	if err != nil {
		debug.LogKV("webserver", "comments unavailable for context", "issue", n, "err", err)
	}
	var tree *beads.Tree
	if all, err := h.beads.List(ctx, h.project.Root); err == nil {
		tree = beads.BuildTree(all, n)
	}

	text := protocol.RenderIssueContext(protocol.IssueContext{
		Instructions: h.cfg.InstructionBody(template),
		Issue:        issue,
		Comments:     comments,
		Tree:         tree,
	})
	if err := h.runtime.InjectContext(ctx, res.WorkspacePath, res.SessionID, text); err != nil {
		debug.LogKV("webserver", "context injection failed", "session", res.SessionID, "err", err)
	}
}

func handleChatSession(h *projectHandle, w http.ResponseWriter, r *http.Request) {
	n, err := parseIssueNumber(r)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	res, err := chatResolution(h, r, n)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resolutionResponse(res))
}

func handleChatDelete(h *projectHandle, w http.ResponseWriter, r *http.Request) {
	n, err := parseIssueNumber(r)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	m, err := h.store.Get(h.entry.ID, n, store.KindIssueChat)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	if m == nil {
		writeCodedError(w, http.StatusNotFound, fmt.Sprintf("no chat session for issue %d", n), codeNotFound)
		return
	}
	if err := h.runtime.DeleteSession(r.Context(), m.WorkspacePath, m.SessionID); err != nil {
		debug.LogKV("webserver", "upstream session delete failed", "session", m.SessionID, "err", err)
	}
	if err := h.store.Remove(h.entry.ID, n, store.KindIssueChat); err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleChatSend sends one message into the chat session (resolving or
// creating it first) and streams the agent's response over SSE.
func handleChatSend(h *projectHandle, w http.ResponseWriter, r *http.Request) {
	n, err := parseIssueNumber(r)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	text, err := decodeMessageText(r)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	res, err := chatResolution(h, r, n)
	if err != nil {
		writeAPIError(w, err)
		return
	}

	streamRelay(w, r, h.relay, res.WorkspacePath, res.SessionID, h.cfg.Watch.HeartbeatEvery(), func() <-chan error {
		return detachedSend(r.Context(), h.runtime, res.WorkspacePath, res.SessionID,
			opencode.TextMessage(text, opencode.ModePlan))
	})
}

func handleChatHistory(h *projectHandle, w http.ResponseWriter, r *http.Request) {
	n, err := parseIssueNumber(r)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeSessionHistory(h, w, r, n, store.KindIssueChat)
}

func handleChatWatch(h *projectHandle, w http.ResponseWriter, r *http.Request) {
	n, err := parseIssueNumber(r)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	watchSessionMessages(h, w, r, n, store.KindIssueChat)
}

// decodeMessageText extracts the message body from a send request.
func decodeMessageText(r *http.Request) (string, error) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return "", errValidation("invalid request body")
	}
	if strings.TrimSpace(req.Text) == "" {
		return "", errValidation("message text is required")
	}
	return req.Text, nil
}

// writeSessionHistory returns the session's message transcript, or an empty
// list when no session exists yet.
func writeSessionHistory(h *projectHandle, w http.ResponseWriter, r *http.Request, n int, kind store.SessionKind) {
	m, err := h.store.Get(h.entry.ID, n, kind)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	if m == nil {
		writeJSON(w, http.StatusOK, map[string]any{"messages": []opencode.Message{}})
		return
	}
	msgs, err := h.runtime.Messages(r.Context(), m.WorkspacePath, m.SessionID)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	if msgs == nil {
		msgs = []opencode.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

// watchSessionMessages streams message-list snapshots for the session over
// SSE, polling the runtime for changes.
func watchSessionMessages(h *projectHandle, w http.ResponseWriter, r *http.Request, n int, kind store.SessionKind) {
	m, err := h.store.Get(h.entry.ID, n, kind)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	if m == nil {
		writeCodedError(w, http.StatusNotFound, fmt.Sprintf("no %s session for issue %d", kind, n), codeNotFound)
		return
	}
	streamMessagesWatch(w, r, h.runtime, m.WorkspacePath, m.SessionID,
		h.cfg.Watch.PollEvery(), h.cfg.Watch.HeartbeatEvery())
}
