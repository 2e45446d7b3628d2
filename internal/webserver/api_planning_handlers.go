package webserver

import (
	"fmt"
	"net/http"

	"github.com/ejohane/maestro-sub001/internal/config"
	"github.com/ejohane/maestro-sub001/internal/debug"
	"github.com/ejohane/maestro-sub001/internal/opencode"
	"github.com/ejohane/maestro-sub001/internal/planning"
	"github.com/ejohane/maestro-sub001/internal/store"
)

// handlePlanningSession reports the planning session's state without side
// effects. A fresh result tells the client that setup has not run yet.
func handlePlanningSession(h *projectHandle, w http.ResponseWriter, r *http.Request) {
	n, err := parseIssueNumber(r)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	res, err := h.resolver.Resolve(r.Context(), h.entry.ID, n, store.KindPlanning)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resolutionResponse(res))
}

// handlePlanningCreate performs first-time planning setup: provision the
// issue worktree, run the project's setup commands, create the session
// inside the worktree, and record the mapping. Idempotent: an existing
// live session is returned as-is.
func handlePlanningCreate(h *projectHandle, w http.ResponseWriter, r *http.Request) {
	n, err := parseIssueNumber(r)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	res, err := h.resolver.Resolve(r.Context(), h.entry.ID, n, store.KindPlanning)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	if res.State != planning.StateFresh {
		if res.IsNewSession {
			primeSession(h, r, n, res, config.TemplatePlanning)
		}
		writeJSON(w, http.StatusOK, resolutionResponse(res))
		return
	}

	wt, err := h.trees.Ensure(r.Context(), n, h.project.BaseBranch, h.project.Setup)
	if err != nil {
		writeAPIError(w, fmt.Errorf("provisioning worktree for issue %d: %w", n, err))
		return
	}
	title := fmt.Sprintf("Issue #%d %s", n, store.KindPlanning)
	res, err = h.resolver.ResolveOrCreate(r.Context(), h.entry.ID, n, store.KindPlanning, wt, title)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	if res.IsNewSession {
		primeSession(h, r, n, res, config.TemplatePlanning)
	}
	writeJSON(w, http.StatusCreated, resolutionResponse(res))
}

// handlePlanningDelete removes the planning session and its mapping. The
// worktree stays: it may hold uncommitted planning notes, and a swarm for
// the same issue reuses it.
func handlePlanningDelete(h *projectHandle, w http.ResponseWriter, r *http.Request) {
	n, err := parseIssueNumber(r)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	m, err := h.store.Get(h.entry.ID, n, store.KindPlanning)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	if m == nil {
		writeCodedError(w, http.StatusNotFound, fmt.Sprintf("no planning session for issue %d", n), codeNotFound)
		return
	}
	if err := h.runtime.DeleteSession(r.Context(), m.WorkspacePath, m.SessionID); err != nil {
		debug.LogKV("webserver", "upstream session delete failed", "session", m.SessionID, "err", err)
	}
	if err := h.store.Remove(h.entry.ID, n, store.KindPlanning); err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handlePlanningSend sends one message into the planning session and streams
// the response. Unlike chat, a missing session is an error: planning setup
// provisions a worktree, which only the explicit create endpoint does.
func handlePlanningSend(h *projectHandle, w http.ResponseWriter, r *http.Request) {
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
	res, err := h.resolver.Resolve(r.Context(), h.entry.ID, n, store.KindPlanning)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	if res.State == planning.StateFresh {
		writeCodedError(w, http.StatusNotFound,
			fmt.Sprintf("no planning session for issue %d; create one first", n), codeNotFound)
		return
	}
	if res.IsNewSession {
		// Recovered in place; the replacement session starts blank.
		primeSession(h, r, n, res, config.TemplatePlanning)
	}

	streamRelay(w, r, h.relay, res.WorkspacePath, res.SessionID, h.cfg.Watch.HeartbeatEvery(), func() <-chan error {
		return detachedSend(r.Context(), h.runtime, res.WorkspacePath, res.SessionID,
			opencode.TextMessage(text, opencode.ModePlan))
	})
}

func handlePlanningHistory(h *projectHandle, w http.ResponseWriter, r *http.Request) {
	n, err := parseIssueNumber(r)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeSessionHistory(h, w, r, n, store.KindPlanning)
}

func handlePlanningWatch(h *projectHandle, w http.ResponseWriter, r *http.Request) {
	n, err := parseIssueNumber(r)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	watchSessionMessages(h, w, r, n, store.KindPlanning)
}
