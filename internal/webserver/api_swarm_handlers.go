package webserver

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ejohane/maestro-sub001/internal/debug"
	"github.com/ejohane/maestro-sub001/internal/opencode"
	"github.com/ejohane/maestro-sub001/internal/store"
)

// swarmStartResponse is the stored swarm record plus any non-fatal warnings
// collected during startup.
type swarmStartResponse struct {
	*store.Mapping
	Warnings []string `json:"warnings,omitempty"`
}

// swarmStatusResponse is the stored swarm record plus a reconciliation
// warning when liveness could not be confirmed.
type swarmStatusResponse struct {
	*store.Mapping
	Warning string `json:"warning,omitempty"`
}

func handleSwarmStart(h *projectHandle, w http.ResponseWriter, r *http.Request) {
	n, err := parseIssueNumber(r)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	res, err := h.swarms.Start(r.Context(), h.project, n)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, swarmStartResponse{Mapping: res.Mapping, Warnings: res.Warnings})
}

func handleSwarmStatus(h *projectHandle, w http.ResponseWriter, r *http.Request) {
	n, err := parseIssueNumber(r)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	res, err := h.swarms.Status(r.Context(), h.project, n)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, swarmStatusResponse{Mapping: res.Mapping, Warning: res.Warning})
}

func handleSwarmStop(h *projectHandle, w http.ResponseWriter, r *http.Request) {
	n, err := parseIssueNumber(r)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	res, err := h.swarms.Stop(r.Context(), h.project, n)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func handleSwarmChildren(h *projectHandle, w http.ResponseWriter, r *http.Request) {
	n, err := parseIssueNumber(r)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	children, err := h.swarms.Children(r.Context(), h.project, n)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	if children == nil {
		children = []opencode.Session{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"children": children})
}

// handleSwarmStream observes the whole swarm workspace over SSE: orchestrator
// output, child session output, and permission requests, unfiltered.
func handleSwarmStream(h *projectHandle, w http.ResponseWriter, r *http.Request) {
	n, err := parseIssueNumber(r)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	res, err := h.swarms.Status(r.Context(), h.project, n)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	streamRelay(w, r, h.relay, res.Mapping.WorkspacePath, "", h.cfg.Watch.HeartbeatEvery(), nil)
}

// handleSwarmMessage steers the orchestrator mid-run. The send happens in the
// background; 202 acknowledges queueing, not delivery.
func handleSwarmMessage(h *projectHandle, w http.ResponseWriter, r *http.Request) {
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
	res, err := h.swarms.Status(r.Context(), h.project, n)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	m := res.Mapping

	go func() {
		ctx := context.WithoutCancel(r.Context())
		if err := h.runtime.SendMessage(ctx, m.WorkspacePath, m.SessionID, opencode.TextMessage(text, opencode.ModeBuild)); err != nil {
			debug.LogKV("webserver", "swarm steer failed", "issue", n, "session", m.SessionID, "err", err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func handleSwarmRespond(h *projectHandle, w http.ResponseWriter, r *http.Request) {
	n, err := parseIssueNumber(r)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	var req struct {
		SessionID string `json:"sessionId"`
		Response  string `json:"response"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeCodedError(w, http.StatusBadRequest, "invalid request body", codeValidation)
		return
	}

	err = h.swarms.Respond(r.Context(), h.project, n, req.SessionID, r.PathValue("permissionID"), req.Response)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "responded"})
}
