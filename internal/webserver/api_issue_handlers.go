package webserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/ejohane/maestro-sub001/internal/beads"
	"github.com/ejohane/maestro-sub001/internal/ghcli"
)

func handleIssues(h *projectHandle, w http.ResponseWriter, r *http.Request) {
	issues, err := h.issues.Issues(r.Context(), h.project.Root)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	if issues == nil {
		issues = []ghcli.Issue{}
	}
	writeJSON(w, http.StatusOK, issues)
}

func handleIssue(h *projectHandle, w http.ResponseWriter, r *http.Request) {
	n, err := parseIssueNumber(r)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	issue, err := h.issues.Issue(r.Context(), h.project.Root, n)
	if err != nil {
		if isUnknownIssue(err) {
			writeCodedError(w, http.StatusNotFound, fmt.Sprintf("issue %d not found", n), codeNotFound)
			return
		}
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

// isUnknownIssue recognizes gh's answer for a nonexistent issue number.
func isUnknownIssue(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "Could not resolve") || strings.Contains(msg, "no issues matched")
}

func handleAddComment(h *projectHandle, w http.ResponseWriter, r *http.Request) {
	n, err := parseIssueNumber(r)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	var req struct {
		Body string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeCodedError(w, http.StatusBadRequest, "invalid request body", codeValidation)
		return
	}
	if strings.TrimSpace(req.Body) == "" {
		writeCodedError(w, http.StatusBadRequest, "comment body is required", codeValidation)
		return
	}

	if err := h.issues.AddComment(r.Context(), h.project.Root, n, req.Body); err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "commented"})
}

// handleBeadTree returns the issue's epic tree, or null when no epic is
// linked. Clients use null to decide whether a swarm can start.
func handleBeadTree(h *projectHandle, w http.ResponseWriter, r *http.Request) {
	n, err := parseIssueNumber(r)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	all, err := h.beads.List(r.Context(), h.project.Root)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	tree := beads.BuildTree(all, n)
	writeJSON(w, http.StatusOK, map[string]any{"tree": tree})
}
