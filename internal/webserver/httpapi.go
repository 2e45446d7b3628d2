package webserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/ejohane/maestro-sub001/internal/debug"
	"github.com/ejohane/maestro-sub001/internal/events"
	"github.com/ejohane/maestro-sub001/internal/opencode"
	"github.com/ejohane/maestro-sub001/internal/swarm"
)

// Error codes carried in the code field of error bodies.
const (
	codeNotFound           = events.CodeNotFound
	codeValidation         = events.CodeValidation
	codeServiceUnavailable = events.CodeServiceUnavailable
	codeSessionError       = events.CodeSessionError
	codeInternal           = events.CodeInternal
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		debug.LogKV("webserver", "failed to encode json response", "status", status, "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func writeCodedError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, errorResponse{Error: message, Code: code})
}

// apiError carries an HTTP status and error code alongside the message.
type apiError struct {
	status  int
	code    string
	message string
}

func (e *apiError) Error() string { return e.message }

func errNotFound(message string) *apiError {
	return &apiError{status: http.StatusNotFound, code: codeNotFound, message: message}
}

func errValidation(message string) *apiError {
	return &apiError{status: http.StatusBadRequest, code: codeValidation, message: message}
}

// writeAPIError maps an error to its HTTP answer: explicit apiErrors keep
// their status, sentinel categories map per the error taxonomy, and anything
// else is a 500.
func writeAPIError(w http.ResponseWriter, err error) {
	var ae *apiError
	switch {
	case errors.As(err, &ae):
		writeCodedError(w, ae.status, ae.message, ae.code)
	case errors.Is(err, swarm.ErrNoSwarm), errors.Is(err, swarm.ErrNoEpic):
		writeCodedError(w, http.StatusNotFound, err.Error(), codeNotFound)
	case errors.Is(err, swarm.ErrInvalidResponse):
		writeCodedError(w, http.StatusBadRequest, err.Error(), codeValidation)
	case errors.Is(err, opencode.ErrUnavailable):
		writeCodedError(w, http.StatusServiceUnavailable, err.Error(), codeServiceUnavailable)
	default:
		writeCodedError(w, http.StatusInternalServerError, err.Error(), codeInternal)
	}
}

// parseIssueNumber reads the issueNumber path segment.
func parseIssueNumber(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.PathValue("issueNumber"))
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errValidation(fmt.Sprintf("invalid issue number %q", raw))
	}
	return n, nil
}
