package webserver

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ejohane/maestro-sub001/internal/buildinfo"
)

func (srv *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"version":  buildinfo.Current().Version,
		"projects": len(srv.registry.List()),
	})
}

func (srv *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, srv.registry.List())
}

func (srv *Server) handleRegisterProject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
		Name string `json:"name,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeCodedError(w, http.StatusBadRequest, "invalid request body", codeValidation)
		return
	}
	if strings.TrimSpace(req.Path) == "" {
		writeCodedError(w, http.StatusBadRequest, "path is required", codeValidation)
		return
	}

	entry, err := srv.registry.Register(req.Path, req.Name)
	if err != nil {
		writeCodedError(w, http.StatusBadRequest, err.Error(), codeValidation)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (srv *Server) handleUnregisterProject(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("projectID")
	if err := srv.registry.Unregister(projectID); err != nil {
		writeCodedError(w, http.StatusNotFound, err.Error(), codeNotFound)
		return
	}
	srv.dropHandle(projectID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "unregistered"})
}
