package webserver

import (
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ejohane/maestro-sub001/internal/store"
)

// resolveBrowsePath converts the query path to a clean absolute path.
// Empty defaults to the user's home directory; relative paths resolve
// against it.
func resolveBrowsePath(raw string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "/"
	}
	if raw == "" {
		return filepath.Clean(home)
	}
	if filepath.IsAbs(raw) {
		return filepath.Clean(raw)
	}
	return filepath.Clean(filepath.Join(home, raw))
}

type fsBrowseEntry struct {
	Name      string `json:"name"`
	IsDir     bool   `json:"is_dir"`
	IsProject bool   `json:"is_project"`
	IsGitRepo bool   `json:"is_git_repo"`
}

type fsBrowseResponse struct {
	Path    string          `json:"path"`
	Parent  string          `json:"parent"`
	Entries []fsBrowseEntry `json:"entries"`
}

// handleFSBrowse lists a directory for the project picker, flagging git
// repositories and directories already carrying a maestro marker.
func (srv *Server) handleFSBrowse(w http.ResponseWriter, r *http.Request) {
	absPath := resolveBrowsePath(r.URL.Query().Get("path"))

	info, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			writeCodedError(w, http.StatusNotFound, "path not found", codeNotFound)
		} else {
			writeError(w, http.StatusInternalServerError, "failed to stat path")
		}
		return
	}
	if !info.IsDir() {
		writeCodedError(w, http.StatusBadRequest, "path is not a directory", codeValidation)
		return
	}

	dirEntries, err := os.ReadDir(absPath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read directory")
		return
	}

	result := make([]fsBrowseEntry, 0, len(dirEntries))
	for _, entry := range dirEntries {
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		fe := fsBrowseEntry{
			Name:  entry.Name(),
			IsDir: entry.IsDir(),
		}
		if entry.IsDir() {
			entryPath := filepath.Join(absPath, entry.Name())
			if _, serr := os.Stat(store.ProjectMarkerPath(entryPath)); serr == nil {
				fe.IsProject = true
			}
			// .git may be a directory or, in worktrees, a file.
			if _, serr := os.Stat(filepath.Join(entryPath, ".git")); serr == nil {
				fe.IsGitRepo = true
			}
		}

		result = append(result, fe)
	}

	sort.Slice(result, func(i, j int) bool {
		// Directories first, then files; within each group alphabetical
		if result[i].IsDir != result[j].IsDir {
			return result[i].IsDir
		}
		return strings.ToLower(result[i].Name) < strings.ToLower(result[j].Name)
	})

	parent := filepath.Dir(absPath)
	if parent == absPath {
		parent = "" // at filesystem root
	}

	writeJSON(w, http.StatusOK, fsBrowseResponse{
		Path:    absPath,
		Parent:  parent,
		Entries: result,
	})
}
