package webserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/ejohane/maestro-sub001/internal/store"
)

func TestFSBrowseListsAndFlags(t *testing.T) {
	srv, _ := newTestServer(t)

	root := t.TempDir()
	for _, dir := range []string{"beta", "alpha", "repo"} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.MkdirAll(filepath.Join(root, "repo", ".git"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := store.WriteProjectMarker(filepath.Join(root, "repo"), "repo-1234"); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, ".hidden"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/fs/browse?path="+root, nil)
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}

	var resp fsBrowseResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Path != root {
		t.Fatalf("path = %q, want %q", resp.Path, root)
	}
	if resp.Parent != filepath.Dir(root) {
		t.Fatalf("parent = %q, want %q", resp.Parent, filepath.Dir(root))
	}

	names := make([]string, len(resp.Entries))
	for i, e := range resp.Entries {
		names[i] = e.Name
	}
	want := []string{"alpha", "beta", "repo", "notes.txt"}
	if len(names) != len(want) {
		t.Fatalf("entries = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("entries = %v, want %v", names, want)
		}
	}

	for _, e := range resp.Entries {
		switch e.Name {
		case "repo":
			if !e.IsProject || !e.IsGitRepo {
				t.Fatalf("repo flags = project:%v git:%v, want both true", e.IsProject, e.IsGitRepo)
			}
		case "alpha", "beta":
			if e.IsProject || e.IsGitRepo {
				t.Fatalf("%s flags = project:%v git:%v, want both false", e.Name, e.IsProject, e.IsGitRepo)
			}
		case "notes.txt":
			if e.IsDir {
				t.Fatal("notes.txt reported as directory")
			}
		}
	}
}

func TestFSBrowseErrors(t *testing.T) {
	srv, _ := newTestServer(t)

	file := filepath.Join(t.TempDir(), "plain.txt")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		target string
		status int
	}{
		{"missing path", "/api/fs/browse?path=/no/such/dir/anywhere", http.StatusNotFound},
		{"not a directory", "/api/fs/browse?path=" + file, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			rec := httptest.NewRecorder()
			srv.httpServer.Handler.ServeHTTP(rec, req)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
		})
	}
}

func TestResolveBrowsePath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home dir: %v", err)
	}

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"empty defaults to home", "", filepath.Clean(home)},
		{"absolute kept", "/tmp/somewhere", "/tmp/somewhere"},
		{"relative joins home", "projects", filepath.Join(home, "projects")},
		{"dot-dot cleaned", "/tmp/a/../b", "/tmp/b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := resolveBrowsePath(tt.raw); got != tt.want {
				t.Fatalf("resolveBrowsePath(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}
