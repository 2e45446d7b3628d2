package webserver

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ejohane/maestro-sub001/internal/store"
)

func TestLoadRegistryMissingFile(t *testing.T) {
	r, err := LoadRegistry(filepath.Join(t.TempDir(), "projects.json"))
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}
	if got := r.List(); len(got) != 0 {
		t.Fatalf("List() = %+v, want empty", got)
	}
}

func TestLoadRegistryCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "projects.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadRegistry(path); err == nil {
		t.Fatal("expected error for corrupt registry file")
	}
}

func TestRegisterAndReload(t *testing.T) {
	regPath := filepath.Join(t.TempDir(), "projects.json")
	r, err := LoadRegistry(regPath)
	if err != nil {
		t.Fatal(err)
	}

	repo := t.TempDir()
	entry, err := r.Register(repo, "notes")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if entry.ID == "" || entry.Name != "notes" || entry.Path != repo {
		t.Fatalf("entry = %+v", entry)
	}

	// The repo is stamped with its id so re-registration finds it again.
	id, err := store.ReadProjectID(repo)
	if err != nil || id != entry.ID {
		t.Fatalf("marker id = %q, err %v, want %q", id, err, entry.ID)
	}

	got, ok := r.Get(entry.ID)
	if !ok || got.Path != repo {
		t.Fatalf("Get(%q) = %+v, %v", entry.ID, got, ok)
	}
	if _, ok := r.Get("ghost"); ok {
		t.Fatal("Get of unknown id reported ok")
	}

	// A fresh load from disk sees the same entry.
	r2, err := LoadRegistry(regPath)
	if err != nil {
		t.Fatal(err)
	}
	list := r2.List()
	if len(list) != 1 || list[0].ID != entry.ID || list[0].Path != repo {
		t.Fatalf("reloaded list = %+v", list)
	}
}

func TestRegisterSamePathIsIdempotent(t *testing.T) {
	r, err := LoadRegistry(filepath.Join(t.TempDir(), "projects.json"))
	if err != nil {
		t.Fatal(err)
	}
	repo := t.TempDir()

	first, err := r.Register(repo, "demo")
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.Register(repo, "other-name")
	if err != nil {
		t.Fatal(err)
	}
	if second.ID != first.ID || second.Name != "demo" {
		t.Fatalf("second = %+v, want the original entry back", second)
	}
	if len(r.List()) != 1 {
		t.Fatalf("List() = %+v, want one entry", r.List())
	}
}

func TestRegisterDefaultsNameToBase(t *testing.T) {
	r, err := LoadRegistry(filepath.Join(t.TempDir(), "projects.json"))
	if err != nil {
		t.Fatal(err)
	}
	repo := filepath.Join(t.TempDir(), "acme-notes")
	if err := os.MkdirAll(repo, 0755); err != nil {
		t.Fatal(err)
	}

	entry, err := r.Register(repo, "  ")
	if err != nil {
		t.Fatal(err)
	}
	if entry.Name != "acme-notes" {
		t.Fatalf("name = %q, want the directory base name", entry.Name)
	}
}

func TestRegisterReusesExistingMarker(t *testing.T) {
	r, err := LoadRegistry(filepath.Join(t.TempDir(), "projects.json"))
	if err != nil {
		t.Fatal(err)
	}
	repo := t.TempDir()
	if err := store.WriteProjectMarker(repo, "notes-cafe0123"); err != nil {
		t.Fatal(err)
	}

	entry, err := r.Register(repo, "")
	if err != nil {
		t.Fatal(err)
	}
	if entry.ID != "notes-cafe0123" {
		t.Fatalf("id = %q, want the marker id", entry.ID)
	}
}

func TestRegisterIDCollision(t *testing.T) {
	r, err := LoadRegistry(filepath.Join(t.TempDir(), "projects.json"))
	if err != nil {
		t.Fatal(err)
	}

	// Two distinct checkouts carrying the same marker, as after a cp -r.
	a, b := t.TempDir(), t.TempDir()
	for _, dir := range []string{a, b} {
		if err := store.WriteProjectMarker(dir, "dup-id"); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := r.Register(a, ""); err != nil {
		t.Fatal(err)
	}
	_, err = r.Register(b, "")
	if err == nil || !strings.Contains(err.Error(), "already registered") {
		t.Fatalf("err = %v, want id collision", err)
	}
}

func TestRegisterRejectsBadPaths(t *testing.T) {
	r, err := LoadRegistry(filepath.Join(t.TempDir(), "projects.json"))
	if err != nil {
		t.Fatal(err)
	}

	file := filepath.Join(t.TempDir(), "plain.txt")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := r.Register(file, ""); err == nil {
		t.Error("expected error for non-directory path")
	}
	if _, err := r.Register(filepath.Join(t.TempDir(), "missing"), ""); err == nil {
		t.Error("expected error for missing path")
	}
}

func TestUnregister(t *testing.T) {
	regPath := filepath.Join(t.TempDir(), "projects.json")
	r, err := LoadRegistry(regPath)
	if err != nil {
		t.Fatal(err)
	}
	entry, err := r.Register(t.TempDir(), "demo")
	if err != nil {
		t.Fatal(err)
	}

	if err := r.Unregister(entry.ID); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	if len(r.List()) != 0 {
		t.Fatalf("List() = %+v after unregister", r.List())
	}

	err = r.Unregister(entry.ID)
	if err == nil || !strings.Contains(err.Error(), "not registered") {
		t.Fatalf("second Unregister err = %v", err)
	}

	// Removal is persisted.
	r2, err := LoadRegistry(regPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(r2.List()) != 0 {
		t.Fatalf("reloaded list = %+v, want empty", r2.List())
	}
}
