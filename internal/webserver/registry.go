package webserver

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/ejohane/maestro-sub001/internal/store"
	"github.com/ejohane/maestro-sub001/internal/util"
)

// ProjectEntry is one registered repository served by this instance.
type ProjectEntry struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Path string `json:"path"`
}

// Registry is the persistent list of served projects, stored as JSON at
// ~/.maestro/projects.json. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	path    string
	entries map[string]*ProjectEntry
}

// LoadRegistry reads the registry file. A missing file yields an empty
// registry bound to that path.
func LoadRegistry(path string) (*Registry, error) {
	r := &Registry{
		path:    path,
		entries: make(map[string]*ProjectEntry),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("reading project registry %s: %w", path, err)
	}

	var list []ProjectEntry
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parsing project registry %s: %w", path, err)
	}
	for i := range list {
		e := list[i]
		if e.ID == "" || e.Path == "" {
			continue
		}
		r.entries[e.ID] = &e
	}
	return r, nil
}

// Register adds a repository to the registry. The repository gets a stable
// project id written to its .maestro.json marker on first registration.
// Registering an already-registered path is idempotent.
func (r *Registry) Register(repoRoot, name string) (*ProjectEntry, error) {
	abs, err := filepath.Abs(strings.TrimSpace(repoRoot))
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", repoRoot, err)
	}
	abs = filepath.Clean(abs)

	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("registering %s: %w", abs, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("registering %s: not a directory", abs)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.entries {
		if filepath.Clean(e.Path) == abs {
			return e, nil
		}
	}

	id, err := store.ReadProjectID(abs)
	if err != nil {
		id = store.GenerateProjectID(abs)
		if err := store.WriteProjectMarker(abs, id); err != nil {
			return nil, fmt.Errorf("writing project marker: %w", err)
		}
	}
	if existing, ok := r.entries[id]; ok && filepath.Clean(existing.Path) != abs {
		return nil, fmt.Errorf("project id %q already registered for %s", id, existing.Path)
	}

	if name = strings.TrimSpace(name); name == "" {
		name = filepath.Base(abs)
	}
	entry := &ProjectEntry{ID: id, Name: name, Path: abs}
	r.entries[id] = entry

	if err := r.save(); err != nil {
		delete(r.entries, id)
		return nil, err
	}
	return entry, nil
}

// Unregister removes a project from the registry. The repository itself and
// its stored sessions are left untouched.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[id]; !ok {
		return fmt.Errorf("project %q not registered", id)
	}
	delete(r.entries, id)
	return r.save()
}

// Get returns the entry for a project id.
func (r *Registry) Get(id string) (*ProjectEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	cp := *e
	return &cp, true
}

// List returns all entries sorted by id.
func (r *Registry) List() []ProjectEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ProjectEntry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// save writes the registry file atomically. Caller holds the lock.
func (r *Registry) save() error {
	list := make([]ProjectEntry, 0, len(r.entries))
	for _, e := range r.entries {
		list = append(list, *e)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })

	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding project registry: %w", err)
	}
	if err := util.AtomicWriteFile(r.path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("writing project registry %s: %w", r.path, err)
	}
	return nil
}
