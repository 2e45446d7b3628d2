// Package store persists session mappings as one JSON file per
// (project, issue, kind) triple under the maestro state directory.
//
// Layout: <root>/<projectID>/issue-<n>.<kind>.json
//
// Writes go through a temp-file rename so a crash mid-write never leaves a
// torn mapping on disk. A missing file means "no session yet" and is never
// reported as an error.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ejohane/maestro-sub001/internal/util"
)

// ErrNotFound is returned by Update and Touch when no mapping exists for the key.
var ErrNotFound = fmt.Errorf("store: mapping not found")

type Store struct {
	root string
	mu   sync.RWMutex
}

// New returns a store rooted at dir. The directory is created lazily on the
// first write.
func New(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("store: empty root dir")
	}
	return &Store{root: filepath.Clean(dir)}, nil
}

func (s *Store) Root() string {
	return s.root
}

// path returns the mapping file for a key, or an error for unusable key parts.
func (s *Store) path(projectID string, issueNumber int, kind SessionKind) (string, error) {
	if err := validateProjectID(projectID); err != nil {
		return "", err
	}
	if issueNumber <= 0 {
		return "", fmt.Errorf("store: invalid issue number %d", issueNumber)
	}
	if !kind.Valid() {
		return "", fmt.Errorf("store: invalid session kind %q", kind)
	}
	return filepath.Join(s.root, projectID, fmt.Sprintf("issue-%d.%s.json", issueNumber, kind)), nil
}

func validateProjectID(projectID string) error {
	if strings.TrimSpace(projectID) == "" {
		return fmt.Errorf("store: empty project id")
	}
	if strings.ContainsAny(projectID, `/\`) || projectID == "." || projectID == ".." {
		return fmt.Errorf("store: invalid project id %q", projectID)
	}
	return nil
}

// Get returns the mapping for the key, or (nil, nil) when none exists.
func (s *Store) Get(projectID string, issueNumber int, kind SessionKind) (*Mapping, error) {
	path, err := s.path(projectID, issueNumber, kind)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: read %s: %w", path, err)
	}

	var m Mapping
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("store: parse %s: %w", path, err)
	}
	return &m, nil
}

// Put writes the mapping, replacing any previous one for the same key.
func (s *Store) Put(m *Mapping) error {
	path, err := s.path(m.ProjectID, m.IssueNumber, m.Kind)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if m.Created.IsZero() {
		m.Created = now
	}
	m.Updated = now
	return util.EnsureDirAndWriteJSON(path, m)
}

// Update applies fn to the stored mapping under the write lock and persists
// the result. Returns ErrNotFound when no mapping exists.
func (s *Store) Update(projectID string, issueNumber int, kind SessionKind, fn func(*Mapping)) (*Mapping, error) {
	path, err := s.path(projectID, issueNumber, kind)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: read %s: %w", path, err)
	}
	var m Mapping
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("store: parse %s: %w", path, err)
	}

	fn(&m)
	m.Updated = time.Now().UTC()
	if err := util.EnsureDirAndWriteJSON(path, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Touch bumps the mapping's Updated timestamp.
func (s *Store) Touch(projectID string, issueNumber int, kind SessionKind) error {
	_, err := s.Update(projectID, issueNumber, kind, func(*Mapping) {})
	return err
}

// Remove deletes the mapping. Removing a missing mapping is not an error.
func (s *Store) Remove(projectID string, issueNumber int, kind SessionKind) error {
	path, err := s.path(projectID, issueNumber, kind)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("store: remove %s: %w", path, err)
	}
	return nil
}

// List returns all mappings for a project sorted by issue number, then kind.
// Unreadable files are skipped.
func (s *Store) List(projectID string) ([]Mapping, error) {
	if err := validateProjectID(projectID); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	dir := filepath.Join(s.root, projectID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: list %s: %w", dir, err)
	}

	var out []Mapping
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		var m Mapping
		if err := json.Unmarshal(data, &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IssueNumber != out[j].IssueNumber {
			return out[i].IssueNumber < out[j].IssueNumber
		}
		return out[i].Kind < out[j].Kind
	})
	return out, nil
}

// ListKind returns all mappings of one kind for a project, sorted by issue number.
func (s *Store) ListKind(projectID string, kind SessionKind) ([]Mapping, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("store: invalid session kind %q", kind)
	}
	all, err := s.List(projectID)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, m := range all {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out, nil
}
