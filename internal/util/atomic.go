// Package util provides small shared helpers for maestro.
package util

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// AtomicWriteFile writes data to path by writing a temporary file in the
// same directory and renaming it into place. A crash mid-write never leaves
// a partial record at path; the rename is atomic on POSIX systems.
func AtomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)

	// Unique temp file in the target directory so concurrent writers never
	// collide and the rename stays on one filesystem.
	f, err := os.CreateTemp(dir, base+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpName)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}

	// CreateTemp opens with 0600; widen to the requested mode.
	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)
		return err
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}

	return nil
}

// AtomicWriteJSON marshals v with indentation and writes it atomically.
func AtomicWriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return AtomicWriteFile(path, data, 0644)
}

// EnsureDirAndWriteJSON creates parent directories as needed, then writes
// JSON atomically.
func EnsureDirAndWriteJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return AtomicWriteJSON(path, v)
}
