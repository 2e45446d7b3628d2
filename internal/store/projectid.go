package store

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ProjectMarkerFile is the per-repo marker carrying the stable project id.
const ProjectMarkerFile = ".maestro.json"

type projectMarker struct {
	ID string `json:"id"`
}

func cleanPath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		path = "."
	}
	abs, err := filepath.Abs(path)
	if err == nil {
		path = abs
	}
	return filepath.Clean(path)
}

// ProjectMarkerPath returns the marker file path (<repoRoot>/.maestro.json).
func ProjectMarkerPath(repoRoot string) string {
	return filepath.Join(cleanPath(repoRoot), ProjectMarkerFile)
}

// FindProjectDir walks up from startDir until a directory containing
// .maestro.json is found. It returns an empty string when no marker is present.
func FindProjectDir(startDir string) (string, error) {
	candidate := cleanPath(startDir)
	for {
		markerPath := ProjectMarkerPath(candidate)
		if _, err := os.Stat(markerPath); err == nil {
			return candidate, nil
		} else if !os.IsNotExist(err) {
			return "", err
		}

		parent := filepath.Dir(candidate)
		if parent == candidate {
			break
		}
		candidate = parent
	}
	return "", nil
}

// ReadProjectID reads the project id from <repoRoot>/.maestro.json.
func ReadProjectID(repoRoot string) (string, error) {
	path := ProjectMarkerPath(repoRoot)
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	var marker projectMarker
	if err := json.Unmarshal(data, &marker); err != nil {
		return "", fmt.Errorf("parsing %s: %w", path, err)
	}
	id := strings.TrimSpace(marker.ID)
	if id == "" {
		return "", fmt.Errorf("parsing %s: missing id", path)
	}
	return id, nil
}

// WriteProjectMarker writes <repoRoot>/.maestro.json with the given id.
func WriteProjectMarker(repoRoot, projectID string) error {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return fmt.Errorf("project id is empty")
	}
	repoRoot = cleanPath(repoRoot)
	if err := os.MkdirAll(repoRoot, 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(projectMarker{ID: projectID}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(ProjectMarkerPath(repoRoot), data, 0644)
}

// GenerateProjectID returns an id in the format "<readable>-<uuid-v4>".
func GenerateProjectID(repoRoot string) string {
	base := sanitizeForProjectID(filepath.Base(cleanPath(repoRoot)))
	if base == "" {
		base = "project"
	}
	return base + "-" + uuid.NewString()
}

// ProjectIDFromDir returns the marker id when present, or a deterministic
// fallback derived from the directory path.
func ProjectIDFromDir(repoRoot string) string {
	if projectID, err := ReadProjectID(repoRoot); err == nil && strings.TrimSpace(projectID) != "" {
		return projectID
	}
	return fallbackProjectID(repoRoot)
}

func fallbackProjectID(repoRoot string) string {
	abs := cleanPath(repoRoot)
	base := sanitizeForProjectID(filepath.Base(abs))
	if base == "" {
		base = "project"
	}
	sum := sha1.Sum([]byte(abs))
	hash := hex.EncodeToString(sum[:])[:8]
	return base + "-" + hash
}

func sanitizeForProjectID(raw string) string {
	raw = strings.ToLower(strings.TrimSpace(raw))
	var b strings.Builder
	prevDash := false
	for _, r := range raw {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			prevDash = false
		} else if !prevDash {
			b.WriteByte('-')
			prevDash = true
		}
	}
	return strings.Trim(b.String(), "-")
}
