package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ProjectFileName is the per-repository override file looked up at the repo root.
const ProjectFileName = ".maestro.yaml"

// ProjectConfig holds per-repository overrides read from .maestro.yaml.
// All fields are optional; zero values fall back to global config.
type ProjectConfig struct {
	Name          string   `yaml:"name,omitempty"`           // display name override
	RuntimeURL    string   `yaml:"runtime_url,omitempty"`    // agent runtime base URL override
	DefaultBranch string   `yaml:"default_branch,omitempty"` // base branch for issue worktrees (default: repo HEAD)
	SetupCommands []string `yaml:"setup_commands,omitempty"` // run in a fresh worktree before any session starts
	BeadsDB       string   `yaml:"beads_db,omitempty"`       // path to the bead database, relative to the repo root

	Swarm SwarmConfig `yaml:"swarm,omitempty"` // per-repo swarm overrides
}

// LoadProject reads .maestro.yaml from the repository root. A missing file is
// not an error; it returns an empty config.
func LoadProject(repoRoot string) (*ProjectConfig, error) {
	path := filepath.Join(repoRoot, ProjectFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &ProjectConfig{}, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var pc ProjectConfig
	if err := yaml.Unmarshal(data, &pc); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &pc, nil
}

// MergeSwarm overlays per-project swarm settings onto global defaults.
func MergeSwarm(global SwarmConfig, project SwarmConfig) SwarmConfig {
	out := global
	if strings.TrimSpace(project.OrchestratorAgent) != "" {
		out.OrchestratorAgent = project.OrchestratorAgent
	}
	if strings.TrimSpace(project.OrchestratorModel) != "" {
		out.OrchestratorModel = project.OrchestratorModel
	}
	if strings.TrimSpace(project.WorkerAgent) != "" {
		out.WorkerAgent = project.WorkerAgent
	}
	if strings.TrimSpace(project.WorkerModel) != "" {
		out.WorkerModel = project.WorkerModel
	}
	if strings.TrimSpace(project.Label) != "" {
		out.Label = project.Label
	}
	if project.MaxWorkers > 0 {
		out.MaxWorkers = project.MaxWorkers
	}
	return out
}
