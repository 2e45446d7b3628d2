// Package config loads and persists maestro configuration.
//
// Global settings live in ~/.maestro/config.toml (overridable via
// MAESTRO_HOME). A managed repository may additionally carry a .maestro.yaml
// with per-project overrides; see project.go.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/ejohane/maestro-sub001/internal/util"
)

// EnvHome overrides the maestro home directory (default ~/.maestro).
const EnvHome = "MAESTRO_HOME"

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `toml:"host,omitempty"`           // bind address (default 0.0.0.0)
	Port         int    `toml:"port,omitempty"`           // listen port (default 7777)
	AuthToken    string `toml:"auth_token,omitempty"`     // bearer token; empty disables auth
	TLS          bool   `toml:"tls,omitempty"`            // serve HTTPS with a self-signed cert
	MDNS         bool   `toml:"mdns,omitempty"`           // advertise _maestro._tcp on the LAN
	RateLimitRPS int    `toml:"rate_limit_rps,omitempty"` // per-IP request rate limit (0 = disabled)
}

// OpencodeConfig holds settings for the agent runtime that hosts sessions.
type OpencodeConfig struct {
	BaseURL      string `toml:"base_url,omitempty"`      // running server, e.g. http://127.0.0.1:4096
	Bin          string `toml:"bin,omitempty"`           // binary name/path used to start a server when base_url is empty
	StartTimeout string `toml:"start_timeout,omitempty"` // how long to wait for a spawned server to accept connections
}

// GitHubConfig holds settings for issue lookups via the gh CLI.
type GitHubConfig struct {
	Bin    string `toml:"bin,omitempty"`    // default "gh"
	Remote string `toml:"remote,omitempty"` // default "origin"
}

// BeadsConfig holds settings for the bead issue tracker CLI.
type BeadsConfig struct {
	Bin string `toml:"bin,omitempty"` // default "bd"
}

// SwarmConfig holds defaults for swarm orchestration. It appears both in the
// global TOML config and in per-repo .maestro.yaml overrides.
type SwarmConfig struct {
	OrchestratorAgent string `toml:"orchestrator_agent,omitempty" yaml:"orchestrator_agent,omitempty"` // agent preset for the orchestrator session
	OrchestratorModel string `toml:"orchestrator_model,omitempty" yaml:"orchestrator_model,omitempty"` // model override for the orchestrator
	WorkerAgent       string `toml:"worker_agent,omitempty" yaml:"worker_agent,omitempty"`             // agent preset suggested for child sessions
	WorkerModel       string `toml:"worker_model,omitempty" yaml:"worker_model,omitempty"`             // model override suggested for children
	MaxWorkers        int    `toml:"max_workers,omitempty" yaml:"max_workers,omitempty"`               // advisory cap passed to the orchestrator (0 = unlimited)
	Label             string `toml:"label,omitempty" yaml:"label,omitempty"`                           // issue label marking an active swarm
}

// WatchConfig holds timing settings for event streaming and poll fallback.
type WatchConfig struct {
	PollInterval string `toml:"poll_interval,omitempty"` // poll-watch cadence (default 2s)
	Heartbeat    string `toml:"heartbeat,omitempty"`     // SSE heartbeat cadence (default 30s)
}

// PushoverConfig holds Pushover notification credentials.
type PushoverConfig struct {
	UserKey  string `toml:"user_key,omitempty"`  // Pushover user/group key
	AppToken string `toml:"app_token,omitempty"` // Pushover application API token
}

// GlobalConfig holds user-level settings stored in ~/.maestro/config.toml.
type GlobalConfig struct {
	Server       ServerConfig          `toml:"server,omitempty"`
	Opencode     OpencodeConfig        `toml:"opencode,omitempty"`
	GitHub       GitHubConfig          `toml:"github,omitempty"`
	Beads        BeadsConfig           `toml:"beads,omitempty"`
	Swarm        SwarmConfig           `toml:"swarm,omitempty"`
	Watch        WatchConfig           `toml:"watch,omitempty"`
	Pushover     PushoverConfig        `toml:"pushover,omitempty"`
	Instructions []InstructionTemplate `toml:"instructions,omitempty"`
}

// Dir returns the maestro home directory, creating it if needed.
func Dir() string {
	if root := strings.TrimSpace(os.Getenv(EnvHome)); root != "" {
		os.MkdirAll(root, 0755)
		return root
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	dir := filepath.Join(home, ".maestro")
	os.MkdirAll(dir, 0755)
	return dir
}

// StateDir returns the directory holding per-project session state files.
func StateDir() string {
	return filepath.Join(Dir(), "state")
}

// WorktreesDir returns the directory holding per-issue git worktrees.
func WorktreesDir() string {
	return filepath.Join(Dir(), "worktrees")
}

// configPath returns the full path to ~/.maestro/config.toml.
func configPath() string {
	return filepath.Join(Dir(), "config.toml")
}

// Defaults returns a config populated with built-in defaults.
func Defaults() *GlobalConfig {
	cfg := &GlobalConfig{
		Server:   ServerConfig{Host: "0.0.0.0", Port: 7777},
		Opencode: OpencodeConfig{Bin: "opencode", StartTimeout: "30s"},
		GitHub:   GitHubConfig{Bin: "gh", Remote: "origin"},
		Beads:    BeadsConfig{Bin: "bd"},
		Swarm:    SwarmConfig{OrchestratorAgent: "orchestrator", WorkerAgent: "build", Label: "maestro-swarm"},
		Watch:    WatchConfig{PollInterval: "2s", Heartbeat: "30s"},
	}
	EnsureDefaultInstructionCatalog(cfg)
	return cfg
}

// Load reads ~/.maestro/config.toml, returning defaults if the file is absent.
func Load() (*GlobalConfig, error) {
	cfg := Defaults()
	if _, err := toml.DecodeFile(configPath(), cfg); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: load %s: %w", configPath(), err)
	}
	applyDefaults(cfg)
	EnsureDefaultInstructionCatalog(cfg)
	return cfg, nil
}

// Save writes the global config to ~/.maestro/config.toml atomically.
func Save(cfg *GlobalConfig) error {
	if cfg == nil {
		cfg = Defaults()
	}
	EnsureDefaultInstructionCatalog(cfg)

	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.Indent = ""
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	return util.AtomicWriteFile(configPath(), buf.Bytes(), 0644)
}

// applyDefaults fills empty fields a hand-edited file may have omitted.
func applyDefaults(cfg *GlobalConfig) {
	def := Defaults()
	if cfg.Server.Host == "" {
		cfg.Server.Host = def.Server.Host
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = def.Server.Port
	}
	if cfg.Opencode.Bin == "" {
		cfg.Opencode.Bin = def.Opencode.Bin
	}
	if cfg.Opencode.StartTimeout == "" {
		cfg.Opencode.StartTimeout = def.Opencode.StartTimeout
	}
	if cfg.GitHub.Bin == "" {
		cfg.GitHub.Bin = def.GitHub.Bin
	}
	if cfg.GitHub.Remote == "" {
		cfg.GitHub.Remote = def.GitHub.Remote
	}
	if cfg.Beads.Bin == "" {
		cfg.Beads.Bin = def.Beads.Bin
	}
	if cfg.Swarm.OrchestratorAgent == "" {
		cfg.Swarm.OrchestratorAgent = def.Swarm.OrchestratorAgent
	}
	if cfg.Swarm.WorkerAgent == "" {
		cfg.Swarm.WorkerAgent = def.Swarm.WorkerAgent
	}
	if cfg.Swarm.Label == "" {
		cfg.Swarm.Label = def.Swarm.Label
	}
	if cfg.Watch.PollInterval == "" {
		cfg.Watch.PollInterval = def.Watch.PollInterval
	}
	if cfg.Watch.Heartbeat == "" {
		cfg.Watch.Heartbeat = def.Watch.Heartbeat
	}
}

// parseDurationOr parses value, falling back to def on empty or invalid input.
func parseDurationOr(value string, def time.Duration) time.Duration {
	v := strings.TrimSpace(value)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// PollEvery returns the poll-watch cadence as a duration.
func (w WatchConfig) PollEvery() time.Duration {
	return parseDurationOr(w.PollInterval, 2*time.Second)
}

// HeartbeatEvery returns the SSE heartbeat cadence as a duration.
func (w WatchConfig) HeartbeatEvery() time.Duration {
	return parseDurationOr(w.Heartbeat, 30*time.Second)
}

// StartTimeoutOr returns the spawn wait timeout as a duration.
func (o OpencodeConfig) StartTimeoutOr(def time.Duration) time.Duration {
	return parseDurationOr(o.StartTimeout, def)
}

// Configured reports whether Pushover credentials are present.
func (p PushoverConfig) Configured() bool {
	return strings.TrimSpace(p.UserKey) != "" && strings.TrimSpace(p.AppToken) != ""
}
