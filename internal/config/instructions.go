package config

import "strings"

// InstructionTemplate is a named block of kickoff instructions sent to a
// session when it is first created. Users may edit these in the global config;
// built-in templates are re-added on load if deleted.
type InstructionTemplate struct {
	Name        string `toml:"name"`
	Description string `toml:"description,omitempty"`
	Body        string `toml:"body"`
}

// Built-in instruction template names.
const (
	TemplateOrchestrator = "swarm-orchestrator"
	TemplateWorker       = "swarm-worker"
	TemplatePlanning     = "planning"
	TemplateIssueChat    = "issue-chat"
)

const orchestratorBody = "You are the ORCHESTRATOR of a swarm working on a single GitHub issue. " +
	"You coordinate; child sessions implement.\n\n" +
	"## Core Principles\n\n" +
	"1. **Decompose first.** Break the issue into small, independently verifiable tasks before any implementation starts. Record each task as a bead under the issue's epic so progress is visible outside this session.\n" +
	"2. **Delegate aggressively.** Spawn a child session per task. Children run in the same worktree; give each one a precise, self-contained brief.\n" +
	"3. **Maximize parallelism.** Start all independent tasks at once. Sequential spawning wastes wall-clock time.\n" +
	"4. **Review before closing.** Inspect each child's diff against its brief. Send corrective guidance to a running child rather than discarding its work.\n\n" +
	"## Anti-Patterns (avoid these)\n\n" +
	"- Implementing changes yourself instead of spawning a child\n" +
	"- Marking the epic done while any bead is still open\n" +
	"- Spawning a child without first writing its bead"

const workerBody = "You are a WORKER session inside a swarm. The orchestrator assigned you one task.\n\n" +
	"- Stay inside the assigned scope; report anything out of scope back instead of fixing it\n" +
	"- Update your bead's status as you progress\n" +
	"- When blocked, ask the orchestrator rather than guessing"

const planningBody = "You are a PLANNING session for a GitHub issue. You do NOT write code.\n\n" +
	"- Read the issue and the relevant parts of the repository\n" +
	"- Produce a concrete implementation plan: ordered tasks, file-level touch points, risks\n" +
	"- Record the plan as beads under the issue's epic so a swarm can pick it up later"

const issueChatBody = "You are a CHAT session attached to a GitHub issue. Answer questions about the " +
	"issue and the repository. Keep answers grounded in the actual code; cite files and line numbers."

var defaultInstructionTemplates = []InstructionTemplate{
	{
		Name:        TemplateOrchestrator,
		Description: "Kickoff for the swarm orchestrator session.",
		Body:        orchestratorBody,
	},
	{
		Name:        TemplateWorker,
		Description: "Brief preamble the orchestrator passes to each child.",
		Body:        workerBody,
	},
	{
		Name:        TemplatePlanning,
		Description: "Kickoff for a planning session.",
		Body:        planningBody,
	},
	{
		Name:        TemplateIssueChat,
		Description: "Preamble for an issue chat session.",
		Body:        issueChatBody,
	},
}

// EnsureDefaultInstructionCatalog adds any missing built-in templates to cfg.
// User-edited bodies are left untouched.
func EnsureDefaultInstructionCatalog(cfg *GlobalConfig) {
	if cfg == nil {
		return
	}
	for _, def := range defaultInstructionTemplates {
		if cfg.FindInstructionTemplate(def.Name) == nil {
			cfg.Instructions = append(cfg.Instructions, def)
		}
	}
}

// FindInstructionTemplate returns the template with the given name, or nil.
func (c *GlobalConfig) FindInstructionTemplate(name string) *InstructionTemplate {
	for i := range c.Instructions {
		if strings.EqualFold(c.Instructions[i].Name, name) {
			return &c.Instructions[i]
		}
	}
	return nil
}

// InstructionBody returns the body of the named template, or "" if absent.
func (c *GlobalConfig) InstructionBody(name string) string {
	if t := c.FindInstructionTemplate(name); t != nil {
		return t.Body
	}
	return ""
}
