package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/ejohane/maestro-sub001/internal/buildinfo"
	"github.com/ejohane/maestro-sub001/internal/config"
	"github.com/ejohane/maestro-sub001/internal/store"
	"github.com/ejohane/maestro-sub001/internal/webserver"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server, project, and session overview",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

// Styles for terminal output. Non-TTY writers get plain text.
var (
	statusTitleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	statusSectionStyle = lipgloss.NewStyle().Bold(true)
	statusNameStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("7"))
	statusUpStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	statusDimStyle     = lipgloss.NewStyle().Faint(true)
)

func runStatus(cmd *cobra.Command, args []string) error {
	reg, err := loadProjectRegistry()
	if err != nil {
		return err
	}
	state, running, err := loadServeDaemonState(servePIDFilePath(), serveStateFilePath(), isPIDAlive)
	if err != nil {
		return err
	}
	st, err := store.New(config.StateDir())
	if err != nil {
		return fmt.Errorf("opening session store: %w", err)
	}
	styled := isatty.IsTerminal(os.Stdout.Fd())
	printStatus(cmd.OutOrStdout(), styled, state, running, reg, st)
	return nil
}

func printStatus(out io.Writer, styled bool, state serveRuntimeState, running bool, reg *webserver.Registry, st *store.Store) {
	style := func(s lipgloss.Style, text string) string {
		if !styled {
			return text
		}
		return s.Render(text)
	}

	fmt.Fprintf(out, "%s %s\n\n", style(statusTitleStyle, "maestro"), style(statusDimStyle, "v"+buildinfo.Current().Version))

	if running {
		fmt.Fprintf(out, "Server:   %s (PID %d)\n", style(statusUpStyle, "running"), state.PID)
		if url := strings.TrimSpace(state.URL); url != "" {
			fmt.Fprintf(out, "URL:      %s\n", url)
		}
	} else {
		fmt.Fprintf(out, "Server:   %s\n", style(statusDimStyle, "not running"))
	}
	fmt.Fprintln(out)

	entries := reg.List()
	if len(entries) == 0 {
		fmt.Fprintln(out, "No projects registered.")
		return
	}

	fmt.Fprintln(out, style(statusSectionStyle, fmt.Sprintf("Projects (%d):", len(entries))))
	for _, e := range entries {
		fmt.Fprintf(out, "  %s (%s)\n", style(statusNameStyle, e.Name), e.ID)
		fmt.Fprintf(out, "    %s\n", e.Path)
		fmt.Fprintf(out, "    %s\n", style(statusDimStyle, sessionSummary(st, e.ID)))
	}
}

// sessionSummary renders the per-kind session counts for one project.
func sessionSummary(st *store.Store, projectID string) string {
	mappings, err := st.List(projectID)
	if err != nil || len(mappings) == 0 {
		return "no sessions"
	}

	byKind := make(map[store.SessionKind]int)
	runningSwarms := 0
	for _, m := range mappings {
		byKind[m.Kind]++
		if m.Kind == store.KindSwarm && m.SwarmStatus == store.SwarmRunning {
			runningSwarms++
		}
	}

	parts := make([]string, 0, len(byKind))
	for _, k := range store.AllKinds() {
		if n := byKind[k]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, k))
		}
	}
	summary := strings.Join(parts, ", ")
	if runningSwarms > 0 {
		summary += fmt.Sprintf(" (%d swarm running)", runningSwarms)
	}
	return summary
}
