package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/ejohane/maestro-sub001/internal/config"
)

func newProjectsRegisterTestCmd() (*cobra.Command, *bytes.Buffer) {
	cmd := &cobra.Command{}
	cmd.Flags().String("name", "", "")
	var out bytes.Buffer
	cmd.SetOut(&out)
	return cmd, &out
}

func TestRunProjectsRegisterAndList(t *testing.T) {
	t.Setenv(config.EnvHome, t.TempDir())
	repo := t.TempDir()

	cmd, out := newProjectsRegisterTestCmd()
	if err := cmd.Flags().Set("name", "demo"); err != nil {
		t.Fatalf("setting name flag: %v", err)
	}
	if err := runProjectsRegister(cmd, []string{repo}); err != nil {
		t.Fatalf("runProjectsRegister() error = %v", err)
	}
	if !strings.Contains(out.String(), `Registered project "demo"`) {
		t.Fatalf("register output = %q, want registered message", out.String())
	}

	listCmd := &cobra.Command{}
	var listOut bytes.Buffer
	listCmd.SetOut(&listOut)
	if err := runProjectsList(listCmd, nil); err != nil {
		t.Fatalf("runProjectsList() error = %v", err)
	}
	got := listOut.String()
	if !strings.Contains(got, "demo") || !strings.Contains(got, repo) {
		t.Fatalf("list output = %q, want name and path", got)
	}
}

func TestRunProjectsRegisterIsIdempotent(t *testing.T) {
	t.Setenv(config.EnvHome, t.TempDir())
	repo := t.TempDir()

	cmd, _ := newProjectsRegisterTestCmd()
	if err := runProjectsRegister(cmd, []string{repo}); err != nil {
		t.Fatalf("first register: %v", err)
	}
	cmd2, _ := newProjectsRegisterTestCmd()
	if err := runProjectsRegister(cmd2, []string{repo}); err != nil {
		t.Fatalf("second register: %v", err)
	}

	reg, err := loadProjectRegistry()
	if err != nil {
		t.Fatalf("loading registry: %v", err)
	}
	if n := len(reg.List()); n != 1 {
		t.Fatalf("registry has %d entries after double register, want 1", n)
	}
}

func TestRunProjectsUnregisterByPath(t *testing.T) {
	t.Setenv(config.EnvHome, t.TempDir())
	repo := t.TempDir()

	cmd, _ := newProjectsRegisterTestCmd()
	if err := runProjectsRegister(cmd, []string{repo}); err != nil {
		t.Fatalf("register: %v", err)
	}

	unregCmd := &cobra.Command{}
	var out bytes.Buffer
	unregCmd.SetOut(&out)
	if err := runProjectsUnregister(unregCmd, []string{repo}); err != nil {
		t.Fatalf("runProjectsUnregister() error = %v", err)
	}
	if !strings.Contains(out.String(), "Unregistered project") {
		t.Fatalf("unregister output = %q", out.String())
	}

	reg, err := loadProjectRegistry()
	if err != nil {
		t.Fatalf("loading registry: %v", err)
	}
	if n := len(reg.List()); n != 0 {
		t.Fatalf("registry has %d entries after unregister, want 0", n)
	}
}

func TestRunProjectsUnregisterUnknown(t *testing.T) {
	t.Setenv(config.EnvHome, t.TempDir())

	cmd := &cobra.Command{}
	cmd.SetOut(&bytes.Buffer{})
	err := runProjectsUnregister(cmd, []string{"nope"})
	if err == nil {
		t.Fatal("expected error for unknown project")
	}
	if !strings.Contains(err.Error(), "not registered") {
		t.Fatalf("error = %v, want not-registered", err)
	}
}

func TestRunProjectsListEmpty(t *testing.T) {
	t.Setenv(config.EnvHome, t.TempDir())

	cmd := &cobra.Command{}
	var out bytes.Buffer
	cmd.SetOut(&out)
	if err := runProjectsList(cmd, nil); err != nil {
		t.Fatalf("runProjectsList() error = %v", err)
	}
	if !strings.Contains(out.String(), "No projects registered.") {
		t.Fatalf("list output = %q, want empty message", out.String())
	}
}
