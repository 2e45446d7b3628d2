package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ejohane/maestro-sub001/internal/config"
	"github.com/ejohane/maestro-sub001/internal/webserver"
)

const projectRegistryFileName = "projects.json"

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "Manage the registry of served repositories",
}

var projectsRegisterCmd = &cobra.Command{
	Use:   "register [path]",
	Short: "Register a repository (default: current directory)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runProjectsRegister,
}

var projectsUnregisterCmd = &cobra.Command{
	Use:   "unregister <id-or-path>",
	Short: "Remove a repository from the registry",
	Args:  cobra.ExactArgs(1),
	RunE:  runProjectsUnregister,
}

var projectsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered repositories",
	Args:  cobra.NoArgs,
	RunE:  runProjectsList,
}

func init() {
	projectsRegisterCmd.Flags().String("name", "", "Display name (default: directory basename)")
	projectsCmd.AddCommand(projectsRegisterCmd, projectsUnregisterCmd, projectsListCmd)
	rootCmd.AddCommand(projectsCmd)
}

func projectRegistryPath() string {
	return filepath.Join(config.Dir(), projectRegistryFileName)
}

func loadProjectRegistry() (*webserver.Registry, error) {
	return webserver.LoadRegistry(projectRegistryPath())
}

func runProjectsRegister(cmd *cobra.Command, args []string) error {
	path := "."
	if len(args) == 1 {
		path = args[0]
	}
	name, _ := cmd.Flags().GetString("name")

	reg, err := loadProjectRegistry()
	if err != nil {
		return err
	}
	entry, err := reg.Register(path, name)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Registered project %q (%s) at %s\n", entry.Name, entry.ID, entry.Path)
	return nil
}

func runProjectsUnregister(cmd *cobra.Command, args []string) error {
	reg, err := loadProjectRegistry()
	if err != nil {
		return err
	}

	// Accept either a project id or a registered path.
	id := args[0]
	if _, ok := reg.Get(id); !ok {
		if abs, err := filepath.Abs(id); err == nil {
			abs = filepath.Clean(abs)
			for _, e := range reg.List() {
				if filepath.Clean(e.Path) == abs {
					id = e.ID
					break
				}
			}
		}
	}

	if err := reg.Unregister(id); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Unregistered project %q\n", id)
	return nil
}

func runProjectsList(cmd *cobra.Command, args []string) error {
	reg, err := loadProjectRegistry()
	if err != nil {
		return err
	}
	entries := reg.List()
	if len(entries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No projects registered.")
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", e.ID, e.Name, e.Path)
	}
	return nil
}
