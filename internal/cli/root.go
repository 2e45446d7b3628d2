package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ejohane/maestro-sub001/internal/buildinfo"
	"github.com/ejohane/maestro-sub001/internal/debug"
)

const (
	// ANSI color codes
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
	colorWhite  = "\033[37m"

	// Combined styles
	styleBoldCyan   = "\033[1;36m"
	styleBoldGreen  = "\033[1;32m"
	styleBoldYellow = "\033[1;33m"
	styleBoldRed    = "\033[1;31m"
	styleBoldBlue   = "\033[1;34m"
	styleBoldWhite  = "\033[1;37m"
)

var rootCmd = &cobra.Command{
	Use:   "maestro",
	Short: "Conductor for AI coding sessions bound to GitHub issues",
	Long: colorBold + `
                              _
 _ __ ___    __ _   ___  ___ | |_  _ __   ___
| '_ ` + "`" + ` _ \  / _` + "`" + ` | / _ \/ __|| __|| '__| / _ \
| | | | | || (_| ||  __/\__ \| |_ | |   | (_) |
|_| |_| |_| \__,_| \___||___/ \__||_|    \___/` + colorReset + `

  ` + styleBoldCyan + `Conductor for AI coding sessions` + colorReset + ` v` + buildinfo.Current().Version + `

  maestro binds AI coding sessions to your GitHub issues: chat about an
  issue, plan it inside an isolated git worktree, or launch a swarm that
  works an epic's dependency tree to completion. Everything is served
  over HTTP and SSE so phones and browsers can watch and steer.

  Run ` + styleBoldWhite + `maestro serve` + colorReset + ` to start the API server, or ` + styleBoldWhite + `maestro projects register` + colorReset + ` to add a repo.

` + colorBold + `Getting Started:` + colorReset + `
  maestro projects register .     Register the current repository
  maestro serve                   Serve the HTTP API in the foreground
  maestro serve --daemon          Serve in the background
  maestro serve --expose          Serve on the LAN with TLS and a token
  maestro status                  Show server and session overview

` + colorBold + `More Info:` + colorReset + `
  https://github.com/ejohane/maestro`,

	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := loadProjectRegistry()
		if err != nil {
			return cmd.Help()
		}
		_, running, err := loadServeDaemonState(servePIDFilePath(), serveStateFilePath(), isPIDAlive)
		if err != nil {
			return err
		}
		if !running && len(reg.List()) == 0 {
			fmt.Println(styleBoldYellow + "No projects registered." + colorReset)
			fmt.Println("Run " + styleBoldWhite + "maestro projects register" + colorReset + " inside a repository, then " + styleBoldWhite + "maestro serve" + colorReset + ".")
			return nil
		}
		// With anything to report, bare maestro behaves like maestro status.
		return runStatus(cmd, args)
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.CompletionOptions.HiddenDefaultCmd = true
	rootCmd.PersistentFlags().Bool("debug", false, "Enable verbose debug logging to ~/.maestro/debug/")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		debugFlag, _ := cmd.Flags().GetBool("debug")
		if !debugFlag && !debug.ShouldEnableFromEnv() {
			return nil
		}
		logPath, err := debug.Init()
		if err != nil {
			return fmt.Errorf("initializing debug logger: %w", err)
		}
		fmt.Fprintf(os.Stderr, "%s[debug]%s logging to %s\n", colorDim, colorReset, logPath)
		bi := buildinfo.Current()
		debug.LogKV("cli", "maestro starting",
			"version", bi.Version,
			"commit", bi.CommitHash,
			"build_date", bi.BuildDate,
			"pid", os.Getpid(),
			"command", cmd.Name(),
			"args", args,
		)
		return nil
	}
}

// Execute runs the root command.
func Execute() {
	defer debug.Close()
	if err := rootCmd.Execute(); err != nil {
		debug.Logf("cli", "exit with error: %v", err)
		fmt.Fprintf(os.Stderr, "%sError: %s%s\n", colorRed, err, colorReset)
		os.Exit(1)
	}
	debug.Log("cli", "exit success")
}
