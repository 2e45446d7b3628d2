package cli

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ejohane/maestro-sub001/internal/config"
)

const (
	serveDaemonChildEnv = "MAESTRO_SERVE_DAEMON_CHILD"
	servePIDFileName    = "serve.pid"
	serveStateFileName  = "serve.json"
)

// serveRuntimeState is the metadata the daemonized server writes once it is
// listening, so stop/status and the spawning parent can find it.
type serveRuntimeState struct {
	PID    int    `json:"pid"`
	URL    string `json:"url"`
	Port   int    `json:"port"`
	Host   string `json:"host"`
	Scheme string `json:"scheme"`
}

func servePIDFilePath() string {
	return filepath.Join(config.Dir(), servePIDFileName)
}

func serveStateFilePath() string {
	return filepath.Join(config.Dir(), serveStateFileName)
}

func runServeDaemonParent(authToken string, injectAuthToken bool, printQR bool, openInBrowser bool) error {
	state, running, err := loadServeDaemonState(servePIDFilePath(), serveStateFilePath(), isPIDAlive)
	if err != nil {
		return fmt.Errorf("checking existing server daemon: %w", err)
	}
	if running {
		return fmt.Errorf("server is already running (pid %d)", state.PID)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("finding executable: %w", err)
	}

	childArgs := daemonChildArgs(os.Args[1:])
	if injectAuthToken && authToken != "" && !hasAuthTokenArg(childArgs) {
		childArgs = append(childArgs, "--auth-token", authToken)
	}
	childCmd := exec.Command(exe, childArgs...)
	childCmd.Env = append(os.Environ(), serveDaemonChildEnv+"=1")
	childCmd.Stdin = nil
	childCmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := childCmd.Start(); err != nil {
		return fmt.Errorf("starting server daemon: %w", err)
	}

	waitCh := make(chan error, 1)
	go func() {
		waitCh <- childCmd.Wait()
	}()

	state, err = waitForServeDaemonStartup(waitCh, 8*time.Second)
	if err != nil {
		return err
	}

	fmt.Printf("Server started in daemon mode.\n")
	fmt.Printf("URL: %s\n", state.URL)
	fmt.Printf("PID: %d\n", state.PID)
	if printQR {
		if err := printServeQRCode(state.URL); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to render QR code: %v\n", err)
		}
	}
	if openInBrowser {
		if err := openBrowser(state.URL); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to open browser: %v\n", err)
		}
	}
	return nil
}

func waitForServeDaemonStartup(waitCh <-chan error, timeout time.Duration) (serveRuntimeState, error) {
	deadline := time.Now().Add(timeout)
	for {
		state, running, err := loadServeDaemonState(servePIDFilePath(), serveStateFilePath(), isPIDAlive)
		if err != nil {
			return serveRuntimeState{}, fmt.Errorf("reading server daemon state: %w", err)
		}
		if running && strings.TrimSpace(state.URL) != "" {
			return state, nil
		}

		select {
		case err := <-waitCh:
			if err == nil {
				return serveRuntimeState{}, fmt.Errorf("server daemon exited before startup")
			}
			return serveRuntimeState{}, fmt.Errorf("server daemon exited before startup: %w", err)
		default:
		}

		if time.Now().After(deadline) {
			return serveRuntimeState{}, fmt.Errorf("timed out waiting for server daemon startup")
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func runServeStop(cmd *cobra.Command, args []string) error {
	state, running, err := loadServeDaemonState(servePIDFilePath(), serveStateFilePath(), isPIDAlive)
	if err != nil {
		return fmt.Errorf("checking server daemon status: %w", err)
	}
	if !running {
		fmt.Fprintln(cmd.OutOrStdout(), "No server running.")
		return nil
	}

	if err := syscall.Kill(state.PID, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("sending SIGTERM to server pid %d: %w", state.PID, err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if !isPIDAlive(state.PID) {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	if isPIDAlive(state.PID) {
		if err := syscall.Kill(state.PID, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
			return fmt.Errorf("sending SIGKILL to server pid %d: %w", state.PID, err)
		}
	}

	if err := removeServeRuntimeFiles(servePIDFilePath(), serveStateFilePath()); err != nil {
		return fmt.Errorf("removing server runtime metadata: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Server stopped.")
	return nil
}

func runServeStatus(cmd *cobra.Command, args []string) error {
	state, running, err := loadServeDaemonState(servePIDFilePath(), serveStateFilePath(), isPIDAlive)
	if err != nil {
		return fmt.Errorf("checking server daemon status: %w", err)
	}
	if !running {
		fmt.Fprintln(cmd.OutOrStdout(), "Server not running.")
		return nil
	}

	url := strings.TrimSpace(state.URL)
	if url == "" && state.Port > 0 {
		scheme := strings.TrimSpace(state.Scheme)
		if scheme == "" {
			scheme = "http"
		}
		url = fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(state.Host, strconv.Itoa(state.Port)))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Server running (PID %d)\n", state.PID)
	if url != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "URL: %s\n", url)
	}
	return nil
}

func writeServeRuntimeFiles(pidPath, statePath string, state serveRuntimeState) error {
	if err := writeServePIDFile(pidPath, state.PID); err != nil {
		return err
	}
	if err := writeServeRuntimeState(statePath, state); err != nil {
		_ = os.Remove(pidPath)
		return err
	}
	return nil
}

func removeServeRuntimeFiles(pidPath, statePath string) error {
	var errs []error
	if err := os.Remove(pidPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, err)
	}
	if err := os.Remove(statePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// loadServeDaemonState reads the PID and state files, clearing them when the
// recorded process is gone. The pidAlive check is injected for tests.
func loadServeDaemonState(pidPath, statePath string, pidAlive func(int) bool) (serveRuntimeState, bool, error) {
	pid, err := readServePIDFile(pidPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return serveRuntimeState{}, false, nil
		}
		return serveRuntimeState{}, false, err
	}

	if !pidAlive(pid) {
		_ = removeServeRuntimeFiles(pidPath, statePath)
		return serveRuntimeState{}, false, nil
	}

	state, err := readServeRuntimeState(statePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return serveRuntimeState{PID: pid}, true, nil
		}
		return serveRuntimeState{}, false, err
	}

	state.PID = pid
	return state, true, nil
}

func writeServePIDFile(path string, pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid: %d", pid)
	}
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", pid)), 0644)
}

func readServePIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parsing pid file %s: %w", path, err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("invalid pid in %s", path)
	}
	return pid, nil
}

func writeServeRuntimeState(path string, state serveRuntimeState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func readServeRuntimeState(path string) (serveRuntimeState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return serveRuntimeState{}, err
	}
	var state serveRuntimeState
	if err := json.Unmarshal(data, &state); err != nil {
		return serveRuntimeState{}, err
	}
	return state, nil
}

// daemonChildArgs strips --daemon (and a bare boolean value after it) from
// the argument list the child is re-executed with.
func daemonChildArgs(args []string) []string {
	out := make([]string, 0, len(args))
	skipNext := false
	for i := range args {
		if skipNext {
			skipNext = false
			continue
		}
		arg := args[i]
		if arg == "--daemon" {
			if i+1 < len(args) {
				next := strings.ToLower(strings.TrimSpace(args[i+1]))
				if next == "true" || next == "false" || next == "1" || next == "0" {
					skipNext = true
				}
			}
			continue
		}
		if strings.HasPrefix(arg, "--daemon=") {
			continue
		}
		out = append(out, arg)
	}
	return out
}

func hasAuthTokenArg(args []string) bool {
	for _, arg := range args {
		if arg == "--auth-token" || strings.HasPrefix(arg, "--auth-token=") {
			return true
		}
	}
	return false
}

func isPIDAlive(pid int) bool {
	if pid <= 0 {
		return false
	}

	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

func generateToken() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
