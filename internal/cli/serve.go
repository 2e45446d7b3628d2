package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/hashicorp/mdns"
	qrcode "github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"

	"github.com/ejohane/maestro-sub001/internal/config"
	"github.com/ejohane/maestro-sub001/internal/store"
	"github.com/ejohane/maestro-sub001/internal/webserver"
)

const serveMDNSServiceType = "_maestro._tcp"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the maestro API server",
	Long: `Start the HTTP/SSE server exposing registered projects: issue chat,
planning sessions, and swarm orchestration. Flags override the [server]
section of ~/.maestro/config.toml.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var serveStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the daemonized server",
	Args:  cobra.NoArgs,
	RunE:  runServeStop,
}

var serveStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemonized server status",
	Args:  cobra.NoArgs,
	RunE:  runServeStatus,
}

func init() {
	serveCmd.Flags().IntP("port", "p", 7777, "Port to listen on")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Bool("expose", false, "Bind to 0.0.0.0 with TLS and a generated auth token for LAN access")
	serveCmd.Flags().String("tls", "", "TLS mode: 'self-signed' or 'custom' (requires --cert and --key)")
	serveCmd.Flags().String("cert", "", "Path to TLS certificate file (for --tls=custom)")
	serveCmd.Flags().String("key", "", "Path to TLS key file (for --tls=custom)")
	serveCmd.Flags().String("auth-token", "", "Require Bearer token for API access")
	serveCmd.Flags().Float64("rate-limit", 0, "Max requests per second per IP (0 = unlimited)")
	serveCmd.Flags().Bool("daemon", false, "Run the server in the background")
	serveCmd.Flags().Bool("mdns", false, "Advertise the server on the local network via mDNS/Bonjour")
	serveCmd.Flags().Bool("open", false, "Open the server URL in a browser")

	serveCmd.AddCommand(serveStopCmd, serveStatusCmd)
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Flags win over config.toml; the config supplies everything not set.
	host := cfg.Server.Host
	if cmd.Flags().Changed("host") {
		host, _ = cmd.Flags().GetString("host")
	}
	port := cfg.Server.Port
	if cmd.Flags().Changed("port") {
		port, _ = cmd.Flags().GetInt("port")
	}
	authToken := cfg.Server.AuthToken
	if cmd.Flags().Changed("auth-token") {
		authToken, _ = cmd.Flags().GetString("auth-token")
	}
	rateLimit := float64(cfg.Server.RateLimitRPS)
	if cmd.Flags().Changed("rate-limit") {
		rateLimit, _ = cmd.Flags().GetFloat64("rate-limit")
	}
	tlsMode := ""
	if cfg.Server.TLS {
		tlsMode = "self-signed"
	}
	if cmd.Flags().Changed("tls") {
		tlsMode, _ = cmd.Flags().GetString("tls")
	}
	enableMDNS := cfg.Server.MDNS
	if cmd.Flags().Changed("mdns") {
		enableMDNS, _ = cmd.Flags().GetBool("mdns")
	}
	certFile, _ := cmd.Flags().GetString("cert")
	keyFile, _ := cmd.Flags().GetString("key")
	expose, _ := cmd.Flags().GetBool("expose")
	daemon, _ := cmd.Flags().GetBool("daemon")
	daemonChild := os.Getenv(serveDaemonChildEnv) == "1"
	userProvidedAuthToken := cmd.Flags().Changed("auth-token") || cfg.Server.AuthToken != ""

	if expose {
		host = "0.0.0.0"
		if !cmd.Flags().Changed("tls") {
			tlsMode = "self-signed"
		}
		if !userProvidedAuthToken {
			authToken = generateToken()
			if !daemonChild {
				fmt.Fprintf(os.Stderr, "Generated auth token: %s\n", authToken)
			}
		}
		if !daemonChild {
			fmt.Fprintln(os.Stderr, "Warning: Exposing the server on all interfaces.")
		}
	}

	if tlsMode != "" && tlsMode != "self-signed" && tlsMode != "custom" {
		return fmt.Errorf("invalid --tls value %q, expected 'self-signed' or 'custom'", tlsMode)
	}
	if tlsMode == "custom" && (certFile == "" || keyFile == "") {
		return fmt.Errorf("--tls=custom requires both --cert and --key")
	}
	if daemon && !daemonChild {
		shouldInjectAuthToken := expose && !userProvidedAuthToken && authToken != ""
		open, _ := cmd.Flags().GetBool("open")
		return runServeDaemonParent(authToken, shouldInjectAuthToken, expose, open)
	}
	if daemonChild {
		state, running, err := loadServeDaemonState(servePIDFilePath(), serveStateFilePath(), isPIDAlive)
		if err != nil {
			return fmt.Errorf("checking existing server daemon: %w", err)
		}
		if running && state.PID != os.Getpid() {
			return fmt.Errorf("server is already running (pid %d)", state.PID)
		}
	}

	reg, err := loadProjectRegistry()
	if err != nil {
		return err
	}
	st, err := store.New(config.StateDir())
	if err != nil {
		return fmt.Errorf("opening session store: %w", err)
	}

	if len(reg.List()) == 0 && !daemonChild {
		fmt.Fprintln(os.Stderr, "Warning: no projects registered yet. Use 'maestro projects register' or POST /api/projects.")
	}

	srv := webserver.New(reg, st, cfg, webserver.Options{
		Host:      host,
		Port:      port,
		TLSMode:   tlsMode,
		CertFile:  certFile,
		KeyFile:   keyFile,
		AuthToken: authToken,
		RateLimit: rateLimit,
	})

	if err := srv.Start(); err != nil {
		var opErr *net.OpError
		if errors.As(err, &opErr) {
			fmt.Fprintf(os.Stderr, "Port %d is already in use.\n", port)
			fmt.Fprintf(os.Stderr, "Try: maestro serve --port %d\n", port+1)
		}
		return fmt.Errorf("starting server: %w", err)
	}

	url := fmt.Sprintf("%s://%s", srv.Scheme(), srv.Addr())
	hostPart, portPart := splitHostPort(srv.Addr())
	state := serveRuntimeState{
		PID:    os.Getpid(),
		URL:    url,
		Port:   portPart,
		Host:   hostPart,
		Scheme: srv.Scheme(),
	}
	if daemonChild {
		if err := writeServeRuntimeFiles(servePIDFilePath(), serveStateFilePath(), state); err != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
			return fmt.Errorf("writing server daemon metadata: %w", err)
		}
		defer func() {
			_ = removeServeRuntimeFiles(servePIDFilePath(), serveStateFilePath())
		}()
	}

	if !daemonChild {
		// OSC 8 hyperlink so capable terminals make the URL clickable.
		fmt.Printf("\033]8;;%s\033\\%s\033]8;;\033\\\n", url, url)
		if expose {
			if err := printServeQRCode(url); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to render QR code: %v\n", err)
			}
		}
		if n := len(reg.List()); n > 0 {
			label := "projects"
			if n == 1 {
				label = "project"
			}
			fmt.Printf("Serving %d %s.\n", n, label)
		}
		if authToken != "" {
			fmt.Printf("Auth token required for API access.\n")
		}

		open, _ := cmd.Flags().GetBool("open")
		if open {
			if err := openBrowser(url); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to open browser: %v\n", err)
			}
		}
	}

	if expose || enableMDNS {
		server, err := startServeMDNSService(state.Port, url, len(reg.List()))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to start mDNS advertisement: %v\n", err)
		} else {
			defer server.Shutdown()
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}

	return nil
}

func startServeMDNSService(port int, url string, projectCount int) (*mdns.Server, error) {
	if port <= 0 {
		return nil, fmt.Errorf("invalid port for mDNS advertisement: %d", port)
	}
	txtRecords := []string{
		fmt.Sprintf("url=%s", url),
		fmt.Sprintf("projects=%d", projectCount),
	}
	service, err := mdns.NewMDNSService("maestro", serveMDNSServiceType, "local", "", port, nil, txtRecords)
	if err != nil {
		return nil, err
	}
	return mdns.NewServer(&mdns.Config{
		Zone: service,
	})
}

func printServeQRCode(url string) error {
	code, err := qrcode.New(url, qrcode.Medium)
	if err != nil {
		return err
	}
	fmt.Println(code.ToString(false))
	return nil
}

func openBrowser(url string) error {
	switch runtime.GOOS {
	case "linux":
		return exec.Command("xdg-open", url).Start()
	case "darwin":
		return exec.Command("open", url).Start()
	case "windows":
		return exec.Command("cmd", "/c", "start", url).Start()
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
}

func splitHostPort(addr string) (string, int) {
	host, rawPort, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0
	}
	port, err := strconv.Atoi(rawPort)
	if err != nil {
		return host, 0
	}
	return host, port
}
