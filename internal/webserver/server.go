// Package webserver exposes the session orchestration API over HTTP and SSE.
package webserver

import (
	"context"
	"crypto/tls"
	"embed"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ejohane/maestro-sub001/internal/beads"
	"github.com/ejohane/maestro-sub001/internal/config"
	"github.com/ejohane/maestro-sub001/internal/debug"
	"github.com/ejohane/maestro-sub001/internal/ghcli"
	"github.com/ejohane/maestro-sub001/internal/liveness"
	"github.com/ejohane/maestro-sub001/internal/notify"
	"github.com/ejohane/maestro-sub001/internal/opencode"
	"github.com/ejohane/maestro-sub001/internal/planning"
	"github.com/ejohane/maestro-sub001/internal/relay"
	"github.com/ejohane/maestro-sub001/internal/store"
	"github.com/ejohane/maestro-sub001/internal/swarm"
	"github.com/ejohane/maestro-sub001/internal/worktree"
)

//go:embed static
var staticFS embed.FS

// Options configures server behavior.
type Options struct {
	Host      string
	Port      int
	TLSMode   string
	CertFile  string
	KeyFile   string
	AuthToken string
	RateLimit float64
}

// Server hosts the HTTP API, SSE streams, and the terminal bridge.
type Server struct {
	registry *Registry
	cfg      *config.GlobalConfig
	store    *store.Store
	notifier *notify.Notifier

	httpServer *http.Server
	host       string
	port       int
	tlsMode    string
	certFile   string
	keyFile    string
	authToken  string
	rateLimit  float64

	mu       sync.Mutex
	projects map[string]*projectHandle
}

// projectHandle bundles the per-project machinery. Built lazily on first use
// and cached so the relay's shared upstream subscriptions and the resolver's
// in-flight coalescing survive across requests.
type projectHandle struct {
	entry    ProjectEntry
	project  swarm.Project
	cfg      *config.GlobalConfig
	store    *store.Store
	runtime  *opencode.Client
	relay    *relay.Relay
	prober   *liveness.Prober
	issues   *ghcli.Client
	beads    *beads.Client
	trees    *worktree.Manager
	resolver *planning.Resolver
	swarms   *swarm.Manager
}

// New constructs a server over a project registry and the shared session
// store.
func New(registry *Registry, st *store.Store, cfg *config.GlobalConfig, opts Options) *Server {
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		host = "127.0.0.1"
	}
	port := opts.Port
	if port <= 0 {
		port = 7777
	}
	if cfg == nil {
		cfg = config.Defaults()
	}

	srv := &Server{
		registry:  registry,
		cfg:       cfg,
		store:     st,
		notifier:  notify.New(cfg.Pushover),
		host:      host,
		port:      port,
		tlsMode:   strings.TrimSpace(opts.TLSMode),
		certFile:  strings.TrimSpace(opts.CertFile),
		keyFile:   strings.TrimSpace(opts.KeyFile),
		authToken: strings.TrimSpace(opts.AuthToken),
		rateLimit: opts.RateLimit,
		projects:  make(map[string]*projectHandle),
	}

	mux := http.NewServeMux()
	srv.setupRoutes(mux)

	handler := corsMiddleware(logMiddleware(rateLimitMiddleware(srv.rateLimit, authMiddleware(srv.authToken, mux))))
	srv.httpServer = &http.Server{
		Addr:              srv.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return srv
}

// Start starts the server in a background goroutine and returns immediately.
func (srv *Server) Start() error {
	if srv.httpServer == nil {
		return fmt.Errorf("webserver not initialized")
	}

	if srv.tlsMode != "" {
		var cert tls.Certificate
		var err error

		switch srv.tlsMode {
		case "self-signed":
			cert, err = generateSelfSignedCert(srv.host)
			if err != nil {
				return fmt.Errorf("generating self-signed certificate: %w", err)
			}
		case "custom":
			cert, err = tls.LoadX509KeyPair(srv.certFile, srv.keyFile)
			if err != nil {
				return fmt.Errorf("loading TLS certificate: %w", err)
			}
		default:
			return fmt.Errorf("unsupported TLS mode: %q", srv.tlsMode)
		}

		srv.httpServer.TLSConfig = &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
		}
	}

	ln, err := net.Listen("tcp", srv.Addr())
	if err != nil {
		return err
	}

	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
		srv.port = tcpAddr.Port
		srv.httpServer.Addr = srv.Addr()
	}

	go func() {
		var err error
		if srv.tlsMode != "" {
			err = srv.httpServer.ServeTLS(ln, "", "")
		} else {
			err = srv.httpServer.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			debug.LogKV("webserver", "server stopped with error", "error", err)
		}
	}()

	return nil
}

// Shutdown gracefully stops the HTTP server.
func (srv *Server) Shutdown(ctx context.Context) error {
	if srv.httpServer == nil {
		return nil
	}
	return srv.httpServer.Shutdown(ctx)
}

// Addr returns the bound host:port address.
func (srv *Server) Addr() string {
	return net.JoinHostPort(srv.host, strconv.Itoa(srv.port))
}

// Scheme returns the URL scheme for the running server.
func (srv *Server) Scheme() string {
	if srv.tlsMode != "" {
		return "https"
	}
	return "http"
}

// handle returns the cached machinery for a project, building it on first
// use from the registry entry and the repo's .maestro.yaml.
func (srv *Server) handle(projectID string) (*projectHandle, error) {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	if h, ok := srv.projects[projectID]; ok {
		return h, nil
	}

	entry, ok := srv.registry.Get(projectID)
	if !ok {
		return nil, errNotFound(fmt.Sprintf("project %q not registered", projectID))
	}

	pc, err := config.LoadProject(entry.Path)
	if err != nil {
		return nil, err
	}

	baseURL := srv.cfg.Opencode.BaseURL
	if pc.RuntimeURL != "" {
		baseURL = pc.RuntimeURL
	}
	runtime := opencode.NewClient(baseURL)

	name := entry.Name
	if pc.Name != "" {
		name = pc.Name
	}
	beadsDB := pc.BeadsDB
	if beadsDB != "" && !filepath.IsAbs(beadsDB) {
		beadsDB = filepath.Join(entry.Path, beadsDB)
	}
	project := swarm.Project{
		ID:         entry.ID,
		Name:       name,
		Root:       entry.Path,
		BaseBranch: pc.DefaultBranch,
		Setup:      pc.SetupCommands,
		BeadsDB:    beadsDB,
		Swarm:      config.MergeSwarm(srv.cfg.Swarm, pc.Swarm),
	}

	prober := liveness.New(runtime)
	issues := ghcli.New(srv.cfg.GitHub.Bin)
	bc := beads.New(srv.cfg.Beads.Bin)
	if beadsDB != "" {
		bc = bc.WithDB(beadsDB)
	}

	h := &projectHandle{
		entry:    *entry,
		project:  project,
		cfg:      srv.cfg,
		store:    srv.store,
		runtime:  runtime,
		relay:    relay.New(relay.ClientOpener{Client: runtime}),
		prober:   prober,
		issues:   issues,
		beads:    bc,
		trees:    worktree.NewManager(entry.Path, filepath.Join(config.WorktreesDir(), entry.ID)),
		resolver: planning.NewResolver(srv.store, prober, runtime),
		swarms:   swarm.NewManager(srv.store, runtime, prober, issues, srv.cfg, srv.notifier),
	}
	srv.projects[projectID] = h
	return h, nil
}

// dropHandle forgets a project's cached machinery after unregistration.
func (srv *Server) dropHandle(projectID string) {
	srv.mu.Lock()
	delete(srv.projects, projectID)
	srv.mu.Unlock()
}

// projectHandler resolves the project handle for project-scoped routes.
func (srv *Server) projectHandler(handler func(*projectHandle, http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h, err := srv.handle(r.PathValue("projectID"))
		if err != nil {
			writeAPIError(w, err)
			return
		}
		handler(h, w, r)
	}
}

// defaultProjectHandler serves the unscoped legacy routes. They resolve to
// the sole registered project, so single-project setups can omit the
// /projects/{projectID} segment.
func (srv *Server) defaultProjectHandler(handler func(*projectHandle, http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries := srv.registry.List()
		if len(entries) != 1 {
			writeCodedError(w, http.StatusNotFound,
				fmt.Sprintf("no default project (%d registered); use /api/projects/{projectID}", len(entries)),
				codeNotFound)
			return
		}
		h, err := srv.handle(entries[0].ID)
		if err != nil {
			writeAPIError(w, err)
			return
		}
		handler(h, w, r)
	}
}

func (srv *Server) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", srv.handleHealth)

	mux.HandleFunc("GET /api/projects", srv.handleListProjects)
	mux.HandleFunc("POST /api/projects", srv.handleRegisterProject)
	mux.HandleFunc("DELETE /api/projects/{projectID}", srv.handleUnregisterProject)

	srv.issueRoutes(mux, "/api/projects/{projectID}", srv.projectHandler)
	srv.issueRoutes(mux, "/api", srv.defaultProjectHandler)

	mux.HandleFunc("GET /api/fs/browse", srv.handleFSBrowse)

	mux.HandleFunc("GET /ws/terminal", srv.handleTerminalWebSocket)

	mux.HandleFunc("/api/{rest...}", func(w http.ResponseWriter, r *http.Request) {
		writeCodedError(w, http.StatusNotFound, "not found", codeNotFound)
	})

	staticHandler := http.FileServer(http.FS(staticFS))
	mux.Handle("GET /static/", staticHandler)

	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}

		data, err := staticFS.ReadFile("static/index.html")
		if err != nil {
			http.Error(w, "failed to load index", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(data)
	})
}

// issueRoutes registers the issue-scoped route table under prefix, using wrap
// to resolve the project handle.
func (srv *Server) issueRoutes(mux *http.ServeMux, prefix string, wrap func(func(*projectHandle, http.ResponseWriter, *http.Request)) http.HandlerFunc) {
	mux.HandleFunc("GET "+prefix+"/issues", wrap(handleIssues))
	mux.HandleFunc("GET "+prefix+"/issues/{issueNumber}", wrap(handleIssue))
	mux.HandleFunc("POST "+prefix+"/issues/{issueNumber}/comments", wrap(handleAddComment))
	mux.HandleFunc("GET "+prefix+"/issues/{issueNumber}/beads", wrap(handleBeadTree))

	// Issue chat runs in the project checkout itself.
	mux.HandleFunc("GET "+prefix+"/issues/{issueNumber}/chat/session", wrap(handleChatSession))
	mux.HandleFunc("DELETE "+prefix+"/issues/{issueNumber}/chat/session", wrap(handleChatDelete))
	mux.HandleFunc("POST "+prefix+"/issues/{issueNumber}/chat/messages", wrap(handleChatSend))
	mux.HandleFunc("GET "+prefix+"/issues/{issueNumber}/chat/messages", wrap(handleChatHistory))
	mux.HandleFunc("GET "+prefix+"/issues/{issueNumber}/chat/messages/watch", wrap(handleChatWatch))

	// Planning runs in the issue worktree.
	mux.HandleFunc("GET "+prefix+"/issues/{issueNumber}/planning/session", wrap(handlePlanningSession))
	mux.HandleFunc("POST "+prefix+"/issues/{issueNumber}/planning/session", wrap(handlePlanningCreate))
	mux.HandleFunc("DELETE "+prefix+"/issues/{issueNumber}/planning/session", wrap(handlePlanningDelete))
	mux.HandleFunc("POST "+prefix+"/issues/{issueNumber}/planning/messages", wrap(handlePlanningSend))
	mux.HandleFunc("GET "+prefix+"/issues/{issueNumber}/planning/messages", wrap(handlePlanningHistory))
	mux.HandleFunc("GET "+prefix+"/issues/{issueNumber}/planning/messages/watch", wrap(handlePlanningWatch))

	mux.HandleFunc("POST "+prefix+"/issues/{issueNumber}/swarm", wrap(handleSwarmStart))
	mux.HandleFunc("GET "+prefix+"/issues/{issueNumber}/swarm", wrap(handleSwarmStatus))
	mux.HandleFunc("DELETE "+prefix+"/issues/{issueNumber}/swarm", wrap(handleSwarmStop))
	mux.HandleFunc("GET "+prefix+"/issues/{issueNumber}/swarm/children", wrap(handleSwarmChildren))
	mux.HandleFunc("GET "+prefix+"/issues/{issueNumber}/swarm/stream", wrap(handleSwarmStream))
	mux.HandleFunc("POST "+prefix+"/issues/{issueNumber}/swarm/messages", wrap(handleSwarmMessage))
	mux.HandleFunc("POST "+prefix+"/issues/{issueNumber}/swarm/permissions/{permissionID}", wrap(handleSwarmRespond))
}
