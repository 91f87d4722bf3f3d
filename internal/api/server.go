package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/tiergate/tiergate/internal/audit"
	"github.com/tiergate/tiergate/internal/probe"
	"github.com/tiergate/tiergate/internal/provider"
	"github.com/tiergate/tiergate/internal/relay"
	"github.com/tiergate/tiergate/internal/session"
)

// Server wraps the HTTP server and mux for the gateway.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
}

// ServerDeps bundles what the routes need.
type ServerDeps struct {
	Registry *provider.Registry
	Sessions *session.Store
	Relay    *relay.Relay
	Prober   *probe.Prober
	Sweeper  *probe.Sweeper
	Audit    *audit.Service

	StartedAt time.Time
}

// NewServer creates the API server wired with all routes. An empty adminToken
// leaves the status API open (explicitly opted into at configuration load).
func NewServer(listenAddress string, port int, adminToken string, deps ServerDeps) *Server {
	mux := http.NewServeMux()

	// Public (no auth)
	mux.Handle("GET /healthz", HandleHealthz())
	mux.HandleFunc("GET /stream/{channelId}", func(w http.ResponseWriter, r *http.Request) {
		deps.Relay.ServeStream(w, r, r.PathValue("channelId"))
	})

	// Authenticated routes
	authed := http.NewServeMux()
	authed.Handle("GET /api/v1/status", HandleStatus(deps.StartedAt, deps.Registry, deps.Sessions, deps.Audit.Repo()))
	authed.Handle("GET /api/v1/providers", HandleListProviders(deps.Registry))
	authed.Handle("GET /api/v1/sessions", HandleListSessions(deps.Sessions))
	authed.Handle("GET /api/v1/events", HandleListEvents(deps.Audit.Repo()))
	if deps.Sweeper != nil {
		authed.Handle("GET /api/v1/channel-health", HandleChannelHealth(deps.Sweeper))
		authed.Handle("POST /api/v1/actions/sweep-now", HandleTriggerSweep(deps.Sweeper))
	}
	if deps.Prober != nil {
		authed.Handle("POST /api/v1/actions/probe-now", HandleTriggerProbe(deps.Prober))
	}

	if adminToken == "" {
		mux.Handle("/api/", authed)
	} else {
		mux.Handle("/api/", AuthMiddleware(adminToken, authed))
	}

	srv := &http.Server{
		Addr:    net.JoinHostPort(listenAddress, strconv.Itoa(port)),
		Handler: mux,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
	}
}

// Serve runs the HTTP server on the given listener. It blocks until the
// server stops.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.mux
}
