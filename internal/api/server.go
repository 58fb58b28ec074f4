// Package api serves the softphone's state and commands over HTTP, and its
// readiness over the gRPC health protocol.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	types "github.com/sebas/softphone/api/types/v1"
	"github.com/sebas/softphone/internal/config"
	"github.com/sebas/softphone/internal/history"
	"github.com/sebas/softphone/internal/lifecycle"
	"github.com/sebas/softphone/internal/session"
)

// Controller is the client the API exposes. Implemented by
// lifecycle.Orchestrator.
type Controller interface {
	Status() lifecycle.Status
	Config() config.Config
	Sessions() []session.Session
	InboundQueue() []session.Session
	Session(id string) (session.Session, bool)
	EndSession(id string, cause session.TerminationCause) (history.Record, bool)
	RejectSession(ctx context.Context, id string) error
	SearchHistory(f history.Filter) history.Result
	HistoryRecord(id string) (history.Record, bool)
	DeleteHistory(id string) bool
	ClearHistory()
	ClearHistoryMatching(f history.Filter) int
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Register(ctx context.Context) error
	Unregister(ctx context.Context) error
}

// Server provides the HTTP API (headless, JSON only).
type Server struct {
	addr       string
	ctl        Controller
	httpServer *http.Server
	listener   net.Listener
	startTime  time.Time
	now        func() time.Time
}

// NewServer creates an API server for ctl on addr.
func NewServer(addr string, ctl Controller) *Server {
	s := &Server{
		addr:      addr,
		ctl:       ctl,
		startTime: time.Now(),
		now:       time.Now,
	}

	mux := http.NewServeMux()

	// Health and state
	mux.HandleFunc("/api/v1/health", s.handleHealth)
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/stats", s.handleStats)

	// Live sessions
	mux.HandleFunc("/api/v1/sessions", s.handleSessions)
	mux.HandleFunc("/api/v1/sessions/", s.handleSessionByID)

	// History
	mux.HandleFunc("/api/v1/history", s.handleHistory)
	mux.HandleFunc("/api/v1/history/", s.handleHistoryByID)

	// Commands
	mux.HandleFunc("/api/v1/connect", s.command("connect", ctl.Connect))
	mux.HandleFunc("/api/v1/disconnect", s.command("disconnect", ctl.Disconnect))
	mux.HandleFunc("/api/v1/register", s.command("register", ctl.Register))
	mux.HandleFunc("/api/v1/unregister", s.command("unregister", ctl.Unregister))

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start binds the address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = ln
	slog.Info("[API] Starting HTTP API server", "addr", ln.Addr().String())
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("[API] Server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Stop gracefully shuts down the server
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// --- Helpers ---

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("[API] Failed to encode JSON", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, types.ErrorResponse{Error: msg})
}

// writeCommandError maps a command failure to a status code.
func (s *Server) writeCommandError(w http.ResponseWriter, err error) {
	var regErr *lifecycle.RegistrationError
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, lifecycle.ErrNoEngine), errors.Is(err, lifecycle.ErrClosed):
		status = http.StatusServiceUnavailable
	case errors.Is(err, lifecycle.ErrNotConnected), errors.Is(err, lifecycle.ErrSuperseded):
		status = http.StatusConflict
	case errors.Is(err, lifecycle.ErrUnknownSession):
		status = http.StatusNotFound
	case errors.Is(err, errors.ErrUnsupported):
		status = http.StatusNotImplemented
	case errors.As(err, &regErr), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusBadGateway
	}
	s.writeError(w, status, err.Error())
}

func allowMethod(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	return false
}
