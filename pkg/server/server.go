// Package server exposes the bridge over HTTP: health and status, session
// administration, the call-leg media websocket and the tool websocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haivivi/voicebridge/pkg/bridge"
	"github.com/haivivi/voicebridge/pkg/callleg"
	"github.com/haivivi/voicebridge/pkg/toolrpc"
)

// Config configures a Server.
type Config struct {
	Bridge *bridge.Service
	// Tools serves /tools. When nil the endpoint returns 404.
	Tools   *toolrpc.Server
	Version string
	Logger  *slog.Logger

	// CheckOrigin is passed to the websocket upgrader. nil accepts any
	// origin, since call legs and engines are not browsers.
	CheckOrigin func(r *http.Request) bool
}

// Status is the body of GET /status.
type Status struct {
	UptimeSeconds  int64     `json:"uptime_seconds" yaml:"uptime_seconds"`
	ActiveSessions int       `json:"active_sessions" yaml:"active_sessions"`
	StartedAt      time.Time `json:"started_at" yaml:"started_at"`
	Version        string    `json:"version" yaml:"version"`
}

// CreateSessionRequest is the body of POST /sessions.
type CreateSessionRequest struct {
	CallID string `json:"call_id"`
}

type errorBody struct {
	Error string `json:"error"`
}

// Server is the HTTP surface.
type Server struct {
	cfg       Config
	logger    *slog.Logger
	mux       *http.ServeMux
	upgrader  websocket.Upgrader
	startedAt time.Time
}

// New creates a Server.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	s := &Server{
		cfg:       cfg,
		logger:    logger,
		mux:       http.NewServeMux(),
		upgrader:  websocket.Upgrader{CheckOrigin: checkOrigin},
		startedAt: time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /status", s.handleStatus)

	s.mux.HandleFunc("GET /sessions", s.handleListSessions)
	s.mux.HandleFunc("POST /sessions", s.handleCreateSession)
	s.mux.HandleFunc("DELETE /sessions/{id}", s.handleDeleteSession)

	s.mux.HandleFunc("GET /media", s.handleMedia)
	s.mux.HandleFunc("GET /tools", s.handleTools)
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.logger.Info("http server listening", "addr", addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorBody{Error: msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Status{
		UptimeSeconds:  int64(time.Since(s.startedAt).Seconds()),
		ActiveSessions: s.cfg.Bridge.Count(),
		StartedAt:      s.startedAt.UTC(),
		Version:        s.cfg.Version,
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Bridge.Sessions())
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.CallID == "" {
		writeError(w, http.StatusBadRequest, "call_id is required")
		return
	}
	sess, err := s.cfg.Bridge.CreateSession(r.Context(), req.CallID)
	switch {
	case errors.Is(err, bridge.ErrSessionExists):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		s.logger.Error("create session failed", "provider_call_id", req.CallID, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusCreated, sess.Snapshot())
	}
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	err := s.cfg.Bridge.DestroySession(r.PathValue("id"), "terminated by admin")
	if errors.Is(err, bridge.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("media upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	leg := callleg.NewWSConn(conn, s.logger)
	if err := s.cfg.Bridge.ServeCallLeg(r.Context(), leg); err != nil {
		s.logger.Warn("call leg ended with error", "remote", r.RemoteAddr, "error", err)
	}
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Tools == nil {
		http.NotFound(w, r)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("tools upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	if err := s.cfg.Tools.ServeConn(r.Context(), conn); err != nil {
		s.logger.Warn("tool connection ended with error", "remote", r.RemoteAddr, "error", err)
	}
}
