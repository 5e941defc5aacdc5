// Package api serves the supervisor-facing HTTP surface of a running
// package: health, recent events, package state, run control, a live
// event websocket and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/robofit/arcor2-sub003/internal/control"
	"github.com/robofit/arcor2-sub003/internal/events"
	"github.com/robofit/arcor2-sub003/internal/runtime"
	"github.com/robofit/arcor2-sub003/internal/storage"
	"github.com/robofit/arcor2-sub003/internal/version"
)

// StateReader exposes the package run state.
type StateReader interface {
	State() runtime.State
}

// Options configures a Server. Emitter and State are required.
type Options struct {
	Port      int
	PackageID string
	Emitter   *events.Emitter
	State     StateReader
	Control   *control.Mux
	Journal   storage.Journal
	Auth      *Auth
	Logger    *slog.Logger
}

// Server is the HTTP surface of one package run.
type Server struct {
	opts      Options
	logger    *slog.Logger
	startTime time.Time

	mu            sync.RWMutex
	mqttConnected bool
}

func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		opts:      opts,
		logger:    logger.With("component", "api"),
		startTime: time.Now(),
	}
}

// SetMQTTConnected records the broker connection state for /metrics.
func (s *Server) SetMQTTConnected(v bool) {
	s.mu.Lock()
	s.mqttConnected = v
	s.mu.Unlock()
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	a := s.opts.Auth
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.HandleFunc("GET /metrics", s.metricsHandler)
	mux.HandleFunc("GET /events", a.RequireAnyRole(s.eventsHandler))
	mux.HandleFunc("GET /events/history", a.RequireAdmin(s.historyHandler))
	mux.HandleFunc("GET /package/state", a.RequireAnyRole(s.stateHandler))
	mux.HandleFunc("POST /package/pause", a.RequireAnyRole(s.commandHandler(control.Pause)))
	mux.HandleFunc("POST /package/resume", a.RequireAnyRole(s.commandHandler(control.Resume)))
	mux.HandleFunc("POST /package/step", a.RequireAnyRole(s.commandHandler(control.Step)))
	mux.HandleFunc("GET /ws/events", a.RequireAnyRole(s.wsEventsHandler))
	return mux
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.opts.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API listening", "addr", srv.Addr, "auth", s.opts.Auth.Enabled())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	s.opts.Emitter.Broadcaster().CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type HealthResponse struct {
	Status     string `json:"status"`
	Service    string `json:"service"`
	Version    string `json:"version"`
	APIVersion string `json:"api_version"`
	Hostname   string `json:"hostname"`
	Timestamp  string `json:"ts"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	host, _ := os.Hostname()
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:     "ok",
		Service:    "execution",
		Version:    version.Version,
		APIVersion: version.APIVersion,
		Hostname:   host,
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func queryLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		return 0
	}
	return n
}

func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Emitter.RecentEvents(queryLimit(r)))
}

func (s *Server) historyHandler(w http.ResponseWriter, r *http.Request) {
	if s.opts.Journal == nil {
		writeJSON(w, http.StatusNotFound, CommandResponse{OK: false, Error: "no event journal configured"})
		return
	}
	rows, err := s.opts.Journal.Query(queryLimit(r))
	if err != nil {
		s.logger.Error("journal query failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, CommandResponse{OK: false, Error: "journal query failed"})
		return
	}
	if rows == nil {
		rows = []storage.EventRow{}
	}
	writeJSON(w, http.StatusOK, rows)
}

type StateResponse struct {
	PackageID string `json:"package_id"`
	State     string `json:"state"`
}

func (s *Server) stateHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StateResponse{
		PackageID: s.opts.PackageID,
		State:     string(s.opts.State.State()),
	})
}

type CommandResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// commandAllowed reports whether c makes sense in state st.
func commandAllowed(c control.Command, st runtime.State) bool {
	switch c {
	case control.Pause:
		return st == runtime.StateRunning
	case control.Resume, control.Step:
		return st == runtime.StatePaused || st == runtime.StatePausing
	}
	return false
}

func (s *Server) commandHandler(c control.Command) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.opts.Control == nil {
			writeJSON(w, http.StatusNotFound, CommandResponse{OK: false, Error: "run control disabled"})
			return
		}
		st := s.opts.State.State()
		if !commandAllowed(c, st) {
			writeJSON(w, http.StatusConflict, CommandResponse{OK: false, Error: "not allowed in state " + string(st)})
			return
		}
		if !s.opts.Control.Push(c) {
			writeJSON(w, http.StatusServiceUnavailable, CommandResponse{OK: false, Error: "control queue full"})
			return
		}
		s.logger.Info("control command queued", "command", string(c), "remote", r.RemoteAddr)
		writeJSON(w, http.StatusAccepted, CommandResponse{OK: true})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
