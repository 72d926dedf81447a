// Package api exposes the orchestrator over HTTP: dispatch, session and
// gate control, activity queries, a websocket event stream, and metrics.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/odvcencio/aviary/pkg/activity"
	"github.com/odvcencio/aviary/pkg/dashboard"
	"github.com/odvcencio/aviary/pkg/dispatch"
	"github.com/odvcencio/aviary/pkg/errors"
	"github.com/odvcencio/aviary/pkg/gate"
	"github.com/odvcencio/aviary/pkg/logging"
	"github.com/odvcencio/aviary/pkg/profile"
	"github.com/odvcencio/aviary/pkg/session"
	"github.com/odvcencio/aviary/pkg/telemetry"
)

// Server is the HTTP surface over the orchestrator.
type Server struct {
	registry        *session.Registry
	profiles        *profile.Manager
	gate            *gate.Gate
	ledger          *activity.Ledger
	dispatcher      *dispatch.Dispatcher
	collector       *dashboard.Collector
	hub             *telemetry.Hub
	logger          *logging.Logger
	profileDefaults ProfileDefaults

	httpServer *http.Server
	upgrader   websocket.Upgrader
}

// ProfileDefaults are the server-side identity defaults applied when a
// create-session request leaves profile fields unset.
type ProfileDefaults struct {
	RealProfileDir          string
	AllowPersistentFallback bool
	AllowTempFallback       bool
}

// Config carries the server's dependencies.
type Config struct {
	Registry        *session.Registry
	Profiles        *profile.Manager
	Gate            *gate.Gate
	Ledger          *activity.Ledger
	Dispatcher      *dispatch.Dispatcher
	Collector       *dashboard.Collector
	Hub             *telemetry.Hub
	Logger          *logging.Logger
	ProfileDefaults ProfileDefaults
}

// NewServer builds the server and its routes.
func NewServer(cfg Config) *Server {
	s := &Server{
		registry:        cfg.Registry,
		profiles:        cfg.Profiles,
		gate:            cfg.Gate,
		ledger:          cfg.Ledger,
		dispatcher:      cfg.Dispatcher,
		collector:       cfg.Collector,
		hub:             cfg.Hub,
		logger:          cfg.Logger,
		profileDefaults: cfg.ProfileDefaults,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The server binds loopback only; origin checks add nothing.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/stats", s.handleStats)
		r.Get("/events", s.handleEvents)

		r.Post("/dispatch", s.handleDispatch)

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", s.handleListSessions)
			r.Post("/", s.handleCreateSession)
			r.Get("/{id}", s.handleGetSession)
			r.Delete("/{id}", s.handleRemoveSession)
			r.Get("/{id}/profile", s.handleProfileStatus)
			r.Post("/{id}/workers", s.handleAddWorker)
		})

		r.Get("/tabs", s.handleListTabs)

		r.Route("/calls", func(r chi.Router) {
			r.Get("/active", s.handleActiveCalls)
			r.Get("/recent", s.handleRecentCalls)
			r.Post("/{id}/cancel", s.handleCancelCall)
		})

		r.Route("/gate", func(r chi.Router) {
			r.Get("/", s.handleGateStatus)
			r.Post("/pause", s.handleGatePause)
			r.Post("/resume", s.handleGateResume)
			r.Post("/cancel-all", s.handleGateCancelAll)
		})
	})

	return r
}

// Start begins serving on addr. Blocks until the listener fails or Shutdown
// is called.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info(logging.CategoryServer, "listening", addr, nil)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.collector.Collect())
}

type createSessionRequest struct {
	Name     string `json:"name"`
	Identity string `json:"identity"`
	// Fallback fields are pointers so an absent field falls back to the
	// server-side defaults rather than reading as false.
	Profile struct {
		RealProfileDir          string `json:"realProfileDir"`
		ExplicitDir             string `json:"explicitDir"`
		AllowPersistentFallback *bool  `json:"allowPersistentFallback"`
		AllowTempFallback       *bool  `json:"allowTempFallback"`
	} `json:"profile"`
}

// profileRequest merges the client's profile fields with the configured
// server defaults.
func (s *Server) profileRequest(req createSessionRequest) profile.Request {
	out := profile.Request{
		RealProfileDir:          req.Profile.RealProfileDir,
		ExplicitDir:             req.Profile.ExplicitDir,
		AllowPersistentFallback: s.profileDefaults.AllowPersistentFallback,
		AllowTempFallback:       s.profileDefaults.AllowTempFallback,
	}
	if out.RealProfileDir == "" && out.ExplicitDir == "" {
		out.RealProfileDir = s.profileDefaults.RealProfileDir
	}
	if req.Profile.AllowPersistentFallback != nil {
		out.AllowPersistentFallback = *req.Profile.AllowPersistentFallback
	}
	if req.Profile.AllowTempFallback != nil {
		out.AllowTempFallback = *req.Profile.AllowTempFallback
	}
	return out
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid session request"))
		return
	}

	info, err := s.registry.CreateSession(session.CreateRequest{
		Name:     req.Name,
		Identity: req.Identity,
		Profile:  s.profileRequest(req),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.ListSessions())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	info, ok := s.registry.GetSession(id)
	if !ok {
		writeError(w, errors.New(errors.ErrCodeNotFound, "session not found").WithContext("id", id))
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleRemoveSession(w http.ResponseWriter, r *http.Request) {
	s.registry.RemoveSession(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleProfileStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.profiles.Status(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleAddWorker(w http.ResponseWriter, r *http.Request) {
	worker, err := s.registry.AddWorker(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, worker)
}

func (s *Server) handleListTabs(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	tabs := s.registry.ListTabs(session.TabFilter{
		SessionID:   r.URL.Query().Get("sessionId"),
		WorkerID:    r.URL.Query().Get("workerId"),
		URLContains: r.URL.Query().Get("urlContains"),
		Limit:       limit,
	})
	writeJSON(w, http.StatusOK, tabs)
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var req dispatch.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid dispatch request"))
		return
	}

	resp, err := s.dispatcher.Dispatch(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleActiveCalls(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ledger.GetActiveCalls())
}

func (s *Server) handleRecentCalls(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 50
	}
	writeJSON(w, http.StatusOK, s.ledger.GetRecentCalls(limit))
}

func (s *Server) handleCancelCall(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	wasBlocked := s.gate.Cancel(id)
	writeJSON(w, http.StatusOK, map[string]any{
		"cancelled":  id,
		"wasBlocked": wasBlocked,
	})
}

func (s *Server) handleGateStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.gate.Snapshot())
}

func (s *Server) handleGatePause(w http.ResponseWriter, r *http.Request) {
	s.gate.Pause()
	writeJSON(w, http.StatusOK, s.gate.Snapshot())
}

func (s *Server) handleGateResume(w http.ResponseWriter, r *http.Request) {
	s.gate.Resume()
	writeJSON(w, http.StatusOK, s.gate.Snapshot())
}

func (s *Server) handleGateCancelAll(w http.ResponseWriter, r *http.Request) {
	count := s.gate.CancelAll()
	writeJSON(w, http.StatusOK, map[string]int{"cancelled": count})
}

// handleEvents streams telemetry events over a websocket until the client
// disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn(logging.CategoryServer, "ws_upgrade_failed", err.Error(), nil)
		return
	}
	defer conn.Close()

	events, unsubscribe := s.hub.Subscribe()
	defer unsubscribe()

	// Reader goroutine exists only to observe the close frame.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps structured error codes onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errors.GetCode(err) {
	case errors.ErrCodeNotFound:
		status = http.StatusNotFound
	case errors.ErrCodeInvalidInput:
		status = http.StatusBadRequest
	case errors.ErrCodeCancelled:
		status = http.StatusConflict
	case errors.ErrCodeProfileUnavailable:
		status = http.StatusConflict
	}

	body := map[string]any{
		"error": err.Error(),
		"code":  string(errors.GetCode(err)),
	}
	if structured, ok := err.(*errors.Error); ok && len(structured.Context) > 0 {
		body["context"] = structured.Context
	}
	writeJSON(w, status, body)
}
