// Package gateway exposes the orchestration substrate over HTTP: event
// publishing, directive management, application tracking with hope scores,
// and the per-user realtime stream.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/careerpilot/careerpilot/internal/agents"
	"github.com/careerpilot/careerpilot/internal/config"
	"github.com/careerpilot/careerpilot/internal/directive"
	"github.com/careerpilot/careerpilot/internal/event"
	"github.com/careerpilot/careerpilot/internal/hope"
	"github.com/careerpilot/careerpilot/internal/realtime"
	"github.com/careerpilot/careerpilot/internal/store"
)

// Server wires the HTTP surface over the core services.
type Server struct {
	cfg        config.ServerConfig
	store      *store.Store
	bus        *event.Bus
	directives *directive.Service
	action     *agents.ActionAgent
	hub        *realtime.Hub
	started    time.Time
	now        func() time.Time
}

// NewServer creates the gateway server.
func NewServer(cfg config.ServerConfig, st *store.Store, bus *event.Bus, dirs *directive.Service, action *agents.ActionAgent, hub *realtime.Hub) *Server {
	return &Server{
		cfg:        cfg,
		store:      st,
		bus:        bus,
		directives: dirs,
		action:     action,
		hub:        hub,
		started:    time.Now(),
		now:        time.Now,
	}
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
}

// ListenAndServe runs the HTTP server until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{Addr: s.Addr(), Handler: s.Routes()}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	slog.Info("Gateway listening", "addr", s.Addr())

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) cors(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
}

func (s *Server) authorized(r *http.Request) bool {
	if s.cfg.AuthToken == "" {
		return true
	}
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	return token == s.cfg.AuthToken
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Routes builds the mux. Exported so tests drive it through httptest.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	// unauthenticated health check
	mux.HandleFunc("/api/v1/status", func(w http.ResponseWriter, r *http.Request) {
		s.cors(w)
		writeJSON(w, http.StatusOK, map[string]any{
			"status":         "ok",
			"uptime_seconds": int(time.Since(s.started).Seconds()),
		})
	})

	mux.HandleFunc("/api/v1/events", s.guard(s.handleEvents))
	mux.HandleFunc("/api/v1/events/", s.guard(s.handleEventByID))
	mux.HandleFunc("/api/v1/directives", s.guard(s.handleDirectives))
	mux.HandleFunc("/api/v1/directives/check", s.guard(s.handleDirectiveCheck))
	mux.HandleFunc("/api/v1/directives/", s.guard(s.handleDirectiveByID))
	mux.HandleFunc("/api/v1/applications", s.guard(s.handleApplications))
	mux.HandleFunc("/api/v1/applications/", s.guard(s.handleApplicationByID))
	mux.HandleFunc("/api/v1/users/", s.guard(s.handleUsers))
	mux.HandleFunc("/api/v1/stream", s.handleStream)
	return mux
}

// guard wraps a handler with CORS, preflight, and bearer auth.
func (s *Server) guard(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.cors(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if !s.authorized(r) {
			writeError(w, http.StatusUnauthorized, "invalid or missing token")
			return
		}
		h(w, r)
	}
}

// --- events ---

type publishRequest struct {
	EventID string          `json:"event_id,omitempty"`
	Type    string          `json:"type"`
	UserID  string          `json:"user_id"`
	Payload json.RawMessage `json:"payload"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req publishRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		t := event.Type(req.Type)
		var id string
		var err error
		if req.EventID != "" {
			id, err = s.bus.PublishWithID(r.Context(), req.EventID, t, req.UserID, req.Payload)
		} else {
			id, err = s.bus.Publish(r.Context(), t, req.UserID, req.Payload)
		}
		if err != nil {
			if errors.Is(err, event.ErrUnknownType) || errors.Is(err, event.ErrInvalidPayload) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"event_id": id})

	case http.MethodGet:
		events, err := s.store.ListEvents(r.URL.Query().Get("user_id"), r.URL.Query().Get("status"), 100)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"events": events})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleEventByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/events/")
	rec, err := s.store.GetEvent(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "event not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// --- directives ---

func (s *Server) handleDirectives(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req directive.IssueRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.UserID == "" {
			writeError(w, http.StatusBadRequest, "user_id is required")
			return
		}
		d, err := s.directives.Issue(r.Context(), req)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, d)

	case http.MethodGet:
		list, err := s.directives.List(r.URL.Query().Get("user_id"), r.URL.Query().Get("status"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"directives": list})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleDirectiveCheck(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	dec, err := s.directives.CheckOperation(q.Get("user_id"), q.Get("agent"), q.Get("operation"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, dec)
}

func (s *Server) handleDirectiveByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/directives/")
	parts := strings.SplitN(rest, "/", 2)
	id := parts[0]
	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		d, err := s.directives.Get(id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "directive not found")
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, d)

	case action == "start" && r.Method == http.MethodPost:
		var req struct {
			Executor string `json:"executor"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Executor == "" {
			req.Executor = "user"
		}
		log, err := s.directives.StartExecution(id, req.Executor)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "directive not found")
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, log)

	case action == "complete" && r.Method == http.MethodPost:
		var req struct {
			LogID  string `json:"log_id"`
			Result string `json:"result"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.LogID == "" {
			writeError(w, http.StatusBadRequest, "log_id is required")
			return
		}
		if err := s.directives.CompleteExecution(r.Context(), id, req.LogID, req.Result); err != nil {
			if errors.Is(err, store.ErrDirectiveTerminal) {
				writeError(w, http.StatusConflict, "directive already finalized")
				return
			}
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "directive not found")
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": store.DirectiveCompleted})

	case action == "cancel" && r.Method == http.MethodPost:
		var req struct {
			Reason string `json:"reason"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if err := s.directives.Cancel(r.Context(), id, req.Reason); err != nil {
			if errors.Is(err, store.ErrDirectiveTerminal) {
				writeError(w, http.StatusConflict, "directive already finalized")
				return
			}
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "directive not found")
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": store.DirectiveCancelled})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// --- applications ---

type applicationView struct {
	store.ApplicationRecord
	HopeScore float64 `json:"hope_score"`
	AtRisk    bool    `json:"at_risk"`
}

func (s *Server) applicationView(app *store.ApplicationRecord) applicationView {
	score := hope.ScoreApplication(s.now(), app)
	return applicationView{ApplicationRecord: *app, HopeScore: score, AtRisk: hope.AtRisk(score)}
}

func (s *Server) handleApplications(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req store.ApplicationRecord
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.UserID == "" || req.JobTitle == "" {
			writeError(w, http.StatusBadRequest, "user_id and job_title are required")
			return
		}
		app, err := s.store.InsertApplication(&req)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, s.applicationView(app))

	case http.MethodGet:
		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			writeError(w, http.StatusBadRequest, "user_id is required")
			return
		}
		apps, err := s.store.ListApplications(userID, r.URL.Query().Get("status"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		views := make([]applicationView, 0, len(apps))
		for i := range apps {
			views = append(views, s.applicationView(&apps[i]))
		}
		writeJSON(w, http.StatusOK, map[string]any{"applications": views})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleApplicationByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/applications/")
	parts := strings.SplitN(rest, "/", 2)
	id := parts[0]
	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		app, err := s.store.GetApplication(id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "application not found")
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, s.applicationView(app))

	case action == "status" && r.Method == http.MethodPost:
		var req struct {
			Status string `json:"status"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Status == "" {
			writeError(w, http.StatusBadRequest, "status is required")
			return
		}
		if err := s.store.UpdateApplicationStatus(id, req.Status); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "application not found")
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		app, err := s.store.GetApplication(id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, s.applicationView(app))

	case action == "apply" && r.Method == http.MethodPost:
		app, err := s.action.ApplyExisting(r.Context(), id)
		if err != nil {
			var blocked *agents.ErrBlocked
			if errors.As(err, &blocked) {
				writeJSON(w, http.StatusForbidden, blocked.Decision)
				return
			}
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "application not found")
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, s.applicationView(app))

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// --- users ---

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/users/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || r.Method != http.MethodGet {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	userID := parts[0]

	switch parts[1] {
	case "health":
		apps, err := s.store.ListApplications(userID, "")
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		health, ok := hope.UserHealth(s.now(), apps)
		atRisk := 0
		for i := range apps {
			if apps[i].Status == store.ApplicationApplied && hope.AtRisk(hope.ScoreApplication(s.now(), &apps[i])) {
				atRisk++
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"user_id":      userID,
			"health_score": health,
			"scored":       ok,
			"at_risk":      atRisk,
		})

	case "skills":
		skills, err := s.store.ListSkills(userID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"skills": skills})

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// --- realtime stream ---

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	s.cors(w)
	if !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, "invalid or missing token")
		return
	}
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	conn, err := s.hub.Upgrade(w, r, userID)
	if err != nil {
		slog.Warn("Websocket upgrade failed", "user_id", userID, "error", err)
		return
	}
	s.hub.SendTo(conn, "connected", map[string]string{"user_id": userID})

	apps, err := s.store.ListApplications(userID, "")
	if err != nil {
		slog.Warn("Failed to load initial state", "user_id", userID, "error", err)
		return
	}
	directives, err := s.directives.List(userID, "")
	if err != nil {
		slog.Warn("Failed to load initial state", "user_id", userID, "error", err)
		return
	}
	views := make([]applicationView, 0, len(apps))
	for i := range apps {
		views = append(views, s.applicationView(&apps[i]))
	}
	s.hub.SendTo(conn, "initial_state", map[string]any{
		"applications": views,
		"directives":   directives,
	})
}
