// Package api implements the admin HTTP API: agent settings, the
// command ledger, manual scans and approvals, and a live event stream.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zekehq/zeke-agent/internal/agent"
	"github.com/zekehq/zeke-agent/internal/buildinfo"
	"github.com/zekehq/zeke-agent/internal/contacts"
	"github.com/zekehq/zeke-agent/internal/events"
	"github.com/zekehq/zeke-agent/internal/health"
	"github.com/zekehq/zeke-agent/internal/household"
	"github.com/zekehq/zeke-agent/internal/ledger"
	"github.com/zekehq/zeke-agent/internal/reminders"
	"github.com/zekehq/zeke-agent/internal/settings"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the admin HTTP API server.
type Server struct {
	address   string
	port      int
	agent     *agent.Agent
	ledger    *ledger.Store
	settings  *settings.Store
	reminders *reminders.Service
	contacts  *contacts.Store
	household *household.Store
	bus       *events.Bus
	monitor   *health.Monitor
	logger    *slog.Logger
	server    *http.Server
	upgrader  websocket.Upgrader
}

// Deps are the collaborators the server exposes over HTTP. Agent,
// Ledger and Settings are required; the rest may be nil and their
// endpoints return 503.
type Deps struct {
	Agent     *agent.Agent
	Ledger    *ledger.Store
	Settings  *settings.Store
	Reminders *reminders.Service
	Contacts  *contacts.Store
	Household *household.Store
	Bus       *events.Bus
	Monitor   *health.Monitor
}

// NewServer creates the admin API server.
func NewServer(address string, port int, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address:   address,
		port:      port,
		agent:     deps.Agent,
		ledger:    deps.Ledger,
		settings:  deps.Settings,
		reminders: deps.Reminders,
		contacts:  deps.Contacts,
		household: deps.Household,
		bus:       deps.Bus,
		monitor:   deps.Monitor,
		logger:    logger.With("component", "api"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Handler builds the route table. Exposed so tests can serve it with
// httptest without binding a port.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/version", s.handleVersion)

	mux.HandleFunc("GET /v1/agent/settings", s.handleSettingsGet)
	mux.HandleFunc("PUT /v1/agent/settings", s.handleSettingsPut)
	mux.HandleFunc("GET /v1/agent/status", s.handleStatus)
	mux.HandleFunc("POST /v1/agent/scan", s.handleScan)

	mux.HandleFunc("GET /v1/commands/recent", s.handleCommandsRecent)
	mux.HandleFunc("GET /v1/commands/pending", s.handleCommandsPending)
	mux.HandleFunc("GET /v1/commands/{id}", s.handleCommandGet)
	mux.HandleFunc("POST /v1/commands/{id}/approve", s.handleCommandApprove)

	mux.HandleFunc("GET /v1/reminders", s.handleRemindersList)
	mux.HandleFunc("DELETE /v1/reminders/{id}", s.handleReminderCancel)

	mux.HandleFunc("GET /v1/contacts", s.handleContacts)
	mux.HandleFunc("DELETE /v1/contacts/{id}", s.handleContactDelete)
	mux.HandleFunc("GET /v1/lists/{list}", s.handleList)

	mux.HandleFunc("GET /v1/events", s.handleEvents)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests. Blocks until the listener fails
// or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // long for event streams
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}, s.logger)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "Zeke",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

// handleHealth reports aggregate health. Downstream outages degrade
// the status but keep the response 200: the process itself is fine.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.monitor == nil {
		writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
		return
	}
	status := "healthy"
	if !s.monitor.Healthy() {
		status = "degraded"
	}
	writeJSON(w, map[string]any{
		"status":   status,
		"services": s.monitor.Status(),
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.Info(), s.logger)
}

func (s *Server) handleSettingsGet(w http.ResponseWriter, r *http.Request) {
	st, err := s.settings.Get()
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "load settings")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, st, s.logger)
}

func (s *Server) handleSettingsPut(w http.ResponseWriter, r *http.Request) {
	var st settings.Settings
	if err := json.NewDecoder(r.Body).Decode(&st); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if st.LookbackHours <= 0 || st.ScanIntervalMinutes <= 0 {
		s.errorResponse(w, http.StatusBadRequest, "lookback_hours and scan_interval_minutes must be positive")
		return
	}
	if err := s.settings.Put(st); err != nil {
		s.logger.Error("save settings", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "save settings")
		return
	}
	saved, err := s.settings.Get()
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "reload settings")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, saved, s.logger)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := s.ledger.CountByStatus()
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "count commands")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"last_scan":     s.agent.LastResult(),
		"status_counts": counts,
	}, s.logger)
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	result, err := s.agent.Scan(r.Context())
	if errors.Is(err, agent.ErrScanInProgress) {
		s.errorResponse(w, http.StatusConflict, "scan already in progress")
		return
	}
	if err != nil {
		s.logger.Error("manual scan failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, result, s.logger)
}

func (s *Server) handleCommandsRecent(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			s.errorResponse(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	entries, err := s.ledger.Recent(limit)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "load commands")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"commands": entries}, s.logger)
}

func (s *Server) handleCommandsPending(w http.ResponseWriter, r *http.Request) {
	entries, err := s.ledger.Pending()
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "load pending commands")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"commands": entries}, s.logger)
}

func (s *Server) handleCommandGet(w http.ResponseWriter, r *http.Request) {
	entry, err := s.ledger.Get(r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, http.StatusNotFound, "command not found")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, entry, s.logger)
}

func (s *Server) handleCommandApprove(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	outcome, err := s.agent.Approve(r.Context(), id)
	if err != nil {
		s.errorResponse(w, http.StatusConflict, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, outcome, s.logger)
}

func (s *Server) handleRemindersList(w http.ResponseWriter, r *http.Request) {
	if s.reminders == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "reminders not configured")
		return
	}
	pending, err := s.reminders.Pending()
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "load reminders")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"reminders": pending}, s.logger)
}

func (s *Server) handleReminderCancel(w http.ResponseWriter, r *http.Request) {
	if s.reminders == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "reminders not configured")
		return
	}
	if err := s.reminders.Cancel(r.PathValue("id")); err != nil {
		s.errorResponse(w, http.StatusNotFound, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "cancelled"}, s.logger)
}

func (s *Server) handleContacts(w http.ResponseWriter, r *http.Request) {
	if s.contacts == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "contacts not configured")
		return
	}
	var (
		list []*contacts.Contact
		err  error
	)
	if q := r.URL.Query().Get("q"); q != "" {
		list, err = s.contacts.Search(q)
	} else {
		list, err = s.contacts.ListAll()
	}
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "load contacts")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"contacts": list}, s.logger)
}

func (s *Server) handleContactDelete(w http.ResponseWriter, r *http.Request) {
	if s.contacts == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "contacts not configured")
		return
	}
	if err := s.contacts.Delete(r.PathValue("id")); err != nil {
		s.errorResponse(w, http.StatusNotFound, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "deleted"}, s.logger)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if s.household == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "lists not configured")
		return
	}
	name := r.PathValue("list")
	if name != household.ListGrocery && name != household.ListTask {
		s.errorResponse(w, http.StatusNotFound, "unknown list")
		return
	}
	items, err := s.household.Open(name)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "load list")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"list": name, "items": items}, s.logger)
}

// handleEvents upgrades to a websocket and streams bus events as JSON
// until the client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "event stream not configured")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := s.bus.Subscribe(64)
	defer s.bus.Unsubscribe(sub)

	// Reader goroutine: we never expect client messages, but reading
	// is how we learn about disconnects.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	s.logger.Debug("event stream connected", "remote", r.RemoteAddr)
	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case ev := <-sub:
			if err := conn.WriteJSON(ev); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.logger.Debug("event stream write failed", "error", err)
				}
				return
			}
		}
	}
}
