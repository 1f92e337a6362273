// Package api serves the admin REST API, the metrics endpoint and the
// inbound webhook mounts on one chi router.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/legalmeet/intake/internal/fulfillment"
	"github.com/legalmeet/intake/internal/ledger"
	"github.com/legalmeet/intake/internal/logbuf"
	"github.com/legalmeet/intake/internal/scheduler"
	"github.com/legalmeet/intake/internal/session"
	"github.com/legalmeet/intake/pkg/protocol"
)

// LogQuerier abstracts log entry querying to avoid coupling to logbuf directly.
type LogQuerier interface {
	Query(f logbuf.Filter) []logbuf.Entry
}

// Sessions is the read side of the session store.
type Sessions interface {
	Len() int
	Snapshot() []session.Summary
}

// Registrar registers operator-entered cases.
type Registrar interface {
	Register(ctx context.Context, contact string, c protocol.Classification) fulfillment.Result
}

// JobLister reports scheduled maintenance jobs.
type JobLister interface {
	Jobs() []scheduler.JobInfo
}

// Deps are the backends the API reads. Logs, Registrar and the handlers
// are optional; routes without a backend are not mounted.
type Deps struct {
	Ledger    ledger.Ledger
	Sessions  Sessions
	Registrar Registrar
	Logs      LogQuerier
	Jobs      JobLister

	// Metrics serves GET /metrics.
	Metrics http.Handler
	// WhatsApp serves the Meta webhook at /webhook/whatsapp.
	WhatsApp http.Handler
	// Webhook serves generic endpoints at /api/webhook/{name}.
	Webhook http.Handler
}

// Config holds API server configuration.
type Config struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	// Key enables Bearer auth on /api/* when set.
	Key string `json:"key,omitempty"`
	// AllowedOrigins for CORS. Empty allows any origin.
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
}

// Server is the intake HTTP server.
type Server struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
	srv    *http.Server
}

// NewServer creates a new API server.
func NewServer(deps Deps, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		deps:   deps,
		cfg:    cfg,
		logger: logger.With("component", "api"),
		now:    time.Now,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))
	r.Use(cors(cfg.AllowedOrigins))

	r.Get("/health", s.handleHealth)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}
	if deps.WhatsApp != nil {
		r.Handle("/webhook/whatsapp", deps.WhatsApp)
	}

	r.Route("/api", func(r chi.Router) {
		// Webhook endpoints carry their own per-endpoint auth.
		if deps.Webhook != nil {
			r.Handle("/webhook/{name}", deps.Webhook)
		}

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Get("/stats", s.handleStats)
			r.Get("/cases", s.handleListCases)
			if deps.Registrar != nil {
				r.Post("/cases", s.handleRegisterCase)
			}
			r.Get("/appointments", s.handleListAppointments)
			r.Get("/appointments/{ref}", s.handleGetAppointment)
			r.Get("/sessions", s.handleSessions)
			r.Get("/references/{ref}", s.handleReference)
			r.Get("/logs", s.handleGetLogs)
			if deps.Jobs != nil {
				r.Get("/jobs", s.handleJobs)
			}
		})
	})

	s.srv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start begins listening. Blocks until context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutCtx)
	}()

	s.logger.Info("api server starting", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// --- Middleware ---

func cors(allowed []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := r.Header.Get("Origin"); origin != "" && originAllowed(allowed, origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func originAllowed(allowed []string, origin string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, o := range allowed {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Key == "" {
			next.ServeHTTP(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != s.cfg.Key {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_sessions": s.deps.Sessions.Len(),
	})
}

type statsResponse struct {
	*ledger.Stats
	Appointments *ledger.AppointmentStats `json:"appointments"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	stats, err := s.deps.Ledger.Stats(r.Context(), now)
	if err != nil {
		s.internalError(w, "stats", err)
		return
	}
	stats.ActiveSessions = s.deps.Sessions.Len()

	apts, err := s.deps.Ledger.AppointmentStats(r.Context(), now)
	if err != nil {
		s.internalError(w, "appointment stats", err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{Stats: stats, Appointments: apts})
}

const defaultCaseLimit = 100

func (s *Server) handleListCases(w http.ResponseWriter, r *http.Request) {
	limit := defaultCaseLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	cases, err := s.deps.Ledger.ListCases(r.Context(), limit)
	if err != nil {
		s.internalError(w, "list cases", err)
		return
	}
	if cases == nil {
		cases = []protocol.CaseRecord{}
	}
	writeJSON(w, http.StatusOK, cases)
}

type registerCaseRequest struct {
	Contact  string   `json:"contact"`
	Category string   `json:"category"`
	Urgency  string   `json:"urgency"`
	Title    string   `json:"title"`
	Summary  string   `json:"summary,omitempty"`
	Keywords []string `json:"keywords,omitempty"`
}

type registerCaseResponse struct {
	ReferenceID string            `json:"reference_id"`
	Ticket      string            `json:"ticket"`
	Estimate    protocol.Estimate `json:"estimate"`
}

func (s *Server) handleRegisterCase(w http.ResponseWriter, r *http.Request) {
	var req registerCaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if strings.TrimSpace(req.Contact) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "contact is required"})
		return
	}

	c := protocol.Classification{
		Category: protocol.Category(req.Category),
		Urgency:  protocol.Urgency(req.Urgency),
		Title:    req.Title,
		Summary:  req.Summary,
		Keywords: req.Keywords,
	}
	if cat, err := protocol.ParseCategory(req.Category); err == nil {
		c.Category = cat
	}
	if urg, err := protocol.ParseUrgency(req.Urgency); err == nil {
		c.Urgency = urg
	}
	if err := c.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	res := s.deps.Registrar.Register(r.Context(), req.Contact, c)
	s.logger.Info("case registered by operator", "reference_id", res.ReferenceID, "category", c.Category)
	writeJSON(w, http.StatusCreated, registerCaseResponse{
		ReferenceID: res.ReferenceID,
		Ticket:      res.TicketText,
		Estimate:    res.Estimate,
	})
}

func (s *Server) handleListAppointments(w http.ResponseWriter, r *http.Request) {
	apts, err := s.deps.Ledger.ListAppointments(r.Context())
	if err != nil {
		s.internalError(w, "list appointments", err)
		return
	}
	if apts == nil {
		apts = []protocol.Appointment{}
	}
	writeJSON(w, http.StatusOK, apts)
}

func (s *Server) handleGetAppointment(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	apt, err := s.deps.Ledger.FindAppointment(r.Context(), ref)
	if errors.Is(err, ledger.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "appointment not found"})
		return
	}
	if err != nil {
		s.internalError(w, "find appointment", err)
		return
	}
	writeJSON(w, http.StatusOK, apt)
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	sessions := s.deps.Sessions.Snapshot()
	if sessions == nil {
		sessions = []session.Summary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"active":   len(sessions),
		"sessions": sessions,
	})
}

func (s *Server) handleReference(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	writeJSON(w, http.StatusOK, map[string]any{
		"reference_id": ref,
		"valid":        fulfillment.ValidReference(ref),
	})
}

func (s *Server) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	if s.deps.Logs == nil {
		writeJSON(w, http.StatusOK, []logbuf.Entry{})
		return
	}

	q := r.URL.Query()
	f := logbuf.Filter{
		MinLevel: slog.LevelDebug,
		Limit:    200,
		Address:  q.Get("address"),
	}
	if l := q.Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			f.Limit = n
		}
	}
	if lvl := q.Get("level"); lvl != "" {
		if level, ok := logbuf.ParseLevel(lvl); ok {
			f.MinLevel = level
		}
	}
	if since := q.Get("since"); since != "" {
		if ms, err := strconv.ParseInt(since, 10, 64); err == nil {
			f.Since = time.UnixMilli(ms)
		} else if t, err := time.Parse(time.RFC3339, since); err == nil {
			f.Since = t
		}
	}

	entries := s.deps.Logs.Query(f)
	if entries == nil {
		entries = []logbuf.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- Helpers ---

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error("request failed", "op", op, "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Jobs.Jobs())
}
