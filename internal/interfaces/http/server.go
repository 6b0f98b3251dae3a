// Package http serves the read-only ops surface: health, metrics, and
// result lookups. Mutations go through the CLI and the services; this
// server never writes.
package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/laneiq/freightlens/internal/domain"
)

// ResultReader is the orchestrator surface the server exposes.
type ResultReader interface {
	GetResult(ctx context.Context, id string) (*domain.AnalysisResult, error)
}

// ScheduleReader lists configured schedules for operators.
type ScheduleReader interface {
	ListSchedules(ctx context.Context, createdBy string) ([]domain.AnalysisSchedule, error)
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Addr           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
}

func (c ServerConfig) withDefaults() ServerConfig {
	if c.Addr == "" {
		c.Addr = "127.0.0.1:8080"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 5 * time.Second
	}
	return c
}

// Server is the read-only ops HTTP server.
type Server struct {
	router    *mux.Router
	server    *http.Server
	results   ResultReader
	schedules ScheduleReader
	registry  *prometheus.Registry
	log       zerolog.Logger
	cfg       ServerConfig
}

// NewServer wires routes and middleware. registry may be nil to disable
// the metrics endpoint.
func NewServer(cfg ServerConfig, results ResultReader, schedules ScheduleReader, registry *prometheus.Registry, log zerolog.Logger) *Server {
	cfg = cfg.withDefaults()
	s := &Server{
		router:    mux.NewRouter(),
		results:   results,
		schedules: schedules,
		registry:  registry,
		log:       log.With().Str("component", "http").Logger(),
		cfg:       cfg,
	}
	s.setupRoutes()
	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.timeoutMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if s.registry != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.registry,
			promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	s.router.HandleFunc("/results/{id}", s.handleGetResult).Methods(http.MethodGet)
	s.router.HandleFunc("/schedules", s.handleListSchedules).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, domain.Ef(domain.KindNotFound, "no route for %s", r.URL.Path))
	})
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.cfg.Addr).Msg("ops server listening")
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("ops server shutting down")
	return s.server.Shutdown(ctx)
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	res, err := s.results.GetResult(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	scheds, err := s.schedules.ListSchedules(r.Context(), r.URL.Query().Get("created_by"))
	if err != nil {
		writeError(w, err)
		return
	}
	if scheds == nil {
		scheds = []domain.AnalysisSchedule{}
	}
	writeJSON(w, http.StatusOK, scheds)
}

type contextKey string

const requestIDKey contextKey = "request_id"

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()[:8]
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		requestID, _ := r.Context().Value(requestIDKey).(string)
		s.log.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("request")
	})
}

func (s *Server) timeoutMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWrapper) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps the domain taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch domain.KindOf(err) {
	case domain.KindNotFound:
		status = http.StatusNotFound
	case domain.KindInvalidPeriod, domain.KindPeriodTooGranular,
		domain.KindInvalidFilter, domain.KindInvalidScheduleSpec:
		status = http.StatusBadRequest
	case domain.KindNameConflict, domain.KindInUse,
		domain.KindNotCancellable, domain.KindCancelled:
		status = http.StatusConflict
	case domain.KindInProgressElsewhere:
		status = http.StatusAccepted
	case domain.KindStoreUnavailable, domain.KindCacheUnavailable:
		status = http.StatusServiceUnavailable
	case domain.KindInsufficientData:
		status = http.StatusUnprocessableEntity
	}
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	writeJSON(w, status, map[string]string{
		"error":  string(domain.KindOf(err)),
		"detail": detail,
	})
}
