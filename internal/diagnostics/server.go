// Package diagnostics exposes a small HTTP surface for inspecting a
// running engine: per-port queue depth and busy state, the Prometheus
// metrics endpoint, and a liveness probe.
package diagnostics

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/xid"

	"github.com/atcortex/atengine/internal/logging"
)

// PortStatus is a point-in-time snapshot of one port's engine state.
type PortStatus struct {
	Port       int    `json:"port"`
	Busy       bool   `json:"busy"`
	QueueDepth int    `json:"queueDepth"`
	QueueCap   int    `json:"queueCap"`
	LastError  string `json:"lastError,omitempty"`
}

// StatusSource is the minimal surface the diagnostics server needs from an
// Engine to report port status, kept narrow so this package does not
// import the engine package for anything beyond this interface.
type StatusSource interface {
	PortStatuses() []PortStatus
	PortStatus(id int) (PortStatus, bool)
}

// Server serves /healthz, /metrics, and /ports over HTTP.
type Server struct {
	srv    *http.Server
	status StatusSource
	log    logging.Logger
}

// New builds a Server listening on addr. logger may be nil.
func New(addr string, status StatusSource, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.Default()
	}
	s := &Server{
		status: status,
		log:    logger.With(logging.Field{Key: "subsystem", Value: "diagnostics"}),
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(s.requestID)
	r.Get("/healthz", s.handleHealth)
	r.Get("/ports", s.handlePorts)
	r.Get("/ports/{id}", s.handlePort)
	r.Handle("/metrics", promhttp.Handler())

	s.srv = &http.Server{Addr: addr, Handler: r}
	return s
}

// requestID tags every request with a sortable unique ID for correlating
// diagnostics calls with engine log lines emitted around the same time.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := xid.New().String()
		w.Header().Set("X-Request-Id", id)
		s.log.Debug("diagnostics request", logging.Field{Key: "request_id", Value: id}, logging.Field{Key: "path", Value: r.URL.Path})
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handlePorts(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.status.PortStatuses())
}

func (s *Server) handlePort(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid port id", http.StatusBadRequest)
		return
	}
	status, ok := s.status.PortStatus(id)
	if !ok {
		http.Error(w, "port not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}

// Start begins listening and shuts down when ctx is canceled.
func (s *Server) Start(ctx context.Context) {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("diagnostics server shutdown", logging.Field{Key: "error", Value: err})
		}
	}()

	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.log.Error("diagnostics server error", logging.Field{Key: "error", Value: err})
	}
}
