package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/sawpanic/protoreg/internal/metrics"
	"github.com/sawpanic/protoreg/internal/persistence"
)

// Server exposes health, metrics and live training progress over HTTP.
// GET /progress returns the latest record, or streams records when the
// request asks for a websocket upgrade.
type Server struct {
	router  *mux.Router
	server  *http.Server
	metrics *metrics.Registry
	hub     *Hub
	health  persistence.RepositoryHealth
	logger  zerolog.Logger
	started time.Time
}

// NewServer builds the monitor; health may be nil when no database is used
func NewServer(addr string, reg *metrics.Registry, hub *Hub, health persistence.RepositoryHealth, logger zerolog.Logger) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		metrics: reg,
		hub:     hub,
		health:  health,
		logger:  logger,
		started: time.Now(),
	}
	s.setupRoutes()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.requestLoggingMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	s.router.HandleFunc("/progress", s.hub.ServeWS).Methods("GET").Headers("Upgrade", "websocket")
	s.router.HandleFunc("/progress", s.handleProgress).Methods("GET")
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.server.Addr).Msg("Monitor listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

type healthResponse struct {
	Status      string                   `json:"status"`
	Uptime      string                   `json:"uptime"`
	Subscribers int                      `json:"subscribers"`
	Database    *persistence.HealthCheck `json:"database,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:      "ok",
		Uptime:      time.Since(s.started).Round(time.Second).String(),
		Subscribers: s.hub.Clients(),
	}
	code := http.StatusOK
	if s.health != nil {
		check := s.health.Health(r.Context())
		resp.Database = &check
		if !check.Healthy {
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, resp)
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	p, ok := s.hub.Latest()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no progress recorded yet"})
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// requestIDMiddleware adds a short request ID to each response
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Request-ID", uuid.New().String()[:8])
		next.ServeHTTP(w, r)
	})
}

// requestLoggingMiddleware logs every request except websocket streams
func (s *Server) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		if websocket.IsWebSocketUpgrade(r) {
			return
		}
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("request_id", w.Header().Get("X-Request-ID")).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}
