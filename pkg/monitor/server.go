package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/allenv5/sviamp/pkg/svi"
)

// Response is the JSON envelope of every API reply.
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Status is the body of GET /api/v1/status.
type Status struct {
	RunID          string  `json:"run_id"`
	Iteration      int     `json:"iteration"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	Heldout        float64 `json:"heldout"`
	MaxHeldout     float64 `json:"max_heldout"`
	Validation     float64 `json:"validation"`
	Training       float64 `json:"training"`
	Stalls         int     `json:"stalls"`
	Verdict        string  `json:"verdict"`
	Edges          int     `json:"edges"`
	Hits10         float64 `json:"hits_10,omitempty"`
	Hits50         float64 `json:"hits_50,omitempty"`
	Hits100        float64 `json:"hits_100,omitempty"`
}

// Server serves metrics and run status. It implements svi.Observer.
type Server struct {
	logger   zerolog.Logger
	registry *prometheus.Registry
	metrics  *Metrics
	router   *mux.Router

	mu      sync.RWMutex
	last    Status
	reports int

	srv  *http.Server
	ln   net.Listener
	done chan struct{}
}

// NewServer creates a server with its own metrics registry.
func NewServer(logger zerolog.Logger) *Server {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	s := &Server{
		logger:   logger,
		registry: reg,
		metrics:  NewMetrics(reg),
		router:   mux.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods("GET")

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.recoveryMiddleware)
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler { return s.router }

// Observe records a progress report.
func (s *Server) Observe(p svi.Progress) {
	s.metrics.Observe(p)

	st := Status{
		RunID:          p.RunID,
		Iteration:      p.Iteration,
		ElapsedSeconds: p.Elapsed.Seconds(),
		Heldout:        p.Heldout,
		MaxHeldout:     p.MaxHeldout,
		Validation:     p.Validation,
		Training:       p.Training,
		Stalls:         p.Stalls,
		Verdict:        p.Verdict,
		Edges:          p.Edges,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Hits != nil {
		st.Hits10, st.Hits50, st.Hits100 = p.Hits.At10, p.Hits.At50, p.Hits.At100
	} else {
		st.Hits10, st.Hits50, st.Hits100 = s.last.Hits10, s.last.Hits50, s.last.Hits100
	}
	s.last = st
	s.reports++
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	st, reports := s.last, s.reports
	s.mu.RUnlock()

	if reports == 0 {
		writeJSON(w, http.StatusServiceUnavailable, Response{Message: "no progress reported yet"})
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: st})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Response{Success: true, Message: "ok"})
}

// Start listens on addr and serves in the background until Shutdown.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.srv = &http.Server{
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		s.logger.Info().Str("address", ln.Addr().String()).Msg("Monitor server starting")
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Monitor server failed")
		}
	}()
	return nil
}

// Addr returns the listening address, or "" before Start.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Shutdown stops the server and waits for the serving goroutine to exit.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	err := s.srv.Shutdown(ctx)
	select {
	case <-s.done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

// responseWrapper captures the status code written by a handler.
type responseWrapper struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.written = true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWrapper) Write(b []byte) (int, error) {
	rw.written = true
	return rw.ResponseWriter.Write(b)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Msg("HTTP request processed")
	})
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error().
					Interface("panic", err).
					Str("stack", string(debug.Stack())).
					Str("path", r.URL.Path).
					Msg("HTTP handler panic recovered")
				if !wrapper.written {
					writeJSON(w, http.StatusInternalServerError, Response{Message: "internal server error"})
				}
			}
		}()
		next.ServeHTTP(wrapper, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, body Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
