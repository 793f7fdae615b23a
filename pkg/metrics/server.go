// Prometheus scrape endpoint
//
// Serves the sequencer registry at /metrics, with liveness and readiness
// probes for process supervisors. Basic authentication is optional.
//
//	srv := metrics.NewServer(metrics.Global(), ":9100")
//	errc := srv.StartAsync()
//	defer srv.Shutdown(context.Background())
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ssnmr-sequencer/pkg/log"
)

// ServerConfig configures the scrape endpoint.
type ServerConfig struct {
	// Addr is the listen address, e.g. ":9100".
	Addr string

	// Username and Password enable basic authentication on /metrics when
	// either is set.
	Username string
	Password string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultServerConfig listens on :9100 with 10 s timeouts.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:         ":9100",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Server exposes Metrics over HTTP.
type Server struct {
	cfg      ServerConfig
	log      *log.Logger
	mux      *http.ServeMux
	http     *http.Server
	exporter http.Handler

	mu        sync.RWMutex
	addr      string
	listening bool
	since     time.Time
}

// NewServer creates a server for m on addr with the default timeouts.
func NewServer(m *Metrics, addr string) *Server {
	cfg := DefaultServerConfig()
	cfg.Addr = addr
	return NewServerWithConfig(m, cfg)
}

// NewServerWithConfig creates a server for m.
func NewServerWithConfig(m *Metrics, cfg ServerConfig) *Server {
	s := &Server{
		cfg:  cfg,
		log:  log.GetLogger("metrics"),
		mux:  http.NewServeMux(),
		addr: cfg.Addr,
		exporter: promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{
			Registry: m.Registry(),
		}),
	}
	s.mux.HandleFunc("/metrics", s.handleMetrics)
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/readyz", s.handleReady)
	s.mux.HandleFunc("/", s.handleIndex)

	s.http = &http.Server{
		Handler:      s.mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler returns the routes without listening.
func (s *Server) Handler() http.Handler { return s.mux }

// Addr returns the listen address, resolved once listening.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// Listening reports whether the server is accepting connections.
func (s *Server) Listening() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listening
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("metrics server: %w", err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.listening = true
	s.since = time.Now()
	s.mu.Unlock()

	s.log.Info("serving metrics on http://%s/metrics", ln.Addr())
	if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// StartAsync runs Start in a goroutine. The channel yields the listen or
// serve error, if any, and is closed when the server stops.
func (s *Server) StartAsync() <-chan error {
	errc := make(chan error, 1)
	go func() {
		defer close(errc)
		if err := s.Start(); err != nil {
			errc <- err
		}
	}()
	return errc
}

// Shutdown stops accepting scrapes and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.listening = false
	s.mu.Unlock()
	return s.http.Shutdown(ctx)
}

// Status describes the server for diagnostics.
func (s *Server) Status() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status := map[string]any{
		"address":   s.addr,
		"listening": s.listening,
	}
	if s.listening {
		status["uptime"] = time.Since(s.since).Seconds()
	}
	return status
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		w.Header().Set("WWW-Authenticate", `Basic realm="nmr metrics"`)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	switch r.Method {
	case http.MethodGet:
		s.exporter.ServeHTTP(w, r)
	case http.MethodHead:
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		w.WriteHeader(http.StatusOK)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintln(w, "ok")
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	if !s.Listening() {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintln(w, "not listening")
		return
	}
	fmt.Fprintln(w, "ready")
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintln(w, "nmr sequencer metrics")
	fmt.Fprintln(w, "  /metrics  prometheus exposition")
	fmt.Fprintln(w, "  /healthz  liveness")
	fmt.Fprintln(w, "  /readyz   readiness")
}

// authorized checks basic auth in constant time when credentials are set.
func (s *Server) authorized(r *http.Request) bool {
	if s.cfg.Username == "" && s.cfg.Password == "" {
		return true
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.cfg.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(s.cfg.Password)) == 1
	return userOK && passOK
}
