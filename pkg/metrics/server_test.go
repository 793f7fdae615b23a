// Unit tests for the scrape endpoint
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func serve(t *testing.T, s *Server, method, path string, auth ...string) (*http.Response, string) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if len(auth) == 2 {
		req.SetBasicAuth(auth[0], auth[1])
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)
	return resp, string(body)
}

func TestDefaultServerConfig(t *testing.T) {
	cfg := DefaultServerConfig()
	if cfg.Addr != ":9100" {
		t.Errorf("expected :9100, got %s", cfg.Addr)
	}
	if cfg.ReadTimeout != 10*time.Second || cfg.WriteTimeout != 10*time.Second {
		t.Errorf("unexpected timeouts %v/%v", cfg.ReadTimeout, cfg.WriteTimeout)
	}

	s := NewServer(New(), ":9200")
	if s.Addr() != ":9200" {
		t.Errorf("expected :9200, got %s", s.Addr())
	}
	if s.Listening() {
		t.Error("server should not listen before Start")
	}
}

func TestScrapeExposesSequencerMetrics(t *testing.T) {
	m := New()
	m.ObserveLowering("swept", time.Millisecond, nil)
	m.JobStarted()
	m.ScanCompleted()

	resp, body := serve(t, NewServer(m, ":0"), http.MethodGet, "/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/plain") {
		t.Errorf("unexpected content type %q", ct)
	}
	for _, want := range []string{
		`nmr_programs_lowered_total{shape="swept"} 1`,
		"nmr_jobs_running 1",
		"nmr_scans_completed_total 1",
		"nmr_uptime_seconds",
		"go_goroutines",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("scrape is missing %q", want)
		}
	}
}

func TestRoutes(t *testing.T) {
	s := NewServer(New(), ":0")
	tests := []struct {
		name   string
		method string
		path   string
		status int
		body   string
	}{
		{"head has no body", http.MethodHead, "/metrics", http.StatusOK, ""},
		{"post refused", http.MethodPost, "/metrics", http.StatusMethodNotAllowed, "Method not allowed"},
		{"health", http.MethodGet, "/healthz", http.StatusOK, "ok"},
		{"not ready before listening", http.MethodGet, "/readyz", http.StatusServiceUnavailable, "not listening"},
		{"index", http.MethodGet, "/", http.StatusOK, "/metrics"},
		{"unknown path", http.MethodGet, "/scans", http.StatusNotFound, "404"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := serve(t, s, tt.method, tt.path)
			if resp.StatusCode != tt.status {
				t.Errorf("expected %d, got %d", tt.status, resp.StatusCode)
			}
			if tt.body == "" && body != "" {
				t.Errorf("expected empty body, got %q", body)
			}
			if !strings.Contains(body, tt.body) {
				t.Errorf("body %q does not contain %q", body, tt.body)
			}
		})
	}
}

func TestBasicAuth(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.Username, cfg.Password = "nmr", "secret"
	s := NewServerWithConfig(New(), cfg)

	resp, _ := serve(t, s, http.MethodGet, "/metrics")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 without credentials, got %d", resp.StatusCode)
	}
	if resp.Header.Get("WWW-Authenticate") == "" {
		t.Error("expected WWW-Authenticate header")
	}

	resp, _ = serve(t, s, http.MethodGet, "/metrics", "nmr", "wrong")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 with wrong password, got %d", resp.StatusCode)
	}

	resp, _ = serve(t, s, http.MethodGet, "/metrics", "nmr", "secret")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 with credentials, got %d", resp.StatusCode)
	}

	// Probes stay open.
	resp, _ = serve(t, s, http.MethodGet, "/healthz")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected open health probe, got %d", resp.StatusCode)
	}
}

func TestServeAndShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := NewServer(New(), ln.Addr().String())

	done := make(chan error, 1)
	go func() { done <- s.Serve(ln) }()

	deadline := time.Now().Add(2 * time.Second)
	for !s.Listening() {
		if time.Now().After(deadline) {
			t.Fatal("server did not start")
		}
		time.Sleep(5 * time.Millisecond)
	}

	resp, err := http.Get("http://" + s.Addr() + "/readyz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected ready, got %d", resp.StatusCode)
	}

	status := s.Status()
	if status["listening"] != true {
		t.Errorf("unexpected status %v", status)
	}
	if _, ok := status["uptime"]; !ok {
		t.Error("status should report uptime while listening")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := <-done; err != nil {
		t.Errorf("Serve returned %v", err)
	}
	if s.Listening() {
		t.Error("server still listening after Shutdown")
	}
}

func TestStartAsyncReportsListenError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	s := NewServer(New(), ln.Addr().String())
	select {
	case err := <-s.StartAsync():
		if err == nil {
			t.Error("expected address in use error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("StartAsync did not report")
	}
}

func BenchmarkScrape(b *testing.B) {
	m := New()
	m.ObserveLowering("fixed", time.Microsecond, nil)
	s := NewServer(m, ":0")
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Handler().ServeHTTP(httptest.NewRecorder(), req)
	}
}
