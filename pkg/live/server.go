// Package live streams experiment progress to websocket subscribers.
// Subscribers receive JSON-RPC 2.0 notifications for every result snapshot
// and job transition and may query the server with JSON-RPC calls over the
// same socket or over HTTP.
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package live

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"ssnmr-sequencer/pkg/executor"
	"ssnmr-sequencer/pkg/log"
	"ssnmr-sequencer/pkg/metrics"
	"ssnmr-sequencer/pkg/pool"
	"ssnmr-sequencer/pkg/results"
)

// Notification methods sent to subscribers.
const (
	NotifyConnected   = "notify_live_connected"
	NotifyJobStarted  = "notify_job_started"
	NotifySnapshot    = "notify_snapshot"
	NotifyJobFinished = "notify_job_finished"
)

// Config holds server configuration.
type Config struct {
	// Addr is the listen address, e.g. ":7125".
	Addr    string
	Logger  *log.Logger
	Metrics *metrics.Metrics
	// Saver, when set, answers live.experiments with the saved runs.
	Saver *results.DataSaver
}

// Server relays the progress of one job at a time.
type Server struct {
	cfg      Config
	log      *log.Logger
	http     *http.Server
	stopped  bool
	upgrader websocket.Upgrader
	started  time.Time

	subsMu   sync.RWMutex
	subs     map[int64]*subscriber
	nextWSID int64

	// Replayed to new subscribers and answered to queries.
	stateMu sync.RWMutex
	latest  *executor.Snapshot
	jobID   string
	jobErr  string
}

// New creates a live server.
func New(cfg Config) *Server {
	s := &Server{
		cfg:     cfg,
		log:     cfg.Logger,
		subs:    make(map[int64]*subscriber),
		started: time.Now(),
		upgrader: websocket.Upgrader{
			// Viewers are served from other origins.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	if s.log == nil {
		s.log = log.GetLogger("live")
	}
	return s
}

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/websocket", s.handleWebSocket)
	mux.HandleFunc("/jsonrpc", s.handleJSONRPC)
	mux.HandleFunc("/server/info", s.handleServerInfo)
	mux.HandleFunc("/live/latest", s.handleLatest)
	return mux
}

// Start listens on the configured address and serves until Stop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("live server: %w", err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Stop.
func (s *Server) Serve(ln net.Listener) error {
	srv := &http.Server{Handler: s.Handler()}
	s.stateMu.Lock()
	if s.stopped {
		s.stateMu.Unlock()
		return ln.Close()
	}
	s.http = srv
	s.stateMu.Unlock()

	s.log.Info("live results on ws://%s/websocket", ln.Addr())
	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("live server: %w", err)
	}
	return nil
}

// Stop disconnects every subscriber and closes the listener.
func (s *Server) Stop() error {
	s.subsMu.Lock()
	for _, sub := range s.subs {
		sub.close()
	}
	s.subs = make(map[int64]*subscriber)
	s.subsMu.Unlock()
	s.cfg.Metrics.SetLiveClients(0)

	s.stateMu.Lock()
	s.stopped = true
	srv := s.http
	s.stateMu.Unlock()
	if srv != nil {
		return srv.Close()
	}
	return nil
}

// ClientCount returns the number of connected subscribers.
func (s *Server) ClientCount() int {
	s.subsMu.RLock()
	defer s.subsMu.RUnlock()
	return len(s.subs)
}

// Publish records a snapshot and sends it to every subscriber.
func (s *Server) Publish(snap executor.Snapshot) {
	s.stateMu.Lock()
	s.latest = &snap
	s.stateMu.Unlock()
	s.broadcast(notification(NotifySnapshot, snap))
}

// Follow publishes the snapshots of job until it ends, then announces the
// outcome. It blocks until the job is done.
func (s *Server) Follow(job *executor.Job) {
	s.stateMu.Lock()
	s.jobID, s.jobErr, s.latest = job.ID(), "", nil
	s.stateMu.Unlock()
	s.broadcast(notification(NotifyJobStarted, map[string]any{"job_id": job.ID(), "mode": job.Mode()}))

	for snap := range job.Snapshots() {
		s.Publish(snap)
	}
	final, err := job.Wait()

	status, msg := "completed", ""
	if err != nil {
		status, msg = "error", err.Error()
	}
	s.stateMu.Lock()
	s.jobErr = msg
	s.stateMu.Unlock()
	s.broadcast(notification(NotifyJobFinished, map[string]any{
		"job_id":    job.ID(),
		"status":    status,
		"error":     msg,
		"iteration": final.Iteration,
	}))
}

// Latest returns the most recently published snapshot.
func (s *Server) Latest() (executor.Snapshot, bool) {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	if s.latest == nil {
		return executor.Snapshot{}, false
	}
	return *s.latest, true
}

// broadcast encodes msg once and queues the frame for every subscriber.
func (s *Server) broadcast(msg any) {
	frame, err := pool.EncodeJSON(msg, "")
	if err != nil {
		s.log.WithError(err).Error("encoding notification failed")
		return
	}
	s.subsMu.RLock()
	defer s.subsMu.RUnlock()
	for _, sub := range s.subs {
		sub.send(frame)
		s.cfg.Metrics.LiveMessage()
	}
}

func notification(method string, params any) map[string]any {
	return map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  []any{params},
	}
}

// JSON-RPC 2.0 structures

type jsonRPCRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params,omitempty"`
	ID      any            `json:"id,omitempty"`
}

type jsonRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	Result  any           `json:"result,omitempty"`
	Error   *jsonRPCError `json:"error,omitempty"`
	ID      any           `json:"id,omitempty"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// dispatchMethod routes a method call to its handler.
func (s *Server) dispatchMethod(method string, params map[string]any) (any, error) {
	switch method {
	case "server.info":
		return s.methodServerInfo(), nil
	case "live.latest":
		return s.methodLatest()
	case "live.experiments":
		return s.methodExperiments()
	default:
		return nil, fmt.Errorf("method not found: %s", method)
	}
}

func (s *Server) methodServerInfo() map[string]any {
	hostname, _ := os.Hostname()
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	info := map[string]any{
		"hostname":  hostname,
		"clients":   s.ClientCount(),
		"uptime":    time.Since(s.started).Seconds(),
		"job_id":    s.jobID,
		"job_error": s.jobErr,
		"iteration": 0,
	}
	if s.latest != nil {
		info["iteration"] = s.latest.Iteration
		info["averages"] = s.latest.Averages
	}
	return info
}

func (s *Server) methodLatest() (any, error) {
	snap, ok := s.Latest()
	if !ok {
		return nil, fmt.Errorf("no results yet")
	}
	return snap, nil
}

func (s *Server) methodExperiments() (any, error) {
	if s.cfg.Saver == nil {
		return nil, fmt.Errorf("no data folder configured")
	}
	names, err := s.cfg.Saver.ListExperiments()
	if err != nil {
		return nil, err
	}
	if names == nil {
		names = []string{}
	}
	return map[string]any{"root": s.cfg.Saver.Root(), "experiments": names}, nil
}

// HTTP handlers

func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req jsonRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, errorResponse(nil, codeParseError, "Parse error"))
		return
	}
	result, err := s.dispatchMethod(req.Method, req.Params)
	if err != nil {
		s.writeJSON(w, errorResponse(req.ID, codeServerError, err.Error()))
		return
	}
	s.writeJSON(w, jsonRPCResponse{JSONRPC: "2.0", Result: result, ID: req.ID})
}

func (s *Server) handleServerInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]any{"result": s.methodServerInfo()})
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.Latest()
	if !ok {
		http.Error(w, "no results yet", http.StatusNotFound)
		return
	}
	s.writeJSON(w, snap)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	data, err := pool.EncodeJSON(v, "")
	if err != nil {
		s.log.WithError(err).Error("encoding response failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	sub := s.newSubscriber(conn)

	s.subsMu.Lock()
	s.subs[sub.id] = sub
	n := len(s.subs)
	s.subsMu.Unlock()
	s.cfg.Metrics.SetLiveClients(n)
	s.log.Debug("subscriber %d connected", sub.id)

	go sub.writePump()

	greeting := []any{notification(NotifyConnected, s.methodServerInfo())}
	if snap, ok := s.Latest(); ok {
		greeting = append(greeting, notification(NotifySnapshot, snap))
	}
	for _, msg := range greeting {
		if frame, err := pool.EncodeJSON(msg, ""); err == nil {
			sub.send(frame)
		}
	}

	sub.readPump()
}

func (s *Server) removeSubscriber(sub *subscriber) {
	s.subsMu.Lock()
	delete(s.subs, sub.id)
	n := len(s.subs)
	s.subsMu.Unlock()
	s.cfg.Metrics.SetLiveClients(n)
	s.log.Debug("subscriber %d disconnected", sub.id)
}
