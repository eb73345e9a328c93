package main

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/scandesk/capture-agent/internal/agent"
	"github.com/scandesk/capture-agent/internal/config"
	"github.com/scandesk/capture-agent/internal/server"
	"github.com/scandesk/capture-agent/internal/types"
)

const statusPushInterval = 1 * time.Second

// Server exposes the REST and WebSocket control surface for the agent.
type Server struct {
	config  *config.Config
	agent   *agent.Agent
	version *VersionChecker
}

// NewServer returns a new Server for the given config and agent.
func NewServer(cfg *config.Config, ag *agent.Agent) *Server {
	return &Server{
		config:  cfg,
		agent:   ag,
		version: NewVersionChecker(),
	}
}

// Start launches the HTTP server in a goroutine and returns it for shutdown.
func (s *Server) Start() *http.Server {
	cfg := s.config.Snapshot()
	addr := fmt.Sprintf(":%d", cfg.Port)

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.SetupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("Control server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	return httpServer
}

// SetupRoutes returns an [http.Handler] configured with all application routes.
func (s *Server) SetupRoutes() http.Handler {
	r := mux.NewRouter()

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.apiKeyMiddleware)
	api.HandleFunc("/status", s.handleAPIStatus).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{kind}/start", s.handleSessionStart).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{kind}/stop", s.handleSessionStop).Methods(http.MethodPost)
	api.HandleFunc("/events", s.handleAPIEvents).Methods(http.MethodGet)
	api.HandleFunc("/config", s.handleAPIConfig).Methods(http.MethodGet)
	api.HandleFunc("/config/detection", s.handleDetectionUpdate).Methods(http.MethodPatch)
	api.HandleFunc("/archive/test", s.handleArchiveTest).Methods(http.MethodPost)
	api.HandleFunc("/auth/regenerate-key", s.handleRegenerateKey).Methods(http.MethodPost)
	api.HandleFunc("/version", s.handleAPIVersion).Methods(http.MethodGet)

	r.HandleFunc("/ws", s.handleWebSocket)

	return r
}

// apiKeyMiddleware enforces the configured API key with a constant-time
// compare. An empty configured key disables authentication for local use.
func (s *Server) apiKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := s.config.APIKey()
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}

		provided := r.Header.Get("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(key)) != 1 {
			s.writeError(w, http.StatusUnauthorized, "Invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// wsStatusFrame is one status push on the WebSocket feed.
type wsStatusFrame struct {
	Type   string            `json:"type"`
	Status types.AgentStatus `json:"status"`
}

// handleWebSocket streams status frames to the client until it disconnects.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := server.UpgradeConnection(w, r)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	// Buffered send channel: only the writer goroutine touches the
	// connection, so concurrent pushes cannot race.
	send := make(chan any, 16)
	done := make(chan struct{})

	go s.runWebSocketWriter(conn, send)
	go s.runWebSocketReader(conn, done)

	s.runStatusPushLoop(send, done)
}

// runWebSocketWriter writes messages from the send channel to the connection.
func (s *Server) runWebSocketWriter(conn *websocket.Conn, send <-chan any) {
	defer func() {
		if err := conn.Close(); err != nil {
			slog.Debug("WebSocket close error", "error", err)
		}
	}()
	for msg := range send {
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// runWebSocketReader drains the connection to detect disconnects promptly.
func (s *Server) runWebSocketReader(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// runStatusPushLoop pushes a status frame immediately and then on a ticker.
func (s *Server) runStatusPushLoop(send chan any, done <-chan struct{}) {
	ticker := time.NewTicker(statusPushInterval)
	defer ticker.Stop()

	trySend := func(msg any) bool {
		select {
		case send <- msg:
			return true
		case <-done:
			return false
		}
	}

	if !trySend(s.buildStatusFrame()) {
		close(send)
		return
	}

	for {
		select {
		case <-done:
			close(send)
			return
		case <-ticker.C:
			if !trySend(s.buildStatusFrame()) {
				close(send)
				return
			}
		}
	}
}

// buildStatusFrame snapshots the agent for one WebSocket push.
func (s *Server) buildStatusFrame() wsStatusFrame {
	return wsStatusFrame{
		Type:   "status",
		Status: s.agent.Status(),
	}
}
