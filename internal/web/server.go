// Package web serves the WebSocket sync endpoint and the HTTP API of the
// sync server.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/referencer/refsync/internal/config"
	"github.com/referencer/refsync/internal/hub"
	"github.com/referencer/refsync/internal/logger"
	"github.com/referencer/refsync/internal/metrics"
	"github.com/referencer/refsync/internal/room"
	"github.com/referencer/refsync/internal/store"
)

// Options configures a Server.
type Options struct {
	Addr     string
	Socket   config.SocketConfig
	Auth     Authorizer
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer // serves /metrics when set
}

// Server represents the sync HTTP server
type Server struct {
	store  store.Store
	rooms  *room.Registry
	hub    *hub.Hub
	opts   Options
	router *httprouter.Router
	server *http.Server
	log    *logger.Logger

	upgrader websocket.Upgrader
}

// NewServer creates a new server
func NewServer(s store.Store, rooms *room.Registry, h *hub.Hub, opts Options) *Server {
	if opts.Auth == nil {
		opts.Auth = AllowAll{}
	}
	srv := &Server{
		store:  s,
		rooms:  rooms,
		hub:    h,
		opts:   opts,
		router: httprouter.New(),
		log:    logger.Global().WithPrefix("web"),
	}
	srv.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     srv.checkOrigin,
	}
	srv.server = &http.Server{
		Handler:           srv.router,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          logger.StdLogger(srv.log, slog.LevelWarn),
	}
	srv.setupRoutes()
	return srv
}

func (s *Server) setupRoutes() {
	s.router.GET("/ws/:workspaceID", s.handleWebSocket)
	s.router.GET("/api/workspaces/:workspaceID/state", s.handleState)
	s.router.GET("/healthz", s.handleHealth)
	if s.opts.Gatherer != nil {
		s.router.Handler(http.MethodGet, "/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{
			ErrorLog: logger.StdLogger(s.log, slog.LevelError),
		}))
	}
}

// Handler returns the routes of the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve accepts connections on l until Shutdown is called.
func (s *Server) Serve(l net.Listener) error {
	s.log.Info("Listening on %s", l.Addr())
	if err := s.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe listens on the configured address.
func (s *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.opts.Addr, err)
	}
	return s.Serve(l)
}

// Shutdown stops accepting requests and closes every WebSocket.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.server.Shutdown(ctx)
	// hijacked connections are not tracked by http.Server
	s.hub.CloseAll()
	return err
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.opts.Socket.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.opts.Socket.AllowedOrigins {
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}
	return false
}

func (s *Server) authorize(w http.ResponseWriter, r *http.Request, workspaceID string) bool {
	ok, err := s.opts.Auth.CanEdit(r, workspaceID)
	if err != nil {
		s.log.Error("Authorization failed for %s: %v", workspaceID, err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return false
	}
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return false
	}
	return true
}

// handleWebSocket upgrades the request and runs the connection until the
// peer goes away.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	workspaceID := ps.ByName("workspaceID")
	if !s.authorize(w, r, workspaceID) {
		s.log.Warn("WebSocket connection to %s rejected: unauthorized", workspaceID)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader already replied
		s.log.Warn("Failed to upgrade WebSocket: %v", err)
		return
	}

	client := newClient(conn, clientOptions{
		pingPeriod:     time.Duration(s.opts.Socket.PingIntervalSec) * time.Second,
		maxMessageSize: s.opts.Socket.MaxMessageSize,
		sendQueueSize:  s.opts.Socket.SendQueueSize,
	}, s.log)
	go client.writePump()

	if s.opts.Metrics != nil {
		s.opts.Metrics.Connections.Inc()
		defer s.opts.Metrics.Connections.Dec()
	}

	ctx := r.Context()
	sess, err := s.rooms.Join(ctx, workspaceID, client)
	if err != nil {
		s.log.Error("Failed to join %s: %v", workspaceID, err)
		client.Close()
		return
	}
	s.log.Debug("Client %s connected to %s", sess.ClientID, workspaceID)

	client.readPump(ctx, sess)

	sess.Leave()
	client.Close()
	s.log.Debug("Client %s disconnected from %s", sess.ClientID, workspaceID)
}

// handleState returns the workspace snapshot with an ETag.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	workspaceID := ps.ByName("workspaceID")
	if !s.authorize(w, r, workspaceID) {
		return
	}

	state, err := s.store.GetState(r.Context(), workspaceID)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	if err != nil {
		s.log.Error("Failed to load state of %s: %v", workspaceID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load workspace"})
		return
	}

	body, err := json.Marshal(state)
	if err != nil {
		s.log.Error("Failed to encode state of %s: %v", workspaceID, err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	etag := fmt.Sprintf(`"%016x"`, xxhash.Sum64(body))
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Room-Members", strconv.Itoa(s.hub.RoomSize(workspaceID)))
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

// handleHealth reports whether the store is reachable.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"rooms":          s.rooms.ActiveRooms(),
		"connectedRooms": s.hub.RoomCount(),
		"time":           time.Now().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
