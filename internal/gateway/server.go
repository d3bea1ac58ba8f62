// Package gateway is the ops HTTP surface: health and status endpoints
// plus a websocket feed of bridge events.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/anagora/agora-bridge/internal/bus"
	"github.com/anagora/agora-bridge/internal/channels"
	"github.com/anagora/agora-bridge/internal/config"
)

// Server serves the ops endpoints.
type Server struct {
	cfg      *config.Config
	eventPub bus.EventPublisher
	manager  *channels.Manager
	started  time.Time

	upgrader websocket.Upgrader
	clients  map[string]*wsClient
	mu       sync.RWMutex

	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer creates an ops server over the event feed and channel manager.
func NewServer(cfg *config.Config, eventPub bus.EventPublisher, manager *channels.Manager) *Server {
	return &Server{
		cfg:      cfg,
		eventPub: eventPub,
		manager:  manager,
		started:  time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients: make(map[string]*wsClient),
	}
}

// BuildMux creates and caches the HTTP mux with all routes registered.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	s.mux = mux
	return mux
}

// Start listens until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := s.BuildMux()

	addr := fmt.Sprintf("%s:%d", s.cfg.Gateway.Host, s.cfg.Gateway.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: mux}

	slog.Info("gateway starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"ok"}`)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"uptime_seconds": int(time.Since(s.started).Seconds()),
		"dry_run":        s.cfg.DryRunEnabled(),
		"agora":          s.cfg.Agora.BaseURL,
	}
	if s.manager != nil {
		status["channels"] = s.manager.GetStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(status)
}

// handleWebSocket upgrades the connection and streams bridge events until
// the client goes away.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &wsClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan bus.Event, 64),
		done: make(chan struct{}),
	}
	s.registerClient(client)
	defer func() {
		s.unregisterClient(client)
		conn.Close()
	}()

	go client.writePump()

	// Drain reads so control frames are processed; the feed is one-way.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) registerClient(c *wsClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.id] = c

	s.eventPub.Subscribe(c.id, func(event bus.Event) {
		select {
		case c.send <- event:
		default:
			// Slow consumer, drop the event rather than stall the bridge.
		}
	})

	slog.Info("ops client connected", "id", c.id)
}

// unregisterClient stops the client's write pump via done instead of
// closing send: a broadcast that snapshotted the subscription before
// Unsubscribe may still write to send, and a closed channel would panic
// the dispatch consumer.
func (s *Server) unregisterClient(c *wsClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c.id)
	s.eventPub.Unsubscribe(c.id)
	close(c.done)
	slog.Info("ops client disconnected", "id", c.id)
}

type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan bus.Event
	done chan struct{}
}

func (c *wsClient) writePump() {
	for {
		select {
		case <-c.done:
			return
		case event := <-c.send:
			if err := c.conn.WriteJSON(event); err != nil {
				return
			}
		}
	}
}
