// Package dashboard exposes the engine to the device UI: a local HTTP API
// serving reads and writes against the last persisted local state, and a
// WebSocket feed broadcasting sync transitions so screens update without
// polling.
//
// Every response is rendered from the local store — never from in-flight
// network state — so the UI shows one row per property at all times, before,
// during and after identity confirmation.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/annk/fieldsync/internal/store"
	syncengine "github.com/annk/fieldsync/internal/sync"
)

// EventType identifies a feed message.
type EventType string

const (
	// EventRecordSubmitted fires when the UI submits a new check-in.
	EventRecordSubmitted EventType = "record_submitted"

	// EventRecordEdited fires on a local edit to an existing record.
	EventRecordEdited EventType = "record_edited"

	// EventRecordImported fires when the inbox importer stores a record.
	EventRecordImported EventType = "record_imported"

	// EventCycleComplete fires after every sync cycle, successful or not.
	EventCycleComplete EventType = "cycle_complete"
)

// Event is a feed message.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// CycleData is the payload of a cycle_complete event.
type CycleData struct {
	Push  syncengine.PushStats `json:"push"`
	Pull  syncengine.PullStats `json:"pull"`
	Error string               `json:"error,omitempty"`
}

// RecordData is the payload of the per-record events.
type RecordData struct {
	ID         string `json:"id"`
	Name       string `json:"name,omitempty"`
	SyncStatus string `json:"sync_status,omitempty"`
}

// SyncTrigger is the slice of the daemon the API needs: a synchronous
// manual cycle and a background nudge.
type SyncTrigger interface {
	SyncNow(ctx context.Context) (syncengine.PushStats, syncengine.PullStats, error)
	Kick()
}

// Server hosts the local API and the WebSocket feed.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server

	store   *store.Store
	trigger SyncTrigger

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// Config holds server configuration.
type Config struct {
	// Port to listen on (default: 8719).
	Port int

	// Logger for server activity (default: stderr logger).
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:   8719,
		Logger: log.Default(),
	}
}

// NewServer creates the local API server. trigger may be nil when no
// daemon is running; sync endpoints then report 503.
func NewServer(st *store.Store, trigger SyncTrigger, config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:      fmt.Sprintf(":%d", config.Port),
		store:     st,
		trigger:   trigger,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Event, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    config.Logger,
	}
}

// Start begins serving. Non-blocking.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:      s.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Local API listening on %s", s.addr)
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	s.logger.Println("Stopping local API")

	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	s.wg.Wait()

	s.logger.Println("Local API stopped")
	return nil
}

// Broadcast sends an event to all connected feed clients. Never blocks;
// drops the event when the channel is full.
func (s *Server) Broadcast(event Event) {
	select {
	case s.broadcast <- event:
	case <-s.ctx.Done():
	default:
		s.logger.Println("Warning: broadcast channel full, dropping event")
	}
}

// BroadcastCycle publishes a cycle_complete event.
func (s *Server) BroadcastCycle(push syncengine.PushStats, pull syncengine.PullStats, err error) {
	data := CycleData{Push: push, Pull: pull}
	if err != nil {
		data.Error = err.Error()
	}
	payload, merr := json.Marshal(data)
	if merr != nil {
		return
	}
	s.Broadcast(Event{Type: EventCycleComplete, Timestamp: time.Now(), Data: payload})
}

// BroadcastRecord publishes one of the per-record events.
func (s *Server) BroadcastRecord(typ EventType, data RecordData) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	s.Broadcast(Event{Type: typ, Timestamp: time.Now(), Data: payload})
}

// broadcastLoop fans events out to all connected clients.
func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case event := <-s.broadcast:
			if event.Timestamp.IsZero() {
				event.Timestamp = time.Now()
			}

			data, err := json.Marshal(event)
			if err != nil {
				s.logger.Printf("Failed to marshal event: %v", err)
				continue
			}

			s.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.RUnlock()

			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()

				if err != nil {
					s.removeClient(conn)
				}
			}
		}
	}
}

// handleWebSocket upgrades HTTP connections to the event feed.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"}, // local device UI only
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Printf("Feed client connected (total: %d)", clientCount)

	go s.readLoop(conn)
}

// readLoop keeps the connection alive and detects disconnects. Client
// messages are ignored.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		_, _, err := conn.Read(s.ctx)
		if err != nil {
			return
		}
	}
}

// removeClient safely removes a client connection.
func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; exists {
		delete(s.clients, conn)
		clientCount := len(s.clients)
		s.clientsMu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Printf("Feed client disconnected (total: %d)", clientCount)
	} else {
		s.clientsMu.Unlock()
	}
}

// SetTrigger wires in the daemon after construction. The server is built
// first so the daemon's callbacks can point at it; call this before Start.
func (s *Server) SetTrigger(trigger SyncTrigger) {
	s.trigger = trigger
}

// GetAddr returns the server's listening address.
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of feed clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}
