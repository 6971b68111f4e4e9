// Package dashboard serves a WebSocket feed of local cache activity.
//
// Connected clients receive a message whenever cached data changes, and
// a /status endpoint exposes current counts for polling clients.
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

	"github.com/davidsansome/tsurukame/internal/notify"
	"github.com/davidsansome/tsurukame/internal/store"
)

// MessageType identifies what changed.
type MessageType string

const (
	// MessageTypeAvailable indicates lesson/review availability changed.
	MessageTypeAvailable MessageType = "available_items"

	// MessageTypePending indicates locally queued items changed.
	MessageTypePending MessageType = "pending_items"

	// MessageTypeUserInfo indicates user details changed.
	MessageTypeUserInfo MessageType = "user_info"

	// MessageTypeStageCounts indicates per-stage subject counts changed.
	MessageTypeStageCounts MessageType = "srs_stage_counts"

	// MessageTypeUnauthorized indicates the API rejected the token.
	MessageTypeUnauthorized MessageType = "unauthorized"
)

// Message is a dashboard broadcast.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Status is the payload of /status and of availability messages.
type Status struct {
	Lessons         int   `json:"lessons"`
	Reviews         int   `json:"reviews"`
	PendingProgress int   `json:"pending_progress"`
	PendingNotes    int   `json:"pending_notes"`
	StageCounts     []int `json:"stage_counts"`
	GuruKanji       int   `json:"guru_kanji"`
	SyncBusy        bool  `json:"sync_busy"`
}

// BusyFunc reports whether a sync is currently running.
type BusyFunc func() bool

// Config holds server settings.
type Config struct {
	// Addr is the listen address, e.g. "localhost:8642".
	Addr string

	// Logger for server activity. Nil means the default logger.
	Logger *log.Logger
}

// Server broadcasts cache change events to WebSocket clients.
type Server struct {
	addr     string
	db       *store.Store
	notifier *notify.Notifier
	busy     BusyFunc
	logger   *log.Logger

	listener net.Listener
	server   *http.Server
	events   chan notify.Event

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates a dashboard server fed by the given notifier.
func NewServer(db *store.Store, notifier *notify.Notifier, busy BusyFunc, cfg *Config) (*Server, error) {
	if db == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if notifier == nil {
		return nil, fmt.Errorf("notifier cannot be nil")
	}
	if cfg == nil || cfg.Addr == "" {
		return nil, fmt.Errorf("listen address is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:     cfg.Addr,
		db:       db,
		notifier: notifier,
		busy:     busy,
		logger:   logger,
		clients:  make(map[*websocket.Conn]bool),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start begins listening and translating notifier events into
// broadcasts.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/", s.handleRoot)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.events = s.notifier.Subscribe()
	s.wg.Add(1)
	go s.eventLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Dashboard listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Dashboard server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	s.cancel()
	s.notifier.Unsubscribe(s.events)

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("dashboard shutdown: %w", err)
	}

	s.wg.Wait()
	return nil
}

// Addr returns the address the server is listening on.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected WebSocket clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

func (s *Server) eventLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case ev, ok := <-s.events:
			if !ok {
				return
			}
			s.broadcastEvent(ev)
		}
	}
}

func (s *Server) broadcastEvent(ev notify.Event) {
	msg := Message{Timestamp: time.Now()}

	switch ev {
	case notify.EventAvailableItemsChanged:
		msg.Type = MessageTypeAvailable
		msg.Data = s.statusJSON()
	case notify.EventPendingItemsChanged:
		msg.Type = MessageTypePending
		msg.Data = s.statusJSON()
	case notify.EventUserInfoChanged:
		msg.Type = MessageTypeUserInfo
	case notify.EventSRSStageCountsChanged:
		msg.Type = MessageTypeStageCounts
		msg.Data = s.statusJSON()
	case notify.EventUnauthorized:
		msg.Type = MessageTypeUnauthorized
	default:
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Printf("Failed to marshal message: %v", err)
		return
	}

	s.clientsMu.RLock()
	clients := make([]*websocket.Conn, 0, len(s.clients))
	for conn := range s.clients {
		clients = append(clients, conn)
	}
	s.clientsMu.RUnlock()

	for _, conn := range clients {
		ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
		err := conn.Write(ctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			s.removeClient(conn)
		}
	}
}

func (s *Server) status() *Status {
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()

	st := &Status{}
	if s.busy != nil {
		st.SyncBusy = s.busy()
	}
	if counts, err := s.db.AvailableCounts(ctx, time.Now()); err == nil {
		st.Lessons = counts.Lessons
		st.Reviews = counts.Reviews
	}
	if n, err := s.db.PendingProgressCount(ctx); err == nil {
		st.PendingProgress = n
	}
	if n, err := s.db.PendingStudyMaterialCount(ctx); err == nil {
		st.PendingNotes = n
	}
	if stages, err := s.db.SRSStageCounts(ctx); err == nil {
		st.StageCounts = stages[:]
	}
	if n, err := s.db.GuruKanjiCount(ctx); err == nil {
		st.GuruKanji = n
	}
	return st
}

func (s *Server) statusJSON() json.RawMessage {
	data, err := json.Marshal(s.status())
	if err != nil {
		return nil
	}
	return data
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	clientCount := len(s.clients)
	s.clientsMu.Unlock()
	s.logger.Printf("Dashboard client connected (total: %d)", clientCount)

	// Initial snapshot so clients render without waiting for a change.
	welcome := Message{
		Type:      MessageTypeAvailable,
		Timestamp: time.Now(),
		Data:      s.statusJSON(),
	}
	if data, err := json.Marshal(welcome); err == nil {
		ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
		_ = conn.Write(ctx, websocket.MessageText, data)
		cancel()
	}

	go s.readLoop(conn)
}

// readLoop drains client frames so pings are answered and disconnects
// are noticed.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; exists {
		delete(s.clients, conn)
		clientCount := len(s.clients)
		s.clientsMu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Printf("Dashboard client disconnected (total: %d)", clientCount)
		return
	}
	s.clientsMu.Unlock()
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.status())
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>Tsurukame</title>
</head>
<body>
    <h1>Tsurukame Sync Daemon</h1>
    <p>WebSocket endpoint: <code>ws://%s/ws</code></p>
    <p>Status: <a href="/status">/status</a></p>
</body>
</html>`, r.Host)
}
