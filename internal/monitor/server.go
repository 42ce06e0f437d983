// Package monitor is the local observation surface: a websocket endpoint
// that streams bus events to connected clients and accepts transcript
// submissions from them, plus health and metrics endpoints.
package monitor

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

	"voicebridge/internal/bus"
	"voicebridge/internal/metrics"
)

// Config configures the monitor server.
type Config struct {
	Port          int    // default 8099
	Path          string // websocket endpoint path; default /ws
	EnableMetrics bool   // expose /metrics
	Bus           *bus.Bus
	OnTranscript  func(text string)                // client-submitted transcripts
	OnAudio       func(data []byte, format string) // client-submitted audio clips
	Logger        *slog.Logger
}

// Server streams overlay events to websocket clients. Clients may also push
// interim transcripts (e.g. from a browser-side recognizer) or recorded audio
// clips back into the speech pipeline.
type Server struct {
	cfg    Config
	server *http.Server

	mu      sync.RWMutex
	clients map[string]*client
	started bool
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) send(msg wireMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// wireMessage is the JSON protocol on the monitor socket. Audio carries a
// base64-encoded clip; Format names its container extension ("ogg", "wav").
type wireMessage struct {
	Type      string    `json:"type"` // "event" | "transcript" | "audio" | "status"
	Kind      string    `json:"kind,omitempty"`
	Source    string    `json:"source,omitempty"`
	Text      string    `json:"text,omitempty"`
	Speaking  bool      `json:"speaking,omitempty"`
	Audio     []byte    `json:"audio,omitempty"`
	Format    string    `json:"format,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // local observation surface only
	},
}

func NewServer(cfg Config) *Server {
	if cfg.Port == 0 {
		cfg.Port = 8099
	}
	if cfg.Path == "" {
		cfg.Path = "/ws"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{
		cfg:     cfg,
		clients: make(map[string]*client),
	}
	if cfg.Bus != nil {
		cfg.Bus.On("*", func(ev bus.Event) {
			s.broadcast(wireMessage{
				Type:      "event",
				Kind:      ev.Kind,
				Source:    ev.Source,
				Text:      ev.Text,
				Speaking:  ev.Speaking,
				Timestamp: ev.Timestamp,
			})
		})
	}
	return s
}

// Handler returns the monitor's HTTP surface: the websocket endpoint,
// /healthz, and /metrics when enabled.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path, s.handleUpgrade)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","clients":%d}`, s.clientCount())
	})
	if s.cfg.EnableMetrics {
		mux.HandleFunc("/metrics", metrics.Default.Handler())
	}
	return mux
}

// Start serves until the context is cancelled. Events from the bus are
// forwarded to all connected clients.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("monitor already started")
	}
	s.started = true
	s.mu.Unlock()

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.cfg.Logger.Info("monitor server starting", "port", s.cfg.Port, "path", s.cfg.Path)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.closeAllClients()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.cfg.Logger.Error("websocket upgrade failed", "err", err)
		return
	}

	clientID := uuid.NewString()
	c := &client{conn: conn}
	s.mu.Lock()
	s.clients[clientID] = c
	s.mu.Unlock()
	metrics.MonitorClients.Inc()
	s.cfg.Logger.Info("monitor client connected", "client_id", clientID)

	if err := c.send(wireMessage{Type: "status", Text: "connected"}); err != nil {
		s.cfg.Logger.Debug("websocket write failed", "client_id", clientID, "err", err)
	}

	defer func() {
		s.mu.Lock()
		delete(s.clients, clientID)
		s.mu.Unlock()
		metrics.MonitorClients.Dec()
		conn.Close()
		s.cfg.Logger.Info("monitor client disconnected", "client_id", clientID)
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.cfg.Logger.Error("websocket read error", "err", err)
			}
			return
		}

		var msg wireMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			s.cfg.Logger.Warn("invalid monitor message", "err", err)
			continue
		}

		switch msg.Type {
		case "transcript":
			if s.cfg.OnTranscript != nil && msg.Text != "" {
				s.cfg.OnTranscript(msg.Text)
			}
		case "audio":
			if s.cfg.OnAudio != nil && len(msg.Audio) > 0 {
				s.cfg.OnAudio(msg.Audio, msg.Format)
			}
		default:
			s.cfg.Logger.Debug("unhandled monitor message", "type", msg.Type)
		}
	}
}

func (s *Server) broadcast(msg wireMessage) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, c := range s.clients {
		if err := c.send(msg); err != nil {
			s.cfg.Logger.Debug("websocket write failed", "client_id", id, "err", err)
		}
	}
}

func (s *Server) clientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) closeAllClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.clients {
		c.conn.Close()
		delete(s.clients, id)
	}
}
