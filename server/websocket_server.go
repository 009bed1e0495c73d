package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"github.com/calliope-voice/calliope/audio"
	"github.com/calliope-voice/calliope/config"
	"github.com/calliope-voice/calliope/gemini"
	"github.com/calliope-voice/calliope/messages"
	"github.com/calliope-voice/calliope/session"
)

const (
	writeTimeout   = 10 * time.Second
	writeQueueSize = 64
)

// Server is the local UI bridge: it exposes the session controller and
// the text generator to a frontend over a WebSocket, and broadcasts
// controller events to every connected client.
type Server struct {
	httpServer *http.Server
	upgrader   websocket.Upgrader
	controller *session.Controller
	generator  *gemini.Generator
	history    *session.History
	config     *config.Config

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn      *websocket.Conn
	writeChan chan *messages.ServerMessage
	closeChan chan struct{}
	closeOnce sync.Once
}

func NewServer(cfg *config.Config, generator *gemini.Generator, history *session.History) *Server {
	s := &Server{
		generator: generator,
		history:   history,
		config:    cfg,
		clients:   make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:    16 * 1024,
			WriteBufferSize:   16 * 1024,
			EnableCompression: true,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				for _, allowed := range cfg.AllowedOrigins {
					if allowed == "*" || allowed == origin {
						return true
					}
				}
				return false
			},
		},
	}
	s.controller = session.NewController(cfg, history, s.broadcastEvent)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
	}

	return s
}

// Controller exposes the session controller for harnesses and tests.
func (s *Server) Controller() *session.Controller {
	return s.controller
}

// Start begins listening for connections
func (s *Server) Start() error {
	log.Printf("🚀 UI bridge starting on port %d", s.config.Port)
	log.Printf("📡 WebSocket endpoint: ws://localhost:%d/ws", s.config.Port)
	return s.httpServer.ListenAndServe()
}

// Shutdown stops the live session, then the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("🛑 Shutting down UI bridge...")
	_ = s.controller.Stop()

	s.mu.Lock()
	for c := range s.clients {
		c.close()
	}
	s.clients = make(map[*client]struct{})
	s.mu.Unlock()

	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	c := &client{
		conn:      conn,
		writeChan: make(chan *messages.ServerMessage, writeQueueSize),
		closeChan: make(chan struct{}),
	}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	log.Printf("✅ UI client connected: %s", conn.RemoteAddr())
	go c.writePump()
	c.queueMessage(messages.NewStatusMessage(s.controller.SessionID(), s.controller.State().String(), "Bridge connected"))

	s.readLoop(r.Context(), c)

	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	c.close()
	log.Printf("🔌 UI client disconnected: %s", conn.RemoteAddr())
}

func (s *Server) readLoop(ctx context.Context, c *client) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg messages.ClientMessage
		if err := sonic.Unmarshal(data, &msg); err != nil {
			c.queueMessage(messages.NewErrorMessage("", messages.ErrCodeInvalidMessage, "Invalid message format"))
			continue
		}

		switch msg.Type {
		case "control":
			s.handleControl(ctx, c, msg)
		case "prompt":
			s.handlePrompt(ctx, c, msg)
		case "history":
			s.handleHistory(ctx, c, msg)
		default:
			c.queueMessage(messages.NewErrorMessage("", messages.ErrCodeInvalidMessage, "Unknown message type: "+msg.Type))
		}
	}
}

func (s *Server) handleControl(ctx context.Context, c *client, msg messages.ClientMessage) {
	var payload messages.ControlPayload
	if err := sonic.Unmarshal(msg.Payload, &payload); err != nil {
		c.queueMessage(messages.NewErrorMessage("", messages.ErrCodeInvalidMessage, "Invalid control payload"))
		return
	}

	switch payload.Action {
	case "start":
		// Start dials the remote model; keep the read loop responsive.
		go func() {
			if err := s.controller.Start(context.WithoutCancel(ctx)); err != nil {
				if errors.Is(err, session.ErrSessionActive) {
					c.queueMessage(messages.NewStatusMessage(s.controller.SessionID(), "listening", "Session already running"))
					return
				}
				c.queueMessage(messages.NewErrorMessage("", errorCode(err), err.Error()))
			}
		}()
	case "stop":
		go func() { _ = s.controller.Stop() }()
	case "ping":
		c.queueMessage(messages.NewStatusMessage(s.controller.SessionID(), "pong", ""))
	default:
		c.queueMessage(messages.NewErrorMessage("", messages.ErrCodeInvalidMessage, "Unknown control action: "+payload.Action))
	}
}

func (s *Server) handlePrompt(ctx context.Context, c *client, msg messages.ClientMessage) {
	var payload messages.PromptPayload
	if err := sonic.Unmarshal(msg.Payload, &payload); err != nil || payload.Prompt == "" {
		c.queueMessage(messages.NewErrorMessage("", messages.ErrCodeInvalidMessage, "Invalid prompt payload"))
		return
	}

	go func() {
		result, err := s.generator.Generate(context.WithoutCancel(ctx), gemini.GenerateRequest{
			Prompt:            payload.Prompt,
			SystemInstruction: s.config.SystemInstruction,
			WebGrounding:      payload.WebGrounding,
		})
		if err != nil {
			c.queueMessage(messages.NewErrorMessage("", messages.ErrCodePromptFailed, err.Error()))
			return
		}
		links := make([]messages.SourceLinkPayload, 0, len(result.SourceLinks))
		for _, l := range result.SourceLinks {
			links = append(links, messages.SourceLinkPayload{Title: l.Title, URL: l.URL})
		}
		c.queueMessage(messages.NewPromptResultMessage(result.Text, links))
	}()
}

func (s *Server) handleHistory(ctx context.Context, c *client, msg messages.ClientMessage) {
	var payload messages.HistoryRequestPayload
	if err := sonic.Unmarshal(msg.Payload, &payload); err != nil || payload.SessionID == "" {
		c.queueMessage(messages.NewErrorMessage("", messages.ErrCodeInvalidMessage, "Invalid history payload"))
		return
	}

	entries, err := s.history.Load(ctx, payload.SessionID)
	if err != nil {
		c.queueMessage(messages.NewErrorMessage("", messages.ErrCodeSessionFailed, err.Error()))
		return
	}
	out := make([]messages.TranscriptPayload, 0, len(entries))
	for _, e := range entries {
		out = append(out, messages.TranscriptPayload{Speaker: string(e.Speaker), Text: e.Text})
	}
	c.queueMessage(messages.NewHistoryMessage(payload.SessionID, out))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","session":%q}`, s.controller.State().String())
}

// broadcastEvent translates a controller event into the wire protocol
// and fans it out to every connected client.
func (s *Server) broadcastEvent(ev session.Event) {
	var msg *messages.ServerMessage
	sessionID := s.controller.SessionID()

	switch ev.Kind {
	case session.EventStatus:
		msg = messages.NewStatusMessage(sessionID, ev.Status, ev.Message)
	case session.EventTranscript:
		if ev.Entry == nil {
			return
		}
		msg = messages.NewTranscriptMessage(sessionID, string(ev.Entry.Speaker), ev.Entry.Text)
	case session.EventError:
		msg = messages.NewErrorMessage(sessionID, errorCode(ev.Err), ev.Err.Error())
	default:
		return
	}

	s.mu.Lock()
	for c := range s.clients {
		c.queueMessage(msg)
	}
	s.mu.Unlock()
}

// errorCode maps a session failure onto a wire-level error code.
func errorCode(err error) string {
	var credErr *gemini.CredentialError
	var netErr *gemini.NetworkError
	switch {
	case errors.Is(err, audio.ErrPermissionDenied):
		return messages.ErrCodeMicDenied
	case errors.As(err, &credErr):
		return messages.ErrCodeCredential
	case errors.As(err, &netErr):
		return messages.ErrCodeNetwork
	default:
		return messages.ErrCodeSessionFailed
	}
}

// writePump handles all outgoing messages for one client in a single
// goroutine.
func (c *client) writePump() {
	defer func() {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		c.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		c.conn.Close()
	}()

	for {
		select {
		case <-c.closeChan:
			return
		case msg, ok := <-c.writeChan:
			if !ok {
				return
			}
			if err := c.writeMessage(msg); err != nil {
				return
			}

			n := len(c.writeChan)
			for i := 0; i < n; i++ {
				select {
				case msg, ok := <-c.writeChan:
					if !ok {
						return
					}
					if err := c.writeMessage(msg); err != nil {
						return
					}
				default:
				}
			}
		}
	}
}

func (c *client) writeMessage(msg *messages.ServerMessage) error {
	data, err := sonic.Marshal(msg)
	if err != nil {
		return err
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// queueMessage adds a message to the write queue (non-blocking)
func (c *client) queueMessage(msg *messages.ServerMessage) {
	select {
	case <-c.closeChan:
	case c.writeChan <- msg:
	default:
		// Queue full, drop message
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.closeChan)
	})
}
