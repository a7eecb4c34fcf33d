package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/brandonphelps/rusty-pellets/internal/can"
	"github.com/brandonphelps/rusty-pellets/internal/model"
	"github.com/brandonphelps/rusty-pellets/internal/servo"
	"github.com/brandonphelps/rusty-pellets/internal/session"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 8192

	// DefaultTickPeriod is the nominal actuation and broadcast period.
	DefaultTickPeriod = 100 * time.Millisecond

	// DefaultQueueSize bounds the client messages waiting for a tick.
	DefaultQueueSize = 32
)

// ErrShuttingDown is returned for connections that arrive after Shutdown.
var ErrShuttingDown = errors.New("server shutting down")

// Config holds the session loop settings.
type Config struct {
	TickPeriod     time.Duration
	QueueSize      int
	WriteTimeout   time.Duration
	AllowedOrigins []string
}

func (c Config) withDefaults() Config {
	if c.TickPeriod <= 0 {
		c.TickPeriod = DefaultTickPeriod
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = writeWait
	}
	return c
}

// Handler upgrades client connections and runs one session loop per
// connection.
type Handler struct {
	broker   *session.Broker
	config   Config
	upgrader websocket.Upgrader

	mu       sync.Mutex
	closed   bool
	wg       sync.WaitGroup
	shutdown chan struct{}
}

// NewHandler creates a new WebSocket handler.
func NewHandler(broker *session.Broker, config Config) *Handler {
	config = config.withDefaults()
	return &Handler{
		broker: broker,
		config: config,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: config.WriteTimeout,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			CheckOrigin:      originChecker(config.AllowedOrigins),
		},
		shutdown: make(chan struct{}),
	}
}

// originChecker allows every origin when allowed is empty. Requests without
// an Origin header come from non-browser clients and are always allowed.
func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// HandleConnection claims the bridge, upgrades the connection and starts
// the session loop. When another session is active it responds with
// 409 Conflict and returns model.ErrSessionActive.
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return ErrShuttingDown
	}
	h.wg.Add(1)
	h.mu.Unlock()

	s, ok := h.broker.TryBegin(r.Context(), r.RemoteAddr)
	if !ok {
		h.wg.Done()
		http.Error(w, "session already active", http.StatusConflict)
		return model.ErrSessionActive
	}

	// The upgrader has already written an error response on failure.
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.broker.End(context.Background(), model.ReasonUpgradeFailed)
		h.wg.Done()
		return err
	}

	log.Printf("Session %s started for %s", s.ID, s.RemoteAddr)

	go func() {
		defer h.wg.Done()
		h.run(conn)
	}()

	return nil
}

// run owns conn until the session terminates.
func (h *Handler) run(conn *websocket.Conn) {
	queue := make(chan []byte, h.config.QueueSize)
	done := make(chan struct{})
	ingressDone := make(chan struct{})

	go func() {
		defer close(ingressDone)
		h.readPump(conn, queue, done)
	}()

	reason := h.tickLoop(conn, queue)

	close(done)
	h.broker.End(context.Background(), reason)
	conn.Close()
	<-ingressDone
}

// readPump forwards text messages into queue. It closes queue when the
// connection's receive side fails, and stops early when done is closed.
func (h *Handler) readPump(conn *websocket.Conn, queue chan<- []byte, done <-chan struct{}) {
	defer close(queue)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		mt, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}

		select {
		case queue <- message:
		case <-done:
			return
		}
	}
}

// tickLoop runs the fixed-rate session loop and returns why it stopped.
func (h *Handler) tickLoop(conn *websocket.Conn, queue <-chan []byte) model.EndReason {
	ticker := time.NewTicker(h.config.TickPeriod)
	defer ticker.Stop()
	pinger := time.NewTicker(pingPeriod)
	defer pinger.Stop()

	for {
		select {
		case <-h.shutdown:
			h.send(conn, ServerMessage{Type: MessageTypeDisconnect})
			return model.ReasonShutdown
		case <-pinger.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.config.WriteTimeout)); err != nil {
				log.Printf("Failed to ping client: %v", err)
				return model.ReasonSendFailed
			}
			continue
		case <-ticker.C:
		}

		states, err := h.broker.Tick()
		switch {
		case err == nil, errors.Is(err, servo.ErrInvalidMessage):
			if err != nil {
				log.Printf("Discarded telemetry: %v", err)
			}
			if err := h.send(conn, ServoStateMessage(states)); err != nil {
				log.Printf("Failed to send servo state: %v", err)
				return model.ReasonSendFailed
			}
		case errors.Is(err, can.ErrCom):
			log.Printf("Bus fault, skipping broadcast: %v", err)
		default:
			log.Printf("Tick failed: %v", err)
		}

		var data []byte
		select {
		case msg, ok := <-queue:
			if !ok {
				return model.ReasonClientGone
			}
			data = msg
		default:
			continue
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case MessageTypeServo:
			h.broker.Apply(msg.Input)
		case MessageTypeDisconnect:
			if err := h.send(conn, ServerMessage{Type: MessageTypeDisconnect}); err != nil {
				log.Printf("Failed to acknowledge disconnect: %v", err)
			}
			return model.ReasonClientDisconnect
		}
	}
}

// send writes msg as a single text frame within the write timeout.
func (h *Handler) send(conn *websocket.Conn, msg ServerMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Shutdown terminates every running session loop and waits for them to
// release the bridge.
func (h *Handler) Shutdown() {
	h.mu.Lock()
	if !h.closed {
		h.closed = true
		close(h.shutdown)
	}
	h.mu.Unlock()

	h.wg.Wait()
}
