// Package websocket streams record-store changes to connected clients.
// Every change to the patient collection is broadcast as one JSON frame
// holding the full snapshot, mirroring what store listeners receive.
package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/wardflow/wardflow/internal/domain/patient"
)

const sendBuffer = 8

// Frame is one message pushed to clients.
type Frame struct {
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Patients  []patient.Patient `json:"patients"`
}

// Conn abstracts a WebSocket connection for testability.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

// Client is one connected consumer.
type Client struct {
	send chan []byte
	conn Conn
}

// Hub tracks connected clients. A slow client's buffer overflowing drops
// that client rather than blocking the broadcast.
type Hub struct {
	mu      sync.Mutex
	clients map[*Client]struct{}
	logger  zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{clients: make(map[*Client]struct{}), logger: logger}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast pushes a snapshot frame to every connected client. It is safe
// to call from the store's synchronous listener path: sends never block.
func (h *Hub) Broadcast(snapshot []patient.Patient) {
	frame := Frame{Type: "patients", Timestamp: time.Now(), Patients: snapshot}
	payload, err := json.Marshal(frame)
	if err != nil {
		h.logger.Error().Err(err).Msg("marshal broadcast frame")
		return
	}

	h.mu.Lock()
	var dropped []*Client
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			dropped = append(dropped, c)
		}
	}
	for _, c := range dropped {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()

	for _, c := range dropped {
		_ = c.conn.Close()
		h.logger.Warn().Msg("dropped slow websocket client")
	}
}

// Attach registers an already-upgraded connection and starts its pumps.
// Exposed separately from Handler so tests can attach fake connections.
func (h *Hub) Attach(conn Conn) *Client {
	client := &Client{send: make(chan []byte, sendBuffer), conn: conn}
	h.register(client)

	go h.writePump(client)
	go h.readPump(client)
	return client
}

func (h *Hub) writePump(c *Client) {
	for payload := range c.send {
		if err := c.conn.WriteMessage(gorillawebsocket.TextMessage, payload); err != nil {
			h.unregister(c)
			_ = c.conn.Close()
			return
		}
	}
}

// readPump exists to detect disconnects; inbound frames are ignored.
func (h *Hub) readPump(c *Client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.unregister(c)
			_ = c.conn.Close()
			return
		}
	}
}

var upgrader = gorillawebsocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Handler upgrades the request and attaches the connection to the hub.
func (h *Hub) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "websocket upgrade failed")
		}
		h.Attach(conn)
		return nil
	}
}
