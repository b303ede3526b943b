package api

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/coderally/coderally/internal/monitoring"
	"github.com/coderally/coderally/internal/session"
)

// envelope is the framed JSON message format in both directions.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

func marshalMessage(msgType string, data any) ([]byte, error) {
	var raw json.RawMessage
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		raw = encoded
	}
	return json.Marshal(envelope{Type: msgType, Data: raw})
}

const sendQueueSize = 64

// client is one websocket connection. The write pump owns the socket for
// writes; everything else enqueues onto send.
type client struct {
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}

	playerID string
	lobbyID  string

	mu        sync.Mutex
	sessionID string
	engine    *session.Engine
	lastPong  time.Time
	closed    bool
}

func newClient(conn *websocket.Conn, playerID, lobbyID string) *client {
	return &client{
		ws:       conn,
		send:     make(chan []byte, sendQueueSize),
		done:     make(chan struct{}),
		playerID: playerID,
		lobbyID:  lobbyID,
		lastPong: time.Now(),
	}
}

// attach binds the client to a live session.
func (c *client) attach(sessionID string, e *session.Engine) {
	c.mu.Lock()
	c.sessionID = sessionID
	c.engine = e
	c.mu.Unlock()
}

func (c *client) attached() (string, *session.Engine) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID, c.engine
}

func (c *client) markPong() {
	c.mu.Lock()
	c.lastPong = time.Now()
	c.mu.Unlock()
}

func (c *client) pongAge() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastPong)
}

// sendMessage enqueues a framed message. A full queue counts as a dead
// consumer and closes the connection.
func (c *client) sendMessage(msgType string, data any) error {
	payload, err := marshalMessage(msgType, data)
	if err != nil {
		return err
	}
	return c.enqueue(payload)
}

func (c *client) sendError(msg string) {
	if err := c.sendMessage("error", map[string]string{"message": msg}); err != nil {
		monitoring.Logf("failed to send error to %s: %v", c.playerID, err)
	}
}

func (c *client) enqueue(payload []byte) error {
	select {
	case <-c.done:
		return errConnClosed
	default:
	}

	select {
	case c.send <- payload:
		return nil
	default:
		c.Close()
		return errSendQueueFull
	}
}

// SendSnapshot implements session.Conn for the broadcaster.
func (c *client) SendSnapshot(snap *session.Snapshot) error {
	payload, err := marshalMessage("game_state", snap)
	if err != nil {
		return err
	}
	return c.enqueue(payload)
}

// Close implements session.Conn. Safe to call more than once.
func (c *client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.done)
	return c.ws.Close()
}

// failClose writes an error frame directly and closes. Only valid before
// the write pump starts; after that the pump owns the socket.
func (c *client) failClose(msg string) {
	if payload, err := marshalMessage("error", map[string]string{"message": msg}); err == nil {
		c.ws.WriteMessage(websocket.TextMessage, payload)
	}
	deadline := time.Now().Add(time.Second)
	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, msg), deadline)
	c.Close()
}

// writePump drains the send queue onto the socket.
func (c *client) writePump() {
	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.Close()
				return
			}
		}
	}
}

// heartbeat pings at the configured interval and closes the connection if
// the client stops answering.
func (c *client) heartbeat(pingInterval, pongTimeout time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if c.pongAge() > pingInterval+pongTimeout {
				monitoring.Logf("client %s missed heartbeat, closing", c.playerID)
				deadline := time.Now().Add(time.Second)
				c.ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "heartbeat timeout"),
					deadline)
				c.Close()
				return
			}
			if err := c.sendMessage("ping", nil); err != nil {
				return
			}
		}
	}
}
