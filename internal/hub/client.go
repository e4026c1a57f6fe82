package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"gather/internal/logging"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = (pongWait * 9) / 10
	maxFrameSize = 4096
)

// client is one websocket subscriber. It joins a room only after its
// authenticate frame is accepted; until then it receives no event traffic.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	addr string

	outbound chan []byte

	mu            sync.Mutex
	closed        bool
	authenticated bool
	eventID       string
	subject       string
}

func newClient(h *Hub, conn *websocket.Conn, addr string) *client {
	return &client{
		hub:      h,
		conn:     conn,
		addr:     addr,
		outbound: make(chan []byte, h.bufferSize),
	}
}

// send queues a frame without blocking. Returns false when the queue is full
// or the client is closed. The queue is closed under the same lock, so a send
// can never race a close.
func (c *client) send(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.outbound <- data:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.outbound)
	c.mu.Unlock()

	_ = c.conn.Close()
	c.hub.leave(c)
}

// readPump drives the connection. The first frame must authenticate within
// the deadline; afterwards inbound frames only keep the connection alive.
func (c *client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.hub.authDeadline))

	if !c.authenticate() {
		return
	}

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}

func (c *client) authenticate() bool {
	_, raw, err := c.conn.ReadMessage()
	if err != nil {
		return false
	}

	var req authRequest
	if err := json.Unmarshal(raw, &req); err != nil || req.Type != "authenticate" || req.EventID == "" {
		c.deny("malformed authenticate frame")
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.hub.authDeadline)
	defer cancel()
	subject, err := c.hub.auth.Authenticate(ctx, req.Token, req.EventID)
	if err != nil {
		c.hub.logger.Warn("subscriber denied",
			logging.String(logging.FieldEventID, req.EventID),
			logging.String("remote_addr", c.addr),
			logging.Error(err))
		c.deny("authentication failed")
		return false
	}

	if !c.hub.join(req.EventID, c) {
		c.deny("shutting down")
		return false
	}

	c.mu.Lock()
	c.authenticated = true
	c.eventID = req.EventID
	c.subject = subject
	c.mu.Unlock()

	if reply, err := (Message{Type: messageAuthenticated, EventID: req.EventID}).encode(); err == nil {
		c.send(reply)
	}
	c.hub.logger.Debug("subscriber joined",
		logging.String(logging.FieldEventID, req.EventID),
		logging.String("subject", subject))
	return true
}

func (c *client) deny(reason string) {
	if reply, err := (Message{Type: messageDenied, Payload: reason}).encode(); err == nil {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = c.conn.WriteMessage(websocket.TextMessage, reply)
	}
}

// writePump drains the outbound queue onto the socket and keeps the
// connection alive with pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case data, ok := <-c.outbound:
			if !ok {
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
