// Package hub fans state-change notifications out to websocket subscribers
// grouped by event. Event isolation is a hard boundary: a message addressed
// to one event is never delivered to a socket joined to another.
package hub

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"gather/internal/config"
	"gather/internal/logging"
)

// Authenticator verifies the credentials presented on a new connection. The
// returned subject is an opaque identity used only for logging.
type Authenticator interface {
	Authenticate(ctx context.Context, token, eventID string) (subject string, err error)
}

// AuthenticatorFunc adapts a function to the Authenticator interface.
type AuthenticatorFunc func(ctx context.Context, token, eventID string) (string, error)

// Authenticate implements Authenticator.
func (f AuthenticatorFunc) Authenticate(ctx context.Context, token, eventID string) (string, error) {
	return f(ctx, token, eventID)
}

// Hub owns the per-event subscriber rooms.
type Hub struct {
	auth         Authenticator
	logger       *slog.Logger
	limiter      *connectionLimiter
	authDeadline time.Duration
	bufferSize   int

	mu       sync.RWMutex
	rooms    map[string]map[*client]struct{}
	shutdown bool
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Browser clients connect from the event page; origin policy is
	// enforced upstream by the API gateway.
	CheckOrigin: func(*http.Request) bool { return true },
}

// New builds a hub using the configured limits.
func New(cfg *config.Config, auth Authenticator, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Hub{
		auth:         auth,
		logger:       logger.With(logging.String(logging.FieldComponent, "hub")),
		limiter:      newConnectionLimiter(cfg.Hub.ConnectionsPerWindow, time.Duration(cfg.Hub.WindowSeconds)*time.Second),
		authDeadline: time.Duration(cfg.Hub.AuthDeadlineSeconds) * time.Second,
		bufferSize:   cfg.Hub.OutboundBuffer,
		rooms:        make(map[string]map[*client]struct{}),
	}
}

// HandleWS upgrades an HTTP request into a hub connection. The socket joins
// no room until its authenticate frame is accepted.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	addr := remoteAddr(r)
	if !h.limiter.allow(addr) {
		h.logger.Warn("connection rate limited", logging.String("remote_addr", addr))
		http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
		return
	}

	h.mu.RLock()
	closed := h.shutdown
	h.mu.RUnlock()
	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", logging.Error(err))
		return
	}

	c := newClient(h, conn, addr)
	go c.writePump()
	go c.readPump()
}

// Publish delivers a message to every subscriber of its event room. Fan-out
// never blocks on a slow client: a subscriber whose outbound queue is full is
// disconnected instead of stalling the room.
func (h *Hub) Publish(msg Message) {
	if msg.EventID == "" {
		return
	}
	data, err := msg.encode()
	if err != nil {
		h.logger.Error("encode broadcast message", logging.Error(err), logging.String(logging.FieldEventType, string(msg.Type)))
		return
	}

	h.mu.RLock()
	room := h.rooms[msg.EventID]
	subscribers := make([]*client, 0, len(room))
	for c := range room {
		subscribers = append(subscribers, c)
	}
	h.mu.RUnlock()

	for _, c := range subscribers {
		if !c.send(data) {
			h.logger.Warn("dropping slow subscriber",
				logging.String(logging.FieldEventID, msg.EventID),
				logging.String("remote_addr", c.addr))
			c.close()
		}
	}
}

// SubscriberCount returns the number of sockets joined to an event room.
func (h *Hub) SubscriberCount(eventID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[eventID])
}

// Shutdown notifies every subscriber and then closes all sockets. New
// connections are refused once shutdown begins.
func (h *Hub) Shutdown(ctx context.Context) {
	h.mu.Lock()
	h.shutdown = true
	var all []*client
	for _, room := range h.rooms {
		for c := range room {
			all = append(all, c)
		}
	}
	h.mu.Unlock()

	notice, err := Message{Type: MessageServerShutdown}.encode()
	if err == nil {
		for _, c := range all {
			c.send(notice)
		}
	}

	// Give write pumps a moment to flush the notice.
	select {
	case <-ctx.Done():
	case <-time.After(250 * time.Millisecond):
	}

	for _, c := range all {
		c.close()
	}
	h.logger.Info("hub shut down", logging.Int("subscribers", len(all)))
}

func (h *Hub) join(eventID string, c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.shutdown {
		return false
	}
	room := h.rooms[eventID]
	if room == nil {
		room = make(map[*client]struct{})
		h.rooms[eventID] = room
	}
	room[c] = struct{}{}
	return true
}

func (h *Hub) leave(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.eventID == "" {
		return
	}
	room := h.rooms[c.eventID]
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, c.eventID)
	}
}

func remoteAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
