package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"gather/internal/testsupport"
)

func newTestHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	auth := AuthenticatorFunc(func(_ context.Context, token, eventID string) (string, error) {
		if token == "good-"+eventID {
			return "subject-" + eventID, nil
		}
		return "", errors.New("bad token")
	})
	h := New(cfg, auth, nil)

	server := httptest.NewServer(http.HandlerFunc(h.HandleWS))
	t.Cleanup(server.Close)
	return h, server
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func authenticate(t *testing.T, conn *websocket.Conn, token, eventID string) Message {
	t.Helper()

	frame := map[string]string{"type": "authenticate", "token": token, "event_id": eventID}
	if err := conn.WriteJSON(frame); err != nil {
		t.Fatalf("write authenticate: %v", err)
	}
	return readMessage(t, conn)
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	return msg
}

func TestAuthenticateBeforeJoin(t *testing.T) {
	h, server := newTestHub(t)

	conn := dial(t, server)
	reply := authenticate(t, conn, "good-event-1", "event-1")
	if reply.Type != messageAuthenticated {
		t.Fatalf("expected authenticated reply, got %#v", reply)
	}

	waitForSubscribers(t, h, "event-1", 1)

	h.Publish(Message{Type: MessageUploadProgress, EventID: "event-1", Payload: map[string]any{"job_id": "j1"}})
	msg := readMessage(t, conn)
	if msg.Type != MessageUploadProgress || msg.EventID != "event-1" {
		t.Fatalf("unexpected broadcast: %#v", msg)
	}
}

func TestDeniedConnectionReceivesNoTraffic(t *testing.T) {
	h, server := newTestHub(t)

	conn := dial(t, server)
	reply := authenticate(t, conn, "wrong", "event-1")
	if reply.Type != messageDenied {
		t.Fatalf("expected denied reply, got %#v", reply)
	}
	if got := h.SubscriberCount("event-1"); got != 0 {
		t.Fatalf("denied socket must not join, got %d subscribers", got)
	}
}

func TestEventIsolation(t *testing.T) {
	h, server := newTestHub(t)

	connA := dial(t, server)
	if reply := authenticate(t, connA, "good-event-a", "event-a"); reply.Type != messageAuthenticated {
		t.Fatalf("expected authenticated, got %#v", reply)
	}
	connB := dial(t, server)
	if reply := authenticate(t, connB, "good-event-b", "event-b"); reply.Type != messageAuthenticated {
		t.Fatalf("expected authenticated, got %#v", reply)
	}

	waitForSubscribers(t, h, "event-a", 1)
	waitForSubscribers(t, h, "event-b", 1)

	h.Publish(Message{Type: MessagePreviewReady, EventID: "event-a", Payload: "secret"})

	msg := readMessage(t, connA)
	if msg.Type != MessagePreviewReady || msg.EventID != "event-a" {
		t.Fatalf("unexpected message on event-a: %#v", msg)
	}

	_ = connB.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	if _, raw, err := connB.ReadMessage(); err == nil {
		t.Fatalf("event-b subscriber must receive nothing, got %s", raw)
	}
}

func TestShutdownNotifiesSubscribers(t *testing.T) {
	h, server := newTestHub(t)

	conn := dial(t, server)
	if reply := authenticate(t, conn, "good-event-1", "event-1"); reply.Type != messageAuthenticated {
		t.Fatalf("expected authenticated, got %#v", reply)
	}
	waitForSubscribers(t, h, "event-1", 1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Shutdown(context.Background())
	}()

	msg := readMessage(t, conn)
	if msg.Type != MessageServerShutdown {
		t.Fatalf("expected shutdown notice, got %#v", msg)
	}
	<-done

	if got := h.SubscriberCount("event-1"); got != 0 {
		t.Fatalf("expected empty room after shutdown, got %d", got)
	}
}

func TestConnectionLimiterRollingWindow(t *testing.T) {
	limiter := newConnectionLimiter(2, time.Minute)
	current := time.Unix(1000, 0)
	limiter.now = func() time.Time { return current }

	if !limiter.allow("1.2.3.4") || !limiter.allow("1.2.3.4") {
		t.Fatal("first attempts within limit must be allowed")
	}
	if limiter.allow("1.2.3.4") {
		t.Fatal("third attempt inside window must be refused")
	}
	if !limiter.allow("5.6.7.8") {
		t.Fatal("limit is per address")
	}

	current = current.Add(2 * time.Minute)
	if !limiter.allow("1.2.3.4") {
		t.Fatal("attempts outside the window must roll off")
	}

	limiter.sweep()
	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	if len(limiter.attempts["5.6.7.8"]) != 0 {
		t.Fatal("sweep must drop stale addresses")
	}
}

func TestConnectionLimiterPrunesStaleAddresses(t *testing.T) {
	limiter := newConnectionLimiter(2, time.Minute)
	current := time.Unix(1000, 0)
	limiter.now = func() time.Time { return current }

	for i := 0; i < 50; i++ {
		limiter.allow(fmt.Sprintf("10.0.0.%d", i))
	}

	// A single later attempt must be enough to drop every rolled-off address.
	current = current.Add(2 * time.Minute)
	limiter.allow("fresh")

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	if len(limiter.attempts) != 1 {
		t.Fatalf("expected only the fresh address tracked, got %d", len(limiter.attempts))
	}
}

func waitForSubscribers(t *testing.T, h *Hub, eventID string, want int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.SubscriberCount(eventID) == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("event %s never reached %d subscribers", eventID, want)
}
