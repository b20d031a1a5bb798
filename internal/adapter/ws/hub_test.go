package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
)

type scopedPayload struct {
	RepoFullName string `json:"repo_full_name"`
	Status       string `json:"status"`
}

func (p scopedPayload) Repo() string { return p.RepoFullName }

func TestNewHub(t *testing.T) {
	hub := NewHub()
	if hub.ConnectionCount() != 0 {
		t.Fatalf("expected 0 connections, got %d", hub.ConnectionCount())
	}
}

func TestHubBroadcastNoConnections(t *testing.T) {
	hub := NewHub()

	// Broadcast with no connections should not panic.
	hub.Broadcast(context.Background(), "", Message{Type: "test", Payload: []byte(`{"key":"value"}`)})
}

func TestHubBroadcastEventMarshalError(t *testing.T) {
	hub := NewHub()

	// A channel cannot be marshaled to JSON; logged, not panicked.
	hub.BroadcastEvent(context.Background(), "bad", make(chan int))
}

func TestHubRemoveNonexistent(t *testing.T) {
	hub := NewHub()
	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub.remove(&conn{cancel: cancel})
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	c, _, err := websocket.Dial(t.Context(), url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.CloseNow() })
	return c
}

func waitConnections(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ConnectionCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("connections = %d, want %d", hub.ConnectionCount(), n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHubDeliversScopedEvents(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)
	t.Cleanup(hub.Close)

	all := dial(t, srv, "")
	api := dial(t, srv, "?repo=acme/api")
	web := dial(t, srv, "?repo=acme/web")
	waitConnections(t, hub, 3)

	hub.BroadcastEvent(t.Context(), EventEvaluationCompleted, scopedPayload{RepoFullName: "acme/api", Status: "COMPLIANT"})

	for name, c := range map[string]*websocket.Conn{"all": all, "api": api} {
		ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
		_, data, err := c.Read(ctx)
		cancel()
		if err != nil {
			t.Fatalf("%s: read: %v", name, err)
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatal(err)
		}
		if msg.Type != EventEvaluationCompleted || !strings.Contains(string(msg.Payload), "COMPLIANT") {
			t.Errorf("%s: unexpected message %s", name, data)
		}
	}

	ctx, cancel := context.WithTimeout(t.Context(), 100*time.Millisecond)
	defer cancel()
	if _, _, err := web.Read(ctx); err == nil {
		t.Error("client scoped to another repository received the event")
	}
}
