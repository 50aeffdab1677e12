package bridge

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestHubBroadcastsInOrder(t *testing.T) {
	hub := NewHub("", "", 0, "")
	srv := httptest.NewServer(hub)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Give the server goroutine a moment to register the client before
	// the first Deliver, since ServeHTTP registers asynchronously from
	// the handshake's perspective of this test.
	time.Sleep(20 * time.Millisecond)

	want := [][]byte{[]byte(`{"seq":1}`), []byte(`{"seq":2}`), []byte(`{"seq":3}`)}
	for _, payload := range want {
		if err := hub.Deliver(payload); err != nil {
			t.Fatalf("Deliver: %v", err)
		}
	}

	for i, w := range want {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, got, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage %d: %v", i, err)
		}
		if string(got) != string(w) {
			t.Errorf("message %d = %s, want %s", i, got, w)
		}
	}
}

func TestHubCloseDisconnectsClients(t *testing.T) {
	hub := NewHub("", "", 0, "")
	srv := httptest.NewServer(hub)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	time.Sleep(20 * time.Millisecond)

	if err := hub.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Errorf("expected the connection to be closed after Hub.Close")
	}
}
