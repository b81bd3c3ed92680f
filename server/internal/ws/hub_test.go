package ws_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"

	"github.com/obsidianstack/prioritymq/server/internal/store"
	wsHub "github.com/obsidianstack/prioritymq/server/internal/ws"
)

const testInterval = 20 * time.Millisecond

// --- helpers ----------------------------------------------------------------

func newStore(t *testing.T, ids ...string) *store.Store {
	t.Helper()
	st := store.New()
	for i, id := range ids {
		if err := st.Admit(id, 10, int64(i+1)); err != nil {
			t.Fatalf("Admit(%q): %v", id, err)
		}
	}
	return st
}

// startHub serves hub over httptest and runs its broadcast loop until the
// returned cancel is called or the test ends.
func startHub(t *testing.T, st *store.Store, checkOrigin func(string) bool) (wsURL string, hub *wsHub.Hub, cancel func()) {
	t.Helper()

	hub = wsHub.New(st, testInterval, checkOrigin)
	ctx, cancelFn := context.WithCancel(context.Background())

	srv := httptest.NewServer(hub)
	go hub.Run(ctx)

	t.Cleanup(func() {
		cancelFn()
		srv.Close()
	})

	wsURL = "ws" + strings.TrimPrefix(srv.URL, "http")
	return wsURL, hub, cancelFn
}

func dial(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) wsHub.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var m wsHub.Message
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal %s: %v", raw, err)
	}
	return m
}

// --- tests ------------------------------------------------------------------

func TestHub_Connect_ReceivesQueue(t *testing.T) {
	st := newStore(t, "a", "b")
	st.Admit("c", 90, 10) //nolint:errcheck
	wsURL, _, _ := startHub(t, st, nil)

	m := readMessage(t, dial(t, wsURL))
	if m.Event != "queue" {
		t.Errorf("event: got %q, want queue", m.Event)
	}
	if diff := cmp.Diff([]string{"c", "a", "b"}, m.Data.IDs); diff != "" {
		t.Errorf("ids (-want +got):\n%s", diff)
	}
	if m.Data.Depth != 3 {
		t.Errorf("depth: got %d, want 3", m.Data.Depth)
	}
	if m.Data.GeneratedAt == "" {
		t.Error("generated_at: missing")
	}
}

func TestHub_EmptyStore_EmptyIDs(t *testing.T) {
	wsURL, _, _ := startHub(t, newStore(t), nil)
	m := readMessage(t, dial(t, wsURL))
	if m.Data.IDs == nil || len(m.Data.IDs) != 0 {
		t.Errorf("ids: got %#v, want empty array", m.Data.IDs)
	}
}

func TestHub_BroadcastOnChange(t *testing.T) {
	st := newStore(t)
	wsURL, _, _ := startHub(t, st, nil)

	conn := dial(t, wsURL)
	readMessage(t, conn) // initial, empty

	if err := st.Admit("late", 5, 1); err != nil {
		t.Fatalf("Admit: %v", err)
	}

	m := readMessage(t, conn)
	if diff := cmp.Diff([]string{"late"}, m.Data.IDs); diff != "" {
		t.Errorf("ids (-want +got):\n%s", diff)
	}
}

func TestHub_NoBroadcastWhenUnchanged(t *testing.T) {
	wsURL, _, _ := startHub(t, newStore(t, "a"), nil)
	time.Sleep(3 * testInterval) // let a tick record the current queue

	conn := dial(t, wsURL)
	readMessage(t, conn)

	conn.SetReadDeadline(time.Now().Add(10 * testInterval))
	if _, raw, err := conn.ReadMessage(); err == nil {
		t.Errorf("unexpected broadcast for unchanged queue: %s", raw)
	}
}

func TestHub_CountClients(t *testing.T) {
	wsURL, hub, _ := startHub(t, newStore(t), nil)

	conns := make([]*websocket.Conn, 3)
	for i := range conns {
		conns[i] = dial(t, wsURL)
		readMessage(t, conns[i])
	}
	time.Sleep(10 * time.Millisecond)
	if n := hub.Count(); n != 3 {
		t.Errorf("Count: got %d, want 3", n)
	}

	conns[0].Close()
	time.Sleep(50 * time.Millisecond) // let readPump see the close
	if n := hub.Count(); n != 2 {
		t.Errorf("Count after disconnect: got %d, want 2", n)
	}
}

func TestHub_CancelContextClosesConnections(t *testing.T) {
	wsURL, hub, cancel := startHub(t, newStore(t), nil)

	conn := dial(t, wsURL)
	readMessage(t, conn)
	time.Sleep(10 * time.Millisecond)

	cancel()
	time.Sleep(50 * time.Millisecond)
	if n := hub.Count(); n != 0 {
		t.Errorf("Count after cancel: got %d, want 0", n)
	}
}

func TestHub_OriginCheck(t *testing.T) {
	allow := func(origin string) bool { return origin == "https://ok.example" }
	wsURL, _, _ := startHub(t, newStore(t), allow)

	hdr := http.Header{}
	hdr.Set("Origin", "https://bad.example")
	if _, resp, err := websocket.DefaultDialer.Dial(wsURL, hdr); err == nil {
		t.Fatal("dial with disallowed origin: want error")
	} else if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("disallowed origin: got %v, want 403", resp)
	}

	hdr.Set("Origin", "https://ok.example")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, hdr)
	if err != nil {
		t.Fatalf("dial with allowed origin: %v", err)
	}
	conn.Close()
}

func TestHub_NonWebSocketRequest_Returns400(t *testing.T) {
	hub := wsHub.New(newStore(t), testInterval, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", resp.StatusCode)
	}
}
