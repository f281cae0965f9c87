package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zot/reactive/internal/config"
	"github.com/zot/reactive/internal/protocol"
	"github.com/zot/reactive/state"
)

func testServer(t *testing.T) (*Server, *state.Proxy) {
	t.Helper()
	cfg := config.DefaultConfig()
	store := state.NewStore()
	root, ok := store.WrapContainer(map[string]any{
		"count": 1,
		"users": []any{map[string]any{"name": "alice"}},
	})
	if !ok {
		t.Fatal("root did not wrap")
	}
	srv := NewServer(cfg, store, root)
	t.Cleanup(srv.endpoint.Close)
	return srv, root
}

// TestStateDump verifies GET /state returns the full tree.
func TestStateDump(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/state", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var decoded map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("bad JSON: %v", err)
	}
	if decoded["count"] != float64(1) {
		t.Errorf("expected count=1, got %v", decoded["count"])
	}
}

// TestStatePath verifies GET /state/<path> resolves sub-paths.
func TestStatePath(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/state/users.0.name", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != `"alice"` {
		t.Errorf("expected alice, got %s", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/state/nope", nil)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for missing path, got %d", rec.Code)
	}
}

// TestStateMethodNotAllowed verifies non-GET requests are rejected.
func TestStateMethodNotAllowed(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest(http.MethodPost, "/state", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
}

// readMessage reads the next protocol message from a websocket connection.
func readMessage(t *testing.T, conn *websocket.Conn) *protocol.Message {
	t.Helper()
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	return msg
}

// TestWebSocketRoundTrip verifies hello, a sync subscription, and a change
// push over a live connection.
func TestWebSocketRoundTrip(t *testing.T) {
	srv, root := testServer(t)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	hello := readMessage(t, conn)
	if hello.Type != protocol.MsgHello {
		t.Fatalf("expected hello, got %s", hello.Type)
	}
	var hm protocol.HelloMessage
	json.Unmarshal(hello.Data, &hm)
	if hm.ConnectionID == "" {
		t.Fatal("hello should carry a connection ID")
	}

	sub, _ := protocol.NewMessage(protocol.MsgSubscribe, protocol.SubscribeMessage{Path: "", Sync: true})
	data, _ := sub.Encode()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("subscribe write failed: %v", err)
	}

	// Let the subscription register before mutating.
	time.Sleep(50 * time.Millisecond)

	update, _ := protocol.NewMessage(protocol.MsgUpdate, protocol.UpdateMessage{
		Path:  "count",
		Value: json.RawMessage(`2`),
	})
	data, _ = update.Encode()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("update write failed: %v", err)
	}

	change := readMessage(t, conn)
	if change.Type != protocol.MsgChange {
		t.Fatalf("expected change, got %s", change.Type)
	}
	var cm protocol.ChangeMessage
	json.Unmarshal(change.Data, &cm)
	if len(cm.Changes) != 1 || cm.Changes[0].Path != "count" || cm.Changes[0].Op != "set" {
		t.Fatalf("unexpected change payload: %+v", cm.Changes)
	}
	if string(cm.Changes[0].Value) != "2" {
		t.Errorf("expected pushed value 2, got %s", cm.Changes[0].Value)
	}

	if v, _ := root.Get("count"); v != float64(2) {
		t.Errorf("expected count=2 after update, got %v", v)
	}
}
