// Package client provides a Go client library for the devtools protocol.
// It speaks the same JSON wire format as internal/server but is standalone
// so embedding programs can import it without the server stack.
package client

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Message is the wire envelope.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Change is one entry of a change notification.
type Change struct {
	Path  string          `json:"path"`
	Op    string          `json:"op"` // "set", "delete", "resize"
	Value json.RawMessage `json:"value,omitempty"`
}

// frame covers everything the server can send: typed messages (hello,
// change, error) and request responses (result/error).
type frame struct {
	Type   string          `json:"type"`
	Data   json.RawMessage `json:"data"`
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

type helloData struct {
	ConnectionID string `json:"connectionId"`
	Version      string `json:"version"`
}

type snapshotData struct {
	Path    string          `json:"path"`
	Value   json.RawMessage `json:"value"`
	Version uint64          `json:"version"`
}

type changeData struct {
	Changes []Change `json:"changes"`
}

type errorData struct {
	Path        string `json:"path"`
	Code        string `json:"code"`
	Description string `json:"description"`
}

// Snapshot is the result of a snapshot request.
type Snapshot struct {
	Path    string
	Value   json.RawMessage
	Version uint64
}

// ResponseTimeout bounds how long request methods wait for the server.
var ResponseTimeout = 5 * time.Second

// Connection is a client connection to a devtools server.
type Connection struct {
	conn         *websocket.Conn
	connectionID string
	connected    bool

	onChange func([]Change)
	onError  func(path, code, description string)
	onClose  func()

	responses chan *frame

	mu        sync.RWMutex
	writeMu   sync.Mutex
	requestMu sync.Mutex
}

// NewConnection creates an unconnected client.
func NewConnection() *Connection {
	return &Connection{
		responses: make(chan *frame, 1),
	}
}

// Connect dials the server websocket endpoint, e.g. ws://127.0.0.1:9180/ws.
// It blocks until the server's hello arrives.
func (c *Connection) Connect(url string) error {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	// The hello frame is always first.
	_, data, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to read hello: %w", err)
	}
	var f frame
	if err := json.Unmarshal(data, &f); err != nil || f.Type != "hello" {
		conn.Close()
		return fmt.Errorf("unexpected first message")
	}
	var hello helloData
	if err := json.Unmarshal(f.Data, &hello); err != nil {
		conn.Close()
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.connectionID = hello.ConnectionID
	c.connected = true
	c.mu.Unlock()

	go c.readLoop(conn)
	return nil
}

// Disconnect closes the connection.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil
	}
	c.connected = false
	return c.conn.Close()
}

// IsConnected returns the connection state.
func (c *Connection) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// ConnectionID returns the server-assigned connection ID.
func (c *Connection) ConnectionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connectionID
}

// OnChange registers a callback for change notifications. Register before
// subscribing or notifications may be dropped.
func (c *Connection) OnChange(fn func([]Change)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = fn
}

// OnError registers a callback for server error messages.
func (c *Connection) OnError(fn func(path, code, description string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = fn
}

// OnClose registers a callback for connection close.
func (c *Connection) OnClose(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = fn
}

// readLoop dispatches incoming frames until the connection closes.
func (c *Connection) readLoop(conn *websocket.Conn) {
	defer func() {
		c.mu.Lock()
		c.connected = false
		onClose := c.onClose
		c.mu.Unlock()
		if onClose != nil {
			onClose()
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if len(data) == 0 {
			continue
		}
		if data[0] == '[' {
			var frames []frame
			if err := json.Unmarshal(data, &frames); err != nil {
				continue
			}
			for i := range frames {
				c.dispatch(&frames[i])
			}
			continue
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		c.dispatch(&f)
	}
}

// dispatch routes one frame. Frames without a type are request responses.
func (c *Connection) dispatch(f *frame) {
	switch f.Type {
	case "":
		select {
		case c.responses <- f:
		default:
		}
	case "change":
		var d changeData
		if err := json.Unmarshal(f.Data, &d); err != nil {
			return
		}
		c.mu.RLock()
		fn := c.onChange
		c.mu.RUnlock()
		if fn != nil {
			fn(d.Changes)
		}
	case "error":
		var d errorData
		if err := json.Unmarshal(f.Data, &d); err != nil {
			return
		}
		c.mu.RLock()
		fn := c.onError
		c.mu.RUnlock()
		if fn != nil {
			fn(d.Path, d.Code, d.Description)
		}
	}
}

// send writes one message to the server.
func (c *Connection) send(msgType string, data interface{}) error {
	if !c.IsConnected() {
		return fmt.Errorf("not connected")
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(Message{Type: msgType, Data: raw})
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, encoded)
}

// request sends a message and waits for the server's response frame.
// Requests are serialized; the protocol carries no request IDs.
func (c *Connection) request(msgType string, data interface{}) (*frame, error) {
	c.requestMu.Lock()
	defer c.requestMu.Unlock()

	// Drain any stale response
	select {
	case <-c.responses:
	default:
	}

	if err := c.send(msgType, data); err != nil {
		return nil, err
	}

	select {
	case f := <-c.responses:
		if f.Error != "" {
			return nil, fmt.Errorf("%s", f.Error)
		}
		return f, nil
	case <-time.After(ResponseTimeout):
		return nil, fmt.Errorf("timed out waiting for %s response", msgType)
	}
}

// Snapshot retrieves the current value at path. An empty path means the
// whole tree.
func (c *Connection) Snapshot(path string) (*Snapshot, error) {
	f, err := c.request("snapshot", map[string]string{"path": path})
	if err != nil {
		return nil, err
	}
	var d snapshotData
	if err := json.Unmarshal(f.Result, &d); err != nil {
		return nil, err
	}
	return &Snapshot{Path: d.Path, Value: d.Value, Version: d.Version}, nil
}

// Subscribe requests change notifications for the container at path.
// With sync, the server pushes per mutation instead of coalescing.
func (c *Connection) Subscribe(path string, sync bool) error {
	return c.send("subscribe", map[string]interface{}{"path": path, "sync": sync})
}

// Unsubscribe cancels a subscription.
func (c *Connection) Unsubscribe(path string) error {
	return c.send("unsubscribe", map[string]string{"path": path})
}

// Update writes a value at path. The value must be JSON-encodable.
func (c *Connection) Update(path string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.send("update", map[string]interface{}{"path": path, "value": json.RawMessage(raw)})
}

// Delete removes the value at path.
func (c *Connection) Delete(path string) error {
	return c.send("delete", map[string]string{"path": path})
}
