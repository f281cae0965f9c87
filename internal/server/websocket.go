// Package server implements the devtools communication layer: a websocket
// endpoint for inspecting and mutating a tracked store, with per-connection
// path subscriptions.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zot/reactive/internal/config"
	"github.com/zot/reactive/internal/path"
	"github.com/zot/reactive/internal/protocol"
	"github.com/zot/reactive/state"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // devtools: allow all origins
	},
}

// connection is one websocket client. Writes go through writeMu because the
// executor and the batcher timer may push concurrently.
type connection struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// Endpoint handles websocket connections against one tracked store.
type Endpoint struct {
	config  *config.Config
	store   *state.Store
	root    *state.Proxy
	handler *protocol.Handler
	svc     ChanSvc
	batcher *OutgoingBatcher

	mu            sync.RWMutex
	connections   map[string]*connection
	subscriptions map[string]map[string]func() // connectionID -> path -> unsubscribe
}

// NewEndpoint creates a websocket endpoint for the store rooted at root.
// Message processing is serialized through one executor.
func NewEndpoint(cfg *config.Config, store *state.Store, root *state.Proxy) *Endpoint {
	ep := &Endpoint{
		config:        cfg,
		store:         store,
		root:          root,
		svc:           make(ChanSvc),
		connections:   make(map[string]*connection),
		subscriptions: make(map[string]map[string]func()),
	}
	ep.handler = protocol.NewHandler(root, ep, ep)
	ep.handler.SetVerbosity(cfg.Verbosity())
	ep.batcher = NewOutgoingBatcher(ep, cfg.Batch.Interval.Duration())
	RunSvc(ep.svc)
	return ep
}

// Log logs a message via the config.
func (ep *Endpoint) Log(level int, format string, args ...interface{}) {
	ep.config.Log(level, format, args...)
}

// Close stops the executor and flushes pending pushes.
func (ep *Endpoint) Close() {
	ep.batcher.FlushNow()
	close(ep.svc)
}

// Execute runs fn on the endpoint's executor, serialized with message
// processing.
func (ep *Endpoint) Execute(fn func() (interface{}, error)) (interface{}, error) {
	return SvcSync(ep.svc, fn)
}

// HandleWebSocket handles incoming websocket connections.
func (ep *Endpoint) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		ep.Log(0, "WebSocket upgrade failed: %v", err)
		return
	}

	connectionID := uuid.NewString()

	ep.mu.Lock()
	ep.connections[connectionID] = &connection{conn: conn}
	ep.mu.Unlock()

	ep.Log(1, "WebSocket connected: conn=%s", connectionID)

	hello, _ := protocol.NewMessage(protocol.MsgHello, protocol.HelloMessage{ConnectionID: connectionID})
	ep.Send(connectionID, hello)

	go ep.readPump(connectionID, conn)
}

// readPump reads messages from a websocket connection.
func (ep *Endpoint) readPump(connectionID string, conn *websocket.Conn) {
	defer func() {
		ep.onDisconnect(connectionID)
		conn.Close()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				ep.Log(0, "WebSocket error: %v", err)
			}
			break
		}

		// Queue message processing through the executor
		Svc(ep.svc, func() {
			ep.processMessage(connectionID, message)
		})
	}
}

// processMessage handles one or more messages within the executor.
func (ep *Endpoint) processMessage(connectionID string, message []byte) {
	defer func() {
		if r := recover(); r != nil {
			ep.Log(0, "PANIC in processMessage: %v", r)
			ep.handler.SendError(connectionID, "", "internal", fmt.Sprintf("internal error: %v", r))
		}
	}()

	msgs, err := protocol.ParseMessages(message)
	if err != nil {
		ep.Log(0, "Failed to parse message: %v", err)
		return
	}

	for _, msg := range msgs {
		resp, err := ep.handler.HandleMessage(connectionID, msg)
		if err != nil {
			ep.Log(0, "Failed to handle message: %v", err)
			ep.handler.SendError(connectionID, "", "bad-request", err.Error())
			continue
		}
		if resp != nil && (resp.Result != nil || resp.Error != "") {
			ep.sendResponse(connectionID, resp)
		}
	}
}

// Subscribe registers a path subscription for a connection, replacing any
// earlier subscription for the same path.
func (ep *Endpoint) Subscribe(connectionID, pathStr string, syncMode bool) error {
	parsed, err := path.Parse(pathStr)
	if err != nil {
		return err
	}
	v, ok := path.Resolve(ep.root, parsed)
	if !ok {
		return fmt.Errorf("path %q not found", pathStr)
	}
	node, ok := v.(*state.Proxy)
	if !ok {
		return fmt.Errorf("path %q is not a container", pathStr)
	}

	var opts []state.SubscribeOption
	if syncMode {
		opts = append(opts, state.Sync())
	}
	unsub := ep.store.Subscribe(node, func(changes []state.Change) {
		ep.pushChanges(connectionID, pathStr, node, changes, syncMode)
	}, opts...)

	ep.mu.Lock()
	subs := ep.subscriptions[connectionID]
	if subs == nil {
		subs = make(map[string]func())
		ep.subscriptions[connectionID] = subs
	}
	if old, ok := subs[pathStr]; ok {
		old()
	}
	subs[pathStr] = unsub
	ep.mu.Unlock()

	ep.Log(2, "Subscribed: conn=%s path=%q sync=%v", connectionID, pathStr, syncMode)
	return nil
}

// Unsubscribe cancels a path subscription for a connection.
func (ep *Endpoint) Unsubscribe(connectionID, pathStr string) error {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	subs := ep.subscriptions[connectionID]
	unsub, ok := subs[pathStr]
	if !ok {
		return fmt.Errorf("no subscription for path %q", pathStr)
	}
	unsub()
	delete(subs, pathStr)
	return nil
}

// pushChanges converts store changes into a change message for one
// connection. A batched callback may carry several edits to the same path;
// the change batcher keeps the latest per path in first-queue order. Sync
// subscriptions push immediately; batched ones go through the outgoing
// batcher.
func (ep *Endpoint) pushChanges(connectionID, pathStr string, node *state.Proxy, changes []state.Change, syncMode bool) {
	snap := node.Snapshot()
	cb := protocol.NewChangeBatcher()
	for _, c := range changes {
		full := strings.Join(c.Path, ".")
		if pathStr != "" {
			if full == "" {
				full = pathStr
			} else {
				full = pathStr + "." + full
			}
		}
		var value json.RawMessage
		if c.Op == state.OpSet {
			if v, ok := snap.Value(c.Path...); ok {
				value = encodeValue(v)
			}
		}
		cb.Queue(full, c.Op.String(), value)
	}

	msg := cb.Flush()
	if msg == nil {
		return
	}
	if syncMode {
		ep.Send(connectionID, msg)
		return
	}
	ep.batcher.Queue(msg, []string{connectionID})
}

// encodeValue renders a snapshot value as JSON for the wire.
func encodeValue(v any) json.RawMessage {
	if state.IsAbsent(v) {
		return json.RawMessage("null")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return data
}

// sendResponse sends a response to a connection.
func (ep *Endpoint) sendResponse(connectionID string, resp *protocol.Response) error {
	ep.mu.RLock()
	c, ok := ep.connections[connectionID]
	ep.mu.RUnlock()

	if !ok {
		return nil
	}

	if ep.config.Verbosity() >= 4 {
		if respJSON, err := json.Marshal(resp); err == nil {
			ep.Log(4, "[OUT] RESPONSE: to=%s data=%s", connectionID, respJSON)
		}
	} else {
		ep.Log(2, "[OUT] RESPONSE: to=%s", connectionID)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(resp)
}

// onDisconnect handles connection close: all of the connection's
// subscriptions are released.
func (ep *Endpoint) onDisconnect(connectionID string) {
	ep.mu.Lock()
	delete(ep.connections, connectionID)
	subs := ep.subscriptions[connectionID]
	delete(ep.subscriptions, connectionID)
	ep.mu.Unlock()

	for _, unsub := range subs {
		unsub()
	}

	ep.Log(1, "WebSocket disconnected: conn=%s", connectionID)
}

// Send sends a message to a specific connection.
func (ep *Endpoint) Send(connectionID string, msg *protocol.Message) error {
	ep.mu.RLock()
	c, ok := ep.connections[connectionID]
	ep.mu.RUnlock()

	if !ok {
		return nil
	}

	msgType := strings.ToUpper(string(msg.Type))
	if ep.config.Verbosity() >= 4 {
		ep.Log(4, "[OUT] %s: to=%s data=%s", msgType, connectionID, string(msg.Data))
	} else {
		ep.Log(2, "[OUT] %s: to=%s", msgType, connectionID)
	}

	data, err := msg.Encode()
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// SendBatch sends multiple messages as one JSON array.
func (ep *Endpoint) SendBatch(connectionID string, msgs []*protocol.Message) error {
	ep.mu.RLock()
	c, ok := ep.connections[connectionID]
	ep.mu.RUnlock()

	if !ok {
		return nil
	}

	data, err := json.Marshal(msgs)
	if err != nil {
		return err
	}

	ep.Log(2, "[OUT] BATCH(%d): to=%s", len(msgs), connectionID)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// IsConnected checks if a connection is active.
func (ep *Endpoint) IsConnected(connectionID string) bool {
	ep.mu.RLock()
	defer ep.mu.RUnlock()
	_, ok := ep.connections[connectionID]
	return ok
}
