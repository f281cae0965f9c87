package protocol

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/zot/reactive/internal/path"
	"github.com/zot/reactive/state"
)

// MessageSender is an interface for sending messages to a connection.
type MessageSender interface {
	Send(connectionID string, msg *Message) error
}

// Subscriptions manages per-connection path subscriptions.
type Subscriptions interface {
	Subscribe(connectionID, pathStr string, sync bool) error
	Unsubscribe(connectionID, pathStr string) error
}

// Handler processes protocol messages against a tracked store root.
type Handler struct {
	root      *state.Proxy
	subs      Subscriptions
	sender    MessageSender
	verbosity int
}

// NewHandler creates a new protocol handler.
func NewHandler(root *state.Proxy, subs Subscriptions, sender MessageSender) *Handler {
	return &Handler{
		root:   root,
		subs:   subs,
		sender: sender,
	}
}

// SetVerbosity sets the verbosity level for message logging.
func (h *Handler) SetVerbosity(level int) {
	h.verbosity = level
}

// HandleMessage processes an incoming protocol message.
func (h *Handler) HandleMessage(connectionID string, msg *Message) (*Response, error) {
	if h.verbosity >= 2 {
		log.Printf("[v2] Message: type=%s from=%s", msg.Type, connectionID)
	}

	switch msg.Type {
	case MsgSnapshot:
		return h.handleSnapshot(msg.Data)
	case MsgSubscribe:
		return h.handleSubscribe(connectionID, msg.Data)
	case MsgUnsubscribe:
		return h.handleUnsubscribe(connectionID, msg.Data)
	case MsgUpdate:
		return h.handleUpdate(msg.Data)
	case MsgDelete:
		return h.handleDelete(msg.Data)
	default:
		return nil, fmt.Errorf("unknown message type: %s", msg.Type)
	}
}

// handleSnapshot resolves a path and returns its current value.
func (h *Handler) handleSnapshot(data json.RawMessage) (*Response, error) {
	var msg SnapshotMessage
	if data != nil {
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, err
		}
	}

	p, err := path.Parse(msg.Path)
	if err != nil {
		return &Response{Error: err.Error()}, nil
	}
	snap := h.root.Snapshot()
	v, ok := path.ResolveSnapshot(snap, p)
	if !ok {
		return &Response{Error: fmt.Sprintf("path %q not found", msg.Path)}, nil
	}

	encoded, err := json.Marshal(v)
	if err != nil {
		return &Response{Error: err.Error()}, nil
	}
	return &Response{
		Result: SnapshotMessage{Path: msg.Path, Value: encoded, Version: snap.Version()},
	}, nil
}

// handleSubscribe registers a path subscription for the connection.
func (h *Handler) handleSubscribe(connectionID string, data json.RawMessage) (*Response, error) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if _, err := path.Parse(msg.Path); err != nil {
		return &Response{Error: err.Error()}, nil
	}
	if err := h.subs.Subscribe(connectionID, msg.Path, msg.Sync); err != nil {
		return &Response{Error: err.Error()}, nil
	}
	return &Response{}, nil
}

// handleUnsubscribe cancels a path subscription for the connection.
func (h *Handler) handleUnsubscribe(connectionID string, data json.RawMessage) (*Response, error) {
	var msg UnsubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if err := h.subs.Unsubscribe(connectionID, msg.Path); err != nil {
		return &Response{Error: err.Error()}, nil
	}
	return &Response{}, nil
}

// handleUpdate writes a JSON value at a path.
func (h *Handler) handleUpdate(data json.RawMessage) (*Response, error) {
	var msg UpdateMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}

	p, err := path.Parse(msg.Path)
	if err != nil {
		return &Response{Error: err.Error()}, nil
	}
	var value any
	if err := json.Unmarshal(msg.Value, &value); err != nil {
		return &Response{Error: fmt.Sprintf("bad value: %v", err)}, nil
	}
	if err := path.Write(h.root, p, value); err != nil {
		return &Response{Error: err.Error()}, nil
	}
	return &Response{}, nil
}

// handleDelete removes the value at a path.
func (h *Handler) handleDelete(data json.RawMessage) (*Response, error) {
	var msg DeleteMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}

	p, err := path.Parse(msg.Path)
	if err != nil {
		return &Response{Error: err.Error()}, nil
	}
	if err := path.Delete(h.root, p); err != nil {
		return &Response{Error: err.Error()}, nil
	}
	return &Response{}, nil
}

// SendError sends an error message to a connection.
func (h *Handler) SendError(connectionID, pathStr, code, description string) error {
	msg, err := NewMessage(MsgError, ErrorMessage{
		Path:        pathStr,
		Code:        code,
		Description: description,
	})
	if err != nil {
		return err
	}
	return h.sender.Send(connectionID, msg)
}
