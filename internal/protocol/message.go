// Package protocol implements the devtools wire protocol: JSON messages for
// inspecting and mutating a tracked store over a connection.
package protocol

import (
	"encoding/json"
)

// MessageType identifies the type of protocol message.
type MessageType string

const (
	// Server-to-client messages
	MsgHello    MessageType = "hello"
	MsgSnapshot MessageType = "snapshot"
	MsgChange   MessageType = "change"
	MsgError    MessageType = "error"

	// Client-to-server messages
	MsgSubscribe   MessageType = "subscribe"
	MsgUnsubscribe MessageType = "unsubscribe"
	MsgUpdate      MessageType = "update"
	MsgDelete      MessageType = "delete"
)

// Message is the base protocol message structure.
type Message struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// HelloMessage is sent once per connection with its assigned ID.
type HelloMessage struct {
	ConnectionID string `json:"connectionId"`
	Version      string `json:"version,omitempty"`
}

// SnapshotMessage carries the current value at a path.
type SnapshotMessage struct {
	Path    string          `json:"path"`
	Value   json.RawMessage `json:"value"`
	Version uint64          `json:"version,omitempty"`
}

// SubscribeMessage requests change notifications for a path. Sync requests
// per-mutation delivery instead of coalesced delivery.
type SubscribeMessage struct {
	Path string `json:"path"`
	Sync bool   `json:"sync,omitempty"`
}

// UnsubscribeMessage cancels a subscription.
type UnsubscribeMessage struct {
	Path string `json:"path"`
}

// UpdateMessage writes a value at a path.
type UpdateMessage struct {
	Path  string          `json:"path"`
	Value json.RawMessage `json:"value"`
}

// DeleteMessage removes the value at a path.
type DeleteMessage struct {
	Path string `json:"path"`
}

// PathChange is one entry of a change notification.
type PathChange struct {
	Path  string          `json:"path"`
	Op    string          `json:"op"` // "set", "delete", "resize"
	Value json.RawMessage `json:"value,omitempty"`
}

// ChangeMessage carries a batch of coalesced changes.
type ChangeMessage struct {
	Changes []PathChange `json:"changes"`
}

// ErrorMessage reports a failed request.
type ErrorMessage struct {
	Path        string `json:"path,omitempty"`
	Code        string `json:"code"` // one-word code, e.g. "bad-path", "not-found"
	Description string `json:"description"`
}

// Response wraps handler responses (primarily for error reporting).
type Response struct {
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// ParseMessage parses a raw JSON message into a typed message.
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ParseMessages parses raw JSON that may be a single message or an array.
func ParseMessages(data []byte) ([]*Message, error) {
	if len(data) == 0 {
		return nil, nil
	}

	if data[0] == '[' {
		var msgs []Message
		if err := json.Unmarshal(data, &msgs); err != nil {
			return nil, err
		}
		result := make([]*Message, len(msgs))
		for i := range msgs {
			result[i] = &msgs[i]
		}
		return result, nil
	}

	msg, err := ParseMessage(data)
	if err != nil {
		return nil, err
	}
	return []*Message{msg}, nil
}

// NewMessage creates a new message with the given type and data.
func NewMessage(msgType MessageType, data interface{}) (*Message, error) {
	var raw json.RawMessage
	if data != nil {
		var err error
		raw, err = json.Marshal(data)
		if err != nil {
			return nil, err
		}
	}
	return &Message{
		Type: msgType,
		Data: raw,
	}, nil
}

// Encode serializes a message to JSON.
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}
