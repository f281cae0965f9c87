package protocol

import (
	"encoding/json"
	"sync"
)

// queuedChange holds the latest queued state for one path.
type queuedChange struct {
	path  string
	op    string
	value json.RawMessage
}

// ChangeBatcher coalesces queued path changes: only the latest change per
// path survives, and flush order follows first-queue order.
type ChangeBatcher struct {
	pending map[string]*queuedChange
	order   []string
	mu      sync.Mutex
}

// NewChangeBatcher creates a new change batcher.
func NewChangeBatcher() *ChangeBatcher {
	return &ChangeBatcher{
		pending: make(map[string]*queuedChange),
	}
}

// Queue records a change for a path, superseding any earlier queued change
// for the same path.
func (b *ChangeBatcher) Queue(path, op string, value json.RawMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if qc, ok := b.pending[path]; ok {
		qc.op = op
		qc.value = value
		return
	}
	b.pending[path] = &queuedChange{path: path, op: op, value: value}
	b.order = append(b.order, path)
}

// IsEmpty returns true if no changes are pending.
func (b *ChangeBatcher) IsEmpty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending) == 0
}

// Flush builds one change message from the pending set and clears it.
// Returns nil if nothing is pending.
func (b *ChangeBatcher) Flush() *Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.pending) == 0 {
		return nil
	}

	changes := make([]PathChange, 0, len(b.order))
	for _, path := range b.order {
		qc := b.pending[path]
		changes = append(changes, PathChange{Path: qc.path, Op: qc.op, Value: qc.value})
	}
	b.pending = make(map[string]*queuedChange)
	b.order = nil

	msg, _ := NewMessage(MsgChange, ChangeMessage{Changes: changes})
	return msg
}

// FlushJSON returns the pending batch encoded as one message, or nil.
func (b *ChangeBatcher) FlushJSON() ([]byte, error) {
	msg := b.Flush()
	if msg == nil {
		return nil, nil
	}
	return msg.Encode()
}
