package server

import (
	"sync"
	"time"

	"github.com/zot/reactive/internal/protocol"
)

// MessageSender sends protocol messages and logs.
type MessageSender interface {
	Send(connectionID string, msg *protocol.Message) error
	SendBatch(connectionID string, msgs []*protocol.Message) error
	Log(level int, format string, args ...interface{})
}

// pendingPush holds an outgoing message and its target connections.
type pendingPush struct {
	msg     *protocol.Message
	targets []string
}

// OutgoingBatcher debounces outgoing change pushes: messages queued inside
// one debounce window go out as a single batch per connection.
type OutgoingBatcher struct {
	mu               sync.Mutex
	pending          []pendingPush
	debounceTimer    *time.Timer
	debounceInterval time.Duration
	sender           MessageSender
	batchCount       int
}

// NewOutgoingBatcher creates a batcher with the given message sender.
func NewOutgoingBatcher(sender MessageSender, interval time.Duration) *OutgoingBatcher {
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	return &OutgoingBatcher{
		debounceInterval: interval,
		sender:           sender,
	}
}

// Queue adds a message to the pending queue and starts the debounce timer.
// targets is the list of connection IDs to send this message to.
func (b *OutgoingBatcher) Queue(msg *protocol.Message, targets []string) {
	if msg == nil || len(targets) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.pending = append(b.pending, pendingPush{msg: msg, targets: targets})

	// Only start the timer if not already running (preserves the deadline)
	if b.debounceTimer == nil {
		b.debounceTimer = time.AfterFunc(b.debounceInterval, func() {
			b.flush()
		})
	}
}

// FlushNow immediately sends all pending messages.
func (b *OutgoingBatcher) FlushNow() {
	b.mu.Lock()
	if b.debounceTimer != nil {
		b.debounceTimer.Stop()
	}
	b.mu.Unlock()

	b.flush()
}

// flush sends pending messages (called by timer or FlushNow). Groups
// messages by connection and sends one batch per connection.
func (b *OutgoingBatcher) flush() {
	b.mu.Lock()
	b.debounceTimer = nil
	pushes := b.pending
	b.pending = nil
	b.batchCount += 1
	count := b.batchCount
	b.mu.Unlock()

	if len(pushes) == 0 {
		return
	}

	connMsgs := make(map[string][]*protocol.Message)
	for _, push := range pushes {
		for _, connID := range push.targets {
			connMsgs[connID] = append(connMsgs[connID], push.msg)
		}
	}

	b.sender.Log(4, "[OUT] BATCH %d", count)
	for connID, msgs := range connMsgs {
		if len(msgs) == 1 {
			b.sender.Send(connID, msgs[0])
		} else {
			b.sender.SendBatch(connID, msgs)
		}
	}
}

// Clear removes all pending messages and stops the timer.
func (b *OutgoingBatcher) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.debounceTimer != nil {
		b.debounceTimer.Stop()
	}
	b.debounceTimer = nil
	b.pending = nil
}

// PendingCount returns the number of pending pushes (for testing).
func (b *OutgoingBatcher) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
