package state

import (
	"sync/atomic"
	"time"
)

// Op classifies a single change.
type Op int

const (
	OpSet    Op = iota // key written or element moved by a structural edit
	OpDelete           // key removed (or sequence hole created)
	OpResize           // sequence length changed
)

// String returns the op name.
func (o Op) String() string {
	switch o {
	case OpSet:
		return "set"
	case OpDelete:
		return "delete"
	case OpResize:
		return "resize"
	}
	return "unknown"
}

// Change describes one changed key relative to the notified node. Listeners
// on ancestor nodes receive the same changes with the child's key prefixed.
type Change struct {
	Path []string
	Op   Op
}

// listener is one subscription on a node.
type listener struct {
	fn   func([]Change)
	sync bool
	dead atomic.Bool
	// batched state, guarded by the store lock
	pending []Change
	queued  bool
}

// SubscribeOption configures a subscription.
type SubscribeOption func(*listener)

// Sync delivers every mutation individually and synchronously, immediately
// after the mutation completes, instead of coalescing per tick.
func Sync() SubscribeOption {
	return func(l *listener) {
		l.sync = true
	}
}

// Subscribe registers fn for changes at p or anywhere below it. Delivery is
// batched by default: mutations inside one coalescing window produce a
// single notification, delivered asynchronously with the state already
// reflecting the last mutation of the batch. The returned function
// unsubscribes; it is idempotent and suppresses notifications that were
// scheduled but not yet delivered.
func (s *Store) Subscribe(p *Proxy, fn func([]Change), opts ...SubscribeOption) func() {
	l := &listener{fn: fn}
	for _, opt := range opts {
		opt(l)
	}

	s.mu.Lock()
	p.listeners = append(p.listeners, l)
	s.mu.Unlock()

	return func() {
		if l.dead.Swap(true) {
			return
		}
		s.mu.Lock()
		for i, x := range p.listeners {
			if x == l {
				p.listeners = append(p.listeners[:i], p.listeners[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
	}
}

// syncCall is a synchronous delivery collected under the store lock and
// invoked after it is released, so listeners may mutate reentrantly.
type syncCall struct {
	l       *listener
	changes []Change
}

type delivery struct {
	calls []syncCall
}

func (d delivery) deliver() {
	for _, c := range d.calls {
		if c.l.dead.Load() {
			continue
		}
		c.l.fn(c.changes)
	}
}

// commitLocked finalizes an accepted mutation at origin: bumps its version,
// collects notifications for its own listeners, then propagates a
// descendant-changed notification to ancestors through parent
// back-references, visiting each ancestor at most once per pass.
func (s *Store) commitLocked(origin *Proxy, changes []Change) delivery {
	origin.version++

	var d delivery
	visited := map[*Proxy]bool{origin: true}
	s.notifyLocked(origin, changes, &d)

	type entry struct {
		node    *Proxy
		changes []Change
	}
	queue := []entry{{origin, changes}}
	for len(queue) > 0 {
		e := queue[0]
		queue = queue[1:]
		for parent, keys := range e.node.parents {
			if visited[parent] {
				continue
			}
			visited[parent] = true
			parent.snapDirty = true
			pc := prefixChanges(e.changes, keys)
			s.notifyLocked(parent, pc, &d)
			queue = append(queue, entry{parent, pc})
		}
	}
	return d
}

// prefixChanges rewrites change paths relative to a parent, one copy per key
// under which the parent references the child.
func prefixChanges(changes []Change, keys map[string]struct{}) []Change {
	out := make([]Change, 0, len(changes)*len(keys))
	for key := range keys {
		for _, c := range changes {
			path := make([]string, 0, len(c.Path)+1)
			path = append(path, key)
			path = append(path, c.Path...)
			out = append(out, Change{Path: path, Op: c.Op})
		}
	}
	return out
}

// notifyLocked routes changes at p to its listeners: sync listeners are
// collected for immediate delivery, batched listeners accumulate pending
// changes and are queued for the next flush.
func (s *Store) notifyLocked(p *Proxy, changes []Change, d *delivery) {
	for _, l := range p.listeners {
		if l.dead.Load() {
			continue
		}
		if l.sync {
			d.calls = append(d.calls, syncCall{l, changes})
			continue
		}
		l.pending = append(l.pending, changes...)
		if !l.queued {
			l.queued = true
			s.pendingBatch = append(s.pendingBatch, l)
		}
		s.ensureBatchTimerLocked()
	}
}

func (s *Store) ensureBatchTimerLocked() {
	if s.batchTimer != nil {
		return
	}
	s.batchTimer = time.AfterFunc(s.batchInterval, s.flushBatch)
}

// Flush delivers all pending batched notifications immediately instead of
// waiting for the coalescing window. Used at shutdown and in tests.
func (s *Store) Flush() {
	s.mu.Lock()
	if s.batchTimer != nil {
		s.batchTimer.Stop()
		s.batchTimer = nil
	}
	s.mu.Unlock()
	s.flushBatch()
}

// flushBatch drains the pending accumulator and invokes batched listeners
// outside the lock, re-checking liveness before each invocation so an
// unsubscribe during the batching window suppresses delivery.
func (s *Store) flushBatch() {
	s.mu.Lock()
	s.batchTimer = nil
	batch := s.pendingBatch
	s.pendingBatch = nil

	var calls []syncCall
	for _, l := range batch {
		l.queued = false
		changes := l.pending
		l.pending = nil
		if l.dead.Load() || len(changes) == 0 {
			continue
		}
		calls = append(calls, syncCall{l, changes})
	}
	s.mu.Unlock()

	for _, c := range calls {
		if c.l.dead.Load() {
			continue
		}
		c.l.fn(c.changes)
	}
}
