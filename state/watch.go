package state

import "sync"

// Watcher is the stateful consumer surface: each Read returns the current
// snapshot plus a fresh read recorder and installs a new subscription in
// place of the old one, since a consumer's read-set can change between
// passes. onChange fires only when a path recorded by the latest Read
// actually changed value.
type Watcher struct {
	store    *Store
	proxy    *Proxy
	onChange func()
	opts     []SubscribeOption

	mu     sync.Mutex
	access *Access
	last   *Snapshot
	unsub  func()
	closed bool
}

// Watch creates a watcher for p. Pass Sync() to receive per-mutation
// delivery instead of the default batched delivery.
func (s *Store) Watch(p *Proxy, onChange func(), opts ...SubscribeOption) *Watcher {
	return &Watcher{store: s, proxy: p, onChange: onChange, opts: opts}
}

// Read begins a consumption pass: it returns the current snapshot and a
// recorder the consumer must read through, releases the previous
// subscription, and installs a new one for the fresh read-set.
func (w *Watcher) Read() (*Snapshot, *Access) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.unsub != nil {
		w.unsub()
		w.unsub = nil
	}
	w.access = NewAccess()
	w.last = w.proxy.Snapshot()
	if !w.closed {
		w.unsub = w.store.Subscribe(w.proxy, w.notify, w.opts...)
	}
	return w.last, w.access
}

// notify re-evaluates the recorded read-set against a fresh snapshot.
func (w *Watcher) notify([]Change) {
	w.mu.Lock()
	access := w.access
	last := w.last
	closed := w.closed
	w.mu.Unlock()

	if closed || access == nil {
		return
	}
	cur := w.proxy.Snapshot()
	if Affected(access, last, cur) {
		w.onChange()
	}
}

// Close releases the current subscription. Further notifications are not
// delivered; Read keeps working as a plain snapshot read.
func (w *Watcher) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.unsub != nil {
		w.unsub()
		w.unsub = nil
	}
	w.closed = true
}
