package state

import (
	"sync"
	"time"
)

// Store owns the wrap registry and the change bus for one state tree (or
// several trees wrapped through the same store). Any two call sites wrapping
// the same raw container through one store observe the same Proxy; the
// registry's lifetime is the store's lifetime.
type Store struct {
	mu            sync.Mutex
	registry      map[registryKey]*Proxy
	nextNodeID    uint64
	batchInterval time.Duration

	// pending batched listeners, appended in first-trigger order
	pendingBatch []*listener
	batchTimer   *time.Timer
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithBatchInterval sets the coalescing window for batched delivery.
// Mutations inside one window produce a single notification per listener.
func WithBatchInterval(d time.Duration) StoreOption {
	return func(s *Store) {
		s.batchInterval = d
	}
}

// NewStore creates a store with an empty registry.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		registry:      make(map[registryKey]*Proxy),
		batchInterval: 10 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Wrap turns a raw container into its tracked Proxy. Non-container values,
// unsupported container types, and already-immutable values (Snapshots) are
// returned unchanged. Wrapping is idempotent per raw identity: re-wrapping a
// container that already has a node returns the existing node, which is what
// makes shared references and cycles safe.
func (s *Store) Wrap(raw any) any {
	switch raw.(type) {
	case *Proxy:
		return raw
	case *Snapshot:
		return raw
	}
	if _, ok := containerKind(raw); !ok {
		return raw
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wrapLocked(raw)
}

// WrapContainer is Wrap restricted to containers: ok is false when raw
// cannot be tracked.
func (s *Store) WrapContainer(raw any) (*Proxy, bool) {
	p, ok := s.Wrap(raw).(*Proxy)
	return p, ok
}

// wrapLocked performs registry lookup/insert. Caller holds s.mu.
func (s *Store) wrapLocked(raw any) *Proxy {
	if p, ok := raw.(*Proxy); ok {
		return p
	}
	kind, ok := containerKind(raw)
	if !ok {
		return nil
	}

	key, identifiable := containerKey(raw)
	if identifiable {
		if p, ok := s.registry[key]; ok {
			return p
		}
	}

	s.nextNodeID++
	p := newProxy(s, s.nextNodeID, kind, raw)
	if identifiable {
		s.registry[key] = p
	}
	return p
}

// Count returns the number of registered nodes (for testing).
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.registry)
}
