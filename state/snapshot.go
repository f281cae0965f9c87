package state

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Snapshot is an immutable, identity-stable view of a node's subtree as of a
// specific version. Two snapshots of the same node at the same version are
// the same object; a child that did not change keeps its prior snapshot
// identity even when the parent is rebuilt. The payload is unexported, so a
// Snapshot cannot be written through.
type Snapshot struct {
	kind    Kind
	version uint64
	keys    []string       // enumeration order for map/ordered kinds
	entries map[string]any // values: primitives, Absent, *Snapshot
	items   []any          // sequence kind
}

// Snapshot returns the current immutable view of the subtree. If neither the
// node nor anything below it changed since the last call, the prior snapshot
// is returned by identity; otherwise only the changed parts are rebuilt and
// unchanged child snapshots are reused.
func (p *Proxy) Snapshot() *Snapshot {
	p.store.mu.Lock()
	defer p.store.mu.Unlock()
	return p.snapshotLocked(nil)
}

// snapshotLocked builds or reuses the snapshot for p. visited carries
// snapshots already under construction in this pass, which terminates cycles:
// re-entering a node links the partially built snapshot instead of recursing.
func (p *Proxy) snapshotLocked(visited map[*Proxy]*Snapshot) *Snapshot {
	if visited != nil {
		if snap, ok := visited[p]; ok {
			return snap
		}
	}
	if p.snap != nil && p.snapVersion == p.version && !p.snapDirty {
		return p.snap
	}

	snap := &Snapshot{kind: p.kind, version: p.version}
	if visited == nil {
		visited = make(map[*Proxy]*Snapshot)
	}
	visited[p] = snap

	switch p.kind {
	case KindMap, KindOrdered:
		keys := p.keysLocked()
		snap.keys = keys
		snap.entries = make(map[string]any, len(keys))
		for _, k := range keys {
			v, _ := p.rawGetLocked(k)
			snap.entries[k] = p.snapshotValueLocked(k, v, visited)
		}
	case KindSlice:
		snap.items = make([]any, len(p.items))
		for i, v := range p.items {
			snap.items[i] = p.snapshotValueLocked(strconv.Itoa(i), v, visited)
		}
	}

	p.snap = snap
	p.snapVersion = p.version
	p.snapDirty = false
	return snap
}

func (p *Proxy) snapshotValueLocked(key string, v any, visited map[*Proxy]*Snapshot) any {
	if IsAbsent(v) {
		return Absent
	}
	if pv, ok := v.(*Proxy); ok {
		return pv.snapshotLocked(visited)
	}
	if _, ok := containerKind(v); ok {
		return p.wrapChildLocked(key, v).snapshotLocked(visited)
	}
	if sn, ok := v.(*Snapshot); ok {
		return sn
	}
	return v
}

// Kind returns the container kind mirrored by this snapshot.
func (s *Snapshot) Kind() Kind { return s.kind }

// Version returns the node version this snapshot was built from.
func (s *Snapshot) Version() uint64 { return s.version }

// Len returns the element count.
func (s *Snapshot) Len() int {
	if s.kind == KindSlice {
		return len(s.items)
	}
	return len(s.keys)
}

// Get returns the value at key and whether the key is present. A key set to
// Absent is present with the Absent value.
func (s *Snapshot) Get(key string) (any, bool) {
	switch s.kind {
	case KindMap, KindOrdered:
		v, ok := s.entries[key]
		return v, ok
	case KindSlice:
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 || i >= len(s.items) {
			return nil, false
		}
		return s.items[i], true
	}
	return nil, false
}

// Has reports key presence.
func (s *Snapshot) Has(key string) bool {
	_, ok := s.Get(key)
	return ok
}

// Index returns the element at a sequence position.
func (s *Snapshot) Index(i int) (any, bool) {
	if s.kind != KindSlice || i < 0 || i >= len(s.items) {
		return nil, false
	}
	return s.items[i], true
}

// Keys returns the enumerable keys in snapshot order.
func (s *Snapshot) Keys() []string {
	if s.kind == KindSlice {
		keys := make([]string, len(s.items))
		for i := range s.items {
			keys[i] = strconv.Itoa(i)
		}
		return keys
	}
	keys := make([]string, len(s.keys))
	copy(keys, s.keys)
	return keys
}

// Value resolves a path of keys (decimal indices for sequences) from this
// snapshot. An empty path returns the snapshot itself.
func (s *Snapshot) Value(path ...string) (any, bool) {
	var cur any = s
	for _, key := range path {
		snap, ok := cur.(*Snapshot)
		if !ok {
			return nil, false
		}
		cur, ok = snap.Get(key)
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// MarshalJSON renders the snapshot as plain JSON. Absent values render as
// null; ordered containers keep insertion order; a node reached again along
// a cycle renders as null rather than recursing forever.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := s.marshalJSON(&buf, make(map[*Snapshot]bool)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *Snapshot) marshalJSON(buf *bytes.Buffer, active map[*Snapshot]bool) error {
	if active[s] {
		buf.WriteString("null")
		return nil
	}
	active[s] = true
	defer delete(active, s)

	if s.kind == KindSlice {
		buf.WriteByte('[')
		for i, v := range s.items {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := marshalSnapshotValue(buf, v, active); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	}

	buf.WriteByte('{')
	for i, k := range s.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyJSON, err := json.Marshal(k)
		if err != nil {
			return err
		}
		buf.Write(keyJSON)
		buf.WriteByte(':')
		if err := marshalSnapshotValue(buf, s.entries[k], active); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func marshalSnapshotValue(buf *bytes.Buffer, v any, active map[*Snapshot]bool) error {
	if IsAbsent(v) || v == nil {
		buf.WriteString("null")
		return nil
	}
	if sn, ok := v.(*Snapshot); ok {
		return sn.marshalJSON(buf, active)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	buf.Write(data)
	return nil
}
