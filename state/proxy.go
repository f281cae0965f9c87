package state

import (
	"fmt"
	"sort"
	"strconv"
)

// Proxy is the tracked wrapper around one raw container. At most one Proxy
// exists per raw container per store. All mutation of tracked state flows
// through Proxy operations; each accepted mutation bumps the node's version
// and emits one change notification, which also propagates to parent nodes.
type Proxy struct {
	store *Store
	id    uint64
	kind  Kind

	// version counts this node's own direct-child mutations only.
	// Descendant changes are visible through the descendant's version.
	version uint64

	entries map[string]any // KindMap backing (the raw map itself)
	items   []any          // KindSlice backing
	ordered *OrderedMap    // KindOrdered backing (the raw ordered map)

	children map[string]*Proxy            // key -> wrapped child, filled lazily on read
	parents  map[*Proxy]map[string]struct{} // parent -> keys referencing this node

	listeners []*listener

	snap        *Snapshot
	snapVersion uint64
	snapDirty   bool // a descendant changed since the last snapshot build
}

func newProxy(s *Store, id uint64, kind Kind, raw any) *Proxy {
	p := &Proxy{
		store:    s,
		id:       id,
		kind:     kind,
		children: make(map[string]*Proxy),
		parents:  make(map[*Proxy]map[string]struct{}),
	}
	switch kind {
	case KindMap:
		p.entries = raw.(map[string]any)
	case KindSlice:
		p.items = raw.([]any)
	case KindOrdered:
		p.ordered = raw.(*OrderedMap)
	}
	return p
}

// Kind returns the container kind of this node.
func (p *Proxy) Kind() Kind { return p.kind }

// Version returns the node's mutation counter.
func (p *Proxy) Version() uint64 {
	p.store.mu.Lock()
	defer p.store.mu.Unlock()
	return p.version
}

// Get returns the child at key. Containers are lazily wrapped on first read,
// so subsequent mutations on the child are tracked too. The second result
// reports key presence; a key holding Absent is present.
func (p *Proxy) Get(key string) (any, bool) {
	p.store.mu.Lock()
	defer p.store.mu.Unlock()

	v, ok := p.rawGetLocked(key)
	if !ok {
		return nil, false
	}
	return p.readValueLocked(key, v), true
}

// Index returns the element at a sequence position.
func (p *Proxy) Index(i int) (any, bool) {
	if p.kind != KindSlice {
		return nil, false
	}
	p.store.mu.Lock()
	defer p.store.mu.Unlock()

	if i < 0 || i >= len(p.items) {
		return nil, false
	}
	return p.readValueLocked(strconv.Itoa(i), p.items[i]), true
}

// Has reports whether key is present. Keys set to Absent are present;
// deleted keys are not.
func (p *Proxy) Has(key string) bool {
	p.store.mu.Lock()
	defer p.store.mu.Unlock()
	_, ok := p.rawGetLocked(key)
	return ok
}

// Len returns the element count (sequence length or key count).
func (p *Proxy) Len() int {
	p.store.mu.Lock()
	defer p.store.mu.Unlock()
	switch p.kind {
	case KindMap:
		return len(p.entries)
	case KindSlice:
		return len(p.items)
	case KindOrdered:
		return p.ordered.Len()
	}
	return 0
}

// Keys returns the enumerable keys: insertion order for ordered containers,
// sorted for maps (Go map iteration order is not stable), decimal indices
// for sequences.
func (p *Proxy) Keys() []string {
	p.store.mu.Lock()
	defer p.store.mu.Unlock()
	return p.keysLocked()
}

func (p *Proxy) keysLocked() []string {
	switch p.kind {
	case KindMap:
		keys := make([]string, 0, len(p.entries))
		for k := range p.entries {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return keys
	case KindOrdered:
		keys := make([]string, 0, p.ordered.Len())
		for pair := p.ordered.Oldest(); pair != nil; pair = pair.Next() {
			keys = append(keys, pair.Key)
		}
		return keys
	case KindSlice:
		keys := make([]string, len(p.items))
		for i := range p.items {
			keys[i] = strconv.Itoa(i)
		}
		return keys
	}
	return nil
}

// Set writes value at key. Writing a value identical to the stored one is a
// no-op: no version bump, no notification. On sequences the key must be a
// decimal index and writing past the end extends the sequence with Absent.
func (p *Proxy) Set(key string, value any) {
	if p.kind == KindSlice {
		i, err := strconv.Atoi(key)
		if err != nil {
			panic(fmt.Sprintf("state: non-index key %q on sequence", key))
		}
		p.SetIndex(i, value)
		return
	}

	s := p.store
	s.mu.Lock()
	old, had := p.rawGetLocked(key)
	if had && p.sameStoredLocked(key, old, value) {
		s.mu.Unlock()
		return
	}
	p.replaceChildLocked(key, value)
	p.rawSetLocked(key, value)
	d := s.commitLocked(p, []Change{{Path: []string{key}, Op: OpSet}})
	s.mu.Unlock()
	d.deliver()
}

// SetIndex writes a sequence element. Writing past the current end extends
// the sequence, filling intervening positions with Absent; the length
// reflects the new extent and the change set includes a resize.
func (p *Proxy) SetIndex(i int, value any) {
	if p.kind != KindSlice {
		panic("state: SetIndex on non-sequence container")
	}
	if i < 0 {
		panic(fmt.Sprintf("state: negative sequence index %d", i))
	}

	s := p.store
	s.mu.Lock()
	key := strconv.Itoa(i)
	if i < len(p.items) {
		if p.sameStoredLocked(key, p.items[i], value) {
			s.mu.Unlock()
			return
		}
		p.replaceChildLocked(key, value)
		p.items[i] = value
		d := s.commitLocked(p, []Change{{Path: []string{key}, Op: OpSet}})
		s.mu.Unlock()
		d.deliver()
		return
	}

	for len(p.items) < i {
		p.items = append(p.items, Absent)
	}
	p.items = append(p.items, value)
	p.linkExplicitProxyLocked(key, value)
	d := s.commitLocked(p, []Change{
		{Path: []string{key}, Op: OpSet},
		{Path: []string{"length"}, Op: OpResize},
	})
	s.mu.Unlock()
	d.deliver()
}

// Delete removes key from the container and reports whether it was present.
// On sequences the element is replaced by Absent (a hole); the length does
// not change.
func (p *Proxy) Delete(key string) bool {
	s := p.store
	s.mu.Lock()

	_, had := p.rawGetLocked(key)
	if !had {
		s.mu.Unlock()
		return false
	}

	p.replaceChildLocked(key, nil)
	switch p.kind {
	case KindMap:
		delete(p.entries, key)
	case KindOrdered:
		p.ordered.Delete(key)
	case KindSlice:
		i, _ := strconv.Atoi(key)
		if IsAbsent(p.items[i]) {
			s.mu.Unlock()
			return false
		}
		p.items[i] = Absent
	}
	d := s.commitLocked(p, []Change{{Path: []string{key}, Op: OpDelete}})
	s.mu.Unlock()
	d.deliver()
	return true
}

// Push appends items to a sequence: one version bump, one notification.
// The end position is read under the same lock as the edit, so concurrent
// structural edits cannot land between them.
func (p *Proxy) Push(items ...any) {
	if p.kind != KindSlice {
		panic("state: Push on non-sequence container")
	}
	if len(items) == 0 {
		return
	}

	s := p.store
	s.mu.Lock()
	_, d := p.spliceLocked(len(p.items), 0, items)
	s.mu.Unlock()
	d.deliver()
}

// Pop removes and returns the last element of a sequence.
func (p *Proxy) Pop() (any, bool) {
	if p.kind != KindSlice {
		return nil, false
	}

	s := p.store
	s.mu.Lock()
	n := len(p.items)
	if n == 0 {
		s.mu.Unlock()
		return nil, false
	}
	removed, d := p.spliceLocked(n-1, 1, nil)
	s.mu.Unlock()
	d.deliver()
	return removed[0], true
}

// Insert inserts items before position i: one version bump, one notification.
func (p *Proxy) Insert(i int, items ...any) {
	p.Splice(i, 0, items...)
}

// Splice removes deleteCount elements at start, inserts items in their
// place, and returns the removed elements. However many elements it moves,
// it is observable as a single version bump and a single notification.
func (p *Proxy) Splice(start, deleteCount int, items ...any) []any {
	if p.kind != KindSlice {
		panic("state: Splice on non-sequence container")
	}

	s := p.store
	s.mu.Lock()
	removed, d := p.spliceLocked(start, deleteCount, items)
	s.mu.Unlock()
	d.deliver()
	return removed
}

// spliceLocked performs the structural edit. Caller holds the store lock and
// delivers the returned notifications after releasing it.
func (p *Proxy) spliceLocked(start, deleteCount int, items []any) ([]any, delivery) {
	s := p.store
	n := len(p.items)
	if start < 0 {
		start = 0
	}
	if start > n {
		start = n
	}
	if deleteCount < 0 {
		deleteCount = 0
	}
	if deleteCount > n-start {
		deleteCount = n - start
	}
	if deleteCount == 0 && len(items) == 0 {
		return nil, delivery{}
	}

	removed := make([]any, deleteCount)
	copy(removed, p.items[start:start+deleteCount])

	next := make([]any, 0, n-deleteCount+len(items))
	next = append(next, p.items[:start]...)
	next = append(next, items...)
	next = append(next, p.items[start+deleteCount:]...)
	p.items = next

	p.reindexChildrenLocked(start, deleteCount, len(items))
	for off, v := range items {
		p.linkExplicitProxyLocked(strconv.Itoa(start+off), v)
	}

	changes := make([]Change, 0, len(p.items)-start+1)
	for i := start; i < len(p.items); i++ {
		changes = append(changes, Change{Path: []string{strconv.Itoa(i)}, Op: OpSet})
	}
	if len(p.items) != n {
		changes = append(changes, Change{Path: []string{"length"}, Op: OpResize})
	}
	return removed, s.commitLocked(p, changes)
}

// rawGetLocked reads the backing container without wrapping.
func (p *Proxy) rawGetLocked(key string) (any, bool) {
	switch p.kind {
	case KindMap:
		v, ok := p.entries[key]
		return v, ok
	case KindOrdered:
		return p.ordered.Get(key)
	case KindSlice:
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 || i >= len(p.items) {
			return nil, false
		}
		return p.items[i], true
	}
	return nil, false
}

func (p *Proxy) rawSetLocked(key string, value any) {
	switch p.kind {
	case KindMap:
		p.entries[key] = value
	case KindOrdered:
		p.ordered.Set(key, value)
	}
}

// readValueLocked wraps container children on first read and returns the
// value as the application should see it.
func (p *Proxy) readValueLocked(key string, v any) any {
	if child, ok := p.children[key]; ok {
		return child
	}
	if pv, ok := v.(*Proxy); ok {
		p.linkChildLocked(key, pv)
		return pv
	}
	if _, ok := containerKind(v); ok {
		return p.wrapChildLocked(key, v)
	}
	return v
}

// wrapChildLocked wraps the raw child at key and records the parent edge.
func (p *Proxy) wrapChildLocked(key string, raw any) *Proxy {
	child := p.store.wrapLocked(raw)
	p.linkChildLocked(key, child)
	return child
}

func (p *Proxy) linkChildLocked(key string, child *Proxy) {
	p.children[key] = child
	keys, ok := child.parents[p]
	if !ok {
		keys = make(map[string]struct{})
		child.parents[p] = keys
	}
	keys[key] = struct{}{}
}

// linkExplicitProxyLocked records the edge when the application stores an
// already-wrapped value directly.
func (p *Proxy) linkExplicitProxyLocked(key string, v any) {
	if pv, ok := v.(*Proxy); ok {
		p.linkChildLocked(key, pv)
	}
}

// replaceChildLocked drops the child edge at key before the slot is
// overwritten or removed. Passing a new value re-links explicit proxies.
func (p *Proxy) replaceChildLocked(key string, next any) {
	if old, ok := p.children[key]; ok {
		old.removeParentLocked(p, key)
		delete(p.children, key)
	}
	p.linkExplicitProxyLocked(key, next)
}

func (c *Proxy) removeParentLocked(parent *Proxy, key string) {
	keys, ok := c.parents[parent]
	if !ok {
		return
	}
	delete(keys, key)
	if len(keys) == 0 {
		delete(c.parents, parent)
	}
}

// sameStoredLocked decides write idempotence: a stored child proxy equals
// both itself and the raw container it wraps.
func (p *Proxy) sameStoredLocked(key string, old, value any) bool {
	if sameValue(old, value) {
		return true
	}
	child, ok := p.children[key]
	if !ok {
		return false
	}
	if pv, isProxy := value.(*Proxy); isProxy {
		return pv == child
	}
	if vk, identifiable := containerKey(value); identifiable {
		if existing, found := p.store.registry[vk]; found {
			return existing == child
		}
	}
	return false
}

// reindexChildrenLocked shifts cached child edges after a structural edit:
// children in the deleted range are unlinked, children past it move by the
// insert/delete delta.
func (p *Proxy) reindexChildrenLocked(start, deleteCount, insertCount int) {
	if len(p.children) == 0 {
		return
	}
	next := make(map[string]*Proxy, len(p.children))
	for key, child := range p.children {
		i, err := strconv.Atoi(key)
		if err != nil || i < start {
			next[key] = child
			continue
		}
		child.removeParentLocked(p, key)
		if i < start+deleteCount {
			continue
		}
		moved := strconv.Itoa(i - deleteCount + insertCount)
		next[moved] = child
		keys, ok := child.parents[p]
		if !ok {
			keys = make(map[string]struct{})
			child.parents[p] = keys
		}
		keys[moved] = struct{}{}
	}
	p.children = next
}

// Raw returns a one-shot plain-data deep copy of the subtree with no caching
// and no subscription side effects, for point-in-time reads such as logging.
// Shared and cyclic references are preserved in the copy.
func (p *Proxy) Raw() any {
	p.store.mu.Lock()
	defer p.store.mu.Unlock()
	return p.rawLocked(make(map[*Proxy]any))
}

func (p *Proxy) rawLocked(visited map[*Proxy]any) any {
	if out, ok := visited[p]; ok {
		return out
	}
	switch p.kind {
	case KindMap:
		out := make(map[string]any, len(p.entries))
		visited[p] = out
		for k, v := range p.entries {
			out[k] = p.rawValueLocked(k, v, visited)
		}
		return out
	case KindOrdered:
		out := NewOrderedMap()
		visited[p] = out
		for pair := p.ordered.Oldest(); pair != nil; pair = pair.Next() {
			out.Set(pair.Key, p.rawValueLocked(pair.Key, pair.Value, visited))
		}
		return out
	case KindSlice:
		out := make([]any, len(p.items))
		visited[p] = out
		for i, v := range p.items {
			out[i] = p.rawValueLocked(strconv.Itoa(i), v, visited)
		}
		return out
	}
	return nil
}

func (p *Proxy) rawValueLocked(key string, v any, visited map[*Proxy]any) any {
	if IsAbsent(v) {
		return Absent
	}
	if pv, ok := v.(*Proxy); ok {
		return pv.rawLocked(visited)
	}
	if _, ok := containerKind(v); ok {
		return p.wrapChildLocked(key, v).rawLocked(visited)
	}
	return v
}
