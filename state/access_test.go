package state

import (
	"sync"
	"testing"
)

// TestAffectedSelective verifies a read-set of {a} reports changed only for
// mutations of a, not of sibling b.
func TestAffectedSelective(t *testing.T) {
	store := NewStore()
	p, _ := store.WrapContainer(map[string]any{"a": 1, "b": 2})

	access := NewAccess()
	s0 := p.Snapshot()
	if v, ok := access.Get(s0, "a"); !ok || v != 1 {
		t.Fatalf("expected a=1, got %v", v)
	}

	p.Set("b", 20)
	s1 := p.Snapshot()
	if Affected(access, s0, s1) {
		t.Error("mutating unread sibling should not affect the read-set")
	}

	p.Set("a", 10)
	s2 := p.Snapshot()
	if !Affected(access, s0, s2) {
		t.Error("mutating a read path should affect the read-set")
	}
}

// TestAffectedContainerIdentity verifies container reads compare by
// snapshot identity.
func TestAffectedContainerIdentity(t *testing.T) {
	store := NewStore()
	p, _ := store.WrapContainer(map[string]any{
		"user":  map[string]any{"name": "alice"},
		"other": map[string]any{"n": 0},
	})

	access := NewAccess()
	s0 := p.Snapshot()
	access.Get(s0, "user")

	otherAny, _ := p.Get("other")
	otherAny.(*Proxy).Set("n", 1)
	s1 := p.Snapshot()
	if Affected(access, s0, s1) {
		t.Error("sibling subtree mutation should keep read container identity")
	}

	userAny, _ := p.Get("user")
	userAny.(*Proxy).Set("name", "bob")
	s2 := p.Snapshot()
	if !Affected(access, s0, s2) {
		t.Error("mutation inside the read container should be affected")
	}
}

// TestAffectedPresenceChange verifies key appearance and disappearance count
// as changes.
func TestAffectedPresenceChange(t *testing.T) {
	store := NewStore()
	p, _ := store.WrapContainer(map[string]any{"a": 1})

	access := NewAccess()
	s0 := p.Snapshot()
	access.Get(s0, "gone")

	p.Set("gone", Absent)
	s1 := p.Snapshot()
	if !Affected(access, s0, s1) {
		t.Error("key appearing (even as Absent) should be a change")
	}

	access2 := NewAccess()
	access2.Get(s1, "gone")
	p.Delete("gone")
	s2 := p.Snapshot()
	if !Affected(access2, s1, s2) {
		t.Error("key disappearing should be a change")
	}
}

// TestWatcherSelective verifies the watcher fires only for read paths.
func TestWatcherSelective(t *testing.T) {
	store := NewStore()
	p, _ := store.WrapContainer(map[string]any{"a": 1, "b": 2})

	var mu sync.Mutex
	var fired int
	w := store.Watch(p, func() {
		mu.Lock()
		fired++
		mu.Unlock()
	}, Sync())
	defer w.Close()

	snap, access := w.Read()
	access.Get(snap, "a")

	p.Set("b", 20)
	mu.Lock()
	if fired != 0 {
		t.Errorf("unread path mutation should not fire, got %d", fired)
	}
	mu.Unlock()

	p.Set("a", 10)
	mu.Lock()
	if fired != 1 {
		t.Errorf("read path mutation should fire once, got %d", fired)
	}
	mu.Unlock()
}

// TestWatcherReadSetRecomputed verifies a new Read replaces the previous
// subscription and read-set.
func TestWatcherReadSetRecomputed(t *testing.T) {
	store := NewStore()
	p, _ := store.WrapContainer(map[string]any{"a": 1, "b": 2})

	var fired int
	w := store.Watch(p, func() { fired++ }, Sync())
	defer w.Close()

	snap, access := w.Read()
	access.Get(snap, "a")

	// Second pass reads only b; the a-subscription must be released.
	snap, access = w.Read()
	access.Get(snap, "b")

	p.Set("a", 10)
	if fired != 0 {
		t.Errorf("stale read-set should not fire, got %d", fired)
	}

	p.Set("b", 20)
	if fired != 1 {
		t.Errorf("current read-set should fire once, got %d", fired)
	}
}

// TestWatcherBatched verifies a batched watcher coalesces a mutation burst
// into one change evaluation.
func TestWatcherBatched(t *testing.T) {
	store := NewStore()
	p, _ := store.WrapContainer(map[string]any{"a": 1})

	var mu sync.Mutex
	var fired int
	w := store.Watch(p, func() {
		mu.Lock()
		fired++
		mu.Unlock()
	})
	defer w.Close()

	snap, access := w.Read()
	access.Get(snap, "a")

	p.Set("a", 2)
	p.Set("a", 3)
	p.Set("a", 4)
	store.Flush()

	mu.Lock()
	if fired != 1 {
		t.Errorf("expected one coalesced firing, got %d", fired)
	}
	mu.Unlock()
}

// TestWatcherClose verifies no firings after Close.
func TestWatcherClose(t *testing.T) {
	store := NewStore()
	p, _ := store.WrapContainer(map[string]any{"a": 1})

	var fired int
	w := store.Watch(p, func() { fired++ }, Sync())
	snap, access := w.Read()
	access.Get(snap, "a")

	w.Close()
	p.Set("a", 2)
	if fired != 0 {
		t.Errorf("closed watcher should not fire, got %d", fired)
	}
}
