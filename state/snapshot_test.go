package state

import (
	"encoding/json"
	"testing"
)

// TestSnapshotIdentityReuse verifies two reads with no intervening mutation
// return the same object.
func TestSnapshotIdentityReuse(t *testing.T) {
	store := NewStore()
	p, _ := store.WrapContainer(map[string]any{"count": 0})

	s0 := p.Snapshot()
	s1 := p.Snapshot()
	if s0 != s1 {
		t.Error("snapshots without intervening mutation should be identical")
	}
}

// TestSnapshotSupersession verifies the documented count scenario: old
// snapshots stay valid while new reads observe the new state.
func TestSnapshotSupersession(t *testing.T) {
	store := NewStore()
	p, _ := store.WrapContainer(map[string]any{"count": 0})

	s0 := p.Snapshot()
	p.Set("count", 1)
	s1 := p.Snapshot()

	if s0 == s1 {
		t.Fatal("mutation should produce a new snapshot identity")
	}
	if v, _ := s0.Get("count"); v != 0 {
		t.Errorf("stale snapshot should keep old value, got %v", v)
	}
	if v, _ := s1.Get("count"); v != 1 {
		t.Errorf("new snapshot should have new value, got %v", v)
	}
}

// TestUnrelatedSiblingStability verifies mutating one subtree keeps the
// sibling subtree's snapshot identity.
func TestUnrelatedSiblingStability(t *testing.T) {
	store := NewStore()
	root, _ := store.WrapContainer(map[string]any{
		"a": map[string]any{"n": 0},
		"b": map[string]any{"n": 0},
	})

	s0 := root.Snapshot()
	a0, _ := s0.Get("a")
	b0, _ := s0.Get("b")

	aAny, _ := root.Get("a")
	aAny.(*Proxy).Set("n", 1)

	s1 := root.Snapshot()
	if s0 == s1 {
		t.Fatal("root snapshot should rebuild after descendant change")
	}
	a1, _ := s1.Get("a")
	b1, _ := s1.Get("b")
	if a1.(*Snapshot) == a0.(*Snapshot) {
		t.Error("changed child should have a new snapshot identity")
	}
	if b1.(*Snapshot) != b0.(*Snapshot) {
		t.Error("unchanged sibling should reuse its snapshot identity")
	}
}

// TestSnapshotPresence verifies present-but-Absent keys are distinguishable
// from missing keys in snapshots.
func TestSnapshotPresence(t *testing.T) {
	store := NewStore()
	p, _ := store.WrapContainer(map[string]any{"a": 1})
	p.Set("a", Absent)

	snap := p.Snapshot()
	v, ok := snap.Get("a")
	if !ok || !IsAbsent(v) {
		t.Errorf("expected present Absent key, got %v (present=%v)", v, ok)
	}
	if _, ok := snap.Get("missing"); ok {
		t.Error("missing key should not be present")
	}
	if snap.Len() != 1 {
		t.Errorf("expected 1 enumerable key, got %d", snap.Len())
	}
}

// TestSnapshotValuePath verifies path resolution through nested snapshots.
func TestSnapshotValuePath(t *testing.T) {
	store := NewStore()
	p, _ := store.WrapContainer(map[string]any{
		"users": []any{
			map[string]any{"name": "alice"},
			map[string]any{"name": "bob"},
		},
	})

	snap := p.Snapshot()
	v, ok := snap.Value("users", "1", "name")
	if !ok || v != "bob" {
		t.Errorf("expected bob, got %v (present=%v)", v, ok)
	}
	if _, ok := snap.Value("users", "5", "name"); ok {
		t.Error("out-of-range path should not resolve")
	}
}

// TestSnapshotJSON verifies the JSON rendering including Absent holes and
// ordered containers.
func TestSnapshotJSON(t *testing.T) {
	store := NewStore()
	p, _ := store.WrapContainer([]any{0})
	p.SetIndex(2, "x")

	data, err := json.Marshal(p.Snapshot())
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(data) != `[0,null,"x"]` {
		t.Errorf("unexpected sequence JSON: %s", data)
	}

	om := NewOrderedMap()
	om.Set("z", 1)
	om.Set("a", 2)
	op, _ := store.WrapContainer(om)
	data, err = json.Marshal(op.Snapshot())
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(data) != `{"z":1,"a":2}` {
		t.Errorf("ordered JSON should keep insertion order: %s", data)
	}
}

// TestSnapshotJSONCycle verifies cyclic snapshots render without recursing
// forever.
func TestSnapshotJSONCycle(t *testing.T) {
	store := NewStore()
	m := map[string]any{"n": 1}
	m["self"] = m
	p, _ := store.WrapContainer(m)

	data, err := json.Marshal(p.Snapshot())
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("round trip failed: %v", err)
	}
	if decoded["self"] != nil {
		t.Errorf("cycle should render as null, got %v", decoded["self"])
	}
}

// TestDeepReuseAcrossLevels verifies an unchanged grandchild keeps its
// identity when both its parent and grandparent rebuild.
func TestDeepReuseAcrossLevels(t *testing.T) {
	store := NewStore()
	root, _ := store.WrapContainer(map[string]any{
		"branch": map[string]any{
			"stable":  map[string]any{"n": 0},
			"mutable": map[string]any{"n": 0},
		},
	})

	s0 := root.Snapshot()
	branch0, _ := s0.Get("branch")
	stable0, _ := s0.Value("branch", "stable")

	branchAny, _ := root.Get("branch")
	mutableAny, _ := branchAny.(*Proxy).Get("mutable")
	mutableAny.(*Proxy).Set("n", 1)

	s1 := root.Snapshot()
	branch1, _ := s1.Get("branch")
	if branch1.(*Snapshot) == branch0.(*Snapshot) {
		t.Error("branch snapshot should rebuild")
	}
	stable1, _ := s1.Value("branch", "stable")
	if stable1.(*Snapshot) != stable0.(*Snapshot) {
		t.Error("unchanged grandchild should keep its identity")
	}
}
