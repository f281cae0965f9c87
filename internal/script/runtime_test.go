package script

import (
	"testing"

	"github.com/zot/reactive/internal/config"
	"github.com/zot/reactive/state"
)

func testRuntime(t *testing.T) (*Runtime, *state.Proxy) {
	t.Helper()
	cfg := config.DefaultConfig()
	store := state.NewStore()
	root, ok := store.WrapContainer(map[string]any{
		"count": 1,
		"items": []any{"a", "b"},
	})
	if !ok {
		t.Fatal("root did not wrap")
	}
	r := NewRuntime(cfg, store, root)
	t.Cleanup(r.Close)
	return r, root
}

// TestScriptGetSet verifies reads and writes through the state module.
func TestScriptGetSet(t *testing.T) {
	r, root := testRuntime(t)

	if err := r.RunString(`state.set("count", state.get("count") + 1)`); err != nil {
		t.Fatalf("script failed: %v", err)
	}
	if v, _ := root.Get("count"); v != float64(2) {
		t.Errorf("expected count=2, got %v", v)
	}

	if err := r.RunString(`state.set("user", {name = "alice", tags = {"x", "y"}})`); err != nil {
		t.Fatalf("script failed: %v", err)
	}
	userAny, _ := root.Get("user")
	user := userAny.(*state.Proxy)
	if v, _ := user.Get("name"); v != "alice" {
		t.Errorf("expected name=alice, got %v", v)
	}
	tagsAny, _ := user.Get("tags")
	tags := tagsAny.(*state.Proxy)
	if tags.Kind() != state.KindSlice || tags.Len() != 2 {
		t.Errorf("expected 2-element sequence, got kind=%v len=%d", tags.Kind(), tags.Len())
	}
}

// TestScriptDeleteHasKeys verifies del, has, and keys.
func TestScriptDeleteHasKeys(t *testing.T) {
	r, root := testRuntime(t)

	script := `
removed = state.del("count")
missing = state.has("count")
ks = state.keys("")
`
	if err := r.RunString(script); err != nil {
		t.Fatalf("script failed: %v", err)
	}
	if root.Has("count") {
		t.Error("count should be deleted")
	}
	if err := r.RunString(`assert(removed == true and missing == false)`); err != nil {
		t.Errorf("flags wrong: %v", err)
	}
	if err := r.RunString(`assert(#ks == 1 and ks[1] == "items")`); err != nil {
		t.Errorf("keys wrong: %v", err)
	}
}

// TestScriptSequenceOps verifies push and splice with Lua 1-based starts.
func TestScriptSequenceOps(t *testing.T) {
	r, root := testRuntime(t)

	script := `
state.push("items", "c")
removed = state.splice("items", 2, 1, "x", "y")
`
	if err := r.RunString(script); err != nil {
		t.Fatalf("script failed: %v", err)
	}

	itemsAny, _ := root.Get("items")
	items := itemsAny.(*state.Proxy)
	want := []any{"a", "x", "y", "c"}
	if items.Len() != len(want) {
		t.Fatalf("expected %d items, got %d", len(want), items.Len())
	}
	for i, expected := range want {
		if v, _ := items.Index(i); v != expected {
			t.Errorf("index %d: expected %v, got %v", i, expected, v)
		}
	}
	if err := r.RunString(`assert(#removed == 1 and removed[1] == "b")`); err != nil {
		t.Errorf("removed values wrong: %v", err)
	}
}

// TestScriptSnapshot verifies snapshots come back as detached plain tables.
func TestScriptSnapshot(t *testing.T) {
	r, root := testRuntime(t)

	script := `
snap = state.snapshot("")
state.set("count", 99)
`
	if err := r.RunString(script); err != nil {
		t.Fatalf("script failed: %v", err)
	}
	// The copy predates the mutation.
	if err := r.RunString(`assert(snap.count == 1 and snap.items[2] == "b")`); err != nil {
		t.Errorf("snapshot copy wrong: %v", err)
	}
	if v, _ := root.Get("count"); v != float64(99) {
		t.Errorf("expected count=99, got %v", v)
	}
}

// TestScriptNotifications verifies script mutations reach subscribers.
func TestScriptNotifications(t *testing.T) {
	r, root := testRuntime(t)

	var count int
	r.store.Subscribe(root, func([]state.Change) { count++ }, state.Sync())

	if err := r.RunString(`state.set("count", 5)`); err != nil {
		t.Fatalf("script failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected one notification, got %d", count)
	}
}
