// Package state implements a store-scoped reactive state container.
// Application code mutates nested data through Proxy nodes as if they were
// ordinary containers; consumers read immutable, identity-stable Snapshots
// and subscribe to changes at the granularity of the paths they read.
package state

import (
	"reflect"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Kind identifies the container kind backing a Proxy or Snapshot.
type Kind int

const (
	KindMap     Kind = iota // map[string]any
	KindSlice               // []any
	KindOrdered             // *orderedmap.OrderedMap[string, any]
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindMap:
		return "map"
	case KindSlice:
		return "slice"
	case KindOrdered:
		return "ordered"
	}
	return "unknown"
}

// absentValue is the type of the Absent sentinel.
type absentValue struct{}

// Absent marks a key that is present but has no value. Setting a key to
// Absent keeps it enumerable; deleting the key removes it entirely. Writing
// past the end of a sequence fills the intervening positions with Absent.
var Absent = absentValue{}

// IsAbsent reports whether v is the Absent sentinel.
func IsAbsent(v any) bool {
	_, ok := v.(absentValue)
	return ok
}

// OrderedMap is the associative container kind accepted by Wrap.
type OrderedMap = orderedmap.OrderedMap[string, any]

// NewOrderedMap creates an empty ordered associative container.
func NewOrderedMap() *OrderedMap {
	return orderedmap.New[string, any]()
}

// registryKey identifies a raw container for the wrap registry.
// Maps and ordered maps key on their data pointer; slices key on the pointer
// to their first element plus their length, so a prefix view of a slice is a
// distinct container from the slice itself. The kind disambiguates colliding
// addresses.
type registryKey struct {
	kind Kind
	ptr  uintptr
	n    int
}

// containerKind classifies a raw value. ok is false for primitives and for
// unsupported container types, which pass through Wrap unwrapped.
func containerKind(v any) (Kind, bool) {
	switch v.(type) {
	case map[string]any:
		return KindMap, true
	case []any:
		return KindSlice, true
	case *OrderedMap:
		return KindOrdered, true
	}
	return 0, false
}

// containerKey returns the identity key for a raw container. ok is false when
// the container has no stable identity (nil map, empty slice); such values
// always wrap to a fresh node.
func containerKey(v any) (registryKey, bool) {
	switch c := v.(type) {
	case map[string]any:
		if c == nil {
			return registryKey{}, false
		}
		return registryKey{kind: KindMap, ptr: reflect.ValueOf(c).Pointer()}, true
	case []any:
		if len(c) == 0 {
			return registryKey{}, false
		}
		return registryKey{kind: KindSlice, ptr: reflect.ValueOf(c).Pointer(), n: len(c)}, true
	case *OrderedMap:
		if c == nil {
			return registryKey{}, false
		}
		return registryKey{kind: KindOrdered, ptr: reflect.ValueOf(c).Pointer()}, true
	}
	return registryKey{}, false
}

// sameValue compares two stored values by identity, the way an accepted
// write is distinguished from a no-op: comparable values by ==, containers
// and functions by data pointer, everything else as different.
func sameValue(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	av := reflect.ValueOf(a)
	bv := reflect.ValueOf(b)
	if av.Type() != bv.Type() {
		return false
	}
	switch av.Kind() {
	case reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return av.Pointer() == bv.Pointer()
	}
	if av.Comparable() {
		return a == b
	}
	return false
}
