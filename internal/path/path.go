// Package path parses and resolves dot-separated value paths like
// "users.0.name" against a tracked store. Numeric segments are 0-based
// sequence indices; everything else is a key.
package path

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cast"

	"github.com/zot/reactive/state"
)

// Segment is one step of a parsed path.
type Segment struct {
	Key     string
	Index   int
	IsIndex bool
}

// Path is a parsed value path. The zero value addresses the root.
type Path struct {
	Segments []Segment
	Raw      string
}

// Parse splits a dot-separated path into segments. Decimal segments become
// indices. An empty string addresses the root.
func Parse(s string) (Path, error) {
	p := Path{Raw: s}
	if s == "" {
		return p, nil
	}
	for _, part := range strings.Split(s, ".") {
		if part == "" {
			return Path{}, fmt.Errorf("empty segment in path %q", s)
		}
		seg := Segment{Key: part}
		if idx, err := strconv.Atoi(part); err == nil {
			if idx < 0 {
				return Path{}, fmt.Errorf("negative index in path %q", s)
			}
			seg.Index = idx
			seg.IsIndex = true
		}
		p.Segments = append(p.Segments, seg)
	}
	return p, nil
}

// FromAny builds a path from loosely typed input: a path string, or a list
// of keys and numbers as scripts and tools pass them.
func FromAny(v any) (Path, error) {
	switch arg := v.(type) {
	case nil:
		return Path{}, nil
	case string:
		return Parse(arg)
	case []any:
		var parts []string
		for _, elem := range arg {
			s, err := cast.ToStringE(elem)
			if err != nil {
				return Path{}, fmt.Errorf("path element %v: %w", elem, err)
			}
			parts = append(parts, s)
		}
		return Parse(strings.Join(parts, "."))
	default:
		idx, err := cast.ToIntE(v)
		if err != nil {
			return Path{}, fmt.Errorf("unsupported path value %T", v)
		}
		return Parse(strconv.Itoa(idx))
	}
}

// Keys renders the segments as string keys, indices in decimal.
func (p Path) Keys() []string {
	keys := make([]string, len(p.Segments))
	for i, seg := range p.Segments {
		keys[i] = seg.Key
	}
	return keys
}

// String reconstructs the dot form.
func (p Path) String() string {
	return strings.Join(p.Keys(), ".")
}

// IsRoot reports whether the path has no segments.
func (p Path) IsRoot() bool {
	return len(p.Segments) == 0
}

// Resolve walks the path from root and returns the addressed value. The
// value may be a *state.Proxy for container positions.
func Resolve(root *state.Proxy, p Path) (any, bool) {
	var current any = root
	for _, seg := range p.Segments {
		node, ok := current.(*state.Proxy)
		if !ok {
			return nil, false
		}
		if seg.IsIndex && node.Kind() == state.KindSlice {
			current, ok = node.Index(seg.Index)
		} else {
			current, ok = node.Get(seg.Key)
		}
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// ResolveSnapshot resolves the path within an immutable snapshot.
func ResolveSnapshot(snap *state.Snapshot, p Path) (any, bool) {
	if p.IsRoot() {
		return snap, true
	}
	return snap.Value(p.Keys()...)
}

// parent resolves all but the last segment and returns the container the
// final segment addresses.
func parent(root *state.Proxy, p Path) (*state.Proxy, Segment, error) {
	if p.IsRoot() {
		return nil, Segment{}, fmt.Errorf("path addresses the root")
	}
	head := Path{Segments: p.Segments[:len(p.Segments)-1]}
	v, ok := Resolve(root, head)
	if !ok {
		return nil, Segment{}, fmt.Errorf("path %q: %q not found", p.Raw, head.String())
	}
	node, ok := v.(*state.Proxy)
	if !ok {
		return nil, Segment{}, fmt.Errorf("path %q: %q is not a container", p.Raw, head.String())
	}
	return node, p.Segments[len(p.Segments)-1], nil
}

// Write sets the value at the path. The final segment's container must
// already exist, and on sequences the final segment must be an index.
func Write(root *state.Proxy, p Path, value any) error {
	node, last, err := parent(root, p)
	if err != nil {
		return err
	}
	if node.Kind() == state.KindSlice {
		if !last.IsIndex {
			return fmt.Errorf("path %q: %q is not a sequence index", p.Raw, last.Key)
		}
		node.SetIndex(last.Index, value)
		return nil
	}
	node.Set(last.Key, value)
	return nil
}

// Delete removes the value at the path.
func Delete(root *state.Proxy, p Path) error {
	node, last, err := parent(root, p)
	if err != nil {
		return err
	}
	if !node.Delete(last.Key) {
		return fmt.Errorf("path %q not present", p.Raw)
	}
	return nil
}
