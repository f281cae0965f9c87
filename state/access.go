package state

import "sync"

// Access records which paths a consumer read from a snapshot during one
// consumption pass. The record feeds Affected, which limits change reporting
// to the paths actually read.
type Access struct {
	mu    sync.Mutex
	paths [][]string
}

// NewAccess creates an empty read record.
func NewAccess() *Access {
	return &Access{}
}

// Get reads a path from snap and records it.
func (a *Access) Get(snap *Snapshot, path ...string) (any, bool) {
	a.Track(path...)
	return snap.Value(path...)
}

// Track records a path without reading it, for consumers that resolve values
// elsewhere.
func (a *Access) Track(path ...string) {
	p := make([]string, len(path))
	copy(p, path)
	a.mu.Lock()
	a.paths = append(a.paths, p)
	a.mu.Unlock()
}

// Paths returns a copy of the recorded read-set.
func (a *Access) Paths() [][]string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([][]string, len(a.paths))
	for i, p := range a.paths {
		cp := make([]string, len(p))
		copy(cp, p)
		out[i] = cp
	}
	return out
}

// Affected reports whether any path recorded in a differs between old and
// cur: containers compare by snapshot identity, primitives by value, and a
// presence change (key appearing or disappearing) counts as a difference.
// Paths never read are ignored even if their values changed.
func Affected(a *Access, old, cur *Snapshot) bool {
	if old == cur {
		return false
	}
	a.mu.Lock()
	paths := a.paths
	a.mu.Unlock()

	for _, path := range paths {
		ov, ook := old.Value(path...)
		nv, nok := cur.Value(path...)
		if ook != nok {
			return true
		}
		if !ook {
			continue
		}
		if !snapshotValueEqual(ov, nv) {
			return true
		}
	}
	return false
}

// snapshotValueEqual compares two snapshot-resolved values the way Affected
// needs: identity for container snapshots, sentinel equality for Absent,
// sameValue for the rest.
func snapshotValueEqual(a, b any) bool {
	if as, ok := a.(*Snapshot); ok {
		bs, ok2 := b.(*Snapshot)
		return ok2 && as == bs
	}
	if IsAbsent(a) || IsAbsent(b) {
		return IsAbsent(a) && IsAbsent(b)
	}
	return sameValue(a, b)
}
