package heap

import "fmt"

// Handle is a generational arena index: a typed, non-null reference to a
// heap object. Unlike a raw pointer it survives the arena's backing slice
// being resized, and a stale handle (one whose generation no longer
// matches the slot's current generation) is detected rather than followed
// into freed or reused memory — the rewrite spec.md §9 calls for in place
// of "cyclic object graphs via owning references".
type Handle struct {
	index uint32
	gen   uint32
}

// Nil is the zero Handle; it never refers to a live object.
var Nil = Handle{}

func (h Handle) IsNil() bool { return h == Nil }

// Hash returns a stable hash of the handle's arena slot, used by map/table
// keys for identity-compared object kinds (classes, ranges as a fallback).
func (h Handle) Hash() uint32 {
	return h.index*2654435761 ^ h.gen
}

func (h Handle) String() string {
	if h.IsNil() {
		return "<nil>"
	}
	return fmt.Sprintf("#%d.%d", h.index, h.gen)
}
