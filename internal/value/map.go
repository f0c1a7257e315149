package value

import (
	"math"

	"cardinal/internal/heap"
)

const mapMinCapacity = 16

type mapSlot struct {
	key       Value
	val       Value
	used      bool
	tombstone bool
}

// Map is an open-addressed hash table keyed by immutable Values (null,
// bool, number, class, range, string). Load factor is capped at 75%;
// removed slots become tombstones, stepped over on probe and physically
// compacted on resize. Minimum capacity 16; grow/shrink factor 2.
type Map struct {
	slots      []mapSlot
	count      int
	tombstones int
	class      heap.Handle
}

func NewMap(h *heap.Heap, class heap.Handle) (heap.Handle, *Map) {
	m := &Map{class: class, slots: make([]mapSlot, mapMinCapacity)}
	return h.Allocate(m), m
}

func (m *Map) Len() int { return m.count }

func hashKey(h *heap.Heap, v Value) uint32 {
	switch v.Kind() {
	case KindNull:
		return 0x9e3779b1
	case KindUndefined:
		return 0x85ebca77
	case KindBool:
		if v.AsBool() {
			return 0x27d4eb2f
		}
		return 0x165667b1
	case KindNumber:
		u := math.Float64bits(v.AsNumber())
		return uint32(u) ^ uint32(u>>32)
	case KindObj:
		obj, ok := h.Get(v.AsHandle())
		if !ok {
			return 0
		}
		switch o := obj.(type) {
		case *String:
			return o.hash
		case *Range:
			fb := math.Float64bits(o.From)
			tb := math.Float64bits(o.To)
			hv := uint32(fb) ^ uint32(fb>>32) ^ uint32(tb)*2654435761 ^ uint32(tb>>32)
			if o.Inclusive {
				hv ^= 0x1
			}
			return hv
		default:
			// classes and other identity-compared objects: hash the handle's
			// arena index, which is stable for the object's lifetime.
			return v.AsHandle().Hash()
		}
	default:
		return 0
	}
}

// find returns the slot index for key: either the slot that already holds
// it, or the first free/tombstone slot where it should be inserted. ok
// reports whether key was found.
func (m *Map) find(h *heap.Heap, key Value) (idx int, ok bool) {
	cap_ := len(m.slots)
	start := int(hashKey(h, key)) % cap_
	if start < 0 {
		start += cap_
	}
	firstTombstone := -1
	for i := 0; i < cap_; i++ {
		probe := (start + i) % cap_
		s := &m.slots[probe]
		if !s.used {
			if s.tombstone {
				if firstTombstone == -1 {
					firstTombstone = probe
				}
				continue
			}
			if firstTombstone != -1 {
				return firstTombstone, false
			}
			return probe, false
		}
		if Equal(h, s.key, key) {
			return probe, true
		}
	}
	if firstTombstone != -1 {
		return firstTombstone, false
	}
	return -1, false
}

func (m *Map) Get(h *heap.Heap, key Value) (Value, bool) {
	idx, ok := m.find(h, key)
	if !ok || idx < 0 {
		return Nil, false
	}
	return m.slots[idx].val, true
}

func (m *Map) Set(h *heap.Heap, key, val Value) {
	if float64(m.count+1) > 0.75*float64(len(m.slots)) {
		m.resize(h, len(m.slots)*2)
	}
	idx, found := m.find(h, key)
	s := &m.slots[idx]
	if !found {
		if s.tombstone {
			m.tombstones--
		}
		m.count++
	}
	s.key, s.val, s.used, s.tombstone = key, val, true, false
}

// Delete removes key. Per the spec's resize anchor, a tombstone threshold
// of 25% live load after removal triggers a resize (which also compacts
// every tombstone away).
func (m *Map) Delete(h *heap.Heap, key Value) bool {
	idx, found := m.find(h, key)
	if !found {
		return false
	}
	m.slots[idx] = mapSlot{tombstone: true}
	m.count--
	m.tombstones++

	cap_ := len(m.slots)
	if cap_ > mapMinCapacity && float64(m.count) < 0.25*float64(cap_) {
		newCap := cap_ / 2
		if newCap < mapMinCapacity {
			newCap = mapMinCapacity
		}
		m.resize(h, newCap)
	}
	return true
}

func (m *Map) resize(h *heap.Heap, newCap int) {
	if newCap < mapMinCapacity {
		newCap = mapMinCapacity
	}
	old := m.slots
	m.slots = make([]mapSlot, newCap)
	m.count = 0
	m.tombstones = 0
	for _, s := range old {
		if !s.used {
			continue
		}
		idx, _ := m.find(h, s.key)
		m.slots[idx] = mapSlot{key: s.key, val: s.val, used: true}
		m.count++
	}
}

// Keys and Values return live entries in arbitrary (slot) order.
func (m *Map) Keys() []Value {
	out := make([]Value, 0, m.count)
	for _, s := range m.slots {
		if s.used {
			out = append(out, s.key)
		}
	}
	return out
}

func (m *Map) Entries() [][2]Value {
	out := make([][2]Value, 0, m.count)
	for _, s := range m.slots {
		if s.used {
			out = append(out, [2]Value{s.key, s.val})
		}
	}
	return out
}

func (m *Map) ClassOf() heap.Handle { return m.class }

func (m *Map) MarkChildren(visit func(heap.Handle)) {
	visit(m.class)
	for _, s := range m.slots {
		if !s.used {
			continue
		}
		if s.key.IsObj() {
			visit(s.key.AsHandle())
		}
		if s.val.IsObj() {
			visit(s.val.AsHandle())
		}
	}
}

func (m *Map) ByteSize() int { return 24 + len(m.slots)*40 }
