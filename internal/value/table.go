package value

import "cardinal/internal/heap"

const tableMinCapacity = 16

type tableEntry struct {
	key  Value
	val  Value
	next *tableEntry
}

// Table is a separately-chained hash table, used (in practice, string-
// keyed) where collisions are frequent enough that open addressing would
// thrash. It backs the script-visible Table class; module-variable
// bindings live in Module's own name map and Value slice instead.
// Capacity doubles when count exceeds capacity, halves when count drops
// under capacity/2, floor 16.
type Table struct {
	buckets []*tableEntry
	count   int
	class   heap.Handle
}

func NewTable(h *heap.Heap, class heap.Handle) (heap.Handle, *Table) {
	t := &Table{class: class, buckets: make([]*tableEntry, tableMinCapacity)}
	return h.Allocate(t), t
}

func (t *Table) Len() int { return t.count }

func (t *Table) bucketFor(h *heap.Heap, key Value) int {
	idx := int(hashKey(h, key)) % len(t.buckets)
	if idx < 0 {
		idx += len(t.buckets)
	}
	return idx
}

func (t *Table) Get(h *heap.Heap, key Value) (Value, bool) {
	b := t.bucketFor(h, key)
	for e := t.buckets[b]; e != nil; e = e.next {
		if Equal(h, e.key, key) {
			return e.val, true
		}
	}
	return Nil, false
}

func (t *Table) Set(h *heap.Heap, key, val Value) {
	b := t.bucketFor(h, key)
	for e := t.buckets[b]; e != nil; e = e.next {
		if Equal(h, e.key, key) {
			e.val = val
			return
		}
	}
	t.buckets[b] = &tableEntry{key: key, val: val, next: t.buckets[b]}
	t.count++
	if t.count > len(t.buckets) {
		t.resize(h, len(t.buckets)*2)
	}
}

func (t *Table) Delete(h *heap.Heap, key Value) bool {
	b := t.bucketFor(h, key)
	var prev *tableEntry
	for e := t.buckets[b]; e != nil; e = e.next {
		if Equal(h, e.key, key) {
			if prev == nil {
				t.buckets[b] = e.next
			} else {
				prev.next = e.next
			}
			t.count--
			if len(t.buckets) > tableMinCapacity && t.count < len(t.buckets)/2 {
				newCap := len(t.buckets) / 2
				if newCap < tableMinCapacity {
					newCap = tableMinCapacity
				}
				t.resize(h, newCap)
			}
			return true
		}
		prev = e
	}
	return false
}

func (t *Table) resize(h *heap.Heap, newCap int) {
	old := t.buckets
	t.buckets = make([]*tableEntry, newCap)
	for _, head := range old {
		for e := head; e != nil; {
			next := e.next
			b := t.bucketFor(h, e.key)
			e.next = t.buckets[b]
			t.buckets[b] = e
			e = next
		}
	}
}

func (t *Table) Entries() [][2]Value {
	out := make([][2]Value, 0, t.count)
	for _, head := range t.buckets {
		for e := head; e != nil; e = e.next {
			out = append(out, [2]Value{e.key, e.val})
		}
	}
	return out
}

func (t *Table) ClassOf() heap.Handle { return t.class }

func (t *Table) MarkChildren(visit func(heap.Handle)) {
	visit(t.class)
	for _, head := range t.buckets {
		for e := head; e != nil; e = e.next {
			if e.key.IsObj() {
				visit(e.key.AsHandle())
			}
			if e.val.IsObj() {
				visit(e.val.AsHandle())
			}
		}
	}
}

func (t *Table) ByteSize() int { return 24 + len(t.buckets)*8 + t.count*40 }
