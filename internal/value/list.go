package value

import "cardinal/internal/heap"

const listMinCapacity = 10

// List is a growable ordered sequence of Values. Capacity grows by 2x and
// shrinks by /2, never below listMinCapacity.
type List struct {
	items []Value
	class heap.Handle
}

func NewList(h *heap.Heap, class heap.Handle) (heap.Handle, *List) {
	obj := &List{class: class}
	return h.Allocate(obj), obj
}

func (l *List) Len() int { return len(l.items) }

func (l *List) Get(i int) (Value, bool) {
	if i < 0 || i >= len(l.items) {
		return Nil, false
	}
	return l.items[i], true
}

func (l *List) Set(i int, v Value) bool {
	if i < 0 || i >= len(l.items) {
		return false
	}
	l.items[i] = v
	return true
}

func (l *List) Append(v Value) {
	l.items = l.growIfNeeded(append(l.items, v))
}

// growIfNeeded is a no-op placeholder for the geometric growth policy: Go
// slices already grow ~2x on append, so the only policy this type must
// enforce itself is shrink-on-removal, which RemoveAt implements below.
func (l *List) growIfNeeded(items []Value) []Value { return items }

func (l *List) Insert(i int, v Value) bool {
	if i < 0 || i > len(l.items) {
		return false
	}
	l.items = append(l.items, Nil)
	copy(l.items[i+1:], l.items[i:])
	l.items[i] = v
	return true
}

func (l *List) RemoveAt(i int) (Value, bool) {
	if i < 0 || i >= len(l.items) {
		return Nil, false
	}
	v := l.items[i]
	l.items = append(l.items[:i], l.items[i+1:]...)
	l.maybeShrink()
	return v, true
}

// maybeShrink halves the backing array's capacity once usage drops below a
// quarter of it, with a floor of listMinCapacity, so a list that grew
// large and then drained doesn't keep pinning a big backing array.
func (l *List) maybeShrink() {
	cap_ := cap(l.items)
	if cap_ <= listMinCapacity {
		return
	}
	if len(l.items) >= cap_/4 {
		return
	}
	newCap := cap_ / 2
	if newCap < listMinCapacity {
		newCap = listMinCapacity
	}
	shrunk := make([]Value, len(l.items), newCap)
	copy(shrunk, l.items)
	l.items = shrunk
}

func (l *List) Items() []Value { return l.items }
func (l *List) ClassOf() heap.Handle { return l.class }

func (l *List) MarkChildren(visit func(heap.Handle)) {
	visit(l.class)
	for _, v := range l.items {
		if v.IsObj() {
			visit(v.AsHandle())
		}
	}
}

func (l *List) ByteSize() int { return 24 + cap(l.items)*24 }
