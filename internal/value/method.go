package value

import "cardinal/internal/heap"

// BoundMethod is a first-class `(symbol, name, receiver)` triple created
// at runtime by `object.method` partial application, currying a method on
// a receiver for later invocation (e.g. passed to List.map).
type BoundMethod struct {
	Symbol   int
	Name     string
	Receiver Value
	class    heap.Handle
}

func NewBoundMethod(h *heap.Heap, class heap.Handle, symbol int, name string, receiver Value) (heap.Handle, *BoundMethod) {
	m := &BoundMethod{Symbol: symbol, Name: name, Receiver: receiver, class: class}
	return h.Allocate(m), m
}

func (m *BoundMethod) ClassOf() heap.Handle { return m.class }

func (m *BoundMethod) MarkChildren(visit func(heap.Handle)) {
	visit(m.class)
	if m.Receiver.IsObj() {
		visit(m.Receiver.AsHandle())
	}
}

func (m *BoundMethod) ByteSize() int { return 48 }
