package value

import "cardinal/internal/heap"

// Closure pairs an Fn with the array of upvalues it captured. The Fn is
// referenced by handle, not embedded, since an Fn is itself a heap object
// shared by every closure created from the same compiled function literal.
type Closure struct {
	FnHandle heap.Handle
	Upvalues []heap.Handle
	class    heap.Handle
}

func NewClosure(h *heap.Heap, class heap.Handle, fn heap.Handle, upvalueCount int) (heap.Handle, *Closure) {
	c := &Closure{FnHandle: fn, Upvalues: make([]heap.Handle, upvalueCount), class: class}
	return h.Allocate(c), c
}

func (c *Closure) ClassOf() heap.Handle { return c.class }

func (c *Closure) MarkChildren(visit func(heap.Handle)) {
	visit(c.class)
	visit(c.FnHandle)
	for _, u := range c.Upvalues {
		visit(u)
	}
}

func (c *Closure) ByteSize() int { return 24 + len(c.Upvalues)*8 }
