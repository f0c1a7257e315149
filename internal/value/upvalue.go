package value

import "cardinal/internal/heap"

// Upvalue is either open (its Slot field indexes a live slot on Fiber's
// value stack) or closed (it owns the captured Value directly). Per the
// architectural rewrite the spec requires, an open upvalue is keyed by
// (fiber handle, slot index) rather than a raw stack pointer: closing over
// a value survives the fiber's stack being reallocated on grow/shrink
// without any pointer-rebasing step, because the index is invariant under
// reallocation.
//
// Open upvalues form a per-fiber linked list (headed by Fiber.OpenHead), sorted
// by descending Slot, so RETURN can walk and close every upvalue at or
// above the exiting frame's base in one pass.
type Upvalue struct {
	Fiber  heap.Handle // owning fiber, valid only while Closed is false
	Slot   int
	Closed bool
	Value  Value
	Next   heap.Handle // next-lower-slot open upvalue in the fiber's list
	class  heap.Handle
}

func NewOpenUpvalue(h *heap.Heap, class heap.Handle, fiber heap.Handle, slot int) (heap.Handle, *Upvalue) {
	u := &Upvalue{Fiber: fiber, Slot: slot, class: class}
	return h.Allocate(u), u
}

// Close moves value (read by the caller from the fiber's stack slot) into
// the upvalue itself and detaches it from the fiber's open list.
func (u *Upvalue) Close(value Value) {
	u.Value = value
	u.Closed = true
	u.Fiber = heap.Nil
	u.Next = heap.Nil
}

func (u *Upvalue) ClassOf() heap.Handle { return u.class }

func (u *Upvalue) MarkChildren(visit func(heap.Handle)) {
	visit(u.class)
	if u.Closed {
		if u.Value.IsObj() {
			visit(u.Value.AsHandle())
		}
		return
	}
	visit(u.Fiber)
	visit(u.Next)
}

func (u *Upvalue) ByteSize() int { return 48 }
