package value

import "cardinal/internal/heap"

// Instance is a class pointer, a field array sized to the class's total
// field count, and the super-adjustment stack: a small integer stack
// describing the current field-offset adjustment while running a method
// inherited from a secondary superclass.
type Instance struct {
	Class       heap.Handle
	Fields      []Value
	SuperAdjust []int
	Foreign     interface{} // opaque host pointer, for foreign classes
	heap        *heap.Heap  // needed at sweep time to look up Class for Destroy
}

func NewInstance(h *heap.Heap, class heap.Handle, numFields int) (heap.Handle, *Instance) {
	inst := &Instance{Class: class, Fields: make([]Value, numFields), heap: h}
	return h.Allocate(inst), inst
}

func (i *Instance) ClassOf() heap.Handle { return i.Class }

// PushAdjust/PopAdjust implement the per-call discipline: a method
// dispatch pushes its defining class's field-offset adjustment before
// running, and RETURN pops it.
func (i *Instance) PushAdjust(offset int) { i.SuperAdjust = append(i.SuperAdjust, offset) }

func (i *Instance) PopAdjust() {
	if n := len(i.SuperAdjust); n > 0 {
		i.SuperAdjust = i.SuperAdjust[:n-1]
	}
}

func (i *Instance) CurrentAdjust() int {
	if n := len(i.SuperAdjust); n > 0 {
		return i.SuperAdjust[n-1]
	}
	return 0
}

func (i *Instance) MarkChildren(visit func(heap.Handle)) {
	visit(i.Class)
	for _, f := range i.Fields {
		if f.IsObj() {
			visit(f.AsHandle())
		}
	}
}

func (i *Instance) ByteSize() int { return 32 + len(i.Fields)*24 }

// Destroy runs the class's foreign destructor, if any, exactly once when
// the instance is swept. It implements heap.Destroyer.
func (i *Instance) Destroy() {
	obj, ok := i.heap.Get(i.Class)
	if !ok {
		return
	}
	class, ok := obj.(*Class)
	if !ok || class.Destructor == nil {
		return
	}
	class.Destructor.DestroyForeign(i.Foreign)
}
