// Package heap implements the memory manager: a single reallocate-style
// allocation entry point, a generational arena standing in for the
// intrusive allocation list, and a tri-color-conceptual (single mark-bit,
// worklist-driven) mark-and-sweep collector with a pin stack for temporary
// roots. Every component that holds roots (the current fiber, the module
// table, the compiler, the embedder handle table) registers a root
// provider with AddRoot; the collector knows nothing about what it is
// marking beyond the heap.Object interface.
package heap

// RootProvider is called during the mark phase; it must call visit once
// for every handle it considers a root.
type RootProvider func(visit func(Handle))

// GCStats mirrors what an embedder can read back via Heap.Stats.
type GCStats struct {
	BytesAllocated int
	NextGC         int
	NumCollections int
}

type slot struct {
	obj    Object
	gen    uint32
	marked bool
	alive  bool
}

// Heap owns every GC-managed object allocated through it. It is not safe
// for concurrent use: the spec's single executor thread owns one Heap per
// VM.
type Heap struct {
	slots    []slot
	freeList []uint32

	roots    []RootProvider
	pinStack []Handle

	bytesInUse        int
	nextGC            int
	minNextGC         int
	heapGrowthPercent int

	collectorEnabled bool
	stress           bool

	collections int
}

// New creates a collector with the given initial threshold (bytes before
// the first collection), floor threshold, and post-collection growth
// percentage (nextGC = bytesInUse * (100+growthPercent)/100).
func New(initialHeapSize, minHeapSize, heapGrowthPercent int) *Heap {
	return &Heap{
		nextGC:            initialHeapSize,
		minNextGC:         minHeapSize,
		heapGrowthPercent: heapGrowthPercent,
		collectorEnabled:  true,
		// slot 0 is permanently unused so the zero Handle means "nil".
		slots: []slot{{}},
	}
}

func (h *Heap) SetCollectorEnabled(enabled bool) { h.collectorEnabled = enabled }
func (h *Heap) SetStress(stress bool)            { h.stress = stress }

func (h *Heap) AddRoot(r RootProvider) { h.roots = append(h.roots, r) }

// Pin registers v as a temporary root, protecting it (and everything it
// references) from collection until the matching Unpin. Push/pop must be
// lexically balanced around any call that may allocate; no collection
// happens inside a push that has not yet returned, per the single-threaded
// locking discipline in the spec.
func (h *Heap) Pin(v Handle) { h.pinStack = append(h.pinStack, v) }

func (h *Heap) Unpin() {
	if len(h.pinStack) == 0 {
		return
	}
	h.pinStack = h.pinStack[:len(h.pinStack)-1]
}

// Allocate is the single reallocate-style entry point: every object enters
// the arena here, the byte counter is updated, and a collection is
// triggered if the counter has crossed nextGC (or, in stress mode, on
// every call).
func (h *Heap) Allocate(obj Object) Handle {
	if h.stress && h.collectorEnabled {
		h.Collect()
	}

	var idx uint32
	var gen uint32
	if n := len(h.freeList); n > 0 {
		idx = h.freeList[n-1]
		h.freeList = h.freeList[:n-1]
		gen = h.slots[idx].gen
	} else {
		idx = uint32(len(h.slots))
		h.slots = append(h.slots, slot{})
		gen = 0
	}
	h.slots[idx] = slot{obj: obj, gen: gen, alive: true}
	h.bytesInUse += obj.ByteSize()

	if !h.stress && h.collectorEnabled && h.bytesInUse > h.nextGC {
		h.Collect()
	}
	return Handle{index: idx, gen: gen}
}

// Get dereferences a handle. A stale or nil handle returns (nil, false).
func (h *Heap) Get(v Handle) (Object, bool) {
	if v.IsNil() || int(v.index) >= len(h.slots) {
		return nil, false
	}
	s := &h.slots[v.index]
	if !s.alive || s.gen != v.gen {
		return nil, false
	}
	return s.obj, true
}

// MustGet panics on a stale handle; used where the caller has already
// established liveness (e.g. handles taken straight off the value stack).
func (h *Heap) MustGet(v Handle) Object {
	obj, ok := h.Get(v)
	if !ok {
		panic("heap: dereferenced a stale or nil handle " + v.String())
	}
	return obj
}

// Collect runs one full mark-and-sweep pass. It does nothing while the
// collector is disabled.
func (h *Heap) Collect() {
	if !h.collectorEnabled {
		return
	}
	h.mark()
	h.sweep()
	h.collections++
	h.nextGC = h.bytesInUse + h.bytesInUse*h.heapGrowthPercent/100
	if h.nextGC < h.minNextGC {
		h.nextGC = h.minNextGC
	}
}

func (h *Heap) mark() {
	var worklist []Handle
	visit := func(v Handle) {
		if v.IsNil() || int(v.index) >= len(h.slots) {
			return
		}
		s := &h.slots[v.index]
		if !s.alive || s.gen != v.gen || s.marked {
			return
		}
		s.marked = true
		worklist = append(worklist, v)
	}

	for _, v := range h.pinStack {
		visit(v)
	}
	for _, root := range h.roots {
		root(visit)
	}

	for len(worklist) > 0 {
		v := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		s := &h.slots[v.index]
		s.obj.MarkChildren(visit)
	}
}

func (h *Heap) sweep() {
	for i := 1; i < len(h.slots); i++ {
		s := &h.slots[i]
		if !s.alive {
			continue
		}
		if s.marked {
			s.marked = false
			continue
		}
		if d, ok := s.obj.(Destroyer); ok {
			d.Destroy()
		}
		h.bytesInUse -= s.obj.ByteSize()
		s.obj = nil
		s.alive = false
		s.gen++
		h.freeList = append(h.freeList, uint32(i))
	}
}

func (h *Heap) Stats() GCStats {
	return GCStats{BytesAllocated: h.bytesInUse, NextGC: h.nextGC, NumCollections: h.collections}
}

func (h *Heap) BytesInUse() int { return h.bytesInUse }
