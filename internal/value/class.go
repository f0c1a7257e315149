package value

import "cardinal/internal/heap"

// PrimitiveResult is the result code a built-in (primitive) method returns
// to the dispatcher.
type PrimitiveResult int

const (
	PrimValue    PrimitiveResult = iota // keep the returned Value on the stack
	PrimError                          // raise with the returned Value as the message
	PrimCall                           // a new frame was already pushed by the primitive
	PrimRunFiber                       // switch the current fiber to the returned Value
)

// PrimitiveFn is a built-in method implemented in Go. It receives the heap
// (to allocate results) and the receiver+argument slice (args[0] is the
// receiver, matching the bytecode CALL_n convention of popping n+1 cells).
type PrimitiveFn func(h *heap.Heap, args []Value) (Value, PrimitiveResult)

// ForeignCall is what a host-registered foreign method sees: the
// receiver-plus-arguments slice and a single write-once return slot, per
// the embedder bridge (spec.md §4.7).
type ForeignCall struct {
	Heap     *heap.Heap
	Args     []Value // Args[0] is the receiver
	ret      Value
	retSet   bool
	ErrorMsg string
	Errored  bool
}

func (c *ForeignCall) Receiver() Value { return c.Args[0] }

func (c *ForeignCall) Return(v Value) {
	c.ret = v
	c.retSet = true
}

func (c *ForeignCall) Abort(msg string) {
	c.ErrorMsg = msg
	c.Errored = true
}

func (c *ForeignCall) Result() (Value, bool) { return c.ret, c.retSet }

type ForeignFn func(call *ForeignCall)

// Destructor is the contract a foreign class's instances are destroyed
// with: called exactly once per sweep of an unreachable foreign instance.
// Expressed as an interface rather than Cardinal's raw function pointer on
// Class, per the spec's rewrite note.
type Destructor interface {
	DestroyForeign(ptr interface{})
}

type DestructorFunc func(ptr interface{})

func (f DestructorFunc) DestroyForeign(ptr interface{}) { f(ptr) }

type MethodKind uint8

const (
	MethodNone MethodKind = iota
	MethodPrimitive
	MethodForeign
	MethodBlock
)

// MethodSlot is one entry in a class's dense method table.
type MethodSlot struct {
	Kind      MethodKind
	Primitive PrimitiveFn
	Foreign   ForeignFn
	Closure   heap.Handle // MethodBlock: the closure handle to dispatch to
	Name      string      // method signature, for "does not implement" errors
	// FieldOffset is the field-offset adjustment a dispatch of this slot
	// must push onto the receiving Instance's super-adjustment stack before
	// running (0 for a class's own methods and for anything copied verbatim
	// from its primary superclass, since the primary's fields start at
	// offset 0; non-zero for a slot resolved from a secondary superclass via
	// the ancestor walk in internal/vm, which memoizes the result here).
	FieldOffset int
}

// Class carries a name, total field count (own + inherited), its ordered
// superclass list, the inherited-field offset contributed by the primary
// (first-listed) superclass, a dense method table indexed by globally
// interned method symbol, and an optional foreign destructor.
type Class struct {
	Name             string
	NumFields        int
	Superclasses     []heap.Handle
	SuperFieldOffset int
	// SuperFieldOffsets holds, for each entry in Superclasses, the
	// cumulative field offset at which that superclass's fields begin in
	// this class's instance layout: SuperFieldOffsets[0] is always 0 (the
	// primary superclass's fields occupy the lowest slots), and
	// SuperFieldOffsets[i] for i>0 is the running sum of
	// Superclasses[0..i-1]'s NumFields. This class's own declared fields
	// occupy the offsets from NumFields-ownFieldCount up to NumFields.
	SuperFieldOffsets []int
	Methods           []MethodSlot
	// StaticMethods is indexed by the same global method-symbol space as
	// Methods, but dispatches when the Class object itself is the CALL_n
	// receiver (`Foo.new()`, `Foo.someStatic()`). Kept as a second table on
	// Class rather than a distinct per-class metaclass object, since every
	// class already carries a unique identity — a class-specific metaclass
	// would only ever hold this one table.
	StaticMethods []MethodSlot
	Destructor    Destructor
	IsForeign     bool
	class         heap.Handle // the metaclass dispatching static methods
}

func NewClass(h *heap.Heap, metaclass heap.Handle, name string, numFields int, supers []heap.Handle) (heap.Handle, *Class) {
	c := &Class{Name: name, NumFields: numFields, Superclasses: supers, class: metaclass}
	return h.Allocate(c), c
}

// Method looks up symbol in this class's own dense table only. A miss does
// not mean the class lacks the method — internal/vm's resolveMethod walks
// Superclasses on a miss and memoizes the result here via SetMethod, so
// repeat dispatches of an inherited method hit this table directly. Method
// itself never walks; it's the fast path the lazy walk warms.
func (c *Class) Method(symbol int) (MethodSlot, bool) {
	if symbol < 0 || symbol >= len(c.Methods) {
		return MethodSlot{}, false
	}
	slot := c.Methods[symbol]
	return slot, slot.Kind != MethodNone
}

// SetMethod grows the table as needed and installs slot at symbol.
func (c *Class) SetMethod(symbol int, slot MethodSlot) {
	for symbol >= len(c.Methods) {
		c.Methods = append(c.Methods, MethodSlot{})
	}
	c.Methods[symbol] = slot
}

// StaticMethod/SetStaticMethod mirror Method/SetMethod for the table that
// dispatches when the Class value itself is the receiver.
func (c *Class) StaticMethod(symbol int) (MethodSlot, bool) {
	if symbol < 0 || symbol >= len(c.StaticMethods) {
		return MethodSlot{}, false
	}
	slot := c.StaticMethods[symbol]
	return slot, slot.Kind != MethodNone
}

func (c *Class) SetStaticMethod(symbol int, slot MethodSlot) {
	for symbol >= len(c.StaticMethods) {
		c.StaticMethods = append(c.StaticMethods, MethodSlot{})
	}
	c.StaticMethods[symbol] = slot
}

func (c *Class) ClassOf() heap.Handle { return c.class }

func (c *Class) MarkChildren(visit func(heap.Handle)) {
	visit(c.class)
	for _, s := range c.Superclasses {
		visit(s)
	}
	for _, m := range c.Methods {
		if m.Kind == MethodBlock {
			visit(m.Closure)
		}
	}
	for _, m := range c.StaticMethods {
		if m.Kind == MethodBlock {
			visit(m.Closure)
		}
	}
}

func (c *Class) ByteSize() int {
	return 48 + len(c.Superclasses)*8 + len(c.Methods)*48 + len(c.StaticMethods)*48
}
