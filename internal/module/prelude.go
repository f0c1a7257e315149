package module

import (
	"fmt"
	"math"

	"cardinal/internal/heap"
	"cardinal/internal/symbol"
	"cardinal/internal/value"
)

// Core holds the handles to every built-in class the VM needs to know
// about by identity (to set as the ClassOf() of a freshly allocated
// String, List, ...), plus the metaclass every class's own ClassOf points
// to. Grounded in the "stdlib classes reduce to host function
// registrations" reduction the spec's §1 scope note calls for: these are
// ordinary classes with ordinary MethodPrimitive slots, nothing magic.
type Core struct {
	ClassClass   heap.Handle // metaclass: every Class's ClassOf()
	ObjectClass  heap.Handle
	NullClass    heap.Handle
	BoolClass    heap.Handle
	NumClass     heap.Handle
	StringClass  heap.Handle
	ListClass    heap.Handle
	MapClass     heap.Handle
	TableClass   heap.Handle
	RangeClass   heap.Handle
	FiberClass   heap.Handle
	FnClass      heap.Handle
	ClosureClass heap.Handle
	ModuleClass  heap.Handle
	MethodClass  heap.Handle
	SystemClass  heap.Handle
	FileClass    heap.Handle
	StdoutClass  heap.Handle
	StdinClass   heap.Handle
	RegexClass   heap.Handle
}

func defineClass(h *heap.Heap, meta heap.Handle, name string, super heap.Handle) heap.Handle {
	var supers []heap.Handle
	if !super.IsNil() {
		supers = []heap.Handle{super}
	}
	handle, _ := value.NewClass(h, meta, name, 0, supers)
	return handle
}

func classOf(h *heap.Heap, handle heap.Handle) *value.Class {
	obj, _ := h.Get(handle)
	c, _ := obj.(*value.Class)
	return c
}

func setMethod(h *heap.Heap, classHandle heap.Handle, syms *symbol.Table, sig string, fn value.PrimitiveFn) {
	c := classOf(h, classHandle)
	sym := syms.Ensure(sig)
	c.SetMethod(sym, value.MethodSlot{Kind: value.MethodPrimitive, Primitive: fn, Name: sig})
}

// setStaticMethod installs a method dispatched when classHandle's own Class
// value is the CALL_n receiver, e.g. `List.new()` — used by the compiler's
// list/map literal lowering, which has no dedicated bytecode of its own and
// instead calls through to these allocators like any other static method.
func setStaticMethod(h *heap.Heap, classHandle heap.Handle, syms *symbol.Table, sig string, fn value.PrimitiveFn) {
	c := classOf(h, classHandle)
	sym := syms.Ensure(sig)
	c.SetStaticMethod(sym, value.MethodSlot{Kind: value.MethodPrimitive, Primitive: fn, Name: sig})
}

// RegisterCore bootstraps the class hierarchy and installs every built-in
// primitive method. syms is the VM's shared, globally interned method-name
// table: every class in every module dispatches through the same symbol
// space, which is what makes CALL_n(symbol) a dense array index instead of
// a name lookup.
func RegisterCore(h *heap.Heap, syms *symbol.Table) *Core {
	// Bootstrap: ClassClass is created with no metaclass (its ClassOf is
	// the nil handle); ObjectClass has no
	// superclass and is ClassClass's (and everything else's) ancestor.
	classHandle, classObj := value.NewClass(h, heap.Nil, "Class", 0, nil)
	classObj.IsForeign = false
	objHandle := defineClass(h, classHandle, "Object", heap.Nil)
	classObj.Superclasses = []heap.Handle{objHandle}

	core := &Core{ClassClass: classHandle, ObjectClass: objHandle}
	core.NullClass = defineClass(h, classHandle, "Null", objHandle)
	core.BoolClass = defineClass(h, classHandle, "Bool", objHandle)
	core.NumClass = defineClass(h, classHandle, "Num", objHandle)
	core.StringClass = defineClass(h, classHandle, "String", objHandle)
	core.ListClass = defineClass(h, classHandle, "List", objHandle)
	core.MapClass = defineClass(h, classHandle, "Map", objHandle)
	core.TableClass = defineClass(h, classHandle, "Table", objHandle)
	core.RangeClass = defineClass(h, classHandle, "Range", objHandle)
	core.FiberClass = defineClass(h, classHandle, "Fiber", objHandle)
	core.FnClass = defineClass(h, classHandle, "Fn", objHandle)
	core.ClosureClass = defineClass(h, classHandle, "Closure", objHandle)
	core.ModuleClass = defineClass(h, classHandle, "Module", objHandle)
	core.MethodClass = defineClass(h, classHandle, "Method", objHandle)
	core.SystemClass = defineClass(h, classHandle, "System", objHandle)
	core.FileClass = defineClass(h, classHandle, "File", objHandle)
	core.StdoutClass = defineClass(h, classHandle, "Stdout", objHandle)
	core.StdinClass = defineClass(h, classHandle, "Stdin", objHandle)
	core.RegexClass = defineClass(h, classHandle, "Regex", objHandle)

	registerObject(h, syms, core)
	registerBool(h, syms, core)
	registerNum(h, syms, core)
	registerString(h, syms, core)
	registerList(h, syms, core)
	registerMap(h, syms, core)
	registerRange(h, syms, core)
	registerTable(h, syms, core)
	registerSystem(h, syms, core)
	registerFile(h, syms, core)
	registerStdout(h, syms, core)
	registerStdin(h, syms, core)
	registerRegex(h, syms, core)

	return core
}

func registerObject(h *heap.Heap, syms *symbol.Table, c *Core) {
	setMethod(h, c.ObjectClass, syms, "==(_)", func(h *heap.Heap, args []value.Value) (value.Value, value.PrimitiveResult) {
		return value.Bool(value.Equal(h, args[0], args[1])), value.PrimValue
	})
	setMethod(h, c.ObjectClass, syms, "!=(_)", func(h *heap.Heap, args []value.Value) (value.Value, value.PrimitiveResult) {
		return value.Bool(!value.Equal(h, args[0], args[1])), value.PrimValue
	})
	setMethod(h, c.ObjectClass, syms, "toString", func(h *heap.Heap, args []value.Value) (value.Value, value.PrimitiveResult) {
		hnd, _ := value.NewString(h, c.StringClass, describe(h, args[0]))
		return value.Obj(hnd), value.PrimValue
	})
}

func registerBool(h *heap.Heap, syms *symbol.Table, c *Core) {
	setMethod(h, c.BoolClass, syms, "toString", func(h *heap.Heap, args []value.Value) (value.Value, value.PrimitiveResult) {
		s := "false"
		if args[0].AsBool() {
			s = "true"
		}
		hnd, _ := value.NewString(h, c.StringClass, s)
		return value.Obj(hnd), value.PrimValue
	})
	setMethod(h, c.BoolClass, syms, "!", func(h *heap.Heap, args []value.Value) (value.Value, value.PrimitiveResult) {
		return value.Bool(!args[0].AsBool()), value.PrimValue
	})
}

func numBinary(f func(a, b float64) float64) value.PrimitiveFn {
	return func(h *heap.Heap, args []value.Value) (value.Value, value.PrimitiveResult) {
		if !args[1].IsNumber() {
			hnd, _ := value.NewString(h, heap.Nil, "right operand must be a number")
			return value.Obj(hnd), value.PrimError
		}
		return value.Number(f(args[0].AsNumber(), args[1].AsNumber())), value.PrimValue
	}
}

func numCompare(f func(a, b float64) bool) value.PrimitiveFn {
	return func(h *heap.Heap, args []value.Value) (value.Value, value.PrimitiveResult) {
		if !args[1].IsNumber() {
			hnd, _ := value.NewString(h, heap.Nil, "right operand must be a number")
			return value.Obj(hnd), value.PrimError
		}
		return value.Bool(f(args[0].AsNumber(), args[1].AsNumber())), value.PrimValue
	}
}

func registerNum(h *heap.Heap, syms *symbol.Table, c *Core) {
	setMethod(h, c.NumClass, syms, "+(_)", numBinary(func(a, b float64) float64 { return a + b }))
	setMethod(h, c.NumClass, syms, "-(_)", numBinary(func(a, b float64) float64 { return a - b }))
	setMethod(h, c.NumClass, syms, "*(_)", numBinary(func(a, b float64) float64 { return a * b }))
	setMethod(h, c.NumClass, syms, "/(_)", numBinary(func(a, b float64) float64 { return a / b }))
	setMethod(h, c.NumClass, syms, "%(_)", numBinary(math.Mod))
	setMethod(h, c.NumClass, syms, "<(_)", numCompare(func(a, b float64) bool { return a < b }))
	setMethod(h, c.NumClass, syms, ">(_)", numCompare(func(a, b float64) bool { return a > b }))
	setMethod(h, c.NumClass, syms, "<=(_)", numCompare(func(a, b float64) bool { return a <= b }))
	setMethod(h, c.NumClass, syms, ">=(_)", numCompare(func(a, b float64) bool { return a >= b }))
	setMethod(h, c.NumClass, syms, "-", func(h *heap.Heap, args []value.Value) (value.Value, value.PrimitiveResult) {
		return value.Number(-args[0].AsNumber()), value.PrimValue
	})
	setMethod(h, c.NumClass, syms, "..(_)", func(h *heap.Heap, args []value.Value) (value.Value, value.PrimitiveResult) {
		hnd, _ := value.NewRange(h, c.RangeClass, args[0].AsNumber(), args[1].AsNumber(), false)
		return value.Obj(hnd), value.PrimValue
	})
	setMethod(h, c.NumClass, syms, "...(_)", func(h *heap.Heap, args []value.Value) (value.Value, value.PrimitiveResult) {
		hnd, _ := value.NewRange(h, c.RangeClass, args[0].AsNumber(), args[1].AsNumber(), true)
		return value.Obj(hnd), value.PrimValue
	})
	setMethod(h, c.NumClass, syms, "abs", func(h *heap.Heap, args []value.Value) (value.Value, value.PrimitiveResult) {
		return value.Number(math.Abs(args[0].AsNumber())), value.PrimValue
	})
	setMethod(h, c.NumClass, syms, "sqrt", func(h *heap.Heap, args []value.Value) (value.Value, value.PrimitiveResult) {
		return value.Number(math.Sqrt(args[0].AsNumber())), value.PrimValue
	})
	setMethod(h, c.NumClass, syms, "floor", func(h *heap.Heap, args []value.Value) (value.Value, value.PrimitiveResult) {
		return value.Number(math.Floor(args[0].AsNumber())), value.PrimValue
	})
	setMethod(h, c.NumClass, syms, "ceil", func(h *heap.Heap, args []value.Value) (value.Value, value.PrimitiveResult) {
		return value.Number(math.Ceil(args[0].AsNumber())), value.PrimValue
	})
	setMethod(h, c.NumClass, syms, "toString", func(h *heap.Heap, args []value.Value) (value.Value, value.PrimitiveResult) {
		hnd, _ := value.NewString(h, c.StringClass, formatNumber(args[0].AsNumber()))
		return value.Obj(hnd), value.PrimValue
	})
}

func formatNumber(n float64) string {
	if n == math.Trunc(n) && !math.IsInf(n, 0) {
		return fmt.Sprintf("%d", int64(n))
	}
	return fmt.Sprintf("%g", n)
}

func registerString(h *heap.Heap, syms *symbol.Table, c *Core) {
	setMethod(h, c.StringClass, syms, "count", func(h *heap.Heap, args []value.Value) (value.Value, value.PrimitiveResult) {
		s := mustString(h, args[0])
		return value.Number(float64(s.Len())), value.PrimValue
	})
	setMethod(h, c.StringClass, syms, "+(_)", func(h *heap.Heap, args []value.Value) (value.Value, value.PrimitiveResult) {
		other, ok := h.Get(args[1].AsHandle())
		if !ok {
			hnd, _ := value.NewString(h, c.StringClass, "right operand must be a string")
			return value.Obj(hnd), value.PrimError
		}
		ostr, ok := other.(*value.String)
		if !ok {
			hnd, _ := value.NewString(h, c.StringClass, "right operand must be a string")
			return value.Obj(hnd), value.PrimError
		}
		hnd, _ := value.Concat(h, c.StringClass, mustString(h, args[0]), ostr)
		return value.Obj(hnd), value.PrimValue
	})
	setMethod(h, c.StringClass, syms, "toString", func(h *heap.Heap, args []value.Value) (value.Value, value.PrimitiveResult) {
		return args[0], value.PrimValue
	})
	setMethod(h, c.StringClass, syms, "bytes", func(h *heap.Heap, args []value.Value) (value.Value, value.PrimitiveResult) {
		s := mustString(h, args[0])
		lhnd, l := value.NewList(h, c.ListClass)
		for _, b := range s.ByteView() {
			l.Append(value.Number(float64(b)))
		}
		return value.Obj(lhnd), value.PrimValue
	})
}

func mustString(h *heap.Heap, v value.Value) *value.String {
	obj := h.MustGet(v.AsHandle())
	return obj.(*value.String)
}

func registerList(h *heap.Heap, syms *symbol.Table, c *Core) {
	setStaticMethod(h, c.ListClass, syms, "new", func(h *heap.Heap, args []value.Value) (value.Value, value.PrimitiveResult) {
		lh, _ := value.NewList(h, c.ListClass)
		return value.Obj(lh), value.PrimValue
	})
	setMethod(h, c.ListClass, syms, "count", func(h *heap.Heap, args []value.Value) (value.Value, value.PrimitiveResult) {
		l := h.MustGet(args[0].AsHandle()).(*value.List)
		return value.Number(float64(l.Len())), value.PrimValue
	})
	setMethod(h, c.ListClass, syms, "add(_)", func(h *heap.Heap, args []value.Value) (value.Value, value.PrimitiveResult) {
		l := h.MustGet(args[0].AsHandle()).(*value.List)
		l.Append(args[1])
		return args[1], value.PrimValue
	})
	setMethod(h, c.ListClass, syms, "[_]", func(h *heap.Heap, args []value.Value) (value.Value, value.PrimitiveResult) {
		l := h.MustGet(args[0].AsHandle()).(*value.List)
		i := int(args[1].AsNumber())
		if i < 0 {
			i += l.Len()
		}
		v, ok := l.Get(i)
		if !ok {
			hnd, _ := value.NewString(h, c.StringClass, "list index out of bounds")
			return value.Obj(hnd), value.PrimError
		}
		return v, value.PrimValue
	})
	setMethod(h, c.ListClass, syms, "[_]=(_)", func(h *heap.Heap, args []value.Value) (value.Value, value.PrimitiveResult) {
		l := h.MustGet(args[0].AsHandle()).(*value.List)
		i := int(args[1].AsNumber())
		if i < 0 {
			i += l.Len()
		}
		if !l.Set(i, args[2]) {
			hnd, _ := value.NewString(h, c.StringClass, "list index out of bounds")
			return value.Obj(hnd), value.PrimError
		}
		return args[2], value.PrimValue
	})
	setMethod(h, c.ListClass, syms, "removeAt(_)", func(h *heap.Heap, args []value.Value) (value.Value, value.PrimitiveResult) {
		l := h.MustGet(args[0].AsHandle()).(*value.List)
		v, ok := l.RemoveAt(int(args[1].AsNumber()))
		if !ok {
			hnd, _ := value.NewString(h, c.StringClass, "list index out of bounds")
			return value.Obj(hnd), value.PrimError
		}
		return v, value.PrimValue
	})
	setMethod(h, c.ListClass, syms, "iterate(_)", func(h *heap.Heap, args []value.Value) (value.Value, value.PrimitiveResult) {
		l := h.MustGet(args[0].AsHandle()).(*value.List)
		var idx int
		if args[1].IsNull() {
			idx = 0
		} else {
			idx = int(args[1].AsNumber()) + 1
		}
		if idx >= l.Len() {
			return value.Bool(false), value.PrimValue
		}
		return value.Number(float64(idx)), value.PrimValue
	})
	setMethod(h, c.ListClass, syms, "iteratorValue(_)", func(h *heap.Heap, args []value.Value) (value.Value, value.PrimitiveResult) {
		l := h.MustGet(args[0].AsHandle()).(*value.List)
		v, _ := l.Get(int(args[1].AsNumber()))
		return v, value.PrimValue
	})
}

func registerMap(h *heap.Heap, syms *symbol.Table, c *Core) {
	setStaticMethod(h, c.MapClass, syms, "new", func(h *heap.Heap, args []value.Value) (value.Value, value.PrimitiveResult) {
		mh, _ := value.NewMap(h, c.MapClass)
		return value.Obj(mh), value.PrimValue
	})
	setMethod(h, c.MapClass, syms, "count", func(h *heap.Heap, args []value.Value) (value.Value, value.PrimitiveResult) {
		m := h.MustGet(args[0].AsHandle()).(*value.Map)
		return value.Number(float64(m.Len())), value.PrimValue
	})
	setMethod(h, c.MapClass, syms, "[_]", func(h *heap.Heap, args []value.Value) (value.Value, value.PrimitiveResult) {
		m := h.MustGet(args[0].AsHandle()).(*value.Map)
		v, ok := m.Get(h, args[1])
		if !ok {
			return value.Nil, value.PrimValue
		}
		return v, value.PrimValue
	})
	setMethod(h, c.MapClass, syms, "[_]=(_)", func(h *heap.Heap, args []value.Value) (value.Value, value.PrimitiveResult) {
		m := h.MustGet(args[0].AsHandle()).(*value.Map)
		m.Set(h, args[1], args[2])
		return args[2], value.PrimValue
	})
	setMethod(h, c.MapClass, syms, "remove(_)", func(h *heap.Heap, args []value.Value) (value.Value, value.PrimitiveResult) {
		m := h.MustGet(args[0].AsHandle()).(*value.Map)
		return value.Bool(m.Delete(h, args[1])), value.PrimValue
	})
	setMethod(h, c.MapClass, syms, "containsKey(_)", func(h *heap.Heap, args []value.Value) (value.Value, value.PrimitiveResult) {
		m := h.MustGet(args[0].AsHandle()).(*value.Map)
		_, ok := m.Get(h, args[1])
		return value.Bool(ok), value.PrimValue
	})
	setMethod(h, c.MapClass, syms, "keys", func(h *heap.Heap, args []value.Value) (value.Value, value.PrimitiveResult) {
		m := h.MustGet(args[0].AsHandle()).(*value.Map)
		lh, l := value.NewList(h, c.ListClass)
		for _, k := range m.Keys() {
			l.Append(k)
		}
		return value.Obj(lh), value.PrimValue
	})
}

func registerRange(h *heap.Heap, syms *symbol.Table, c *Core) {
	setMethod(h, c.RangeClass, syms, "from", func(h *heap.Heap, args []value.Value) (value.Value, value.PrimitiveResult) {
		r := h.MustGet(args[0].AsHandle()).(*value.Range)
		return value.Number(r.From), value.PrimValue
	})
	setMethod(h, c.RangeClass, syms, "to", func(h *heap.Heap, args []value.Value) (value.Value, value.PrimitiveResult) {
		r := h.MustGet(args[0].AsHandle()).(*value.Range)
		return value.Number(r.To), value.PrimValue
	})
	setMethod(h, c.RangeClass, syms, "iterate(_)", func(h *heap.Heap, args []value.Value) (value.Value, value.PrimitiveResult) {
		r := h.MustGet(args[0].AsHandle()).(*value.Range)
		step := r.Step()
		var cur float64
		if args[1].IsNull() {
			cur = r.From
		} else {
			cur = args[1].AsNumber() + step
		}
		if !r.Contains(cur) {
			return value.Bool(false), value.PrimValue
		}
		return value.Number(cur), value.PrimValue
	})
	setMethod(h, c.RangeClass, syms, "iteratorValue(_)", func(h *heap.Heap, args []value.Value) (value.Value, value.PrimitiveResult) {
		return args[1], value.PrimValue
	})
}

// registerTable installs the separately-chained Table class used for
// module-variable-bindings-shaped host state that scripts want a handle
// onto directly (its identity-or-content equality semantics match Map's,
// so the two classes share a near-identical primitive surface).
func registerTable(h *heap.Heap, syms *symbol.Table, c *Core) {
	setStaticMethod(h, c.TableClass, syms, "new", func(h *heap.Heap, args []value.Value) (value.Value, value.PrimitiveResult) {
		th, _ := value.NewTable(h, c.TableClass)
		return value.Obj(th), value.PrimValue
	})
	setMethod(h, c.TableClass, syms, "count", func(h *heap.Heap, args []value.Value) (value.Value, value.PrimitiveResult) {
		t := h.MustGet(args[0].AsHandle()).(*value.Table)
		return value.Number(float64(t.Len())), value.PrimValue
	})
	setMethod(h, c.TableClass, syms, "[_]", func(h *heap.Heap, args []value.Value) (value.Value, value.PrimitiveResult) {
		t := h.MustGet(args[0].AsHandle()).(*value.Table)
		v, ok := t.Get(h, args[1])
		if !ok {
			return value.Nil, value.PrimValue
		}
		return v, value.PrimValue
	})
	setMethod(h, c.TableClass, syms, "[_]=(_)", func(h *heap.Heap, args []value.Value) (value.Value, value.PrimitiveResult) {
		t := h.MustGet(args[0].AsHandle()).(*value.Table)
		t.Set(h, args[1], args[2])
		return args[2], value.PrimValue
	})
	setMethod(h, c.TableClass, syms, "remove(_)", func(h *heap.Heap, args []value.Value) (value.Value, value.PrimitiveResult) {
		t := h.MustGet(args[0].AsHandle()).(*value.Table)
		return value.Bool(t.Delete(h, args[1])), value.PrimValue
	})
	setMethod(h, c.TableClass, syms, "containsKey(_)", func(h *heap.Heap, args []value.Value) (value.Value, value.PrimitiveResult) {
		t := h.MustGet(args[0].AsHandle()).(*value.Table)
		_, ok := t.Get(h, args[1])
		return value.Bool(ok), value.PrimValue
	})
}

func registerSystem(h *heap.Heap, syms *symbol.Table, c *Core) {
	// System.print(_) is installed as a static method on the System class
	// by the VM at startup (it needs the embedder's Print callback, which
	// this package has no access to); see vm.installSystem.
	_ = c
	_ = syms
}

func describe(h *heap.Heap, v value.Value) string {
	switch v.Kind() {
	case value.KindNull:
		return "null"
	case value.KindBool:
		if v.AsBool() {
			return "true"
		}
		return "false"
	case value.KindNumber:
		return formatNumber(v.AsNumber())
	case value.KindObj:
		obj, ok := h.Get(v.AsHandle())
		if !ok {
			return "<invalid>"
		}
		switch o := obj.(type) {
		case *value.String:
			return o.Raw()
		case *value.Class:
			return o.Name
		case *value.Instance:
			return "instance"
		default:
			return fmt.Sprintf("%T", o)
		}
	default:
		return ""
	}
}
