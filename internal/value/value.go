// Package value implements the data model: the tagged Value cell and the
// heap object variants it can reference (String, List, Map, Table, Range,
// Fn, Closure, Upvalue, Fiber, Class, Instance, Module, Method). Every
// object type implements heap.Object so package heap's collector can mark
// and sweep them without knowing anything about the language they belong
// to.
package value

import (
	"math"
	"unsafe"

	"cardinal/internal/heap"
)

type Kind uint8

const (
	KindNull Kind = iota
	KindUndefined
	KindBool
	KindNumber
	KindPtr
	KindObj
)

// Value is a uniformly sized tagged cell: one of a 64-bit number, a bool,
// null, a pointer into raw (non-GC) memory, an owning reference to a heap
// object, or the undefined sentinel (Module.Remove stores it in a removed
// variable's slot; Map and Table mark free slots with their own flags).
type Value struct {
	kind Kind
	num  float64
	ptr  unsafe.Pointer
	obj  heap.Handle
}

var Nil = Value{kind: KindNull}
var Undefined = Value{kind: KindUndefined}
var True = Value{kind: KindBool, num: 1}
var False = Value{kind: KindBool, num: 0}

func Bool(b bool) Value {
	if b {
		return True
	}
	return False
}

func Number(n float64) Value { return Value{kind: KindNumber, num: n} }

func RawPtr(p unsafe.Pointer) Value { return Value{kind: KindPtr, ptr: p} }

func Obj(h heap.Handle) Value { return Value{kind: KindObj, obj: h} }

func (v Value) Kind() Kind       { return v.kind }
func (v Value) IsNull() bool     { return v.kind == KindNull }
func (v Value) IsUndefined() bool { return v.kind == KindUndefined }
func (v Value) IsBool() bool     { return v.kind == KindBool }
func (v Value) IsNumber() bool   { return v.kind == KindNumber }
func (v Value) IsPtr() bool      { return v.kind == KindPtr }
func (v Value) IsObj() bool      { return v.kind == KindObj }

func (v Value) AsBool() bool             { return v.num != 0 }
func (v Value) AsNumber() float64        { return v.num }
func (v Value) AsPtr() unsafe.Pointer    { return v.ptr }
func (v Value) AsHandle() heap.Handle    { return v.obj }

// IsTruthy implements the language's truthiness: null and false are falsy,
// everything else (including 0 and "") is truthy.
func (v Value) IsTruthy() bool {
	switch v.kind {
	case KindNull:
		return false
	case KindBool:
		return v.num != 0
	default:
		return true
	}
}

// Equal implements the spec's equality rule: bitwise for primitives,
// identity for mutable objects, content for immutable ones (String,
// Range), and epsilon-tolerant for numbers so 0.0 == -0.0 holds and bit
// patterns need not carry payload information.
func Equal(h *heap.Heap, a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNull, KindUndefined:
		return true
	case KindBool:
		return a.num == b.num
	case KindNumber:
		return numbersEqual(a.num, b.num)
	case KindPtr:
		return a.ptr == b.ptr
	case KindObj:
		if a.obj == b.obj {
			return true
		}
		oa, ok1 := h.Get(a.obj)
		ob, ok2 := h.Get(b.obj)
		if !ok1 || !ok2 {
			return false
		}
		if sa, ok := oa.(*String); ok {
			sb, ok := ob.(*String)
			return ok && sa.hash == sb.hash && sa.s == sb.s
		}
		if ra, ok := oa.(*Range); ok {
			rb, ok := ob.(*Range)
			return ok && *ra == *rb
		}
		return false
	}
	return false
}

const epsilon = 1e-9

func numbersEqual(a, b float64) bool {
	if a == b {
		return true
	}
	if math.IsNaN(a) || math.IsNaN(b) {
		return false
	}
	scale := math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
	return math.Abs(a-b) <= epsilon*scale
}

// Classed is implemented by every heap object variant: the class that
// dispatches its methods. Core types (String, List, Map, ...) point at
// the VM's built-in core classes; Instance.ClassOf returns its own Class
// field, which doubles as both storage and dispatch target.
type Classed interface {
	ClassOf() heap.Handle
}
