package vm

import (
	"fmt"

	"cardinal/internal/cerr"
	"cardinal/internal/heap"
	"cardinal/internal/value"
)

// popArgs removes the top n stack cells (receiver at index 0) and returns
// them as an owned slice, for dispatch kinds (primitive, foreign) that
// resolve synchronously within one invoke() call.
func popArgs(fb *value.Fiber, n int) []value.Value {
	start := len(fb.Stack) - n
	args := make([]value.Value, n)
	copy(args, fb.Stack[start:])
	fb.Stack = fb.Stack[:start]
	return args
}

// resolveMethod is the lazy, memoized ancestor walk: a miss on cls's own
// table recurses into each superclass (itself memoizing along the way),
// composing FieldOffset as it unwinds so the final value is always
// relative to cls's own instance layout, then memoizes that composed slot
// into cls before returning. Repeat dispatch of an inherited method is
// therefore O(1) after the first call.
func (vm *VM) resolveMethod(cls *value.Class, symbol int) (value.MethodSlot, bool) {
	if slot, ok := cls.Method(symbol); ok {
		return slot, true
	}
	for i, superHandle := range cls.Superclasses {
		super := vm.heap.MustGet(superHandle).(*value.Class)
		slot, ok := vm.resolveMethod(super, symbol)
		if !ok {
			continue
		}
		slot.FieldOffset += cls.SuperFieldOffsets[i]
		cls.SetMethod(symbol, slot)
		return slot, true
	}
	return value.MethodSlot{}, false
}

// resolveStaticMethod mirrors resolveMethod for the table a Class value
// dispatches through when it is itself the CALL receiver; static methods
// never read instance fields, so no offset composition is needed.
func (vm *VM) resolveStaticMethod(cls *value.Class, symbol int) (value.MethodSlot, bool) {
	if slot, ok := cls.StaticMethod(symbol); ok {
		return slot, true
	}
	for _, superHandle := range cls.Superclasses {
		super := vm.heap.MustGet(superHandle).(*value.Class)
		if slot, ok := vm.resolveStaticMethod(super, symbol); ok {
			cls.SetStaticMethod(symbol, slot)
			return slot, true
		}
	}
	return value.MethodSlot{}, false
}

func (vm *VM) classOfPrimitive(v value.Value) heap.Handle {
	switch v.Kind() {
	case value.KindNull, value.KindUndefined:
		return vm.core.NullClass
	case value.KindBool:
		return vm.core.BoolClass
	case value.KindNumber:
		return vm.core.NumClass
	default:
		return vm.core.ObjectClass
	}
}

// resolveReceiverMethod finds the slot `symbol` dispatches to on receiver,
// along with the receiver's handle and whether it is an Instance (the
// only receiver kind that carries a super-adjustment stack).
func (vm *VM) resolveReceiverMethod(receiver value.Value, symbol int) (slot value.MethodSlot, ok bool, recvHandle heap.Handle, isInstance bool) {
	h := vm.heap
	if receiver.IsObj() {
		recvHandle = receiver.AsHandle()
		obj := h.MustGet(recvHandle)
		switch o := obj.(type) {
		case *value.Class:
			slot, ok = vm.resolveStaticMethod(o, symbol)
			return slot, ok, recvHandle, false
		case *value.Instance:
			cls := h.MustGet(o.Class).(*value.Class)
			slot, ok = vm.resolveMethod(cls, symbol)
			return slot, ok, recvHandle, true
		default:
			classed, isClassed := obj.(value.Classed)
			if !isClassed {
				return value.MethodSlot{}, false, recvHandle, false
			}
			cls := h.MustGet(classed.ClassOf()).(*value.Class)
			slot, ok = vm.resolveMethod(cls, symbol)
			return slot, ok, recvHandle, false
		}
	}
	cls := h.MustGet(vm.classOfPrimitive(receiver)).(*value.Class)
	slot, ok = vm.resolveMethod(cls, symbol)
	return slot, ok, heap.Nil, false
}

func (vm *VM) classNameOfValue(v value.Value) string {
	switch v.Kind() {
	case value.KindNull, value.KindUndefined:
		return "Null"
	case value.KindBool:
		return "Bool"
	case value.KindNumber:
		return "Num"
	case value.KindObj:
		obj, ok := vm.heap.Get(v.AsHandle())
		if !ok {
			return "<invalid>"
		}
		if _, ok := obj.(*value.Class); ok {
			return "Class"
		}
		if classed, ok := obj.(value.Classed); ok {
			if cls, ok := vm.heap.Get(classed.ClassOf()); ok {
				return cls.(*value.Class).Name
			}
		}
	}
	return "Object"
}

// stringify renders v the way System.print and uncaught-error banners do:
// dispatch toString when the receiver implements it, otherwise fall back
// to the primitive description.
func (vm *VM) stringify(v value.Value) string {
	slot, ok, _, _ := vm.resolveReceiverMethod(v, vm.symToString)
	if ok && slot.Kind == value.MethodPrimitive {
		result, code := slot.Primitive(vm.heap, []value.Value{v})
		if code == value.PrimValue && result.IsObj() {
			if s, ok := vm.heap.Get(result.AsHandle()); ok {
				if str, ok := s.(*value.String); ok {
					return str.Raw()
				}
			}
		}
	}
	return describeFallback(vm.heap, v)
}

func describeFallback(h *heap.Heap, v value.Value) string {
	switch v.Kind() {
	case value.KindNull:
		return "null"
	case value.KindBool:
		if v.AsBool() {
			return "true"
		}
		return "false"
	case value.KindNumber:
		return fmt.Sprintf("%g", v.AsNumber())
	case value.KindObj:
		obj, ok := h.Get(v.AsHandle())
		if !ok {
			return "<invalid>"
		}
		if s, ok := obj.(*value.String); ok {
			return s.Raw()
		}
		return fmt.Sprintf("%T", obj)
	}
	return ""
}

func newErrorString(vm *VM, format string, args ...interface{}) value.Value {
	hnd, _ := value.NewString(vm.heap, vm.core.StringClass, fmt.Sprintf(format, args...))
	return value.Obj(hnd)
}

// invoke dispatches a CALL instruction: argCount args plus the receiver
// sit on top of fb's stack. It returns stop=true only when an uncaught
// runtime error has propagated all the way to the root fiber, in which
// case result/err are what Run should report to the embedder.
func (vm *VM) invoke(fb *value.Fiber, argCount, symbol int) (stop bool, result value.Value, rerr *cerr.Error) {
	h := vm.heap
	receiver := fb.Peek(argCount)
	slot, ok, recvHandle, isInstance := vm.resolveReceiverMethod(receiver, symbol)
	if !ok {
		msg := newErrorString(vm, "%s does not implement '%s'", vm.classNameOfValue(receiver), vm.syms.Name(symbol))
		return vm.raiseError(fb, msg)
	}
	return vm.dispatchSlot(fb, slot, argCount, recvHandle, isInstance)
}

// dispatchSlot runs the resolved slot against the argCount+1 cells
// already on fb's stack (receiver at the bottom). Shared by invoke and
// invokeSuper once superclass resolution has produced a slot.
func (vm *VM) dispatchSlot(fb *value.Fiber, slot value.MethodSlot, argCount int, recvHandle heap.Handle, isInstance bool) (bool, value.Value, *cerr.Error) {
	h := vm.heap
	switch slot.Kind {
	case value.MethodPrimitive:
		args := popArgs(fb, argCount+1)
		result, code := slot.Primitive(h, args)
		switch code {
		case value.PrimValue:
			if err := fb.Push(result); err != nil {
				return vm.stackError(fb, err)
			}
		case value.PrimError:
			return vm.raiseError(fb, result)
		case value.PrimRunFiber:
			vm.switchTo(result.AsHandle())
		case value.PrimCall:
			// the primitive already pushed whatever frame(s) it needed.
		}
		return false, value.Nil, nil

	case value.MethodForeign:
		args := popArgs(fb, argCount+1)
		call := &value.ForeignCall{Heap: h, Args: args}
		slot.Foreign(call)
		if call.Errored {
			return vm.raiseError(fb, newErrorString(vm, "%s", call.ErrorMsg))
		}
		ret, set := call.Result()
		if !set {
			ret = value.Nil
		}
		if err := fb.Push(ret); err != nil {
			return vm.stackError(fb, err)
		}
		return false, value.Nil, nil

	case value.MethodBlock:
		base := len(fb.Stack) - (argCount + 1)
		var adjustHandle heap.Handle
		if isInstance {
			inst := h.MustGet(recvHandle).(*value.Instance)
			inst.PushAdjust(slot.FieldOffset)
			adjustHandle = recvHandle
		}
		if err := fb.PushFrame(value.Frame{Closure: slot.Closure, IP: 0, Base: base, AdjustInstance: adjustHandle}); err != nil {
			if isInstance {
				h.MustGet(recvHandle).(*value.Instance).PopAdjust()
			}
			return vm.stackError(fb, err)
		}
		if vm.cfg.Debug != nil {
			closure := h.MustGet(slot.Closure).(*value.Closure)
			fn := h.MustGet(closure.FnHandle).(*value.Fn)
			d := fn.Chunk.GetDebugInfo(0)
			vm.cfg.Debug.OnCall(vm, fn.Name, DebugLocation{File: d.File, Line: d.Line, Function: d.Function})
		}
		return false, value.Nil, nil

	default:
		return vm.raiseError(fb, newErrorString(vm, "method has no implementation"))
	}
}

// invokeSuper dispatches a SUPER instruction: fn is the Fn currently
// executing (the lexical method body containing the `super` expression),
// superIdx indexes fn.DefiningClass's own Superclasses. The resolved
// slot's field offset must be composed against the *calling* frame's
// active adjustment (CurrentAdjust of the receiver), not against
// DefiningClass alone — DefiningClass may itself be an ancestor of the
// receiver's dynamic class reached through an earlier adjustment layer,
// and that layer's offset has to be added back in so LOAD_FIELD_THIS
// inside the super-called method still lands on the right absolute slot.
func (vm *VM) invokeSuper(fb *value.Fiber, fn *value.Fn, argCount, symbol, superIdx int) (bool, value.Value, *cerr.Error) {
	h := vm.heap
	if fn.DefiningClass.IsNil() {
		return vm.raiseError(fb, newErrorString(vm, "'super' used outside a method"))
	}
	defining := h.MustGet(fn.DefiningClass).(*value.Class)
	if superIdx < 0 || superIdx >= len(defining.Superclasses) {
		return vm.raiseError(fb, newErrorString(vm, "no such superclass index %d on %s", superIdx, defining.Name))
	}

	receiver := fb.Peek(argCount)
	var recvHandle heap.Handle
	var baseAdjust int
	isInstance := false
	if receiver.IsObj() {
		recvHandle = receiver.AsHandle()
		if inst, ok := h.Get(recvHandle); ok {
			if instObj, ok2 := inst.(*value.Instance); ok2 {
				isInstance = true
				baseAdjust = instObj.CurrentAdjust()
			}
		}
	}

	superHandle := defining.Superclasses[superIdx]
	superCls := h.MustGet(superHandle).(*value.Class)
	slot, ok := vm.resolveMethod(superCls, symbol)
	if !ok {
		return vm.raiseError(fb, newErrorString(vm, "%s does not implement '%s'", superCls.Name, vm.syms.Name(symbol)))
	}
	slot.FieldOffset += defining.SuperFieldOffsets[superIdx] + baseAdjust

	return vm.dispatchSlot(fb, slot, argCount, recvHandle, isInstance)
}

func (vm *VM) stackError(fb *value.Fiber, err error) (bool, value.Value, *cerr.Error) {
	return vm.raiseError(fb, newErrorString(vm, "%s", err.Error()))
}

// raiseError implements spec.md §7's propagation policy: the current
// fiber's error slot is set and control walks up the caller chain,
// skipping fibers not started with try, until a try fiber catches it (its
// caller resumes with the error Value as the call's result) or the root
// fiber is reached (print the trace, return a runtime-error exit code).
func (vm *VM) raiseError(fb *value.Fiber, errValue value.Value) (bool, value.Value, *cerr.Error) {
	fb.Error = errValue
	fb.State = value.FiberErrored
	cur := fb
	for {
		callerHandle := cur.Caller
		if callerHandle.IsNil() {
			rendered := cerr.New(cerr.KindRuntime, cerr.Location{}, "%s", vm.stringify(errValue))
			if vm.cfg.Debug != nil {
				vm.cfg.Debug.OnError(vm, rendered, DebugLocation{})
			}
			vm.cfg.Print(PrintError, rendered.Render(false))
			vm.switchTo(heap.Nil)
			return true, value.Nil, rendered
		}
		caller := vm.heap.MustGet(callerHandle).(*value.Fiber)
		if cur.UsedTry {
			caller.State = value.FiberRunning
			caller.Push(errValue)
			vm.switchTo(callerHandle)
			return false, value.Nil, nil
		}
		caller.Error = errValue
		caller.State = value.FiberErrored
		cur = caller
	}
}

// finishFiber implements normal (non-error) fiber completion: the
// fiber's final expression value becomes its caller's call/run result.
func (vm *VM) finishFiber(fb *value.Fiber, result value.Value) (bool, value.Value, *cerr.Error) {
	fb.State = value.FiberFinished
	if fb.Caller.IsNil() {
		vm.switchTo(heap.Nil)
		return true, result, nil
	}
	caller := vm.heap.MustGet(fb.Caller).(*value.Fiber)
	caller.State = value.FiberRunning
	caller.Push(result)
	vm.switchTo(fb.Caller)
	return false, value.Nil, nil
}

func (vm *VM) captureUpvalue(fiberHandle heap.Handle, fb *value.Fiber, slot int) heap.Handle {
	h := vm.heap
	var prev heap.Handle
	cur := fb.OpenHead
	for !cur.IsNil() {
		u := h.MustGet(cur).(*value.Upvalue)
		if u.Slot == slot {
			return cur
		}
		if u.Slot < slot {
			break
		}
		prev = cur
		cur = u.Next
	}
	newHandle, newUp := value.NewOpenUpvalue(h, heap.Nil, fiberHandle, slot)
	newUp.Next = cur
	if prev.IsNil() {
		fb.OpenHead = newHandle
	} else {
		h.MustGet(prev).(*value.Upvalue).Next = newHandle
	}
	return newHandle
}

func (vm *VM) closeUpvaluesFrom(fb *value.Fiber, fromSlot int) {
	h := vm.heap
	for !fb.OpenHead.IsNil() {
		u := h.MustGet(fb.OpenHead).(*value.Upvalue)
		if u.Slot < fromSlot {
			break
		}
		val := fb.Stack[u.Slot]
		next := u.Next
		u.Close(val)
		fb.OpenHead = next
	}
}

// isInstanceOf implements the IS operator: v IS target iff target appears
// anywhere in the ancestor chain of v's own class (a Class value's "class"
// for this purpose is the metaclass ClassClass, matching `SomeClass is
// Class`).
func (vm *VM) isInstanceOf(v value.Value, target heap.Handle) bool {
	var cls heap.Handle
	if v.IsObj() {
		obj := vm.heap.MustGet(v.AsHandle())
		if _, ok := obj.(*value.Class); ok {
			cls = vm.core.ClassClass
		} else if classed, ok := obj.(value.Classed); ok {
			cls = classed.ClassOf()
		}
	} else {
		cls = vm.classOfPrimitive(v)
	}
	return vm.classIsOrInherits(cls, target)
}

func (vm *VM) classIsOrInherits(cls, target heap.Handle) bool {
	if cls.IsNil() {
		return false
	}
	if cls == target {
		return true
	}
	c := vm.heap.MustGet(cls).(*value.Class)
	for _, super := range c.Superclasses {
		if vm.classIsOrInherits(super, target) {
			return true
		}
	}
	return false
}
