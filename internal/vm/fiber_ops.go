package vm

import (
	"cardinal/internal/heap"
	"cardinal/internal/value"
)

// installFiber wires every Fiber primitive that needs direct VM access
// (cfg.StackMax/CallDepth to size a new fiber, vm.cur/vm.curFiber to
// thread the caller chain, vm.switchTo to transfer control) as closures
// over *VM, exactly the way installSystem wires System.print(_) against
// the embedder's Print callback. Keeping these off the context-free
// internal/module prelude and inside internal/vm is what lets invoke()
// dispatch a fiber the same way it dispatches any other MethodPrimitive,
// with no special-cased receiver check in the generic path.
func (vm *VM) installFiber() {
	cls := vm.heap.MustGet(vm.core.FiberClass).(*value.Class)

	cls.SetStaticMethod(vm.syms.Ensure("new(_)"), value.MethodSlot{
		Kind: value.MethodPrimitive, Name: "new(_)",
		Primitive: func(h *heap.Heap, args []value.Value) (value.Value, value.PrimitiveResult) {
			if !args[1].IsObj() {
				return newErrorString(vm, "Fiber.new expects a function"), value.PrimError
			}
			if _, ok := h.Get(args[1].AsHandle()); !ok {
				return newErrorString(vm, "Fiber.new expects a function"), value.PrimError
			}
			fiberHandle, fb := value.NewFiber(h, vm.core.FiberClass, vm.cfg.StackMax, vm.cfg.CallDepth)
			fb.EntryClosure = args[1].AsHandle()
			return value.Obj(fiberHandle), value.PrimValue
		},
	})

	cls.SetStaticMethod(vm.syms.Ensure("yield"), vm.yieldPrimitive(false))
	cls.SetStaticMethod(vm.syms.Ensure("yield(_)"), vm.yieldPrimitive(true))
	cls.SetStaticMethod(vm.syms.Ensure("abort(_)"), value.MethodSlot{
		Kind: value.MethodPrimitive, Name: "abort(_)",
		Primitive: func(h *heap.Heap, args []value.Value) (value.Value, value.PrimitiveResult) {
			return args[1], value.PrimError
		},
	})

	cls.SetMethod(vm.syms.Ensure("call"), vm.resumePrimitive("call", false, false))
	cls.SetMethod(vm.syms.Ensure("call(_)"), vm.resumePrimitive("call(_)", true, false))
	cls.SetMethod(vm.syms.Ensure("run"), vm.resumePrimitive("run", false, false))
	cls.SetMethod(vm.syms.Ensure("run(_)"), vm.resumePrimitive("run(_)", true, false))
	cls.SetMethod(vm.syms.Ensure("try"), vm.resumePrimitive("try", false, true))
	cls.SetMethod(vm.syms.Ensure("try(_)"), vm.resumePrimitive("try(_)", true, true))

	cls.SetMethod(vm.syms.Ensure("throw(_)"), value.MethodSlot{
		Kind: value.MethodPrimitive, Name: "throw(_)",
		Primitive: func(h *heap.Heap, args []value.Value) (value.Value, value.PrimitiveResult) {
			target := h.MustGet(args[0].AsHandle()).(*value.Fiber)
			target.Error = args[1]
			target.State = value.FiberErrored
			return args[1], value.PrimValue
		},
	})
	cls.SetMethod(vm.syms.Ensure("isDone"), value.MethodSlot{
		Kind: value.MethodPrimitive, Name: "isDone",
		Primitive: func(h *heap.Heap, args []value.Value) (value.Value, value.PrimitiveResult) {
			target := h.MustGet(args[0].AsHandle()).(*value.Fiber)
			done := target.State == value.FiberFinished || target.State == value.FiberErrored
			return value.Bool(done), value.PrimValue
		},
	})
	cls.SetMethod(vm.syms.Ensure("error"), value.MethodSlot{
		Kind: value.MethodPrimitive, Name: "error",
		Primitive: func(h *heap.Heap, args []value.Value) (value.Value, value.PrimitiveResult) {
			target := h.MustGet(args[0].AsHandle()).(*value.Fiber)
			return target.Error, value.PrimValue
		},
	})
}

// resumePrimitive implements call/call(_)/run/run(_)/try/try(_): withArg
// selects whether args[1] is the resume value (otherwise Nil is used),
// and useTry selects whether an error the fiber raises comes back as this
// call's result (try) or keeps propagating up the caller chain (call/run
// — run is call's detached-from-return-value cousin in every other
// respect; SPEC_FULL.md draws no behavioral line between them beyond
// naming, so both share this implementation).
func (vm *VM) resumePrimitive(name string, withArg, useTry bool) value.MethodSlot {
	return value.MethodSlot{
		Kind: value.MethodPrimitive, Name: name,
		Primitive: func(h *heap.Heap, args []value.Value) (value.Value, value.PrimitiveResult) {
			target := h.MustGet(args[0].AsHandle()).(*value.Fiber)
			if target.State == value.FiberFinished || target.State == value.FiberErrored {
				return newErrorString(vm, "cannot %s a finished fiber", name), value.PrimError
			}
			if target.State == value.FiberRunning {
				return newErrorString(vm, "fiber is already running"), value.PrimError
			}
			resumeVal := value.Nil
			if withArg {
				resumeVal = args[1]
			}
			target.Caller = vm.cur
			target.UsedTry = useTry
			vm.startFiber(target, resumeVal)
			return args[0], value.PrimRunFiber
		},
	}
}

// yieldPrimitive implements Fiber.yield/Fiber.yield(_): suspend the
// currently running fiber (not the Fiber class value args[0] is bound
// to — yield always targets whichever fiber is actually executing) and
// deliver the yielded value as the result of the call/run/try that
// resumed it.
func (vm *VM) yieldPrimitive(withArg bool) value.MethodSlot {
	name := "yield"
	if withArg {
		name = "yield(_)"
	}
	return value.MethodSlot{
		Kind: value.MethodPrimitive, Name: name,
		Primitive: func(h *heap.Heap, args []value.Value) (value.Value, value.PrimitiveResult) {
			cur := vm.curFiber
			callerHandle := cur.Caller
			if callerHandle.IsNil() {
				return newErrorString(vm, "cannot yield from the root fiber"), value.PrimError
			}
			yieldVal := value.Nil
			if withArg {
				yieldVal = args[1]
			}
			cur.State = value.FiberYielded
			cur.Caller = heap.Nil
			caller := h.MustGet(callerHandle).(*value.Fiber)
			caller.State = value.FiberRunning
			caller.Push(yieldVal)
			return value.Obj(callerHandle), value.PrimRunFiber
		},
	}
}

// startFiber pushes the frame (first run, consuming EntryClosure) or
// stack value (resuming a yielded fiber, becoming the suspended yield
// call's result) needed to make target runnable, and marks it Running.
// It does not switch the VM's current fiber: callers reached through the
// uniform PrimRunFiber dispatch path let dispatchSlot perform the switch
// once the primitive returns; resumeScheduledFiber has no primitive
// involved and switches itself right after calling this.
func (vm *VM) startFiber(target *value.Fiber, resumeVal value.Value) {
	if len(target.Frames) == 0 && !target.EntryClosure.IsNil() {
		closure := vm.heap.MustGet(target.EntryClosure).(*value.Closure)
		fn := vm.heap.MustGet(closure.FnHandle).(*value.Fn)
		base := len(target.Stack)
		if fn.Arity > 0 {
			target.Stack = append(target.Stack, resumeVal)
		}
		target.PushFrame(value.Frame{Closure: target.EntryClosure, IP: 0, Base: base})
		target.EntryClosure = heap.Nil
	} else {
		target.Stack = append(target.Stack, resumeVal)
	}
	target.State = value.FiberRunning
}
