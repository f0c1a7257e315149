package vm

import (
	"strings"

	"cardinal/internal/bytecode"
	"cardinal/internal/heap"
	"cardinal/internal/value"
)

// installFn wires Fn.new(_) (identity — a block literal already produces
// the Closure that `.call`/`.call(_)` dispatch against; Fn is sugar over
// the same object, not a distinct wrapper) and every Closure.call arity
// the single-pass compiler can ever emit a CALL for. Kept beside
// installFiber/installSystem for the same reason: these primitives push
// frames directly onto vm.curFiber, something a context-free
// internal/module registration has no way to reach.
func (vm *VM) installFn() {
	fnCls := vm.heap.MustGet(vm.core.FnClass).(*value.Class)
	fnCls.SetStaticMethod(vm.syms.Ensure("new(_)"), value.MethodSlot{
		Kind: value.MethodPrimitive, Name: "new(_)",
		Primitive: func(h *heap.Heap, args []value.Value) (value.Value, value.PrimitiveResult) {
			return args[1], value.PrimValue
		},
	})

	closureCls := vm.heap.MustGet(vm.core.ClosureClass).(*value.Class)
	for n := 0; n <= bytecode.MaxCallArity; n++ {
		sig := callSignature(n)
		closureCls.SetMethod(vm.syms.Ensure(sig), value.MethodSlot{
			Kind: value.MethodPrimitive, Name: sig,
			Primitive: vm.closureCallPrimitive(),
		})
	}
}

func callSignature(n int) string {
	if n == 0 {
		return "call"
	}
	return "call(" + strings.TrimSuffix(strings.Repeat("_,", n), ",") + ")"
}

// closureCallPrimitive forwards a Closure.call/call(_.../...) dispatch
// into an ordinary pushed frame: block-argument closures are compiled
// with hasReceiver=false (internal/compiler/function.go's blockArgument),
// so the frame's locals start at the first forwarded argument, not at an
// implicit `this`.
func (vm *VM) closureCallPrimitive() value.PrimitiveFn {
	return func(h *heap.Heap, args []value.Value) (value.Value, value.PrimitiveResult) {
		closureHandle := args[0].AsHandle()
		fb := vm.curFiber
		base := len(fb.Stack)
		fb.Stack = append(fb.Stack, args[1:]...)
		if err := fb.PushFrame(value.Frame{Closure: closureHandle, IP: 0, Base: base}); err != nil {
			fb.Stack = fb.Stack[:base]
			return newErrorString(vm, "%s", err.Error()), value.PrimError
		}
		return value.Nil, value.PrimCall
	}
}
