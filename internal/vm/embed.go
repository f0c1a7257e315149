package vm

import (
	"cardinal/internal/bytecode"
	"cardinal/internal/heap"
	"cardinal/internal/value"
)

// Stringify renders v as text through the same path System.print uses, so
// an embedder's "what does this handle hold" request shows the same text
// a script's own output would.
func (vm *VM) Stringify(v value.Value) string {
	return vm.stringify(v)
}

// InvokeMethod runs a single method call to completion on a dedicated
// root fiber and returns its result, per spec.md §4.7's "pass it as an
// argument to a method they obtained by signature lookup" embedder-call
// path — the method-handle analogue of Run, reusing the same
// frame/closure/fiber machinery instead of a separate call path.
//
// args[0] is the receiver; the synthetic fiber's sole frame is a single
// CALL of symbol against exactly those stack cells, followed by a RETURN
// that hands the call's result back through the ordinary root-fiber
// finishFiber path Run already relies on.
func (vm *VM) InvokeMethod(symbol int, name string, args []value.Value) (value.Value, error) {
	chunk := bytecode.NewChunk()
	d := bytecode.DebugInfo{Function: "(embedder call " + name + ")"}
	argCount := len(args) - 1
	chunk.WriteOp(bytecode.OpCall, d)
	chunk.WriteByte(byte(argCount), d)
	chunk.WriteWide(symbol, bytecode.SymbolWidth, d)
	chunk.WriteOp(bytecode.OpReturn, d)

	fnHandle, _ := value.NewFn(vm.heap, vm.core.FnClass, chunk, heap.Nil, "(embedder call)", 0, 0)
	closureHandle, _ := value.NewClosure(vm.heap, vm.core.ClosureClass, fnHandle, 0)

	fiberHandle, fiber := value.NewFiber(vm.heap, vm.core.FiberClass, vm.cfg.StackMax, vm.cfg.CallDepth)
	fiber.Stack = append(fiber.Stack, args...)
	fiber.PushFrame(value.Frame{Closure: closureHandle, IP: 0, Base: 0})
	fiber.State = value.FiberRunning

	prevCur := vm.cur
	vm.heap.Pin(fiberHandle)
	vm.switchTo(fiberHandle)
	vm.heap.Unpin()

	result, rerr := vm.run()
	vm.switchTo(prevCur)
	if rerr != nil {
		return value.Nil, rerr
	}
	return result, nil
}
