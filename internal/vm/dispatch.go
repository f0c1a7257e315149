package vm

import (
	"cardinal/internal/bytecode"
	"cardinal/internal/cerr"
	"cardinal/internal/heap"
	"cardinal/internal/value"
)

// run is the bytecode dispatch loop: it keeps executing vm.cur's current
// fiber until that fiber (or its whole caller chain, on an uncaught error)
// terminates. Every iteration re-reads the active frame by index rather
// than holding a *Frame across the loop body, since OpCall/OpClosure can
// grow fb.Frames and reallocate its backing array mid-instruction.
func (vm *VM) run() (value.Value, *cerr.Error) {
	for {
		if vm.cur.IsNil() {
			return value.Nil, nil
		}
		fb := vm.curFiber
		if len(fb.Frames) == 0 {
			stop, result, err := vm.finishFiber(fb, value.Nil)
			if stop {
				return result, err
			}
			continue
		}

		frameIdx := len(fb.Frames) - 1
		frame := fb.Frames[frameIdx]
		closure := vm.heap.MustGet(frame.Closure).(*value.Closure)
		fn := vm.heap.MustGet(closure.FnHandle).(*value.Fn)
		chunk := fn.Chunk
		ip := frame.IP

		opStart := ip
		op := bytecode.OpCode(chunk.Code[ip])
		ip++

		if vm.cfg.Debug != nil {
			d := chunk.GetDebugInfo(opStart)
			if vm.cfg.Debug.OnInstruction(vm, frameIdx, opStart, DebugLocation{File: d.File, Line: d.Line, Function: d.Function}) {
				fb.Frames[frameIdx].IP = opStart
				return value.Nil, cerr.New(cerr.KindRuntime, cerr.Location{File: d.File, Line: d.Line}, "execution halted at breakpoint")
			}
		}

		switch op {
		case bytecode.OpNull:
			fb.Stack = append(fb.Stack, value.Nil)
		case bytecode.OpTrue:
			fb.Stack = append(fb.Stack, value.True)
		case bytecode.OpFalse:
			fb.Stack = append(fb.Stack, value.False)
		case bytecode.OpConstant:
			idx := chunk.ReadWide(ip, bytecode.ConstantWidth)
			ip += bytecode.ConstantWidth
			fb.Stack = append(fb.Stack, vm.constantValue(chunk, idx))

		case bytecode.OpLoadLocal0, bytecode.OpLoadLocal1, bytecode.OpLoadLocal2, bytecode.OpLoadLocal3,
			bytecode.OpLoadLocal4, bytecode.OpLoadLocal5, bytecode.OpLoadLocal6, bytecode.OpLoadLocal7,
			bytecode.OpLoadLocal8:
			slot := int(op - bytecode.OpLoadLocal0)
			fb.Stack = append(fb.Stack, fb.Stack[frame.Base+slot])
		case bytecode.OpLoadLocal:
			slot := chunk.ReadWide(ip, bytecode.LocalWidth)
			ip += bytecode.LocalWidth
			fb.Stack = append(fb.Stack, fb.Stack[frame.Base+slot])
		case bytecode.OpStoreLocal:
			slot := chunk.ReadWide(ip, bytecode.LocalWidth)
			ip += bytecode.LocalWidth
			fb.Stack[frame.Base+slot] = fb.Peek(0)

		case bytecode.OpLoadUpvalue:
			idx := chunk.ReadWide(ip, bytecode.UpvalueWidth)
			ip += bytecode.UpvalueWidth
			fb.Stack = append(fb.Stack, vm.readUpvalue(closure.Upvalues[idx]))
		case bytecode.OpStoreUpvalue:
			idx := chunk.ReadWide(ip, bytecode.UpvalueWidth)
			ip += bytecode.UpvalueWidth
			vm.writeUpvalue(closure.Upvalues[idx], fb.Peek(0))
		case bytecode.OpCloseUpvalue:
			vm.closeUpvaluesFrom(fb, len(fb.Stack)-1)
			fb.Stack = fb.Stack[:len(fb.Stack)-1]

		case bytecode.OpLoadModuleVar:
			idx := chunk.ReadWide(ip, bytecode.ModuleVarWidth)
			ip += bytecode.ModuleVarWidth
			mod := vm.heap.MustGet(fn.Module).(*value.Module)
			fb.Stack = append(fb.Stack, mod.Vars[idx])
		case bytecode.OpStoreModuleVar:
			idx := chunk.ReadWide(ip, bytecode.ModuleVarWidth)
			ip += bytecode.ModuleVarWidth
			mod := vm.heap.MustGet(fn.Module).(*value.Module)
			mod.Vars[idx] = fb.Peek(0)

		case bytecode.OpLoadFieldThis:
			fi := chunk.ReadWide(ip, bytecode.FieldWidth)
			ip += bytecode.FieldWidth
			inst := vm.heap.MustGet(fb.Stack[frame.Base].AsHandle()).(*value.Instance)
			offset := 0
			if !frame.AdjustInstance.IsNil() {
				offset = inst.CurrentAdjust()
			}
			fb.Stack = append(fb.Stack, inst.Fields[offset+fi])
		case bytecode.OpStoreFieldThis:
			fi := chunk.ReadWide(ip, bytecode.FieldWidth)
			ip += bytecode.FieldWidth
			inst := vm.heap.MustGet(fb.Stack[frame.Base].AsHandle()).(*value.Instance)
			offset := 0
			if !frame.AdjustInstance.IsNil() {
				offset = inst.CurrentAdjust()
			}
			inst.Fields[offset+fi] = fb.Peek(0)
		case bytecode.OpLoadField, bytecode.OpStoreField:
			fb.Frames[frameIdx].IP = opStart
			return vm.fatalf(fb, fn, opStart, "LOAD_FIELD/STORE_FIELD never emitted by the single-pass compiler (fields are only ever accessed via *_THIS inside their own class's methods)")

		case bytecode.OpPop:
			fb.Stack = fb.Stack[:len(fb.Stack)-1]
		case bytecode.OpDup:
			fb.Stack = append(fb.Stack, fb.Peek(0))

		case bytecode.OpCall:
			argCount := int(chunk.Code[ip])
			ip++
			symbol := chunk.ReadWide(ip, bytecode.SymbolWidth)
			ip += bytecode.SymbolWidth
			fb.Frames[frameIdx].IP = ip
			stop, result, err := vm.invoke(fb, argCount, symbol)
			if stop {
				return result, err
			}
			continue

		case bytecode.OpSuper:
			argCount := int(chunk.Code[ip])
			ip++
			symbol := chunk.ReadWide(ip, bytecode.SymbolWidth)
			ip += bytecode.SymbolWidth
			superIdx := int(chunk.Code[ip])
			ip++
			fb.Frames[frameIdx].IP = ip
			stop, result, err := vm.invokeSuper(fb, fn, argCount, symbol, superIdx)
			if stop {
				return result, err
			}
			continue

		case bytecode.OpJump:
			offset := chunk.ReadWide(ip, 2)
			ip += 2
			ip += offset
		case bytecode.OpLoop:
			offset := chunk.ReadWide(ip, 2)
			ip += 2
			ip -= offset
		case bytecode.OpJumpIfFalse:
			offset := chunk.ReadWide(ip, 2)
			ip += 2
			if !fb.Peek(0).IsTruthy() {
				ip += offset
			}
		case bytecode.OpAnd:
			offset := chunk.ReadWide(ip, 2)
			ip += 2
			if fb.Peek(0).IsTruthy() {
				fb.Stack = fb.Stack[:len(fb.Stack)-1]
			} else {
				ip += offset
			}
		case bytecode.OpOr:
			offset := chunk.ReadWide(ip, 2)
			ip += 2
			if fb.Peek(0).IsTruthy() {
				ip += offset
			} else {
				fb.Stack = fb.Stack[:len(fb.Stack)-1]
			}

		case bytecode.OpIs:
			rhs := fb.Pop()
			lhs := fb.Pop()
			if !rhs.IsObj() {
				fb.Frames[frameIdx].IP = opStart
				return vm.fatalf(fb, fn, opStart, "right-hand side of 'is' must be a class")
			}
			fb.Stack = append(fb.Stack, value.Bool(vm.isInstanceOf(lhs, rhs.AsHandle())))

		case bytecode.OpConstruct:
			classVal := fb.Pop()
			cls := vm.heap.MustGet(classVal.AsHandle()).(*value.Class)
			instHandle, _ := value.NewInstance(vm.heap, classVal.AsHandle(), cls.NumFields)
			fb.Stack = append(fb.Stack, value.Obj(instHandle))

		case bytecode.OpClass:
			numFields := int(chunk.Code[ip])
			ip++
			existsFlag := chunk.Code[ip]
			ip++
			numSupers := int(chunk.Code[ip])
			ip++
			nameConst := chunk.ReadWide(ip, bytecode.ConstantWidth)
			ip += bytecode.ConstantWidth
			fb.Frames[frameIdx].IP = ip
			vm.runClass(fb, chunk, nameConst, numFields, numSupers, existsFlag)
			continue

		case bytecode.OpMethodInstance:
			symbol := chunk.ReadWide(ip, bytecode.SymbolWidth)
			ip += bytecode.SymbolWidth
			closureVal := fb.Pop()
			classVal := fb.Peek(0)
			vm.installMethod(classVal.AsHandle(), closureVal.AsHandle(), symbol, false)
		case bytecode.OpMethodStatic:
			symbol := chunk.ReadWide(ip, bytecode.SymbolWidth)
			ip += bytecode.SymbolWidth
			closureVal := fb.Pop()
			classVal := fb.Peek(0)
			vm.installMethod(classVal.AsHandle(), closureVal.AsHandle(), symbol, true)

		case bytecode.OpClosure:
			constIdx := chunk.ReadWide(ip, bytecode.ConstantWidth)
			ip += bytecode.ConstantWidth
			innerFnHandle := chunk.Constants[constIdx].(heap.Handle)
			innerFn := vm.heap.MustGet(innerFnHandle).(*value.Fn)
			closureHandle, newClosure := value.NewClosure(vm.heap, vm.core.ClosureClass, innerFnHandle, innerFn.UpvalueCount)
			for u := 0; u < innerFn.UpvalueCount; u++ {
				isLocal := chunk.Code[ip]
				ip++
				idx := chunk.ReadWide(ip, bytecode.UpvalueWidth)
				ip += bytecode.UpvalueWidth
				if isLocal != 0 {
					newClosure.Upvalues[u] = vm.captureUpvalue(vm.cur, fb, frame.Base+idx)
				} else {
					newClosure.Upvalues[u] = closure.Upvalues[idx]
				}
			}
			fb.Stack = append(fb.Stack, value.Obj(closureHandle))

		case bytecode.OpLoadModule:
			nameConst := chunk.ReadWide(ip, bytecode.ConstantWidth)
			ip += bytecode.ConstantWidth
			name, _ := chunk.Constants[nameConst].(string)
			fb.Frames[frameIdx].IP = ip
			stop, result, err := vm.loadModule(fb, name)
			if stop {
				return result, err
			}
			continue
		case bytecode.OpImportVariable:
			modConst := chunk.ReadWide(ip, bytecode.ConstantWidth)
			ip += bytecode.ConstantWidth
			varConst := chunk.ReadWide(ip, bytecode.ConstantWidth)
			ip += bytecode.ConstantWidth
			modName, _ := chunk.Constants[modConst].(string)
			varName, _ := chunk.Constants[varConst].(string)
			fb.Frames[frameIdx].IP = ip
			stop, result, err := vm.importVariable(fb, modName, varName)
			if stop {
				return result, err
			}
			continue
		case bytecode.OpEndModule:
			fb.Frames[frameIdx].IP = opStart
			return vm.fatalf(fb, fn, opStart, "MODULE opcode is never emitted by the single-pass compiler")

		case bytecode.OpReturn:
			if vm.cfg.Debug != nil {
				d := chunk.GetDebugInfo(opStart)
				vm.cfg.Debug.OnReturn(vm, DebugLocation{File: d.File, Line: d.Line, Function: d.Function})
			}
			result := fb.Pop()
			fb.PopFrame()
			vm.closeUpvaluesFrom(fb, frame.Base)
			fb.Stack = fb.Stack[:frame.Base]
			if !frame.AdjustInstance.IsNil() {
				vm.heap.MustGet(frame.AdjustInstance).(*value.Instance).PopAdjust()
			}
			if len(fb.Frames) == 0 {
				stop, res, err := vm.finishFiber(fb, result)
				if stop {
					return res, err
				}
				continue
			}
			fb.Stack = append(fb.Stack, result)
			continue

		case bytecode.OpBreak:
			// debug-only marker; OnInstruction already saw it above.

		case bytecode.OpEnd:
			fb.Frames[frameIdx].IP = opStart
			return vm.fatalf(fb, fn, opStart, "END reached: a break jump was never patched to its loop exit")

		default:
			fb.Frames[frameIdx].IP = opStart
			return vm.fatalf(fb, fn, opStart, "unknown opcode %d", byte(op))
		}

		fb.Frames[frameIdx].IP = ip
	}
}

// constantValue wraps a raw constant-pool entry as a pushable Value:
// numbers and interned strings are the only two kinds CONSTANT ever reads
// (a Fn/Class handle is read directly by CLOSURE/CLASS-adjacent
// instructions, never through CONSTANT).
func (vm *VM) constantValue(chunk *bytecode.Chunk, idx int) value.Value {
	switch c := chunk.Constants[idx].(type) {
	case float64:
		return value.Number(c)
	case heap.Handle:
		return value.Obj(c)
	default:
		return value.Nil
	}
}

func (vm *VM) readUpvalue(h heap.Handle) value.Value {
	u := vm.heap.MustGet(h).(*value.Upvalue)
	if u.Closed {
		return u.Value
	}
	owner := vm.heap.MustGet(u.Fiber).(*value.Fiber)
	return owner.Stack[u.Slot]
}

func (vm *VM) writeUpvalue(h heap.Handle, v value.Value) {
	u := vm.heap.MustGet(h).(*value.Upvalue)
	if u.Closed {
		u.Value = v
		return
	}
	owner := vm.heap.MustGet(u.Fiber).(*value.Fiber)
	owner.Stack[u.Slot] = v
}

// runClass executes CLASS: pop numSupers superclass values (pushed in
// declaration order, so the last-declared ends up on top), default to
// [Object] when none were declared so every class inherits ==/!=/toString,
// compute the cumulative SuperFieldOffsets, and allocate the Class object.
// existsFlag is read but unused — the compiler never emits a nonzero
// value (class reopening isn't part of the surface grammar), kept only so
// the bytecode format documented in the opcode table stays accurate.
func (vm *VM) runClass(fb *value.Fiber, chunk *bytecode.Chunk, nameConst, numFields, numSupers int, existsFlag byte) {
	_ = existsFlag
	name, _ := chunk.Constants[nameConst].(string)

	supers := make([]heap.Handle, numSupers)
	for i := numSupers - 1; i >= 0; i-- {
		supers[i] = fb.Pop().AsHandle()
	}
	if len(supers) == 0 {
		supers = []heap.Handle{vm.core.ObjectClass}
	}

	offsets := make([]int, len(supers))
	running := 0
	for i, s := range supers {
		offsets[i] = running
		super := vm.heap.MustGet(s).(*value.Class)
		running += super.NumFields
	}

	classHandle, cls := value.NewClass(vm.heap, vm.core.ClassClass, name, running+numFields, supers)
	cls.SuperFieldOffsets = offsets
	if len(supers) > 0 {
		cls.SuperFieldOffset = offsets[0]
	}
	fb.Stack = append(fb.Stack, value.Obj(classHandle))
}

func (vm *VM) installMethod(classHandle, closureHandle heap.Handle, symbol int, static bool) {
	cls := vm.heap.MustGet(classHandle).(*value.Class)
	closure := vm.heap.MustGet(closureHandle).(*value.Closure)
	fn := vm.heap.MustGet(closure.FnHandle).(*value.Fn)
	fn.DefiningClass = classHandle
	slot := value.MethodSlot{Kind: value.MethodBlock, Closure: closureHandle, Name: vm.syms.Name(symbol)}
	if static {
		cls.SetStaticMethod(symbol, slot)
	} else {
		cls.SetMethod(symbol, slot)
	}
}

func (vm *VM) fatalf(fb *value.Fiber, fn *value.Fn, ip int, format string, args ...interface{}) (value.Value, *cerr.Error) {
	d := fn.Chunk.GetDebugInfo(ip)
	err := cerr.New(cerr.KindFatal, cerr.Location{File: d.File, Line: d.Line}, format, args...)
	if vm.cfg.Debug != nil {
		vm.cfg.Debug.OnError(vm, err, DebugLocation{File: d.File, Line: d.Line, Function: d.Function})
	}
	vm.cfg.Print(PrintError, err.Render(false))
	return value.Nil, err
}
