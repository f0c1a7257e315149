package vm

import (
	"cardinal/internal/cerr"
	"cardinal/internal/compiler"
	"cardinal/internal/heap"
	"cardinal/internal/value"
)

// loadModule implements LOAD_MODULE: the first import of a given name
// compiles it and runs its top-level body as a nested frame on the
// importing fiber (so RETURN's ordinary frame-pop machinery resumes the
// importer once the module body finishes, no separate control path
// needed); a repeat import of an already-run module just pushes null, per
// the "each module's body executes once" policy value.Module.TopLevel
// exists to implement.
func (vm *VM) loadModule(fb *value.Fiber, name string) (bool, value.Value, *cerr.Error) {
	if h, found := vm.registry.Get(name); found {
		mod := vm.heap.MustGet(h).(*value.Module)
		if mod.TopLevel.IsNil() {
			if err := fb.Push(value.Nil); err != nil {
				return vm.stackError(fb, err)
			}
			return false, value.Nil, nil
		}
		closureHandle := mod.TopLevel
		mod.TopLevel = heap.Nil
		return vm.pushModuleFrame(fb, closureHandle)
	}

	source, ok := vm.registry.FetchSource(name)
	if !ok {
		return vm.raiseError(fb, newErrorString(vm, "could not find module '%s'", name))
	}
	modHandle, mod := vm.registry.NewModule(name)
	vm.seedModuleGlobals(mod)
	mod.Source = source
	fnHandle, _, errs := compiler.Compile(vm.heap, vm.syms, vm.builtins, modHandle, mod, source, name)
	if len(errs) > 0 {
		return vm.raiseError(fb, newErrorString(vm, "%s", joinLines(errs)))
	}
	scriptFn := vm.heap.MustGet(fnHandle).(*value.Fn)
	closureHandle, _ := value.NewClosure(vm.heap, vm.core.ClosureClass, fnHandle, scriptFn.UpvalueCount)
	return vm.pushModuleFrame(fb, closureHandle)
}

func (vm *VM) pushModuleFrame(fb *value.Fiber, closureHandle heap.Handle) (bool, value.Value, *cerr.Error) {
	base := len(fb.Stack)
	if err := fb.PushFrame(value.Frame{Closure: closureHandle, IP: 0, Base: base}); err != nil {
		return vm.stackError(fb, err)
	}
	return false, value.Nil, nil
}

// importVariable implements IMPORT_VARIABLE: modName must already be
// loaded (the compiler always emits a preceding LOAD_MODULE for the same
// name), so this only ever looks the binding up and pushes it.
func (vm *VM) importVariable(fb *value.Fiber, modName, varName string) (bool, value.Value, *cerr.Error) {
	h, found := vm.registry.Get(modName)
	if !found {
		return vm.raiseError(fb, newErrorString(vm, "module '%s' is not loaded", modName))
	}
	mod := vm.heap.MustGet(h).(*value.Module)
	idx, ok := mod.Find(varName)
	if !ok {
		return vm.raiseError(fb, newErrorString(vm, "module '%s' has no variable '%s'", modName, varName))
	}
	if err := fb.Push(mod.Vars[idx]); err != nil {
		return vm.stackError(fb, err)
	}
	return false, value.Nil, nil
}
