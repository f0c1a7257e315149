// Package cardinal is the embedder bridge (spec.md §4.7): a stable handle
// table mapping small integer keys to Values, typed constructors/accessors,
// method-handle lookup/invoke, and class/module registration for a host
// embedding the language without linking against internal/vm directly.
package cardinal

import (
	"fmt"
	"sync"

	"cardinal/internal/heap"
	"cardinal/internal/value"
	"cardinal/internal/vm"
)

// Config and InterpretResult are re-exported verbatim: the embedder bridge
// adds a handle table around *vm.VM, it doesn't reshape its configuration
// or exit-code surface.
type Config = vm.Config
type InterpretResult = vm.InterpretResult
type PrintKind = vm.PrintKind
type DebugHook = vm.DebugHook
type ForeignFn = value.ForeignFn

const (
	ResultSuccess      = vm.ResultSuccess
	ResultCompileError = vm.ResultCompileError
	ResultRuntimeError = vm.ResultRuntimeError
)

// Handle is the small integer key an embedder holds instead of a Go
// pointer or this package's internal heap.Handle — stable across a
// collection (a GC move/free never invalidates it; Release is the only
// thing that does), per spec.md §4.7's "stable handle table" requirement.
// The zero Handle is never issued, so it doubles as a "no handle"
// sentinel (used by DefineClass's optional superclass argument).
type Handle int32

// VM wraps the interpreter with the embedder-facing handle table.
type VM struct {
	vm *vm.VM

	mu      sync.Mutex
	handles map[Handle]value.Value
	nextID  Handle
}

// New builds a VM and registers the handle table itself as a GC root
// provider, so any Value an embedder is holding survives collection for
// as long as its handle is live.
func New(cfg Config) *VM {
	v := &VM{vm: vm.New(cfg), handles: make(map[Handle]value.Value)}
	v.vm.Heap().AddRoot(v.markRoots)
	return v
}

func (v *VM) markRoots(visit func(heap.Handle)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, val := range v.handles {
		if val.IsObj() {
			visit(val.AsHandle())
		}
	}
}

func (v *VM) bind(val value.Value) Handle {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.nextID++
	id := v.nextID
	v.handles[id] = val
	return id
}

func (v *VM) resolve(id Handle) (value.Value, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	val, ok := v.handles[id]
	return val, ok
}

// Release drops a handle from the table. It does not collect; the value
// it pointed to becomes collectible the next time nothing else roots it.
func (v *VM) Release(id Handle) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.handles, id)
}

// Interpret/Compile/Run forward straight to the underlying VM: these
// operations don't need handle-table bookkeeping, since Compile's result
// is consumed by Run within the same call (spec.md §6's `Handle` return
// there is the VM's own fn handle, not an embedder-table entry).
func (v *VM) Interpret(moduleName, source string) InterpretResult {
	return v.vm.Interpret(moduleName, source)
}

func (v *VM) Compile(moduleName, source string) (heap.Handle, error) {
	return v.vm.Compile(moduleName, source)
}

func (v *VM) Run(fn heap.Handle) InterpretResult {
	return v.vm.Run(fn)
}

func (v *VM) Collect()                        { v.vm.Collect() }
func (v *VM) SetCollectorEnabled(enabled bool) { v.vm.SetCollectorEnabled(enabled) }
func (v *VM) GCStats() heap.GCStats            { return v.vm.GCStats() }
func (v *VM) BytesInUse() int                  { return v.vm.BytesInUse() }

// NewNumber, NewBool, NewString, NewList and NewMap allocate a Value and
// hand back a Handle the embedder owns until Release.
func (v *VM) NewNumber(n float64) Handle { return v.bind(value.Number(n)) }
func (v *VM) NewBool(b bool) Handle      { return v.bind(value.Bool(b)) }

func (v *VM) NewString(s string) Handle {
	h, _ := value.NewString(v.vm.Heap(), v.vm.Core().StringClass, s)
	return v.bind(value.Obj(h))
}

func (v *VM) NewList() Handle {
	h, _ := value.NewList(v.vm.Heap(), v.vm.Core().ListClass)
	return v.bind(value.Obj(h))
}

func (v *VM) NewMap() Handle {
	h, _ := value.NewMap(v.vm.Heap(), v.vm.Core().MapClass)
	return v.bind(value.Obj(h))
}

// NewForeign allocates an Instance of a host-defined foreign class
// (see DefineClass) wrapping an arbitrary Go value in its Foreign slot.
func (v *VM) NewForeign(class Handle, ptr interface{}) (Handle, error) {
	cls, err := v.resolveClass(class)
	if err != nil {
		return 0, err
	}
	classVal, _ := v.resolve(class)
	instHandle, inst := value.NewInstance(v.vm.Heap(), classVal.AsHandle(), cls.NumFields)
	inst.Foreign = ptr
	return v.bind(value.Obj(instHandle)), nil
}

// ToNumber, ToBool and ToString read a handle back out as a Go value.
// ToString renders any Value through the stringify path System.print
// uses, not just literal String objects — an embedder asking "what's in
// this handle" wants a display string, not a type assertion.
func (v *VM) ToNumber(id Handle) (float64, error) {
	val, err := v.lookup(id)
	if err != nil {
		return 0, err
	}
	if !val.IsNumber() {
		return 0, fmt.Errorf("cardinal: handle %d is not a number", id)
	}
	return val.AsNumber(), nil
}

func (v *VM) ToBool(id Handle) (bool, error) {
	val, err := v.lookup(id)
	if err != nil {
		return false, err
	}
	if !val.IsBool() {
		return false, fmt.Errorf("cardinal: handle %d is not a bool", id)
	}
	return val.AsBool(), nil
}

func (v *VM) ToString(id Handle) (string, error) {
	val, err := v.lookup(id)
	if err != nil {
		return "", err
	}
	return v.vm.Stringify(val), nil
}

func (v *VM) ToForeignPtr(id Handle) (interface{}, error) {
	val, err := v.lookup(id)
	if err != nil {
		return nil, err
	}
	if !val.IsObj() {
		return nil, fmt.Errorf("cardinal: handle %d is not an object", id)
	}
	inst, ok := v.vm.Heap().MustGet(val.AsHandle()).(*value.Instance)
	if !ok {
		return nil, fmt.Errorf("cardinal: handle %d is not a foreign instance", id)
	}
	return inst.Foreign, nil
}

func (v *VM) lookup(id Handle) (value.Value, error) {
	val, ok := v.resolve(id)
	if !ok {
		return value.Nil, fmt.Errorf("cardinal: handle %d is not live", id)
	}
	return val, nil
}

func (v *VM) resolveClass(id Handle) (*value.Class, error) {
	val, err := v.lookup(id)
	if err != nil {
		return nil, err
	}
	if !val.IsObj() {
		return nil, fmt.Errorf("cardinal: handle %d is not a class", id)
	}
	cls, ok := v.vm.Heap().MustGet(val.AsHandle()).(*value.Class)
	if !ok {
		return nil, fmt.Errorf("cardinal: handle %d is not a class", id)
	}
	return cls, nil
}

// MethodHandle is a resolved method signature, invoked directly without
// going through the compiler/bytecode — the embedder-side analogue of a
// script-level method call, per spec.md §4.7's "pass it as an argument
// to a method they obtained by signature lookup" sentence.
type MethodHandle struct {
	v      *VM
	symbol int
	name   string
}

// MethodHandle looks signature up once; Call reuses the lookup on every
// invocation instead of re-interning the symbol each time.
func (v *VM) MethodHandle(signature string) *MethodHandle {
	return &MethodHandle{v: v, symbol: v.vm.Symbols().Ensure(signature), name: signature}
}

// Call invokes h against receiver+args, all given as embedder Handles,
// and returns a fresh Handle for the result. It runs the call on a
// dedicated root fiber (spec.md §5's "reuses a dedicated fiber" re-entry
// rule), never the fiber currently executing script code.
func (h *MethodHandle) Call(receiver Handle, args ...Handle) (Handle, error) {
	recv, err := h.v.lookup(receiver)
	if err != nil {
		return 0, fmt.Errorf("cardinal: receiver handle %d is not live", receiver)
	}
	argVals := make([]value.Value, 0, len(args)+1)
	argVals = append(argVals, recv)
	for _, a := range args {
		av, err := h.v.lookup(a)
		if err != nil {
			return 0, fmt.Errorf("cardinal: argument handle %d is not live", a)
		}
		argVals = append(argVals, av)
	}
	result, err := h.v.vm.InvokeMethod(h.symbol, h.name, argVals)
	if err != nil {
		return 0, err
	}
	return h.v.bind(result), nil
}

// DefineClass registers a new host-defined class parented to Object (or
// to an already-registered embedder class when super != 0), giving the
// host a Handle to it for subsequent NewForeign/DefineForeignMethod/
// DefineDestructor calls. numFields sizes every instance's field array;
// foreign classes typically declare zero script-visible fields and carry
// their state in Instance.Foreign instead.
func (v *VM) DefineClass(name string, numFields int, super Handle) (Handle, error) {
	var supers []heap.Handle
	if super != 0 {
		if _, err := v.resolveClass(super); err != nil {
			return 0, err
		}
		superVal, _ := v.resolve(super)
		supers = []heap.Handle{superVal.AsHandle()}
	} else {
		supers = []heap.Handle{v.vm.Core().ObjectClass}
	}
	classHandle, cls := value.NewClass(v.vm.Heap(), v.vm.Core().ClassClass, name, numFields, supers)
	cls.IsForeign = true
	return v.bind(value.Obj(classHandle)), nil
}

// DefineForeignMethod attaches a host Go function to signature on a
// class previously returned by DefineClass. isStatic mirrors the
// `static`/instance distinction a script-side `foreign` declaration
// makes (spec.md §4.2's class-member grammar); see the classMember
// "foreign methods are ... registered from the host side via the
// embedder bridge instead" note in internal/compiler/class.go.
func (v *VM) DefineForeignMethod(class Handle, signature string, isStatic bool, fn ForeignFn) error {
	cls, err := v.resolveClass(class)
	if err != nil {
		return err
	}
	sym := v.vm.Symbols().Ensure(signature)
	slot := value.MethodSlot{Kind: value.MethodForeign, Foreign: fn, Name: signature}
	if isStatic {
		cls.SetStaticMethod(sym, slot)
	} else {
		cls.SetMethod(sym, slot)
	}
	return nil
}

// DefineDestructor attaches a destructor to a foreign class, run exactly
// once per sweep of an unreachable instance (value.Destructor's contract).
func (v *VM) DefineDestructor(class Handle, fn func(ptr interface{})) error {
	cls, err := v.resolveClass(class)
	if err != nil {
		return err
	}
	cls.Destructor = value.DestructorFunc(fn)
	return nil
}

// RegisterModule pre-populates a named module with host-provided
// variables, the embedder-side equivalent of a host-registered native
// module in the teacher's ModuleLoader scheme — used to expose
// DefineClass'd classes under an importable name rather than only as a
// module-global, and for tests that want a module ready without a
// Loader round-trip.
func (v *VM) RegisterModule(name string) {
	reg := v.vm.Registry()
	if _, ok := reg.Get(name); ok {
		return
	}
	reg.NewModule(name)
}

// SetModuleVar declares or overwrites a variable in an already-registered
// module, binding it to the Value behind handle.
func (v *VM) SetModuleVar(moduleName, varName string, handle Handle) error {
	reg := v.vm.Registry()
	modHandle, ok := reg.Get(moduleName)
	if !ok {
		return fmt.Errorf("cardinal: module %q is not registered", moduleName)
	}
	mod, ok := v.vm.Heap().MustGet(modHandle).(*value.Module)
	if !ok {
		return fmt.Errorf("cardinal: %q is not a module", moduleName)
	}
	val, err := v.lookup(handle)
	if err != nil {
		return err
	}
	mod.Declare(varName, val)
	return nil
}
